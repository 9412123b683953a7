package auth

import (
    "errors"
    "fmt"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/google/uuid"

    "github.com/petal-ejector/petal-controller/internal/config"
    "github.com/petal-ejector/petal-controller/pkg/crypto"
)

// ErrInvalidCredentials is returned by Login for a wrong username or password
var ErrInvalidCredentials = errors.New("invalid credentials")

// JWTManager manages operator tokens
type JWTManager struct {
    config *config.AuthConfig
    now    func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(cfg *config.AuthConfig) *JWTManager {
    return &JWTManager{
        config: cfg,
        now:    time.Now,
    }
}

// Claims represents JWT claims
type Claims struct {
    jwt.RegisteredClaims
    Operator string `json:"operator"`
}

// Login checks operator credentials and issues an access token
func (m *JWTManager) Login(username, password string) (string, error) {
    if username != m.config.Username {
        return "", ErrInvalidCredentials
    }
    if !crypto.VerifyPassword(password, m.config.PasswordHash) {
        return "", ErrInvalidCredentials
    }
    return m.GenerateToken(username)
}

// GenerateToken generates an access token for an operator
func (m *JWTManager) GenerateToken(username string) (string, error) {
    now := m.now()
    claims := Claims{
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   username,
            ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTokenTTL)),
            IssuedAt:  jwt.NewNumericDate(now),
            NotBefore: jwt.NewNumericDate(now),
            Issuer:    "petal-controller",
            ID:        uuid.New().String(),
        },
        Operator: username,
    }

    token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    signed, err := token.SignedString([]byte(m.config.Secret))
    if err != nil {
        return "", fmt.Errorf("sign access token: %w", err)
    }

    return signed, nil
}

// ValidateToken validates a token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
    token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
        if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
        }
        return []byte(m.config.Secret), nil
    }, jwt.WithTimeFunc(m.now), jwt.WithIssuer("petal-controller"))

    if err != nil {
        return nil, err
    }

    claims, ok := token.Claims.(*Claims)
    if !ok || !token.Valid {
        return nil, fmt.Errorf("invalid token")
    }

    return claims, nil
}

// TTL returns the lifetime of issued tokens
func (m *JWTManager) TTL() time.Duration {
    return m.config.AccessTokenTTL
}
