package api

import (
    "context"
    "fmt"
    "net/http"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/go-chi/chi/v5"
    "github.com/go-chi/chi/v5/middleware"
    "github.com/go-chi/cors"
    "github.com/rs/zerolog/log"

    "github.com/petal-ejector/petal-controller/internal/auth"
    "github.com/petal-ejector/petal-controller/internal/config"
    "github.com/petal-ejector/petal-controller/internal/eventlog"
    "github.com/petal-ejector/petal-controller/internal/session"
    "github.com/petal-ejector/petal-controller/internal/validation"
)

// Controller is the session surface the API drives
type Controller interface {
    Dispatch(ctx context.Context, ev session.Event) (session.State, error)
    State() session.State
    Log() *eventlog.Log
    AddObserver(o session.Observer)
}

type contextKey string

const claimsKey contextKey = "claims"

// RESTServer represents the control API server
type RESTServer struct {
    config    *config.Config
    session   Controller
    auth      *auth.JWTManager
    validator *validation.Validator
    hub       *Hub
    router    chi.Router
    server    *http.Server
}

// NewRESTServer creates a new control API server and subscribes its
// stream hub to the session
func NewRESTServer(cfg *config.Config, ctrl Controller) *RESTServer {
    s := &RESTServer{
        config:    cfg,
        session:   ctrl,
        validator: validation.NewValidator(),
        hub:       NewHub(),
        router:    chi.NewRouter(),
    }
    if cfg.Auth.Enabled() {
        s.auth = auth.NewJWTManager(&cfg.Auth)
    }

    ctrl.AddObserver(s.hub)
    s.setupRoutes()

    s.server = &http.Server{
        Handler:      s.withWebUI(s.router),
        ReadTimeout:  15 * time.Second,
        WriteTimeout: 15 * time.Second,
        IdleTimeout:  60 * time.Second,
    }

    return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
    // Middleware
    s.router.Use(middleware.RequestID)
    s.router.Use(middleware.RealIP)
    s.router.Use(requestLogger)
    s.router.Use(middleware.Recoverer)

    // CORS
    s.router.Use(cors.Handler(cors.Options{
        AllowedOrigins:   s.config.API.AllowedOrigins,
        AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
        AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
        AllowCredentials: true,
        MaxAge:           300,
    }))

    // API routes
    s.router.Route("/api/v1", func(r chi.Router) {
        s.setupAPIRoutes(r)
    })
}

// Handler returns the root handler, web UI included
func (s *RESTServer) Handler() http.Handler {
    return s.server.Handler
}

// Hub returns the stream hub
func (s *RESTServer) Hub() *Hub {
    return s.hub
}

// withWebUI serves the control panel for every non-API path
func (s *RESTServer) withWebUI(api http.Handler) http.Handler {
    webDir := s.config.Web.StaticDir
    if webDir == "" {
        return api
    }

    if _, err := os.Stat(webDir); os.IsNotExist(err) {
        log.Warn().Str("dir", webDir).Msg("Web directory not found, control panel will not be available")
        return api
    }
    log.Info().Str("dir", webDir).Msg("Serving control panel from directory")

    fs := http.FileServer(http.Dir(webDir))
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if strings.HasPrefix(r.URL.Path, "/api/") {
            api.ServeHTTP(w, r)
            return
        }

        // extensionless paths belong to the single page app
        if r.URL.Path == "/" || !strings.Contains(r.URL.Path, ".") {
            http.ServeFile(w, r, filepath.Join(webDir, "index.html"))
            return
        }

        fs.ServeHTTP(w, r)
    })
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe() error {
    s.server.Addr = fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

    log.Info().Str("addr", s.server.Addr).Bool("auth", s.auth != nil).Msg("Starting control API server")
    return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and its stream clients
func (s *RESTServer) Shutdown(ctx context.Context) error {
    s.hub.Close()
    return s.server.Shutdown(ctx)
}

// authMiddleware is the authentication middleware. It is a no-op while
// auth is disabled.
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if s.auth == nil {
            next.ServeHTTP(w, r)
            return
        }

        token := r.URL.Query().Get("token")
        if authHeader := r.Header.Get("Authorization"); authHeader != "" {
            parts := strings.Split(authHeader, " ")
            if len(parts) != 2 || parts[0] != "Bearer" {
                s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
                return
            }
            token = parts[1]
        }
        if token == "" {
            s.respondError(w, http.StatusUnauthorized, "missing authorization header")
            return
        }

        claims, err := s.auth.ValidateToken(token)
        if err != nil {
            s.respondError(w, http.StatusUnauthorized, "invalid token")
            return
        }

        ctx := context.WithValue(r.Context(), claimsKey, claims)
        next.ServeHTTP(w, r.WithContext(ctx))
    })
}

// requestLogger logs each request through zerolog
func requestLogger(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
        next.ServeHTTP(ww, r)

        log.Debug().
            Str("method", r.Method).
            Str("path", r.URL.Path).
            Int("status", ww.Status()).
            Dur("duration", time.Since(start)).
            Str("request_id", middleware.GetReqID(r.Context())).
            Msg("HTTP request")
    })
}
