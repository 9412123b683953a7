package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	API        APIConfig        `yaml:"api"`
	Web        WebConfig        `yaml:"web"`
	Device     DeviceConfig     `yaml:"device"`
	Session    SessionConfig    `yaml:"session"`
	Simulation SimulationConfig `yaml:"simulation"`
	Keyboard   KeyboardConfig   `yaml:"keyboard"`
	Console    ConsoleConfig    `yaml:"console"`
	Auth       AuthConfig       `yaml:"auth"`
	NATS       NATSConfig       `yaml:"nats"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents the control API listener
type APIConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebConfig represents web UI configuration
type WebConfig struct {
	StaticDir string `yaml:"static_dir"`
}

// DeviceConfig describes how the petal ejector device API is reached
type DeviceConfig struct {
	Port int `yaml:"port"`
}

// SessionConfig holds session controller timings
type SessionConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SimulationConfig holds the artificial delays of the 1.1.1.1 test mode
type SimulationConfig struct {
	ConnectDelay  time.Duration `yaml:"connect_delay"`
	ActivateDelay time.Duration `yaml:"activate_delay"`
	ResetDelay    time.Duration `yaml:"reset_delay"`
}

// KeyboardConfig holds the local keyboard emergency mode delays
type KeyboardConfig struct {
	ActivateDelay time.Duration `yaml:"activate_delay"`
	ResetDelay    time.Duration `yaml:"reset_delay"`
}

// ConsoleConfig enables the terminal key reader
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AuthConfig represents operator authentication for the control API.
// Auth is disabled while Secret is empty.
type AuthConfig struct {
	Secret         string        `yaml:"secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	Username       string        `yaml:"username"`
	PasswordHash   string        `yaml:"password_hash"`
}

// Enabled reports whether the control API requires a bearer token
func (a AuthConfig) Enabled() bool {
	return a.Secret != ""
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents MQTT publication configuration
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load loads configuration from file. An empty filename yields defaults.
func Load(filename string) (*Config, error) {
	var cfg Config

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("PETAL_DEVICE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Device.Port = p
		} else {
			log.Warn().Str("value", port).Msg("Ignoring invalid PETAL_DEVICE_PORT")
		}
	}

	if webDir := os.Getenv("WEB_DIR"); webDir != "" {
		c.Web.StaticDir = webDir
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.Auth.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// setDefaults fills every zero value the controller depends on
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "petal-controller"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.Device.Port == 0 {
		c.Device.Port = 8080
	}
	if c.Session.PollInterval == 0 {
		c.Session.PollInterval = 5 * time.Second
	}

	if c.Simulation.ConnectDelay == 0 {
		c.Simulation.ConnectDelay = 1000 * time.Millisecond
	}
	if c.Simulation.ActivateDelay == 0 {
		c.Simulation.ActivateDelay = 800 * time.Millisecond
	}
	if c.Simulation.ResetDelay == 0 {
		c.Simulation.ResetDelay = 1000 * time.Millisecond
	}

	if c.Keyboard.ActivateDelay == 0 {
		c.Keyboard.ActivateDelay = 500 * time.Millisecond
	}
	if c.Keyboard.ResetDelay == 0 {
		c.Keyboard.ResetDelay = 1000 * time.Millisecond
	}

	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 12 * time.Hour
	}
	if c.Auth.Username == "" {
		c.Auth.Username = "operator"
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "petal"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 60
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "petal-controller"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "petal"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate rejects values the controller cannot run with
func (c *Config) Validate() error {
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		return fmt.Errorf("device.port out of range: %d", c.Device.Port)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if c.Session.PollInterval < 0 {
		return fmt.Errorf("session.poll_interval must be positive")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if c.Auth.Enabled() && c.Auth.PasswordHash == "" {
		return fmt.Errorf("auth.password_hash is required when auth.secret is set")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// PrintConfigSummary logs the effective configuration
func (c *Config) PrintConfigSummary() {
	log.Info().
		Str("name", c.Server.Name).
		Str("api", fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)).
		Int("devicePort", c.Device.Port).
		Dur("pollInterval", c.Session.PollInterval).
		Bool("auth", c.Auth.Enabled()).
		Bool("nats", c.NATS.URL != "").
		Bool("mqtt", c.MQTT.Broker != "").
		Bool("console", c.Console.Enabled).
		Msg("Configuration loaded")
}
