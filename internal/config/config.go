package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lorawan-server/lorawan-tester/internal/capture"
	"github.com/lorawan-server/lorawan-tester/internal/integration"
	"github.com/lorawan-server/lorawan-tester/internal/models"
)

// Session backends
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Capture sources
const (
	SourceFile = "file"
	SourceUDP  = "udp"
	SourceNATS = "nats"
)

// Transmit sinks
const (
	SinkStdout = "stdout"
	SinkFile   = "file"
	SinkUDP    = "udp"
	SinkNATS   = "nats"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	API         APIConfig         `yaml:"api"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Session     SessionConfig     `yaml:"session"`
	Capture     CaptureConfig     `yaml:"capture"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Transmitter TransmitterConfig `yaml:"transmitter"`
	Integration IntegrationConfig `yaml:"integration"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // empty: same origin only
	Insecure       bool     `yaml:"insecure"`        // serve operator routes without a JWT secret
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret         string        `yaml:"secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	Operators      []Operator    `yaml:"operators"`
}

// Operator is an API user; PasswordHash is a bcrypt hash, see the
// hash-password command
type Operator struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"` // console | json
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig enables a rotating log file next to the console output
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// SessionConfig selects where session records live
type SessionConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"` // file backend root
}

// CaptureConfig configures frame capture and analysis
type CaptureConfig struct {
	Source      string                 `yaml:"source"`
	File        string                 `yaml:"file"`
	HexFile     capture.HexFileOptions `yaml:"hex_file"`
	NATSSubject string                 `yaml:"nats_subject"`
	DedupWindow time.Duration          `yaml:"dedup_window"`
	History     int                    `yaml:"history"`
}

// GatewayConfig represents the Semtech UDP listener
type GatewayConfig struct {
	UDPBind   string `yaml:"udp_bind"`
	GatewayID string `yaml:"gateway_id"` // downlink gateway, empty for the last one seen
}

// TransmitterConfig configures where forged frames go
type TransmitterConfig struct {
	Sink   string        `yaml:"sink"`
	File   string        `yaml:"file"`
	Delay  time.Duration `yaml:"delay"` // between replayed frames
	TXInfo models.TXInfo `yaml:"tx"`
}

// IntegrationConfig configures record forwarding
type IntegrationConfig struct {
	HTTP integration.HTTPConfig `yaml:"http"`
	MQTT integration.MQTTConfig `yaml:"mqtt"`
	NATS NATSIntegrationConfig  `yaml:"nats"`
}

// NATSIntegrationConfig publishes frame records on NATS
type NATSIntegrationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
}

// MetricsConfig represents the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{Name: "lorawan-tester", Version: "dev"},
		API:    APIConfig{Host: "127.0.0.1", Port: 8090},
		Database: DatabaseConfig{
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{Addr: "localhost:6379", Prefix: "lorawan-tester:"},
		NATS: NATSConfig{
			URL:               "nats://localhost:4222",
			ClientID:          "lorawan-tester",
			MaxReconnects:     10,
			ReconnectInterval: 2 * time.Second,
		},
		JWT:     JWTConfig{AccessTokenTTL: 12 * time.Hour},
		Log:     LogConfig{Level: "info", Format: "console"},
		Session: SessionConfig{Backend: BackendFile, Dir: filepath.Join(home, ".lorawan-tester")},
		Capture: CaptureConfig{
			Source:      SourceFile,
			DedupWindow: 200 * time.Millisecond,
			History:     100,
		},
		Gateway: GatewayConfig{UDPBind: "0.0.0.0:1700"},
		Transmitter: TransmitterConfig{
			Sink:  SinkStdout,
			Delay: time.Second,
			TXInfo: models.TXInfo{
				Frequency:       868.1,
				Bandwidth:       125,
				SpreadingFactor: 7,
				CodingRate:      "4/5",
				Power:           14,
				GainDB:          10,
				SampleRate:      1e6,
				InvertPolarity:  true,
			},
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load loads configuration from file on top of the defaults. An empty
// filename loads the defaults only. Environment overrides apply either way.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if backend := os.Getenv("SESSION_BACKEND"); backend != "" {
		c.Session.Backend = backend
	}
}

// Validate checks enumerated settings and backend prerequisites
func (c *Config) Validate() error {
	switch c.Session.Backend {
	case BackendFile:
		if c.Session.Dir == "" {
			return fmt.Errorf("session.dir is required for the file backend")
		}
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}

	switch c.Capture.Source {
	case SourceFile, SourceUDP, SourceNATS:
	default:
		return fmt.Errorf("unknown capture source %q", c.Capture.Source)
	}
	if c.Capture.HexFile.HeaderBytes < 0 || c.Capture.HexFile.TrailerBytes < 0 {
		return fmt.Errorf("capture.hex_file byte counts must not be negative")
	}

	switch c.Transmitter.Sink {
	case SinkStdout, SinkUDP:
	case SinkFile:
		if c.Transmitter.File == "" {
			return fmt.Errorf("transmitter.file is required for the file sink")
		}
	case SinkNATS:
		if c.Gateway.GatewayID == "" {
			return fmt.Errorf("gateway.gateway_id is required for the nats sink")
		}
	default:
		return fmt.Errorf("unknown transmitter sink %q", c.Transmitter.Sink)
	}

	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// PrintConfigSummary prints the effective settings
func (c *Config) PrintConfigSummary(w io.Writer) {
	fmt.Fprintf(w, "=== LoRaWAN Tester Configuration ===\n")
	fmt.Fprintf(w, "Server: %s v%s\n", c.Server.Name, c.Server.Version)
	fmt.Fprintf(w, "Session backend: %s\n", c.Session.Backend)
	fmt.Fprintf(w, "Capture source: %s (dedup %s)\n", c.Capture.Source, c.Capture.DedupWindow)
	fmt.Fprintf(w, "Transmitter: %s, %.3f MHz %s, %d dBm\n",
		c.Transmitter.Sink,
		c.Transmitter.TXInfo.Frequency,
		c.Transmitter.TXInfo.DataRate(),
		c.Transmitter.TXInfo.Power)
	fmt.Fprintf(w, "API: %s:%d\n", c.API.Host, c.API.Port)
	fmt.Fprintf(w, "MQTT: %v, HTTP: %v, NATS: %v\n",
		c.Integration.MQTT.Enabled,
		c.Integration.HTTP.Enabled,
		c.Integration.NATS.Enabled)
	fmt.Fprintf(w, "====================================\n")
}
