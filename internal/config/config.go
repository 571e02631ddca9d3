// Package config provides centralized configuration management for Drawbridge.
// Configuration is loaded from environment variables with sensible defaults.
// Required configuration that is missing will cause the application to fail fast
// with helpful error messages.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Config holds all gateway configuration.
type Config struct {
	// Server configuration
	Port int
	DB   string // SQLite file path for the asset directory and audit log

	// JWT authentication configuration
	JWTSecret string

	// guacd configuration
	GuacdHost string
	GuacdPort int

	// Default screen geometry for RDP/VNC sessions when the client
	// does not send width/height query parameters.
	ScreenWidth  int
	ScreenHeight int

	// Terminal recording configuration
	RecordRoot string // local directory for in-progress .cast files

	// File-manager configuration
	RemoteFileHome string // home root; CWD never escapes above this path

	// Replay storage configuration
	ReplayStorageBackend    string // "local" or "s3"
	ReplayDir               string // local storage path for replays
	ReplayS3Bucket          string
	ReplayS3Region          string
	ReplayS3Endpoint        string // custom endpoint for MinIO/self-hosted S3
	ReplayS3Prefix          string
	ReplayS3AccessKeyID     string
	ReplayS3SecretAccessKey string

	// Gateway configuration
	GatewayRateLimit float64 // connections per second per IP (0 = disabled)
	GatewayBurst     int     // maximum burst size for the rate limiter
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Default values
const (
	DefaultPort                 = 8080
	DefaultDBPath               = "drawbridge.db"
	DefaultGuacdHost            = "127.0.0.1"
	DefaultGuacdPort            = 4822
	DefaultScreenWidth          = 800
	DefaultScreenHeight         = 600
	DefaultRecordRoot           = "/data/drawbridge/records"
	DefaultRemoteFileHome       = "/home/jms"
	DefaultReplayStorageBackend = "local"
	DefaultReplayDir            = "/data/drawbridge/replays"
	DefaultReplayS3Region       = "us-east-1"
	DefaultReplayS3Prefix       = "replays/"
	DefaultGatewayRateLimit     = float64(10)
	DefaultGatewayBurst         = 20
)

// Load reads configuration from environment variables and returns a Config.
// It applies defaults for optional values and validates the configuration.
// Returns an error if validation fails.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 DefaultPort,
		DB:                   DefaultDBPath,
		GuacdHost:            DefaultGuacdHost,
		GuacdPort:            DefaultGuacdPort,
		ScreenWidth:          DefaultScreenWidth,
		ScreenHeight:         DefaultScreenHeight,
		RecordRoot:           DefaultRecordRoot,
		RemoteFileHome:       DefaultRemoteFileHome,
		ReplayStorageBackend: DefaultReplayStorageBackend,
		ReplayDir:            DefaultReplayDir,
		ReplayS3Region:       DefaultReplayS3Region,
		ReplayS3Prefix:       DefaultReplayS3Prefix,
		GatewayRateLimit:     DefaultGatewayRateLimit,
		GatewayBurst:         DefaultGatewayBurst,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

// loadFromEnv populates the config from environment variables.
func (c *Config) loadFromEnv() error {
	var parseErrors ValidationErrors

	intVar := func(field string, dst *int, minimum int) {
		v := os.Getenv(field)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid value: %q (must be an integer)", v),
			})
			return
		}
		if n < minimum {
			parseErrors = append(parseErrors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("value must be at least %d: %d", minimum, n),
			})
			return
		}
		*dst = n
	}

	strVar := func(field string, dst *string) {
		if v := os.Getenv(field); v != "" {
			*dst = v
		}
	}

	intVar("DRAWBRIDGE_PORT", &c.Port, 1)
	strVar("DRAWBRIDGE_DB", &c.DB)
	strVar("DRAWBRIDGE_JWT_SECRET", &c.JWTSecret)

	strVar("DRAWBRIDGE_GUACD_HOST", &c.GuacdHost)
	intVar("DRAWBRIDGE_GUACD_PORT", &c.GuacdPort, 1)

	intVar("DRAWBRIDGE_SCREEN_WIDTH", &c.ScreenWidth, 1)
	intVar("DRAWBRIDGE_SCREEN_HEIGHT", &c.ScreenHeight, 1)

	strVar("DRAWBRIDGE_RECORD_ROOT", &c.RecordRoot)
	strVar("DRAWBRIDGE_REMOTE_FILE_HOME", &c.RemoteFileHome)

	strVar("DRAWBRIDGE_REPLAY_STORAGE_BACKEND", &c.ReplayStorageBackend)
	strVar("DRAWBRIDGE_REPLAY_DIR", &c.ReplayDir)
	strVar("DRAWBRIDGE_REPLAY_S3_BUCKET", &c.ReplayS3Bucket)
	strVar("DRAWBRIDGE_REPLAY_S3_REGION", &c.ReplayS3Region)
	strVar("DRAWBRIDGE_REPLAY_S3_ENDPOINT", &c.ReplayS3Endpoint)
	strVar("DRAWBRIDGE_REPLAY_S3_PREFIX", &c.ReplayS3Prefix)
	strVar("DRAWBRIDGE_REPLAY_S3_ACCESS_KEY_ID", &c.ReplayS3AccessKeyID)
	strVar("DRAWBRIDGE_REPLAY_S3_SECRET_ACCESS_KEY", &c.ReplayS3SecretAccessKey)

	if v := os.Getenv("DRAWBRIDGE_GATEWAY_RATE_LIMIT"); v != "" {
		rl, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "DRAWBRIDGE_GATEWAY_RATE_LIMIT",
				Message: fmt.Sprintf("invalid rate: %q (must be a number)", v),
			})
		} else if rl < 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "DRAWBRIDGE_GATEWAY_RATE_LIMIT",
				Message: fmt.Sprintf("rate must be non-negative: %v", rl),
			})
		} else {
			c.GatewayRateLimit = rl
		}
	}
	intVar("DRAWBRIDGE_GATEWAY_BURST", &c.GatewayBurst, 1)

	if len(parseErrors) > 0 {
		return parseErrors
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "DRAWBRIDGE_PORT",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port),
		})
	}

	if c.GuacdPort < 1 || c.GuacdPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "DRAWBRIDGE_GUACD_PORT",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.GuacdPort),
		})
	}

	if c.DB == "" {
		errs = append(errs, ValidationError{
			Field:   "DRAWBRIDGE_DB",
			Message: "database path cannot be empty",
		})
	}

	if !strings.HasPrefix(c.RemoteFileHome, "/") {
		errs = append(errs, ValidationError{
			Field:   "DRAWBRIDGE_REMOTE_FILE_HOME",
			Message: fmt.Sprintf("home root must be an absolute path, got %q", c.RemoteFileHome),
		})
	}

	switch c.ReplayStorageBackend {
	case "local", "s3":
	default:
		errs = append(errs, ValidationError{
			Field:   "DRAWBRIDGE_REPLAY_STORAGE_BACKEND",
			Message: fmt.Sprintf("unsupported storage backend: %q (must be \"local\" or \"s3\")", c.ReplayStorageBackend),
		})
	}

	if c.ReplayStorageBackend == "s3" && c.ReplayS3Bucket == "" {
		errs = append(errs, ValidationError{
			Field:   "DRAWBRIDGE_REPLAY_S3_BUCKET",
			Message: "S3 bucket is required when storage backend is \"s3\"",
		})
	}

	// If one S3 credential is set, both must be set.
	if (c.ReplayS3AccessKeyID != "") != (c.ReplayS3SecretAccessKey != "") {
		errs = append(errs, ValidationError{
			Field:   "DRAWBRIDGE_REPLAY_S3_ACCESS_KEY_ID / DRAWBRIDGE_REPLAY_S3_SECRET_ACCESS_KEY",
			Message: "both S3 access key ID and secret access key must be set together",
		})
	}

	return errs
}

// GuacdAddr returns the host:port address of the local guacd daemon.
func (c *Config) GuacdAddr() string {
	return net.JoinHostPort(c.GuacdHost, strconv.Itoa(c.GuacdPort))
}

// MustLoad loads configuration and exits the process if it fails.
// Use this for application startup where configuration errors are fatal.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to load configuration\n\n%s\n", err)
		os.Exit(1)
	}
	return cfg
}

// LoadWithFlags loads configuration from environment variables,
// then applies command-line flag overrides.
func LoadWithFlags(port int, db string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if port != 0 && port != DefaultPort {
		cfg.Port = port
	}
	if db != "" && db != DefaultDBPath {
		cfg.DB = db
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}
