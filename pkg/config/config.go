// Package config provides configuration for the codegate server.
//
// Configuration is loaded in layers:
//  1. Built-in defaults
//  2. A YAML or TOML config file (discovered or explicitly specified)
//  3. CODEGATE_* environment overrides
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the codegate server.
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Harness HarnessConfig `yaml:"harness" toml:"harness"`
	Archive ArchiveConfig `yaml:"archive" toml:"archive"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`
	NATS    NATSConfig    `yaml:"nats" toml:"nats"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	LLM     LLMConfig     `yaml:"llm" toml:"llm"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port"`                         // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"`         // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`       // default: 0 (streams)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"` // default: 15s
	MaxCodeSize     int           `yaml:"max_code_size" toml:"max_code_size"`       // bytes, default: 1MiB
	EnableMCP       bool          `yaml:"enable_mcp" toml:"enable_mcp"`             // default: true
}

// HarnessConfig selects and configures the execution backend.
type HarnessConfig struct {
	Backend            string           `yaml:"backend" toml:"backend"`                           // "process" or "remote", default: "process"
	Interpreter        string           `yaml:"interpreter" toml:"interpreter"`                   // default: "python3"
	TimeLimit          time.Duration    `yaml:"time_limit" toml:"time_limit"`                     // default: 60s
	WorkRoot           string           `yaml:"work_root" toml:"work_root"`                       // default: os temp dir + "/codegate"
	TrackCreationOrder bool             `yaml:"track_creation_order" toml:"track_creation_order"` // default: true
	SyntaxCheck        bool             `yaml:"syntax_check" toml:"syntax_check"`                 // default: true
	SandboxURL         string           `yaml:"sandbox_url" toml:"sandbox_url"`                   // remote backend without kubernetes
	MaxConcurrent      int              `yaml:"max_concurrent" toml:"max_concurrent"`             // sandbox server capacity, default: 4
	Kubernetes         KubernetesConfig `yaml:"kubernetes" toml:"kubernetes"`
}

// KubernetesConfig places remote executions on agent-sandbox claims.
type KubernetesConfig struct {
	Enabled      bool          `yaml:"enabled" toml:"enabled"`
	Template     string        `yaml:"template" toml:"template"`
	Namespace    string        `yaml:"namespace" toml:"namespace"`         // default: "default"
	ReadyTimeout time.Duration `yaml:"ready_timeout" toml:"ready_timeout"` // default: 30s
	Port         int           `yaml:"port" toml:"port"`                   // default: 8080
}

// ArchiveConfig holds the execution archive settings.
type ArchiveConfig struct {
	Type     string         `yaml:"type" toml:"type"`         // "memory", "postgres", "sqlite" or "none", default: "memory"
	MaxSize  int            `yaml:"max_size" toml:"max_size"` // memory archive capacity, oldest dropped first; default: 1000
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite" toml:"sqlite"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn" toml:"dsn"`
	DSNFile         string        `yaml:"dsn_file" toml:"dsn_file"`
	MaxConns        int32         `yaml:"max_conns" toml:"max_conns"`                 // default: 10
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" toml:"max_conn_lifetime"` // default: 5m
	MigrateOnStart  bool          `yaml:"migrate_on_start" toml:"migrate_on_start"`   // default: true
}

// SQLiteConfig holds the SQLite archive settings.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"` // default: "codegate.db"
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type" toml:"type"` // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys" toml:"api_keys"`
	JWT       JWTConfig       `yaml:"jwt" toml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// APIKeyConfig maps a key to an identity.
type APIKeyConfig struct {
	Key     string   `yaml:"key" toml:"key" json:"key"`
	KeyFile string   `yaml:"key_file" toml:"key_file" json:"key_file"`
	Subject string   `yaml:"subject" toml:"subject" json:"subject"`
	Tier    string   `yaml:"tier" toml:"tier" json:"tier"`
	Scopes  []string `yaml:"scopes" toml:"scopes" json:"scopes"` // empty grants all scopes
}

// JWTConfig configures the JWT authenticator.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer" toml:"issuer"`
	Audience    string        `yaml:"audience" toml:"audience"`
	Secret      string        `yaml:"secret" toml:"secret"`
	SecretFile  string        `yaml:"secret_file" toml:"secret_file"`
	JWKSURL     string        `yaml:"jwks_url" toml:"jwks_url"`
	UserClaim   string        `yaml:"user_claim" toml:"user_claim"`
	ScopesClaim string        `yaml:"scopes_claim" toml:"scopes_claim"`
	CacheTTL    time.Duration `yaml:"cache_ttl" toml:"cache_ttl"`
}

// RateLimitConfig limits requests per subject and tier.
type RateLimitConfig struct {
	DefaultRPM int            `yaml:"default_rpm" toml:"default_rpm"` // 0 disables limiting
	Tiers      map[string]int `yaml:"tiers" toml:"tiers"`             // tier -> requests per minute
}

// NATSConfig enables step fan-out over NATS.
type NATSConfig struct {
	URL           string `yaml:"url" toml:"url"` // empty disables publishing
	SubjectPrefix string `yaml:"subject_prefix" toml:"subject_prefix"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"` // default: true
	Path    string `yaml:"path" toml:"path"`       // default: "/metrics"
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // "trace", "debug", "info", "warn", "error", default: "info"
	Format string `yaml:"format" toml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug" toml:"debug"`   // comma-separated debug categories
}

// LLMConfig is the model configuration new sessions start with.
type LLMConfig struct {
	Model       string  `yaml:"model" toml:"model"`             // default: "llama3-70b-8192"
	Temperature float64 `yaml:"temperature" toml:"temperature"` // default: 0.05
}

// Defaults returns a Config with all default values applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxCodeSize:     1024 * 1024,
			EnableMCP:       true,
		},
		Harness: HarnessConfig{
			Backend:            "process",
			Interpreter:        "python3",
			TimeLimit:          60 * time.Second,
			TrackCreationOrder: true,
			SyntaxCheck:        true,
			MaxConcurrent:      4,
			Kubernetes: KubernetesConfig{
				Namespace:    "default",
				ReadyTimeout: 30 * time.Second,
				Port:         8080,
			},
		},
		Archive: ArchiveConfig{
			Type:    "memory",
			MaxSize: 1000,
			Postgres: PostgresConfig{
				MaxConns:        10,
				MaxConnLifetime: 5 * time.Minute,
				MigrateOnStart:  true,
			},
			SQLite: SQLiteConfig{Path: "codegate.db"},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		NATS: NATSConfig{
			SubjectPrefix: "codegate.steps",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		LLM: LLMConfig{
			Model:       "llama3-70b-8192",
			Temperature: 0.05,
		},
	}
}
