package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/rhuss/codegate/pkg/debug"
)

// Load builds the configuration from defaults, then the config file, then
// CODEGATE_* variables, then *_file secrets, and validates the result.
// An empty configPath falls back to $CODEGATE_CONFIG and the search path.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	path := cmp.Or(configPath, os.Getenv("CODEGATE_CONFIG"))
	if path == "" {
		path = firstExisting(searchPath)
	}
	if path != "" {
		debug.Log("config", "loading config file", "path", path)
		if err := loadFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	steps := []struct {
		what  string
		apply func(*Config) error
	}{
		{"environment overrides", applyEnvOverrides},
		{"resolving file references", resolveFileReferences},
		{"config validation", (*Config).Validate},
	}
	for _, step := range steps {
		if err := step.apply(&cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", step.what, err)
		}
	}
	return &cfg, nil
}

var searchPath = []string{"config.yaml", "config.toml", "/etc/codegate/config.yaml"}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// loadFile decodes a YAML or TOML file over cfg, chosen by extension.
// Keys absent from the file keep their current values.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
		return err
	case ".yaml", ".yml", "":
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

// applyEnvOverrides maps CODEGATE_* variables onto cfg. Malformed numbers
// and durations are errors rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"CODEGATE_HARNESS_BACKEND":     &cfg.Harness.Backend,
		"CODEGATE_INTERPRETER":         &cfg.Harness.Interpreter,
		"CODEGATE_WORK_ROOT":           &cfg.Harness.WorkRoot,
		"CODEGATE_SANDBOX_URL":         &cfg.Harness.SandboxURL,
		"CODEGATE_ARCHIVE":             &cfg.Archive.Type,
		"CODEGATE_POSTGRES_DSN":        &cfg.Archive.Postgres.DSN,
		"CODEGATE_SQLITE_PATH":         &cfg.Archive.SQLite.Path,
		"CODEGATE_AUTH_TYPE":           &cfg.Auth.Type,
		"CODEGATE_JWT_SECRET":          &cfg.Auth.JWT.Secret,
		"CODEGATE_JWKS_URL":            &cfg.Auth.JWT.JWKSURL,
		"CODEGATE_NATS_URL":            &cfg.NATS.URL,
		"CODEGATE_LOG_FORMAT":          &cfg.Logging.Format,
		"CODEGATE_MODEL":               &cfg.LLM.Model,
		"CODEGATE_KUBERNETES_TEMPLATE": &cfg.Harness.Kubernetes.Template,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("CODEGATE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CODEGATE_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("CODEGATE_TIME_LIMIT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("CODEGATE_TIME_LIMIT: %w", err)
		}
		cfg.Harness.TimeLimit = d
	}
	if v := os.Getenv("CODEGATE_API_KEYS"); v != "" {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			return fmt.Errorf("CODEGATE_API_KEYS: %w", err)
		}
		cfg.Auth.APIKeys = keys
	}
	return nil
}

// parseSeconds accepts a Go duration ("90s") or a bare number of seconds.
func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// resolveFileReferences fills a value from its _file twin when the value
// itself is empty.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name string
		file string
		dst  *string
	}{
		{"archive.postgres.dsn_file", cfg.Archive.Postgres.DSNFile, &cfg.Archive.Postgres.DSN},
		{"auth.jwt.secret_file", cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret},
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		refs = append(refs, struct {
			name string
			file string
			dst  *string
		}{fmt.Sprintf("auth.api_keys[%d].key_file", i), k.KeyFile, &k.Key})
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.dst != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.dst = val
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
