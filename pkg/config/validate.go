package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration and reports every problem found, each
// prefixed with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxCodeSize < 0 {
		errs = append(errs, fmt.Errorf("server.max_code_size must be >= 0, got %d", c.Server.MaxCodeSize))
	}

	switch c.Harness.Backend {
	case "process":
	case "remote":
		if c.Harness.SandboxURL == "" && !c.Harness.Kubernetes.Enabled {
			errs = append(errs, errors.New("harness.sandbox_url or harness.kubernetes.enabled is required when harness.backend is \"remote\""))
		}
		if c.Harness.Kubernetes.Enabled && c.Harness.Kubernetes.Template == "" {
			errs = append(errs, errors.New("harness.kubernetes.template is required when kubernetes is enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("harness.backend must be \"process\" or \"remote\", got %q", c.Harness.Backend))
	}
	if c.Harness.TimeLimit <= 0 {
		errs = append(errs, fmt.Errorf("harness.time_limit must be > 0, got %v", c.Harness.TimeLimit))
	}
	if c.Harness.Interpreter == "" {
		errs = append(errs, errors.New("harness.interpreter is required"))
	}

	switch c.Archive.Type {
	case "memory", "none":
	case "postgres":
		if c.Archive.Postgres.DSN == "" && c.Archive.Postgres.DSNFile == "" {
			errs = append(errs, errors.New("archive.postgres.dsn or archive.postgres.dsn_file is required when archive.type is \"postgres\""))
		}
	case "sqlite":
		if c.Archive.SQLite.Path == "" {
			errs = append(errs, errors.New("archive.sqlite.path is required when archive.type is \"sqlite\""))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.type must be \"memory\", \"postgres\", \"sqlite\" or \"none\", got %q", c.Archive.Type))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, errors.New("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.SecretFile == "" && c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, errors.New("auth.jwt needs secret, secret_file or jwks_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0.0 and 2.0, got %v", c.LLM.Temperature))
	}

	return errors.Join(errs...)
}
