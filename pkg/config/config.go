package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Listen             string `yaml:"listen"`
	AdminToken         string `yaml:"admin_token"`
	AdminTokenFile     string `yaml:"admin_token_file"`
	RequestTimeout     int    `yaml:"request_timeout_s"`
	CheckRatePerMinute int    `yaml:"check_rate_per_minute"`
}

type VaultConfig struct {
	Address         string `yaml:"address"`
	Token           string `yaml:"token"`
	AppRoleID       string `yaml:"approle_id"`
	AppRoleSecretID string `yaml:"approle_secret_id"`
	Mount           string `yaml:"mount"`
	ConfigPrefix    string `yaml:"config_prefix"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuditConfig struct {
	RedactUserIDs bool   `yaml:"redact_user_ids"`
	Salt          string `yaml:"salt"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	LogSpans    bool    `yaml:"log_spans"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Vault    VaultConfig    `yaml:"vault"`
	Database DatabaseConfig `yaml:"database"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:             ":8080",
			RequestTimeout:     10,
			CheckRatePerMinute: 120,
		},
		Vault: VaultConfig{
			Address:      "http://127.0.0.1:8200",
			Mount:        "secret",
			ConfigPrefix: "configuration/users",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "botgate.db",
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// Load reads config from file with env var overrides
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if listen := os.Getenv("BOTGATE_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}
	if token := os.Getenv("BOTGATE_ADMIN_TOKEN"); token != "" {
		cfg.Server.AdminToken = token
	}
	if addr := os.Getenv("BOTGATE_VAULT_ADDR"); addr != "" {
		cfg.Vault.Address = addr
	}
	if token := os.Getenv("BOTGATE_VAULT_TOKEN"); token != "" {
		cfg.Vault.Token = token
	}
	if roleID := os.Getenv("BOTGATE_VAULT_APPROLE_ID"); roleID != "" {
		cfg.Vault.AppRoleID = roleID
	}
	if secretID := os.Getenv("BOTGATE_VAULT_APPROLE_SECRET_ID"); secretID != "" {
		cfg.Vault.AppRoleSecretID = secretID
	}
	if dsn := os.Getenv("BOTGATE_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if driver := os.Getenv("BOTGATE_DATABASE_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if level := os.Getenv("BOTGATE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return ErrMissingListen
	}
	if c.Vault.Address == "" {
		return ErrMissingVaultAddress
	}
	if c.Vault.Token == "" && c.Vault.AppRoleID == "" {
		return ErrMissingVaultAuth
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return &Error{"database driver must be sqlite or postgres"}
	}
	if c.Database.DSN == "" {
		return &Error{"database DSN is required"}
	}
	if c.Audit.RedactUserIDs && c.Audit.Salt == "" {
		return &Error{"audit salt is required when redact_user_ids is set"}
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 10
	}
	if c.Server.CheckRatePerMinute < 0 {
		c.Server.CheckRatePerMinute = 0
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return &Error{"unknown log level " + c.Logging.Level}
	}
	return nil
}

// ResolveAdminToken resolves the admin token, preferring the inline value
// over the token file.
func (c *Config) ResolveAdminToken() (string, error) {
	if c.Server.AdminToken != "" {
		return c.Server.AdminToken, nil
	}
	if c.Server.AdminTokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Server.AdminTokenFile)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

var (
	ErrMissingListen       = &Error{"listen address is required"}
	ErrMissingVaultAddress = &Error{"vault address is required"}
	ErrMissingVaultAuth    = &Error{"vault token or approle credentials are required"}
)

type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
