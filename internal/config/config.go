package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/brandon/mailflow/pkg/types"
)

// EnvPrefix prefixes environment overrides, e.g. MAILFLOW_LOG_LEVEL.
const EnvPrefix = "MAILFLOW"

// Credential backends.
const (
	BackendKeyring = "keyring"
	BackendEnv     = "env"
)

// Config holds the application configuration
type Config struct {
	// Cache settings
	CachePath string        `mapstructure:"cache_path"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	LogLevel  string        `mapstructure:"log_level"`

	// Session settings
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	PageSize       int           `mapstructure:"page_size"`
	Preview        bool          `mapstructure:"preview"`
	PreviewBytes   int           `mapstructure:"preview_bytes"`

	SyncConcurrency int `mapstructure:"sync_concurrency"`

	Client      ClientConfig      `mapstructure:"client"`
	Credentials CredentialsConfig `mapstructure:"credentials"`

	// Accounts
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// ClientConfig is the identity announced to servers that require an ID
// handshake.
type ClientConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// CredentialsConfig selects where account passwords are read from.
type CredentialsConfig struct {
	Backend     string `mapstructure:"backend"`
	ServiceName string `mapstructure:"service_name"`
	FileDir     string `mapstructure:"file_dir"`
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	ID    string `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`

	// IMAP settings
	IMAPHost string `mapstructure:"imap_host"`
	IMAPPort int    `mapstructure:"imap_port"`

	// SMTP settings
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`

	// Profile is "standard" or "post-login-handshake"; empty picks one
	// from the provider domain.
	Profile            string `mapstructure:"profile"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// DefaultConfigPath returns ~/.config/mailflow/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailflow", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_path", filepath.Join(filepath.Dir(DefaultConfigPath()), "cache.db"))
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("log_level", "info")
	v.SetDefault("dial_timeout", 30*time.Second)
	v.SetDefault("command_timeout", 60*time.Second)
	v.SetDefault("page_size", 50)
	v.SetDefault("preview", true)
	v.SetDefault("preview_bytes", 2048)
	v.SetDefault("sync_concurrency", 4)
	v.SetDefault("client.name", "mailflow")
	v.SetDefault("client.version", "1.0.0")
	v.SetDefault("credentials.backend", BackendKeyring)
	v.SetDefault("credentials.service_name", "mailflow")
}

// LoadConfig reads the YAML file at path and applies MAILFLOW_*
// environment overrides. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		if acc.IMAPPort == 0 {
			acc.IMAPPort = 993
		}
		if acc.SMTPPort == 0 && acc.SMTPHost != "" {
			acc.SMTPPort = 465
		}
		if acc.ID == "" {
			acc.ID = acc.Name
		}
	}
	return cfg, nil
}

// GetAccount finds an account by ID, then by name
func (c *Config) GetAccount(idOrName string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].ID == idOrName {
			return &c.Accounts[i], nil
		}
	}
	for i := range c.Accounts {
		if c.Accounts[i].Name == idOrName {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", idOrName)
}

// GetDefaultAccount returns the account named "default", or the first one
func (c *Config) GetDefaultAccount() *AccountConfig {
	if len(c.Accounts) == 0 {
		return nil
	}
	for i := range c.Accounts {
		if c.Accounts[i].Name == "default" {
			return &c.Accounts[i]
		}
	}
	return &c.Accounts[0]
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("cache_path is required")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative")
	}
	if c.PageSize < 1 || c.PageSize > 1000 {
		return fmt.Errorf("page_size must be between 1 and 1000")
	}
	if c.SyncConcurrency < 1 {
		return fmt.Errorf("sync_concurrency must be at least 1")
	}
	switch c.Credentials.Backend {
	case BackendKeyring, BackendEnv:
	default:
		return fmt.Errorf("credentials.backend must be %q or %q", BackendKeyring, BackendEnv)
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.ID == "" {
			return fmt.Errorf("account %d: id or name is required", i+1)
		}
		if seen[acc.ID] {
			return fmt.Errorf("account %s: duplicate id", acc.ID)
		}
		seen[acc.ID] = true

		if acc.Email == "" {
			return fmt.Errorf("account %s: email is required", acc.ID)
		}
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: imap_host is required", acc.ID)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid imap_port", acc.ID)
		}
		if acc.SMTPHost != "" && (acc.SMTPPort < 1 || acc.SMTPPort > 65535) {
			return fmt.Errorf("account %s: invalid smtp_port", acc.ID)
		}
		if _, err := types.ParseProfile(acc.Profile); err != nil {
			return fmt.Errorf("account %s: %w", acc.ID, err)
		}
	}

	return nil
}

// AccountIDs returns a list of all account IDs
func (c *Config) AccountIDs() []string {
	ids := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		ids[i] = c.Accounts[i].ID
	}
	return ids
}

// Account converts the configuration to the account reference used by the
// session engine.
func (a *AccountConfig) Account() (types.Account, error) {
	profile, err := types.ParseProfile(a.Profile)
	if err != nil {
		return types.Account{}, err
	}
	return types.Account{
		ID:                 a.ID,
		Name:               a.Name,
		Email:              a.Email,
		IMAPHost:           a.IMAPHost,
		IMAPPort:           a.IMAPPort,
		SMTPHost:           a.SMTPHost,
		SMTPPort:           a.SMTPPort,
		Profile:            profile,
		InsecureSkipVerify: a.InsecureSkipVerify,
	}, nil
}
