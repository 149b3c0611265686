package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailflow/pkg/types"
)

const sampleConfig = `
cache_path: /tmp/mailflow-test.db
cache_ttl: 2m
command_timeout: 15s
accounts:
  - id: work
    name: Work
    email: me@example.org
    imap_host: imap.example.org
  - name: netease
    email: me@163.com
    imap_host: imap.163.com
    imap_port: 994
    smtp_host: smtp.163.com
    profile: post-login-handshake
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("MAILFLOW_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/tmp/mailflow-test.db", cfg.CachePath)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 15*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 30*time.Second, cfg.DialTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 50, cfg.PageSize)
	assert.True(t, cfg.Preview)
	assert.Equal(t, "mailflow", cfg.Client.Name)
	assert.Equal(t, BackendKeyring, cfg.Credentials.Backend)
	assert.Equal(t, []string{"work", "netease"}, cfg.AccountIDs())

	work, err := cfg.GetAccount("work")
	require.NoError(t, err)
	assert.Equal(t, 993, work.IMAPPort)
	assert.Equal(t, 0, work.SMTPPort)

	netease, err := cfg.GetAccount("netease")
	require.NoError(t, err)
	assert.Equal(t, 994, netease.IMAPPort)
	assert.Equal(t, 465, netease.SMTPPort)

	acc, err := netease.Account()
	require.NoError(t, err)
	assert.Equal(t, types.ProfilePostLoginHandshake, acc.Profile)

	_, err = cfg.GetAccount("missing")
	assert.Error(t, err)
	assert.Equal(t, "work", cfg.GetDefaultAccount().ID)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 4, cfg.SyncConcurrency)
	assert.EqualError(t, cfg.Validate(), "at least one account must be configured")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig(writeConfig(t, sampleConfig))
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"page size", func(c *Config) { c.PageSize = 0 }, "page_size must be between 1 and 1000"},
		{"backend", func(c *Config) { c.Credentials.Backend = "vault" }, `credentials.backend must be "keyring" or "env"`},
		{"host", func(c *Config) { c.Accounts[0].IMAPHost = "" }, "account work: imap_host is required"},
		{"port", func(c *Config) { c.Accounts[0].IMAPPort = 70000 }, "account work: invalid imap_port"},
		{"email", func(c *Config) { c.Accounts[1].Email = "" }, "account netease: email is required"},
		{"duplicate", func(c *Config) { c.Accounts[1].ID = "work" }, "account work: duplicate id"},
		{"profile", func(c *Config) { c.Accounts[0].Profile = "xoauth" }, `account work: unknown negotiation profile "xoauth"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			assert.EqualError(t, cfg.Validate(), tc.want)
		})
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "accounts: [unterminated"))
	assert.Error(t, err)
}
