package overseer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/overseer/policy"
)

func TestConfig_Validate(t *testing.T) {
	var testCases = []struct {
		description string
		mutate      func(c *Config)
		expectErr   bool
	}{
		{description: "defaults", mutate: func(c *Config) {}},
		{description: "empty vault", mutate: func(c *Config) { c.Vault = "" }, expectErr: true},
		{description: "postgres without dsn", mutate: func(c *Config) { c.Store.Backend = BackendPostgres }, expectErr: true},
		{description: "redis without addr", mutate: func(c *Config) { c.Lock.Backend = BackendRedis }, expectErr: true},
		{description: "redis lock", mutate: func(c *Config) { c.Lock.Backend = BackendRedis; c.Lock.Addr = "localhost:6379" }},
		{description: "zero retries", mutate: func(c *Config) { c.Approval.MaxRetries = 0 }, expectErr: true},
		{description: "inverted backoff", mutate: func(c *Config) { c.Approval.RetryMaxDelay = time.Millisecond }, expectErr: true},
		{description: "unknown spool category", mutate: func(c *Config) {
			c.Watchers.Spool = []*SpoolConfig{{Name: "fax", Category: "fax"}}
		}, expectErr: true},
		{description: "duplicate spool", mutate: func(c *Config) {
			c.Watchers.Spool = []*SpoolConfig{{Name: "gmail", Category: "email"}, {Name: "gmail", Category: "email"}}
		}, expectErr: true},
		{description: "unknown policy mode", mutate: func(c *Config) {
			c.Policies = map[string]*policy.Config{"email": {Mode: "maybe"}}
		}, expectErr: true},
		{description: "unknown policy category", mutate: func(c *Config) {
			c.Policies = map[string]*policy.Config{"fax": {Mode: policy.ModeAuto}}
		}, expectErr: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			cfg := DefaultConfig()
			testCase.mutate(cfg)
			err := cfg.Validate()
			if testCase.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	location := filepath.Join(t.TempDir(), "overseer.yaml")
	require.NoError(t, os.WriteFile(location, []byte(`
vault: /srv/vault
http:
  addr: ":9090"
approval:
  timeout: 2h
  maxRetries: 5
watchers:
  spool:
    - name: gmail
      category: email
      interval: 10s
policies:
  linkedin:
    mode: auto
    allow: [announcement]
`), 0o644))
	t.Setenv("OVERSEER_DRY_RUN", "true")
	t.Setenv("OVERSEER_AUTO_APPROVE_TWITTER", "1")

	cfg, err := LoadConfig(context.Background(), location)
	require.NoError(t, err)
	assert.Equal(t, "/srv/vault", cfg.Vault)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 2*time.Hour, cfg.Approval.Timeout)
	assert.Equal(t, 5, cfg.Approval.MaxRetries)
	assert.Equal(t, DefaultConfig().Approval.RetryDelay, cfg.Approval.RetryDelay)
	require.Len(t, cfg.Watchers.Spool, 1)
	assert.Equal(t, 10*time.Second, cfg.Watchers.Spool[0].Interval)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, []string{"announcement"}, cfg.Policies["linkedin"].AllowList)
	assert.Equal(t, policy.ModeAuto, cfg.Policies["twitter"].Mode)
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	t.Setenv("OVERSEER_MAX_RETRIES", "many")
	_, err := LoadConfig(context.Background(), "")
	assert.Error(t, err)
}
