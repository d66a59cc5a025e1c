package overseer

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/viant/afs"
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/policy"
	"github.com/viant/overseer/service/approval"
	"github.com/viant/overseer/service/broadcast"
	"github.com/viant/overseer/service/loop"
	"github.com/viant/overseer/service/taskstore"
	"github.com/viant/overseer/service/watcher"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendFS       = "fs"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is a serialisable representation of the control plane
// configuration. The zero-value of every nested field inherits its package
// default.
type Config struct {
	Vault     string                    `json:"vault" yaml:"vault"`
	DryRun    bool                      `json:"dryRun" yaml:"dryRun"`
	HTTP      HTTPConfig                `json:"http" yaml:"http"`
	Store     StoreConfig               `json:"store" yaml:"store"`
	Lock      LockConfig                `json:"lock" yaml:"lock"`
	Approval  ApprovalConfig            `json:"approval" yaml:"approval"`
	Watchers  WatchersConfig            `json:"watchers" yaml:"watchers"`
	Broadcast BroadcastConfig           `json:"broadcast" yaml:"broadcast"`
	Loop      LoopConfig                `json:"ralph" yaml:"ralph"`
	Policies  map[string]*policy.Config `json:"policies,omitempty" yaml:"policies,omitempty"`
	Tracing   TracingConfig             `json:"tracing" yaml:"tracing"`
}

type HTTPConfig struct {
	Addr            string        `json:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// StoreConfig selects the authoritative task record backend.
type StoreConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// LockConfig selects the per-task lock backend.
type LockConfig struct {
	Backend  string        `json:"backend" yaml:"backend"`
	Addr     string        `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password string        `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int           `json:"db,omitempty" yaml:"db,omitempty"`
	TTL      time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

type ApprovalConfig struct {
	Timeout            time.Duration `json:"timeout" yaml:"timeout"`
	RetryDelay         time.Duration `json:"retryDelay" yaml:"retryDelay"`
	RetryMaxDelay      time.Duration `json:"retryMaxDelay" yaml:"retryMaxDelay"`
	MaxRetries         int           `json:"maxRetries" yaml:"maxRetries"`
	EscalationInterval time.Duration `json:"escalationInterval" yaml:"escalationInterval"`
}

type WatchersConfig struct {
	Staleness       time.Duration  `json:"staleness" yaml:"staleness"`
	HealthInterval  time.Duration  `json:"healthInterval" yaml:"healthInterval"`
	MaxMissedChecks int            `json:"maxMissedChecks" yaml:"maxMissedChecks"`
	StopTimeout     time.Duration  `json:"stopTimeout" yaml:"stopTimeout"`
	AutoStart       bool           `json:"autoStart" yaml:"autoStart"`
	Spool           []*SpoolConfig `json:"spool,omitempty" yaml:"spool,omitempty"`
}

// SpoolConfig declares one spool backed watcher.
type SpoolConfig struct {
	Name      string        `json:"name" yaml:"name"`
	Category  string        `json:"category" yaml:"category"`
	Interval  time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	SecretURL string        `json:"secretURL,omitempty" yaml:"secretURL,omitempty"`
	SecretKey string        `json:"secretKey,omitempty" yaml:"secretKey,omitempty"`
}

type BroadcastConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeatInterval" yaml:"heartbeatInterval"`
	MaxMissed         int           `json:"maxMissed" yaml:"maxMissed"`
	QueueSize         int           `json:"queueSize" yaml:"queueSize"`
}

type LoopConfig struct {
	Interval  time.Duration `json:"interval" yaml:"interval"`
	AutoStart bool          `json:"autoStart" yaml:"autoStart"`
}

type TracingConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Output  string `json:"output,omitempty" yaml:"output,omitempty"`
}

// DefaultConfig returns a Config populated with the package defaults.
// Callers may modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		Vault: "vault",
		HTTP:  HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Store: StoreConfig{Backend: BackendFS},
		Lock:  LockConfig{Backend: BackendMemory, TTL: 30 * time.Second},
		Approval: ApprovalConfig{
			Timeout:            approval.DefaultTimeout,
			RetryDelay:         approval.DefaultRetryDelay,
			RetryMaxDelay:      approval.DefaultRetryMaxDelay,
			MaxRetries:         taskstore.DefaultMaxRetries,
			EscalationInterval: time.Minute,
		},
		Watchers: WatchersConfig{
			Staleness:       watcher.DefaultStaleness,
			HealthInterval:  watcher.DefaultHealthInterval,
			MaxMissedChecks: watcher.DefaultMaxMissed,
			StopTimeout:     watcher.DefaultStopTimeout,
		},
		Broadcast: BroadcastConfig{
			HeartbeatInterval: broadcast.DefaultHeartbeatInterval,
			MaxMissed:         broadcast.DefaultMaxMissedHeartbeats,
			QueueSize:         broadcast.DefaultQueueSize,
		},
		Loop: LoopConfig{Interval: loop.DefaultInterval},
	}
}

// Validate returns an error describing the first invalid setting or nil.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config was nil")
	}
	if strings.TrimSpace(c.Vault) == "" {
		return fmt.Errorf("vault must not be empty")
	}
	switch c.Store.Backend {
	case BackendFS, BackendMemory:
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported store.backend %q", c.Store.Backend)
	}
	switch c.Lock.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Lock.Addr == "" {
			return fmt.Errorf("lock.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported lock.backend %q", c.Lock.Backend)
	}
	if c.Approval.MaxRetries <= 0 {
		return fmt.Errorf("approval.maxRetries must be > 0")
	}
	if c.Approval.Timeout <= 0 {
		return fmt.Errorf("approval.timeout must be > 0")
	}
	if c.Approval.RetryMaxDelay < c.Approval.RetryDelay {
		return fmt.Errorf("approval.retryMaxDelay must be >= approval.retryDelay")
	}
	if c.Watchers.MaxMissedChecks <= 0 {
		return fmt.Errorf("watchers.maxMissedChecks must be > 0")
	}
	seen := map[string]bool{}
	for _, spool := range c.Watchers.Spool {
		if spool == nil || strings.TrimSpace(spool.Name) == "" {
			return fmt.Errorf("watchers.spool: name is required")
		}
		if seen[spool.Name] {
			return fmt.Errorf("watchers.spool: duplicate watcher %q", spool.Name)
		}
		seen[spool.Name] = true
		if !task.Category(spool.Category).IsValid() {
			return fmt.Errorf("watchers.spool %s: unknown category %q", spool.Name, spool.Category)
		}
		if spool.SecretKey != "" && spool.SecretURL == "" {
			return fmt.Errorf("watchers.spool %s: secretKey requires secretURL", spool.Name)
		}
	}
	for category, cfg := range c.Policies {
		if !task.Category(category).IsValid() {
			return fmt.Errorf("policies: unknown category %q", category)
		}
		if cfg == nil {
			continue
		}
		switch strings.ToLower(cfg.Mode) {
		case "", policy.ModeAsk, policy.ModeAuto, policy.ModeDeny:
		default:
			return fmt.Errorf("policies.%s: unknown mode %q", category, cfg.Mode)
		}
	}
	return nil
}

// LoadConfig reads a YAML config from URL on top of DefaultConfig, then
// applies environment overrides. An empty URL yields defaults plus
// environment.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	cfg := DefaultConfig()
	if URL != "" {
		data, err := afs.New().DownloadWithURL(ctx, URL)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %v: %w", URL, err)
		}
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %v: %w", URL, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.Vault = getEnv("OVERSEER_VAULT", c.Vault)
	c.HTTP.Addr = getEnv("OVERSEER_HTTP_ADDR", c.HTTP.Addr)
	dryRun, err := getEnvBool("OVERSEER_DRY_RUN", c.DryRun)
	if err != nil {
		return err
	}
	c.DryRun = dryRun
	if c.Approval.MaxRetries, err = getEnvInt("OVERSEER_MAX_RETRIES", c.Approval.MaxRetries); err != nil {
		return err
	}
	if addr := getEnv("OVERSEER_REDIS_ADDR", ""); addr != "" {
		c.Lock.Backend = BackendRedis
		c.Lock.Addr = addr
	}
	if dsn := getEnv("OVERSEER_POSTGRES_DSN", ""); dsn != "" {
		c.Store.Backend = BackendPostgres
		c.Store.DSN = dsn
	}
	for _, category := range task.Categories {
		key := "OVERSEER_AUTO_APPROVE_" + strings.ToUpper(string(category))
		enabled, err := getEnvBool(key, false)
		if err != nil {
			return err
		}
		if !enabled {
			continue
		}
		if c.Policies == nil {
			c.Policies = map[string]*policy.Config{}
		}
		cfg := c.Policies[string(category)]
		if cfg == nil {
			cfg = &policy.Config{}
			c.Policies[string(category)] = cfg
		}
		cfg.Mode = policy.ModeAuto
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	ret, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return ret, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	ret, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return ret, nil
}
