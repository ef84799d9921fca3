package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override variable
const EnvPrefix = "REPOSYNCD_"

// Strategy defines how upstream changes are integrated on pull
type Strategy string

const (
	StrategyRebase Strategy = "rebase"
	StrategyMerge  Strategy = "merge"
)

// CloneProtocol selects which clone URL of a remote repository is used
type CloneProtocol string

const (
	CloneGit   CloneProtocol = "git"
	CloneHTTPS CloneProtocol = "https"
	CloneSSH   CloneProtocol = "ssh"
)

// Config represents the complete reposyncd configuration
type Config struct {
	Local  LocalConfig  `yaml:"local"`
	Remote RemoteConfig `yaml:"remote"`
	Sync   SyncConfig   `yaml:"sync"`
	Serve  ServeConfig  `yaml:"serve"`
}

// LocalConfig configures the local side of the mirror
type LocalConfig struct {
	Root string `yaml:"root"`
}

// RemoteConfig configures the hosting account
type RemoteConfig struct {
	Account       string        `yaml:"account"`
	APIURL        string        `yaml:"api_url"`
	CloneProtocol CloneProtocol `yaml:"clone_protocol"`
}

// SyncConfig configures clone and pull behavior
type SyncConfig struct {
	Strategy Strategy      `yaml:"strategy"`
	Workers  int           `yaml:"workers"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
}

// envOverrides holds the settings that may be overridden from the
// environment. Unset variables leave the pointers nil.
type envOverrides struct {
	LocalRoot     *string        `env:"LOCAL_ROOT,noinit"`
	RemoteAccount *string        `env:"REMOTE_ACCOUNT,noinit"`
	RemoteAPIURL  *string        `env:"REMOTE_API_URL,noinit"`
	SyncStrategy  *string        `env:"SYNC_STRATEGY,noinit"`
	SyncWorkers   *int           `env:"SYNC_WORKERS,noinit"`
	SyncTimeout   *time.Duration `env:"SYNC_TIMEOUT,noinit"`
	ServeListen   *string        `env:"SERVE_LISTEN_ADDR,noinit"`
}

// Load reads and parses the configuration file, applying environment
// overrides from REPOSYNCD_* variables.
func Load(path string) (*Config, error) {
	return load(path, envconfig.OsLookuper())
}

func load(path string, lookuper envconfig.Lookuper) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()

	if err := cfg.applyEnvOverrides(lookuper); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Local.Root = os.ExpandEnv(c.Local.Root)
	c.Remote.Account = os.ExpandEnv(c.Remote.Account)
	c.Remote.APIURL = os.ExpandEnv(c.Remote.APIURL)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

func (c *Config) applyEnvOverrides(lookuper envconfig.Lookuper) error {
	var o envOverrides
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &o,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
	}); err != nil {
		return err
	}

	if o.LocalRoot != nil {
		c.Local.Root = *o.LocalRoot
	}
	if o.RemoteAccount != nil {
		c.Remote.Account = *o.RemoteAccount
	}
	if o.RemoteAPIURL != nil {
		c.Remote.APIURL = *o.RemoteAPIURL
	}
	if o.SyncStrategy != nil {
		c.Sync.Strategy = Strategy(*o.SyncStrategy)
	}
	if o.SyncWorkers != nil {
		c.Sync.Workers = *o.SyncWorkers
	}
	if o.SyncTimeout != nil {
		c.Sync.Timeout = *o.SyncTimeout
	}
	if o.ServeListen != nil {
		c.Serve.ListenAddr = *o.ServeListen
	}
	return nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Sync.Strategy == "" {
		c.Sync.Strategy = StrategyRebase
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 1
	}
	if c.Remote.CloneProtocol == "" {
		c.Remote.CloneProtocol = CloneGit
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Local.Root == "" {
		return fmt.Errorf("local.root is required")
	}
	if !filepath.IsAbs(c.Local.Root) {
		return fmt.Errorf("local.root must be an absolute path: %s", c.Local.Root)
	}

	if c.Remote.Account == "" {
		return fmt.Errorf("remote.account is required")
	}

	switch c.Remote.CloneProtocol {
	case CloneGit, CloneHTTPS, CloneSSH:
		// valid
	default:
		return fmt.Errorf("invalid remote.clone_protocol: %s (must be git, https, or ssh)", c.Remote.CloneProtocol)
	}

	switch c.Sync.Strategy {
	case StrategyRebase, StrategyMerge:
		// valid
	default:
		return fmt.Errorf("invalid sync.strategy: %s (must be rebase or merge)", c.Sync.Strategy)
	}

	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	}
	if c.Sync.Timeout < 0 {
		return fmt.Errorf("sync.timeout must not be negative, got %s", c.Sync.Timeout)
	}

	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// RepoDir returns the working copy path of the named repository
func (c *Config) RepoDir(name string) string {
	return filepath.Join(c.Local.Root, name)
}
