// Package config loads gateway settings from a YAML file and secrets from
// the environment.
//
// The file is chosen by --config or HIVEGATE_CONFIG. Without one the
// defaults apply. Secrets are never read from the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hivegate.org/internal/hive"
	"hivegate.org/internal/ops"
)

// Environment variable names.
const (
	EnvConfig         = "HIVEGATE_CONFIG"
	EnvAuthSecret     = "HIVEGATE_AUTH_SECRET"
	EnvBroadcasterWIF = "HIVEGATE_BROADCASTER_POSTING_WIF"
	EnvPostgresDSN    = "HIVEGATE_PG_DSN"
)

// Ledger node modes.
const (
	LedgerRemote = "remote"
	LedgerMemory = "memory"
)

// MinSecretLength is the shortest accepted token signing secret.
const MinSecretLength = 32

var ErrInvalid = errors.New("config: invalid")

// Config is the gateway configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Ledger LedgerConfig `yaml:"ledger"`

	// DefaultScope applies to tokens that carry no scope.
	DefaultScope []string `yaml:"default_scope"`

	// Apps seeds the in-memory app registry. Ignored when Postgres is used.
	Apps []AppConfig `yaml:"apps"`

	Secrets Secrets `yaml:"-"`
}

// ServerConfig configures the listeners and request limits.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	RateLimit       RateLimit     `yaml:"rate_limit"`
}

// RateLimit is a per-client token bucket. Zero RPS disables limiting.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AuthConfig configures token lifetimes.
type AuthConfig struct {
	Issuer          string        `yaml:"issuer"`
	CodeTTL         time.Duration `yaml:"code_ttl"`
	AccessTTL       time.Duration `yaml:"access_ttl"`
	RefreshTTL      time.Duration `yaml:"refresh_ttl"`
	AssertionTTL    time.Duration `yaml:"assertion_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LedgerConfig selects the nodes and chain transactions are sent to.
type LedgerConfig struct {
	Mode       string        `yaml:"mode"`
	Nodes      []string      `yaml:"nodes"`
	Chain      string        `yaml:"chain"`
	Timeout    time.Duration `yaml:"timeout"`
	Expiration time.Duration `yaml:"expiration"`
}

// AppConfig is one seeded app. SecretHash is a bcrypt hash.
type AppConfig struct {
	Name       string   `yaml:"name"`
	Scope      []string `yaml:"scope"`
	SecretHash string   `yaml:"secret_hash"`
}

// Secrets come only from the environment.
type Secrets struct {
	AuthSecret     string
	BroadcasterWIF string
	PostgresDSN    string
}

// Redacted reports which secrets are set without revealing them.
func (s Secrets) Redacted() map[string]bool {
	return map[string]bool{
		"auth_secret":     s.AuthSecret != "",
		"broadcaster_wif": s.BroadcasterWIF != "",
		"postgres_dsn":    s.PostgresDSN != "",
	}
}

func (s Secrets) String() string   { return "config.Secrets(redacted)" }
func (s Secrets) GoString() string { return s.String() }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimit:       RateLimit{RPS: 20, Burst: 40},
		},
		Auth: AuthConfig{
			Issuer:          "hivegate",
			CodeTTL:         10 * time.Minute,
			AccessTTL:       7 * 24 * time.Hour,
			RefreshTTL:      30 * 24 * time.Hour,
			AssertionTTL:    time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
		Ledger: LedgerConfig{
			Mode:       LedgerRemote,
			Nodes:      []string{"https://api.hive.blog", "https://api.deathwing.me", "https://anyx.io"},
			Chain:      "mainnet",
			Timeout:    10 * time.Second,
			Expiration: time.Minute,
		},
		DefaultScope: []string{
			string(ops.Vote), string(ops.Comment), string(ops.DeleteComment),
			string(ops.CommentOptions), string(ops.CustomJSON), string(ops.ClaimRewardBalance),
			string(ops.AccountUpdate2),
		},
	}
}

// Load reads the file named by path, or by HIVEGATE_CONFIG when path is
// empty, then applies secrets from getenv and validates the result.
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if path == "" {
		path = getenv(EnvConfig)
	}
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges the YAML file at path over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse merges YAML data over the defaults. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// ApplyEnv fills Secrets from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	c.Secrets.AuthSecret = strings.TrimSpace(getenv(EnvAuthSecret))
	c.Secrets.BroadcasterWIF = strings.TrimSpace(getenv(EnvBroadcasterWIF))
	c.Secrets.PostgresDSN = strings.TrimSpace(getenv(EnvPostgresDSN))
}

// Validate reports the first problem found.
func (c *Config) Validate() error {
	if len(c.Secrets.AuthSecret) < MinSecretLength {
		return fmt.Errorf("%w: %s must be at least %d bytes", ErrInvalid, EnvAuthSecret, MinSecretLength)
	}
	if _, err := c.Scope(); err != nil {
		return fmt.Errorf("%w: default_scope: %v", ErrInvalid, err)
	}
	if _, err := c.Chain(); err != nil {
		return fmt.Errorf("%w: ledger.chain: %v", ErrInvalid, err)
	}
	switch c.Ledger.Mode {
	case LedgerRemote:
		if len(c.Ledger.Nodes) == 0 {
			return fmt.Errorf("%w: ledger.nodes is empty", ErrInvalid)
		}
		if c.Secrets.BroadcasterWIF == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalid, EnvBroadcasterWIF)
		}
	case LedgerMemory:
	default:
		return fmt.Errorf("%w: ledger.mode %q", ErrInvalid, c.Ledger.Mode)
	}
	if c.Secrets.BroadcasterWIF != "" {
		if _, err := hive.ParseWIF(c.Secrets.BroadcasterWIF); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, EnvBroadcasterWIF, err)
		}
	}
	seen := map[string]bool{}
	for _, app := range c.Apps {
		if app.Name == "" || seen[app.Name] {
			return fmt.Errorf("%w: apps: empty or duplicate name %q", ErrInvalid, app.Name)
		}
		seen[app.Name] = true
		if _, err := ops.ParseScope(app.Scope); err != nil {
			return fmt.Errorf("%w: apps.%s.scope: %v", ErrInvalid, app.Name, err)
		}
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: server.max_body_bytes must be positive", ErrInvalid)
	}
	return nil
}

// Scope parses DefaultScope.
func (c *Config) Scope() (ops.Scope, error) {
	return ops.ParseScope(c.DefaultScope)
}

// Chain resolves ledger.chain: "mainnet", "testnet" or a hex chain id.
func (c *Config) Chain() (hive.Chain, error) {
	switch strings.ToLower(strings.TrimSpace(c.Ledger.Chain)) {
	case "", "mainnet":
		return hive.Mainnet(), nil
	case "testnet":
		return hive.Testnet(), nil
	default:
		return hive.NewChain(c.Ledger.Chain)
	}
}
