// Package config loads client and node settings with viper.
//
// Settings come from, in increasing precedence: built-in defaults, a YAML/JSON/TOML
// file, GRID_* environment variables (GRID_CLIENT_REQUEST_TIMEOUT for
// client.request_timeout) and command-line flags bound by the binaries. A watched
// file is reloaded on change and subscribers receive the new Config.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"gridclient/client"
	"gridclient/loadbalance"
	"gridclient/registry"
)

const envPrefix = "GRID"

type Config struct {
	Cluster  string         `mapstructure:"cluster"`
	Client   ClientConfig   `mapstructure:"client"`
	Node     NodeConfig     `mapstructure:"node"`
	Registry RegistryConfig `mapstructure:"registry"`
	Log      LogConfig      `mapstructure:"log"`
}

type ClientConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxFrameSize   int           `mapstructure:"max_frame_size"`
	Retries        int           `mapstructure:"retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	// Balancer is round_robin, weighted_random or consistent_hash.
	Balancer    string `mapstructure:"balancer"`
	BalancerKey string `mapstructure:"balancer_key"`
}

type NodeConfig struct {
	Listen       string `mapstructure:"listen"`
	Advertise    string `mapstructure:"advertise"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	MaxFrameSize int    `mapstructure:"max_frame_size"`
	LeaseTTL     int64  `mapstructure:"lease_ttl"`
}

type RegistryConfig struct {
	// Kind is static (client.endpoints) or etcd.
	Kind        string        `mapstructure:"kind"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var defaults = map[string]any{
	"cluster":                "default",
	"client.endpoints":       []string{"127.0.0.1:10800"},
	"client.username":        "",
	"client.password":        "",
	"client.dial_timeout":    5 * time.Second,
	"client.request_timeout": 30 * time.Second,
	"client.max_frame_size":  64 << 20,
	"client.retries":         2,
	"client.retry_backoff":   100 * time.Millisecond,
	"client.rate_limit":      0.0,
	"client.rate_burst":      0,
	"client.balancer":        "round_robin",
	"client.balancer_key":    "",
	"node.listen":            ":10800",
	"node.advertise":         "",
	"node.username":          "",
	"node.password":          "",
	"node.max_frame_size":    64 << 20,
	"node.lease_ttl":         10,
	"registry.kind":          "static",
	"registry.endpoints":     []string{"127.0.0.1:2379"},
	"registry.dial_timeout":  5 * time.Second,
	"log.level":              "info",
	"log.development":        false,
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later and less clearly.
func (c *Config) Validate() error {
	var errs []error
	if c.Cluster == "" {
		errs = append(errs, errors.New("cluster must not be empty"))
	}
	switch c.Registry.Kind {
	case "static":
		if len(c.Client.Endpoints) == 0 {
			errs = append(errs, errors.New("client.endpoints must list at least one node for a static registry"))
		}
	case "etcd":
		if len(c.Registry.Endpoints) == 0 {
			errs = append(errs, errors.New("registry.endpoints must list etcd endpoints"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown registry.kind %q", c.Registry.Kind))
	}
	switch c.Client.Balancer {
	case "round_robin", "weighted_random", "consistent_hash":
	default:
		errs = append(errs, fmt.Errorf("unknown client.balancer %q", c.Client.Balancer))
	}
	if c.Client.Retries < 0 {
		errs = append(errs, errors.New("client.retries must not be negative"))
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ClientConfig converts the client section into client.Config.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		Cluster:        c.Cluster,
		Endpoints:      c.Client.Endpoints,
		Username:       c.Client.Username,
		Password:       c.Client.Password,
		DialTimeout:    c.Client.DialTimeout,
		RequestTimeout: c.Client.RequestTimeout,
		MaxFrameSize:   c.Client.MaxFrameSize,
		Retries:        c.Client.Retries,
		RetryBackoff:   c.Client.RetryBackoff,
		RateLimit:      c.Client.RateLimit,
		RateBurst:      c.Client.RateBurst,
	}
}

// Balancer builds the configured endpoint selection strategy.
func (c *Config) Balancer() loadbalance.Balancer {
	return loadbalance.ByName(c.Client.Balancer, c.Client.BalancerKey)
}

// Registry builds the configured registry. A static registry is seeded from
// client.endpoints.
func (c *Config) Registry(logger *zap.Logger) (registry.Registry, error) {
	if c.Registry.Kind == "etcd" {
		reg, err := registry.NewEtcdRegistry(c.Registry.Endpoints, c.Registry.DialTimeout, logger)
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
	return registry.NewStaticRegistryFromAddrs(c.Cluster, c.Client.Endpoints), nil
}

// Loader owns a viper instance and the Config decoded from it.
type Loader struct {
	v    *viper.Viper
	file string

	mu          sync.RWMutex
	cfg         *Config
	subscribers []func(*Config)
}

// Load reads path (when not empty), the environment and flags (when not nil).
// Flag names are configuration keys, e.g. --node.listen.
func Load(path string, flags *pflag.FlagSet) (*Loader, error) {
	v := newViper()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Loader{v: v, file: path, cfg: cfg}, nil
}

// Config returns the current configuration. Callers must not modify it.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Subscribe registers fn to receive every configuration accepted by a reload.
func (l *Loader) Subscribe(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// Watch reloads the file whenever it changes. An invalid file is logged and
// ignored; the previous configuration stays in effect. Watch is a no-op without a
// file.
func (l *Loader) Watch(logger *zap.Logger) {
	if l.file == "" {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		logger.Info("config file changed", zap.String("file", e.Name), zap.Stringer("op", e.Op))
		cfg, err := decode(l.v)
		if err != nil {
			logger.Warn("ignoring config change", zap.Error(err))
			return
		}
		l.mu.Lock()
		l.cfg = cfg
		subscribers := append(([]func(*Config))(nil), l.subscribers...)
		l.mu.Unlock()
		for _, fn := range subscribers {
			fn(cfg)
		}
	})
	l.v.WatchConfig()
}
