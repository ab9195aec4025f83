package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/xchainctl/internal/logger"
)

// EnvPrefix is the prefix of environment overrides, e.g. XCHAINCTL_HOME or XCHAINCTL_RPC_TIMEOUT.
const EnvPrefix = "XCHAINCTL"

// Defaults.
const (
	DefaultLockTimeout  = 5 * time.Second
	DefaultStartGrace   = 2 * time.Second
	DefaultStopTimeout  = 10 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
	DefaultProbeWorkers = 8
	DefaultRPCTimeout   = 10 * time.Second
	DefaultListen       = "127.0.0.1:8080"
	DefaultBasePath     = "/api"
)

// Config is the top-level TOML structure.
type Config struct {
	Home             string        `toml:"home" mapstructure:"home"`
	LockTimeout      time.Duration `toml:"lock_timeout" mapstructure:"lock_timeout"`
	StartGrace       time.Duration `toml:"start_grace" mapstructure:"start_grace"`
	StopTimeout      time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	KillAfterTimeout bool          `toml:"kill_after_timeout" mapstructure:"kill_after_timeout"`
	PollInterval     time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	ProbeWorkers     int           `toml:"probe_workers" mapstructure:"probe_workers"`

	// Environment handed to spawned nodes.
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	RPC     RPCConfig     `toml:"rpc" mapstructure:"rpc"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
}

type RPCConfig struct {
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
	TLS     RPCTLSConfig  `toml:"tls" mapstructure:"tls"`
}

// RPCTLSConfig switches admin calls to https/wss.
type RPCTLSConfig struct {
	Enabled    bool   `toml:"enabled" mapstructure:"enabled"`
	CACert     string `toml:"ca_cert" mapstructure:"ca_cert"`
	SkipVerify bool   `toml:"skip_verify" mapstructure:"skip_verify"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// HistoryConfig lists sink DSNs; see history/factory for the accepted forms.
type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

type MetricsConfig struct {
	// Textfile, when set, receives a node-exporter textfile after every CLI command.
	Textfile string `toml:"textfile" mapstructure:"textfile"`
}

type ServerConfig struct {
	Listen   string     `toml:"listen" mapstructure:"listen"`
	BasePath string     `toml:"base_path" mapstructure:"base_path"`
	TLS      *TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string      `toml:"min_version" mapstructure:"min_version"`
	MaxVersion   string      `toml:"max_version" mapstructure:"max_version"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// DefaultHome is ~/.config/sidechain-cli, or the working directory when no home is known.
func DefaultHome() string {
	h, err := os.UserHomeDir()
	if err != nil || h == "" {
		return ".sidechain-cli"
	}
	return filepath.Join(h, ".config", "sidechain-cli")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", DefaultHome())
	v.SetDefault("lock_timeout", DefaultLockTimeout)
	v.SetDefault("start_grace", DefaultStartGrace)
	v.SetDefault("stop_timeout", DefaultStopTimeout)
	v.SetDefault("kill_after_timeout", true)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("probe_workers", DefaultProbeWorkers)
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", true)
	v.SetDefault("rpc.timeout", DefaultRPCTimeout)
	v.SetDefault("rpc.tls.enabled", false)
	v.SetDefault("rpc.tls.ca_cert", "")
	v.SetDefault("rpc.tls.skip_verify", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.sinks", []string{})
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", DefaultBasePath)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Default returns the configuration used when no file is given and no overrides are set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return &c
}

// Load reads the optional TOML file at path, applies XCHAINCTL_* overrides and defaults,
// merges env_files into env and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(c.EnvFiles) > 0 {
		env, err := mergeEnvFiles(c.EnvFiles, c.Env)
		if err != nil {
			return nil, err
		}
		c.Env = env
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values the supervisor can not work with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Home) == "" {
		errs = append(errs, errors.New("home must not be empty"))
	}
	for name, d := range map[string]time.Duration{
		"lock_timeout":  c.LockTimeout,
		"start_grace":   c.StartGrace,
		"stop_timeout":  c.StopTimeout,
		"poll_interval": c.PollInterval,
		"rpc.timeout":   c.RPC.Timeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.PollInterval > c.StartGrace {
		errs = append(errs, fmt.Errorf("poll_interval %s exceeds start_grace %s", c.PollInterval, c.StartGrace))
	}
	if c.ProbeWorkers <= 0 {
		errs = append(errs, fmt.Errorf("probe_workers must be positive, got %d", c.ProbeWorkers))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	for i, kv := range c.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
			errs = append(errs, fmt.Errorf("env[%d] %q is invalid, must be in KEY=VALUE format", i, kv))
		}
	}
	return errors.Join(errs...)
}

// Logger converts the [log] section.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// mergeEnvFiles loads env files in order; the explicit env list overrides them.
func mergeEnvFiles(files, env []string) ([]string, error) {
	out := make([]string, 0)
	for _, p := range files {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		out = append(out, pairs...)
	}
	return append(out, env...), nil
}

// LoadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes).
// Lines starting with # are ignored. Order is preserved.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok && strings.TrimSpace(k) != "" {
			out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
		}
	}
	return out, nil
}
