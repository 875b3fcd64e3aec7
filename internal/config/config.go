package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tanq16/splitdl/internal/utils"
)

const EnvPrefix = "SPLITDL"

// DefaultConfigPath is read when present and no --config flag is given.
const DefaultConfigPath = "~/.config/splitdl/config.yaml"

// Config is the effective configuration of one invocation.
type Config struct {
	Parts            int         `mapstructure:"parts" yaml:"parts"`
	DownloadDir      string      `mapstructure:"download_dir" yaml:"download_dir"`
	StateFile        string      `mapstructure:"state_file" yaml:"state_file"`
	ChunkSize        int         `mapstructure:"chunk_size" yaml:"chunk_size"`
	Timeout          string      `mapstructure:"timeout" yaml:"timeout"`
	KeepAliveTimeout string      `mapstructure:"keep_alive_timeout" yaml:"keep_alive_timeout"`
	UserAgent        string      `mapstructure:"user_agent" yaml:"user_agent"`
	Proxy            ProxyConfig `mapstructure:"proxy" yaml:"proxy"`
	Headers          []string    `mapstructure:"headers" yaml:"headers"`
	Retry            RetryConfig `mapstructure:"retry" yaml:"retry"`
	StrictMerge      bool        `mapstructure:"strict_merge" yaml:"strict_merge"`
	Debug            bool        `mapstructure:"debug" yaml:"debug"`
	LogFile          string      `mapstructure:"log_file" yaml:"log_file"`
}

type ProxyConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
}

// RetryConfig bounds restarts of a whole run after a transfer failure.
type RetryConfig struct {
	Attempts   int    `mapstructure:"attempts" yaml:"attempts"`
	Backoff    string `mapstructure:"backoff" yaml:"backoff"`
	MaxBackoff string `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// SetDefaults registers every key on v so environment overrides resolve
// during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("parts", utils.DefaultParts)
	v.SetDefault("download_dir", "~/Downloads")
	v.SetDefault("state_file", utils.DefaultStateFile)
	v.SetDefault("chunk_size", utils.DefaultChunkSize)
	v.SetDefault("timeout", "3m")
	v.SetDefault("keep_alive_timeout", "90s")
	v.SetDefault("user_agent", utils.ToolUserAgent)
	v.SetDefault("proxy.url", "")
	v.SetDefault("proxy.username", "")
	v.SetDefault("proxy.password", "")
	v.SetDefault("headers", []string{})
	v.SetDefault("retry.attempts", 5)
	v.SetDefault("retry.backoff", "1s")
	v.SetDefault("retry.max_backoff", "30s")
	v.SetDefault("strict_merge", false)
	v.SetDefault("debug", false)
	v.SetDefault("log_file", "")
}

// Load resolves configuration from v. Flags must already be bound to v.
// An explicit configPath must exist; the default path is optional.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	switch {
	case configPath != "":
		v.SetConfigFile(utils.ExpandHome(configPath))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	default:
		path := utils.ExpandHome(DefaultConfigPath)
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.DownloadDir = utils.ExpandHome(cfg.DownloadDir)
	cfg.StateFile = utils.ExpandHome(cfg.StateFile)
	cfg.LogFile = utils.ExpandHome(cfg.LogFile)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate rejects non-positive sizes, counts and durations.
func (c *Config) Validate() error {
	var errs []error
	if c.Parts < 1 {
		errs = append(errs, fmt.Errorf("parts must be positive, got %d", c.Parts))
	}
	if c.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize))
	}
	if c.DownloadDir == "" {
		errs = append(errs, errors.New("download_dir is required"))
	}
	if c.StateFile == "" {
		errs = append(errs, errors.New("state_file is required"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be positive, got %d", c.Retry.Attempts))
	}
	for key, value := range map[string]string{
		"timeout":            c.Timeout,
		"keep_alive_timeout": c.KeepAliveTimeout,
		"retry.backoff":      c.Retry.Backoff,
		"retry.max_backoff":  c.Retry.MaxBackoff,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, value))
		}
	}
	for _, header := range c.Headers {
		if !strings.Contains(header, ":") {
			errs = append(errs, fmt.Errorf("header %q is not in \"Key: Value\" form", header))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

func (c *Config) GetKeepAliveTimeout() time.Duration {
	d, _ := time.ParseDuration(c.KeepAliveTimeout)
	return d
}

func (r *RetryConfig) GetBackoff() time.Duration {
	d, _ := time.ParseDuration(r.Backoff)
	return d
}

func (r *RetryConfig) GetMaxBackoff() time.Duration {
	d, _ := time.ParseDuration(r.MaxBackoff)
	return d
}

// HTTPClientConfig maps the transport settings onto the client config.
// Credentials embedded in the proxy URL are used unless a username is set.
func (c *Config) HTTPClientConfig() utils.HTTPClientConfig {
	proxyURL, proxyUsername, proxyPassword := c.Proxy.URL, c.Proxy.Username, c.Proxy.Password
	parsedProxy, err := url.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	return utils.HTTPClientConfig{
		Timeout:        c.GetTimeout(),
		KATimeout:      c.GetKeepAliveTimeout(),
		ProxyURL:       proxyURL,
		ProxyUsername:  proxyUsername,
		ProxyPassword:  proxyPassword,
		UserAgent:      c.UserAgent,
		Headers:        utils.ParseHeaderArgs(c.Headers),
		HighThreadMode: c.Parts > 5,
	}
}
