// Package config loads devdash settings from a TOML file and DEVDASH_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/devdash/internal/env"
	"github.com/loykin/devdash/internal/logger"
	"github.com/loykin/devdash/internal/metrics"
)

type Config struct {
	SeedMockData bool          `mapstructure:"seed_mock_data"`
	Env          []string      `mapstructure:"env"`
	EnvFiles     []string      `mapstructure:"env_files"`
	Server       ServerConfig  `mapstructure:"server"`
	Log          logger.Config `mapstructure:"log"`
	Scripts      ScriptsConfig `mapstructure:"scripts"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
	History      HistoryConfig `mapstructure:"history"`
}

type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	BasePath        string        `mapstructure:"base_path"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls"`
}

// TLSConfig serves the API over https. CertFile and KeyFile take priority;
// otherwise tls.crt and tls.key are read from Dir, generated there first
// when AutoGenerate is set and they are missing.
type TLSConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	MinVersion   string   `mapstructure:"min_version"`
	DNSNames     []string `mapstructure:"dns_names"`
	ValidDays    int      `mapstructure:"valid_days"`
}

type ScriptsConfig struct {
	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	StopTimeout      time.Duration       `mapstructure:"stop_timeout"`
	SubscriberBuffer int                 `mapstructure:"subscriber_buffer"`
	OutputLog        logger.OutputConfig `mapstructure:"output_log"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Listen serves /metrics on a separate address when set; otherwise it is
	// mounted on the API router.
	Listen  string                       `mapstructure:"listen"`
	Process metrics.ProcessMetricsConfig `mapstructure:"process"`
}

type HistoryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Sinks       []string      `mapstructure:"sinks"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("seed_mock_data", true)
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("server.listen", ":3001")
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.2")
	v.SetDefault("server.tls.dns_names", []string{"localhost"})
	v.SetDefault("server.tls.valid_days", 365)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.stderr", true)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("scripts.stop_timeout", "5s")
	v.SetDefault("scripts.subscriber_buffer", 256)
	v.SetDefault("scripts.output_log.dir", "")
	v.SetDefault("scripts.output_log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("scripts.output_log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("scripts.output_log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("scripts.output_log.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.process.enabled", false)
	v.SetDefault("metrics.process.interval", "5s")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.sinks", []string{})
	v.SetDefault("history.send_timeout", "5s")
}

// Default returns the configuration used when no file is given.
func Default() Config {
	c, err := Load("")
	if err != nil {
		// defaults alone always validate
		panic(err)
	}
	return c
}

// Load reads path (TOML) on top of the defaults. An empty path loads only
// defaults and environment overrides. Environment variables use the
// DEVDASH_ prefix with '.' replaced by '_', e.g. DEVDASH_SERVER_LISTEN.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DEVDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if c.Scripts.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scripts.stop_timeout must be positive, got %s", c.Scripts.StopTimeout))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json", "color":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if t := c.Server.TLS; t.Enabled && t.Dir == "" && (t.CertFile == "" || t.KeyFile == "") {
		errs = append(errs, errors.New("server.tls.enabled requires cert_file and key_file, or dir"))
	}
	if c.History.Enabled && len(c.History.Sinks) == 0 {
		errs = append(errs, errors.New("history.enabled requires at least one entry in history.sinks"))
	}
	return errors.Join(errs...)
}

// GlobalEnv builds the base environment for script runs: OS env, then the
// contents of env_files in order, then the env list.
func (c Config) GlobalEnv() (*env.Env, error) {
	e := env.New()
	for _, p := range c.EnvFiles {
		pairs, err := env.LoadDotEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("load env file %s: %w", p, err)
		}
		for _, kv := range pairs {
			if k, val, ok := env.Split(kv); ok {
				e.Set(k, val)
			}
		}
	}
	for _, kv := range c.Env {
		if k, val, ok := env.Split(kv); ok {
			e.Set(k, val)
		}
	}
	return e, nil
}
