package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/quotafill/internal/storage"
)

type Config struct {
	DataDir       string              `mapstructure:"data_dir"`
	Profile       string              `mapstructure:"profile"`
	Fill          FillConfig          `mapstructure:"fill"`
	Store         StoreConfig         `mapstructure:"store"`
	Dashboard     DashboardConfig     `mapstructure:"dashboard"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type FillConfig struct {
	Generator      string        `mapstructure:"generator"`
	Throttle       time.Duration `mapstructure:"throttle"`
	ReportEstimate bool          `mapstructure:"report_estimate"`
}

type StoreConfig struct {
	Name        string            `mapstructure:"name"`
	ObjectStore string            `mapstructure:"object_store"`
	Backend     string            `mapstructure:"backend"`
	Config      map[string]string `mapstructure:"config"`

	// Quota is a byte size such as "512MiB". "0" leaves the store uncapped.
	Quota string `mapstructure:"quota"`
}

// QuotaBytes parses Quota.
func (c StoreConfig) QuotaBytes() (int64, error) {
	if strings.TrimSpace(c.Quota) == "" {
		return 0, nil
	}
	n, err := storage.ParseBytes(c.Quota)
	if err != nil {
		return 0, fmt.Errorf("store.quota %q: %w", c.Quota, err)
	}
	return n, nil
}

type DashboardConfig struct {
	Addr  string `mapstructure:"addr"`
	Title string `mapstructure:"title"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	LogFile        string `mapstructure:"log_file"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("profile", Defaults.Profile)

	v.SetDefault("store.name", Defaults.StoreName)
	v.SetDefault("store.object_store", Defaults.ObjectStore)
	v.SetDefault("store.backend", Defaults.Backend)
	v.SetDefault("store.quota", Defaults.Quota)

	v.SetDefault("dashboard.addr", Defaults.DashboardAddr)
	v.SetDefault("dashboard.title", Defaults.DashboardTitle)

	v.SetDefault("observability.log_level", Defaults.LogLevel)
	v.SetDefault("observability.log_format", Defaults.LogFormat)
	v.SetDefault("observability.log_file", "")
	v.SetDefault("observability.metrics_addr", "")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", Defaults.OTLPProtocol)
	v.SetDefault("observability.service_name", Defaults.ServiceName)
	v.SetDefault("observability.service_version", "dev")
}

// applyProfile presets the fill.* keys from the selected profile.
// Defaults sit below file, env, and flag values, so those still win.
func applyProfile(v *viper.Viper) error {
	name := v.GetString("profile")
	p, ok := LookupProfile(name)
	if !ok {
		return fmt.Errorf("unknown profile %q (want %s or %s)", name, ProfileBasic, ProfileQuota)
	}
	v.SetDefault("fill.generator", p.Generator)
	v.SetDefault("fill.throttle", p.Throttle)
	v.SetDefault("fill.report_estimate", p.ReportEstimate)
	return nil
}

// BindFlags registers the global flags on cmd and binds them to viper.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()
	f.String("data-dir", "", "data directory (default ~/.quotafill)")
	f.String("profile", "", "fill profile (basic, quota)")
	f.String("backend", "", "record store backend (badger, memory, sqlite, leveldb, fs, redis, s3)")
	f.String("quota", "", "store quota, e.g. 512MiB (0 = uncapped)")
	f.String("generator", "", "record generator (fixed, random)")
	f.Duration("throttle", 0, "pause after each write")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")
	f.String("log-file", "", "write logs to a rotating file")
	f.String("metrics-addr", "", "standalone metrics HTTP listen address")

	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("profile", f.Lookup("profile"))
	_ = v.BindPFlag("store.backend", f.Lookup("backend"))
	_ = v.BindPFlag("store.quota", f.Lookup("quota"))
	_ = v.BindPFlag("fill.generator", f.Lookup("generator"))
	_ = v.BindPFlag("fill.throttle", f.Lookup("throttle"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
	_ = v.BindPFlag("observability.log_file", f.Lookup("log-file"))
	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
}

// Load reads config from flags, env, and file, returning the merged Config.
// Without an explicit file it looks for quotafill.{yaml,yml,toml,json} in
// the working directory, ~/.quotafill, and /etc/quotafill.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("QUOTAFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("quotafill")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.quotafill")
		v.AddConfigPath("/etc/quotafill")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return Config{}, err
		}
	}

	if err := applyProfile(v); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Store.QuotaBytes(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
