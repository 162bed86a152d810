package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/clogs/internal/auth"
	"github.com/loykin/clogs/internal/env"
	"github.com/loykin/clogs/internal/logger"
	"github.com/loykin/clogs/internal/processors"
	"github.com/loykin/clogs/internal/store"
)

// EnvPrefix is prepended to every environment override, e.g. CLOGS_STORE_DSN.
const EnvPrefix = "CLOGS"

// Config represents the top-level TOML structure.
type Config struct {
	// EnvFiles are .env files whose CLOGS_* entries act as overrides below the
	// real process environment.
	EnvFiles   []string          `toml:"env_files" mapstructure:"env_files"`
	Server     ServerConfig      `toml:"server" mapstructure:"server"`
	Store      store.Config      `toml:"store" mapstructure:"store"`
	Log        logger.Config     `toml:"log" mapstructure:"log"`
	Metrics    MetricsConfig     `toml:"metrics" mapstructure:"metrics"`
	History    HistoryConfig     `toml:"history" mapstructure:"history"`
	Processors processors.Config `toml:"processors" mapstructure:"processors"`
}

type ServerConfig struct {
	Listen          string        `toml:"listen" mapstructure:"listen"`
	BasePath        string        `toml:"base_path" mapstructure:"base_path"`
	ReadTimeout     time.Duration `toml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	TLS             *TLSConfig    `toml:"tls" mapstructure:"tls"`
	TLSMinVersion   string        `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion   string        `toml:"tls_max_version" mapstructure:"tls_max_version"`
	Auth            auth.Config   `toml:"auth" mapstructure:"auth"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

// AutoGenTLS tunes self-signed certificate generation.
type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
}

// HistoryConfig lists the sinks derived-state events are exported to, as DSNs
// (sqlite://, postgres://, clickhouse://, opensearch://).
type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env_files", []string{})

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.tls_min_version", "")
	v.SetDefault("server.tls_max_version", "")
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.agent_tokens", []string{})
	v.SetDefault("server.auth.reader_tokens", []string{})

	v.SetDefault("store.dsn", "sqlite://clogs.db")
	v.SetDefault("store.max_open_conns", 0)
	v.SetDefault("store.max_idle_conns", 0)
	v.SetDefault("store.conn_max_lifetime", time.Duration(0))

	def := logger.DefaultConfig()
	v.SetDefault("log.level", string(def.Slog.Level))
	v.SetDefault("log.format", string(def.Slog.Format))
	v.SetDefault("log.color", def.Slog.Color)
	v.SetDefault("log.time_stamps", def.Slog.TimeStamps)
	v.SetDefault("log.source", def.Slog.Source)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.path", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("history.sinks", []string{})

	v.SetDefault("processors.min_sleep", 100*time.Millisecond)
	for name, iv := range map[string]time.Duration{
		"liveness":       processors.LivenessInterval,
		"retention":      processors.RetentionInterval,
		"uptime":         processors.UptimeInterval,
		"log_compressor": processors.LogCompressorInterval,
	} {
		v.SetDefault("processors."+name+".enabled", true)
		v.SetDefault("processors."+name+".interval", iv)
	}
	v.SetDefault("processors.retention.max_age", processors.DefaultRetention)
}

// Default returns the built-in defaults, ignoring files and the environment.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads the TOML file at path (optional) and applies CLOGS_* overrides
// from env files and the environment. Precedence, lowest first: defaults,
// file, env files, process environment.
//
// ${VAR} references in DSNs, TLS file paths and auth tokens are then expanded
// from the same sources, so secrets can stay out of the TOML file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	vars := env.New()
	for _, f := range v.GetStringSlice("env_files") {
		if !filepath.IsAbs(f) && path != "" {
			f = filepath.Join(filepath.Dir(path), f)
		}
		pairs, err := env.ParseFile(f)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
		applyEnvOverrides(v, pairs)
		for k, val := range pairs {
			vars.Set(k, val)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.expand(vars)
	return &cfg, nil
}

func (c *Config) expand(e *env.Env) {
	c.Store.DSN = e.Expand(c.Store.DSN)
	expandAll(e, c.History.Sinks)
	if t := c.Server.TLS; t != nil {
		t.CertFile = e.Expand(t.CertFile)
		t.KeyFile = e.Expand(t.KeyFile)
		t.Dir = e.Expand(t.Dir)
	}
	expandAll(e, c.Server.Auth.AgentTokens)
	expandAll(e, c.Server.Auth.ReaderTokens)
}

func expandAll(e *env.Env, list []string) {
	for i, s := range list {
		list[i] = e.Expand(s)
	}
}

// applyEnvOverrides sets known keys from CLOGS_* pairs that the real
// environment does not already define.
func applyEnvOverrides(v *viper.Viper, pairs env.Var) {
	keys := make(map[string]string)
	for _, k := range v.AllKeys() {
		keys[EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(k, ".", "_"))] = k
	}
	for name, val := range pairs {
		key, ok := keys[strings.ToUpper(name)]
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if strings.Contains(val, ",") {
			v.Set(key, strings.Split(val, ","))
			continue
		}
		v.Set(key, val)
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	if t := c.Server.TLS; t != nil && t.Enabled && (t.CertFile == "" || t.KeyFile == "") && t.Dir == "" {
		errs = append(errs, errors.New("server.tls enabled but neither cert_file/key_file nor dir is set"))
	}
	if a := c.Server.Auth; a.Enabled && len(a.AgentTokens)+len(a.ReaderTokens) == 0 {
		errs = append(errs, errors.New("server.auth enabled but no agent_tokens or reader_tokens are set"))
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	switch c.Log.Slog.Format {
	case "", logger.FormatText, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Slog.Format))
	}
	if c.Processors.MinSleep < 0 {
		errs = append(errs, errors.New("processors.min_sleep must not be negative"))
	}
	if c.Processors.Retention.MaxAge < 0 {
		errs = append(errs, errors.New("processors.retention.max_age must not be negative"))
	}
	for name, iv := range map[string]time.Duration{
		processors.NameLiveness:      c.Processors.Liveness.Interval,
		processors.NameRetention:     c.Processors.Retention.Interval,
		processors.NameUptime:        c.Processors.Uptime.Interval,
		processors.NameLogCompressor: c.Processors.LogCompressor.Interval,
	} {
		if iv < 0 {
			errs = append(errs, fmt.Errorf("processors.%s.interval must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// LoadEnvFile parses a .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := env.ParseFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}
