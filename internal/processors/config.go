package processors

import (
	"log/slog"
	"time"

	"github.com/loykin/clogs/internal/clock"
	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/processor"
)

// Processor names as they appear in logs, metrics and the [processors] config section.
const (
	NameLiveness      = "liveness"
	NameRetention     = "heartbeat_retention"
	NameUptime        = "uptime"
	NameLogCompressor = "log_compressor"
)

// Settings toggles one built-in processor and overrides its cadence.
type Settings struct {
	// Enabled defaults to true when unset.
	Enabled  *bool         `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

func (s Settings) enabled() bool { return s.Enabled == nil || *s.Enabled }

func (s Settings) interval(def time.Duration) time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return def
}

type RetentionSettings struct {
	Settings `mapstructure:",squash"`
	// MaxAge is how long heartbeats are kept. It is raised to the largest
	// liveness threshold in use so liveness never loses its evidence.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// Config is the [processors] section.
type Config struct {
	MinSleep      time.Duration     `mapstructure:"min_sleep"`
	Liveness      Settings          `mapstructure:"liveness"`
	Retention     RetentionSettings `mapstructure:"retention"`
	Uptime        Settings          `mapstructure:"uptime"`
	LogCompressor Settings          `mapstructure:"log_compressor"`
}

const (
	LivenessInterval      = 5 * time.Second
	RetentionInterval     = 60 * time.Second
	UptimeInterval        = 5 * time.Second
	LogCompressorInterval = 600 * time.Second

	DefaultRetention = 24 * time.Hour
)

// Catalog lists the built-in processors in registration order. Retention is
// registered after liveness so both chain on heartbeat hooks in that order.
func Catalog(cfg Config) []processor.Definition {
	maxAge := cfg.Retention.MaxAge
	return []processor.Definition{
		{
			Name:     NameLiveness,
			Input:    model.TypeHeartbeat,
			Output:   model.TypeNone,
			Interval: cfg.Liveness.interval(LivenessInterval),
			Disabled: !cfg.Liveness.enabled(),
			New:      NewLiveness,
		},
		{
			Name:     NameRetention,
			Input:    model.TypeHeartbeat,
			Output:   model.TypeNone,
			Interval: cfg.Retention.interval(RetentionInterval),
			Disabled: !cfg.Retention.enabled(),
			New: func(env processor.Env) (processor.Processor, error) {
				return NewRetention(env, maxAge)
			},
		},
		{
			Name:     NameUptime,
			Input:    model.TypeContainer,
			Output:   model.TypeUptimeSection,
			Interval: cfg.Uptime.interval(UptimeInterval),
			Disabled: !cfg.Uptime.enabled(),
			New:      NewUptime,
		},
		{
			Name:     NameLogCompressor,
			Input:    model.TypeLog,
			Output:   model.TypeLog,
			Interval: cfg.LogCompressor.interval(LogCompressorInterval),
			Disabled: !cfg.LogCompressor.enabled(),
			New:      NewLogCompressor,
		},
	}
}

func withDefaults(env processor.Env) processor.Env {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.Clock == nil {
		env.Clock = clock.Real()
	}
	return env
}
