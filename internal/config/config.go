package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jzx17/offload/pkg/scheduler"
	"github.com/jzx17/offload/pkg/worker"
)

// EnvPrefix is prepended to every environment override, e.g.
// OFFLOAD_SCHEDULER_POOL_SIZE or OFFLOAD_SERVER_LOG_LEVEL.
const EnvPrefix = "OFFLOAD"

// Config holds the daemon configuration
type Config struct {
	Scheduler SchedulerSettings `mapstructure:"scheduler"`
	Server    ServerConfig      `mapstructure:"server"`
}

// SchedulerSettings mirrors the tunables of scheduler.Config
type SchedulerSettings struct {
	PoolSize                 int           `mapstructure:"pool_size"                   validate:"gte=0"`
	MaxPoolSize              int           `mapstructure:"max_pool_size"               validate:"gte=1"`
	DefaultTimeout           time.Duration `mapstructure:"default_timeout"             validate:"gt=0"`
	CleanupInterval          time.Duration `mapstructure:"cleanup_interval"            validate:"gt=0"`
	ResultHighWater          int           `mapstructure:"result_high_water"           validate:"gte=1"`
	ResultLowWater           int           `mapstructure:"result_low_water"            validate:"gte=0,ltefield=ResultHighWater"`
	QueueWarnThreshold       int           `mapstructure:"queue_warn_threshold"        validate:"gte=1"`
	SuccessRateWarnThreshold float64       `mapstructure:"success_rate_warn_threshold" validate:"gt=0,lte=1"`
}

// ServerConfig defines the admin HTTP server settings
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"      validate:"required"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// setDefaults registers every key so that environment overrides are seen by
// Unmarshal even when no file mentions them
func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.pool_size", 0)
	v.SetDefault("scheduler.max_pool_size", worker.MaxPoolSize)
	v.SetDefault("scheduler.default_timeout", scheduler.DefaultTimeout)
	v.SetDefault("scheduler.cleanup_interval", scheduler.DefaultCleanupInterval)
	v.SetDefault("scheduler.result_high_water", scheduler.DefaultResultHighWater)
	v.SetDefault("scheduler.result_low_water", scheduler.DefaultResultLowWater)
	v.SetDefault("scheduler.queue_warn_threshold", scheduler.DefaultQueueWarnThreshold)
	v.SetDefault("scheduler.success_rate_warn_threshold", scheduler.DefaultSuccessRateWarnThreshold)

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
}

// Load reads configuration from defaults, an optional YAML file at path and
// OFFLOAD_ environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags of cfg
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SchedulerConfig builds the scheduler configuration for reg
func (c *Config) SchedulerConfig(reg *worker.Registry, logger *slog.Logger) *scheduler.Config {
	s := c.Scheduler
	return &scheduler.Config{
		PoolSize:                 s.PoolSize,
		MaxPoolSize:              s.MaxPoolSize,
		DefaultTimeout:           s.DefaultTimeout,
		CleanupInterval:          s.CleanupInterval,
		ResultHighWater:          s.ResultHighWater,
		ResultLowWater:           s.ResultLowWater,
		QueueWarnThreshold:       s.QueueWarnThreshold,
		SuccessRateWarnThreshold: s.SuccessRateWarnThreshold,
		HealthMinProcessed:       scheduler.DefaultHealthMinProcessed,
		Registry:                 reg,
		Logger:                   logger,
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a JSON logger writing to w at the named level
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}
