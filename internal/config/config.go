package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	History     HistoryConfig     `yaml:"history" mapstructure:"history"`
	Calibration CalibrationConfig `yaml:"calibration" mapstructure:"calibration"`
	Predictors  PredictorsConfig  `yaml:"predictors" mapstructure:"predictors"`
	Resilience  ResilienceConfig  `yaml:"resilience" mapstructure:"resilience"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Workspace   string `yaml:"workspace" mapstructure:"workspace"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DSN returns the connection string for the configured driver.
func (s StoreConfig) DSN() string {
	if s.Driver == "postgres" {
		return s.DatabaseURL
	}
	return s.Path
}

// HistoryConfig configures retention and tiering of training samples.
type HistoryConfig struct {
	RetentionLimit    int  `yaml:"retention_limit" mapstructure:"retention_limit"`
	CompressAfterDays int  `yaml:"compress_after_days" mapstructure:"compress_after_days"`
	MinHotSamples     int  `yaml:"min_hot_samples" mapstructure:"min_hot_samples"`
	AutoPrune         bool `yaml:"auto_prune" mapstructure:"auto_prune"`
	RollingWindow     int  `yaml:"rolling_window" mapstructure:"rolling_window"`
}

// CalibrationConfig configures the periodic weight recalibration.
type CalibrationConfig struct {
	Enabled      bool `yaml:"enabled" mapstructure:"enabled"`
	Window       int  `yaml:"window" mapstructure:"window"`
	IntervalMins int  `yaml:"interval_mins" mapstructure:"interval_mins"`
}

// EndpointConfig locates a remote model server. An empty URL means the
// predictor is not deployed.
type EndpointConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	Model     string `yaml:"model" mapstructure:"model"`
	TimeoutMs int    `yaml:"timeout_ms" mapstructure:"timeout_ms"`
}

// PredictorsConfig configures the optional ensemble members.
type PredictorsConfig struct {
	Primary            EndpointConfig `yaml:"primary" mapstructure:"primary"`
	Sequence           EndpointConfig `yaml:"sequence" mapstructure:"sequence"`
	MultiHead          EndpointConfig `yaml:"multi_head" mapstructure:"multi_head"`
	Uncertainty        EndpointConfig `yaml:"uncertainty" mapstructure:"uncertainty"`
	UncertaintySamples int            `yaml:"uncertainty_samples" mapstructure:"uncertainty_samples"`
	MaxQPS             float64        `yaml:"max_qps" mapstructure:"max_qps"`
	Burst              int            `yaml:"burst" mapstructure:"burst"`
	CallTimeoutMs      int            `yaml:"call_timeout_ms" mapstructure:"call_timeout_ms"`
	BatchConcurrency   int            `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
}

// ResilienceConfig tunes circuit breakers and retries for remote predictors.
type ResilienceConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	RetryAttempts    int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs   int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	TelemetryPath         string  `yaml:"telemetry_path" mapstructure:"telemetry_path"`
	SuccessRateThreshold  float64 `yaml:"success_rate_threshold" mapstructure:"success_rate_threshold"`
	MinSamples            int     `yaml:"min_samples" mapstructure:"min_samples"`
	StaleCalibrationHours int     `yaml:"stale_calibration_hours" mapstructure:"stale_calibration_hours"`
	AlertRatePerMin       float64 `yaml:"alert_rate_per_min" mapstructure:"alert_rate_per_min"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("riskfusion")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.riskfusion")

	// Environment
	v.SetEnvPrefix("RISKFUSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "riskfusion.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.workspace", "default")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("history.retention_limit", 200)
	v.SetDefault("history.compress_after_days", 30)
	v.SetDefault("history.min_hot_samples", 50)
	v.SetDefault("history.auto_prune", true)
	v.SetDefault("history.rolling_window", 50)
	v.SetDefault("calibration.enabled", true)
	v.SetDefault("calibration.window", 50)
	v.SetDefault("calibration.interval_mins", 360)
	for _, name := range []string{"primary", "sequence", "multi_head", "uncertainty"} {
		v.SetDefault("predictors."+name+".url", "")
		v.SetDefault("predictors."+name+".model", name)
		v.SetDefault("predictors."+name+".timeout_ms", 2000)
	}
	v.SetDefault("predictors.uncertainty_samples", 20)
	v.SetDefault("predictors.max_qps", 20.0)
	v.SetDefault("predictors.burst", 5)
	v.SetDefault("predictors.call_timeout_ms", 5000)
	v.SetDefault("predictors.batch_concurrency", 4)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("resilience.retry_attempts", 2)
	v.SetDefault("resilience.retry_backoff_ms", 100)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.telemetry_path", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.success_rate_threshold", 0.6)
	v.SetDefault("monitoring.min_samples", 10)
	v.SetDefault("monitoring.stale_calibration_hours", 48)
	v.SetDefault("monitoring.alert_rate_per_min", 6.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are fuse,
// history, calibrate, signals and daemon.
func (c *Config) Validate(mode string) error {
	var errs []string

	validateStore := func() {
		switch c.Store.Driver {
		case "sqlite":
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgres driver")
			}
		default:
			errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres (got %q)", c.Store.Driver))
		}
		if c.Store.Workspace == "" {
			errs = append(errs, "store.workspace is required")
		}
	}

	validateHistory := func() {
		if c.History.RetentionLimit < 1 {
			errs = append(errs, "history.retention_limit must be >= 1")
		}
		if c.History.MinHotSamples < 0 {
			errs = append(errs, "history.min_hot_samples must be >= 0")
		}
		if c.History.CompressAfterDays < 1 {
			errs = append(errs, "history.compress_after_days must be >= 1")
		}
		if c.History.RollingWindow < 1 {
			errs = append(errs, "history.rolling_window must be >= 1")
		}
	}

	validatePredictors := func() {
		if c.Predictors.UncertaintySamples < 2 || c.Predictors.UncertaintySamples > 1000 {
			errs = append(errs, "predictors.uncertainty_samples must be between 2 and 1000")
		}
		if c.Predictors.MaxQPS < 0 {
			errs = append(errs, "predictors.max_qps must be >= 0")
		}
		if c.Predictors.BatchConcurrency < 1 || c.Predictors.BatchConcurrency > 64 {
			errs = append(errs, "predictors.batch_concurrency must be between 1 and 64")
		}
		if c.Resilience.FailureThreshold < 1 {
			errs = append(errs, "resilience.failure_threshold must be >= 1")
		}
		if c.Resilience.RetryAttempts < 0 {
			errs = append(errs, "resilience.retry_attempts must be >= 0")
		}
	}

	validateCalibration := func() {
		if c.Calibration.Window < 1 {
			errs = append(errs, "calibration.window must be >= 1")
		}
		if c.Calibration.IntervalMins < 1 {
			errs = append(errs, "calibration.interval_mins must be >= 1")
		}
	}

	validateMonitoring := func() {
		if c.Monitoring.SuccessRateThreshold < 0 || c.Monitoring.SuccessRateThreshold > 1 {
			errs = append(errs, "monitoring.success_rate_threshold must be between 0 and 1")
		}
		if c.Monitoring.CheckIntervalSecs < 1 {
			errs = append(errs, "monitoring.check_interval_secs must be >= 1")
		}
		if c.Monitoring.AlertRatePerMin <= 0 {
			errs = append(errs, "monitoring.alert_rate_per_min must be > 0")
		}
	}

	switch mode {
	case "fuse":
		validateStore()
		validatePredictors()
	case "history":
		validateStore()
		validateHistory()
	case "calibrate":
		validateStore()
		validateCalibration()
	case "signals":
	case "daemon":
		validateStore()
		validateHistory()
		validateCalibration()
		validateMonitoring()
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
