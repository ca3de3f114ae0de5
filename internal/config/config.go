package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/cloudpilot-labs/cloudpilot/internal/pkg/errors"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Settings Settings       `mapstructure:"settings"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ScanRatePerHour int           `mapstructure:"scan_rate_per_hour" validate:"min=1"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// DatabaseConfig contains the incident history store configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Settings is the flat value object consumed by the detection engine and
// evidence collector. It is loaded once at startup and read-only afterwards;
// nothing in the core mutates it.
type Settings struct {
	Region     string `mapstructure:"region" validate:"required"`
	AWSProfile string `mapstructure:"aws_profile"`

	// Detection thresholds.
	CPUThreshold              float64 `mapstructure:"cpu_threshold" validate:"gt=0,lte=100"`
	CPUDurationMinutes        int     `mapstructure:"cpu_duration_minutes" validate:"gte=5"`
	LambdaErrorThreshold      int     `mapstructure:"lambda_error_threshold" validate:"gte=1"`
	LambdaTimeoutThresholdMs  int     `mapstructure:"lambda_timeout_threshold_ms" validate:"gte=1"`
	BedrockTokenThreshold     int     `mapstructure:"bedrock_token_threshold" validate:"gte=1"`
	BedrockTokenWindowMinutes int     `mapstructure:"bedrock_token_window_minutes" validate:"gte=5"`

	// Monitoring.
	LookbackMinutes     int `mapstructure:"lookback_minutes" validate:"gte=5"`
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" validate:"gte=10"`

	// Alerting.
	EnableAlerting   bool   `mapstructure:"enable_alerting"`
	SNSTopicARN      string `mapstructure:"sns_topic_arn"`
	AlertMinSeverity string `mapstructure:"alert_min_severity" validate:"oneof=LOW MEDIUM HIGH CRITICAL"`

	// Evidence.
	EvidenceOutputDir  string `mapstructure:"evidence_output_dir" validate:"required"`
	MaxEvidenceAgeDays int    `mapstructure:"max_evidence_age_days" validate:"gte=1"`
}

// Lookback returns the trailing query window as a duration.
func (s Settings) Lookback() time.Duration {
	return time.Duration(s.LookbackMinutes) * time.Minute
}

// PollInterval returns the monitor loop interval as a duration.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// Load reads configuration from an optional YAML file plus COPILOT_-prefixed
// environment variables (a local .env is honored). Invalid configuration
// fails loudly: a silently defaulted threshold would change what gets
// detected.
func Load(cfgFile string) (*Config, error) {
	// Best effort; absence of a .env file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Config(fmt.Sprintf("failed to read config file %s", cfgFile), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Config("failed to parse configuration", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, apperrors.Config("invalid configuration", err)
	}

	if cfg.Settings.EnableAlerting && cfg.Settings.SNSTopicARN == "" {
		return nil, apperrors.Config("alerting enabled but settings.sns_topic_arn is empty", nil)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.scan_rate_per_hour", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.path", "./cloudpilot.db")

	v.SetDefault("settings.region", "us-east-1")
	v.SetDefault("settings.cpu_threshold", 95.0)
	v.SetDefault("settings.cpu_duration_minutes", 10)
	v.SetDefault("settings.lambda_error_threshold", 5)
	v.SetDefault("settings.lambda_timeout_threshold_ms", 25000)
	v.SetDefault("settings.bedrock_token_threshold", 100000)
	v.SetDefault("settings.bedrock_token_window_minutes", 60)
	v.SetDefault("settings.lookback_minutes", 60)
	v.SetDefault("settings.poll_interval_seconds", 300)
	v.SetDefault("settings.enable_alerting", false)
	v.SetDefault("settings.alert_min_severity", "MEDIUM")
	v.SetDefault("settings.evidence_output_dir", "./evidence")
	v.SetDefault("settings.max_evidence_age_days", 30)
}
