package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jask/moneynudge/internal/pacing"
	"github.com/jask/moneynudge/internal/recurring"
	"github.com/jask/moneynudge/internal/templates"
)

// Config holds application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Predictor PredictorConfig `mapstructure:"predictor"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Run       RunConfig       `mapstructure:"run"`
	SMS       SMSConfig       `mapstructure:"sms"`
	Alert     AlertConfig     `mapstructure:"alert"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DetectorConfig tunes recurring-merchant detection.
type DetectorConfig struct {
	LookbackDays  int     `mapstructure:"lookback_days"`
	MaxAmountRSD  float64 `mapstructure:"max_amount_rsd"`
	OutlierFactor float64 `mapstructure:"outlier_factor"`
	MergeRatio    float64 `mapstructure:"merge_ratio"`
}

// PredictorConfig holds business-day adjustment settings. Bills and income
// are configured separately.
type PredictorConfig struct {
	BillAdjust   string `mapstructure:"bill_adjust"`
	IncomeAdjust string `mapstructure:"income_adjust"`
	HolidaysFile string `mapstructure:"holidays_file"`
}

// PacingConfig tunes spend pacing.
type PacingConfig struct {
	Period          string  `mapstructure:"period"`
	TrackBy         string  `mapstructure:"track_by"`
	BaselinePeriods int     `mapstructure:"baseline_periods"`
	TopK            int     `mapstructure:"top_k"`
	OverThreshold   float64 `mapstructure:"over_threshold"`
	UnderThreshold  float64 `mapstructure:"under_threshold"`
}

// TemplatesConfig holds the default opt-ins and message budget.
type TemplatesConfig struct {
	Defaults []string `mapstructure:"defaults"`
	Budget   int      `mapstructure:"budget"`
}

// RunConfig holds scan settings.
type RunConfig struct {
	Workers     int           `mapstructure:"workers"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	Schedule    string        `mapstructure:"schedule"`
	Timezone    string        `mapstructure:"timezone"`
}

// SMSConfig selects and configures the SMS sender.
type SMSConfig struct {
	Provider     string `mapstructure:"provider"`
	Endpoint     string `mapstructure:"endpoint"`
	AccountSID   string `mapstructure:"account_sid"`
	AuthTokenEnv string `mapstructure:"auth_token_env"`
	AuthToken    string `mapstructure:"auth_token"`
	From         string `mapstructure:"from"`
}

// AlertConfig holds the operator channel.
type AlertConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
	Channel         string `mapstructure:"channel"`
}

// Load reads configuration from file and env. Env var overrides use prefix MONEYNUDGE_.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("MONEYNUDGE_CONFIG"))
}

// LoadFrom is Load with an explicit config file; an empty path falls back to
// ~/.config/moneynudge/config.toml when it exists.
func LoadFrom(cfgPath string) (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "moneynudge", "moneynudge.db"))
	v.SetDefault("detector.lookback_days", 400)
	v.SetDefault("detector.max_amount_rsd", 0.20)
	v.SetDefault("detector.outlier_factor", 10.0)
	v.SetDefault("detector.merge_ratio", 0.15)
	v.SetDefault("predictor.bill_adjust", string(recurring.Following))
	v.SetDefault("predictor.income_adjust", string(recurring.Preceding))
	v.SetDefault("predictor.holidays_file", "")
	v.SetDefault("pacing.period", string(pacing.Month))
	v.SetDefault("pacing.track_by", string(pacing.ByCategory))
	v.SetDefault("pacing.baseline_periods", 3)
	v.SetDefault("pacing.top_k", 5)
	v.SetDefault("pacing.over_threshold", 1.3)
	v.SetDefault("pacing.under_threshold", 0.7)
	v.SetDefault("templates.defaults", []string{"recurring-summary", "pacing-alert", "weekly-summary", "monthly-summary"})
	v.SetDefault("templates.budget", templates.DefaultBudget)
	v.SetDefault("run.workers", 4)
	v.SetDefault("run.call_timeout", "10s")
	v.SetDefault("run.schedule", "0 * * * *")
	v.SetDefault("run.timezone", "Australia/Melbourne")
	v.SetDefault("sms.provider", "log")
	v.SetDefault("sms.endpoint", "")
	v.SetDefault("sms.account_sid", "")
	v.SetDefault("sms.auth_token_env", "MONEYNUDGE_SMS_TOKEN")
	v.SetDefault("sms.auth_token", "")
	v.SetDefault("sms.from", "")
	v.SetDefault("alert.slack_webhook_url", "")
	v.SetDefault("alert.channel", "")

	v.SetConfigType("toml")

	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "moneynudge"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("MONEYNUDGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings the run cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if _, err := recurring.ParseDirection(c.Predictor.BillAdjust); err != nil {
		return fmt.Errorf("config: predictor.bill_adjust: %w", err)
	}
	if _, err := recurring.ParseDirection(c.Predictor.IncomeAdjust); err != nil {
		return fmt.Errorf("config: predictor.income_adjust: %w", err)
	}
	if _, err := pacing.ParsePeriod(c.Pacing.Period); err != nil {
		return fmt.Errorf("config: pacing.period: %w", err)
	}
	if _, err := pacing.ParseKeyType(c.Pacing.TrackBy); err != nil {
		return fmt.Errorf("config: pacing.track_by: %w", err)
	}
	if c.Pacing.UnderThreshold >= c.Pacing.OverThreshold {
		return fmt.Errorf("config: pacing.under_threshold %.2f must be below over_threshold %.2f", c.Pacing.UnderThreshold, c.Pacing.OverThreshold)
	}
	if _, err := templates.ParseTypes(c.Templates.Defaults); err != nil {
		return fmt.Errorf("config: templates.defaults: %w", err)
	}
	if c.Run.Workers <= 0 {
		return fmt.Errorf("config: run.workers must be positive")
	}
	if c.Run.CallTimeout <= 0 {
		return fmt.Errorf("config: run.call_timeout must be positive")
	}
	if _, err := time.LoadLocation(c.Run.Timezone); err != nil {
		return fmt.Errorf("config: run.timezone: %w", err)
	}
	switch strings.ToLower(c.SMS.Provider) {
	case "log":
	case "http":
		if c.SMS.Endpoint == "" || c.SMS.AccountSID == "" || c.SMS.From == "" {
			return fmt.Errorf("config: sms.endpoint, sms.account_sid and sms.from are required for the http provider")
		}
	default:
		return fmt.Errorf("config: unknown sms.provider %q", c.SMS.Provider)
	}
	return nil
}

// SMSToken resolves the sender auth token, preferring the environment.
func (c Config) SMSToken() string {
	if env := strings.TrimSpace(c.SMS.AuthTokenEnv); env != "" {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return strings.TrimSpace(c.SMS.AuthToken)
}

// DetectorSettings converts the detector section.
func (c Config) DetectorSettings() recurring.Config {
	return recurring.Config{
		LookbackDays:  c.Detector.LookbackDays,
		MaxAmountRSD:  c.Detector.MaxAmountRSD,
		OutlierFactor: c.Detector.OutlierFactor,
		MergeRatio:    c.Detector.MergeRatio,
	}
}

// PacingSettings converts the pacing section. Call after Validate.
func (c Config) PacingSettings() (pacing.Config, pacing.KeyType) {
	period, _ := pacing.ParsePeriod(c.Pacing.Period)
	kt, _ := pacing.ParseKeyType(c.Pacing.TrackBy)
	return pacing.Config{
		Period:          period,
		BaselinePeriods: c.Pacing.BaselinePeriods,
		TopK:            c.Pacing.TopK,
		OverThreshold:   c.Pacing.OverThreshold,
		UnderThreshold:  c.Pacing.UnderThreshold,
	}, kt
}

// DatePredictor loads the holiday calendar and builds the date predictor.
func (c Config) DatePredictor() (recurring.Predictor, error) {
	cal, err := recurring.LoadCalendar(c.Predictor.HolidaysFile)
	if err != nil {
		return recurring.Predictor{}, err
	}
	bills, err := recurring.ParseDirection(c.Predictor.BillAdjust)
	if err != nil {
		return recurring.Predictor{}, err
	}
	income, err := recurring.ParseDirection(c.Predictor.IncomeAdjust)
	if err != nil {
		return recurring.Predictor{}, err
	}
	return recurring.Predictor{Calendar: cal, Bills: bills, Income: income}, nil
}

// Location is the default user timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Run.Timezone)
}
