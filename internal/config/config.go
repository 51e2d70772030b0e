// Package config loads the function's settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/spf13/viper"
)

// credentialsParam is the parameter under the prefix holding the Google Ads
// credential document.
const credentialsParam = "google-ads"

type Config struct {
	ConversionsTable    string        `mapstructure:"conversionsTable" validate:"required"`
	CampaignsTable      string        `mapstructure:"campaignsTable" validate:"required"`
	ParamPrefix         string        `mapstructure:"paramPrefix" validate:"required"`
	GoogleAdsAPIVersion string        `mapstructure:"googleAdsApiVersion" validate:"required"`
	TestMode            bool          `mapstructure:"testMode"`
	CampaignSeeding     bool          `mapstructure:"campaignSeeding"`
	RetryConcurrency    int           `mapstructure:"retryConcurrency" validate:"required|min:1"`
	MaxAttempts         int           `mapstructure:"maxAttempts" validate:"required|min:1"`
	LogLevel            string        `mapstructure:"logLevel" validate:"required|in:debug,info,warn,error"`
	UploadTimeout       time.Duration `mapstructure:"uploadTimeout" validate:"required|min:1"`
}

var envBindings = map[string]string{
	"conversionsTable":    "CONVERSIONS_TABLE",
	"campaignsTable":      "CAMPAIGNS_TABLE",
	"paramPrefix":         "PARAM_PREFIX",
	"googleAdsApiVersion": "GOOGLE_ADS_API_VERSION",
	"testMode":            "TEST_MODE",
	"campaignSeeding":     "ENABLE_CAMPAIGN_SEEDING",
	"retryConcurrency":    "RETRY_CONCURRENCY",
	"maxAttempts":         "MAX_ATTEMPTS",
	"logLevel":            "LOG_LEVEL",
	"uploadTimeout":       "UPLOAD_TIMEOUT",
}

// Load reads and validates the configuration from environment variables.
func Load() (Config, error) {
	v := viper.New()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}
	v.SetDefault("googleAdsApiVersion", "v17")
	v.SetDefault("testMode", false)
	v.SetDefault("campaignSeeding", false)
	v.SetDefault("retryConcurrency", 8)
	v.SetDefault("maxAttempts", 5)
	v.SetDefault("logLevel", "info")
	v.SetDefault("uploadTimeout", 30*time.Second)

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return Config{}, fmt.Errorf("config: unable to decode into config struct: %w", err)
	}
	conf.ParamPrefix = strings.TrimRight(strings.TrimSpace(conf.ParamPrefix), "/")
	conf.LogLevel = strings.ToLower(strings.TrimSpace(conf.LogLevel))

	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		return fmt.Errorf("config: %w", v.Errors)
	}
	return nil
}

// CredentialsParam is the full parameter name of the Google Ads credentials.
func (c Config) CredentialsParam() string {
	return c.ParamPrefix + "/" + credentialsParam
}

func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
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
