// Package config loads runtime settings from an optional config file and
// SHIFTS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"shift-booker/pkg/booker"
	"shift-booker/poll"
	"shift-booker/scraper"
)

// EnvPrefix prefixes environment overrides, e.g. SHIFTS_SETTINGS_SCAN_INTERVAL_SECONDS.
const EnvPrefix = "SHIFTS"

// Config mirrors the sections of config.ini. Timings are in seconds so the
// file written by earlier versions keeps working.
type Config struct {
	Credentials struct {
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
	} `mapstructure:"credentials"`

	Settings struct {
		ScanInterval   float64 `mapstructure:"scan_interval_seconds" validate:"gt=0"`
		CooldownMargin float64 `mapstructure:"cooldown_margin_seconds" validate:"gte=0"`
		GracePeriod    float64 `mapstructure:"grace_period_seconds" validate:"gte=0"`
	} `mapstructure:"settings"`

	Site struct {
		BaseURL        string  `mapstructure:"base_url" validate:"required,url"`
		LoginTimeout   float64 `mapstructure:"login_timeout_seconds" validate:"gt=0"`
		RequestTimeout float64 `mapstructure:"request_timeout_seconds" validate:"gt=0"`
		FetchAttempts  uint    `mapstructure:"fetch_attempts" validate:"gte=1"`
	} `mapstructure:"site"`

	Storage struct {
		DataDir string `mapstructure:"data_dir"`
		Bucket  string `mapstructure:"bucket"`
	} `mapstructure:"storage"`

	Server struct {
		Addr       string `mapstructure:"addr"`
		TrustProxy bool   `mapstructure:"trust_proxy"`
	} `mapstructure:"server"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("credentials.username", "")
	v.SetDefault("credentials.password", "")
	v.SetDefault("settings.scan_interval_seconds", 0.2)
	v.SetDefault("settings.cooldown_margin_seconds", 0.5)
	v.SetDefault("settings.grace_period_seconds", 10)
	v.SetDefault("site.base_url", scraper.DefaultBaseURL)
	v.SetDefault("site.login_timeout_seconds", 15)
	v.SetDefault("site.request_timeout_seconds", 30)
	v.SetDefault("site.fetch_attempts", 3)
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.trust_proxy", false)
}

// Load reads path, or config.{ini,yaml,json,toml} from the working directory
// when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Legacy returns the single-account credentials of the [Credentials] section.
func (c *Config) Legacy() booker.Credentials {
	return booker.Credentials{
		Username: strings.TrimSpace(c.Credentials.Username),
		Secret:   strings.TrimSpace(c.Credentials.Password),
	}
}

// Poll returns the scanner timings.
func (c *Config) Poll() poll.Config {
	return poll.Config{
		ScanInterval:   seconds(c.Settings.ScanInterval),
		CooldownMargin: seconds(c.Settings.CooldownMargin),
		GracePeriod:    seconds(c.Settings.GracePeriod),
	}
}

// Scraper returns the HTTP session settings.
func (c *Config) Scraper() scraper.Config {
	return scraper.Config{
		BaseURL:      c.Site.BaseURL,
		Timeout:      seconds(c.Site.RequestTimeout),
		LoginTimeout: seconds(c.Site.LoginTimeout),
		Attempts:     c.Site.FetchAttempts,
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
