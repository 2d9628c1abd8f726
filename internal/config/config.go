// Package config loads hwsync settings from defaults, an optional config
// file, a .env file and HWSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Sources the sync can read the timetable from
const (
	SourceCanvas = "canvas"
	SourceFile   = "file"
)

// Config holds every tunable of a sync and the feed server
type Config struct {
	StudentID string `mapstructure:"student_id"`
	Source    string `mapstructure:"source"`

	CanvasDomain string `mapstructure:"canvas_domain"`
	CourseID     string `mapstructure:"course_id"`
	CanvasToken  string `mapstructure:"canvas_token"`
	HTMLFile     string `mapstructure:"html_file"`

	Driver      string `mapstructure:"driver"`
	DBPath      string `mapstructure:"db"`
	DatabaseURL string `mapstructure:"database_url"`

	RetentionDays          int    `mapstructure:"retention_days"`
	ClosureLookbackDays    int    `mapstructure:"closure_lookback_days"`
	ClosureLookaheadDays   int    `mapstructure:"closure_lookahead_days"`
	MaxSchoolDayIterations int    `mapstructure:"max_school_day_iterations"`
	TitleMaxLen            int    `mapstructure:"title_max_len"`
	NoHomeworkMarker       string `mapstructure:"no_homework_marker"`
	Timezone               string `mapstructure:"timezone"`

	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	AnthropicModel  string `mapstructure:"anthropic_model"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	Addr      string `mapstructure:"addr"`

	Location *time.Location `mapstructure:"-"`
}

// SetDefaults registers every key so AutomaticEnv can override it
func SetDefaults(v *viper.Viper) {
	v.SetDefault("student_id", "")
	v.SetDefault("source", SourceCanvas)
	v.SetDefault("canvas_domain", "")
	v.SetDefault("course_id", "")
	v.SetDefault("canvas_token", "")
	v.SetDefault("html_file", "")
	v.SetDefault("driver", "sqlite")
	v.SetDefault("db", defaultDBPath())
	v.SetDefault("database_url", "")
	v.SetDefault("retention_days", 7)
	v.SetDefault("closure_lookback_days", 7)
	v.SetDefault("closure_lookahead_days", 30)
	v.SetDefault("max_school_day_iterations", 60)
	v.SetDefault("title_max_len", 100)
	v.SetDefault("no_homework_marker", "NH")
	v.SetDefault("timezone", "America/Chicago")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("anthropic_model", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("addr", ":8080")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hwsync.db"
	}
	return filepath.Join(home, ".hwsync", "hwsync.db")
}

// New returns a viper instance wired for hwsync: defaults, HWSYNC_ env
// prefix and an optional hwsync.{yaml,toml,json} in the working directory
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("hwsync")
	v.AddConfigPath(".")
	v.SetEnvPrefix("HWSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads envFile (when it exists), the optional config file and the
// environment, then validates the result
func Load(v *viper.Viper, envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", envFile, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings every command needs and resolves Location
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StudentID) == "" {
		return errors.New("student_id is required (HWSYNC_STUDENT_ID)")
	}

	switch c.Driver {
	case "sqlite":
		if c.DBPath == "" {
			return errors.New("db path is required for the sqlite driver")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}

	if c.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays)
	}
	if c.TitleMaxLen < 0 {
		return fmt.Errorf("title_max_len must not be negative, got %d", c.TitleMaxLen)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	c.Location = loc
	return nil
}

// ValidateSource checks the settings a sync needs to reach its timetable
func (c *Config) ValidateSource() error {
	switch c.Source {
	case SourceCanvas:
		if c.CanvasDomain == "" || c.CourseID == "" {
			return errors.New("canvas_domain and course_id are required for the canvas source")
		}
	case SourceFile:
		if c.HTMLFile == "" {
			return errors.New("html_file is required for the file source")
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	return nil
}

// DSN is the connection string for the configured driver
func (c *Config) DSN() string {
	if c.Driver == "postgres" {
		return c.DatabaseURL
	}
	return c.DBPath
}
