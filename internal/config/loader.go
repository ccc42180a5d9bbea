package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/shopwindow/internal/db"
	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SHOPWINDOW_DATABASE_HOST.
const EnvPrefix = "SHOPWINDOW"

// Config is the full importer configuration.
type Config struct {
	Database db.Config
	Importer ImporterConfig
	Geocoder GeocoderConfig
	Metrics  MetricsConfig
	LogLevel string
}

type ImporterConfig struct {
	FlagWorkers       int
	DefaultImportType domain.ImportType
	StatsWindowDays   int
}

// GeocoderConfig configures address lookups. An empty Endpoint disables geocoding.
type GeocoderConfig struct {
	Endpoint      string
	UserAgent     string
	RatePerSecond float64
	Burst         int
	TimeoutSecs   int
}

type MetricsConfig struct {
	Addr string
}

// New returns a viper instance with defaults and env overrides registered.
// Command-line flags are bound onto it by the caller.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	dbDefaults := db.DefaultConfig()
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)

	v.SetDefault("importer.flag_workers", 4)
	v.SetDefault("importer.default_import_type", string(domain.ImportTypeCSV))
	v.SetDefault("importer.stats_window_days", 30)

	v.SetDefault("geocoder.endpoint", "")
	v.SetDefault("geocoder.user_agent", "shopwindow-importer")
	v.SetDefault("geocoder.rate_per_second", 1.0)
	v.SetDefault("geocoder.burst", 1)
	v.SetDefault("geocoder.timeout_secs", 10)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("log_level", "info")
	return v
}

// Load reads config.yaml from configPath (when given) into v and decodes the result.
// A missing file is not an error; defaults and environment apply.
func Load(v *viper.Viper, configPath string) (Config, error) {
	if configPath != "" {
		if strings.HasSuffix(configPath, ".yaml") || strings.HasSuffix(configPath, ".yml") {
			v.SetConfigFile(configPath)
		} else {
			v.AddConfigPath(configPath)
		}
	} else {
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	importType, err := domain.ParseImportType(v.GetString("importer.default_import_type"))
	if err != nil {
		return Config{}, fmt.Errorf("importer.default_import_type: %w", err)
	}

	cfg := Config{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Importer: ImporterConfig{
			FlagWorkers:       v.GetInt("importer.flag_workers"),
			DefaultImportType: importType,
			StatsWindowDays:   v.GetInt("importer.stats_window_days"),
		},
		Geocoder: GeocoderConfig{
			Endpoint:      v.GetString("geocoder.endpoint"),
			UserAgent:     v.GetString("geocoder.user_agent"),
			RatePerSecond: v.GetFloat64("geocoder.rate_per_second"),
			Burst:         v.GetInt("geocoder.burst"),
			TimeoutSecs:   v.GetInt("geocoder.timeout_secs"),
		},
		Metrics:  MetricsConfig{Addr: v.GetString("metrics.addr")},
		LogLevel: v.GetString("log_level"),
	}
	if cfg.Importer.FlagWorkers <= 0 {
		cfg.Importer.FlagWorkers = 1
	}
	if cfg.Importer.StatsWindowDays <= 0 {
		cfg.Importer.StatsWindowDays = 30
	}
	return cfg, nil
}

// LoadDBConfig returns only the database section.
func LoadDBConfig(configPath string) (db.Config, error) {
	cfg, err := Load(New(), configPath)
	if err != nil {
		return db.Config{}, err
	}
	return cfg.Database, nil
}
