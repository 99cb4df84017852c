package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/UpswitchEU/valuation-history/internal/db"
)

// Config is the full service configuration.
type Config struct {
	DB     db.Config
	Server ServerConfig
	Audit  AuditConfig
	Keys   KeysConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	MigrationsPath string
}

// AuditConfig tunes the in-memory audit trail.
type AuditConfig struct {
	Capacity int
}

// KeysConfig tunes the idempotency key manager and its janitor.
type KeysConfig struct {
	Expiry          time.Duration
	CleanupSchedule string
}

// Load reads config.yaml from configPath, with environment overrides.
func Load(configPath string) (Config, error) {
	cfg := Config{
		DB: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			MigrationsPath: "./migrations",
		},
		Audit: AuditConfig{Capacity: 10000},
		Keys: KeysConfig{
			Expiry:          24 * time.Hour,
			CleanupSchedule: "@hourly",
		},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()      // allow environment overrides
	v.SetEnvPrefix("VAL") // map env vars like VAL_DATABASE.HOST

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.DB.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.DB.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.DB.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.DB.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DB.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.DB.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("server.migrations_path") {
		cfg.Server.MigrationsPath = v.GetString("server.migrations_path")
	}
	if v.IsSet("audit.capacity") {
		cfg.Audit.Capacity = v.GetInt("audit.capacity")
	}
	if v.IsSet("keys.expiry_hours") {
		cfg.Keys.Expiry = time.Duration(v.GetInt("keys.expiry_hours")) * time.Hour
	}
	if v.IsSet("keys.cleanup_schedule") {
		cfg.Keys.CleanupSchedule = v.GetString("keys.cleanup_schedule")
	}

	return cfg, nil
}
