package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type EngineConfig struct {
	// Update interval in milliseconds. The engine clamps anything above
	// 1000ms down to 1000ms; non-positive values fall back to the default.
	UpdateFrequencyMs int `mapstructure:"update_frequency_ms"`
	// Symbols the quoter is seeded with at startup
	Symbols []string `mapstructure:"symbols"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type RecorderConfig struct {
	NumWorkers     int `mapstructure:"num_workers"`
	SnapshotTTLMin int `mapstructure:"snapshot_ttl_min"`
}

type LoggerConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	// This ensures variables like APP_PORT are available as real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults (12-Factor App: Dev/Prod Parity)
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("engine.update_frequency_ms", 1000)
	v.SetDefault("engine.symbols", []string{"AAPL", "GOOG", "TSLA", "AMZN"})

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "quote_ticks")
	v.SetDefault("kafka.group_id", "quote-recorder-group")

	v.SetDefault("recorder.num_workers", 4)
	v.SetDefault("recorder.snapshot_ttl_min", 60)

	v.SetDefault("logger.level", "info")

	// 3. Configure Viper to read Environment Variables
	// This maps dot-notation to underscores (e.g., "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Explicitly Bind Env Vars to Keys
	// This is crucial for Viper to map flat Env Vars (APP_PORT) to nested structs (App.Port)
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "engine.update_frequency_ms", "engine.symbols")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id")
	bindEnv(v, "recorder.num_workers", "recorder.snapshot_ttl_min")
	bindEnv(v, "logger.level")

	// 5. Unmarshal into Struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	// 6. Basic Validation
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if cfg.Recorder.NumWorkers <= 0 {
		return nil, fmt.Errorf("recorder workers must be positive, got %d", cfg.Recorder.NumWorkers)
	}
	if len(cfg.Engine.Symbols) == 0 {
		return nil, fmt.Errorf("engine symbols cannot be empty")
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
