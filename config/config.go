package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	// "mongo" or "memory"
	Storage       string `mapstructure:"STORAGE"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`

	// Redis is optional; without it the relay is off and instances are
	// independent.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RelayChannel  string `mapstructure:"RELAY_CHANNEL"`

	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	SendRate  float64       `mapstructure:"SEND_RATE"`
	SendBurst int           `mapstructure:"SEND_BURST"`
	SendQueue int           `mapstructure:"SEND_QUEUE"`
	PongWait  time.Duration `mapstructure:"PONG_WAIT"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("STORAGE", "mongo")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "runnerhub")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RELAY_CHANNEL", "booking-messages")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("SEND_RATE", 5)
	v.SetDefault("SEND_BURST", 10)
	v.SetDefault("SEND_QUEUE", 256)
	v.SetDefault("PONG_WAIT", "60s")
}

// Load reads .env (if any), then config.yaml in . or ./config (if any),
// with environment variables taking precedence over both.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.JWTSecret == "":
		return errors.New("JWT_SECRET is required")
	case c.Storage != "mongo" && c.Storage != "memory":
		return fmt.Errorf("STORAGE must be mongo or memory, got %q", c.Storage)
	case c.SendRate <= 0 || c.SendBurst <= 0:
		return errors.New("SEND_RATE and SEND_BURST must be positive")
	case c.SendQueue <= 0:
		return errors.New("SEND_QUEUE must be positive")
	case c.PongWait < time.Second:
		return errors.New("PONG_WAIT must be at least 1s")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Addr is the listen address for PORT, with or without a leading colon.
func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
