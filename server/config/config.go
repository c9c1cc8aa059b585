// Package config loads server settings from defaults, an optional YAML
// file and LOBBY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	GRPCAddr string `mapstructure:"grpc_addr" validate:"required,hostname_port"`
	HTTPAddr string `mapstructure:"http_addr" validate:"required,hostname_port"`
	DBPath   string `mapstructure:"db_path" validate:"required"`

	// SecondaryBackend mirrors state writes: "", "badger" or "redis".
	SecondaryBackend string `mapstructure:"secondary_backend" validate:"omitempty,oneof=badger redis"`
	BadgerDir        string `mapstructure:"badger_dir"`
	RedisAddr        string `mapstructure:"redis_addr" validate:"required_if=SecondaryBackend redis"`

	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	PresenceGrace time.Duration `mapstructure:"presence_grace" validate:"gte=0"`
	TypingTTL     time.Duration `mapstructure:"typing_ttl" validate:"gt=0"`
	StoreTimeout  time.Duration `mapstructure:"store_timeout" validate:"gt=0"`

	OutboxSize   int      `mapstructure:"outbox_size" validate:"min=1,max=10000"`
	HistoryLimit int      `mapstructure:"history_limit" validate:"min=1,max=200"`
	FloodRate    float64  `mapstructure:"flood_rate" validate:"gte=0"`
	FloodBurst   int      `mapstructure:"flood_burst" validate:"gte=0"`
	DefaultRooms []string `mapstructure:"default_rooms" validate:"dive,required,max=64"`

	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	WSRateLimit      int           `mapstructure:"ws_rate_limit" validate:"min=1"`
	WSRateWindow     time.Duration `mapstructure:"ws_rate_window" validate:"gt=0"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold" validate:"min=1"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout" validate:"gt=0"`

	Log LogConfig `mapstructure:"log"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("grpc_addr", ":50051")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_path", "./lobby.db")
	v.SetDefault("secondary_backend", "")
	v.SetDefault("badger_dir", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("sweep_interval", 5*time.Minute)
	v.SetDefault("presence_grace", 15*time.Second)
	v.SetDefault("typing_ttl", 6*time.Second)
	v.SetDefault("store_timeout", 3*time.Second)
	v.SetDefault("outbox_size", 100)
	v.SetDefault("history_limit", 50)
	v.SetDefault("flood_rate", 5.0)
	v.SetDefault("flood_burst", 10)
	v.SetDefault("default_rooms", []string{"main", "music", "random"})
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("ws_rate_limit", 20)
	v.SetDefault("ws_rate_window", time.Minute)
	v.SetDefault("breaker_threshold", 5)
	v.SetDefault("breaker_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads the configuration. path may be empty, in which case only a
// lobby.yaml in the working directory is tried.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("lobby")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
