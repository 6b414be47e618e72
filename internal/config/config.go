package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type DailyConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	APIURL     string        `mapstructure:"api_url"`
	RoomExpiry time.Duration `mapstructure:"room_expiry"`
}

type BotConfig struct {
	// Command is the argv prefix of the worker binary; the launcher appends
	// -u <room_url> -t <token>.
	Command    []string `mapstructure:"command"`
	MaxPerRoom int      `mapstructure:"max_per_room"`
}

type RegistryConfig struct {
	ReapInterval  time.Duration `mapstructure:"reap_interval"`
	ReapRetention time.Duration `mapstructure:"reap_retention"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	Secret     string        `mapstructure:"secret"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	Daily    DailyConfig    `mapstructure:"daily"`
	Bot      BotConfig      `mapstructure:"bot"`
	Registry RegistryConfig `mapstructure:"registry"`
}

func Load() (*Config, error) {
	// .env first, so DAILY_API_KEY and friends are visible to viper.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 7860)
	v.SetDefault("static_path", "./web")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("daily.api_key", "")
	v.SetDefault("daily.api_url", "https://api.daily.co/v1")
	v.SetDefault("daily.room_expiry", "1h")
	v.SetDefault("bot.command", []string{"./bot"})
	v.SetDefault("bot.max_per_room", 1)
	v.SetDefault("registry.reap_interval", "10m")
	v.SetDefault("registry.reap_retention", "1h")

	_ = v.BindEnv("host", "HOST")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("daily.api_key", "DAILY_API_KEY")
	_ = v.BindEnv("daily.api_url", "DAILY_API_URL")
	_ = v.BindEnv("bot.max_per_room", "MAX_BOTS_PER_ROOM")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	// Env-sourced values arrive as strings; decode them loosely.
	weakly := func(dc *mapstructure.DecoderConfig) { dc.WeaklyTypedInput = true }
	if err := v.Unmarshal(&cfg, weakly); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
