package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int `mapstructure:"send_buffer"`
	// HeartbeatTTL is how long a member counts as online after its last heartbeat.
	HeartbeatTTL     time.Duration `mapstructure:"heartbeat_ttl"`
	PresenceInterval time.Duration `mapstructure:"presence_interval"`
	// HardTimeout unregisters members silent for longer than this.
	HardTimeout time.Duration `mapstructure:"hard_timeout"`

	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

// PongWait is the read deadline extended on every pong.
func (c *Config) PongWait() time.Duration {
	return c.PingPeriod * 10 / 9
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Str("module", "config").Msg("loaded .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("STUDYROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("heartbeat_ttl", "60s")
	v.SetDefault("presence_interval", "30s")
	v.SetDefault("hard_timeout", "120s")
	v.SetDefault("rate_limit", 200)
	v.SetDefault("rate_interval", "1s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Secret == "" {
		// cookies signed with an empty key never save
		key := securecookie.GenerateRandomKey(32)
		if key == nil {
			return nil, errors.New("secret is empty and no random key could be generated")
		}
		cfg.Secret = hex.EncodeToString(key)
		log.Warn().Str("module", "config").Msg("secret not set, using a random one; sessions will not survive a restart")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("ping_period must be positive, got %s", c.PingPeriod)
	}
	if c.HeartbeatTTL <= 0 || c.PresenceInterval <= 0 {
		return fmt.Errorf("heartbeat_ttl and presence_interval must be positive")
	}
	if c.HardTimeout < c.HeartbeatTTL {
		return fmt.Errorf("hard_timeout (%s) shorter than heartbeat_ttl (%s)", c.HardTimeout, c.HeartbeatTTL)
	}
	if c.RateLimit <= 0 || c.RateInterval <= 0 {
		return fmt.Errorf("rate_limit and rate_interval must be positive")
	}
	return nil
}
