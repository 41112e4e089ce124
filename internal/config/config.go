package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	Codec      string        `mapstructure:"codec"`
	LogLevel   string        `mapstructure:"log_level"`
	ICEServers []string      `mapstructure:"ice_servers"`
	JoinLimit  int           `mapstructure:"join_limit"`
	JoinWindow time.Duration `mapstructure:"join_window"`

	Participant ParticipantConfig `mapstructure:"participant"`
	Reconnect   ReconnectConfig   `mapstructure:"reconnect"`
}

// ParticipantConfig is read by cmd/participant only.
type ParticipantConfig struct {
	SignalURL   string  `mapstructure:"signal_url"`
	ControlPort int     `mapstructure:"control_port"`
	Audio       bool    `mapstructure:"audio"`
	Video       bool    `mapstructure:"video"`
	Width       int     `mapstructure:"width"`
	Height      int     `mapstructure:"height"`
	FrameRate   float32 `mapstructure:"frame_rate"`
}

type ReconnectConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
	AnswerTimeout   time.Duration `mapstructure:"answer_timeout"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("MEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("codec", "json")
	v.SetDefault("log_level", "info")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("join_limit", 5)
	v.SetDefault("join_window", "1m")

	v.SetDefault("participant.signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("participant.control_port", 8090)
	v.SetDefault("participant.audio", true)
	v.SetDefault("participant.video", true)
	v.SetDefault("participant.width", 640)
	v.SetDefault("participant.height", 480)
	v.SetDefault("participant.frame_rate", 30)

	v.SetDefault("reconnect.initial_interval", "500ms")
	v.SetDefault("reconnect.max_interval", "5s")
	v.SetDefault("reconnect.max_retries", 5)
	v.SetDefault("reconnect.attempt_timeout", "10s")
	v.SetDefault("reconnect.answer_timeout", "15s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("codec", cfg.Codec).Msg("config ready")
	return &cfg, nil
}
