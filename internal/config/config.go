package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
)

type Config struct {
	APIBaseURL        string `env:"API_BASE_URL,required=true"`
	DatabasePath      string `env:"DATABASE_PATH,default=sync-engine.db"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	ListenPort        int    `env:"LISTEN_PORT,default=8787"`
	ChannelPort       int    `env:"CHANNEL_PORT,default=8788"`
	SyncIntervalSec   int    `env:"SYNC_INTERVAL_SEC,default=300"`
	HealthIntervalSec int    `env:"HEALTH_INTERVAL_SEC,default=30"`
	ReplayRatePerSec  int    `env:"REPLAY_RATE_PER_SEC,default=10"`
	CacheTTLSec       int    `env:"CACHE_TTL_SEC,default=600"`
	DeviceDisplayName string `env:"DEVICE_DISPLAY_NAME,default="`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")

	return &cfg, nil
}
