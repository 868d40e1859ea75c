package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	PhoneLines        string `env:"PHONE_LINES"`
	ModemEnabled      bool   `env:"MODEM_ENABLED,default=true"`
	ModemRequestQueue string `env:"MODEM_REQUEST_QUEUE,default=satellite.modem.send"`
	ModemReplyQueue   string `env:"MODEM_REPLY_QUEUE,default=satellite.modem.replies"`
	SatelliteRoaming  bool   `env:"SATELLITE_ROAMING,default=false"`
	SendTimeoutSec    int    `env:"SEND_TIMEOUT_SEC,default=60"`
	PhoneTimeoutSec   int    `env:"PHONE_TIMEOUT_SEC,default=10"`
	StateTTLSec       int    `env:"STATE_TTL_SEC,default=86400"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=10"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SendTimeoutSec < 0 {
		return fmt.Errorf("SEND_TIMEOUT_SEC must not be negative")
	}
	if c.PhoneTimeoutSec <= 0 {
		return fmt.Errorf("PHONE_TIMEOUT_SEC must be positive")
	}
	if c.ModemRequestQueue == c.ModemReplyQueue {
		return fmt.Errorf("MODEM_REQUEST_QUEUE and MODEM_REPLY_QUEUE must differ")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT %d is out of range", c.APIPort)
	}
	return nil
}

// SendTimeout bounds a single transport send. Zero disables the bound.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}

func (c *Config) PhoneTimeout() time.Duration {
	return time.Duration(c.PhoneTimeoutSec) * time.Second
}

func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.StateTTLSec) * time.Second
}
