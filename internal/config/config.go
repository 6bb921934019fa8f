package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	// Comma-separated channel keys this instance delivers, e.g.
	// "email,push,sms".
	Channels string `env:"CHANNELS,default=email,push,sms"`

	// AsyncDispatch hands claimed notifications to the broker instead of
	// delivering in-process. Requires RABBITMQ_URL.
	AsyncDispatch bool `env:"ASYNC_DISPATCH,default=false"`

	DispatchCron       string `env:"DISPATCH_CRON,default=*/1 * * * *"`
	DispatchBatchLimit int    `env:"DISPATCH_BATCH_LIMIT,default=200"`
	DispatchClaimTTL   int    `env:"DISPATCH_CLAIM_TTL_MIN,default=10"`
	WorkerConcurrency  int    `env:"WORKER_CONCURRENCY,default=8"`
	SendTimeoutSec     int    `env:"SEND_TIMEOUT_SEC,default=30"`
	RateLimitPerSec    int    `env:"RATE_LIMIT_PER_SEC,default=50"`

	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	EmailFrom            string `env:"EMAIL_FROM"`

	ExpoPushURL     string `env:"EXPO_PUSH_URL"`
	ExpoAccessToken string `env:"EXPO_ACCESS_TOKEN"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioSender     string `env:"TWILIO_SENDER"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.AsyncDispatch && strings.TrimSpace(cfg.RabbitMQURL) == "" {
		return nil, fmt.Errorf("ASYNC_DISPATCH requires RABBITMQ_URL")
	}
	return &cfg, nil
}

// ChannelKeys splits the configured channel list into normalized keys.
func (c *Config) ChannelKeys() []string {
	parts := strings.Split(c.Channels, ",")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		key := strings.ToLower(strings.TrimSpace(part))
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
