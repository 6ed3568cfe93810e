package app

import (
	"context"
	"fmt"

	httpserver "github.com/fairyhunter13/ask-relay/internal/adapter/httpserver"
	"github.com/fairyhunter13/ask-relay/internal/config"
)

// Pinger is anything with a context-aware health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BotChecker verifies the Telegram bot token.
type BotChecker interface {
	GetMe(ctx context.Context) error
}

// BuildReadinessChecks returns the redis and telegram checks for the configured backends.
// Unconfigured optional backends are skipped; Telegram is required when enabled.
func BuildReadinessChecks(cfg config.Config, redis Pinger, bot BotChecker) []httpserver.Check {
	var checks []httpserver.Check
	if cfg.RedisURL != "" {
		checks = append(checks, httpserver.Check{Name: "redis", Fn: func(ctx context.Context) error {
			if redis == nil {
				return fmt.Errorf("redis not configured")
			}
			return redis.Ping(ctx)
		}})
	}
	if cfg.TelegramEnabled() {
		checks = append(checks, httpserver.Check{Name: "telegram", Fn: func(ctx context.Context) error {
			if bot == nil {
				return fmt.Errorf("telegram not configured")
			}
			return bot.GetMe(ctx)
		}})
	}
	return checks
}
