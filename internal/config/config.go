// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"3001"`
	// GeminiAPIKeys is the raw comma-separated credential list; see ai.LoadCredentials.
	GeminiAPIKeys string `env:"GEMINI_API_KEYS"`
	// GeminiAPIKey is the single-key variable kept for older deployments.
	GeminiAPIKey   string        `env:"GEMINI_API_KEY"`
	GeminiBaseURL  string        `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiModel    string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	AttemptTimeout time.Duration `env:"AI_ATTEMPT_TIMEOUT" envDefault:"60s"`
	// Failover timing
	RateLimitBackoff time.Duration `env:"AI_RATE_LIMIT_BACKOFF" envDefault:"1s"`
	SweepCooldown    time.Duration `env:"AI_SWEEP_COOLDOWN" envDefault:"2s"`
	// MaxContextTokens caps the pasted context size; 0 disables the check.
	MaxContextTokens int    `env:"MAX_CONTEXT_TOKENS" envDefault:"900000"`
	PromptsFile      string `env:"PROMPTS_FILE"`

	TelegramBotToken    string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramBaseURL     string        `env:"TELEGRAM_BASE_URL" envDefault:"https://api.telegram.org"`
	TelegramChatID      string        `env:"TELEGRAM_CHAT_ID"`
	TelegramAlertChatID string        `env:"TELEGRAM_ALERT_CHAT_ID"`
	TelegramWebhookKey  string        `env:"TELEGRAM_WEBHOOK_SECRET"`
	TelegramPolling     bool          `env:"TELEGRAM_POLLING" envDefault:"true"`
	TelegramPollTimeout time.Duration `env:"TELEGRAM_POLL_TIMEOUT" envDefault:"30s"`
	// 0 disables the breaker around human-channel sends.
	TelegramBreakerFailures int           `env:"TELEGRAM_BREAKER_FAILURES" envDefault:"5"`
	TelegramBreakerCooldown time.Duration `env:"TELEGRAM_BREAKER_COOLDOWN" envDefault:"30s"`

	DirectMessagePrefix  string `env:"DIRECT_MESSAGE_PREFIX" envDefault:"/support"`
	FallbackAnswer       string `env:"FALLBACK_ANSWER" envDefault:"Mời Sư huynh tra cứu thêm tại mục lục tổng quan : https://mucluc.pmtl.site"`
	EscalatedAnswer      string `env:"ESCALATED_ANSWER" envDefault:"Câu hỏi đã được chuyển tới ban hỗ trợ, câu trả lời sẽ hiện ở đây ngay khi có."`
	DirectAckAnswer      string `env:"DIRECT_ACK_ANSWER" envDefault:"Tin nhắn đã được gửi tới ban hỗ trợ."`
	EscalationRatePerMin int    `env:"ESCALATION_RATE_PER_MIN" envDefault:"20"`

	RedisURL        string `env:"REDIS_URL"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ask-relay"`

	MaxBodyMB             int64         `env:"MAX_BODY_MB" envDefault:"50"`
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"60s"`
	// HTTPWriteTimeout must cover two full sweeps of the credential pool.
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"300s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// RawCredentials returns the credential list as a single delimited string,
// appending the legacy single key when it is set.
func (c Config) RawCredentials() string {
	legacy := strings.TrimSpace(c.GeminiAPIKey)
	if legacy == "" {
		return c.GeminiAPIKeys
	}
	for _, k := range strings.Split(c.GeminiAPIKeys, ",") {
		if strings.TrimSpace(k) == legacy {
			return c.GeminiAPIKeys
		}
	}
	if strings.TrimSpace(c.GeminiAPIKeys) == "" {
		return legacy
	}
	return c.GeminiAPIKeys + "," + legacy
}

// TelegramEnabled reports whether the human channel is configured.
func (c Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// GetFailoverTiming returns the 429 backoff and sweep cooldown for the current environment.
// In test environments the waits are shortened so failover suites run quickly.
func (c Config) GetFailoverTiming() (rateLimitBackoff, sweepCooldown time.Duration) {
	if c.IsTest() {
		return 10 * time.Millisecond, 20 * time.Millisecond
	}
	return c.RateLimitBackoff, c.SweepCooldown
}
