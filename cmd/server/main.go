// Command server starts the ask-relay HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	ai "github.com/fairyhunter13/ask-relay/internal/adapter/ai"
	"github.com/fairyhunter13/ask-relay/internal/adapter/ai/gemini"
	"github.com/fairyhunter13/ask-relay/internal/adapter/ai/prompt"
	"github.com/fairyhunter13/ask-relay/internal/adapter/ai/tokencount"
	httpserver "github.com/fairyhunter13/ask-relay/internal/adapter/httpserver"
	"github.com/fairyhunter13/ask-relay/internal/adapter/observability"
	"github.com/fairyhunter13/ask-relay/internal/adapter/realtime"
	"github.com/fairyhunter13/ask-relay/internal/adapter/telegram"
	"github.com/fairyhunter13/ask-relay/internal/app"
	"github.com/fairyhunter13/ask-relay/internal/config"
	"github.com/fairyhunter13/ask-relay/internal/domain"
	"github.com/fairyhunter13/ask-relay/internal/service/breaker"
	"github.com/fairyhunter13/ask-relay/internal/service/ratelimiter"
	"github.com/fairyhunter13/ask-relay/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	prompts, err := prompt.NewStore(cfg.PromptsFile, ai.NoInfoSentinel)
	if err != nil {
		slog.Error("prompt templates invalid", slog.Any("error", err))
		os.Exit(1)
	}
	go func() {
		if err := prompts.Watch(ctx, 250*time.Millisecond); err != nil {
			slog.Warn("prompt hot reload disabled", slog.Any("error", err))
		}
	}()

	// Escalation throttle: shared across replicas through Redis, otherwise per process.
	buckets := map[string]ratelimiter.BucketConfig{
		usecase.EscalationThrottleKey: ratelimiter.NewBucketConfigFromPerMinute(cfg.EscalationRatePerMin),
	}
	var (
		redisLimiter *ratelimiter.RedisLuaLimiter
		limiter      ratelimiter.Limiter
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		redisLimiter = ratelimiter.NewRedisLuaLimiter(rdb, buckets)
		limiter = redisLimiter
		slog.Info("escalation throttle enabled", slog.String("backend", "redis"), slog.Int("per_minute", cfg.EscalationRatePerMin))
	} else {
		limiter = ratelimiter.NewLocalLimiter(buckets)
		slog.Info("escalation throttle enabled", slog.String("backend", "local"), slog.Int("per_minute", cfg.EscalationRatePerMin))
	}

	registry := usecase.NewSessionRegistry()
	defer registry.Close()
	hub := realtime.NewHub(registry, nil)

	// Human channel (optional)
	var (
		bot       *telegram.Client
		alerter   domain.Alerter
		escalator usecase.Escalator
		updates   httpserver.UpdateHandler
	)
	if cfg.TelegramEnabled() {
		bot = telegram.New(telegram.Options{
			BaseURL:     cfg.TelegramBaseURL,
			Token:       cfg.TelegramBotToken,
			ChatID:      cfg.TelegramChatID,
			AlertChatID: cfg.TelegramAlertChatID,
		})
		bridge := usecase.NewBridge(bot, registry, hub, limiter)
		bridge.Breaker = breaker.New("telegram", cfg.TelegramBreakerFailures, cfg.TelegramBreakerCooldown,
			breaker.WithStateHook(func(name string, s breaker.State) {
				observability.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
			}))
		dispatcher := telegram.NewDispatcher(cfg.TelegramChatID, bot, bridge)
		alerter, escalator, updates = bot, bridge, dispatcher
		if cfg.TelegramPolling {
			poller := telegram.NewPoller(bot, dispatcher, cfg.TelegramPollTimeout)
			go func() {
				if err := poller.Run(ctx); err != nil {
					slog.Error("telegram poller exited", slog.Any("error", err))
				}
			}()
		}
	} else {
		slog.Warn("telegram not configured; unanswered questions get the fallback answer")
	}

	pool := ai.LoadCredentials(cfg.RawCredentials())
	if pool.Empty() {
		slog.Error("no Gemini API keys configured; every question will fail with CONFIG_MISSING")
	}
	backoffInterval, sweepCooldown := cfg.GetFailoverTiming()
	failover := ai.NewFailover(pool, gemini.New(cfg.GeminiBaseURL, cfg.GeminiModel, prompts), alerter, ai.FailoverConfig{
		BackoffInterval: backoffInterval,
		SweepCooldown:   sweepCooldown,
		AttemptTimeout:  cfg.AttemptTimeout,
	})
	slog.Info("generation client initialized",
		slog.String("model", cfg.GeminiModel),
		slog.Int("credentials", failover.PoolSize()))

	askSvc := usecase.NewAskService(failover, ai.NewEvaluator(), escalator, tokencount.DefaultCounter, usecase.AskOptions{
		DirectPrefix:     cfg.DirectMessagePrefix,
		FallbackAnswer:   cfg.FallbackAnswer,
		EscalatedAnswer:  cfg.EscalatedAnswer,
		DirectAckAnswer:  cfg.DirectAckAnswer,
		MaxContextTokens: cfg.MaxContextTokens,
	})
	askSvc.Sessions = registry

	var botCheck app.BotChecker
	if bot != nil {
		botCheck = bot
	}
	var redisCheck app.Pinger
	if redisLimiter != nil {
		redisCheck = redisLimiter
	}
	srv := httpserver.NewServer(cfg, askSvc, updates, app.BuildReadinessChecks(cfg, redisCheck, botCheck)...)
	handler := app.BuildRouter(cfg, srv, hub)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout + 10*time.Second,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	stop()
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
