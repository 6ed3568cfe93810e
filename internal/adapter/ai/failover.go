package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/ask-relay/internal/adapter/observability"
	"github.com/fairyhunter13/ask-relay/internal/domain"
)

// DefaultSweeps is the number of full passes over the credential pool.
const DefaultSweeps = 2

// alertTimeout bounds the best-effort operator alert on exhaustion.
const alertTimeout = 10 * time.Second

// FailoverConfig tunes the rotation timing.
type FailoverConfig struct {
	// BackoffInterval is waited after a 429 before the next attempt.
	BackoffInterval time.Duration
	// SweepCooldown is waited before restarting at index 0.
	SweepCooldown time.Duration
	// AttemptTimeout bounds each provider call; 0 disables it.
	AttemptTimeout time.Duration
	// Sweeps defaults to DefaultSweeps when <= 0.
	Sweeps int
}

// Failover drives a Generator across the credential pool, strictly sequentially.
//
// Per logical request the controller is in one of three states:
// attempting credential i, cooling down between sweeps, or exhausted.
// A success or a fatal failure stops rotation at once; the worst case is
// Sweeps × pool size provider calls.
type Failover struct {
	pool    Credentials
	gen     domain.Generator
	alerter domain.Alerter
	cfg     FailoverConfig
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewFailover constructs a controller. alerter may be nil.
func NewFailover(pool Credentials, gen domain.Generator, alerter domain.Alerter, cfg FailoverConfig) *Failover {
	if cfg.Sweeps <= 0 {
		cfg.Sweeps = DefaultSweeps
	}
	return &Failover{pool: pool, gen: gen, alerter: alerter, cfg: cfg, sleep: sleepContext}
}

// PoolSize returns the number of configured credentials.
func (f *Failover) PoolSize() int { return f.pool.Len() }

// Generate returns the first successful outcome, or one of
// domain.ErrConfiguration, domain.ErrUpstreamFatal, domain.ErrCredentialsExhausted.
func (f *Failover) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationOutcome, error) {
	lg := observability.LoggerFromContext(ctx)
	if f.pool.Empty() {
		lg.Error("no upstream credentials configured", slog.String("provider", "gemini"))
		return domain.GenerationOutcome{}, fmt.Errorf("op=failover.Generate: %w", domain.ErrConfiguration)
	}

	ctx, span := observability.StartSpan(ctx, "ai.failover")
	defer span.End()
	span.SetAttributes(
		attribute.String("ai.strategy", string(req.Strategy)),
		attribute.Int("ai.pool_size", f.pool.Len()),
	)

	n := f.pool.Len()
	attempts := 0
	lastStatus := 0
	for sweep := 1; sweep <= f.cfg.Sweeps; sweep++ {
		if sweep > 1 {
			wait := f.cfg.SweepCooldown
			if lastStatus == 429 && f.cfg.BackoffInterval > wait {
				wait = f.cfg.BackoffInterval
			}
			lg.Warn("credential pool swept without success, cooling down",
				slog.Int("sweep", sweep-1),
				slog.Duration("cooldown", wait))
			if err := f.sleep(ctx, wait); err != nil {
				return f.abort(span, err)
			}
		}
		for idx := 0; idx < n; idx++ {
			if idx > 0 && lastStatus == 429 {
				if err := f.sleep(ctx, f.cfg.BackoffInterval); err != nil {
					return f.abort(span, err)
				}
			}
			if err := ctx.Err(); err != nil {
				return f.abort(span, err)
			}

			attempts++
			out := f.attempt(ctx, idx, req)
			switch out.Kind {
			case domain.OutcomeSuccess:
				span.SetAttributes(attribute.Int("ai.attempts", attempts), attribute.Int("ai.credential_index", idx))
				lg.Info("generation succeeded",
					slog.String("strategy", string(req.Strategy)),
					slog.Int("credential_index", idx),
					slog.Int("sweep", sweep),
					slog.Int("attempts", attempts),
					slog.String("completion_reason", string(out.CompletionReason)))
				return out, nil
			case domain.OutcomeTransient:
				if !domain.IsRetryableStatus(out.HTTPStatus) {
					// A generator reporting a non-retryable status as transient is treated as fatal.
					return f.fatal(ctx, span, idx, fmt.Errorf("non-retryable status %d", out.HTTPStatus))
				}
				lastStatus = out.HTTPStatus
				observability.RecordFailover(out.HTTPStatus)
				lg.Warn("credential attempt failed, rotating",
					slog.String("strategy", string(req.Strategy)),
					slog.Int("credential_index", idx),
					slog.Int("sweep", sweep),
					slog.Int("status", out.HTTPStatus))
			default:
				return f.fatal(ctx, span, idx, out.Err)
			}
		}
	}

	observability.AICredentialsExhaustedTotal.Inc()
	span.SetStatus(codes.Error, "credentials exhausted")
	lg.Error("all credentials exhausted",
		slog.String("strategy", string(req.Strategy)),
		slog.Int("pool_size", n),
		slog.Int("attempts", attempts),
		slog.Int("last_status", lastStatus))
	f.alert(ctx, n, lastStatus)
	return domain.GenerationOutcome{}, fmt.Errorf("op=failover.Generate: %w", domain.ErrCredentialsExhausted)
}

func (f *Failover) attempt(ctx context.Context, idx int, req domain.GenerationRequest) domain.GenerationOutcome {
	if f.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.AttemptTimeout)
		defer cancel()
	}
	return f.gen.Generate(ctx, f.pool.At(idx), req)
}

func (f *Failover) fatal(ctx context.Context, span trace.Span, idx int, cause error) (domain.GenerationOutcome, error) {
	if cause == nil {
		cause = errors.New("unknown upstream failure")
	}
	span.SetStatus(codes.Error, cause.Error())
	observability.LoggerFromContext(ctx).Error("fatal upstream failure, rotation stopped",
		slog.Int("credential_index", idx),
		slog.Any("error", cause))
	return domain.GenerationOutcome{}, fmt.Errorf("op=failover.Generate: %w: %w", domain.ErrUpstreamFatal, cause)
}

func (f *Failover) abort(span trace.Span, cause error) (domain.GenerationOutcome, error) {
	span.SetStatus(codes.Error, cause.Error())
	return domain.GenerationOutcome{}, fmt.Errorf("op=failover.Generate: %w: %w", domain.ErrUpstreamFatal, cause)
}

// alert notifies the operator. Failures are logged and never replace the exhaustion error.
func (f *Failover) alert(ctx context.Context, poolSize, lastStatus int) {
	if f.alerter == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	msg := fmt.Sprintf("All %d Gemini API keys failed after %d sweeps (last status %d). Requests are being rejected.",
		poolSize, f.cfg.Sweeps, lastStatus)
	if err := f.alerter.Alert(actx, msg); err != nil {
		observability.LoggerFromContext(ctx).Error("operator alert failed", slog.Any("error", err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
