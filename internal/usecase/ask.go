package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/ask-relay/internal/adapter/observability"
	"github.com/fairyhunter13/ask-relay/internal/domain"
	"github.com/fairyhunter13/ask-relay/pkg/textx"
)

// Generator produces one outcome per strategy, handling credential failover.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationOutcome, error)
}

// AnswerEvaluator decides whether an outcome can be shown to the caller.
type AnswerEvaluator interface {
	Evaluate(out domain.GenerationOutcome, strategy domain.Strategy) domain.Verdict
}

// TokenBudget guards against oversized contexts.
type TokenBudget interface {
	Exceeds(text string, limit int) (int, bool)
}

// Escalator is the subset of Bridge used by AskService.
type Escalator interface {
	Escalate(ctx context.Context, question, sessionID string) (string, error)
	DirectMessage(ctx context.Context, raw, sessionID string) (string, error)
}

// SessionChecker reports whether a session can still receive pushes.
type SessionChecker interface {
	Connected(sessionID string) bool
}

// AskInput is one caller question.
type AskInput struct {
	Question  string
	Context   string
	SessionID string
}

// AskResult is returned to the caller. Escalated means a human will answer over the session.
type AskResult struct {
	Answer    string
	Escalated bool
}

// AskOptions holds the fixed answers and limits.
type AskOptions struct {
	DirectPrefix     string
	FallbackAnswer   string
	EscalatedAnswer  string
	DirectAckAnswer  string
	MaxContextTokens int
}

// AskService answers questions from the pasted context and escalates what it cannot answer.
type AskService struct {
	Gen       Generator
	Evaluator AnswerEvaluator
	Escalator Escalator
	Budget    TokenBudget
	// Sessions, when set, gates escalation on the session being live.
	Sessions SessionChecker
	Opts     AskOptions
}

// NewAskService constructs an AskService. budget and esc may be nil.
func NewAskService(gen Generator, ev AnswerEvaluator, esc Escalator, budget TokenBudget, opts AskOptions) AskService {
	return AskService{Gen: gen, Evaluator: ev, Escalator: esc, Budget: budget, Opts: opts}
}

// Ask runs the primary strategy, then one paraphrase, then escalation.
// Configuration, exhaustion and fatal upstream errors are returned without escalating.
func (s AskService) Ask(ctx context.Context, in AskInput) (AskResult, error) {
	lg := observability.LoggerFromContext(ctx)
	question := textx.SanitizeText(in.Question)
	if question == "" {
		return AskResult{}, fmt.Errorf("%w: question required", domain.ErrInvalidArgument)
	}

	if raw, ok := textx.HasPrefixFold(question, s.Opts.DirectPrefix); ok {
		return s.direct(ctx, raw, in.SessionID)
	}

	docContext := textx.SanitizeText(in.Context)
	if docContext == "" {
		return AskResult{}, fmt.Errorf("%w: context required", domain.ErrInvalidArgument)
	}
	if s.Budget != nil && s.Opts.MaxContextTokens > 0 {
		n, over := s.Budget.Exceeds(docContext, s.Opts.MaxContextTokens)
		if n > 0 {
			observability.AIContextTokens.Observe(float64(n))
		}
		if over {
			lg.Warn("context over token budget", slog.Int("tokens", n), slog.Int("limit", s.Opts.MaxContextTokens))
			return AskResult{}, fmt.Errorf("%w: context too large (%d tokens, limit %d)", domain.ErrInvalidArgument, n, s.Opts.MaxContextTokens)
		}
	}

	for _, strategy := range []domain.Strategy{domain.StrategyPrimary, domain.StrategyParaphrase} {
		out, err := s.Gen.Generate(ctx, domain.GenerationRequest{Question: question, Context: docContext, Strategy: strategy})
		if err != nil {
			return AskResult{}, err
		}
		if v := s.Evaluator.Evaluate(out, strategy); v.Usable {
			return AskResult{Answer: v.Text}, nil
		}
		lg.Info("answer unusable",
			slog.String("strategy", string(strategy)),
			slog.String("completion_reason", string(out.CompletionReason)))
	}

	return s.escalate(ctx, question, in.SessionID)
}

func (s AskService) direct(ctx context.Context, raw, sessionID string) (AskResult, error) {
	if raw == "" {
		return AskResult{}, fmt.Errorf("%w: message required after %s", domain.ErrInvalidArgument, s.Opts.DirectPrefix)
	}
	if s.Escalator == nil {
		return AskResult{}, fmt.Errorf("op=ask.direct: %w: human channel not configured", domain.ErrEscalationDelivery)
	}
	if _, err := s.Escalator.DirectMessage(ctx, raw, sessionID); err != nil {
		return AskResult{}, err
	}
	return AskResult{Answer: s.Opts.DirectAckAnswer, Escalated: true}, nil
}

func (s AskService) escalate(ctx context.Context, question, sessionID string) (AskResult, error) {
	lg := observability.LoggerFromContext(ctx)
	if sessionID == "" || s.Escalator == nil {
		lg.Info("no answer and no route to a human, returning fallback",
			slog.Bool("has_session", sessionID != ""))
		return AskResult{Answer: s.Opts.FallbackAnswer}, nil
	}
	if s.Sessions != nil && !s.Sessions.Connected(sessionID) {
		// A reply could never be delivered to this session.
		lg.Info("session not connected, returning fallback", slog.String("session_id", sessionID))
		return AskResult{Answer: s.Opts.FallbackAnswer}, nil
	}
	if _, err := s.Escalator.Escalate(ctx, question, sessionID); err != nil {
		lg.Error("escalation failed after unusable answers", slog.Any("error", err))
		if !errors.Is(err, domain.ErrEscalationDelivery) {
			err = fmt.Errorf("%w: %w", domain.ErrEscalationDelivery, err)
		}
		return AskResult{}, err
	}
	return AskResult{Answer: s.Opts.EscalatedAnswer, Escalated: true}, nil
}
