package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fairyhunter13/ask-relay/internal/adapter/observability"
	"github.com/fairyhunter13/ask-relay/internal/domain"
	"github.com/fairyhunter13/ask-relay/internal/service/breaker"
	"github.com/fairyhunter13/ask-relay/internal/service/ratelimiter"
)

// Push events delivered to live sessions.
const (
	EventAdminReply = "admin_reply"
	EventAdminImage = "admin_image"
)

// EscalationThrottleKey is the limiter bucket shared by all human-channel sends.
const EscalationThrottleKey = "telegram:send"

// Bridge hands questions to the human channel and routes replies back to the
// session that asked.
type Bridge struct {
	Channel  domain.HumanChannel
	Registry *SessionRegistry
	Pusher   domain.Pusher
	Limiter  ratelimiter.Limiter
	// Breaker fails sends fast while the channel is down. Optional.
	Breaker *breaker.Breaker
}

// NewBridge wires a bridge. limiter may be nil.
func NewBridge(ch domain.HumanChannel, reg *SessionRegistry, p domain.Pusher, limiter ratelimiter.Limiter) *Bridge {
	return &Bridge{Channel: ch, Registry: reg, Pusher: p, Limiter: limiter}
}

// Escalate sends an unanswered question to the operators and correlates the
// resulting message with sessionID.
func (b *Bridge) Escalate(ctx context.Context, question, sessionID string) (string, error) {
	return b.send(ctx, "bridge.Escalate", domain.OutboundMessage{Kind: domain.KindEscalation, Text: question}, sessionID)
}

// DirectMessage sends caller-authored text as is. Markup escaping happens in the channel.
func (b *Bridge) DirectMessage(ctx context.Context, raw, sessionID string) (string, error) {
	return b.send(ctx, "bridge.DirectMessage", domain.OutboundMessage{Kind: domain.KindDirect, Text: raw}, sessionID)
}

func (b *Bridge) send(ctx context.Context, op string, msg domain.OutboundMessage, sessionID string) (string, error) {
	ctx, span := observability.StartSpan(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("escalation.kind", string(msg.Kind)))
	lg := observability.LoggerFromContext(ctx)

	if b.Channel == nil {
		err := fmt.Errorf("op=%s: %w: human channel not configured", op, domain.ErrEscalationDelivery)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordEscalation(string(msg.Kind), err)
		return "", err
	}
	if err := ratelimiter.Wait(ctx, b.Limiter, EscalationThrottleKey); err != nil {
		span.SetStatus(codes.Error, err.Error())
		observability.RecordEscalation(string(msg.Kind), err)
		return "", fmt.Errorf("op=%s: %w: %w", op, domain.ErrEscalationDelivery, err)
	}

	if err := b.Breaker.Allow(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		observability.RecordEscalation(string(msg.Kind), err)
		return "", fmt.Errorf("op=%s: %w: %w", op, domain.ErrEscalationDelivery, err)
	}

	id, err := b.Channel.Send(ctx, msg)
	b.Breaker.Record(err)
	observability.RecordEscalation(string(msg.Kind), err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		lg.Error("human channel send failed", slog.String("kind", string(msg.Kind)), slog.Any("error", err))
		return "", fmt.Errorf("op=%s: %w: %w", op, domain.ErrEscalationDelivery, err)
	}
	span.SetAttributes(attribute.String("escalation.message_id", id))

	if sessionID == "" {
		lg.Warn("escalated without a session, reply cannot be routed", slog.String("message_id", id))
		return id, nil
	}
	if err := b.Registry.Register(id, sessionID); err != nil {
		lg.Warn("correlation not recorded",
			slog.String("message_id", id),
			slog.String("session_id", sessionID),
			slog.Any("error", err))
		return id, nil
	}
	lg.Info("message sent to human channel",
		slog.String("kind", string(msg.Kind)),
		slog.String("message_id", id),
		slog.String("session_id", sessionID))
	return id, nil
}

// OnExternalReply pushes an operator reply to the owning session. Replies to
// unknown messages or disconnected sessions are dropped.
func (b *Bridge) OnExternalReply(ctx context.Context, replyToMessageID string, reply domain.Reply) {
	lg := observability.LoggerFromContext(ctx)
	sessionID, ok := b.Registry.Lookup(replyToMessageID)
	if !ok {
		observability.RepliesTotal.WithLabelValues("dropped").Inc()
		lg.Debug("reply to unknown message dropped", slog.String("reply_to", replyToMessageID))
		return
	}

	if reply.Text != "" {
		b.Pusher.Push(sessionID, EventAdminReply, reply.Text)
	}
	if len(reply.Image) > 0 {
		b.Pusher.Push(sessionID, EventAdminImage, dataURL(reply.Image))
	}
	if reply.Caption != "" {
		b.Pusher.Push(sessionID, EventAdminReply, reply.Caption)
	}
	observability.RepliesTotal.WithLabelValues("delivered").Inc()
	lg.Info("operator reply delivered",
		slog.String("reply_to", replyToMessageID),
		slog.String("session_id", sessionID),
		slog.Bool("has_text", reply.Text != ""),
		slog.Bool("has_image", len(reply.Image) > 0))
}

func dataURL(b []byte) string {
	mt := mimetype.Detect(b)
	return "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(b)
}
