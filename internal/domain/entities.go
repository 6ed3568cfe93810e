package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	// ErrConfiguration means no upstream credentials are configured. Never retried.
	ErrConfiguration = errors.New("configuration missing")
	// ErrCredentialsExhausted is terminal after both sweeps over the credential pool.
	ErrCredentialsExhausted = errors.New("all credentials exhausted")
	// ErrUpstreamFatal wraps a non-retryable provider failure.
	ErrUpstreamFatal = errors.New("upstream fatal error")
	// ErrEscalationDelivery means the human channel could not be reached.
	ErrEscalationDelivery = errors.New("escalation delivery failed")
	// ErrSessionGone is returned when bookkeeping targets a session that is not connected.
	ErrSessionGone = errors.New("session gone")
)

// Strategy selects the instruction template and sampling parameters.
type Strategy string

const (
	StrategyPrimary    Strategy = "primary"
	StrategyParaphrase Strategy = "paraphrase"
)

// GenerationRequest is immutable once constructed.
type GenerationRequest struct {
	Question string
	Context  string
	Strategy Strategy
}

// CompletionReason is the provider's stated reason for ending generation.
type CompletionReason string

const (
	ReasonComplete          CompletionReason = "COMPLETE"
	ReasonSafetyBlocked     CompletionReason = "SAFETY_BLOCKED"
	ReasonRecitationBlocked CompletionReason = "RECITATION_BLOCKED"
	ReasonOther             CompletionReason = "OTHER"
)

// OutcomeKind tags a GenerationOutcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransient
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// GenerationOutcome is the result of exactly one provider call.
// Only the fields matching Kind are meaningful.
type GenerationOutcome struct {
	Kind             OutcomeKind
	Text             string
	CompletionReason CompletionReason
	HTTPStatus       int
	Err              error
}

// Success builds a successful outcome.
func Success(text string, reason CompletionReason) GenerationOutcome {
	return GenerationOutcome{Kind: OutcomeSuccess, Text: text, CompletionReason: reason}
}

// TransientFailure builds a retryable outcome carrying the provider status.
func TransientFailure(status int) GenerationOutcome {
	return GenerationOutcome{Kind: OutcomeTransient, HTTPStatus: status}
}

// FatalFailure builds a non-retryable outcome.
func FatalFailure(err error) GenerationOutcome {
	return GenerationOutcome{Kind: OutcomeFatal, Err: err}
}

// IsRetryableStatus reports whether a provider status should rotate credentials.
func IsRetryableStatus(status int) bool {
	switch {
	case status == 429, status == 400, status == 403:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// Verdict is an answer evaluation. Text is the cleaned answer when Usable.
type Verdict struct {
	Usable bool
	Text   string
}

// MessageKind selects how the human channel formats an outbound message.
type MessageKind string

const (
	KindEscalation MessageKind = "escalation"
	KindDirect     MessageKind = "direct"
	KindAlert      MessageKind = "alert"
)

// OutboundMessage is raw caller or system text; the transport applies its own markup escaping.
type OutboundMessage struct {
	Kind MessageKind
	Text string
}

// Reply is an inbound human operator reply. Text, Image and Caption are independent.
type Reply struct {
	Text    string
	Image   []byte
	Caption string
}

// Ports

// Generator issues a single completion request with one credential.
type Generator interface {
	Generate(ctx Context, credential string, req GenerationRequest) GenerationOutcome
}

// HumanChannel delivers messages to the operator group and returns the channel message id.
type HumanChannel interface {
	Send(ctx Context, msg OutboundMessage) (string, error)
}

// Alerter notifies an operator about a terminal condition. Best effort.
type Alerter interface {
	Alert(ctx Context, text string) error
}

// Pusher pushes an event to a live caller session. Unknown sessions are a no-op.
type Pusher interface {
	Push(sessionID, event string, payload any)
}

// StatusError carries a provider HTTP status for logging.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d", e.Provider, e.Status)
}

// Context is an alias to keep ports free of direct stdlib imports in signatures.
type Context = context.Context
