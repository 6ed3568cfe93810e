// Package gemini implements domain.Generator against the Gemini generateContent REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ask-relay/internal/adapter/ai/prompt"
	"github.com/fairyhunter13/ask-relay/internal/adapter/observability"
	"github.com/fairyhunter13/ask-relay/internal/domain"
)

const (
	// DefaultBaseURL is the public v1beta endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel is used when none is configured.
	DefaultModel = "gemini-2.5-flash"

	providerName = "gemini"
	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 8 << 20
	snippetBytes     = 512
)

// Statuses reported for transport failures, which have no HTTP status of their own.
const (
	StatusNetworkError = http.StatusBadGateway
	StatusTimeout      = http.StatusGatewayTimeout
)

var harmCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// Prompts renders the instruction for a request. Both *prompt.Set and *prompt.Store satisfy it.
type Prompts interface {
	Build(req domain.GenerationRequest) (prompt.Built, error)
}

// Client issues one generateContent call per Generate.
type Client struct {
	baseURL string
	model   string
	prompts Prompts
	hc      *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default traced HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// New constructs a client. Empty baseURL or model select the defaults.
func New(baseURL, model string, prompts Prompts, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		prompts: prompts,
		// Per-attempt deadlines come from the caller's context.
		hc: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	SafetySettings   []safetySetting  `json:"safetySettings"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Generate performs a single provider call with credential and classifies the result.
func (c *Client) Generate(ctx context.Context, credential string, req domain.GenerationRequest) domain.GenerationOutcome {
	built, err := c.prompts.Build(req)
	if err != nil {
		return domain.FatalFailure(fmt.Errorf("op=gemini.Generate: %w", err))
	}
	body, err := json.Marshal(newRequest(built))
	if err != nil {
		return domain.FatalFailure(fmt.Errorf("op=gemini.Generate: marshal: %w", err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.FatalFailure(fmt.Errorf("op=gemini.Generate: new request: %w", err))
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("x-goog-api-key", credential)

	lg := observability.LoggerFromContext(ctx)
	start := time.Now()
	resp, err := c.hc.Do(r)
	observability.ObserveAIRequest(providerName, string(req.Strategy), start)
	if err != nil {
		return classifyTransportError(ctx, lg, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransportError(ctx, lg, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodySnippet := snippet(raw)
		if domain.IsRetryableStatus(resp.StatusCode) {
			lg.Warn("ai provider non-2xx",
				slog.String("provider", providerName),
				slog.String("model", c.model),
				slog.Int("status", resp.StatusCode),
				slog.String("body", bodySnippet))
			return domain.TransientFailure(resp.StatusCode)
		}
		lg.Error("ai provider non-retryable status",
			slog.String("provider", providerName),
			slog.String("model", c.model),
			slog.Int("status", resp.StatusCode),
			slog.String("body", bodySnippet))
		return domain.FatalFailure(&domain.StatusError{Provider: providerName, Status: resp.StatusCode, Body: bodySnippet})
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		lg.Error("ai provider decode error", slog.String("provider", providerName), slog.Any("error", err))
		return domain.FatalFailure(fmt.Errorf("op=gemini.Generate: decode: %w", err))
	}
	return decodeOutcome(out)
}

func newRequest(b prompt.Built) generateRequest {
	safety := make([]safetySetting, 0, len(harmCategories))
	for _, cat := range harmCategories {
		safety = append(safety, safetySetting{Category: cat, Threshold: "BLOCK_NONE"})
	}
	return generateRequest{
		Contents:       []content{{Role: "user", Parts: []part{{Text: b.Text}}}},
		SafetySettings: safety,
		GenerationConfig: generationConfig{
			Temperature:     b.Temperature,
			TopK:            b.TopK,
			TopP:            b.TopP,
			MaxOutputTokens: b.MaxOutputTokens,
		},
	}
}

func decodeOutcome(out generateResponse) domain.GenerationOutcome {
	if len(out.Candidates) == 0 {
		if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
			return domain.Success("", domain.ReasonSafetyBlocked)
		}
		return domain.Success("", domain.ReasonOther)
	}
	cand := out.Candidates[0]
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	return domain.Success(sb.String(), mapFinishReason(cand.FinishReason))
}

func mapFinishReason(r string) domain.CompletionReason {
	switch r {
	case "STOP", "MAX_TOKENS":
		return domain.ReasonComplete
	case "SAFETY":
		return domain.ReasonSafetyBlocked
	case "RECITATION":
		return domain.ReasonRecitationBlocked
	default:
		return domain.ReasonOther
	}
}

// classifyTransportError separates caller cancellation (fatal) from attempt
// timeouts and network failures (transient).
func classifyTransportError(ctx context.Context, lg *slog.Logger, err error) domain.GenerationOutcome {
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.FatalFailure(fmt.Errorf("op=gemini.Generate: %w", context.Canceled))
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		lg.Warn("ai provider timeout", slog.String("provider", providerName), slog.Any("error", err))
		return domain.TransientFailure(StatusTimeout)
	}
	lg.Warn("ai provider network error", slog.String("provider", providerName), slog.Any("error", err))
	return domain.TransientFailure(StatusNetworkError)
}

func snippet(b []byte) string {
	if len(b) > snippetBytes {
		b = b[:snippetBytes]
	}
	return string(b)
}
