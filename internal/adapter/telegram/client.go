// Package telegram is the human channel: it posts escalations and alerts to a
// Telegram group through the Bot API and turns operator replies into domain.Reply values.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ask-relay/internal/adapter/observability"
	"github.com/fairyhunter13/ask-relay/internal/domain"
)

// DefaultBaseURL is the public Bot API host.
const DefaultBaseURL = "https://api.telegram.org"

// maxFileBytes bounds photo downloads.
const maxFileBytes = 20 << 20

// Options configures a Client.
type Options struct {
	BaseURL     string
	Token       string
	ChatID      string
	AlertChatID string
	HTTPClient  *http.Client
	// MaxElapsed bounds send retries. Zero uses 30s.
	MaxElapsed time.Duration
	// InitialInterval is the first retry delay. Zero uses 500ms.
	InitialInterval time.Duration
}

// Client talks to the Bot API.
type Client struct {
	base        string
	fileBase    string
	chatID      string
	alertChatID string
	hc          *http.Client
	maxElapsed  time.Duration
	initial     time.Duration
}

// New builds a client. AlertChatID falls back to ChatID.
func New(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	base := strings.TrimRight(o.BaseURL, "/")
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   90 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if o.AlertChatID == "" {
		o.AlertChatID = o.ChatID
	}
	if o.MaxElapsed <= 0 {
		o.MaxElapsed = 30 * time.Second
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	return &Client{
		base:        base + "/bot" + o.Token,
		fileBase:    base + "/file/bot" + o.Token,
		chatID:      o.ChatID,
		alertChatID: o.AlertChatID,
		hc:          hc,
		maxElapsed:  o.MaxElapsed,
		initial:     o.InitialInterval,
	}
}

// ChatID is the operator group chat.
func (c *Client) ChatID() string { return c.chatID }

// APIError is a Bot API error response.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts msg to the group and returns the Telegram message id.
func (c *Client) Send(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	chat := c.chatID
	if msg.Kind == domain.KindAlert {
		chat = c.alertChatID
	}
	body := map[string]any{
		"chat_id":    chat,
		"text":       Format(msg),
		"parse_mode": "MarkdownV2",
	}
	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := c.callRetry(ctx, "sendMessage", body, &sent); err != nil {
		return "", fmt.Errorf("op=telegram.Send: %w", err)
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

// Alert implements domain.Alerter.
func (c *Client) Alert(ctx context.Context, text string) error {
	_, err := c.Send(ctx, domain.OutboundMessage{Kind: domain.KindAlert, Text: text})
	return err
}

// GetMe verifies the token. Used by readiness checks.
func (c *Client) GetMe(ctx context.Context) error {
	var me struct {
		ID int64 `json:"id"`
	}
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return fmt.Errorf("op=telegram.GetMe: %w", err)
	}
	return nil
}

// GetUpdates long-polls for new updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, fmt.Errorf("op=telegram.GetUpdates: %w", err)
	}
	return updates, nil
}

// DownloadFile resolves fileID with getFile and fetches its bytes.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var f struct {
		FilePath string `json:"file_path"`
	}
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return nil, fmt.Errorf("op=telegram.DownloadFile: %w", err)
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("op=telegram.DownloadFile: %w: empty file path", domain.ErrNotFound)
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileBase+"/"+f.FilePath, nil)
	if err != nil {
		return nil, fmt.Errorf("op=telegram.DownloadFile: %w", err)
	}
	resp, err := c.hc.Do(r)
	if err != nil {
		return nil, fmt.Errorf("op=telegram.DownloadFile: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("op=telegram.DownloadFile: status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxFileBytes))
	if err != nil {
		return nil, fmt.Errorf("op=telegram.DownloadFile: %w", err)
	}
	return b, nil
}

// nonIdempotent methods are not retried once the request reached the wire,
// since Telegram may already have posted the message.
var nonIdempotent = map[string]bool{"sendMessage": true}

// transportError is a failure below the Bot API. written reports whether the
// full request was sent before the failure.
type transportError struct {
	method  string
	written bool
	err     error
}

func (e *transportError) Error() string { return fmt.Sprintf("telegram %s: %v", e.method, e.err) }
func (e *transportError) Unwrap() error { return e.err }

// retryAfterBackOff lets a server-provided retry_after stretch the next wait.
type retryAfterBackOff struct {
	backoff.BackOff
	next time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if b.next > d {
		d = b.next
	}
	b.next = 0
	return d
}

func (b *retryAfterBackOff) Reset() {
	b.next = 0
	b.BackOff.Reset()
}

// callRetry retries 429 and 5xx responses and network errors; other 4xx are permanent.
// A 429 waits at least retry_after, and gives up when that exceeds the retry budget.
func (c *Client) callRetry(ctx context.Context, method string, body any, out any) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.initial
	expo.MaxElapsedTime = c.maxElapsed
	hinted := &retryAfterBackOff{BackOff: expo}
	bo := backoff.WithContext(hinted, ctx)

	op := func() error {
		err := c.call(ctx, method, body, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			if apiErr.Code == http.StatusTooManyRequests && apiErr.RetryAfter > 0 {
				wait := time.Duration(apiErr.RetryAfter) * time.Second
				if wait > c.maxElapsed {
					return backoff.Permanent(err)
				}
				hinted.next = wait
			}
		}
		var te *transportError
		if errors.As(err, &te) && te.written && nonIdempotent[method] {
			return backoff.Permanent(err)
		}
		observability.LoggerFromContext(ctx).Warn("telegram call failed, retrying",
			slog.String("method", method),
			slog.Any("error", err))
		return err
	}
	return backoff.Retry(op, bo)
}

func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	var rdr io.Reader
	httpMethod := http.MethodGet
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
		httpMethod = http.MethodPost
	}
	r, err := http.NewRequestWithContext(ctx, httpMethod, c.base+"/"+method, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	var written atomic.Bool
	r = r.WithContext(httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				written.Store(true)
			}
		},
	}))
	resp, err := c.hc.Do(r)
	if err != nil {
		// url.Error embeds the token-bearing URL.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return &transportError{method: method, written: written.Load(), err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	var ar apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&ar); err != nil {
		return &APIError{Method: method, Code: resp.StatusCode, Description: "undecodable response"}
	}
	if !ar.OK {
		e := &APIError{Method: method, Code: ar.ErrorCode, Description: ar.Description}
		if e.Code == 0 {
			e.Code = resp.StatusCode
		}
		if ar.Parameters != nil {
			e.RetryAfter = ar.Parameters.RetryAfter
		}
		return e
	}
	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}
