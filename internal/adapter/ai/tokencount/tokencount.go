// Package tokencount estimates prompt sizes with tiktoken so oversized
// contexts can be rejected before they reach the provider.
//
// The cl100k_base encoding is an approximation for Gemini models; it is only
// used as a guard, never for billing.
package tokencount

import (
	"log/slog"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// EncodingName is the BPE used for all counts.
const EncodingName = "cl100k_base"

// Counter counts tokens with a lazily initialised encoding.
// When the encoding cannot be loaded it falls back to ~4 bytes per token.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewCounter creates a counter. The encoding is loaded on first use.
func NewCounter() *Counter {
	return &Counter{}
}

// DefaultCounter is shared by callers that do not need their own instance.
var DefaultCounter = NewCounter()

func init() {
	// BPE ranks are embedded; nothing is fetched at runtime.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

func (c *Counter) encoding() (*tiktoken.Tiktoken, error) {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(EncodingName)
		if c.err != nil {
			slog.Warn("token encoding unavailable, using byte estimate",
				slog.String("encoding", EncodingName),
				slog.Any("error", c.err))
		}
	})
	return c.enc, c.err
}

// CountTokens returns the exact token count for text.
func (c *Counter) CountTokens(text string) (int, error) {
	enc, err := c.encoding()
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Estimate returns CountTokens, or len(text)/4 when the encoding is unavailable.
func (c *Counter) Estimate(text string) int {
	n, err := c.CountTokens(text)
	if err != nil {
		return EstimateBytes(text)
	}
	return n
}

// Exceeds reports whether text is longer than limit tokens. A limit <= 0 disables the check.
func (c *Counter) Exceeds(text string, limit int) (int, bool) {
	if limit <= 0 {
		return 0, false
	}
	// Tokens never outnumber bytes.
	if len(text) < limit {
		return EstimateBytes(text), false
	}
	n := c.Estimate(text)
	return n, n > limit
}

// EstimateBytes is the rough ~4 bytes per token rule.
func EstimateBytes(text string) int {
	return len(text) / 4
}
