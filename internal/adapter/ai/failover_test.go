package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ask-relay/internal/domain"
)

// scriptedGenerator returns outcomes keyed by credential, recording every call in order.
type scriptedGenerator struct {
	mu       sync.Mutex
	outcomes map[string]domain.GenerationOutcome
	fallback domain.GenerationOutcome
	calls    []string
	deadline []bool
}

func (g *scriptedGenerator) Generate(ctx context.Context, credential string, _ domain.GenerationRequest) domain.GenerationOutcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, credential)
	_, hasDeadline := ctx.Deadline()
	g.deadline = append(g.deadline, hasDeadline)
	if out, ok := g.outcomes[credential]; ok {
		return out
	}
	return g.fallback
}

type sleepRecorder struct {
	waits []time.Duration
	// callsAt captures how many generator calls had happened when each wait started.
	callsAt []int
	gen     *scriptedGenerator
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	if s.gen != nil {
		s.callsAt = append(s.callsAt, len(s.gen.calls))
	}
	return ctx.Err()
}

type recordingAlerter struct {
	msgs []string
	err  error
}

func (a *recordingAlerter) Alert(_ context.Context, text string) error {
	a.msgs = append(a.msgs, text)
	return a.err
}

func newTestFailover(keys []string, gen *scriptedGenerator, alerter domain.Alerter) (*Failover, *sleepRecorder) {
	f := NewFailover(NewCredentials(keys...), gen, alerter, FailoverConfig{
		BackoffInterval: time.Second,
		SweepCooldown:   2 * time.Second,
		AttemptTimeout:  time.Minute,
	})
	rec := &sleepRecorder{gen: gen}
	f.sleep = rec.sleep
	return f, rec
}

func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("k%d", i)
	}
	return out
}

var primaryReq = domain.GenerationRequest{Question: "q", Context: "c", Strategy: domain.StrategyPrimary}

func TestFailover_EmptyPoolIsConfigurationError(t *testing.T) {
	gen := &scriptedGenerator{}
	f, _ := newTestFailover(nil, gen, nil)

	_, err := f.Generate(context.Background(), primaryReq)
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Empty(t, gen.calls)

	// deterministic on every call
	_, err = f.Generate(context.Background(), primaryReq)
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestFailover_All429ExhaustsAfterTwoSweeps(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7} {
		t.Run(fmt.Sprintf("pool_%d", n), func(t *testing.T) {
			gen := &scriptedGenerator{fallback: domain.TransientFailure(429)}
			alerter := &recordingAlerter{}
			f, rec := newTestFailover(keys(n), gen, alerter)

			_, err := f.Generate(context.Background(), primaryReq)
			require.ErrorIs(t, err, domain.ErrCredentialsExhausted)
			assert.Len(t, gen.calls, 2*n)
			assert.Len(t, alerter.msgs, 1)

			// every gap between consecutive attempts has exactly one wait of at least the backoff
			require.Len(t, rec.waits, 2*n-1)
			for i, w := range rec.waits {
				assert.GreaterOrEqual(t, w, time.Second)
				assert.Equal(t, i+1, rec.callsAt[i])
			}
			// the sweep boundary uses the cooldown
			assert.Equal(t, 2*time.Second, rec.waits[n-1])
		})
	}
}

func TestFailover_SucceedsOnIndexK(t *testing.T) {
	const n = 5
	for k := 0; k < n; k++ {
		t.Run(fmt.Sprintf("k_%d", k), func(t *testing.T) {
			pool := keys(n)
			gen := &scriptedGenerator{
				fallback: domain.TransientFailure(503),
				outcomes: map[string]domain.GenerationOutcome{pool[k]: domain.Success("answer", domain.ReasonComplete)},
			}
			f, rec := newTestFailover(pool, gen, nil)

			out, err := f.Generate(context.Background(), primaryReq)
			require.NoError(t, err)
			assert.Equal(t, "answer", out.Text)
			assert.Len(t, gen.calls, k+1)
			// non-429 retryable codes advance immediately
			assert.Empty(t, rec.waits)
		})
	}
}

func TestFailover_FatalStopsRotation(t *testing.T) {
	pool := keys(4)
	cause := &domain.StatusError{Provider: "gemini", Status: 404}
	gen := &scriptedGenerator{
		fallback: domain.TransientFailure(429),
		outcomes: map[string]domain.GenerationOutcome{pool[1]: domain.FatalFailure(cause)},
	}
	alerter := &recordingAlerter{}
	f, _ := newTestFailover(pool, gen, alerter)

	_, err := f.Generate(context.Background(), primaryReq)
	require.ErrorIs(t, err, domain.ErrUpstreamFatal)
	var se *domain.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 404, se.Status)
	assert.Equal(t, []string{"k0", "k1"}, gen.calls)
	assert.Empty(t, alerter.msgs)
}

func TestFailover_MixedScenario(t *testing.T) {
	gen := &scriptedGenerator{outcomes: map[string]domain.GenerationOutcome{
		"k1": domain.TransientFailure(429),
		"k2": domain.TransientFailure(403),
		"k3": domain.Success("answer text", domain.ReasonComplete),
	}}
	f, rec := newTestFailover([]string{"k1", "k2", "k3"}, gen, nil)

	out, err := f.Generate(context.Background(), primaryReq)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.Equal(t, "answer text", out.Text)
	assert.Equal(t, domain.ReasonComplete, out.CompletionReason)
	assert.Equal(t, []string{"k1", "k2", "k3"}, gen.calls)
	// only the 429 on k1 is followed by a backoff
	assert.Equal(t, []time.Duration{time.Second}, rec.waits)
}

func TestFailover_SecondSweepSucceeds(t *testing.T) {
	gen := &flakyGenerator{failFirst: 2, status: 500}
	f := NewFailover(NewCredentials("a", "b"), gen, nil, FailoverConfig{SweepCooldown: 2 * time.Second})
	rec := &sleepRecorder{}
	f.sleep = rec.sleep

	out, err := f.Generate(context.Background(), primaryReq)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, 3, gen.calls)
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.waits)
}

func TestFailover_AlertFailureDoesNotMaskExhaustion(t *testing.T) {
	gen := &scriptedGenerator{fallback: domain.TransientFailure(500)}
	alerter := &recordingAlerter{err: errors.New("telegram down")}
	f, _ := newTestFailover(keys(2), gen, alerter)

	_, err := f.Generate(context.Background(), primaryReq)
	require.ErrorIs(t, err, domain.ErrCredentialsExhausted)
	assert.NotContains(t, err.Error(), "telegram down")
	assert.Len(t, alerter.msgs, 1)
}

func TestFailover_NonRetryableTransientIsFatal(t *testing.T) {
	gen := &scriptedGenerator{fallback: domain.TransientFailure(404)}
	f, _ := newTestFailover(keys(3), gen, nil)

	_, err := f.Generate(context.Background(), primaryReq)
	require.ErrorIs(t, err, domain.ErrUpstreamFatal)
	assert.Len(t, gen.calls, 1)
}

func TestFailover_CancelledContextStops(t *testing.T) {
	gen := &scriptedGenerator{fallback: domain.TransientFailure(429)}
	f, _ := newTestFailover(keys(3), gen, nil)
	f.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Generate(ctx, primaryReq)
	require.ErrorIs(t, err, domain.ErrUpstreamFatal)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, gen.calls)
}

func TestFailover_AttemptCarriesTimeout(t *testing.T) {
	gen := &scriptedGenerator{fallback: domain.Success("answer", domain.ReasonComplete)}
	f, _ := newTestFailover(keys(1), gen, nil)

	_, err := f.Generate(context.Background(), primaryReq)
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, gen.deadline)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
	require.NoError(t, sleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

// flakyGenerator fails the first failFirst calls with status, then succeeds.
type flakyGenerator struct {
	failFirst int
	status    int
	calls     int
}

func (g *flakyGenerator) Generate(_ context.Context, _ string, _ domain.GenerationRequest) domain.GenerationOutcome {
	g.calls++
	if g.calls <= g.failFirst {
		return domain.TransientFailure(g.status)
	}
	return domain.Success("ok", domain.ReasonComplete)
}
