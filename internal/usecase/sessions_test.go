package usecase

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ask-relay/internal/domain"
)

func TestSessionRegistry_RegisterLookup(t *testing.T) {
	r := NewSessionRegistry()
	r.Connect("s1")

	require.NoError(t, r.Register("m1", "s1"))
	require.NoError(t, r.Register("m2", "s1"))

	got, ok := r.Lookup("m1")
	require.True(t, ok)
	assert.Equal(t, "s1", got)
	assert.ElementsMatch(t, []string{"m1", "m2"}, r.Owned("s1"))

	_, ok = r.Lookup("unknown")
	assert.False(t, ok)
}

func TestSessionRegistry_RegisterRejectsUnknownSession(t *testing.T) {
	r := NewSessionRegistry()
	require.ErrorIs(t, r.Register("m1", "ghost"), domain.ErrSessionGone)

	r.Connect("s1")
	r.Disconnect("s1")
	require.ErrorIs(t, r.Register("m2", "s1"), domain.ErrSessionGone)
	assert.Equal(t, 0, r.Len())
}

func TestSessionRegistry_DisconnectPurgesOnlyOwnEntries(t *testing.T) {
	r := NewSessionRegistry()
	r.Connect("a")
	r.Connect("b")
	require.NoError(t, r.Register("a1", "a"))
	require.NoError(t, r.Register("a2", "a"))
	require.NoError(t, r.Register("b1", "b"))

	r.Disconnect("a")

	for _, id := range []string{"a1", "a2"} {
		_, ok := r.Lookup(id)
		assert.False(t, ok, id)
	}
	got, ok := r.Lookup("b1")
	require.True(t, ok)
	assert.Equal(t, "b", got)
	assert.Empty(t, r.Owned("a"))
	assert.False(t, r.Connected("a"))

	// idempotent
	r.Disconnect("a")
	r.Disconnect("never-connected")
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistry_EntriesSurviveLookups(t *testing.T) {
	r := NewSessionRegistry()
	r.Connect("s")
	require.NoError(t, r.Register("m", "s"))
	for i := 0; i < 3; i++ {
		_, ok := r.Lookup("m")
		assert.True(t, ok)
	}
}

func TestSessionRegistry_ReconnectKeepsEntries(t *testing.T) {
	r := NewSessionRegistry()
	r.Connect("s")
	require.NoError(t, r.Register("m", "s"))
	r.Connect("s")
	assert.Equal(t, []string{"m"}, r.Owned("s"))
}

func TestSessionRegistry_Close(t *testing.T) {
	r := NewSessionRegistry()
	r.Connect("s")
	require.NoError(t, r.Register("m", "s"))
	r.Close()
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Connected("s"))
}

// Register racing Disconnect must never leave an entry owned by a gone session.
func TestSessionRegistry_ConcurrentRegisterDisconnect(t *testing.T) {
	for round := 0; round < 50; round++ {
		r := NewSessionRegistry()
		r.Connect("s")
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = r.Register(fmt.Sprintf("m%d", i), "s")
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Disconnect("s")
		}()
		wg.Wait()

		assert.Equal(t, 0, r.Len(), "round %d", round)
		assert.False(t, r.Connected("s"))
	}
}
