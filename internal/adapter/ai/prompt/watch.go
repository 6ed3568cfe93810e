package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fairyhunter13/ask-relay/internal/domain"
)

// Store holds the active template set and swaps it atomically on reload.
type Store struct {
	cur      atomic.Pointer[Set]
	path     string
	sentinel string
}

// NewStore loads path (or the embedded defaults) into a Store.
func NewStore(path, sentinel string) (*Store, error) {
	s, err := Load(path, sentinel)
	if err != nil {
		return nil, err
	}
	st := &Store{path: path, sentinel: sentinel}
	st.cur.Store(s)
	return st, nil
}

// Current returns the active set.
func (st *Store) Current() *Set { return st.cur.Load() }

// Build renders with the active set.
func (st *Store) Build(req domain.GenerationRequest) (Built, error) {
	return st.Current().Build(req)
}

// Reload re-reads the file. On error the previous set stays active.
func (st *Store) Reload() error {
	s, err := Load(st.path, st.sentinel)
	if err != nil {
		return err
	}
	st.cur.Store(s)
	return nil
}

// Watch reloads the store whenever its file changes, until ctx is done.
// Events are debounced because editors often write a file in several steps.
// A store backed by the embedded defaults has nothing to watch and returns at once.
func (st *Store) Watch(ctx context.Context, debounce time.Duration) error {
	if st.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("op=prompt.Watch: %w", err)
	}
	defer w.Close()

	// Watch the directory so atomic rename-into-place saves are seen.
	target := filepath.Clean(st.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("op=prompt.Watch: %w", err)
	}

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		trigger = fsnotify.Write | fsnotify.Create | fsnotify.Rename
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&trigger == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("prompt watcher error", slog.Any("error", err))
		case <-fire:
			fire = nil
			if err := st.Reload(); err != nil {
				slog.Error("prompt reload failed, keeping previous templates",
					slog.String("path", st.path), slog.Any("error", err))
				continue
			}
			slog.Info("prompt templates reloaded", slog.String("path", st.path))
		}
	}
}
