package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

type updateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

// Poller long-polls getUpdates and feeds a Dispatcher.
type Poller struct {
	src        updateSource
	dispatcher *Dispatcher
	timeout    time.Duration
	newBackoff func() backoff.BackOff
}

// NewPoller builds a poller with the given long-poll timeout.
func NewPoller(src updateSource, d *Dispatcher, timeout time.Duration) *Poller {
	return &Poller{
		src:        src,
		dispatcher: d,
		timeout:    timeout,
		newBackoff: func() backoff.BackOff {
			expo := backoff.NewExponentialBackOff()
			expo.InitialInterval = time.Second
			expo.MaxInterval = time.Minute
			expo.MaxElapsedTime = 0
			return expo
		},
	}
}

// Run polls until ctx is cancelled. Errors back off exponentially and never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("telegram poller started", slog.Duration("timeout", p.timeout))
	var offset int64
	bo := p.newBackoff()
	for {
		updates, err := p.src.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("telegram poller stopped")
				return nil
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				return errors.Join(errors.New("telegram poller gave up"), err)
			}
			slog.Warn("telegram getUpdates failed", slog.Any("error", err), slog.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				slog.Info("telegram poller stopped")
				return nil
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			p.dispatcher.HandleUpdate(ctx, u)
		}
	}
}
