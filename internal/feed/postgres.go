package feed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// listenTimeout bounds how long NewPostgres waits for LISTEN to be acknowledged.
const listenTimeout = 5 * time.Second

// Postgres relays NOTIFY events fired by the items trigger. Writes from any
// process connected to the same database reach every watcher.
type Postgres struct {
	listener *pq.Listener
	hub      *Hub
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPostgres connects a listener to channel on the database at dsn.
// It fails when the database cannot be reached, so callers can fall back
// to polling.
func NewPostgres(ctx context.Context, dsn, channel string) (*Postgres, error) {
	probe, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	pingCtx, cancelPing := context.WithTimeout(ctx, listenTimeout)
	err = probe.PingContext(pingCtx)
	cancelPing()
	probe.Close()
	if err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	listener := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			slog.Warn("change feed reconnect failed", "error", err)
		case pq.ListenerEventDisconnected:
			slog.Warn("change feed disconnected", "error", err)
		case pq.ListenerEventReconnected:
			slog.Info("change feed reconnected")
		}
	})

	listened := make(chan error, 1)
	go func() { listened <- listener.Listen(channel) }()
	select {
	case err := <-listened:
		if err != nil {
			listener.Close()
			return nil, fmt.Errorf("listening on %s: %w", channel, err)
		}
	case <-time.After(listenTimeout):
		listener.Close()
		return nil, fmt.Errorf("listening on %s: timed out", channel)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p := &Postgres{
		listener: listener,
		hub:      NewHub(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go p.relay(loopCtx)
	return p, nil
}

// relay forwards notifications to the hub. A nil notification follows a
// reconnect, when changes may have been missed, so it is forwarded too.
func (p *Postgres) relay(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-p.listener.Notify:
			if !ok {
				return
			}
			p.hub.Publish(ctx)
		case <-time.After(90 * time.Second):
			go p.listener.Ping()
		}
	}
}

func (p *Postgres) Watch(ctx context.Context) (<-chan struct{}, error) {
	return p.hub.Watch(ctx)
}

// Publish is a no-op: the trigger notifies on every write.
func (p *Postgres) Publish(context.Context) error { return nil }

func (p *Postgres) Mode() Mode { return ModePostgres }

func (p *Postgres) Close() error {
	p.cancel()
	err := p.listener.Close()
	<-p.done
	p.hub.Close()
	return err
}
