// Package feed delivers "the items collection changed" signals. A signal
// carries no payload: consumers re-read the full list when one arrives.
package feed

import (
	"context"
	"time"
)

// Mode names a change-feed strategy.
type Mode string

// Feed strategies.
const (
	ModeAuto     Mode = "auto"
	ModeLocal    Mode = "local"
	ModePostgres Mode = "postgres"
	ModeRedis    Mode = "redis"
	ModePoll     Mode = "poll"
)

// DefaultPollInterval is how often the poll strategy signals.
const DefaultPollInterval = 2 * time.Second

// Feed is a source of change signals for the items collection.
type Feed interface {
	// Watch returns a channel that receives a value after every change.
	// Signals coalesce: several changes may arrive as one value. The
	// channel is closed when ctx is done or the feed is closed.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Publish announces a change made by this process. Strategies whose
	// backend announces changes on its own treat it as a no-op.
	Publish(ctx context.Context) error

	// Mode reports the strategy in use.
	Mode() Mode

	Close() error
}

// signal performs a non-blocking send; a pending signal already covers
// the new change.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
