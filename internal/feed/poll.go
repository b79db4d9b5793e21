package feed

import (
	"context"
	"sync"
	"time"
)

// Poll signals on a fixed interval. It is the fallback when no push
// transport is available.
type Poll struct {
	interval time.Duration
	done     chan struct{}
	once     sync.Once
}

// NewPoll creates a poll feed; a non-positive interval means DefaultPollInterval.
func NewPoll(interval time.Duration) *Poll {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poll{interval: interval, done: make(chan struct{})}
}

// Interval reports the polling period.
func (p *Poll) Interval() time.Duration { return p.interval }

func (p *Poll) Watch(ctx context.Context) (<-chan struct{}, error) {
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}

	ch := make(chan struct{}, 1)
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case <-ticker.C:
				signal(ch)
			}
		}
	}()
	return ch, nil
}

// Publish is a no-op: the next tick picks the change up.
func (p *Poll) Publish(context.Context) error { return nil }

func (p *Poll) Mode() Mode { return ModePoll }

func (p *Poll) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
