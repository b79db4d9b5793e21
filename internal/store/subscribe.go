package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lostfound/board/internal/feed"
	"github.com/lostfound/board/internal/model"
)

// Snapshot is one delivery of a subscription: the full list as of At, or
// the reason it could not be read.
type Snapshot struct {
	Items []model.Item
	Err   error
	At    time.Time
}

// Subscription is a running delivery loop started by Subscribe.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe delivers the full item list to fn right away and again after
// every change reported by the feed. Without a feed, or when the feed
// cannot be watched, it polls every feed.DefaultPollInterval.
//
// Deliveries are sequential. fn must not call Stop on its own subscription.
func (s *Items) Subscribe(fn func(Snapshot)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	// Watch before the first read so no change slips between the two.
	changes := s.watch(ctx)
	go s.deliver(ctx, sub, changes, fn)
	return sub
}

func (s *Items) watch(ctx context.Context) <-chan struct{} {
	if s.feed != nil {
		ch, err := s.feed.Watch(ctx)
		if err == nil {
			return ch
		}
		slog.Warn("change feed unavailable, polling instead", "mode", s.feed.Mode(), "error", err)
	}
	ch, _ := feed.NewPoll(feed.DefaultPollInterval).Watch(ctx)
	return ch
}

func (s *Items) deliver(ctx context.Context, sub *Subscription, changes <-chan struct{}, fn func(Snapshot)) {
	defer close(sub.done)

	send := func() {
		items, err := s.List(ctx)
		if ctx.Err() != nil {
			return
		}
		fn(Snapshot{Items: items, Err: err, At: s.now()})
	}

	send()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("change feed closed, polling instead")
				changes, _ = feed.NewPoll(feed.DefaultPollInterval).Watch(ctx)
				continue
			}
			send()
		}
	}
}

// Stop ends delivery. Once Stop returns the callback is not invoked again.
// It is safe to call more than once and on a nil Subscription.
func (sub *Subscription) Stop() {
	if sub == nil {
		return
	}
	sub.once.Do(sub.cancel)
	<-sub.done
}

// Done is closed when the delivery loop has exited.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}
