package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostfound/board/internal/db"
	"github.com/lostfound/board/internal/feed"
)

func newSubscribedItems(t *testing.T) (*Items, chan Snapshot, *Subscription) {
	t.Helper()
	hub := feed.NewHub()
	t.Cleanup(func() { hub.Close() })

	s := NewItems(db.NewTestDB(t), db.SQLite, hub)
	snaps := make(chan Snapshot, 16)
	sub := s.Subscribe(func(snap Snapshot) { snaps <- snap })
	t.Cleanup(sub.Stop)
	return s, snaps, sub
}

func nextSnapshot(t *testing.T, snaps <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-snaps:
		return snap
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	_, snaps, _ := newSubscribedItems(t)

	snap := nextSnapshot(t, snaps)
	require.NoError(t, snap.Err)
	assert.Empty(t, snap.Items)
	assert.False(t, snap.At.IsZero())
}

func TestSubscribeDeliversFullListOnChange(t *testing.T) {
	s, snaps, _ := newSubscribedItems(t)
	nextSnapshot(t, snaps)

	id, err := s.Create(context.Background(), backpack())
	require.NoError(t, err)

	snap := nextSnapshot(t, snaps)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, id, snap.Items[0].ID)
}

func TestStopEndsDelivery(t *testing.T) {
	s, snaps, sub := newSubscribedItems(t)
	nextSnapshot(t, snaps)

	sub.Stop()
	sub.Stop()

	_, err := s.Create(context.Background(), backpack())
	require.NoError(t, err)

	select {
	case snap := <-snaps:
		t.Fatalf("callback invoked after Stop: %+v", snap)
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case <-sub.Done():
	default:
		t.Error("expected delivery loop to have exited")
	}
}

func TestStopNilSubscription(t *testing.T) {
	var sub *Subscription
	assert.NotPanics(t, sub.Stop)
}

func TestSubscribeUnavailableStore(t *testing.T) {
	s := NewItems(nil, "", feed.NewPoll(time.Hour))
	snaps := make(chan Snapshot, 1)
	sub := s.Subscribe(func(snap Snapshot) { snaps <- snap })
	defer sub.Stop()

	snap := nextSnapshot(t, snaps)
	assert.ErrorIs(t, snap.Err, ErrUnavailable)
	assert.Empty(t, snap.Items)
}

func TestSubscribeSurvivesClosedFeed(t *testing.T) {
	hub := feed.NewHub()
	hub.Close()

	s := NewItems(db.NewTestDB(t), db.SQLite, hub)
	snaps := make(chan Snapshot, 1)
	sub := s.Subscribe(func(snap Snapshot) { snaps <- snap })
	defer sub.Stop()

	snap := nextSnapshot(t, snaps)
	assert.NoError(t, snap.Err)
}
