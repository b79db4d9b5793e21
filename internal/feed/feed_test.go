package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.True(t, ok, "channel closed before a signal arrived")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func assertQuiet(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	ctx := context.Background()

	a, err := hub.Watch(ctx)
	require.NoError(t, err)
	b, err := hub.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx))
	receive(t, a)
	receive(t, b)
}

func TestHubCoalescesSignals(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, err := hub.Watch(context.Background())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		hub.Publish(context.Background())
	}
	receive(t, ch)
	assertQuiet(t, ch)
}

func TestHubWatchEndsWithContext(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := hub.Watch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Watchers())

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected channel to be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Equal(t, 0, hub.Watchers())
}

func TestHubClosed(t *testing.T) {
	hub := NewHub()
	ch, err := hub.Watch(context.Background())
	require.NoError(t, err)

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	_, ok := <-ch
	assert.False(t, ok)

	_, err = hub.Watch(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPollTicks(t *testing.T) {
	p := NewPoll(10 * time.Millisecond)
	defer p.Close()

	ch, err := p.Watch(context.Background())
	require.NoError(t, err)
	receive(t, ch)
	receive(t, ch)
}

func TestPollDefaultInterval(t *testing.T) {
	assert.Equal(t, DefaultPollInterval, NewPoll(0).Interval())
	assert.Equal(t, 2*time.Second, DefaultPollInterval)
}

func TestPollCloseEndsWatch(t *testing.T) {
	p := NewPoll(time.Hour)
	ch, err := p.Watch(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watch not ended by Close")
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)

	m, err = ParseMode("Redis")
	require.NoError(t, err)
	assert.Equal(t, ModeRedis, m)

	_, err = ParseMode("kafka")
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		opts Options
		want Mode
	}{
		{"auto sqlite", Options{DatabaseURL: "board.sqlite3"}, ModeLocal},
		{"auto without database", Options{}, ModePoll},
		{"explicit poll", Options{Mode: ModePoll, DatabaseURL: "board.sqlite3"}, ModePoll},
		{"postgres mode on sqlite", Options{Mode: ModePostgres, DatabaseURL: "board.sqlite3"}, ModePoll},
		{"redis without url", Options{Mode: ModeRedis}, ModePoll},
		{"unreachable redis", Options{RedisURL: "redis://127.0.0.1:1/0"}, ModePoll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Select(ctx, tt.opts)
			defer f.Close()
			assert.Equal(t, tt.want, f.Mode())
		})
	}
}
