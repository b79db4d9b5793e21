package board

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostfound/board/internal/db"
	"github.com/lostfound/board/internal/feed"
	"github.com/lostfound/board/internal/model"
	"github.com/lostfound/board/internal/store"
)

// fakeImages records calls and hands out unique URLs.
type fakeImages struct {
	mu        sync.Mutex
	owners    []string
	deleted   []string
	uploadErr error
	deleteErr error
}

func (f *fakeImages) Upload(_ context.Context, r io.Reader, ownerKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.owners = append(f.owners, ownerKey)
	return fmt.Sprintf("https://res.cloudinary.com/demo/image/upload/%s_%d.jpg", ownerKey, len(f.owners)), nil
}

func (f *fakeImages) Delete(_ context.Context, url string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	return false, f.deleteErr
}

// failingStore rejects writes on demand.
type failingStore struct {
	*store.Items
	createErr error
	deleteErr error
}

func (s *failingStore) Create(ctx context.Context, n model.NewItem) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	return s.Items.Create(ctx, n)
}

func (s *failingStore) Delete(ctx context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Items.Delete(ctx, id)
}

// testClock advances one second per call. The subscription goroutine
// reads it too, hence the lock.
func testClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type fixture struct {
	ctrl   *Controller
	items  *store.Items
	store  *failingStore
	images *fakeImages
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := feed.NewHub()
	t.Cleanup(func() { hub.Close() })

	items := store.NewItems(db.NewTestDB(t), db.SQLite, hub)
	items.SetClock(testClock())
	fs := &failingStore{Items: items}
	images := &fakeImages{}

	ctrl := NewController(fs, images, nil)
	ctrl.Start()
	t.Cleanup(ctrl.Close)
	waitReady(t, ctrl)

	return &fixture{ctrl: ctrl, items: items, store: fs, images: images}
}

func waitReady(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("controller never received a list")
	}
}

func backpack() model.NewItem {
	return model.NewItem{
		Kind: model.KindLost,
		Fields: model.Fields{
			Title:       "Blue Backpack",
			Description: "Left in library",
			Location:    "Library 2F",
			ContactInfo: "a@b.com",
		},
	}
}

func photo() *Upload {
	return &Upload{Filename: "photo.jpg", Body: strings.NewReader("jpeg bytes")}
}

func TestCreateWithoutImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.ctrl.Create(ctx, backpack(), nil)
	require.NoError(t, err)

	// Visible right away, without waiting for the subscription.
	it, ok := f.ctrl.Item(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusActive, it.Status)
	assert.Empty(t, it.ImageURL)
	assert.Equal(t, it.CreatedAt, it.UpdatedAt)
	assert.Empty(t, f.images.owners)
}

func TestCreateWithImageUsesPlaceholderOwner(t *testing.T) {
	f := newFixture(t)

	id, err := f.ctrl.Create(context.Background(), backpack(), photo())
	require.NoError(t, err)

	require.Len(t, f.images.owners, 1)
	assert.True(t, strings.HasPrefix(f.images.owners[0], "tmp-"))
	it, ok := f.ctrl.Item(id)
	require.True(t, ok)
	assert.Contains(t, it.ImageURL, f.images.owners[0])
}

func TestCreateValidationStopsBeforeUpload(t *testing.T) {
	f := newFixture(t)
	n := backpack()
	n.Fields.ContactInfo = " "

	_, err := f.ctrl.Create(context.Background(), n, photo())
	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, StepValidate, ferr.Step)
	assert.ErrorIs(t, err, model.ErrMissingField)
	assert.Empty(t, f.images.owners)
}

func TestCreateUploadFailureInsertsNothing(t *testing.T) {
	f := newFixture(t)
	f.images.uploadErr = errors.New("host down")

	_, err := f.ctrl.Create(context.Background(), backpack(), photo())
	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, StepUpload, ferr.Step)

	items, err := f.items.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCreateInsertFailureDiscardsUpload(t *testing.T) {
	f := newFixture(t)
	f.store.createErr = errors.New("write rejected")

	_, err := f.ctrl.Create(context.Background(), backpack(), photo())
	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, StepInsert, ferr.Step)

	require.Len(t, f.images.deleted, 1)
	assert.Contains(t, f.images.deleted[0], "tmp-")
}

func TestMarkClaimedLeavesLostFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.ctrl.Create(ctx, backpack(), nil)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.SetStatus(ctx, id, model.StatusClaimed))

	it, _ := f.ctrl.Item(id)
	assert.Equal(t, model.StatusClaimed, it.Status)
	assert.Empty(t, f.ctrl.View(Filters{Kind: "lost"}).Items)
	assert.Len(t, f.ctrl.View(Filters{Kind: KindAll}).Items, 1)

	err = f.ctrl.SetStatus(ctx, id, model.StatusResolved)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestSetStatusRejectsActive(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ctrl.Create(context.Background(), backpack(), nil)

	err := f.ctrl.SetStatus(context.Background(), id, model.StatusActive)
	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, StepValidate, ferr.Step)
}

func TestEditWithNewImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.ctrl.Create(ctx, backpack(), photo())
	require.NoError(t, err)
	before, _ := f.ctrl.Item(id)

	fields := before.Fields()
	fields.Title = "Navy Backpack"
	require.NoError(t, f.ctrl.Edit(ctx, id, fields, photo()))

	after, _ := f.ctrl.Item(id)
	assert.Equal(t, "Navy Backpack", after.Title)
	assert.NotEqual(t, before.ImageURL, after.ImageURL)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.Equal(t, model.KindLost, after.Kind)

	assert.Equal(t, []string{before.ImageURL}, f.images.deleted)
	assert.Equal(t, id, f.images.owners[1])
}

func TestEditTextOnlyKeepsImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.ctrl.Create(ctx, backpack(), photo())
	before, _ := f.ctrl.Item(id)

	fields := before.Fields()
	fields.Location = "Library 3F"
	require.NoError(t, f.ctrl.Edit(ctx, id, fields, nil))

	after, _ := f.ctrl.Item(id)
	assert.Equal(t, "Library 3F", after.Location)
	assert.Equal(t, before.ImageURL, after.ImageURL)
	assert.Empty(t, f.images.deleted)
}

func TestEditMissingItem(t *testing.T) {
	f := newFixture(t)
	err := f.ctrl.Edit(context.Background(), "nope", backpack().Fields, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRemovesRowDespiteImageFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.ctrl.Create(ctx, backpack(), photo())
	f.images.deleteErr = errors.New("not allowed")

	require.NoError(t, f.ctrl.Delete(ctx, id))

	_, ok := f.ctrl.Item(id)
	assert.False(t, ok)
	assert.Len(t, f.images.deleted, 1)
}

func TestDeleteFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.ctrl.Create(ctx, backpack(), nil)
	f.store.deleteErr = errors.New("rejected")

	err := f.ctrl.Delete(ctx, id)
	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, StepDelete, ferr.Step)
	_, ok := f.ctrl.Item(id)
	assert.True(t, ok)
}

func TestOnChangeFollowsSubscription(t *testing.T) {
	f := newFixture(t)
	changed := make(chan struct{}, 8)
	cancel := f.ctrl.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	// A write from elsewhere reaches the controller through the feed.
	_, err := f.items.Create(context.Background(), backpack())
	require.NoError(t, err)

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("listener not notified")
	}
	assert.Eventually(t, func() bool { return len(f.ctrl.Items()) == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestUnavailableKeepsLastList(t *testing.T) {
	conn := db.NewTestDB(t)
	items := store.NewItems(conn, db.SQLite, nil)
	ctrl := NewController(items, &fakeImages{}, nil)

	_, err := items.Create(context.Background(), backpack())
	require.NoError(t, err)
	require.NoError(t, ctrl.Refresh(context.Background()))
	require.Len(t, ctrl.Items(), 1)

	conn.Close()
	err = ctrl.Refresh(context.Background())
	assert.ErrorIs(t, err, store.ErrUnavailable)

	v := ctrl.View(Filters{})
	assert.Len(t, v.Items, 1)
	assert.NotEmpty(t, v.Unavailable)
}

func TestUnconfiguredStoreIsUnavailableNotEmpty(t *testing.T) {
	ctrl := NewController(store.NewItems(nil, db.SQLite, nil), &fakeImages{}, nil)
	ctrl.Start()
	defer ctrl.Close()
	waitReady(t, ctrl)

	v := ctrl.View(Filters{})
	assert.Empty(t, v.Items)
	assert.NotEmpty(t, v.Unavailable)
}

func TestCloseWithoutStart(t *testing.T) {
	ctrl := NewController(store.NewItems(nil, db.SQLite, nil), &fakeImages{}, nil)
	ctrl.Close()
	ctrl.Close()
}
