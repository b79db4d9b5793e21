package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lostfound/board/internal/db"
	"github.com/lostfound/board/internal/feed"
	"github.com/lostfound/board/internal/model"
)

var (
	// ErrUnavailable marks reads and writes that could not reach the store,
	// including a store that was never configured.
	ErrUnavailable = errors.New("persistence unavailable")

	ErrNotFound = errors.New("item not found")
)

const itemColumns = `id, kind, title, description, location, contact_info, image_url, status, created_at, updated_at`

// Items is the persistence client for the items collection.
type Items struct {
	conn    *sql.DB
	dialect db.Dialect
	feed    feed.Feed
	now     func() time.Time
}

// NewItems creates a client over conn. A nil conn yields a client whose
// every call fails with ErrUnavailable; f may be nil when no change feed
// is wanted.
func NewItems(conn *sql.DB, dialect db.Dialect, f feed.Feed) *Items {
	return &Items{
		conn:    conn,
		dialect: dialect,
		feed:    f,
		now:     func() time.Time { return time.Now() },
	}
}

// SetClock replaces the time source used to stamp rows.
func (s *Items) SetClock(now func() time.Time) {
	s.now = now
}

// stamp returns the current time at the precision both dialects keep.
func (s *Items) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Available reports whether a database is configured.
func (s *Items) Available() bool {
	return s.conn != nil
}

// Health pings the database.
func (s *Items) Health(ctx context.Context) error {
	if s.conn == nil {
		return ErrUnavailable
	}
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// List returns all items, most recent first.
func (s *Items) List(ctx context.Context) ([]model.Item, error) {
	return s.query(ctx, "listing items",
		`SELECT `+itemColumns+` FROM items ORDER BY created_at DESC, id DESC`)
}

// ListByKind returns the items of one kind, most recent first.
func (s *Items) ListByKind(ctx context.Context, kind model.Kind) ([]model.Item, error) {
	return s.query(ctx, "listing items by kind",
		`SELECT `+itemColumns+` FROM items WHERE kind = ? ORDER BY created_at DESC, id DESC`,
		string(kind))
}

// Get returns an item by ID.
func (s *Items) Get(ctx context.Context, id string) (*model.Item, error) {
	if s.conn == nil {
		return nil, ErrUnavailable
	}
	row := s.conn.QueryRowContext(ctx,
		s.rebind(`SELECT `+itemColumns+` FROM items WHERE id = ?`), id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w: %w", ErrUnavailable, err)
	}
	return item, nil
}

// Create inserts a new active item and returns its ID.
func (s *Items) Create(ctx context.Context, n model.NewItem) (string, error) {
	if err := n.Validate(); err != nil {
		return "", err
	}
	if s.conn == nil {
		return "", ErrUnavailable
	}

	id := uuid.NewString()
	now := s.stamp()
	f := n.Fields.Trimmed()
	_, err := s.conn.ExecContext(ctx, s.rebind(
		`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id, string(n.Kind), f.Title, f.Description, f.Location, f.ContactInfo,
		nullString(n.ImageURL), string(model.StatusActive), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("creating item: %w", err)
	}

	s.publish(ctx)
	return id, nil
}

// Update writes the fields set in p and stamps updated_at. A status change
// only applies to an active item; otherwise ErrInvalidTransition.
func (s *Items) Update(ctx context.Context, id string, p model.Patch) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if s.conn == nil {
		return ErrUnavailable
	}
	if p.Empty() {
		return nil
	}

	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	text := func(col string, v *string) {
		if v != nil {
			set(col, strings.TrimSpace(*v))
		}
	}
	text("title", p.Title)
	text("description", p.Description)
	text("location", p.Location)
	text("contact_info", p.ContactInfo)
	if p.ImageURL != nil {
		set("image_url", nullString(*p.ImageURL))
	}
	if p.Status != nil {
		set("status", string(*p.Status))
	}
	set("updated_at", s.stamp())

	query := `UPDATE items SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)
	if p.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(model.StatusActive))
	}

	result, err := s.conn.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		if p.Status != nil {
			return fmt.Errorf("%w: item is no longer active", model.ErrInvalidTransition)
		}
	}

	s.publish(ctx)
	return nil
}

// Delete removes an item.
func (s *Items) Delete(ctx context.Context, id string) error {
	if s.conn == nil {
		return ErrUnavailable
	}
	result, err := s.conn.ExecContext(ctx, s.rebind(`DELETE FROM items WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.publish(ctx)
	return nil
}

func (s *Items) query(ctx context.Context, op, query string, args ...any) ([]model.Item, error) {
	if s.conn == nil {
		return nil, ErrUnavailable
	}
	rows, err := s.conn.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w: %w", ErrUnavailable, err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return items, nil
}

// publish announces a write. A feed failure does not fail the write:
// subscribers still catch up on their next signal or poll.
func (s *Items) publish(ctx context.Context) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx); err != nil {
		slog.Warn("failed to publish change", "error", err)
	}
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *Items) rebind(query string) string {
	if s.dialect != db.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*model.Item, error) {
	var item model.Item
	var kind, status string
	var imageURL sql.NullString
	if err := row.Scan(&item.ID, &kind, &item.Title, &item.Description, &item.Location,
		&item.ContactInfo, &imageURL, &status, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.Kind = model.Kind(kind)
	item.Status = model.Status(status)
	item.ImageURL = imageURL.String
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
