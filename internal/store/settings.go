package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PreviewSecret retrieves the key that signs preview references.
// If no key exists, it generates one, stores it, and returns it.
// Uses insert-or-ignore + re-SELECT to avoid a TOCTOU race on concurrent startup.
func (s *Items) PreviewSecret(ctx context.Context) (string, error) {
	if s.conn == nil {
		return "", ErrUnavailable
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating preview secret: %w", err)
	}
	candidate := hex.EncodeToString(buf)

	_, err := s.conn.ExecContext(ctx, s.rebind(
		`INSERT INTO settings (key, value) VALUES ('preview_secret', ?) ON CONFLICT (key) DO NOTHING`),
		candidate,
	)
	if err != nil {
		return "", fmt.Errorf("storing preview_secret: %w", err)
	}

	// Always read back (either our insert or the existing value).
	var secret string
	err = s.conn.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = 'preview_secret'`,
	).Scan(&secret)
	if err != nil {
		return "", fmt.Errorf("querying preview_secret: %w", err)
	}

	return secret, nil
}
