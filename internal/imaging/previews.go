package imaging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultPreviewTTL is how long a preview reference stays valid.
const DefaultPreviewTTL = 15 * time.Minute

var (
	ErrPreviewNotFound = errors.New("preview not found")
	ErrPreviewInvalid  = errors.New("invalid preview reference")
)

// previewClaims is the payload of a preview reference.
type previewClaims struct {
	MIME string `json:"mime"`
	jwt.RegisteredClaims
}

type preview struct {
	path    string
	mime    string
	expires time.Time
}

// Previews holds images picked in a form but not saved yet. Each preview
// is addressed by a signed, expiring reference; whoever creates one must
// Release it once it is no longer displayed.
type Previews struct {
	dir     string
	ownDir  bool
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]preview
}

// NewPreviews stores previews under dir, or under a fresh temporary
// directory when dir is empty. References are signed with secret.
func NewPreviews(dir, secret string, ttl time.Duration) (*Previews, error) {
	if secret == "" {
		return nil, errors.New("preview secret required")
	}
	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}

	ownDir := false
	if dir == "" {
		d, err := os.MkdirTemp("", "lostfound-previews-")
		if err != nil {
			return nil, fmt.Errorf("creating preview directory: %w", err)
		}
		dir, ownDir = d, true
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating preview directory: %w", err)
	}

	return &Previews{
		dir:     dir,
		ownDir:  ownDir,
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]preview),
	}, nil
}

// SetClock replaces the time source used for expiry.
func (p *Previews) SetClock(now func() time.Time) {
	p.now = now
}

// Create stores an image and returns a reference to it.
func (p *Previews) Create(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxInputBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading preview: %w", err)
	}
	if len(data) > MaxInputBytes {
		return "", fmt.Errorf("%w: over %d MB", ErrTooLarge, MaxInputBytes>>20)
	}
	mime := DetectMIME(data)
	if !AllowedMIME[mime] {
		return "", fmt.Errorf("%w: %s", ErrNotImage, mime)
	}

	id := uuid.NewString()
	path := filepath.Join(p.dir, id)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing preview: %w", err)
	}

	now := p.now()
	expires := now.Add(p.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, previewClaims{
		MIME: mime,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	ref, err := token.SignedString(p.secret)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("signing preview reference: %w", err)
	}

	p.mu.Lock()
	p.entries[id] = preview{path: path, mime: mime, expires: expires}
	p.mu.Unlock()

	return ref, nil
}

// Open returns the bytes and MIME type behind a live reference.
func (p *Previews) Open(ref string) ([]byte, string, error) {
	claims, err := p.parse(ref, true)
	if err != nil {
		return nil, "", err
	}

	p.mu.Lock()
	entry, ok := p.entries[claims.ID]
	p.mu.Unlock()
	if !ok {
		return nil, "", ErrPreviewNotFound
	}

	data, err := os.ReadFile(entry.path)
	if err != nil {
		return nil, "", fmt.Errorf("reading preview: %w", err)
	}
	return data, entry.mime, nil
}

// Release deletes the preview behind ref. Expired references can still be
// released; releasing twice is a no-op.
func (p *Previews) Release(ref string) error {
	claims, err := p.parse(ref, false)
	if err != nil {
		return err
	}

	p.mu.Lock()
	entry, ok := p.entries[claims.ID]
	delete(p.entries, claims.ID)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.Remove(entry.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing preview: %w", err)
	}
	return nil
}

// Sweep removes previews that expired before now and were never released.
func (p *Previews) Sweep(now time.Time) int {
	p.mu.Lock()
	var expired []preview
	for id, entry := range p.entries {
		if now.After(entry.expires) {
			expired = append(expired, entry)
			delete(p.entries, id)
		}
	}
	p.mu.Unlock()

	for _, entry := range expired {
		os.Remove(entry.path)
	}
	return len(expired)
}

// Len reports the number of unreleased previews.
func (p *Previews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close releases every preview, and the directory if Previews created it.
func (p *Previews) Close() error {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]preview)
	p.mu.Unlock()

	for _, entry := range entries {
		os.Remove(entry.path)
	}
	if p.ownDir {
		return os.RemoveAll(p.dir)
	}
	return nil
}

func (p *Previews) parse(ref string, validate bool) (*previewClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	}
	if !validate {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &previewClaims{}
	token, err := jwt.ParseWithClaims(ref, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrPreviewInvalid, err)
	}
	if claims.ID == "" {
		return nil, ErrPreviewInvalid
	}
	return claims, nil
}
