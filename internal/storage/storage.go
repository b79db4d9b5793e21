package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lostfound/board/internal/imaging"
	"github.com/lostfound/board/internal/metrics"
)

const (
	DefaultBaseURL      = "https://api.cloudinary.com/v1_1"
	DefaultDeliveryHost = "res.cloudinary.com"
	DefaultFolder       = "lostfound"
)

var (
	ErrNotConfigured = errors.New("image host not configured")
	ErrNoURL         = errors.New("image host returned no secure URL")
)

// RemoteError is a non-success response from the image host.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("image host responded %d", e.StatusCode)
	}
	return fmt.Sprintf("image host responded %d: %s", e.StatusCode, e.Message)
}

// Config holds the image host settings. CloudName and UploadPreset are
// required for uploads.
type Config struct {
	CloudName    string
	UploadPreset string
	Folder       string
	BaseURL      string
	DeliveryHost string
}

// Optimizer shrinks an image before upload.
type Optimizer interface {
	Optimize(ctx context.Context, r io.Reader) (*imaging.Result, error)
}

// Client uploads item photos to the image host using an unsigned preset.
type Client struct {
	cfg     Config
	http    *http.Client
	opt     Optimizer
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewClient creates a storage client. A nil httpClient uses
// http.DefaultClient; m may be nil.
func NewClient(cfg Config, opt Optimizer, httpClient *http.Client, m *metrics.Metrics) *Client {
	if cfg.Folder == "" {
		cfg.Folder = DefaultFolder
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DeliveryHost == "" {
		cfg.DeliveryHost = DefaultDeliveryHost
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, http: httpClient, opt: opt, metrics: m, now: time.Now}
}

// SetClock replaces the time source used to name uploads.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

// Configured reports whether uploads can be attempted.
func (c *Client) Configured() bool {
	return c.cfg.CloudName != "" && c.cfg.UploadPreset != ""
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload optimizes the image and sends it to the host under a name
// derived from ownerKey and the current time. It returns the secure URL.
func (c *Client) Upload(ctx context.Context, r io.Reader, ownerKey string) (string, error) {
	if !c.Configured() {
		c.metrics.ObserveUpload("not_configured", 0)
		return "", fmt.Errorf("%w: cloud name and upload preset are required", ErrNotConfigured)
	}

	res, err := c.opt.Optimize(ctx, r)
	if err != nil {
		c.metrics.ObserveUpload("rejected", 0)
		return "", fmt.Errorf("optimizing image: %w", err)
	}
	c.metrics.ObservePasses(res.Passes)

	publicID := ownerKey + "_" + strconv.FormatInt(c.now().UnixMilli(), 10)
	body, contentType, err := c.form(res, publicID)
	if err != nil {
		return "", err
	}

	endpoint := c.cfg.BaseURL + "/" + url.PathEscape(c.cfg.CloudName) + "/image/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveUpload("transport_error", 0)
		return "", fmt.Errorf("uploading image: %w", err)
	}
	defer resp.Body.Close()

	var out uploadResponse
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.metrics.ObserveUpload("transport_error", 0)
		return "", fmt.Errorf("reading upload response: %w", err)
	}
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.ObserveUpload("remote_error", 0)
		rerr := &RemoteError{StatusCode: resp.StatusCode}
		if decodeErr == nil && out.Error != nil {
			rerr.Message = out.Error.Message
		}
		return "", rerr
	}
	if decodeErr != nil || out.SecureURL == "" {
		c.metrics.ObserveUpload("no_url", 0)
		return "", ErrNoURL
	}

	c.metrics.ObserveUpload("ok", len(res.Data))
	slog.Info("image uploaded", "public_id", publicID, "bytes", len(res.Data), "passes", res.Passes)
	return out.SecureURL, nil
}

func (c *Client) form(res *imaging.Result, publicID string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s.jpg"`, publicID))
	h.Set("Content-Type", res.MIME)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(res.Data); err != nil {
		return nil, "", fmt.Errorf("building upload form: %w", err)
	}

	fields := [][2]string{
		{"upload_preset", c.cfg.UploadPreset},
		{"folder", c.cfg.Folder},
		{"public_id", publicID},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("building upload form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("building upload form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// Delete would remove a hosted image, but the unsigned preset cannot
// authenticate deletions. It never reports removal: hosted images are
// logged as persisting and (false, nil) is returned.
func (c *Client) Delete(ctx context.Context, imageURL string) (bool, error) {
	if imageURL == "" {
		return false, nil
	}
	if c.Owns(imageURL) {
		slog.Warn("hosted image not deleted, remote object persists", "url", imageURL)
		return false, nil
	}
	slog.Debug("image not on the configured host, nothing to delete", "url", imageURL)
	return false, nil
}

// Owns reports whether imageURL is served by the configured host account.
func (c *Client) Owns(imageURL string) bool {
	u, err := url.Parse(imageURL)
	if err != nil || u.Host == "" {
		return false
	}
	if !strings.EqualFold(u.Hostname(), c.cfg.DeliveryHost) {
		return false
	}
	if c.cfg.CloudName == "" {
		return true
	}
	return strings.HasPrefix(u.Path, "/"+c.cfg.CloudName+"/")
}
