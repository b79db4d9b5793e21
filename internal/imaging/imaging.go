package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"runtime"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"
)

const (
	// MaxInputBytes is the hard ceiling on an image before compression.
	MaxInputBytes = 10 << 20

	// CeilingBytes is the most an optimized image may weigh.
	CeilingBytes = 3 << 20
)

var (
	ErrNotImage          = errors.New("not a supported image")
	ErrTooLarge          = errors.New("image too large")
	ErrCompressionFailed = errors.New("image could not be compressed enough")
)

// AllowedMIME lists the accepted input MIME types.
var AllowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Pass is one resize-and-compress attempt.
type Pass struct {
	MaxDimension int
	TargetBytes  int
}

// Options tune an Optimizer. Zero fields take the defaults.
type Options struct {
	MaxInputBytes int
	CeilingBytes  int
	Primary       Pass
	Fallback      Pass
	MaxQuality    int
	MinQuality    int
	Workers       int
}

// DefaultOptions returns the production envelope.
func DefaultOptions() Options {
	return Options{
		MaxInputBytes: MaxInputBytes,
		CeilingBytes:  CeilingBytes,
		Primary:       Pass{MaxDimension: 1920, TargetBytes: 5 << 19}, // 2.5 MB
		Fallback:      Pass{MaxDimension: 1600, TargetBytes: 2 << 20},
		MaxQuality:    85,
		MinQuality:    30,
		Workers:       runtime.GOMAXPROCS(0),
	}
}

// Result contains the optimized image data.
type Result struct {
	Data    []byte
	MIME    string
	Width   int
	Height  int
	Quality int
	Passes  int
}

// Optimizer validates images and compresses them into the size envelope.
type Optimizer struct {
	opts Options
	sem  *semaphore.Weighted
}

// NewOptimizer creates an optimizer; zero option fields take defaults.
func NewOptimizer(opts Options) *Optimizer {
	def := DefaultOptions()
	if opts.MaxInputBytes <= 0 {
		opts.MaxInputBytes = def.MaxInputBytes
	}
	if opts.CeilingBytes <= 0 {
		opts.CeilingBytes = def.CeilingBytes
	}
	if opts.Primary == (Pass{}) {
		opts.Primary = def.Primary
	}
	if opts.Fallback == (Pass{}) {
		opts.Fallback = def.Fallback
	}
	if opts.MaxQuality <= 0 {
		opts.MaxQuality = def.MaxQuality
	}
	if opts.MinQuality <= 0 || opts.MinQuality > opts.MaxQuality {
		opts.MinQuality = min(def.MinQuality, opts.MaxQuality)
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	return &Optimizer{opts: opts, sem: semaphore.NewWeighted(int64(opts.Workers))}
}

// Options reports the effective options.
func (o *Optimizer) Options() Options { return o.opts }

// Optimize reads image data, validates the format by sniffing bytes, then
// downscales and re-encodes it as JPEG until it fits the target size. A
// second, harsher pass runs when the first result exceeds the ceiling.
// The returned image never exceeds the ceiling.
func (o *Optimizer) Optimize(ctx context.Context, r io.Reader) (*Result, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(o.opts.MaxInputBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("reading image data: %w", err)
	}
	if len(data) > o.opts.MaxInputBytes {
		return nil, fmt.Errorf("%w: over %d MB before compression", ErrTooLarge, o.opts.MaxInputBytes>>20)
	}

	// Sniff actual MIME type from bytes (not trusting client headers).
	detected := DetectMIME(data)
	if !AllowedMIME[detected] {
		return nil, fmt.Errorf("%w: %s (JPEG, PNG, GIF or WebP accepted)", ErrNotImage, detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image: %v", ErrNotImage, err)
	}

	// Encoding is CPU-bound; bound how many run at once.
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for encoder: %w", err)
	}
	defer o.sem.Release(1)

	res, err := compress(img, o.opts.Primary, o.opts.MaxQuality, o.opts.MinQuality)
	if err != nil {
		return nil, err
	}
	res.Passes = 1

	if len(res.Data) > o.opts.CeilingBytes {
		res, err = compress(img, o.opts.Fallback, o.opts.MaxQuality, o.opts.MinQuality)
		if err != nil {
			return nil, err
		}
		res.Passes = 2
	}

	if len(res.Data) > o.opts.CeilingBytes {
		return nil, fmt.Errorf("%w: %d bytes after two passes, limit is %d",
			ErrCompressionFailed, len(res.Data), o.opts.CeilingBytes)
	}
	return res, nil
}

// compress downscales to the pass dimension and lowers JPEG quality in
// steps of 10 until the target is met or the quality floor is reached.
func compress(img image.Image, pass Pass, maxQuality, minQuality int) (*Result, error) {
	scaled := downscale(img, pass.MaxDimension)

	var buf bytes.Buffer
	quality := maxQuality
	for {
		buf.Reset()
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encoding JPEG: %w", err)
		}
		if buf.Len() <= pass.TargetBytes || quality <= minQuality {
			break
		}
		quality = max(quality-10, minQuality)
	}

	b := scaled.Bounds()
	return &Result{
		Data:    bytes.Clone(buf.Bytes()),
		MIME:    "image/jpeg",
		Width:   b.Dx(),
		Height:  b.Dy(),
		Quality: quality,
	}, nil
}

// downscale resizes the image so neither dimension exceeds maxDim.
// Uses high-quality Catmull-Rom interpolation.
// Returns the original image if already within bounds.
func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	if w <= maxDim && h <= maxDim {
		return img
	}

	// Calculate new dimensions preserving aspect ratio.
	newW, newH := w, h
	if w > h {
		newW = maxDim
		newH = int(float64(h) * float64(maxDim) / float64(w))
	} else {
		newH = maxDim
		newW = int(float64(w) * float64(maxDim) / float64(h))
	}

	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// DetectMIME sniffs the content type of image data. WebP is recognized
// explicitly since older sniffers do not report it.
func DetectMIME(data []byte) string {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}
	return http.DetectContentType(data)
}

func init() {
	// Register decoders (jpeg is registered by default, but be explicit).
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
	image.RegisterFormat("png", "\x89PNG", png.Decode, png.DecodeConfig)
	image.RegisterFormat("gif", "GIF8?a", gif.Decode, gif.DecodeConfig)
	image.RegisterFormat("webp", "RIFF????WEBPVP8", webp.Decode, webp.DecodeConfig)
}
