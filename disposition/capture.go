package disposition

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matcontt/tindercam/internal/blobstore"
	"github.com/matcontt/tindercam/internal/domain"
)

// CaptureSession produces one photo per call. Failures are reported as
// ErrCaptureFailure and leave nothing behind.
type CaptureSession interface {
	Capture(ctx context.Context) (*domain.Photo, error)
}

// CaptureFunc adapts a function to a CaptureSession.
type CaptureFunc func(ctx context.Context) (*domain.Photo, error)

func (f CaptureFunc) Capture(ctx context.Context) (*domain.Photo, error) {
	return f(ctx)
}

// Clock hands out capture timestamps that never go backwards, even when the
// wall clock does.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Observe raises the floor of future timestamps to t.
func (c *Clock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t
	}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// Ingestor turns encoded image bytes into a stored blob and its photo
// reference. Every image is normalized to PNG.
type Ingestor struct {
	blobs BlobStore
	clock *Clock
}

func NewIngestor(blobs BlobStore, clock *Clock) *Ingestor {
	if clock == nil {
		clock = NewClock(nil)
	}
	return &Ingestor{blobs: blobs, clock: clock}
}

// Ingest decodes r (jpeg, png or gif), writes it as PNG and returns the new
// photo reference.
func (in *Ingestor) Ingest(ctx context.Context, r io.Reader) (*domain.Photo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCaptureFailure, err)
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("while decoding image: %w: %w", domain.ErrCaptureFailure, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrCaptureFailure)
	}

	var buf bytes.Buffer
	hasher := sha256.New()
	if err := png.Encode(io.MultiWriter(&buf, hasher), img); err != nil {
		return nil, fmt.Errorf("while encoding image: %w: %w", domain.ErrCaptureFailure, err)
	}

	id := uuid.New().String()
	uri := blobstore.URI(id + ".png")
	if _, err := in.blobs.Write(uri, &buf); err != nil {
		return nil, fmt.Errorf("while storing image: %w: %w", domain.ErrCaptureFailure, err)
	}
	return &domain.Photo{
		ID:         id,
		SourceURI:  uri,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Checksum:   fmt.Sprintf("%x", hasher.Sum(nil)),
		CapturedAt: in.clock.Now(),
	}, nil
}

// ReaderSession captures a single image from an io.Reader.
func (in *Ingestor) ReaderSession(r io.Reader) CaptureSession {
	return CaptureFunc(func(ctx context.Context) (*domain.Photo, error) {
		return in.Ingest(ctx, r)
	})
}

// FileSession captures the image stored at filename.
func (in *Ingestor) FileSession(filename string) CaptureSession {
	return CaptureFunc(func(ctx context.Context) (*domain.Photo, error) {
		f, err := os.Open(filename)
		if err != nil {
			return nil, fmt.Errorf("while opening '%s': %w: %w", filename, domain.ErrCaptureFailure, err)
		}
		defer f.Close()
		return in.Ingest(ctx, f)
	})
}
