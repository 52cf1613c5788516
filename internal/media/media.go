// Package media downloads contractor photos and writes fixed-size JPEG
// renditions.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif" // registers the GIF decoder
	"image/jpeg"
	_ "image/png" // registers the PNG decoder
	"io"
	"net/http"
	"strconv"

	"golang.org/x/image/draw"

	"github.com/JakeFAU/contractor-socket/internal/metrics"
	"github.com/JakeFAU/contractor-socket/internal/storage"
)

// Size is a rendition's pixel dimensions.
type Size struct {
	Width  int
	Height int
}

// Rendition sizes.
var (
	LargeSize = Size{Width: 1000, Height: 1000}
	ThumbSize = Size{Width: 256, Height: 256}
)

const (
	jpegQuality = 90
	hashLength  = 10
)

// Hasher shortens thumbnail bytes into a cache-busting version string.
type Hasher interface {
	Short(data []byte, n int) string
}

// Result reports a fetch. A non-2xx download leaves Hash empty and records
// the status.
type Result struct {
	Status int
	Hash   string
}

// OK reports whether renditions were written.
func (r Result) OK() bool {
	return r.Hash != ""
}

// Processor fetches, crops, resizes, and stores photos.
type Processor struct {
	client   *http.Client
	store    storage.BlobStore
	hasher   Hasher
	maxBytes int64
}

// NewProcessor creates a Processor. Downloads larger than maxBytes fail.
func NewProcessor(client *http.Client, store storage.BlobStore, hasher Hasher, maxBytes int64) *Processor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Processor{client: client, store: store, hasher: hasher, maxBytes: maxBytes}
}

// LargePath is where the large rendition is stored.
func LargePath(publicKey string, contractorID int64) string {
	return publicKey + "/" + strconv.FormatInt(contractorID, 10) + ".jpg"
}

// ThumbPath is where the thumbnail is stored.
func ThumbPath(publicKey string, contractorID int64) string {
	return publicKey + "/" + strconv.FormatInt(contractorID, 10) + ".thumb.jpg"
}

// FetchAndResize downloads url and writes both renditions for the contractor.
func (p *Processor) FetchAndResize(ctx context.Context, publicKey string, contractorID int64, url string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build image request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		metrics.ObserveUpstream("image", 0)
		return Result{}, fmt.Errorf("download image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveUpstream("image", resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Status: resp.StatusCode}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("read image: %w", err)
	}
	if int64(len(raw)) > p.maxBytes {
		return Result{}, fmt.Errorf("image exceeds %d bytes", p.maxBytes)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Result{}, fmt.Errorf("decode image: %w", err)
	}

	large, err := Render(src, LargeSize)
	if err != nil {
		return Result{}, err
	}
	thumb, err := Render(src, ThumbSize)
	if err != nil {
		return Result{}, err
	}
	if _, err := p.store.PutObject(ctx, LargePath(publicKey, contractorID), "image/jpeg", bytes.NewReader(large)); err != nil {
		return Result{}, fmt.Errorf("store large image: %w", err)
	}
	if _, err := p.store.PutObject(ctx, ThumbPath(publicKey, contractorID), "image/jpeg", bytes.NewReader(thumb)); err != nil {
		return Result{}, fmt.Errorf("store thumbnail: %w", err)
	}
	return Result{Status: resp.StatusCode, Hash: p.hasher.Short(thumb, hashLength)}, nil
}

// Render center-crops src to the aspect of size, scales it, and encodes a JPEG.
func Render(src image.Image, size Size) ([]byte, error) {
	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, CenterCrop(src.Bounds(), size), draw.Src, nil)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// CenterCrop returns the largest centered rectangle within b with the
// aspect ratio of size.
func CenterCrop(b image.Rectangle, size Size) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	if w*size.Height > h*size.Width {
		cw := h * size.Width / size.Height
		x0 := b.Min.X + (w-cw)/2
		return image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	}
	ch := w * size.Height / size.Width
	y0 := b.Min.Y + (h-ch)/2
	return image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
}
