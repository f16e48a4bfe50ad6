package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strconv"
	"strings"
	"time"

	_ "golang.org/x/image/webp"
)

var (
	// ErrNoDocumentDetected is returned when no quadrilateral large enough to be a document is found.
	ErrNoDocumentDetected = errors.New("no document detected")
	ErrEmptyCapture       = errors.New("capture is empty")
	ErrBufferSize         = errors.New("pixel buffer does not match resolution")
	ErrInvalidColor       = errors.New("invalid background color")
	ErrCaptureTooLarge    = errors.New("capture resolution exceeds limit")
)

// DefaultMaxCapturePixels bounds the decoded size of an encoded photo.
const DefaultMaxCapturePixels = 40_000_000

// Capture is a raw photo handed to the pipeline. It is never persisted.
type Capture struct {
	Image      image.Image
	CapturedAt time.Time
	// Background is the workspace colour the document lies on, if the client knows it.
	Background *color.RGBA
}

// Width returns the capture resolution width.
func (c Capture) Width() int {
	if c.Image == nil {
		return 0
	}
	return c.Image.Bounds().Dx()
}

// Height returns the capture resolution height.
func (c Capture) Height() int {
	if c.Image == nil {
		return 0
	}
	return c.Image.Bounds().Dy()
}

// DecodeCapture decodes a PNG, JPEG or WebP photo.
// The header is checked first, so a photo claiming more than maxPixels is
// rejected before any pixel buffer is allocated. maxPixels <= 0 uses
// DefaultMaxCapturePixels.
func DecodeCapture(r io.Reader, capturedAt time.Time, maxPixels int) (Capture, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxCapturePixels
	}
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return Capture{}, fmt.Errorf("decode capture: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Capture{}, ErrEmptyCapture
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return Capture{}, fmt.Errorf("%w: %dx%d", ErrCaptureTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return Capture{}, fmt.Errorf("decode capture: %w", err)
	}
	if img.Bounds().Empty() {
		return Capture{}, ErrEmptyCapture
	}
	return Capture{Image: img, CapturedAt: capturedAt}, nil
}

// CaptureFromRGBA wraps a raw RGBA32 camera frame.
// Camera frames from the headset store rows bottom-up, so rows are flipped.
func CaptureFromRGBA(pix []byte, width, height int, capturedAt time.Time) (Capture, error) {
	if width <= 0 || height <= 0 {
		return Capture{}, ErrEmptyCapture
	}
	stride := width * 4
	if len(pix) != stride*height {
		return Capture{}, fmt.Errorf("%w: got %d bytes for %dx%d", ErrBufferSize, len(pix), width, height)
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		src := pix[(height-1-y)*stride : (height-y)*stride]
		copy(img.Pix[y*img.Stride:y*img.Stride+stride], src)
	}
	return Capture{Image: img, CapturedAt: capturedAt}, nil
}

// ParseColor parses "#RRGGBB" or "RRGGBB".
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
