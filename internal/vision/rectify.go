package vision

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"holodoc/internal/model"
)

// Options tunes document detection and rectification.
type Options struct {
	// MinAreaRatio is the smallest document area relative to the capture area.
	MinAreaRatio float64
	// DetectMaxDim caps the longer side of the working image used for detection.
	DetectMaxDim int
	// MaxOutputDim caps the longer side of the rectified image.
	MaxOutputDim int
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		MinAreaRatio: 0.1,
		DetectMaxDim: 512,
		MaxOutputDim: 1024,
	}
}

// RectifiedImage is a document unwarped to its canonical rectangle.
type RectifiedImage struct {
	Image *image.NRGBA
	// Corners are the capture coordinates mapped onto the rectangle corners.
	Corners model.Quad
}

// Width returns the rectified width in pixels.
func (r *RectifiedImage) Width() int { return r.Image.Bounds().Dx() }

// Height returns the rectified height in pixels.
func (r *RectifiedImage) Height() int { return r.Image.Bounds().Dy() }

// Corrector finds a document in a capture and removes its perspective.
// It holds no mutable state and is safe for concurrent use.
type Corrector struct {
	opts Options
}

// NewCorrector creates a Corrector, filling zero options with defaults.
func NewCorrector(opts Options) *Corrector {
	def := DefaultOptions()
	if opts.MinAreaRatio <= 0 || opts.MinAreaRatio > 1 {
		opts.MinAreaRatio = def.MinAreaRatio
	}
	if opts.DetectMaxDim <= 0 {
		opts.DetectMaxDim = def.DetectMaxDim
	}
	if opts.MaxOutputDim <= 0 {
		opts.MaxOutputDim = def.MaxOutputDim
	}
	return &Corrector{opts: opts}
}

// Detect locates the document corners in capture pixel coordinates.
func (c *Corrector) Detect(capture Capture) (model.Quad, error) {
	if capture.Image == nil || capture.Image.Bounds().Empty() {
		return model.Quad{}, ErrEmptyCapture
	}
	p := newPlane(capture.Image, c.opts.DetectMaxDim)

	var mask []bool
	if capture.Background != nil {
		mask = binarizeBackground(p, *capture.Background)
	} else {
		var ok bool
		if mask, ok = binarizeOtsu(p); !ok {
			return model.Quad{}, ErrNoDocumentDetected
		}
	}

	q, ok := findQuad(mask, p.w, p.h, c.opts.MinAreaRatio)
	if !ok {
		return model.Quad{}, ErrNoDocumentDetected
	}
	var out model.Quad
	for i := range q {
		out[i] = q[i].toModel(p.scale)
	}
	return out, nil
}

// Rectify detects the document and maps it onto a rectangle that keeps its aspect ratio.
func (c *Corrector) Rectify(capture Capture) (*RectifiedImage, error) {
	corners, err := c.Detect(capture)
	if err != nil {
		return nil, err
	}
	return c.Unwarp(capture, corners)
}

// Unwarp maps the given corners of capture onto the canonical rectangle.
func (c *Corrector) Unwarp(capture Capture, corners model.Quad) (*RectifiedImage, error) {
	if capture.Image == nil || capture.Image.Bounds().Empty() {
		return nil, ErrEmptyCapture
	}
	var q [4]pt
	for i, p := range corners {
		q[i] = pt{p.X, p.Y}
	}
	width, height := c.outputSize(q)

	b := capture.Image.Bounds()
	norm := float64(max(b.Dx(), b.Dy()))
	var nq [4]pt
	for i := range q {
		nq[i] = pt{q[i].x / norm, q[i].y / norm}
	}
	h, err := squareToQuad(nq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDocumentDetected, err)
	}

	src, ok := capture.Image.(*image.NRGBA)
	if !ok || src.Bounds().Min != (image.Point{}) {
		src = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(src, src.Bounds(), capture.Image, b.Min, draw.Src)
	}

	return &RectifiedImage{
		Image:   warp(src, h, norm, width, height),
		Corners: corners,
	}, nil
}

// outputSize averages opposite edges and caps the longer side.
func (c *Corrector) outputSize(q [4]pt) (int, int) {
	w := (q[0].dist(q[1]) + q[3].dist(q[2])) / 2
	h := (q[0].dist(q[3]) + q[1].dist(q[2])) / 2
	scale := 1.0
	if longest := math.Max(w, h); longest > float64(c.opts.MaxOutputDim) {
		scale = float64(c.opts.MaxOutputDim) / longest
	}
	return max(1, int(math.Round(w*scale))), max(1, int(math.Round(h*scale)))
}
