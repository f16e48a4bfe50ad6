// Package visiontest renders synthetic document photos for tests.
package visiontest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"holodoc/internal/model"
	"holodoc/internal/vision"
)

// Page returns the colour of a document at normalised coordinates u, v in [0,1).
type Page func(u, v float64) color.NRGBA

// Background is the dark desk colour used by the fixtures.
var Background = color.NRGBA{R: 40, G: 40, B: 40, A: 255}

func rect(u, v, u0, v0, u1, v1 float64) bool {
	return u >= u0 && u < u1 && v >= v0 && v < v1
}

// InvoicePage is a light page with a header block and a total line.
func InvoicePage(paper, ink uint8) Page {
	return func(u, v float64) color.NRGBA {
		if rect(u, v, 0.15, 0.15, 0.5, 0.45) || rect(u, v, 0.15, 0.65, 0.85, 0.75) {
			return color.NRGBA{R: ink, G: ink, B: ink, A: 255}
		}
		return color.NRGBA{R: paper, G: paper, B: paper, A: 255}
	}
}

// LetterPage is a light page with a title bar and a signature block.
func LetterPage(paper, ink uint8) Page {
	return func(u, v float64) color.NRGBA {
		if rect(u, v, 0.15, 0.15, 0.85, 0.25) || rect(u, v, 0.55, 0.5, 0.85, 0.85) {
			return color.NRGBA{R: ink, G: ink, B: ink, A: 255}
		}
		return color.NRGBA{R: paper, G: paper, B: paper, A: 255}
	}
}

// RotatedRect returns the corners (TL, TR, BR, BL before rotation) of a w x h
// rectangle centred on cx, cy and rotated clockwise by degrees.
func RotatedRect(cx, cy, w, h, degrees float64) model.Quad {
	rad := degrees * math.Pi / 180
	sin, cos := math.Sincos(rad)
	local := [4][2]float64{{-w / 2, -h / 2}, {w / 2, -h / 2}, {w / 2, h / 2}, {-w / 2, h / 2}}
	var q model.Quad
	for i, p := range local {
		q[i] = model.Point{
			X: cx + p[0]*cos - p[1]*sin,
			Y: cy + p[0]*sin + p[1]*cos,
		}
	}
	return q
}

// Scene draws page inside quad on a uniform background.
func Scene(width, height int, bg color.NRGBA, quad model.Quad, page Page) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	inv := quadToSquare(quad)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			w := inv[6]*px + inv[7]*py + 1
			u := (inv[0]*px + inv[1]*py + inv[2]) / w
			v := (inv[3]*px + inv[4]*py + inv[5]) / w
			c := bg
			if u >= 0 && u < 1 && v >= 0 && v < 1 {
				c = page(u, v)
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// Disc draws a filled circle, which is bright but not a document.
func Disc(width, height int, bg, fg color.NRGBA, cx, cy, r float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := bg
			if math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy) <= r {
				c = fg
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// Uniform returns a single-colour image.
func Uniform(width, height int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// Capture wraps img with a fixed timestamp.
func Capture(img image.Image) vision.Capture {
	return vision.Capture{Image: img, CapturedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
}

// PNG encodes img, panicking on failure since fixtures are always valid.
func PNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// PNGHeader returns a PNG that declares a width x height 8-bit grayscale image
// but carries no pixel data.
func PNGHeader(width, height uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], width)
	binary.BigEndian.PutUint32(ihdr[4:], height)
	ihdr[8] = 8 // bit depth; colour type, compression, filter and interlace stay 0
	writeChunk(&buf, "IHDR", ihdr)
	writeChunk(&buf, "IEND", nil)
	return buf.Bytes()
}

func writeChunk(buf *bytes.Buffer, typ string, data []byte) {
	var word [4]byte
	binary.BigEndian.PutUint32(word[:], uint32(len(data)))
	buf.Write(word[:])
	buf.WriteString(typ)
	buf.Write(data)
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	binary.BigEndian.PutUint32(word[:], crc.Sum32())
	buf.Write(word[:])
}

// quadToSquare solves the projective map taking quad corners to the unit square.
func quadToSquare(q model.Quad) [8]float64 {
	dst := [4][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := q[i].X, q[i].Y
		u, v := dst[i][0], dst[i][1]
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}
	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		panic(err)
	}
	var out [8]float64
	for i := range out {
		out[i] = h.AtVec(i)
	}
	return out
}
