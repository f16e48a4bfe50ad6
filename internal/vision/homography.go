package vision

import (
	"errors"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

var errDegenerateQuad = errors.New("degenerate quadrilateral")

// homography maps unit-square coordinates onto a quadrilateral.
type homography [9]float64

// squareToQuad solves the 8x8 system for the projective map taking
// (0,0),(1,0),(1,1),(0,1) to q[0..3]. q must be normalised to roughly unit scale.
func squareToQuad(q [4]pt) (homography, error) {
	src := [4]pt{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := src[i].x, src[i].y
		u, v := q[i].x, q[i].y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return homography{}, errDegenerateQuad
	}
	var out homography
	for i := 0; i < 8; i++ {
		out[i] = h.AtVec(i)
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return homography{}, errDegenerateQuad
		}
	}
	out[8] = 1
	return out, nil
}

func (h homography) apply(x, y float64) (float64, float64) {
	w := h[6]*x + h[7]*y + h[8]
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w
}

// warp samples src through h into a width x height image. norm converts the
// homography's normalised output back into src pixel coordinates.
func warp(src *image.NRGBA, h homography, norm float64, width, height int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		v := (float64(y) + 0.5) / float64(height)
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < width; x++ {
			u := (float64(x) + 0.5) / float64(width)
			sx, sy := h.apply(u, v)
			r, g, b, a := bilinear(src, sx*norm-0.5, sy*norm-0.5)
			row[4*x], row[4*x+1], row[4*x+2], row[4*x+3] = r, g, b, a
		}
	}
	return dst
}

// bilinear samples src at a fractional pixel position, clamping to the edges.
func bilinear(src *image.NRGBA, fx, fy float64) (uint8, uint8, uint8, uint8) {
	b := src.Bounds()
	maxX, maxY := float64(b.Dx()-1), float64(b.Dy()-1)
	fx = math.Max(0, math.Min(fx, maxX))
	fy = math.Max(0, math.Min(fy, maxY))

	x0, y0 := int(fx), int(fy)
	x1, y1 := min(x0+1, b.Dx()-1), min(y0+1, b.Dy()-1)
	tx, ty := fx-float64(x0), fy-float64(y0)

	p00 := src.Pix[y0*src.Stride+4*x0:]
	p10 := src.Pix[y0*src.Stride+4*x1:]
	p01 := src.Pix[y1*src.Stride+4*x0:]
	p11 := src.Pix[y1*src.Stride+4*x1:]

	var out [4]uint8
	for c := 0; c < 4; c++ {
		top := float64(p00[c])*(1-tx) + float64(p10[c])*tx
		bot := float64(p01[c])*(1-tx) + float64(p11[c])*tx
		out[c] = uint8(math.Round(top*(1-ty) + bot*ty))
	}
	return out[0], out[1], out[2], out[3]
}
