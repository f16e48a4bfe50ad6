package vision

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// backgroundRange is the per-channel tolerance around a known workspace colour.
const backgroundRange = 25

// minContrast is the smallest gap between Otsu class means that still counts as a boundary.
const minContrast = 24

// plane is a working-scale copy of a capture used for detection.
type plane struct {
	rgba  *image.NRGBA
	gray  []uint8
	w, h  int
	scale float64 // capture pixels per plane pixel
}

// newPlane converts img to NRGBA, downscaling so the longer side is at most maxDim.
func newPlane(img image.Image, maxDim int) *plane {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := 1.0
	if maxDim > 0 && max(w, h) > maxDim {
		scale = float64(max(w, h)) / float64(maxDim)
		w = max(1, int(float64(w)/scale+0.5))
		h = max(1, int(float64(h)/scale+0.5))
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if scale == 1 {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		// Rounding can change the ratio slightly; keep the horizontal one.
		scale = float64(b.Dx()) / float64(w)
	}

	p := &plane{rgba: dst, w: w, h: h, scale: scale, gray: make([]uint8, w*h)}
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			r, g, bl := uint32(row[4*x]), uint32(row[4*x+1]), uint32(row[4*x+2])
			p.gray[y*w+x] = uint8((299*r + 587*g + 114*bl + 500) / 1000)
		}
	}
	return p
}

// boxBlur applies a 3x3 mean filter with clamped edges.
func boxBlur(src []uint8, w, h int) []uint8 {
	out := make([]uint8, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, n := 0, 0
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					sum += int(src[yy*w+xx])
					n++
				}
			}
			out[y*w+x] = uint8((sum + n/2) / n)
		}
	}
	return out
}

// otsu returns the threshold maximising between-class variance.
// ok is false when the histogram has a single class or too little contrast.
func otsu(gray []uint8) (threshold uint8, ok bool) {
	var hist [256]int
	for _, v := range gray {
		hist[v]++
	}
	total := len(gray)
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var (
		wB, sumB  float64
		best      float64
		bestT     int
		bestMeanB float64
		bestMeanF float64
	)
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best, bestT = between, t
			bestMeanB, bestMeanF = mB, mF
		}
	}
	if best == 0 || bestMeanF-bestMeanB < minContrast {
		return 0, false
	}
	return uint8(bestT), true
}

// binarizeOtsu marks document pixels. The class that dominates the image border is background.
func binarizeOtsu(p *plane) ([]bool, bool) {
	blurred := boxBlur(p.gray, p.w, p.h)
	t, ok := otsu(blurred)
	if !ok {
		return nil, false
	}

	mask := make([]bool, len(blurred))
	for i, v := range blurred {
		mask[i] = v > t
	}

	bright, border := 0, 0
	count := func(i int) {
		border++
		if mask[i] {
			bright++
		}
	}
	for x := 0; x < p.w; x++ {
		count(x)
		count((p.h-1)*p.w + x)
	}
	for y := 1; y < p.h-1; y++ {
		count(y * p.w)
		count(y*p.w + p.w - 1)
	}
	if bright*2 > border {
		for i := range mask {
			mask[i] = !mask[i]
		}
	}
	return mask, true
}

// binarizeBackground marks every pixel that is not within range of the workspace colour.
func binarizeBackground(p *plane, bg color.RGBA) []bool {
	lo, hi := rangeAround(bg, backgroundRange)
	mask := make([]bool, p.w*p.h)
	for y := 0; y < p.h; y++ {
		row := p.rgba.Pix[y*p.rgba.Stride:]
		for x := 0; x < p.w; x++ {
			r, g, b := row[4*x], row[4*x+1], row[4*x+2]
			inside := r >= lo[0] && r <= hi[0] &&
				g >= lo[1] && g <= hi[1] &&
				b >= lo[2] && b <= hi[2]
			mask[y*p.w+x] = !inside
		}
	}
	return mask
}

// rangeAround returns a window of width 2*r around c, shifted to stay inside [0,255].
func rangeAround(c color.RGBA, r int) (lo, hi [3]uint8) {
	r = min(r, 127)
	for i, v := range [3]int{int(c.R), int(c.G), int(c.B)} {
		l, h := v-r, v+r
		if l < 0 {
			h -= l
			l = 0
		}
		if h > 255 {
			l -= h - 255
			h = 255
		}
		lo[i], hi[i] = uint8(l), uint8(h)
	}
	return lo, hi
}
