package vision

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"holodoc/internal/model"
)

const (
	// GridSize is the side of the luminance grid; fingerprints have GridSize*GridSize values.
	GridSize = 16
	// sampleSize is the intermediate thumbnail side, averaged down to GridSize.
	sampleSize = 64
)

// FingerprintDim is the length of every fingerprint vector.
const FingerprintDim = GridSize * GridSize

// Fingerprinter derives comparable descriptors from rectified images.
// It is pure: no I/O and no shared state.
type Fingerprinter struct{}

// NewFingerprinter returns a Fingerprinter.
func NewFingerprinter() *Fingerprinter { return &Fingerprinter{} }

// Fingerprint samples the image on a fixed grid and normalises it, which cancels
// scale and global brightness/contrast differences between captures.
func (f *Fingerprinter) Fingerprint(img *RectifiedImage) model.Fingerprint {
	thumb := image.NewGray(image.Rect(0, 0, sampleSize, sampleSize))
	draw.BiLinear.Scale(thumb, thumb.Bounds(), img.Image, img.Image.Bounds(), draw.Src, nil)

	const block = sampleSize / GridSize
	grid := make([]float64, FingerprintDim)
	var mean float64
	for gy := 0; gy < GridSize; gy++ {
		for gx := 0; gx < GridSize; gx++ {
			var sum float64
			for y := gy * block; y < (gy+1)*block; y++ {
				row := thumb.Pix[y*thumb.Stride:]
				for x := gx * block; x < (gx+1)*block; x++ {
					sum += float64(row[x])
				}
			}
			v := sum / (block * block)
			grid[gy*GridSize+gx] = v
			mean += v
		}
	}
	mean /= FingerprintDim

	var norm float64
	for i := range grid {
		grid[i] -= mean
		norm += grid[i] * grid[i]
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, FingerprintDim)
	if norm > 1e-9 {
		for i, v := range grid {
			vec[i] = float32(v / norm)
		}
	}
	return model.Fingerprint{Vector: vec, Width: img.Width(), Height: img.Height()}
}

// Distance compares two fingerprints on a 0 (identical) to 1 (opposite) scale.
// Vectors of different length are maximally distant.
func Distance(a, b model.Fingerprint) float64 {
	if len(a.Vector) != len(b.Vector) || len(a.Vector) == 0 {
		return 1
	}
	var sum float64
	for i := range a.Vector {
		d := float64(a.Vector[i]) - float64(b.Vector[i])
		sum += d * d
	}
	return math.Min(1, math.Sqrt(sum)/2)
}
