package model

// Point is a pixel coordinate in a capture.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad holds document corners ordered top-left, top-right, bottom-right, bottom-left.
type Quad [4]Point

// Fingerprint is a compact descriptor of a rectified document image.
// Vector is zero-mean and unit-norm; Width and Height are the rectified dimensions.
type Fingerprint struct {
	Vector []float32 `json:"vector"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
}
