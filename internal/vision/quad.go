package vision

import (
	"math"
	"sort"

	"holodoc/internal/model"
)

const (
	// minFill is the smallest quad/hull area ratio for a blob to count as a planar page.
	minFill = 0.85
	// maxSideRatio bounds opposite edge lengths; perspective makes them differ, but not wildly.
	maxSideRatio = 2.0
)

type pt struct{ x, y float64 }

func (a pt) sub(b pt) pt           { return pt{a.x - b.x, a.y - b.y} }
func (a pt) cross(b pt) float64    { return a.x*b.y - a.y*b.x }
func (a pt) dist(b pt) float64     { return math.Hypot(a.x-b.x, a.y-b.y) }
func (a pt) toModel(s float64) model.Point {
	return model.Point{X: a.x * s, Y: a.y * s}
}

// component is a 4-connected foreground blob.
type component struct {
	label      int32
	pixels     int
	minX, minY int
	maxX, maxY int
	edge       []pt // row-boundary pixel centres, enough to build the hull
}

func (c *component) bboxArea() float64 {
	return float64(c.maxX-c.minX+1) * float64(c.maxY-c.minY+1)
}

// components labels foreground blobs, largest first. labels holds the
// component label of every pixel, 0 for background.
func components(mask []bool, w, h int) ([]*component, []int32) {
	labels := make([]int32, len(mask))
	var out []*component
	stack := make([]int, 0, 1024)

	for start := range mask {
		if !mask[start] || labels[start] != 0 {
			continue
		}
		c := &component{label: int32(len(out) + 1), minX: w, minY: h, maxX: -1, maxY: -1}
		labels[start] = c.label
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			c.pixels++
			c.minX, c.maxX = min(c.minX, x), max(c.maxX, x)
			c.minY, c.maxY = min(c.minY, y), max(c.maxY, y)
			if x == 0 || x == w-1 || !mask[i-1] || !mask[i+1] {
				c.edge = append(c.edge, pt{float64(x) + 0.5, float64(y) + 0.5})
			}
			if x > 0 && mask[i-1] && labels[i-1] == 0 {
				labels[i-1] = c.label
				stack = append(stack, i-1)
			}
			if x < w-1 && mask[i+1] && labels[i+1] == 0 {
				labels[i+1] = c.label
				stack = append(stack, i+1)
			}
			if y > 0 && mask[i-w] && labels[i-w] == 0 {
				labels[i-w] = c.label
				stack = append(stack, i-w)
			}
			if y < h-1 && mask[i+w] && labels[i+w] == 0 {
				labels[i+w] = c.label
				stack = append(stack, i+w)
			}
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].pixels > out[j].pixels })
	return out, labels
}

// outline returns the outermost pixel centre of c on every row and column of
// its bounding box. Holes left by print inside the page do not contribute.
func (c *component) outline(labels []int32, w int) []pt {
	out := make([]pt, 0, 2*(c.maxX-c.minX+c.maxY-c.minY+2))
	for y := c.minY; y <= c.maxY; y++ {
		first, last := -1, -1
		for x := c.minX; x <= c.maxX; x++ {
			if labels[y*w+x] == c.label {
				if first < 0 {
					first = x
				}
				last = x
			}
		}
		if first >= 0 {
			out = append(out, pt{float64(first) + 0.5, float64(y) + 0.5}, pt{float64(last) + 0.5, float64(y) + 0.5})
		}
	}
	for x := c.minX; x <= c.maxX; x++ {
		first, last := -1, -1
		for y := c.minY; y <= c.maxY; y++ {
			if labels[y*w+x] == c.label {
				if first < 0 {
					first = y
				}
				last = y
			}
		}
		if first >= 0 {
			out = append(out, pt{float64(x) + 0.5, float64(first) + 0.5}, pt{float64(x) + 0.5, float64(last) + 0.5})
		}
	}
	return out
}

// convexHull returns the hull in counter-clockwise order (Andrew's monotone chain).
func convexHull(points []pt) []pt {
	if len(points) < 3 {
		return nil
	}
	ps := make([]pt, len(points))
	copy(ps, points)
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].x != ps[j].x {
			return ps[i].x < ps[j].x
		}
		return ps[i].y < ps[j].y
	})

	hull := make([]pt, 0, 2*len(ps))
	for _, p := range ps {
		for len(hull) >= 2 && hull[len(hull)-1].sub(hull[len(hull)-2]).cross(p.sub(hull[len(hull)-2])) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(ps) - 2; i >= 0; i-- {
		p := ps[i]
		for len(hull) >= lower && hull[len(hull)-1].sub(hull[len(hull)-2]).cross(p.sub(hull[len(hull)-2])) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// polygonArea is the absolute shoelace area.
func polygonArea(ps []pt) float64 {
	return math.Abs(signedArea(ps))
}

func signedArea(ps []pt) float64 {
	var s float64
	for i := range ps {
		j := (i + 1) % len(ps)
		s += ps[i].x*ps[j].y - ps[j].x*ps[i].y
	}
	return s / 2
}

// extractQuad picks four hull vertices: the diagonal maximising distance, then the
// farthest vertex from that diagonal on each side.
func extractQuad(hull []pt) ([4]pt, bool) {
	var q [4]pt
	if len(hull) < 4 {
		return q, false
	}

	var centre pt
	for _, p := range hull {
		centre.x += p.x
		centre.y += p.y
	}
	centre.x /= float64(len(hull))
	centre.y /= float64(len(hull))

	farthest := func(from pt) int {
		best, idx := -1.0, 0
		for i, p := range hull {
			if d := p.dist(from); d > best {
				best, idx = d, i
			}
		}
		return idx
	}
	ia := farthest(centre)
	ic := farthest(hull[ia])
	a, c := hull[ia], hull[ic]
	diag := c.sub(a)

	ib, id := -1, -1
	var maxPos, maxNeg float64
	for i, p := range hull {
		d := diag.cross(p.sub(a))
		if d > maxPos {
			maxPos, ib = d, i
		}
		if -d > maxNeg {
			maxNeg, id = -d, i
		}
	}
	if ib < 0 || id < 0 {
		return q, false
	}
	return [4]pt{a, hull[ib], c, hull[id]}, true
}

// orderCorners returns corners as top-left, top-right, bottom-right, bottom-left.
func orderCorners(q [4]pt) [4]pt {
	// Positive shoelace in y-down coordinates is visually clockwise.
	if signedArea(q[:]) < 0 {
		q = [4]pt{q[0], q[3], q[2], q[1]}
	}
	first := 0
	for i := 1; i < 4; i++ {
		if q[i].x+q[i].y < q[first].x+q[first].y {
			first = i
		}
	}
	var out [4]pt
	for i := range out {
		out[i] = q[(first+i)%4]
	}
	return out
}

// plausibleQuad rejects shapes that are not a planar page seen in perspective.
func plausibleQuad(q [4]pt, hullArea, minArea float64) bool {
	area := polygonArea(q[:])
	if area < minArea || area <= 0 {
		return false
	}
	if area < minFill*hullArea {
		return false
	}
	for i := 0; i < 4; i++ {
		a, b, c := q[i], q[(i+1)%4], q[(i+2)%4]
		if b.sub(a).cross(c.sub(b)) <= 0 {
			return false
		}
	}
	return sideRatioOK(q[0].dist(q[1]), q[2].dist(q[3])) &&
		sideRatioOK(q[1].dist(q[2]), q[3].dist(q[0]))
}

func sideRatioOK(a, b float64) bool {
	if a == 0 || b == 0 {
		return false
	}
	r := a / b
	return r >= 1/maxSideRatio && r <= maxSideRatio
}

// findQuad returns the largest plausible document quadrilateral in plane coordinates.
func findQuad(mask []bool, w, h int, minAreaRatio float64) ([4]pt, bool) {
	minArea := minAreaRatio * float64(w*h)
	var (
		best     [4]pt
		bestArea float64
		found    bool
		bestComp *component
	)
	comps, labels := components(mask, w, h)
	for _, c := range comps {
		if c.bboxArea() < minArea {
			continue
		}
		hull := convexHull(c.edge)
		if len(hull) < 4 {
			continue
		}
		q, ok := extractQuad(hull)
		if !ok {
			continue
		}
		q = orderCorners(q)
		if !plausibleQuad(q, polygonArea(hull), minArea) {
			continue
		}
		if area := polygonArea(q[:]); area > bestArea {
			best, bestArea, found, bestComp = q, area, true, c
		}
	}
	if !found {
		return best, false
	}
	return refineCorners(best, bestComp.outline(labels, w)), true
}

const (
	// sideMargin skips this fraction of a side at each end, where corners are rounded.
	sideMargin = 0.15
	// sideBand is how far, in pixels, an outline point may lie from a side and still support it.
	sideBand = 3.0
	// minSideSupport is the fewest outline points needed to fit a side.
	minSideSupport = 8
	// maxCornerShift bounds a refined corner's move as a fraction of its shorter side.
	maxCornerShift = 0.1
)

// line is a point on the line and a unit direction.
type line struct{ p, d pt }

func (l line) intersect(m line) (pt, bool) {
	den := l.d.cross(m.d)
	if math.Abs(den) < 1e-9 {
		return pt{}, false
	}
	t := m.p.sub(l.p).cross(m.d) / den
	return pt{l.p.x + t*l.d.x, l.p.y + t*l.d.y}, true
}

// refineCorners fits a line to the outline along each side of q and moves every
// corner to the intersection of its two sides. Hull vertices lie on corners
// rounded off by blurring and downscaling. A corner keeps its hull position
// when a side has too little support or the fit moves it too far.
func refineCorners(q [4]pt, outline []pt) [4]pt {
	var centre pt
	for _, p := range q {
		centre.x += p.x / 4
		centre.y += p.y / 4
	}

	var (
		sides [4]line
		ok    [4]bool
	)
	for i := range q {
		sides[i], ok[i] = fitSide(q[i], q[(i+1)%4], centre, outline)
	}

	out := q
	for i := range q {
		prev := (i + 3) % 4
		if !ok[prev] || !ok[i] {
			continue
		}
		p, hit := sides[prev].intersect(sides[i])
		if !hit {
			continue
		}
		limit := maxCornerShift * math.Min(q[prev].dist(q[i]), q[i].dist(q[(i+1)%4]))
		if p.dist(q[i]) <= limit {
			out[i] = p
		}
	}
	return out
}

// fitSide fits a total least squares line to the outline points supporting the
// side a-b, then moves it half a pixel outwards from pixel centres onto the
// boundary.
func fitSide(a, b, centre pt, outline []pt) (line, bool) {
	d := b.sub(a)
	length := math.Hypot(d.x, d.y)
	if length == 0 {
		return line{}, false
	}
	u := pt{d.x / length, d.y / length}

	var n, sx, sy, sxx, syy, sxy float64
	for _, p := range outline {
		r := p.sub(a)
		t := (r.x*u.x + r.y*u.y) / length
		if t < sideMargin || t > 1-sideMargin || math.Abs(u.cross(r)) > sideBand {
			continue
		}
		n++
		sx += p.x
		sy += p.y
		sxx += p.x * p.x
		syy += p.y * p.y
		sxy += p.x * p.y
	}
	if n < minSideSupport {
		return line{}, false
	}

	mx, my := sx/n, sy/n
	cxx, cyy, cxy := sxx/n-mx*mx, syy/n-my*my, sxy/n-mx*my
	theta := 0.5 * math.Atan2(2*cxy, cxx-cyy)
	dir := pt{math.Cos(theta), math.Sin(theta)}
	if dir.x*u.x+dir.y*u.y < 0 {
		dir = pt{-dir.x, -dir.y}
	}
	normal := pt{-dir.y, dir.x}
	if normal.x*(mx-centre.x)+normal.y*(my-centre.y) < 0 {
		normal = pt{-normal.x, -normal.y}
	}
	return line{p: pt{mx + 0.5*normal.x, my + 0.5*normal.y}, d: dir}, true
}
