package selection

import (
	"image"

	"golang.org/x/image/math/f64"
)

// Polygon is a closed axis-aligned polygon. The last vertex connects back
// to the first. Outer boundaries run clockwise on screen (y down), holes
// counter-clockwise.
type Polygon []f64.Vec2

// Rect is a floating point rectangle.
type Rect struct {
	Min, Max f64.Vec2
}

// RectOf converts r to a Rect.
func RectOf(r image.Rectangle) Rect {
	return Rect{
		Min: f64.Vec2{float64(r.Min.X), float64(r.Min.Y)},
		Max: f64.Vec2{float64(r.Max.X), float64(r.Max.Y)},
	}
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool {
	return r.Min[0] >= r.Max[0] || r.Min[1] >= r.Max[1]
}

// Union returns the smallest rectangle containing r and o.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Rect{
		Min: f64.Vec2{min(r.Min[0], o.Min[0]), min(r.Min[1], o.Min[1])},
		Max: f64.Vec2{max(r.Max[0], o.Max[0]), max(r.Max[1], o.Max[1])},
	}
}

// RectPolygon returns r as a clockwise polygon starting at its top-left
// corner.
func RectPolygon(r image.Rectangle) Polygon {
	x0, y0 := float64(r.Min.X), float64(r.Min.Y)
	x1, y1 := float64(r.Max.X), float64(r.Max.Y)
	return Polygon{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

// Bounds returns the bounding rectangle of p.
func (p Polygon) Bounds() Rect {
	if len(p) == 0 {
		return Rect{}
	}
	r := Rect{Min: p[0], Max: p[0]}
	for _, v := range p[1:] {
		r.Min = f64.Vec2{min(r.Min[0], v[0]), min(r.Min[1], v[1])}
		r.Max = f64.Vec2{max(r.Max[0], v[0]), max(r.Max[1], v[1])}
	}
	return r
}

// Area returns the signed area of p: positive for clockwise polygons in
// screen coordinates.
func (p Polygon) Area() float64 {
	var a float64
	for i, v := range p {
		w := p[(i+1)%len(p)]
		a += v[0]*w[1] - w[0]*v[1]
	}
	return a / 2
}

// Clockwise reports whether p is an outer boundary.
func (p Polygon) Clockwise() bool {
	return p.Area() > 0
}

// OutlineBounds returns the bounding rectangle of all polygons.
func OutlineBounds(polys []Polygon) Rect {
	var r Rect
	for _, p := range polys {
		r = r.Union(p.Bounds())
	}
	return r
}

// Outline returns the boundary of the selected region, tracing it again if
// the cache was invalidated. Pixels with non-zero selectedness count as
// selected. The result must not be modified.
func (s *Selection) Outline() []Polygon {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.outlineValid {
		r := s.dev.ExactBounds()
		if !r.Empty() {
			s.outline = traceOutline(s.dev.Read(r), r)
		}
		s.outlineValid = true
	}
	return s.outline
}

// OutlineCacheValid reports whether Outline can answer without tracing.
func (s *Selection) OutlineCacheValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outlineValid
}

// InvalidateOutline forces the next Outline call to trace.
func (s *Selection) InvalidateOutline() {
	s.mu.Lock()
	s.outlineValid = false
	s.outline = nil
	s.mu.Unlock()
}

func (s *Selection) setOutline(polys []Polygon) {
	s.mu.Lock()
	s.outline = polys
	s.outlineValid = true
	s.mu.Unlock()
}

// dir is a boundary edge direction on the pixel grid, y down.
type dir uint8

const (
	east dir = iota
	south
	west
	north
)

var steps = [4]image.Point{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}

func (d dir) right() dir { return (d + 1) % 4 }
func (d dir) left() dir  { return (d + 3) % 4 }

type edge struct {
	at image.Point
	d  dir
}

// next picks the outgoing edge at a vertex entered along d from the set
// out, preferring a right turn, then straight, then left. Right turns at
// saddle vertices keep diagonally touching pixels in separate polygons.
func (d dir) next(out uint8) (dir, bool) {
	for _, c := range [3]dir{d.right(), d, d.left()} {
		if out&(1<<c) != 0 {
			return c, true
		}
	}
	return 0, false
}

// traceOutline traces the boundary between selected and unselected pixels
// of mask, which covers r. Pixels outside r count as unselected. Edges are
// directed with the selected side on their right so outer boundaries come
// out clockwise.
func traceOutline(mask []byte, r image.Rectangle) []Polygon {
	w, h := r.Dx(), r.Dy()
	at := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < w && y < h && mask[y*w+x] != 0
	}

	out := make(map[image.Point]uint8)
	var order []edge
	add := func(x, y int, d dir) {
		p := image.Pt(x, y)
		out[p] |= 1 << d
		order = append(order, edge{at: p, d: d})
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !at(x, y) {
				continue
			}
			if !at(x, y-1) {
				add(x, y, east)
			}
			if !at(x+1, y) {
				add(x+1, y, south)
			}
			if !at(x, y+1) {
				add(x+1, y+1, west)
			}
			if !at(x-1, y) {
				add(x, y+1, north)
			}
		}
	}

	var polys []Polygon
	for _, start := range order {
		if out[start.at]&(1<<start.d) == 0 {
			continue
		}
		var loop []edge
		p, d := start.at, start.d
		for {
			out[p] &^= 1 << d
			loop = append(loop, edge{at: p, d: d})
			p = p.Add(steps[d])
			avail := out[p]
			if p == start.at {
				avail |= 1 << start.d
			}
			nd, ok := d.next(avail)
			if !ok || (p == start.at && nd == start.d) {
				break
			}
			d = nd
		}
		polys = append(polys, corners(loop, r.Min))
	}
	return polys
}

// corners keeps the vertices where the direction changes, merging
// collinear edges, and rotates the polygon to start at its top-most,
// then left-most vertex.
func corners(loop []edge, origin image.Point) Polygon {
	var pts []image.Point
	for i, e := range loop {
		prev := loop[(i+len(loop)-1)%len(loop)]
		if prev.d != e.d {
			pts = append(pts, e.at)
		}
	}
	first := 0
	for i, p := range pts {
		q := pts[first]
		if p.Y < q.Y || (p.Y == q.Y && p.X < q.X) {
			first = i
		}
	}
	poly := make(Polygon, 0, len(pts))
	for i := range pts {
		p := pts[(first+i)%len(pts)].Add(origin)
		poly = append(poly, f64.Vec2{float64(p.X), float64(p.Y)})
	}
	return poly
}
