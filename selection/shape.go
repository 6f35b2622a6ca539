package selection

import (
	"image"
	"image/draw"
	"math"
	"slices"

	"golang.org/x/image/math/f64"
	"golang.org/x/image/vector"

	"github.com/gogpu/canvas/internal/logger"
)

// Shape is a vector region that can back a selection.
type Shape interface {
	// Bounds returns the pixel rectangle the shape may cover.
	Bounds() image.Rectangle

	// AddTo appends the shape's closed path to z, translated so origin
	// maps to (0, 0).
	AddTo(z *vector.Rasterizer, origin image.Point)
}

// RectShape is an axis-aligned rectangle.
type RectShape image.Rectangle

// Bounds returns the rectangle.
func (s RectShape) Bounds() image.Rectangle {
	return image.Rectangle(s)
}

// AddTo adds the rectangle clockwise.
func (s RectShape) AddTo(z *vector.Rasterizer, origin image.Point) {
	r := image.Rectangle(s).Sub(origin)
	z.MoveTo(float32(r.Min.X), float32(r.Min.Y))
	z.LineTo(float32(r.Max.X), float32(r.Min.Y))
	z.LineTo(float32(r.Max.X), float32(r.Max.Y))
	z.LineTo(float32(r.Min.X), float32(r.Max.Y))
	z.ClosePath()
}

// EllipseShape is the ellipse inscribed in a rectangle.
type EllipseShape image.Rectangle

// Bounds returns the enclosing rectangle.
func (s EllipseShape) Bounds() image.Rectangle {
	return image.Rectangle(s)
}

// kappa places cubic control points for a quarter circle.
const kappa = 0.5522847498307936

// AddTo adds the ellipse as four cubic segments.
func (s EllipseShape) AddTo(z *vector.Rasterizer, origin image.Point) {
	r := image.Rectangle(s).Sub(origin)
	cx := float32(r.Min.X+r.Max.X) / 2
	cy := float32(r.Min.Y+r.Max.Y) / 2
	rx := float32(r.Dx()) / 2
	ry := float32(r.Dy()) / 2
	kx, ky := rx*kappa, ry*kappa
	z.MoveTo(cx, cy-ry)
	z.CubeTo(cx+kx, cy-ry, cx+rx, cy-ky, cx+rx, cy)
	z.CubeTo(cx+rx, cy+ky, cx+kx, cy+ry, cx, cy+ry)
	z.CubeTo(cx-kx, cy+ry, cx-rx, cy+ky, cx-rx, cy)
	z.CubeTo(cx-rx, cy-ky, cx-kx, cy-ry, cx, cy-ry)
	z.ClosePath()
}

// PolygonShape is a closed polygon in pixel coordinates.
type PolygonShape []f64.Vec2

// Bounds returns the pixel rectangle covering every vertex.
func (s PolygonShape) Bounds() image.Rectangle {
	if len(s) < 3 {
		return image.Rectangle{}
	}
	b := Polygon(s).Bounds()
	return image.Rect(
		int(math.Floor(b.Min[0])), int(math.Floor(b.Min[1])),
		int(math.Ceil(b.Max[0])), int(math.Ceil(b.Max[1])),
	)
}

// AddTo adds the polygon.
func (s PolygonShape) AddTo(z *vector.Rasterizer, origin image.Point) {
	if len(s) < 3 {
		return
	}
	ox, oy := float64(origin.X), float64(origin.Y)
	z.MoveTo(float32(s[0][0]-ox), float32(s[0][1]-oy))
	for _, v := range s[1:] {
		z.LineTo(float32(v[0]-ox), float32(v[1]-oy))
	}
	z.ClosePath()
}

// SetShapes replaces the mask with the union of shapes, rasterised with
// anti-aliasing. The shapes stay attached until the next direct pixel
// edit. An empty set clears the selection.
func (s *Selection) SetShapes(shapes []Shape) {
	s.rasterizing.Store(true)
	defer s.rasterizing.Store(false)

	s.dev.Clear()
	s.dev.SetDefaultPixel([]byte{0})

	var bounds image.Rectangle
	for _, sh := range shapes {
		bounds = bounds.Union(sh.Bounds())
	}
	if !bounds.Empty() {
		z := vector.NewRasterizer(bounds.Dx(), bounds.Dy())
		z.DrawOp = draw.Src
		for _, sh := range shapes {
			sh.AddTo(z, bounds.Min)
		}
		dst := image.NewAlpha(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		z.Draw(dst, dst.Bounds(), image.Opaque, image.Point{})
		if err := s.dev.Write(bounds, dst.Pix); err != nil {
			logger.Get().Warn("selection: rasterize shapes", "rect", bounds, "err", err)
		}
		s.dev.Purge()
	}

	s.mu.Lock()
	s.shapes = slices.Clone(shapes)
	s.mu.Unlock()
}

// HasShapes reports whether the mask is backed by vector shapes.
func (s *Selection) HasShapes() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shapes) > 0
}

// Shapes returns the backing shapes, or nil.
func (s *Selection) Shapes() []Shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.shapes)
}
