package device

import (
	"bytes"
	"image"

	"github.com/gogpu/canvas/internal/tile"
)

// DefaultBounds supplies the rectangle a device's default pixel covers.
// Images implement it with their own bounds.
type DefaultBounds interface {
	Bounds() image.Rectangle
}

// StaticBounds is a fixed DefaultBounds.
type StaticBounds image.Rectangle

// Bounds returns the rectangle.
func (b StaticBounds) Bounds() image.Rectangle {
	return image.Rectangle(b)
}

// frame is one animation frame's content.
type frame struct {
	tiles   *tile.Map
	offset  image.Point
	payload InterstrokePayload

	exactGen   uint64
	exactValid bool
	exact      image.Rectangle // tile map coordinates
}

func newFrame(m *tile.Map) *frame {
	return &frame{tiles: m}
}

// exactLocal returns the cached exact bounds in map coordinates.
func (f *frame) exactLocal() image.Rectangle {
	gen := f.tiles.Generation()
	if !f.exactValid || f.exactGen != gen {
		f.exact = f.tiles.ExactBounds()
		f.exactGen = gen
		f.exactValid = true
	}
	return f.exact
}

// defaultVisible reports whether the default pixel is non-transparent.
// Caller must hold d.mu.
func (d *Device) defaultVisible() bool {
	def := d.cur().tiles.DefaultPixel()
	return !bytes.Equal(def, d.cs.TransparentPixel())
}

// ExactBounds returns the smallest rectangle containing every pixel that
// differs from the default pixel. When the default pixel is not
// transparent the result also covers the default bounds.
func (d *Device) ExactBounds() image.Rectangle {
	// Cache update needs the write lock.
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.cur()
	r := f.exactLocal().Add(f.offset)
	if d.defaultVisible() {
		r = r.Union(d.bounds.Bounds())
	}
	return r
}

// Extent returns a conservative superset of ExactBounds: the union of the
// stored tiles' rectangles, plus the default bounds when the default
// pixel is not transparent.
func (d *Device) Extent() image.Rectangle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f := d.cur()
	r := f.tiles.Extent().Add(f.offset)
	if d.defaultVisible() {
		r = r.Union(d.bounds.Bounds())
	}
	return r
}

// NonDefaultPixelArea counts the stored pixels that differ from the
// default pixel.
func (d *Device) NonDefaultPixelArea() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f := d.cur()
	def := f.tiles.DefaultPixel()
	ps := len(def)
	n := 0
	for _, c := range f.tiles.Coords() {
		data := f.tiles.Tile(c).Data()
		for off := 0; off < len(data); off += ps {
			if !bytes.Equal(data[off:off+ps], def) {
				n++
			}
		}
	}
	return n
}
