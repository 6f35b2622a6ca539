// Package tile implements the sparse, copy-on-write tile storage behind
// every canvas paint device.
//
// A device's pixels live in 64x64 tiles that are reference counted. Clones
// of a device share tiles until one side writes, at which point the writer
// clones the tile. Regions that still hold the default pixel have no tile
// at all. Key pieces:
//
//   - Tile: fixed-size pixel block with an atomic reference count
//   - Pool: per-pixel-size sync.Pool reuse of tile memory
//   - Map: sparse coordinate -> tile map with a default pixel
//   - Memento: before/after record of the tiles touched while it was open
//
// Thread safety: Map and Memento are NOT thread-safe; the owning device
// serialises access. Pool is safe for concurrent use.
package tile

import (
	"bytes"
	"image"
	"sync/atomic"
)

// Tile size constants.
const (
	// Width is the width of a tile in pixels.
	Width = 64

	// Height is the height of a tile in pixels.
	Height = 64

	// Pixels is the number of pixels in a tile.
	Pixels = Width * Height
)

// Coord addresses a tile in the tile grid. Tile (0, 0) covers pixels
// [0, 64) x [0, 64); negative coordinates are valid.
type Coord struct {
	X int
	Y int
}

// CoordOf returns the coordinate of the tile containing pixel (px, py).
func CoordOf(px, py int) Coord {
	return Coord{X: floorDiv(px, Width), Y: floorDiv(py, Height)}
}

// Rect returns the pixel rectangle covered by the tile.
func (c Coord) Rect() image.Rectangle {
	x := c.X * Width
	y := c.Y * Height
	return image.Rect(x, y, x+Width, y+Height)
}

// CoordsIn returns the coordinates of all tiles intersecting r, in
// row-major order. Returns nil for an empty rectangle.
func CoordsIn(r image.Rectangle) []Coord {
	if r.Empty() {
		return nil
	}
	c0 := CoordOf(r.Min.X, r.Min.Y)
	c1 := CoordOf(r.Max.X-1, r.Max.Y-1)
	result := make([]Coord, 0, (c1.X-c0.X+1)*(c1.Y-c0.Y+1))
	for ty := c0.Y; ty <= c1.Y; ty++ {
		for tx := c0.X; tx <= c1.X; tx++ {
			result = append(result, Coord{X: tx, Y: ty})
		}
	}
	return result
}

// AlignRect grows r to tile boundaries.
func AlignRect(r image.Rectangle) image.Rectangle {
	if r.Empty() {
		return image.Rectangle{}
	}
	c0 := CoordOf(r.Min.X, r.Min.Y)
	c1 := CoordOf(r.Max.X-1, r.Max.Y-1)
	return c0.Rect().Union(c1.Rect())
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Tile is a 64x64 block of pixel data.
//
// A tile is shared by every map and memento holding a reference to it and
// must not be mutated while Shared reports true.
type Tile struct {
	pixelSize int
	data      []byte
	refs      atomic.Int32
}

// PixelSize returns the number of bytes per pixel.
func (t *Tile) PixelSize() int {
	return t.pixelSize
}

// Data returns the raw pixel data, Width*Height*PixelSize bytes, row-major.
func (t *Tile) Data() []byte {
	return t.data
}

// Stride returns the row stride in bytes.
func (t *Tile) Stride() int {
	return Width * t.pixelSize
}

// Row returns the bytes of tile-local row y.
func (t *Tile) Row(y int) []byte {
	stride := t.Stride()
	return t.data[y*stride : (y+1)*stride]
}

// Pixel returns the bytes of the tile-local pixel (x, y).
func (t *Tile) Pixel(x, y int) []byte {
	off := (y*Width + x) * t.pixelSize
	return t.data[off : off+t.pixelSize]
}

// Refs returns the current reference count.
func (t *Tile) Refs() int {
	return int(t.refs.Load())
}

// Shared reports whether more than one owner references the tile.
func (t *Tile) Shared() bool {
	return t.refs.Load() > 1
}

// Ref adds a reference and returns the tile for chaining.
func (t *Tile) Ref() *Tile {
	t.refs.Add(1)
	return t
}

// IsUniform reports whether every pixel of the tile equals px.
func (t *Tile) IsUniform(px []byte) bool {
	if len(px) != t.pixelSize {
		return false
	}
	for off := 0; off < len(t.data); off += t.pixelSize {
		if !bytes.Equal(t.data[off:off+t.pixelSize], px) {
			return false
		}
	}
	return true
}

// fill sets every pixel to px.
func (t *Tile) fill(px []byte) {
	if isZero(px) {
		clear(t.data)
		return
	}
	copy(t.data, px)
	for filled := len(px); filled < len(t.data); filled *= 2 {
		copy(t.data[filled:], t.data[:filled])
	}
}

func isZero(px []byte) bool {
	for _, b := range px {
		if b != 0 {
			return false
		}
	}
	return true
}
