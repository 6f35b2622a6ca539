package tile

import (
	"bytes"
	"fmt"
	"image"
	"slices"
)

// Map is a sparse grid of tiles with a default pixel.
//
// Coordinates are map-local; the owning device applies its own offset.
// Absent tiles read as the default pixel. Every mutation goes through the
// map so that open mementos can record the pre-state of each tile on its
// first touch.
type Map struct {
	pool         *Pool
	pixelSize    int
	defaultPixel []byte
	tiles        map[Coord]*Tile
	mementos     []*Memento
	generation   uint64
}

// NewMap creates an empty map whose absent tiles read as defaultPixel.
// A nil pool selects the package default.
func NewMap(defaultPixel []byte, pool *Pool) *Map {
	if len(defaultPixel) == 0 {
		panic("tile: empty default pixel")
	}
	if pool == nil {
		pool = defaultPool
	}
	return &Map{
		pool:         pool,
		pixelSize:    len(defaultPixel),
		defaultPixel: slices.Clone(defaultPixel),
		tiles:        make(map[Coord]*Tile),
	}
}

// PixelSize returns the number of bytes per pixel.
func (m *Map) PixelSize() int {
	return m.pixelSize
}

// Pool returns the pool tiles are allocated from.
func (m *Map) Pool() *Pool {
	return m.pool
}

// DefaultPixel returns a copy of the default pixel.
func (m *Map) DefaultPixel() []byte {
	return slices.Clone(m.defaultPixel)
}

// IsDefault reports whether px equals the default pixel.
func (m *Map) IsDefault(px []byte) bool {
	return bytes.Equal(px, m.defaultPixel)
}

// SetDefaultPixel changes the value absent tiles read as.
func (m *Map) SetDefaultPixel(px []byte) {
	m.checkPixel(px)
	if bytes.Equal(px, m.defaultPixel) {
		return
	}
	for _, mem := range m.mementos {
		mem.touchDefault(m.defaultPixel)
	}
	copy(m.defaultPixel, px)
	m.generation++
}

// Generation increments on every content change.
func (m *Map) Generation() uint64 {
	return m.generation
}

// Len returns the number of stored tiles.
func (m *Map) Len() int {
	return len(m.tiles)
}

// Tile returns the tile at c, or nil when the region holds the default
// pixel. The returned tile must not be modified.
func (m *Map) Tile(c Coord) *Tile {
	return m.tiles[c]
}

// Coords returns the coordinates of all stored tiles in row-major order.
func (m *Map) Coords() []Coord {
	coords := make([]Coord, 0, len(m.tiles))
	for c := range m.tiles {
		coords = append(coords, c)
	}
	slices.SortFunc(coords, compareCoords)
	return coords
}

func compareCoords(a, b Coord) int {
	if a.Y != b.Y {
		return a.Y - b.Y
	}
	return a.X - b.X
}

// Extent returns the union of the stored tiles' rectangles.
func (m *Map) Extent() image.Rectangle {
	var r image.Rectangle
	for c := range m.tiles {
		r = r.Union(c.Rect())
	}
	return r
}

// ExactBounds returns the smallest rectangle containing every stored pixel
// that differs from the default pixel.
func (m *Map) ExactBounds() image.Rectangle {
	var r image.Rectangle
	for c, t := range m.tiles {
		tr := c.Rect()
		if !r.Empty() && tr.In(r) {
			continue
		}
		r = r.Union(m.tileBounds(t).Add(tr.Min))
	}
	return r
}

// tileBounds returns the tile-local bounds of non-default pixels.
func (m *Map) tileBounds(t *Tile) image.Rectangle {
	minX, minY, maxX, maxY := Width, Height, -1, -1
	ps := m.pixelSize
	for y := 0; y < Height; y++ {
		row := t.Row(y)
		first := -1
		for x := 0; x < Width; x++ {
			if !bytes.Equal(row[x*ps:(x+1)*ps], m.defaultPixel) {
				first = x
				break
			}
		}
		if first < 0 {
			continue
		}
		last := first
		for x := Width - 1; x > first; x-- {
			if !bytes.Equal(row[x*ps:(x+1)*ps], m.defaultPixel) {
				last = x
				break
			}
		}
		minX = min(minX, first)
		maxX = max(maxX, last)
		if minY == Height {
			minY = y
		}
		maxY = y
	}
	if maxY < 0 {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// ReadRect copies the pixels of r into dst, row-major with a stride of
// r.Dx()*PixelSize. Absent tiles contribute the default pixel.
func (m *Map) ReadRect(r image.Rectangle, dst []byte) {
	ps := m.pixelSize
	stride := r.Dx() * ps
	if len(dst) < stride*r.Dy() {
		panic(fmt.Sprintf("tile: read buffer too small: %d < %d", len(dst), stride*r.Dy()))
	}
	for _, c := range CoordsIn(r) {
		tr := c.Rect()
		ir := tr.Intersect(r)
		t := m.tiles[c]
		n := ir.Dx() * ps
		for y := ir.Min.Y; y < ir.Max.Y; y++ {
			off := (y-r.Min.Y)*stride + (ir.Min.X-r.Min.X)*ps
			out := dst[off : off+n]
			if t == nil {
				fillPixels(out, m.defaultPixel)
				continue
			}
			src := t.Row(y - tr.Min.Y)
			sx := (ir.Min.X - tr.Min.X) * ps
			copy(out, src[sx:sx+n])
		}
	}
}

// PixelAt returns a copy of the pixel at (x, y).
func (m *Map) PixelAt(x, y int) []byte {
	c := CoordOf(x, y)
	t := m.tiles[c]
	if t == nil {
		return slices.Clone(m.defaultPixel)
	}
	return slices.Clone(t.Pixel(x-c.X*Width, y-c.Y*Height))
}

// WriteRect stores src into r. src is row-major with a stride of
// r.Dx()*PixelSize.
func (m *Map) WriteRect(r image.Rectangle, src []byte) {
	ps := m.pixelSize
	stride := r.Dx() * ps
	if len(src) < stride*r.Dy() {
		panic(fmt.Sprintf("tile: write buffer too small: %d < %d", len(src), stride*r.Dy()))
	}
	for _, c := range CoordsIn(r) {
		tr := c.Rect()
		ir := tr.Intersect(r)
		t := m.Writable(c)
		n := ir.Dx() * ps
		for y := ir.Min.Y; y < ir.Max.Y; y++ {
			off := (y-r.Min.Y)*stride + (ir.Min.X-r.Min.X)*ps
			dst := t.Row(y - tr.Min.Y)
			dx := (ir.Min.X - tr.Min.X) * ps
			copy(dst[dx:dx+n], src[off:off+n])
		}
	}
}

// FillRect sets every pixel in r to px. Fully covered tiles are replaced
// outright, and dropped when px is the default pixel.
func (m *Map) FillRect(r image.Rectangle, px []byte) {
	m.checkPixel(px)
	ps := m.pixelSize
	isDefault := bytes.Equal(px, m.defaultPixel)
	for _, c := range CoordsIn(r) {
		tr := c.Rect()
		ir := tr.Intersect(r)
		if ir == tr {
			if isDefault {
				m.RemoveTile(c)
			} else {
				m.SetTile(c, m.pool.GetFilled(px))
			}
			continue
		}
		if isDefault && m.tiles[c] == nil {
			continue
		}
		t := m.Writable(c)
		n := ir.Dx() * ps
		dx := (ir.Min.X - tr.Min.X) * ps
		for y := ir.Min.Y; y < ir.Max.Y; y++ {
			fillPixels(t.Row(y - tr.Min.Y)[dx:dx+n], px)
		}
	}
}

// Writable returns an unshared tile at c that may be modified, allocating
// a default-filled tile or cloning a shared one as needed.
func (m *Map) Writable(c Coord) *Tile {
	m.touch(c)
	m.generation++
	t := m.tiles[c]
	switch {
	case t == nil:
		t = m.pool.GetFilled(m.defaultPixel)
		m.tiles[c] = t
	case t.Shared():
		clone := m.pool.Clone(t)
		m.pool.Release(t)
		t = clone
		m.tiles[c] = t
	}
	return t
}

// SetTile stores t at c, taking ownership of one reference. A nil tile
// removes the entry.
func (m *Map) SetTile(c Coord, t *Tile) {
	if t != nil && t.pixelSize != m.pixelSize {
		panic(fmt.Sprintf("tile: pixel size mismatch: %d != %d", t.pixelSize, m.pixelSize))
	}
	m.touch(c)
	m.generation++
	old := m.tiles[c]
	if t == nil {
		delete(m.tiles, c)
	} else {
		m.tiles[c] = t
	}
	m.pool.Release(old)
}

// RemoveTile drops the tile at c so the region reads as the default pixel.
func (m *Map) RemoveTile(c Coord) {
	if _, ok := m.tiles[c]; !ok {
		return
	}
	m.SetTile(c, nil)
}

// Clear removes every tile.
func (m *Map) Clear() {
	for _, c := range m.Coords() {
		m.SetTile(c, nil)
	}
}

// Purge removes tiles that hold only the default pixel.
func (m *Map) Purge() {
	for _, c := range m.Coords() {
		if m.tiles[c].IsUniform(m.defaultPixel) {
			m.SetTile(c, nil)
		}
	}
}

// Clone returns a map sharing all tiles with m. The clone has no open
// mementos.
func (m *Map) Clone() *Map {
	c := &Map{
		pool:         m.pool,
		pixelSize:    m.pixelSize,
		defaultPixel: slices.Clone(m.defaultPixel),
		tiles:        make(map[Coord]*Tile, len(m.tiles)),
		generation:   m.generation,
	}
	for coord, t := range m.tiles {
		c.tiles[coord] = t.Ref()
	}
	return c
}

// Release drops every tile reference held by the map. The map must not be
// used afterwards.
func (m *Map) Release() {
	for c, t := range m.tiles {
		m.pool.Release(t)
		delete(m.tiles, c)
	}
	m.mementos = nil
}

func (m *Map) checkPixel(px []byte) {
	if len(px) != m.pixelSize {
		panic(fmt.Sprintf("tile: pixel size mismatch: %d != %d", len(px), m.pixelSize))
	}
}

// fillPixels repeats px across dst.
func fillPixels(dst, px []byte) {
	if len(dst) == 0 {
		return
	}
	n := copy(dst, px)
	for n < len(dst) {
		n += copy(dst[n:], dst[:n])
	}
}
