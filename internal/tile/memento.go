package tile

import (
	"bytes"
	"image"
	"slices"
)

// Memento records the before and after state of every tile touched while
// it was open on a map, plus default pixel changes.
//
// A memento is opened with Map.BeginMemento and frozen with Map.Commit.
// After that Map.Undo and Map.Redo switch the map between the two states
// any number of times.
type Memento struct {
	pool      *Pool
	pixelSize int
	records   map[Coord]*record
	order     []Coord

	defaultTouched bool
	oldDefault     []byte
	newDefault     []byte

	committed bool
	packer    *Packer
}

type record struct {
	before blob
	after  blob
}

// blob is a tile reference, optionally compressed. A blob with neither a
// tile nor packed bytes stands for an absent tile.
type blob struct {
	tile   *Tile
	packed []byte
}

func (b *blob) empty() bool {
	return b.tile == nil && b.packed == nil
}

// BeginMemento opens a memento that records every following mutation.
// Several mementos may be open at once; each records independently.
func (m *Map) BeginMemento() *Memento {
	mem := &Memento{
		pool:      m.pool,
		pixelSize: m.pixelSize,
		records:   make(map[Coord]*record),
	}
	m.mementos = append(m.mementos, mem)
	return mem
}

// touch records the current tile at c in every open memento that has not
// seen c yet.
func (m *Map) touch(c Coord) {
	for _, mem := range m.mementos {
		if _, ok := mem.records[c]; ok {
			continue
		}
		rec := &record{}
		if t := m.tiles[c]; t != nil {
			rec.before.tile = t.Ref()
		}
		mem.records[c] = rec
		mem.order = append(mem.order, c)
	}
}

func (mem *Memento) touchDefault(current []byte) {
	if mem.defaultTouched {
		return
	}
	mem.defaultTouched = true
	mem.oldDefault = slices.Clone(current)
}

// Open reports whether the memento is still recording on m.
func (m *Map) Open(mem *Memento) bool {
	return slices.Contains(m.mementos, mem)
}

func (m *Map) detach(mem *Memento) bool {
	i := slices.Index(m.mementos, mem)
	if i < 0 {
		return false
	}
	m.mementos = slices.Delete(m.mementos, i, i+1)
	return true
}

// Commit stops recording and captures the post-state of every touched
// tile. Records whose before and after states are identical are dropped.
// Returns false if mem was not open on m.
func (m *Map) Commit(mem *Memento) bool {
	if !m.detach(mem) {
		return false
	}
	kept := mem.order[:0]
	for _, c := range mem.order {
		rec := mem.records[c]
		if t := m.tiles[c]; t != nil {
			rec.after.tile = t.Ref()
		}
		if sameTile(rec.before.tile, rec.after.tile) {
			mem.pool.Release(rec.before.tile)
			mem.pool.Release(rec.after.tile)
			delete(mem.records, c)
			continue
		}
		kept = append(kept, c)
	}
	mem.order = kept
	if mem.defaultTouched {
		mem.newDefault = slices.Clone(m.defaultPixel)
		if slices.Equal(mem.oldDefault, mem.newDefault) {
			mem.defaultTouched = false
			mem.oldDefault, mem.newDefault = nil, nil
		}
	}
	mem.committed = true
	return true
}

// sameTile reports whether a and b hold identical pixels. Rewriting a tile
// with its own content leaves nothing to record.
func sameTile(a, b *Tile) bool {
	if a == b {
		return true
	}
	return a != nil && b != nil && bytes.Equal(a.data, b.data)
}

// Rollback stops recording and restores the pre-state of every touched
// tile in place. The memento is released and must not be used again.
func (m *Map) Rollback(mem *Memento) bool {
	if !m.detach(mem) {
		return false
	}
	for _, c := range mem.order {
		m.restore(c, &mem.records[c].before, mem)
	}
	if mem.defaultTouched {
		m.SetDefaultPixel(mem.oldDefault)
	}
	mem.Release()
	return true
}

// Undo switches m to the memento's pre-state.
func (m *Map) Undo(mem *Memento) {
	if !mem.committed {
		panic("tile: undo of an uncommitted memento")
	}
	for _, c := range mem.order {
		m.restore(c, &mem.records[c].before, mem)
	}
	if mem.defaultTouched {
		m.SetDefaultPixel(mem.oldDefault)
	}
}

// Redo switches m to the memento's post-state.
func (m *Map) Redo(mem *Memento) {
	if !mem.committed {
		panic("tile: redo of an uncommitted memento")
	}
	for _, c := range mem.order {
		m.restore(c, &mem.records[c].after, mem)
	}
	if mem.defaultTouched {
		m.SetDefaultPixel(mem.newDefault)
	}
}

func (m *Map) restore(c Coord, b *blob, mem *Memento) {
	if b.empty() {
		m.RemoveTile(c)
		return
	}
	m.SetTile(c, mem.materialize(b).Ref())
}

// materialize unpacks a compressed blob back into a tile the memento owns.
func (mem *Memento) materialize(b *blob) *Tile {
	if b.tile != nil {
		return b.tile
	}
	t := mem.pool.Get(mem.pixelSize)
	if err := mem.packer.Unpack(b.packed, t.data); err != nil {
		// Packed data is produced in-process; failure means memory corruption.
		panic("tile: corrupt packed memento: " + err.Error())
	}
	b.tile = t
	b.packed = nil
	return t
}

// Empty reports whether the memento recorded no effective change.
func (mem *Memento) Empty() bool {
	return len(mem.order) == 0 && !mem.defaultTouched
}

// Coords returns the touched tile coordinates in first-touch order.
func (mem *Memento) Coords() []Coord {
	return slices.Clone(mem.order)
}

// DefaultChanged reports whether the memento changes the default pixel.
func (mem *Memento) DefaultChanged() bool {
	return mem.defaultTouched
}

// Bounds returns the union of the touched tiles' rectangles.
func (mem *Memento) Bounds() image.Rectangle {
	var r image.Rectangle
	for _, c := range mem.order {
		r = r.Union(c.Rect())
	}
	return r
}

// Compact compresses every recorded tile that no map references any more.
// Returns the number of tiles packed.
func (mem *Memento) Compact(p *Packer) int {
	if !mem.committed {
		return 0
	}
	if p == nil {
		p = DefaultPacker()
	}
	// One packer per memento keeps decoding consistent.
	if mem.packer != nil && mem.packer != p {
		return 0
	}
	packed := 0
	for _, c := range mem.order {
		rec := mem.records[c]
		for _, b := range []*blob{&rec.before, &rec.after} {
			if b.tile == nil || b.tile.Refs() != 1 {
				continue
			}
			b.packed = p.Pack(b.tile.data)
			mem.pool.Release(b.tile)
			b.tile = nil
			mem.packer = p
			packed++
		}
	}
	return packed
}

// PackedSize returns the number of compressed bytes held by the memento.
func (mem *Memento) PackedSize() int {
	n := 0
	for _, rec := range mem.records {
		n += len(rec.before.packed) + len(rec.after.packed)
	}
	return n
}

// Release drops every tile reference held by the memento.
func (mem *Memento) Release() {
	for _, rec := range mem.records {
		mem.pool.Release(rec.before.tile)
		mem.pool.Release(rec.after.tile)
	}
	mem.records = nil
	mem.order = nil
}
