package tile

import (
	"bytes"
	"image"
	"testing"
)

func newTestMap() *Map {
	return NewMap([]byte{0, 0, 0, 0}, NewPool())
}

func readPixel(m *Map, x, y int) []byte {
	return m.PixelAt(x, y)
}

// =============================================================================
// Read / Write Tests
// =============================================================================

func TestMap_ReadUntouchedDoesNotAllocate(t *testing.T) {
	m := NewMap([]byte{1, 2, 3, 4}, nil)
	buf := make([]byte, 100*100*4)
	m.ReadRect(image.Rect(-50, -50, 50, 50), buf)
	if m.Len() != 0 {
		t.Errorf("Len() = %d after read, want 0", m.Len())
	}
	for i := 0; i < len(buf); i += 4 {
		if !bytes.Equal(buf[i:i+4], []byte{1, 2, 3, 4}) {
			t.Fatalf("pixel %d = %v, want default", i/4, buf[i:i+4])
		}
	}
}

func TestMap_WriteAllocatesOnlyIntersectingTiles(t *testing.T) {
	m := newTestMap()
	r := image.Rect(60, 60, 70, 70)
	src := bytes.Repeat([]byte{255, 0, 0, 255}, r.Dx()*r.Dy())
	m.WriteRect(r, src)
	if m.Len() != 4 {
		t.Errorf("Len() = %d, want 4", m.Len())
	}
	got := make([]byte, len(src))
	m.ReadRect(r, got)
	if !bytes.Equal(got, src) {
		t.Error("ReadRect() does not return written pixels")
	}
	if px := readPixel(m, 59, 59); !bytes.Equal(px, []byte{0, 0, 0, 0}) {
		t.Errorf("PixelAt(59,59) = %v, want default", px)
	}
}

func TestMap_FillDefaultRemovesTiles(t *testing.T) {
	m := newTestMap()
	m.FillRect(image.Rect(0, 0, 128, 64), []byte{9, 9, 9, 9})
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	m.FillRect(image.Rect(0, 0, 64, 64), []byte{0, 0, 0, 0})
	if m.Len() != 1 {
		t.Errorf("Len() = %d after default fill, want 1", m.Len())
	}
}

func TestMap_NegativeCoordinates(t *testing.T) {
	m := newTestMap()
	m.FillRect(image.Rect(-10, -10, -5, -5), []byte{1, 1, 1, 1})
	if px := readPixel(m, -7, -7); px[0] != 1 {
		t.Errorf("PixelAt(-7,-7) = %v, want filled", px)
	}
	if got, want := m.ExactBounds(), image.Rect(-10, -10, -5, -5); got != want {
		t.Errorf("ExactBounds() = %v, want %v", got, want)
	}
	if got, want := m.Extent(), image.Rect(-64, -64, 0, 0); got != want {
		t.Errorf("Extent() = %v, want %v", got, want)
	}
}

func TestMap_ExactBounds(t *testing.T) {
	m := newTestMap()
	if !m.ExactBounds().Empty() {
		t.Error("ExactBounds() of empty map is not empty")
	}
	m.FillRect(image.Rect(5, 5, 15, 15), []byte{1, 1, 1, 1})
	m.FillRect(image.Rect(100, 3, 101, 200), []byte{1, 1, 1, 1})
	if got, want := m.ExactBounds(), image.Rect(5, 3, 101, 200); got != want {
		t.Errorf("ExactBounds() = %v, want %v", got, want)
	}
}

func TestMap_CloneSharesUntilWrite(t *testing.T) {
	m := newTestMap()
	m.FillRect(image.Rect(0, 0, 64, 64), []byte{5, 5, 5, 5})
	c := m.Clone()
	if m.Tile(Coord{}) != c.Tile(Coord{}) {
		t.Fatal("Clone() does not share tiles")
	}
	c.FillRect(image.Rect(0, 0, 1, 1), []byte{6, 6, 6, 6})
	if m.Tile(Coord{}) == c.Tile(Coord{}) {
		t.Fatal("write on clone did not clone the tile")
	}
	if px := readPixel(m, 0, 0); px[0] != 5 {
		t.Errorf("source PixelAt(0,0) = %v, want unchanged", px)
	}
	if m.Tile(Coord{}).Shared() {
		t.Error("source tile still shared after clone wrote")
	}
}

func TestMap_SetDefaultPixel(t *testing.T) {
	m := newTestMap()
	gen := m.Generation()
	m.SetDefaultPixel([]byte{1, 1, 1, 1})
	if m.Generation() == gen {
		t.Error("Generation() did not advance")
	}
	if px := readPixel(m, 1000, 1000); px[0] != 1 {
		t.Errorf("PixelAt() = %v, want new default", px)
	}
}

func TestMap_PixelSizeMismatchPanics(t *testing.T) {
	m := newTestMap()
	defer func() {
		if recover() == nil {
			t.Error("FillRect() with wrong pixel size did not panic")
		}
	}()
	m.FillRect(image.Rect(0, 0, 1, 1), []byte{1})
}

func TestMap_Purge(t *testing.T) {
	m := newTestMap()
	m.FillRect(image.Rect(0, 0, 10, 10), []byte{1, 1, 1, 1})
	m.FillRect(image.Rect(0, 0, 10, 10), []byte{0, 0, 0, 0})
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	m.Purge()
	if m.Len() != 0 {
		t.Errorf("Len() = %d after Purge, want 0", m.Len())
	}
}
