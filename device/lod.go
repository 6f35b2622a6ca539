package device

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/gogpu/canvas/internal/cache"
)

type lodKey struct {
	level int
	frame int
	gen   uint64
}

// scaledBounds divides another provider's bounds by a power of two.
type scaledBounds struct {
	base  DefaultBounds
	level int
}

func (b scaledBounds) Bounds() image.Rectangle {
	return ScaleRect(b.base.Bounds(), b.level)
}

// ScaleRect maps r to level of detail level, rounding outwards.
func ScaleRect(r image.Rectangle, level int) image.Rectangle {
	if level <= 0 || r.Empty() {
		return r
	}
	s := 1 << level
	return image.Rect(floorDiv(r.Min.X, s), floorDiv(r.Min.Y, s), ceilDiv(r.Max.X, s), ceilDiv(r.Max.Y, s))
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(a, b int) int {
	return -floorDiv(-a, b)
}

// LodDevice returns a copy of the current frame scaled down by 2^level,
// for previews. Copies are cached per level until the content changes and
// are released when evicted, so callers that paint on one or keep it past
// the next change of d must Clone it. Level 0 returns d itself.
func (d *Device) LodDevice(level int) (*Device, error) {
	if level <= 0 {
		return d, nil
	}
	d.lodOnce.Do(func() {
		d.lod = cache.New[lodKey, *Device](d.lodLimit)
		d.lod.OnEvict(func(_ lodKey, l *Device) { l.Release() })
	})

	key := lodKey{level: level, frame: d.CurrentFrame(), gen: d.Generation()}
	if l, ok := d.lod.Get(key); ok {
		return l, nil
	}
	l, err := d.buildLod(level)
	if err != nil {
		return nil, err
	}
	d.lod.DeleteFunc(func(k lodKey, _ *Device) bool {
		return k.level == key.level && k.frame == key.frame && k.gen != key.gen
	})
	d.lod.Set(key, l)
	return l, nil
}

func (d *Device) buildLod(level int) (*Device, error) {
	l := New(d.ColorSpace(), WithPool(d.pool), WithDefaultBounds(scaledBounds{base: d.DefaultBounds(), level: level}))
	l.SetDefaultPixel(d.DefaultPixel())

	// Only stored content needs resampling; the default pixel covers the rest.
	src := d.storedBounds()
	if src.Empty() {
		return l, nil
	}
	rgba, err := d.ToRGBA(src)
	if err != nil {
		return nil, err
	}
	dstRect := ScaleRect(src, level)
	scaled := image.NewRGBA(dstRect)
	draw.ApproxBiLinear.Scale(scaled, dstRect, rgba, src, draw.Src, nil)
	if err := l.WriteImage(scaled, dstRect.Min); err != nil {
		return nil, err
	}
	return l, nil
}

func (d *Device) storedBounds() image.Rectangle {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.cur()
	return f.exactLocal().Add(f.offset)
}

// Release returns every tile to the pool. The device must not be used
// afterwards.
func (d *Device) Release() {
	d.mu.Lock()
	for _, f := range d.frames {
		f.tiles.Release()
	}
	d.mu.Unlock()
	if d.lod != nil {
		d.lod.Clear()
	}
}
