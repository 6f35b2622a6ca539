package device

import (
	"image"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/internal/logger"
	"github.com/gogpu/canvas/internal/tile"
	"github.com/gogpu/canvas/undo"
)

// Offset returns the position of the tile map origin in device
// coordinates.
func (d *Device) Offset() image.Point {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cur().offset
}

// SetOffset moves the content so the tile map origin lies at p.
func (d *Device) SetOffset(p image.Point) {
	d.mu.Lock()
	f := d.cur()
	if f.offset == p {
		d.mu.Unlock()
		return
	}
	f.offset = p
	d.touched()
	d.mu.Unlock()
	d.notify(Change{Full: true})
}

// Move shifts the content by (dx, dy). It changes the offset only.
func (d *Device) Move(dx, dy int) {
	d.SetOffset(d.Offset().Add(image.Pt(dx, dy)))
}

// MirrorX mirrors the content horizontally about the vertical line
// between columns axis-1 and axis, so x maps to 2*axis-1-x.
func (d *Device) MirrorX(axis int) {
	d.mirror(true, axis)
}

// MirrorY mirrors the content vertically about the horizontal line
// between rows axis-1 and axis.
func (d *Device) MirrorY(axis int) {
	d.mirror(false, axis)
}

func (d *Device) mirror(horizontal bool, axis int) {
	d.mu.Lock()
	f := d.cur()
	local := f.tiles.Extent()
	if local.Empty() {
		d.mu.Unlock()
		return
	}
	src := local.Add(f.offset)
	var dst image.Rectangle
	if horizontal {
		dst = image.Rect(2*axis-src.Max.X, src.Min.Y, 2*axis-src.Min.X, src.Max.Y)
	} else {
		dst = image.Rect(src.Min.X, 2*axis-src.Max.Y, src.Max.X, 2*axis-src.Min.Y)
	}

	ps := f.tiles.PixelSize()
	w, h := local.Dx(), local.Dy()
	stride := w * ps
	buf := make([]byte, stride*h)
	f.tiles.ReadRect(local, buf)
	out := make([]byte, len(buf))
	for y := 0; y < h; y++ {
		row := buf[y*stride : (y+1)*stride]
		oy := y
		if !horizontal {
			oy = h - 1 - y
		}
		orow := out[oy*stride : (oy+1)*stride]
		if !horizontal {
			copy(orow, row)
			continue
		}
		for x := 0; x < w; x++ {
			ox := w - 1 - x
			copy(orow[ox*ps:(ox+1)*ps], row[x*ps:(x+1)*ps])
		}
	}

	f.tiles.Clear()
	f.tiles.WriteRect(f.local(dst), out)
	f.tiles.Purge()
	d.touched()
	d.mu.Unlock()
	d.notify(Change{Rect: src.Union(dst)})
}

// Clone returns a device sharing every frame's tiles with d. Tiles are
// copied lazily on the first write to either device. Interstroke payloads
// and observers are not cloned.
func (d *Device) Clone() *Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c := &Device{
		cs:       d.cs,
		pool:     d.pool,
		packer:   d.packer,
		bounds:   d.bounds,
		frames:   make(map[int]*frame, len(d.frames)),
		current:  d.current,
		nextID:   d.nextID,
		lodLimit: d.lodLimit,
	}
	for id, f := range d.frames {
		nf := newFrame(f.tiles.Clone())
		nf.offset = f.offset
		c.frames[id] = nf
	}
	return c
}

// MakeCloneFrom replaces d's current frame with a copy of src's current
// frame content, color space and offset. Tiles are shared copy-on-write.
func (d *Device) MakeCloneFrom(src *Device) {
	src.mu.RLock()
	sf := src.cur()
	tiles := sf.tiles.Clone()
	offset := sf.offset
	cs := src.cs
	src.mu.RUnlock()

	d.mu.Lock()
	f := d.cur()
	f.tiles.Release()
	f.tiles = tiles
	f.offset = offset
	f.exactValid = false
	d.cs = cs
	d.touched()
	d.mu.Unlock()
	d.notify(Change{Full: true})
}

// ConvertTo converts every frame to cs and returns the command that undoes
// and redoes the conversion. The conversion happens immediately; the
// command's first Redo does nothing. Converting to an equal space returns
// undo.Empty.
func (d *Device) ConvertTo(cs colorspace.ColorSpace) (undo.Command, error) {
	d.mu.Lock()
	if d.cs.Equal(cs) {
		d.mu.Unlock()
		return undo.Empty, nil
	}
	if !colorspace.CanConvert(d.cs, cs) {
		d.mu.Unlock()
		return nil, colorspace.ErrUnconvertible
	}
	oldCS := d.cs
	oldMaps := make(map[int]*tile.Map, len(d.frames))
	newMaps := make(map[int]*tile.Map, len(d.frames))
	for id, f := range d.frames {
		converted, err := convertMap(f.tiles, oldCS, cs, d.pool)
		if err != nil {
			d.mu.Unlock()
			for _, m := range newMaps {
				m.Release()
			}
			return nil, err
		}
		oldMaps[id] = f.tiles
		newMaps[id] = converted
	}
	d.swapMaps(cs, newMaps)
	d.mu.Unlock()
	d.notify(Change{Full: true})

	cmd := &convertCommand{dev: d, oldCS: oldCS, newCS: cs, oldMaps: oldMaps, newMaps: newMaps}
	return cmd, nil
}

// swapMaps installs maps and cs. Caller must hold d.mu.
func (d *Device) swapMaps(cs colorspace.ColorSpace, maps map[int]*tile.Map) {
	d.cs = cs
	for id, m := range maps {
		if f, ok := d.frames[id]; ok {
			f.tiles = m
			f.exactValid = false
		}
	}
	d.touched()
}

func convertMap(m *tile.Map, from, to colorspace.ColorSpace, pool *tile.Pool) (*tile.Map, error) {
	def, err := colorspace.Convert(from, to, m.DefaultPixel(), 1)
	if err != nil {
		return nil, err
	}
	out := tile.NewMap(def, pool)
	for _, c := range m.Coords() {
		data, err := colorspace.Convert(from, to, m.Tile(c).Data(), tile.Pixels)
		if err != nil {
			out.Release()
			return nil, err
		}
		out.WriteRect(c.Rect(), data)
	}
	return out, nil
}

type convertCommand struct {
	dev          *Device
	life         undo.Lifecycle
	oldCS, newCS colorspace.ColorSpace
	oldMaps      map[int]*tile.Map
	newMaps      map[int]*tile.Map
}

func (c *convertCommand) Name() string { return "Convert Color Space" }

func (c *convertCommand) Redo() {
	if !c.life.Redo() {
		return
	}
	c.apply(c.newCS, c.newMaps)
}

func (c *convertCommand) Undo() {
	c.life.Undo()
	c.apply(c.oldCS, c.oldMaps)
}

func (c *convertCommand) apply(cs colorspace.ColorSpace, maps map[int]*tile.Map) {
	c.dev.mu.Lock()
	for id := range maps {
		if !logger.Assert(c.dev.frames[id] != nil, "color conversion of a deleted frame", "frame", id) {
			delete(maps, id)
		}
	}
	c.dev.swapMaps(cs, maps)
	c.dev.mu.Unlock()
	c.dev.notify(Change{Full: true})
}
