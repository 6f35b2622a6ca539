package device

import (
	"fmt"
	"slices"

	"github.com/gogpu/canvas/internal/tile"
)

// CurrentFrame returns the id of the frame reads and writes go to.
func (d *Device) CurrentFrame() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Frames returns the frame ids in ascending order.
func (d *Device) Frames() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]int, 0, len(d.frames))
	for id := range d.frames {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// HasFrame reports whether the frame exists.
func (d *Device) HasFrame(id int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.frames[id]
	return ok
}

// CreateFrame adds a frame and returns its id. When copyFrom names an
// existing frame the new frame shares its content; otherwise it is empty.
func (d *Device) CreateFrame(copyFrom int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	if src, ok := d.frames[copyFrom]; ok {
		f := newFrame(src.tiles.Clone())
		f.offset = src.offset
		d.frames[id] = f
	} else {
		d.frames[id] = newFrame(tile.NewMap(d.cur().tiles.DefaultPixel(), d.pool))
	}
	return id
}

// SetCurrentFrame switches reads and writes to frame id.
func (d *Device) SetCurrentFrame(id int) error {
	d.mu.Lock()
	if _, ok := d.frames[id]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("frame %d: %w", id, ErrNoFrame)
	}
	changed := d.current != id
	d.current = id
	if changed {
		d.touched()
	}
	d.mu.Unlock()
	if changed {
		d.notify(Change{Full: true})
	}
	return nil
}

// DeleteFrame removes frame id. Deleting the current frame switches to the
// lowest remaining id.
func (d *Device) DeleteFrame(id int) error {
	d.mu.Lock()
	f, ok := d.frames[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("frame %d: %w", id, ErrNoFrame)
	}
	if len(d.frames) == 1 {
		d.mu.Unlock()
		return ErrLastFrame
	}
	delete(d.frames, id)
	f.tiles.Release()
	switched := false
	if d.current == id {
		ids := make([]int, 0, len(d.frames))
		for k := range d.frames {
			ids = append(ids, k)
		}
		d.current = slices.Min(ids)
		switched = true
		d.touched()
	}
	d.mu.Unlock()
	if switched {
		d.notify(Change{Full: true})
	}
	return nil
}

// frameByID returns the frame or nil. Caller must hold d.mu.
func (d *Device) frameByID(id int) *frame {
	return d.frames[id]
}

// EnsureFrame makes frame id exist, creating it empty when missing. It
// lets merged devices keep the frame ids of their sources.
func (d *Device) EnsureFrame(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.frames[id]; ok {
		return
	}
	d.frames[id] = newFrame(tile.NewMap(d.cur().tiles.DefaultPixel(), d.pool))
	d.nextID = max(d.nextID, id+1)
}
