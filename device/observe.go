package device

import (
	"image"
	"slices"
)

// Change describes a device modification.
type Change struct {
	// Rect is the changed area in device coordinates.
	Rect image.Rectangle

	// Full is set when the whole device may have changed: default pixel,
	// color space, frame switch or offset changes.
	Full bool
}

type observer struct {
	fn func(Change)
}

// OnChange registers fn to run after every modification, in registration
// order, on the goroutine that made the change. The returned function
// removes the observer.
func (d *Device) OnChange(fn func(Change)) (remove func()) {
	o := &observer{fn: fn}
	d.obsMu.Lock()
	d.observers = append(d.observers, o)
	d.obsMu.Unlock()
	return func() {
		d.obsMu.Lock()
		defer d.obsMu.Unlock()
		if i := slices.Index(d.observers, o); i >= 0 {
			d.observers = slices.Delete(d.observers, i, i+1)
		}
	}
}

// notify delivers c to every observer. Caller must not hold d.mu.
func (d *Device) notify(c Change) {
	if c.Rect.Empty() && !c.Full {
		return
	}
	d.obsMu.Lock()
	obs := slices.Clone(d.observers)
	d.obsMu.Unlock()
	for _, o := range obs {
		o.fn(c)
	}
}
