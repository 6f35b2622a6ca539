// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package selection implements the selection mask: a single-channel paint
// device holding per-pixel selectedness (0 unselected, 255 fully selected)
// with boolean combination, an optional vector shape backing and a lazily
// traced outline.
//
// The pixel mask is authoritative. Shapes are rasterised into it whenever
// they change, and any other pixel edit drops the shape backing.
package selection

import (
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/device"
	"github.com/gogpu/canvas/internal/logger"
	"github.com/gogpu/canvas/internal/tile"
)

// ErrUnconvertible is returned when a device cannot be converted to a mask.
var ErrUnconvertible = errors.New("selection: device cannot be converted to a mask")

// Op is a boolean combination of two masks.
type Op uint8

const (
	// Replace makes the result equal to the other mask.
	Replace Op = iota
	// Add keeps the maximum of both masks.
	Add
	// Subtract removes the other mask, clamping at zero.
	Subtract
	// Intersect keeps the minimum of both masks.
	Intersect
	// SymmetricDifference keeps what exactly one mask selects.
	SymmetricDifference
)

var opNames = [...]string{"replace", "add", "subtract", "intersect", "symmetric-difference"}

// String returns the operation name.
func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", op)
}

func (op Op) apply(a, b uint8) uint8 {
	switch op {
	case Replace:
		return b
	case Add:
		return max(a, b)
	case Subtract:
		if b > a {
			return 0
		}
		return a - b
	case Intersect:
		return min(a, b)
	case SymmetricDifference:
		if a > b {
			return a - b
		}
		return b - a
	}
	return a
}

// Selection is a selection mask. It is safe for concurrent reads; edits
// must be serialised by the caller, as for any paint device.
type Selection struct {
	dev    *device.Device
	remove func()

	mu           sync.Mutex
	outline      []Polygon
	outlineValid bool
	shapes       []Shape

	rasterizing atomic.Bool
}

// Option configures a Selection.
type Option func(*options)

type options struct {
	bounds device.DefaultBounds
	pool   *tile.Pool
}

// WithDefaultBounds sets the area an inverted (default-selected) mask
// covers, usually the image bounds.
func WithDefaultBounds(b device.DefaultBounds) Option {
	return func(o *options) {
		o.bounds = b
	}
}

// WithPool sets the tile pool of the mask device.
func WithPool(p *tile.Pool) Option {
	return func(o *options) {
		o.pool = p
	}
}

// New creates an empty selection.
func New(opts ...Option) *Selection {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var devOpts []device.Option
	if o.bounds != nil {
		devOpts = append(devOpts, device.WithDefaultBounds(o.bounds))
	}
	if o.pool != nil {
		devOpts = append(devOpts, device.WithPool(o.pool))
	}
	return wrap(device.New(colorspace.Alpha8(), devOpts...))
}

// wrap attaches a selection to an Alpha8 device.
func wrap(dev *device.Device) *Selection {
	s := &Selection{dev: dev, outlineValid: true}
	s.remove = dev.OnChange(s.changed)
	return s
}

// changed runs after every mask modification, including undo and redo of
// transactions recorded on the mask device.
func (s *Selection) changed(device.Change) {
	s.mu.Lock()
	s.outlineValid = false
	s.outline = nil
	if !s.rasterizing.Load() {
		s.shapes = nil
	}
	s.mu.Unlock()
}

// Device returns the mask device. Edits made through it are visible to
// the selection and invalidate the outline.
func (s *Selection) Device() *device.Device {
	return s.dev
}

// Release detaches the selection and returns the mask tiles to the pool.
func (s *Selection) Release() {
	s.remove()
	s.dev.Release()
}

// Clone returns an independent copy sharing tiles copy-on-write.
func (s *Selection) Clone() *Selection {
	c := wrap(s.dev.Clone())
	s.mu.Lock()
	c.outline = s.outline
	c.outlineValid = s.outlineValid
	c.shapes = slices.Clone(s.shapes)
	s.mu.Unlock()
	return c
}

// IsEmpty reports whether nothing is selected.
func (s *Selection) IsEmpty() bool {
	return s.SelectedExactRect().Empty()
}

// Selected returns the selectedness of pixel (x, y).
func (s *Selection) Selected(x, y int) uint8 {
	return s.dev.Pixel(x, y)[0]
}

// Select sets every pixel of r to value.
func (s *Selection) Select(r image.Rectangle, value uint8) {
	if r.Empty() {
		return
	}
	wasEmpty := value > 0 && s.IsEmpty()
	s.dev.Fill(r, []byte{value})
	if wasEmpty {
		// Selecting into an empty mask yields a known outline.
		s.setOutline([]Polygon{RectPolygon(r)})
	}
}

// Clear deselects everything, including an inverted default.
func (s *Selection) Clear() {
	s.dev.Clear()
	s.dev.SetDefaultPixel([]byte{0})
	s.setOutline(nil)
}

// ClearRect deselects r.
func (s *Selection) ClearRect(r image.Rectangle) {
	s.dev.Fill(r, []byte{0})
}

// Invert flips selectedness everywhere. The default pixel flips too, so
// an inverted selection covers the whole default bounds.
func (s *Selection) Invert() {
	def := s.dev.DefaultPixel()[0]
	s.dev.UpdateTiles(func(_ image.Rectangle, data []byte) {
		for i, v := range data {
			data[i] = 255 - v
		}
	})
	s.dev.SetDefaultPixel([]byte{255 - def})
	s.dev.Purge()
}

// SelectedExactRect returns the bounding rectangle of all selected pixels.
func (s *Selection) SelectedExactRect() image.Rectangle {
	return s.dev.ExactBounds()
}

// SelectedRect returns a cheap superset of SelectedExactRect covering
// whole tiles.
func (s *Selection) SelectedRect() image.Rectangle {
	return s.dev.Extent()
}

// IsTotallyUnselected reports whether no pixel of r is selected.
func (s *Selection) IsTotallyUnselected(r image.Rectangle) bool {
	if s.dev.DefaultPixel()[0] == 0 {
		r = r.Intersect(s.SelectedExactRect())
	}
	if r.Empty() {
		return true
	}
	for _, v := range s.dev.Read(r) {
		if v != 0 {
			return false
		}
	}
	return true
}

// Apply combines other into s with op, tile by tile. Tile pairs where
// both masks hold only their default are never visited; the defaults are
// combined arithmetically instead.
func (s *Selection) Apply(other *Selection, op Op) {
	s.combine(other.dev, op)
}

// ApplyDevice combines an arbitrary device into s, converting it to a
// mask first. Devices whose color space has no conversion path fail with
// ErrUnconvertible.
func (s *Selection) ApplyDevice(dev *device.Device, op Op) error {
	mask, err := toMask(dev)
	if err != nil {
		return err
	}
	s.combine(mask, op)
	if mask != dev {
		mask.Release()
	}
	return nil
}

// toMask returns dev itself when it already is a mask, else an Alpha8
// copy of its current frame.
func toMask(dev *device.Device) (*device.Device, error) {
	from := dev.ColorSpace()
	to := colorspace.Alpha8()
	if from.Equal(to) {
		return dev, nil
	}
	if !colorspace.CanConvert(from, to) {
		return nil, fmt.Errorf("%s: %w", from.ID(), ErrUnconvertible)
	}
	def, err := colorspace.Convert(from, to, dev.DefaultPixel(), 1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", from.ID(), ErrUnconvertible)
	}
	mask := device.New(to, device.WithDefaultBounds(dev.DefaultBounds()))
	mask.SetDefaultPixel(def)

	type chunk struct {
		r    image.Rectangle
		data []byte
	}
	var chunks []chunk
	var convErr error
	dev.Tiles(func(r image.Rectangle, data []byte) {
		if convErr != nil {
			return
		}
		out, err := colorspace.Convert(from, to, data, tile.Pixels)
		if err != nil {
			convErr = err
			return
		}
		chunks = append(chunks, chunk{r: r, data: out})
	})
	if convErr != nil {
		mask.Release()
		return nil, fmt.Errorf("%s: %w", from.ID(), ErrUnconvertible)
	}
	for _, c := range chunks {
		if err := mask.Write(c.r, c.data); err != nil {
			mask.Release()
			return nil, err
		}
	}
	return mask, nil
}

func (s *Selection) combine(src *device.Device, op Op) {
	var rects []image.Rectangle
	collect := func(r image.Rectangle, _ []byte) { rects = append(rects, r) }
	s.dev.Tiles(collect)
	src.Tiles(collect)
	slices.SortFunc(rects, func(a, b image.Rectangle) int {
		if a.Min.Y != b.Min.Y {
			return a.Min.Y - b.Min.Y
		}
		return a.Min.X - b.Min.X
	})
	rects = slices.Compact(rects)

	// Combine stored regions first; the default changes last so reads see
	// the old default of s.
	var done []image.Rectangle
	for _, r := range rects {
		for _, part := range subtractAll(r, done) {
			dst := s.dev.Read(part)
			other := src.Read(part)
			for i := range dst {
				dst[i] = op.apply(dst[i], other[i])
			}
			if err := s.dev.Write(part, dst); err != nil {
				logger.Get().Warn("selection: combine", "rect", part, "err", err)
			}
		}
		done = append(done, r)
	}
	def := op.apply(s.dev.DefaultPixel()[0], src.DefaultPixel()[0])
	s.dev.SetDefaultPixel([]byte{def})
	s.dev.Purge()
}

// subtractAll returns the parts of r not covered by any of done.
func subtractAll(r image.Rectangle, done []image.Rectangle) []image.Rectangle {
	parts := []image.Rectangle{r}
	for _, d := range done {
		if !d.Overlaps(r) {
			continue
		}
		var next []image.Rectangle
		for _, p := range parts {
			next = append(next, subtract(p, d)...)
		}
		parts = next
	}
	return parts
}

func subtract(a, b image.Rectangle) []image.Rectangle {
	in := a.Intersect(b)
	if in.Empty() {
		return []image.Rectangle{a}
	}
	var out []image.Rectangle
	if in.Min.Y > a.Min.Y {
		out = append(out, image.Rect(a.Min.X, a.Min.Y, a.Max.X, in.Min.Y))
	}
	if in.Max.Y < a.Max.Y {
		out = append(out, image.Rect(a.Min.X, in.Max.Y, a.Max.X, a.Max.Y))
	}
	if in.Min.X > a.Min.X {
		out = append(out, image.Rect(a.Min.X, in.Min.Y, in.Min.X, in.Max.Y))
	}
	if in.Max.X < a.Max.X {
		out = append(out, image.Rect(in.Max.X, in.Min.Y, a.Max.X, in.Max.Y))
	}
	return out
}
