// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package device implements the paint device: a sparse, copy-on-write
// tiled pixel buffer with a color space, a default pixel and an offset.
//
// Untouched regions read as the default pixel and allocate nothing. Writes
// allocate or clone only the tiles they touch, so clones are cheap until
// one side is modified. Moving a device changes its offset only.
//
// Mutations are made undoable by wrapping them in a Transaction, which
// records the touched tiles and yields an undo.Command. A device may carry
// an InterstrokePayload whose lifecycle is tied to transactions.
//
// Thread safety: Device is safe for concurrent use. Writes are serialised
// by an internal lock; change observers run after the lock is released.
package device

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/internal/cache"
	"github.com/gogpu/canvas/internal/tile"
)

// Errors returned by device operations.
var (
	// ErrNoFrame is returned when a frame id does not exist.
	ErrNoFrame = errors.New("device: no such frame")

	// ErrLastFrame is returned when deleting the only frame.
	ErrLastFrame = errors.New("device: cannot delete the last frame")

	// ErrBufferSize is returned when a pixel buffer does not match its rectangle.
	ErrBufferSize = errors.New("device: buffer size does not match rectangle")
)

// Device is a tiled paint device.
type Device struct {
	mu      sync.RWMutex
	cs      colorspace.ColorSpace
	pool    *tile.Pool
	packer  *tile.Packer
	bounds  DefaultBounds
	frames  map[int]*frame
	current int
	nextID  int

	gen atomic.Uint64

	obsMu     sync.Mutex
	observers []*observer

	lodLimit int
	lodOnce  sync.Once
	lod      *cache.Cache[lodKey, *Device]
}

// Option configures a Device.
type Option func(*Device)

// WithDefaultBounds sets the rectangle a non-transparent default pixel is
// considered to cover, usually the image bounds.
func WithDefaultBounds(b DefaultBounds) Option {
	return func(d *Device) {
		d.bounds = b
	}
}

// WithPool sets the tile pool.
func WithPool(p *tile.Pool) Option {
	return func(d *Device) {
		d.pool = p
	}
}

// WithPacker sets the packer used to compact transaction history.
func WithPacker(p *tile.Packer) Option {
	return func(d *Device) {
		d.packer = p
	}
}

// WithLodCacheSize sets how many level-of-detail copies are cached.
func WithLodCacheSize(n int) Option {
	return func(d *Device) {
		d.lodLimit = n
	}
}

// New creates an empty device in color space cs. The default pixel is the
// space's transparent pixel.
func New(cs colorspace.ColorSpace, opts ...Option) *Device {
	d := &Device{
		cs:       cs,
		frames:   make(map[int]*frame),
		lodLimit: 4,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pool == nil {
		d.pool = tile.DefaultPool()
	}
	if d.bounds == nil {
		d.bounds = StaticBounds{}
	}
	d.frames[0] = newFrame(tile.NewMap(cs.TransparentPixel(), d.pool))
	d.nextID = 1
	return d
}

// ColorSpace returns the device's color space.
func (d *Device) ColorSpace() colorspace.ColorSpace {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cs
}

// PixelSize returns the number of bytes per pixel.
func (d *Device) PixelSize() int {
	return d.ColorSpace().PixelSize()
}

// DefaultBounds returns the default bounds provider.
func (d *Device) DefaultBounds() DefaultBounds {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bounds
}

// SetDefaultBounds replaces the default bounds provider.
func (d *Device) SetDefaultBounds(b DefaultBounds) {
	if b == nil {
		b = StaticBounds{}
	}
	d.mu.Lock()
	d.bounds = b
	d.mu.Unlock()
}

// Generation changes whenever the device content, offset, frame or color
// space changes.
func (d *Device) Generation() uint64 {
	return d.gen.Load()
}

// cur returns the current frame. Caller must hold d.mu.
func (d *Device) cur() *frame {
	return d.frames[d.current]
}

// local converts a device rectangle to tile map coordinates.
func (f *frame) local(r image.Rectangle) image.Rectangle {
	return r.Sub(f.offset)
}

// Read returns the pixels of r, row-major with a stride of r.Dx()*PixelSize.
func (d *Device) Read(r image.Rectangle) []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if r.Empty() {
		return nil
	}
	f := d.cur()
	buf := make([]byte, r.Dx()*r.Dy()*d.cs.PixelSize())
	f.tiles.ReadRect(f.local(r), buf)
	return buf
}

// ReadInto reads the pixels of r into dst.
func (d *Device) ReadInto(r image.Rectangle, dst []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if r.Empty() {
		return nil
	}
	if len(dst) < r.Dx()*r.Dy()*d.cs.PixelSize() {
		return fmt.Errorf("read %v: %w", r, ErrBufferSize)
	}
	f := d.cur()
	f.tiles.ReadRect(f.local(r), dst)
	return nil
}

// Write stores src into r.
func (d *Device) Write(r image.Rectangle, src []byte) error {
	if r.Empty() {
		return nil
	}
	d.mu.Lock()
	if len(src) < r.Dx()*r.Dy()*d.cs.PixelSize() {
		d.mu.Unlock()
		return fmt.Errorf("write %v: %w", r, ErrBufferSize)
	}
	f := d.cur()
	f.tiles.WriteRect(f.local(r), src)
	d.touched()
	d.mu.Unlock()
	d.notify(Change{Rect: r})
	return nil
}

// Fill sets every pixel of r to px.
func (d *Device) Fill(r image.Rectangle, px []byte) {
	if r.Empty() {
		return
	}
	d.mu.Lock()
	f := d.cur()
	f.tiles.FillRect(f.local(r), px)
	d.touched()
	d.mu.Unlock()
	d.notify(Change{Rect: r})
}

// FillColor fills r with c converted to the device's color space.
func (d *Device) FillColor(r image.Rectangle, c color.Color) {
	d.Fill(r, d.ColorSpace().FromColor(c))
}

// Pixel returns a copy of the pixel at (x, y).
func (d *Device) Pixel(x, y int) []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f := d.cur()
	return f.tiles.PixelAt(x-f.offset.X, y-f.offset.Y)
}

// PixelColor returns the pixel at (x, y) as a color.
func (d *Device) PixelColor(x, y int) color.Color {
	px := d.Pixel(x, y)
	return d.ColorSpace().ToColor(px)
}

// SetPixel stores px at (x, y).
func (d *Device) SetPixel(x, y int, px []byte) {
	d.Fill(image.Rect(x, y, x+1, y+1), px)
}

// DefaultPixel returns a copy of the default pixel.
func (d *Device) DefaultPixel() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cur().tiles.DefaultPixel()
}

// SetDefaultPixel changes the pixel untouched regions read as.
func (d *Device) SetDefaultPixel(px []byte) {
	d.mu.Lock()
	d.cur().tiles.SetDefaultPixel(px)
	d.touched()
	d.mu.Unlock()
	d.notify(Change{Full: true})
}

// Clear removes all content of the current frame, leaving the default
// pixel.
func (d *Device) Clear() {
	d.mu.Lock()
	f := d.cur()
	r := f.tiles.Extent().Add(f.offset)
	f.tiles.Clear()
	d.touched()
	d.mu.Unlock()
	d.notify(Change{Rect: r})
}

// ClearRect resets r to the default pixel.
func (d *Device) ClearRect(r image.Rectangle) {
	d.mu.RLock()
	px := d.cur().tiles.DefaultPixel()
	d.mu.RUnlock()
	d.Fill(r, px)
}

// Crop clears everything outside r.
func (d *Device) Crop(r image.Rectangle) {
	d.mu.Lock()
	f := d.cur()
	extent := f.tiles.Extent().Add(f.offset)
	def := f.tiles.DefaultPixel()
	for _, out := range subtractRect(extent, r) {
		f.tiles.FillRect(f.local(out), def)
	}
	d.touched()
	d.mu.Unlock()
	d.notify(Change{Rect: extent})
}

// subtractRect returns up to four rectangles covering a minus b.
func subtractRect(a, b image.Rectangle) []image.Rectangle {
	in := a.Intersect(b)
	if in.Empty() {
		if a.Empty() {
			return nil
		}
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

// Tiles calls fn for every stored tile of the current frame in row-major
// order with the tile's rectangle in device coordinates. Absent tiles are
// skipped. fn must not modify the tile or call back into the device.
func (d *Device) Tiles(fn func(r image.Rectangle, data []byte)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f := d.cur()
	for _, c := range f.tiles.Coords() {
		fn(c.Rect().Add(f.offset), f.tiles.Tile(c).Data())
	}
}

// TileCount returns the number of stored tiles in the current frame.
func (d *Device) TileCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cur().tiles.Len()
}

// touched records a content change. Caller must hold d.mu.
func (d *Device) touched() {
	d.gen.Add(1)
}

// Purge drops stored tiles of the current frame that hold only the
// default pixel. The content does not change.
func (d *Device) Purge() {
	d.mu.Lock()
	d.cur().tiles.Purge()
	d.mu.Unlock()
}

// UpdateTiles calls fn with writable pixel data for every stored tile of
// the current frame, with the tile's rectangle in device coordinates.
// Shared tiles are cloned first. fn must not call back into the device.
func (d *Device) UpdateTiles(fn func(r image.Rectangle, data []byte)) {
	d.mu.Lock()
	f := d.cur()
	var changed image.Rectangle
	for _, c := range f.tiles.Coords() {
		r := c.Rect().Add(f.offset)
		fn(r, f.tiles.Writable(c).Data())
		changed = changed.Union(r)
	}
	d.touched()
	d.mu.Unlock()
	d.notify(Change{Rect: changed})
}
