package device

import (
	"image"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/internal/logger"
	"github.com/gogpu/canvas/undo"
)

// InterstrokePayload is auxiliary per-device state kept across strokes of
// a compatible kind, such as accumulated wetness.
type InterstrokePayload interface {
	// IsStillCompatible reports whether the payload still matches its
	// device's color space and offset.
	IsStillCompatible() bool

	// BeginTransaction is called when a stroke starts using the payload.
	BeginTransaction()

	// EndTransaction is called when the stroke ends and returns the
	// command undoing and redoing the payload's own changes. The changes
	// already happened, so the command's redo is not called initially.
	EndTransaction() undo.Command
}

// InterstrokeFactory decides whether a device's payload can be reused and
// creates a new one when it cannot.
type InterstrokeFactory interface {
	// IsCompatible reports whether p is of the kind this factory makes.
	IsCompatible(p InterstrokePayload) bool

	// Create returns a fresh payload for dev.
	Create(dev *Device) InterstrokePayload
}

// PayloadBase records the compatibility fingerprint of a payload: the
// device's color space and offset at creation. Embed it in payload types.
type PayloadBase struct {
	dev    *Device
	cs     colorspace.ColorSpace
	offset image.Point
}

// NewPayloadBase captures dev's current fingerprint.
func NewPayloadBase(dev *Device) PayloadBase {
	return PayloadBase{dev: dev, cs: dev.ColorSpace(), offset: dev.Offset()}
}

// Device returns the device the payload was created for.
func (b *PayloadBase) Device() *Device {
	return b.dev
}

// IsStillCompatible reports whether the device's color space and offset
// are unchanged.
func (b *PayloadBase) IsStillCompatible() bool {
	if b.dev == nil {
		return false
	}
	return b.dev.ColorSpace().Equal(b.cs) && b.dev.Offset() == b.offset
}

// WithInterstroke wraps the transaction with payload lifecycle commands.
// When continued is false the payload is cleared after the transaction so
// it does not leak into the next unrelated stroke.
func WithInterstroke(f InterstrokeFactory, continued bool) TransactionOption {
	return func(o *txOptions) {
		o.factory = f
		o.continued = continued
	}
}

// InterstrokePayload returns the current frame's payload, or nil.
func (d *Device) InterstrokePayload() InterstrokePayload {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cur().payload
}

// setPayload installs p on frame id and returns the previous payload.
func (d *Device) setPayload(id int, p InterstrokePayload) (InterstrokePayload, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.frameByID(id)
	if f == nil {
		return nil, false
	}
	old := f.payload
	f.payload = p
	return old, true
}

type interstrokeTx struct {
	dev       *Device
	begin     *payloadSwapCommand
	continued bool
}

// beginInterstroke reuses or replaces dev's payload and starts its
// transaction. The swap is performed immediately.
func beginInterstroke(dev *Device, factory InterstrokeFactory, continued bool) *interstrokeTx {
	frame := dev.CurrentFrame()
	current := dev.InterstrokePayload()
	next := current
	if current == nil || !factory.IsCompatible(current) || !current.IsStillCompatible() {
		next = factory.Create(dev)
	}
	begin := &payloadSwapCommand{
		name:  "Begin Interstroke Payload",
		dev:   dev,
		frame: frame,
		old:   current,
		new:   next,
	}
	begin.swapIn()
	if next != nil {
		next.BeginTransaction()
	}
	return &interstrokeTx{dev: dev, begin: begin, continued: continued}
}

// end assembles the command sequence: begin swap, tile changes, payload
// diff and, unless continued, a clearing swap.
func (it *interstrokeTx) end(name string, txCmd undo.Command) undo.Command {
	// The device may have switched frames since begin; use what it holds now.
	var diff undo.Command
	if p := it.dev.InterstrokePayload(); p != nil {
		diff = p.EndTransaction()
	}
	cmd := undo.NewComposite(name, it.begin, txCmd, &payloadEndCommand{diff: diff})
	if !it.continued {
		frame := it.dev.CurrentFrame()
		clearCmd := &payloadSwapCommand{
			name:  "Clear Interstroke Payload",
			dev:   it.dev,
			frame: frame,
			old:   it.dev.InterstrokePayload(),
		}
		clearCmd.swapIn()
		cmd.Add(clearCmd)
	}
	return cmd
}

// revert ends the payload's transaction, undoes its changes and restores
// the previous payload.
func (it *interstrokeTx) revert() {
	if p := it.dev.InterstrokePayload(); p != nil {
		if diff := p.EndTransaction(); diff != nil {
			diff.Undo()
		}
	}
	it.begin.Undo()
}

// payloadSwapCommand replaces a frame's payload. It is applied live when
// built, so its first Redo is skipped.
type payloadSwapCommand struct {
	name     string
	dev      *Device
	frame    int
	old, new InterstrokePayload
	life     undo.Lifecycle
}

func (c *payloadSwapCommand) Name() string { return c.name }

func (c *payloadSwapCommand) swapIn() {
	c.set(c.new)
}

func (c *payloadSwapCommand) Redo() {
	if c.life.Redo() {
		c.set(c.new)
	}
}

func (c *payloadSwapCommand) Undo() {
	c.life.Undo()
	c.set(c.old)
}

func (c *payloadSwapCommand) set(p InterstrokePayload) {
	_, ok := c.dev.setPayload(c.frame, p)
	logger.Assert(ok, "interstroke payload on a deleted frame", "frame", c.frame)
}

// payloadEndCommand defers to the payload's own diff command after its
// first, skipped, Redo.
type payloadEndCommand struct {
	diff undo.Command
	life undo.Lifecycle
}

func (c *payloadEndCommand) Name() string { return "End Interstroke Payload" }

func (c *payloadEndCommand) Redo() {
	if c.life.Redo() && c.diff != nil {
		c.diff.Redo()
	}
}

func (c *payloadEndCommand) Undo() {
	c.life.Undo()
	if c.diff != nil {
		c.diff.Undo()
	}
}
