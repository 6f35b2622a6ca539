package device

import (
	"image"

	"github.com/gogpu/canvas/internal/logger"
	"github.com/gogpu/canvas/internal/tile"
	"github.com/gogpu/canvas/undo"
)

type txState uint8

const (
	txOpen txState = iota
	txEnded
	txReverted
)

// Transaction records the tiles a sequence of writes touches so the writes
// can be undone. It is opened by NewTransaction and closed by exactly one
// of End (producing a command) or Revert (undoing in place).
type Transaction struct {
	name      string
	dev       *Device
	frame     int
	mem       *tile.Memento
	oldOffset image.Point
	state     txState

	interstroke *interstrokeTx
}

// TransactionOption configures a Transaction.
type TransactionOption func(*txOptions)

type txOptions struct {
	factory   InterstrokeFactory
	continued bool
}

// NewTransaction starts recording writes to dev's current frame.
func NewTransaction(name string, dev *Device, opts ...TransactionOption) *Transaction {
	var o txOptions
	for _, opt := range opts {
		opt(&o)
	}

	dev.mu.Lock()
	f := dev.cur()
	t := &Transaction{
		name:      name,
		dev:       dev,
		frame:     dev.current,
		mem:       f.tiles.BeginMemento(),
		oldOffset: f.offset,
	}
	dev.mu.Unlock()

	if o.factory != nil {
		t.interstroke = beginInterstroke(dev, o.factory, o.continued)
	}
	return t
}

// Name returns the transaction name.
func (t *Transaction) Name() string {
	return t.name
}

// Device returns the device being recorded.
func (t *Transaction) Device() *Device {
	return t.dev
}

// End freezes the recorded changes and returns the command undoing and
// redoing them. The edits already happened, so the command's first Redo
// does nothing. A transaction without changes yields undo.Empty; ending
// a transaction twice is a recoverable misuse and yields undo.Empty.
func (t *Transaction) End() undo.Command {
	if !logger.Assert(t.state == txOpen, "transaction ended twice", "name", t.name) {
		return undo.Empty
	}
	t.state = txEnded

	t.dev.mu.Lock()
	f := t.dev.frameByID(t.frame)
	var newOffset image.Point
	if f != nil {
		f.tiles.Commit(t.mem)
		newOffset = f.offset
	}
	t.dev.mu.Unlock()

	var cmd undo.Command = undo.Empty
	if f != nil && (!t.mem.Empty() || newOffset != t.oldOffset) {
		cmd = &txCommand{
			name:      t.name,
			dev:       t.dev,
			frame:     t.frame,
			mem:       t.mem,
			oldOffset: t.oldOffset,
			newOffset: newOffset,
		}
	} else {
		t.mem.Release()
	}

	if t.interstroke == nil {
		return cmd
	}
	return t.interstroke.end(t.name, cmd)
}

// Revert undoes the recorded changes in place. No command is produced.
func (t *Transaction) Revert() {
	if !logger.Assert(t.state == txOpen, "revert of a closed transaction", "name", t.name) {
		return
	}
	t.state = txReverted

	t.dev.mu.Lock()
	var r image.Rectangle
	full := false
	if f := t.dev.frameByID(t.frame); f != nil {
		r = t.mem.Bounds().Add(f.offset)
		full = t.mem.DefaultChanged() || f.offset != t.oldOffset
		f.tiles.Rollback(t.mem)
		f.offset = t.oldOffset
		r = r.Union(t.mem.Bounds().Add(f.offset))
		t.dev.touched()
	}
	t.dev.mu.Unlock()
	t.dev.notify(Change{Rect: r, Full: full})

	if t.interstroke != nil {
		t.interstroke.revert()
	}
}

// txCommand is the undo command of an ended transaction.
type txCommand struct {
	name      string
	dev       *Device
	frame     int
	mem       *tile.Memento
	oldOffset image.Point
	newOffset image.Point
	life      undo.Lifecycle
}

func (c *txCommand) Name() string { return c.name }

// Redo skips the first call; later calls reapply the captured tiles.
func (c *txCommand) Redo() {
	if !c.life.Redo() {
		return
	}
	c.apply(true)
}

// Undo restores the captured pre-state tiles, default pixel and offset.
func (c *txCommand) Undo() {
	c.life.Undo()
	c.apply(false)
}

func (c *txCommand) apply(redo bool) {
	d := c.dev
	d.mu.Lock()
	f := d.frameByID(c.frame)
	if !logger.Assert(f != nil, "transaction on a deleted frame", "name", c.name, "frame", c.frame) {
		d.mu.Unlock()
		return
	}
	before := c.mem.Bounds().Add(f.offset)
	if redo {
		f.tiles.Redo(c.mem)
		f.offset = c.newOffset
	} else {
		f.tiles.Undo(c.mem)
		f.offset = c.oldOffset
	}
	d.touched()
	visible := d.current == c.frame
	change := Change{
		Rect: before.Union(c.mem.Bounds().Add(f.offset)),
		Full: c.mem.DefaultChanged() || c.oldOffset != c.newOffset,
	}
	d.mu.Unlock()
	if visible {
		d.notify(change)
	}
}

// Compact compresses tiles only history still references.
func (c *txCommand) Compact() {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.mem.Compact(c.dev.packer)
}

// Release drops the captured tiles.
func (c *txCommand) Release() {
	c.mem.Release()
}
