package stroke

import (
	"context"
	"image"
	"slices"
	"sync"

	"github.com/gogpu/canvas/device"
	"github.com/gogpu/canvas/undo"
)

// Target is a device a paint stroke writes to.
type Target struct {
	Device *device.Device

	// Interstroke, when set, attaches a payload transaction to the
	// device's transaction. Continued keeps the payload after the stroke.
	Interstroke device.InterstrokeFactory
	Continued   bool
}

// PaintFunc performs one job on the target devices, in Target order, and
// returns the area it changed. Preview clones call it with reduced
// devices; see LevelOfDetail.
type PaintFunc func(ctx context.Context, data any, devs []*device.Device) (image.Rectangle, error)

// PaintStrategy is a stroke that edits devices inside transactions. On
// Finish it pushes one command holding its structural commands followed
// by its transactions, so undo reverts the pixels before the structure.
type PaintStrategy struct {
	name    string
	host    undo.Host
	paint   PaintFunc
	targets []Target
	onDirty func(image.Rectangle)
	level   int

	mu         sync.Mutex
	structural []undo.Command
	txs        []*device.Transaction
	dirty      image.Rectangle
}

// PaintOption configures a PaintStrategy.
type PaintOption func(*PaintStrategy)

// WithDirtyCallback calls fn with the area of every finished job.
func WithDirtyCallback(fn func(image.Rectangle)) PaintOption {
	return func(p *PaintStrategy) {
		p.onDirty = fn
	}
}

// NewPaintStrategy creates a paint stroke pushing its command to host. A
// nil host applies and forgets commands.
func NewPaintStrategy(name string, host undo.Host, paint PaintFunc, targets []Target, opts ...PaintOption) *PaintStrategy {
	if host == nil {
		host = undo.Discard
	}
	p := &PaintStrategy{name: name, host: host, paint: paint, targets: slices.Clone(targets)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the stroke name.
func (p *PaintStrategy) Name() string { return p.name }

// AddStructural performs cmd now and batches it with the stroke. The
// command must act on Redo, like the layer tree commands.
func (p *PaintStrategy) AddStructural(cmd undo.Command) {
	cmd.Redo()
	p.mu.Lock()
	p.structural = append(p.structural, undo.Live(undo.NameOf(cmd), cmd.Redo, cmd.Undo))
	p.mu.Unlock()
}

// Init opens a transaction on every target.
func (p *PaintStrategy) Init(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs = make([]*device.Transaction, len(p.targets))
	for i, t := range p.targets {
		var opts []device.TransactionOption
		if t.Interstroke != nil {
			opts = append(opts, device.WithInterstroke(t.Interstroke, t.Continued))
		}
		p.txs[i] = device.NewTransaction(p.name, t.Device, opts...)
	}
	return nil
}

// DoJob runs the paint function.
func (p *PaintStrategy) DoJob(ctx context.Context, data any) error {
	devs := make([]*device.Device, len(p.targets))
	for i, t := range p.targets {
		devs[i] = t.Device
	}
	if p.level > 0 {
		ctx = context.WithValue(ctx, lodKey{}, p.level)
	}
	r, err := p.paint(ctx, data, devs)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.dirty = p.dirty.Union(r)
	p.mu.Unlock()
	if p.onDirty != nil && !r.Empty() {
		p.onDirty(r)
	}
	return nil
}

// Finish commits the transactions and pushes the stroke's command.
func (p *PaintStrategy) Finish(context.Context) error {
	p.mu.Lock()
	cmd := undo.NewComposite(p.name, p.structural...)
	for _, tx := range p.txs {
		cmd.Add(tx.End())
	}
	p.txs = nil
	p.structural = nil
	p.mu.Unlock()
	if !cmd.Empty() {
		p.host.Push(cmd)
	}
	return nil
}

// Cancel reverts the transactions, then undoes the structural commands in
// reverse order.
func (p *PaintStrategy) Cancel(context.Context) {
	p.mu.Lock()
	txs, structural := p.txs, p.structural
	p.txs, p.structural = nil, nil
	p.mu.Unlock()
	for i := len(txs) - 1; i >= 0; i-- {
		txs[i].Revert()
	}
	for i := len(structural) - 1; i >= 0; i-- {
		structural[i].Undo()
	}
}

// Dirty returns the union of every job's area.
func (p *PaintStrategy) Dirty() image.Rectangle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// CreateLodClone returns a strategy painting private copies of the level's
// reduced devices. Its commands are discarded. Nil is returned when a
// target cannot be reduced.
func (p *PaintStrategy) CreateLodClone(level int) Strategy {
	targets := make([]Target, len(p.targets))
	for i, t := range p.targets {
		lod, err := t.Device.LodDevice(level)
		if err != nil {
			return nil
		}
		targets[i] = Target{Device: lod.Clone()}
	}
	c := NewPaintStrategy(p.name, undo.Discard, p.paint, targets)
	c.level = level
	return c
}

type lodKey struct{}

// LevelOfDetail returns the level a PaintFunc is painting at; 0 is full
// resolution. Level n devices are scaled by 1/2^n.
func LevelOfDetail(ctx context.Context) int {
	level, _ := ctx.Value(lodKey{}).(int)
	return level
}
