package canvas

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/device"
	"github.com/gogpu/canvas/internal/logger"
	"github.com/gogpu/canvas/internal/tile"
	"github.com/gogpu/canvas/layer"
	"github.com/gogpu/canvas/selection"
	"github.com/gogpu/canvas/stroke"
	"github.com/gogpu/canvas/undo"
)

// Errors returned by Image.
var (
	ErrInvalidSize       = errors.New("canvas: invalid image size")
	ErrForeignNode       = errors.New("canvas: node does not belong to this image")
	ErrRootNode          = errors.New("canvas: the root node cannot be edited this way")
	ErrNoSelection       = errors.New("canvas: no global selection")
	ErrNothingToReselect = errors.New("canvas: no deselected selection to restore")
)

// Image is a layered raster document. Its bounds are the default bounds of
// every device it creates.
//
// Image is safe for concurrent use.
type Image struct {
	width, height int

	root       *layer.Node
	sched      *stroke.Scheduler
	host       undo.Host
	store      *undo.Store
	compositor *layer.Compositor
	pool       *tile.Pool
	packer     *tile.Packer
	lodCache   int

	mu         sync.Mutex
	cs         colorspace.ColorSpace
	deselected *layer.Node

	events eventQueue
}

var _ device.DefaultBounds = (*Image)(nil)

// NewImage creates an empty image of the given size with a root group in
// the image color space.
func NewImage(width, height int, opts ...Option) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	cs := o.cs
	if cs == nil {
		cs, _ = o.cfg.colorSpace()
	}

	img := &Image{
		width:      width,
		height:     height,
		cs:         cs,
		host:       o.host,
		compositor: o.compositor,
		pool:       tile.NewPool(),
		lodCache:   o.cfg.LodCacheSize,
	}
	if o.cfg.CompactAfter > 0 {
		p, err := tile.NewPacker(o.cfg.CompressionLevel)
		if err != nil {
			return nil, err
		}
		img.packer = p
	}
	if img.host == nil {
		img.store = undo.NewStore(undo.WithMaxDepth(o.cfg.UndoDepth), undo.WithCompaction(o.cfg.CompactAfter))
		img.host = img.store
	}
	if img.compositor == nil {
		img.compositor = layer.NewCompositor(layer.WithWorkers(o.cfg.Workers))
	}

	img.root = layer.NewGroup("root", cs, layer.WithBounds(img))
	img.root.SetCompositor(img.compositor)

	sopts := []stroke.Option{stroke.WithWorkers(o.cfg.Workers), stroke.WithRegisterer(o.registerer)}
	if o.tracer != nil {
		sopts = append(sopts, stroke.WithTracerProvider(o.tracer))
	}
	img.sched = stroke.NewScheduler(sopts...)
	img.sched.SetDesiredLevelOfDetail(o.cfg.LevelOfDetail)

	logger.Get().Info("canvas: image created", "width", width, "height", height, "colorspace", cs.ID(), "profile", cs.Profile())
	return img, nil
}

// Close stops the scheduler, cancelling open strokes, and releases the
// tree's pixels.
func (img *Image) Close() {
	img.sched.Close()
	img.root.Release()
	if img.packer != nil {
		img.packer.Close()
	}
}

// Bounds returns the image rectangle.
func (img *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, img.width, img.height)
}

// Width returns the image width in pixels.
func (img *Image) Width() int { return img.width }

// Height returns the image height in pixels.
func (img *Image) Height() int { return img.height }

// ColorSpace returns the image color space.
func (img *Image) ColorSpace() colorspace.ColorSpace {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.cs
}

func (img *Image) setColorSpace(cs colorspace.ColorSpace) {
	img.mu.Lock()
	img.cs = cs
	img.mu.Unlock()
}

// Root returns the root group.
func (img *Image) Root() *layer.Node { return img.root }

// UndoHost returns the host receiving the image's commands.
func (img *Image) UndoHost() undo.Host { return img.host }

// History returns the built-in undo store, or nil with WithUndoHost.
func (img *Image) History() *undo.Store { return img.store }

// Scheduler returns the stroke scheduler.
func (img *Image) Scheduler() *stroke.Scheduler { return img.sched }

// NewDevice returns an empty device in the image color space bounded by
// the image.
func (img *Image) NewDevice() *device.Device {
	opts := []device.Option{
		device.WithDefaultBounds(img),
		device.WithPool(img.pool),
		device.WithLodCacheSize(img.lodCache),
	}
	if img.packer != nil {
		opts = append(opts, device.WithPacker(img.packer))
	}
	return device.New(img.ColorSpace(), opts...)
}

// NewPaintLayer returns a detached paint layer sized to the image.
func (img *Image) NewPaintLayer(name string, opts ...layer.Option) *layer.Node {
	return layer.NewPaintFrom(name, img.NewDevice(), append([]layer.Option{layer.WithBounds(img)}, opts...)...)
}

// NewGroupLayer returns a detached group in the image color space.
func (img *Image) NewGroupLayer(name string, opts ...layer.Option) *layer.Node {
	return layer.NewGroup(name, img.ColorSpace(), append([]layer.Option{layer.WithBounds(img)}, opts...)...)
}

// NewSelection returns an empty selection bounded by the image.
func (img *Image) NewSelection() *selection.Selection {
	return selection.New(selection.WithDefaultBounds(img), selection.WithPool(img.pool))
}

// Lock waits for running strokes and refuses new ones until Unlock. Locks
// nest. Structural operations lock on their own.
func (img *Image) Lock() { img.sched.Lock() }

// Unlock releases one Lock.
func (img *Image) Unlock() { img.sched.Unlock() }

// Locked reports whether the image is locked.
func (img *Image) Locked() bool { return img.sched.Locked() }

// structural runs fn under the image lock, pushes the command it returns
// and delivers the resulting events.
func (img *Image) structural(fn func() (undo.Command, error)) error {
	img.Lock()
	before := img.state()
	cmd, err := fn()
	if err == nil && cmd != nil {
		img.host.Push(cmd)
	}
	img.events.push(diff(before, img.state())...)
	img.Unlock()
	img.events.flush()
	return err
}

func (img *Image) owns(n *layer.Node) error {
	if n == nil || n.Root() != img.root {
		return ErrForeignNode
	}
	return nil
}

// applied wraps a layer command whose effect was already produced.
func applied(cmd undo.Command) undo.Command {
	return undo.Live(undo.NameOf(cmd), cmd.Redo, cmd.Undo)
}

// AddNode attaches child to parent at index. A negative or too large index
// puts it on top. The command is pushed to the undo host.
func (img *Image) AddNode(parent, child *layer.Node, index int) error {
	return img.structural(func() (undo.Command, error) {
		if err := img.owns(parent); err != nil {
			return nil, err
		}
		if err := parent.Add(child, index); err != nil {
			return nil, err
		}
		return applied(layer.AddCommand(parent, child, parent.Index(child))), nil
	})
}

// RemoveNode detaches n.
func (img *Image) RemoveNode(n *layer.Node) error {
	return img.structural(func() (undo.Command, error) {
		if err := img.owns(n); err != nil {
			return nil, err
		}
		if n == img.root {
			return nil, ErrRootNode
		}
		cmd := layer.RemoveCommand(n)
		if _, err := n.Parent().Remove(n); err != nil {
			return nil, err
		}
		return applied(cmd), nil
	})
}

// MoveNode moves n under parent at index.
func (img *Image) MoveNode(n, parent *layer.Node, index int) error {
	return img.structural(func() (undo.Command, error) {
		if err := img.owns(n); err != nil {
			return nil, err
		}
		if err := img.owns(parent); err != nil {
			return nil, err
		}
		if n == img.root {
			return nil, ErrRootNode
		}
		cmd := layer.MoveCommand(n, parent, index)
		if err := n.Move(parent, index); err != nil {
			return nil, err
		}
		return applied(cmd), nil
	})
}

// Execute pushes a command acting on Redo, such as layer.OpacityCommand,
// under the image lock.
func (img *Image) Execute(cmd undo.Command) {
	_ = img.structural(func() (undo.Command, error) {
		return cmd, nil
	})
}

// Undo undoes the last command of the built-in history.
func (img *Image) Undo() bool {
	return img.history(func(s *undo.Store) bool { return s.CanUndo() && s.Undo() })
}

// Redo redoes the last undone command of the built-in history.
func (img *Image) Redo() bool {
	return img.history(func(s *undo.Store) bool { return s.CanRedo() && s.Redo() })
}

func (img *Image) history(fn func(*undo.Store) bool) bool {
	if img.store == nil {
		return false
	}
	var ok bool
	_ = img.structural(func() (undo.Command, error) {
		ok = fn(img.store)
		return nil, nil
	})
	return ok
}

// globalMask returns the first selection mask of the root.
func (img *Image) globalMask() *layer.Node {
	for _, m := range img.root.Masks() {
		if m.Kind() == layer.KindSelectionMask {
			return m
		}
	}
	return nil
}

// GlobalSelection returns the image-wide selection, or nil when nothing is
// selected image-wide.
func (img *Image) GlobalSelection() *selection.Selection {
	if m := img.globalMask(); m != nil {
		return m.Selection()
	}
	return nil
}

// SetGlobalSelection replaces the global selection with sel. A nil sel
// deselects.
func (img *Image) SetGlobalSelection(sel *selection.Selection) error {
	if sel == nil {
		err := img.DeselectGlobalSelection()
		if errors.Is(err, ErrNoSelection) {
			return nil
		}
		return err
	}
	return img.structural(func() (undo.Command, error) {
		cmd := undo.NewComposite("Set Global Selection")
		if old := img.globalMask(); old != nil {
			cmd.Add(layer.RemoveCommand(old))
		}
		mask := layer.NewSelectionMask("Selection", sel, layer.WithBounds(img))
		cmd.Add(layer.AddCommand(img.root, mask, len(img.root.Children())))
		cmd.Add(img.deselectedCommand(nil))
		return cmd, nil
	})
}

// DeselectGlobalSelection removes the global selection and keeps it for
// ReselectGlobalSelection.
func (img *Image) DeselectGlobalSelection() error {
	return img.structural(func() (undo.Command, error) {
		old := img.globalMask()
		if old == nil {
			return nil, ErrNoSelection
		}
		return undo.NewComposite("Deselect", layer.RemoveCommand(old), img.deselectedCommand(old)), nil
	})
}

// ReselectGlobalSelection restores the selection removed by the last
// deselect.
func (img *Image) ReselectGlobalSelection() error {
	return img.structural(func() (undo.Command, error) {
		img.mu.Lock()
		mask := img.deselected
		img.mu.Unlock()
		if mask == nil {
			return nil, ErrNothingToReselect
		}
		cmd := undo.NewComposite("Reselect")
		if old := img.globalMask(); old != nil {
			cmd.Add(layer.RemoveCommand(old))
		}
		cmd.Add(layer.AddCommand(img.root, mask, len(img.root.Children())))
		cmd.Add(img.deselectedCommand(nil))
		return cmd, nil
	})
}

// CanReselectGlobalSelection reports whether a deselected selection can be
// restored.
func (img *Image) CanReselectGlobalSelection() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.deselected != nil
}

// deselectedCommand records mask as the selection to reselect on Redo.
func (img *Image) deselectedCommand(mask *layer.Node) undo.Command {
	img.mu.Lock()
	prev := img.deselected
	img.mu.Unlock()
	set := func(n *layer.Node) func() {
		return func() {
			img.mu.Lock()
			img.deselected = n
			img.mu.Unlock()
		}
	}
	return undo.Func("", set(mask), set(prev))
}

// ConvertColorSpace converts every paint device and group to cs and pushes
// one command undoing the whole conversion. Selections keep their alpha
// format.
func (img *Image) ConvertColorSpace(cs colorspace.ColorSpace) error {
	return img.structural(func() (undo.Command, error) {
		old := img.ColorSpace()
		if old.Equal(cs) {
			return nil, nil
		}
		cmd := undo.NewComposite("Convert Image Color Space")
		var err error
		layer.Walk(img.root, func(n *layer.Node) bool {
			if err != nil {
				return false
			}
			switch n.Kind() {
			case layer.KindPaint:
				var c undo.Command
				c, err = n.Original().ConvertTo(cs)
				if err != nil {
					err = fmt.Errorf("canvas: convert %q: %w", n.Name(), err)
					return false
				}
				cmd.Add(c)
			case layer.KindGroup, layer.KindAdjustment:
				prev := n.ColorSpace()
				n.SetColorSpace(cs)
				cmd.Add(undo.Live("", func() { n.SetColorSpace(cs) }, func() { n.SetColorSpace(prev) }))
			}
			return true
		})
		if err != nil {
			cmd.Undo()
			return nil, err
		}
		img.setColorSpace(cs)
		cmd.Add(undo.Live("", func() { img.setColorSpace(cs) }, func() { img.setColorSpace(old) }))
		logger.Get().Info("canvas: color space converted", "from", old.Profile(), "to", cs.Profile())
		return cmd, nil
	})
}

// Projection brings the root projection up to date and returns it.
func (img *Image) Projection() *device.Device {
	return img.root.Projection()
}

// RequestUpdate marks r of n dirty and recomposites the tree.
func (img *Image) RequestUpdate(n *layer.Node, r image.Rectangle) error {
	if err := img.owns(n); err != nil {
		return err
	}
	n.SetDirty(r)
	return img.recalculate(n, r)
}

// RefreshGraph marks every node dirty over the image bounds and
// recomposites the whole tree.
func (img *Image) RefreshGraph() error {
	b := img.Bounds()
	layer.Walk(img.root, func(n *layer.Node) bool {
		n.SetDirty(b.Union(n.ExactBounds()))
		return true
	})
	return img.recalculate(img.root, b)
}

func (img *Image) recalculate(n *layer.Node, r image.Rectangle) error {
	err := img.compositor.RecalculateContext(context.Background(), img.root)
	if err == nil {
		img.events.push(Event{Kind: ProjectionUpdated, Node: n, Rect: r})
	}
	img.events.flush()
	return err
}

// Subscribe registers fn for image events and returns a function removing
// it. Events are queued and delivered in order on the goroutine finishing
// a structural operation, WaitForDone or a projection update.
func (img *Image) Subscribe(fn func(Event)) (unsubscribe func()) {
	return img.events.subscribe(fn)
}
