package layer

import (
	"errors"
	"image"
	"sync"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/device"
	"github.com/gogpu/canvas/filter"
	"github.com/gogpu/canvas/internal/logger"
	"github.com/gogpu/canvas/selection"
)

// Errors returned by tree and merge operations.
var (
	ErrNotAllowed     = errors.New("layer: node kind not allowed here")
	ErrNotChild       = errors.New("layer: node is not a child of this parent")
	ErrHasParent      = errors.New("layer: node already has a parent")
	ErrCycle          = errors.New("layer: node would become its own ancestor")
	ErrNothingToMerge = errors.New("layer: nothing to merge")
)

// Node is one entry of the layer tree. Children are ordered bottom-most
// first; masks are children whose kind has the IsMask capability and apply
// in child order.
//
// A Node is safe for concurrent use. Structural edits should be serialized
// by the owner, usually through the image lock.
type Node struct {
	mu       sync.RWMutex
	kind     Kind
	name     string
	parent   *Node
	children []*Node

	cs     colorspace.ColorSpace
	bounds device.DefaultBounds

	original   *device.Device
	projection *device.Device
	sel        *selection.Selection
	filter     filter.Filter

	op           colorspace.OpID
	opacity      uint8
	channels     colorspace.Channels
	passThrough  bool
	visible      bool
	inheritAlpha bool

	dirty      image.Rectangle
	lastExtent image.Rectangle
	unwatch    func()

	compositor *Compositor
}

// Option configures a new node.
type Option func(*Node)

// WithBounds sets the default bounds of the node's devices.
func WithBounds(b device.DefaultBounds) Option {
	return func(n *Node) {
		n.bounds = b
	}
}

// WithOpacity sets the initial opacity.
func WithOpacity(o uint8) Option {
	return func(n *Node) {
		n.opacity = o
	}
}

// WithCompositeOp sets the initial composite op.
func WithCompositeOp(op colorspace.OpID) Option {
	return func(n *Node) {
		n.op = op
	}
}

// WithChannels sets the initial channel flags.
func WithChannels(c colorspace.Channels) Option {
	return func(n *Node) {
		n.channels = c
	}
}

// WithPassThrough makes a group pass-through. Ignored for other kinds.
func WithPassThrough(on bool) Option {
	return func(n *Node) {
		n.passThrough = on && n.kind.Caps().Has(SupportsPassThrough)
	}
}

// WithVisible sets the initial visibility.
func WithVisible(v bool) Option {
	return func(n *Node) {
		n.visible = v
	}
}

// WithInheritAlpha clips the node to the alpha already composited below it.
func WithInheritAlpha(on bool) Option {
	return func(n *Node) {
		n.inheritAlpha = on
	}
}

func newNode(kind Kind, name string, cs colorspace.ColorSpace, opts []Option) *Node {
	n := &Node{
		kind:     kind,
		name:     name,
		cs:       cs,
		op:       colorspace.OpOver,
		opacity:  255,
		channels: colorspace.AllChannels,
		visible:  true,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.bounds == nil {
		n.bounds = device.StaticBounds{}
	}
	return n
}

// NewPaint creates a paint layer with an empty original device.
func NewPaint(name string, cs colorspace.ColorSpace, opts ...Option) *Node {
	n := newNode(KindPaint, name, cs, opts)
	n.adoptOriginal(device.New(cs, device.WithDefaultBounds(n.bounds)))
	return n
}

// NewPaintFrom creates a paint layer that takes ownership of dev.
func NewPaintFrom(name string, dev *device.Device, opts ...Option) *Node {
	n := newNode(KindPaint, name, dev.ColorSpace(), opts)
	n.adoptOriginal(dev)
	return n
}

// NewGroup creates an empty group.
func NewGroup(name string, cs colorspace.ColorSpace, opts ...Option) *Node {
	return newNode(KindGroup, name, cs, opts)
}

// NewAdjustment creates an adjustment layer applying f to everything below
// it in its group.
func NewAdjustment(name string, cs colorspace.ColorSpace, f filter.Filter, opts ...Option) *Node {
	n := newNode(KindAdjustment, name, cs, opts)
	n.filter = f
	return n
}

// NewSelectionMask creates a local selection mask.
func NewSelectionMask(name string, sel *selection.Selection, opts ...Option) *Node {
	return newMask(KindSelectionMask, name, sel, nil, opts)
}

// NewTransparencyMask creates a mask multiplying its parent's alpha.
func NewTransparencyMask(name string, sel *selection.Selection, opts ...Option) *Node {
	return newMask(KindTransparencyMask, name, sel, nil, opts)
}

// NewFilterMask creates a mask applying f to its parent, weighted by sel.
// A nil sel applies the filter everywhere.
func NewFilterMask(name string, f filter.Filter, sel *selection.Selection, opts ...Option) *Node {
	return newMask(KindFilterMask, name, sel, f, opts)
}

func newMask(kind Kind, name string, sel *selection.Selection, f filter.Filter, opts []Option) *Node {
	n := newNode(kind, name, colorspace.Alpha8(), opts)
	n.filter = f
	if sel == nil {
		sel = selection.New(selection.WithDefaultBounds(n.bounds))
		if kind != KindSelectionMask {
			sel.Invert()
		}
	}
	n.sel = sel
	n.unwatch = sel.Device().OnChange(n.maskChanged)
	return n
}

func (n *Node) adoptOriginal(dev *device.Device) {
	n.original = dev
	n.lastExtent = dev.Extent()
	n.unwatch = dev.OnChange(n.originalChanged)
}

// originalChanged runs after every edit of the original device, including
// transaction undo and redo.
func (n *Node) originalChanged(c device.Change) {
	r := c.Rect
	ext := n.original.Extent()
	if c.Full {
		n.mu.RLock()
		r = r.Union(n.bounds.Bounds()).Union(n.lastExtent)
		n.mu.RUnlock()
		r = r.Union(ext)
	}
	n.mu.Lock()
	n.lastExtent = ext
	n.mu.Unlock()
	n.SetDirty(r)
}

func (n *Node) maskChanged(c device.Change) {
	p := n.Parent()
	if p == nil {
		return
	}
	r := c.Rect
	if c.Full {
		r = r.Union(p.ExactBounds()).Union(n.bounds.Bounds())
	}
	p.SetDirty(r)
}

// Kind returns the node kind.
func (n *Node) Kind() Kind { return n.kind }

// Name returns the node name.
func (n *Node) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

// ColorSpace returns the node's color space. Masks report Alpha8.
func (n *Node) ColorSpace() colorspace.ColorSpace {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.original != nil {
		return n.original.ColorSpace()
	}
	return n.cs
}

// Parent returns the parent node, or nil for a root or detached node.
func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// Root returns the top-most ancestor.
func (n *Node) Root() *Node {
	for {
		p := n.Parent()
		if p == nil {
			return n
		}
		n = p
	}
}

// Children returns a copy of the child list, bottom-most first.
func (n *Node) Children() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Layers returns the non-mask children.
func (n *Node) Layers() []*Node {
	return n.filterChildren(func(c *Node) bool { return !c.kind.Caps().Has(IsMask) })
}

// Masks returns the mask children in application order.
func (n *Node) Masks() []*Node {
	return n.filterChildren(func(c *Node) bool { return c.kind.Caps().Has(IsMask) })
}

func (n *Node) filterChildren(keep func(*Node) bool) []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []*Node
	for _, c := range n.children {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// effectMasks returns the visible masks that change pixels.
func (n *Node) effectMasks() []*Node {
	return n.filterChildren(func(c *Node) bool {
		return (c.kind == KindTransparencyMask || c.kind == KindFilterMask) && c.Visible()
	})
}

// Original returns the pixel source of a paint layer, nil otherwise.
func (n *Node) Original() *device.Device {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.original
}

// Selection returns a mask's selection, nil for layers.
func (n *Node) Selection() *selection.Selection {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sel
}

// Filter returns the filter of an adjustment layer or filter mask.
func (n *Node) Filter() filter.Filter {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.filter
}

// CompositeOp returns the composite op.
func (n *Node) CompositeOp() colorspace.OpID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.op
}

// Opacity returns the opacity.
func (n *Node) Opacity() uint8 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.opacity
}

// Channels returns the channel flags.
func (n *Node) Channels() colorspace.Channels {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.channels
}

// AlphaLocked reports whether the alpha channel is disabled.
func (n *Node) AlphaLocked() bool {
	return !n.Channels().Has(colorspace.ChannelAlpha)
}

// PassThrough reports whether the node is a pass-through group.
func (n *Node) PassThrough() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.passThrough
}

// Visible reports whether the node takes part in compositing.
func (n *Node) Visible() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.visible
}

// InheritAlpha reports whether the node is clipped to the alpha below it.
func (n *Node) InheritAlpha() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.inheritAlpha
}

// DefaultBounds returns the default bounds provider.
func (n *Node) DefaultBounds() device.DefaultBounds {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.bounds
}

// SetName renames the node.
func (n *Node) SetName(name string) {
	n.mu.Lock()
	n.name = name
	n.mu.Unlock()
}

// SetOpacity changes the opacity and dirties the covered area.
func (n *Node) SetOpacity(o uint8) {
	n.setProperty(func() { n.opacity = o })
}

// SetCompositeOp changes the composite op.
func (n *Node) SetCompositeOp(op colorspace.OpID) {
	n.setProperty(func() { n.op = op })
}

// SetChannels changes the channel flags.
func (n *Node) SetChannels(c colorspace.Channels) {
	n.setProperty(func() { n.channels = c })
}

// SetAlphaLocked disables or enables the alpha channel.
func (n *Node) SetAlphaLocked(locked bool) {
	n.setProperty(func() {
		if locked {
			n.channels &^= colorspace.ChannelAlpha
		} else {
			n.channels |= colorspace.ChannelAlpha
		}
	})
}

// SetVisible shows or hides the node.
func (n *Node) SetVisible(v bool) {
	n.setProperty(func() { n.visible = v })
}

// SetInheritAlpha toggles clipping to the alpha below.
func (n *Node) SetInheritAlpha(on bool) {
	n.setProperty(func() { n.inheritAlpha = on })
}

// SetPassThrough toggles pass-through mode on a group.
func (n *Node) SetPassThrough(on bool) {
	if !n.kind.Caps().Has(SupportsPassThrough) {
		return
	}
	n.setProperty(func() { n.passThrough = on })
	if !on {
		n.SetDirty(n.ExactBounds())
	}
}

// SetFilter replaces the filter of an adjustment layer or filter mask.
func (n *Node) SetFilter(f filter.Filter) {
	if !n.kind.Caps().Has(HasFilter) {
		return
	}
	n.setProperty(func() { n.filter = f })
}

func (n *Node) setProperty(set func()) {
	n.mu.Lock()
	set()
	p := n.parent
	n.mu.Unlock()
	if p == nil {
		return
	}
	if n.kind.Caps().Has(IsMask) {
		p.SetDirty(p.ExactBounds().Union(n.ExactBounds()))
		return
	}
	p.SetDirty(n.ExactBounds())
}

// SetDirty marks r as needing recomposition here and in every ancestor.
func (n *Node) SetDirty(r image.Rectangle) {
	if r.Empty() {
		return
	}
	for cur := n; cur != nil; {
		cur.mu.Lock()
		cur.dirty = cur.dirty.Union(r)
		next := cur.parent
		cur.mu.Unlock()
		cur = next
	}
}

// Dirty returns the area awaiting recomposition.
func (n *Node) Dirty() image.Rectangle {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dirty
}

func (n *Node) restoreDirty(r image.Rectangle) {
	n.mu.Lock()
	n.dirty = n.dirty.Union(r)
	n.mu.Unlock()
}

func (n *Node) takeDirty() image.Rectangle {
	n.mu.Lock()
	defer n.mu.Unlock()
	r := n.dirty
	n.dirty = image.Rectangle{}
	return r
}

// ExactBounds returns the area the node can affect.
func (n *Node) ExactBounds() image.Rectangle {
	switch n.kind {
	case KindPaint:
		return n.Original().ExactBounds()
	case KindGroup:
		var r image.Rectangle
		for _, c := range n.Layers() {
			r = r.Union(c.ExactBounds())
		}
		return r
	case KindAdjustment:
		return n.DefaultBounds().Bounds()
	default:
		if n.kind == KindFilterMask {
			return n.DefaultBounds().Bounds()
		}
		return n.Selection().SelectedExactRect()
	}
}

// projectionDevice returns the device holding the node's composited
// pixels, or nil when the node has no own surface.
func (n *Node) projectionDevice() *device.Device {
	n.mu.RLock()
	defer n.mu.RUnlock()
	switch {
	case n.kind == KindPaint && n.projection == nil:
		return n.original
	case n.kind.Caps().Has(HasProjection) && !n.passThrough:
		return n.projection
	}
	return nil
}

// ensureProjection returns the projection device, creating it on first
// use or after a color space change. fresh reports a new device.
func (n *Node) ensureProjection() (dev *device.Device, fresh bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cs := n.cs
	if n.original != nil {
		cs = n.original.ColorSpace()
	}
	if n.projection != nil && colorspace.Equal(n.projection.ColorSpace(), cs) {
		return n.projection, false
	}
	if n.projection != nil {
		n.projection.Release()
	}
	n.projection = device.New(cs, device.WithDefaultBounds(n.bounds))
	return n.projection, true
}

func (n *Node) dropProjection() {
	n.mu.Lock()
	p := n.projection
	n.projection = nil
	n.mu.Unlock()
	if p != nil {
		p.Release()
	}
}

// SetCompositor injects the compositor used by Projection for this tree.
// Only the root's compositor is consulted.
func (n *Node) SetCompositor(c *Compositor) {
	n.mu.Lock()
	n.compositor = c
	n.mu.Unlock()
}

// Projection brings the node's projection up to date and returns it. It
// returns nil for nodes without a surface: adjustments, masks and
// pass-through groups.
func (n *Node) Projection() *device.Device {
	root := n.Root()
	root.mu.RLock()
	c := root.compositor
	root.mu.RUnlock()
	if c == nil {
		c = defaultCompositor
	}
	if err := c.Recalculate(n); err != nil {
		logger.Get().Warn("layer: recalculation failed", "node", n.Name(), "err", err)
	}
	return n.projectionDevice()
}

// Release drops the node's observers and returns its tiles to the pool.
// Children are released too.
func (n *Node) Release() {
	for _, c := range n.Children() {
		c.Release()
	}
	n.mu.Lock()
	if n.unwatch != nil {
		n.unwatch()
		n.unwatch = nil
	}
	orig, proj, sel := n.original, n.projection, n.sel
	n.projection = nil
	n.mu.Unlock()
	if orig != nil {
		orig.Release()
	}
	if proj != nil {
		proj.Release()
	}
	if sel != nil {
		sel.Release()
	}
}
