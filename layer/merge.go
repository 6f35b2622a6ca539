package layer

import (
	"context"
	"fmt"
	"slices"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/device"
	"github.com/gogpu/canvas/selection"
	"github.com/gogpu/canvas/undo"
)

// Merger collapses nodes into paint layers. It renders through the
// compositor it is given.
//
// Every operation returns a command that performs the structural change
// on Redo, the first one included; the tree is untouched until then.
type Merger struct {
	compositor *Compositor
	cs         colorspace.ColorSpace
	noFastPath bool
}

// MergerOption configures a Merger.
type MergerOption func(*Merger)

// WithImageColorSpace sets the space merged layers are produced in. By
// default the destination layer's space is kept.
func WithImageColorSpace(cs colorspace.ColorSpace) MergerOption {
	return func(m *Merger) {
		m.cs = cs
	}
}

// NewMerger creates a merger. A nil compositor selects a shared default.
func NewMerger(c *Compositor, opts ...MergerOption) *Merger {
	if c == nil {
		c = defaultCompositor
	}
	m := &Merger{compositor: c}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MergeDown merges s into the layer directly below it. It returns the
// command performing the merge and the node that will replace both.
func (m *Merger) MergeDown(ctx context.Context, s *Node) (undo.Command, *Node, error) {
	parent := s.Parent()
	if parent == nil || s.kind.Caps().Has(IsMask) {
		return nil, nil, ErrNothingToMerge
	}
	layers := parent.Layers()
	i := slices.Index(layers, s)
	if i <= 0 {
		return nil, nil, ErrNothingToMerge
	}
	d := layers[i-1]
	if d.kind != KindPaint && d.kind != KindGroup {
		return nil, nil, fmt.Errorf("merge into %s: %w", d.kind, ErrNothingToMerge)
	}

	if movableChildren(s, d) {
		return moveChildrenCommand(parent, s, d), d, nil
	}

	cs := m.target(d)
	var result *Node
	if m.fastPath(s, d, cs) {
		result = m.blit(s, d)
	} else {
		op := colorspace.OpOver
		if s.CompositeOp() == d.CompositeOp() {
			op = d.CompositeOp()
		}
		var err error
		result, err = m.rasterize(ctx, d.Name(), cs, d.DefaultBounds(), []*Node{d, s}, true)
		if err != nil {
			return nil, nil, err
		}
		result.op = op
		result.inheritAlpha = d.InheritAlpha()
		if d.AlphaLocked() {
			result.channels &^= colorspace.ChannelAlpha
		}
	}
	result.visible = d.Visible()
	unionSelectionMasks(result, d, s)
	return replaceCommand("Merge Down", parent, []*Node{d, s}, result), result, nil
}

// movableChildren reports whether s can merge into d by handing over its
// children: both are plain pass-through groups.
func movableChildren(s, d *Node) bool {
	if s.kind != KindGroup || d.kind != KindGroup || !s.PassThrough() || !d.PassThrough() {
		return false
	}
	return s.Opacity() == 255 && s.Visible() && len(s.effectMasks()) == 0 &&
		len(s.Masks()) == 0 && s.CompositeOp() == colorspace.OpOver
}

func moveChildrenCommand(parent, s, d *Node) undo.Command {
	sIndex := parent.Index(s)
	children := s.Layers()
	return undo.Func("Merge Down", func() {
		for _, c := range children {
			if err := c.Move(d, -1); err != nil {
				warn("merge", c, err)
			}
		}
		if _, err := parent.Remove(s); err != nil {
			warn("merge", s, err)
		}
	}, func() {
		if err := parent.Add(s, sIndex); err != nil {
			warn("undo merge", s, err)
		}
		for _, c := range children {
			if err := c.Move(s, -1); err != nil {
				warn("undo merge", c, err)
			}
		}
	})
}

func (m *Merger) target(d *Node) colorspace.ColorSpace {
	if m.cs != nil {
		return m.cs
	}
	return d.ColorSpace()
}

// fastPath reports whether s can be blitted onto a copy of d's pixels
// with the same result the generic path produces.
func (m *Merger) fastPath(s, d *Node, cs colorspace.ColorSpace) bool {
	if m.noFastPath || s.kind != KindPaint || d.kind != KindPaint {
		return false
	}
	op := s.CompositeOp()
	switch {
	case op != d.CompositeOp() || !op.Associative():
		return false
	case d.Opacity() != 255:
		return false
	case s.Channels() != colorspace.AllChannels || d.Channels() != colorspace.AllChannels:
		return false
	case s.InheritAlpha() || d.InheritAlpha():
		return false
	case !s.Visible() || !d.Visible():
		return false
	case len(s.effectMasks()) > 0 || len(d.effectMasks()) > 0:
		return false
	case !colorspace.Equal(s.ColorSpace(), cs) || !colorspace.Equal(d.ColorSpace(), cs):
		return false
	}
	return len(s.Original().Frames()) == 1 && len(d.Original().Frames()) == 1
}

func (m *Merger) blit(s, d *Node) *Node {
	dst := d.Original().Clone()
	src := s.Original()
	if r := src.ExactBounds(); !r.Empty() {
		buf := dst.Read(r)
		dst.ColorSpace().Composite(s.CompositeOp(), colorspace.CompositeParams{
			Dst:     buf,
			Src:     src.Read(r),
			N:       area(r),
			Opacity: s.Opacity(),
		})
		_ = dst.Write(r, buf)
	}
	n := NewPaintFrom(d.Name(), dst, WithBounds(d.DefaultBounds()))
	n.op = d.CompositeOp()
	return n
}

// rasterize renders nodes, bottom-most first, into a new paint layer.
// Animation frames are rendered one by one. With isolateFirst the first
// node is composited with the normal op at full opacity, leaving its op
// to the result.
func (m *Merger) rasterize(ctx context.Context, name string, cs colorspace.ColorSpace, bounds device.DefaultBounds, nodes []*Node, isolateFirst bool) (*Node, error) {
	tmp := NewGroup(name, cs, WithBounds(bounds))
	for i, n := range nodes {
		c := n.Clone()
		c.visible = true
		if i == 0 && isolateFirst {
			c.op = colorspace.OpOver
			c.channels = colorspace.AllChannels
			c.inheritAlpha = false
		}
		if err := tmp.Add(c, -1); err != nil {
			return nil, err
		}
	}
	defer tmp.Release()

	out := device.New(cs, device.WithDefaultBounds(bounds))
	frames := FrameIDs(tmp)
	if len(frames) <= 1 {
		if err := m.renderInto(ctx, tmp, out); err != nil {
			return nil, err
		}
		return NewPaintFrom(name, out, WithBounds(bounds)), nil
	}

	current := nodes[0].currentFrame()
	for _, id := range frames {
		Walk(tmp, func(n *Node) bool {
			if orig := n.Original(); orig != nil && orig.HasFrame(id) {
				_ = orig.SetCurrentFrame(id)
			}
			return true
		})
		out.EnsureFrame(id)
		if err := out.SetCurrentFrame(id); err != nil {
			return nil, err
		}
		if err := m.renderInto(ctx, tmp, out); err != nil {
			return nil, err
		}
	}
	if out.HasFrame(current) {
		_ = out.SetCurrentFrame(current)
	}
	return NewPaintFrom(name, out, WithBounds(bounds)), nil
}

func (m *Merger) renderInto(ctx context.Context, tmp *Node, out *device.Device) error {
	r := tmp.ExactBounds()
	if r.Empty() {
		return nil
	}
	buf, err := m.compositor.Render(ctx, tmp, r)
	if err != nil {
		return err
	}
	return out.Write(r, buf)
}

// currentFrame returns the frame shown by the first animated paint layer
// under n, or 0.
func (n *Node) currentFrame() int {
	id := 0
	found := false
	Walk(n, func(c *Node) bool {
		if orig := c.Original(); !found && orig != nil && len(orig.Frames()) > 1 {
			id, found = orig.CurrentFrame(), true
		}
		return !found
	})
	return id
}

// unionSelectionMasks gives result one selection mask covering every
// selection mask of the merged nodes.
func unionSelectionMasks(result *Node, nodes ...*Node) {
	var union *selection.Selection
	var name string
	for _, n := range nodes {
		for _, mk := range n.Masks() {
			if mk.kind != KindSelectionMask {
				continue
			}
			if union == nil {
				union = mk.Selection().Clone()
				name = mk.Name()
				continue
			}
			union.Apply(mk.Selection(), selection.Add)
		}
	}
	if union != nil {
		_ = result.Add(NewSelectionMask(name, union, WithBounds(result.DefaultBounds())), -1)
	}
}

// replaceCommand swaps old, which are siblings under parent, for result
// placed at the lowest old position.
func replaceCommand(name string, parent *Node, old []*Node, result *Node) undo.Command {
	type slot struct {
		n     *Node
		index int
	}
	slots := make([]slot, len(old))
	at := -1
	for i, n := range old {
		slots[i] = slot{n, parent.Index(n)}
		if at < 0 || slots[i].index < at {
			at = slots[i].index
		}
	}
	slices.SortFunc(slots, func(a, b slot) int { return a.index - b.index })
	return undo.Func(name, func() {
		for i := len(slots) - 1; i >= 0; i-- {
			if _, err := parent.Remove(slots[i].n); err != nil {
				warn("merge", slots[i].n, err)
			}
		}
		if err := parent.Add(result, at); err != nil {
			warn("merge", result, err)
		}
	}, func() {
		if _, err := parent.Remove(result); err != nil {
			warn("undo merge", result, err)
		}
		for _, s := range slots {
			if err := parent.Add(s.n, s.index); err != nil {
				warn("undo merge", s.n, err)
			}
		}
	})
}

// FlattenLayer rasterizes n, its masks and children included, into one
// paint layer with n's op, opacity and visibility.
func (m *Merger) FlattenLayer(ctx context.Context, n *Node) (undo.Command, *Node, error) {
	parent := n.Parent()
	if parent == nil || n.kind == KindAdjustment || n.kind.Caps().Has(IsMask) {
		return nil, nil, ErrNothingToMerge
	}
	if n.kind == KindPaint && len(n.effectMasks()) == 0 {
		return undo.Empty, n, nil
	}
	cs := m.target(n)
	flat := n.Clone()
	flat.op = colorspace.OpOver
	flat.opacity = 255
	flat.channels = colorspace.AllChannels
	flat.passThrough = false
	result, err := m.rasterize(ctx, n.Name(), cs, n.DefaultBounds(), []*Node{flat}, false)
	flat.Release()
	if err != nil {
		return nil, nil, err
	}
	result.op = n.CompositeOp()
	result.opacity = n.Opacity()
	result.channels = n.Channels()
	result.visible = n.Visible()
	unionSelectionMasks(result, n)
	return replaceCommand("Flatten Layer", parent, []*Node{n}, result), result, nil
}

// FlattenImage reduces the visible layers of root to one paint layer. An
// image that already is one plain paint layer is left alone.
func (m *Merger) FlattenImage(ctx context.Context, root *Node) (undo.Command, *Node, error) {
	layers := root.Layers()
	if len(layers) == 0 {
		return nil, nil, ErrNothingToMerge
	}
	if len(layers) == 1 && plain(layers[0]) {
		return undo.Empty, layers[0], nil
	}
	cs := m.cs
	if cs == nil {
		cs = root.ColorSpace()
	}
	var visible []*Node
	alphaLocked := false
	for _, l := range layers {
		if l.Visible() {
			visible = append(visible, l)
			alphaLocked = alphaLocked || (l.kind == KindPaint && l.AlphaLocked())
		}
	}
	result, err := m.rasterize(ctx, "Background", cs, root.DefaultBounds(), visible, false)
	if err != nil {
		return nil, nil, err
	}
	if alphaLocked && len(visible) == 1 {
		result.channels &^= colorspace.ChannelAlpha
	}
	return replaceCommand("Flatten Image", root, layers, result), result, nil
}

// plain reports whether n is a paint layer that composites as its raw
// pixels.
func plain(n *Node) bool {
	return n.kind == KindPaint && len(n.Children()) == 0 && n.Visible() &&
		n.Opacity() == 255 && n.CompositeOp() == colorspace.OpOver &&
		n.Channels() == colorspace.AllChannels && !n.InheritAlpha()
}

// MergeMultiple merges sibling layers into one paint layer placed at the
// lowest of their positions. Hidden layers are dropped.
func (m *Merger) MergeMultiple(ctx context.Context, nodes []*Node) (undo.Command, *Node, error) {
	if len(nodes) < 2 {
		return nil, nil, ErrNothingToMerge
	}
	parent := nodes[0].Parent()
	if parent == nil {
		return nil, nil, ErrNothingToMerge
	}
	sorted := slices.Clone(nodes)
	for _, n := range sorted {
		if n.Parent() != parent || n.kind.Caps().Has(IsMask) {
			return nil, nil, fmt.Errorf("%q: %w", n.Name(), ErrNotChild)
		}
	}
	slices.SortFunc(sorted, func(a, b *Node) int { return parent.Index(a) - parent.Index(b) })
	sorted = slices.Compact(sorted)
	if len(sorted) < 2 {
		return nil, nil, ErrNothingToMerge
	}

	top := sorted[len(sorted)-1]
	var visible []*Node
	for _, n := range sorted {
		if n.Visible() {
			visible = append(visible, n)
		}
	}
	cs := m.target(sorted[0])
	result, err := m.rasterize(ctx, top.Name(), cs, top.DefaultBounds(), visible, false)
	if err != nil {
		return nil, nil, err
	}
	unionSelectionMasks(result, sorted...)
	return replaceCommand("Merge Layers", parent, sorted, result), result, nil
}
