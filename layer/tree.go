package layer

import (
	"fmt"
	"slices"

	"golang.org/x/text/cases"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/internal/logger"
	"github.com/gogpu/canvas/undo"
)

// Add inserts child at index among n's children. A negative or too large
// index appends on top.
func (n *Node) Add(child *Node, index int) error {
	if err := n.canAdopt(child); err != nil {
		return err
	}
	n.mu.Lock()
	if index < 0 || index > len(n.children) {
		index = len(n.children)
	}
	n.children = slices.Insert(n.children, index, child)
	n.mu.Unlock()

	child.mu.Lock()
	child.parent = n
	child.mu.Unlock()
	n.childChanged(child)
	return nil
}

func (n *Node) canAdopt(child *Node) error {
	caps := n.kind.Caps()
	if child.kind.Caps().Has(IsMask) {
		if !caps.Has(OwnsMasks) {
			return fmt.Errorf("%s under %s: %w", child.kind, n.kind, ErrNotAllowed)
		}
	} else if !caps.Has(OwnsLayers) {
		return fmt.Errorf("%s under %s: %w", child.kind, n.kind, ErrNotAllowed)
	}
	if child.Parent() != nil {
		return ErrHasParent
	}
	for a := n; a != nil; a = a.Parent() {
		if a == child {
			return ErrCycle
		}
	}
	return nil
}

// Remove detaches child and returns the index it had.
func (n *Node) Remove(child *Node) (int, error) {
	n.mu.Lock()
	i := slices.Index(n.children, child)
	if i < 0 {
		n.mu.Unlock()
		return -1, ErrNotChild
	}
	n.children = slices.Delete(n.children, i, i+1)
	n.mu.Unlock()

	n.childChanged(child)
	child.mu.Lock()
	child.parent = nil
	child.mu.Unlock()
	return i, nil
}

// childChanged dirties the area a child adds or removes.
func (n *Node) childChanged(child *Node) {
	if child.kind.Caps().Has(IsMask) {
		n.SetDirty(n.ExactBounds().Union(child.ExactBounds()))
		return
	}
	n.SetDirty(child.ExactBounds())
}

// Index returns the position of child, or -1.
func (n *Node) Index(child *Node) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Index(n.children, child)
}

// Move reparents n under parent at index.
func (n *Node) Move(parent *Node, index int) error {
	old := n.Parent()
	if old == nil {
		return parent.Add(n, index)
	}
	oldIndex, err := old.Remove(n)
	if err != nil {
		return err
	}
	if err := parent.Add(n, index); err != nil {
		_ = old.Add(n, oldIndex)
		return err
	}
	return nil
}

// AddCommand returns a command that inserts child into parent on Redo.
func AddCommand(parent, child *Node, index int) undo.Command {
	return &addCommand{parent: parent, child: child, index: index}
}

type addCommand struct {
	parent, child *Node
	index         int
}

func (c *addCommand) Name() string { return "Add " + c.child.Name() }

func (c *addCommand) Redo() {
	if err := c.parent.Add(c.child, c.index); err != nil {
		warn("add", c.child, err)
	}
}

func (c *addCommand) Undo() {
	if _, err := c.parent.Remove(c.child); err != nil {
		warn("undo add", c.child, err)
	}
}

// RemoveCommand returns a command that detaches child on Redo and puts it
// back at its current position on Undo.
func RemoveCommand(child *Node) undo.Command {
	p := child.Parent()
	idx := -1
	if p != nil {
		idx = p.Index(child)
	}
	return &removeCommand{parent: p, child: child, index: idx}
}

type removeCommand struct {
	parent, child *Node
	index         int
}

func (c *removeCommand) Name() string { return "Remove " + c.child.Name() }

func (c *removeCommand) Redo() {
	if c.parent == nil {
		return
	}
	if _, err := c.parent.Remove(c.child); err != nil {
		warn("remove", c.child, err)
	}
}

func (c *removeCommand) Undo() {
	if c.parent == nil {
		return
	}
	if err := c.parent.Add(c.child, c.index); err != nil {
		warn("undo remove", c.child, err)
	}
}

// MoveCommand returns a command that moves n under parent at index.
func MoveCommand(n, parent *Node, index int) undo.Command {
	from := n.Parent()
	fromIndex := -1
	if from != nil {
		fromIndex = from.Index(n)
	}
	return undo.Func("Move "+n.Name(), func() {
		if err := n.Move(parent, index); err != nil {
			warn("move", n, err)
		}
	}, func() {
		var err error
		if from == nil {
			_, err = parent.Remove(n)
		} else {
			err = n.Move(from, fromIndex)
		}
		if err != nil {
			warn("undo move", n, err)
		}
	})
}

func warn(op string, n *Node, err error) {
	logger.Get().Warn("layer: "+op+" failed", "node", n.Name(), "err", err)
}

// OpacityCommand returns a command setting n's opacity.
func OpacityCommand(n *Node, o uint8) undo.Command {
	old := n.Opacity()
	return undo.Func("Set Opacity", func() { n.SetOpacity(o) }, func() { n.SetOpacity(old) })
}

// CompositeOpCommand returns a command setting n's composite op.
func CompositeOpCommand(n *Node, op colorspace.OpID) undo.Command {
	old := n.CompositeOp()
	return undo.Func("Set Composite Op", func() { n.SetCompositeOp(op) }, func() { n.SetCompositeOp(old) })
}

// VisibilityCommand returns a command showing or hiding n.
func VisibilityCommand(n *Node, v bool) undo.Command {
	old := n.Visible()
	return undo.Func("Set Visibility", func() { n.SetVisible(v) }, func() { n.SetVisible(old) })
}

// RenameCommand returns a command renaming n.
func RenameCommand(n *Node, name string) undo.Command {
	old := n.Name()
	return undo.Func("Rename", func() { n.SetName(name) }, func() { n.SetName(old) })
}

// Walk visits n and its descendants depth first, bottom-most child first.
// Returning false from fn skips the node's children.
func Walk(n *Node, fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, fn)
	}
}

// FindByName returns the nodes under root whose name matches name without
// regard to case.
func FindByName(root *Node, name string) []*Node {
	fold := cases.Fold()
	want := fold.String(name)
	var out []*Node
	Walk(root, func(n *Node) bool {
		if fold.String(n.Name()) == want {
			out = append(out, n)
		}
		return true
	})
	return out
}

// FrameIDs returns the sorted union of animation frame ids of the paint
// layers under n.
func FrameIDs(n *Node) []int {
	var ids []int
	Walk(n, func(c *Node) bool {
		if orig := c.Original(); orig != nil {
			ids = append(ids, orig.Frames()...)
		}
		return true
	})
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Clone returns a detached deep copy of n. Pixel data is shared
// copy-on-write.
func (n *Node) Clone() *Node {
	n.mu.RLock()
	c := &Node{
		kind:         n.kind,
		name:         n.name,
		cs:           n.cs,
		bounds:       n.bounds,
		filter:       n.filter,
		op:           n.op,
		opacity:      n.opacity,
		channels:     n.channels,
		passThrough:  n.passThrough,
		visible:      n.visible,
		inheritAlpha: n.inheritAlpha,
	}
	orig, sel := n.original, n.sel
	n.mu.RUnlock()

	if orig != nil {
		c.adoptOriginal(orig.Clone())
	}
	if sel != nil {
		c.sel = sel.Clone()
		c.unwatch = c.sel.Device().OnChange(c.maskChanged)
	}
	for _, child := range n.Children() {
		cc := child.Clone()
		cc.parent = c
		c.children = append(c.children, cc)
	}
	return c
}

// SetColorSpace changes the space a group or adjustment composites in.
// Paint layers convert their original device instead.
func (n *Node) SetColorSpace(cs colorspace.ColorSpace) {
	if n.kind == KindPaint || n.kind.Caps().Has(IsMask) {
		return
	}
	n.mu.Lock()
	n.cs = cs
	n.mu.Unlock()
	n.SetDirty(n.ExactBounds())
}
