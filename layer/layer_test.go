package layer

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/device"
	"github.com/gogpu/canvas/filter"
	"github.com/gogpu/canvas/selection"
)

var (
	bounds = device.StaticBounds(image.Rect(0, 0, 64, 64))

	red   = color.RGBA{R: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gray  = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

func px(c color.Color) []byte {
	return colorspace.SRGB.FromColor(c)
}

func newRoot() *Node {
	return NewGroup("root", colorspace.SRGB, WithBounds(bounds))
}

func paint(t *testing.T, parent *Node, name string, r image.Rectangle, c color.Color, opts ...Option) *Node {
	t.Helper()
	n := NewPaint(name, colorspace.SRGB, append([]Option{WithBounds(bounds)}, opts...)...)
	n.Original().FillColor(r, c)
	if err := parent.Add(n, -1); err != nil {
		t.Fatalf("Add(%s): %v", name, err)
	}
	return n
}

func pixelAt(t *testing.T, n *Node, x, y int) []byte {
	t.Helper()
	p := n.Projection()
	if p == nil {
		t.Fatalf("%s has no projection", n.Name())
	}
	return p.Pixel(x, y)
}

func selectRect(r image.Rectangle) *selection.Selection {
	s := selection.New(selection.WithDefaultBounds(bounds))
	s.Select(r, 255)
	return s
}

func TestKind_Caps(t *testing.T) {
	tests := []struct {
		kind Kind
		has  Caps
		not  Caps
	}{
		{KindPaint, HasProjection | OwnsMasks, OwnsLayers | IsMask},
		{KindGroup, HasProjection | SupportsPassThrough | OwnsLayers, IsMask},
		{KindAdjustment, OwnsMasks | HasFilter, HasProjection},
		{KindTransparencyMask, IsMask, OwnsMasks},
		{KindFilterMask, IsMask | HasFilter, HasProjection},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			caps := tt.kind.Caps()
			if !caps.Has(tt.has) {
				t.Errorf("caps %b lack %b", caps, tt.has)
			}
			if caps&tt.not != 0 {
				t.Errorf("caps %b include %b", caps, tt.not)
			}
		})
	}
}

func TestNode_DirtyPropagates(t *testing.T) {
	root := newRoot()
	group := NewGroup("g", colorspace.SRGB, WithBounds(bounds))
	if err := root.Add(group, -1); err != nil {
		t.Fatal(err)
	}
	p := paint(t, group, "p", image.Rect(0, 0, 1, 1), red)
	root.Projection()
	if !root.Dirty().Empty() || !group.Dirty().Empty() || !p.Dirty().Empty() {
		t.Fatal("recalculation left dirt behind")
	}

	p.Original().FillColor(image.Rect(4, 4, 8, 8), blue)
	want := image.Rect(4, 4, 8, 8)
	for _, n := range []*Node{p, group, root} {
		if got := n.Dirty(); got != want {
			t.Errorf("%s dirty = %v, want %v", n.Name(), got, want)
		}
	}
	if got := pixelAt(t, root, 5, 5); !bytes.Equal(got, px(blue)) {
		t.Errorf("projection = %v, want blue", got)
	}
	if !root.Dirty().Empty() {
		t.Error("root still dirty after Projection")
	}
}

func TestCompositor_OpacityAndOrder(t *testing.T) {
	root := newRoot()
	paint(t, root, "bottom", image.Rect(0, 0, 10, 10), red)
	top := paint(t, root, "top", image.Rect(5, 0, 10, 10), blue)

	if got := pixelAt(t, root, 2, 2); !bytes.Equal(got, px(red)) {
		t.Errorf("(2,2) = %v, want red", got)
	}
	if got := pixelAt(t, root, 7, 2); !bytes.Equal(got, px(blue)) {
		t.Errorf("(7,2) = %v, want blue", got)
	}
	top.SetOpacity(0)
	if got := pixelAt(t, root, 7, 2); !bytes.Equal(got, px(red)) {
		t.Errorf("(7,2) at opacity 0 = %v, want red", got)
	}
	top.SetOpacity(255)
	top.SetVisible(false)
	if got := pixelAt(t, root, 7, 2); !bytes.Equal(got, px(red)) {
		t.Errorf("(7,2) hidden = %v, want red", got)
	}
}

func TestCompositor_TransparencyMask(t *testing.T) {
	root := newRoot()
	p := paint(t, root, "p", image.Rect(0, 0, 10, 10), white)
	if err := p.Add(NewTransparencyMask("mask", selectRect(image.Rect(0, 0, 5, 10))), -1); err != nil {
		t.Fatal(err)
	}
	if got := pixelAt(t, root, 2, 2); !bytes.Equal(got, px(white)) {
		t.Errorf("inside mask = %v, want white", got)
	}
	if got := pixelAt(t, root, 7, 7); got[3] != 0 {
		t.Errorf("outside mask = %v, want transparent", got)
	}

	// Editing the mask dirties the layer.
	p.Masks()[0].Selection().Select(image.Rect(5, 5, 10, 10), 255)
	if got := pixelAt(t, root, 7, 7); !bytes.Equal(got, px(white)) {
		t.Errorf("after mask edit = %v, want white", got)
	}

	// Without effect masks the layer projects its original.
	if _, err := p.Remove(p.Masks()[0]); err != nil {
		t.Fatal(err)
	}
	if p.Projection() != p.Original() {
		t.Error("unmasked paint layer should project its original")
	}
}

func TestCompositor_SelectionMaskHasNoEffect(t *testing.T) {
	root := newRoot()
	p := paint(t, root, "p", image.Rect(0, 0, 10, 10), white)
	if err := p.Add(NewSelectionMask("sel", selectRect(image.Rect(0, 0, 2, 2))), -1); err != nil {
		t.Fatal(err)
	}
	if got := pixelAt(t, root, 7, 7); !bytes.Equal(got, px(white)) {
		t.Errorf("(7,7) = %v, want white", got)
	}
}

func TestCompositor_FilterMask(t *testing.T) {
	root := newRoot()
	p := paint(t, root, "p", image.Rect(0, 0, 10, 10), red)
	if err := p.Add(NewFilterMask("invert", filter.Invert(), selectRect(image.Rect(0, 0, 5, 10))), -1); err != nil {
		t.Fatal(err)
	}
	cyan := []byte{0, 255, 255, 255}
	if got := pixelAt(t, root, 2, 2); !bytes.Equal(got, cyan) {
		t.Errorf("filtered = %v, want %v", got, cyan)
	}
	if got := pixelAt(t, root, 7, 2); !bytes.Equal(got, px(red)) {
		t.Errorf("unselected = %v, want red", got)
	}
}

func TestCompositor_Adjustment(t *testing.T) {
	root := newRoot()
	paint(t, root, "bottom", image.Rect(0, 0, 10, 10), red)
	if err := root.Add(NewAdjustment("invert", colorspace.SRGB, filter.Invert(), WithBounds(bounds)), -1); err != nil {
		t.Fatal(err)
	}
	paint(t, root, "top", image.Rect(5, 0, 10, 10), blue)

	if got := pixelAt(t, root, 2, 2); !bytes.Equal(got, []byte{0, 255, 255, 255}) {
		t.Errorf("below adjustment = %v, want cyan", got)
	}
	if got := pixelAt(t, root, 7, 2); !bytes.Equal(got, px(blue)) {
		t.Errorf("above adjustment = %v, want blue", got)
	}
}

func TestCompositor_PassThrough(t *testing.T) {
	build := func(passThrough bool) *Node {
		root := newRoot()
		paint(t, root, "backdrop", image.Rect(0, 0, 10, 10), gray)
		g := NewGroup("g", colorspace.SRGB, WithBounds(bounds), WithPassThrough(passThrough))
		if err := root.Add(g, -1); err != nil {
			t.Fatal(err)
		}
		paint(t, g, "diff", image.Rect(0, 0, 10, 10), white, WithCompositeOp(colorspace.OpDifference))
		return root
	}

	isolated := pixelAt(t, build(false), 5, 5)
	if !bytes.Equal(isolated, px(white)) {
		t.Errorf("isolated group = %v, want white", isolated)
	}
	root := build(true)
	through := pixelAt(t, root, 5, 5)
	if through[0] > 200 {
		t.Errorf("pass-through difference = %v, want it to see the backdrop", through)
	}
	g := root.Layers()[1]
	if g.Projection() != nil {
		t.Error("pass-through group should have no projection")
	}

	// Group opacity lerps back toward the backdrop.
	g.SetOpacity(0)
	if got := pixelAt(t, root, 5, 5); !bytes.Equal(got, px(gray)) {
		t.Errorf("pass-through at opacity 0 = %v, want gray", got)
	}
}

func TestCompositor_CrossColorSpace(t *testing.T) {
	root := newRoot()
	n := NewPaint("linear", colorspace.LinearRGB, WithBounds(bounds))
	src := colorspace.LinearRGB.FromColor(gray)
	n.Original().Fill(image.Rect(0, 0, 4, 4), src)
	if err := root.Add(n, -1); err != nil {
		t.Fatal(err)
	}
	want, err := colorspace.Convert(colorspace.LinearRGB, colorspace.SRGB, src, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := pixelAt(t, root, 1, 1); !bytes.Equal(got, want) {
		t.Errorf("converted = %v, want %v", got, want)
	}
}

func TestCompositor_InheritAlpha(t *testing.T) {
	root := newRoot()
	paint(t, root, "base", image.Rect(0, 0, 5, 10), red)
	paint(t, root, "clip", image.Rect(0, 0, 10, 10), blue, WithInheritAlpha(true))
	if got := pixelAt(t, root, 2, 2); !bytes.Equal(got, px(blue)) {
		t.Errorf("over base = %v, want blue", got)
	}
	if got := pixelAt(t, root, 7, 2); got[3] != 0 {
		t.Errorf("outside base = %v, want transparent", got)
	}
}

func TestCompositor_FollowsUndo(t *testing.T) {
	root := newRoot()
	p := paint(t, root, "p", image.Rect(0, 0, 10, 10), red)
	root.Projection()

	tx := device.NewTransaction("paint", p.Original())
	p.Original().FillColor(image.Rect(0, 0, 10, 10), blue)
	cmd := tx.End()
	if got := pixelAt(t, root, 1, 1); !bytes.Equal(got, px(blue)) {
		t.Fatalf("after paint = %v, want blue", got)
	}
	cmd.Undo()
	if got := pixelAt(t, root, 1, 1); !bytes.Equal(got, px(red)) {
		t.Errorf("after undo = %v, want red", got)
	}
	cmd.Redo()
	if got := pixelAt(t, root, 1, 1); !bytes.Equal(got, px(blue)) {
		t.Errorf("after redo = %v, want blue", got)
	}
}

func TestCompositor_Workers(t *testing.T) {
	root := newRoot()
	root.SetCompositor(NewCompositor(WithWorkers(1)))
	for i := 0; i < 8; i++ {
		g := NewGroup("g", colorspace.SRGB, WithBounds(bounds))
		if err := root.Add(g, -1); err != nil {
			t.Fatal(err)
		}
		paint(t, g, "p", image.Rect(i, 0, i+1, 1), red)
	}
	for i := 0; i < 8; i++ {
		if got := pixelAt(t, root, i, 0); !bytes.Equal(got, px(red)) {
			t.Errorf("(%d,0) = %v, want red", i, got)
		}
	}
}

func TestTree_AddRules(t *testing.T) {
	root := newRoot()
	p := paint(t, root, "p", image.Rect(0, 0, 1, 1), red)

	if err := p.Add(NewPaint("child", colorspace.SRGB), -1); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("layer under paint: err = %v, want ErrNotAllowed", err)
	}
	mask := NewTransparencyMask("m", nil)
	if err := p.Add(mask, -1); err != nil {
		t.Fatalf("mask under paint: %v", err)
	}
	if err := mask.Add(NewSelectionMask("s", nil), -1); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("mask under mask: err = %v, want ErrNotAllowed", err)
	}
	if err := root.Add(p, -1); !errors.Is(err, ErrHasParent) {
		t.Errorf("double add: err = %v, want ErrHasParent", err)
	}

	g := NewGroup("g", colorspace.SRGB)
	if err := root.Add(g, -1); err != nil {
		t.Fatal(err)
	}
	if _, err := root.Remove(g); err != nil {
		t.Fatal(err)
	}
	inner := NewGroup("inner", colorspace.SRGB)
	if err := g.Add(inner, -1); err != nil {
		t.Fatal(err)
	}
	if err := inner.Add(g, -1); !errors.Is(err, ErrCycle) {
		t.Errorf("cycle: err = %v, want ErrCycle", err)
	}
	if _, err := root.Remove(inner); !errors.Is(err, ErrNotChild) {
		t.Errorf("remove non-child: err = %v, want ErrNotChild", err)
	}
}

func TestTree_StructuralCommands(t *testing.T) {
	root := newRoot()
	a := paint(t, root, "a", image.Rect(0, 0, 2, 2), red)
	b := NewPaint("b", colorspace.SRGB, WithBounds(bounds))
	b.Original().FillColor(image.Rect(0, 0, 2, 2), blue)

	add := AddCommand(root, b, -1)
	if len(root.Layers()) != 1 {
		t.Fatal("AddCommand changed the tree before Redo")
	}
	add.Redo()
	if got := pixelAt(t, root, 0, 0); !bytes.Equal(got, px(blue)) {
		t.Errorf("after add = %v, want blue", got)
	}
	add.Undo()
	if b.Parent() != nil || len(root.Layers()) != 1 {
		t.Error("undo add left b attached")
	}
	if got := pixelAt(t, root, 0, 0); !bytes.Equal(got, px(red)) {
		t.Errorf("after undo add = %v, want red", got)
	}

	add.Redo()
	rm := RemoveCommand(a)
	rm.Redo()
	if root.Index(a) != -1 {
		t.Error("a still attached")
	}
	rm.Undo()
	if root.Index(a) != 0 {
		t.Errorf("a restored at %d, want 0", root.Index(a))
	}

	g := NewGroup("g", colorspace.SRGB, WithBounds(bounds))
	if err := root.Add(g, -1); err != nil {
		t.Fatal(err)
	}
	mv := MoveCommand(a, g, 0)
	mv.Redo()
	if a.Parent() != g {
		t.Error("move did not reparent")
	}
	mv.Undo()
	if a.Parent() != root || root.Index(a) != 0 {
		t.Error("undo move did not restore position")
	}

	op := OpacityCommand(a, 10)
	op.Redo()
	if a.Opacity() != 10 {
		t.Errorf("opacity = %d, want 10", a.Opacity())
	}
	op.Undo()
	if a.Opacity() != 255 {
		t.Errorf("opacity after undo = %d, want 255", a.Opacity())
	}
}

func TestTree_FindByName(t *testing.T) {
	root := newRoot()
	g := NewGroup("Straße", colorspace.SRGB)
	if err := root.Add(g, -1); err != nil {
		t.Fatal(err)
	}
	paint(t, g, "Background", image.Rect(0, 0, 1, 1), red)
	paint(t, root, "BACKGROUND", image.Rect(0, 0, 1, 1), red)

	if got := FindByName(root, "background"); len(got) != 2 {
		t.Errorf("FindByName(background) = %d nodes, want 2", len(got))
	}
	if got := FindByName(root, "STRASSE"); len(got) != 1 || got[0] != g {
		t.Errorf("FindByName(STRASSE) = %v, want the group", got)
	}
	if got := FindByName(root, "missing"); len(got) != 0 {
		t.Errorf("FindByName(missing) = %v", got)
	}
}

func TestTree_WalkSkipsChildren(t *testing.T) {
	root := newRoot()
	g := NewGroup("g", colorspace.SRGB)
	if err := root.Add(g, -1); err != nil {
		t.Fatal(err)
	}
	paint(t, g, "inner", image.Rect(0, 0, 1, 1), red)
	paint(t, root, "outer", image.Rect(0, 0, 1, 1), red)

	var names []string
	Walk(root, func(n *Node) bool {
		names = append(names, n.Name())
		return n != g
	})
	want := []string{"root", "g", "outer"}
	if len(names) != len(want) {
		t.Fatalf("visited %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("visited %v, want %v", names, want)
		}
	}
}

func TestNode_CloneIsIndependent(t *testing.T) {
	root := newRoot()
	p := paint(t, root, "p", image.Rect(0, 0, 4, 4), red)
	if err := p.Add(NewTransparencyMask("m", selectRect(image.Rect(0, 0, 2, 4))), -1); err != nil {
		t.Fatal(err)
	}
	c := p.Clone()
	if c.Parent() != nil {
		t.Error("clone should be detached")
	}
	c.Original().FillColor(image.Rect(0, 0, 4, 4), blue)
	if got := p.Original().Pixel(1, 1); !bytes.Equal(got, px(red)) {
		t.Errorf("original changed through clone: %v", got)
	}
	if len(c.Masks()) != 1 || c.Masks()[0].Parent() != c {
		t.Error("clone lost its mask")
	}
	if got := c.Projection().Pixel(3, 3); got[3] != 0 {
		t.Errorf("clone mask not applied: %v", got)
	}
}
