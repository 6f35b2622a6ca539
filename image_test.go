package canvas

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"slices"
	"sync"
	"testing"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/device"
	"github.com/gogpu/canvas/layer"
	"github.com/gogpu/canvas/stroke"
	"github.com/gogpu/canvas/undo"
)

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

func newImage(t *testing.T, opts ...Option) *Image {
	t.Helper()
	img, err := NewImage(32, 32, opts...)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	t.Cleanup(img.Close)
	return img
}

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(img *Image) *recorder {
	r := &recorder{}
	img.Subscribe(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) take() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func fill(c color.Color) stroke.PaintFunc {
	return func(_ context.Context, data any, devs []*device.Device) (image.Rectangle, error) {
		r := data.(image.Rectangle)
		for _, d := range devs {
			d.FillColor(r, c)
		}
		return r, nil
	}
}

func paintRect(t *testing.T, img *Image, n *layer.Node, r image.Rectangle, c color.Color) {
	t.Helper()
	p, err := img.NewPaintStroke("fill", fill(c), n)
	if err != nil {
		t.Fatal(err)
	}
	id, err := img.StartStroke(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := img.AddJob(id, r); err != nil {
		t.Fatal(err)
	}
	if err := img.EndStroke(id); err != nil {
		t.Fatal(err)
	}
	if err := img.WaitForDone(); err != nil {
		t.Fatal(err)
	}
}

func pixel(img *Image, x, y int) color.RGBA {
	return img.Projection().PixelColor(x, y).(color.RGBA)
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewImage(t *testing.T) {
	img := newImage(t)
	if img.Bounds() != image.Rect(0, 0, 32, 32) {
		t.Errorf("Bounds() = %v", img.Bounds())
	}
	if !img.ColorSpace().Equal(colorspace.SRGB) {
		t.Errorf("ColorSpace() = %v, want sRGB", img.ColorSpace())
	}
	if img.Root().Kind() != layer.KindGroup || img.History() == nil {
		t.Error("image without root group or history")
	}
	dev := img.NewDevice()
	if dev.DefaultBounds().Bounds() != img.Bounds() {
		t.Errorf("device bounds = %v, want the image bounds", dev.DefaultBounds().Bounds())
	}
	dev.Release()

	for _, size := range []image.Point{{0, 10}, {10, -1}} {
		if _, err := NewImage(size.X, size.Y); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("NewImage(%v) error = %v, want ErrInvalidSize", size, err)
		}
	}
}

func TestNewImage_UndoHost(t *testing.T) {
	var pushed []string
	host := undo.HostFunc(func(cmd undo.Command) {
		cmd.Redo()
		pushed = append(pushed, undo.NameOf(cmd))
	})
	img := newImage(t, WithUndoHost(host))
	l := img.NewPaintLayer("paint")
	if err := img.AddNode(img.Root(), l, -1); err != nil {
		t.Fatal(err)
	}
	if img.History() != nil || img.Undo() {
		t.Error("built-in history used with a custom host")
	}
	if want := []string{"Add paint"}; !slices.Equal(pushed, want) {
		t.Errorf("pushed = %v, want %v", pushed, want)
	}
}

// ---------------------------------------------------------------------------
// Structure
// ---------------------------------------------------------------------------

func TestImage_AddRemoveMove(t *testing.T) {
	img := newImage(t)
	ev := record(img)
	a := img.NewPaintLayer("a")
	g := img.NewGroupLayer("g")
	if err := img.AddNode(img.Root(), a, -1); err != nil {
		t.Fatal(err)
	}
	if err := img.AddNode(img.Root(), g, -1); err != nil {
		t.Fatal(err)
	}
	if got := ev.take(); !slices.Equal(kinds(got), []EventKind{NodeAdded, NodeAdded}) || got[0].Node != a {
		t.Errorf("add events = %v", got)
	}

	if err := img.MoveNode(a, g, 0); err != nil {
		t.Fatal(err)
	}
	if a.Parent() != g {
		t.Fatal("MoveNode did not reparent")
	}
	if got := kinds(ev.take()); !slices.Equal(got, []EventKind{NodeRemoved, NodeAdded}) {
		t.Errorf("move events = %v", got)
	}

	if err := img.RemoveNode(g); err != nil {
		t.Fatal(err)
	}
	if got := ev.take(); len(got) != 2 || got[0].Node != g || got[1].Node != a || got[0].Kind != NodeRemoved {
		t.Errorf("remove events = %v, want the group and its child", got)
	}

	if !img.Undo() || g.Parent() != img.Root() {
		t.Fatal("undo did not restore the group")
	}
	if got := kinds(ev.take()); !slices.Equal(got, []EventKind{NodeAdded, NodeAdded}) {
		t.Errorf("undo events = %v", got)
	}
	img.Undo()
	if a.Parent() != img.Root() {
		t.Error("undo move did not restore the parent")
	}
	img.Redo()
	if a.Parent() != g {
		t.Error("redo move did not reparent")
	}
}

func TestImage_StructuralErrors(t *testing.T) {
	img := newImage(t)
	other := newImage(t)
	foreign := other.NewGroupLayer("foreign")
	_ = other.AddNode(other.Root(), foreign, -1)

	if err := img.AddNode(foreign, img.NewPaintLayer("x"), 0); !errors.Is(err, ErrForeignNode) {
		t.Errorf("AddNode(foreign parent) error = %v", err)
	}
	if err := img.RemoveNode(img.Root()); !errors.Is(err, ErrRootNode) {
		t.Errorf("RemoveNode(root) error = %v", err)
	}
	l := img.NewPaintLayer("l")
	_ = img.AddNode(img.Root(), l, 0)
	if err := img.AddNode(img.Root(), l, 0); !errors.Is(err, layer.ErrHasParent) {
		t.Errorf("AddNode(attached) error = %v", err)
	}
	if err := img.AddNode(l, img.NewPaintLayer("child"), 0); !errors.Is(err, layer.ErrNotAllowed) {
		t.Errorf("AddNode(under paint) error = %v", err)
	}
	if n := img.History().Len(); n != 1 {
		t.Errorf("history length = %d, failures must not be recorded", n)
	}
}

func TestImage_LockRefusesStrokes(t *testing.T) {
	img := newImage(t)
	l := img.NewPaintLayer("l")
	_ = img.AddNode(img.Root(), l, 0)
	p, _ := img.NewPaintStroke("fill", fill(red), l)

	img.Lock()
	if _, err := img.StartStroke(p); !errors.Is(err, stroke.ErrLocked) {
		t.Errorf("StartStroke while locked: error = %v", err)
	}
	// Structural operations nest inside an explicit lock.
	if err := img.AddNode(img.Root(), img.NewPaintLayer("m"), -1); err != nil {
		t.Errorf("AddNode while locked: %v", err)
	}
	img.Unlock()
	if img.Locked() {
		t.Fatal("image still locked")
	}
	if _, err := img.StartStroke(p); err != nil {
		t.Errorf("StartStroke after Unlock: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Strokes and projection
// ---------------------------------------------------------------------------

func TestImage_PaintStroke(t *testing.T) {
	img := newImage(t)
	l := img.NewPaintLayer("l")
	_ = img.AddNode(img.Root(), l, 0)
	ev := record(img)

	paintRect(t, img, l, image.Rect(0, 0, 8, 8), red)
	got := ev.take()
	if len(got) != 1 || got[0].Kind != ProjectionUpdated || got[0].Rect != image.Rect(0, 0, 8, 8) || got[0].Node != l {
		t.Errorf("stroke events = %v", got)
	}
	if px := pixel(img, 2, 2); px != red {
		t.Errorf("projection = %v, want red", px)
	}
	if px := pixel(img, 10, 10); px.A != 0 {
		t.Errorf("projection outside the stroke = %v, want transparent", px)
	}

	img.Undo()
	if px := pixel(img, 2, 2); px.A != 0 {
		t.Errorf("after undo projection = %v, want transparent", px)
	}
	img.Redo()
	if px := pixel(img, 2, 2); px != red {
		t.Errorf("after redo projection = %v, want red", px)
	}
}

func TestImage_NewPaintStrokeErrors(t *testing.T) {
	img := newImage(t)
	g := img.NewGroupLayer("g")
	_ = img.AddNode(img.Root(), g, 0)
	if _, err := img.NewPaintStroke("x", fill(red), g); !errors.Is(err, ErrNoOriginal) {
		t.Errorf("stroke on a group: error = %v", err)
	}
	if _, err := img.NewPaintStroke("x", fill(red), img.NewPaintLayer("detached")); !errors.Is(err, ErrForeignNode) {
		t.Errorf("stroke on a detached layer: error = %v", err)
	}
}

func TestImage_RequestUpdateAndRefresh(t *testing.T) {
	img := newImage(t)
	l := img.NewPaintLayer("l")
	_ = img.AddNode(img.Root(), l, 0)
	ev := record(img)

	if err := img.RequestUpdate(l, image.Rect(0, 0, 4, 4)); err != nil {
		t.Fatal(err)
	}
	if err := img.RefreshGraph(); err != nil {
		t.Fatal(err)
	}
	got := ev.take()
	if !slices.Equal(kinds(got), []EventKind{ProjectionUpdated, ProjectionUpdated}) {
		t.Fatalf("events = %v", got)
	}
	if got[1].Rect != img.Bounds() {
		t.Errorf("refresh rect = %v, want the image bounds", got[1].Rect)
	}
	if err := img.RequestUpdate(img.NewPaintLayer("detached"), img.Bounds()); !errors.Is(err, ErrForeignNode) {
		t.Errorf("RequestUpdate(detached) error = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Global selection
// ---------------------------------------------------------------------------

func TestImage_GlobalSelection(t *testing.T) {
	img := newImage(t)
	ev := record(img)
	if img.GlobalSelection() != nil || img.CanReselectGlobalSelection() {
		t.Fatal("new image has a selection")
	}
	if err := img.DeselectGlobalSelection(); !errors.Is(err, ErrNoSelection) {
		t.Errorf("Deselect without selection: error = %v", err)
	}
	if err := img.ReselectGlobalSelection(); !errors.Is(err, ErrNothingToReselect) {
		t.Errorf("Reselect without deselect: error = %v", err)
	}

	sel := img.NewSelection()
	sel.Select(image.Rect(0, 0, 10, 10), 255)
	if err := img.SetGlobalSelection(sel); err != nil {
		t.Fatal(err)
	}
	if img.GlobalSelection() != sel {
		t.Fatal("GlobalSelection() is not the selection set")
	}
	if got := kinds(ev.take()); !slices.Contains(got, SelectionChanged) {
		t.Errorf("set events = %v, want SelectionChanged", got)
	}

	if err := img.DeselectGlobalSelection(); err != nil {
		t.Fatal(err)
	}
	if img.GlobalSelection() != nil || !img.CanReselectGlobalSelection() {
		t.Fatal("deselect did not keep the selection for reselect")
	}
	if err := img.ReselectGlobalSelection(); err != nil {
		t.Fatal(err)
	}
	if img.GlobalSelection() != sel || img.CanReselectGlobalSelection() {
		t.Error("reselect did not restore the selection")
	}

	// Replacing drops the old mask from the tree.
	next := img.NewSelection()
	next.Select(image.Rect(5, 5, 20, 20), 255)
	if err := img.SetGlobalSelection(next); err != nil {
		t.Fatal(err)
	}
	if n := len(img.Root().Masks()); n != 1 {
		t.Errorf("root masks = %d, want 1", n)
	}

	img.Undo()
	if img.GlobalSelection() != sel {
		t.Error("undo of the replacement did not restore the previous selection")
	}
	img.Undo() // reselect
	if img.GlobalSelection() != nil || !img.CanReselectGlobalSelection() {
		t.Error("undo of reselect did not deselect")
	}
	img.Undo() // deselect
	if img.GlobalSelection() != sel || img.CanReselectGlobalSelection() {
		t.Error("undo of deselect did not restore the selection")
	}

	if err := img.SetGlobalSelection(nil); err != nil || img.GlobalSelection() != nil {
		t.Errorf("SetGlobalSelection(nil) = %v, selection %v", err, img.GlobalSelection())
	}
	if err := img.SetGlobalSelection(nil); err != nil {
		t.Errorf("SetGlobalSelection(nil) twice: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Color space
// ---------------------------------------------------------------------------

func TestImage_ConvertColorSpace(t *testing.T) {
	img := newImage(t)
	l := img.NewPaintLayer("l")
	g := img.NewGroupLayer("g")
	_ = img.AddNode(img.Root(), g, 0)
	_ = img.AddNode(g, l, 0)
	paintRect(t, img, l, image.Rect(0, 0, 8, 8), color.RGBA{R: 128, G: 64, A: 255})
	before := l.Original().Read(image.Rect(0, 0, 8, 8))
	ev := record(img)

	if err := img.ConvertColorSpace(colorspace.LinearRGB); err != nil {
		t.Fatal(err)
	}
	for _, n := range []*layer.Node{img.Root(), g, l} {
		if !n.ColorSpace().Equal(colorspace.LinearRGB) {
			t.Errorf("%s color space = %v, want linear", n.Name(), n.ColorSpace())
		}
	}
	if !img.ColorSpace().Equal(colorspace.LinearRGB) {
		t.Error("image color space not converted")
	}
	if got := kinds(ev.take()); !slices.Equal(got, []EventKind{ColorSpaceChanged}) {
		t.Errorf("events = %v", got)
	}
	if !img.Projection().ColorSpace().Equal(colorspace.LinearRGB) {
		t.Error("projection not rebuilt in the new space")
	}

	// Converting to the current space is a no-op.
	n := img.History().Len()
	if err := img.ConvertColorSpace(colorspace.LinearRGB); err != nil || img.History().Len() != n {
		t.Errorf("no-op conversion recorded: %v", err)
	}

	img.Undo()
	if !img.ColorSpace().Equal(colorspace.SRGB) || !l.ColorSpace().Equal(colorspace.SRGB) || !g.ColorSpace().Equal(colorspace.SRGB) {
		t.Fatal("undo did not restore sRGB")
	}
	if got := l.Original().Read(image.Rect(0, 0, 8, 8)); !bytes.Equal(got, before) {
		t.Error("undo did not restore the original pixels")
	}
}

// ---------------------------------------------------------------------------
// Merges
// ---------------------------------------------------------------------------

func TestImage_MergeDown(t *testing.T) {
	img := newImage(t)
	bottom := img.NewPaintLayer("bottom")
	top := img.NewPaintLayer("top")
	_ = img.AddNode(img.Root(), bottom, -1)
	_ = img.AddNode(img.Root(), top, -1)
	paintRect(t, img, bottom, image.Rect(0, 0, 16, 16), red)
	paintRect(t, img, top, image.Rect(8, 8, 24, 24), blue)
	want := img.Projection().Read(img.Bounds())
	ev := record(img)

	merged, err := img.MergeDown(top)
	if err != nil {
		t.Fatal(err)
	}
	if layers := img.Root().Layers(); len(layers) != 1 || layers[0] != merged {
		t.Fatalf("layers after merge = %v", layers)
	}
	if got := img.Projection().Read(img.Bounds()); !bytes.Equal(got, want) {
		t.Error("merge changed the projection")
	}
	got := ev.take()
	if !slices.Equal(kinds(got), []EventKind{NodeRemoved, NodeRemoved, NodeAdded}) || got[2].Node != merged {
		t.Errorf("merge events = %v", got)
	}

	img.Undo()
	if layers := img.Root().Layers(); len(layers) != 2 || layers[1] != top {
		t.Errorf("undo did not restore both layers: %v", layers)
	}
	if _, err := img.MergeDown(bottom); !errors.Is(err, layer.ErrNothingToMerge) {
		t.Errorf("MergeDown(bottom) error = %v", err)
	}
}

func TestImage_FlattenAndMergeMultiple(t *testing.T) {
	img := newImage(t)
	var ls []*layer.Node
	for i, c := range []color.Color{red, blue, red} {
		l := img.NewPaintLayer(string(rune('a' + i)))
		_ = img.AddNode(img.Root(), l, -1)
		paintRect(t, img, l, image.Rect(i*4, 0, i*4+8, 8), c)
		ls = append(ls, l)
	}
	want := img.Projection().Read(img.Bounds())

	merged, err := img.MergeMultiple(ls[0], ls[2])
	if err != nil {
		t.Fatal(err)
	}
	if merged.Name() != "c" || len(img.Root().Layers()) != 2 {
		t.Errorf("MergeMultiple result %q with %d layers", merged.Name(), len(img.Root().Layers()))
	}
	img.Undo()

	flat, err := img.FlattenImage()
	if err != nil {
		t.Fatal(err)
	}
	if flat.Name() != "Background" || len(img.Root().Layers()) != 1 {
		t.Fatalf("FlattenImage left %d layers", len(img.Root().Layers()))
	}
	if got := img.Projection().Read(img.Bounds()); !bytes.Equal(got, want) {
		t.Error("flatten changed the projection")
	}
	again, err := img.FlattenImage()
	if err != nil || again != flat {
		t.Errorf("second flatten = %v, %v, want the same layer", again, err)
	}
	if f, err := img.FlattenLayer(flat); err != nil || f != flat {
		t.Errorf("FlattenLayer(plain) = %v, %v", f, err)
	}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func TestEventQueue_FIFOAndUnsubscribe(t *testing.T) {
	var q eventQueue
	var got []EventKind
	unsubscribe := q.subscribe(func(e Event) {
		got = append(got, e.Kind)
		if e.Kind == NodeAdded {
			// Events pushed during delivery follow the queued ones.
			q.push(Event{Kind: ProjectionUpdated})
			q.flush()
		}
	})
	q.push(Event{Kind: NodeAdded}, Event{Kind: NodeRemoved})
	q.flush()
	if want := []EventKind{NodeAdded, NodeRemoved, ProjectionUpdated}; !slices.Equal(got, want) {
		t.Errorf("delivered %v, want %v", got, want)
	}

	unsubscribe()
	q.push(Event{Kind: SelectionChanged})
	q.flush()
	if len(got) != 3 {
		t.Errorf("delivered %v after unsubscribe", got)
	}
}

func TestEventKind_String(t *testing.T) {
	if NodeAdded.String() != "node-added" || EventKind(99).String() != "EventKind(99)" {
		t.Errorf("String() = %q, %q", NodeAdded.String(), EventKind(99).String())
	}
}
