package layer

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/device"
	"github.com/gogpu/canvas/internal/blend"
)

// Compositor recalculates projections. It keeps no per-tree state and can
// be shared by several trees.
type Compositor struct {
	workers int
}

// CompositorOption configures a Compositor.
type CompositorOption func(*Compositor)

// WithWorkers limits how many sibling subtrees are recalculated at once.
func WithWorkers(n int) CompositorOption {
	return func(c *Compositor) {
		if n > 0 {
			c.workers = n
		}
	}
}

// NewCompositor creates a compositor. By default sibling subtrees are
// recalculated on GOMAXPROCS goroutines.
func NewCompositor(opts ...CompositorOption) *Compositor {
	c := &Compositor{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCompositor = NewCompositor()

// Recalculate brings the projections of n's subtree up to date.
func (c *Compositor) Recalculate(n *Node) error {
	return c.RecalculateContext(context.Background(), n)
}

// RecalculateContext is Recalculate with cancellation. Dirty areas of a
// cancelled or failed recalculation stay dirty.
func (c *Compositor) RecalculateContext(ctx context.Context, n *Node) error {
	return c.prepare(ctx, n)
}

func (c *Compositor) prepare(ctx context.Context, n *Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch n.kind {
	case KindPaint:
		return c.preparePaint(n)
	case KindGroup:
		return c.prepareGroup(ctx, n)
	}
	// Adjustments and masks have no surface of their own.
	n.takeDirty()
	return nil
}

func (c *Compositor) preparePaint(n *Node) error {
	r := n.takeDirty()
	if len(n.effectMasks()) == 0 {
		n.dropProjection()
		return nil
	}
	orig := n.Original()
	proj, fresh := n.ensureProjection()
	if fresh {
		r = r.Union(orig.ExactBounds()).Union(n.DefaultBounds().Bounds())
	}
	if r.Empty() {
		return nil
	}
	buf, err := c.masked(n, r, func(rr image.Rectangle) ([]byte, error) {
		return orig.Read(rr), nil
	})
	if err != nil {
		n.restoreDirty(r)
		return err
	}
	return proj.Write(r, buf)
}

// prepareChildren recalculates the visible layers of n concurrently.
func (c *Compositor) prepareChildren(ctx context.Context, n *Node) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, child := range n.Layers() {
		if !child.Visible() {
			continue
		}
		g.Go(func() error {
			return c.prepare(gctx, child)
		})
	}
	return g.Wait()
}

func (c *Compositor) prepareGroup(ctx context.Context, n *Node) error {
	if err := c.prepareChildren(ctx, n); err != nil {
		return err
	}
	r := n.takeDirty()
	if n.PassThrough() {
		n.dropProjection()
		return nil
	}
	proj, fresh := n.ensureProjection()
	if fresh {
		r = r.Union(n.ExactBounds())
	}
	if r.Empty() {
		return nil
	}
	buf, err := c.masked(n, r, func(rr image.Rectangle) ([]byte, error) {
		return c.compositeGroup(ctx, n, rr)
	})
	if err != nil {
		n.restoreDirty(r)
		return err
	}
	return proj.Write(r, buf)
}

// Render composites n's layers over r without touching n's projection.
// It is used by merges to rasterize a temporary group.
func (c *Compositor) Render(ctx context.Context, n *Node, r image.Rectangle) ([]byte, error) {
	if n.kind == KindPaint {
		return c.masked(n, r, func(rr image.Rectangle) ([]byte, error) {
			return n.Original().Read(rr), nil
		})
	}
	if err := c.prepareChildren(ctx, n); err != nil {
		return nil, err
	}
	return c.masked(n, r, func(rr image.Rectangle) ([]byte, error) {
		return c.compositeGroup(ctx, n, rr)
	})
}

// masked renders a node over the area its masks need and runs the mask
// chain down to r.
func (c *Compositor) masked(n *Node, r image.Rectangle, render func(image.Rectangle) ([]byte, error)) ([]byte, error) {
	masks := n.effectMasks()
	rects := make([]image.Rectangle, len(masks)+1)
	rects[len(masks)] = r
	for i := len(masks) - 1; i >= 0; i-- {
		need := rects[i+1]
		if f := masks[i].Filter(); masks[i].kind == KindFilterMask && f != nil {
			need = need.Union(f.NeedRect(need))
		}
		rects[i] = need
	}

	cur, err := render(rects[0])
	if err != nil {
		return nil, err
	}
	cs := n.ColorSpace()
	for i, m := range masks {
		cur, err = applyMask(m, cs, cur, rects[i], rects[i+1])
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// applyMask runs one mask over src and returns the pixels of out.
func applyMask(m *Node, cs colorspace.ColorSpace, src []byte, srcRect, out image.Rectangle) ([]byte, error) {
	buf := crop(src, srcRect, out, cs.PixelSize())
	mask := m.Selection().Device().Read(out)
	opacity := m.Opacity()
	switch m.kind {
	case KindTransparencyMask:
		for i, a := range mask {
			mask[i] = 255 - blend.MulDiv255(255-a, opacity)
		}
		cs.MultiplyAlpha(buf, mask, area(out))
	case KindFilterMask:
		f := m.Filter()
		if f == nil {
			break
		}
		filtered := make([]byte, len(buf))
		if err := f.Apply(filtered, out, src, srcRect, cs); err != nil {
			return nil, fmt.Errorf("filter mask %q: %w", m.Name(), err)
		}
		for i, a := range mask {
			mask[i] = blend.MulDiv255(a, opacity)
		}
		cs.Mix(buf, buf, filtered, mask, area(out))
	}
	return buf, nil
}

// compositeGroup blends n's visible layers over r in n's color space.
func (c *Compositor) compositeGroup(ctx context.Context, n *Node, r image.Rectangle) ([]byte, error) {
	cs := n.ColorSpace()
	layers := n.Layers()
	work := workRect(layers, r)
	acc := transparent(cs, area(work))
	if err := c.compositeInto(ctx, acc, work, cs, layers); err != nil {
		return nil, err
	}
	return crop(acc, work, r, cs.PixelSize()), nil
}

// workRect grows r by what the adjustment layers among layers need from
// the pixels below them.
func workRect(layers []*Node, r image.Rectangle) image.Rectangle {
	need := r
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		if !l.Visible() {
			continue
		}
		switch {
		case l.kind == KindAdjustment:
			if f := l.Filter(); f != nil {
				need = need.Union(f.NeedRect(need))
			}
		case l.kind == KindGroup && l.PassThrough():
			need = workRect(l.Layers(), need)
		}
	}
	return need
}

// compositeInto blends layers bottom-up into acc, which holds the pixels
// of work in cs.
func (c *Compositor) compositeInto(ctx context.Context, acc []byte, work image.Rectangle, cs colorspace.ColorSpace, layers []*Node) error {
	for _, l := range layers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !l.Visible() {
			continue
		}
		var err error
		switch {
		case l.kind == KindAdjustment:
			err = applyAdjustment(acc, work, cs, l)
		case l.kind == KindGroup && l.PassThrough():
			err = c.passThrough(ctx, acc, work, cs, l)
		default:
			err = blendLayer(acc, work, cs, l)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func blendLayer(acc []byte, work image.Rectangle, cs colorspace.ColorSpace, l *Node) error {
	pd := l.projectionDevice()
	if pd == nil {
		return nil
	}
	n := area(work)
	src, err := readAs(pd, work, cs)
	if err != nil {
		return fmt.Errorf("layer %q: %w", l.Name(), err)
	}
	var mask []byte
	if l.InheritAlpha() {
		mask = alphaOf(cs, acc, n)
	}
	cs.Composite(l.CompositeOp(), colorspace.CompositeParams{
		Dst:      acc,
		Src:      src,
		Mask:     mask,
		N:        n,
		Opacity:  l.Opacity(),
		Channels: l.Channels(),
	})
	return nil
}

// passThrough blends g's layers straight into acc, then pulls the result
// back toward the backdrop by the group's opacity and masks.
func (c *Compositor) passThrough(ctx context.Context, acc []byte, work image.Rectangle, cs colorspace.ColorSpace, g *Node) error {
	backdrop := slices.Clone(acc)
	if err := c.compositeInto(ctx, acc, work, cs, g.Layers()); err != nil {
		return err
	}
	n := area(work)
	for _, m := range g.effectMasks() {
		if m.kind != KindFilterMask {
			continue
		}
		out, err := applyMask(m, cs, acc, work, work)
		if err != nil {
			return err
		}
		copy(acc, out)
	}
	if weight := coverage(g, work); weight != nil {
		cs.Mix(acc, backdrop, acc, weight, n)
	}
	return nil
}

func applyAdjustment(acc []byte, work image.Rectangle, cs colorspace.ColorSpace, adj *Node) error {
	f := adj.Filter()
	if f == nil {
		return nil
	}
	filtered := make([]byte, len(acc))
	if err := f.Apply(filtered, work, acc, work, cs); err != nil {
		return fmt.Errorf("adjustment %q: %w", adj.Name(), err)
	}
	weight := coverage(adj, work)
	if weight == nil {
		copy(acc, filtered)
		return nil
	}
	cs.Mix(acc, acc, filtered, weight, area(work))
	return nil
}

// coverage returns per-pixel weights combining n's opacity with its
// visible transparency masks, or nil when every weight is 255.
func coverage(n *Node, r image.Rectangle) []byte {
	opacity := n.Opacity()
	var masks []*Node
	for _, m := range n.effectMasks() {
		if m.kind == KindTransparencyMask {
			masks = append(masks, m)
		}
	}
	if opacity == 255 && len(masks) == 0 {
		return nil
	}
	weight := make([]byte, area(r))
	for i := range weight {
		weight[i] = opacity
	}
	for _, m := range masks {
		mask := m.Selection().Device().Read(r)
		mo := m.Opacity()
		for i, a := range mask {
			weight[i] = blend.MulDiv255(weight[i], 255-blend.MulDiv255(255-a, mo))
		}
	}
	return weight
}

// readAs reads r from dev and converts the pixels to cs.
func readAs(dev *device.Device, r image.Rectangle, cs colorspace.ColorSpace) ([]byte, error) {
	src := dev.Read(r)
	from := dev.ColorSpace()
	if colorspace.Equal(from, cs) {
		return src, nil
	}
	return colorspace.Convert(from, cs, src, area(r))
}

func alphaOf(cs colorspace.ColorSpace, px []byte, n int) []byte {
	ps := cs.PixelSize()
	out := make([]byte, n)
	for i := range out {
		out[i] = cs.Alpha(px[i*ps : i*ps+ps])
	}
	return out
}

// transparent returns n transparent pixels of cs.
func transparent(cs colorspace.ColorSpace, n int) []byte {
	px := cs.TransparentPixel()
	buf := make([]byte, n*len(px))
	if slices.ContainsFunc(px, func(b byte) bool { return b != 0 }) {
		for i := 0; i < len(buf); i += len(px) {
			copy(buf[i:], px)
		}
	}
	return buf
}

// crop returns the pixels of r from src, which holds srcRect. r must lie
// inside srcRect. src itself is returned when the rectangles match.
func crop(src []byte, srcRect, r image.Rectangle, ps int) []byte {
	if r == srcRect {
		return src
	}
	out := make([]byte, area(r)*ps)
	row := r.Dx() * ps
	stride := srcRect.Dx() * ps
	for y := r.Min.Y; y < r.Max.Y; y++ {
		so := (y-srcRect.Min.Y)*stride + (r.Min.X-srcRect.Min.X)*ps
		copy(out[(y-r.Min.Y)*row:], src[so:so+row])
	}
	return out
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}
