package canvas

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/canvas/device"
	"github.com/gogpu/canvas/layer"
	"github.com/gogpu/canvas/stroke"
	"github.com/gogpu/canvas/undo"
)

// ErrNoOriginal is returned when a paint stroke targets a node without
// pixels of its own.
var ErrNoOriginal = errors.New("canvas: node has no original device")

// StartStroke queues a stroke on the image scheduler.
func (img *Image) StartStroke(st stroke.Strategy) (stroke.ID, error) {
	return img.sched.StartStroke(st)
}

// AddJob queues a job for the stroke.
func (img *Image) AddJob(id stroke.ID, data any, opts ...stroke.JobOption) error {
	return img.sched.AddJob(id, data, opts...)
}

// EndStroke ends the stroke after its queued jobs.
func (img *Image) EndStroke(id stroke.ID) error {
	return img.sched.EndStroke(id)
}

// CancelStroke rolls the stroke back.
func (img *Image) CancelStroke(id stroke.ID) error {
	return img.sched.CancelStroke(id)
}

// WaitForDone waits for every queued stroke job, then delivers pending
// events. It returns the errors of strokes that failed.
func (img *Image) WaitForDone() error {
	err := img.sched.WaitForDone()
	img.events.flush()
	return err
}

// SetDesiredLevelOfDetail requests preview strokes at level.
func (img *Image) SetDesiredLevelOfDetail(level int) {
	img.sched.SetDesiredLevelOfDetail(level)
}

// SetLevelOfDetailBlocked suppresses preview strokes while blocked.
func (img *Image) SetLevelOfDetailBlocked(blocked bool) {
	img.sched.SetLevelOfDetailBlocked(blocked)
}

// PaintTarget is a node painted by a paint stroke, with optional
// interstroke data.
type PaintTarget struct {
	Node        *layer.Node
	Interstroke device.InterstrokeFactory
	Continued   bool
}

// NewPaintStroke returns a stroke painting the original devices of nodes.
// Its command goes to the image's undo host and every job reports a
// ProjectionUpdated event.
func (img *Image) NewPaintStroke(name string, paint stroke.PaintFunc, nodes ...*layer.Node) (*stroke.PaintStrategy, error) {
	targets := make([]PaintTarget, len(nodes))
	for i, n := range nodes {
		targets[i] = PaintTarget{Node: n}
	}
	return img.NewPaintStrokeTargets(name, paint, targets...)
}

// NewPaintStrokeTargets is NewPaintStroke with interstroke data per target.
func (img *Image) NewPaintStrokeTargets(name string, paint stroke.PaintFunc, targets ...PaintTarget) (*stroke.PaintStrategy, error) {
	ts := make([]stroke.Target, len(targets))
	for i, t := range targets {
		if err := img.owns(t.Node); err != nil {
			return nil, err
		}
		dev := t.Node.Original()
		if dev == nil {
			return nil, fmt.Errorf("%w: %q", ErrNoOriginal, t.Node.Name())
		}
		ts[i] = stroke.Target{Device: dev, Interstroke: t.Interstroke, Continued: t.Continued}
	}
	var node *layer.Node
	if len(targets) > 0 {
		node = targets[0].Node
	}
	dirty := func(r image.Rectangle) {
		img.events.push(Event{Kind: ProjectionUpdated, Node: node, Rect: r})
	}
	return stroke.NewPaintStrategy(name, img.host, paint, ts, stroke.WithDirtyCallback(dirty)), nil
}

func (img *Image) merger() *layer.Merger {
	return layer.NewMerger(img.compositor, layer.WithImageColorSpace(img.ColorSpace()))
}

type mergeFunc func(ctx context.Context, m *layer.Merger) (undo.Command, *layer.Node, error)

func (img *Image) merge(nodes []*layer.Node, fn mergeFunc) (*layer.Node, error) {
	var result *layer.Node
	err := img.structural(func() (undo.Command, error) {
		for _, n := range nodes {
			if err := img.owns(n); err != nil {
				return nil, err
			}
		}
		cmd, res, err := fn(context.Background(), img.merger())
		if err != nil {
			return nil, err
		}
		result = res
		return cmd, nil
	})
	return result, err
}

// MergeDown merges n into the layer below it and returns the merged layer.
func (img *Image) MergeDown(n *layer.Node) (*layer.Node, error) {
	return img.merge([]*layer.Node{n}, func(ctx context.Context, m *layer.Merger) (undo.Command, *layer.Node, error) {
		return m.MergeDown(ctx, n)
	})
}

// MergeMultiple merges sibling layers into one.
func (img *Image) MergeMultiple(nodes ...*layer.Node) (*layer.Node, error) {
	return img.merge(nodes, func(ctx context.Context, m *layer.Merger) (undo.Command, *layer.Node, error) {
		return m.MergeMultiple(ctx, nodes)
	})
}

// FlattenLayer bakes n's masks and children into a single paint layer.
func (img *Image) FlattenLayer(n *layer.Node) (*layer.Node, error) {
	return img.merge([]*layer.Node{n}, func(ctx context.Context, m *layer.Merger) (undo.Command, *layer.Node, error) {
		return m.FlattenLayer(ctx, n)
	})
}

// FlattenImage replaces every layer with one paint layer.
func (img *Image) FlattenImage() (*layer.Node, error) {
	return img.merge(nil, func(ctx context.Context, m *layer.Merger) (undo.Command, *layer.Node, error) {
		return m.FlattenImage(ctx, img.root)
	})
}
