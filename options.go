package canvas

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/layer"
	"github.com/gogpu/canvas/undo"
)

// Option configures an Image during creation.
//
// Example:
//
//	cfg, err := canvas.LoadConfig("canvas.toml")
//	...
//	img, err := canvas.NewImage(800, 600,
//		canvas.WithConfig(cfg),
//		canvas.WithWorkers(2),
//	)
//
// Options apply in order, so WithConfig replaces the fields set by options
// before it.
type Option func(*options)

type options struct {
	cfg        Config
	cs         colorspace.ColorSpace
	host       undo.Host
	compositor *layer.Compositor
	registerer prometheus.Registerer
	tracer     trace.TracerProvider
}

func defaultOptions() options {
	return options{cfg: DefaultConfig()}
}

// WithConfig sets every tunable from cfg.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithWorkers sets the number of stroke and compositor workers.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.cfg.Workers = n
	}
}

// WithColorSpace sets the image color space, overriding the configured
// one.
func WithColorSpace(cs colorspace.ColorSpace) Option {
	return func(o *options) {
		o.cs = cs
	}
}

// WithUndoHost sends every command to h instead of the built-in history.
// Image.Undo and Image.Redo then report false.
func WithUndoHost(h undo.Host) Option {
	return func(o *options) {
		o.host = h
	}
}

// WithCompositor sets the compositor of the layer tree.
func WithCompositor(c *layer.Compositor) Option {
	return func(o *options) {
		o.compositor = c
	}
}

// WithRegisterer registers the stroke metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTracerProvider sets the provider of stroke spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}
