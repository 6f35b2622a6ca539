// Command canvasdemo builds a layered image with strokes, masks and an
// adjustment layer, merges part of it and saves the projection as PNG.
package main

import (
	"context"
	"flag"
	"image"
	"image/color"
	"image/png"
	"log"
	"log/slog"
	"math"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/canvas"
	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/device"
	"github.com/gogpu/canvas/filter"
	"github.com/gogpu/canvas/layer"
	"github.com/gogpu/canvas/selection"
	"github.com/gogpu/canvas/stroke"
)

func main() {
	var (
		width   = flag.Int("width", 512, "image width")
		height  = flag.Int("height", 384, "image height")
		output  = flag.String("output", "canvas.png", "output file")
		config  = flag.String("config", "", "TOML configuration file")
		lod     = flag.Int("lod", -1, "preview level of detail, overriding the config")
		verbose = flag.Bool("v", false, "log debug diagnostics to stderr")
	)
	flag.Parse()

	if *verbose {
		canvas.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	cfg := canvas.DefaultConfig()
	if *config != "" {
		var err error
		if cfg, err = canvas.LoadConfig(*config); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *lod >= 0 {
		cfg.LevelOfDetail = *lod
	}

	reg := prometheus.NewRegistry()
	img, err := canvas.NewImage(*width, *height, canvas.WithConfig(cfg), canvas.WithRegisterer(reg))
	if err != nil {
		log.Fatalf("Failed to create image: %v", err)
	}
	defer img.Close()

	img.Subscribe(func(e canvas.Event) {
		if e.Kind != canvas.ProjectionUpdated {
			canvas.Logger().Debug("canvasdemo: event", "kind", e.Kind, "node", nodeName(e.Node))
		}
	})

	if err := build(img); err != nil {
		log.Fatalf("Failed to build image: %v", err)
	}

	rgba, err := img.Projection().ToRGBA(img.Bounds())
	if err != nil {
		log.Fatalf("Failed to export: %v", err)
	}
	if err := save(*output, rgba); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}

	logMetrics(reg)
	log.Printf("Demo saved to %s (%dx%d, %d layers)\n", *output, *width, *height, len(img.Root().Layers()))
}

func build(img *canvas.Image) error {
	b := img.Bounds()

	bg := img.NewPaintLayer("Background")
	if err := img.AddNode(img.Root(), bg, -1); err != nil {
		return err
	}
	if err := paint(img, "gradient", gradient(b), []any{b}, bg); err != nil {
		return err
	}

	// Three overlapping dabs in a group, screened together.
	group := img.NewGroupLayer("Dabs", layer.WithCompositeOp(colorspace.OpScreen))
	if err := img.AddNode(img.Root(), group, -1); err != nil {
		return err
	}
	cx, cy := b.Dx()/2, b.Dy()/2
	r := min(b.Dx(), b.Dy()) / 4
	dabs := []dab{
		{center: image.Pt(cx-r/2, cy-r/3), radius: r, color: color.RGBA{R: 230, G: 60, B: 60, A: 230}},
		{center: image.Pt(cx+r/2, cy-r/3), radius: r, color: color.RGBA{R: 60, G: 200, B: 60, A: 230}},
		{center: image.Pt(cx, cy+r/2), radius: r, color: color.RGBA{R: 60, G: 80, B: 230, A: 230}},
	}
	var layers []*layer.Node
	for i, d := range dabs {
		l := img.NewPaintLayer("Dab " + string(rune('A'+i)))
		if err := img.AddNode(group, l, -1); err != nil {
			return err
		}
		if err := paint(img, "dab", paintDab, []any{d}, l); err != nil {
			return err
		}
		layers = append(layers, l)
	}

	// Fade the top dab towards its lower half.
	sel := img.NewSelection()
	sel.SetShapes([]selection.Shape{selection.EllipseShape(image.Rect(cx-r, cy-r/2, cx+r, cy+r*2))})
	if err := img.AddNode(layers[2], layer.NewTransparencyMask("Fade", sel, layer.WithOpacity(200)), -1); err != nil {
		return err
	}

	// Desaturate everything composited below the adjustment.
	adj := layer.NewAdjustment("Desaturate", img.ColorSpace(), filter.Saturation(0.4), layer.WithBounds(img))
	if err := img.AddNode(img.Root(), adj, -1); err != nil {
		return err
	}

	if _, err := img.MergeDown(layers[1]); err != nil {
		return err
	}

	global := img.NewSelection()
	global.SetShapes([]selection.Shape{selection.RectShape(b.Inset(r / 2))})
	return img.SetGlobalSelection(global)
}

// paint runs one paint stroke with a job per data item.
func paint(img *canvas.Image, name string, fn stroke.PaintFunc, jobs []any, n *layer.Node) error {
	p, err := img.NewPaintStroke(name, fn, n)
	if err != nil {
		return err
	}
	id, err := img.StartStroke(p)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := img.AddJob(id, j); err != nil {
			return err
		}
	}
	if err := img.EndStroke(id); err != nil {
		return err
	}
	return img.WaitForDone()
}

func gradient(b image.Rectangle) stroke.PaintFunc {
	return func(ctx context.Context, data any, devs []*device.Device) (image.Rectangle, error) {
		level := stroke.LevelOfDetail(ctx)
		r := device.ScaleRect(data.(image.Rectangle), level)
		full := device.ScaleRect(b, level)
		for _, dev := range devs {
			cs := dev.ColorSpace()
			for y := r.Min.Y; y < r.Max.Y; y++ {
				t := float64(y-full.Min.Y) / float64(max(full.Dy(), 1))
				c := color.RGBA{R: uint8(25 + t*100), G: uint8(50 + t*75), B: uint8(100 + t*50), A: 255}
				dev.Fill(image.Rect(r.Min.X, y, r.Max.X, y+1), cs.FromColor(c))
			}
		}
		return r, nil
	}
}

type dab struct {
	center image.Point
	radius int
	color  color.RGBA
}

// paintDab composites a soft round dab over the device.
func paintDab(ctx context.Context, data any, devs []*device.Device) (image.Rectangle, error) {
	d := data.(dab)
	level := stroke.LevelOfDetail(ctx)
	scale := float64(int(1) << level)
	cx, cy := float64(d.center.X)/scale, float64(d.center.Y)/scale
	radius := float64(d.radius) / scale
	r := image.Rect(int(cx-radius)-1, int(cy-radius)-1, int(cx+radius)+2, int(cy+radius)+2)

	n := r.Dx() * r.Dy()
	mask := make([]byte, n)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dist := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			cov := math.Min(math.Max(radius-dist, 0), 1)
			mask[(y-r.Min.Y)*r.Dx()+(x-r.Min.X)] = uint8(cov * 255)
		}
	}
	for _, dev := range devs {
		cs := dev.ColorSpace()
		px := cs.FromColor(d.color)
		src := make([]byte, 0, n*len(px))
		for range n {
			src = append(src, px...)
		}
		dst := dev.Read(r)
		cs.Composite(colorspace.OpOver, colorspace.CompositeParams{Dst: dst, Src: src, Mask: mask, N: n, Opacity: 255})
		if err := dev.Write(r, dst); err != nil {
			return image.Rectangle{}, err
		}
	}
	return r, nil
}

func save(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func logMetrics(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		canvas.Logger().Warn("canvasdemo: gather metrics", "err", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				canvas.Logger().Info("canvasdemo: metric", "name", mf.GetName(), "value", c.GetValue())
			}
		}
	}
}

func nodeName(n *layer.Node) string {
	if n == nil {
		return ""
	}
	return n.Name()
}
