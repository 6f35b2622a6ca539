// Package canvas is a layered raster image engine.
//
// # Overview
//
// An [Image] owns a tree of layers and masks, a stroke scheduler and an
// undo host. Pixels live in tiled copy-on-write devices; every edit runs
// inside a transaction that produces an undo command. Groups composite
// their children into projections, which are recomputed lazily from dirty
// rectangles.
//
// # Quick Start
//
//	img, err := canvas.NewImage(512, 512)
//	if err != nil {
//		return err
//	}
//	defer img.Close()
//
//	bg := img.NewPaintLayer("Background")
//	_ = img.AddNode(img.Root(), bg, 0)
//
//	p, _ := img.NewPaintStroke("fill", fill, bg)
//	id, _ := img.StartStroke(p)
//	_ = img.AddJob(id, image.Rect(0, 0, 512, 512))
//	_ = img.EndStroke(id)
//	_ = img.WaitForDone()
//
//	rgba, _ := img.Projection().ToRGBA(img.Bounds())
//
// # Concurrency
//
// Strokes run on the scheduler's workers. Structural edits (adding,
// removing and moving nodes, the global selection, color space conversion
// and merges) lock the image: they wait for the stroke barrier, and new
// strokes are refused with [stroke.ErrLocked] until they return.
//
// # Architecture
//
// The engine is organized into:
//   - canvas: Image, events, configuration and the logger
//   - device: tiled devices, transactions, interstroke payloads, frames
//   - selection: selection masks and their outlines
//   - layer: the node tree, the compositor and merges
//   - stroke: the stroke scheduler and paint strokes
//   - undo: the command contract and a history store
//   - colorspace, filter: pixel formats, blend ops and filters
//
// # Logging
//
// canvas is silent by default. See [SetLogger].
package canvas
