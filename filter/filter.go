// Package filter provides the pixel filters adjustment layers and filter
// masks apply:
//   - Color matrix transformations (brightness, contrast, saturation, ...)
//   - Gaussian blur (separable, cached kernels)
//
// A Filter works on row-major pixel buffers of any color space. Filters
// that need RGBA work through the premultiplied sRGB hub when the space
// stores something else.
package filter

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/device"
)

// ErrUnsupported is returned when a filter cannot process a color space.
var ErrUnsupported = errors.New("filter: unsupported color space")

// Filter transforms pixels.
type Filter interface {
	// Name identifies the filter.
	Name() string

	// NeedRect returns the source area needed to produce r.
	NeedRect(r image.Rectangle) image.Rectangle

	// Apply writes the filtered pixels of dstRect into dst. src holds the
	// pixels of srcRect, which contains NeedRect(dstRect). Both buffers
	// hold cs pixels, row-major without padding.
	Apply(dst []byte, dstRect image.Rectangle, src []byte, srcRect image.Rectangle, cs colorspace.ColorSpace) error
}

// Run reads the pixels f needs from dev and returns the filtered pixels
// of r in dev's color space.
func Run(f Filter, dev *device.Device, r image.Rectangle) ([]byte, error) {
	cs := dev.ColorSpace()
	need := f.NeedRect(r).Union(r)
	src := dev.Read(need)
	dst := make([]byte, r.Dx()*r.Dy()*cs.PixelSize())
	if err := f.Apply(dst, r, src, need, cs); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	return dst, nil
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

// applyRGBA runs fn on premultiplied RGBA8 buffers, converting through
// sRGB when cs is not an RGBA8 space.
func applyRGBA(cs colorspace.ColorSpace, dst []byte, dstRect image.Rectangle, src []byte, srcRect image.Rectangle, fn func(dst, src []byte)) error {
	if cs.ID() == colorspace.SRGB.ID() {
		fn(dst, src)
		return nil
	}
	s, err := colorspace.Convert(cs, colorspace.SRGB, src, area(srcRect))
	if err != nil {
		return fmt.Errorf("%s: %w", cs.ID(), ErrUnsupported)
	}
	d := make([]byte, area(dstRect)*4)
	fn(d, s)
	out, err := colorspace.Convert(colorspace.SRGB, cs, d, area(dstRect))
	if err != nil {
		return fmt.Errorf("%s: %w", cs.ID(), ErrUnsupported)
	}
	copy(dst, out)
	return nil
}

// clampUint8 clamps a float32 to [0, 255] and rounds to nearest.
func clampUint8(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
