package device

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/gogpu/canvas/colorspace"
)

// ToRGBA returns the pixels of r as premultiplied sRGB. It is the export
// side of the import/export contract and does not take part in
// transactions.
func (d *Device) ToRGBA(r image.Rectangle) (*image.RGBA, error) {
	if r.Empty() {
		return image.NewRGBA(r), nil
	}
	cs := d.ColorSpace()
	pix, err := colorspace.Convert(cs, colorspace.SRGB, d.Read(r), r.Dx()*r.Dy())
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", cs.ID(), err)
	}
	return &image.RGBA{Pix: pix, Stride: 4 * r.Dx(), Rect: r}, nil
}

// WriteImage stores img with its top-left corner at at, converting from
// sRGB to the device's color space.
func (d *Device) WriteImage(img image.Image, at image.Point) error {
	b := img.Bounds()
	if b.Empty() {
		return nil
	}
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	cs := d.ColorSpace()
	n := b.Dx() * b.Dy()
	pix, err := colorspace.Convert(colorspace.SRGB, cs, rgba.Pix[:n*4], n)
	if err != nil {
		return fmt.Errorf("import into %s: %w", cs.ID(), err)
	}
	return d.Write(image.Rectangle{Min: at, Max: at.Add(b.Size())}, pix)
}
