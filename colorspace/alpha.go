package colorspace

import (
	"image/color"

	"github.com/gogpu/canvas/internal/blend"
	icolor "github.com/gogpu/canvas/internal/color"
)

// alpha8 is a single 8-bit coverage channel.
type alpha8 struct{}

// Alpha8 returns the single-channel space used by selection masks.
// 0 is unselected, 255 fully selected.
func Alpha8() ColorSpace {
	return alpha8{}
}

func (alpha8) ID() string      { return "ALPHA8" }
func (alpha8) Profile() string { return "" }
func (alpha8) PixelSize() int  { return 1 }

func (alpha8) Equal(other ColorSpace) bool {
	return other != nil && other.ID() == "ALPHA8"
}

func (alpha8) TransparentPixel() []byte {
	return []byte{0}
}

// FromColor maps c to its luminance, so gray colors round-trip.
func (alpha8) FromColor(c color.Color) []byte {
	r, g, b, _ := c.RGBA()
	return []byte{icolor.Luminance(byte(r>>8), byte(g>>8), byte(b>>8))}
}

func (alpha8) ToColor(px []byte) color.Color {
	return color.Gray{Y: px[0]}
}

func (alpha8) Alpha(px []byte) uint8 {
	return px[0]
}

func (alpha8) MultiplyAlpha(px, alpha []byte, n int) {
	for i := 0; i < n; i++ {
		px[i] = blend.MulDiv255(px[i], alpha[i])
	}
}

func (alpha8) Composite(op OpID, p CompositeParams) {
	blend.CompositeAlpha(p.Dst, p.Src, p.Mask, p.N, p.Opacity, blendMode(op))
}

func (alpha8) Mix(dst, from, to, weight []byte, n int) {
	mix(dst, from, to, weight, n, 1)
}

// ToRGBA8 expands coverage to opaque gray.
func (alpha8) ToRGBA8(dst, src []byte, n int) {
	for i := 0; i < n; i++ {
		v := src[i]
		dst[i*4], dst[i*4+1], dst[i*4+2], dst[i*4+3] = v, v, v, 255
	}
}

// FromRGBA8 takes the luminance of the premultiplied color.
func (alpha8) FromRGBA8(dst, src []byte, n int) {
	for i := 0; i < n; i++ {
		p := src[i*4 : i*4+4]
		dst[i] = icolor.Luminance(p[0], p[1], p[2])
	}
}
