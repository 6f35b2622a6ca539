package colorspace

import (
	"image/color"
	"slices"

	"github.com/gogpu/canvas/internal/blend"
	icolor "github.com/gogpu/canvas/internal/color"
)

// Profile names for RGBA8.
const (
	ProfileSRGB   = "sRGB"
	ProfileLinear = "linear"
)

// rgba8 is premultiplied 8-bit RGBA.
type rgba8 struct {
	profile string
}

// RGBA8 returns the premultiplied 8-bit RGBA space with the given profile.
// Unknown profiles are treated as sRGB for conversion purposes.
func RGBA8(profile string) ColorSpace {
	return rgba8{profile: profile}
}

// SRGB is RGBA8 with the sRGB profile.
var SRGB = RGBA8(ProfileSRGB)

// LinearRGB is RGBA8 with a linear transfer curve.
var LinearRGB = RGBA8(ProfileLinear)

func (s rgba8) ID() string      { return "RGBA8" }
func (s rgba8) Profile() string { return s.profile }
func (s rgba8) PixelSize() int  { return 4 }

func (s rgba8) Equal(other ColorSpace) bool {
	return other != nil && other.ID() == s.ID() && other.Profile() == s.profile
}

func (s rgba8) TransparentPixel() []byte {
	return []byte{0, 0, 0, 0}
}

func (s rgba8) FromColor(c color.Color) []byte {
	r, g, b, a := c.RGBA()
	px := []byte{byte(r >> 8), byte(g >> 8), byte(b >> 8), byte(a >> 8)}
	if s.linear() {
		out := make([]byte, 4)
		s.FromRGBA8(out, px, 1)
		return out
	}
	return px
}

func (s rgba8) ToColor(px []byte) color.Color {
	p := px
	if s.linear() {
		p = make([]byte, 4)
		s.ToRGBA8(p, px, 1)
	}
	return color.RGBA{R: p[0], G: p[1], B: p[2], A: p[3]}
}

func (s rgba8) Alpha(px []byte) uint8 {
	return px[3]
}

func (s rgba8) MultiplyAlpha(px, alpha []byte, n int) {
	for i := 0; i < n; i++ {
		a := alpha[i]
		if a == 255 {
			continue
		}
		p := px[i*4 : i*4+4]
		p[0] = blend.MulDiv255(p[0], a)
		p[1] = blend.MulDiv255(p[1], a)
		p[2] = blend.MulDiv255(p[2], a)
		p[3] = blend.MulDiv255(p[3], a)
	}
}

func (s rgba8) Composite(op OpID, p CompositeParams) {
	blend.Composite(blend.Params{
		Dst:      p.Dst,
		Src:      p.Src,
		Mask:     p.Mask,
		N:        p.N,
		Opacity:  p.Opacity,
		Channels: blend.Channels(p.Channels),
	}, blendMode(op))
}

func (s rgba8) Mix(dst, from, to, weight []byte, n int) {
	mix(dst, from, to, weight, n, 4)
}

func (s rgba8) linear() bool {
	return s.profile == ProfileLinear
}

// ToRGBA8 converts to premultiplied sRGB.
func (s rgba8) ToRGBA8(dst, src []byte, n int) {
	if !s.linear() {
		copy(dst, src[:n*4])
		return
	}
	recode(dst, src, n, icolor.LinearToSRGB8)
}

// FromRGBA8 converts from premultiplied sRGB.
func (s rgba8) FromRGBA8(dst, src []byte, n int) {
	if !s.linear() {
		copy(dst, src[:n*4])
		return
	}
	recode(dst, src, n, icolor.SRGBToLinear8)
}

// recode applies a transfer curve to unpremultiplied color channels.
func recode(dst, src []byte, n int, curve func(uint8) uint8) {
	for i := 0; i < n; i++ {
		p := src[i*4 : i*4+4]
		q := dst[i*4 : i*4+4]
		a := p[3]
		if a == 0 {
			clear(q)
			continue
		}
		for c := 0; c < 3; c++ {
			q[c] = blend.MulDiv255(curve(blend.Unpremultiply(p[c], a)), a)
		}
		q[3] = a
	}
}

var opModes = map[OpID]blend.Mode{
	OpOver:          blend.ModeNormal,
	OpCopy:          blend.ModeCopy,
	OpAdd:           blend.ModeAdd,
	OpSubtract:      blend.ModeSubtract,
	OpMultiply:      blend.ModeMultiply,
	OpScreen:        blend.ModeScreen,
	OpOverlay:       blend.ModeOverlay,
	OpDarken:        blend.ModeDarken,
	OpLighten:       blend.ModeLighten,
	OpDifference:    blend.ModeDifference,
	OpErase:         blend.ModeErase,
	OpDestinationIn: blend.ModeDestinationIn,
}

// blendMode maps an op to its blend function; unknown ops composite over.
func blendMode(op OpID) blend.Mode {
	if m, ok := opModes[op]; ok {
		return m
	}
	return blend.ModeNormal
}

// Ops returns the composite operations the built-in spaces implement,
// sorted by name.
func Ops() []OpID {
	ops := make([]OpID, 0, len(opModes))
	for op := range opModes {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

func lerp(a, b, t byte) byte {
	return blend.Lerp(a, b, t)
}
