// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package colorspace defines the pixel format contract used by paint
// devices and the compositor, and provides the built-in spaces.
//
// The engine never assumes a fixed pixel layout: pixel size, sentinel
// pixels, compositing and conversion all come from a ColorSpace. Identity
// is structural, so two independently constructed spaces describing the
// same format are Equal.
//
// Built-in spaces:
//
//   - RGBA8(ProfileSRGB), RGBA8(ProfileLinear): premultiplied 8-bit RGBA,
//     the same layout as image.RGBA
//   - Alpha8(): single 8-bit channel, used by selection masks
package colorspace

import (
	"errors"
	"image/color"
)

// ErrUnconvertible is returned when no conversion path exists between two
// color spaces.
var ErrUnconvertible = errors.New("colorspace: unconvertible color spaces")

// OpID names a composite operation.
type OpID string

// Composite operations supported by the built-in spaces.
const (
	OpOver          OpID = "normal"
	OpCopy          OpID = "copy"
	OpAdd           OpID = "add"
	OpSubtract      OpID = "subtract"
	OpMultiply      OpID = "multiply"
	OpScreen        OpID = "screen"
	OpOverlay       OpID = "overlay"
	OpDarken        OpID = "darken"
	OpLighten       OpID = "lighten"
	OpDifference    OpID = "difference"
	OpErase         OpID = "erase"
	OpDestinationIn OpID = "destination-in"
)

// Associative reports whether (a op b) op c == a op (b op c), which lets
// two layers with the same op be merged by blitting one onto the other.
func (op OpID) Associative() bool {
	return op == OpOver || op == OpAdd
}

// Channels is a set of channel flags for compositing. A cleared flag keeps
// the destination channel; a cleared alpha flag locks destination alpha.
type Channels uint8

// Channel flags.
const (
	ChannelRed Channels = 1 << iota
	ChannelGreen
	ChannelBlue
	ChannelAlpha

	// AllChannels enables every channel.
	AllChannels = ChannelRed | ChannelGreen | ChannelBlue | ChannelAlpha
)

// Has reports whether every flag in c2 is set.
func (c Channels) Has(c2 Channels) bool {
	return c&c2 == c2
}

// CompositeParams describes a run of N pixels to composite in place.
type CompositeParams struct {
	// Dst and Src hold N pixels each in the space's layout.
	Dst []byte
	Src []byte

	// Mask is optional; N coverage bytes scaling the source.
	Mask []byte

	N       int
	Opacity uint8

	// Channels restricts the written channels. Zero selects all.
	Channels Channels
}

// ColorSpace describes a pixel format and its compositing primitives.
type ColorSpace interface {
	// ID names the pixel layout, for example "RGBA8".
	ID() string

	// Profile names the color profile; empty for profile-less spaces.
	Profile() string

	// PixelSize returns the number of bytes per pixel.
	PixelSize() int

	// Equal reports structural equality.
	Equal(other ColorSpace) bool

	// TransparentPixel returns the fully transparent (unselected) pixel.
	TransparentPixel() []byte

	// FromColor returns the pixel for c.
	FromColor(c color.Color) []byte

	// ToColor returns px as a color.
	ToColor(px []byte) color.Color

	// Alpha returns the opacity of px.
	Alpha(px []byte) uint8

	// MultiplyAlpha scales the opacity of n pixels by alpha[i]/255.
	MultiplyAlpha(px, alpha []byte, n int)

	// Composite blends Src into Dst with op.
	Composite(op OpID, p CompositeParams)

	// Mix writes from + (to-from)*weight[i]/255 per pixel into dst.
	Mix(dst, from, to, weight []byte, n int)
}

// RGBAConverter is implemented by spaces that can convert to and from
// premultiplied sRGB RGBA8, the common conversion hub.
type RGBAConverter interface {
	// ToRGBA8 converts n pixels of src into premultiplied sRGB RGBA8.
	ToRGBA8(dst, src []byte, n int)

	// FromRGBA8 converts n premultiplied sRGB RGBA8 pixels into dst.
	FromRGBA8(dst, src []byte, n int)
}

// Equal reports whether a and b describe the same space. Nil spaces are
// only equal to each other.
func Equal(a, b ColorSpace) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// Convert converts n pixels from one space to another. Equal spaces copy.
func Convert(from, to ColorSpace, src []byte, n int) ([]byte, error) {
	if from.Equal(to) {
		out := make([]byte, n*from.PixelSize())
		copy(out, src)
		return out, nil
	}
	fc, ok1 := from.(RGBAConverter)
	tc, ok2 := to.(RGBAConverter)
	if !ok1 || !ok2 {
		return nil, ErrUnconvertible
	}
	hub := make([]byte, n*4)
	fc.ToRGBA8(hub, src, n)
	if srgb, ok := to.(rgba8); ok && srgb.profile == ProfileSRGB {
		return hub, nil
	}
	out := make([]byte, n*to.PixelSize())
	tc.FromRGBA8(out, hub, n)
	return out, nil
}

// CanConvert reports whether Convert can succeed between the spaces.
func CanConvert(from, to ColorSpace) bool {
	if from.Equal(to) {
		return true
	}
	_, ok1 := from.(RGBAConverter)
	_, ok2 := to.(RGBAConverter)
	return ok1 && ok2
}

// mix is the byte-wise interpolation shared by the built-in spaces.
func mix(dst, from, to, weight []byte, n, pixelSize int) {
	for i := 0; i < n; i++ {
		w := weight[i]
		off := i * pixelSize
		for c := 0; c < pixelSize; c++ {
			dst[off+c] = lerp(from[off+c], to[off+c], w)
		}
	}
}
