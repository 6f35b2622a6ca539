// Package color provides sRGB transfer curves and luminance weights for
// the built-in color spaces.
//
// The lookup tables give O(1) sRGB <-> linear conversion of 8-bit channels,
// replacing math.Pow calls in the per-pixel conversion loops.
//
// References:
//   - sRGB specification: https://www.w3.org/Graphics/Color/sRGB
package color

import "math"

// srgbToLinear8 maps an encoded sRGB byte to a linear byte.
var srgbToLinear8 [256]uint8

// linearToSRGB8 maps a linear byte to an encoded sRGB byte.
var linearToSRGB8 [256]uint8

func init() {
	for i := 0; i < 256; i++ {
		v := float64(i) / 255.0
		srgbToLinear8[i] = quantize(decode(v))
		linearToSRGB8[i] = quantize(encode(v))
	}
}

func decode(s float64) float64 {
	if s <= 0.04045 {
		return s / 12.92
	}
	return math.Pow((s+0.055)/1.055, 2.4)
}

func encode(l float64) float64 {
	if l <= 0.0031308 {
		return l * 12.92
	}
	return 1.055*math.Pow(l, 1.0/2.4) - 0.055
}

func quantize(v float64) uint8 {
	q := int(v*255.0 + 0.5)
	if q < 0 {
		q = 0
	}
	if q > 255 {
		q = 255
	}
	//nolint:gosec // G115: q is clamped to [0,255] range
	return uint8(q)
}

// SRGBToLinear8 converts an encoded sRGB channel to linear.
func SRGBToLinear8(s uint8) uint8 {
	return srgbToLinear8[s]
}

// LinearToSRGB8 converts a linear channel to encoded sRGB.
func LinearToSRGB8(l uint8) uint8 {
	return linearToSRGB8[l]
}

// SRGBToLinear converts an sRGB component in [0,1] to linear.
func SRGBToLinear(s float32) float32 {
	return float32(decode(float64(s)))
}

// LinearToSRGB converts a linear component in [0,1] to sRGB.
func LinearToSRGB(l float32) float32 {
	return float32(encode(float64(l)))
}

// Luminance returns the Rec. 709 luma of an 8-bit color using integer
// weights that sum to 256.
func Luminance(r, g, b uint8) uint8 {
	// 0.2126, 0.7152, 0.0722 scaled to 256.
	y := (54*uint32(r) + 183*uint32(g) + 19*uint32(b) + 128) >> 8
	if y > 255 {
		y = 255
	}
	return uint8(y)
}
