// Package blend provides premultiplied 8-bit compositing math.
//
// All values are premultiplied alpha in the range 0-255. The div255 family
// avoids integer division using Alvy Ray Smith's shift formula, which is
// exact for every product of two bytes. Exactness matters here: compositing
// over a transparent backdrop and full-opacity scaling must be identities
// so that fast and generic merge paths agree byte for byte.
//
// References:
//   - Alvy Ray Smith's technical memos: http://alvyray.com/Memos/
//   - W3C Compositing and Blending Level 1: https://www.w3.org/TR/compositing-1/
package blend

// div255 divides x by 255 with rounding, exactly for x <= 255*255.
//
// Formula: ((x + 128) + ((x + 128) >> 8)) >> 8
func div255(x uint32) uint32 {
	t := x + 128
	return (t + (t >> 8)) >> 8
}

// MulDiv255 returns a*b/255 rounded to nearest.
func MulDiv255(a, b byte) byte {
	return byte(div255(uint32(a) * uint32(b)))
}

// AddClamp adds two bytes and clamps to 255.
func AddClamp(a, b byte) byte {
	sum := uint16(a) + uint16(b)
	if sum > 255 {
		return 255
	}
	return byte(sum)
}

// SubClamp subtracts b from a, clamping to 0.
func SubClamp(a, b byte) byte {
	if b >= a {
		return 0
	}
	return a - b
}

// Lerp interpolates from a to b by t/255.
func Lerp(a, b, t byte) byte {
	if t == 0 {
		return a
	}
	if t == 255 {
		return b
	}
	if b >= a {
		return a + MulDiv255(b-a, t)
	}
	return a - MulDiv255(a-b, t)
}

// Unpremultiply returns c/a scaled to 0-255.
func Unpremultiply(c, a byte) byte {
	if a == 0 {
		return 0
	}
	if c >= a {
		return 255
	}
	return byte((uint32(c)*255 + uint32(a)/2) / uint32(a))
}

func minByte(a, b byte) byte {
	if a < b {
		return a
	}
	return b
}

func maxByte(a, b byte) byte {
	if a > b {
		return a
	}
	return b
}

func absDiff(a, b byte) byte {
	if a > b {
		return a - b
	}
	return b - a
}
