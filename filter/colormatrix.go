package filter

import (
	"image"
	"math"

	"github.com/gogpu/canvas/colorspace"
)

// ColorMatrix applies a 4x5 color transformation matrix to every pixel.
// The transformation is:
//
//	[R']   [a00 a01 a02 a03 a04]   [R]
//	[G'] = [a10 a11 a12 a13 a14] * [G]
//	[B']   [a20 a21 a22 a23 a24]   [B]
//	[A']   [a30 a31 a32 a33 a34]   [A]
//	                               [1]
//
// The fifth column provides bias values. Colors are straight (not
// premultiplied) in [0, 255] during the transformation.
type ColorMatrix struct {
	// Label names the adjustment.
	Label string

	// Matrix is the 4x5 matrix in row-major order.
	Matrix [20]float32
}

// NewColorMatrix creates a color matrix filter.
func NewColorMatrix(label string, matrix [20]float32) *ColorMatrix {
	return &ColorMatrix{Label: label, Matrix: matrix}
}

// Identity passes pixels through unchanged.
func Identity() *ColorMatrix {
	return NewColorMatrix("identity", [20]float32{
		1, 0, 0, 0, 0,
		0, 1, 0, 0, 0,
		0, 0, 1, 0, 0,
		0, 0, 0, 1, 0,
	})
}

// Brightness scales colors: 0 is black, 1 unchanged, 2 twice as bright.
func Brightness(factor float32) *ColorMatrix {
	return NewColorMatrix("brightness", [20]float32{
		factor, 0, 0, 0, 0,
		0, factor, 0, 0, 0,
		0, 0, factor, 0, 0,
		0, 0, 0, 1, 0,
	})
}

// Contrast scales colors around mid gray: 0 is gray, 1 unchanged.
func Contrast(factor float32) *ColorMatrix {
	offset := 128 * (1 - factor)
	return NewColorMatrix("contrast", [20]float32{
		factor, 0, 0, 0, offset,
		0, factor, 0, 0, offset,
		0, 0, factor, 0, offset,
		0, 0, 0, 1, 0,
	})
}

// Rec. 709 luminance weights.
const (
	lumR = 0.2126
	lumG = 0.7152
	lumB = 0.0722
)

// Saturation blends between luminance (0) and the original colors (1).
func Saturation(factor float32) *ColorMatrix {
	inv := 1 - factor
	return NewColorMatrix("saturation", [20]float32{
		lumR*inv + factor, lumG * inv, lumB * inv, 0, 0,
		lumR * inv, lumG*inv + factor, lumB * inv, 0, 0,
		lumR * inv, lumG * inv, lumB*inv + factor, 0, 0,
		0, 0, 0, 1, 0,
	})
}

// Grayscale desaturates completely.
func Grayscale() *ColorMatrix {
	m := Saturation(0)
	m.Label = "grayscale"
	return m
}

// Sepia applies a sepia tone.
func Sepia() *ColorMatrix {
	return NewColorMatrix("sepia", [20]float32{
		0.393, 0.769, 0.189, 0, 0,
		0.349, 0.686, 0.168, 0, 0,
		0.272, 0.534, 0.131, 0, 0,
		0, 0, 0, 1, 0,
	})
}

// Invert inverts colors, keeping alpha.
func Invert() *ColorMatrix {
	return NewColorMatrix("invert", [20]float32{
		-1, 0, 0, 0, 255,
		0, -1, 0, 0, 255,
		0, 0, -1, 0, 255,
		0, 0, 0, 1, 0,
	})
}

// HueRotate rotates hue by degrees.
func HueRotate(degrees float64) *ColorMatrix {
	rad := degrees * math.Pi / 180
	cos := float32(math.Cos(rad))
	sin := float32(math.Sin(rad))
	const (
		r = 0.213
		g = 0.715
		b = 0.072
	)
	return NewColorMatrix("hue-rotate", [20]float32{
		r + cos*(1-r) + sin*(-r), g + cos*(-g) + sin*(-g), b + cos*(-b) + sin*(1-b), 0, 0,
		r + cos*(-r) + sin*(0.143), g + cos*(1-g) + sin*(0.140), b + cos*(-b) + sin*(-0.283), 0, 0,
		r + cos*(-r) + sin*(-(1 - r)), g + cos*(-g) + sin*(g), b + cos*(1-b) + sin*(b), 0, 0,
		0, 0, 0, 1, 0,
	})
}

// Opacity multiplies alpha: 0 is fully transparent, 1 unchanged.
func Opacity(factor float32) *ColorMatrix {
	return NewColorMatrix("opacity", [20]float32{
		1, 0, 0, 0, 0,
		0, 1, 0, 0, 0,
		0, 0, 1, 0, 0,
		0, 0, 0, factor, 0,
	})
}

// Name returns the label.
func (f *ColorMatrix) Name() string {
	return f.Label
}

// NeedRect returns r: the filter is per pixel.
func (f *ColorMatrix) NeedRect(r image.Rectangle) image.Rectangle {
	return r
}

// Apply transforms every pixel of dstRect.
func (f *ColorMatrix) Apply(dst []byte, dstRect image.Rectangle, src []byte, srcRect image.Rectangle, cs colorspace.ColorSpace) error {
	return applyRGBA(cs, dst, dstRect, src, srcRect, func(dst, src []byte) {
		f.apply(dst, dstRect, src, srcRect)
	})
}

func (f *ColorMatrix) apply(dst []byte, dstRect image.Rectangle, src []byte, srcRect image.Rectangle) {
	m := &f.Matrix
	sw := srcRect.Dx()
	w := dstRect.Dx()
	for y := dstRect.Min.Y; y < dstRect.Max.Y; y++ {
		for x := dstRect.Min.X; x < dstRect.Max.X; x++ {
			si := ((y-srcRect.Min.Y)*sw + (x - srcRect.Min.X)) * 4
			di := ((y-dstRect.Min.Y)*w + (x - dstRect.Min.X)) * 4

			pr := float32(src[si+0])
			pg := float32(src[si+1])
			pb := float32(src[si+2])
			a := float32(src[si+3])

			// The matrix works on straight alpha.
			var r, g, b float32
			if a > 0 {
				r = pr * 255 / a
				g = pg * 255 / a
				b = pb * 255 / a
			}

			nr := m[0]*r + m[1]*g + m[2]*b + m[3]*a + m[4]
			ng := m[5]*r + m[6]*g + m[7]*b + m[8]*a + m[9]
			nb := m[10]*r + m[11]*g + m[12]*b + m[13]*a + m[14]
			na := m[15]*r + m[16]*g + m[17]*b + m[18]*a + m[19]

			na = min(max(na, 0), 255)
			if na > 0 {
				k := na / 255
				nr, ng, nb = min(nr, 255)*k, min(ng, 255)*k, min(nb, 255)*k
			} else {
				nr, ng, nb = 0, 0, 0
			}

			dst[di+0] = clampUint8(nr)
			dst[di+1] = clampUint8(ng)
			dst[di+2] = clampUint8(nb)
			dst[di+3] = clampUint8(na)
		}
	}
}

// Multiply returns the filter applying f first, then other.
func (f *ColorMatrix) Multiply(other *ColorMatrix) *ColorMatrix {
	a := &other.Matrix
	b := &f.Matrix
	out := &ColorMatrix{Label: f.Label + "+" + other.Label}
	r := &out.Matrix
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += a[row*5+k] * b[k*5+col]
			}
			r[row*5+col] = sum
		}
		r[row*5+4] = a[row*5+0]*b[4] + a[row*5+1]*b[9] +
			a[row*5+2]*b[14] + a[row*5+3]*b[19] + a[row*5+4]
	}
	return out
}
