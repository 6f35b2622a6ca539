package filter

import (
	"image"
	"sync"

	"github.com/gogpu/canvas/colorspace"
)

// Blur applies a separable Gaussian blur. The horizontal and vertical
// passes run independently, O(w*h*(rx+ry)) instead of O(w*h*rx*ry).
type Blur struct {
	// RadiusX is the horizontal standard deviation in pixels.
	RadiusX float64

	// RadiusY is the vertical standard deviation in pixels.
	RadiusY float64
}

// NewBlur creates a blur with equal radius in both directions.
func NewBlur(radius float64) *Blur {
	return &Blur{RadiusX: radius, RadiusY: radius}
}

// NewBlurXY creates an anisotropic blur.
func NewBlurXY(rx, ry float64) *Blur {
	return &Blur{RadiusX: rx, RadiusY: ry}
}

// Name returns "blur".
func (f *Blur) Name() string {
	return "blur"
}

// NeedRect grows r by the kernel reach.
func (f *Blur) NeedRect(r image.Rectangle) image.Rectangle {
	ex, ey := KernelHalfSize(f.RadiusX), KernelHalfSize(f.RadiusY)
	return image.Rect(r.Min.X-ex, r.Min.Y-ey, r.Max.X+ex, r.Max.Y+ey)
}

// Apply blurs src into dst. Pixels beyond srcRect repeat its edge.
func (f *Blur) Apply(dst []byte, dstRect image.Rectangle, src []byte, srcRect image.Rectangle, cs colorspace.ColorSpace) error {
	return applyRGBA(cs, dst, dstRect, src, srcRect, func(dst, src []byte) {
		f.apply(dst, dstRect, src, srcRect)
	})
}

func (f *Blur) apply(dst []byte, dstRect image.Rectangle, src []byte, srcRect image.Rectangle) {
	kx := CachedGaussianKernel(f.RadiusX)
	ky := CachedGaussianKernel(f.RadiusY)

	// Horizontal pass over every source row the vertical pass reads.
	rows := image.Rect(dstRect.Min.X, srcRect.Min.Y, dstRect.Max.X, srcRect.Max.Y)
	temp := getTempBuffer(area(rows) * 4)
	defer putTempBuffer(temp)
	blurHorizontal(src, srcRect, temp, rows, kx)
	blurVertical(temp, rows, dst, dstRect, ky)
}

// blurHorizontal convolves each row of src into temp, which covers rows.
func blurHorizontal(src []byte, srcRect image.Rectangle, temp []float32, rows image.Rectangle, kernel []float32) {
	half := len(kernel) / 2
	sw := srcRect.Dx()
	w := rows.Dx()
	for y := rows.Min.Y; y < rows.Max.Y; y++ {
		srow := (y - srcRect.Min.Y) * sw
		for x := rows.Min.X; x < rows.Max.X; x++ {
			var r, g, b, a float32
			for k, weight := range kernel {
				kx := min(max(x+k-half, srcRect.Min.X), srcRect.Max.X-1)
				si := (srow + kx - srcRect.Min.X) * 4
				r += float32(src[si+0]) * weight
				g += float32(src[si+1]) * weight
				b += float32(src[si+2]) * weight
				a += float32(src[si+3]) * weight
			}
			ti := ((y-rows.Min.Y)*w + x - rows.Min.X) * 4
			temp[ti+0] = r
			temp[ti+1] = g
			temp[ti+2] = b
			temp[ti+3] = a
		}
	}
}

// blurVertical convolves the columns of temp into dst.
func blurVertical(temp []float32, rows image.Rectangle, dst []byte, dstRect image.Rectangle, kernel []float32) {
	half := len(kernel) / 2
	w := rows.Dx()
	for y := dstRect.Min.Y; y < dstRect.Max.Y; y++ {
		for x := dstRect.Min.X; x < dstRect.Max.X; x++ {
			var r, g, b, a float32
			for k, weight := range kernel {
				ky := min(max(y+k-half, rows.Min.Y), rows.Max.Y-1)
				ti := ((ky-rows.Min.Y)*w + x - rows.Min.X) * 4
				r += temp[ti+0] * weight
				g += temp[ti+1] * weight
				b += temp[ti+2] * weight
				a += temp[ti+3] * weight
			}
			di := ((y-dstRect.Min.Y)*dstRect.Dx() + x - dstRect.Min.X) * 4
			// Premultiplied channels must not exceed alpha after rounding.
			da := clampUint8(a)
			dst[di+0] = min(clampUint8(r), da)
			dst[di+1] = min(clampUint8(g), da)
			dst[di+2] = min(clampUint8(b), da)
			dst[di+3] = da
		}
	}
}

// floatBuffer wraps a slice for sync.Pool.
type floatBuffer struct {
	data []float32
}

var tempBufferPool = sync.Pool{
	New: func() any {
		return &floatBuffer{data: make([]float32, 256*256*4)}
	},
}

// getTempBuffer returns a buffer of at least size elements.
func getTempBuffer(size int) []float32 {
	wrapper := tempBufferPool.Get().(*floatBuffer)
	if len(wrapper.data) < size {
		tempBufferPool.Put(wrapper)
		return make([]float32, size)
	}
	return wrapper.data[:size]
}

// putTempBuffer returns a buffer to the pool. Oversized buffers are dropped.
func putTempBuffer(buf []float32) {
	if cap(buf) <= 16*1024*1024 {
		tempBufferPool.Put(&floatBuffer{data: buf[:cap(buf)]})
	}
}
