package filter

import (
	"math"

	"github.com/gogpu/canvas/internal/cache"
)

// GaussianKernel generates a normalized 1D Gaussian kernel using radius
// as sigma. The kernel has 2*ceil(3*radius)+1 taps, covering 99.7% of the
// distribution. A radius <= 0 yields the identity kernel [1].
func GaussianKernel(radius float64) []float32 {
	if radius <= 0 {
		return []float32{1}
	}
	half := KernelHalfSize(radius)
	kernel := make([]float32, 2*half+1)
	twoSigmaSq := 2 * radius * radius
	var sum float64
	for i := range kernel {
		x := float64(i - half)
		v := math.Exp(-(x * x) / twoSigmaSq)
		kernel[i] = float32(v)
		sum += v
	}
	inv := float32(1 / sum)
	for i := range kernel {
		kernel[i] *= inv
	}
	return kernel
}

// BoxKernel generates a uniform kernel of 2*radius+1 taps.
func BoxKernel(radius int) []float32 {
	if radius <= 0 {
		return []float32{1}
	}
	kernel := make([]float32, 2*radius+1)
	v := 1 / float32(len(kernel))
	for i := range kernel {
		kernel[i] = v
	}
	return kernel
}

// KernelHalfSize returns the number of taps on each side of the center.
func KernelHalfSize(radius float64) int {
	if radius <= 0 {
		return 0
	}
	return int(math.Ceil(radius * 3))
}

// kernels caches Gaussian kernels by radius quantised to 0.01.
var kernels = cache.New[int, []float32](64)

// CachedGaussianKernel returns a shared Gaussian kernel. It must not be
// modified.
func CachedGaussianKernel(radius float64) []float32 {
	key := int(math.Round(radius * 100))
	return kernels.GetOrCreate(key, func() []float32 {
		return GaussianKernel(float64(key) / 100)
	})
}
