package rimage

import (
	"fmt"
	"math"
	"strings"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/caomw/RGBD-to-Mesh/utils"
)

// FilterMode selects how depth is smoothed before unprojection.
type FilterMode int

// The depth filter modes.
const (
	FilterNone FilterMode = iota
	FilterGaussian
	FilterBilateral
)

func (m FilterMode) String() string {
	switch m {
	case FilterNone:
		return "none"
	case FilterGaussian:
		return "gaussian"
	case FilterBilateral:
		return "bilateral"
	default:
		return fmt.Sprintf("FilterMode(%d)", int(m))
	}
}

// ParseFilterMode parses the String form of a FilterMode.
func ParseFilterMode(s string) (FilterMode, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return FilterNone, nil
	case "gaussian":
		return FilterGaussian, nil
	case "bilateral":
		return FilterBilateral, nil
	default:
		return FilterNone, errors.Errorf("unknown filter mode %q", s)
	}
}

// Helper function for convolving matrices together, When used with i, dx := range makeRangeArray(n)
// i is the position within the kernel and dx gives the offset within the depth map.
// if length is even, then the origin is to the right of middle i.e. 4 -> {-2, -1, 0, 1}
func makeRangeArray(length int) []int {
	if length <= 0 {
		return make([]int, 0)
	}
	rangeArray := make([]int, length)
	var span int
	if length%2 == 0 {
		oddArr := makeRangeArray(length - 1)
		span = length / 2
		rangeArray = append([]int{-span}, oddArr...)
	} else {
		span = (length - 1) / 2
		for i := 0; i < span; i++ {
			rangeArray[length-1-i] = span - i
			rangeArray[i] = -span + i
		}
	}
	return rangeArray
}

// GaussianFunction1D takes in a sigma and returns a gaussian function useful for weighing averages or blurring.
func GaussianFunction1D(sigma float64) func(p float64) float64 {
	if sigma <= 0. {
		return func(p float64) float64 {
			return 1.
		}
	}
	return func(p float64) float64 {
		return math.Exp(-0.5*math.Pow(p, 2)/math.Pow(sigma, 2)) / (sigma * math.Sqrt(2.*math.Pi))
	}
}

// KernelRadius is the half width of the separable kernels, ceil(2*sigma) and at least 1.
func KernelRadius(sigma float64) int {
	return utils.MaxInt(1, int(math.Ceil(2*sigma)))
}

// Kernel1D is a normalised symmetric 1D kernel. Weights[i] applies to offset Offsets[i].
type Kernel1D struct {
	Offsets []int
	Weights []float32
}

// GaussianKernel1D builds a normalised Gaussian kernel of radius KernelRadius(sigma).
func GaussianKernel1D(sigma float64) Kernel1D {
	gaus := GaussianFunction1D(sigma)
	offsets := makeRangeArray(2*KernelRadius(sigma) + 1)
	weights := make([]float32, len(offsets))
	total := 0.0
	for i, dx := range offsets {
		w := gaus(float64(dx))
		weights[i] = float32(w)
		total += w
	}
	for i := range weights {
		weights[i] /= float32(total)
	}
	return Kernel1D{Offsets: offsets, Weights: weights}
}

// Radius returns the largest offset of the kernel.
func (k Kernel1D) Radius() int {
	return k.Offsets[len(k.Offsets)-1]
}

// separableFilter smooths src into dst with k along rows, then columns, using tmp
// for the intermediate result. NaN samples carry no weight and a NaN centre stays
// NaN, so invalid regions neither grow nor shrink.
func separableFilter(src, dst, tmp []float32, width, height int, k Kernel1D) {
	filterPass(src, tmp, width, height, k, 1, 0)
	filterPass(tmp, dst, width, height, k, 0, 1)
}

func filterPass(src, dst []float32, width, height int, k Kernel1D, stepX, stepY int) {
	utils.ParallelForEachBlock(height, 4, func(_, from, to int) {
		for y := from; y < to; y++ {
			for x := 0; x < width; x++ {
				i := y*width + x
				if math32.IsNaN(src[i]) {
					dst[i] = math32.NaN()
					continue
				}
				var sum, weight float32
				for j, d := range k.Offsets {
					nx, ny := x+d*stepX, y+d*stepY
					if nx < 0 || nx >= width || ny < 0 || ny >= height {
						continue
					}
					v := src[ny*width+nx]
					if math32.IsNaN(v) {
						continue
					}
					sum += k.Weights[j] * v
					weight += k.Weights[j]
				}
				dst[i] = sum / weight
			}
		}
	})
}

// bilateralFilter smooths depth with a spatial Gaussian weighted by a Gaussian of the
// depth difference to the centre sample, so steps larger than a few depthSigma survive.
func bilateralFilter(src, dst []float32, width, height int, spatial Kernel1D, depthSigma float32) {
	inv2Sigma2 := 1 / (2 * depthSigma * depthSigma)
	utils.ParallelForEachBlock(height, 4, func(_, from, to int) {
		for y := from; y < to; y++ {
			for x := 0; x < width; x++ {
				i := y*width + x
				center := src[i]
				if math32.IsNaN(center) {
					dst[i] = center
					continue
				}
				var sum, weight float32
				for jy, dy := range spatial.Offsets {
					ny := y + dy
					if ny < 0 || ny >= height {
						continue
					}
					for jx, dx := range spatial.Offsets {
						nx := x + dx
						if nx < 0 || nx >= width {
							continue
						}
						v := src[ny*width+nx]
						if math32.IsNaN(v) {
							continue
						}
						diff := v - center
						w := spatial.Weights[jx] * spatial.Weights[jy] * math32.Exp(-diff*diff*inv2Sigma2)
						sum += w * v
						weight += w
					}
				}
				dst[i] = sum / weight
			}
		}
	})
}
