package segmentation

import (
	"math"

	"go.uber.org/atomic"

	"github.com/caomw/RGBD-to-Mesh/pyramid"
	"github.com/caomw/RGBD-to-Mesh/utils"
)

// DistanceHistograms holds one distance histogram per normal cluster, back to back
// in one allocation.
type DistanceHistograms struct {
	numClusters int
	bins        []atomic.Int32
}

// NewDistanceHistograms allocates numClusters empty histograms.
func NewDistanceHistograms(numClusters int) *DistanceHistograms {
	return &DistanceHistograms{
		numClusters: numClusters,
		bins:        make([]atomic.Int32, numClusters*DistanceHistCount),
	}
}

// DistanceBin returns the bin of a distance and whether it is inside the histogram range.
func DistanceBin(d float64) (int, bool) {
	if math.IsNaN(d) || d < DistanceHistMin || d >= DistanceHistMax {
		return 0, false
	}
	b := int((d - DistanceHistMin) / DistanceHistResolution)
	if b >= DistanceHistCount {
		return 0, false
	}
	return b, true
}

// BinDistance returns the distance at the centre of bin b.
func BinDistance(b int) float64 {
	return DistanceHistMin + (float64(b)+0.5)*DistanceHistResolution
}

// NumClusters returns the number of histograms.
func (h *DistanceHistograms) NumClusters() int {
	return h.numClusters
}

// Clear zeroes every histogram.
func (h *DistanceHistograms) Clear() {
	for i := range h.bins {
		h.bins[i].Store(0)
	}
}

// Histogram returns a copy of the histogram of cluster k.
func (h *DistanceHistograms) Histogram(k int) []int {
	out := make([]int, DistanceHistCount)
	for b := range out {
		out[b] = int(h.bins[k*DistanceHistCount+b].Load())
	}
	return out
}

// Accumulate bins the distance of every pixel labelled with a cluster.
func (h *DistanceHistograms) Accumulate(segments []int32, distances []float32) {
	utils.ParallelForEachBlock(len(segments), blockSize, func(_, from, to int) {
		for i := from; i < to; i++ {
			k := int(segments[i])
			if k < 0 || k >= h.numClusters {
				continue
			}
			b, ok := DistanceBin(float64(distances[i]))
			if !ok {
				continue
			}
			h.bins[k*DistanceHistCount+b].Inc()
		}
	})
}

// DetectPeaks finds up to maxPeaks distance peaks per cluster, greedily in
// descending count order with ties to the lowest bin. A peak needs at least
// minCount samples and suppresses exclusion bins either side of it. The result
// holds maxPeaks distances per cluster, NaN for unused entries.
func (h *DistanceHistograms) DetectPeaks(maxPeaks, exclusion int, minCount float64) []float64 {
	peaks := make([]float64, h.numClusters*maxPeaks)
	for i := range peaks {
		peaks[i] = math.NaN()
	}
	utils.ParallelForEachBlock(h.numClusters, 1, func(k, _, _ int) {
		hist := h.Histogram(k)
		suppressed := make([]bool, DistanceHistCount)
		for p := 0; p < maxPeaks; p++ {
			best := -1
			for b, c := range hist {
				if suppressed[b] || c <= 0 || float64(c) < minCount {
					continue
				}
				if best < 0 || c > hist[best] {
					best = b
				}
			}
			if best < 0 {
				break
			}
			peaks[k*maxPeaks+p] = BinDistance(best)
			for b := utils.MaxInt(0, best-exclusion); b <= utils.MinInt(DistanceHistCount-1, best+exclusion); b++ {
				suppressed[b] = true
			}
		}
	})
	return peaks
}

// FineDistanceSegmentation assigns every pixel of a normal cluster to the nearest
// distance peak of that cluster within threshold metres and accumulates the pixel
// into the plane slot SlotIndex(iteration, cluster, peak). planeSegments receives
// the slot, or NoSegment. distPeaks holds maxDistPeaks entries per cluster.
func FineDistanceSegmentation(
	distPeaks []float64,
	maxDistPeaks int,
	normals, positions pyramid.Float3,
	normalSegments []int32,
	distances []float32,
	threshold float64,
	iteration int,
	stats []PlaneStats,
	planeSegments []int32,
) {
	n := len(positions.X)
	numBlocks := utils.NumBlocks(n, blockSize)
	partials := make([]planeAccum, numBlocks*PlanesPerRound)
	base := SlotIndex(iteration, 0, 0)

	utils.ParallelForEachBlock(n, blockSize, func(block, from, to int) {
		acc := partials[block*PlanesPerRound : (block+1)*PlanesPerRound]
		for i := from; i < to; i++ {
			planeSegments[i] = NoSegment
			k := int(normalSegments[i])
			if k < 0 {
				continue
			}
			d := float64(distances[i])
			best, bestDist := -1, threshold
			for j := 0; j < maxDistPeaks; j++ {
				peak := distPeaks[k*maxDistPeaks+j]
				if math.IsNaN(peak) {
					continue
				}
				if dd := math.Abs(d - peak); dd <= bestDist && (best < 0 || dd < bestDist) {
					best, bestDist = j, dd
				}
			}
			if best < 0 {
				continue
			}
			local := k*MaxDistancePeaks + best
			planeSegments[i] = int32(base + local)
			pos, _ := vectorAt(positions, i)
			normal, ok := vectorAt(normals, i)
			acc[local].add(pos, normal, ok)
		}
	})

	for b := 0; b < numBlocks; b++ {
		for local := 0; local < PlanesPerRound; local++ {
			stats[base+local].accumulate(&partials[b*PlanesPerRound+local])
		}
	}
}
