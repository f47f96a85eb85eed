package segmentation

import (
	"math"

	"github.com/golang/geo/r3"
	"go.uber.org/atomic"

	"github.com/caomw/RGBD-to-Mesh/pyramid"
	"github.com/caomw/RGBD-to-Mesh/utils"
)

// NormalHistogram counts unit normals on an equirectangular azimuth x elevation grid.
// Azimuth is atan2(n.y, -n.z) and wraps around; elevation is asin(n.x). A normal
// facing the camera, (0, 0, -1), lands in the middle of the grid.
type NormalHistogram struct {
	bins []atomic.Int32
}

// NewNormalHistogram allocates an empty histogram.
func NewNormalHistogram() *NormalHistogram {
	return &NormalHistogram{bins: make([]atomic.Int32, NormalHistWidth*NormalHistHeight)}
}

// NormalBin returns the histogram cell of a unit normal.
func NormalBin(n r3.Vector) (int, int) {
	az := math.Atan2(n.Y, -n.Z)
	el := math.Asin(math.Max(-1, math.Min(1, n.X)))
	x := int(math.Floor((az + math.Pi) / (2 * math.Pi) * NormalHistWidth))
	y := int(math.Floor((el + math.Pi/2) / math.Pi * NormalHistHeight))
	return (x%NormalHistWidth + NormalHistWidth) % NormalHistWidth, utils.ClampInt(y, 0, NormalHistHeight-1)
}

// BinDirection returns the unit normal at the centre of a histogram cell.
func BinDirection(x, y int) r3.Vector {
	az := -math.Pi + (float64(x)+0.5)*2*math.Pi/NormalHistWidth
	el := -math.Pi/2 + (float64(y)+0.5)*math.Pi/NormalHistHeight
	return r3.Vector{
		X: math.Sin(el),
		Y: math.Cos(el) * math.Sin(az),
		Z: -math.Cos(el) * math.Cos(az),
	}
}

// Clear zeroes every bin.
func (h *NormalHistogram) Clear() {
	for i := range h.bins {
		h.bins[i].Store(0)
	}
}

// Count returns the number of normals in cell (x, y).
func (h *NormalHistogram) Count(x, y int) int {
	return int(h.bins[y*NormalHistWidth+x].Load())
}

// Counts returns a row major copy of the histogram.
func (h *NormalHistogram) Counts() []int {
	out := make([]int, len(h.bins))
	for i := range h.bins {
		out[i] = int(h.bins[i].Load())
	}
	return out
}

// Total returns the number of binned normals.
func (h *NormalHistogram) Total() int {
	total := 0
	for i := range h.bins {
		total += int(h.bins[i].Load())
	}
	return total
}

// Accumulate bins every valid normal of the level. When exclude is not nil, pixels
// already labelled with a plane (exclude[i] >= 0) are skipped.
func (h *NormalHistogram) Accumulate(normals pyramid.Float3, exclude []int32) {
	utils.ParallelForEachBlock(len(normals.X), blockSize, func(_, from, to int) {
		for i := from; i < to; i++ {
			if exclude != nil && exclude[i] >= 0 {
				continue
			}
			n, ok := vectorAt(normals, i)
			if !ok {
				continue
			}
			x, y := NormalBin(n)
			h.bins[y*NormalHistWidth+x].Inc()
		}
	})
}

// NormalPeak is one detected direction cluster.
type NormalPeak struct {
	Direction  r3.Vector
	BinX, BinY int
	Score      float64
}

// score of cell (x, y): its count, or the sum over a (2r+1)^2 neighbourhood when r > 0.
func (h *NormalHistogram) score(x, y, r int) float64 {
	if r <= 0 {
		return float64(h.Count(x, y))
	}
	sum := 0
	for dy := -r; dy <= r; dy++ {
		ny := y + dy
		if ny < 0 || ny >= NormalHistHeight {
			continue
		}
		for dx := -r; dx <= r; dx++ {
			nx := (x + dx + NormalHistWidth) % NormalHistWidth
			sum += h.Count(nx, ny)
		}
	}
	return float64(sum)
}

// DetectPeaks greedily picks up to maxPeaks cells in descending score order. Each
// pick must score at least minCount and suppresses every cell within
// exclusionRadius of it (azimuth wraps). Ties go to the lowest row major index.
// scoreRadius > 0 scores cells by their neighbourhood sum, which later rounds use
// to find broad peaks among the leftover normals.
func (h *NormalHistogram) DetectPeaks(maxPeaks, exclusionRadius int, minCount float64, scoreRadius int) []NormalPeak {
	scores := make([]float64, len(h.bins))
	for y := 0; y < NormalHistHeight; y++ {
		for x := 0; x < NormalHistWidth; x++ {
			scores[y*NormalHistWidth+x] = h.score(x, y, scoreRadius)
		}
	}
	suppressed := make([]bool, len(h.bins))

	peaks := make([]NormalPeak, 0, maxPeaks)
	for len(peaks) < maxPeaks {
		best := -1
		for i, s := range scores {
			if suppressed[i] || s <= 0 || s < minCount {
				continue
			}
			if best < 0 || s > scores[best] {
				best = i
			}
		}
		if best < 0 {
			break
		}
		bx, by := best%NormalHistWidth, best/NormalHistWidth
		peaks = append(peaks, NormalPeak{Direction: BinDirection(bx, by), BinX: bx, BinY: by, Score: scores[best]})

		for dy := -exclusionRadius; dy <= exclusionRadius; dy++ {
			ny := by + dy
			if ny < 0 || ny >= NormalHistHeight {
				continue
			}
			for dx := -exclusionRadius; dx <= exclusionRadius; dx++ {
				nx := (bx + dx + NormalHistWidth) % NormalHistWidth
				suppressed[ny*NormalHistWidth+nx] = true
			}
		}
	}
	return peaks
}

// NormalClusters is the result of AssignNormals.
type NormalClusters struct {
	// Axes holds, per peak, the mean normal of its members, or the peak direction
	// for an empty cluster.
	Axes []r3.Vector
	// Counts holds the number of member pixels per peak.
	Counts []int
}

// AssignNormals labels each pixel of the level with the peak closest to its normal,
// provided the angle is at most maxAngle radians. Unlabelled pixels get NoSegment.
// Each cluster axis is then replaced by the mean normal of its members and
// distances receives -dot(axis, position) for every labelled pixel (NaN otherwise).
func AssignNormals(
	normals, positions pyramid.Float3,
	peaks []NormalPeak,
	maxAngle float64,
	segments []int32,
	distances []float32,
) NormalClusters {
	n := len(normals.X)
	minCos := angleCos(maxAngle)
	numBlocks := utils.NumBlocks(n, blockSize)
	partialSums := make([]r3.Vector, numBlocks*len(peaks))
	partialCounts := make([]int, numBlocks*len(peaks))

	utils.ParallelForEachBlock(n, blockSize, func(block, from, to int) {
		sums := partialSums[block*len(peaks) : (block+1)*len(peaks)]
		counts := partialCounts[block*len(peaks) : (block+1)*len(peaks)]
		for i := from; i < to; i++ {
			segments[i] = NoSegment
			normal, ok := vectorAt(normals, i)
			if !ok {
				continue
			}
			if _, ok := vectorAt(positions, i); !ok {
				continue
			}
			best, bestDot := NoSegment, minCos
			for k, p := range peaks {
				if d := normal.Dot(p.Direction); d >= bestDot && (best == NoSegment || d > bestDot) {
					best, bestDot = k, d
				}
			}
			if best == NoSegment {
				continue
			}
			segments[i] = int32(best)
			sums[best] = sums[best].Add(normal)
			counts[best]++
		}
	})

	clusters := NormalClusters{Axes: make([]r3.Vector, len(peaks)), Counts: make([]int, len(peaks))}
	for k, p := range peaks {
		sum := r3.Vector{}
		for b := 0; b < numBlocks; b++ {
			sum = sum.Add(partialSums[b*len(peaks)+k])
			clusters.Counts[k] += partialCounts[b*len(peaks)+k]
		}
		clusters.Axes[k] = p.Direction
		if clusters.Counts[k] > 0 && sum.Norm() > 0 {
			clusters.Axes[k] = sum.Normalize()
		}
	}

	utils.ParallelForEachBlock(n, blockSize, func(_, from, to int) {
		for i := from; i < to; i++ {
			k := segments[i]
			if k < 0 {
				distances[i] = nan32()
				continue
			}
			pos, _ := vectorAt(positions, i)
			distances[i] = float32(-clusters.Axes[k].Dot(pos))
		}
	})
	return clusters
}
