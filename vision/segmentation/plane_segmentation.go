package segmentation

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/caomw/RGBD-to-Mesh/pyramid"
	"github.com/caomw/RGBD-to-Mesh/utils"
)

// similar reports whether two finalized planes are within an angle (as its cosine)
// and an offset distance of each other.
func similar(a, b *PlaneStats, minCos, dist float64) bool {
	return a.Normal.Dot(b.Normal) >= minCos && math.Abs(a.Offset-b.Offset) <= dist
}

// MergePlanes merges valid slots among the first numPlanes whose normals differ by
// at most angle radians and whose offsets differ by at most dist metres. Pairs are
// visited in ascending slot order and the lower slot absorbs the higher one, which
// is then invalidated. Passes repeat until one merges nothing, so merging an
// already merged set is a no-op. It returns the number of merges.
func MergePlanes(stats []PlaneStats, numPlanes int, angle, dist float64) int {
	numPlanes = utils.MinInt(numPlanes, len(stats))
	minCos := angleCos(angle)
	merges := 0
	for {
		merged := false
		for i := 0; i < numPlanes; i++ {
			if !stats[i].Valid {
				continue
			}
			for j := i + 1; j < numPlanes; j++ {
				if !stats[j].Valid || !similar(&stats[i], &stats[j], minCos, dist) {
					continue
				}
				stats[i].absorb(&stats[j])
				stats[i].Finalize(0)
				stats[j].Valid = false
				stats[j].MergedInto = i
				merged = true
				merges++
			}
		}
		if !merged {
			return merges
		}
	}
}

// FinalFitParams are the tolerances of FitFinalPlanes.
type FinalFitParams struct {
	// Angle is the largest angle in radians between a pixel normal and a plane normal.
	Angle float64
	// Dist is the largest distance in metres of a pixel from a plane.
	Dist float64
	// MinCount is the pixel floor a plane must keep after the fit.
	MinCount float64
}

// FitFinalPlanes labels every pixel of the level with the nearest valid plane among
// the first numPlanes slots: the smallest absolute distance within params.Dist,
// lower slot on ties. Pixels with a normal must also be within params.Angle of the
// plane; pixels without one are matched on distance alone. The sums of the slots are
// rebuilt from the labels and finalized again, planes under params.MinCount are
// dropped and their pixels become NoSegment. distances receives the signed distance
// of every labelled pixel to its refit plane, NaN elsewhere.
func FitFinalPlanes(
	stats []PlaneStats,
	numPlanes int,
	normals, positions pyramid.Float3,
	segments []int32,
	distances []float32,
	params FinalFitParams,
) {
	numPlanes = utils.MinInt(numPlanes, len(stats))
	candidates := make([]int, 0, numPlanes)
	for i := 0; i < numPlanes; i++ {
		if stats[i].Valid {
			candidates = append(candidates, i)
		}
	}
	minCos := angleCos(params.Angle)

	n := len(positions.X)
	numBlocks := utils.NumBlocks(n, blockSize)
	partials := make([]planeAccum, numBlocks*len(candidates))

	utils.ParallelForEachBlock(n, blockSize, func(block, from, to int) {
		acc := partials[block*len(candidates) : (block+1)*len(candidates)]
		for i := from; i < to; i++ {
			segments[i] = NoSegment
			distances[i] = nan32()
			pos, ok := vectorAt(positions, i)
			if !ok {
				continue
			}
			normal, hasNormal := vectorAt(normals, i)
			best, bestDist := -1, params.Dist
			for c, slot := range candidates {
				s := &stats[slot]
				d := math.Abs(s.Distance(pos))
				if d > bestDist || (best >= 0 && d == bestDist) {
					continue
				}
				if hasNormal && normal.Dot(s.Normal) < minCos {
					continue
				}
				best, bestDist = c, d
			}
			if best < 0 {
				continue
			}
			segments[i] = int32(candidates[best])
			acc[best].add(pos, normal, hasNormal)
		}
	})

	for _, slot := range candidates {
		stats[slot].clearSums()
	}
	for b := 0; b < numBlocks; b++ {
		for c, slot := range candidates {
			stats[slot].accumulate(&partials[b*len(candidates)+c])
		}
	}
	for _, slot := range candidates {
		stats[slot].Finalize(params.MinCount)
	}

	utils.ParallelForEachBlock(n, blockSize, func(_, from, to int) {
		for i := from; i < to; i++ {
			slot := segments[i]
			if slot < 0 {
				continue
			}
			s := &stats[slot]
			if !s.Valid {
				segments[i] = NoSegment
				continue
			}
			pos, _ := vectorAt(positions, i)
			distances[i] = float32(s.Distance(pos))
		}
	})
}

// GeneratePlaneCompressionMap assigns dense ids to the valid slots in ascending slot
// order, at most maxOutput of them. idMap[dense] receives the slot and
// invIDMap[slot] the dense id, or -1 for slots without one. It returns the number
// of dense ids.
func GeneratePlaneCompressionMap(stats []PlaneStats, maxOutput int, idMap, invIDMap []int) int {
	count := 0
	for slot := range stats {
		invIDMap[slot] = -1
		if !stats[slot].Valid || count >= maxOutput {
			continue
		}
		idMap[count] = slot
		invIDMap[slot] = count
		count++
	}
	for i := count; i < len(idMap); i++ {
		idMap[i] = -1
	}
	return count
}

// ReleaseUnmappedPixels relabels NoSegment every pixel whose slot received no dense
// id, so planes cut by the output cap leave their pixels unsegmented. Their
// distances become NaN.
func ReleaseUnmappedPixels(segments []int32, distances []float32, invIDMap []int) {
	utils.ParallelForEachBlock(len(segments), blockSize, func(_, from, to int) {
		for i := from; i < to; i++ {
			if slot := segments[i]; slot >= 0 && invIDMap[slot] < 0 {
				segments[i] = NoSegment
				distances[i] = nan32()
			}
		}
	})
}

// CompactPlaneStats moves the slots named by idMap to the front of stats, in dense
// id order, and clears everything after them.
func CompactPlaneStats(stats []PlaneStats, idMap []int, count int) {
	// idMap is ascending with idMap[d] >= d, so no source is overwritten before it is read
	for d := 0; d < count; d++ {
		if src := idMap[d]; src != d {
			stats[d] = stats[src]
		}
	}
	for i := count; i < len(stats); i++ {
		stats[i].Reset(-1)
	}
}

// ComputePlaneTangents completes an orthonormal basis for the first count planes.
// The tangent is normalize(cross(normal, y)), or normalize(cross(normal, x)) when the
// normal is close to y; the bitangent is normalize(cross(normal, tangent)).
func ComputePlaneTangents(stats []PlaneStats, count int) {
	for i := 0; i < count; i++ {
		s := &stats[i]
		ref := r3.Vector{Y: 1}
		if math.Abs(s.Normal.Y) > 0.9 {
			ref = r3.Vector{X: 1}
		}
		s.Tangent = s.Normal.Cross(ref).Normalize()
		s.Bitangent = s.Normal.Cross(s.Tangent).Normalize()
	}
}
