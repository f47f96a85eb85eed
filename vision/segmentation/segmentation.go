// Package segmentation finds the dominant planes of a vertex and normal map in two
// histogram stages. Normals are clustered by direction first, then every direction
// cluster is split by the distance of its pixels along the cluster axis. The
// resulting candidate planes are refined, merged, re-fit against every pixel and
// compacted into a dense id range.
package segmentation

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/golang/geo/r3"

	"github.com/caomw/RGBD-to-Mesh/pyramid"
)

const (
	// NoSegment labels a pixel that belongs to no cluster or plane.
	NoSegment = -1

	// NormalHistWidth is the number of azimuth bins of the normal histogram.
	NormalHistWidth = 90
	// NormalHistHeight is the number of elevation bins of the normal histogram.
	NormalHistHeight = 45
	// MaxNormalPeaksPerRound bounds the direction clusters found per round.
	MaxNormalPeaksPerRound = 8
	// NormalPeakExclusionRadius is the half width, in bins, of the window suppressed around a normal peak.
	NormalPeakExclusionRadius = 5

	// DistanceHistCount is the number of bins of each distance histogram.
	DistanceHistCount = 1024
	// DistanceHistMin is the distance of the lower edge of the first bin, in metres.
	DistanceHistMin = 0.0
	// DistanceHistMax is the distance of the upper edge of the last bin, in metres.
	DistanceHistMax = 5.12
	// DistanceHistResolution is the width of one distance bin.
	DistanceHistResolution = (DistanceHistMax - DistanceHistMin) / DistanceHistCount
	// MaxDistancePeaks bounds the planes found along one direction cluster.
	MaxDistancePeaks = 4

	// MaxSegmentationRounds bounds the number of segmentation rounds per frame.
	MaxSegmentationRounds = 3
	// PlanesPerRound is the number of plane slots owned by one round.
	PlanesPerRound = MaxNormalPeaksPerRound * MaxDistancePeaks
	// MaxPlanesTotal is the size of the plane statistics array.
	MaxPlanesTotal = PlanesPerRound * MaxSegmentationRounds

	// NormalHistLevel is the pyramid level the normal histogram is built from.
	NormalHistLevel = 0
	// DefaultSegmentationLevel is the pyramid level of the inner segmentation loop.
	DefaultSegmentationLevel = 2

	blockSize = 1024
)

// SlotIndex returns the plane slot of distance peak distPeak of normal cluster
// cluster found in round iteration.
func SlotIndex(iteration, cluster, distPeak int) int {
	return iteration*PlanesPerRound + cluster*MaxDistancePeaks + distPeak
}

// CountScale is the factor applied to level 0 pixel count thresholds at a pyramid level.
func CountScale(level int) float64 {
	return 1 / float64(int(1)<<(2*level))
}

func vectorAt(f pyramid.Float3, i int) (r3.Vector, bool) {
	x, y, z := f.At(i)
	if math32.IsNaN(x) || math32.IsNaN(y) || math32.IsNaN(z) {
		return r3.Vector{}, false
	}
	return r3.Vector{X: float64(x), Y: float64(y), Z: float64(z)}, true
}

func nan32() float32 {
	return math32.NaN()
}

// angleCos is the cosine threshold for an angular tolerance in radians.
func angleCos(angle float64) float64 {
	return math.Cos(angle)
}
