package segmentation

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/caomw/RGBD-to-Mesh/pyramid"
	"github.com/caomw/RGBD-to-Mesh/utils"
)

// Params are the tuning values of one Segment call. Angles are in radians and
// distances in metres; pixel counts are given at level 0 and scaled to the level
// they are applied at.
type Params struct {
	MaxAngleFromPeak   float64
	MergeAngle         float64
	MergeDist          float64
	FinalAngle         float64
	FinalDist          float64
	DistPeakThreshold  float64
	MinNormalPeakCount float64
	MinDistPeakCount   float64
	MinPlanePixelCount float64
	// Rounds is the number of segmentation rounds, 1 to MaxSegmentationRounds.
	Rounds int
	// Level is the pyramid level of the inner segmentation loop.
	Level int
	// MaxPlanesOutput caps the number of compacted planes.
	MaxPlanesOutput int
}

// Validate checks that the params can drive a segmentation.
func (p Params) Validate() error {
	if p.Rounds < 1 || p.Rounds > MaxSegmentationRounds {
		return errors.Errorf("rounds must be in [1, %d], got %d", MaxSegmentationRounds, p.Rounds)
	}
	if p.Level < 0 || p.Level >= pyramid.NumLevels {
		return errors.Errorf("level must be in [0, %d), got %d", pyramid.NumLevels, p.Level)
	}
	if p.MaxPlanesOutput < 0 || p.MaxPlanesOutput > MaxPlanesTotal {
		return errors.Errorf("max planes output must be in [0, %d], got %d", MaxPlanesTotal, p.MaxPlanesOutput)
	}
	for name, v := range map[string]float64{
		"max angle from peak":  p.MaxAngleFromPeak,
		"merge angle":          p.MergeAngle,
		"merge distance":       p.MergeDist,
		"final angle":          p.FinalAngle,
		"final distance":       p.FinalDist,
		"distance peak thresh": p.DistPeakThreshold,
	} {
		if v <= 0 || math.IsNaN(v) {
			return errors.Errorf("%s must be positive, got %v", name, v)
		}
	}
	return nil
}

// Segmenter owns every buffer of the plane segmentation for one resolution. Its
// accessors expose the intermediate results of the last Segment call; they are
// overwritten by the next one. It is not safe for concurrent use.
type Segmenter struct {
	width, height int

	normalHist     *NormalHistogram
	peaks          []NormalPeak
	clusters       NormalClusters
	normalSegments []int32
	projectedDist  []float32
	distHists      *DistanceHistograms
	distPeaks      []float64
	planeSegments  []int32
	level          int

	stats         []PlaneStats
	finalSegments []int32
	finalDist     []float32
	idMap         []int
	invIDMap      []int
	count         int
}

// NewSegmenter allocates a Segmenter for width x height frames.
func NewSegmenter(width, height int) (*Segmenter, error) {
	if err := pyramid.CheckDimensions(width, height); err != nil {
		return nil, err
	}
	n := width * height
	s := &Segmenter{
		width:          width,
		height:         height,
		normalHist:     NewNormalHistogram(),
		normalSegments: make([]int32, n),
		projectedDist:  make([]float32, n),
		distHists:      NewDistanceHistograms(MaxNormalPeaksPerRound),
		planeSegments:  make([]int32, n),
		stats:          make([]PlaneStats, MaxPlanesTotal),
		finalSegments:  make([]int32, n),
		finalDist:      make([]float32, n),
		idMap:          make([]int, MaxPlanesTotal),
		invIDMap:       make([]int, MaxPlanesTotal),
	}
	s.Reset()
	return s, nil
}

// Reset forgets every result.
func (s *Segmenter) Reset() {
	ResetPlaneStats(s.stats, -1)
	for i := range s.finalSegments {
		s.finalSegments[i] = NoSegment
		s.finalDist[i] = nan32()
	}
	for i := range s.idMap {
		s.idMap[i] = -1
		s.invIDMap[i] = -1
	}
	s.peaks = nil
	s.clusters = NormalClusters{}
	s.count = 0
}

// Segment finds the planes of a frame and returns how many survived compaction.
// Each round histograms the normals of pixels no plane claims yet, runs the inner
// segmentation twice at params.Level (realigning the peaks in between), merges all
// slots found so far and re-fits them against every level 0 pixel.
func (s *Segmenter) Segment(normals, positions *pyramid.Float3Pyramid, params Params) (int, error) {
	if err := params.Validate(); err != nil {
		return 0, err
	}
	if normals.Width() != s.width || positions.Width() != s.width ||
		normals.Height() != s.height || positions.Height() != s.height {
		return 0, errors.Wrapf(pyramid.ErrInvalidDimensions, "segmenter is %dx%d", s.width, s.height)
	}
	s.Reset()
	s.level = params.Level

	for iter := 0; iter < params.Rounds; iter++ {
		s.normalHistogramGeneration(normals.Level(NormalHistLevel), iter, params)
		if len(s.peaks) == 0 {
			// nothing left to find, later rounds would see the same histogram
			break
		}
		s.innerLoop(normals.Level(params.Level), positions.Level(params.Level), iter, params)
		RealignPeaks(s.stats, s.peaks, iter)
		s.innerLoop(normals.Level(params.Level), positions.Level(params.Level), iter, params)

		numPlanes := PlanesPerRound * (iter + 1)
		MergePlanes(s.stats, numPlanes, params.MergeAngle, params.MergeDist)
		FitFinalPlanes(s.stats, numPlanes, normals.Level(0), positions.Level(0),
			s.finalSegments, s.finalDist, FinalFitParams{
				Angle:    params.FinalAngle,
				Dist:     params.FinalDist,
				MinCount: params.MinPlanePixelCount,
			})
	}

	s.count = GeneratePlaneCompressionMap(s.stats, params.MaxPlanesOutput, s.idMap, s.invIDMap)
	ReleaseUnmappedPixels(s.finalSegments, s.finalDist, s.invIDMap)
	CompactPlaneStats(s.stats, s.idMap, s.count)
	ComputePlaneTangents(s.stats, s.count)
	return s.count, nil
}

func (s *Segmenter) normalHistogramGeneration(normals pyramid.Float3, iter int, params Params) {
	s.normalHist.Clear()
	var exclude []int32
	scoreRadius := 0
	if iter > 0 {
		exclude = s.finalSegments
		scoreRadius = NormalPeakExclusionRadius / 2
	}
	s.normalHist.Accumulate(normals, exclude)
	s.peaks = s.normalHist.DetectPeaks(MaxNormalPeaksPerRound, NormalPeakExclusionRadius,
		params.MinNormalPeakCount*CountScale(NormalHistLevel), scoreRadius)
}

func (s *Segmenter) innerLoop(normals, positions pyramid.Float3, iter int, params Params) {
	countScale := CountScale(params.Level)
	n := len(positions.X)
	segments, distances := s.normalSegments[:n], s.projectedDist[:n]

	s.clusters = AssignNormals(normals, positions, s.peaks, params.MaxAngleFromPeak, segments, distances)

	s.distHists.Clear()
	s.distHists.Accumulate(segments, distances)
	s.distPeaks = s.distHists.DetectPeaks(MaxDistancePeaks,
		int(2*params.DistPeakThreshold/DistanceHistResolution), params.MinDistPeakCount*countScale)

	ResetPlaneStats(s.stats, iter)
	FineDistanceSegmentation(s.distPeaks, MaxDistancePeaks, normals, positions, segments, distances,
		params.DistPeakThreshold, iter, s.stats, s.planeSegments[:n])
	FinalizePlanes(s.stats, iter, params.MinPlanePixelCount*countScale)
}

// Count returns the number of planes found by the last Segment call.
func (s *Segmenter) Count() int {
	return s.count
}

// PlaneStats returns the compacted planes; only the first Count entries are meaningful.
func (s *Segmenter) PlaneStats() []PlaneStats {
	return s.stats
}

// IDMap maps dense plane ids to the slots they came from.
func (s *Segmenter) IDMap() []int {
	return s.idMap
}

// InvIDMap maps slots to dense plane ids, -1 for slots that were dropped.
func (s *Segmenter) InvIDMap() []int {
	return s.invIDMap
}

// FinalSegments returns the per pixel plane slot at level 0, NoSegment for unclaimed pixels.
func (s *Segmenter) FinalSegments() []int32 {
	return s.finalSegments
}

// FinalDistances returns the per pixel signed distance to the claiming plane at level 0.
func (s *Segmenter) FinalDistances() []float32 {
	return s.finalDist
}

// NormalHistogram returns the normal histogram of the last round.
func (s *Segmenter) NormalHistogram() *NormalHistogram {
	return s.normalHist
}

// Peaks returns the normal peaks of the last round.
func (s *Segmenter) Peaks() []NormalPeak {
	return s.peaks
}

// ClusterAxes returns the mean normal of each cluster of the last inner pass.
func (s *Segmenter) ClusterAxes() []r3.Vector {
	return s.clusters.Axes
}

// DistanceHistograms returns the distance histograms of the last inner pass.
func (s *Segmenter) DistanceHistograms() *DistanceHistograms {
	return s.distHists
}

// DistancePeaks returns MaxDistancePeaks distances per cluster of the last inner pass.
func (s *Segmenter) DistancePeaks() []float64 {
	return s.distPeaks
}

// Level returns the pyramid level of the inner loop buffers.
func (s *Segmenter) Level() int {
	return s.level
}

// NormalSegments returns the per pixel normal cluster of the last inner pass at Level.
func (s *Segmenter) NormalSegments() []int32 {
	return s.normalSegments[:s.levelLen()]
}

// ProjectedDistances returns the per pixel distance along the cluster axis at Level.
func (s *Segmenter) ProjectedDistances() []float32 {
	return s.projectedDist[:s.levelLen()]
}

// PlaneSegments returns the per pixel plane slot of the last inner pass at Level.
func (s *Segmenter) PlaneSegments() []int32 {
	return s.planeSegments[:s.levelLen()]
}

func (s *Segmenter) levelLen() int {
	w, h := pyramid.LevelSize(s.width, s.height, s.level)
	return utils.MaxInt(0, w*h)
}
