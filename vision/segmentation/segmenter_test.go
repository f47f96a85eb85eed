package segmentation

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/caomw/RGBD-to-Mesh/pyramid"
	"github.com/caomw/RGBD-to-Mesh/rimage"
	"github.com/caomw/RGBD-to-Mesh/rimage/transform"
	"github.com/caomw/RGBD-to-Mesh/utils"
)

func testIntrinsics(size int) *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width: size, Height: size,
		Fx: 60, Fy: 60,
		Ppx: float64(size)/2 - 0.5, Ppy: float64(size)/2 - 0.5,
	}
}

func defaultParams() Params {
	return Params{
		MaxAngleFromPeak:   utils.DegToRad(5),
		MergeAngle:         utils.DegToRad(5),
		MergeDist:          0.025,
		FinalAngle:         utils.DegToRad(15),
		FinalDist:          0.015,
		DistPeakThreshold:  0.025,
		MinNormalPeakCount: 800,
		MinDistPeakCount:   800,
		MinPlanePixelCount: 400,
		Rounds:             2,
		Level:              2,
		MaxPlanesOutput:    MaxPlanesTotal,
	}
}

func buildPyramids(t *testing.T, intr *transform.PinholeCameraIntrinsics, f *rimage.Frame) (*pyramid.Float3Pyramid, *pyramid.Float3Pyramid) {
	t.Helper()
	pre, err := rimage.NewPreprocessor(intr)
	test.That(t, err, test.ShouldBeNil)
	vmap, err := pyramid.NewFloat3Pyramid(intr.Width, intr.Height)
	test.That(t, err, test.ShouldBeNil)
	nmap, err := pyramid.NewFloat3Pyramid(intr.Width, intr.Height)
	test.That(t, err, test.ShouldBeNil)
	pre.BuildVertexMap(f, rimage.VertexMapParams{MaxDepth: 5}, vmap.Level(0))
	pre.BuildNormalMap(vmap.Level(0), nmap.Level(0), rimage.NormalSimple, 0)
	rimage.SubsamplePyramid(vmap, false)
	rimage.SubsamplePyramid(nmap, true)
	return nmap, vmap
}

func segment(t *testing.T, planes []rimage.SynthPlane) *Segmenter {
	t.Helper()
	intr := testIntrinsics(64)
	normals, positions := buildPyramids(t, intr, rimage.SynthesizeFrame(intr, planes, 0))
	s, err := NewSegmenter(64, 64)
	test.That(t, err, test.ShouldBeNil)
	_, err = s.Segment(normals, positions, defaultParams())
	test.That(t, err, test.ShouldBeNil)
	return s
}

// checkLabels verifies that every plane's count matches the pixels labelled with its slot.
func checkLabels(t *testing.T, s *Segmenter) {
	t.Helper()
	counts := map[int32]int{}
	for _, l := range s.FinalSegments() {
		if l != NoSegment {
			counts[l]++
		}
	}
	test.That(t, len(counts), test.ShouldEqual, s.Count())
	for d := 0; d < s.Count(); d++ {
		slot := s.IDMap()[d]
		test.That(t, s.InvIDMap()[slot], test.ShouldEqual, d)
		test.That(t, counts[int32(slot)], test.ShouldEqual, s.PlaneStats()[d].Count)
		test.That(t, s.PlaneStats()[d].Valid, test.ShouldBeTrue)
	}
}

func TestSegmentFrontalPlane(t *testing.T) {
	s := segment(t, []rimage.SynthPlane{{Normal: r3.Vector{Z: 1}, Offset: 2}})

	test.That(t, s.Count(), test.ShouldEqual, 1)
	test.That(t, s.IDMap()[0], test.ShouldEqual, 0)
	p := s.PlaneStats()[0]
	test.That(t, p.Count, test.ShouldEqual, 64*64)
	test.That(t, p.Normal.Angle(r3.Vector{Z: -1}).Radians(), test.ShouldBeLessThan, 1e-6)
	test.That(t, p.Offset, test.ShouldAlmostEqual, -2, 1e-6)
	test.That(t, p.Tangent.Angle(r3.Vector{X: 1}).Radians(), test.ShouldBeLessThan, 1e-6)
	test.That(t, p.Bitangent.Angle(r3.Vector{Y: -1}).Radians(), test.ShouldBeLessThan, 1e-6)
	for i, l := range s.FinalSegments() {
		test.That(t, l, test.ShouldEqual, 0)
		test.That(t, s.FinalDistances()[i], test.ShouldAlmostEqual, 0, 1e-5)
	}
	checkLabels(t, s)

	test.That(t, s.Level(), test.ShouldEqual, 2)
	test.That(t, s.NormalSegments(), test.ShouldHaveLength, 16*16)
	test.That(t, s.PlaneSegments(), test.ShouldHaveLength, 16*16)
	test.That(t, s.ProjectedDistances(), test.ShouldHaveLength, 16*16)
	test.That(t, s.NormalHistogram().Total(), test.ShouldEqual, 0)
}

func TestSegmentTwoPlanes(t *testing.T) {
	// two planes meeting at a vertical crease in the middle of the image, both
	// 1.4125 m from the camera
	left := r3.Vector{X: -1, Z: 1}.Normalize()
	right := r3.Vector{X: 1, Z: 1}.Normalize()
	s := segment(t, []rimage.SynthPlane{
		{Normal: left, Offset: 1.4125},
		{Normal: right, Offset: 1.4125},
	})

	test.That(t, s.Count(), test.ShouldEqual, 2)
	checkLabels(t, s)

	found := map[bool]bool{}
	for _, p := range s.PlaneStats()[:s.Count()] {
		want := left.Mul(-1)
		if p.Normal.X < 0 {
			want = right.Mul(-1)
		}
		found[p.Normal.X < 0] = true
		test.That(t, p.Normal.Angle(want).Radians(), test.ShouldBeLessThan, utils.DegToRad(1))
		test.That(t, p.Offset, test.ShouldAlmostEqual, -1.4125, 0.005)
		test.That(t, p.Count, test.ShouldBeGreaterThanOrEqualTo, 1900)
		test.That(t, p.Count, test.ShouldBeLessThanOrEqualTo, 2048)
	}
	test.That(t, len(found), test.ShouldEqual, 2)

	for i, l := range s.FinalSegments() {
		if l == NoSegment {
			continue
		}
		test.That(t, math.Abs(float64(s.FinalDistances()[i])), test.ShouldBeLessThanOrEqualTo, 0.015)
	}
}

func TestSegmentNoDepth(t *testing.T) {
	intr := testIntrinsics(64)
	normals, positions := buildPyramids(t, intr, rimage.NewFrame(64, 64))
	s, err := NewSegmenter(64, 64)
	test.That(t, err, test.ShouldBeNil)
	count, err := s.Segment(normals, positions, defaultParams())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 0)
	test.That(t, s.Peaks(), test.ShouldBeEmpty)
	for _, l := range s.FinalSegments() {
		test.That(t, l, test.ShouldEqual, NoSegment)
	}
}

func TestSegmentIsRepeatable(t *testing.T) {
	planes := []rimage.SynthPlane{
		{Normal: r3.Vector{X: -1, Z: 1}.Normalize(), Offset: 1.4125},
		{Normal: r3.Vector{X: 1, Z: 1}.Normalize(), Offset: 1.4125},
	}
	intr := testIntrinsics(64)
	normals, positions := buildPyramids(t, intr, rimage.SynthesizeFrame(intr, planes, 0))

	run := func() ([]PlaneStats, []int32, []uint32) {
		s, err := NewSegmenter(64, 64)
		test.That(t, err, test.ShouldBeNil)
		count, err := s.Segment(normals, positions, defaultParams())
		test.That(t, err, test.ShouldBeNil)
		stats := append([]PlaneStats(nil), s.PlaneStats()[:count]...)
		labels := append([]int32(nil), s.FinalSegments()...)
		bits := make([]uint32, len(s.FinalDistances()))
		for i, d := range s.FinalDistances() {
			bits[i] = math.Float32bits(d)
		}
		return stats, labels, bits
	}
	stats1, labels1, dist1 := run()
	stats2, labels2, dist2 := run()
	test.That(t, stats2, test.ShouldResemble, stats1)
	test.That(t, labels2, test.ShouldResemble, labels1)
	test.That(t, dist2, test.ShouldResemble, dist1)
}

func TestSegmenterErrors(t *testing.T) {
	_, err := NewSegmenter(30, 32)
	test.That(t, errors.Is(err, pyramid.ErrInvalidDimensions), test.ShouldBeTrue)

	s, err := NewSegmenter(64, 64)
	test.That(t, err, test.ShouldBeNil)
	small, err := pyramid.NewFloat3Pyramid(32, 32)
	test.That(t, err, test.ShouldBeNil)
	_, err = s.Segment(small, small, defaultParams())
	test.That(t, errors.Is(err, pyramid.ErrInvalidDimensions), test.ShouldBeTrue)

	bad := defaultParams()
	bad.Rounds = 0
	_, err = s.Segment(small, small, bad)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestParamsValidate(t *testing.T) {
	test.That(t, defaultParams().Validate(), test.ShouldBeNil)

	for _, mutate := range []func(*Params){
		func(p *Params) { p.Rounds = MaxSegmentationRounds + 1 },
		func(p *Params) { p.Level = pyramid.NumLevels },
		func(p *Params) { p.MaxPlanesOutput = -1 },
		func(p *Params) { p.MergeDist = 0 },
		func(p *Params) { p.FinalAngle = math.NaN() },
	} {
		p := defaultParams()
		mutate(&p)
		test.That(t, p.Validate(), test.ShouldNotBeNil)
	}
}
