package rimage

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/caomw/RGBD-to-Mesh/pyramid"
	"github.com/caomw/RGBD-to-Mesh/rimage/transform"
)

func testIntrinsics(size int) *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width: size, Height: size,
		Fx: float64(size), Fy: float64(size),
		Ppx: float64(size)/2 - 0.5, Ppy: float64(size)/2 - 0.5,
	}
}

func newBuffers(t *testing.T, intr *transform.PinholeCameraIntrinsics) (*Preprocessor, *pyramid.Float3Pyramid, *pyramid.Float3Pyramid) {
	t.Helper()
	pre, err := NewPreprocessor(intr)
	test.That(t, err, test.ShouldBeNil)
	vmap, err := pyramid.NewFloat3Pyramid(intr.Width, intr.Height)
	test.That(t, err, test.ShouldBeNil)
	nmap, err := pyramid.NewFloat3Pyramid(intr.Width, intr.Height)
	test.That(t, err, test.ShouldBeNil)
	return pre, vmap, nmap
}

func constantDepthFrame(size int, mm DepthPixel) *Frame {
	f := NewFrame(size, size)
	for i := range f.Depth {
		f.Depth[i] = mm
	}
	return f
}

func isNaN32(v float32) bool {
	return math.IsNaN(float64(v))
}

func TestNewPreprocessor(t *testing.T) {
	_, err := NewPreprocessor(nil)
	test.That(t, err, test.ShouldNotBeNil)

	intr := testIntrinsics(8)
	intr.Width = 10
	_, err = NewPreprocessor(intr)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "divisible")
}

func TestBuildVertexMapNoFilter(t *testing.T) {
	intr := testIntrinsics(8)
	pre, vmap, _ := newBuffers(t, intr)

	f := constantDepthFrame(8, 2000)
	f.Depth[0] = 0
	f.Depth[1] = 6000
	pre.BuildVertexMap(f, VertexMapParams{MaxDepth: 5, Filter: FilterNone}, vmap.Level(0))

	lvl := vmap.Level(0)
	x, y, z := lvl.At(0)
	test.That(t, isNaN32(x) && isNaN32(y) && isNaN32(z), test.ShouldBeTrue)
	_, _, z = lvl.At(1)
	test.That(t, isNaN32(z), test.ShouldBeTrue)

	x, y, z = lvl.At(3*8 + 3)
	test.That(t, z, test.ShouldEqual, 2)
	test.That(t, x, test.ShouldAlmostEqual, -0.125, 1e-6)
	test.That(t, y, test.ShouldAlmostEqual, -0.125, 1e-6)
}

func TestDepthPyramid(t *testing.T) {
	intr := testIntrinsics(8)
	pre, vmap, _ := newBuffers(t, intr)

	f := constantDepthFrame(8, 1500)
	f.Depth[0] = 0
	pre.BuildVertexMap(f, VertexMapParams{MaxDepth: 5, Filter: FilterNone}, vmap.Level(0))
	pre.SubsampleDepth()

	depth := pre.Depth()
	test.That(t, isNaN32(depth.Level(0).X[0]), test.ShouldBeTrue)
	test.That(t, depth.Level(0).X[1], test.ShouldEqual, float32(1.5))
	l1 := depth.Level(1)
	test.That(t, l1.Width, test.ShouldEqual, 4)
	test.That(t, isNaN32(l1.X[0]), test.ShouldBeTrue)
	test.That(t, l1.X[1], test.ShouldEqual, float32(1.5))
	l2 := depth.Level(2)
	test.That(t, isNaN32(l2.X[0]), test.ShouldBeTrue)
	test.That(t, l2.X[3], test.ShouldEqual, float32(1.5))

	pre.BuildVertexMap(f, VertexMapParams{MaxDepth: 5, Filter: FilterGaussian, SpatialSigma: 1}, vmap.Level(0))
	test.That(t, isNaN32(depth.Level(0).X[0]), test.ShouldBeTrue)
	test.That(t, depth.Level(0).X[20], test.ShouldAlmostEqual, 1.5, 1e-5)
}

func TestGaussianFilterKeepsHoles(t *testing.T) {
	intr := testIntrinsics(8)
	pre, vmap, _ := newBuffers(t, intr)

	f := constantDepthFrame(8, 1500)
	f.Depth[3*8+3] = 0
	pre.BuildVertexMap(f, VertexMapParams{MaxDepth: 5, Filter: FilterGaussian, SpatialSigma: 1}, vmap.Level(0))

	lvl := vmap.Level(0)
	for i, z := range lvl.Z {
		if i == 3*8+3 {
			test.That(t, isNaN32(z), test.ShouldBeTrue)
			continue
		}
		test.That(t, z, test.ShouldAlmostEqual, 1.5, 1e-5)
	}
}

func stepFrame(size int) *Frame {
	f := NewFrame(size, size)
	for i := range f.Depth {
		if i%size < size/2 {
			f.Depth[i] = 1000
		} else {
			f.Depth[i] = 2000
		}
	}
	return f
}

func TestBilateralPreservesEdges(t *testing.T) {
	intr := testIntrinsics(8)
	pre, vmap, _ := newBuffers(t, intr)
	edge := 3*8 + 3

	pre.BuildVertexMap(stepFrame(8), VertexMapParams{MaxDepth: 5, Filter: FilterGaussian, SpatialSigma: 1}, vmap.Level(0))
	test.That(t, vmap.Level(0).Z[edge], test.ShouldBeGreaterThan, 1.05)

	pre.BuildVertexMap(stepFrame(8), VertexMapParams{
		MaxDepth: 5, Filter: FilterBilateral, SpatialSigma: 1, DepthSigma: 0.01,
	}, vmap.Level(0))
	test.That(t, vmap.Level(0).Z[edge], test.ShouldAlmostEqual, 1, 1e-4)
	test.That(t, vmap.Level(0).Z[edge+1], test.ShouldAlmostEqual, 2, 1e-4)
}

func TestSimpleNormalsFrontalPlane(t *testing.T) {
	intr := testIntrinsics(8)
	pre, vmap, nmap := newBuffers(t, intr)

	pre.BuildVertexMap(constantDepthFrame(8, 2000), VertexMapParams{MaxDepth: 5}, vmap.Level(0))
	pre.BuildNormalMap(vmap.Level(0), nmap.Level(0), NormalSimple, 0)

	lvl := nmap.Level(0)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			nx, ny, nz := lvl.At(y*8 + x)
			if x == 7 || y == 7 {
				test.That(t, isNaN32(nz), test.ShouldBeTrue)
				continue
			}
			test.That(t, nx, test.ShouldAlmostEqual, 0, 1e-6)
			test.That(t, ny, test.ShouldAlmostEqual, 0, 1e-6)
			test.That(t, nz, test.ShouldAlmostEqual, -1, 1e-6)
		}
	}
}

func TestAverageGradientNormalsTiltedPlane(t *testing.T) {
	intr := testIntrinsics(32)
	pre, vmap, nmap := newBuffers(t, intr)

	// z - x = 2, facing the camera with normal (1, 0, -1)/sqrt(2)
	f := SynthesizeFrame(intr, []SynthPlane{{Normal: r3.Vector{X: -1, Z: 1}, Offset: 2}}, 1)
	pre.BuildVertexMap(f, VertexMapParams{MaxDepth: 5}, vmap.Level(0))
	pre.BuildNormalMap(vmap.Level(0), nmap.Level(0), NormalAverageGradient, 2)

	want := r3.Vector{X: 1, Z: -1}.Normalize()
	lvl := nmap.Level(0)
	for y := 4; y < 28; y++ {
		for x := 4; x < 28; x++ {
			nx, ny, nz := lvl.At(y*32 + x)
			got := r3.Vector{X: float64(nx), Y: float64(ny), Z: float64(nz)}
			test.That(t, got.Angle(want).Radians(), test.ShouldBeLessThan, 0.02)
		}
	}
}

func TestMissingDepthGivesInvalidNormals(t *testing.T) {
	intr := testIntrinsics(8)
	pre, vmap, nmap := newBuffers(t, intr)

	pre.BuildVertexMap(NewFrame(8, 8), VertexMapParams{MaxDepth: 5}, vmap.Level(0))
	for _, mode := range []NormalMode{NormalSimple, NormalAverageGradient} {
		pre.BuildNormalMap(vmap.Level(0), nmap.Level(0), mode, 1)
		for _, nz := range nmap.Level(0).Z {
			test.That(t, isNaN32(nz), test.ShouldBeTrue)
		}
	}
}

func TestSubsamplePyramid(t *testing.T) {
	p, err := pyramid.NewFloat3Pyramid(4, 4)
	test.That(t, err, test.ShouldBeNil)
	lvl := p.Level(0)
	for i := range lvl.X {
		lvl.Set(i, float32(i%4), float32(i/4), 1)
	}
	lvl.Invalidate(15)

	SubsamplePyramid(p, false)
	l1 := p.Level(1)
	x, y, z := l1.At(0)
	test.That(t, x, test.ShouldEqual, 0.5)
	test.That(t, y, test.ShouldEqual, 0.5)
	test.That(t, z, test.ShouldEqual, 1)
	_, _, z = l1.At(3)
	test.That(t, isNaN32(z), test.ShouldBeTrue)
	_, _, z = p.Level(2).At(0)
	test.That(t, isNaN32(z), test.ShouldBeTrue)

	n, err := pyramid.NewFloat3Pyramid(4, 4)
	test.That(t, err, test.ShouldBeNil)
	nl := n.Level(0)
	for i := range nl.X {
		if i%2 == 0 {
			nl.Set(i, 1, 0, 0)
		} else {
			nl.Set(i, 0, 1, 0)
		}
	}
	SubsamplePyramid(n, true)
	nx, ny, nz := n.Level(1).At(0)
	test.That(t, nx, test.ShouldAlmostEqual, math.Sqrt2/2, 1e-6)
	test.That(t, ny, test.ShouldAlmostEqual, math.Sqrt2/2, 1e-6)
	test.That(t, nz, test.ShouldEqual, 0)
}

func TestBuildRGBSOA(t *testing.T) {
	intr := testIntrinsics(4)
	pre, err := NewPreprocessor(intr)
	test.That(t, err, test.ShouldBeNil)
	rgb, err := pyramid.NewFloat3Pyramid(4, 4)
	test.That(t, err, test.ShouldBeNil)

	f := NewFrame(4, 4)
	f.Color[5] = ColorPixel{255, 0, 51}
	pre.BuildRGBSOA(f, rgb.Level(0))
	r, g, b := rgb.Level(0).At(5)
	test.That(t, r, test.ShouldEqual, 1)
	test.That(t, g, test.ShouldEqual, 0)
	test.That(t, b, test.ShouldAlmostEqual, 0.2, 1e-6)
}

func TestModes(t *testing.T) {
	for _, m := range []FilterMode{FilterNone, FilterGaussian, FilterBilateral} {
		parsed, err := ParseFilterMode(m.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, m)
	}
	_, err := ParseFilterMode("median")
	test.That(t, err, test.ShouldNotBeNil)

	for _, m := range []NormalMode{NormalSimple, NormalAverageGradient} {
		parsed, err := ParseNormalMode(m.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, m)
	}
	mode, err := ParseNormalMode("average-gradient")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode, test.ShouldEqual, NormalAverageGradient)
}

func TestGaussianKernel1D(t *testing.T) {
	k := GaussianKernel1D(1)
	test.That(t, k.Offsets, test.ShouldResemble, []int{-2, -1, 0, 1, 2})
	test.That(t, k.Radius(), test.ShouldEqual, 2)
	var sum float32
	for _, w := range k.Weights {
		sum += w
	}
	test.That(t, sum, test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, k.Weights[0], test.ShouldEqual, k.Weights[4])

	test.That(t, KernelRadius(0.2), test.ShouldEqual, 1)
	test.That(t, KernelRadius(10), test.ShouldEqual, 20)
}
