package rimage

import (
	"fmt"
	"image"
	"strings"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/caomw/RGBD-to-Mesh/pyramid"
	"github.com/caomw/RGBD-to-Mesh/rimage/transform"
	"github.com/caomw/RGBD-to-Mesh/utils"
)

// NormalMode selects how normals are estimated from the vertex map.
type NormalMode int

// The normal estimation modes.
const (
	// NormalSimple crosses the forward differences to the right and lower neighbours.
	NormalSimple NormalMode = iota
	// NormalAverageGradient crosses Gaussian smoothed horizontal and vertical gradients.
	NormalAverageGradient
)

func (m NormalMode) String() string {
	switch m {
	case NormalSimple:
		return "simple"
	case NormalAverageGradient:
		return "average_gradient"
	default:
		return fmt.Sprintf("NormalMode(%d)", int(m))
	}
}

// ParseNormalMode parses the String form of a NormalMode.
func ParseNormalMode(s string) (NormalMode, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "simple":
		return NormalSimple, nil
	case "average_gradient", "":
		return NormalAverageGradient, nil
	default:
		return NormalSimple, errors.Errorf("unknown normal mode %q", s)
	}
}

// Preprocessor owns the scratch buffers of the preprocessing stage for one
// resolution. It is not safe for concurrent use.
type Preprocessor struct {
	width, height int
	intrinsics    transform.PinholeCameraIntrinsics

	raw     []float32
	depth   *pyramid.Float1Pyramid
	scratch []float32
	tmp     []float32
	gradH   *pyramid.Float3SOA
	gradV   *pyramid.Float3SOA
}

// NewPreprocessor allocates the scratch buffers for the resolution of the intrinsics.
func NewPreprocessor(intrinsics *transform.PinholeCameraIntrinsics) (*Preprocessor, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if err := pyramid.CheckDimensions(intrinsics.Width, intrinsics.Height); err != nil {
		return nil, err
	}
	depth, err := pyramid.NewFloat1Pyramid(intrinsics.Width, intrinsics.Height)
	if err != nil {
		return nil, err
	}
	n := intrinsics.Width * intrinsics.Height
	return &Preprocessor{
		width:      intrinsics.Width,
		height:     intrinsics.Height,
		intrinsics: *intrinsics,
		raw:        make([]float32, n),
		depth:      depth,
		scratch:    make([]float32, n),
		tmp:        make([]float32, n),
		gradH:      pyramid.NewFloat3SOA(n),
		gradV:      pyramid.NewFloat3SOA(n),
	}, nil
}

func (p *Preprocessor) size() image.Point {
	return image.Point{p.width, p.height}
}

// BuildRGBSOA splits the packed colors of f into level 0 of rgb, scaled to [0, 1].
func (p *Preprocessor) BuildRGBSOA(f *Frame, rgb pyramid.Float3) {
	utils.ParallelForEachPixel(p.size(), func(x, y int) {
		i := y*p.width + x
		c := f.Color[i]
		rgb.Set(i, float32(c.R)/255, float32(c.G)/255, float32(c.B)/255)
	})
}

// VertexMapParams controls BuildVertexMap.
type VertexMapParams struct {
	MaxDepth     float32
	Filter       FilterMode
	SpatialSigma float64
	DepthSigma   float32
}

// BuildVertexMap unprojects the depth of f into level 0 of vmap. Missing depth and
// depth beyond MaxDepth produce NaN vertices; filtering never fills them in.
func (p *Preprocessor) BuildVertexMap(f *Frame, params VertexMapParams, vmap pyramid.Float3) {
	for i, d := range f.Depth {
		z := d.Meters()
		if d == 0 || z > params.MaxDepth {
			z = math32.NaN()
		}
		p.raw[i] = z
	}

	depth := p.depth.Level(0).X
	switch params.Filter {
	case FilterGaussian:
		separableFilter(p.raw, depth, p.tmp, p.width, p.height, GaussianKernel1D(params.SpatialSigma))
	case FilterBilateral:
		bilateralFilter(p.raw, depth, p.width, p.height, GaussianKernel1D(params.SpatialSigma), params.DepthSigma)
	case FilterNone:
		copy(depth, p.raw)
	}

	intr := &p.intrinsics
	utils.ParallelForEachPixel(p.size(), func(x, y int) {
		i := y*p.width + x
		z := depth[i]
		if math32.IsNaN(z) {
			vmap.Invalidate(i)
			return
		}
		px, py, pz := intr.PixelToPoint(float64(x), float64(y), float64(z))
		vmap.Set(i, float32(px), float32(py), float32(pz))
	})
}

// Depth returns the filtered depth pyramid in metres. Level 0 is written by
// BuildVertexMap and the coarser levels by SubsampleDepth.
func (p *Preprocessor) Depth() *pyramid.Float1Pyramid {
	return p.depth
}

// SubsampleDepth fills the coarser levels of the depth pyramid by averaging 2x2
// blocks. A block with any missing sample is missing.
func (p *Preprocessor) SubsampleDepth() {
	for l := 1; l < pyramid.NumLevels; l++ {
		src, dst := p.depth.Level(l-1), p.depth.Level(l)
		utils.ParallelForEachPixel(image.Point{dst.Width, dst.Height}, func(x, y int) {
			s := 2*y*src.Width + 2*x
			// NaN propagates through the sum
			dst.X[y*dst.Width+x] = 0.25 * (src.X[s] + src.X[s+1] + src.X[s+src.Width] + src.X[s+src.Width+1])
		})
	}
}

// BuildNormalMap estimates level 0 of nmap from level 0 of vmap.
func (p *Preprocessor) BuildNormalMap(vmap, nmap pyramid.Float3, mode NormalMode, gradientSigma float64) {
	switch mode {
	case NormalAverageGradient:
		p.averageGradientNormals(vmap, nmap, gradientSigma)
	default:
		p.simpleNormals(vmap, nmap)
	}
}

func (p *Preprocessor) simpleNormals(vmap, nmap pyramid.Float3) {
	w, h := p.width, p.height
	utils.ParallelForEachPixel(p.size(), func(x, y int) {
		i := y*w + x
		if x == w-1 || y == h-1 {
			nmap.Invalidate(i)
			return
		}
		v := vec3At(vmap, i)
		right := vec3At(vmap, i+1)
		down := vec3At(vmap, i+w)
		n := right.sub(v).cross(down.sub(v))
		writeNormal(nmap, i, n, v)
	})
}

func (p *Preprocessor) averageGradientNormals(vmap, nmap pyramid.Float3, sigma float64) {
	w, h := p.width, p.height
	utils.ParallelForEachPixel(p.size(), func(x, y int) {
		i := y*w + x
		gh := gradient(vmap, i, x > 0, x < w-1, 1)
		gv := gradient(vmap, i, y > 0, y < h-1, w)
		p.gradH.X[i], p.gradH.Y[i], p.gradH.Z[i] = gh.x, gh.y, gh.z
		p.gradV.X[i], p.gradV.Y[i], p.gradV.Z[i] = gv.x, gv.y, gv.z
	})

	k := GaussianKernel1D(sigma)
	for _, g := range []*pyramid.Float3SOA{p.gradH, p.gradV} {
		for _, c := range [][]float32{g.X, g.Y, g.Z} {
			separableFilter(c, p.scratch, p.tmp, w, h, k)
			copy(c, p.scratch)
		}
	}

	utils.ParallelForEachPixel(p.size(), func(x, y int) {
		i := y*w + x
		gh := vec3{p.gradH.X[i], p.gradH.Y[i], p.gradH.Z[i]}
		gv := vec3{p.gradV.X[i], p.gradV.Y[i], p.gradV.Z[i]}
		writeNormal(nmap, i, gh.cross(gv), vec3At(vmap, i))
	})
}

// gradient is the central difference at i along stride, falling back to a one
// sided difference when a neighbour is missing.
func gradient(vmap pyramid.Float3, i int, hasPrev, hasNext bool, stride int) vec3 {
	c := vec3At(vmap, i)
	if c.isNaN() {
		return c
	}
	prev, next := nanVec3(), nanVec3()
	if hasPrev {
		prev = vec3At(vmap, i-stride)
	}
	if hasNext {
		next = vec3At(vmap, i+stride)
	}
	switch {
	case !prev.isNaN() && !next.isNaN():
		return next.sub(prev).scale(0.5)
	case !next.isNaN():
		return next.sub(c)
	case !prev.isNaN():
		return c.sub(prev)
	default:
		return nanVec3()
	}
}

// writeNormal normalises n, turns it to face the camera at v and stores it.
func writeNormal(nmap pyramid.Float3, i int, n, v vec3) {
	n = n.normalize()
	if n.isNaN() || v.isNaN() {
		nmap.Invalidate(i)
		return
	}
	if n.dot(v) > 0 {
		n = n.scale(-1)
	}
	nmap.Set(i, n.x, n.y, n.z)
}

// SubsamplePyramid fills levels 1.. of p by averaging 2x2 blocks of the level below.
// A block with any NaN sample produces NaN. Normal pyramids are renormalised.
func SubsamplePyramid(p *pyramid.Float3Pyramid, normalize bool) {
	for l := 1; l < pyramid.NumLevels; l++ {
		src, dst := p.Level(l-1), p.Level(l)
		utils.ParallelForEachPixel(image.Point{dst.Width, dst.Height}, func(x, y int) {
			s := 2*y*src.Width + 2*x
			sum := vec3At(src, s).
				add(vec3At(src, s+1)).
				add(vec3At(src, s+src.Width)).
				add(vec3At(src, s+src.Width+1))
			if normalize {
				sum = sum.normalize()
			} else {
				sum = sum.scale(0.25)
			}
			i := y*dst.Width + x
			if sum.isNaN() {
				dst.Invalidate(i)
				return
			}
			dst.Set(i, sum.x, sum.y, sum.z)
		})
	}
}

// vec3 is the float32 vector used inside the per pixel kernels.
type vec3 struct {
	x, y, z float32
}

func nanVec3() vec3 {
	nan := math32.NaN()
	return vec3{nan, nan, nan}
}

func vec3At(f pyramid.Float3, i int) vec3 {
	return vec3{f.X[i], f.Y[i], f.Z[i]}
}

func (a vec3) add(b vec3) vec3 {
	return vec3{a.x + b.x, a.y + b.y, a.z + b.z}
}

func (a vec3) sub(b vec3) vec3 {
	return vec3{a.x - b.x, a.y - b.y, a.z - b.z}
}

func (a vec3) scale(s float32) vec3 {
	return vec3{a.x * s, a.y * s, a.z * s}
}

func (a vec3) dot(b vec3) float32 {
	return a.x*b.x + a.y*b.y + a.z*b.z
}

func (a vec3) cross(b vec3) vec3 {
	return vec3{a.y*b.z - a.z*b.y, a.z*b.x - a.x*b.z, a.x*b.y - a.y*b.x}
}

func (a vec3) isNaN() bool {
	return math32.IsNaN(a.x) || math32.IsNaN(a.y) || math32.IsNaN(a.z)
}

// normalize returns NaN for zero length vectors.
func (a vec3) normalize() vec3 {
	l := math32.Sqrt(a.dot(a))
	if l == 0 || math32.IsNaN(l) {
		return nanVec3()
	}
	return a.scale(1 / l)
}
