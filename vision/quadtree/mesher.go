package quadtree

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/caomw/RGBD-to-Mesh/pyramid"
	"github.com/caomw/RGBD-to-Mesh/rimage/transform"
	"github.com/caomw/RGBD-to-Mesh/vision/segmentation"
)

// Mesher owns the buffers of the texture projection and quadtree stages for one
// resolution. It is not safe for concurrent use.
type Mesher struct {
	width, height int
	capacity      int
	tolerances    Tolerances

	ids    []int32
	sx, sy []float32

	tex         *Texture
	tree        *Tree
	corners     []atomic.Bool
	vertexIndex []int32
}

// NewMesher allocates a Mesher for width x height frames whose meshes hold at most
// capacity vertices. A capacity <= 0 selects QuadtreeBufferSize.
func NewMesher(width, height, capacity int) (*Mesher, error) {
	if err := pyramid.CheckDimensions(width, height); err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = QuadtreeBufferSize
	}
	n := width * height
	grid := (MaxTextureSize + 1) * (MaxTextureSize + 1)
	return &Mesher{
		width:       width,
		height:      height,
		capacity:    capacity,
		tolerances:  DefaultTolerances,
		ids:         make([]int32, n),
		sx:          make([]float32, n),
		sy:          make([]float32, n),
		tex:         NewTexture(MaxTextureSize),
		tree:        NewTree(MaxTextureSize),
		corners:     make([]atomic.Bool, grid),
		vertexIndex: make([]int32, grid),
	}, nil
}

// SetTolerances changes the decimation tolerances of later builds.
func (m *Mesher) SetTolerances(tol Tolerances) {
	m.tolerances = tol
}

// Capacity is the vertex capacity of one mesh.
func (m *Mesher) Capacity() int {
	return m.capacity
}

// Input is what the mesher reads from the earlier stages of a frame.
type Input struct {
	Intrinsics *transform.PinholeCameraIntrinsics
	// Stats holds the compacted planes; Count of them are meaningful.
	Stats    []segmentation.PlaneStats
	Count    int
	InvIDMap []int
	// Positions and RGB are level 0 of the vertex and colour pyramids.
	Positions pyramid.Float3
	RGB       pyramid.Float3
	// Segments and Distances are the per pixel final plane slots and signed
	// distances to them.
	Segments  []int32
	Distances []float32
}

// Result is the output of Build.
type Result struct {
	Meshes []QuadTreeMesh
	// Clamped counts planes whose texture density was reduced to fit MaxTextureSize.
	Clamped int
	// Skipped counts planes that produced no mesh.
	Skipped int
}

// Build projects and meshes every plane of in, writing the projection parameters
// back into in.Stats. A plane whose mesh does not fit the capacity is skipped;
// the returned error then combines one ErrMeshCapacityExceeded per skipped plane
// while the result still holds the meshes of all other planes.
func (m *Mesher) Build(in Input) (Result, error) {
	if len(in.Segments) != m.width*m.height {
		return Result{}, errors.Wrapf(pyramid.ErrInvalidDimensions, "mesher is %dx%d, got %d segments",
			m.width, m.height, len(in.Segments))
	}
	ComputeAABBs(in.Stats, in.Count, in.InvIDMap, in.Positions, in.Segments, m.ids, m.sx, m.sy)
	res := Result{Clamped: CalculateProjectionData(in.Intrinsics, in.Stats, in.Count, MaxTextureSize)}

	var errs error
	for d := 0; d < in.Count; d++ {
		s := &in.Stats[d]
		if s.Proj.DestWidth <= 0 || s.Proj.DestHeight <= 0 {
			res.Skipped++
			continue
		}
		ProjectTexture(d, s, m.ids, m.sx, m.sy, in.RGB, in.Distances, in.Intrinsics, m.tex)
		m.tree.Decimate(m.tex, m.tolerances)
		mesh, err := m.GenerateMesh(m.tree, m.tex, s.Proj)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "plane %d", d))
			res.Skipped++
			continue
		}
		mesh.Stats = *s
		mesh.Transform = PlaneTransform(s)
		res.Meshes = append(res.Meshes, mesh)
	}
	return res, errs
}

// IDs returns the dense plane id of every pixel of the last build.
func (m *Mesher) IDs() []int32 {
	return m.ids
}

// ProjectedSX returns the bitangent coordinate of every labelled pixel of the last build.
func (m *Mesher) ProjectedSX() []float32 {
	return m.sx
}

// ProjectedSY returns the tangent coordinate of every labelled pixel of the last build.
func (m *Mesher) ProjectedSY() []float32 {
	return m.sy
}

// Texture returns the working texture of the last plane projected.
func (m *Mesher) Texture() *Texture {
	return m.tex
}

// Tree returns the quadtree of the last plane decimated.
func (m *Mesher) Tree() *Tree {
	return m.tree
}
