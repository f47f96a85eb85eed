// Package quadtree turns the pixels of each detected plane into a textured mesh.
// Member pixels are projected into a plane local texture, the texture is decimated
// with a quadtree that merges uniform regions, and one quad is emitted per leaf.
package quadtree

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"github.com/caomw/RGBD-to-Mesh/vision/segmentation"
)

const (
	// MaxTextureSize bounds both sides of a plane texture in texels.
	MaxTextureSize = 512
	// QuadtreeBufferSize is the default vertex capacity of one mesh.
	QuadtreeBufferSize = 1 << 17
	// ColorTolerance is the largest colour range, per channel in [0, 1], a merged leaf may span.
	ColorTolerance = 0.1
	// HeightTolerance is the largest height range in metres a merged leaf may span.
	HeightTolerance = 0.02

	blockSize = 1024
)

// ErrMeshCapacityExceeded is returned when a mesh needs more vertices than the mesher holds.
var ErrMeshCapacityExceeded = errors.New("quadtree mesh capacity exceeded")

// QuadTreeMesh is the textured mesh of one plane. Vertices and texture live in
// plane local coordinates: x along the bitangent, y along the tangent and height
// along the normal, all in metres; Transform maps them to camera space.
type QuadTreeMesh struct {
	// TextureWidth and TextureHeight are equal powers of two.
	TextureWidth, TextureHeight int
	// Texture holds rgb in [0, 1] and height per texel, row major. Texels no pixel
	// landed on have a NaN height.
	Texture []mgl32.Vec4
	// Vertices holds (x, y, height, 1) per vertex.
	Vertices []mgl32.Vec4
	// TriangleIndices holds 6 indices per vertex: the two triangles of the leaf
	// whose top left corner the vertex is, or a degenerate triple of the vertex
	// twice over.
	TriangleIndices []int32
	NumVerts        int
	// NumQuads is the number of quadtree leaves.
	NumQuads  int
	Stats     segmentation.PlaneStats
	Transform mgl64.Mat4
}

// Validate checks the index buffer against the vertex buffer.
func (m *QuadTreeMesh) Validate() error {
	if len(m.Vertices) != m.NumVerts {
		return errors.Errorf("mesh has %d vertices, expected %d", len(m.Vertices), m.NumVerts)
	}
	if len(m.TriangleIndices) != 6*m.NumVerts {
		return errors.Errorf("mesh has %d indices for %d vertices", len(m.TriangleIndices), m.NumVerts)
	}
	for i, idx := range m.TriangleIndices {
		if idx < 0 || int(idx) >= m.NumVerts {
			return errors.Errorf("index %d at %d out of range [0, %d)", idx, i, m.NumVerts)
		}
	}
	return nil
}

// WorldVertex returns vertex i in camera space.
func (m *QuadTreeMesh) WorldVertex(i int) mgl64.Vec3 {
	v := m.Vertices[i]
	return mgl64.TransformCoordinate(mgl64.Vec3{float64(v[0]), float64(v[1]), float64(v[2])}, m.Transform)
}

// PlaneTransform is the rigid transform from plane local to camera space: the
// rotation with columns (bitangent, tangent, normal) followed by a translation to
// the centroid.
func PlaneTransform(s *segmentation.PlaneStats) mgl64.Mat4 {
	rot := mgl64.Mat4FromCols(
		mgl64.Vec4{s.Bitangent.X, s.Bitangent.Y, s.Bitangent.Z, 0},
		mgl64.Vec4{s.Tangent.X, s.Tangent.Y, s.Tangent.Z, 0},
		mgl64.Vec4{s.Normal.X, s.Normal.Y, s.Normal.Z, 0},
		mgl64.Vec4{0, 0, 0, 1},
	)
	return mgl64.Translate3D(s.Centroid.X, s.Centroid.Y, s.Centroid.Z).Mul4(rot)
}
