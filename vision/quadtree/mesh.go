package quadtree

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/caomw/RGBD-to-Mesh/utils"
	"github.com/caomw/RGBD-to-Mesh/vision/segmentation"
)

// GenerateMesh emits the mesh of a decimated texture. Vertices are the corners of
// the leaves on the (size+1) x (size+1) corner grid, numbered in row major order
// with a block prefix sum. Every vertex owns six indices: the two triangles of the
// leaf whose top left corner it is, or a degenerate triple of itself, so
// len(TriangleIndices) == 6*NumVerts. It fails with ErrMeshCapacityExceeded when
// the mesh needs more vertices than the mesher holds. Stats and Transform are left
// for the caller.
func (m *Mesher) GenerateMesh(tree *Tree, tex *Texture, proj segmentation.ProjectionParams) (QuadTreeMesh, error) {
	size := tree.Size()
	side := size + 1
	n := side * side
	corners := m.corners[:n]
	vertexIndex := m.vertexIndex[:n]

	utils.ParallelForEachBlock(n, blockSize, func(_, from, to int) {
		for c := from; c < to; c++ {
			corners[c].Store(false)
		}
	})
	utils.ParallelForEachBlock(size*size, blockSize, func(_, from, to int) {
		for i := from; i < to; i++ {
			k := tree.leaves[i]
			if k < 0 {
				continue
			}
			x, y, s := i%size, i/size, 1<<k
			corners[y*side+x].Store(true)
			corners[y*side+x+s].Store(true)
			corners[(y+s)*side+x].Store(true)
			corners[(y+s)*side+x+s].Store(true)
		}
	})

	numBlocks := utils.NumBlocks(n, blockSize)
	offsets := make([]int, numBlocks+1)
	utils.ParallelForEachBlock(n, blockSize, func(block, from, to int) {
		count := 0
		for c := from; c < to; c++ {
			if corners[c].Load() {
				count++
			}
		}
		offsets[block+1] = count
	})
	for b := 0; b < numBlocks; b++ {
		offsets[b+1] += offsets[b]
	}
	numVerts := offsets[numBlocks]
	if numVerts > m.capacity {
		return QuadTreeMesh{}, errors.Wrapf(ErrMeshCapacityExceeded, "%d vertices needed, %d available", numVerts, m.capacity)
	}

	utils.ParallelForEachBlock(n, blockSize, func(block, from, to int) {
		next := int32(offsets[block])
		for c := from; c < to; c++ {
			vertexIndex[c] = -1
			if corners[c].Load() {
				vertexIndex[c] = next
				next++
			}
		}
	})

	mesh := QuadTreeMesh{
		TextureWidth:    size,
		TextureHeight:   size,
		Texture:         make([]mgl32.Vec4, size*size),
		Vertices:        make([]mgl32.Vec4, numVerts),
		TriangleIndices: make([]int32, 6*numVerts),
		NumVerts:        numVerts,
	}
	lo := proj.AABBMeters.Lo()
	texel := proj.TexelSize

	utils.ParallelForEachBlock(n, blockSize, func(_, from, to int) {
		for c := from; c < to; c++ {
			vi := vertexIndex[c]
			if vi < 0 {
				continue
			}
			gx, gy := c%side, c/side
			mesh.Vertices[vi] = mgl32.Vec4{
				float32(lo.X + (float64(gx)-0.5)*texel),
				float32(lo.Y + (float64(gy)-0.5)*texel),
				cornerHeight(tex, gx, gy),
				1,
			}
			out := mesh.TriangleIndices[6*int(vi) : 6*int(vi)+6]
			k := int32(-1)
			if gx < size && gy < size {
				k = tree.leaves[gy*size+gx]
			}
			if k < 0 {
				for j := range out {
					out[j] = vi
				}
				continue
			}
			s := 1 << k
			tr := vertexIndex[gy*side+gx+s]
			bl := vertexIndex[(gy+s)*side+gx]
			br := vertexIndex[(gy+s)*side+gx+s]
			copy(out, []int32{vi, tr, bl, tr, br, bl})
		}
	})

	for i := range mesh.Texture {
		mesh.Texture[i] = tex.At(i)
	}
	mesh.NumQuads = tree.NumLeaves()
	return mesh, nil
}

// cornerHeight is the height of the first valid texel touching grid corner (x, y),
// or 0 when none is valid.
func cornerHeight(tex *Texture, x, y int) float32 {
	for _, d := range [4][2]int{{0, 0}, {-1, 0}, {0, -1}, {-1, -1}} {
		tx, ty := x+d[0], y+d[1]
		if tx < 0 || ty < 0 || tx >= tex.Size || ty >= tex.Size {
			continue
		}
		if i := ty*tex.Size + tx; tex.Valid(i) {
			return tex.Texels.W[i]
		}
	}
	return 0
}
