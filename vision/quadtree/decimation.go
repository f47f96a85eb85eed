package quadtree

import (
	"github.com/chewxy/math32"

	"github.com/caomw/RGBD-to-Mesh/utils"
)

// Tolerances bound the per channel range a merged quadtree leaf may span.
type Tolerances struct {
	Color  float32
	Height float32
}

// DefaultTolerances are the merge tolerances used by the tracker.
var DefaultTolerances = Tolerances{Color: ColorTolerance, Height: HeightTolerance}

// treeLevel is one level of the quadtree: a side x side grid of nodes, each with
// the per channel range of the texels below it. A node without any destination
// texel below it is padding and carries no range.
type treeLevel struct {
	side     int
	whole    []bool
	padding  []bool
	min, max [][4]float32
}

// Tree is a quadtree over a square power of two texture. All levels of the largest
// supported texture are allocated once; smaller textures use a prefix of each level.
type Tree struct {
	size   int
	levels []treeLevel
	// leaves holds, per texel, the level of the leaf whose top left corner it is, or -1.
	leaves []int32
}

// NewTree allocates a quadtree for textures up to maxSize x maxSize.
func NewTree(maxSize int) *Tree {
	maxSize = utils.NextPow2(maxSize)
	t := &Tree{leaves: make([]int32, maxSize*maxSize)}
	for side := maxSize; side >= 1; side /= 2 {
		n := side * side
		t.levels = append(t.levels, treeLevel{
			whole:   make([]bool, n),
			padding: make([]bool, n),
			min:     make([][4]float32, n),
			max:     make([][4]float32, n),
		})
	}
	return t
}

// Size is the side of the decimated texture.
func (t *Tree) Size() int {
	return t.size
}

// LeafLevel returns the level of the leaf with top left texel (x, y), or -1 when no
// leaf starts there. A leaf at level k covers 2^k x 2^k texels.
func (t *Tree) LeafLevel(x, y int) int {
	return int(t.leaves[y*t.size+x])
}

// NumLeaves counts the leaves.
func (t *Tree) NumLeaves() int {
	n := 0
	for _, l := range t.leaves[:t.size*t.size] {
		if l >= 0 {
			n++
		}
	}
	return n
}

// Decimate builds the quadtree of tex. Every valid texel is a whole node; a node
// above it is whole when its four children are whole and every channel varies by
// at most the tolerance across them. Padding texels outside the destination
// rectangle are whole and merge with anything. Leaves are the whole non padding
// nodes whose parent is not whole, so each valid texel is covered by exactly one leaf.
func (t *Tree) Decimate(tex *Texture, tol Tolerances) {
	t.size = tex.Size
	numLevels := utils.Log2(t.size) + 1
	if t.size == 0 {
		numLevels = 0
	}

	for k := 0; k < numLevels; k++ {
		side := t.size >> k
		lvl := &t.levels[k]
		lvl.side = side
		utils.ParallelForEachBlock(side*side, blockSize, func(_, from, to int) {
			for i := from; i < to; i++ {
				if k == 0 {
					lvl.padding[i] = tex.Padding(i)
					lvl.whole[i] = lvl.padding[i] || tex.Valid(i)
					lvl.min[i] = tex.At(i)
					lvl.max[i] = lvl.min[i]
					continue
				}
				t.mergeChildren(k, i%side, i/side, tol)
			}
		})
	}

	for i := range t.leaves[:t.size*t.size] {
		t.leaves[i] = -1
	}
	for k := 0; k < numLevels; k++ {
		side := t.size >> k
		lvl := &t.levels[k]
		utils.ParallelForEachBlock(side*side, blockSize, func(_, from, to int) {
			for i := from; i < to; i++ {
				if !lvl.whole[i] || lvl.padding[i] {
					continue
				}
				x, y := i%side, i/side
				if k+1 < numLevels && t.levels[k+1].whole[(y/2)*(side/2)+x/2] {
					continue
				}
				t.leaves[(y<<k)*t.size+(x<<k)] = int32(k)
			}
		})
	}
}

func (t *Tree) mergeChildren(k, x, y int, tol Tolerances) {
	lvl := &t.levels[k]
	child := &t.levels[k-1]
	i := y*lvl.side + x
	lvl.whole[i] = false
	lvl.padding[i] = true

	var lo, hi [4]float32
	for c := 0; c < 4; c++ {
		cx, cy := 2*x+c%2, 2*y+c/2
		ci := cy*child.side + cx
		if !child.whole[ci] {
			lvl.padding[i] = false
			return
		}
		if child.padding[ci] {
			continue
		}
		if lvl.padding[i] {
			lvl.padding[i] = false
			lo, hi = child.min[ci], child.max[ci]
			continue
		}
		for ch := range lo {
			lo[ch] = math32.Min(lo[ch], child.min[ci][ch])
			hi[ch] = math32.Max(hi[ch], child.max[ci][ch])
		}
	}
	for ch := 0; ch < 3; ch++ {
		if hi[ch]-lo[ch] > tol.Color {
			return
		}
	}
	if hi[3]-lo[3] > tol.Height {
		return
	}
	lvl.whole[i] = true
	lvl.min[i], lvl.max[i] = lo, hi
}
