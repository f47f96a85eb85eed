package quadtree

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.uber.org/atomic"

	"github.com/caomw/RGBD-to-Mesh/pyramid"
	"github.com/caomw/RGBD-to-Mesh/rimage/transform"
	"github.com/caomw/RGBD-to-Mesh/utils"
	"github.com/caomw/RGBD-to-Mesh/vision/segmentation"
)

// ComputeAABBs labels every pixel with the dense id of its plane, through invIDMap,
// and writes its plane local coordinates into sx (along the bitangent) and sy
// (along the tangent), relative to the centroid. Unlabelled pixels get
// segmentation.NoSegment and NaN. The bounding box of each of the first count
// planes is stored in its Proj.AABBMeters.
func ComputeAABBs(
	stats []segmentation.PlaneStats,
	count int,
	invIDMap []int,
	positions pyramid.Float3,
	segments []int32,
	ids []int32,
	sx, sy []float32,
) {
	n := len(segments)
	numBlocks := utils.NumBlocks(n, blockSize)
	partials := make([]r2.Rect, numBlocks*count)
	for i := range partials {
		partials[i] = r2.EmptyRect()
	}

	utils.ParallelForEachBlock(n, blockSize, func(block, from, to int) {
		boxes := partials[block*count : (block+1)*count]
		for i := from; i < to; i++ {
			ids[i] = segmentation.NoSegment
			sx[i], sy[i] = math32.NaN(), math32.NaN()
			slot := segments[i]
			if slot < 0 {
				continue
			}
			d := invIDMap[slot]
			if d < 0 || d >= count {
				continue
			}
			s := &stats[d]
			x, y, z := positions.At(i)
			rel := r3.Vector{X: float64(x), Y: float64(y), Z: float64(z)}.Sub(s.Centroid)
			p := r2.Point{X: rel.Dot(s.Bitangent), Y: rel.Dot(s.Tangent)}
			ids[i] = int32(d)
			sx[i], sy[i] = float32(p.X), float32(p.Y)
			boxes[d] = boxes[d].AddPoint(r2.Point{X: float64(sx[i]), Y: float64(sy[i])})
		}
	})

	for d := 0; d < count; d++ {
		box := r2.EmptyRect()
		for b := 0; b < numBlocks; b++ {
			box = box.Union(partials[b*count+d])
		}
		stats[d].Proj.AABBMeters = box
	}
}

// CalculateProjectionData picks the texel size and destination texture size of the
// first count planes. A texel covers one source pixel at the plane's centroid depth
// unless the bounding box would then not fit in maxTextureSize texels, in which case
// the density is reduced to fit. It returns how many planes were reduced.
func CalculateProjectionData(
	intrinsics *transform.PinholeCameraIntrinsics,
	stats []segmentation.PlaneStats,
	count int,
	maxTextureSize int,
) int {
	clamped := 0
	for d := 0; d < count; d++ {
		s := &stats[d]
		box := s.Proj.AABBMeters
		s.Proj.DestWidth, s.Proj.DestHeight, s.Proj.TexelSize = 0, 0, 0
		if box.IsEmpty() {
			continue
		}
		w, h := box.X.Length(), box.Y.Length()
		texel := intrinsics.PixelFootprint(s.Centroid.Z)
		if limit := math.Max(w, h) / float64(maxTextureSize-1); limit > texel {
			texel = limit
			clamped++
		}
		if texel <= 0 || math.IsNaN(texel) {
			continue
		}
		s.Proj.TexelSize = texel
		s.Proj.DestWidth = utils.MinInt(int(math.Round(w/texel))+1, maxTextureSize)
		s.Proj.DestHeight = utils.MinInt(int(math.Round(h/texel))+1, maxTextureSize)
	}
	return clamped
}

// Texture is the working rgb + height buffer of one plane, a Size x Size square.
// Only the top left Width x Height texels lie on the plane's bounding box; the rest
// is padding up to the power of two side.
type Texture struct {
	Size          int
	Width, Height int
	Texels        *pyramid.Float4SOA
	winners       []atomic.Int32
}

// NewTexture allocates a texture able to hold maxSize x maxSize texels.
func NewTexture(maxSize int) *Texture {
	return &Texture{
		Texels:  pyramid.NewFloat4SOA(maxSize * maxSize),
		winners: make([]atomic.Int32, maxSize*maxSize),
	}
}

// Len is the number of texels in use.
func (t *Texture) Len() int {
	return t.Size * t.Size
}

// Valid reports whether a source pixel landed on texel i.
func (t *Texture) Valid(i int) bool {
	return !math32.IsNaN(t.Texels.W[i])
}

// Padding reports whether texel i lies outside the destination rectangle.
func (t *Texture) Padding(i int) bool {
	return i%t.Size >= t.Width || i/t.Size >= t.Height
}

// At returns texel i as rgb + height.
func (t *Texture) At(i int) [4]float32 {
	return [4]float32{t.Texels.X[i], t.Texels.Y[i], t.Texels.Z[i], t.Texels.W[i]}
}

func (t *Texture) reset(size, width, height int) {
	t.Size = size
	t.Width, t.Height = width, height
	n := t.Len()
	t.Texels.Fill(n, 0, 0, 0, math32.NaN())
	for i := 0; i < n; i++ {
		t.winners[i].Store(-1)
	}
}

// ProjectTexture scatters the pixels of plane id into tex. The texture side is the
// next power of two of the plane's destination size. When several pixels land on
// one texel the highest pixel index wins, so the result does not depend on
// scheduling. Each texel receives the winner's rgb and its signed distance to the plane.
// With intrinsics set, destination texels no pixel landed on are then filled from
// the pixel their centre projects to, when that pixel belongs to the plane. This
// closes the gaps a plane seen at an angle leaves between scattered pixels.
func ProjectTexture(
	id int,
	s *segmentation.PlaneStats,
	ids []int32,
	sx, sy []float32,
	rgb pyramid.Float3,
	distances []float32,
	intrinsics *transform.PinholeCameraIntrinsics,
	tex *Texture,
) {
	proj := s.Proj
	tex.reset(utils.NextPow2(utils.MaxInt(proj.DestWidth, proj.DestHeight)), proj.DestWidth, proj.DestHeight)
	if proj.DestWidth <= 0 || proj.DestHeight <= 0 {
		return
	}
	size := tex.Size
	lo := proj.AABBMeters.Lo()

	utils.ParallelForEachBlock(len(ids), blockSize, func(_, from, to int) {
		for i := from; i < to; i++ {
			if int(ids[i]) != id {
				continue
			}
			u := int(math.Round((float64(sx[i]) - lo.X) / proj.TexelSize))
			v := int(math.Round((float64(sy[i]) - lo.Y) / proj.TexelSize))
			if u < 0 || u >= proj.DestWidth || v < 0 || v >= proj.DestHeight {
				continue
			}
			w := &tex.winners[v*size+u]
			for {
				cur := w.Load()
				if int32(i) <= cur || w.CompareAndSwap(cur, int32(i)) {
					break
				}
			}
		}
	})

	utils.ParallelForEachBlock(tex.Len(), blockSize, func(_, from, to int) {
		for t := from; t < to; t++ {
			w := tex.winners[t].Load()
			if w < 0 && intrinsics != nil && !tex.Padding(t) {
				w = gatherPixel(id, s, ids, rgb.Width, rgb.Height, intrinsics, t%size, t/size)
			}
			if w < 0 {
				continue
			}
			tex.Texels.X[t], tex.Texels.Y[t], tex.Texels.Z[t] = rgb.At(int(w))
			tex.Texels.W[t] = distances[w]
		}
	})
}

// gatherPixel returns the index of the pixel texel (u, v) of plane id projects to,
// or -1 when it falls outside the image or on another plane.
func gatherPixel(
	id int,
	s *segmentation.PlaneStats,
	ids []int32,
	width, height int,
	intrinsics *transform.PinholeCameraIntrinsics,
	u, v int,
) int32 {
	lo := s.Proj.AABBMeters.Lo()
	p := s.Centroid.
		Add(s.Bitangent.Mul(lo.X + float64(u)*s.Proj.TexelSize)).
		Add(s.Tangent.Mul(lo.Y + float64(v)*s.Proj.TexelSize))
	if p.Z <= 0 {
		return -1
	}
	px, py := intrinsics.PointToPixel(p.X, p.Y, p.Z)
	x, y := int(math.Round(px)), int(math.Round(py))
	if x < 0 || x >= width || y < 0 || y >= height {
		return -1
	}
	if i := y*width + x; int(ids[i]) == id {
		return int32(i)
	}
	return -1
}
