package tracker

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/caomw/RGBD-to-Mesh/pyramid"
	"github.com/caomw/RGBD-to-Mesh/vision/quadtree"
	"github.com/caomw/RGBD-to-Mesh/vision/segmentation"
)

// The accessors below expose the intermediate buffers of the last processed frame
// for inspection. They must not be called concurrently with ProcessFrame and their
// contents are overwritten by the next frame. Pyramid levels must be in
// [0, pyramid.NumLevels).

// VertexMap returns a level of the vertex pyramid.
func (t *MeshTracker) VertexMap(level int) pyramid.Float3 {
	return t.vmap.Level(level)
}

// DepthMap returns a level of the filtered depth pyramid in metres.
func (t *MeshTracker) DepthMap(level int) pyramid.Float1 {
	return t.pre.Depth().Level(level)
}

// ClusterAxes returns the mean normal of every direction cluster of the last inner
// segmentation pass.
func (t *MeshTracker) ClusterAxes() []r3.Vector {
	return t.segmenter.ClusterAxes()
}

// NormalMap returns a level of the normal pyramid.
func (t *MeshTracker) NormalMap(level int) pyramid.Float3 {
	return t.nmap.Level(level)
}

// RGBMap returns a level of the color pyramid.
func (t *MeshTracker) RGBMap(level int) pyramid.Float3 {
	return t.rgb.Level(level)
}

// NormalHistogram returns the normal histogram of the last segmentation round.
func (t *MeshTracker) NormalHistogram() *segmentation.NormalHistogram {
	return t.segmenter.NormalHistogram()
}

// NormalPeaks returns the normal peaks of the last segmentation round.
func (t *MeshTracker) NormalPeaks() []segmentation.NormalPeak {
	return t.segmenter.Peaks()
}

// DistanceHistogram returns a copy of the distance histogram of normal cluster k of
// the last segmentation round.
func (t *MeshTracker) DistanceHistogram(k int) []int {
	return t.segmenter.DistanceHistograms().Histogram(k)
}

// DistancePeaks returns the distance peaks of the last segmentation round, NaN for unused peaks.
func (t *MeshTracker) DistancePeaks() []float64 {
	return t.segmenter.DistancePeaks()
}

// NormalSegments returns the normal cluster of every pixel at the segmentation level.
func (t *MeshTracker) NormalSegments() []int32 {
	return t.segmenter.NormalSegments()
}

// ProjectedDistances returns the distance of every pixel along its normal cluster
// axis at the segmentation level.
func (t *MeshTracker) ProjectedDistances() []float32 {
	return t.segmenter.ProjectedDistances()
}

// FinalSegments returns the plane slot of every full resolution pixel.
func (t *MeshTracker) FinalSegments() []int32 {
	return t.segmenter.FinalSegments()
}

// FinalDistances returns the signed distance of every full resolution pixel to its plane.
func (t *MeshTracker) FinalDistances() []float32 {
	return t.segmenter.FinalDistances()
}

// PlaneIDs returns the dense plane id of every full resolution pixel.
func (t *MeshTracker) PlaneIDs() []int32 {
	return t.mesher.IDs()
}

// ProjectedSX returns the plane local bitangent coordinate of every labelled pixel.
func (t *MeshTracker) ProjectedSX() []float32 {
	return t.mesher.ProjectedSX()
}

// ProjectedSY returns the plane local tangent coordinate of every labelled pixel.
func (t *MeshTracker) ProjectedSY() []float32 {
	return t.mesher.ProjectedSY()
}

// ProjectedTexture returns the texture of the last plane projected.
func (t *MeshTracker) ProjectedTexture() *quadtree.Texture {
	return t.mesher.Texture()
}

// UnsegmentedCount is the number of full resolution pixels assigned to no plane.
func (t *MeshTracker) UnsegmentedCount() int {
	return t.unsegmentedCount()
}

func (t *MeshTracker) unsegmentedCount() int {
	return lo.CountBy(t.segmenter.FinalSegments(), func(l int32) bool { return l == segmentation.NoSegment })
}

var csvHeader = []string{"x", "y", "px", "py", "pz", "nx", "ny", "nz", "segment", "plane", "distance", "r", "g", "b"}

// WriteSegmentationCSV writes one row per full resolution pixel of the last frame:
// its position, normal, plane slot and dense plane id, signed distance to the plane
// and color. Invalid values are written as NaN.
func (t *MeshTracker) WriteSegmentationCSV(w io.Writer) error {
	out := csv.NewWriter(w)
	if err := out.Write(csvHeader); err != nil {
		return err
	}
	width := t.intrinsics.Width
	vmap, nmap, rgb := t.vmap.Level(0), t.nmap.Level(0), t.rgb.Level(0)
	segments, distances := t.segmenter.FinalSegments(), t.segmenter.FinalDistances()
	invIDMap := t.segmenter.InvIDMap()

	f := func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
	row := make([]string, len(csvHeader))
	for i := range segments {
		px, py, pz := vmap.At(i)
		nx, ny, nz := nmap.At(i)
		r, g, b := rgb.At(i)
		plane := segmentation.NoSegment
		if segments[i] >= 0 {
			plane = invIDMap[segments[i]]
		}
		row = append(row[:0],
			strconv.Itoa(i%width), strconv.Itoa(i/width),
			f(px), f(py), f(pz),
			f(nx), f(ny), f(nz),
			strconv.Itoa(int(segments[i])), strconv.Itoa(plane), f(distances[i]),
			f(r), f(g), f(b))
		if err := out.Write(row); err != nil {
			return errors.Wrapf(err, "pixel %d", i)
		}
	}
	out.Flush()
	return out.Error()
}
