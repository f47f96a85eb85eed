package main

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/chewxy/math32"
	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/caomw/RGBD-to-Mesh/logging"
	"github.com/caomw/RGBD-to-Mesh/pyramid"
	"github.com/caomw/RGBD-to-Mesh/rimage"
	"github.com/caomw/RGBD-to-Mesh/tracker"
	"github.com/caomw/RGBD-to-Mesh/vision/quadtree"
	"github.com/caomw/RGBD-to-Mesh/vision/segmentation"
)

// frameWriter writes the outputs of one processed frame under dir/frame_NNNN.
type frameWriter struct {
	dir    string
	logger logging.Logger
	csv    bool
	plots  bool
	images bool
}

func (fw *frameWriter) frameDir(index int) string {
	return filepath.Join(fw.dir, fmt.Sprintf("frame_%04d", index))
}

// write saves everything the tracker holds for its last frame. It must run before
// the next ProcessFrame call.
func (fw *frameWriter) write(ctx context.Context, index int, mt *tracker.MeshTracker, res *tracker.FrameResult) error {
	dir := fw.frameDir(index)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "creating %q", dir)
	}
	if err := writeMeshes(ctx, dir, res.Meshes); err != nil {
		return err
	}
	if fw.images {
		if err := writeDebugImages(dir, mt); err != nil {
			return err
		}
	}
	if fw.plots {
		if err := plotDistanceHistograms(filepath.Join(dir, "distance_histograms.png"), mt); err != nil {
			return err
		}
	}
	if fw.csv {
		if err := writeFile(filepath.Join(dir, "segmentation.csv"), func(w *bufio.Writer) error {
			return mt.WriteSegmentationCSV(w)
		}); err != nil {
			return err
		}
	}
	fw.logger.CDebugw(ctx, "frame written", "dir", dir, "meshes", len(res.Meshes))
	return nil
}

// writeMeshes writes every mesh as plane_NN.obj with its material and texture,
// one goroutine per mesh.
func writeMeshes(ctx context.Context, dir string, meshes []quadtree.QuadTreeMesh) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range meshes {
		mesh := &meshes[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := fmt.Sprintf("plane_%02d", i)
			if err := rimage.SaveImage(textureImage(mesh), filepath.Join(dir, name+".png")); err != nil {
				return err
			}
			if err := writeFile(filepath.Join(dir, name+".mtl"), func(w *bufio.Writer) error {
				return writeMTL(w, name)
			}); err != nil {
				return err
			}
			return writeFile(filepath.Join(dir, name+".obj"), func(w *bufio.Writer) error {
				return writeOBJ(w, name, mesh)
			})
		})
	}
	return g.Wait()
}

func writeFile(path string, write func(w *bufio.Writer) error) (err error) {
	//nolint:gosec
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	defer func() {
		err = multierr.Combine(err, file.Close())
	}()
	w := bufio.NewWriter(file)
	if err := write(w); err != nil {
		return errors.Wrapf(err, "writing %q", path)
	}
	return w.Flush()
}

func writeMTL(w *bufio.Writer, name string) error {
	_, err := fmt.Fprintf(w, "newmtl %s\nKa 1 1 1\nKd 1 1 1\nillum 1\nmap_Kd %s.png\n", name, name)
	return err
}

// writeOBJ writes mesh in camera space. Texture coordinates address the corner
// grid of the texture; degenerate triangles are dropped.
func writeOBJ(w *bufio.Writer, name string, mesh *quadtree.QuadTreeMesh) error {
	fmt.Fprintf(w, "# %d quads, %d vertices\nmtllib %s.mtl\nusemtl %s\n", mesh.NumQuads, mesh.NumVerts, name, name)
	proj := mesh.Stats.Proj
	lo := proj.AABBMeters.Lo()
	size := float64(mesh.TextureWidth)
	for i, v := range mesh.Vertices {
		p := mesh.WorldVertex(i)
		fmt.Fprintf(w, "v %.5f %.5f %.5f\n", p.X(), p.Y(), p.Z())
		gx := (float64(v[0])-lo.X)/proj.TexelSize + 0.5
		gy := (float64(v[1])-lo.Y)/proj.TexelSize + 0.5
		fmt.Fprintf(w, "vt %.5f %.5f\n", gx/size, 1-gy/size)
	}
	idx := mesh.TriangleIndices
	for t := 0; t+2 < len(idx); t += 3 {
		a, b, c := idx[t], idx[t+1], idx[t+2]
		if a == b || b == c || a == c {
			continue
		}
		if _, err := fmt.Fprintf(w, "f %d/%d %d/%d %d/%d\n", a+1, a+1, b+1, b+1, c+1, c+1); err != nil {
			return err
		}
	}
	return nil
}

// textureImage renders the rgb channels of a mesh texture; texels no pixel
// landed on are transparent.
func textureImage(mesh *quadtree.QuadTreeMesh) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, mesh.TextureWidth, mesh.TextureHeight))
	for i, t := range mesh.Texture {
		if math32.IsNaN(t[3]) {
			continue
		}
		img.SetNRGBA(i%mesh.TextureWidth, i/mesh.TextureWidth, color.NRGBA{
			R: toByte(t[0]), G: toByte(t[1]), B: toByte(t[2]), A: 255,
		})
	}
	return img
}

func toByte(v float32) uint8 {
	return uint8(math32.Round(255 * math32.Min(1, math32.Max(0, v))))
}

func writeDebugImages(dir string, mt *tracker.MeshTracker) error {
	intr := mt.Intrinsics()
	cfg := mt.Config()
	level := cfg.SegmentationLevel
	lw, lh := intr.Width>>level, intr.Height>>level

	images := map[string]image.Image{
		"labels.png":          rimage.LabelImage(mt.PlaneIDs(), intr.Width, intr.Height),
		"normals.png":         rimage.NormalMapImage(mt.NormalMap(0)),
		"depth.png":           rimage.DepthMapImage(mt.VertexMap(0), float32(cfg.MaxDepth)),
		"color.png":           rimage.RGBMapImage(mt.RGBMap(0)),
		"normal_segments.png": rimage.Upscale(rimage.LabelImage(mt.NormalSegments(), lw, lh), 1<<level),
		"normal_hist.png":     normalHistogramImage(mt.NormalHistogram(), 4),
		"normals_level.png":   levelImage(mt.NormalMap(level), level),
	}
	for name, img := range images {
		if err := rimage.SaveImage(img, filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// normalHistogramImage renders the bin counts on a log scale, azimuth along x.
func normalHistogramImage(h *segmentation.NormalHistogram, scale int) image.Image {
	counts := h.Counts()
	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	img := image.NewGray(image.Rect(0, 0, segmentation.NormalHistWidth, segmentation.NormalHistHeight))
	if maxCount > 0 {
		norm := math.Log1p(float64(maxCount))
		for i, c := range counts {
			img.Pix[i] = uint8(255 * math.Log1p(float64(c)) / norm)
		}
	}
	return imaging.Resize(img, segmentation.NormalHistWidth*scale, segmentation.NormalHistHeight*scale, imaging.NearestNeighbor)
}

// plotDistanceHistograms draws one line per normal cluster of the last round, with
// its detected distance peaks as points.
func plotDistanceHistograms(path string, mt *tracker.MeshTracker) error {
	p := plot.New()
	p.Title.Text = "distance histograms"
	p.X.Label.Text = "distance (m)"
	p.Y.Label.Text = "pixels"

	peaks := mt.DistancePeaks()
	for k := range mt.NormalPeaks() {
		hist := mt.DistanceHistogram(k)
		pts := make(plotter.XYs, len(hist))
		for b, c := range hist {
			pts[b] = plotter.XY{X: segmentation.DistanceHistMin + (float64(b)+0.5)*segmentation.DistanceHistResolution, Y: float64(c)}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "cluster %d", k)
		}
		line.Width = vg.Points(1)
		line.Color = rimage.LabelColor(k)
		p.Add(line)
		p.Legend.Add(clusterLabel(k, mt.ClusterAxes()), line)

		if (k+1)*segmentation.MaxDistancePeaks > len(peaks) {
			continue
		}
		var peakPts plotter.XYs
		for _, d := range peaks[k*segmentation.MaxDistancePeaks : (k+1)*segmentation.MaxDistancePeaks] {
			if math.IsNaN(d) {
				continue
			}
			b := int((d - segmentation.DistanceHistMin) / segmentation.DistanceHistResolution)
			if b < 0 || b >= len(hist) {
				continue
			}
			peakPts = append(peakPts, plotter.XY{X: d, Y: float64(hist[b])})
		}
		if len(peakPts) == 0 {
			continue
		}
		scatter, err := plotter.NewScatter(peakPts)
		if err != nil {
			return errors.Wrapf(err, "cluster %d peaks", k)
		}
		scatter.GlyphStyle.Color = rimage.LabelColor(k)
		p.Add(scatter)
	}
	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving %q", path)
	}
	return nil
}

func clusterLabel(k int, axes []r3.Vector) string {
	if k >= len(axes) {
		return fmt.Sprintf("cluster %d", k)
	}
	a := axes[k]
	return fmt.Sprintf("cluster %d (%.2f, %.2f, %.2f)", k, a.X, a.Y, a.Z)
}

// levelImage renders a coarse normal pyramid level at full size.
func levelImage(f pyramid.Float3, level int) image.Image {
	return rimage.Upscale(rimage.NormalMapImage(f), 1<<level)
}
