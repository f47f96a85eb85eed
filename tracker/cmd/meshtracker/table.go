package main

import (
	"fmt"
	"io"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/caomw/RGBD-to-Mesh/tracker"
)

// planeTable lists the meshes of a frame, one row per plane, with its normal,
// centroid and mesh size.
func planeTable(res *tracker.FrameResult) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Pixels", "Normal", "Centroid", "Texture", "Quads", "Vertices"})
	for i := range res.Meshes {
		m := &res.Meshes[i]
		n, c := m.Stats.Normal, m.Stats.Centroid
		t.AppendRow(table.Row{
			i,
			m.Stats.Count,
			fmt.Sprintf("%.2f, %.2f, %.2f", n.X, n.Y, n.Z),
			fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", c.X, c.Y, c.Z),
			fmt.Sprintf("%dx%d", m.TextureWidth, m.TextureHeight),
			m.NumQuads,
			m.NumVerts,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "skipped", res.Skipped, ""})
	return t.Render()
}

// printDurationHistogram draws the frame times of a run in ms as a text histogram.
func printDurationHistogram(w io.Writer, durationsMs []float64) error {
	if len(durationsMs) == 0 {
		return nil
	}
	nbins := len(durationsMs)
	if nbins > 10 {
		nbins = 10
	}
	fmt.Fprintln(w, "frame time (ms)")
	return histogram.Fprint(w, histogram.Hist(nbins, durationsMs), histogram.Linear(40))
}
