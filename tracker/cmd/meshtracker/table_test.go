package main

import (
	"bytes"
	"strings"
	"testing"

	"go.viam.com/test"

	"github.com/caomw/RGBD-to-Mesh/tracker"
	"github.com/caomw/RGBD-to-Mesh/vision/quadtree"
)

func TestPlaneTable(t *testing.T) {
	quad := singleQuadMesh()
	out := planeTable(&tracker.FrameResult{Meshes: []quadtree.QuadTreeMesh{quad, quad}, Skipped: 3})
	test.That(t, out, test.ShouldContainSubstring, "CENTROID")
	test.That(t, out, test.ShouldContainSubstring, "0.00, 0.00, -1.00")
	test.That(t, out, test.ShouldContainSubstring, "X:0.000, Y:0.000, Z:2.000")
	test.That(t, strings.Count(out, "1x1"), test.ShouldEqual, 2)
	test.That(t, out, test.ShouldContainSubstring, "SKIPPED")
}

func TestPrintDurationHistogram(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, printDurationHistogram(&buf, nil), test.ShouldBeNil)
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	test.That(t, printDurationHistogram(&buf, []float64{10, 12, 30, 31, 32}), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldContainSubstring, "frame time (ms)")
	test.That(t, strings.Count(buf.String(), "\n"), test.ShouldBeGreaterThan, 1)
}
