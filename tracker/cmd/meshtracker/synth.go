package main

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/caomw/RGBD-to-Mesh/rimage"
)

// cameraStep is how far the camera moves along x between synthetic frames, in metres.
const cameraStep = 0.02

// scenes are given in the camera frame of the first frame.
var scenes = map[string][]rimage.SynthPlane{
	"frontal": {
		{Normal: r3.Vector{Z: 1}, Offset: 2, Color: rimage.ColorPixel{R: 200, G: 180, B: 160}},
	},
	"corner": {
		{Normal: r3.Vector{X: -1, Z: 1}.Normalize(), Offset: 1.5, Color: rimage.ColorPixel{R: 220, G: 60, B: 60}},
		{Normal: r3.Vector{X: 1, Z: 1}.Normalize(), Offset: 1.5, Color: rimage.ColorPixel{R: 60, G: 60, B: 220}},
		{Normal: r3.Vector{Y: 1}, Offset: 0.8, Color: rimage.ColorPixel{R: 120, G: 120, B: 120}},
	},
	"room": {
		{Normal: r3.Vector{Z: 1}, Offset: 3, Color: rimage.ColorPixel{R: 230, G: 230, B: 210}},
		{Normal: r3.Vector{X: -1}, Offset: 1.2, Color: rimage.ColorPixel{R: 90, G: 160, B: 90}},
		{Normal: r3.Vector{X: 1}, Offset: 1.6, Color: rimage.ColorPixel{R: 160, G: 90, B: 90}},
		{Normal: r3.Vector{Y: 1}, Offset: 1.0, Color: rimage.ColorPixel{R: 100, G: 80, B: 60}},
		{Normal: r3.Vector{Y: -1}, Offset: 1.4, Color: rimage.ColorPixel{R: 250, G: 250, B: 250}},
	},
}

// translatePlanes expresses planes in the frame of a camera moved by t.
func translatePlanes(planes []rimage.SynthPlane, t r3.Vector) []rimage.SynthPlane {
	out := make([]rimage.SynthPlane, len(planes))
	for i, p := range planes {
		out[i] = p
		out[i].Offset = p.Offset - p.Normal.Dot(t)
	}
	return out
}

func synthAction(c *cli.Context) error {
	logger, closeLogs, err := newLogger(c)
	if err != nil {
		return err
	}
	defer closeLogs()

	if c.NArg() != 1 {
		return errors.New("expected one output prefix")
	}
	prefix := c.Args().First()
	scene, ok := scenes[c.String(flagScene)]
	if !ok {
		return errors.Errorf("unknown scene %q", c.String(flagScene))
	}
	intrinsics, err := intrinsicsFromFlags(c)
	if err != nil {
		return err
	}

	frames := c.Int(flagFrames)
	for i := 0; i < frames; i++ {
		planes := translatePlanes(scene, r3.Vector{X: float64(i) * cameraStep})
		frame := rimage.SynthesizeFrame(intrinsics, planes, int64(i))
		name := prefix
		if frames > 1 {
			name = fmt.Sprintf("%s_%04d", prefix, i)
		}
		if err := rimage.SaveRawFrame(name, frame); err != nil {
			return err
		}
		logger.Infow("wrote frame", "prefix", name, "valid_depth", frame.ValidDepthCount())
	}
	return nil
}
