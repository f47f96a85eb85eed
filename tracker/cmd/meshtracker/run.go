package main

import (
	"context"
	"fmt"
	"os"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/caomw/RGBD-to-Mesh/logging"
	"github.com/caomw/RGBD-to-Mesh/rimage"
	"github.com/caomw/RGBD-to-Mesh/rimage/transform"
	"github.com/caomw/RGBD-to-Mesh/tracker"
	"github.com/caomw/RGBD-to-Mesh/vision/quadtree"
)

func intrinsicsFromFlags(c *cli.Context) (*transform.PinholeCameraIntrinsics, error) {
	if path := c.String(flagIntrinsics); path != "" {
		return transform.NewPinholeCameraIntrinsicsFromJSONFile(path)
	}
	intrinsics := &transform.PinholeCameraIntrinsics{
		Width:  c.Int(flagWidth),
		Height: c.Int(flagHeight),
		Fx:     c.Float64(flagFx),
		Fy:     c.Float64(flagFy),
		Ppx:    c.Float64(flagPpx),
		Ppy:    c.Float64(flagPpy),
	}
	return intrinsics, intrinsics.CheckValid()
}

func runAction(c *cli.Context) error {
	logger, closeLogs, err := newLogger(c)
	if err != nil {
		return err
	}
	defer closeLogs()

	prefixes := c.Args().Slice()
	if len(prefixes) == 0 {
		return errors.New("no frames given")
	}

	cfg := tracker.DefaultConfig()
	if path := c.String(flagConfig); path != "" {
		loaded, err := tracker.LoadConfigFile(path)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	intrinsics, err := intrinsicsFromFlags(c)
	if err != nil {
		return err
	}
	mt, err := tracker.NewMeshTracker(intrinsics, cfg, logger)
	if err != nil {
		return err
	}

	ctx := c.Context
	if c.Bool(flagDebug) {
		ctx = logging.EnableDebugMode(ctx, "")
	}
	if c.Bool(flagWatch) {
		if c.String(flagConfig) == "" {
			return errors.Errorf("--%s needs --%s", flagWatch, flagConfig)
		}
		stop, err := mt.WatchConfigFile(ctx, c.String(flagConfig))
		if err != nil {
			return err
		}
		defer stop()
	}
	fw := &frameWriter{
		dir:    c.String(flagOut),
		logger: logger,
		csv:    c.Bool(flagCSV),
		plots:  c.Bool(flagPlots),
		images: c.Bool(flagImages),
	}
	if err := os.MkdirAll(fw.dir, 0o750); err != nil {
		return errors.Wrapf(err, "creating %q", fw.dir)
	}

	var summary runSummary
	mt.SetMeshHandler(func(_ context.Context, res *tracker.FrameResult) {
		summary.add(res)
		if res.Warnings != nil {
			logger.Warnw("frame had plane failures", "timestamp", res.Timestamp, "skipped", res.Skipped)
		}
	})

	for i, prefix := range prefixes {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := rimage.LoadRawFrame(prefix, intrinsics.Width, intrinsics.Height)
		if err != nil {
			return err
		}
		frame.Timestamp = int64(i)
		processed, err := mt.ProcessFrame(ctx, frame)
		if err != nil {
			return errors.Wrapf(err, "processing %q", prefix)
		}
		if !processed {
			continue
		}
		res := mt.Result()
		logger.Infow("frame", "prefix", prefix, "planes", res.PlaneCount, "meshes", len(res.Meshes),
			"ms", res.Duration.Milliseconds())
		if err := fw.write(ctx, i, mt, &res); err != nil {
			return err
		}
		if c.Bool(flagTable) {
			fmt.Fprintln(c.App.Writer, planeTable(&res))
		}
	}
	summary.log(logger)
	if c.Bool(flagTable) {
		return printDurationHistogram(c.App.Writer, summary.durationsMs)
	}
	return nil
}

// runSummary collects per frame numbers over a run.
type runSummary struct {
	durationsMs []float64
	planes      []float64
	quads       []float64
	skipped     int
}

func (s *runSummary) add(res *tracker.FrameResult) {
	s.durationsMs = append(s.durationsMs, float64(res.Duration.Microseconds())/1000)
	s.planes = append(s.planes, float64(res.PlaneCount))
	s.quads = append(s.quads, float64(lo.SumBy(res.Meshes, func(m quadtree.QuadTreeMesh) int { return m.NumQuads })))
	s.skipped += res.Skipped
}

func (s *runSummary) log(logger logging.Logger) {
	if len(s.durationsMs) == 0 {
		logger.Warn("no frames processed")
		return
	}
	// the inputs are non empty so stats cannot fail
	meanMs, _ := stats.Mean(s.durationsMs)
	p95Ms, _ := stats.Percentile(s.durationsMs, 95)
	maxMs, _ := stats.Max(s.durationsMs)
	meanPlanes, _ := stats.Mean(s.planes)
	medianQuads, _ := stats.Median(s.quads)
	logger.Infow("run summary",
		"frames", len(s.durationsMs),
		"mean_ms", meanMs,
		"p95_ms", p95Ms,
		"max_ms", maxMs,
		"mean_planes", meanPlanes,
		"median_quads", medianQuads,
		"skipped_meshes", s.skipped)
}
