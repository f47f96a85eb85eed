// Package main is the meshtracker command. It runs the plane mesh tracker over raw
// RGB-D dumps and writes the resulting meshes along with debug renderings of the
// pipeline, and can render synthetic dumps to feed it.
package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/caomw/RGBD-to-Mesh/logging"
)

const (
	// Global flags.
	flagLogLevel = "log-level"
	flagLogFile  = "log-file"
	flagDebug    = "debug"

	// Camera flags.
	flagIntrinsics = "intrinsics"
	flagWidth      = "width"
	flagHeight     = "height"
	flagFx         = "fx"
	flagFy         = "fy"
	flagPpx        = "ppx"
	flagPpy        = "ppy"

	// run flags.
	flagConfig = "config"
	flagWatch  = "watch-config"
	flagOut    = "out"
	flagCSV    = "csv"
	flagPlots  = "plots"
	flagImages = "images"
	flagTable  = "table"

	// synth flags.
	flagScene  = "scene"
	flagFrames = "frames"

	loggerName = "meshtracker"
)

var cameraFlags = []cli.Flag{
	&cli.StringFlag{Name: flagIntrinsics, Usage: "camera intrinsics json file, overrides the flags below"},
	&cli.IntFlag{Name: flagWidth, Value: 640, Usage: "frame width in pixels"},
	&cli.IntFlag{Name: flagHeight, Value: 480, Usage: "frame height in pixels"},
	&cli.Float64Flag{Name: flagFx, Value: 525, Usage: "horizontal focal length in pixels"},
	&cli.Float64Flag{Name: flagFy, Value: 525, Usage: "vertical focal length in pixels"},
	&cli.Float64Flag{Name: flagPpx, Value: 319.5, Usage: "principal point x"},
	&cli.Float64Flag{Name: flagPpy, Value: 239.5, Usage: "principal point y"},
}

func main() {
	app := &cli.App{
		Name:  "meshtracker",
		Usage: "segment RGB-D frames into planes and mesh them",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  flagLogLevel,
				Usage: "logger level patterns, e.g. meshtracker.quadtree=debug or meshtracker.*=warn",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to this file, rotated at 100MB",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "process raw dumps in order and write meshes",
				ArgsUsage: "<prefix>...",
				UsageText: "meshtracker run [options] frame0 frame1 ...\n\n" +
					"Each prefix names a <prefix>.rgb and <prefix>.depth pair. Frames are\n" +
					"timestamped by their position on the command line.",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: flagConfig, Usage: "tracker config json file"},
					&cli.BoolFlag{Name: flagWatch, Usage: "reload the config file whenever it changes"},
					&cli.StringFlag{Name: flagOut, Value: "out", Usage: "output directory"},
					&cli.BoolFlag{Name: flagCSV, Usage: "write a per pixel segmentation csv per frame"},
					&cli.BoolFlag{Name: flagPlots, Usage: "plot the distance histograms of every frame"},
					&cli.BoolFlag{Name: flagImages, Value: true, Usage: "write label, normal and depth images"},
					&cli.BoolFlag{Name: flagTable, Usage: "print a plane table per frame and a frame time histogram"},
				}, cameraFlags...),
				Action: runAction,
			},
			{
				Name:      "synth",
				Usage:     "render a synthetic scene to raw dumps",
				ArgsUsage: "<prefix>",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: flagScene, Value: "corner", Usage: "scene to render: frontal, corner or room"},
					&cli.IntFlag{Name: flagFrames, Value: 1, Usage: "number of frames, the camera moves along x between them"},
				}, cameraFlags...),
				Action: synthAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.Global().Errorw("meshtracker failed", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the command logger from the global flags. The returned function
// flushes and closes the outputs.
func newLogger(c *cli.Context) (logging.Logger, func(), error) {
	var logger logging.Logger
	if c.Bool(flagDebug) {
		logging.GlobalLogLevel.SetLevel(logging.DEBUG.AsZap())
		logger = logging.NewDebugLogger(loggerName)
	} else {
		logger = logging.NewLogger(loggerName)
	}
	logging.ReplaceGlobal(logger)

	closeFn := func() {
		//nolint:errcheck
		logger.Sync()
	}
	if path := c.String(flagLogFile); path != "" {
		fileAppender := logging.NewFileAppender(path, 100, 3)
		logger.AddAppender(fileAppender)
		closeFn = func() {
			//nolint:errcheck
			logger.Sync()
			//nolint:errcheck
			fileAppender.Close()
		}
	}

	var patterns []logging.LoggerPatternConfig
	if c.Bool(flagDebug) {
		// explicit patterns below still win
		patterns = append(patterns,
			logging.LoggerPatternConfig{Pattern: loggerName, Level: "debug"},
			logging.LoggerPatternConfig{Pattern: loggerName + ".*", Level: "debug"})
	}
	for _, value := range c.StringSlice(flagLogLevel) {
		cfg, err := logging.ParseLoggerPatternConfig(value)
		if err != nil {
			closeFn()
			return nil, nil, errors.Wrapf(err, "--%s", flagLogLevel)
		}
		patterns = append(patterns, cfg)
	}
	if len(patterns) > 0 {
		if err := logging.UpdateLoggerConfig(patterns, logger); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	return logger, closeFn, nil
}
