// Package tracker turns a stream of RGB-D frames into textured planar meshes. A
// MeshTracker owns every buffer of the pipeline and runs its stages in order once
// per new frame: preprocessing into vertex, normal and color pyramids, plane
// segmentation, then texture projection and quadtree meshing of every plane.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/caomw/RGBD-to-Mesh/logging"
	"github.com/caomw/RGBD-to-Mesh/pyramid"
	"github.com/caomw/RGBD-to-Mesh/rimage"
	"github.com/caomw/RGBD-to-Mesh/rimage/transform"
	"github.com/caomw/RGBD-to-Mesh/utils"
	"github.com/caomw/RGBD-to-Mesh/vision/quadtree"
	"github.com/caomw/RGBD-to-Mesh/vision/segmentation"
)

// FrameResult describes the outcome of one processed frame.
type FrameResult struct {
	Timestamp int64
	// Meshes holds one mesh per plane that could be meshed, in plane id order.
	Meshes []quadtree.QuadTreeMesh
	// PlaneCount is the number of compacted planes, meshed or not.
	PlaneCount int
	// Clamped counts planes whose texture density was reduced to fit the texture buffer.
	Clamped int
	// Skipped counts planes without a mesh.
	Skipped int
	// Warnings combines the recoverable per plane failures of the frame, such as
	// quadtree.ErrMeshCapacityExceeded.
	Warnings error
	Duration time.Duration
}

// MeshHandler receives the result of every processed frame. The result and the
// meshes in it are only valid until the next call to ProcessFrame.
type MeshHandler func(ctx context.Context, result *FrameResult)

// MeshTracker runs the plane meshing pipeline. Config setters may be called from any
// goroutine and take effect with the next frame; ProcessFrame calls are serialized.
type MeshTracker struct {
	intrinsics transform.PinholeCameraIntrinsics
	logger     logging.Logger
	segLogger  logging.Logger
	meshLogger logging.Logger

	cfgMu   sync.RWMutex
	cfg     Config
	handler MeshHandler
	clock   clock.Clock

	mu            sync.Mutex
	pre           *rimage.Preprocessor
	vmap          *pyramid.Float3Pyramid
	nmap          *pyramid.Float3Pyramid
	rgb           *pyramid.Float3Pyramid
	segmenter     *segmentation.Segmenter
	mesher        *quadtree.Mesher
	hasSubmitted  bool
	lastSubmitted int64
	planeStats    []segmentation.PlaneStats
	result        FrameResult
}

// NewMeshTracker allocates every buffer of the pipeline for the resolution of the
// intrinsics. It fails when the intrinsics or the config are invalid or the
// resolution is not divisible by 2^(pyramid.NumLevels-1).
func NewMeshTracker(intrinsics *transform.PinholeCameraIntrinsics, cfg Config, logger logging.Logger) (*MeshTracker, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid tracker config")
	}
	w, h := intrinsics.Width, intrinsics.Height
	pre, err := rimage.NewPreprocessor(intrinsics)
	if err != nil {
		return nil, err
	}
	t := &MeshTracker{
		intrinsics: *intrinsics,
		logger:     logger,
		segLogger:  logger.Sublogger("segmentation"),
		meshLogger: logger.Sublogger("quadtree"),
		cfg:        cfg,
		clock:      clock.New(),
		pre:        pre,
		planeStats: make([]segmentation.PlaneStats, 0, segmentation.MaxPlanesTotal),
	}
	if t.vmap, err = pyramid.NewFloat3Pyramid(w, h); err != nil {
		return nil, err
	}
	if t.nmap, err = pyramid.NewFloat3Pyramid(w, h); err != nil {
		return nil, err
	}
	if t.rgb, err = pyramid.NewFloat3Pyramid(w, h); err != nil {
		return nil, err
	}
	if t.segmenter, err = segmentation.NewSegmenter(w, h); err != nil {
		return nil, err
	}
	if t.mesher, err = quadtree.NewMesher(w, h, cfg.MeshCapacity); err != nil {
		return nil, err
	}
	t.mesher.SetTolerances(cfg.tolerances())
	logger.Debugw("mesh tracker created", "width", w, "height", h, "mesh_capacity", cfg.MeshCapacity)
	return t, nil
}

// Intrinsics returns the camera intrinsics the tracker was built for.
func (t *MeshTracker) Intrinsics() transform.PinholeCameraIntrinsics {
	return t.intrinsics
}

// SetMeshHandler registers the function called after every processed frame. A nil
// handler removes the current one.
func (t *MeshTracker) SetMeshHandler(handler MeshHandler) {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	t.handler = handler
}

// Reset forgets the last submitted timestamp and every result.
func (t *MeshTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *MeshTracker) resetLocked() {
	t.hasSubmitted = false
	t.lastSubmitted = 0
	t.planeStats = t.planeStats[:0]
	t.result = FrameResult{}
	t.segmenter.Reset()
}

// ProcessFrame runs the pipeline on frame unless its timestamp was already
// processed. A timestamp older than the last processed one means the stream
// restarted: the tracker is reset and the frame processed. It reports whether the
// frame was processed. Per plane failures are not errors; they are logged and
// reported in the FrameResult.
func (t *MeshTracker) ProcessFrame(ctx context.Context, frame *rimage.Frame) (bool, error) {
	if err := frame.CheckSize(t.intrinsics.Width, t.intrinsics.Height); err != nil {
		return false, err
	}
	cfg, handler, clk := t.snapshot()

	t.mu.Lock()
	result, processed, err := t.processLocked(ctx, frame, &cfg, clk)
	t.mu.Unlock()
	if err != nil || !processed {
		return processed, err
	}

	if handler != nil {
		handler(ctx, result)
	}
	return true, nil
}

// SetClock replaces the clock frame durations are measured with.
func (t *MeshTracker) SetClock(c clock.Clock) {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	t.clock = c
}

func (t *MeshTracker) snapshot() (Config, MeshHandler, clock.Clock) {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return t.cfg, t.handler, t.clock
}

func (t *MeshTracker) processLocked(
	ctx context.Context, frame *rimage.Frame, cfg *Config, clk clock.Clock,
) (*FrameResult, bool, error) {
	if t.hasSubmitted {
		switch {
		case frame.Timestamp < t.lastSubmitted:
			t.logger.Warnw("timestamp went backwards, resetting tracker",
				"timestamp", frame.Timestamp, "last", t.lastSubmitted)
			t.resetLocked()
		case frame.Timestamp == t.lastSubmitted:
			return nil, false, nil
		}
	}
	t.planeStats = t.planeStats[:0]
	t.result = FrameResult{Timestamp: frame.Timestamp}
	start := clk.Now()
	logger := t.logger.WithFields("timestamp", frame.Timestamp)

	if err := t.preprocess(ctx, frame, cfg); err != nil {
		return nil, false, err
	}

	count, err := t.segmenter.Segment(t.nmap, t.vmap, cfg.segmentationParams())
	if err != nil {
		return nil, false, err
	}
	t.segLogger.WithFields("timestamp", frame.Timestamp).CDebugw(ctx, "segmented", "planes", count,
		"unsegmented", t.unsegmentedCount(), "normal_peaks", len(t.segmenter.Peaks()))

	if err := t.mesh(ctx, count, cfg, t.meshLogger.WithFields("timestamp", frame.Timestamp)); err != nil {
		return nil, false, err
	}

	// a failed frame may be retried with the same timestamp
	t.hasSubmitted = true
	t.lastSubmitted = frame.Timestamp
	t.result.Duration = clk.Since(start)
	logger.CDebugw(ctx, "frame processed",
		"planes", t.result.PlaneCount,
		"meshes", len(t.result.Meshes),
		"quads", lo.SumBy(t.result.Meshes, func(m quadtree.QuadTreeMesh) int { return m.NumQuads }),
		"ms", t.result.Duration.Milliseconds())
	return &t.result, true, nil
}

func (t *MeshTracker) preprocess(ctx context.Context, frame *rimage.Frame, cfg *Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.pre.BuildRGBSOA(frame, t.rgb.Level(0))
	t.pre.BuildVertexMap(frame, cfg.vertexMapParams(), t.vmap.Level(0))
	t.pre.BuildNormalMap(t.vmap.Level(0), t.nmap.Level(0), cfg.normalMode(), cfg.GradientSigma)

	subsample := func(p *pyramid.Float3Pyramid, normalize bool) utils.SimpleFunc {
		return func(context.Context) error {
			rimage.SubsamplePyramid(p, normalize)
			return nil
		}
	}
	_, err := utils.RunInParallel(ctx, []utils.SimpleFunc{
		subsample(t.vmap, false),
		subsample(t.nmap, true),
		subsample(t.rgb, false),
		func(context.Context) error {
			t.pre.SubsampleDepth()
			return nil
		},
	})
	return err
}

func (t *MeshTracker) mesh(ctx context.Context, count int, cfg *Config, logger logging.Logger) error {
	if cfg.MeshCapacity != t.mesher.Capacity() {
		mesher, err := quadtree.NewMesher(t.intrinsics.Width, t.intrinsics.Height, cfg.MeshCapacity)
		if err != nil {
			return err
		}
		t.mesher = mesher
	}
	t.mesher.SetTolerances(cfg.tolerances())

	res, err := t.mesher.Build(quadtree.Input{
		Intrinsics: &t.intrinsics,
		Stats:      t.segmenter.PlaneStats(),
		Count:      count,
		InvIDMap:   t.segmenter.InvIDMap(),
		Positions:  t.vmap.Level(0),
		RGB:        t.rgb.Level(0),
		Segments:   t.segmenter.FinalSegments(),
		Distances:  t.segmenter.FinalDistances(),
	})
	for _, planeErr := range multierr.Errors(err) {
		if !errors.Is(planeErr, quadtree.ErrMeshCapacityExceeded) {
			return err
		}
		logger.Warnw("plane mesh skipped", "error", planeErr)
	}
	if res.Clamped > 0 {
		logger.CDebugw(ctx, "texture density reduced to fit", "planes", res.Clamped,
			"max_texture_size", quadtree.MaxTextureSize)
	}

	// host copy of the compacted planes, including their projection
	t.planeStats = append(t.planeStats[:0], t.segmenter.PlaneStats()[:count]...)
	t.result.Meshes = res.Meshes
	t.result.PlaneCount = count
	t.result.Clamped = res.Clamped
	t.result.Skipped = res.Skipped
	t.result.Warnings = err
	return nil
}

// Result returns the result of the last processed frame.
func (t *MeshTracker) Result() FrameResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Meshes returns the meshes of the last processed frame.
func (t *MeshTracker) Meshes() []quadtree.QuadTreeMesh {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result.Meshes
}

// PlaneStats returns the compacted planes of the last processed frame; ids are
// indexes into the returned slice.
func (t *MeshTracker) PlaneStats() []segmentation.PlaneStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.planeStats
}

// PlaneCount is the number of compacted planes of the last processed frame.
func (t *MeshTracker) PlaneCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.planeStats)
}

// LastTimestamp returns the timestamp of the last processed frame, and false when
// no frame was processed since the last reset.
func (t *MeshTracker) LastTimestamp() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSubmitted, t.hasSubmitted
}
