package tracker

import (
	"github.com/caomw/RGBD-to-Mesh/rimage"
)

// Config returns a copy of the current config.
func (t *MeshTracker) Config() Config {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return t.cfg
}

// SetConfig replaces the config. It takes effect with the next processed frame.
func (t *MeshTracker) SetConfig(cfg Config) error {
	return t.updateConfig(func(c *Config) { *c = cfg })
}

// updateConfig applies update to a copy of the config and keeps it if it is valid.
func (t *MeshTracker) updateConfig(update func(cfg *Config)) error {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	cfg := t.cfg
	update(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	t.cfg = cfg
	return nil
}

// Set2DSegmentationMaxAngle sets the largest angle, in degrees, between a normal and
// the peak it is assigned to.
func (t *MeshTracker) Set2DSegmentationMaxAngle(deg float64) error {
	return t.updateConfig(func(cfg *Config) { cfg.MaxAngleFromPeakDeg = deg })
}

// SetGaussianSpatialSigma sets the sigma, in pixels, of the depth filters.
func (t *MeshTracker) SetGaussianSpatialSigma(sigma float64) error {
	return t.updateConfig(func(cfg *Config) { cfg.SpatialSigma = sigma })
}

// SetPlaneMergeThresholds sets the angle in degrees and the offset difference in
// metres under which two planes merge.
func (t *MeshTracker) SetPlaneMergeThresholds(angleDeg, dist float64) error {
	return t.updateConfig(func(cfg *Config) {
		cfg.PlaneMergeAngleDeg = angleDeg
		cfg.PlaneMergeDist = dist
	})
}

// SetPlaneFinalThresholds sets the tolerances of the final per pixel fit.
func (t *MeshTracker) SetPlaneFinalThresholds(angleDeg, dist float64) error {
	return t.updateConfig(func(cfg *Config) {
		cfg.PlaneFinalAngleDeg = angleDeg
		cfg.PlaneFinalDist = dist
	})
}

// SetMinPeakCounts sets the full resolution pixel counts a normal or distance
// histogram peak needs.
func (t *MeshTracker) SetMinPeakCounts(normal, distance float64) error {
	return t.updateConfig(func(cfg *Config) {
		cfg.MinNormalPeakCount = normal
		cfg.MinDistPeakCount = distance
	})
}

// SetMaxDepth sets the depth in metres past which samples are dropped.
func (t *MeshTracker) SetMaxDepth(maxDepth float64) error {
	return t.updateConfig(func(cfg *Config) { cfg.MaxDepth = maxDepth })
}

// SetFilterMode selects the depth filter.
func (t *MeshTracker) SetFilterMode(mode rimage.FilterMode) error {
	return t.updateConfig(func(cfg *Config) { cfg.FilterMode = mode.String() })
}

// SetNormalMode selects the normal estimator.
func (t *MeshTracker) SetNormalMode(mode rimage.NormalMode) error {
	return t.updateConfig(func(cfg *Config) { cfg.NormalMode = mode.String() })
}
