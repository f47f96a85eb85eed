package tracker

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/caomw/RGBD-to-Mesh/rimage"
	"github.com/caomw/RGBD-to-Mesh/utils"
	"github.com/caomw/RGBD-to-Mesh/vision/quadtree"
	"github.com/caomw/RGBD-to-Mesh/vision/segmentation"
)

// maxConfigFileSize bounds the size of a config file read by LoadConfigFile.
const maxConfigFileSize = 1 << 20

// Config holds every tuning value of the tracker. Angles are in degrees, distances
// and sigmas in metres unless noted, and pixel counts are given at full resolution.
type Config struct {
	MaxAngleFromPeakDeg float64 `json:"max_angle_from_peak_deg"`
	PlaneMergeAngleDeg  float64 `json:"plane_merge_angle_deg"`
	PlaneMergeDist      float64 `json:"plane_merge_dist"`
	PlaneFinalAngleDeg  float64 `json:"plane_final_angle_deg"`
	PlaneFinalDist      float64 `json:"plane_final_dist"`
	DistPeakThreshold   float64 `json:"dist_peak_threshold"`
	MinDistPeakCount    float64 `json:"min_dist_peak_count"`
	MinNormalPeakCount  float64 `json:"min_normal_peak_count"`
	MinPlanePixelCount  float64 `json:"min_plane_pixel_count"`

	// SpatialSigma and GradientSigma are in pixels.
	SpatialSigma  float64 `json:"spatial_sigma"`
	GradientSigma float64 `json:"gradient_sigma"`
	DepthSigma    float64 `json:"depth_sigma"`
	MaxDepth      float64 `json:"max_depth"`
	FilterMode    string  `json:"filter_mode"`
	NormalMode    string  `json:"normal_mode"`

	SegmentationRounds int `json:"segmentation_rounds"`
	SegmentationLevel  int `json:"segmentation_level"`
	MaxPlanesOutput    int `json:"max_planes_output"`

	ColorTolerance  float64 `json:"color_tolerance"`
	HeightTolerance float64 `json:"height_tolerance"`
	// MeshCapacity is the most vertices one plane mesh may hold.
	MeshCapacity int `json:"mesh_capacity"`
}

// DefaultConfig returns the tuning values the tracker starts with.
func DefaultConfig() Config {
	return Config{
		MaxAngleFromPeakDeg: 5,
		PlaneMergeAngleDeg:  5,
		PlaneMergeDist:      0.025,
		PlaneFinalAngleDeg:  15,
		PlaneFinalDist:      0.015,
		DistPeakThreshold:   0.025,
		MinDistPeakCount:    800,
		MinNormalPeakCount:  800,
		MinPlanePixelCount:  400,
		SpatialSigma:        1.0,
		GradientSigma:       10,
		DepthSigma:          0.01,
		MaxDepth:            5.0,
		FilterMode:          rimage.FilterBilateral.String(),
		NormalMode:          rimage.NormalAverageGradient.String(),
		SegmentationRounds:  2,
		SegmentationLevel:   segmentation.DefaultSegmentationLevel,
		MaxPlanesOutput:     segmentation.MaxPlanesTotal,
		ColorTolerance:      quadtree.ColorTolerance,
		HeightTolerance:     quadtree.HeightTolerance,
		MeshCapacity:        quadtree.QuadtreeBufferSize,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate() error {
	for name, v := range map[string]float64{
		"max_angle_from_peak_deg": cfg.MaxAngleFromPeakDeg,
		"plane_merge_angle_deg":   cfg.PlaneMergeAngleDeg,
		"plane_merge_dist":        cfg.PlaneMergeDist,
		"plane_final_angle_deg":   cfg.PlaneFinalAngleDeg,
		"plane_final_dist":        cfg.PlaneFinalDist,
		"dist_peak_threshold":     cfg.DistPeakThreshold,
		"spatial_sigma":           cfg.SpatialSigma,
		"gradient_sigma":          cfg.GradientSigma,
		"depth_sigma":             cfg.DepthSigma,
		"max_depth":               cfg.MaxDepth,
	} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("%s must be positive, got %v", name, v)
		}
	}
	for name, v := range map[string]float64{
		"min_dist_peak_count":   cfg.MinDistPeakCount,
		"min_normal_peak_count": cfg.MinNormalPeakCount,
		"min_plane_pixel_count": cfg.MinPlanePixelCount,
		"color_tolerance":       cfg.ColorTolerance,
		"height_tolerance":      cfg.HeightTolerance,
	} {
		if v < 0 || math.IsNaN(v) {
			return errors.Errorf("%s must not be negative, got %v", name, v)
		}
	}
	if cfg.MaxAngleFromPeakDeg >= 90 || cfg.PlaneMergeAngleDeg >= 90 || cfg.PlaneFinalAngleDeg >= 90 {
		return errors.New("angles must be below 90 degrees")
	}
	if _, err := rimage.ParseFilterMode(cfg.FilterMode); err != nil {
		return err
	}
	if _, err := rimage.ParseNormalMode(cfg.NormalMode); err != nil {
		return err
	}
	if cfg.MeshCapacity < 4 {
		return errors.Errorf("mesh_capacity must hold at least one quad, got %d", cfg.MeshCapacity)
	}
	return cfg.segmentationParams().Validate()
}

// segmentationParams converts the config to the params of one Segment call.
func (cfg *Config) segmentationParams() segmentation.Params {
	return segmentation.Params{
		MaxAngleFromPeak:   utils.DegToRad(cfg.MaxAngleFromPeakDeg),
		MergeAngle:         utils.DegToRad(cfg.PlaneMergeAngleDeg),
		MergeDist:          cfg.PlaneMergeDist,
		FinalAngle:         utils.DegToRad(cfg.PlaneFinalAngleDeg),
		FinalDist:          cfg.PlaneFinalDist,
		DistPeakThreshold:  cfg.DistPeakThreshold,
		MinNormalPeakCount: cfg.MinNormalPeakCount,
		MinDistPeakCount:   cfg.MinDistPeakCount,
		MinPlanePixelCount: cfg.MinPlanePixelCount,
		Rounds:             cfg.SegmentationRounds,
		Level:              cfg.SegmentationLevel,
		MaxPlanesOutput:    cfg.MaxPlanesOutput,
	}
}

func (cfg *Config) vertexMapParams() rimage.VertexMapParams {
	// modes are checked by Validate
	filter, _ := rimage.ParseFilterMode(cfg.FilterMode)
	return rimage.VertexMapParams{
		MaxDepth:     float32(cfg.MaxDepth),
		Filter:       filter,
		SpatialSigma: cfg.SpatialSigma,
		DepthSigma:   float32(cfg.DepthSigma),
	}
}

func (cfg *Config) normalMode() rimage.NormalMode {
	mode, _ := rimage.ParseNormalMode(cfg.NormalMode)
	return mode
}

func (cfg *Config) tolerances() quadtree.Tolerances {
	return quadtree.Tolerances{Color: float32(cfg.ColorTolerance), Height: float32(cfg.HeightTolerance)}
}

// ConfigFromAttributes decodes an attribute map over the default config. Keys are
// the json names of the Config fields; missing keys keep their defaults.
func ConfigFromAttributes(attributes map[string]interface{}) (*Config, error) {
	conf := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &conf,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "cannot decode tracker config")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// LoadConfigFile reads a json config file over the default config. Fields omitted
// from the file keep their defaults.
func LoadConfigFile(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, errors.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat config file")
	}
	if info.Size() > maxConfigFileSize {
		return nil, errors.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	//nolint:gosec
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, err
	}
	var attributes map[string]interface{}
	if err := json.Unmarshal(data, &attributes); err != nil {
		return nil, errors.Wrapf(err, "cannot parse %s", cleanPath)
	}
	return ConfigFromAttributes(attributes)
}
