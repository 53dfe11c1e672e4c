// Package config defines the skypipe configuration and its viper-backed
// loader. Configuration merges, in order of precedence: command-line
// flags, SKYPIPE_* environment variables, a config file, and defaults.
package config

import (
	"fmt"
	"strings"
)

// Config is the complete configuration for the skypipe application.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output" json:"output"`
}

// PipelineConfig selects and tunes the processing blocks.
type PipelineConfig struct {
	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration" json:"calibration"`
	Trim        TrimConfig        `mapstructure:"trim" yaml:"trim" json:"trim"`
	Detection   DetectionConfig   `mapstructure:"detection" yaml:"detection" json:"detection"`
	Centroid    CentroidConfig    `mapstructure:"centroid" yaml:"centroid" json:"centroid"`
	Cutouts     CutoutConfig      `mapstructure:"cutouts" yaml:"cutouts" json:"cutouts"`
	EPSF        EPSFConfig        `mapstructure:"epsf" yaml:"epsf" json:"epsf"`
	PSF         PSFConfig         `mapstructure:"psf" yaml:"psf" json:"psf"`
	Photometry  PhotometryConfig  `mapstructure:"photometry" yaml:"photometry" json:"photometry"`
	LightCurve  LightCurveConfig  `mapstructure:"light_curve" yaml:"light_curve" json:"light_curve"`
	Parallel    ParallelConfig    `mapstructure:"parallel" yaml:"parallel" json:"parallel"`
}

// CalibrationConfig lists master frame inputs. Empty lists disable the
// corresponding correction.
type CalibrationConfig struct {
	Bias     []string `mapstructure:"bias" yaml:"bias" json:"bias"`
	Dark     []string `mapstructure:"dark" yaml:"dark" json:"dark"`
	Flat     []string `mapstructure:"flat" yaml:"flat" json:"flat"`
	Exposure float64  `mapstructure:"exposure" yaml:"exposure" json:"exposure"`
}

// Enabled reports whether any master inputs are configured.
func (c CalibrationConfig) Enabled() bool {
	return len(c.Bias) > 0 || len(c.Dark) > 0 || len(c.Flat) > 0
}

// TrimConfig controls overscan cropping.
type TrimConfig struct {
	Margin int `mapstructure:"margin" yaml:"margin" json:"margin"`
}

// DetectionConfig tunes source detection.
type DetectionConfig struct {
	Sigma      float64 `mapstructure:"sigma" yaml:"sigma" json:"sigma"`
	MinArea    int     `mapstructure:"min_area" yaml:"min_area" json:"min_area"`
	Tolerance  float64 `mapstructure:"tolerance" yaml:"tolerance" json:"tolerance"`
	MaxSources int     `mapstructure:"max_sources" yaml:"max_sources" json:"max_sources"`
}

// CentroidConfig selects the centroid refinement method.
type CentroidConfig struct {
	Method string  `mapstructure:"method" yaml:"method" json:"method"` // com, quadratic, none
	Box    int     `mapstructure:"box" yaml:"box" json:"box"`
	Limit  float64 `mapstructure:"limit" yaml:"limit" json:"limit"`
}

// CutoutConfig sets the stamp size extracted around sources.
type CutoutConfig struct {
	Size int `mapstructure:"size" yaml:"size" json:"size"`
}

// EPSFConfig tunes effective PSF stacking.
type EPSFConfig struct {
	MaxSources int  `mapstructure:"max_sources" yaml:"max_sources" json:"max_sources"`
	Normalize  bool `mapstructure:"normalize" yaml:"normalize" json:"normalize"`
}

// PSFConfig selects the PSF model fit on the stacked ePSF.
type PSFConfig struct {
	Model string `mapstructure:"model" yaml:"model" json:"model"` // gaussian, moffat, none
}

// PhotometryConfig tunes aperture photometry.
type PhotometryConfig struct {
	Radius     float64 `mapstructure:"radius" yaml:"radius" json:"radius"`
	FWHMScale  float64 `mapstructure:"fwhm_scale" yaml:"fwhm_scale" json:"fwhm_scale"`
	AnnulusIn  float64 `mapstructure:"annulus_in" yaml:"annulus_in" json:"annulus_in"`
	AnnulusOut float64 `mapstructure:"annulus_out" yaml:"annulus_out" json:"annulus_out"`
}

// LightCurveConfig enables light curve accumulation for one target source.
type LightCurveConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Target  int  `mapstructure:"target" yaml:"target" json:"target"`
}

// ParallelConfig controls the parallel run extension. Workers 0 means
// sequential; negative means one worker per CPU.
type ParallelConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`
}

// OutputConfig controls report rendering.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"` // text, json, yaml, csv
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Pipeline: PipelineConfig{
			Detection: DetectionConfig{
				Sigma:      4,
				MinArea:    4,
				Tolerance:  8,
				MaxSources: 10000,
			},
			Centroid: CentroidConfig{
				Method: "com",
				Box:    21,
			},
			Cutouts: CutoutConfig{Size: 21},
			EPSF: EPSFConfig{
				MaxSources: 1,
				Normalize:  true,
			},
			PSF: PSFConfig{Model: "gaussian"},
			Photometry: PhotometryConfig{
				Radius:     5,
				FWHMScale:  1.5,
				AnnulusIn:  1.6,
				AnnulusOut: 2.4,
			},
		},
		Output: OutputConfig{Format: "text"},
	}
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if !oneOf(c.Output.Format, "text", "json", "yaml", "csv") {
		return fmt.Errorf("output.format %q must be one of text, json, yaml, csv", c.Output.Format)
	}
	if !oneOf(strings.ToLower(c.LogLevel), "debug", "info", "warn", "error") {
		return fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel)
	}

	p := c.Pipeline
	if p.Trim.Margin < 0 {
		return fmt.Errorf("trim.margin must not be negative")
	}
	if p.Detection.Sigma <= 0 {
		return fmt.Errorf("detection.sigma must be positive")
	}
	if p.Detection.MinArea < 1 {
		return fmt.Errorf("detection.min_area must be at least 1")
	}
	if p.Detection.MaxSources < 1 {
		return fmt.Errorf("detection.max_sources must be at least 1")
	}
	if !oneOf(p.Centroid.Method, "com", "quadratic", "none") {
		return fmt.Errorf("centroid.method %q must be one of com, quadratic, none", p.Centroid.Method)
	}
	if p.Centroid.Method != "none" && p.Centroid.Box < 3 {
		return fmt.Errorf("centroid.box must be at least 3")
	}
	if p.Cutouts.Size < 3 {
		return fmt.Errorf("cutouts.size must be at least 3")
	}
	if !oneOf(p.PSF.Model, "gaussian", "moffat", "none") {
		return fmt.Errorf("psf.model %q must be one of gaussian, moffat, none", p.PSF.Model)
	}
	if p.Photometry.Radius <= 0 {
		return fmt.Errorf("photometry.radius must be positive")
	}
	if p.Photometry.AnnulusOut <= p.Photometry.AnnulusIn {
		return fmt.Errorf("photometry.annulus_out must exceed annulus_in")
	}
	if p.Photometry.AnnulusIn <= 1 {
		return fmt.Errorf("photometry.annulus_in must exceed 1 aperture radius")
	}
	if p.LightCurve.Enabled && p.LightCurve.Target < 0 {
		return fmt.Errorf("light_curve.target must not be negative")
	}
	if p.Calibration.Exposure < 0 {
		return fmt.Errorf("calibration.exposure must not be negative")
	}
	return nil
}

func oneOf(value string, options ...string) bool {
	for _, o := range options {
		if value == o {
			return true
		}
	}
	return false
}
