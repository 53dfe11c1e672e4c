package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without
	// extension).
	ConfigFileName = "skypipe"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "SKYPIPE"
)

// Loader resolves configuration from files, environment variables and
// flag bindings.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so cobra flag
// bindings take effect.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith creates a loader on a private viper instance, mainly for
// tests.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load resolves the configuration from the search paths, environment and
// defaults, then validates it. A missing config file is not an error.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFile resolves the configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}
	l.v.SetConfigFile(configFile)
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return l.unmarshalValidated()
}

func (l *Loader) load() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Defaults and environment variables carry the run.
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) unmarshalValidated() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the config file that was read.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}
	l.v.AddConfigPath("/etc/skypipe")
	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		l.v.AddConfigPath(filepath.Join(configDir, "skypipe"))
	} else if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "skypipe"))
	}
}

// setupEnvironmentVariables configures SKYPIPE_* environment handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers default values for every configuration option.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)

	l.v.SetDefault("pipeline.calibration.bias", defaults.Pipeline.Calibration.Bias)
	l.v.SetDefault("pipeline.calibration.dark", defaults.Pipeline.Calibration.Dark)
	l.v.SetDefault("pipeline.calibration.flat", defaults.Pipeline.Calibration.Flat)
	l.v.SetDefault("pipeline.calibration.exposure", defaults.Pipeline.Calibration.Exposure)

	l.v.SetDefault("pipeline.trim.margin", defaults.Pipeline.Trim.Margin)

	l.v.SetDefault("pipeline.detection.sigma", defaults.Pipeline.Detection.Sigma)
	l.v.SetDefault("pipeline.detection.min_area", defaults.Pipeline.Detection.MinArea)
	l.v.SetDefault("pipeline.detection.tolerance", defaults.Pipeline.Detection.Tolerance)
	l.v.SetDefault("pipeline.detection.max_sources", defaults.Pipeline.Detection.MaxSources)

	l.v.SetDefault("pipeline.centroid.method", defaults.Pipeline.Centroid.Method)
	l.v.SetDefault("pipeline.centroid.box", defaults.Pipeline.Centroid.Box)
	l.v.SetDefault("pipeline.centroid.limit", defaults.Pipeline.Centroid.Limit)

	l.v.SetDefault("pipeline.cutouts.size", defaults.Pipeline.Cutouts.Size)

	l.v.SetDefault("pipeline.epsf.max_sources", defaults.Pipeline.EPSF.MaxSources)
	l.v.SetDefault("pipeline.epsf.normalize", defaults.Pipeline.EPSF.Normalize)

	l.v.SetDefault("pipeline.psf.model", defaults.Pipeline.PSF.Model)

	l.v.SetDefault("pipeline.photometry.radius", defaults.Pipeline.Photometry.Radius)
	l.v.SetDefault("pipeline.photometry.fwhm_scale", defaults.Pipeline.Photometry.FWHMScale)
	l.v.SetDefault("pipeline.photometry.annulus_in", defaults.Pipeline.Photometry.AnnulusIn)
	l.v.SetDefault("pipeline.photometry.annulus_out", defaults.Pipeline.Photometry.AnnulusOut)

	l.v.SetDefault("pipeline.light_curve.enabled", defaults.Pipeline.LightCurve.Enabled)
	l.v.SetDefault("pipeline.light_curve.target", defaults.Pipeline.LightCurve.Target)

	l.v.SetDefault("pipeline.parallel.workers", defaults.Pipeline.Parallel.Workers)

	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.file", defaults.Output.File)
}
