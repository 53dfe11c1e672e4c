package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/asterlab/skypipe/internal/block"
	"github.com/asterlab/skypipe/internal/blocks"
	"github.com/asterlab/skypipe/internal/config"
	"github.com/asterlab/skypipe/internal/loader"
	"github.com/asterlab/skypipe/internal/sequence"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Run the processing sequence over image files",
	Long: `Run builds a processing sequence from the configuration and executes it
over the given image files (png, jpeg, bmp, tiff). Frames that fail to
load or process are reported and skipped; the run continues.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringP("format", "f", "text", "report format: text, json, yaml, csv")
	runCmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
	runCmd.Flags().Bool("progress", false, "show a progress bar on stderr")
	runCmd.Flags().IntP("parallel", "p", 0, "number of parallel workers (0 = sequential)")
	runCmd.Flags().StringSlice("bias", nil, "bias frame files for calibration")
	runCmd.Flags().StringSlice("dark", nil, "dark frame files for calibration")
	runCmd.Flags().StringSlice("flat", nil, "flat frame files for calibration")
	runCmd.Flags().Float64("exposure", 0, "exposure time in seconds recorded on loaded frames")
	runCmd.Flags().Int("target", -1, "accumulate a light curve for this source index")

	_ = viper.BindPFlag("output.format", runCmd.Flags().Lookup("format"))
	_ = viper.BindPFlag("output.file", runCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("pipeline.parallel.workers", runCmd.Flags().Lookup("parallel"))
	_ = viper.BindPFlag("pipeline.calibration.bias", runCmd.Flags().Lookup("bias"))
	_ = viper.BindPFlag("pipeline.calibration.dark", runCmd.Flags().Lookup("dark"))
	_ = viper.BindPFlag("pipeline.calibration.flat", runCmd.Flags().Lookup("flat"))
	_ = viper.BindPFlag("pipeline.calibration.exposure", runCmd.Flags().Lookup("exposure"))

	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if target, _ := cmd.Flags().GetInt("target"); target >= 0 {
		cfg.Pipeline.LightCurve.Enabled = true
		cfg.Pipeline.LightCurve.Target = target
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	paths, err := loader.Glob(args...)
	if err != nil {
		return err
	}
	var loadOpts []loader.Option
	if cfg.Pipeline.Calibration.Exposure > 0 {
		loadOpts = append(loadOpts, loader.WithExposure(cfg.Pipeline.Calibration.Exposure))
	}
	items := loader.FromPaths(paths, loadOpts...)

	chain, lightCurve, err := buildBlocks(cfg)
	if err != nil {
		return err
	}
	seq := sequence.New(chain...)

	var opts []sequence.RunOption
	if progress, _ := cmd.Flags().GetBool("progress"); progress {
		opts = append(opts, sequence.WithProgress(
			sequence.NewConsoleCallback(cmd.ErrOrStderr(), "skypipe: ")))
	}

	workers := cfg.Pipeline.Parallel.Workers
	var report *sequence.Report
	if workers > 1 || workers < 0 {
		report, err = seq.RunParallel(cmd.Context(), items,
			sequence.ParallelConfig{Workers: workers}, opts...)
	} else {
		report, err = seq.Run(cmd.Context(), items, opts...)
	}
	if err != nil {
		return err
	}

	if err := writeReport(cmd, cfg, report); err != nil {
		return err
	}
	if lightCurve != nil && cfg.Output.Format == "text" {
		printLightCurve(cmd, lightCurve)
	}
	return nil
}

// buildBlocks assembles the block chain from the configuration, returning
// the light curve accumulator separately so its series can be rendered
// after the run.
func buildBlocks(cfg *config.Config) ([]block.Block, *blocks.LightCurve, error) {
	p := cfg.Pipeline
	var chain []block.Block

	if p.Calibration.Enabled() {
		cal := blocks.NewCalibration()
		for _, set := range []struct {
			patterns []string
			attach   func(...sequence.Item) *blocks.Calibration
		}{
			{p.Calibration.Bias, cal.WithBias},
			{p.Calibration.Dark, cal.WithDark},
			{p.Calibration.Flat, cal.WithFlat},
		} {
			if len(set.patterns) == 0 {
				continue
			}
			paths, err := loader.Glob(set.patterns...)
			if err != nil {
				return nil, nil, fmt.Errorf("calibration inputs: %w", err)
			}
			var opts []loader.Option
			if p.Calibration.Exposure > 0 {
				opts = append(opts, loader.WithExposure(p.Calibration.Exposure))
			}
			set.attach(loader.FromPaths(paths, opts...)...)
		}
		chain = append(chain, cal)
	}

	if p.Trim.Margin > 0 {
		chain = append(chain, blocks.NewTrim(p.Trim.Margin))
	}

	chain = append(chain, blocks.NewSegmentDetection().
		WithSigma(p.Detection.Sigma).
		WithMinArea(p.Detection.MinArea).
		WithTolerance(p.Detection.Tolerance).
		WithMaxSources(p.Detection.MaxSources))

	switch p.Centroid.Method {
	case "com":
		c := blocks.NewCentroidCOM(p.Centroid.Box)
		if p.Centroid.Limit > 0 {
			c = c.WithLimit(p.Centroid.Limit)
		}
		chain = append(chain, c)
	case "quadratic":
		c := blocks.NewCentroidQuadratic(p.Centroid.Box)
		if p.Centroid.Limit > 0 {
			c = c.WithLimit(p.Centroid.Limit)
		}
		chain = append(chain, c)
	}

	chain = append(chain, blocks.NewCutouts(p.Cutouts.Size))

	if p.PSF.Model != "none" {
		chain = append(chain, blocks.NewMedianEPSF().
			WithMaxSources(p.EPSF.MaxSources).
			WithNormalize(p.EPSF.Normalize))
		switch p.PSF.Model {
		case "gaussian":
			chain = append(chain, blocks.NewGaussian2D())
		case "moffat":
			chain = append(chain, blocks.NewMoffat2D())
		}
	}

	chain = append(chain, blocks.NewAperturePhotometry().
		WithRadius(p.Photometry.Radius).
		WithFWHMScale(p.Photometry.FWHMScale).
		WithAnnulus(p.Photometry.AnnulusIn, p.Photometry.AnnulusOut))

	var lightCurve *blocks.LightCurve
	if p.LightCurve.Enabled {
		lightCurve = blocks.NewLightCurve(p.LightCurve.Target)
		chain = append(chain, lightCurve)
	}
	return chain, lightCurve, nil
}

func writeReport(cmd *cobra.Command, cfg *config.Config, report *sequence.Report) error {
	var out string
	var err error
	switch cfg.Output.Format {
	case "json":
		out, err = report.ToJSON()
	case "yaml":
		out, err = report.ToYAML()
	case "csv":
		out, err = report.ToCSV()
	default:
		out = report.Summary()
	}
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	if cfg.Output.File != "" {
		return os.WriteFile(cfg.Output.File, []byte(out), 0o600)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	if err == nil && !strings.HasSuffix(out, "\n") {
		_, _ = fmt.Fprintln(cmd.OutOrStdout())
	}
	return err
}

func printLightCurve(cmd *cobra.Command, lc *blocks.LightCurve) {
	series := lc.Series()
	if len(series) == 0 {
		return
	}
	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(w, "light curve:")
	for _, pt := range series {
		_, _ = fmt.Fprintf(w, "  %s  %s  %.4f\n",
			pt.ObservedAt.Format("2006-01-02T15:04:05"), pt.FrameID, pt.Flux)
	}
}
