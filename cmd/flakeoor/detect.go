package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/flakeoor/pkg/config"
	"github.com/ethpandaops/flakeoor/pkg/detector"
	"github.com/ethpandaops/flakeoor/pkg/fsutil"
	"github.com/ethpandaops/flakeoor/pkg/ingest"
	"github.com/ethpandaops/flakeoor/pkg/report"
	"github.com/ethpandaops/flakeoor/pkg/store"
	"github.com/ethpandaops/flakeoor/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var errFlakyDetected = errors.New("flaky executions detected")

var (
	detectInput         string
	detectFormat        string
	detectThreshold     float64
	detectAlpha         float64
	detectNoML          bool
	detectStrict        bool
	detectOutputDir     string
	detectOutputFormats []string
	detectTopN          int
	detectWatch         bool
	detectFailOnFlaky   bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect flaky tests in execution history",
	Long: `Load test execution records, run flakiness detection and write the
configured reports. Input is a CSV file, a JSON file, a directory of JSON
report files or an S3 object (input.s3 in the config).`,
	Example: `  flakeoor detect --input data/history.csv
  flakeoor detect --input ./deflake_reports/ --no-ml
  flakeoor detect --threshold 2.5 --output-dir results/ --config flakeoor.yaml`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	flags := detectCmd.Flags()
	flags.StringVarP(&detectInput, "input", "i", "",
		"Input file or report directory (overrides input.path)")
	flags.StringVar(&detectFormat, "format", "",
		"Input format: auto, csv, json or pytest (overrides input.format)")
	flags.Float64VarP(&detectThreshold, "threshold", "t", 0,
		"Absolute Z-score threshold (overrides detection.z_threshold)")
	flags.Float64Var(&detectAlpha, "alpha", 0,
		"EWMA smoothing factor (overrides detection.ewma_alpha)")
	flags.BoolVar(&detectNoML, "no-ml", false,
		"Disable the anomaly model, use the Z-score threshold only")
	flags.BoolVar(&detectStrict, "strict", false,
		"Fail on the first invalid record instead of skipping it")
	flags.StringVarP(&detectOutputDir, "output-dir", "o", "",
		"Output directory for reports (overrides reporting.output_dir)")
	flags.StringSliceVar(&detectOutputFormats, "output-format", nil,
		"Report formats: console, json, csv, markdown, html (overrides reporting.output_formats)")
	flags.IntVar(&detectTopN, "top-n", 0,
		"Number of flakiest tests to list (overrides reporting.top_n_tests)")
	flags.BoolVar(&detectWatch, "watch", false,
		"Re-run detection whenever the input changes")
	flags.BoolVar(&detectFailOnFlaky, "fail-on-flaky", false,
		"Exit non-zero when any flaky execution is detected")
}

// applyDetectFlags copies explicitly set flags over the loaded config.
func applyDetectFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("input") {
		cfg.Input.Path = detectInput
		cfg.Input.S3.Enabled = false
	}

	if flags.Changed("format") {
		cfg.Input.Format = detectFormat
	}

	if flags.Changed("threshold") {
		cfg.Detection.ZThreshold = detectThreshold
	}

	if flags.Changed("alpha") {
		cfg.Detection.EWMAAlpha = detectAlpha
	}

	if detectNoML {
		cfg.Detection.UseMLModel = false
	}

	if detectStrict {
		cfg.Input.Strict = true
	}

	if flags.Changed("output-dir") {
		cfg.Reporting.OutputDir = detectOutputDir
	}

	if flags.Changed("output-format") {
		cfg.Reporting.OutputFormats = detectOutputFormats
	}

	if flags.Changed("top-n") {
		cfg.Reporting.TopNTests = detectTopN
	}
}

func runDetect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	applyDetectFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if !cfg.Input.S3.Enabled && cfg.Input.Path == "" {
		return fmt.Errorf("an input is required (use --input or input.path)")
	}

	if detectWatch && cfg.Input.S3.Enabled {
		return fmt.Errorf("--watch needs a local input path")
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	defer p.close()

	res, err := p.run(ctx)
	if !detectWatch {
		if err != nil {
			return err
		}

		if detectFailOnFlaky && res.Summary.FlakyExecutions > 0 {
			return fmt.Errorf("%w: %d", errFlakyDetected, res.Summary.FlakyExecutions)
		}

		return nil
	}

	if err != nil {
		log.WithError(err).Error("Detection failed")
	}

	return ingest.Watch(ctx, log, cfg.Input.Path, ingest.DefaultWatchDebounce, func() {
		if _, err := p.run(ctx); err != nil {
			log.WithError(err).Error("Detection failed")
		}
	})
}

// pipeline wires ingestion, detection, reporting, upload and history for
// the detect command.
type pipeline struct {
	log      logrus.FieldLogger
	cfg      *config.Config
	loader   *ingest.Loader
	objects  ingest.ObjectStore
	detector *detector.Detector
	writer   *report.Writer
	uploader upload.Uploader
	history  store.Store
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	format, err := ingest.ParseFormat(cfg.Input.Format)
	if err != nil {
		return nil, err
	}

	owner, err := fsutil.ParseOwner(cfg.Reporting.OutputOwner)
	if err != nil {
		return nil, fmt.Errorf("parsing output_owner: %w", err)
	}

	det, err := detector.New(log, cfg.DetectorOptions(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating detector: %w", err)
	}

	p := &pipeline{
		log: log.WithField("component", "detect"),
		cfg: cfg,
		loader: ingest.NewLoader(log, ingest.Options{
			Format: format,
			Strict: cfg.Input.Strict,
		}),
		detector: det,
		writer: report.NewWriter(log, report.Options{
			TopN:             cfg.Reporting.TopNTests,
			MarkdownMaxChars: cfg.Reporting.MarkdownMaxChars,
			Owner:            owner,
		}, os.Stdout),
	}

	if cfg.Input.S3.Enabled {
		p.objects = upload.NewS3Reader(log, &cfg.Input.S3.S3Config)
	}

	if cfg.Reporting.Upload.S3.Enabled {
		uploader, err := upload.NewS3Uploader(log, &cfg.Reporting.Upload.S3)
		if err != nil {
			return nil, fmt.Errorf("creating S3 uploader: %w", err)
		}

		if err := uploader.Preflight(ctx); err != nil {
			return nil, fmt.Errorf("s3 preflight check failed: %w", err)
		}

		p.uploader = uploader
	}

	if cfg.History.Enabled {
		p.history = store.NewStore(log, &cfg.History.Database)
		if err := p.history.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting history store: %w", err)
		}
	}

	return p, nil
}

func (p *pipeline) close() {
	if p.history == nil {
		return
	}

	if err := p.history.Stop(); err != nil {
		p.log.WithError(err).Warn("Failed to close history store")
	}
}

func (p *pipeline) source() string {
	if p.cfg.Input.S3.Enabled {
		return fmt.Sprintf("s3://%s/%s", p.cfg.Input.S3.Bucket, p.cfg.Input.S3.Key)
	}

	return p.cfg.Input.Path
}

// run performs one full detection pass.
func (p *pipeline) run(ctx context.Context) (*detector.Result, error) {
	var (
		loaded *ingest.Result
		err    error
	)

	if p.objects != nil {
		loaded, err = p.loader.LoadS3(ctx, p.objects, p.cfg.Input.S3.Key)
	} else {
		loaded, err = p.loader.Load(ctx, p.cfg.Input.Path)
	}

	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	if len(loaded.Skipped) > 0 {
		p.log.WithField("skipped", len(loaded.Skipped)).
			Warn("Some records were invalid and skipped")
	}

	res, err := p.detector.Detect(ctx, loaded.Records)
	if err != nil {
		return nil, fmt.Errorf("running detection: %w", err)
	}

	if res.Empty() {
		p.log.Warn("No execution records to analyze")
	}

	written, err := p.writer.Write(
		p.cfg.Reporting.OutputDir, p.cfg.Reporting.OutputFormats, res,
	)
	if err != nil {
		return nil, fmt.Errorf("writing reports: %w", err)
	}

	if p.uploader != nil && len(written) > 0 {
		prefix, err := p.uploader.Upload(ctx, p.cfg.Reporting.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("uploading reports: %w", err)
		}

		p.log.WithField("prefix", prefix).Info("Reports uploaded")
	}

	if p.history != nil {
		run, err := p.history.SaveRun(ctx, p.source(), res)
		if err != nil {
			return nil, fmt.Errorf("saving history: %w", err)
		}

		p.log.WithField("run_id", run.ID).Debug("Detection run recorded")
	}

	p.log.WithFields(logrus.Fields{
		"tests":      res.Summary.TotalTests,
		"executions": res.Summary.TotalExecutions,
		"flaky":      res.Summary.FlakyExecutions,
		"reports":    len(written),
	}).Info("Flaky test detection complete")

	return res, nil
}
