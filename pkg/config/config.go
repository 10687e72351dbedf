package config

import (
	"fmt"
	"strings"

	"github.com/ethpandaops/flakeoor/pkg/detector"
	"github.com/ethpandaops/flakeoor/pkg/fsutil"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix of environment variable overrides, e.g.
	// FLAKEOOR_DETECTION_EWMA_ALPHA=0.5.
	EnvPrefix = "FLAKEOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultLogFormat is the default log formatter.
	DefaultLogFormat = "text"

	// DefaultInputFormat lets ingestion pick the format from the input path.
	DefaultInputFormat = "auto"

	// DefaultOutputDir is the default directory for report files.
	DefaultOutputDir = "./output"

	// DefaultTopNTests is the default number of tests listed in reports.
	DefaultTopNTests = 5

	// DefaultMarkdownMaxChars caps the markdown summary length.
	DefaultMarkdownMaxChars = 60000

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultMaxRecords caps the records accepted by a single API request.
	DefaultMaxRecords = 100000

	// DefaultDatabaseDriver is the default history database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default history database file.
	DefaultSQLitePath = "./flakeoor.db"
)

// Config is the root configuration for flakeoor.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Input     InputConfig     `yaml:"input" mapstructure:"input"`
	Detection DetectionConfig `yaml:"detection" mapstructure:"detection"`
	Reporting ReportingConfig `yaml:"reporting" mapstructure:"reporting"`
	History   HistoryConfig   `yaml:"history" mapstructure:"history"`
	API       APIConfig       `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings. When LogFile is set,
// logs are written to it as well as to stdout.
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format"`
	LogFile   string `yaml:"log_file,omitempty" mapstructure:"log_file"`
}

// InputConfig describes where execution records are read from.
type InputConfig struct {
	Path   string        `yaml:"path" mapstructure:"path"`
	Format string        `yaml:"format" mapstructure:"format"`
	Strict bool          `yaml:"strict" mapstructure:"strict"`
	S3     S3InputConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3InputConfig reads the input file from an S3-compatible bucket.
type S3InputConfig struct {
	S3Config `yaml:",inline" mapstructure:",squash"`
	Key      string `yaml:"key" mapstructure:"key"`
}

// S3Config contains S3-compatible storage connection settings.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// S3UploadConfig configures uploading report directories to S3.
type S3UploadConfig struct {
	S3Config     `yaml:",inline" mapstructure:",squash"`
	Prefix       string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL          string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// DetectionConfig contains the flakiness detection parameters.
type DetectionConfig struct {
	EWMAAlpha       float64 `yaml:"ewma_alpha" mapstructure:"ewma_alpha"`
	ZThreshold      float64 `yaml:"z_threshold" mapstructure:"z_threshold"`
	UseMLModel      bool    `yaml:"use_ml_model" mapstructure:"use_ml_model"`
	MLContamination float64 `yaml:"ml_contamination" mapstructure:"ml_contamination"`
	RandomSeed      int64   `yaml:"random_seed" mapstructure:"random_seed"`
	Workers         int     `yaml:"workers,omitempty" mapstructure:"workers"`
}

// ReportingConfig contains report output settings. OutputOwner is an
// optional "UID:GID" applied to written reports.
type ReportingConfig struct {
	TopNTests        int          `yaml:"top_n_tests" mapstructure:"top_n_tests"`
	OutputFormats    []string     `yaml:"output_formats" mapstructure:"output_formats"`
	OutputDir        string       `yaml:"output_dir" mapstructure:"output_dir"`
	MarkdownMaxChars int          `yaml:"markdown_max_chars,omitempty" mapstructure:"markdown_max_chars"`
	OutputOwner      string       `yaml:"output_owner,omitempty" mapstructure:"output_owner"`
	Upload           UploadConfig `yaml:"upload,omitempty" mapstructure:"upload"`
}

// UploadConfig contains remote upload settings for report directories.
type UploadConfig struct {
	S3 S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// HistoryConfig controls persistence of detection results.
type HistoryConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// Load reads and merges the given configuration files in order, applies
// FLAKEOOR_* environment overrides and defaults. No paths yields the
// defaults plus environment overrides.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	for i, path := range paths {
		v.SetConfigFile(path)

		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}

		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every leaf key so that environment overrides apply
// even when the key is absent from the config files.
func setDefaults(v *viper.Viper) {
	defaults := detector.DefaultOptions()

	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("global.log_format", DefaultLogFormat)
	v.SetDefault("global.log_file", "")

	v.SetDefault("input.path", "")
	v.SetDefault("input.format", DefaultInputFormat)
	v.SetDefault("input.strict", false)
	setS3Defaults(v, "input.s3")
	v.SetDefault("input.s3.key", "")

	v.SetDefault("detection.ewma_alpha", defaults.Alpha)
	v.SetDefault("detection.z_threshold", defaults.Threshold)
	v.SetDefault("detection.use_ml_model", defaults.UseML)
	v.SetDefault("detection.ml_contamination", defaults.Contamination)
	v.SetDefault("detection.random_seed", defaults.RandomSeed)
	v.SetDefault("detection.workers", 0)

	v.SetDefault("reporting.top_n_tests", DefaultTopNTests)
	v.SetDefault("reporting.output_formats", []string{"console", "json"})
	v.SetDefault("reporting.output_dir", DefaultOutputDir)
	v.SetDefault("reporting.markdown_max_chars", DefaultMarkdownMaxChars)
	v.SetDefault("reporting.output_owner", "")
	setS3Defaults(v, "reporting.upload.s3")
	v.SetDefault("reporting.upload.s3.prefix", "")
	v.SetDefault("reporting.upload.s3.storage_class", "")
	v.SetDefault("reporting.upload.s3.acl", "")

	v.SetDefault("history.enabled", false)
	setDatabaseDefaults(v, "history.database")

	v.SetDefault("api.listen", DefaultListen)
	v.SetDefault("api.cors_origins", []string{})
	v.SetDefault("api.max_records", DefaultMaxRecords)
	v.SetDefault("api.rate_limit.enabled", false)
	v.SetDefault("api.rate_limit.requests_per_minute", 0)
	v.SetDefault("api.auth.basic.enabled", false)
}

func setS3Defaults(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".enabled", false)
	v.SetDefault(prefix+".endpoint_url", "")
	v.SetDefault(prefix+".region", "")
	v.SetDefault(prefix+".bucket", "")
	v.SetDefault(prefix+".access_key_id", "")
	v.SetDefault(prefix+".secret_access_key", "")
	v.SetDefault(prefix+".force_path_style", false)
}

func setDatabaseDefaults(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".driver", DefaultDatabaseDriver)
	v.SetDefault(prefix+".sqlite.path", DefaultSQLitePath)
	v.SetDefault(prefix+".postgres.host", "localhost")
	v.SetDefault(prefix+".postgres.port", 5432)
	v.SetDefault(prefix+".postgres.user", "")
	v.SetDefault(prefix+".postgres.password", "")
	v.SetDefault(prefix+".postgres.database", "flakeoor")
	v.SetDefault(prefix+".postgres.ssl_mode", "disable")
}

// applyDefaults fills values that may have been explicitly blanked.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.LogFormat == "" {
		c.Global.LogFormat = DefaultLogFormat
	}

	if c.Input.Format == "" {
		c.Input.Format = DefaultInputFormat
	}

	if c.Reporting.OutputDir == "" {
		c.Reporting.OutputDir = DefaultOutputDir
	}

	if c.Reporting.TopNTests == 0 {
		c.Reporting.TopNTests = DefaultTopNTests
	}

	if c.Reporting.MarkdownMaxChars == 0 {
		c.Reporting.MarkdownMaxChars = DefaultMarkdownMaxChars
	}

	if c.API.Listen == "" {
		c.API.Listen = DefaultListen
	}

	if c.API.MaxRecords == 0 {
		c.API.MaxRecords = DefaultMaxRecords
	}

	if c.History.Database.Driver == "" {
		c.History.Database.Driver = DefaultDatabaseDriver
	}
}

// DetectorOptions maps the detection section onto engine options.
func (c *Config) DetectorOptions() detector.Options {
	return detector.Options{
		Alpha:         c.Detection.EWMAAlpha,
		Threshold:     c.Detection.ZThreshold,
		UseML:         c.Detection.UseMLModel,
		Contamination: c.Detection.MLContamination,
		RandomSeed:    c.Detection.RandomSeed,
		Workers:       c.Detection.Workers,
	}
}

// validOutputFormats is the list of supported report formats.
var validOutputFormats = map[string]struct{}{
	"console":  {},
	"json":     {},
	"csv":      {},
	"markdown": {},
	"html":     {},
}

// validInputFormats is the list of supported input formats.
var validInputFormats = map[string]struct{}{
	"auto":   {},
	"csv":    {},
	"json":   {},
	"pytest": {},
}

var validLogFormats = map[string]struct{}{
	"text": {},
	"json": {},
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, ok := validLogFormats[c.Global.LogFormat]; !ok {
		return fmt.Errorf("global: unknown log format %q", c.Global.LogFormat)
	}

	if _, ok := validInputFormats[c.Input.Format]; !ok {
		return fmt.Errorf("input: unknown format %q", c.Input.Format)
	}

	if c.Input.S3.Enabled {
		if c.Input.S3.Bucket == "" {
			return fmt.Errorf("input.s3: bucket is required")
		}

		if c.Input.S3.Key == "" {
			return fmt.Errorf("input.s3: key is required")
		}
	}

	if err := c.DetectorOptions().Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}

	if c.Reporting.TopNTests < 1 {
		return fmt.Errorf("reporting: top_n_tests must be >= 1, got %d",
			c.Reporting.TopNTests)
	}

	for _, format := range c.Reporting.OutputFormats {
		if _, ok := validOutputFormats[format]; !ok {
			return fmt.Errorf("reporting: unknown output format %q", format)
		}
	}

	if _, err := fsutil.ParseOwner(c.Reporting.OutputOwner); err != nil {
		return fmt.Errorf("reporting: output_owner: %w", err)
	}

	if c.Reporting.Upload.S3.Enabled && c.Reporting.Upload.S3.Bucket == "" {
		return fmt.Errorf("reporting.upload.s3: bucket is required")
	}

	if c.History.Enabled {
		if err := c.History.Database.Validate(); err != nil {
			return fmt.Errorf("history.database: %w", err)
		}
	}

	return nil
}

const redacted = "<redacted>"

// Redacted returns a copy of c with credentials masked, for printing.
func (c *Config) Redacted() *Config {
	out := *c

	redact := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}

	redact(&out.Input.S3.SecretAccessKey)
	redact(&out.Reporting.Upload.S3.SecretAccessKey)
	redact(&out.History.Database.Postgres.Password)

	users := make([]BasicAuthUser, len(c.API.Auth.Basic.Users))
	for i, u := range c.API.Auth.Basic.Users {
		redact(&u.Password)
		users[i] = u
	}

	out.API.Auth.Basic.Users = users

	return &out
}
