package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/flakeoor/pkg/detector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseConfig = `
global:
  log_level: info
input:
  path: ./data/test_history.csv
  format: csv
detection:
  ewma_alpha: 0.3
  z_threshold: 2.0
  use_ml_model: true
  ml_contamination: 0.1
reporting:
  top_n_tests: 10
  output_formats: [console, json, html]
  output_dir: ./original-output
history:
  enabled: false
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultLogFormat, cfg.Global.LogFormat)
	assert.Empty(t, cfg.Global.LogFile)
	assert.Equal(t, DefaultInputFormat, cfg.Input.Format)
	assert.Equal(t, DefaultOutputDir, cfg.Reporting.OutputDir)
	assert.Equal(t, DefaultTopNTests, cfg.Reporting.TopNTests)
	assert.Equal(t, []string{"console", "json"}, cfg.Reporting.OutputFormats)
	assert.Equal(t, DefaultListen, cfg.API.Listen)
	assert.Equal(t, DefaultMaxRecords, cfg.API.MaxRecords)
	assert.Equal(t, "sqlite", cfg.History.Database.Driver)
	assert.Equal(t, detector.DefaultOptions(), cfg.DetectorOptions())

	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", baseConfig))
	require.NoError(t, err)

	assert.Equal(t, "./data/test_history.csv", cfg.Input.Path)
	assert.Equal(t, "csv", cfg.Input.Format)
	assert.Equal(t, 10, cfg.Reporting.TopNTests)
	assert.Equal(t, []string{"console", "json", "html"}, cfg.Reporting.OutputFormats)
	assert.Equal(t, "./original-output", cfg.Reporting.OutputDir)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, detector.DefaultRandomSeed, cfg.Detection.RandomSeed)
	assert.Equal(t, DefaultListen, cfg.API.Listen)
}

func TestLoad_MergesFilesInOrder(t *testing.T) {
	override := `
detection:
  z_threshold: 3.5
reporting:
  upload:
    s3:
      enabled: true
      bucket: flaky-reports
      prefix: ci/flaky
      force_path_style: true
`

	cfg, err := Load(
		writeConfig(t, "base.yaml", baseConfig),
		writeConfig(t, "override.yaml", override),
	)
	require.NoError(t, err)

	assert.Equal(t, 3.5, cfg.Detection.ZThreshold)
	assert.Equal(t, 0.3, cfg.Detection.EWMAAlpha)
	assert.True(t, cfg.Reporting.Upload.S3.Enabled)
	assert.Equal(t, "flaky-reports", cfg.Reporting.Upload.S3.Bucket)
	assert.Equal(t, "ci/flaky", cfg.Reporting.Upload.S3.Prefix)
	assert.True(t, cfg.Reporting.Upload.S3.ForcePathStyle)
	assert.Equal(t, 10, cfg.Reporting.TopNTests)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", baseConfig)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, 0.3, cfg.Detection.EWMAAlpha)
				assert.Equal(t, "./original-output", cfg.Reporting.OutputDir)
			},
		},
		{
			name:    "string override - log_level",
			envVars: map[string]string{"FLAKEOOR_GLOBAL_LOG_LEVEL": "debug"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name:    "string override - log_file",
			envVars: map[string]string{"FLAKEOOR_GLOBAL_LOG_FILE": "/var/log/flakeoor.log"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/var/log/flakeoor.log", cfg.Global.LogFile)
			},
		},
		{
			name:    "float override - ewma_alpha",
			envVars: map[string]string{"FLAKEOOR_DETECTION_EWMA_ALPHA": "0.55"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 0.55, cfg.Detection.EWMAAlpha)
			},
		},
		{
			name:    "boolean override - use_ml_model false",
			envVars: map[string]string{"FLAKEOOR_DETECTION_USE_ML_MODEL": "false"},
			validate: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Detection.UseMLModel)
			},
		},
		{
			name:    "int override - random_seed",
			envVars: map[string]string{"FLAKEOOR_DETECTION_RANDOM_SEED": "1234"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, int64(1234), cfg.Detection.RandomSeed)
			},
		},
		{
			name:    "slice override - output_formats",
			envVars: map[string]string{"FLAKEOOR_REPORTING_OUTPUT_FORMATS": "csv,markdown"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"csv", "markdown"}, cfg.Reporting.OutputFormats)
			},
		},
		{
			name: "nested override - history database",
			envVars: map[string]string{
				"FLAKEOOR_HISTORY_ENABLED":                "true",
				"FLAKEOOR_HISTORY_DATABASE_DRIVER":        "postgres",
				"FLAKEOOR_HISTORY_DATABASE_POSTGRES_HOST": "db.internal",
				"FLAKEOOR_HISTORY_DATABASE_POSTGRES_PORT": "6543",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.History.Enabled)
				assert.Equal(t, "postgres", cfg.History.Database.Driver)
				assert.Equal(t, "db.internal", cfg.History.Database.Postgres.Host)
				assert.Equal(t, 6543, cfg.History.Database.Postgres.Port)
			},
		},
		{
			name: "squashed override - input s3",
			envVars: map[string]string{
				"FLAKEOOR_INPUT_S3_ENABLED": "true",
				"FLAKEOOR_INPUT_S3_BUCKET":  "ci-history",
				"FLAKEOOR_INPUT_S3_KEY":     "exports/history.csv",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Input.S3.Enabled)
				assert.Equal(t, "ci-history", cfg.Input.S3.Bucket)
				assert.Equal(t, "exports/history.csv", cfg.Input.S3.Key)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
		isCfg   bool
	}{
		{name: "valid", modify: func(*Config) {}},
		{
			name:    "bad log format",
			modify:  func(c *Config) { c.Global.LogFormat = "xml" },
			wantErr: "unknown log format",
		},
		{
			name:    "bad input format",
			modify:  func(c *Config) { c.Input.Format = "parquet" },
			wantErr: "unknown format",
		},
		{
			name:    "alpha out of range",
			modify:  func(c *Config) { c.Detection.EWMAAlpha = 1.5 },
			wantErr: "alpha",
			isCfg:   true,
		},
		{
			name:    "threshold not positive",
			modify:  func(c *Config) { c.Detection.ZThreshold = 0 },
			wantErr: "threshold",
			isCfg:   true,
		},
		{
			name:    "contamination out of range",
			modify:  func(c *Config) { c.Detection.MLContamination = 0 },
			wantErr: "contamination",
			isCfg:   true,
		},
		{
			name:    "unknown output format",
			modify:  func(c *Config) { c.Reporting.OutputFormats = []string{"console", "pdf"} },
			wantErr: "unknown output format",
		},
		{
			name:    "top n below one",
			modify:  func(c *Config) { c.Reporting.TopNTests = -1 },
			wantErr: "top_n_tests",
		},
		{
			name: "input s3 without key",
			modify: func(c *Config) {
				c.Input.S3.Enabled = true
				c.Input.S3.Bucket = "b"
			},
			wantErr: "key is required",
		},
		{
			name:    "malformed output owner",
			modify:  func(c *Config) { c.Reporting.OutputOwner = "1000" },
			wantErr: "output_owner",
		},
		{
			name:    "upload s3 without bucket",
			modify:  func(c *Config) { c.Reporting.Upload.S3.Enabled = true },
			wantErr: "bucket is required",
		},
		{
			name: "history with unknown driver",
			modify: func(c *Config) {
				c.History.Enabled = true
				c.History.Database.Driver = "mysql"
			},
			wantErr: "unsupported driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.modify(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.isCfg, errors.Is(err, detector.ErrInvalidConfiguration))
		})
	}
}

func TestValidateAPI(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateAPI())

	cfg.API.Auth.Basic.Enabled = true
	require.Error(t, cfg.ValidateAPI())

	cfg.API.Auth.Basic.Users = []BasicAuthUser{
		{Username: "ci", Password: "secret"},
		{Username: "ci", Password: "other"},
	}
	require.ErrorContains(t, cfg.ValidateAPI(), "duplicate")

	cfg.API.Auth.Basic.Users = cfg.API.Auth.Basic.Users[:1]
	require.NoError(t, cfg.ValidateAPI())

	cfg.API.RateLimit.Enabled = true
	require.Error(t, cfg.ValidateAPI())

	cfg.API.RateLimit.RequestsPerMinute = 60
	require.NoError(t, cfg.ValidateAPI())
}

func TestRedacted(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Input.S3.SecretAccessKey = "input-secret"
	cfg.History.Database.Postgres.Password = "pg-secret"
	cfg.API.Auth.Basic.Users = []BasicAuthUser{{Username: "ci", Password: "s3cret"}}

	out := cfg.Redacted()

	assert.Equal(t, "<redacted>", out.Input.S3.SecretAccessKey)
	assert.Equal(t, "", out.Reporting.Upload.S3.SecretAccessKey)
	assert.Equal(t, "<redacted>", out.History.Database.Postgres.Password)
	assert.Equal(t, "ci", out.API.Auth.Basic.Users[0].Username)
	assert.Equal(t, "<redacted>", out.API.Auth.Basic.Users[0].Password)

	// The original is untouched.
	assert.Equal(t, "input-secret", cfg.Input.S3.SecretAccessKey)
	assert.Equal(t, "s3cret", cfg.API.Auth.Basic.Users[0].Password)
}
