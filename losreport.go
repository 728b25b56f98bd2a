// Package losreport builds a length-of-stay report for hospital admissions:
// it profiles and cleans an admissions table, trains a Random Forest on the
// encoded rows and renders the evaluation as one HTML document.
//
// This package is the public API; the stages live under internal/.
//
//	cfg := losreport.DefaultConfig()
//	cfg.Source.Path = "admissions.csv"
//	res, err := losreport.Run(ctx, cfg)
package losreport

import (
	"context"
	"log/slog"

	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/pipeline"
)

// Config is the run configuration
type Config = config.Config

// Result is the outcome of a successful run
type Result = pipeline.Result

// Option configures a run
type Option = pipeline.Option

// WithLogger sets the logger of a run
func WithLogger(logger *slog.Logger) Option {
	return pipeline.WithLogger(logger)
}

// DefaultConfig returns the configuration for the standard admissions schema
func DefaultConfig() Config {
	return config.NewConfig()
}

// LoadConfig reads a YAML or JSON configuration file and applies LOSREPORT_*
// environment overrides
func LoadConfig(path string) (Config, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return Config{}, err
	}
	return config.LoadFromEnv(cfg), nil
}

// Run executes the whole pipeline once and writes the report to
// cfg.Output.ReportPath
func Run(ctx context.Context, cfg Config, opts ...Option) (*Result, error) {
	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}
