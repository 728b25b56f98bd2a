package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/pipeline"
	"github.com/paveg/losreport/internal/version"
)

func usage(fs *flag.FlagSet, w io.Writer) func() {
	return func() {
		fmt.Fprintf(w, "losreport (version %s)\n\n", version.Version)
		fmt.Fprintf(w, "Usage: losreport [options]\n\n")
		fmt.Fprintf(w, "Builds a length-of-stay HTML report from an admissions table.\n")
		fmt.Fprintf(w, "Settings are read from the config file, then LOSREPORT_* variables, then flags.\n\n")
		fmt.Fprintf(w, "Options:\n")
		fs.SetOutput(w)
		fs.PrintDefaults()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("losreport", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = usage(fs, stderr)

	configPath := fs.String("config", "", "YAML or JSON configuration file")
	input := fs.String("input", "", "input file, overrides source.path")
	kind := fs.String("kind", "", "source kind: csv, parquet or postgres")
	out := fs.String("out", "", "report path, overrides output.report_path")
	predictions := fs.String("predictions", "", "write test predictions to this Parquet file")
	encoded := fs.String("encoded", "", "write the encoded table to this file (.csv or .parquet)")
	verbose := fs.Bool("v", false, "verbose logging")
	jsonLogs := fs.Bool("json", false, "log as JSON")
	versionFlag := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "losreport: %v\n", err)
		return 2
	}

	if *versionFlag {
		fmt.Fprint(stdout, version.Info().String())
		return 0
	}

	cfg := config.NewConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "losreport: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	cfg = config.LoadFromEnv(cfg)

	if *input != "" {
		cfg.Source.Path = *input
	}
	if *kind != "" {
		cfg.Source.Kind = *kind
	}
	if *out != "" {
		cfg.Output.ReportPath = *out
	}
	if *predictions != "" {
		cfg.Output.PredictionsPath = *predictions
	}
	if *encoded != "" {
		cfg.Output.EncodedPath = *encoded
	}
	if *verbose {
		cfg.Logging.Verbose = true
	}
	if *jsonLogs {
		cfg.Logging.Format = "json"
	}

	logger := newLogger(cfg.Logging, stderr)

	p, err := pipeline.New(cfg, pipeline.WithLogger(logger))
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	res, err := p.Run(ctx)
	if err != nil {
		return 1
	}

	fmt.Fprintf(stdout, "report written to %s\n", res.ReportPath)
	for _, row := range res.Metrics.Rows() {
		fmt.Fprintf(stdout, "  %-20s %s\n", row.Name, row.Percent)
	}
	return 0
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
