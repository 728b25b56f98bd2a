// Package pipeline runs the length-of-stay report end to end: load,
// profile, clean, collapse, encode, split, train, evaluate and report.
// Any stage failure aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/evaluate"
	"github.com/paveg/losreport/internal/forest"
	"github.com/paveg/losreport/internal/monitoring"
	"github.com/paveg/losreport/internal/parallel"
	"github.com/paveg/losreport/internal/prep"
	"github.com/paveg/losreport/internal/profile"
	"github.com/paveg/losreport/internal/report"
	"github.com/paveg/losreport/internal/source"
	"github.com/paveg/losreport/internal/version"
)

// Stage names as they appear in logs and the report
const (
	StageLoad     = "load"
	StageProfile  = "profile"
	StageClean    = "clean"
	StageCollapse = "collapse"
	StageEncode   = "encode"
	StageSplit    = "split"
	StageTrain    = "train"
	StageEvaluate = "evaluate"
	StageReport   = "report"
)

// Pipeline holds the configuration of a run. It is safe to Run more than
// once; every run opens its own session and worker pool.
type Pipeline struct {
	cfg    config.Config
	logger *slog.Logger
	mem    memory.Allocator
	now    func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithAllocator sets the Arrow allocator used for every table of the run
func WithAllocator(mem memory.Allocator) Option {
	return func(p *Pipeline) {
		p.mem = mem
	}
}

// WithClock sets the clock used for the report timestamp
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New validates cfg, after filling in defaults, and returns a Pipeline
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	p := &Pipeline{
		cfg:    cfg,
		logger: slog.Default(),
		mem:    memory.NewGoAllocator(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the effective configuration
func (p *Pipeline) Config() config.Config {
	return p.cfg
}

// Result is the outcome of a successful run
type Result struct {
	RunID       uuid.UUID
	Report      *report.Report
	Model       *forest.Model
	Encoding    *prep.Encoding
	Metrics     evaluate.Metrics
	Confusion   *evaluate.ConfusionMatrix
	ReportPath  string
	Predictions string
	Encoded     string
	// Stages times every stage including report. The rendered report only
	// lists the stages that finished before it was written.
	Stages []monitoring.StageMetrics
}

// run carries the state shared by the stages of one run
type run struct {
	*Pipeline
	id      uuid.UUID
	logger  *slog.Logger
	pool    *parallel.WorkerPool
	metrics *monitoring.MetricsCollector
	lazy    []dataframe.LazyOption
}

// Run executes every stage once, in order
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	id := uuid.New()
	r := &run{
		Pipeline: p,
		id:       id,
		logger:   p.logger.With("run_id", id.String()),
		pool:     parallel.NewWorkerPool(p.cfg.Engine.WorkerPoolSize),
		metrics:  monitoring.NewMetricsCollector(true),
	}
	defer r.pool.Close()
	r.lazy = []dataframe.LazyOption{dataframe.WithPool(r.pool), dataframe.WithEngineConfig(p.cfg.Engine)}

	r.logger.Info("run started", "source", p.cfg.Source.Kind, "workers", r.pool.NumWorkers())
	res, err := r.execute(ctx)
	if err != nil {
		r.logger.Error("run failed", "error", err)
		return nil, err
	}
	r.logger.Info("run finished",
		"accuracy", res.Metrics.Accuracy,
		"f1", res.Metrics.F1,
		"report", res.ReportPath,
		"elapsed", r.metrics.GetSummary().TotalDuration)
	return res, nil
}

// stage times fn and logs its outcome
func (r *run) stage(name string, fn func() (int64, error)) error {
	r.logger.Debug("stage started", "stage", name)
	var rows int64
	err := r.metrics.RecordStage(name, func() (int64, error) {
		var err error
		rows, err = fn()
		return rows, err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	r.logger.Info("stage finished", "stage", name, "rows", rows)
	return nil
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	cfg := r.cfg
	session, err := source.Open(ctx, cfg.Source, source.WithAllocator(r.mem), source.WithLogger(r.logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageLoad, err)
	}
	defer session.Close()

	rep := &report.Report{
		RunID:         r.id,
		Version:       version.Info().Short(),
		Source:        sourceName(cfg.Source),
		TargetColumn:  cfg.Schema.Target,
		LeakageColumn: leakageColumn(cfg.Schema),
	}

	var table *dataframe.LazyFrame
	if err := r.stage(StageLoad, func() (int64, error) {
		table, err = session.Table(ctx, cfg.Schema.Columns(), r.lazy...)
		if err != nil {
			return 0, err
		}
		return int64(table.Source().Len()), nil
	}); err != nil {
		return nil, err
	}
	defer table.Source().Release()

	if err := r.stage(StageProfile, func() (int64, error) {
		profiler := profile.New(
			profile.WithCardinalityLimit(cfg.Profile.CardinalityLimit),
			profile.WithPool(r.pool),
			profile.WithLogger(r.logger),
		)
		rep.Profiles, err = profiler.Profile(ctx, table)
		return int64(len(rep.Profiles)), err
	}); err != nil {
		return nil, err
	}

	var cleaned *dataframe.DataFrame
	if err := r.stage(StageClean, func() (int64, error) {
		cleaner := prep.Cleaner{Columns: cfg.Clean.Columns}
		cleaned, err = cleaner.Apply(table).Collect(ctx)
		if err != nil {
			return 0, err
		}
		rep.Clean = cleaner.Stats(table.Source().Len(), cleaned.Len())
		r.logger.Debug("rows removed", "stage", StageClean, "removed", rep.Clean.Removed)
		return int64(cleaned.Len()), nil
	}); err != nil {
		return nil, err
	}

	var collapsed *dataframe.DataFrame
	if err := r.stage(StageCollapse, func() (int64, error) {
		collapsed = cleaned
		if cfg.Collapse.Column != "" {
			collapser, err := prep.NewCollapser(cfg.Collapse)
			if err != nil {
				return 0, err
			}
			lf, err := collapser.Apply(ctx, cleaned.Lazy(r.lazy...))
			if err != nil {
				return 0, err
			}
			if collapsed, err = lf.Collect(ctx); err != nil {
				return 0, err
			}
		} else {
			r.logger.Debug("collapse disabled", "stage", StageCollapse)
		}
		if rep.Target, err = report.TargetDistribution(ctx, collapsed.Lazy(r.lazy...), cfg.Schema.Target); err != nil {
			return 0, err
		}
		if rep.LeakageColumn != "" {
			if rep.Leakage, err = report.LeakageStats(ctx, collapsed, rep.LeakageColumn, cfg.Schema.Target); err != nil {
				return 0, err
			}
		}
		return int64(collapsed.Len()), nil
	}); err != nil {
		return nil, err
	}

	var (
		encoding *prep.Encoding
		encoded  *dataframe.DataFrame
	)
	if err := r.stage(StageEncode, func() (int64, error) {
		encoding, err = prep.NewEncoder(cfg.Schema).Fit(ctx, collapsed)
		if err != nil {
			return 0, err
		}
		plan := encoding.Transform(collapsed.Lazy(r.lazy...))
		r.logger.Debug("encode plan", "stage", StageEncode, "plan", plan.Explain())
		if encoded, err = plan.Collect(ctx); err != nil {
			return 0, err
		}
		r.logger.Debug("features encoded", "stage", StageEncode, "features", encoding.Features())
		return int64(encoded.Len()), nil
	}); err != nil {
		return nil, err
	}
	rep.Features = encoding.Features()

	var train, test *dataframe.DataFrame
	if err := r.stage(StageSplit, func() (int64, error) {
		train, test, err = prep.Split(encoded, cfg.Split.TrainRatio, cfg.Split.Seed)
		return int64(encoded.Len()), err
	}); err != nil {
		return nil, err
	}
	defer train.Release()
	defer test.Release()
	rep.TrainRows, rep.TestRows = train.Len(), test.Len()

	var model *forest.Model
	if err := r.stage(StageTrain, func() (int64, error) {
		ds, err := forest.FromFrame(train, encoding.Features(), prep.LabelColumn)
		if err != nil {
			return 0, err
		}
		model, err = forest.Train(ctx, ds, forest.ParamsFromConfig(cfg.Forest),
			forest.WithPool(r.pool), forest.WithLogger(r.logger))
		return int64(ds.Len()), err
	}); err != nil {
		return nil, err
	}
	rep.Importances = model.FeatureImportances()

	var predictions *dataframe.DataFrame
	if err := r.stage(StageEvaluate, func() (int64, error) {
		predictions, err = evaluate.Predictions(model, test, encoding.Features(), prep.LabelColumn)
		if err != nil {
			return 0, err
		}
		actual, predicted, err := evaluate.Codes(predictions)
		if err != nil {
			return 0, err
		}
		if rep.Metrics, err = evaluate.Compute(actual, predicted, encoding.Target().Len()); err != nil {
			return 0, err
		}
		if rep.Confusion, err = evaluate.Confusion(ctx, predictions, encoding.Target()); err != nil {
			return 0, err
		}
		return int64(predictions.Len()), nil
	}); err != nil {
		return nil, err
	}
	defer predictions.Release()

	res := &Result{
		RunID:      r.id,
		Report:     rep,
		Model:      model,
		Encoding:   encoding,
		Metrics:    rep.Metrics,
		Confusion:  rep.Confusion,
		ReportPath: cfg.Output.ReportPath,
	}

	if err := r.stage(StageReport, func() (int64, error) {
		if path := cfg.Output.PredictionsPath; path != "" {
			if err := WritePredictions(path, predictions, encoding.Target()); err != nil {
				return 0, err
			}
			res.Predictions = path
		}
		if path := cfg.Output.EncodedPath; path != "" {
			if err := WriteEncoded(path, encoded); err != nil {
				return 0, err
			}
			res.Encoded = path
		}
		rep.GeneratedAt = r.now()
		rep.Stages = r.metrics.GetMetrics()
		return 1, writeReport(cfg.Output.ReportPath, rep)
	}); err != nil {
		return nil, err
	}
	res.Stages = r.metrics.GetMetrics()
	return res, nil
}

func writeReport(path string, rep *report.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	if err := rep.Render(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func sourceName(cfg config.SourceConfig) string {
	if cfg.Kind == config.SourcePostgres {
		return "postgres table " + cfg.Table
	}
	return cfg.Path
}

// leakageColumn is the feature drawn in the leakage boxplot
func leakageColumn(schema config.SchemaConfig) string {
	if len(schema.Leakage) == 0 {
		return ""
	}
	return schema.Leakage[0]
}
