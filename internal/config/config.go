// Package config provides configuration management for a losreport run
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the configuration of one report run. There is no global
// instance: the CLI loads one and hands it to the pipeline.
type Config struct {
	Source   SourceConfig   `json:"source" yaml:"source"`
	Schema   SchemaConfig   `json:"schema" yaml:"schema"`
	Profile  ProfileConfig  `json:"profile" yaml:"profile"`
	Clean    CleanConfig    `json:"clean" yaml:"clean"`
	Collapse CollapseConfig `json:"collapse" yaml:"collapse"`
	Split    SplitConfig    `json:"split" yaml:"split"`
	Forest   ForestConfig   `json:"forest" yaml:"forest"`
	Output   OutputConfig   `json:"output" yaml:"output"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// SourceConfig selects where admissions are read from
type SourceConfig struct {
	Kind       string   `json:"kind" yaml:"kind"`               // csv, parquet or postgres
	Path       string   `json:"path" yaml:"path"`               // file path for csv and parquet
	DSN        string   `json:"dsn" yaml:"dsn"`                 // connection string for postgres
	Table      string   `json:"table" yaml:"table"`             // table name for postgres
	NullValues []string `json:"null_values" yaml:"null_values"` // CSV cells read as null
}

// SchemaConfig names the role of every column in the admissions table
type SchemaConfig struct {
	Identifiers []string `json:"identifiers" yaml:"identifiers"`
	Categorical []string `json:"categorical" yaml:"categorical"`
	Numeric     []string `json:"numeric" yaml:"numeric"`
	Leakage     []string `json:"leakage" yaml:"leakage"`
	Target      string   `json:"target" yaml:"target"`
	// Allowlist restricts model features; empty keeps every feature.
	Allowlist []string `json:"allowlist" yaml:"allowlist"`
}

// Columns returns every column the schema names, in role order, without
// duplicates. A loaded table must contain all of them.
func (s SchemaConfig) Columns() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(names ...string) {
		for _, n := range names {
			if n != "" && !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	add(s.Identifiers...)
	add(s.Categorical...)
	add(s.Numeric...)
	add(s.Leakage...)
	add(s.Target)
	return out
}

// ProfileConfig tunes the column profiler
type ProfileConfig struct {
	CardinalityLimit int `json:"cardinality_limit" yaml:"cardinality_limit"`
}

// CleanConfig lists the columns whose null rows are dropped
type CleanConfig struct {
	Columns []string `json:"columns" yaml:"columns"`
}

// CollapseConfig describes the long-tail target label rewrite
type CollapseConfig struct {
	Column      string   `json:"column" yaml:"column"`
	Labels      []string `json:"labels" yaml:"labels"`
	Into        string   `json:"into" yaml:"into"`
	PassThrough []string `json:"pass_through" yaml:"pass_through"`
	Unseen      string   `json:"unseen" yaml:"unseen"` // reject or pass
}

// SplitConfig sets the train/test partition
type SplitConfig struct {
	TrainRatio float64 `json:"train_ratio" yaml:"train_ratio"`
	Seed       uint64  `json:"seed" yaml:"seed"`
}

// ForestConfig holds Random Forest hyperparameters
type ForestConfig struct {
	NumTrees            int     `json:"num_trees" yaml:"num_trees"`
	MaxDepth            int     `json:"max_depth" yaml:"max_depth"`
	MinInstancesPerNode int     `json:"min_instances_per_node" yaml:"min_instances_per_node"`
	MaxBins             int     `json:"max_bins" yaml:"max_bins"`
	SubsamplingRate     float64 `json:"subsampling_rate" yaml:"subsampling_rate"`
	FeatureSubset       string  `json:"feature_subset" yaml:"feature_subset"`
	Seed                uint64  `json:"seed" yaml:"seed"`
}

// OutputConfig lists the artifacts a run writes
type OutputConfig struct {
	ReportPath      string `json:"report_path" yaml:"report_path"`
	PredictionsPath string `json:"predictions_path" yaml:"predictions_path"` // optional Parquet export
	EncodedPath     string `json:"encoded_path" yaml:"encoded_path"`         // optional CSV export
}

// EngineConfig tunes the lazy dataframe engine
type EngineConfig struct {
	ParallelThreshold int  `json:"parallel_threshold" yaml:"parallel_threshold"` // Minimum rows to trigger parallel collect
	WorkerPoolSize    int  `json:"worker_pool_size" yaml:"worker_pool_size"`     // Number of worker goroutines (0 = auto-detect)
	ChunkSize         int  `json:"chunk_size" yaml:"chunk_size"`                 // Rows per parallel chunk (0 = auto-calculate)
	FilterFusion      bool `json:"filter_fusion" yaml:"filter_fusion"`           // Fuse consecutive filters
	PredicatePushdown bool `json:"predicate_pushdown" yaml:"predicate_pushdown"` // Move filters ahead of independent operations
}

// LoggingConfig selects the slog handler
type LoggingConfig struct {
	Verbose bool   `json:"verbose" yaml:"verbose"`
	Format  string `json:"format" yaml:"format"` // text or json
}

// Source kinds
const (
	SourceCSV      = "csv"
	SourceParquet  = "parquet"
	SourcePostgres = "postgres"
)

// Unseen label policies
const (
	UnseenReject = "reject"
	UnseenPass   = "pass"
)

// Default configuration values
const (
	DefaultCardinalityLimit  = 15
	DefaultTrainRatio        = 0.8
	DefaultSeed              = 42
	DefaultNumTrees          = 20
	DefaultMaxDepth          = 5
	DefaultMinInstances      = 1
	DefaultMaxBins           = 32
	DefaultSubsamplingRate   = 1.0
	DefaultFeatureSubset     = "auto"
	DefaultParallelThreshold = 1000
	DefaultReportPath        = "report.html"

	minChunkSize    = 500
	maxChunkSize    = 10000
	chunksPerWorker = 3
)

var featureSubsets = map[string]bool{
	"auto": true, "all": true, "sqrt": true, "log2": true, "onethird": true,
}

// NewConfig creates a new configuration with default values
func NewConfig() Config {
	return Config{
		Source: SourceConfig{
			Kind:       SourceCSV,
			Path:       "covid_hospital_admissions.csv",
			NullValues: []string{"", "NA", "null"},
		},
		Schema: SchemaConfig{
			Identifiers: []string{"case_id", "patientid"},
			Categorical: []string{
				"Hospital_type_code", "Hospital_region_code", "Department", "Ward_Type",
				"Ward_Facility_Code", "Type of Admission", "Severity of Illness", "Age",
			},
			Numeric: []string{
				"Hospital_code", "City_Code_Hospital", "Bed Grade", "City_Code_Patient",
				"Available Extra Rooms in Hospital", "Visitors with Patient", "Admission_Deposit",
			},
			Leakage: []string{"Visitors with Patient"},
			Target:  "Stay",
		},
		Profile: ProfileConfig{CardinalityLimit: DefaultCardinalityLimit},
		Clean:   CleanConfig{Columns: []string{"Bed Grade", "City_Code_Patient"}},
		Collapse: CollapseConfig{
			Column: "Stay",
			Labels: []string{
				"41-50", "51-60", "61-70", "71-80", "81-90", "91-100", "More than 100 Days",
			},
			Into:        "More than 40",
			PassThrough: []string{"0-10", "11-20", "21-30", "31-40"},
			Unseen:      UnseenReject,
		},
		Split: SplitConfig{TrainRatio: DefaultTrainRatio, Seed: DefaultSeed},
		Forest: ForestConfig{
			NumTrees:            DefaultNumTrees,
			MaxDepth:            DefaultMaxDepth,
			MinInstancesPerNode: DefaultMinInstances,
			MaxBins:             DefaultMaxBins,
			SubsamplingRate:     DefaultSubsamplingRate,
			FeatureSubset:       DefaultFeatureSubset,
			Seed:                DefaultSeed,
		},
		Output: OutputConfig{ReportPath: DefaultReportPath},
		Engine: EngineConfig{
			ParallelThreshold: DefaultParallelThreshold,
			WorkerPoolSize:    0, // Auto-detect
			ChunkSize:         0, // Auto-calculate
			FilterFusion:      true,
			PredicatePushdown: true,
		},
		Logging: LoggingConfig{Format: "text"},
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceCSV, SourceParquet:
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required for %s sources", c.Source.Kind)
		}
	case SourcePostgres:
		if c.Source.DSN == "" || c.Source.Table == "" {
			return fmt.Errorf("source.dsn and source.table are required for postgres sources")
		}
	default:
		return fmt.Errorf("unsupported source kind %q", c.Source.Kind)
	}

	if c.Schema.Target == "" {
		return fmt.Errorf("schema.target must be set")
	}

	if c.Profile.CardinalityLimit <= 0 {
		return fmt.Errorf("CardinalityLimit must be positive, got %d", c.Profile.CardinalityLimit)
	}

	if c.Collapse.Column != "" {
		if c.Collapse.Into == "" {
			return fmt.Errorf("collapse.into must be set when collapse.column is %q", c.Collapse.Column)
		}
		if c.Collapse.Unseen != UnseenReject && c.Collapse.Unseen != UnseenPass {
			return fmt.Errorf("collapse.unseen must be %q or %q, got %q", UnseenReject, UnseenPass, c.Collapse.Unseen)
		}
	}

	if c.Split.TrainRatio <= 0 || c.Split.TrainRatio >= 1 {
		return fmt.Errorf("TrainRatio must be between 0 and 1 exclusive, got %f", c.Split.TrainRatio)
	}

	if err := c.Forest.validate(); err != nil {
		return err
	}

	if c.Engine.ParallelThreshold <= 0 {
		return fmt.Errorf("ParallelThreshold must be positive, got %d", c.Engine.ParallelThreshold)
	}

	if c.Engine.WorkerPoolSize < 0 {
		return fmt.Errorf("WorkerPoolSize must be non-negative, got %d", c.Engine.WorkerPoolSize)
	}

	if c.Engine.ChunkSize < 0 {
		return fmt.Errorf("ChunkSize must be non-negative, got %d", c.Engine.ChunkSize)
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (f ForestConfig) validate() error {
	if f.NumTrees <= 0 {
		return fmt.Errorf("NumTrees must be positive, got %d", f.NumTrees)
	}
	if f.MaxDepth < 0 {
		return fmt.Errorf("MaxDepth must be non-negative, got %d", f.MaxDepth)
	}
	if f.MinInstancesPerNode <= 0 {
		return fmt.Errorf("MinInstancesPerNode must be positive, got %d", f.MinInstancesPerNode)
	}
	if f.MaxBins < 2 {
		return fmt.Errorf("MaxBins must be at least 2, got %d", f.MaxBins)
	}
	if f.SubsamplingRate <= 0 || f.SubsamplingRate > 1 {
		return fmt.Errorf("SubsamplingRate must be in (0, 1], got %f", f.SubsamplingRate)
	}
	if !featureSubsets[f.FeatureSubset] {
		return fmt.Errorf("unsupported FeatureSubset %q", f.FeatureSubset)
	}
	return nil
}

// WithDefaults returns a new configuration with default values filled in for zero values
func (c Config) WithDefaults() Config {
	defaults := NewConfig()

	if c.Source.Kind == "" {
		c.Source.Kind = defaults.Source.Kind
	}
	if c.Source.NullValues == nil {
		c.Source.NullValues = defaults.Source.NullValues
	}
	if c.Schema.Target == "" && len(c.Schema.Categorical) == 0 && len(c.Schema.Numeric) == 0 {
		c.Schema = defaults.Schema
	}
	if c.Profile.CardinalityLimit == 0 {
		c.Profile.CardinalityLimit = defaults.Profile.CardinalityLimit
	}
	if c.Collapse.Column != "" && c.Collapse.Unseen == "" {
		c.Collapse.Unseen = UnseenReject
	}
	if c.Split.TrainRatio == 0 {
		c.Split.TrainRatio = defaults.Split.TrainRatio
	}
	if c.Forest.NumTrees == 0 {
		c.Forest.NumTrees = defaults.Forest.NumTrees
	}
	if c.Forest.MaxDepth == 0 {
		c.Forest.MaxDepth = defaults.Forest.MaxDepth
	}
	if c.Forest.MinInstancesPerNode == 0 {
		c.Forest.MinInstancesPerNode = defaults.Forest.MinInstancesPerNode
	}
	if c.Forest.MaxBins == 0 {
		c.Forest.MaxBins = defaults.Forest.MaxBins
	}
	if c.Forest.SubsamplingRate == 0 {
		c.Forest.SubsamplingRate = defaults.Forest.SubsamplingRate
	}
	if c.Forest.FeatureSubset == "" {
		c.Forest.FeatureSubset = defaults.Forest.FeatureSubset
	}
	if c.Output.ReportPath == "" {
		c.Output.ReportPath = defaults.Output.ReportPath
	}
	if c.Engine.ParallelThreshold == 0 {
		c.Engine.ParallelThreshold = defaults.Engine.ParallelThreshold
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}

	// Note: Boolean fields and seeds are intentionally not set to defaults here
	// so an explicit false or zero seed survives. Use NewConfig() for those.

	return c
}

// ChunkSizeFor returns the rows per chunk for parallel collection of a frame
// with rowCount rows: the configured size, or about three chunks per worker
// clamped to [500, 10000].
func (e EngineConfig) ChunkSizeFor(rowCount, workers int) int {
	if e.ChunkSize > 0 {
		return e.ChunkSize
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	size := rowCount / (workers * chunksPerWorker)
	if size < minChunkSize {
		size = minChunkSize
	}
	if size > maxChunkSize {
		size = maxChunkSize
	}
	return size
}

// LoadFromJSON loads configuration from JSON data
func LoadFromJSON(data []byte) (Config, error) {
	config := NewConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing JSON configuration: %w", err)
	}
	return config.WithDefaults(), nil
}

// LoadFromYAML loads configuration from YAML data
func LoadFromYAML(data []byte) (Config, error) {
	config := NewConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing YAML configuration: %w", err)
	}
	return config.WithDefaults(), nil
}

// LoadFromFile loads configuration from a file (supports JSON and YAML).
// Keys absent from the file keep their NewConfig values.
func LoadFromFile(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", filename, err)
	}

	ext := strings.ToLower(filepath.Ext(filename))

	var config Config
	switch ext {
	case ".json":
		config, err = LoadFromJSON(data)
	case ".yaml", ".yml":
		config, err = LoadFromYAML(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", filename, err)
	}

	return config, nil
}

// LoadFromEnv overrides fields of base from LOSREPORT_* environment variables.
// Unparseable values are ignored.
func LoadFromEnv(base Config) Config {
	config := base

	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if parsed, err := strconv.Atoi(val); err == nil {
				*dst = parsed
			}
		}
	}
	setUint := func(key string, dst *uint64) {
		if val := os.Getenv(key); val != "" {
			if parsed, err := strconv.ParseUint(val, 10, 64); err == nil {
				*dst = parsed
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if val := os.Getenv(key); val != "" {
			if parsed, err := strconv.ParseFloat(val, 64); err == nil {
				*dst = parsed
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			if parsed, err := strconv.ParseBool(val); err == nil {
				*dst = parsed
			}
		}
	}

	setString("LOSREPORT_SOURCE_KIND", &config.Source.Kind)
	setString("LOSREPORT_SOURCE_PATH", &config.Source.Path)
	setString("LOSREPORT_SOURCE_DSN", &config.Source.DSN)
	setString("LOSREPORT_SOURCE_TABLE", &config.Source.Table)
	setInt("LOSREPORT_CARDINALITY_LIMIT", &config.Profile.CardinalityLimit)
	setFloat("LOSREPORT_TRAIN_RATIO", &config.Split.TrainRatio)
	setUint("LOSREPORT_SPLIT_SEED", &config.Split.Seed)
	setInt("LOSREPORT_NUM_TREES", &config.Forest.NumTrees)
	setInt("LOSREPORT_MAX_DEPTH", &config.Forest.MaxDepth)
	setUint("LOSREPORT_FOREST_SEED", &config.Forest.Seed)
	setString("LOSREPORT_REPORT_PATH", &config.Output.ReportPath)
	setString("LOSREPORT_PREDICTIONS_PATH", &config.Output.PredictionsPath)
	setString("LOSREPORT_ENCODED_PATH", &config.Output.EncodedPath)
	setInt("LOSREPORT_PARALLEL_THRESHOLD", &config.Engine.ParallelThreshold)
	setInt("LOSREPORT_WORKER_POOL_SIZE", &config.Engine.WorkerPoolSize)
	setInt("LOSREPORT_CHUNK_SIZE", &config.Engine.ChunkSize)
	setBool("LOSREPORT_FILTER_FUSION", &config.Engine.FilterFusion)
	setBool("LOSREPORT_PREDICATE_PUSHDOWN", &config.Engine.PredicatePushdown)
	setBool("LOSREPORT_VERBOSE", &config.Logging.Verbose)
	setString("LOSREPORT_LOG_FORMAT", &config.Logging.Format)

	if val := os.Getenv("LOSREPORT_ALLOWLIST"); val != "" {
		config.Schema.Allowlist = splitList(val)
	}

	return config
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
