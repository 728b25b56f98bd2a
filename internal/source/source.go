// Package source opens the admissions table a report run reads. A Session is
// the run's one connection to its data: opened once, closed exactly once.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/errors"
	"github.com/paveg/losreport/internal/io"
)

// Session is a scoped handle on one data source
type Session struct {
	id     uuid.UUID
	cfg    config.SourceConfig
	mem    memory.Allocator
	logger *slog.Logger
	pool   *pgxpool.Pool

	mu     sync.Mutex
	closed bool
}

// Option configures a Session
type Option func(*Session)

// WithAllocator sets the Arrow allocator loaded tables use
func WithAllocator(mem memory.Allocator) Option {
	return func(s *Session) {
		s.mem = mem
	}
}

// WithLogger sets the session logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Open validates the source and, for postgres, connects and pings the server
func Open(ctx context.Context, cfg config.SourceConfig, opts ...Option) (*Session, error) {
	s := &Session{
		id:     uuid.New(),
		cfg:    cfg,
		mem:    memory.NewGoAllocator(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	switch cfg.Kind {
	case config.SourceCSV, config.SourceParquet:
		if _, err := os.Stat(cfg.Path); err != nil {
			return nil, fmt.Errorf("open %s source: %w", cfg.Kind, err)
		}
	case config.SourcePostgres:
		pool, err := connect(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		s.pool = pool
	default:
		return nil, errors.NewInvalidInputError("OpenSource", fmt.Sprintf("unsupported source kind %q", cfg.Kind))
	}

	s.logger.Info("session opened", "session", s.id.String(), "kind", cfg.Kind)
	return s, nil
}

// ID identifies the session in logs
func (s *Session) ID() string {
	return s.id.String()
}

// Load reads the whole table. Every required column must be present.
func (s *Session) Load(ctx context.Context, required []string) (*dataframe.DataFrame, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		df  *dataframe.DataFrame
		err error
	)
	switch s.cfg.Kind {
	case config.SourceCSV:
		df, err = s.readFile(func(f *os.File) (*dataframe.DataFrame, error) {
			opts := io.DefaultCSVOptions()
			if s.cfg.NullValues != nil {
				opts.NullValues = s.cfg.NullValues
			}
			opts.RequiredColumns = required
			return io.NewCSVReader(f, opts, s.mem).Read()
		})
	case config.SourceParquet:
		df, err = s.readFile(func(f *os.File) (*dataframe.DataFrame, error) {
			opts := io.DefaultParquetOptions()
			opts.RequiredColumns = required
			return io.NewParquetReader(f, opts, s.mem).ReadContext(ctx)
		})
	case config.SourcePostgres:
		df, err = readTable(ctx, s.pool, s.cfg.Table, required, s.mem)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s source: %w", s.cfg.Kind, err)
	}

	s.logger.Debug("table loaded", "session", s.id.String(), "rows", df.Len(), "columns", df.Width())
	return df, nil
}

// Table loads the source and returns it as a lazy table handle
func (s *Session) Table(ctx context.Context, required []string, opts ...dataframe.LazyOption) (*dataframe.LazyFrame, error) {
	df, err := s.Load(ctx, required)
	if err != nil {
		return nil, err
	}
	return df.Lazy(opts...), nil
}

func (s *Session) readFile(read func(*os.File) (*dataframe.DataFrame, error)) (*dataframe.DataFrame, error) {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return read(f)
}

// Close releases the session. Only the first call does any work.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pool != nil {
		s.pool.Close()
	}
	s.logger.Info("session closed", "session", s.id.String())
	return nil
}
