package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"sparkify/internal/config"
	"sparkify/internal/datasource/file"
	"sparkify/internal/metrics"
	"sparkify/internal/storage"
	"sparkify/internal/transformer"
	"sparkify/internal/warehouse"
)

// Summary describes a finished (or aborted) run.
type Summary struct {
	RunID    string
	Songs    TreeStats
	Logs     TreeStats
	Duration time.Duration
}

// Runner executes a configured load end to end: open the warehouse, prepare
// the schema, load the song side, then the log side.
type Runner struct {
	// OpenWarehouse is the storage seam. Defaults to storage.Open.
	OpenWarehouse func(ctx context.Context, cfg storage.Config) (storage.Warehouse, error)

	// NewRunID defaults to a ULID.
	NewRunID func() string

	Progress io.Writer
	Logger   *zap.Logger
}

// NewDefaultRunner returns a Runner using the registered storage backends.
func NewDefaultRunner(log *zap.Logger, progress io.Writer) *Runner {
	return &Runner{
		OpenWarehouse: storage.Open,
		NewRunID:      func() string { return ulid.Make().String() },
		Progress:      progress,
		Logger:        log,
	}
}

// Run loads cfg. The song side always runs before the log side so the
// catalog exists when plays are resolved. The warehouse is closed on every
// return path.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline) (sum Summary, err error) {
	if err := configError(cfg); err != nil {
		return Summary{}, err
	}

	start := time.Now()
	sum.RunID = r.runID()
	log := r.logger().With(zap.String("run_id", sum.RunID), zap.String("job", cfg.Job))
	defer func() {
		sum.Duration = time.Since(start)
		metrics.RecordStep(cfg.Job, "run", err, sum.Duration)
	}()

	open := r.OpenWarehouse
	if open == nil {
		open = storage.Open
	}
	wh, err := open(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.ExpandedDSN()})
	if err != nil {
		return sum, fmt.Errorf("open warehouse: %w", err)
	}
	defer wh.Close()
	log.Info("stage=open ok", zap.String("storage", cfg.Storage.Kind))

	if err := prepareSchema(ctx, wh, cfg, log); err != nil {
		return sum, err
	}

	d := &Driver{
		WH:            wh,
		Job:           cfg.Job,
		ParserOptions: cfg.Parser.Options,
		Progress:      r.Progress,
		Logger:        log,
		DebugTimings:  cfg.Runtime.DebugTimings,
	}

	sum.Songs, err = r.loadSide(ctx, d, cfg.Source.SongData, cfg.Source.SongList, transformer.KindSong, log)
	if err != nil {
		return sum, err
	}
	sum.Logs, err = r.loadSide(ctx, d, cfg.Source.LogData, cfg.Source.LogList, transformer.KindLog, log)
	if err != nil {
		return sum, err
	}

	log.Info("stage=done ok",
		zap.Int("song_files", sum.Songs.Files),
		zap.Int("log_files", sum.Logs.Files),
		zap.Int("songplays", sum.Logs.Plays),
		zap.Int("unresolved", sum.Logs.Unresolved),
		zap.Duration("duration", time.Since(start).Truncate(time.Millisecond)),
	)
	return sum, nil
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) runID() string {
	if r.NewRunID == nil {
		return ulid.Make().String()
	}
	return r.NewRunID()
}

func (r *Runner) loadSide(ctx context.Context, d *Driver, tree, list string, kind transformer.Kind, log *zap.Logger) (TreeStats, error) {
	var (
		st  TreeStats
		err error
	)
	start := time.Now()
	switch {
	case list != "":
		var files []string
		files, err = file.ReadList(list)
		if err != nil {
			return TreeStats{}, fmt.Errorf("read %s list: %w", kind, err)
		}
		fmt.Fprintf(d.progress(), "%d files found in %s\n", len(files), list)
		st, err = d.ProcessFiles(ctx, files, kind)
	case tree != "":
		st, err = d.ProcessTree(ctx, tree, kind)
	default:
		log.Info("stage=load skipped", zap.Stringer("kind", kind))
		return TreeStats{}, nil
	}
	if err != nil {
		return st, err
	}
	log.Info("stage=load ok",
		zap.Stringer("kind", kind),
		zap.Int("files", st.Files),
		zap.Int("records", st.Records),
		zap.Duration("duration", time.Since(start).Truncate(time.Millisecond)),
	)
	return st, nil
}

// prepareSchema drops and recreates the star schema when reset is set,
// otherwise creates missing tables when auto_create_table is set.
func prepareSchema(ctx context.Context, wh storage.Warehouse, cfg config.Pipeline, log *zap.Logger) (err error) {
	db := cfg.Storage.DB
	if !db.Reset && !db.AutoCreateTable {
		return nil
	}

	step := "ddl"
	if db.Reset {
		step = "reset"
	}
	start := time.Now()
	defer func() { metrics.RecordStep(cfg.Job, step, err, time.Since(start)) }()

	tables := warehouse.Tables()
	if db.Reset {
		if err := wh.DropTables(ctx, tables); err != nil {
			return fmt.Errorf("drop tables: %w", err)
		}
	}
	if err := wh.EnsureTables(ctx, tables); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	log.Info("stage="+step+" ok",
		zap.Int("tables", len(tables)),
		zap.Duration("duration", time.Since(start).Truncate(time.Millisecond)),
	)
	return nil
}

func configError(cfg config.Pipeline) error {
	var errs []error
	for _, iss := range config.ValidatePipeline(cfg) {
		if iss.Severity == config.SeverityError {
			errs = append(errs, iss)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}
