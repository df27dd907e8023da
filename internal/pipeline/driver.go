// Package pipeline drives a load: it discovers the song and log files, runs
// each file through its kind's transform inside one warehouse transaction,
// and reports progress.
//
// Files are processed strictly one after another. The first failing file is
// rolled back and aborts the run; files committed before it stay committed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"sparkify/internal/config"
	"sparkify/internal/datasource/file"
	"sparkify/internal/metrics"
	jsonparser "sparkify/internal/parser/json"
	"sparkify/internal/storage"
	"sparkify/internal/transformer"
	"sparkify/internal/warehouse"
)

// FileError reports the file that stopped a run. Index is the 1-based
// position of the file within its tree.
type FileError struct {
	Path  string
	Index int
	Err   error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %d %s: %v", e.Index, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// TreeStats summarizes one processed tree.
type TreeStats struct {
	Files   int
	Records int // song records or log events decoded

	// Log trees only.
	Plays      int
	Skipped    int // non-NextSong events
	Resolved   int
	Unresolved int
	Collapsed  int
}

func (s *TreeStats) add(o TreeStats) {
	s.Files += o.Files
	s.Records += o.Records
	s.Plays += o.Plays
	s.Skipped += o.Skipped
	s.Resolved += o.Resolved
	s.Unresolved += o.Unresolved
	s.Collapsed += o.Collapsed
}

// Driver loads files of one kind at a time into a warehouse. It does not own
// the warehouse; the caller closes it.
type Driver struct {
	WH storage.Warehouse

	// Job labels metrics.
	Job string

	// ParserOptions are passed to the JSON decoder.
	ParserOptions config.Options

	// Progress receives the "files found" and "files processed" lines.
	// Nil discards them.
	Progress io.Writer

	Logger *zap.Logger

	// DebugTimings logs every file at info level instead of debug.
	DebugTimings bool

	resolver *warehouse.Resolver
}

func (d *Driver) log() *zap.Logger {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d.Logger
}

func (d *Driver) progress() io.Writer {
	if d.Progress == nil {
		return io.Discard
	}
	return d.Progress
}

// ProcessTree loads every .json file under root.
func (d *Driver) ProcessTree(ctx context.Context, root string, kind transformer.Kind) (TreeStats, error) {
	files, err := file.ListJSON(root)
	if err != nil {
		return TreeStats{}, fmt.Errorf("discover %s files: %w", kind, err)
	}
	fmt.Fprintf(d.progress(), "%d files found in %s\n", len(files), root)
	return d.ProcessFiles(ctx, files, kind)
}

// ProcessFiles loads files in the given order, one transaction per file.
func (d *Driver) ProcessFiles(ctx context.Context, files []string, kind transformer.Kind) (TreeStats, error) {
	if d.WH == nil {
		return TreeStats{}, errors.New("pipeline: warehouse is required")
	}

	var total TreeStats
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		st, err := d.processFile(ctx, path, kind)
		if err != nil {
			return total, &FileError{Path: path, Index: i + 1, Err: err}
		}
		total.add(st)
		fmt.Fprintf(d.progress(), "%d/%d files processed.\n", i+1, len(files))
	}
	return total, nil
}

func (d *Driver) processFile(ctx context.Context, path string, kind transformer.Kind) (st TreeStats, err error) {
	start := time.Now()
	step := kind.String() + "_file"
	defer func() {
		metrics.RecordStep(d.Job, step, err, time.Since(start))
		fields := []zap.Field{
			zap.String("path", path),
			zap.Int("records", st.Records),
			zap.Duration("duration", time.Since(start).Truncate(time.Millisecond)),
		}
		switch {
		case err != nil:
			d.log().Error("stage=file status=error", append(fields, zap.Error(err))...)
		case d.DebugTimings:
			d.log().Info("stage=file status=ok", fields...)
		default:
			d.log().Debug("stage=file status=ok", fields...)
		}
	}()

	recs, err := d.decodeFile(ctx, path, kind)
	if err != nil {
		return TreeStats{}, err
	}

	// Typed extraction runs before the transaction so a malformed file
	// never opens one.
	var load func(context.Context, storage.Tx) (TreeStats, error)
	switch kind {
	case transformer.KindSong:
		songs, artists, err := extractSongs(recs)
		if err != nil {
			return TreeStats{}, err
		}
		load = func(ctx context.Context, tx storage.Tx) (TreeStats, error) {
			return d.loadSongs(ctx, tx, songs, artists)
		}
	case transformer.KindLog:
		events, err := extractEvents(recs)
		if err != nil {
			return TreeStats{}, err
		}
		load = func(ctx context.Context, tx storage.Tx) (TreeStats, error) {
			return d.loadEvents(ctx, tx, events)
		}
	default:
		return TreeStats{}, fmt.Errorf("unsupported record kind %d", kind)
	}

	tx, err := d.WH.Begin(ctx)
	if err != nil {
		return TreeStats{}, fmt.Errorf("begin: %w", err)
	}
	st, err = load(ctx, tx)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			d.log().Warn("rollback failed", zap.String("path", path), zap.Error(rbErr))
		}
		return TreeStats{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return TreeStats{}, fmt.Errorf("commit: %w", err)
	}

	st.Files = 1
	metrics.RecordBatches(d.Job, 1)
	d.recordRows(kind, st)
	return st, nil
}

// decodeFile reads and normalizes every record in path.
func (d *Driver) decodeFile(ctx context.Context, path string, kind transformer.Kind) ([]transformer.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cols := kind.Columns()
	rows, err := jsonparser.DecodeAll(ctx, f, cols, d.ParserOptions)
	if err != nil {
		return nil, err
	}

	idx := transformer.IndexColumns(cols)
	recs := make([]transformer.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, transformer.Normalize(transformer.NewRecord(row.Line, row.V, idx), kind))
		row.Free()
	}
	return recs, nil
}

func extractSongs(recs []transformer.Record) ([]warehouse.Song, []warehouse.Artist, error) {
	songs := make([]warehouse.Song, 0, len(recs))
	artists := make([]warehouse.Artist, 0, len(recs))
	for _, rec := range recs {
		s, a, err := warehouse.SongFromRecord(rec)
		if err != nil {
			return nil, nil, fmt.Errorf("record %d: %w", rec.Line, err)
		}
		songs = append(songs, s)
		artists = append(artists, a)
	}
	return songs, artists, nil
}

func extractEvents(recs []transformer.Record) ([]warehouse.Event, error) {
	events := make([]warehouse.Event, 0, len(recs))
	for _, rec := range recs {
		ev, err := warehouse.EventFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.Line, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// loadSongs writes each artist before its song so the songs.artist_id
// reference is satisfied inside the transaction.
func (d *Driver) loadSongs(ctx context.Context, tx storage.Tx, songs []warehouse.Song, artists []warehouse.Artist) (TreeStats, error) {
	for i := range songs {
		if err := warehouse.UpsertArtist(ctx, tx, artists[i]); err != nil {
			return TreeStats{}, fmt.Errorf("upsert artist %s: %w", artists[i].ID, err)
		}
		if err := warehouse.UpsertSong(ctx, tx, songs[i]); err != nil {
			return TreeStats{}, fmt.Errorf("upsert song %s: %w", songs[i].ID, err)
		}
	}
	return TreeStats{Records: len(songs)}, nil
}

func (d *Driver) loadEvents(ctx context.Context, tx storage.Tx, events []warehouse.Event) (TreeStats, error) {
	if d.resolver == nil {
		d.resolver = warehouse.NewResolver(d.log())
	}
	d.resolver.Reset()

	plays := warehouse.FilterPlays(events)
	for _, ev := range plays {
		tp := warehouse.DecomposeMillis(ev.TS)
		if err := warehouse.UpsertTime(ctx, tx, tp); err != nil {
			return TreeStats{}, fmt.Errorf("record %d: upsert time: %w", ev.Line, err)
		}
		if err := warehouse.UpsertUser(ctx, tx, ev.User); err != nil {
			return TreeStats{}, fmt.Errorf("record %d: upsert user %s: %w", ev.Line, ev.User.ID, err)
		}
		if _, err := d.resolver.Resolve(ctx, tx, ev, tp); err != nil {
			return TreeStats{}, fmt.Errorf("record %d: songplay: %w", ev.Line, err)
		}
	}

	rs := d.resolver.Stats()
	return TreeStats{
		Records:    len(events),
		Plays:      len(plays),
		Skipped:    len(events) - len(plays),
		Resolved:   rs.Resolved,
		Unresolved: rs.Unresolved,
		Collapsed:  rs.Collapsed,
	}, nil
}

func (d *Driver) recordRows(kind transformer.Kind, st TreeStats) {
	switch kind {
	case transformer.KindSong:
		metrics.RecordRow(d.Job, "songs", int64(st.Records))
		metrics.RecordRow(d.Job, "artists", int64(st.Records))
	case transformer.KindLog:
		metrics.RecordRow(d.Job, "events", int64(st.Records))
		metrics.RecordRow(d.Job, "skipped", int64(st.Skipped))
		metrics.RecordRow(d.Job, "time", int64(st.Plays))
		metrics.RecordRow(d.Job, "users", int64(st.Plays))
		metrics.RecordRow(d.Job, "songplays", int64(st.Plays))
		metrics.RecordRow(d.Job, "resolved", int64(st.Resolved))
		metrics.RecordRow(d.Job, "unresolved", int64(st.Unresolved))
		metrics.RecordRow(d.Job, "collapsed", int64(st.Collapsed))
	}
}
