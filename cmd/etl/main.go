// Command etl loads the song and activity-log JSON trees into the songplays
// star schema.
//
// Usage:
//
//	etl [-config pipeline.json] [-song-data dir] [-log-data dir] [-storage kind] [-dsn dsn] [-reset] [-v]
//
// Without -config the loader targets the local Postgres warehouse
// (dbname=sparkifydb) and reads data/song_data and data/log_data.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"sparkify/internal/config"
	"sparkify/internal/metrics"
	"sparkify/internal/metrics/datadog"
	"sparkify/internal/pipeline"

	// Register every warehouse backend; the config picks one.
	_ "sparkify/internal/storage/all"
)

const defaultDSN = "host=127.0.0.1 dbname=sparkifydb user=student password=student"

// runner is the seam between flag handling and the load itself.
type runner interface {
	Run(ctx context.Context, cfg config.Pipeline) (pipeline.Summary, error)
}

type appDeps struct {
	readFile    func(string) ([]byte, error)
	unmarshal   func([]byte, any) error
	loadEnv     func() error
	newLogger   func(verbose bool) (*zap.Logger, error)
	newRunID    func() string
	newRunner   func(log *zap.Logger, progress io.Writer, runID string) runner
	initMetrics func(ctx context.Context, m config.Metrics, job, runID string) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:  os.ReadFile,
		unmarshal: json.Unmarshal,
		loadEnv:   func() error { return godotenv.Load() },
		newLogger: newLogger,
		newRunID:  func() string { return ulid.Make().String() },
		newRunner: func(log *zap.Logger, progress io.Writer, runID string) runner {
			r := pipeline.NewDefaultRunner(log, progress)
			r.NewRunID = func() string { return runID }
			return r
		},
		initMetrics: initMetrics,
	}
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}

type flags struct {
	cfgPath        string
	songData       string
	logData        string
	songList       string
	logList        string
	storageKind    string
	dsn            string
	reset          bool
	metricsBackend string
	verbose        bool
	validate       bool
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("etl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.cfgPath, "config", "", "pipeline config JSON path")
	fs.StringVar(&f.songData, "song-data", "", "root of the song metadata tree")
	fs.StringVar(&f.logData, "log-data", "", "root of the activity log tree")
	fs.StringVar(&f.songList, "song-list", "", "file listing song files, one per line (replaces -song-data)")
	fs.StringVar(&f.logList, "log-list", "", "file listing log files, one per line (replaces -log-data)")
	fs.StringVar(&f.storageKind, "storage", "", "warehouse backend: postgres, sqlite, mssql")
	fs.StringVar(&f.dsn, "dsn", "", "warehouse DSN (environment references are expanded)")
	fs.BoolVar(&f.reset, "reset", false, "drop and recreate the star schema before loading")
	fs.StringVar(&f.metricsBackend, "metrics-backend", "", "metrics backend: none, datadog (overrides config and METRICS_BACKEND)")
	fs.BoolVar(&f.verbose, "v", false, "enable debug logs")
	fs.BoolVar(&f.validate, "validate", false, "validate the configuration and exit")

	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	if fs.NArg() > 0 {
		return flags{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return f, nil
}

// defaultPipeline mirrors the classic local setup.
func defaultPipeline() config.Pipeline {
	return config.Pipeline{
		Job:    "sparkify",
		Source: config.Source{Kind: "file", SongData: "data/song_data", LogData: "data/log_data"},
		Parser: config.Parser{Kind: "json", Options: config.Options{}},
		Storage: config.Storage{
			Kind: "postgres",
			DB:   config.DBConfig{DSN: defaultDSN, AutoCreateTable: true},
		},
	}
}

func (f flags) apply(p *config.Pipeline) {
	if f.songData != "" {
		p.Source.SongData, p.Source.SongList = f.songData, ""
	}
	if f.logData != "" {
		p.Source.LogData, p.Source.LogList = f.logData, ""
	}
	if f.songList != "" {
		p.Source.SongList, p.Source.SongData = f.songList, ""
	}
	if f.logList != "" {
		p.Source.LogList, p.Source.LogData = f.logList, ""
	}
	if f.storageKind != "" {
		p.Storage.Kind = f.storageKind
	}
	if f.dsn != "" {
		p.Storage.DB.DSN = f.dsn
	}
	if f.reset {
		p.Storage.DB.Reset = true
		p.Storage.DB.AutoCreateTable = true
	}
	if f.metricsBackend != "" {
		p.Metrics.Backend = f.metricsBackend
	}
}

// runMain returns the process exit code: 0 on success, 1 on failure, 2 on
// usage errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "usage: etl [-config path] [-song-data dir] [-log-data dir] ...: %v\n", err)
		return 2
	}

	// A missing .env is normal.
	_ = deps.loadEnv()

	p := defaultPipeline()
	if f.cfgPath != "" {
		raw, err := deps.readFile(f.cfgPath)
		if err != nil {
			fmt.Fprintf(stderr, "read config: %v\n", err)
			return 1
		}
		p = config.Pipeline{}
		if err := deps.unmarshal(raw, &p); err != nil {
			fmt.Fprintf(stderr, "parse config: %v\n", err)
			return 1
		}
	}
	f.apply(&p)
	if p.Metrics.Backend == "" {
		p.Metrics.Backend = os.Getenv("METRICS_BACKEND")
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(stderr, "configuration is invalid")
		return 1
	}
	if f.validate {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}

	logger, err := deps.newLogger(f.verbose)
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	runID := deps.newRunID()
	cleanup, err := deps.initMetrics(ctx, p.Metrics, p.Job, runID)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	sum, err := deps.newRunner(logger, stdout, runID).Run(ctx, p)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "done: %d song files, %d log files, %d songplays (%d unresolved) in %s\n",
		sum.Songs.Files, sum.Logs.Files, sum.Logs.Plays, sum.Logs.Unresolved,
		sum.Duration.Truncate(time.Millisecond))
	return 0
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = func(b metrics.Backend) { metrics.SetBackend(b) }
	logPrintf         = log.Printf
)

// initMetrics installs the configured metrics backend. The returned cleanup
// is never nil and flushes the backend.
func initMetrics(ctx context.Context, m config.Metrics, job, runID string) (func(), error) {
	switch strings.ToLower(strings.TrimSpace(m.Backend)) {
	case "", "none", "noop":
		return func() {}, nil

	case "datadog", "dd":
		tags := append([]string{}, m.Tags...)
		tags = append(tags, datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))...)
		if runID != "" {
			tags = append(tags, "run_id:"+runID)
		}
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       tags,
			FlushEvery: time.Duration(m.FlushEverySeconds) * time.Second,
		})
		if err != nil {
			return func() {}, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	default:
		return func() {}, fmt.Errorf("unknown metrics backend %q", m.Backend)
	}
}
