package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sparkify/internal/config"
	"sparkify/internal/metrics"
	"sparkify/internal/metrics/datadog"
	"sparkify/internal/pipeline"
)

type fakeRunner struct {
	err   error
	calls atomic.Int64

	mu      sync.Mutex
	lastCfg config.Pipeline
}

func (r *fakeRunner) Run(_ context.Context, cfg config.Pipeline) (pipeline.Summary, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.lastCfg = cfg
	r.mu.Unlock()
	return pipeline.Summary{
		RunID: "01RUN",
		Songs: pipeline.TreeStats{Files: 2},
		Logs:  pipeline.TreeStats{Files: 1, Plays: 3, Unresolved: 1},
	}, r.err
}

type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) IncCounter(string, float64, metrics.Labels)       {}
func (b *fakeMetricsBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *fakeMetricsBackend) Flush() error                                     { return nil }
func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

// testDeps fails the test if a seam is used that the case does not expect.
func testDeps(t *testing.T, fr *fakeRunner) appDeps {
	return appDeps{
		readFile: func(string) ([]byte, error) {
			t.Fatalf("readFile must not be called")
			return nil, nil
		},
		unmarshal: func([]byte, any) error {
			t.Fatalf("unmarshal must not be called")
			return nil
		},
		loadEnv:   func() error { return errors.New("no .env") },
		newLogger: func(bool) (*zap.Logger, error) { return zap.NewNop(), nil },
		newRunID:  func() string { return "01RUN" },
		newRunner: func(*zap.Logger, io.Writer, string) runner { return fr },
		initMetrics: func(context.Context, config.Metrics, string, string) (func(), error) {
			return func() {}, nil
		},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{name: "unknown_flag", args: []string{"-nope"}, wantStderrSub: "flag provided but not defined"},
		{name: "positional_args", args: []string{"data"}, wantStderrSub: "unexpected arguments: data"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{}

			code := runMain(context.Background(), tc.args, &stdout, &stderr, testDeps(t, fr))

			assert.Equal(t, 2, code)
			assert.Contains(t, stderr.String(), tc.wantStderrSub)
			assert.Contains(t, stderr.String(), "usage: etl")
			assert.Empty(t, stdout.String())
			assert.Zero(t, fr.calls.Load())
		})
	}
}

func TestRunMain_DefaultsAndFlagOverrides(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	fr := &fakeRunner{}

	code := runMain(context.Background(),
		[]string{"-song-data", "songs", "-log-list", "logs.txt", "-storage", "sqlite", "-dsn", "file:w.db", "-reset"},
		&stdout, &stderr, testDeps(t, fr))
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	cfg := fr.lastCfg
	assert.Equal(t, "sparkify", cfg.Job)
	assert.Equal(t, "songs", cfg.Source.SongData)
	assert.Equal(t, "", cfg.Source.LogData, "a list replaces the tree")
	assert.Equal(t, "logs.txt", cfg.Source.LogList)
	assert.Equal(t, "sqlite", cfg.Storage.Kind)
	assert.Equal(t, "file:w.db", cfg.Storage.DB.DSN)
	assert.True(t, cfg.Storage.DB.Reset)
	assert.True(t, cfg.Storage.DB.AutoCreateTable)

	assert.Equal(t, "done: 2 song files, 1 log files, 3 songplays (1 unresolved) in 0s\n", stdout.String())
}

func TestRunMain_DefaultPipelineTargetsLocalPostgres(t *testing.T) {
	p := defaultPipeline()
	assert.Equal(t, "postgres", p.Storage.Kind)
	assert.Equal(t, "host=127.0.0.1 dbname=sparkifydb user=student password=student", p.Storage.DB.DSN)
	assert.Empty(t, config.ValidatePipeline(p))
}

func TestRunMain_ReadParseMetricsRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		readErr          error
		unmarshalErr     error
		initMetricsErr   error
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{name: "read_config_error", readErr: errors.New("no such file"), wantCode: 1, wantStderrSub: "read config:"},
		{name: "parse_config_error", unmarshalErr: errors.New("bad json"), wantCode: 1, wantStderrSub: "parse config:"},
		{name: "init_metrics_error", initMetricsErr: errors.New("metrics unavailable"), wantCode: 1, wantStderrSub: "init metrics:"},
		{name: "runner_error_runs_cleanup", runErr: errors.New("db failed"), wantCode: 1, wantStderrSub: "run: db failed", wantRunnerCalls: 1, wantCleanupCalls: 1},
		{name: "success", wantCode: 0, wantRunnerCalls: 1, wantCleanupCalls: 1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{err: tc.runErr}
			var cleanupCalls atomic.Int64

			deps := testDeps(t, fr)
			deps.readFile = func(path string) ([]byte, error) {
				assert.Equal(t, "cfg.json", path)
				return nil, tc.readErr
			}
			deps.unmarshal = func(_ []byte, v any) error {
				if tc.unmarshalErr != nil {
					return tc.unmarshalErr
				}
				p := v.(*config.Pipeline)
				*p = defaultPipeline()
				p.Job = "job1"
				return nil
			}
			deps.initMetrics = func(_ context.Context, m config.Metrics, job, runID string) (func(), error) {
				assert.Equal(t, "job1", job)
				assert.Equal(t, "01RUN", runID)
				assert.Equal(t, "none", m.Backend)
				if tc.initMetricsErr != nil {
					return func() {}, tc.initMetricsErr
				}
				return func() { cleanupCalls.Add(1) }, nil
			}

			code := runMain(context.Background(), []string{"-config", "cfg.json", "-metrics-backend", "none"}, &stdout, &stderr, deps)

			assert.Equal(t, tc.wantCode, code, "stderr=%s", stderr.String())
			if tc.wantStderrSub != "" {
				assert.Contains(t, stderr.String(), tc.wantStderrSub)
			}
			assert.Equal(t, tc.wantRunnerCalls, fr.calls.Load())
			assert.Equal(t, tc.wantCleanupCalls, cleanupCalls.Load())
		})
	}
}

func TestRunMain_ValidateOnly(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		var stdout, stderr bytes.Buffer
		fr := &fakeRunner{}
		deps := testDeps(t, fr)
		deps.newLogger = func(bool) (*zap.Logger, error) {
			t.Fatalf("newLogger must not be called with -validate")
			return nil, nil
		}

		code := runMain(context.Background(), []string{"-validate"}, &stdout, &stderr, deps)
		assert.Equal(t, 0, code)
		assert.Equal(t, "configuration is valid\n", stdout.String())
		assert.Zero(t, fr.calls.Load())
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		var stdout, stderr bytes.Buffer
		fr := &fakeRunner{}

		code := runMain(context.Background(), []string{"-validate", "-storage", "oracle"}, &stdout, &stderr, testDeps(t, fr))
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr.String(), "error: storage.kind:")
		assert.Contains(t, stderr.String(), "configuration is invalid")
	})
}

// TestRunMain_SQLiteEndToEnd runs the real runner against a SQLite file.
func TestRunMain_SQLiteEndToEnd(t *testing.T) {
	dir := t.TempDir()
	songs := filepath.Join(dir, "song_data", "A", "A")
	require.NoError(t, os.MkdirAll(songs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(songs, "s1.json"),
		[]byte(`{"song_id":"S1","title":"T","artist_id":"A1","artist_name":"N","duration":210.5,"year":0}`), 0o644))
	logs := filepath.Join(dir, "log_data")
	require.NoError(t, os.MkdirAll(logs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logs, "events.json"),
		[]byte(`{"ts":1541207953796,"page":"NextSong","userId":"26","firstName":"Ryan","lastName":"Smith","gender":"M","level":"free","sessionId":583,"location":"San Jose-Sunnyvale-Santa Clara, CA","userAgent":"Mozilla/5.0","song":"T","artist":"N","length":210.5}`+"\n"), 0o644))

	deps := defaultDeps()
	deps.newLogger = func(bool) (*zap.Logger, error) { return zap.NewNop(), nil }
	deps.loadEnv = func() error { return nil }

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{
		"-song-data", filepath.Join(dir, "song_data"),
		"-log-data", logs,
		"-storage", "sqlite",
		"-dsn", filepath.Join(dir, "warehouse.db"),
		"-metrics-backend", "none",
	}, &stdout, &stderr, deps)
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	out := stdout.String()
	assert.True(t, strings.HasPrefix(out, "1 files found in "), out)
	assert.Contains(t, out, "1/1 files processed.\n")
	assert.Contains(t, out, "done: 1 song files, 1 log files, 1 songplays (0 unresolved)")
}

func TestInitMetrics_None(t *testing.T) {
	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()
	setMetricsBackend = func(metrics.Backend) { t.Fatalf("setMetricsBackend must not be called for none") }

	for _, name := range []string{"", "none", "noop"} {
		cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: name}, "job", "01RUN")
		require.NoError(t, err)
		require.NotNil(t, cleanup)
		cleanup()
	}
}

func TestInitMetrics_Unknown(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: "statsd"}, "job", "")
	require.Error(t, err)
	require.NotNil(t, cleanup)
}

func TestInitMetrics_Datadog(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog
	}()

	var gotOpts datadog.Options
	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		gotOpts = opts
		return b, nil
	}
	var setCalls int
	setMetricsBackend = func(metrics.Backend) { setCalls++ }
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }
	t.Setenv("METRICS_TAGS", "team:data")

	cleanup, err := initMetrics(context.Background(), config.Metrics{
		Backend:           "datadog",
		Tags:              []string{"service:sparkify"},
		FlushEverySeconds: 15,
	}, "jobA", "01RUN")
	require.NoError(t, err)

	assert.Equal(t, "jobA", gotOpts.JobName)
	assert.Equal(t, []string{"service:sparkify", "team:data", "run_id:01RUN"}, gotOpts.Tags)
	assert.Equal(t, 15*time.Second, gotOpts.FlushEvery)
	assert.Equal(t, 1, setCalls)

	cleanup()
	assert.Equal(t, int64(1), b.closed.Load())
	assert.Contains(t, logged.String(), "metrics: datadog close error")
}
