package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sparkify/internal/config"
	"sparkify/internal/storage"
)

func runnerConfig(songs, logs string) config.Pipeline {
	return config.Pipeline{
		Job:    "sparkify",
		Source: config.Source{Kind: "file", SongData: songs, LogData: logs},
		Parser: config.Parser{Kind: "json"},
		Storage: config.Storage{
			Kind: "sqlite",
			DB:   config.DBConfig{DSN: ":memory:", AutoCreateTable: true},
		},
	}
}

func testRunner(wh storage.Warehouse, progress *bytes.Buffer, log *zap.Logger) (*Runner, *[]storage.Config) {
	var opened []storage.Config
	r := &Runner{
		OpenWarehouse: func(_ context.Context, cfg storage.Config) (storage.Warehouse, error) {
			opened = append(opened, cfg)
			return wh, nil
		},
		NewRunID: func() string { return "01RUN" },
		Logger:   log,
	}
	if progress != nil {
		r.Progress = progress
	}
	return r, &opened
}

func TestRunner_SongsThenLogs(t *testing.T) {
	wh := newWarehouse(t)
	songs, logs := t.TempDir(), t.TempDir()
	writeFile(t, songs, "A/A/s1.json", songS1)
	writeFile(t, songs, "A/B/s2.json", songS2)
	writeFile(t, logs, "2018/11/events.json",
		logLine(1541207953796, "NextSong", "26", "free", "I Didn't Mean To", "Casual", 210.5)+"\n"+
			logLine(1541207960000, "NextSong", "26", "free", "Unknown", "Nobody", 99)+"\n"+
			`{"ts":1541207970000,"page":"Home"}`+"\n")

	core, logsSeen := observer.New(zapcore.InfoLevel)
	var progress bytes.Buffer
	r, opened := testRunner(wh, &progress, zap.New(core))

	sum, err := r.Run(context.Background(), runnerConfig(songs, logs))
	require.NoError(t, err)

	assert.Equal(t, "01RUN", sum.RunID)
	assert.Equal(t, TreeStats{Files: 2, Records: 2}, sum.Songs)
	assert.Equal(t, TreeStats{Files: 1, Records: 3, Plays: 2, Skipped: 1, Resolved: 1, Unresolved: 1}, sum.Logs)
	assert.Positive(t, sum.Duration)

	require.Len(t, *opened, 1)
	assert.Equal(t, storage.Config{Kind: "sqlite", DSN: ":memory:"}, (*opened)[0])
	assert.Equal(t, 1, wh.closed)

	assert.Equal(t, strings.Join([]string{
		"2 files found in " + songs,
		"1/2 files processed.",
		"2/2 files processed.",
		"1 files found in " + logs,
		"1/1 files processed.",
		"",
	}, "\n"), progress.String())

	done := logsSeen.FilterMessage("stage=done ok").All()
	require.Len(t, done, 1)
	assert.Equal(t, "01RUN", done[0].ContextMap()["run_id"])
	assert.Equal(t, "sparkify", done[0].ContextMap()["job"])
	assert.Equal(t, 1, logsSeen.FilterMessage("stage=ddl ok").Len())

	assert.Equal(t, 2, count(t, wh.DB(), "songs"))
	assert.Equal(t, 2, count(t, wh.DB(), "songplays"))
}

func TestRunner_ResetDropsExistingRows(t *testing.T) {
	wh := newWarehouse(t)
	songs := t.TempDir()
	writeFile(t, songs, "s1.json", songS1)

	r, _ := testRunner(wh, nil, nil)
	cfg := runnerConfig(songs, "")
	_, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)

	// Drop the song file; a reset run over an empty tree leaves empty tables.
	empty := t.TempDir()
	cfg = runnerConfig(empty, "")
	cfg.Storage.DB.Reset = true
	_, err = r.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Zero(t, count(t, wh.DB(), "songs"))
	assert.Zero(t, count(t, wh.DB(), "artists"))
	assert.Equal(t, 2, wh.closed)
}

func TestRunner_SongList(t *testing.T) {
	wh := newWarehouse(t)
	dir := t.TempDir()
	s2 := writeFile(t, dir, "data/s2.json", songS2)
	writeFile(t, dir, "data/s1.json", songS1)
	list := writeFile(t, dir, "songs.txt", "# picked files\n\n"+s2+"\n")

	cfg := runnerConfig("", "")
	cfg.Source.SongList = list

	var progress bytes.Buffer
	r, _ := testRunner(wh, &progress, nil)
	sum, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Songs.Files)
	assert.Equal(t, "1 files found in "+list+"\n1/1 files processed.\n", progress.String())
	assert.Equal(t, 1, count(t, wh.DB(), "songs"))
}

func TestRunner_FailureClosesWarehouse(t *testing.T) {
	wh := newWarehouse(t)
	logs := t.TempDir()
	writeFile(t, logs, "a.json", logLine(1541207953796, "NextSong", "26", "free", "", "", 0)+"\n")
	writeFile(t, logs, "b.json", "{not json")

	r, _ := testRunner(wh, nil, nil)
	sum, err := r.Run(context.Background(), runnerConfig("", logs))
	require.Error(t, err)

	var fe *FileError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, filepath.Join(logs, "b.json"), fe.Path)
	assert.Equal(t, 1, sum.Logs.Files)
	assert.Equal(t, 1, wh.closed)
	assert.Equal(t, 1, count(t, wh.DB(), "songplays"))
}

func TestRunner_InvalidConfigDoesNotOpen(t *testing.T) {
	r, opened := testRunner(nil, nil, nil)
	cfg := runnerConfig("", "")
	cfg.Storage.Kind = "oracle"

	_, err := r.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
	assert.Contains(t, err.Error(), "storage.kind")
	assert.Empty(t, *opened)
}

func TestRunner_OpenError(t *testing.T) {
	boom := errors.New("connection refused")
	r := &Runner{OpenWarehouse: func(context.Context, storage.Config) (storage.Warehouse, error) { return nil, boom }}

	_, err := r.Run(context.Background(), runnerConfig(t.TempDir(), ""))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "open warehouse")
}

func TestRunner_ExpandsDSN(t *testing.T) {
	t.Setenv("SPARKIFY_TEST_DB", ":memory:")
	wh := newWarehouse(t)
	r, opened := testRunner(wh, nil, nil)
	cfg := runnerConfig(t.TempDir(), "")
	cfg.Storage.DB.DSN = "${SPARKIFY_TEST_DB}"

	_, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, ":memory:", (*opened)[0].DSN)
}

func TestNewDefaultRunner_ULIDRunID(t *testing.T) {
	r := NewDefaultRunner(nil, nil)
	a, b := r.runID(), r.runID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}
