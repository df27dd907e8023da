package warehouse

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sparkify/internal/storage"
)

func play(line int, ts int64, user, level string) Event {
	return Event{
		Line:      line,
		TS:        ts,
		Page:      PageNextSong,
		User:      User{ID: user, FirstName: "F", LastName: "L", Gender: "F", Level: level},
		SessionID: 100,
		Location:  "Portland-South Portland, ME",
		UserAgent: "Mozilla/5.0",
	}
}

func TestFilterPlays(t *testing.T) {
	events := []Event{{Page: "NextSong", Line: 1}, {Page: "Login", Line: 2}, {Page: "NextSong", Line: 3}}

	got := FilterPlays(events)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Line)
	assert.Equal(t, 3, got[1].Line)
	assert.Empty(t, FilterPlays(nil))
}

type countingTx struct {
	storage.Tx
	lookups int
	upserts []storage.TableSpec
}

func (c *countingTx) LookupSong(context.Context, storage.SongQuery) (storage.SongMatch, bool, error) {
	c.lookups++
	return storage.SongMatch{}, false, nil
}

func (c *countingTx) Upsert(_ context.Context, spec storage.TableSpec, row []any) error {
	c.upserts = append(c.upserts, spec)
	return spec.CheckRow(row)
}

func TestLookupSong_MissingFieldsSkipQuery(t *testing.T) {
	tx := &countingTx{}
	ev := play(1, 1, "1", "free")
	ev.Song = ptr("Song")
	ev.Artist = ptr("Artist")

	_, ok, err := LookupSong(context.Background(), tx, ev)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, tx.lookups, "length missing")

	ev.Length = ptr(1.5)
	_, _, err = LookupSong(context.Background(), tx, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.lookups)
}

// writePlay upserts the dimensions a play needs, then resolves it.
func writePlay(ctx context.Context, tx storage.Tx, r *Resolver, ev Event) (Songplay, error) {
	tp := DecomposeMillis(ev.TS)
	if err := UpsertTime(ctx, tx, tp); err != nil {
		return Songplay{}, err
	}
	if err := UpsertUser(ctx, tx, ev.User); err != nil {
		return Songplay{}, err
	}
	return r.Resolve(ctx, tx, ev, tp)
}

func TestResolve_MissWritesNullForeignKeys(t *testing.T) {
	w := openSQLite(t)
	r := NewResolver(nil)

	ev := play(1, 1541207953796, "26", "free")
	ev.Song, ev.Artist, ev.Length = ptr("Unknown Song"), ptr("Nobody"), ptr(123.4)

	var sp Songplay
	commit(t, w, func(ctx context.Context, tx storage.Tx) error {
		var err error
		sp, err = writePlay(ctx, tx, r, ev)
		return err
	})

	assert.Nil(t, sp.SongID)
	assert.Nil(t, sp.ArtistID)
	assert.Equal(t, ResolveStats{Unresolved: 1}, r.Stats())

	var songID, artistID sql.NullString
	require.NoError(t, w.DB().QueryRow(`SELECT song_id, artist_id FROM songplays WHERE user_id = '26'`).Scan(&songID, &artistID))
	assert.False(t, songID.Valid)
	assert.False(t, artistID.Valid)
}

func TestResolve_HitWritesCatalogIDs(t *testing.T) {
	w := openSQLite(t)
	r := NewResolver(nil)

	ev := play(1, 1541207953796, "26", "free")
	ev.Song, ev.Artist, ev.Length = ptr("Sehr kosmisch"), ptr("Harmonia"), ptr(655.77751)

	commit(t, w, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, UpsertArtist(ctx, tx, Artist{ID: "AR5KOSW1187FB35FF4", Name: "Harmonia"}))
		require.NoError(t, UpsertSong(ctx, tx, Song{ID: "SOZCTXZ12AB0182364", Title: "Sehr kosmisch", ArtistID: "AR5KOSW1187FB35FF4", Duration: 655.77751}))
		_, err := writePlay(ctx, tx, r, ev)
		return err
	})

	assert.Equal(t, ResolveStats{Resolved: 1}, r.Stats())
	var songID, artistID string
	require.NoError(t, w.DB().QueryRow(`SELECT song_id, artist_id FROM songplays`).Scan(&songID, &artistID))
	assert.Equal(t, "SOZCTXZ12AB0182364", songID)
	assert.Equal(t, "AR5KOSW1187FB35FF4", artistID)
}

func TestResolve_DuplicateKeyLaterEventWins(t *testing.T) {
	w := openSQLite(t)
	core, logs := observer.New(zap.DebugLevel)
	r := NewResolver(zap.New(core))

	first := play(1, 1541207953796, "26", "free")
	second := play(2, 1541207953796, "26", "paid")
	second.SessionID = 200

	commit(t, w, func(ctx context.Context, tx storage.Tx) error {
		if _, err := writePlay(ctx, tx, r, first); err != nil {
			return err
		}
		_, err := writePlay(ctx, tx, r, second)
		return err
	})

	assert.Equal(t, 1, countRows(t, w.DB(), TableSongplays))
	var level string
	var session int64
	require.NoError(t, w.DB().QueryRow(`SELECT level, session_id FROM songplays`).Scan(&level, &session))
	assert.Equal(t, "paid", level)
	assert.Equal(t, int64(200), session)

	assert.Equal(t, 1, r.Stats().Collapsed)
	require.Equal(t, 1, logs.FilterMessage("duplicate play collapsed").Len())

	r.Reset()
	assert.Equal(t, ResolveStats{}, r.Stats())
}

func TestResolve_UpsertOrder(t *testing.T) {
	tx := &countingTx{}
	r := NewResolver(zap.NewNop())
	ev := play(1, 1541207953796, "26", "free")

	_, err := r.Resolve(context.Background(), tx, ev, DecomposeMillis(ev.TS))
	require.NoError(t, err)
	require.Len(t, tx.upserts, 1)
	assert.Equal(t, TableSongplays, tx.upserts[0].Name)
}
