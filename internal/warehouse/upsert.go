package warehouse

import (
	"context"

	"sparkify/internal/storage"
)

// Each upsert writes one row; an existing row with the same key has every
// non-key column replaced by the new values.

func UpsertArtist(ctx context.Context, tx storage.Tx, a Artist) error {
	return tx.Upsert(ctx, ArtistsSpec, []any{a.ID, a.Name, optional(a.Location), optional(a.Latitude), optional(a.Longitude)})
}

// UpsertSong requires the song's artist row to exist already.
func UpsertSong(ctx context.Context, tx storage.Tx, s Song) error {
	return tx.Upsert(ctx, SongsSpec, []any{s.ID, s.Title, s.ArtistID, optional(s.Year), s.Duration})
}

func UpsertUser(ctx context.Context, tx storage.Tx, u User) error {
	return tx.Upsert(ctx, UsersSpec, []any{u.ID, u.FirstName, u.LastName, u.Gender, u.Level})
}

func UpsertTime(ctx context.Context, tx storage.Tx, p TimeParts) error {
	return tx.Upsert(ctx, TimeSpec, p.row())
}

// UpsertSongplay requires the time and user rows to exist already.
func UpsertSongplay(ctx context.Context, tx storage.Tx, sp Songplay) error {
	return tx.Upsert(ctx, SongplaysSpec, []any{
		sp.StartTime, sp.UserID, sp.Level, optional(sp.SongID), optional(sp.ArtistID),
		sp.SessionID, sp.Location, sp.UserAgent,
	})
}

// optional dereferences p, mapping a nil pointer to an untyped nil.
func optional[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
