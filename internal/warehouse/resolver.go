package warehouse

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sparkify/internal/storage"
)

// FilterPlays keeps only NextSong events, preserving order.
func FilterPlays(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.IsPlay() {
			out = append(out, ev)
		}
	}
	return out
}

// LookupSong matches an event against the catalog by exact title, artist
// name and length. An event missing any of the three is a miss and does not
// touch the database.
func LookupSong(ctx context.Context, tx storage.Tx, ev Event) (storage.SongMatch, bool, error) {
	if ev.Song == nil || ev.Artist == nil || ev.Length == nil {
		return storage.SongMatch{}, false, nil
	}
	return tx.LookupSong(ctx, storage.SongQuery{Title: *ev.Song, Artist: *ev.Artist, Duration: *ev.Length})
}

type playKey struct {
	start time.Time
	user  string
}

// ResolveStats counts resolution outcomes.
type ResolveStats struct {
	Resolved   int
	Unresolved int
	Collapsed  int // plays that replaced an earlier play with the same key
}

// Resolver turns play events into songplay fact rows.
//
// A play whose song is not in the catalog is still written, with null song
// and artist ids. Two plays sharing (start_time, user_id) collapse into one
// row holding the later play's values.
type Resolver struct {
	log   *zap.Logger
	seen  map[playKey]int
	stats ResolveStats
}

func NewResolver(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{log: log, seen: map[playKey]int{}}
}

// Reset clears duplicate tracking and counters; call it between files.
func (r *Resolver) Reset() {
	clear(r.seen)
	r.stats = ResolveStats{}
}

func (r *Resolver) Stats() ResolveStats { return r.stats }

// Resolve looks up ev's song, then upserts the fact row keyed by tp.Start
// and the event's user. The time and user rows must already exist in tx.
func (r *Resolver) Resolve(ctx context.Context, tx storage.Tx, ev Event, tp TimeParts) (Songplay, error) {
	m, ok, err := LookupSong(ctx, tx, ev)
	if err != nil {
		return Songplay{}, err
	}

	sp := Songplay{
		StartTime: tp.Start,
		UserID:    ev.User.ID,
		Level:     ev.User.Level,
		SessionID: ev.SessionID,
		Location:  ev.Location,
		UserAgent: ev.UserAgent,
	}
	if ok {
		sp.SongID, sp.ArtistID = &m.SongID, &m.ArtistID
		r.stats.Resolved++
	} else {
		r.stats.Unresolved++
	}

	key := playKey{start: tp.Start, user: sp.UserID}
	if prev, dup := r.seen[key]; dup {
		r.stats.Collapsed++
		r.log.Debug("duplicate play collapsed",
			zap.Time("start_time", tp.Start),
			zap.String("user_id", sp.UserID),
			zap.Int("first_line", prev),
			zap.Int("line", ev.Line),
		)
	}
	r.seen[key] = ev.Line

	if err := UpsertSongplay(ctx, tx, sp); err != nil {
		return Songplay{}, err
	}
	return sp, nil
}
