package warehouse

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"sparkify/internal/transformer"
)

// PageNextSong marks a log event as a track play.
const PageNextSong = "NextSong"

var (
	// ErrMissingField reports a required field that is absent or null.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField reports a field whose value has the wrong shape.
	ErrInvalidField = errors.New("invalid field")
)

type Song struct {
	ID       string
	Title    string
	ArtistID string
	Year     *int
	Duration float64
}

type Artist struct {
	ID        string
	Name      string
	Location  *string
	Latitude  *float64
	Longitude *float64
}

type User struct {
	ID        string
	FirstName string
	LastName  string
	Gender    string
	Level     string
}

// Event is one activity log line. User, SessionID, Location and UserAgent are
// only guaranteed for NextSong events.
type Event struct {
	Line      int
	TS        int64
	Page      string
	User      User
	SessionID int64
	Location  string
	UserAgent string
	Song      *string
	Artist    *string
	Length    *float64
}

// IsPlay reports whether the event is a track play.
func (e Event) IsPlay() bool { return e.Page == PageNextSong }

// Songplay is one fact row. SongID and ArtistID are nil when the play could
// not be matched to the catalog.
type Songplay struct {
	StartTime time.Time
	UserID    string
	Level     string
	SongID    *string
	ArtistID  *string
	SessionID int64
	Location  string
	UserAgent string
}

// SongFromRecord extracts the song and artist described by a normalized song
// record. song_id, title, artist_id, artist_name and duration are required.
func SongFromRecord(rec transformer.Record) (Song, Artist, error) {
	f := fields{rec: rec}
	song := Song{
		ID:       f.str("song_id"),
		Title:    f.str("title"),
		ArtistID: f.str("artist_id"),
		Year:     f.optInt("year"),
		Duration: f.float("duration"),
	}
	artist := Artist{
		ID:        song.ArtistID,
		Name:      f.str("artist_name"),
		Location:  f.optStr("artist_location"),
		Latitude:  f.optFloat("artist_latitude"),
		Longitude: f.optFloat("artist_longitude"),
	}
	if f.err != nil {
		return Song{}, Artist{}, f.err
	}
	return song, artist, nil
}

// EventFromRecord extracts a log event from a normalized log record. ts (a
// non-negative integer) and page are always required; the user and session
// fields are required when page is NextSong.
func EventFromRecord(rec transformer.Record) (Event, error) {
	f := fields{rec: rec}
	ev := Event{
		Line: rec.Line,
		TS:   f.int64("ts"),
		Page: f.str("page"),
	}
	if f.err == nil && ev.TS < 0 {
		f.err = fmt.Errorf("%w: ts is negative (%d)", ErrInvalidField, ev.TS)
	}
	if f.err != nil {
		return Event{}, f.err
	}
	if !ev.IsPlay() {
		return ev, nil
	}

	ev.User = User{
		ID:        f.str("userId"),
		FirstName: f.str("firstName"),
		LastName:  f.str("lastName"),
		Gender:    f.str("gender"),
		Level:     f.str("level"),
	}
	if f.err == nil && ev.User.ID == "" {
		f.err = fmt.Errorf("%w: userId is empty", ErrMissingField)
	}
	ev.SessionID = f.int64("sessionId")
	ev.Location = f.str("location")
	ev.UserAgent = f.str("userAgent")
	ev.Song = f.optStr("song")
	ev.Artist = f.optStr("artist")
	ev.Length = f.optFloat("length")
	if f.err != nil {
		return Event{}, f.err
	}
	return ev, nil
}

// fields reads typed values from a record and keeps the first error.
type fields struct {
	rec transformer.Record
	err error
}

func (f *fields) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

func (f *fields) required(name string) any {
	v := f.rec.Get(name)
	if v == nil {
		f.fail(fmt.Errorf("%w: %s", ErrMissingField, name))
	}
	return v
}

func (f *fields) str(name string) string {
	v := f.required(name)
	if v == nil {
		return ""
	}
	s, ok := asString(v)
	if !ok {
		f.fail(fmt.Errorf("%w: %s is %T, want string", ErrInvalidField, name, v))
	}
	return s
}

func (f *fields) optStr(name string) *string {
	v := f.rec.Get(name)
	if v == nil {
		return nil
	}
	s, ok := asString(v)
	if !ok {
		f.fail(fmt.Errorf("%w: %s is %T, want string", ErrInvalidField, name, v))
		return nil
	}
	return &s
}

func (f *fields) float(name string) float64 {
	v := f.required(name)
	if v == nil {
		return 0
	}
	n, ok := asFloat(v)
	if !ok {
		f.fail(fmt.Errorf("%w: %s is %v, want number", ErrInvalidField, name, v))
	}
	return n
}

func (f *fields) optFloat(name string) *float64 {
	v := f.rec.Get(name)
	if v == nil {
		return nil
	}
	n, ok := asFloat(v)
	if !ok {
		f.fail(fmt.Errorf("%w: %s is %v, want number", ErrInvalidField, name, v))
		return nil
	}
	return &n
}

func (f *fields) int64(name string) int64 {
	v := f.required(name)
	if v == nil {
		return 0
	}
	n, ok := asInt64(v)
	if !ok {
		f.fail(fmt.Errorf("%w: %s is %v, want integer", ErrInvalidField, name, v))
	}
	return n
}

func (f *fields) optInt(name string) *int {
	v := f.rec.Get(name)
	if v == nil {
		return nil
	}
	n, ok := asInt64(v)
	if !ok {
		f.fail(fmt.Errorf("%w: %s is %v, want integer", ErrInvalidField, name, v))
		return nil
	}
	i := int(n)
	return &i
}

// asString accepts strings and, for ids that arrive as JSON numbers, their
// literal text.
func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// asInt64 accepts integers and integral floats ("1541207953796.0").
func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return integral(f)
	case float64:
		return integral(t)
	case int:
		return int64(t), true
	case int64:
		return t, true
	default:
		return 0, false
	}
}

func integral(f float64) (int64, bool) {
	if math.Trunc(f) != f || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}
