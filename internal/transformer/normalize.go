package transformer

import (
	"encoding/json"
	"math"
)

// Kind identifies which source tree a record came from.
type Kind int

const (
	KindSong Kind = iota
	KindLog
)

func (k Kind) String() string {
	switch k {
	case KindSong:
		return "song"
	case KindLog:
		return "log"
	default:
		return "unknown"
	}
}

// SongColumns is the field order decoded from song metadata files.
var SongColumns = []string{
	"song_id", "title", "artist_id", "year", "duration",
	"artist_name", "artist_location", "artist_latitude", "artist_longitude",
}

// LogColumns is the field order decoded from activity log files.
var LogColumns = []string{
	"ts", "page", "userId", "firstName", "lastName", "gender", "level",
	"sessionId", "location", "userAgent", "song", "artist", "length",
}

// Columns returns the decode column list for kind.
func (k Kind) Columns() []string {
	if k == KindSong {
		return SongColumns
	}
	return LogColumns
}

// Index maps a column name to its position in a row.
type Index map[string]int

// IndexColumns builds an Index for cols.
func IndexColumns(cols []string) Index {
	idx := make(Index, len(cols))
	for i, c := range cols {
		idx[c] = i
	}
	return idx
}

// Record gives by-name access to a positional row.
// A nil value means the field is absent.
type Record struct {
	Line   int
	Values []any
	index  Index
}

// NewRecord wraps values (aligned to idx) without copying them.
func NewRecord(line int, values []any, idx Index) Record {
	return Record{Line: line, Values: values, index: idx}
}

// Get returns the value of field name, or nil when the field is absent or
// not part of the record's columns.
func (r Record) Get(name string) any {
	i, ok := r.index[name]
	if !ok || i >= len(r.Values) {
		return nil
	}
	return r.Values[i]
}

// Has reports whether field name is present (non-nil).
func (r Record) Has(name string) bool {
	return r.Get(name) != nil
}

// Normalize returns a cleaned copy of rec. Null-equivalent values (nil, NaN
// and infinite floats) become nil. For song records a year of exactly 0
// becomes nil. rec itself is not modified.
func Normalize(rec Record, kind Kind) Record {
	out := Record{Line: rec.Line, Values: make([]any, len(rec.Values)), index: rec.index}
	for i, v := range rec.Values {
		if isNullEquivalent(v) {
			continue
		}
		out.Values[i] = v
	}
	if kind == KindSong {
		if i, ok := rec.index["year"]; ok && i < len(out.Values) && isZero(out.Values[i]) {
			out.Values[i] = nil
		}
	}
	return out
}

func isNullEquivalent(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(t) || math.IsInf(t, 0)
	case float32:
		f := float64(t)
		return math.IsNaN(f) || math.IsInf(f, 0)
	default:
		return false
	}
}

func isZero(v any) bool {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	case float64:
		return t == 0
	case float32:
		return t == 0
	case int:
		return t == 0
	case int64:
		return t == 0
	case int32:
		return t == 0
	default:
		return false
	}
}
