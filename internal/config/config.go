// Package config defines the JSON-serializable configuration model for the
// warehouse loader. A pipeline file names the two source trees, the parser
// options, the warehouse backend, and the optional metrics backend.
//
// Example (trimmed):
//
//	{
//	  "job":     "sparkify",
//	  "source":  { "kind": "file", "song_data": "data/song_data", "log_data": "data/log_data" },
//	  "parser":  { "kind": "json" },
//	  "storage": { "kind": "postgres", "db": { "dsn": "${SPARKIFY_DSN}", "auto_create_table": true } }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job labels logs and metrics for this run.
	Job string `json:"job"`

	Source  Source        `json:"source"`
	Parser  Parser        `json:"parser"`
	Storage Storage       `json:"storage"`
	Runtime RuntimeConfig `json:"runtime"`
	Metrics Metrics       `json:"metrics"`
}

// Source names the input trees. Either side may be empty, in which case that
// half of the load is skipped.
type Source struct {
	// Kind selects the source implementation. Current value: "file".
	Kind string `json:"kind"`

	// SongData is the root of the song metadata tree.
	SongData string `json:"song_data"`

	// LogData is the root of the activity log tree.
	LogData string `json:"log_data"`

	// SongList and LogList name text files listing input paths, one per line.
	// A list replaces the walk of the matching tree.
	SongList string `json:"song_list"`
	LogList  string `json:"log_list"`
}

// Parser selects how raw bytes become records.
type Parser struct {
	// Kind selects the parser implementation. Current value: "json".
	Kind string `json:"kind"`

	// Options is interpreted by the parser. For JSON:
	//   header_map (object), envelope_field (string)
	Options Options `json:"options"`
}

// Storage selects the warehouse backend.
type Storage struct {
	// Kind is one of "postgres", "sqlite", "mssql".
	Kind string   `json:"kind"`
	DB   DBConfig `json:"db"`
}

// DBConfig configures the warehouse connection.
type DBConfig struct {
	// DSN is expanded with os.ExpandEnv before use.
	DSN string `json:"dsn"`

	// AutoCreateTable creates the star schema if it does not exist.
	AutoCreateTable bool `json:"auto_create_table"`

	// Reset drops and recreates the star schema before loading.
	Reset bool `json:"reset"`
}

// RuntimeConfig controls run behavior.
type RuntimeConfig struct {
	// DebugTimings logs per-file durations and record counts at info level.
	DebugTimings bool `json:"debug_timings"`
}

// Metrics configures the optional metrics backend.
type Metrics struct {
	// Backend is "", "none", or "datadog".
	Backend string `json:"backend"`

	// Tags are extra backend tags, e.g. ["service:sparkify"].
	Tags []string `json:"tags"`

	// FlushEverySeconds controls periodic submission. Zero uses the backend default.
	FlushEverySeconds int `json:"flush_every_seconds"`
}

// Load reads and decodes a pipeline file.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var p Pipeline
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return p, nil
}

// ExpandedDSN returns the DSN with environment references resolved.
func (p Pipeline) ExpandedDSN() string {
	return os.ExpandEnv(p.Storage.DB.DSN)
}

// Options is a small helper to fetch typed values from arbitrary JSON maps.
// It performs only minimal type coercion and returns provided defaults when a
// key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		switch m := v.(type) {
		case map[string]any:
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		case map[string]string:
			for k, s := range m {
				res[k] = s
			}
		}
	}
	return res
}

// Any returns the raw value for key.
func (o Options) Any(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	return nil
}

// UnmarshalJSON decodes a missing or null "options" object to an empty,
// non-nil Options map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
