package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into the
// config (e.g. "storage.kind").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var supportedStorage = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"mssql":    true,
}

// ValidatePipeline lints a decoded Pipeline. It does not mutate p.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs and metrics",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateMetrics(p.Metrics)...)
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue
	if s.Kind != "file" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unsupported source kind %q (want \"file\")", s.Kind),
		})
	}
	hasSongs := strings.TrimSpace(s.SongData) != "" || strings.TrimSpace(s.SongList) != ""
	hasLogs := strings.TrimSpace(s.LogData) != "" || strings.TrimSpace(s.LogList) != ""
	switch {
	case !hasSongs && !hasLogs:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source",
			Message:  "at least one of song_data, song_list, log_data or log_list is required",
		})
	case !hasSongs:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.song_data",
			Message:  "no song tree; every songplay will load with null song_id/artist_id unless the catalog is already populated",
		})
	}
	if s.SongData != "" && s.SongList != "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.song_list",
			Message:  "song_list and song_data are mutually exclusive",
		})
	}
	if s.LogData != "" && s.LogList != "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.log_list",
			Message:  "log_list and log_data are mutually exclusive",
		})
	}
	return issues
}

func validateParser(p Parser) []Issue {
	if p.Kind == "" || p.Kind == "json" {
		return nil
	}
	return []Issue{{
		Severity: SeverityError,
		Path:     "parser.kind",
		Message:  fmt.Sprintf("unsupported parser kind %q (want \"json\")", p.Kind),
	}}
}

func validateStorage(s Storage) []Issue {
	var issues []Issue
	if !supportedStorage[s.Kind] {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unsupported storage kind %q (want postgres, sqlite, or mssql)", s.Kind),
		})
	}
	if strings.TrimSpace(s.DB.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.dsn",
			Message:  "dsn must not be empty",
		})
	}
	if s.DB.Reset && !s.DB.AutoCreateTable {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.db.reset",
			Message:  "reset recreates tables even though auto_create_table is false",
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	switch m.Backend {
	case "", "none", "datadog":
	default:
		return []Issue{{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unsupported metrics backend %q (want none or datadog)", m.Backend),
		}}
	}
	if m.FlushEverySeconds < 0 {
		return []Issue{{
			Severity: SeverityError,
			Path:     "metrics.flush_every_seconds",
			Message:  "must be >= 0",
		}}
	}
	return nil
}
