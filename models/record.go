package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode identifies which upstream dissemination surface a record came from.
type Mode string

const (
	// ModeSlice is the archive mode: ZIP slice files holding one CSV of trades.
	ModeSlice Mode = "slice"
	// ModeAPI is the JSON dashboard API mode.
	ModeAPI Mode = "api"
)

// RawRecord is one loosely typed trade record as decoded from the upstream
// payload. Field names and value types depend on the mode; slice records carry
// CSV cells as strings while API records carry whatever the JSON decoder
// produced.
type RawRecord map[string]any

// String returns the named field as a trimmed string. Numbers are rendered in
// their shortest form so CSV and JSON shapes read the same way.
func (r RawRecord) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Float returns the named field as a float64. Missing, empty and unparsable
// values yield the zero value, matching the tolerant posture of the upstream
// feed.
func (r RawRecord) Float(key string) float64 {
	v, ok := r[key]
	if !ok || v == nil {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Has reports whether the field is present with a non-empty value.
func (r RawRecord) Has(key string) bool {
	return r.String(key) != ""
}

// FetchResult is what a source adapter hands the ingestion loop for one cycle:
// the decoded records, the raw payload they came from and the endpoint that
// served it.
type FetchResult struct {
	Records  []RawRecord
	Payload  []byte
	Endpoint string
}
