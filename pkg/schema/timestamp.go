package schema

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp is an optional point in time. Values that are absent or cannot
// be parsed are left unset instead of failing the surrounding decode.
type Timestamp struct {
	t     time.Time
	valid bool
}

// At returns a set Timestamp.
func At(t time.Time) Timestamp { return Timestamp{t: t, valid: true} }

// Time returns the timestamp and whether it is set.
func (ts Timestamp) Time() (time.Time, bool) { return ts.t, ts.valid }

// IsSet reports whether the timestamp holds a value.
func (ts Timestamp) IsSet() bool { return ts.valid }

// ParseTimestamp parses s using the accepted layouts.
func ParseTimestamp(s string) (Timestamp, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return At(t), true
		}
	}
	return Timestamp{}, false
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if !ts.valid {
		return []byte("null"), nil
	}
	return json.Marshal(ts.t.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts an ISO-8601 string, epoch milliseconds or null.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*ts = Timestamp{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		*ts, _ = ParseTimestamp(s)
		return nil
	}
	if ms, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*ts = At(time.UnixMilli(ms).UTC())
	}
	return nil
}
