package memory

import (
	"fmt"
	"strings"
	"time"
)

// Timestamp is a UTC instant that serialises as RFC 3339 with a trailing Z.
// Unmarshalling rejects values without the Z suffix so every timestamp in
// the system is unambiguously UTC.
type Timestamp struct {
	time.Time
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp{time.Now().UTC()}
}

// At wraps a time.Time, forcing UTC.
func At(t time.Time) Timestamp {
	return Timestamp{t.UTC()}
}

// ParseTimestamp parses an RFC 3339 string, requiring the trailing Z.
func ParseTimestamp(s string) (Timestamp, error) {
	if !strings.HasSuffix(s, "Z") {
		return Timestamp{}, fmt.Errorf("%w: timestamp %q must be UTC with trailing Z", ErrInvalidRequest, s)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: invalid timestamp %q: %v", ErrInvalidRequest, s, err)
	}
	return Timestamp{t.UTC()}, nil
}

// MarshalJSON emits the timestamp as RFC 3339 UTC with trailing Z.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format("2006-01-02T15:04:05.999999999Z") + `"`), nil
}

// UnmarshalJSON parses and validates the timestamp.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// FromUnixMilli converts unix milliseconds back into a Timestamp.
func FromUnixMilli(ms int64) Timestamp {
	return Timestamp{time.UnixMilli(ms).UTC()}
}

// UnixMilli is a convenience for the numeric index field.
func (t Timestamp) UnixMilli() int64 {
	return t.Time.UnixMilli()
}
