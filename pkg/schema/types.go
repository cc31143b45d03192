package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Disposition string

const (
	DispositionMove   Disposition = "move"
	DispositionDelete Disposition = "delete"
	DispositionNone   Disposition = "none"
)

type PassMode string

const (
	PassModePreview PassMode = "preview"
	PassModeCommit  PassMode = "commit"
)

// EventID identifies a motion event in the remote store. The store may use
// numeric or string identifiers; both decode into EventID.
type EventID string

func (id *EventID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("event id is null")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = EventID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	*id = EventID(n.String())
	return nil
}

// MarshalJSON writes integer-looking IDs as JSON numbers and everything else as strings.
func (id EventID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Timestamp accepts the date shapes the motion store emits: RFC 3339, zone-less
// "YYYY-MM-DD HH:MM:SS" (local time) or epoch milliseconds.
type Timestamp struct {
	time.Time
}

var zonelessLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05.000",
}

func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}

	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = time.UnixMilli(ms)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// MotionEvent is a motion-detection record owned by the remote store. The
// record is kept verbatim so that reporting it back sends exactly what the
// store handed out.
type MotionEvent struct {
	ID           EventID   `json:"id"`
	MovementDate Timestamp `json:"movement_date"`
	Processed    bool      `json:"processed"`

	raw json.RawMessage
}

func (e *MotionEvent) UnmarshalJSON(data []byte) error {
	type alias MotionEvent
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = MotionEvent(a)
	e.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (e MotionEvent) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	type alias MotionEvent
	return json.Marshal(alias(e))
}

// VideoFile is one recorded segment in video storage.
type VideoFile struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	StartTime    time.Time `json:"start_time"`
	ModifiedTime time.Time `json:"modified_time"`
	Size         int64     `json:"size"`
}

// VideoInterval is the half-open window [Start, Stop) a segment is presumed to cover.
type VideoInterval struct {
	File          VideoFile     `json:"file"`
	Start         time.Time     `json:"start"`
	Stop          time.Time     `json:"stop"`
	Clamped       bool          `json:"clamped,omitempty"`
	MatchedEvents []MotionEvent `json:"matched_events"`
}

// Contains reports whether t falls inside the interval (start inclusive, stop exclusive).
func (v VideoInterval) Contains(t time.Time) bool {
	return !t.Before(v.Start) && t.Before(v.Stop)
}

func (v VideoInterval) HasMotion() bool {
	return len(v.MatchedEvents) > 0
}

func (v VideoInterval) Disposition() Disposition {
	if v.HasMotion() {
		return DispositionMove
	}
	return DispositionDelete
}

// EventIDs returns the IDs of events in order.
func EventIDs(events []MotionEvent) []EventID {
	ids := make([]EventID, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}
