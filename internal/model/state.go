package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// CaptureState is the lifecycle state of the capture session.
type CaptureState int

const (
	StateIdle CaptureState = iota
	StateStarting
	StateCapturing
	StateStopping
	StateStopped
	StateError
)

var stateNames = map[CaptureState]string{
	StateIdle:      "idle",
	StateStarting:  "starting",
	StateCapturing: "capturing",
	StateStopping:  "stopping",
	StateStopped:   "stopped",
	StateError:     "error",
}

func (s CaptureState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Active reports whether a capture is starting or running.
func (s CaptureState) Active() bool {
	return s == StateStarting || s == StateCapturing
}

// MarshalText renders the state name in JSON documents.
func (s CaptureState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *CaptureState) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown capture state %q", text)
}

// CaptureSession holds everything about the one capture session.
// Invariant: State == StateCapturing implies StartedAt is non-zero.
type CaptureSession struct {
	Interface  string        `json:"interface"`
	Protocols  []Protocol    `json:"protocols"`
	TextFilter string        `json:"textFilter,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"-"`
	State      CaptureState  `json:"state"`
	Native     bool          `json:"native"`
	LastError  string        `json:"lastError,omitempty"`
	Status     string        `json:"status"`
}

// Elapsed is the span used for rate statistics: time since start while a
// capture runs, the recorded duration otherwise.
func (s CaptureSession) Elapsed(now time.Time) time.Duration {
	if !s.StartedAt.IsZero() {
		return now.Sub(s.StartedAt)
	}
	return s.Duration
}

type sessionJSON CaptureSession

// MarshalJSON adds the recorded duration as durationMs.
func (s CaptureSession) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		sessionJSON
		DurationMs int64 `json:"durationMs"`
	}{sessionJSON(s), s.Duration.Milliseconds()})
}

// UnmarshalJSON reads a document written by MarshalJSON.
func (s *CaptureSession) UnmarshalJSON(data []byte) error {
	var v struct {
		sessionJSON
		DurationMs int64 `json:"durationMs"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = CaptureSession(v.sessionJSON)
	s.Duration = time.Duration(v.DurationMs) * time.Millisecond
	return nil
}
