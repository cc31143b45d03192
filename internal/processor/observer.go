package processor

import "time"

// Pass lifecycle event types.
const (
	EventStarted      = "started"
	EventWindowsBuilt = "windows_built"
	EventFileMoved    = "file_moved"
	EventFileDeleted  = "file_deleted"
	EventFileFailed   = "file_failed"
	EventReported     = "reported"
	EventFinished     = "finished"
	EventFailed       = "failed"
)

// PassEvent is published for every step of a pass.
type PassEvent struct {
	Type   string    `json:"type"`
	PassID string    `json:"pass_id"`
	Mode   string    `json:"mode"`
	Time   time.Time `json:"time"`
	Path   string    `json:"path,omitempty"`
	Count  int       `json:"count,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Observer receives pass events. Implementations must be safe for concurrent
// use and must not block.
type Observer interface {
	OnPassEvent(ev PassEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(PassEvent)

func (f ObserverFunc) OnPassEvent(ev PassEvent) { f(ev) }
