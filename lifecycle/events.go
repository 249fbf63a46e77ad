package lifecycle

import (
	"time"

	"github.com/BaSui01/edgeflow/types"
)

// EventKind identifies a lifecycle notification.
type EventKind string

const (
	EventWillLoad   EventKind = "will_load"
	EventProgress   EventKind = "progress"
	EventDidLoad    EventKind = "did_load"
	EventLoadFailed EventKind = "load_failed"
	EventWillUnload EventKind = "will_unload"
	EventDidUnload  EventKind = "did_unload"
	EventEvicted    EventKind = "evicted"
)

// Event is published on the tracker's event channel for every state change.
type Event struct {
	Kind     EventKind        `json:"kind"`
	ModelID  string           `json:"model_id"`
	Modality types.Capability `json:"modality"`
	Progress float64          `json:"progress,omitempty"`
	Err      string           `json:"error,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	At       time.Time        `json:"at"`
}

// LoadState is the per-modality load state.
type LoadState string

const (
	StateNotLoaded LoadState = "not_loaded"
	StateLoading   LoadState = "loading"
	StateLoaded    LoadState = "loaded"
	StateUnloading LoadState = "unloading"
	StateError     LoadState = "error"
)

// StateInfo describes the load state of one modality.
type StateInfo struct {
	State    LoadState `json:"state"`
	ModelID  string    `json:"model_id,omitempty"`
	Progress float64   `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
}
