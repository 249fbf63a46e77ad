package voice

import (
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/edgeflow/types"
)

// EventKind classifies a pipeline event.
type EventKind string

const (
	EventStarted       EventKind = "started"
	EventPartialResult EventKind = "partial_result"
	EventFinalResult   EventKind = "final_result"
	EventError         EventKind = "error"
	EventSpeechStarted EventKind = "speech_started"
	EventSpeechEnded   EventKind = "speech_ended"
	EventInterrupted   EventKind = "interrupted"
)

// Event is published by the orchestrator on its events channel.
type Event struct {
	ID        uuid.UUID    `json:"id"`
	SessionID string       `json:"session_id"`
	Seq       uint64       `json:"seq"`
	Stage     State        `json:"stage"`
	Kind      EventKind    `json:"kind"`
	Payload   string       `json:"payload,omitempty"`
	Err       *types.Error `json:"error,omitempty"`
	At        time.Time    `json:"at"`
}
