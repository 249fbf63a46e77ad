package voice

// State is a voice pipeline stage.
type State string

const (
	StateIdle               State = "idle"
	StateListening          State = "listening"
	StateProcessingSpeech   State = "processing_speech"
	StateGeneratingResponse State = "generating_response"
	StatePlayingSynthesis   State = "playing_synthesis"
	StateCooldown           State = "cooldown"
	StateError              State = "error"
)

// States returns every pipeline state.
func States() []State {
	return []State{
		StateIdle,
		StateListening,
		StateProcessingSpeech,
		StateGeneratingResponse,
		StatePlayingSynthesis,
		StateCooldown,
		StateError,
	}
}

// Trigger drives a state transition.
type Trigger string

const (
	TriggerStart           Trigger = "start"
	TriggerSpeechStarted   Trigger = "speech_started"
	TriggerTranscriptReady Trigger = "transcript_ready"
	TriggerTranscriptEmpty Trigger = "transcript_empty"
	TriggerResponseReady   Trigger = "response_ready"
	TriggerSynthesisDone   Trigger = "synthesis_done"
	TriggerCooldownElapsed Trigger = "cooldown_elapsed"
	TriggerBargeIn         Trigger = "barge_in"
	TriggerStageFailed     Trigger = "stage_failed"
	TriggerFatal           Trigger = "fatal"
	TriggerReset           Trigger = "reset"
	TriggerStop            Trigger = "stop"
)

// Triggers returns every trigger.
func Triggers() []Trigger {
	return []Trigger{
		TriggerStart,
		TriggerSpeechStarted,
		TriggerTranscriptReady,
		TriggerTranscriptEmpty,
		TriggerResponseReady,
		TriggerSynthesisDone,
		TriggerCooldownElapsed,
		TriggerBargeIn,
		TriggerStageFailed,
		TriggerFatal,
		TriggerReset,
		TriggerStop,
	}
}

// transitions lists the edges that depend on the source state. Fatal and
// Stop are handled in Next.
var transitions = map[State]map[Trigger]State{
	StateIdle: {
		TriggerStart: StateListening,
	},
	StateListening: {
		TriggerSpeechStarted: StateProcessingSpeech,
	},
	StateProcessingSpeech: {
		TriggerTranscriptReady: StateGeneratingResponse,
		TriggerTranscriptEmpty: StateListening,
		TriggerStageFailed:     StateListening,
	},
	StateGeneratingResponse: {
		TriggerResponseReady: StatePlayingSynthesis,
		TriggerStageFailed:   StateListening,
		TriggerBargeIn:       StateProcessingSpeech,
	},
	StatePlayingSynthesis: {
		TriggerSynthesisDone: StateCooldown,
		TriggerStageFailed:   StateListening,
		TriggerBargeIn:       StateProcessingSpeech,
	},
	StateCooldown: {
		TriggerCooldownElapsed: StateListening,
	},
	StateError: {
		TriggerReset: StateIdle,
	},
}

// Next returns the target of firing trigger in from.
func Next(from State, trigger Trigger) (State, bool) {
	switch trigger {
	case TriggerStop:
		return StateIdle, true
	case TriggerFatal:
		if from == StateError {
			return from, false
		}
		if _, known := transitions[from]; known {
			return StateError, true
		}
		return from, false
	}
	to, ok := transitions[from][trigger]
	if !ok {
		return from, false
	}
	return to, true
}
