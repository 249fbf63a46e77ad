// Package voice runs a full-duplex voice session: listen, transcribe,
// generate, speak.
//
// A single event loop in Orchestrator.Run owns all pipeline state. Stage
// work runs in one task goroutine at a time and reports back to the loop.
// The transition table lives in Next; Machine rejects anything else with
// INVALID_STATE_TRANSITION.
//
//	Idle ──Start──▶ Listening ──SpeechStarted──▶ ProcessingSpeech
//	ProcessingSpeech ──TranscriptReady──▶ GeneratingResponse
//	GeneratingResponse ──ResponseReady──▶ PlayingSynthesis
//	PlayingSynthesis ──SynthesisDone──▶ Cooldown ──CooldownElapsed──▶ Listening
//	GeneratingResponse, PlayingSynthesis ──BargeIn──▶ ProcessingSpeech
//	any ──Fatal──▶ Error ──Reset──▶ Idle
//
// While a response is generated or played, speech confirmed with the
// stricter BargeInStartFrames interrupts it. Cooldown discards input for a
// fixed period after playback so the assistant does not hear itself.
package voice
