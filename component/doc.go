// Package component brings up runtime components for a batch of capability
// requests and owns their lifecycle.
//
// Lightweight components initialize concurrently through a bounded worker
// pool. Heavy components (text generation and vision by default) initialize
// one at a time across all batches. Model-backed components go through the
// lifecycle tracker, so an evicted model is reloaded on the next Acquire.
//
// Component states follow a fixed table:
//
//	uninitialized -> initializing -> ready | failed
//	ready -> cleaning_up -> uninitialized
//	failed -> initializing | uninitialized
package component
