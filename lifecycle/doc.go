// Package lifecycle tracks loaded model instances per modality.
//
// Tracker is single-writer: every mutation is serialized, and readers see
// either the previous or the next consistent state. A replaced or evicted
// handle is hidden before its service is released, so no lookup can return
// it afterwards.
//
// Memory pressure is handled through HandlePressure or Watch. Warning
// evicts least recently used models, critical evicts the largest first.
// IdleSweeper evicts models unused for a configured period on a cron
// schedule.
package lifecycle
