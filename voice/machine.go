package voice

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/edgeflow/internal/metrics"
	"github.com/BaSui01/edgeflow/types"
)

// TransitionError reports a rejected trigger.
type TransitionError struct {
	From    State
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid pipeline transition: %s on %s", e.Trigger, e.From)
}

// Machine enforces the pipeline transition table. Rejected triggers leave
// the state unchanged, are counted and logged at a bounded rate.
type Machine struct {
	mu    sync.RWMutex
	state State

	onTransition func(from, to State)
	invalid      atomic.Int64
	limiter      *rate.Limiter
	logger       *zap.Logger
	metrics      metrics.Recorder
}

// NewMachine creates a machine in Idle. onTransition, if set, runs after
// every accepted transition.
func NewMachine(logger *zap.Logger, rec metrics.Recorder, onTransition func(from, to State)) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		state:        StateIdle,
		onTransition: onTransition,
		limiter:      rate.NewLimiter(rate.Every(time.Second), 5),
		logger:       logger.With(zap.String("component", "voice_machine")),
		metrics:      metrics.OrNop(rec),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Invalid returns the number of rejected triggers.
func (m *Machine) Invalid() int64 { return m.invalid.Load() }

// Fire applies trigger and returns the resulting state.
func (m *Machine) Fire(trigger Trigger) (State, error) {
	m.mu.Lock()
	from := m.state
	to, ok := Next(from, trigger)
	if ok {
		m.state = to
	}
	m.mu.Unlock()

	if !ok {
		m.invalid.Add(1)
		m.metrics.InvalidTransition("voice", string(from), string(trigger))
		if m.limiter.Allow() {
			m.logger.Error("invalid pipeline transition",
				zap.String("from", string(from)),
				zap.String("trigger", string(trigger)))
		}
		cause := &TransitionError{From: from, Trigger: trigger}
		return from, types.NewError(types.ErrInvalidStateTransition, "pipeline transition rejected").WithCause(cause)
	}

	m.metrics.PipelineTransition(string(from), string(to))
	m.logger.Debug("pipeline transition",
		zap.String("from", string(from)),
		zap.String("trigger", string(trigger)),
		zap.String("to", string(to)))
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	return to, nil
}
