package component

import (
	"fmt"
	"slices"

	"github.com/BaSui01/edgeflow/types"
)

// State 定义组件生命周期状态
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
	StateCleaningUp    State = "cleaning_up"
)

// validTransitions 定义合法的状态转换
var validTransitions = map[State][]State{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateReady, StateFailed},
	StateReady:         {StateCleaningUp},
	StateFailed:        {StateInitializing, StateUninitialized}, // 支持重试或重置
	StateCleaningUp:    {StateUninitialized},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// States returns every component state.
func States() []State {
	return []State{StateUninitialized, StateInitializing, StateReady, StateFailed, StateCleaningUp}
}

// StateTransitionError 非法状态转换错误
type StateTransitionError struct {
	Capability types.Capability
	From       State
	To         State
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for %s: %s -> %s", e.Capability, e.From, e.To)
}

func transitionError(capability types.Capability, from, to State) *types.Error {
	cause := &StateTransitionError{Capability: capability, From: from, To: to}
	return types.NewError(types.ErrInvalidStateTransition, "component state transition rejected").WithCause(cause)
}
