package session

import (
	"context"

	"github.com/qmuntal/stateless"
)

// State is a session lifecycle state.
type State string

const (
	StateDisconnected State = "Disconnected"
	StateConnecting   State = "Connecting"
	StateStreaming    State = "Streaming"
	StateIdle         State = "Idle"
	StateError        State = "Error"
)

// Trigger moves the lifecycle between states.
type Trigger string

const (
	TriggerConnect         Trigger = "Connect"
	TriggerEventObserved   Trigger = "EventObserved"
	TriggerProbeSucceeded  Trigger = "ProbeSucceeded"
	TriggerProbeFailed     Trigger = "ProbeFailed"
	TriggerTurnStarted     Trigger = "TurnStarted"
	TriggerStreamCompleted Trigger = "StreamCompleted"
	TriggerTransportFailed Trigger = "TransportFailed"
)

// newLifecycle builds the session state machine. Triggers that make no sense
// in a state are ignored rather than rejected: the event sources are not
// ordered with respect to each other.
func (s *Session) newLifecycle() *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateDisconnected)

	// State: Disconnected
	// Left once, when the session is created.
	fsm.Configure(StateDisconnected).
		Permit(TriggerConnect, StateConnecting)

	// State: Connecting
	// Transitions:
	//   - On EventObserved or ProbeSucceeded -> StateStreaming
	//   - On ProbeFailed or TransportFailed -> StateError
	//   - On StreamCompleted -> StateIdle (stream ended before any event)
	fsm.Configure(StateConnecting).
		Permit(TriggerEventObserved, StateStreaming).
		Permit(TriggerProbeSucceeded, StateStreaming).
		Permit(TriggerTurnStarted, StateStreaming).
		Permit(TriggerProbeFailed, StateError).
		Permit(TriggerTransportFailed, StateError).
		Permit(TriggerStreamCompleted, StateIdle).
		Ignore(TriggerConnect)

	// State: Streaming
	// Re-entered on each new user turn.
	fsm.Configure(StateStreaming).
		PermitReentry(TriggerTurnStarted).
		Permit(TriggerStreamCompleted, StateIdle).
		Permit(TriggerTransportFailed, StateError).
		Ignore(TriggerEventObserved).
		Ignore(TriggerProbeSucceeded).
		Ignore(TriggerProbeFailed).
		Ignore(TriggerConnect)

	// State: Idle
	fsm.Configure(StateIdle).
		Permit(TriggerTurnStarted, StateStreaming).
		Permit(TriggerEventObserved, StateStreaming).
		Permit(TriggerTransportFailed, StateError).
		Ignore(TriggerStreamCompleted).
		Ignore(TriggerProbeSucceeded).
		Ignore(TriggerProbeFailed).
		Ignore(TriggerConnect)

	// State: Error
	// A failed probe does not stop streaming from starting once events arrive.
	// Content merged before the failure is kept.
	fsm.Configure(StateError).
		Permit(TriggerEventObserved, StateStreaming).
		Permit(TriggerTurnStarted, StateStreaming).
		Ignore(TriggerTransportFailed).
		Ignore(TriggerStreamCompleted).
		Ignore(TriggerProbeSucceeded).
		Ignore(TriggerProbeFailed).
		Ignore(TriggerConnect)

	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		if t.Source == t.Destination {
			return
		}
		s.log.Debug("session state changed", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})

	return fsm
}

// fireLocked fires t, logging instead of failing when the lifecycle rejects
// it. Must be called with s.mu held.
func (s *Session) fireLocked(t Trigger) {
	if err := s.fsm.Fire(t); err != nil {
		s.log.Debug("lifecycle trigger rejected", "trigger", t, "error", err)
	}
}
