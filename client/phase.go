// ABOUTME: Per-message phase state machine validating transitions while a message generates.
// ABOUTME: Invalid transitions are rejected and logged, leaving the phase unchanged.

package client

import "log"

// Phase is the generation phase of an actively streaming message.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseThinking    Phase = "thinking"
	PhaseToolCalling Phase = "tool_calling"
	PhaseAnswering   Phase = "answering"
	PhaseError       Phase = "error"
)

// allowedTransitions maps each phase to the phases it may move to.
// Progress and completion events keep tool_calling unchanged, so it allows
// itself; a finished error state can only be re-entered via idle.
var allowedTransitions = map[Phase]map[Phase]bool{
	PhaseIdle:        {PhaseThinking: true, PhaseAnswering: true, PhaseError: true},
	PhaseThinking:    {PhaseToolCalling: true, PhaseAnswering: true, PhaseError: true},
	PhaseToolCalling: {PhaseAnswering: true, PhaseToolCalling: true, PhaseError: true},
	PhaseAnswering:   {PhaseIdle: true, PhaseToolCalling: true, PhaseError: true},
	PhaseError:       {PhaseIdle: true},
}

// PhaseMachine tracks one active message's phase. It exists only while the
// message is generating and is discarded on completion.
type PhaseMachine struct {
	messageID string
	phase     Phase
}

// NewPhaseMachine starts a machine at idle.
func NewPhaseMachine(messageID string) *PhaseMachine {
	return &PhaseMachine{messageID: messageID, phase: PhaseIdle}
}

// Phase returns the current phase.
func (m *PhaseMachine) Phase() Phase {
	return m.phase
}

// Transition attempts to move to next. Moving to the current phase is a
// no-op; an invalid transition is rejected and logged, never silently
// corrupting state. Returns whether the machine is now in next.
func (m *PhaseMachine) Transition(next Phase) bool {
	if next == m.phase {
		return true
	}
	if !allowedTransitions[m.phase][next] {
		log.Printf("component=client action=invalid_phase_transition message=%s from=%s to=%s", m.messageID, m.phase, next)
		return false
	}
	m.phase = next
	return true
}

// Complete drives the machine to idle regardless of current phase.
func (m *PhaseMachine) Complete() {
	m.phase = PhaseIdle
}

// Fail drives the machine to error regardless of current phase.
func (m *PhaseMachine) Fail() {
	m.phase = PhaseError
}
