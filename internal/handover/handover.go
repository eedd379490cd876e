// ABOUTME: Two-state handover machine controlling reply authorship per session
// ABOUTME: Wraps store.SetHandover so transition rules live in one place

package handover

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qmuntal/stateless"

	"github.com/soukbot/chat-gateway/internal/store"
)

// States
type State stateless.State

var (
	StateBotControlled   State = "BotControlled"
	StateAgentControlled State = "AgentControlled"
)

// Triggers
type Trigger stateless.Trigger

var (
	TriggerToAgent Trigger = "toAgent"
	TriggerToBot   Trigger = "toBot"
)

// newMachine builds the two-state machine starting from the given state.
// Re-firing the trigger for the current state is ignored, which is what
// makes the operator toggle idempotent.
func newMachine(initial State) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(initial)

	fsm.Configure(StateBotControlled).
		Permit(TriggerToAgent, StateAgentControlled).
		Ignore(TriggerToBot)

	fsm.Configure(StateAgentControlled).
		Permit(TriggerToBot, StateBotControlled).
		Ignore(TriggerToAgent)

	return fsm
}

// stateFor maps the persisted boolean onto a machine state.
func stateFor(handoverToAgent bool) State {
	if handoverToAgent {
		return StateAgentControlled
	}
	return StateBotControlled
}

// triggerFor maps the requested boolean onto a machine trigger.
func triggerFor(enabled bool) Trigger {
	if enabled {
		return TriggerToAgent
	}
	return TriggerToBot
}

// Service validates and applies handover transitions. Transitions are
// only ever operator-triggered; there are no timers and no auto-revert.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates a handover service. Pass nil logger for default.
func NewService(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		logger: logger.With("component", "handover"),
	}
}

// Set drives the session's machine with the requested target and persists
// the outcome. Unknown sessions surface store.ErrNotFound. Setting the
// current value is a no-op returning current state.
func (s *Service) Set(ctx context.Context, sessionID string, enabled bool) (*store.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	fsm := newMachine(stateFor(session.HandoverToAgent))
	if err := fsm.FireCtx(ctx, triggerFor(enabled)); err != nil {
		return nil, fmt.Errorf("handover transition: %w", err)
	}

	target := fsm.MustState() == stateless.State(StateAgentControlled)
	if target == session.HandoverToAgent {
		return session, nil
	}

	updated, err := s.store.SetHandover(ctx, sessionID, target)
	if err != nil {
		return nil, err
	}

	s.logger.Info("handover toggled",
		"session_id", sessionID,
		"handover_to_agent", target)
	return updated, nil
}
