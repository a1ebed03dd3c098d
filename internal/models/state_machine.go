package models

import (
	"fmt"
	"time"
)

// BotState represents the lifecycle state of a user's polling worker.
type BotState string

const (
	BotStopped  BotState = "stopped"  // No loop running
	BotStarting BotState = "starting" // Start accepted, loop being spawned
	BotRunning  BotState = "running"  // Loop ticking
	BotStopping BotState = "stopping" // Stop requested, loop draining
)

// BotTransition defines a valid bot state transition.
type BotTransition struct {
	From        BotState
	To          BotState
	Condition   string
	Description string
}

// ValidBotTransitions enumerates the allowed lifecycle moves. Start is only
// legal from Stopped, so a second concurrent start can never spawn a second
// loop.
var ValidBotTransitions = []BotTransition{
	{BotStopped, BotStarting, "start_requested", "Start accepted under the user lock"},
	{BotStarting, BotRunning, "loop_spawned", "Polling loop entered its first tick"},
	{BotStarting, BotStopped, "spawn_failed", "Loop could not be spawned"},
	{BotRunning, BotStopping, "stop_requested", "Stop flag set, loop will observe it"},
	{BotStarting, BotStopping, "stop_requested", "Stop requested before the first tick"},
	{BotStopping, BotStopped, "loop_exited", "Loop observed the stop flag and exited"},
}

// BotStateMachine tracks one user's worker lifecycle. It is not
// goroutine-safe; the engine mutates it only under the owning user's lock.
type BotStateMachine struct {
	transitionTime time.Time
	currentState   BotState
	previousState  BotState
}

// NewBotStateMachine creates a state machine in the Stopped state.
func NewBotStateMachine() *BotStateMachine {
	return &BotStateMachine{
		currentState:   BotStopped,
		previousState:  BotStopped,
		transitionTime: time.Now().UTC(),
	}
}

// GetCurrentState returns the current state.
func (sm *BotStateMachine) GetCurrentState() BotState {
	return sm.currentState
}

// GetPreviousState returns the previous state.
func (sm *BotStateMachine) GetPreviousState() BotState {
	return sm.previousState
}

// IsRunning reports whether the worker is live (starting counts: a loop has
// been or is about to be spawned).
func (sm *BotStateMachine) IsRunning() bool {
	return sm.currentState == BotStarting || sm.currentState == BotRunning
}

// IsValidTransition checks whether moving to the given state under the given
// condition is allowed from the current state.
func (sm *BotStateMachine) IsValidTransition(to BotState, condition string) error {
	for _, tr := range ValidBotTransitions {
		if tr.From != sm.currentState || tr.To != to {
			continue
		}
		if tr.Condition == "" || tr.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid bot transition from %s to %s with condition %q",
		sm.currentState, to, condition)
}

// Transition moves to a new state after validating it.
func (sm *BotStateMachine) Transition(to BotState, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = time.Now().UTC()
	return nil
}

// TransitionTime returns when the last transition happened.
func (sm *BotStateMachine) TransitionTime() time.Time {
	return sm.transitionTime
}
