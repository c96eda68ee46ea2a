package model

import (
	"testing"
)

func TestJobStateTransitions(t *testing.T) {
	tests := []struct {
		from    JobState
		to      JobState
		allowed bool
	}{
		{StateSubmitted, StatePolling, true},
		{StateSubmitted, StateFailed, true},
		{StateSubmitted, StateCompleted, false},
		{StatePolling, StateCompleted, true},
		{StatePolling, StateFailed, true},
		{StatePolling, StateTimedOut, true},
		{StatePolling, StateCancelled, true},
		{StatePolling, StateSubmitted, false},
		{StateCompleted, StatePolling, false},
		{StateCompleted, StateFailed, false},
		{StateFailed, StatePolling, false},
		{StateTimedOut, StatePolling, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.allowed {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestJobTransitionForwardOnly(t *testing.T) {
	job := NewJob("job-1", "client-1", "w2.pdf")
	if job.State != StateSubmitted {
		t.Fatalf("Expected initial state submitted, got %s", job.State)
	}

	if !job.Transition(StatePolling) {
		t.Fatal("Expected submitted -> polling to be allowed")
	}
	if !job.Transition(StateCompleted) {
		t.Fatal("Expected polling -> completed to be allowed")
	}

	// Terminal states never move again.
	if job.Transition(StatePolling) {
		t.Error("Expected completed -> polling to be rejected")
	}
	if job.State != StateCompleted {
		t.Errorf("Expected state to remain completed, got %s", job.State)
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := []JobState{StateCompleted, StateFailed, StateTimedOut}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}

	// Cancelled is abandoned, not terminal: it must not be displayed as
	// success or failure.
	nonTerminal := []JobState{StateSubmitted, StatePolling, StateCancelled}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("Expected %s to be non-terminal", s)
		}
	}
}

func TestSourceTierRank(t *testing.T) {
	if SourcePrimaryOCR.Rank() <= SourceAIEnhanced.Rank() {
		t.Error("Expected primary-ocr to outrank ai-enhanced")
	}
	if SourceAIEnhanced.Rank() <= SourcePatternFallback.Rank() {
		t.Error("Expected ai-enhanced to outrank pattern-fallback")
	}
	if SourceTier("unknown").Rank() >= SourcePatternFallback.Rank() {
		t.Error("Expected unknown tier to rank below pattern-fallback")
	}
}
