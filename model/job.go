package model

import (
	"time"
)

// JobState is the lifecycle state of a processing job.
type JobState string

const (
	StateSubmitted JobState = "submitted"
	StatePolling   JobState = "polling"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateTimedOut  JobState = "timed_out"
	// StateCancelled marks an abandoned job. It is neither a success nor a
	// failure and must not be presented as either.
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether no further automatic transition occurs from s.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// transitions lists the allowed forward edges of the job state machine.
// No state is ever revisited.
var transitions = map[JobState][]JobState{
	StateSubmitted: {StatePolling, StateFailed, StateCancelled},
	StatePolling:   {StateCompleted, StateFailed, StateTimedOut, StateCancelled},
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s JobState) CanTransition(next JobState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Job represents one tracked asynchronous processing request.
type Job struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Filename string `json:"filename"`

	// RemoteID is the job handle assigned by the extraction service on
	// submission. Empty until the submit call returns.
	RemoteID string `json:"remote_id,omitempty"`

	State       JobState  `json:"state"`
	Attempts    int       `json:"attempts"`
	ArchiveURL  string    `json:"archive_url,omitempty"`
	ErrorReason string    `json:"error_reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Result is populated only in the completed state.
	Result *Document `json:"result,omitempty"`

	// Reconciled and Validation annotate a completed result; they never
	// abort it.
	Reconciled *Reconciliation `json:"reconciled,omitempty"`
	Validation *Validation     `json:"validation,omitempty"`
}

// NewJob creates a job in the submitted state.
func NewJob(id, clientID, filename string) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		ClientID:  clientID,
		Filename:  filename,
		State:     StateSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the job to next if the edge is legal and returns whether
// it did. Illegal transitions leave the job untouched.
func (j *Job) Transition(next JobState) bool {
	if !j.State.CanTransition(next) {
		return false
	}
	j.State = next
	j.UpdatedAt = time.Now()
	return true
}
