package model

import (
	"errors"
	"fmt"
)

var (
	// ErrFileTooLarge is returned when an upload exceeds the encoder's
	// size limit. Fails before any network call.
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")

	// ErrUnreadableFile is returned when an upload cannot be read or
	// decoded at all.
	ErrUnreadableFile = errors.New("file is unreadable")

	// ErrJobNotFound is returned when a job id is unknown to the store.
	ErrJobNotFound = errors.New("job not found")

	// ErrBatchNotFound is returned when a batch id is unknown to the store.
	ErrBatchNotFound = errors.New("batch not found")
)

// SubmissionError reports a non-2xx response to the initial submit call.
// The job never reaches the polling state.
type SubmissionError struct {
	StatusCode int
	Message    string
}

func (e *SubmissionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("submission rejected (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("submission rejected (status %d)", e.StatusCode)
}

// PollingError wraps a single status-check failure. It is transient: the
// poller counts the attempt and retries instead of failing the job.
type PollingError struct {
	Err error
}

func (e *PollingError) Error() string {
	return "status check failed: " + e.Err.Error()
}

func (e *PollingError) Unwrap() error {
	return e.Err
}

// ProcessingFailure reports that the remote service explicitly marked the
// job as failed. Terminal.
type ProcessingFailure struct {
	Reason string
}

func (e *ProcessingFailure) Error() string {
	if e.Reason == "" {
		return "processing failed"
	}
	return "processing failed: " + e.Reason
}
