package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/config"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
)

// Clock abstracts the delay between status checks so the poller's state
// machine is testable without wall-clock waits.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// JobResultSource is the slice of the extract client the poller needs.
type JobResultSource interface {
	GetResult(ctx context.Context, jobID string) (*ResultResponse, error)
}

// Poller drives a submitted job through the polling loop to a terminal
// state. Given a scripted sequence of remote responses the emitted state
// sequence is fully determined: every check counts one attempt, the loop
// never exceeds MaxAttempts, and delays come only from Clock.
type Poller struct {
	Source      JobResultSource
	Interval    time.Duration
	MaxAttempts int
	Clock       Clock

	// OnUpdate, when set, observes the job after every attempt and state
	// change. Used to persist progress.
	OnUpdate func(*model.Job)
}

func NewPoller(source JobResultSource, cfg *config.PollingConfig) *Poller {
	return &Poller{
		Source:      source,
		Interval:    time.Duration(cfg.IntervalSeconds) * time.Second,
		MaxAttempts: cfg.MaxAttempts,
		Clock:       realClock{},
	}
}

// Poll runs the status-check loop until the job reaches a terminal state,
// the attempt budget runs out, or ctx is cancelled. Cancellation abandons
// the job: it moves to the cancelled state and any response arriving
// afterwards is discarded.
func (p *Poller) Poll(ctx context.Context, job *model.Job) {
	p.transition(job, model.StatePolling, "")

	for job.Attempts < p.MaxAttempts {
		select {
		case <-ctx.Done():
			p.transition(job, model.StateCancelled, "")
			return
		case <-p.Clock.After(p.Interval):
			// ctx.Done and the clock can be ready together; cancellation
			// wins so a cancelled poller never issues another check.
			if ctx.Err() != nil {
				p.transition(job, model.StateCancelled, "")
				return
			}
		}

		job.Attempts++

		res, err := p.Source.GetResult(ctx, p.remoteID(job))
		if ctx.Err() != nil {
			// A late response after cancellation is discarded.
			p.transition(job, model.StateCancelled, "")
			return
		}
		if err != nil {
			// Transient miss: the attempt counts, the loop keeps going.
			perr := &model.PollingError{Err: err}
			slog.Warn("status check failed",
				"job_id", job.ID,
				"attempt", job.Attempts,
				"error", perr.Error(),
			)
			p.notify(job)
			continue
		}

		switch res.Status {
		case RemoteStatusCompleted:
			doc, err := NormalizeDocument(res.Payload)
			if err != nil {
				// Success was reported but the payload does not hold up.
				p.transition(job, model.StateFailed, err.Error())
				return
			}
			job.Result = doc
			p.transition(job, model.StateCompleted, "")
			return
		case RemoteStatusFailed:
			reason := res.ErrorMessage
			if reason == "" {
				reason = (&model.ProcessingFailure{}).Error()
			}
			p.transition(job, model.StateFailed, reason)
			return
		default:
			// Still processing.
			p.notify(job)
		}
	}

	p.transition(job, model.StateTimedOut,
		fmt.Sprintf("no terminal status after %d attempts", p.MaxAttempts))
}

func (p *Poller) remoteID(job *model.Job) string {
	if job.RemoteID != "" {
		return job.RemoteID
	}
	return job.ID
}

func (p *Poller) transition(job *model.Job, next model.JobState, reason string) {
	if !job.Transition(next) {
		return
	}
	if reason != "" {
		job.ErrorReason = reason
	}
	p.notify(job)
}

func (p *Poller) notify(job *model.Job) {
	if p.OnUpdate != nil {
		p.OnUpdate(job)
	}
}
