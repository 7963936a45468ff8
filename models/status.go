package models

import (
	"fmt"
	"sync"
)

// JobState is the lifecycle stage of a single transformation job.
type JobState string

const (
	JobStateSubmitted JobState = "submitted"
	JobStatePending   JobState = "pending"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
	JobStateTimedOut  JobState = "timed_out"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCanceled, JobStateTimedOut:
		return true
	default:
		return false
	}
}

// JobStatus is the observed status of a job. ResultURL is set only for
// Succeeded, Reason only for Failed/Canceled/TimedOut.
type JobStatus struct {
	State     JobState
	ResultURL string
	Reason    string
}

// Succeeded builds a terminal success status.
func Succeeded(resultURL string) JobStatus {
	return JobStatus{State: JobStateSucceeded, ResultURL: resultURL}
}

// Failed builds a terminal failure status.
func Failed(reason string) JobStatus {
	return JobStatus{State: JobStateFailed, Reason: reason}
}

// Canceled builds a terminal cancellation status.
func Canceled(reason string) JobStatus {
	return JobStatus{State: JobStateCanceled, Reason: reason}
}

// TimedOut builds the terminal status of a job that outlived its deadline.
func TimedOut(reason string) JobStatus {
	return JobStatus{State: JobStateTimedOut, Reason: reason}
}

// Pending is the non-terminal waiting status.
func Pending() JobStatus {
	return JobStatus{State: JobStatePending}
}

// StateMachine tracks one job through Submitted → Pending → terminal.
// Once terminal, every further transition is rejected, which is what
// guarantees a single terminal status per request.
type StateMachine struct {
	mu      sync.Mutex
	current JobStatus
}

// NewStateMachine starts a machine in the Submitted state.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: JobStatus{State: JobStateSubmitted}}
}

// Current returns a snapshot of the current status.
func (m *StateMachine) Current() JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition validates and applies a status change.
func (m *StateMachine) Transition(next JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.State == next.State && !next.State.Terminal() {
		return nil
	}
	if !isValidTransition(m.current.State, next.State) {
		return fmt.Errorf("invalid job transition: %s -> %s", m.current.State, next.State)
	}
	m.current = next
	return nil
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to JobState) bool {
	switch from {
	case JobStateSubmitted:
		return to == JobStatePending || to.Terminal()
	case JobStatePending:
		return to.Terminal()
	default:
		return false
	}
}
