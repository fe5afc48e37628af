// Package task defines the lifecycle states of a keyed download.
//
// A state moves through Pending -> InProgress -> {Completed | Failure | AlreadyExists}.
// Every state carries the key it belongs to; all states but Pending also carry
// the resolved media.Descriptor and are considered informational.
package task

import (
	"fmt"
	"strconv"

	"github.com/italolelis/musicdl/internal/media"
)

// Status names a State variant.
type Status string

const (
	StatusPending       Status = "pending"
	StatusInProgress    Status = "in_progress"
	StatusAlreadyExists Status = "already_exists"
	StatusCompleted     Status = "completed"
	StatusFailure       Status = "failure"
)

// State is the closed set of task states.
type State interface {
	Key() string
	Status() Status
	state()
}

// Informational is a State that carries a resolved descriptor.
type Informational interface {
	State
	Descriptor() media.Descriptor
}

// Pending is a task accepted but not yet resolved.
type Pending struct {
	URL string
}

// InProgress is a task transferring bytes. Progress is a percentage in [0, 100].
type InProgress struct {
	Info     media.Descriptor
	Progress float64
	URL      string
}

// AlreadyExists is a task whose file was found at the destination before any transfer.
type AlreadyExists struct {
	Info media.Descriptor
	URL  string
}

// Completed is a task whose file was finalized into the destination.
type Completed struct {
	Info media.Descriptor
	URL  string
}

// Failure is a task that stopped with Err. It can be retried with Info.
type Failure struct {
	Info media.Descriptor
	Err  error
	URL  string
}

func (s Pending) Key() string       { return s.URL }
func (s InProgress) Key() string    { return s.URL }
func (s AlreadyExists) Key() string { return s.URL }
func (s Completed) Key() string     { return s.URL }
func (s Failure) Key() string       { return s.URL }

func (Pending) Status() Status       { return StatusPending }
func (InProgress) Status() Status    { return StatusInProgress }
func (AlreadyExists) Status() Status { return StatusAlreadyExists }
func (Completed) Status() Status     { return StatusCompleted }
func (Failure) Status() Status       { return StatusFailure }

func (Pending) state()       {}
func (InProgress) state()    {}
func (AlreadyExists) state() {}
func (Completed) state()     {}
func (Failure) state()       {}

func (s InProgress) Descriptor() media.Descriptor    { return s.Info }
func (s AlreadyExists) Descriptor() media.Descriptor { return s.Info }
func (s Completed) Descriptor() media.Descriptor     { return s.Info }
func (s Failure) Descriptor() media.Descriptor       { return s.Info }

// IsTerminal reports whether no further transition follows s.
func IsTerminal(s State) bool {
	switch s.(type) {
	case Completed, Failure, AlreadyExists:
		return true
	default:
		return false
	}
}

// Describe renders a one-line human-readable summary of s.
func Describe(s State) string {
	switch s := s.(type) {
	case Pending:
		return "Pending: " + s.URL
	case InProgress:
		return "Progress " + strconv.FormatFloat(s.Progress, 'f', 1, 64) + " " + s.Info.ShortName()
	case AlreadyExists:
		return "Already exists " + s.Info.ShortName()
	case Completed:
		return "Successfully downloaded " + s.Info.ShortName()
	case Failure:
		return fmt.Sprintf("Failed to download %s. Error: %v", s.Info.ShortName(), s.Err)
	default:
		return ""
	}
}

// Index returns the position of key in states, or -1.
func Index(states []State, key string) int {
	for i, s := range states {
		if s.Key() == key {
			return i
		}
	}

	return -1
}

// Find returns the state for key, if present.
func Find(states []State, key string) (State, bool) {
	if i := Index(states, key); i >= 0 {
		return states[i], true
	}

	return nil, false
}
