package store

import "github.com/studylab/studysync/pkg/models"

// Operation names one remote domain operation for request-state tracking.
type Operation string

const (
	OpList    Operation = "list"
	OpGet     Operation = "get"
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpDestroy Operation = "destroy"
	OpFilter  Operation = "filter"
	OpRun     Operation = "run"
)

// RequestKey identifies one request's state slot. Keying by kind, operation
// and id keeps concurrent unrelated operations from clobbering each other's
// loading and error indicators. ID is empty for list operations.
type RequestKey struct {
	Kind models.Kind
	Op   Operation
	ID   string
}

// Phase is one step of a request's lifecycle.
type Phase int

const (
	PhaseRequested Phase = iota
	PhaseSucceeded
	PhaseFailed
)

// RequestEvent is the tagged lifecycle event the dispatcher feeds into the
// store: Requested before the remote call, then exactly one of Succeeded or
// Failed.
type RequestEvent struct {
	Key   RequestKey
	Phase Phase
	Err   error
}

// RequestState is what collaborators read to render loading and error
// indicators for one request key.
type RequestState struct {
	InFlight bool
	Err      error
}

// ApplyRequestEvent is the single entry point for request lifecycle events.
func (s *Store) ApplyRequestEvent(ev RequestEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Phase {
	case PhaseRequested:
		s.requests[ev.Key] = RequestState{InFlight: true}
	case PhaseSucceeded:
		s.requests[ev.Key] = RequestState{}
	case PhaseFailed:
		s.requests[ev.Key] = RequestState{Err: ev.Err}
	}
}

// RequestState returns the recorded state for one request key.
func (s *Store) RequestState(key RequestKey) RequestState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests[key]
}

// AnyInFlight reports whether any request is currently loading. Kept as the
// coarse indicator some collaborators still render globally.
func (s *Store) AnyInFlight() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, state := range s.requests {
		if state.InFlight {
			return true
		}
	}
	return false
}
