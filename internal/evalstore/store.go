package evalstore

import (
	"sort"
	"sync"
)

// Status is the execution state of a graph node.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	// StatusClientSide marks nodes left for the client to evaluate.
	StatusClientSide
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusClientSide:
		return "client-side"
	default:
		return "pending"
	}
}

// Store is the in-memory state of one evaluation.
type Store struct {
	datasets sync.Map // dataset name -> []map[string]any
	signals  sync.Map // signal name -> any
	statuses sync.Map // node id -> Status
	errors   sync.Map // node id -> error
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// SetDataset records the untruncated output rows of a dataset.
func (s *Store) SetDataset(name string, rows []map[string]any) {
	if rows == nil {
		rows = []map[string]any{}
	}
	s.datasets.Store(name, rows)
}

// Dataset returns the rows of an evaluated dataset.
func (s *Store) Dataset(name string) ([]map[string]any, bool) {
	v, ok := s.datasets.Load(name)
	if !ok {
		return nil, false
	}
	return v.([]map[string]any), true
}

// SetSignal records a signal value.
func (s *Store) SetSignal(name string, value any) {
	s.signals.Store(name, value)
}

// Signal returns a signal value.
func (s *Store) Signal(name string) (any, bool) {
	return s.signals.Load(name)
}

// Signals returns a snapshot of the named signals that have values.
func (s *Store) Signals(names []string) map[string]any {
	out := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := s.signals.Load(name); ok {
			out[name] = v
		}
	}
	return out
}

// SetStatus updates the status of a node.
func (s *Store) SetStatus(id string, status Status) {
	s.statuses.Store(id, status)
}

// Status returns the status of a node; unknown nodes are pending.
func (s *Store) Status(id string) Status {
	v, ok := s.statuses.Load(id)
	if !ok {
		return StatusPending
	}
	return v.(Status)
}

// WithStatus lists the nodes in the given status, sorted.
func (s *Store) WithStatus(status Status) []string {
	var out []string
	s.statuses.Range(func(k, v any) bool {
		if v.(Status) == status {
			out = append(out, k.(string))
		}
		return true
	})
	sort.Strings(out)
	return out
}

// SetError records why a node failed and marks it failed.
func (s *Store) SetError(id string, err error) {
	s.errors.Store(id, err)
	s.statuses.Store(id, StatusFailed)
}

// Error returns the recorded failure of a node, or nil.
func (s *Store) Error(id string) error {
	v, ok := s.errors.Load(id)
	if !ok {
		return nil
	}
	return v.(error)
}
