package store

import "fmt"

// Status is the document lifecycle state.
type Status string

const (
	// StatusPending means the upload committed but indexing has not started.
	StatusPending Status = "PENDING"
	// StatusProcessing means an indexing attempt is in flight.
	StatusProcessing Status = "PROCESSING"
	// StatusIndexed means all chunks are durably persisted. Terminal absent
	// an explicit re-index.
	StatusIndexed Status = "INDEXED"
	// StatusFailed means the last indexing attempt errored; a retry may
	// re-enter PROCESSING.
	StatusFailed Status = "FAILED"
)

// transitions is the full set of legal status moves. FAILED back to
// PROCESSING is the retry re-entry. PROCESSING back to itself covers
// at-least-once redelivery: a crash mid-attempt leaves the row
// PROCESSING, and the recovered job must be able to start over.
// Everything else is forward-only.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusProcessing, StatusIndexed, StatusFailed},
	StatusFailed:     {StatusProcessing},
	StatusIndexed:    {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusIndexed, StatusFailed:
		return true
	}
	return false
}

// checkTransition returns an error describing an illegal move.
func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("store: illegal status transition %s -> %s", from, to)
	}
	return nil
}
