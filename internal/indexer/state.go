package indexer

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of a Service.
type State int

const (
	StateStandby State = iota
	StateInitialIndexing
	StateReady
	StateCancelled
	StateError
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStandby:
		return "standby"
	case StateInitialIndexing:
		return "initial_indexing"
	case StateReady:
		return "ready"
	case StateCancelled:
		return "cancelled"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition other than Stop can occur.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateError || s == StateStopped
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status is a progress or lifecycle record published on StatusUpdates.
type Status struct {
	State     State     `json:"state"`
	Indexed   int       `json:"indexed"`
	Skipped   int       `json:"skipped"`
	Remaining int       `json:"remaining"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}
