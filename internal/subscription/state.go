// Package subscription runs one interval loop per task kind. Each fire walks
// every registration of the kind, scopes its credential, scans, and delivers.
package subscription

import (
	"errors"
	"time"

	"shelfbot/internal/storage"
)

// ErrNoRegistrations is returned by Enable when the kind has no registrations.
var ErrNoRegistrations = errors.New("subscription: no registrations for task kind")

// State is the loop's two-state machine.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Transition names why a loop changed state.
type Transition string

const (
	TransitionEnable    Transition = "enable"
	TransitionReconcile Transition = "reconcile"
	TransitionDisable   Transition = "disable"
	TransitionDrained   Transition = "no-registrations"
)

// CycleInfo summarizes the most recent fire of a loop.
type CycleInfo struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Registrations int       `json:"registrations"`
	Items         int       `json:"items"`
	Failed        int       `json:"failed"`
}

type Status struct {
	Kind     storage.Kind  `json:"kind"`
	State    string        `json:"state"`
	Interval time.Duration `json:"interval"`
	Last     CycleInfo     `json:"last_cycle"`
}

// StateEvent is the payload of subscription.state bus events.
type StateEvent struct {
	Kind       storage.Kind `json:"kind"`
	From       string       `json:"from"`
	To         string       `json:"to"`
	Transition Transition   `json:"transition"`
}
