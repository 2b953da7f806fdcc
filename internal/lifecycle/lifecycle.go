// Package lifecycle tracks process start and the shutdown drain.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// State is shared between the health handler and the shutdown path.
type State struct {
	started      time.Time
	shuttingDown atomic.Bool
}

func New() *State {
	return &State{started: time.Now()}
}

// BeginShutdown marks the process as draining. Call when SIGTERM/SIGINT is received.
// Health returns 503 with status shutting-down from then on.
func (s *State) BeginShutdown() {
	s.shuttingDown.Store(true)
}

// ShuttingDown returns true if the process is draining and should not receive new traffic.
func (s *State) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Uptime is the time since New.
func (s *State) Uptime() time.Duration {
	return time.Since(s.started)
}
