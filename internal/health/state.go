// Package health exposes process liveness and readiness over HTTP for
// orchestrators, and provides the matching probe used by the healthcheck
// command.
package health

import "sync/atomic"

// State holds the process health flags. Flags flip at runtime as the broker
// connection and subscriptions come and go, so reads are lock-free.
type State struct {
	live  atomic.Bool
	ready atomic.Bool
}

// NewState returns a State that is neither live nor ready.
func NewState() *State {
	return &State{}
}

// SetLive marks the process as started and not wedged.
func (s *State) SetLive(live bool) { s.live.Store(live) }

// SetReady marks the process as able to do useful work, which for this
// service means connected to the broker with subscriptions established.
func (s *State) SetReady(ready bool) { s.ready.Store(ready) }

// Live reports the liveness flag.
func (s *State) Live() bool { return s.live.Load() }

// Ready reports the readiness flag.
func (s *State) Ready() bool { return s.ready.Load() }
