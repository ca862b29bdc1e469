// Package coinjoin tracks the lifecycle of a coinjoin coordination
// session. The driver owns exactly one Session and the RPC surface
// delegates coinjoin_start/coinjoin_status to it; the actual
// output-merging protocol lives behind the Session interface and is out
// of scope here.
package coinjoin

import (
	"errors"
	"sync"
)

// State is a coinjoin session's lifecycle stage.
type State string

const (
	Idle        State = "idle"
	Negotiating State = "negotiating"
	Signing     State = "signing"
	Complete    State = "complete"
	Failed      State = "failed"
)

// Config is the caller-supplied parameters for starting a session.
type Config struct {
	Denomination uint64
	Participants int
}

// Status reports a session's current lifecycle state.
type Status struct {
	State State
	Err   string
}

// Session is the interface the RPC surface delegates to.
type Session interface {
	Start(cfg Config) error
	Status() Status
}

// memSession is a minimal in-memory Session: it tracks lifecycle
// transitions but performs no actual output merging.
type memSession struct {
	mu    sync.Mutex
	state State
	err   string
}

// NewSession returns a fresh, idle coinjoin session.
func NewSession() Session {
	return &memSession{state: Idle}
}

// Start begins a new negotiation. It fails if a session is already in
// progress or cfg is underspecified.
func (s *memSession) Start(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Negotiating || s.state == Signing {
		return errors.New("coinjoin: session already in progress")
	}
	if cfg.Participants < 2 {
		s.state = Failed
		s.err = "coinjoin: need at least 2 participants"
		return errors.New(s.err)
	}
	s.state = Negotiating
	s.err = ""
	return nil
}

// Status returns the session's current state.
func (s *memSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, Err: s.err}
}
