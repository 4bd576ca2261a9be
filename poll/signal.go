package poll

import "sync"

// Signal is a one-shot stop flag shared by every worker of a run. Once set
// it stays set; a new run needs a new Signal.
type Signal struct {
	once sync.Once
	done chan struct{}
}

// NewSignal returns an unset signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Set raises the signal. It reports whether this call raised it.
func (s *Signal) Set() bool {
	raised := false
	s.once.Do(func() {
		close(s.done)
		raised = true
	})
	return raised
}

// IsSet reports whether the signal has been raised.
func (s *Signal) IsSet() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed when the signal is raised.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}
