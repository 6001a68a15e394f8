package repl

import "sync"

// SharedData is the sync status shared by every cloner taking part in one
// initial-sync attempt. The first failure recorded wins; once set it is never
// overwritten, and every cloner checks it before doing more work.
type SharedData struct {
	mu     sync.Mutex
	status error
}

// NewSharedData returns shared state with an OK status.
func NewSharedData() *SharedData {
	return &SharedData{}
}

// SetStatusIfOK records err as the attempt's failure unless a failure is
// already recorded. A nil err is a no-op.
func (s *SharedData) SetStatusIfOK(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		s.status = err
	}
}

// Status returns the recorded failure, or nil while the attempt is healthy.
func (s *SharedData) Status() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
