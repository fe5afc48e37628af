package downloader

import "sync"

// progressSlot conflates progress values: a value offered before the previous
// one was taken replaces it. A single goroutine offers and closes.
type progressSlot struct {
	mu    sync.Mutex
	value float64
	set   bool
	ready chan struct{}
}

func newProgressSlot() *progressSlot {
	return &progressSlot{ready: make(chan struct{}, 1)}
}

func (s *progressSlot) offer(v float64) {
	s.mu.Lock()
	s.value = v
	s.set = true
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *progressSlot) take() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.value, s.set
	s.set = false

	return v, ok
}

func (s *progressSlot) close() {
	close(s.ready)
}

// drain applies every value that is still the latest when apply gets to it,
// until the slot is closed and empty.
func (s *progressSlot) drain(apply func(float64)) {
	for range s.ready {
		if v, ok := s.take(); ok {
			apply(v)
		}
	}

	if v, ok := s.take(); ok {
		apply(v)
	}
}
