package pipeline

import "context"

// slots caps the number of worker processes running at once.
type slots struct {
	ch chan struct{}
}

func newSlots(n int) *slots {
	if n < 1 {
		n = 1
	}
	return &slots{ch: make(chan struct{}, n)}
}

func (s *slots) acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slots) release() {
	<-s.ch
}

// inUse reports how many slots are taken.
func (s *slots) inUse() int {
	return len(s.ch)
}
