package store

import "sync"

// Sub is a reusable Subscription implementation for adapters. Fail and
// Unsubscribe are idempotent; the stop hook runs once.
type Sub struct {
	errCh chan error
	once  sync.Once
	stop  func()
}

func NewSub(stop func()) *Sub {
	return &Sub{errCh: make(chan error, 1), stop: stop}
}

func (s *Sub) Err() <-chan error {
	return s.errCh
}

// Fail reports a broken channel to the subscriber and releases resources.
func (s *Sub) Fail(err error) {
	s.once.Do(func() {
		s.errCh <- err
		if s.stop != nil {
			s.stop()
		}
	})
}

func (s *Sub) Unsubscribe() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}
