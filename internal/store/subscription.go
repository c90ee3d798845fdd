package store

import "sync"

// Subscription handle for a live listener. Close is idempotent and does not
// block, so it may be called from inside the listener's own callback.
type Subscription struct {
	closeOnce  sync.Once
	finishOnce sync.Once
	cancel     func()
	closing    chan struct{}
	done       chan struct{}
}

func newSubscription(cancel func()) *Subscription {
	return &Subscription{
		cancel:  cancel,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Close stops delivery; nil-safe
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.closing)
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Closing is closed as soon as Close has been called
func (s *Subscription) Closing() <-chan struct{} {
	return s.closing
}

// Done is closed once no further callbacks will run
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether Close has been called
func (s *Subscription) Closed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *Subscription) finish() {
	s.finishOnce.Do(func() { close(s.done) })
}

// Combine merges handles; closing the result closes all of them and Done fires
// once every one has finished.
func Combine(subs ...*Subscription) *Subscription {
	c := newSubscription(func() {
		for _, s := range subs {
			s.Close()
		}
	})
	go func() {
		for _, s := range subs {
			if s != nil {
				<-s.Done()
			}
		}
		c.Close()
		c.finish()
	}()
	return c
}
