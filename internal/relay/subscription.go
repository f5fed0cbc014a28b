package relay

import "sync"

// subscription delivers values to one callback from its own goroutine.
// The mailbox holds only the latest value: every value is a full state, so
// an older undelivered one can be dropped.
type subscription[T any] struct {
	fn      func(T)
	detach  func(*subscription[T])
	mailbox chan T
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscription[T any](fn func(T), detach func(*subscription[T])) *subscription[T] {
	s := &subscription[T]{
		fn:      fn,
		detach:  detach,
		mailbox: make(chan T, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscription[T]) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case v := <-s.mailbox:
			select {
			case <-s.stop:
				return
			default:
			}
			s.fn(v)
		}
	}
}

// offer replaces any undelivered value with v. Callers serialize offers.
func (s *subscription[T]) offer(v T) {
	for {
		select {
		case s.mailbox <- v:
			return
		default:
		}
		select {
		case <-s.mailbox:
		default:
		}
	}
}

// Unsubscribe detaches the subscription and waits for an in-flight callback
// to return. Safe to call more than once.
func (s *subscription[T]) Unsubscribe() error {
	s.once.Do(func() {
		s.detach(s)
		close(s.stop)
		<-s.done
	})
	return nil
}
