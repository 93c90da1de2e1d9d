// Package reactor implements the single-threaded event loop that owns all
// control-plane state. Every mutation of the plugin directory, every RPC
// handler and every registration timer runs as a task on one goroutine, so
// the code executed there needs no locks.
package reactor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned when posting to a loop that is no longer running.
var ErrStopped = errors.New("reactor: loop stopped")

// Loop is a FIFO task queue drained by a single goroutine inside Run.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake    chan struct{}
	fatal   chan error
	stopped chan struct{}
	running sync.Once
}

// New creates an idle loop. Tasks may be posted before Run is called.
func New() *Loop {
	return &Loop{
		wake:    make(chan struct{}, 1),
		fatal:   make(chan error, 1),
		stopped: make(chan struct{}),
	}
}

// Post enqueues fn to run on the loop goroutine. It never blocks.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrStopped
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Call runs fn on the loop and waits for it to finish. It must not be called
// from the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Fail stops the loop; Run returns err. Only the first failure is kept.
func (l *Loop) Fail(err error) {
	select {
	case l.fatal <- err:
	default:
	}
}

// Watch fails the loop with err once done is closed.
func (l *Loop) Watch(done <-chan struct{}, err error) {
	go func() {
		select {
		case <-done:
			l.Fail(err)
		case <-l.stopped:
		}
	}()
}

// Stopped is closed once Run has returned.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}

// Run drains tasks in order until ctx is cancelled (returns nil) or Fail is
// called (returns the failure). Pending tasks are dropped on exit.
func (l *Loop) Run(ctx context.Context) error {
	started := false
	l.running.Do(func() { started = true })
	if !started {
		return ErrStopped
	}
	defer l.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-l.fatal:
			return err
		case <-l.wake:
		}

		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			fn()

			select {
			case err := <-l.fatal:
				return err
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) stop() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	close(l.stopped)
}

// Timer is a one-shot callback delivered on the loop. Its methods must be
// called on the loop goroutine.
type Timer struct {
	t    *time.Timer
	done bool
}

// AfterFunc schedules fn to run on the loop after d. The returned timer must
// be created and stopped from the loop goroutine.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		_ = l.Post(func() {
			if tm.done {
				return
			}
			tm.done = true
			fn()
		})
	})
	return tm
}

// Stop cancels the timer. A wake-up that is already queued is discarded.
// It reports whether the timer was still pending.
func (t *Timer) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	t.t.Stop()
	return true
}
