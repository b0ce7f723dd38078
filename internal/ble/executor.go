package ble

import "sync"

// executor runs posted functions one at a time, in post order, on a
// single goroutine. post never blocks, so it is safe to call from
// platform callbacks and from functions already running on the executor.
type executor struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newExecutor() *executor {
	e := &executor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

// post schedules fn. It reports false if the executor is closed.
func (e *executor) post(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.pending = append(e.pending, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs fn on the executor and waits for it. It must not be called
// from the executor goroutine.
func (e *executor) call(fn func()) bool {
	ran := make(chan struct{})
	if !e.post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-e.done:
		// close drains everything posted before it, so fn ran unless
		// it was posted after close.
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// close stops accepting work, runs what is already pending and waits for
// the goroutine to exit. It must not be called from the executor goroutine.
func (e *executor) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	<-e.done
}

func (e *executor) run() {
	defer close(e.done)
	for {
		<-e.wake
		for {
			e.mu.Lock()
			if len(e.pending) == 0 {
				closed := e.closed
				e.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := e.pending[0]
			e.pending[0] = nil
			e.pending = e.pending[1:]
			e.mu.Unlock()

			fn()
		}
	}
}
