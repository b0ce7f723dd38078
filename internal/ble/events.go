package ble

import (
	"sync"
	"time"
)

// EventType classifies a Client event.
type EventType int

const (
	EventConnected EventType = iota + 1
	EventConnectFailed
	EventDisconnected
	EventServiceUnsupported
	EventDataReceived
	EventCommandAcknowledged
	EventCommandTimedOut
	EventCommandFailed
	EventNoConnection
	EventBatchDone
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	case EventServiceUnsupported:
		return "service_unsupported"
	case EventDataReceived:
		return "data_received"
	case EventCommandAcknowledged:
		return "command_acknowledged"
	case EventCommandTimedOut:
		return "command_timed_out"
	case EventCommandFailed:
		return "command_failed"
	case EventNoConnection:
		return "no_connection"
	case EventBatchDone:
		return "batch_done"
	default:
		return "unknown"
	}
}

// Event is one observable state transition of a Client.
type Event struct {
	Type    EventType
	Time    time.Time
	Address string // device address, for connection events
	Command string // the command concerned, for command events
	Line    string // the response line, for EventDataReceived
	Err     error  // the failure, for failure events

	seq uint64
}

// Status returns the outcome code of the event.
func (e Event) Status() Status {
	return StatusOf(e.Err)
}

type listener struct {
	fn func(Event)
}

// Notifier broadcasts events to registered listeners. Events are delivered
// on one goroutine in the order they were published, each exactly once,
// to the listeners registered when the event is delivered. Listeners may
// register and unregister at any time, including from inside a callback.
type Notifier struct {
	mu        sync.RWMutex
	listeners []*listener

	exec *executor
}

// NewNotifier starts a notifier. Call Close to stop its goroutine.
func NewNotifier() *Notifier {
	return &Notifier{exec: newExecutor()}
}

// Register adds fn to the listeners and returns a function removing it.
// The returned function is idempotent.
func (n *Notifier) Register(fn func(Event)) (unregister func()) {
	l := &listener{fn: fn}
	n.mu.Lock()
	// Copy on write: a delivery in progress keeps iterating its snapshot.
	next := make([]*listener, len(n.listeners), len(n.listeners)+1)
	copy(next, n.listeners)
	n.listeners = append(next, l)
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(l) })
	}
}

func (n *Notifier) remove(l *listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	next := make([]*listener, 0, len(n.listeners))
	for _, cur := range n.listeners {
		if cur != l {
			next = append(next, cur)
		}
	}
	n.listeners = next
}

// Len returns the current listener count.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Publish queues e for delivery and returns immediately.
func (n *Notifier) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	n.exec.post(func() { n.deliver(e) })
}

func (n *Notifier) deliver(e Event) {
	n.mu.RLock()
	snapshot := n.listeners
	n.mu.RUnlock()

	for _, l := range snapshot {
		if !n.registered(l) {
			// Unregistered by an earlier listener during this delivery.
			continue
		}
		l.fn(e)
	}
}

func (n *Notifier) registered(l *listener) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, cur := range n.listeners {
		if cur == l {
			return true
		}
	}
	return false
}

// Close delivers the events already published and stops the notifier.
// Events published afterwards are dropped. Close must not be called from
// a listener.
func (n *Notifier) Close() {
	n.exec.close()
}
