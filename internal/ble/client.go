package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gion86/SmartLamp/internal/ble/protocol"
)

// ClientOptions configures the BLE client behavior.
type ClientOptions struct {
	FrameSize      int           // max bytes per characteristic write
	SendTimeout    time.Duration // deadline for one frame write to complete
	RecvTimeout    time.Duration // deadline for the acknowledgment after the last frame
	QueueSize      int           // max pending commands
	RxBuffer       int           // receive buffer for partial response lines, in bytes
	ConnectTimeout time.Duration // per attempt, used by the reconnection loop
	AutoReconnect  bool          // reconnect after an unexpected link loss
	ReconnectMax   int           // max reconnect backoff in seconds
}

// DefaultClientOptions returns sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		FrameSize:      protocol.DefaultFrameSize,
		SendTimeout:    time.Second,
		RecvTimeout:    time.Second,
		QueueSize:      64,
		RxBuffer:       protocol.DefaultRxBuffer,
		ConnectTimeout: 10 * time.Second,
		ReconnectMax:   30,
	}
}

func (o ClientOptions) withDefaults() ClientOptions {
	def := DefaultClientOptions()
	if o.FrameSize <= 0 {
		o.FrameSize = def.FrameSize
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = def.SendTimeout
	}
	if o.RecvTimeout <= 0 {
		o.RecvTimeout = def.RecvTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = def.QueueSize
	}
	if o.RxBuffer <= 0 {
		o.RxBuffer = def.RxBuffer
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = def.ReconnectMax
	}
	return o
}

// ConnState describes the current link status.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type sendPhase int

const (
	phaseIdle sendPhase = iota
	phaseSending
	phaseAwaitingAck
)

var errNotDisconnected = errors.New("ble: connection already in progress")

// Client manages the BLE connection to a SmartLamp and the queue of
// commands sent to it.
//
// All connection and queue state is owned by one executor goroutine.
// Platform callbacks, timers and API calls only post work to it, so at
// most one frame write and one acknowledgment wait are ever outstanding.
// Outcomes are reported as events to listeners registered with
// RegisterListener.
type Client struct {
	adapter  Adapter
	opts     ClientOptions
	notifier *Notifier
	exec     *executor

	// Everything below is owned by exec.
	state           ConnState
	address         string
	conn            Connection
	txChar          Characteristic
	connGen         uint64 // bumped per connection attempt and teardown
	reconnectCancel context.CancelFunc
	reconnectID     uint64
	dialCancel      context.CancelFunc // cancels the attempt in progress

	queue    []string // queue[0] is in flight while phase != phaseIdle
	phase    sendPhase
	current  string
	frames   [][]byte
	frameIdx int
	earlyAck bool // OK seen before the last frame's write completed
	// writing is the id of the frame write still running on the link, even
	// after its send step timed out; 0 when none. No other write starts
	// until it returns.
	writing  uint64
	writeID  uint64
	deferred bool // a batch start is waiting for writing to clear
	timer    *time.Timer
	gen      uint64 // bumped whenever a send or ack wait resolves
	rx       *protocol.LineReader
	seq      uint64 // last published event
}

// NewClient creates a BLE client using adapter. The client starts
// disconnected; call Initialize and Connect. Close releases it.
func NewClient(adapter Adapter, opts ClientOptions) *Client {
	opts = opts.withDefaults()
	return &Client{
		adapter:  adapter,
		opts:     opts,
		notifier: NewNotifier(),
		exec:     newExecutor(),
		rx:       protocol.NewLineReader(opts.RxBuffer),
	}
}

// Initialize powers on the BLE adapter.
func (c *Client) Initialize() error {
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	return nil
}

// RegisterListener adds fn to the event listeners. Listeners run in
// registration order on a goroutine of their own and must not block.
//
// Calling the returned function unregisters fn; there is no separate
// unregister method. It is idempotent and may be called from inside a
// listener, after which fn receives no further events.
func (c *Client) RegisterListener(fn func(Event)) (unregister func()) {
	return c.notifier.Register(fn)
}

// Connect establishes the BLE connection to the lamp at address and
// resolves its serial characteristic. The outcome is reported as
// EventConnected, EventConnectFailed or EventServiceUnsupported and also
// returned. Connect blocks only the caller. Disconnect and Close cancel an
// attempt in progress.
func (c *Client) Connect(ctx context.Context, address string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		gen uint64
		err error
	)
	if !c.exec.call(func() {
		if c.state != StateDisconnected {
			err = fmt.Errorf("ble: connect to %s: %w (%s)", address, errNotDisconnected, c.state)
			return
		}
		c.connGen++
		gen = c.connGen
		c.state = StateConnecting
		c.address = address
		c.dialCancel = cancel
	}) {
		return ErrClosed
	}
	if err != nil {
		return err
	}
	return c.dial(ctx, gen, address)
}

func (c *Client) dial(ctx context.Context, gen uint64, address string) error {
	conn, err := c.adapter.Connect(ctx, address)
	if err != nil {
		err = fmt.Errorf("ble: connect to %s: %w", address, err)
		c.exec.post(func() { c.connectFailed(gen, EventConnectFailed, err) })
		return err
	}

	txChar, err := conn.DiscoverCharacteristic(SerialServiceUUID, SerialCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		err = fmt.Errorf("ble: discover serial characteristic: %w", err)
		typ := EventConnectFailed
		if errors.Is(err, ErrServiceUnsupported) {
			typ = EventServiceUnsupported
		}
		c.exec.post(func() { c.connectFailed(gen, typ, err) })
		return err
	}

	conn.OnDisconnect(func() {
		c.exec.post(func() { c.linkLost(gen) })
	})
	if err := txChar.Subscribe(func(data []byte) {
		buf := make([]byte, len(data))
		copy(buf, data)
		c.exec.post(func() { c.received(gen, buf) })
	}); err != nil {
		_ = conn.Disconnect()
		err = fmt.Errorf("ble: subscribe to notifications: %w", err)
		c.exec.post(func() { c.connectFailed(gen, EventConnectFailed, err) })
		return err
	}

	var ok bool
	if !c.exec.call(func() { ok = c.connected(gen, conn, txChar) }) {
		_ = conn.Disconnect()
		return ErrClosed
	}
	if !ok {
		// Disconnect was called while the attempt was in progress.
		_ = conn.Disconnect()
		return fmt.Errorf("ble: connect to %s: cancelled by disconnect", address)
	}
	return nil
}

func (c *Client) connected(gen uint64, conn Connection, txChar Characteristic) bool {
	if gen != c.connGen || c.state != StateConnecting {
		return false
	}
	c.dialCancel = nil
	c.conn = conn
	c.txChar = txChar
	c.state = StateConnected
	c.rx.Reset()
	c.stopReconnect()
	slog.Info("[BLE] connected", "address", c.address)
	c.publish(Event{Type: EventConnected, Address: c.address})
	return true
}

func (c *Client) connectFailed(gen uint64, typ EventType, err error) {
	if gen != c.connGen || c.state != StateConnecting {
		return
	}
	c.dialCancel = nil
	c.state = StateDisconnected
	slog.Warn("[BLE] connect failed", "address", c.address, "error", err)
	c.publish(Event{Type: typ, Address: c.address, Err: err})
}

// linkLost handles a drop reported by the platform.
func (c *Client) linkLost(gen uint64) {
	if gen != c.connGen || c.state == StateDisconnected {
		return
	}
	address := c.address
	slog.Warn("[BLE] disconnected", "address", address)
	c.teardown()
	c.publish(Event{Type: EventDisconnected, Address: address})

	if c.opts.AutoReconnect {
		c.startReconnect(address)
	}
}

// Disconnect drops the connection or cancels a pending attempt. Queued
// commands are discarded and any armed timer is cancelled; listeners see
// a single EventDisconnected.
func (c *Client) Disconnect() error {
	var conn Connection
	if !c.exec.call(func() {
		c.stopReconnect()
		if c.state == StateDisconnected {
			return
		}
		address := c.address
		conn = c.teardown()
		c.publish(Event{Type: EventDisconnected, Address: address})
	}) {
		return ErrClosed
	}
	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			return fmt.Errorf("ble: disconnect: %w", err)
		}
	}
	return nil
}

// teardown resets the link and the queue and returns the connection that
// was active, if any. Callbacks from the old connection are ignored after
// it.
func (c *Client) teardown() Connection {
	if n := len(c.queue); n > 0 {
		slog.Warn("[BLE] dropping queued commands", "count", n)
	}
	c.resolve()
	c.clearBatch()
	c.rx.Reset()
	// A write still blocked on the old link cannot reach a new one.
	c.writing = 0
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}

	conn := c.conn
	c.conn = nil
	c.txChar = nil
	c.state = StateDisconnected
	c.connGen++
	return conn
}

// Enqueue appends cmd to the pending queue. It does not start sending;
// commands added while a batch is in flight are sent after the ones
// already queued.
func (c *Client) Enqueue(cmd string) error {
	if cmd == "" {
		return ErrEmptyCommand
	}
	var err error
	if !c.exec.call(func() {
		if len(c.queue) >= c.opts.QueueSize {
			err = ErrQueueFull
			return
		}
		c.queue = append(c.queue, cmd)
	}) {
		return ErrClosed
	}
	return err
}

// SendAll starts sending the queued commands and returns immediately.
// Each acknowledged command is reported with EventCommandAcknowledged and
// a drained queue with EventBatchDone. A write or acknowledgment failure
// aborts the batch: the remaining commands are dropped, not retried. When
// the link is down the queue is cleared and EventNoConnection reported.
func (c *Client) SendAll() {
	c.exec.post(c.startBatch)
}

// Send enqueues cmds, starts sending and waits until the queue drains or
// the batch fails. If ctx ends first, Send returns ctx.Err() and the
// commands stay queued.
func (c *Client) Send(ctx context.Context, cmds ...string) error {
	if len(cmds) == 0 {
		return nil
	}
	for _, cmd := range cmds {
		if cmd == "" {
			return ErrEmptyCommand
		}
	}

	// Events up to after belong to earlier batches.
	var after atomic.Uint64
	after.Store(math.MaxUint64)
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	unregister := c.notifier.Register(func(e Event) {
		if e.seq <= after.Load() {
			return
		}
		switch e.Type {
		case EventBatchDone:
			finish(nil)
		case EventCommandTimedOut, EventCommandFailed, EventNoConnection:
			finish(e.Err)
		case EventDisconnected:
			finish(ErrNoConnection)
		}
	})
	defer unregister()

	var err error
	if !c.exec.call(func() {
		if len(c.queue)+len(cmds) > c.opts.QueueSize {
			err = ErrQueueFull
			return
		}
		after.Store(c.seq)
		c.queue = append(c.queue, cmds...)
		c.startBatch()
	}) {
		return ErrClosed
	}
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) startBatch() {
	if c.phase != phaseIdle {
		return
	}
	if c.state != StateConnected || c.txChar == nil {
		if n := len(c.queue); n > 0 {
			slog.Warn("[BLE] no connection, dropping queued commands", "count", n)
		}
		c.clearBatch()
		c.publish(Event{Type: EventNoConnection, Err: ErrNoConnection})
		return
	}
	if len(c.queue) == 0 {
		return
	}
	if c.writing != 0 {
		// A timed out write has not returned yet.
		slog.Debug("[BLE] waiting for previous write before sending", "queued", len(c.queue))
		c.deferred = true
		return
	}
	c.dispatchHead()
}

func (c *Client) dispatchHead() {
	c.current = c.queue[0]
	c.frames = protocol.Frames([]byte(c.current), c.opts.FrameSize)
	c.frameIdx = 0
	c.earlyAck = false
	slog.Debug("[BLE] sending command", "command", strings.TrimSpace(c.current), "frames", len(c.frames))
	c.writeFrame()
}

func (c *Client) writeFrame() {
	c.phase = phaseSending
	gen := c.arm(c.opts.SendTimeout, c.writeTimedOut)
	c.writeID++
	id := c.writeID
	c.writing = id
	frame, txChar := c.frames[c.frameIdx], c.txChar
	go func() {
		err := txChar.Write(frame)
		c.exec.post(func() { c.writeDone(gen, id, err) })
	}()
}

func (c *Client) writeDone(gen, id uint64, err error) {
	if id == c.writing {
		c.writing = 0
	}
	if gen != c.gen || c.phase != phaseSending {
		// A late completion of an aborted step releases a waiting batch.
		if c.writing == 0 && c.deferred {
			c.deferred = false
			c.startBatch()
		}
		return
	}
	c.stopTimer()
	if err != nil {
		c.abort(EventCommandFailed, fmt.Errorf("ble: write frame %d/%d: %w", c.frameIdx+1, len(c.frames), err))
		return
	}

	c.frameIdx++
	if c.frameIdx < len(c.frames) {
		c.writeFrame()
		return
	}
	if c.earlyAck {
		c.acknowledge()
		return
	}
	c.phase = phaseAwaitingAck
	c.arm(c.opts.RecvTimeout, c.ackTimedOut)
}

func (c *Client) writeTimedOut(gen uint64) {
	if gen != c.gen || c.phase != phaseSending {
		return
	}
	c.abort(EventCommandTimedOut, ErrWriteTimeout)
}

func (c *Client) ackTimedOut(gen uint64) {
	if gen != c.gen || c.phase != phaseAwaitingAck {
		return
	}
	c.abort(EventCommandTimedOut, ErrAckTimeout)
}

func (c *Client) received(gen uint64, data []byte) {
	if gen != c.connGen || c.state != StateConnected {
		return
	}
	lines, err := c.rx.Accumulate(data)
	if err != nil {
		slog.Warn("[BLE] dropping response line", "error", err)
	}
	for _, line := range lines {
		c.handleLine(line)
	}
}

func (c *Client) handleLine(line string) {
	slog.Debug("[BLE] received", "line", line)
	c.publish(Event{Type: EventDataReceived, Line: line})
	if !protocol.IsAck(line) {
		return
	}
	switch c.phase {
	case phaseAwaitingAck:
		c.acknowledge()
	case phaseSending:
		// The lamp can answer before the platform reports the last
		// write complete.
		if c.frameIdx == len(c.frames)-1 {
			c.earlyAck = true
		}
	}
}

func (c *Client) acknowledge() {
	c.resolve()
	cmd := c.current
	c.queue[0] = ""
	c.queue = c.queue[1:]
	c.current = ""
	c.frames = nil
	c.earlyAck = false
	c.phase = phaseIdle
	c.publish(Event{Type: EventCommandAcknowledged, Command: cmd})

	if len(c.queue) == 0 {
		c.queue = nil
		c.publish(Event{Type: EventBatchDone})
		return
	}
	c.dispatchHead()
}

// abort ends the batch on the current command's failure.
func (c *Client) abort(typ EventType, err error) {
	cmd := c.current
	dropped := len(c.queue) - 1
	c.resolve()
	c.clearBatch()
	slog.Error("[BLE] batch aborted", "error", err, "command", strings.TrimSpace(cmd), "dropped", dropped)
	c.publish(Event{Type: typ, Command: cmd, Err: &CommandError{Command: cmd, Err: err}})
}

func (c *Client) clearBatch() {
	c.queue = nil
	c.deferred = false
	c.phase = phaseIdle
	c.current = ""
	c.frames = nil
	c.frameIdx = 0
	c.earlyAck = false
}

// arm starts a timer for the current send step and returns the step's
// generation. fn runs on the executor unless the step resolves first.
func (c *Client) arm(d time.Duration, fn func(gen uint64)) uint64 {
	c.stopTimer()
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(d, func() {
		c.exec.post(func() { fn(gen) })
	})
	return gen
}

// resolve cancels the armed timer and invalidates pending completions.
func (c *Client) resolve() {
	c.stopTimer()
	c.gen++
}

func (c *Client) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) publish(e Event) {
	c.seq++
	e.seq = c.seq
	c.notifier.Publish(e)
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	state := StateDisconnected
	c.exec.call(func() { state = c.state })
	return state
}

// Address returns the address of the current or last connected device.
func (c *Client) Address() string {
	var address string
	c.exec.call(func() { address = c.address })
	return address
}

// QueueLen returns the number of queued commands, including the one in flight.
func (c *Client) QueueLen() int {
	var n int
	c.exec.call(func() { n = len(c.queue) })
	return n
}

// Reconnecting reports whether the reconnection loop is running.
func (c *Client) Reconnecting() bool {
	var running bool
	c.exec.call(func() { running = c.reconnectCancel != nil })
	return running
}

// Close gracefully disconnects the BLE client and stops its goroutines.
// Events already raised are delivered before Close returns. Close must
// not be called from an event listener.
func (c *Client) Close() error {
	var (
		conn   Connection
		queued int
	)
	if !c.exec.call(func() {
		c.stopReconnect()
		queued = len(c.queue)
		if c.state != StateDisconnected {
			address := c.address
			conn = c.teardown()
			c.publish(Event{Type: EventDisconnected, Address: address})
		}
		c.stopTimer()
	}) {
		return nil
	}
	if queued > 0 {
		slog.Warn("[BLE] closing with unsent commands", "count", queued)
	}

	c.exec.close()
	if conn != nil {
		_ = conn.Disconnect()
	}
	c.notifier.Close()
	return nil
}

// backoffDelay returns the reconnection delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	max := time.Duration(maxSeconds) * time.Second
	// 1<<30 seconds exceeds any sensible cap; larger shifts overflow.
	if attempt >= 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}

func (c *Client) startReconnect(address string) {
	if c.reconnectCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.reconnectCancel = cancel
	c.reconnectID++
	id := c.reconnectID
	go func() {
		c.reconnectLoop(ctx, address)
		c.exec.post(func() {
			if c.reconnectID == id {
				c.stopReconnect()
			}
		})
	}()
}

func (c *Client) stopReconnect() {
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
}

// reconnectLoop attempts to reconnect with exponential backoff. The queue
// cleared by the disconnect is not restored.
func (c *Client) reconnectLoop(ctx context.Context, address string) {
	for attempt := 0; ; attempt++ {
		// On the first attempt, try immediately; subsequent attempts use backoff.
		if attempt > 0 {
			delay := backoffDelay(attempt-1, c.opts.ReconnectMax)
			slog.Info("[BLE] reconnect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			return
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
		err := c.Connect(attemptCtx, address)
		cancel()
		switch {
		case err == nil:
			slog.Info("[BLE] reconnected", "address", address)
			return
		case errors.Is(err, ErrClosed), errors.Is(err, errNotDisconnected):
			return
		}
		slog.Warn("[BLE] reconnect failed", "error", err, "attempt", attempt+1)
	}
}
