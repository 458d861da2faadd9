package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jotbook/jot/internal/observability"
)

// ErrExecutionInFlight is returned when Execute is called while a previous
// execution has not reached its terminal event.
var ErrExecutionInFlight = errors.New("an execution is already in flight")

// ErrNotDialed is returned for operations on a bridge with no connection.
var ErrNotDialed = errors.New("bridge is not connected")

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 45 * time.Second
	wsMaxFrameBytes  = 4 << 20
	eventChanBacklog = 64
)

// WSConfig configures the websocket bridge.
type WSConfig struct {
	// URL is the kernel gateway websocket endpoint.
	URL string

	// KernelID selects the kernel session on the gateway.
	KernelID string

	// PingInterval is the keepalive cadence. Zero disables pings.
	PingInterval time.Duration
}

// frame is the wire format spoken with the kernel gateway. Outgoing types:
// execute, interrupt, ping. Incoming: execution_start, output,
// execution_complete, interrupted, error, pong.
type frame struct {
	Type           string         `json:"type"`
	KernelID       string         `json:"kernel_id,omitempty"`
	CellID         string         `json:"cell_id,omitempty"`
	Code           string         `json:"code,omitempty"`
	OutputType     string         `json:"output_type,omitempty"`
	Name           string         `json:"name,omitempty"`
	Text           string         `json:"text,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Ename          string         `json:"ename,omitempty"`
	Evalue         string         `json:"evalue,omitempty"`
	Traceback      []string       `json:"traceback,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
	Status         string         `json:"status,omitempty"`
	DurationMs     int64          `json:"duration_ms,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// pendingRun tracks the single in-flight execution.
type pendingRun struct {
	cellID string
	ctx    context.Context
	events chan OutputEvent
}

// WSBridge implements Bridge over a websocket connection to the kernel
// gateway. A single reader goroutine relays frames, so output events are
// delivered in arrival order.
type WSBridge struct {
	cfg    WSConfig
	logger *observability.Logger

	writeMu sync.Mutex // serializes writes to the connection

	mu           sync.Mutex
	conn         *websocket.Conn
	pending      *pendingRun
	interruptAck chan struct{}
	closed       bool
}

// NewWSBridge creates an unconnected bridge. Call Dial before Execute.
func NewWSBridge(cfg WSConfig, logger *observability.Logger) *WSBridge {
	if logger == nil {
		logger = observability.Nop()
	}
	return &WSBridge{cfg: cfg, logger: logger}
}

// Dial connects to the kernel gateway and starts the reader and keepalive
// loops.
func (b *WSBridge) Dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial kernel gateway: %w", err)
	}
	conn.SetReadLimit(wsMaxFrameBytes)

	b.mu.Lock()
	b.conn = conn
	b.closed = false
	b.mu.Unlock()

	go b.readLoop(conn)
	if b.cfg.PingInterval > 0 {
		go b.pingLoop(conn)
	}
	b.logger.Info(ctx, "kernel bridge connected", "url", b.cfg.URL, "kernel_id", b.cfg.KernelID)
	return nil
}

// Status reports the connection state: busy while an execution is in
// flight, disconnected when the socket is down.
func (b *WSBridge) Status() ConnStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.conn == nil || b.closed:
		return StatusDisconnected
	case b.pending != nil:
		return StatusBusy
	default:
		return StatusConnected
	}
}

// Execute submits source for execution and returns the ordered event
// stream. The stream ends with one EventDone and is then closed. Cancelling
// ctx abandons the stream; remaining frames for the run are dropped.
func (b *WSBridge) Execute(ctx context.Context, cellID, source string) (<-chan OutputEvent, error) {
	b.mu.Lock()
	if b.conn == nil || b.closed {
		b.mu.Unlock()
		return nil, ErrNotDialed
	}
	if b.pending != nil {
		b.mu.Unlock()
		return nil, ErrExecutionInFlight
	}
	run := &pendingRun{
		cellID: cellID,
		ctx:    ctx,
		events: make(chan OutputEvent, eventChanBacklog),
	}
	b.pending = run
	b.mu.Unlock()

	err := b.writeFrame(frame{
		Type:     "execute",
		KernelID: b.cfg.KernelID,
		CellID:   cellID,
		Code:     source,
	})
	if err != nil {
		b.clearPending(run)
		return nil, fmt.Errorf("send execute: %w", err)
	}
	return run.events, nil
}

// Interrupt asks the gateway to cancel the in-flight execution and waits
// for the acknowledgement frame or ctx expiry.
func (b *WSBridge) Interrupt(ctx context.Context) error {
	b.mu.Lock()
	if b.conn == nil || b.closed {
		b.mu.Unlock()
		return ErrNotDialed
	}
	ack := make(chan struct{})
	b.interruptAck = ack
	b.mu.Unlock()

	if err := b.writeFrame(frame{Type: "interrupt", KernelID: b.cfg.KernelID}); err != nil {
		return fmt.Errorf("send interrupt: %w", err)
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the connection. Any in-flight stream is terminated.
func (b *WSBridge) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.closed = true
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (b *WSBridge) readLoop(conn *websocket.Conn) {
	defer b.teardown(conn)
	for {
		if wsPongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			b.logger.Warn(context.Background(), "discarding malformed kernel frame", "error", err)
			continue
		}
		b.handleFrame(f)
	}
}

func (b *WSBridge) handleFrame(f frame) {
	switch f.Type {
	case "execution_start", "pong":
		// Informational only.
	case "output":
		b.deliver(f.CellID, outputEventFromFrame(f))
	case "execution_complete":
		ev := OutputEvent{
			Type:        EventDone,
			Success:     f.Status == "success",
			Interrupted: f.Status == "cancelled",
		}
		b.finishRun(f.CellID, ev)
	case "interrupted":
		b.mu.Lock()
		ack := b.interruptAck
		b.interruptAck = nil
		b.mu.Unlock()
		if ack != nil {
			close(ack)
		}
	case "error":
		// Gateway-level failure for the in-flight run (e.g. kernel not
		// found). Surface it as an error event followed by the terminal.
		b.deliver(f.CellID, OutputEvent{
			Type:   EventError,
			Ename:  "KernelError",
			Evalue: f.Message,
		})
		b.finishRun(f.CellID, OutputEvent{Type: EventDone, Success: false})
	default:
		b.logger.Debug(context.Background(), "ignoring unknown kernel frame", "frame_type", f.Type)
	}
}

func outputEventFromFrame(f frame) OutputEvent {
	switch f.OutputType {
	case "stream":
		return OutputEvent{Type: EventStream, StreamName: f.Name, Text: f.Text}
	case "execute_result", "display_data":
		return OutputEvent{Type: EventDisplay, Data: f.Data}
	case "error":
		return OutputEvent{Type: EventError, Ename: f.Ename, Evalue: f.Evalue, Traceback: f.Traceback}
	default:
		return OutputEvent{Type: EventStream, StreamName: "stdout", Text: f.Text}
	}
}

// deliver routes an event to the pending run, dropping it if the consumer
// abandoned the stream.
func (b *WSBridge) deliver(cellID string, ev OutputEvent) {
	b.mu.Lock()
	run := b.pending
	b.mu.Unlock()
	if run == nil || (cellID != "" && run.cellID != cellID) {
		return
	}
	select {
	case run.events <- ev:
	case <-run.ctx.Done():
	}
}

func (b *WSBridge) finishRun(cellID string, done OutputEvent) {
	b.mu.Lock()
	run := b.pending
	if run == nil || (cellID != "" && run.cellID != cellID) {
		b.mu.Unlock()
		return
	}
	b.pending = nil
	b.mu.Unlock()

	select {
	case run.events <- done:
	case <-run.ctx.Done():
	}
	close(run.events)
}

func (b *WSBridge) clearPending(run *pendingRun) {
	b.mu.Lock()
	if b.pending == run {
		b.pending = nil
	}
	b.mu.Unlock()
}

// teardown closes any in-flight stream when the socket drops.
func (b *WSBridge) teardown(conn *websocket.Conn) {
	_ = conn.Close()
	b.mu.Lock()
	run := b.pending
	b.pending = nil
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
	if run != nil {
		close(run.events)
	}
}

func (b *WSBridge) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		b.mu.Lock()
		stale := b.conn != conn || b.closed
		b.mu.Unlock()
		if stale {
			return
		}
		if err := b.writeFrame(frame{Type: "ping"}); err != nil {
			return
		}
	}
}

func (b *WSBridge) writeFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotDialed
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
