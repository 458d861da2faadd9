// Package kernel defines the execution bridge to the remote code kernel and
// a websocket client implementation of it.
package kernel

import (
	"context"
)

// ConnStatus reports the bridge connection state.
type ConnStatus string

const (
	StatusConnected    ConnStatus = "connected"
	StatusDisconnected ConnStatus = "disconnected"
	StatusBusy         ConnStatus = "busy"
)

// EventType discriminates bridge output events.
type EventType string

const (
	// EventStream carries incremental stdout/stderr text.
	EventStream EventType = "stream"

	// EventDisplay carries mime-typed display data, including kernel
	// execute_result payloads.
	EventDisplay EventType = "display"

	// EventError carries a structured runtime error from the executed code.
	EventError EventType = "error"

	// EventDone terminates the stream for one execution.
	EventDone EventType = "done"
)

// OutputEvent is one event in the output stream of a single execution.
// Events must be applied in arrival order; the channel returned by Execute
// preserves it.
type OutputEvent struct {
	Type EventType

	// Stream fields.
	StreamName string // stdout or stderr
	Text       string

	// Display fields.
	Data map[string]any

	// Error fields.
	Ename     string
	Evalue    string
	Traceback []string

	// Done fields. Success is false when the execution raised an error or
	// was interrupted before completing.
	Success     bool
	Interrupted bool
}

// Bridge is the interface to a remote execution kernel. The kernel itself is
// an external collaborator; Jot only consumes this surface.
//
// Execute starts one execution and returns a channel of output events ending
// with a single EventDone, after which the channel is closed. Cancelling ctx
// abandons the stream. Interrupt asks the kernel to cancel the in-flight
// execution and returns once the kernel acknowledges.
type Bridge interface {
	Execute(ctx context.Context, cellID, source string) (<-chan OutputEvent, error)
	Interrupt(ctx context.Context) error
	Status() ConnStatus
}
