package notebook

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jotbook/jot/internal/kernel"
	"github.com/jotbook/jot/internal/observability"
	"github.com/jotbook/jot/pkg/models"
)

var (
	// ErrNotConnected is returned when execution is requested while the
	// bridge reports no kernel connection.
	ErrNotConnected = errors.New("kernel not connected")

	// ErrAlreadyRunning is returned when the target cell is mid-execution.
	ErrAlreadyRunning = errors.New("cell is already running")

	// ErrSlotBusy is returned when another cell holds the execution slot.
	ErrSlotBusy = errors.New("another cell is running")

	// ErrNotCode is returned when a markdown cell is submitted for execution.
	ErrNotCode = errors.New("only code cells can be executed")
)

// interruptMarker is appended as the final output of an interrupted run.
const interruptMarker = "Execution interrupted"

// Machine drives the execution lifecycle of cells in one store against one
// kernel bridge.
//
// Lifecycle per cell: Idle -> Queued -> Running -> Completed | Errored |
// Interrupted -> Idle (ready for the next run). Markdown cells never leave
// Idle. A single execution slot is shared by all cells: at most one cell has
// IsExecuting set at any instant.
//
// The execution counter is notebook-global and strictly monotonic. It is
// assigned only when a run completes successfully and is never reused, even
// after the producing cell is deleted.
type Machine struct {
	store   *Store
	bridge  kernel.Bridge
	logger  *observability.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	runningID string
	cancelRun context.CancelFunc
	execCount int
}

// NewMachine wires a state machine over a store and a bridge.
func NewMachine(store *Store, bridge kernel.Bridge, logger *observability.Logger, metrics *observability.Metrics) *Machine {
	if logger == nil {
		logger = observability.Nop()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &Machine{store: store, bridge: bridge, logger: logger, metrics: metrics}
}

// Store returns the underlying cell store.
func (m *Machine) Store() *Store { return m.store }

// Running reports the id of the cell holding the execution slot, if any.
func (m *Machine) Running() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningID, m.runningID != ""
}

// ExecutionCount returns the last assigned execution number.
func (m *Machine) ExecutionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.execCount
}

// Execute runs one cell to completion, folding bridge output events into the
// cell in arrival order. It blocks until the run reaches a terminal state;
// callers wanting concurrency run it in a goroutine.
//
// Rejections (already running, slot busy, markdown cell, bridge
// disconnected) are recoverable conditions reported as typed errors without
// touching any cell state.
func (m *Machine) Execute(ctx context.Context, cellID string) error {
	cell, err := m.store.Cell(cellID)
	if err != nil {
		return err
	}
	if cell.CellType != models.CellTypeCode {
		return ErrNotCode
	}
	if m.bridge.Status() != kernel.StatusConnected {
		return ErrNotConnected
	}

	runCtx, cancel, err := m.claimSlot(ctx, cellID)
	if err != nil {
		m.metrics.CellExecutions.WithLabelValues("rejected").Inc()
		return err
	}
	defer cancel()

	start := time.Now()
	_ = m.store.mutate(cellID, func(c *models.Cell) {
		c.Outputs = c.Outputs[:0]
		c.State = models.CellStateQueued
		c.IsExecuting = true
		c.ExecutionStartTime = &start
		c.ExecutionDuration = 0
	})

	events, err := m.bridge.Execute(runCtx, cellID, cell.Source)
	if err != nil {
		// Transport failure before the kernel accepted anything: the run
		// never happened, so the cell goes straight back to Idle.
		m.releaseSlot(cellID)
		_ = m.store.mutate(cellID, func(c *models.Cell) {
			c.State = models.CellStateIdle
			c.IsExecuting = false
		})
		m.metrics.CellExecutions.WithLabelValues("rejected").Inc()
		return err
	}

	_ = m.store.mutate(cellID, func(c *models.Cell) {
		c.State = models.CellStateRunning
	})
	m.logger.Debug(ctx, "cell execution started", "cell_id", cellID)

	sawError := false
	done := kernel.OutputEvent{}
	haveDone := false
	for ev := range events {
		switch ev.Type {
		case kernel.EventStream:
			m.appendOutput(cellID, models.StreamOutput(ev.StreamName, ev.Text))
		case kernel.EventDisplay:
			m.appendOutput(cellID, models.DisplayOutput(ev.Data))
		case kernel.EventError:
			sawError = true
			m.appendOutput(cellID, models.ErrorOutput(ev.Ename, ev.Evalue, ev.Traceback))
		case kernel.EventDone:
			done = ev
			haveDone = true
		}
	}

	if !m.releaseSlot(cellID) {
		// Interrupt() already released the slot and finalized the cell.
		return nil
	}

	outcome := models.CellStateCompleted
	switch {
	case haveDone && done.Interrupted:
		outcome = models.CellStateInterrupted
	case sawError || (haveDone && !done.Success):
		outcome = models.CellStateErrored
	case !haveDone:
		// Stream ended without a terminal event (connection dropped or
		// context cancelled mid-run).
		outcome = models.CellStateInterrupted
	}

	duration := time.Since(start)
	var assigned *int
	if outcome == models.CellStateCompleted {
		n := m.nextExecCount()
		assigned = &n
	}

	_ = m.store.mutate(cellID, func(c *models.Cell) {
		c.IsExecuting = false
		c.ExecutionDuration = duration
		c.State = outcome
		if assigned != nil {
			c.ExecutionCount = assigned
		}
		if outcome == models.CellStateInterrupted {
			c.Outputs = append(c.Outputs, models.StreamOutput("stderr", interruptMarker))
		}
	})

	m.metrics.CellExecutions.WithLabelValues(string(outcome)).Inc()
	m.metrics.CellExecutionDuration.Observe(duration.Seconds())
	m.logger.Info(ctx, "cell execution finished",
		"cell_id", cellID, "outcome", string(outcome), "duration_ms", duration.Milliseconds())
	return nil
}

// Interrupt cancels the in-flight execution, if any. With nothing running it
// is a no-op. The interrupted cell gets a marker appended as its final
// output and the execution slot is released immediately so another cell may
// run without waiting for the kernel's acknowledgement.
func (m *Machine) Interrupt(ctx context.Context) error {
	m.mu.Lock()
	cellID := m.runningID
	cancel := m.cancelRun
	m.runningID = ""
	m.cancelRun = nil
	m.mu.Unlock()

	if cellID == "" {
		return nil
	}

	if err := m.bridge.Interrupt(ctx); err != nil {
		m.logger.Warn(ctx, "kernel interrupt failed", "cell_id", cellID, "error", err)
	}

	var start time.Time
	_ = m.store.mutate(cellID, func(c *models.Cell) {
		if c.ExecutionStartTime != nil {
			start = *c.ExecutionStartTime
		}
		c.IsExecuting = false
		c.State = models.CellStateInterrupted
		if !start.IsZero() {
			c.ExecutionDuration = time.Since(start)
		}
		c.Outputs = append(c.Outputs, models.StreamOutput("stderr", interruptMarker))
	})

	if cancel != nil {
		cancel()
	}
	m.metrics.CellExecutions.WithLabelValues(string(models.CellStateInterrupted)).Inc()
	m.logger.Info(ctx, "cell execution interrupted", "cell_id", cellID)
	return nil
}

// Elapsed returns the live elapsed time of a cell's current or last run.
// Polling this never blocks state transitions.
func (m *Machine) Elapsed(cellID string) (time.Duration, error) {
	cell, err := m.store.Cell(cellID)
	if err != nil {
		return 0, err
	}
	return cell.Elapsed(time.Now()), nil
}

func (m *Machine) claimSlot(ctx context.Context, cellID string) (context.Context, context.CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runningID == cellID {
		return nil, nil, ErrAlreadyRunning
	}
	if m.runningID != "" {
		return nil, nil, ErrSlotBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.runningID = cellID
	m.cancelRun = cancel
	return runCtx, cancel, nil
}

// releaseSlot frees the slot if cellID still holds it. Returns false when
// the slot was already released, which means Interrupt finalized the run.
func (m *Machine) releaseSlot(cellID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runningID != cellID {
		return false
	}
	m.runningID = ""
	m.cancelRun = nil
	return true
}

func (m *Machine) nextExecCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execCount++
	return m.execCount
}

func (m *Machine) appendOutput(cellID string, out models.Output) {
	m.mu.Lock()
	owns := m.runningID == cellID
	m.mu.Unlock()
	if !owns {
		// Interrupt already finalized the run with its marker; events
		// still buffered in the bridge channel are dropped so the marker
		// stays the final output.
		return
	}
	// A deleted cell mid-run simply drops its remaining output.
	_ = m.store.mutate(cellID, func(c *models.Cell) {
		c.Outputs = append(c.Outputs, out)
	})
}
