// Package models defines the shared data types for the Jot notebook service.
//
// These types form the wire format exchanged between the notebook core, the
// AI assistant, the execution bridge, and the persistence layer. They carry
// JSON tags so the same structs serialize to the front end and to storage.
package models

import (
	"time"
)

// CellType identifies what kind of content a cell holds.
type CellType string

const (
	CellTypeCode     CellType = "code"
	CellTypeMarkdown CellType = "markdown"
)

// CellState is the execution lifecycle state of a cell.
type CellState string

const (
	CellStateIdle        CellState = "idle"
	CellStateQueued      CellState = "queued"
	CellStateRunning     CellState = "running"
	CellStateCompleted   CellState = "completed"
	CellStateErrored     CellState = "errored"
	CellStateInterrupted CellState = "interrupted"
)

// CellTag is a free-form label attached to a cell.
type CellTag string

// Cell is one unit of notebook content, either executable code or rendered
// markdown.
//
// The ID is assigned at creation and stays stable across reorders and edits.
// ExecutionCount is set only when an execution completes successfully and is
// drawn from a notebook-global monotonic counter, so values are never reused
// even after the cell that produced them is deleted.
type Cell struct {
	ID                 string               `json:"id"`
	CellType           CellType             `json:"cell_type"`
	Source             string               `json:"source"`
	Outputs            []Output             `json:"outputs"`
	ExecutionCount     *int                 `json:"execution_count,omitempty"`
	State              CellState            `json:"state"`
	IsExecuting        bool                 `json:"is_executing"`
	ExecutionStartTime *time.Time           `json:"execution_start_time,omitempty"`
	ExecutionDuration  time.Duration        `json:"execution_duration,omitempty"`
	IsCollapsed        bool                 `json:"is_collapsed"`
	Tags               map[CellTag]struct{} `json:"-"`
}

// Elapsed returns how long the current execution has been running, or the
// recorded duration once it has finished. Purely cosmetic; callers poll it
// for a live readout.
func (c *Cell) Elapsed(now time.Time) time.Duration {
	if c.IsExecuting && c.ExecutionStartTime != nil {
		return now.Sub(*c.ExecutionStartTime)
	}
	return c.ExecutionDuration
}

// LatestOutput returns the last output appended during the most recent
// execution, or nil if the cell has produced none.
func (c *Cell) LatestOutput() *Output {
	if len(c.Outputs) == 0 {
		return nil
	}
	return &c.Outputs[len(c.Outputs)-1]
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (c *Cell) Clone() *Cell {
	out := *c
	if c.ExecutionStartTime != nil {
		t := *c.ExecutionStartTime
		out.ExecutionStartTime = &t
	}
	if c.ExecutionCount != nil {
		n := *c.ExecutionCount
		out.ExecutionCount = &n
	}
	out.Outputs = make([]Output, len(c.Outputs))
	copy(out.Outputs, c.Outputs)
	if c.Tags != nil {
		out.Tags = make(map[CellTag]struct{}, len(c.Tags))
		for tag := range c.Tags {
			out.Tags[tag] = struct{}{}
		}
	}
	return &out
}
