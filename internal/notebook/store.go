// Package notebook implements the cell document: the ordered cell store,
// the per-cell execution state machine, and the prompt context builder.
package notebook

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jotbook/jot/pkg/models"
)

var (
	// ErrCellNotFound is returned when an operation targets an unknown cell id.
	ErrCellNotFound = errors.New("cell not found")

	// ErrCellRunning is returned when a structural operation is rejected
	// because the target cell is currently executing.
	ErrCellRunning = errors.New("cell is running")

	// ErrBoundary is returned for reorders that would move a cell past the
	// ends of the document. Callers treat it as a no-op.
	ErrBoundary = errors.New("cell already at boundary")
)

// Store is the ordered collection of cells forming one notebook. It owns
// cell identity, ordering, and content.
//
// The store is mutated only from the turn handling a user or dispatcher
// action; the mutex exists so concurrent readers (context builder, elapsed
// polling) always observe a consistent list.
type Store struct {
	mu    sync.RWMutex
	id    string
	cells []*models.Cell
}

// NewStore creates an empty notebook document. An empty id gets a fresh uuid.
func NewStore(id string) *Store {
	if id == "" {
		id = uuid.NewString()
	}
	return &Store{id: id}
}

// ID returns the notebook identifier.
func (s *Store) ID() string { return s.id }

// Len returns the number of cells.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells)
}

// AddCell inserts a new cell and returns a copy of it. position == nil or
// out of range appends at the end.
func (s *Store) AddCell(cellType models.CellType, source string, position *int) *models.Cell {
	cell := &models.Cell{
		ID:       uuid.NewString(),
		CellType: cellType,
		Source:   source,
		State:    models.CellStateIdle,
		Outputs:  []models.Output{},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at := len(s.cells)
	if position != nil && *position >= 0 && *position < len(s.cells) {
		at = *position
	}
	s.cells = append(s.cells, nil)
	copy(s.cells[at+1:], s.cells[at:])
	s.cells[at] = cell

	return cell.Clone()
}

// Cell returns a copy of the cell with the given id.
func (s *Store) Cell(id string) (*models.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell := s.find(id)
	if cell == nil {
		return nil, ErrCellNotFound
	}
	return cell.Clone(), nil
}

// Cells returns a snapshot copy of all cells in document order.
func (s *Store) Cells() []*models.Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Cell, len(s.cells))
	for i, cell := range s.cells {
		out[i] = cell.Clone()
	}
	return out
}

// UpdateSource replaces a cell's source text.
func (s *Store) UpdateSource(id, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cell := s.find(id)
	if cell == nil {
		return ErrCellNotFound
	}
	cell.Source = source
	return nil
}

// DeleteCell removes a cell from the document. Deleting a running cell is
// allowed; the execution slot is released by the machine when the bridge
// stream ends.
func (s *Store) DeleteCell(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cell := range s.cells {
		if cell.ID == id {
			s.cells = append(s.cells[:i], s.cells[i+1:]...)
			return nil
		}
	}
	return ErrCellNotFound
}

// MoveUp swaps the cell with its predecessor. The first cell stays put and
// reports ErrBoundary. Execution state of both cells is untouched.
func (s *Store) MoveUp(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return ErrCellNotFound
	}
	if idx == 0 {
		return ErrBoundary
	}
	s.cells[idx-1], s.cells[idx] = s.cells[idx], s.cells[idx-1]
	return nil
}

// MoveDown swaps the cell with its successor. The last cell stays put and
// reports ErrBoundary.
func (s *Store) MoveDown(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return ErrCellNotFound
	}
	if idx == len(s.cells)-1 {
		return ErrBoundary
	}
	s.cells[idx], s.cells[idx+1] = s.cells[idx+1], s.cells[idx]
	return nil
}

// SplitCell divides a cell's source at the given byte offset. The original
// cell keeps the head and its outputs; a new cell of the same type holding
// the tail is inserted directly after it. Splitting a running cell is
// rejected so in-flight output has a stable destination.
func (s *Store) SplitCell(id string, offset int) (*models.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return nil, ErrCellNotFound
	}
	cell := s.cells[idx]
	if cell.IsExecuting {
		return nil, ErrCellRunning
	}
	if offset < 0 || offset > len(cell.Source) {
		return nil, fmt.Errorf("split offset %d out of range for cell %s", offset, id)
	}

	tail := &models.Cell{
		ID:       uuid.NewString(),
		CellType: cell.CellType,
		Source:   cell.Source[offset:],
		State:    models.CellStateIdle,
		Outputs:  []models.Output{},
	}
	cell.Source = cell.Source[:offset]

	s.cells = append(s.cells, nil)
	copy(s.cells[idx+2:], s.cells[idx+1:])
	s.cells[idx+1] = tail

	return tail.Clone(), nil
}

// SetCollapsed toggles the display flag. Collapsing never touches execution
// state or collected outputs.
func (s *Store) SetCollapsed(id string, collapsed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cell := s.find(id)
	if cell == nil {
		return ErrCellNotFound
	}
	cell.IsCollapsed = collapsed
	return nil
}

// Snapshot captures the document as a persistable notebook record.
func (s *Store) Snapshot(name string) *models.Notebook {
	return &models.Notebook{
		ID:    s.id,
		Name:  name,
		Cells: s.Cells(),
	}
}

// Restore replaces the document contents from a persisted notebook record.
// Execution flags are reset; a restored document never starts mid-run.
func (s *Store) Restore(nb *models.Notebook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = nb.ID
	s.cells = make([]*models.Cell, 0, len(nb.Cells))
	for _, cell := range nb.Cells {
		c := cell.Clone()
		c.IsExecuting = false
		if c.State == models.CellStateRunning || c.State == models.CellStateQueued {
			c.State = models.CellStateIdle
		}
		s.cells = append(s.cells, c)
	}
}

// find returns the live cell pointer; callers must hold the lock.
func (s *Store) find(id string) *models.Cell {
	for _, cell := range s.cells {
		if cell.ID == id {
			return cell
		}
	}
	return nil
}

func (s *Store) indexOf(id string) int {
	for i, cell := range s.cells {
		if cell.ID == id {
			return i
		}
	}
	return -1
}

// mutate runs fn against the live cell under the write lock. Used by the
// state machine to fold bridge events without copying.
func (s *Store) mutate(id string, fn func(*models.Cell)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cell := s.find(id)
	if cell == nil {
		return ErrCellNotFound
	}
	fn(cell)
	return nil
}
