package notebook

import (
	"errors"
	"testing"

	"github.com/jotbook/jot/pkg/models"
)

func cellIDs(s *Store) []string {
	cells := s.Cells()
	ids := make([]string, len(cells))
	for i, c := range cells {
		ids[i] = c.ID
	}
	return ids
}

func TestAddCellPosition(t *testing.T) {
	s := NewStore("nb")
	first := s.AddCell(models.CellTypeCode, "a", nil)
	second := s.AddCell(models.CellTypeCode, "b", nil)

	pos := 1
	inserted := s.AddCell(models.CellTypeMarkdown, "c", &pos)

	want := []string{first.ID, inserted.ID, second.ID}
	got := cellIDs(s)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}

	// Out-of-range positions append.
	far := 99
	last := s.AddCell(models.CellTypeCode, "d", &far)
	got = cellIDs(s)
	if got[len(got)-1] != last.ID {
		t.Fatalf("out-of-range insert did not append: %v", got)
	}
}

func TestMoveUpFirstCellIsNoop(t *testing.T) {
	s := NewStore("nb")
	first := s.AddCell(models.CellTypeCode, "a", nil)
	s.AddCell(models.CellTypeCode, "b", nil)

	before := cellIDs(s)
	if err := s.MoveUp(first.ID); !errors.Is(err, ErrBoundary) {
		t.Fatalf("err = %v, want ErrBoundary", err)
	}
	after := cellIDs(s)
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("order changed: %v -> %v", before, after)
		}
	}
}

func TestMoveDownLastCellIsNoop(t *testing.T) {
	s := NewStore("nb")
	s.AddCell(models.CellTypeCode, "a", nil)
	last := s.AddCell(models.CellTypeCode, "b", nil)

	if err := s.MoveDown(last.ID); !errors.Is(err, ErrBoundary) {
		t.Fatalf("err = %v, want ErrBoundary", err)
	}
}

func TestMoveSwapsNeighbors(t *testing.T) {
	s := NewStore("nb")
	a := s.AddCell(models.CellTypeCode, "a", nil)
	b := s.AddCell(models.CellTypeCode, "b", nil)

	if err := s.MoveUp(b.ID); err != nil {
		t.Fatalf("move up: %v", err)
	}
	got := cellIDs(s)
	if got[0] != b.ID || got[1] != a.ID {
		t.Fatalf("order after move = %v", got)
	}
}

func TestSplitCell(t *testing.T) {
	s := NewStore("nb")
	cell := s.AddCell(models.CellTypeCode, "headtail", nil)
	_ = s.mutate(cell.ID, func(c *models.Cell) {
		c.Outputs = append(c.Outputs, models.StreamOutput("stdout", "old"))
	})

	tail, err := s.SplitCell(cell.ID, 4)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	head, _ := s.Cell(cell.ID)
	if head.Source != "head" || tail.Source != "tail" {
		t.Fatalf("sources = %q / %q", head.Source, tail.Source)
	}
	if len(head.Outputs) != 1 {
		t.Fatal("head lost its outputs")
	}
	if len(tail.Outputs) != 0 {
		t.Fatal("tail inherited outputs")
	}
	got := cellIDs(s)
	if got[0] != cell.ID || got[1] != tail.ID {
		t.Fatalf("tail not inserted directly after head: %v", got)
	}
}

func TestSplitRunningCellRejected(t *testing.T) {
	s := NewStore("nb")
	cell := s.AddCell(models.CellTypeCode, "abc", nil)
	_ = s.mutate(cell.ID, func(c *models.Cell) { c.IsExecuting = true })

	if _, err := s.SplitCell(cell.ID, 1); !errors.Is(err, ErrCellRunning) {
		t.Fatalf("err = %v, want ErrCellRunning", err)
	}
}

func TestSplitOffsetOutOfRange(t *testing.T) {
	s := NewStore("nb")
	cell := s.AddCell(models.CellTypeCode, "abc", nil)
	if _, err := s.SplitCell(cell.ID, 10); err == nil {
		t.Fatal("expected out-of-range offset to be rejected")
	}
}

func TestDeleteCell(t *testing.T) {
	s := NewStore("nb")
	cell := s.AddCell(models.CellTypeCode, "a", nil)

	if err := s.DeleteCell(cell.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteCell(cell.ID); !errors.Is(err, ErrCellNotFound) {
		t.Fatalf("second delete err = %v, want ErrCellNotFound", err)
	}
}

func TestCollapseKeepsOutputsQueryable(t *testing.T) {
	s := NewStore("nb")
	cell := s.AddCell(models.CellTypeCode, "a", nil)
	_ = s.mutate(cell.ID, func(c *models.Cell) {
		c.Outputs = append(c.Outputs, models.StreamOutput("stdout", "kept"))
	})

	if err := s.SetCollapsed(cell.ID, true); err != nil {
		t.Fatalf("collapse: %v", err)
	}
	got, _ := s.Cell(cell.ID)
	if !got.IsCollapsed {
		t.Fatal("cell not collapsed")
	}
	if len(got.Outputs) != 1 || got.Outputs[0].Text != "kept" {
		t.Fatalf("outputs after collapse = %+v", got.Outputs)
	}
}

func TestCellsReturnsCopies(t *testing.T) {
	s := NewStore("nb")
	cell := s.AddCell(models.CellTypeCode, "original", nil)

	copies := s.Cells()
	copies[0].Source = "mutated"

	got, _ := s.Cell(cell.ID)
	if got.Source != "original" {
		t.Fatal("mutating a snapshot leaked into the store")
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := NewStore("nb")
	cell := s.AddCell(models.CellTypeCode, "a", nil)
	_ = s.mutate(cell.ID, func(c *models.Cell) {
		c.State = models.CellStateRunning
		c.IsExecuting = true
	})

	nb := s.Snapshot("scratch")

	restored := NewStore("")
	restored.Restore(nb)
	got, err := restored.Cell(cell.ID)
	if err != nil {
		t.Fatalf("restored cell missing: %v", err)
	}
	if got.IsExecuting || got.State != models.CellStateIdle {
		t.Fatalf("restored cell kept execution state: %+v", got)
	}
	if restored.ID() != "nb" {
		t.Fatalf("restored id = %q", restored.ID())
	}
}
