package notebook

import (
	"strings"
	"testing"

	"github.com/jotbook/jot/pkg/models"
)

func TestBuildContextDeterministic(t *testing.T) {
	s := NewStore("nb")
	a := s.AddCell(models.CellTypeCode, "print(1)", nil)
	s.AddCell(models.CellTypeMarkdown, "# notes", nil)
	_ = s.mutate(a.ID, func(c *models.Cell) {
		n := 3
		c.ExecutionCount = &n
		c.Outputs = append(c.Outputs, models.StreamOutput("stdout", "1\n"))
	})

	first := BuildContext("nb", s.Cells(), a.ID)
	second := BuildContext("nb", s.Cells(), a.ID)
	if first != second {
		t.Fatal("repeated builds over the same document differ")
	}

	if !strings.Contains(first, "2 cell(s)") {
		t.Fatalf("missing cell count:\n%s", first)
	}
	if !strings.Contains(first, "* [0] code (id="+a.ID+")") {
		t.Fatalf("selection marker missing:\n%s", first)
	}
	if !strings.Contains(first, "[3]") {
		t.Fatalf("execution count missing:\n%s", first)
	}
	if !strings.Contains(first, "-> 1") {
		t.Fatalf("latest output missing:\n%s", first)
	}
}

func TestBuildContextStableAcrossMimeKeys(t *testing.T) {
	s := NewStore("nb")
	cell := s.AddCell(models.CellTypeCode, "plot()", nil)
	_ = s.mutate(cell.ID, func(c *models.Cell) {
		c.Outputs = append(c.Outputs, models.DisplayOutput(map[string]any{
			"image/png":     "...",
			"image/svg+xml": "...",
			"text/html":     "<img/>",
		}))
	})

	first := BuildContext("nb", s.Cells(), "")
	for i := 0; i < 20; i++ {
		if got := BuildContext("nb", s.Cells(), ""); got != first {
			t.Fatal("multi-mime display output renders differently between builds")
		}
	}
	if !strings.Contains(first, "[display data: image/png, image/svg+xml, text/html]") {
		t.Fatalf("mime keys not rendered in sorted order:\n%s", first)
	}
}

func TestBuildContextNoSelection(t *testing.T) {
	s := NewStore("nb")
	s.AddCell(models.CellTypeCode, "x", nil)
	out := BuildContext("nb", s.Cells(), "")
	if !strings.Contains(out, "No cell is selected.") {
		t.Fatalf("missing no-selection line:\n%s", out)
	}
}

func TestBuildContextTruncatesStably(t *testing.T) {
	s := NewStore("nb")
	long := strings.Repeat("x", contextSourceCutoff+100)
	cell := s.AddCell(models.CellTypeCode, long, nil)
	_ = s.mutate(cell.ID, func(c *models.Cell) {
		c.Outputs = append(c.Outputs, models.StreamOutput("stdout", strings.Repeat("y", contextOutputCutoff+50)))
	})

	out := BuildContext("nb", s.Cells(), "")
	if strings.Contains(out, long) {
		t.Fatal("source was not truncated")
	}
	if !strings.Contains(out, strings.Repeat("x", contextSourceCutoff)+"…") {
		t.Fatal("source cutoff is not the fixed length")
	}
	if !strings.Contains(out, strings.Repeat("y", contextOutputCutoff)+"…") {
		t.Fatal("output cutoff is not the fixed length")
	}
}
