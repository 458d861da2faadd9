package notebook

import (
	"fmt"
	"strings"

	"github.com/jotbook/jot/pkg/models"
)

// Truncation cutoffs for prompt context. They are fixed so the serialized
// size grows predictably with cell count and repeated builds over the same
// document are byte-identical.
const (
	contextSourceCutoff = 400
	contextOutputCutoff = 200
)

// BuildContext serializes the current notebook state into a bounded textual
// summary for inclusion in the next model prompt: cell index, type,
// truncated source, truncated latest output, and the current selection.
func BuildContext(notebookID string, cells []*models.Cell, selectedCellID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Notebook %s with %d cell(s):\n", notebookID, len(cells))

	for i, cell := range cells {
		marker := " "
		if cell.ID == selectedCellID {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s [%d] %s (id=%s)", marker, i, cell.CellType, cell.ID)
		if cell.ExecutionCount != nil {
			fmt.Fprintf(&b, " [%d]", *cell.ExecutionCount)
		}
		b.WriteString("\n")

		source := truncate(cell.Source, contextSourceCutoff)
		if source != "" {
			b.WriteString(indent(source, "    "))
			b.WriteString("\n")
		}

		if out := cell.LatestOutput(); out != nil {
			text := truncate(out.Plain(), contextOutputCutoff)
			if text != "" {
				fmt.Fprintf(&b, "    -> %s\n", strings.ReplaceAll(text, "\n", " "))
			}
		}
	}

	if selectedCellID == "" {
		b.WriteString("No cell is selected.\n")
	}
	return b.String()
}

func truncate(s string, cutoff int) string {
	s = strings.TrimRight(s, "\n")
	if len(s) <= cutoff {
		return s
	}
	return s[:cutoff] + "…"
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
