package assistant

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jotbook/jot/internal/files"
	"github.com/jotbook/jot/internal/notebook"
	"github.com/jotbook/jot/pkg/models"
)

// fakeExecutor records execution requests in place of a live machine. When
// kernelEvalue is set, each run deposits an error output on the cell the
// way a failed kernel execution would.
type fakeExecutor struct {
	store        *notebook.Store
	execCalls    []string
	rejectErr    error
	kernelEvalue string
}

func (f *fakeExecutor) Execute(ctx context.Context, cellID string) error {
	f.execCalls = append(f.execCalls, cellID)
	if f.rejectErr != nil {
		return f.rejectErr
	}
	if f.kernelEvalue != "" {
		nb := f.store.Snapshot("")
		for _, c := range nb.Cells {
			if c.ID == cellID {
				c.Outputs = append(c.Outputs, models.ErrorOutput("ZeroDivisionError", f.kernelEvalue, nil))
				c.State = models.CellStateErrored
			}
		}
		f.store.Restore(nb)
	}
	return nil
}

// fakeFiles is an in-memory FileService.
type fakeFiles struct {
	content map[string]string
}

func newFakeFiles() *fakeFiles { return &fakeFiles{content: map[string]string{}} }

func (f *fakeFiles) ReadFile(ctx context.Context, path string) (string, error) {
	c, ok := f.content[path]
	if !ok {
		return "", files.ErrFileNotFound
	}
	return c, nil
}

func (f *fakeFiles) WriteFile(ctx context.Context, path, content string) error {
	f.content[path] = content
	return nil
}

func (f *fakeFiles) ListDirectory(ctx context.Context, path string) ([]files.Entry, error) {
	var out []files.Entry
	for p := range f.content {
		out = append(out, files.Entry{Name: p, Path: p})
	}
	return out, nil
}

func (f *fakeFiles) DeleteFile(ctx context.Context, path string) error {
	if _, ok := f.content[path]; !ok {
		return files.ErrFileNotFound
	}
	delete(f.content, path)
	return nil
}

func (f *fakeFiles) CreateDirectory(ctx context.Context, path string) error { return nil }

func newTestDispatcher(t *testing.T) (*Dispatcher, *notebook.Store, *fakeExecutor, *fakeFiles) {
	t.Helper()
	store := notebook.NewStore("nb")
	exec := &fakeExecutor{store: store}
	fs := newFakeFiles()
	return NewDispatcher(store, exec, fs, nil, nil), store, exec, fs
}

func action(tool string, params map[string]any) models.Action {
	raw, _ := json.Marshal(params)
	return models.Action{Tool: models.ToolName(tool), Params: raw}
}

func TestDispatchResultPerActionInOrder(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	actions := []models.Action{
		action("createCell", map[string]any{"source": "a"}),
		action("bogusTool", nil),
		action("listCells", nil),
		action("deleteCell", map[string]any{}), // missing cellId
	}
	results := d.Dispatch(context.Background(), actions)

	if len(results) != len(actions) {
		t.Fatalf("results = %d, want %d", len(results), len(actions))
	}
	for i := range actions {
		if results[i].Tool != actions[i].Tool {
			t.Fatalf("result %d is for %s, want %s", i, results[i].Tool, actions[i].Tool)
		}
	}
	if !results[0].Success || results[1].Success || !results[2].Success || results[3].Success {
		t.Fatalf("success pattern wrong: %+v", results)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	results := d.Dispatch(context.Background(), []models.Action{action("teleport", nil)})
	if results[0].Success {
		t.Fatal("unknown tool reported success")
	}
	if !strings.Contains(results[0].Message, "teleport") {
		t.Fatalf("message %q does not identify the tool", results[0].Message)
	}
}

func TestDispatchMissingParameter(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	results := d.Dispatch(context.Background(), []models.Action{
		action("editCell", map[string]any{"source": "x"}),
	})
	if results[0].Success {
		t.Fatal("missing parameter reported success")
	}
	if !strings.Contains(results[0].Message, "cellId") {
		t.Fatalf("message %q does not name the missing parameter", results[0].Message)
	}
}

func TestCreateCellScenario(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t)

	reply := Parse("```json\n" +
		`{"message":"Done","actions":[{"tool":"createCell","params":{"source":"print(1)"}}]}` +
		"\n```")
	results := d.Dispatch(context.Background(), reply.Actions)

	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results = %+v", results)
	}
	cells := store.Cells()
	if len(cells) != 1 {
		t.Fatalf("cells = %d, want 1", len(cells))
	}
	if cells[0].Source != "print(1)" || cells[0].CellType != models.CellTypeCode {
		t.Fatalf("cell = %+v", cells[0])
	}
}

func TestDeleteCellIdempotence(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t)
	cell := store.AddCell(models.CellTypeCode, "x", nil)

	del := action("deleteCell", map[string]any{"cellId": cell.ID})
	first := d.Dispatch(context.Background(), []models.Action{del})
	second := d.Dispatch(context.Background(), []models.Action{del})

	if !first[0].Success {
		t.Fatalf("first delete failed: %s", first[0].Message)
	}
	if second[0].Success {
		t.Fatal("second delete reported success")
	}
	if !strings.Contains(second[0].Message, "not found") {
		t.Fatalf("second delete message = %q", second[0].Message)
	}
}

func TestCellNotFoundTargets(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	for _, tool := range []string{"editCell", "readCellOutput"} {
		params := map[string]any{"cellId": "missing"}
		if tool == "editCell" {
			params["source"] = "x"
		}
		results := d.Dispatch(context.Background(), []models.Action{action(tool, params)})
		if results[0].Success {
			t.Fatalf("%s on missing cell succeeded", tool)
		}
		if !strings.Contains(results[0].Message, "not found") {
			t.Fatalf("%s message = %q", tool, results[0].Message)
		}
	}
}

func TestExecuteCodeCreatesAndRunsCell(t *testing.T) {
	d, store, exec, _ := newTestDispatcher(t)

	results := d.Dispatch(context.Background(), []models.Action{
		action("executeCode", map[string]any{"code": "print(2)"}),
	})
	if !results[0].Success {
		t.Fatalf("executeCode failed: %s", results[0].Message)
	}
	if len(exec.execCalls) != 1 {
		t.Fatalf("executor called %d times", len(exec.execCalls))
	}
	cells := store.Cells()
	if len(cells) != 1 || cells[0].Source != "print(2)" {
		t.Fatalf("cells = %+v", cells)
	}
	data, _ := results[0].Data.(map[string]any)
	if data["cellId"] != cells[0].ID {
		t.Fatalf("result data = %+v", results[0].Data)
	}
}

func TestExecuteCodeRuntimeErrorStillSucceeds(t *testing.T) {
	d, store, exec, _ := newTestDispatcher(t)
	exec.kernelEvalue = "division by zero"

	results := d.Dispatch(context.Background(), []models.Action{
		action("executeCode", map[string]any{"code": "1/0"}),
	})
	if !results[0].Success {
		t.Fatalf("runtime error should not fail the action: %s", results[0].Message)
	}
	if results[0].Message != "code executed with error: division by zero" {
		t.Fatalf("message = %q", results[0].Message)
	}
	cells := store.Cells()
	if len(cells) != 1 {
		t.Fatalf("cells = %d, want 1", len(cells))
	}
	out := cells[0].LatestOutput()
	if out == nil || !out.IsError() {
		t.Fatalf("cell output = %+v, want kernel error", out)
	}
}

func TestExecuteCodeRejectedByMachine(t *testing.T) {
	d, store, exec, _ := newTestDispatcher(t)
	exec.rejectErr = notebook.ErrNotConnected

	results := d.Dispatch(context.Background(), []models.Action{
		action("executeCode", map[string]any{"code": "x"}),
	})
	if results[0].Success {
		t.Fatal("rejected execution reported success")
	}
	// The cell with the submitted code stays in the document so the user
	// can run it manually once the kernel is back.
	cells := store.Cells()
	if len(cells) != 1 || cells[0].Source != "x" {
		t.Fatalf("cells = %+v, want the created cell kept", cells)
	}
}

func TestFileTools(t *testing.T) {
	d, _, _, fs := newTestDispatcher(t)

	results := d.Dispatch(context.Background(), []models.Action{
		action("writeFile", map[string]any{"path": "a.txt", "content": "hello"}),
		action("readFile", map[string]any{"path": "a.txt"}),
		action("listDirectory", map[string]any{"path": "."}),
		action("deleteFile", map[string]any{"path": "a.txt"}),
		action("readFile", map[string]any{"path": "a.txt"}),
	})

	if !results[0].Success || !results[1].Success || !results[2].Success || !results[3].Success {
		t.Fatalf("results = %+v", results)
	}
	data, _ := results[1].Data.(map[string]any)
	if data["content"] != "hello" {
		t.Fatalf("read data = %+v", results[1].Data)
	}
	if results[4].Success || !strings.Contains(results[4].Message, "not found") {
		t.Fatalf("read after delete = %+v", results[4])
	}
	if len(fs.content) != 0 {
		t.Fatalf("content left behind: %+v", fs.content)
	}
}
