package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jotbook/jot/internal/files"
	"github.com/jotbook/jot/internal/notebook"
	"github.com/jotbook/jot/internal/observability"
	"github.com/jotbook/jot/pkg/models"
)

// Executor runs a code cell to completion. Implemented by notebook.Machine.
type Executor interface {
	Execute(ctx context.Context, cellID string) error
}

// FileService is the dispatcher's view of the workspace file layer.
// Implemented by files.Service.
type FileService interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	ListDirectory(ctx context.Context, path string) ([]files.Entry, error)
	DeleteFile(ctx context.Context, path string) error
	CreateDirectory(ctx context.Context, path string) error
}

// Dispatcher executes parsed actions against the notebook and the file
// service. Actions run strictly in order, one at a time, because later
// actions may reference cells created by earlier ones. The dispatcher holds
// no state of its own beyond its collaborators.
type Dispatcher struct {
	store   *notebook.Store
	exec    Executor
	fs      FileService
	logger  *observability.Logger
	metrics *observability.Metrics
}

func NewDispatcher(store *notebook.Store, exec Executor, fs FileService, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = observability.Nop()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &Dispatcher{store: store, exec: exec, fs: fs, logger: logger, metrics: metrics}
}

// Dispatch runs every action and returns one result per action, same order.
// A failed action never aborts its siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []models.Action) []models.ActionResult {
	results := make([]models.ActionResult, 0, len(actions))
	for _, action := range actions {
		result := d.run(ctx, action)
		status := "success"
		if !result.Success {
			status = "error"
		}
		d.metrics.AssistantActions.WithLabelValues(string(action.Tool), status).Inc()
		d.logger.Debug(ctx, "action dispatched",
			"tool", action.Tool,
			"success", result.Success,
		)
		results = append(results, result)
	}
	return results
}

func (d *Dispatcher) run(ctx context.Context, action models.Action) models.ActionResult {
	switch action.Tool {
	case models.ToolExecuteCode:
		return d.executeCode(ctx, action)
	case models.ToolCreateCell:
		return d.createCell(action)
	case models.ToolEditCell:
		return d.editCell(action)
	case models.ToolDeleteCell:
		return d.deleteCell(action)
	case models.ToolListCells:
		return d.listCells(action)
	case models.ToolReadCellOutput:
		return d.readCellOutput(action)
	case models.ToolReadFile:
		return d.readFile(ctx, action)
	case models.ToolWriteFile:
		return d.writeFile(ctx, action)
	case models.ToolListDirectory:
		return d.listDirectory(ctx, action)
	case models.ToolDeleteFile:
		return d.deleteFile(ctx, action)
	case models.ToolCreateDirectory:
		return d.createDirectory(ctx, action)
	default:
		return failure(action.Tool, fmt.Sprintf("unrecognized tool %q", action.Tool))
	}
}

// executeCode appends a new code cell holding the given code and runs it.
// A kernel-side runtime error still counts as a successful action: the code
// was submitted and ran, and its failure lives in the cell's error output.
func (d *Dispatcher) executeCode(ctx context.Context, action models.Action) models.ActionResult {
	var params models.ExecuteCodeParams
	if err := models.DecodeParams(action, &params); err != nil {
		return failure(action.Tool, err.Error())
	}

	cell := d.store.AddCell(models.CellTypeCode, params.Code, nil)
	if err := d.exec.Execute(ctx, cell.ID); err != nil {
		return failure(action.Tool, fmt.Sprintf("execution rejected: %v", err))
	}

	msg := "code executed"
	if current, err := d.store.Cell(cell.ID); err == nil {
		if out := current.LatestOutput(); out != nil && out.IsError() {
			msg = fmt.Sprintf("code executed with error: %s", out.Evalue)
		}
	}
	return success(action.Tool, msg, map[string]any{"cellId": cell.ID})
}

func (d *Dispatcher) createCell(action models.Action) models.ActionResult {
	var params models.CreateCellParams
	if err := models.DecodeParams(action, &params); err != nil {
		return failure(action.Tool, err.Error())
	}

	cellType := models.CellTypeCode
	if params.CellType != "" {
		cellType = params.CellType
	}
	cell := d.store.AddCell(cellType, params.Source, params.Position)
	return success(action.Tool, fmt.Sprintf("created %s cell", cellType), map[string]any{"cellId": cell.ID})
}

func (d *Dispatcher) editCell(action models.Action) models.ActionResult {
	var params models.EditCellParams
	if err := models.DecodeParams(action, &params); err != nil {
		return failure(action.Tool, err.Error())
	}
	if err := d.store.UpdateSource(params.CellID, params.Source); err != nil {
		return cellFailure(action.Tool, params.CellID, err)
	}
	return success(action.Tool, "cell updated", nil)
}

func (d *Dispatcher) deleteCell(action models.Action) models.ActionResult {
	var params models.DeleteCellParams
	if err := models.DecodeParams(action, &params); err != nil {
		return failure(action.Tool, err.Error())
	}
	if err := d.store.DeleteCell(params.CellID); err != nil {
		return cellFailure(action.Tool, params.CellID, err)
	}
	return success(action.Tool, "cell deleted", nil)
}

func (d *Dispatcher) listCells(action models.Action) models.ActionResult {
	var params models.ListCellsParams
	if err := models.DecodeParams(action, &params); err != nil {
		return failure(action.Tool, err.Error())
	}

	cells := d.store.Cells()
	summaries := make([]map[string]any, 0, len(cells))
	for i, cell := range cells {
		summary := map[string]any{
			"index":    i,
			"cellId":   cell.ID,
			"cellType": string(cell.CellType),
			"source":   cell.Source,
			"state":    string(cell.State),
		}
		if cell.ExecutionCount != nil {
			summary["executionCount"] = *cell.ExecutionCount
		}
		summaries = append(summaries, summary)
	}
	return success(action.Tool, fmt.Sprintf("%d cells", len(cells)), map[string]any{"cells": summaries})
}

func (d *Dispatcher) readCellOutput(action models.Action) models.ActionResult {
	var params models.ReadCellOutputParams
	if err := models.DecodeParams(action, &params); err != nil {
		return failure(action.Tool, err.Error())
	}

	cell, err := d.store.Cell(params.CellID)
	if err != nil {
		return cellFailure(action.Tool, params.CellID, err)
	}

	var b strings.Builder
	for _, out := range cell.Outputs {
		b.WriteString(out.Plain())
	}
	return success(action.Tool, "output read", map[string]any{
		"cellId": cell.ID,
		"output": b.String(),
	})
}

func (d *Dispatcher) readFile(ctx context.Context, action models.Action) models.ActionResult {
	var params models.ReadFileParams
	if err := models.DecodeParams(action, &params); err != nil {
		return failure(action.Tool, err.Error())
	}
	content, err := d.fs.ReadFile(ctx, params.Path)
	if err != nil {
		return fileFailure(action.Tool, params.Path, err)
	}
	return success(action.Tool, fmt.Sprintf("read %s", params.Path), map[string]any{"content": content})
}

func (d *Dispatcher) writeFile(ctx context.Context, action models.Action) models.ActionResult {
	var params models.WriteFileParams
	if err := models.DecodeParams(action, &params); err != nil {
		return failure(action.Tool, err.Error())
	}
	if err := d.fs.WriteFile(ctx, params.Path, params.Content); err != nil {
		return fileFailure(action.Tool, params.Path, err)
	}
	return success(action.Tool, fmt.Sprintf("wrote %s", params.Path), nil)
}

func (d *Dispatcher) listDirectory(ctx context.Context, action models.Action) models.ActionResult {
	var params models.ListDirectoryParams
	if err := models.DecodeParams(action, &params); err != nil {
		return failure(action.Tool, err.Error())
	}

	entries, err := d.fs.ListDirectory(ctx, params.Path)
	if err != nil {
		return fileFailure(action.Tool, params.Path, err)
	}
	listed := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		listed = append(listed, map[string]any{
			"name":  e.Name,
			"path":  e.Path,
			"isDir": e.IsDir,
			"size":  e.Size,
		})
	}
	return success(action.Tool, fmt.Sprintf("%d entries", len(entries)), map[string]any{"entries": listed})
}

func (d *Dispatcher) deleteFile(ctx context.Context, action models.Action) models.ActionResult {
	var params models.DeleteFileParams
	if err := models.DecodeParams(action, &params); err != nil {
		return failure(action.Tool, err.Error())
	}
	if err := d.fs.DeleteFile(ctx, params.Path); err != nil {
		return fileFailure(action.Tool, params.Path, err)
	}
	return success(action.Tool, fmt.Sprintf("deleted %s", params.Path), nil)
}

func (d *Dispatcher) createDirectory(ctx context.Context, action models.Action) models.ActionResult {
	var params models.CreateDirectoryParams
	if err := models.DecodeParams(action, &params); err != nil {
		return failure(action.Tool, err.Error())
	}
	if err := d.fs.CreateDirectory(ctx, params.Path); err != nil {
		return fileFailure(action.Tool, params.Path, err)
	}
	return success(action.Tool, fmt.Sprintf("created %s", params.Path), nil)
}

func success(tool models.ToolName, msg string, data map[string]any) models.ActionResult {
	return models.ActionResult{Tool: tool, Success: true, Message: msg, Data: data}
}

func failure(tool models.ToolName, msg string) models.ActionResult {
	return models.ActionResult{Tool: tool, Success: false, Message: msg}
}

func cellFailure(tool models.ToolName, cellID string, err error) models.ActionResult {
	if errors.Is(err, notebook.ErrCellNotFound) {
		return failure(tool, fmt.Sprintf("cell not found: %s", cellID))
	}
	return failure(tool, err.Error())
}

func fileFailure(tool models.ToolName, path string, err error) models.ActionResult {
	if errors.Is(err, files.ErrFileNotFound) {
		return failure(tool, fmt.Sprintf("file not found: %s", path))
	}
	return failure(tool, err.Error())
}
