package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolName identifies an assistant operation. The set is closed: anything
// outside it is rejected at dispatch with a failed ActionResult rather than
// an error.
type ToolName string

const (
	ToolExecuteCode     ToolName = "executeCode"
	ToolCreateCell      ToolName = "createCell"
	ToolEditCell        ToolName = "editCell"
	ToolDeleteCell      ToolName = "deleteCell"
	ToolListCells       ToolName = "listCells"
	ToolReadCellOutput  ToolName = "readCellOutput"
	ToolReadFile        ToolName = "readFile"
	ToolWriteFile       ToolName = "writeFile"
	ToolListDirectory   ToolName = "listDirectory"
	ToolDeleteFile      ToolName = "deleteFile"
	ToolCreateDirectory ToolName = "createDirectory"
)

// KnownTool reports whether name is in the closed tool set.
func KnownTool(name ToolName) bool {
	switch name {
	case ToolExecuteCode, ToolCreateCell, ToolEditCell, ToolDeleteCell,
		ToolListCells, ToolReadCellOutput, ToolReadFile, ToolWriteFile,
		ToolListDirectory, ToolDeleteFile, ToolCreateDirectory:
		return true
	}
	return false
}

// Action is a single structured operation requested by the assistant.
// Actions are produced only by the response parser; Params holds the raw
// tool-specific parameter object and is decoded into one of the typed
// *Params structs at the dispatch boundary.
type Action struct {
	Tool   ToolName        `json:"tool"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ActionResult is the outcome record for one Action. Dispatch returns
// exactly one result per submitted action, in the same order.
type ActionResult struct {
	Tool    ToolName `json:"tool"`
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    any      `json:"data,omitempty"`
}

// Typed parameter records, one per tool. Validate reports the first missing
// required parameter so dispatch failures can name it.

type ExecuteCodeParams struct {
	Code string `json:"code"`
}

func (p ExecuteCodeParams) Validate() error { return requireString("code", p.Code) }

type CreateCellParams struct {
	Source   string   `json:"source"`
	CellType CellType `json:"cellType,omitempty"`
	Position *int     `json:"position,omitempty"`
}

func (p CreateCellParams) Validate() error { return requireString("source", p.Source) }

type EditCellParams struct {
	CellID string `json:"cellId"`
	Source string `json:"source"`
}

func (p EditCellParams) Validate() error {
	if err := requireString("cellId", p.CellID); err != nil {
		return err
	}
	return requireString("source", p.Source)
}

type DeleteCellParams struct {
	CellID string `json:"cellId"`
}

func (p DeleteCellParams) Validate() error { return requireString("cellId", p.CellID) }

type ListCellsParams struct{}

func (ListCellsParams) Validate() error { return nil }

type ReadCellOutputParams struct {
	CellID string `json:"cellId"`
}

func (p ReadCellOutputParams) Validate() error { return requireString("cellId", p.CellID) }

type ReadFileParams struct {
	Path string `json:"path"`
}

func (p ReadFileParams) Validate() error { return requireString("path", p.Path) }

type WriteFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (p WriteFileParams) Validate() error { return requireString("path", p.Path) }

type ListDirectoryParams struct {
	Path string `json:"path,omitempty"`
}

func (ListDirectoryParams) Validate() error { return nil }

type DeleteFileParams struct {
	Path string `json:"path"`
}

func (p DeleteFileParams) Validate() error { return requireString("path", p.Path) }

type CreateDirectoryParams struct {
	Path string `json:"path"`
}

func (p CreateDirectoryParams) Validate() error { return requireString("path", p.Path) }

// MissingParamError identifies an absent required parameter.
type MissingParamError struct {
	Param string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Param)
}

func requireString(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return &MissingParamError{Param: name}
	}
	return nil
}

// DecodeParams unmarshals an action's raw params into dst and validates.
// An empty Params is treated as an empty object so tools without required
// parameters work with a bare {"tool": ...} entry.
func DecodeParams[T interface{ Validate() error }](a Action, dst *T) error {
	raw := a.Params
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid parameters for %s: %w", a.Tool, err)
	}
	return (*dst).Validate()
}
