package models

import (
	"sort"
	"strings"
)

// OutputType discriminates the Output variants.
type OutputType string

const (
	// OutputTypeStream is incremental stdout/stderr text.
	OutputTypeStream OutputType = "stream"

	// OutputTypeDisplay is a mime-typed payload map (rich display data,
	// including execute_result values from the kernel).
	OutputTypeDisplay OutputType = "display_data"

	// OutputTypeError is a structured kernel error with a traceback.
	OutputTypeError OutputType = "error"
)

// Output is one element of a cell's output sequence. The sequence is
// append-only during a single execution and cleared when the next execution
// of the same cell starts.
//
// Exactly one variant is populated, selected by Type:
//   - stream: StreamName + Text
//   - display_data: Data (mime type -> payload), ExecutionCount when the
//     kernel reported it as an execute_result
//   - error: Ename + Evalue + Traceback
type Output struct {
	Type           OutputType     `json:"output_type"`
	StreamName     string         `json:"name,omitempty"` // stdout or stderr
	Text           string         `json:"text,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
	Ename          string         `json:"ename,omitempty"`
	Evalue         string         `json:"evalue,omitempty"`
	Traceback      []string       `json:"traceback,omitempty"`
}

// StreamOutput builds a stream output.
func StreamOutput(name, text string) Output {
	return Output{Type: OutputTypeStream, StreamName: name, Text: text}
}

// DisplayOutput builds a display-data output.
func DisplayOutput(data map[string]any) Output {
	return Output{Type: OutputTypeDisplay, Data: data}
}

// ErrorOutput builds an error output.
func ErrorOutput(ename, evalue string, traceback []string) Output {
	return Output{Type: OutputTypeError, Ename: ename, Evalue: evalue, Traceback: traceback}
}

// Plain returns a flat text rendering of the output, suitable for feeding
// back into a model prompt or a terminal.
func (o Output) Plain() string {
	switch o.Type {
	case OutputTypeStream:
		return o.Text
	case OutputTypeDisplay:
		if s, ok := o.Data["text/plain"].(string); ok {
			return s
		}
		keys := make([]string, 0, len(o.Data))
		for k := range o.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "[display data: " + strings.Join(keys, ", ") + "]"
	case OutputTypeError:
		if o.Evalue != "" {
			return o.Ename + ": " + o.Evalue
		}
		return o.Ename
	}
	return ""
}

// IsError reports whether this output is a kernel error.
func (o Output) IsError() bool {
	return o.Type == OutputTypeError
}
