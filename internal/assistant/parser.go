package assistant

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jotbook/jot/pkg/models"
)

// ParsedReply is the structured form of one assistant response: the prose to
// render and the actions to dispatch, in the order the model listed them.
type ParsedReply struct {
	Message string
	Actions []models.Action
}

// payloadSchema constrains the shape of the embedded action payload. A block
// that parses as JSON but violates this schema is treated as no payload at
// all, so a half-formed reply degrades to plain text instead of a crash.
var payloadSchema = jsonschema.MustCompileString("payload.json", `{
	"type": "object",
	"properties": {
		"message": {"type": "string"},
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"tool": {"type": "string"},
					"params": {"type": "object"}
				}
			}
		}
	}
}`)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n(.*?)```")

type rawPayload struct {
	Message string      `json:"message"`
	Actions []rawAction `json:"actions"`
}

type rawAction struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// Parse extracts the action payload from a free-form model reply. It never
// fails: when no payload block is found, or the block is malformed, the whole
// reply becomes the message and the action list is empty. When a payload is
// found, the returned message excludes the block so it is not rendered twice.
func Parse(raw string) ParsedReply {
	trimmed := strings.TrimSpace(raw)

	// Whole reply is the payload object.
	if payload, ok := decodePayload(trimmed); ok {
		return replyFrom(payload, "")
	}

	// Fenced code block containing the payload.
	if loc := fencedBlockRe.FindStringSubmatchIndex(trimmed); loc != nil {
		body := trimmed[loc[2]:loc[3]]
		if payload, ok := decodePayload(strings.TrimSpace(body)); ok {
			prose := trimmed[:loc[0]] + trimmed[loc[1]:]
			return replyFrom(payload, strings.TrimSpace(prose))
		}
	}

	// Bare JSON object embedded in prose.
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := matchBrace(trimmed, start); end > start {
			candidate := trimmed[start : end+1]
			if payload, ok := decodePayload(candidate); ok && len(payload.Actions) > 0 {
				prose := trimmed[:start] + trimmed[end+1:]
				return replyFrom(payload, strings.TrimSpace(prose))
			}
		}
	}

	return ParsedReply{Message: trimmed}
}

func replyFrom(payload rawPayload, surrounding string) ParsedReply {
	msg := payload.Message
	if msg == "" {
		msg = surrounding
	}
	reply := ParsedReply{Message: msg}
	for _, a := range payload.Actions {
		// Entries without a tool name are dropped; the rest survive.
		if a.Tool == "" {
			continue
		}
		reply.Actions = append(reply.Actions, models.Action{
			Tool:   models.ToolName(a.Tool),
			Params: a.Params,
		})
	}
	return reply
}

func decodePayload(s string) (rawPayload, bool) {
	if !strings.HasPrefix(s, "{") {
		return rawPayload{}, false
	}
	var generic any
	if err := json.Unmarshal([]byte(s), &generic); err != nil {
		return rawPayload{}, false
	}
	if err := payloadSchema.Validate(generic); err != nil {
		return rawPayload{}, false
	}
	var payload rawPayload
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return rawPayload{}, false
	}
	if payload.Message == "" && payload.Actions == nil {
		// An object with neither key is just prose that happens to be JSON.
		return rawPayload{}, false
	}
	return payload, true
}

// matchBrace returns the index of the brace closing the one at start, or -1.
// String literals and escapes are honored so braces inside values don't
// terminate the scan early.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
