// Package normalize turns an action result into a variable update, a work
// note and a failure decision.
//
// Actions answer with a JSON envelope:
//
//	{"Status": "Success", "OutputMessage": "...", "ErrorMessage": "...", ...}
//
// Stdout that decodes to a JSON string holding an envelope is decoded once
// more. Envelope keys match case-insensitively. On success the envelope's
// "Variables" object, when present, is merged into the run variables;
// otherwise every key that is not part of the envelope is merged.
package normalize

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/types"
)

// Envelope keys.
const (
	KeyStatus        = "status"
	KeyOutputMessage = "outputmessage"
	KeyErrorMessage  = "errormessage"
	KeyVariables     = "variables"
)

// Notes written when an action gives nothing usable.
const (
	NoteNullOutput       = "script returned null output"
	NoteUnexpectedFormat = "unexpected output format"
	NoteSuccessDefault   = "Execution Successful"
)

// Outcome is the normalized result of one action.
type Outcome struct {
	Variables map[string]any // Always a new map
	Note      string
	Error     string // What went wrong, when Failed
	Failed    bool
	Code      string // ACTION_002 or ACTION_003 when Failed
}

// Normalize applies the envelope decision table. vars is never mutated.
func Normalize(result *types.ActionResult, vars map[string]any) Outcome {
	out := Outcome{Variables: maps.Clone(vars)}
	if out.Variables == nil {
		out.Variables = make(map[string]any)
	}

	if result == nil || result.Status != types.ActionSuccess {
		out.Failed = true
		out.Code = errors.CodeActionExecutionFailed
		if result != nil {
			out.Note = result.ErrorMessage
			out.Error = result.ErrorMessage
		}
		return out
	}

	if result.Outputs == nil {
		out.Failed = true
		out.Code = errors.CodeActionExecutionFailed
		out.Note = NoteNullOutput
		out.Error = NoteNullOutput
		return out
	}

	envelope, ok := asEnvelope(result.Outputs)
	if !ok {
		out.Failed = true
		out.Code = errors.CodeActionExecutionFailed
		out.Note = NoteUnexpectedFormat
		out.Error = NoteUnexpectedFormat
		return out
	}

	fields := fold(envelope)
	if !strings.EqualFold(text(fields[KeyStatus].value), "success") {
		out.Failed = true
		out.Code = errors.CodeActionLogicFailed
		out.Note = strings.TrimSpace(text(fields[KeyOutputMessage].value) + "\n" + text(fields[KeyErrorMessage].value))
		out.Error = strings.TrimSpace(text(fields[KeyErrorMessage].value))
		if out.Error == "" {
			out.Error = out.Note
		}
		return out
	}

	maps.Copy(out.Variables, declared(envelope, fields))
	out.Note = text(fields[KeyOutputMessage].value)
	if out.Note == "" {
		out.Note = NoteSuccessDefault
	}
	return out
}

// asEnvelope returns outputs as an envelope object. A string is decoded
// once more, for actions that print their envelope as a JSON string.
func asEnvelope(outputs any) (map[string]any, bool) {
	switch v := outputs.(type) {
	case map[string]any:
		return v, true
	case string:
		var inner map[string]any
		if err := json.Unmarshal([]byte(v), &inner); err != nil || inner == nil {
			return nil, false
		}
		return inner, true
	}
	return nil, false
}

type field struct {
	key   string
	value any
}

// fold indexes envelope keys by lower-case name. An exact-case match for
// the canonical spelling wins over other spellings.
func fold(envelope map[string]any) map[string]field {
	fields := make(map[string]field, len(envelope))
	for k, v := range envelope {
		lower := strings.ToLower(k)
		if existing, ok := fields[lower]; ok && canonical(existing.key) {
			continue
		}
		fields[lower] = field{key: k, value: v}
	}
	return fields
}

func canonical(key string) bool {
	switch key {
	case "Status", "OutputMessage", "ErrorMessage", "Variables":
		return true
	}
	return false
}

// declared returns the variables an envelope declares.
func declared(envelope map[string]any, fields map[string]field) map[string]any {
	if f, ok := fields[KeyVariables]; ok {
		if vars, ok := f.value.(map[string]any); ok {
			return vars
		}
	}
	out := make(map[string]any, len(envelope))
	for k, v := range envelope {
		switch strings.ToLower(k) {
		case KeyStatus, KeyOutputMessage, KeyErrorMessage, KeyVariables:
			continue
		}
		out[k] = v
	}
	return out
}

func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
