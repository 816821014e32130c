package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind is an action interpreter kind, selected by file suffix.
type Kind string

const (
	KindPython     Kind = "python"
	KindNode       Kind = "node"
	KindPowerShell Kind = "powershell"
	KindShell      Kind = "shell"
)

// KindOf returns the kind for an action file name.
func KindOf(path string) (Kind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return KindPython, true
	case ".js":
		return KindNode, true
	case ".ps1":
		return KindPowerShell, true
	case ".sh":
		return KindShell, true
	}
	return "", false
}

// Interpreters names the executables used for each kind.
type Interpreters struct {
	Python     string
	Node       string
	PowerShell string
	Shell      string
}

// Input is what an action receives.
type Input struct {
	Payload   map[string]any // Ticket payload document
	Variables map[string]any // Run variable bag
}

// TaskResponseKey is the reserved key carrying the payload in the
// single-document calling convention.
const TaskResponseKey = "task_response"

// Document returns the single JSON argument given to Python and Node
// actions: the variables at top level plus the payload under
// TaskResponseKey.
func (in Input) Document() ([]byte, error) {
	doc := make(map[string]any, len(in.Variables)+1)
	for k, v := range in.Variables {
		doc[k] = v
	}
	doc[TaskResponseKey] = in.Payload
	return json.Marshal(doc)
}

// command builds argv for an action of this kind.
func (k Kind) command(interp Interpreters, path string, in Input) (string, []string, error) {
	switch k {
	case KindPython, KindNode:
		doc, err := in.Document()
		if err != nil {
			return "", nil, fmt.Errorf("encoding action input: %w", err)
		}
		bin := interp.Python
		if k == KindNode {
			bin = interp.Node
		}
		return bin, []string{path, string(doc)}, nil

	case KindPowerShell:
		payload, err := json.Marshal(in.Payload)
		if err != nil {
			return "", nil, fmt.Errorf("encoding payload: %w", err)
		}
		args := []string{"-NoProfile", "-NonInteractive", "-File", path, "-TaskResponse", string(payload)}
		keys := make([]string, 0, len(in.Variables))
		for key := range in.Variables {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value, err := flagValue(in.Variables[key])
			if err != nil {
				return "", nil, fmt.Errorf("encoding variable %s: %w", key, err)
			}
			args = append(args, "-"+key, value)
		}
		return interp.PowerShell, args, nil

	case KindShell:
		body, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("reading action: %w", err)
		}
		preamble, err := shellPreamble(in)
		if err != nil {
			return "", nil, err
		}
		return interp.Shell, []string{"-c", preamble + string(body)}, nil
	}
	return "", nil, fmt.Errorf("unsupported kind %q", k)
}

func flagValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// shellPreamble defines TASK_RESPONSE, SCTASK_RESPONSE and
// ADDITIONAL_VARIABLES as exported, single-quoted JSON strings.
func shellPreamble(in Input) (string, error) {
	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	result, err := json.Marshal(in.Payload["result"])
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	vars := in.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	variables, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("encoding variables: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TASK_RESPONSE=%s\n", shellQuote(string(payload)))
	fmt.Fprintf(&b, "SCTASK_RESPONSE=%s\n", shellQuote(string(result)))
	fmt.Fprintf(&b, "ADDITIONAL_VARIABLES=%s\n", shellQuote(string(variables)))
	b.WriteString("export TASK_RESPONSE SCTASK_RESPONSE ADDITIONAL_VARIABLES\n")
	return b.String(), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
