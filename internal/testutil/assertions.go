package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/types"
)

// AssertEqual asserts that two values are equal.
func AssertEqual(t *testing.T, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		msg := formatMessage("Expected values to be equal", msgAndArgs...)
		t.Errorf("%s\nExpected: %v\nActual: %v", msg, expected, actual)
	}
}

// AssertNoError asserts that an error is nil.
func AssertNoError(t *testing.T, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		msg := formatMessage("Expected no error", msgAndArgs...)
		t.Errorf("%s\nError: %v", msg, err)
	}
}

// AssertErrorCode asserts that err carries the given error code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected error with code %s, got nil", code)
		return
	}
	if !errors.HasCode(err, code) {
		t.Errorf("Expected error code %s, got %q (%v)", code, errors.Code(err), err)
	}
}

// AssertContains asserts that a string contains a substring.
func AssertContains(t *testing.T, s, substring string, msgAndArgs ...any) {
	t.Helper()
	if !strings.Contains(s, substring) {
		msg := formatMessage("Expected string to contain substring", msgAndArgs...)
		t.Errorf("%s\nString: %s\nSubstring: %s", msg, s, substring)
	}
}

// Run record assertions

// AssertRunCompleted asserts that a run retired successfully after
// executing all of its actions.
func AssertRunCompleted(t *testing.T, rec *types.RunRecord) {
	t.Helper()
	if !rec.Completed || rec.Failed {
		t.Errorf("Run %s: Completed = %v, Failed = %v (reason %q), want completed", rec.TicketID, rec.Completed, rec.Failed, rec.FailureReason)
	}
	if !rec.Retired() {
		t.Errorf("Run %s: stage = %s, want terminated", rec.TicketID, rec.Stage)
	}
	if rec.ActionIndex != len(rec.Actions) {
		t.Errorf("Run %s: ActionIndex = %d, want %d", rec.TicketID, rec.ActionIndex, len(rec.Actions))
	}
}

// AssertRunFailed asserts that a run retired as failed.
func AssertRunFailed(t *testing.T, rec *types.RunRecord) {
	t.Helper()
	if !rec.Failed || rec.Completed {
		t.Errorf("Run %s: Failed = %v, Completed = %v, want failed", rec.TicketID, rec.Failed, rec.Completed)
	}
	if !rec.Retired() {
		t.Errorf("Run %s: stage = %s, want terminated", rec.TicketID, rec.Stage)
	}
}

// File-related assertions

// AssertFileExists asserts that a file exists.
func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Expected file %s to exist", path)
	}
}

// AssertFileNotExists asserts that a file does not exist.
func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("Expected file %s to not exist", path)
	}
}

// AssertFileContains asserts that a file contains a substring.
func AssertFileContains(t *testing.T, path, substring string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("Failed to read file %s: %v", path, err)
		return
	}
	if !strings.Contains(string(data), substring) {
		t.Errorf("Expected file %s to contain %q", path, substring)
	}
}

// formatMessage formats an error message with optional additional context.
func formatMessage(defaultMsg string, msgAndArgs ...any) string {
	if len(msgAndArgs) == 0 {
		return defaultMsg
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}

// RequireNoError is like AssertNoError but fails the test immediately.
func RequireNoError(t *testing.T, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		msg := formatMessage("Required no error", msgAndArgs...)
		t.Fatalf("%s\nError: %v", msg, err)
	}
}

// RequireFile creates a file with content and fails immediately if it can't.
func RequireFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
}
