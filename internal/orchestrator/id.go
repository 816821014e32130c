package orchestrator

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewStepID creates a unique identifier for one action execution.
func NewStepID() string {
	return uuid.NewString()
}

// ValidateRunID rejects identifiers that cannot name a file or lock.
func ValidateRunID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("run id is empty")
	case id == "." || id == "..":
		return fmt.Errorf("run id %q is reserved", id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("run id %q contains a path separator", id)
	case strings.ContainsFunc(id, func(r rune) bool { return r < 0x20 }):
		return fmt.Errorf("run id %q contains a control character", id)
	}
	return nil
}
