package types

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestTicketStateCodes(t *testing.T) {
	tests := []struct {
		state TicketState
		code  int
		name  string
	}{
		{TicketPending, 0, "PENDING"},
		{TicketOpen, 1, "OPEN"},
		{TicketWorkInProgress, 2, "WORK_IN_PROGRESS"},
		{TicketClosedComplete, 3, "CLOSED_COMPLETE"},
		{TicketClosedIncomplete, 4, "CLOSED_INCOMPLETE"},
		{TicketClosedSkipped, 5, "CLOSED_SKIPPED"},
		{TicketResolved, 6, "RESOLVED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.state.Code() != tt.code {
				t.Errorf("Code() = %d, want %d", tt.state.Code(), tt.code)
			}
			if tt.state.String() != tt.name {
				t.Errorf("String() = %s, want %s", tt.state, tt.name)
			}
			got, err := TicketStateFromCode(tt.code)
			if err != nil || got != tt.state {
				t.Errorf("TicketStateFromCode(%d) = %v, %v", tt.code, got, err)
			}
		})
	}
}

func TestTicketStateFromCode_OutOfRange(t *testing.T) {
	for _, code := range []int{-1, 7, 99} {
		if _, err := TicketStateFromCode(code); err == nil {
			t.Errorf("TicketStateFromCode(%d) should fail", code)
		}
	}
}

func TestTicketStateWire(t *testing.T) {
	if TicketWorkInProgress.Wire() != "2" {
		t.Errorf("Wire() = %s, want 2", TicketWorkInProgress.Wire())
	}
	var zero TicketState
	if zero != TicketPending {
		t.Error("zero value should be PENDING")
	}
}

func TestTicketStateText(t *testing.T) {
	type doc struct {
		State TicketState `yaml:"state"`
	}

	data, err := yaml.Marshal(doc{State: TicketClosedComplete})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != "state: CLOSED_COMPLETE\n" {
		t.Errorf("yaml = %q", data)
	}

	var back doc
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.State != TicketClosedComplete {
		t.Errorf("State = %s, want CLOSED_COMPLETE", back.State)
	}

	if err := yaml.Unmarshal([]byte("state: ON_HOLD\n"), &back); err == nil {
		t.Error("unknown state name should fail")
	}
}
