package types

import (
	"fmt"
	"strconv"
)

// TicketState is a ticket lifecycle state with a fixed wire code.
// The zero value is PENDING. Values outside the enumeration cannot be
// constructed outside this package.
type TicketState struct {
	code int
}

var (
	TicketPending          = TicketState{0}
	TicketOpen             = TicketState{1}
	TicketWorkInProgress   = TicketState{2}
	TicketClosedComplete   = TicketState{3}
	TicketClosedIncomplete = TicketState{4}
	TicketClosedSkipped    = TicketState{5}
	TicketResolved         = TicketState{6}
)

var ticketStateNames = [...]string{
	"PENDING",
	"OPEN",
	"WORK_IN_PROGRESS",
	"CLOSED_COMPLETE",
	"CLOSED_INCOMPLETE",
	"CLOSED_SKIPPED",
	"RESOLVED",
}

// TicketStateFromCode returns the state for a wire code.
func TicketStateFromCode(code int) (TicketState, error) {
	if code < 0 || code >= len(ticketStateNames) {
		return TicketState{}, fmt.Errorf("ticket state code %d out of range", code)
	}
	return TicketState{code}, nil
}

// ParseTicketState returns the state for a name such as "WORK_IN_PROGRESS".
func ParseTicketState(name string) (TicketState, error) {
	for code, n := range ticketStateNames {
		if n == name {
			return TicketState{code}, nil
		}
	}
	return TicketState{}, fmt.Errorf("unknown ticket state %q", name)
}

// Code returns the numeric wire value.
func (s TicketState) Code() int {
	return s.code
}

// Wire returns the value written to the ticketing system's state field.
func (s TicketState) Wire() string {
	return strconv.Itoa(s.code)
}

func (s TicketState) String() string {
	return ticketStateNames[s.code]
}

// MarshalText implements encoding.TextMarshaler.
func (s TicketState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TicketState) UnmarshalText(text []byte) error {
	parsed, err := ParseTicketState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
