package types

import (
	"encoding/json"

	"github.com/meow-stack/remedy/internal/errors"
)

// TicketRef identifies the ticket record that lifecycle writes target.
type TicketRef struct {
	Table  string `yaml:"table" json:"table"`   // sys_class_name
	SysID  string `yaml:"sys_id" json:"sys_id"` // sys_id
	Number string `yaml:"number,omitempty" json:"number,omitempty"`
}

// Ticket is a validated inbound ticket payload.
type Ticket struct {
	Ref            TicketRef
	Classification string         // result[0].short_description
	Payload        map[string]any // whole document, handed to actions verbatim
}

// ParseTicket decodes and validates a ticket payload document.
// The document must carry a non-empty result array whose first record
// names the classification, the table and the sys_id.
func ParseTicket(data []byte) (*Ticket, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.PayloadInvalid("not a JSON object").WithCause(err)
	}
	return TicketFromPayload(payload)
}

// TicketFromPayload validates an already decoded payload document.
func TicketFromPayload(payload map[string]any) (*Ticket, error) {
	if payload == nil {
		return nil, errors.PayloadInvalid("payload is empty")
	}
	results, ok := payload["result"].([]any)
	if !ok || len(results) == 0 {
		return nil, errors.PayloadInvalid("result must be a non-empty array")
	}
	first, ok := results[0].(map[string]any)
	if !ok {
		return nil, errors.PayloadInvalid("result[0] must be an object")
	}

	t := &Ticket{
		Classification: stringField(first, "short_description"),
		Ref: TicketRef{
			Table:  stringField(first, "sys_class_name"),
			SysID:  stringField(first, "sys_id"),
			Number: stringField(first, "number"),
		},
		Payload: payload,
	}
	switch {
	case t.Classification == "":
		return nil, errors.PayloadInvalid("result[0].short_description is required")
	case t.Ref.Table == "":
		return nil, errors.PayloadInvalid("result[0].sys_class_name is required")
	case t.Ref.SysID == "":
		return nil, errors.PayloadInvalid("result[0].sys_id is required")
	}
	return t, nil
}

// DefaultRunID returns the run identifier used when the caller does not pick one.
func (t *Ticket) DefaultRunID() string {
	if t.Ref.Number != "" {
		return DefaultRunID(t.Ref.Number)
	}
	return DefaultRunID(t.Ref.SysID)
}

// DefaultRunID derives a run identifier from a ticket number.
func DefaultRunID(number string) string {
	return "task_" + number
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
