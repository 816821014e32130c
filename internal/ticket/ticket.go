// Package ticket writes ticket lifecycle changes back to ServiceNow.
//
// Every operation is a single PUT against the table API record named by
// the ticket reference. Nothing is retried: a failed write surfaces as a
// TicketUpdateFailed error and the caller decides what it means for the run.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/meow-stack/remedy/internal/config"
	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/types"
)

// Controller performs ticket lifecycle writes.
type Controller interface {
	SetState(ctx context.Context, ref types.TicketRef, state types.TicketState) error
	AppendWorknote(ctx context.Context, ref types.TicketRef, text string) error
	Reassign(ctx context.Context, ref types.TicketRef, group string) error
}

// Operation names used in errors and traces.
const (
	OpSetState       = "set_state"
	OpAppendWorknote = "append_worknote"
	OpReassign       = "reassign"
)

// maxErrorBody bounds how much of a rejected response is kept.
const maxErrorBody = 4 << 10

// ServiceNow is a Controller backed by the ServiceNow table API.
type ServiceNow struct {
	endpoint string
	client   *http.Client

	// basic auth, empty when the client carries OAuth tokens
	username string
	password string
}

// New creates a ServiceNow controller from configuration. Credentials are
// read from the environment variables the configuration names.
func New(cfg *config.Config) (*ServiceNow, error) {
	sn := cfg.ServiceNow
	if sn.Endpoint == "" {
		return nil, errors.ConfigInvalid("servicenow.endpoint", "endpoint is required")
	}
	endpoint := strings.TrimRight(sn.Endpoint, "/")
	base := &http.Client{Timeout: sn.RequestTimeout}

	switch sn.Auth {
	case config.AuthOAuth2:
		id, secret := cfg.ClientCredentials()
		if id == "" || secret == "" {
			return nil, errors.ConfigInvalid("servicenow", fmt.Sprintf("%s and %s must be set for oauth2", sn.ClientIDEnv, sn.ClientSecretEnv))
		}
		tokenURL := sn.TokenURL
		if tokenURL == "" {
			tokenURL = endpoint + "/oauth_token.do"
		}
		cc := &clientcredentials.Config{
			ClientID:     id,
			ClientSecret: secret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		// The token source reuses base for token requests.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client := cc.Client(ctx)
		client.Timeout = sn.RequestTimeout
		return &ServiceNow{endpoint: endpoint, client: client}, nil

	default:
		user, pass := cfg.BasicCredentials()
		if user == "" {
			return nil, errors.ConfigInvalid("servicenow", fmt.Sprintf("%s must be set for basic auth", sn.UsernameEnv))
		}
		return &ServiceNow{endpoint: endpoint, client: base, username: user, password: pass}, nil
	}
}

// NewWithClient creates a controller that sends requests through client
// with optional basic credentials.
func NewWithClient(endpoint string, client *http.Client, username, password string) *ServiceNow {
	return &ServiceNow{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		username: username,
		password: password,
	}
}

// SetState moves the ticket to a lifecycle state.
func (s *ServiceNow) SetState(ctx context.Context, ref types.TicketRef, state types.TicketState) error {
	return s.put(ctx, OpSetState, ref, map[string]string{"state": state.Wire()})
}

// AppendWorknote adds a work note to the ticket.
func (s *ServiceNow) AppendWorknote(ctx context.Context, ref types.TicketRef, text string) error {
	return s.put(ctx, OpAppendWorknote, ref, map[string]string{"work_notes": text})
}

// Reassign hands the ticket to another assignment group.
func (s *ServiceNow) Reassign(ctx context.Context, ref types.TicketRef, group string) error {
	return s.put(ctx, OpReassign, ref, map[string]string{"assignment_group": group})
}

func (s *ServiceNow) recordURL(ref types.TicketRef) string {
	return fmt.Sprintf("%s/api/now/table/%s/%s", s.endpoint, url.PathEscape(ref.Table), url.PathEscape(ref.SysID))
}

func (s *ServiceNow) put(ctx context.Context, op string, ref types.TicketRef, body map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.TicketRequestFailed(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.recordURL(ref), bytes.NewReader(data))
	if err != nil {
		return errors.TicketRequestFailed(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.TicketRequestFailed(op, err).WithDetail("sys_id", ref.SysID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.TicketUpdateFailed(op, resp.StatusCode, string(raw)).WithDetail("sys_id", ref.SysID)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Recorder is a Controller that only remembers the writes it was asked
// to make. Used by dry runs.
type Recorder struct {
	mu     sync.Mutex
	writes []Write
}

// Write is one lifecycle write captured by Recorder.
type Write struct {
	Op    string
	Ref   types.TicketRef
	Value string
	At    time.Time
}

func (r *Recorder) record(op string, ref types.TicketRef, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, Write{Op: op, Ref: ref, Value: value, At: time.Now()})
	return nil
}

// Writes returns the captured writes in order.
func (r *Recorder) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Write(nil), r.writes...)
}

// SetState implements Controller.
func (r *Recorder) SetState(_ context.Context, ref types.TicketRef, state types.TicketState) error {
	return r.record(OpSetState, ref, state.String())
}

// AppendWorknote implements Controller.
func (r *Recorder) AppendWorknote(_ context.Context, ref types.TicketRef, text string) error {
	return r.record(OpAppendWorknote, ref, text)
}

// Reassign implements Controller.
func (r *Recorder) Reassign(_ context.Context, ref types.TicketRef, group string) error {
	return r.record(OpReassign, ref, group)
}
