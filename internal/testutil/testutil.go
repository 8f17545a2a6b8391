// Package testutil provides common test utilities for the ads manager tests:
// a scripted language-model completer, a recording message sender, and
// HTTP assertion helpers.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/chatbotadsmanager/adsmanager/internal/genai"
	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

// ErrScripted is the default error returned by a failing rule.
var ErrScripted = errors.New("scripted completion failure")

// Rule answers completion calls whose system prompt contains System and
// whose last user message contains User. Empty fields match anything.
type Rule struct {
	System string
	User   string
	Reply  string
	Err    error
}

// ScriptedCompleter is a genai.Completer driven by rules. The first matching
// rule wins; unmatched calls get Default.
type ScriptedCompleter struct {
	mu      sync.Mutex
	rules   []Rule
	Default string
	calls   []genai.Request
}

var _ genai.Completer = (*ScriptedCompleter)(nil)

// NewScriptedCompleter creates a completer with the given rules.
func NewScriptedCompleter(rules ...Rule) *ScriptedCompleter {
	return &ScriptedCompleter{rules: rules, Default: "no"}
}

// On appends a rule answering with reply.
func (s *ScriptedCompleter) On(system, user, reply string) *ScriptedCompleter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, Rule{System: system, User: user, Reply: reply})
	return s
}

// Fail appends a rule answering with err (ErrScripted when nil).
func (s *ScriptedCompleter) Fail(system, user string, err error) *ScriptedCompleter {
	if err == nil {
		err = ErrScripted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, Rule{System: system, User: user, Err: err})
	return s
}

func (s *ScriptedCompleter) Complete(ctx context.Context, req genai.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sys, user := SystemPrompt(req), LastUserMessage(req)
	for _, r := range s.rules {
		if strings.Contains(sys, r.System) && strings.Contains(user, r.User) {
			if r.Err != nil {
				return "", r.Err
			}
			return r.Reply, nil
		}
	}
	return s.Default, nil
}

// Calls returns every recorded request.
func (s *ScriptedCompleter) Calls() []genai.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]genai.Request(nil), s.calls...)
}

// CallsMatching returns recorded requests whose system prompt contains system.
func (s *ScriptedCompleter) CallsMatching(system string) []genai.Request {
	var out []genai.Request
	for _, c := range s.Calls() {
		if strings.Contains(SystemPrompt(c), system) {
			out = append(out, c)
		}
	}
	return out
}

// SystemPrompt returns the content of the first system message of req.
func SystemPrompt(req genai.Request) string {
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem {
			return m.Content
		}
	}
	return ""
}

// LastUserMessage returns the content of the last user message of req.
func LastUserMessage(req genai.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == models.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

// SentMessage is one outbound message captured by MockSender.
type SentMessage struct {
	To   string
	Body string
}

// MockSender records outbound messages and optionally fails.
type MockSender struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
}

func (m *MockSender) SendMessage(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the captured messages.
func (m *MockSender) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONField decodes a JSON object body and checks one string field.
func AssertJSONField(t testing.TB, rr *httptest.ResponseRecorder, field, expected string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	got, ok := response[field].(string)
	if !ok {
		t.Errorf("response missing or invalid %q field", field)
	} else if got != expected {
		t.Errorf("expected %s %q, got %q", field, expected, got)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
// A []byte or string body is sent as is.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	switch b := body.(type) {
	case nil:
		reqBody = bytes.NewBuffer(nil)
	case []byte:
		reqBody = bytes.NewBuffer(b)
	case string:
		reqBody = bytes.NewBufferString(b)
	default:
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// WebhookPayload builds a minimal Cloud API webhook body carrying one text message.
func WebhookPayload(from, id, text string) map[string]interface{} {
	return map[string]interface{}{
		"entry": []interface{}{
			map[string]interface{}{
				"changes": []interface{}{
					map[string]interface{}{
						"value": map[string]interface{}{
							"messages": []interface{}{
								map[string]interface{}{
									"from": from,
									"id":   id,
									"type": "text",
									"text": map[string]interface{}{"body": text},
								},
							},
						},
					},
				},
			},
		},
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
