// Package models defines the core data structures for the ads manager.
//
// It includes conversation messages, user campaign records, the validation
// status workflow, and the API response envelope shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Message roles stored in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultDisplayName is the display name given to a conversation document on first write.
const DefaultDisplayName = "Usuario"

// Error variables for better error handling and testability
var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrUnknownColumn     = errors.New("unknown record column")
	ErrInvalidTransition = errors.New("invalid validation status transition")
	ErrInvalidStatus     = errors.New("invalid validation status")
	ErrInvalidPayload    = errors.New("invalid inbound payload")
	ErrEmptyRecipient    = errors.New("recipient cannot be empty")
)

// Message is one role-tagged entry in a user's conversation history.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewMessage builds a message stamped with the current UTC time.
func NewMessage(role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: FormatTimestamp(time.Now())}
}

// FormatTimestamp renders t so that lexical order matches chronological order.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// Conversation is the full history document of one user.
type Conversation struct {
	UserID      string    `json:"-"`
	DisplayName string    `json:"nombre"`
	Messages    []Message `json:"historial"`
	LastUpdate  string    `json:"ultima_actualizacion"`
}

// InboundMessage is a text message received from any messaging transport.
type InboundMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// IntentResult is produced by a detector for one message. It is never persisted.
type IntentResult struct {
	Matched bool
	Reply   string
}

// RecentWindow keeps the last maxUser user messages and the last maxAssistant
// assistant messages of msgs, merged back in timestamp order.
func RecentWindow(msgs []Message, maxUser, maxAssistant int) []Message {
	var users, assistants []Message
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			users = append(users, m)
		case RoleAssistant:
			assistants = append(assistants, m)
		}
	}
	users = lastN(users, maxUser)
	assistants = lastN(assistants, maxAssistant)
	return MergeByTimestamp(users, assistants)
}

// MergeByTimestamp merges two timestamp-ordered slices. Ties keep a before b.
func MergeByTimestamp(a, b []Message) []Message {
	out := make([]Message, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if b[j].Timestamp < a[i].Timestamp {
			out = append(out, b[j])
			j++
			continue
		}
		out = append(out, a[i])
		i++
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

func lastN(msgs []Message, n int) []Message {
	if n <= 0 {
		return nil
	}
	if len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}

// DedupHistory collapses entries with identical role and trimmed content,
// keeping the first occurrence.
func DedupHistory(msgs []Message) []Message {
	seen := make(map[[2]string]struct{}, len(msgs))
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		key := [2]string{m.Role, strings.TrimSpace(m.Content)}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// WebhookError is the error body returned to the messaging gateway.
type WebhookError struct {
	Error string `json:"error"`
}
