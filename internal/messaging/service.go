// Package messaging provides the WhatsApp transports used to talk to users:
// the Cloud API, Twilio and a whatsmeow linked device.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

const (
	// DefaultChannelBufferSize defines the default buffer size for inbound channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Sender delivers one text message to a user.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Service defines a pluggable message transport.
type Service interface {
	Sender

	// ValidateAndCanonicalizeRecipient returns the digits-only form of a phone
	// number or an error when it cannot be a WhatsApp number.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes Inbound.
	Stop() error

	// Inbound returns messages received outside the HTTP webhooks.
	Inbound() <-chan models.InboundMessage
}

// CanonicalizePhone strips every non-digit and requires at least 6 digits.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("messaging.CanonicalizePhone: recipient canonicalized", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// emitInbound pushes msg without blocking longer than DefaultChannelTimeout.
func emitInbound(ch chan<- models.InboundMessage, msg models.InboundMessage, transport string) {
	select {
	case ch <- msg:
		slog.Debug("messaging: inbound message forwarded", "transport", transport, "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging: inbound channel blocked, dropping message", "transport", transport, "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}
