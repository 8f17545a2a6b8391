package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/twiliowhatsapp"
)

// TwilioService implements Service on the Twilio REST API. Inbound messages
// arrive as form posts parsed by ParseWebhook.
type TwilioService struct {
	client  twiliowhatsapp.Sender
	inbound chan models.InboundMessage
	mu      sync.RWMutex
	stopped bool
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a new TwilioService with a real or mock Twilio client.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:  client,
		inbound: make(chan models.InboundMessage),
	}
}

func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(twiliowhatsapp.StripAddress(recipient))
}

// Start is a no-op for Twilio (no live client)
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop marks the service stopped and closes Inbound.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	return nil
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// ParseWebhook extracts the message carried by a Twilio webhook form post.
func (s *TwilioService) ParseWebhook(r *http.Request) (models.InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return models.InboundMessage{}, fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}
	sid := strings.TrimSpace(r.FormValue("MessageSid"))
	from := twiliowhatsapp.StripAddress(r.FormValue("From"))
	body := r.FormValue("Body")
	if sid == "" || from == "" || strings.TrimSpace(body) == "" {
		slog.Warn("TwilioService webhook missing fields", "sid_set", sid != "", "from", from)
		return models.InboundMessage{}, fmt.Errorf("%w: missing MessageSid, From or Body", models.ErrInvalidPayload)
	}
	slog.Info("TwilioService inbound message", "from", from, "sid", sid)
	return models.InboundMessage{ID: sid, From: from, Body: body, Time: time.Now().Unix()}, nil
}
