package messaging

import (
	"context"
	"log/slog"
	"sync"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/whatsapp"
)

// eventSource is implemented by *whatsapp.Client.
type eventSource interface {
	AddEventHandler(h func(evt interface{}))
}

// WhatsAppService implements Service on a whatsmeow linked device. Text
// messages received by the device are forwarded to Inbound.
type WhatsAppService struct {
	client  whatsapp.Sender
	events  eventSource
	inbound chan models.InboundMessage
	mu      sync.RWMutex
	stopped bool
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService wraps client. Event handling is enabled when client is
// a full whatsmeow client.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
	if src, ok := client.(eventSource); ok {
		s.events = src
	} else {
		slog.Debug("WhatsAppService created without event source (likely mock)")
	}
	return s
}

func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start registers the event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.events != nil {
		s.events.AddEventHandler(s.handleEvent)
		slog.Debug("WhatsAppService event handler registered")
	}
	return nil
}

// Stop closes Inbound and disconnects the device. Events arriving afterwards
// are dropped.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	if d, ok := s.client.(interface{ Disconnect() }); ok {
		d.Disconnect()
	}
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendMessage sends a message through the linked device.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	return nil
}

func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	msg, ok := evt.(*events.Message)
	if !ok {
		return
	}
	in, ok := inboundFromEvent(msg)
	if !ok {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "from", in.From)
		return
	}
	emitInbound(s.inbound, in, "whatsmeow")
}

// inboundFromEvent extracts text messages from other users.
func inboundFromEvent(evt *events.Message) (models.InboundMessage, bool) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.InboundMessage{}, false
	}
	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.User)
		return models.InboundMessage{}, false
	}
	return models.InboundMessage{
		ID:   evt.Info.ID,
		From: evt.Info.Sender.User,
		Body: text,
		Time: evt.Info.Timestamp.Unix(),
	}, true
}
