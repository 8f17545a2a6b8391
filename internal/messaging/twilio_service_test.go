package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/twiliowhatsapp"
)

func TestTwilioService_SendMessageCanonicalizes(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	if err := svc.SendMessage(context.Background(), "whatsapp:+591 7123-4567", "Hola"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "59171234567" {
		t.Errorf("unexpected messages %+v", mock.SentMessages)
	}
}

func TestTwilioService_StoppedRejectsSend(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := svc.SendMessage(context.Background(), "59171234567", "x"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	if _, ok := <-svc.Inbound(); ok {
		t.Error("expected inbound channel closed")
	}
	if err := svc.Stop(); err != nil {
		t.Error("second Stop must be a no-op")
	}
}

func twilioForm(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestTwilioService_ParseWebhook(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	msg, err := svc.ParseWebhook(twilioForm(url.Values{
		"MessageSid": {"SM1"},
		"From":       {"whatsapp:+59171234567"},
		"Body":       {"Hola"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != "SM1" || msg.From != "59171234567" || msg.Body != "Hola" {
		t.Errorf("unexpected message %+v", msg)
	}

	_, err = svc.ParseWebhook(twilioForm(url.Values{"From": {"whatsapp:+591"}}))
	if !errors.Is(err, models.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}
