package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

// DefaultGraphBaseURL is the Graph API root used for Cloud API sends.
const DefaultGraphBaseURL = "https://graph.facebook.com/v17.0"

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 2048

// CloudAPIOpts holds configuration for the Cloud API transport.
type CloudAPIOpts struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
	HTTPClient    *http.Client
}

// CloudAPIOption configures the Cloud API transport.
type CloudAPIOption func(*CloudAPIOpts)

// WithAccessToken sets the bearer token.
func WithAccessToken(token string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.AccessToken = token }
}

// WithPhoneNumberID sets the sending business phone number id.
func WithPhoneNumberID(id string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.PhoneNumberID = id }
}

// WithGraphBaseURL overrides the Graph API root.
func WithGraphBaseURL(url string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.BaseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets the HTTP client used for sends.
func WithHTTPClient(c *http.Client) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.HTTPClient = c }
}

// CloudAPIService sends text messages through the WhatsApp Cloud API.
// Inbound messages arrive through the HTTP webhook, so Inbound stays empty.
type CloudAPIService struct {
	cfg     CloudAPIOpts
	inbound chan models.InboundMessage
	mu      sync.RWMutex
	stopped bool
}

var _ Service = (*CloudAPIService)(nil)

// NewCloudAPIService validates the configuration and creates the transport.
func NewCloudAPIService(opts ...CloudAPIOption) (*CloudAPIService, error) {
	cfg := CloudAPIOpts{BaseURL: DefaultGraphBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("cloud api: access token and phone number id must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &CloudAPIService{cfg: cfg, inbound: make(chan models.InboundMessage)}, nil
}

type cloudTextMessage struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             cloudTextBody `json:"text"`
}

type cloudTextBody struct {
	Body string `json:"body"`
}

func (s *CloudAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// SendMessage posts a text message. Non-2xx answers become errors carrying
// the response body.
func (s *CloudAPIService) SendMessage(ctx context.Context, to string, body string) error {
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

	payload, err := json.Marshal(cloudTextMessage{
		MessagingProduct: "whatsapp",
		To:               canonicalTo,
		Type:             "text",
		Text:             cloudTextBody{Body: body},
	})
	if err != nil {
		return fmt.Errorf("cloud api: encode message: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", s.cfg.BaseURL, s.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("cloud api: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		slog.Error("CloudAPIService SendMessage failed", "to", canonicalTo, "error", err)
		return fmt.Errorf("cloud api: send to %s: %w", canonicalTo, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		slog.Error("CloudAPIService SendMessage rejected", "to", canonicalTo, "status", resp.StatusCode)
		return fmt.Errorf("cloud api: send to %s: status %d: %s", canonicalTo, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	slog.Debug("CloudAPIService message sent", "to", canonicalTo, "body_length", len(body))
	return nil
}

func (s *CloudAPIService) Start(context.Context) error { return nil }

func (s *CloudAPIService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.inbound)
	}
	return nil
}

func (s *CloudAPIService) Inbound() <-chan models.InboundMessage { return s.inbound }
