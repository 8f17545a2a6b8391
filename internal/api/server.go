// Package api provides the HTTP server of the ads assistant: the WhatsApp
// Cloud API and Twilio webhooks, the availability endpoints, and the
// pipeline that turns one inbound message into at most one reply.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatbotadsmanager/adsmanager/internal/messaging"
	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/prompts"
	"github.com/chatbotadsmanager/adsmanager/internal/store"
)

// Constants for API server configuration
const (
	// DefaultServerAddress is the default address for the API server
	DefaultServerAddress = ":8080"
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second
	// readHeaderTimeout bounds slow clients.
	readHeaderTimeout = 10 * time.Second
)

// Fixed response texts.
const (
	availabilityText = "Chatbot Ads Manager está en línea y listo para recibir mensajes por WhatsApp."
	invalidTokenText = "Token inválido"
	invalidInputText = "Datos de entrada no válidos"

	resultWelcome   = "Bienvenida enviada"
	resultDuplicate = "Ya procesado"
	resultReceived  = "Evento recibido"
)

// Responder produces the reply to one message from a returning user.
// RecordReply is called only after the reply was sent.
type Responder interface {
	GetResponse(ctx context.Context, text, userID string) (string, error)
	RecordReply(ctx context.Context, userID, reply string) error
}

// WebhookParser extracts a message from a transport-specific webhook request.
type WebhookParser interface {
	ParseWebhook(r *http.Request) (models.InboundMessage, error)
}

// Deps are the collaborators of the server.
type Deps struct {
	Sender    messaging.Sender
	Dedup     store.DedupGate
	History   store.ConversationStore
	Records   store.RecordStore
	Responder Responder
	Catalog   *prompts.Catalog
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr              string
	VerifyToken       string
	DefaultCustomerID string
	Twilio            WebhookParser
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the Cloud API webhook verification token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithDefaultCustomerID sets the ads customer id written into new records.
func WithDefaultCustomerID(id string) Option {
	return func(o *Opts) { o.DefaultCustomerID = id }
}

// WithTwilioWebhook enables POST /twilio/webhook.
func WithTwilioWebhook(p WebhookParser) Option {
	return func(o *Opts) { o.Twilio = p }
}

// Server handles webhook traffic.
type Server struct {
	deps Deps
	opts Opts
}

// NewServer creates a server. Every field of deps is required.
func NewServer(deps Deps, opts ...Option) (*Server, error) {
	cfg := Opts{Addr: DefaultServerAddress, DefaultCustomerID: models.DefaultCustomerID}
	for _, opt := range opts {
		opt(&cfg)
	}
	if deps.Sender == nil || deps.Dedup == nil || deps.History == nil || deps.Records == nil || deps.Responder == nil || deps.Catalog == nil {
		return nil, errors.New("api: incomplete server dependencies")
	}
	if cfg.VerifyToken == "" {
		slog.Warn("api.NewServer: no verify token configured; webhook verification will always fail")
	}
	return &Server{deps: deps, opts: cfg}, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", s.verifyHandler)
	mux.HandleFunc("POST /webhook", s.webhookHandler)
	if s.opts.Twilio != nil {
		mux.HandleFunc("POST /twilio/webhook", s.twilioWebhookHandler)
	}
	mux.HandleFunc("GET /{$}", s.rootHandler)
	mux.HandleFunc("GET /_ah/stop", s.stopHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: listen on %s: %w", s.opts.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// ConsumeInbound processes messages from a streaming transport until ch is
// closed or ctx is canceled. Failures are logged and the loop continues.
func (s *Server) ConsumeInbound(ctx context.Context, ch <-chan models.InboundMessage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			result, err := s.processInbound(ctx, msg)
			if err != nil {
				slog.Error("Server.ConsumeInbound: processing failed", "id", msg.ID, "from", msg.From, "error", err)
				continue
			}
			slog.Debug("Server.ConsumeInbound: processed", "id", msg.ID, "result", result)
		}
	}
}
