package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

// maxWebhookBody bounds the size of a webhook payload.
const maxWebhookBody = 1 << 20

// verifyHandler answers the Cloud API subscription handshake.
func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	if s.opts.VerifyToken == "" || token != s.opts.VerifyToken {
		slog.Warn("Server.verifyHandler: verification token mismatch", "mode", q.Get("hub.mode"))
		writeTextResponse(w, http.StatusForbidden, invalidTokenText)
		return
	}
	slog.Info("Server.verifyHandler: webhook verified")
	writeTextResponse(w, http.StatusOK, q.Get("hub.challenge"))
}

// webhookHandler processes a Cloud API event notification. Only the first
// message of the first change carrying messages is considered.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("Server.webhookHandler: read body failed", "error", err)
		writeWebhookError(w, http.StatusBadRequest, invalidInputText)
		return
	}
	if !gjson.ValidBytes(body) || !gjson.GetBytes(body, "entry").Exists() {
		slog.Warn("Server.webhookHandler: invalid payload", "bytes", len(body))
		writeWebhookError(w, http.StatusBadRequest, invalidInputText)
		return
	}

	msg, ok := firstTextMessage(body)
	if !ok {
		slog.Debug("Server.webhookHandler: no text message in event")
		writeTextResponse(w, http.StatusOK, resultReceived)
		return
	}

	s.respond(r.Context(), w, msg)
}

// twilioWebhookHandler processes a Twilio form post.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	msg, err := s.opts.Twilio.ParseWebhook(r)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid payload", "error", err)
		writeWebhookError(w, http.StatusBadRequest, invalidInputText)
		return
	}
	s.respond(r.Context(), w, msg)
}

func (s *Server) respond(ctx context.Context, w http.ResponseWriter, msg models.InboundMessage) {
	result, err := s.processInbound(ctx, msg)
	if errors.Is(err, models.ErrInvalidPayload) {
		slog.Warn("Server.respond: rejected message", "id", msg.ID, "from", msg.From, "error", err)
		writeWebhookError(w, http.StatusBadRequest, invalidInputText)
		return
	}
	if err != nil {
		slog.Error("Server.respond: processing failed", "id", msg.ID, "from", msg.From, "error", err)
		writeWebhookError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeTextResponse(w, http.StatusOK, result)
}

// firstTextMessage extracts the first message of the first change whose
// value carries messages. Non-text and blank messages are reported as absent.
func firstTextMessage(body []byte) (models.InboundMessage, bool) {
	var found gjson.Result
	gjson.GetBytes(body, "entry").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("changes").ForEach(func(_, change gjson.Result) bool {
			if msgs := change.Get("value.messages"); msgs.IsArray() && len(msgs.Array()) > 0 {
				found = msgs.Array()[0]
				return false
			}
			return true
		})
		return !found.Exists()
	})
	if !found.Exists() {
		return models.InboundMessage{}, false
	}
	text := found.Get("text.body")
	if !text.Exists() || text.Type != gjson.String || strings.TrimSpace(text.Str) == "" {
		return models.InboundMessage{}, false
	}
	msg := models.InboundMessage{
		ID:   found.Get("id").String(),
		From: found.Get("from").String(),
		Body: text.String(),
		Time: found.Get("timestamp").Int(),
	}
	if msg.Time == 0 {
		msg.Time = time.Now().Unix()
	}
	return msg, true
}

// processInbound runs one message through dedup, first-contact bootstrap or
// the orchestrator, and the outbound send. It returns the webhook result text.
func (s *Server) processInbound(ctx context.Context, msg models.InboundMessage) (string, error) {
	from := strings.TrimSpace(msg.From)
	if strings.TrimSpace(msg.ID) == "" || from == "" || strings.TrimSpace(msg.Body) == "" {
		return "", fmt.Errorf("%w: missing id, sender or text", models.ErrInvalidPayload)
	}

	first, err := s.deps.Dedup.Register(ctx, msg.ID, from)
	if err != nil {
		return "", fmt.Errorf("register message %s: %w", msg.ID, err)
	}
	if !first {
		slog.Info("Server.processInbound: duplicate delivery", "id", msg.ID, "from", from)
		return resultDuplicate, nil
	}

	known, err := s.deps.History.HasHistory(ctx, from)
	if err != nil {
		return "", fmt.Errorf("check history for %s: %w", from, err)
	}
	if !known {
		if err := s.welcome(ctx, from, msg.Body); err != nil {
			return "", err
		}
		s.markProcessed(ctx, msg.ID)
		return resultWelcome, nil
	}

	reply, err := s.deps.Responder.GetResponse(ctx, msg.Body, from)
	if err != nil {
		return "", fmt.Errorf("compute reply for %s: %w", from, err)
	}
	if err := s.deps.Sender.SendMessage(ctx, from, reply); err != nil {
		return "", fmt.Errorf("send reply to %s: %w", from, err)
	}
	s.markProcessed(ctx, msg.ID)
	if err := s.deps.Responder.RecordReply(ctx, from, reply); err != nil {
		return "", err
	}
	slog.Info("Server.processInbound: reply sent", "id", msg.ID, "from", from)
	return resultReceived, nil
}

// welcome bootstraps a first-contact user: the inbound message is logged,
// the record row is created and the fixed welcome text is sent. The welcome
// is not added to the history.
func (s *Server) welcome(ctx context.Context, from, body string) error {
	if err := s.deps.History.Append(ctx, from, models.NewMessage(models.RoleUser, body)); err != nil {
		return fmt.Errorf("append first message for %s: %w", from, err)
	}
	created, err := s.deps.Records.CreateIfAbsent(ctx, models.NewUserRecord(from, s.opts.DefaultCustomerID))
	if err != nil {
		return fmt.Errorf("create record for %s: %w", from, err)
	}
	if err := s.deps.Sender.SendMessage(ctx, from, s.deps.Catalog.Welcome); err != nil {
		return fmt.Errorf("send welcome to %s: %w", from, err)
	}
	slog.Info("Server.welcome: first contact", "from", from, "record_created", created)
	return nil
}

// markProcessed stamps the message. The reply is already out, so a failure
// here is logged and not surfaced.
func (s *Server) markProcessed(ctx context.Context, id string) {
	if err := s.deps.Dedup.MarkProcessed(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("Server.markProcessed: failed", "id", id, "error", err)
	}
}

// rootHandler reports availability.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeTextResponse(w, http.StatusOK, availabilityText)
}

// stopHandler acknowledges the platform stop signal.
func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	slog.Info("Server.stopHandler: stop requested")
	writeTextResponse(w, http.StatusOK, "OK")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
