// Package flow decides, per inbound message, which component writes the
// reply, and records both sides of every delivered exchange in the
// conversation store.
package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chatbotadsmanager/adsmanager/internal/agent"
	"github.com/chatbotadsmanager/adsmanager/internal/genai"
	"github.com/chatbotadsmanager/adsmanager/internal/intent"
	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/prompts"
	"github.com/chatbotadsmanager/adsmanager/internal/store"
)

// CampaignAgent collects the campaign inputs.
type CampaignAgent interface {
	NeedsAgent(ctx context.Context, phone string) (bool, error)
	Run(ctx context.Context, text, phone string, history []models.Message) (agent.Outcome, error)
}

// IntentRouter answers narrow-topic questions.
type IntentRouter interface {
	Route(ctx context.Context, text string, history []models.Message) intent.Result
}

// Orchestrator produces the reply to one inbound message.
type Orchestrator struct {
	history store.ConversationStore
	agent   CampaignAgent
	router  IntentRouter
	general *General
}

// NewOrchestrator wires the reply paths together.
func NewOrchestrator(history store.ConversationStore, a CampaignAgent, r IntentRouter, llm genai.Completer, catalog *prompts.Catalog) *Orchestrator {
	return &Orchestrator{
		history: history,
		agent:   a,
		router:  r,
		general: NewGeneral(llm, catalog),
	}
}

// GetResponse returns the reply for text from userID and appends the user
// message to the conversation store. The reply is recorded by RecordReply
// once it has been delivered.
func (o *Orchestrator) GetResponse(ctx context.Context, text, userID string) (string, error) {
	userMsg := models.NewMessage(models.RoleUser, text)

	history, err := o.history.Recent(ctx, userID, store.DefaultRecentUser, store.DefaultRecentAssistant)
	if err != nil {
		return "", fmt.Errorf("flow: read history for %s: %w", userID, err)
	}

	needsAgent, err := o.agent.NeedsAgent(ctx, userID)
	if err != nil {
		return "", err
	}

	var reply string
	if needsAgent {
		slog.Debug("flow.GetResponse: campaign inputs missing, using agent", "user", userID)
		out, err := o.agent.Run(ctx, text, userID, history)
		if err != nil {
			return "", err
		}
		reply = out.Reply
	} else {
		res := o.router.Route(ctx, text, history)
		if res.Handled {
			slog.Debug("flow.GetResponse: intent reply", "user", userID)
			reply = res.Reply
		} else {
			reply = o.general.Respond(ctx, res.History)
		}
	}

	if err := o.history.Append(ctx, userID, userMsg); err != nil {
		return "", fmt.Errorf("flow: append user message for %s: %w", userID, err)
	}
	return reply, nil
}

// RecordReply appends a delivered reply to the conversation of userID.
func (o *Orchestrator) RecordReply(ctx context.Context, userID, reply string) error {
	if err := o.history.Append(ctx, userID, models.NewMessage(models.RoleAssistant, reply)); err != nil {
		return fmt.Errorf("flow: append reply for %s: %w", userID, err)
	}
	return nil
}
