// Package intent implements the narrow-topic detectors and the router that
// combines their replies.
package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/chatbotadsmanager/adsmanager/internal/genai"
	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/prompts"
	"github.com/chatbotadsmanager/adsmanager/internal/store"
)

// yesToken is the only accepted classifier answer.
const yesToken = "sí"

// Detector classifies one topic with a yes/no completion and, on yes,
// writes a contextual reply.
type Detector struct {
	def prompts.Detector
	llm genai.Completer
}

// NewDetector builds a detector from its catalogue entry.
func NewDetector(def prompts.Detector, llm genai.Completer) *Detector {
	return &Detector{def: def, llm: llm}
}

// Name returns the detector name.
func (d *Detector) Name() string { return d.def.Name }

// Classify reports whether text matches the topic. Errors count as no.
func (d *Detector) Classify(ctx context.Context, text string) bool {
	answer, err := d.llm.Complete(ctx, genai.Request{
		Profile: genai.ClassifierProfile,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: d.def.Classifier},
			{Role: models.RoleUser, Content: text},
		},
	})
	if err != nil {
		slog.Warn("intent.Detector: classification failed", "detector", d.def.Name, "error", err)
		return false
	}
	return strings.Contains(strings.ToLower(strings.TrimSpace(answer)), yesToken)
}

// Reply writes the contextual answer over the recent window of history.
// On failure the static fallback is returned.
func (d *Detector) Reply(ctx context.Context, text string, history []models.Message) string {
	window := models.RecentWindow(history, store.DefaultRecentUser, store.DefaultRecentAssistant)
	msgs := make([]models.Message, 0, len(window)+2)
	msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: d.def.Helper})
	msgs = append(msgs, window...)
	if !endsWithUser(window, text) {
		msgs = append(msgs, models.Message{Role: models.RoleUser, Content: text})
	}
	reply, err := d.llm.Complete(ctx, genai.Request{
		Profile:  genai.HelperProfile(d.def.HelperMaxTokens),
		Messages: msgs,
	})
	if err != nil || reply == "" {
		slog.Warn("intent.Detector: helper reply failed, using fallback", "detector", d.def.Name, "error", err)
		return d.def.Fallback
	}
	return reply
}

// Detect runs the classifier and, on a match, the helper.
func (d *Detector) Detect(ctx context.Context, text string, history []models.Message) models.IntentResult {
	if !d.Classify(ctx, text) {
		return models.IntentResult{}
	}
	slog.Debug("intent.Detector: matched", "detector", d.def.Name)
	return models.IntentResult{Matched: true, Reply: d.Reply(ctx, text, history)}
}

func endsWithUser(msgs []models.Message, text string) bool {
	if len(msgs) == 0 {
		return false
	}
	last := msgs[len(msgs)-1]
	return last.Role == models.RoleUser && strings.TrimSpace(last.Content) == strings.TrimSpace(text)
}
