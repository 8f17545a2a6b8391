package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/chatbotadsmanager/adsmanager/internal/genai"
	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/prompts"
)

// excerptEntries is how many trailing history entries the system prompt quotes.
const excerptEntries = 3

// General writes short free-form replies when no intent matched.
type General struct {
	llm     genai.Completer
	catalog *prompts.Catalog
}

// NewGeneral creates the free-form responder.
func NewGeneral(llm genai.Completer, catalog *prompts.Catalog) *General {
	return &General{llm: llm, catalog: catalog}
}

// Respond completes over history and trims the answer to the chat limits.
func (g *General) Respond(ctx context.Context, history []models.Message) string {
	msgs := make([]models.Message, 0, len(history)+1)
	msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: g.catalog.GeneralSystem(Excerpt(history, excerptEntries))})
	msgs = append(msgs, history...)

	out, err := g.llm.Complete(ctx, genai.Request{Profile: genai.GeneralProfile, Messages: msgs})
	if err != nil {
		slog.Error("flow.General: completion failed", "error", err)
		return g.catalog.General.ErrorReply
	}
	return TrimReply(out, g.catalog.General.MaxLines, g.catalog.General.MaxWords)
}

// Excerpt renders the last n entries as "role: content" lines.
func Excerpt(history []models.Message, n int) string {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = m.Role + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

// TrimReply keeps the first maxLines non-empty lines and, when the result is
// longer than maxWords words, only the first maxWords words joined by spaces.
func TrimReply(text string, maxLines, maxWords int) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
		if len(kept) == maxLines {
			break
		}
	}
	out := strings.Join(kept, "\n")
	if words := strings.Fields(out); len(words) > maxWords {
		out = strings.Join(words[:maxWords], " ")
	}
	return out
}
