// Package agent implements the campaign-creation agent: a JSON-mode model
// conversation that collects the five campaign inputs and writes them to the
// record store.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/chatbotadsmanager/adsmanager/internal/genai"
	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/prompts"
	"github.com/chatbotadsmanager/adsmanager/internal/store"
	"github.com/chatbotadsmanager/adsmanager/internal/util"
)

// historyWindow is the number of trailing history entries sent to the model.
const historyWindow = 6

// Outcome is the result of one agent turn.
type Outcome struct {
	Reply string
	Done  bool
}

// Agent drives the campaign-input conversation for one user at a time.
type Agent struct {
	records store.RecordStore
	llm     genai.Completer
	catalog *prompts.Catalog
}

// New creates an agent.
func New(records store.RecordStore, llm genai.Completer, catalog *prompts.Catalog) *Agent {
	return &Agent{records: records, llm: llm, catalog: catalog}
}

// NeedsAgent reports whether any campaign input is still empty for phone.
// A missing row needs the agent.
func (a *Agent) NeedsAgent(ctx context.Context, phone string) (bool, error) {
	rec, err := a.records.Get(ctx, phone)
	if errors.Is(err, models.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("agent: read record %s: %w", phone, err)
	}
	return !rec.CampaignInputsComplete(), nil
}

// Run asks the model for the next question or the final campaign fields.
// Model failures yield a fallback reply and write nothing; record store
// failures are returned.
func (a *Agent) Run(ctx context.Context, text, phone string, history []models.Message) (Outcome, error) {
	rec, err := a.records.Get(ctx, phone)
	if err != nil && !errors.Is(err, models.ErrRecordNotFound) {
		return Outcome{}, fmt.Errorf("agent: read record %s: %w", phone, err)
	}

	msgs := make([]models.Message, 0, historyWindow+2)
	msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: a.catalog.AgentSystem(a.Summary(phone, rec))})
	msgs = append(msgs, tail(history, historyWindow)...)
	msgs = append(msgs, models.Message{Role: models.RoleUser, Content: text})

	raw, err := a.llm.Complete(ctx, genai.Request{Profile: genai.AgentProfile, Messages: msgs})
	if err != nil {
		slog.Error("agent.Run: completion failed", "phone", phone, "error", err)
		return Outcome{Reply: a.catalog.Agent.ErrorReply}, nil
	}
	out, err := ParseOutput(raw)
	if err != nil {
		slog.Warn("agent.Run: rejected model output", "phone", phone, "error", err)
		return Outcome{Reply: a.catalog.Agent.ParseErrorReply}, nil
	}

	if len(out.Fields) > 0 {
		if err := a.records.SetFields(ctx, phone, out.Fields); err != nil {
			return Outcome{}, fmt.Errorf("agent: write fields for %s: %w", phone, err)
		}
		slog.Info("agent.Run: fields saved", "phone", phone, "fields", len(out.Fields))
	}

	if out.Finalized() {
		checkBounds(phone, out.Fields)
		slog.Info("agent.Run: campaign inputs finalized", "phone", phone)
		return Outcome{Reply: a.catalog.Agent.FinalizedReply, Done: true}, nil
	}
	if out.Message == "" {
		return Outcome{Reply: a.catalog.Agent.EmptyReply}, nil
	}
	return Outcome{Reply: out.Message}, nil
}

// Summary renders the current campaign inputs so the model does not ask again.
func (a *Agent) Summary(phone string, rec models.UserRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, a.catalog.Agent.SummaryHeader, phone)
	b.WriteByte('\n')
	for _, col := range models.CampaignInputColumns {
		v, _ := rec.Field(col)
		if v = strings.TrimSpace(v); v == "" {
			v = a.catalog.Agent.EmptyValue
		}
		fmt.Fprintf(&b, "- %s: %s\n", col, v)
	}
	return b.String()
}

// checkBounds logs ad copy that the ad-creation job will later refuse.
func checkBounds(phone string, fields map[string]string) {
	titles := util.SplitItems(fields[models.ColTitles], util.TextItemSeps)
	descs := util.SplitItems(fields[models.ColDescriptions], util.TextItemSeps)
	keywords := util.SplitItems(fields[models.ColKeywords], util.KeywordItemSeps)

	var problems []string
	if len(titles) < models.MinTitles || len(titles) > models.MaxTitles {
		problems = append(problems, fmt.Sprintf("titles=%d", len(titles)))
	}
	if len(descs) < models.MinDescriptions || len(descs) > models.MaxDescriptions {
		problems = append(problems, fmt.Sprintf("descriptions=%d", len(descs)))
	}
	if len(keywords) > models.MaxKeywords {
		problems = append(problems, fmt.Sprintf("keywords=%d", len(keywords)))
	}
	for _, t := range titles {
		if utf8.RuneCountInString(t) > models.MaxTitleLen {
			problems = append(problems, "title too long: "+t)
		}
	}
	for _, d := range descs {
		if utf8.RuneCountInString(d) > models.MaxDescriptionLen {
			problems = append(problems, "description too long: "+d)
		}
	}
	if len(problems) > 0 {
		slog.Warn("agent.checkBounds: ad copy outside ad creation bounds", "phone", phone, "problems", problems)
	}
}

func tail(msgs []models.Message, n int) []models.Message {
	if len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}
