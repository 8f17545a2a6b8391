package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/chatbotadsmanager/adsmanager/internal/genai"
	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/prompts"
	"github.com/chatbotadsmanager/adsmanager/internal/store"
)

// Result is the outcome of routing one message. When Handled is false the
// caller continues with a general completion over History.
type Result struct {
	Reply   string
	Handled bool
	History []models.Message
}

// Router runs every detector over a message and merges their replies.
type Router struct {
	detectors []*Detector
	llm       genai.Completer
	catalog   *prompts.Catalog
}

// NewRouter registers the catalogue detectors in catalogue order.
func NewRouter(llm genai.Completer, catalog *prompts.Catalog) *Router {
	r := &Router{llm: llm, catalog: catalog}
	for _, def := range catalog.Detectors {
		r.detectors = append(r.detectors, NewDetector(def, llm))
	}
	return r
}

// Detectors returns the registered detector names in order.
func (r *Router) Detectors() []string {
	names := make([]string, len(r.detectors))
	for i, d := range r.detectors {
		names[i] = d.Name()
	}
	return names
}

// Route classifies text against history. Detectors run concurrently; their
// replies are kept in registration order.
func (r *Router) Route(ctx context.Context, text string, history []models.Message) Result {
	working := models.DedupHistory(history)

	results := make([]models.IntentResult, len(r.detectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range r.detectors {
		g.Go(func() error {
			results[i] = d.Detect(gctx, text, working)
			return nil
		})
	}
	_ = g.Wait()

	var replies []string
	for _, res := range results {
		if res.Matched {
			replies = append(replies, res.Reply)
		}
	}
	slog.Debug("intent.Router: detectors finished", "matches", len(replies))

	switch len(replies) {
	case 0:
		if !endsWithUser(working, text) {
			working = append(working, models.NewMessage(models.RoleUser, text))
		}
		return Result{History: working}
	case 1:
		return Result{Reply: replies[0], Handled: true, History: working}
	default:
		return Result{Reply: r.fuse(ctx, working, replies), Handled: true, History: working}
	}
}

// fuse merges several detector replies into one message.
func (r *Router) fuse(ctx context.Context, history []models.Message, replies []string) string {
	var b strings.Builder
	for i, reply := range replies {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, reply)
	}
	window := models.RecentWindow(history, store.DefaultRecentUser, store.DefaultRecentAssistant)
	msgs := make([]models.Message, 0, len(window)+2)
	msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: r.catalog.Router.FusionSystem})
	msgs = append(msgs, window...)
	msgs = append(msgs, models.Message{Role: models.RoleUser, Content: b.String()})

	out, err := r.llm.Complete(ctx, genai.Request{Profile: genai.FusionProfile, Messages: msgs})
	if err != nil || out == "" {
		slog.Error("intent.Router: fusion failed", "replies", len(replies), "error", err)
		return r.catalog.Router.FusionErrorReply
	}
	return out
}
