package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

var (
	_ ConversationStore = (*InMemoryStore)(nil)
	_ RecordStore       = (*InMemoryStore)(nil)
)

// InMemoryStore keeps everything in process memory. It backs tests and
// local runs without a database.
type InMemoryStore struct {
	mu                sync.Mutex
	processed         map[string]DedupRecord
	conversations     map[string]*models.Conversation
	records           map[string]models.UserRecord
	defaultCustomerID string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &InMemoryStore{
		processed:         make(map[string]DedupRecord),
		conversations:     make(map[string]*models.Conversation),
		records:           make(map[string]models.UserRecord),
		defaultCustomerID: cfg.DefaultCustomerID,
	}
}

func (s *InMemoryStore) Register(_ context.Context, messageID, senderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[messageID]; ok {
		return false, nil
	}
	s.processed[messageID] = DedupRecord{MessageID: messageID, SenderID: senderID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.processed[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.processed[messageID] = rec
	return nil
}

func (s *InMemoryStore) Append(_ context.Context, userID string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[userID]
	if !ok {
		conv = &models.Conversation{UserID: userID, DisplayName: models.DefaultDisplayName}
		s.conversations[userID] = conv
	}
	conv.Messages = append(conv.Messages, msg)
	conv.LastUpdate = msg.Timestamp
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, userID string, maxUser, maxAssistant int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[userID]
	if !ok {
		return nil, nil
	}
	return models.RecentWindow(conv.Messages, maxUser, maxAssistant), nil
}

func (s *InMemoryStore) HasHistory(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[userID]
	return ok && len(conv.Messages) > 0, nil
}

func (s *InMemoryStore) Conversation(_ context.Context, userID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[userID]
	if !ok {
		return models.Conversation{UserID: userID}, fmt.Errorf("conversation %s: %w", userID, models.ErrRecordNotFound)
	}
	out := *conv
	out.Messages = append([]models.Message(nil), conv.Messages...)
	return out, nil
}

func (s *InMemoryStore) ListConversationIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) CreateIfAbsent(_ context.Context, rec models.UserRecord) (bool, error) {
	if strings.TrimSpace(rec.Number) == "" {
		return false, models.ErrEmptyRecipient
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Number]; ok {
		return false, nil
	}
	s.records[rec.Number] = rec
	return true, nil
}

func (s *InMemoryStore) Get(_ context.Context, phone string) (models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[phone]
	if !ok {
		return rec, fmt.Errorf("record %s: %w", phone, models.ErrRecordNotFound)
	}
	return rec, nil
}

func (s *InMemoryStore) GetField(ctx context.Context, phone, column string) (string, error) {
	if !models.IsKnownColumn(column) {
		return "", fmt.Errorf("%w: %q", models.ErrUnknownColumn, column)
	}
	rec, err := s.Get(ctx, phone)
	if err != nil {
		return "", err
	}
	return rec.Field(column)
}

func (s *InMemoryStore) SetField(ctx context.Context, phone, column, value string) error {
	return s.SetFields(ctx, phone, map[string]string{column: value})
}

func (s *InMemoryStore) SetFields(_ context.Context, phone string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[phone]
	if !ok {
		rec = models.NewUserRecord(phone, s.defaultCustomerID)
	}
	for col, v := range values {
		if col == models.ColNumber {
			return fmt.Errorf("%w: %q is the row key", models.ErrUnknownColumn, col)
		}
		if err := rec.Set(col, v); err != nil {
			return err
		}
	}
	s.records[phone] = rec
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UserRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}
