// Package store provides storage backends for the ads manager.
//
// It defines the three storage contracts used by the conversation pipeline
// (deduplication gate, conversation history, user campaign records) and
// implements them on SQLite, PostgreSQL, DynamoDB and in memory.
package store

import (
	"context"
	"strings"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

// Default read window for conversation history.
const (
	DefaultRecentUser      = 6
	DefaultRecentAssistant = 6
)

// DedupGate guards against processing the same inbound message twice.
type DedupGate interface {
	// Register records messageID and returns true the first time it is seen.
	// Later calls with the same id return false.
	Register(ctx context.Context, messageID, senderID string) (bool, error)

	// MarkProcessed stamps a registered message as fully handled.
	MarkProcessed(ctx context.Context, messageID string) error
}

// ConversationStore is the append-only per-user message log.
type ConversationStore interface {
	// Append adds msg to the user's log, creating the document on first write.
	Append(ctx context.Context, userID string, msg models.Message) error

	// Recent returns the last maxUser user and maxAssistant assistant messages
	// merged in timestamp order.
	Recent(ctx context.Context, userID string, maxUser, maxAssistant int) ([]models.Message, error)

	// HasHistory reports whether any message exists for the user.
	HasHistory(ctx context.Context, userID string) (bool, error)

	// Conversation returns the full document. Unknown users yield ErrRecordNotFound.
	Conversation(ctx context.Context, userID string) (models.Conversation, error)

	// ListConversationIDs returns every user with a conversation document.
	ListConversationIDs(ctx context.Context) ([]string, error)
}

// RecordStore holds one campaign row per phone number.
type RecordStore interface {
	// CreateIfAbsent inserts rec unless a row for rec.Number exists.
	CreateIfAbsent(ctx context.Context, rec models.UserRecord) (bool, error)

	Get(ctx context.Context, phone string) (models.UserRecord, error)
	GetField(ctx context.Context, phone, column string) (string, error)

	// SetField writes one column, creating a skeleton row if none exists.
	SetField(ctx context.Context, phone, column, value string) error
	SetFields(ctx context.Context, phone string, values map[string]string) error

	List(ctx context.Context) ([]models.UserRecord, error)
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN               string
	Table             string
	DefaultCustomerID string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithDynamoTable sets the DynamoDB table name.
func WithDynamoTable(name string) Option {
	return func(o *Opts) { o.Table = name }
}

// WithDefaultCustomerID sets the ads customer id written into new records.
func WithDefaultCustomerID(id string) Option {
	return func(o *Opts) { o.DefaultCustomerID = id }
}

// SQLStore is a database/sql backend serving every storage contract.
type SQLStore interface {
	DedupGate
	ConversationStore
	RecordStore
	Close() error
}

// OpenSQL opens a PostgresStore for PostgreSQL DSNs and an SQLiteStore otherwise.
func OpenSQL(dsn string, opts ...Option) (SQLStore, error) {
	if DetectDSNType(dsn) == "postgres" {
		s, err := NewPostgresStore(append(opts[:len(opts):len(opts)], WithPostgresDSN(dsn))...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := NewSQLiteStore(append(opts[:len(opts):len(opts)], WithSQLiteDSN(dsn))...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") ||
		strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}
