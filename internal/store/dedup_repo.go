package store

import (
	"time"
)

// DedupRecord represents one accepted inbound message.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	SenderID    string     `json:"sender_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// Compile-time checks that every backend implements DedupGate.
var (
	_ DedupGate = (*SQLiteStore)(nil)
	_ DedupGate = (*PostgresStore)(nil)
	_ DedupGate = (*DynamoStore)(nil)
	_ DedupGate = (*InMemoryStore)(nil)
)
