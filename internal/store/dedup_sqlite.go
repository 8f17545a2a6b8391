package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Register inserts the message id with INSERT OR IGNORE. The primary key makes
// the first writer win even across concurrent deliveries.
func (s *SQLiteStore) Register(ctx context.Context, messageID, senderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_messages (message_id, sender_id, received_at) VALUES (?, ?, ?)`,
		messageID, senderID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("register inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	slog.Debug("SQLiteStore Register", "message_id", messageID, "first", n > 0)
	return n > 0, nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE processed_messages SET processed_at = ? WHERE message_id = ?`,
		time.Now().UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
