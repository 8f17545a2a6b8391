package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

func (s *PostgresStore) Register(ctx context.Context, messageID, senderID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages (message_id, sender_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
		messageID, senderID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("register inbound failed: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	slog.Debug("PostgresStore Register", "message_id", messageID, "first", n > 0)
	return n > 0, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE processed_messages SET processed_at = $1 WHERE message_id = $2`,
		time.Now().UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
