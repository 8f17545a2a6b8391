package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

// sqlBackend carries the conversation and record logic shared by the
// SQLite and PostgreSQL stores. Queries are written with ? placeholders.
type sqlBackend struct {
	db                *sql.DB
	name              string
	bind              func(string) string
	defaultCustomerID string
}

func (b *sqlBackend) q(query string) string {
	if b.bind == nil {
		return query
	}
	return b.bind(query)
}

// Close releases the underlying database handle.
func (b *sqlBackend) Close() error {
	return b.db.Close()
}

func (b *sqlBackend) Append(ctx context.Context, userID string, msg models.Message) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, b.q(
		`INSERT INTO conversations (user_id, display_name, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at`),
		userID, models.DefaultDisplayName, msg.Timestamp,
	); err != nil {
		slog.Error(b.name+" Append upsert conversation failed", "error", err, "user", userID)
		return fmt.Errorf("failed to upsert conversation for %s: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx, b.q(
		`INSERT INTO conversation_messages (user_id, role, content, sent_at) VALUES (?, ?, ?, ?)`),
		userID, msg.Role, msg.Content, msg.Timestamp,
	); err != nil {
		slog.Error(b.name+" Append insert message failed", "error", err, "user", userID)
		return fmt.Errorf("failed to insert message for %s: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append for %s: %w", userID, err)
	}
	slog.Debug(b.name+" Append succeeded", "user", userID, "role", msg.Role)
	return nil
}

func (b *sqlBackend) recentByRole(ctx context.Context, userID, role string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, b.q(
		`SELECT role, content, sent_at FROM (
			SELECT id, role, content, sent_at FROM conversation_messages
			WHERE user_id = ? AND role = ? ORDER BY id DESC LIMIT ?
		) AS recent ORDER BY id ASC`),
		userID, role, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent %s messages: %w", role, err)
	}
	return scanMessages(rows)
}

func (b *sqlBackend) Recent(ctx context.Context, userID string, maxUser, maxAssistant int) ([]models.Message, error) {
	users, err := b.recentByRole(ctx, userID, models.RoleUser, maxUser)
	if err != nil {
		return nil, err
	}
	assistants, err := b.recentByRole(ctx, userID, models.RoleAssistant, maxAssistant)
	if err != nil {
		return nil, err
	}
	return models.MergeByTimestamp(users, assistants), nil
}

func (b *sqlBackend) HasHistory(ctx context.Context, userID string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, b.q(`SELECT 1 FROM conversation_messages WHERE user_id = ? LIMIT 1`), userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("history check failed: %w", err)
	}
	return true, nil
}

func (b *sqlBackend) Conversation(ctx context.Context, userID string) (models.Conversation, error) {
	conv := models.Conversation{UserID: userID}
	err := b.db.QueryRowContext(ctx, b.q(
		`SELECT display_name, updated_at FROM conversations WHERE user_id = ?`), userID,
	).Scan(&conv.DisplayName, &conv.LastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return conv, fmt.Errorf("conversation %s: %w", userID, models.ErrRecordNotFound)
	}
	if err != nil {
		return conv, fmt.Errorf("failed to load conversation %s: %w", userID, err)
	}
	rows, err := b.db.QueryContext(ctx, b.q(
		`SELECT role, content, sent_at FROM conversation_messages WHERE user_id = ? ORDER BY id ASC`), userID)
	if err != nil {
		return conv, fmt.Errorf("failed to query messages for %s: %w", userID, err)
	}
	conv.Messages, err = scanMessages(rows)
	return conv, err
}

func (b *sqlBackend) ListConversationIDs(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT user_id FROM conversations ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *sqlBackend) CreateIfAbsent(ctx context.Context, rec models.UserRecord) (bool, error) {
	if strings.TrimSpace(rec.Number) == "" {
		return false, models.ErrEmptyRecipient
	}
	vals := rec.Values()
	args := make([]interface{}, len(vals))
	marks := make([]string, len(vals))
	for i, v := range vals {
		args[i] = v
		marks[i] = "?"
	}
	res, err := b.db.ExecContext(ctx, b.q(
		`INSERT INTO user_records (`+recordSelectList+`) VALUES (`+strings.Join(marks, ", ")+`)
		 ON CONFLICT (number) DO NOTHING`), args...)
	if err != nil {
		slog.Error(b.name+" CreateIfAbsent failed", "error", err, "number", rec.Number)
		return false, fmt.Errorf("failed to create record %s: %w", rec.Number, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record rows affected check failed: %w", err)
	}
	slog.Debug(b.name+" CreateIfAbsent", "number", rec.Number, "created", n > 0)
	return n > 0, nil
}

func (b *sqlBackend) Get(ctx context.Context, phone string) (models.UserRecord, error) {
	row := b.db.QueryRowContext(ctx, b.q(`SELECT `+recordSelectList+` FROM user_records WHERE number = ?`), phone)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("record %s: %w", phone, models.ErrRecordNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("failed to load record %s: %w", phone, err)
	}
	return rec, nil
}

func (b *sqlBackend) GetField(ctx context.Context, phone, column string) (string, error) {
	if _, err := sqlColumn(column); err != nil {
		return "", err
	}
	rec, err := b.Get(ctx, phone)
	if err != nil {
		return "", err
	}
	return rec.Field(column)
}

func (b *sqlBackend) SetField(ctx context.Context, phone, column, value string) error {
	return b.SetFields(ctx, phone, map[string]string{column: value})
}

func (b *sqlBackend) SetFields(ctx context.Context, phone string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	cols := make([]string, 0, len(values))
	for col := range values {
		if col == models.ColNumber {
			return fmt.Errorf("%w: %q is the row key", models.ErrUnknownColumn, col)
		}
		if _, err := sqlColumn(col); err != nil {
			return err
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	if _, err := b.CreateIfAbsent(ctx, models.NewUserRecord(phone, b.defaultCustomerID)); err != nil {
		return err
	}

	sets := make([]string, len(cols))
	args := make([]interface{}, 0, len(cols)+1)
	for i, col := range cols {
		name, _ := sqlColumn(col)
		sets[i] = name + " = ?"
		args = append(args, values[col])
	}
	args = append(args, phone)
	if _, err := b.db.ExecContext(ctx, b.q(
		`UPDATE user_records SET `+strings.Join(sets, ", ")+` WHERE number = ?`), args...); err != nil {
		slog.Error(b.name+" SetFields failed", "error", err, "number", phone, "columns", cols)
		return fmt.Errorf("failed to update record %s: %w", phone, err)
	}
	slog.Debug(b.name+" SetFields succeeded", "number", phone, "columns", cols)
	return nil
}

func (b *sqlBackend) List(ctx context.Context) ([]models.UserRecord, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT `+recordSelectList+` FROM user_records ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()
	var out []models.UserRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}
	return out, nil
}
