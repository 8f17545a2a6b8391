package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

// recordSQLColumns maps record store column names to SQL column names, in models.Columns order.
var recordSQLColumns = map[string]string{
	models.ColNumber:           "number",
	models.ColCustomerID:       "customer_id",
	models.ColCampaignName:     "campaign_name",
	models.ColCampaignID:       "campaign_id",
	models.ColRequestedBudget:  "requested_budget",
	models.ColAssignedBudget:   "assigned_budget",
	models.ColCampaignStatus:   "campaign_status",
	models.ColTotalSpend:       "total_spend",
	models.ColAdGroupID:        "ad_group_id",
	models.ColAdGroupName:      "ad_group_name",
	models.ColAdGroupStatus:    "ad_group_status",
	models.ColTitles:           "titles",
	models.ColDescriptions:     "descriptions",
	models.ColKeywords:         "keywords",
	models.ColSegmentation:     "segmentation",
	models.ColStartDate:        "start_date",
	models.ColEndDate:          "end_date",
	models.ColValidationStatus: "validation_status",
	models.ColCampaignState:    "campaign_state",
	models.ColAdState:          "ad_state",
}

// recordSelectList is the SELECT column list matching models.Columns order.
var recordSelectList = func() string {
	names := make([]string, len(models.Columns))
	for i, col := range models.Columns {
		names[i] = recordSQLColumns[col]
	}
	return strings.Join(names, ", ")
}()

// sqlColumn resolves a writable record column.
func sqlColumn(column string) (string, error) {
	name, ok := recordSQLColumns[column]
	if !ok {
		return "", fmt.Errorf("%w: %q", models.ErrUnknownColumn, column)
	}
	return name, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a row selected with recordSelectList.
func scanRecord(row rowScanner) (models.UserRecord, error) {
	vals := make([]sql.NullString, len(models.Columns))
	dest := make([]interface{}, len(vals))
	for i := range vals {
		dest[i] = &vals[i]
	}
	var rec models.UserRecord
	if err := row.Scan(dest...); err != nil {
		return rec, err
	}
	for i, col := range models.Columns {
		if err := rec.Set(col, vals[i].String); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// scanMessages drains rows of (role, content, sent_at).
func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return msgs, nil
}

// rebindDollar rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
