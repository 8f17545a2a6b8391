// Package sheets implements the record store on a Google Sheets worksheet.
//
// The worksheet carries a header row in row 1; every later row is one user,
// located by the value in its "Number" column.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/store"
)

// Defaults for the production worksheet.
const (
	DefaultSpreadsheetID = "16MQ_9loHwG1JGV24oD4Qh8XL8hSUU08ZteTEHW12H1U"
	DefaultWorksheet     = "Interacciones_Reales_v01"
	valueInputOption     = "USER_ENTERED"
)

var _ store.RecordStore = (*RecordStore)(nil)

// valuesAPI is the slice of the Sheets values API the record store needs.
type valuesAPI interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
	Update(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error
	Append(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error
}

// Opts holds configuration for the Sheets record store.
type Opts struct {
	SpreadsheetID     string
	Worksheet         string
	CredentialsFile   string
	DefaultCustomerID string
}

// Option configures the record store.
type Option func(*Opts)

// WithSpreadsheetID selects the spreadsheet.
func WithSpreadsheetID(id string) Option {
	return func(o *Opts) { o.SpreadsheetID = id }
}

// WithWorksheet selects the worksheet (tab) name.
func WithWorksheet(name string) Option {
	return func(o *Opts) { o.Worksheet = name }
}

// WithCredentialsFile points at a service-account JSON key. Without it,
// application default credentials are used.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) { o.CredentialsFile = path }
}

// WithDefaultCustomerID sets the ads customer id written into new rows.
func WithDefaultCustomerID(id string) Option {
	return func(o *Opts) { o.DefaultCustomerID = id }
}

// RecordStore reads and writes user rows in one worksheet.
type RecordStore struct {
	mu                sync.Mutex
	api               valuesAPI
	spreadsheetID     string
	worksheet         string
	defaultCustomerID string
	header            []string
	colIndex          map[string]int
}

// New connects to the Sheets API and loads the worksheet header.
func New(ctx context.Context, opts ...Option) (*RecordStore, error) {
	cfg := applyOpts(opts)
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	} else {
		creds, err := google.FindDefaultCredentials(ctx, gsheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("sheets: find default credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	}
	svc, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return newWithAPI(ctx, &serviceValues{svc: svc}, cfg)
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{SpreadsheetID: DefaultSpreadsheetID, Worksheet: DefaultWorksheet}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func newWithAPI(ctx context.Context, api valuesAPI, cfg Opts) (*RecordStore, error) {
	s := &RecordStore{
		api:               api,
		spreadsheetID:     cfg.SpreadsheetID,
		worksheet:         cfg.Worksheet,
		defaultCustomerID: cfg.DefaultCustomerID,
	}
	rows, err := api.Get(ctx, s.spreadsheetID, s.worksheet+"!1:1")
	if err != nil {
		return nil, fmt.Errorf("sheets: read header: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("sheets: worksheet has no header row")
	}
	s.header = make([]string, len(rows[0]))
	s.colIndex = make(map[string]int, len(rows[0]))
	for i, v := range rows[0] {
		name := strings.TrimSpace(fmt.Sprint(v))
		s.header[i] = name
		s.colIndex[name] = i
	}
	if _, ok := s.colIndex[models.ColNumber]; !ok {
		return nil, fmt.Errorf("sheets: header lacks %q column", models.ColNumber)
	}
	slog.Debug("sheets.RecordStore: header loaded", "worksheet", s.worksheet, "columns", len(s.header))
	return s, nil
}

// readAll returns every data row (header excluded).
func (s *RecordStore) readAll(ctx context.Context) ([][]interface{}, error) {
	rows, err := s.api.Get(ctx, s.spreadsheetID, s.worksheet)
	if err != nil {
		return nil, fmt.Errorf("sheets: read worksheet: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil
}

// findRow returns the 1-based sheet row number for phone, or 0.
func (s *RecordStore) findRow(ctx context.Context, phone string) (int, []interface{}, error) {
	rows, err := s.readAll(ctx)
	if err != nil {
		return 0, nil, err
	}
	idx := s.colIndex[models.ColNumber]
	want := strings.TrimSpace(phone)
	for i, row := range rows {
		if cellString(row, idx) == want {
			return i + 2, row, nil
		}
	}
	return 0, nil, nil
}

func (s *RecordStore) toRecord(row []interface{}) models.UserRecord {
	var rec models.UserRecord
	for i, name := range s.header {
		if models.IsKnownColumn(name) {
			_ = rec.Set(name, cellString(row, i))
		}
	}
	return rec
}

func (s *RecordStore) toRow(rec models.UserRecord) []interface{} {
	row := make([]interface{}, len(s.header))
	for i, name := range s.header {
		v, err := rec.Field(name)
		if err != nil {
			v = ""
		}
		row[i] = v
	}
	return row
}

func (s *RecordStore) CreateIfAbsent(ctx context.Context, rec models.UserRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createIfAbsentLocked(ctx, rec)
}

func (s *RecordStore) createIfAbsentLocked(ctx context.Context, rec models.UserRecord) (bool, error) {
	if strings.TrimSpace(rec.Number) == "" {
		return false, models.ErrEmptyRecipient
	}
	rowNum, _, err := s.findRow(ctx, rec.Number)
	if err != nil {
		return false, err
	}
	if rowNum > 0 {
		return false, nil
	}
	if err := s.api.Append(ctx, s.spreadsheetID, s.worksheet, [][]interface{}{s.toRow(rec)}); err != nil {
		return false, fmt.Errorf("sheets: append row for %s: %w", rec.Number, err)
	}
	slog.Info("sheets.RecordStore: row created", "number", rec.Number)
	return true, nil
}

func (s *RecordStore) Get(ctx context.Context, phone string) (models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rowNum, row, err := s.findRow(ctx, phone)
	if err != nil {
		return models.UserRecord{}, err
	}
	if rowNum == 0 {
		return models.UserRecord{}, fmt.Errorf("record %s: %w", phone, models.ErrRecordNotFound)
	}
	return s.toRecord(row), nil
}

func (s *RecordStore) GetField(ctx context.Context, phone, column string) (string, error) {
	idx, ok := s.colIndex[column]
	if !ok {
		return "", fmt.Errorf("%w: %q", models.ErrUnknownColumn, column)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rowNum, row, err := s.findRow(ctx, phone)
	if err != nil {
		return "", err
	}
	if rowNum == 0 {
		return "", fmt.Errorf("record %s: %w", phone, models.ErrRecordNotFound)
	}
	return cellString(row, idx), nil
}

func (s *RecordStore) SetField(ctx context.Context, phone, column, value string) error {
	return s.SetFields(ctx, phone, map[string]string{column: value})
}

func (s *RecordStore) SetFields(ctx context.Context, phone string, values map[string]string) error {
	for col := range values {
		if _, ok := s.colIndex[col]; !ok || col == models.ColNumber {
			return fmt.Errorf("%w: %q", models.ErrUnknownColumn, col)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rowNum, _, err := s.findRow(ctx, phone)
	if err != nil {
		return err
	}
	if rowNum == 0 {
		if _, err := s.createIfAbsentLocked(ctx, models.NewUserRecord(phone, s.defaultCustomerID)); err != nil {
			return err
		}
		if rowNum, _, err = s.findRow(ctx, phone); err != nil {
			return err
		}
		if rowNum == 0 {
			return fmt.Errorf("sheets: row for %s missing after append: %w", phone, models.ErrRecordNotFound)
		}
	}
	for col, v := range values {
		cell := fmt.Sprintf("%s!%s%d", s.worksheet, columnLetter(s.colIndex[col]), rowNum)
		if err := s.api.Update(ctx, s.spreadsheetID, cell, [][]interface{}{{v}}); err != nil {
			return fmt.Errorf("sheets: update %s: %w", cell, err)
		}
		slog.Debug("sheets.RecordStore: cell updated", "number", phone, "column", col)
	}
	return nil
}

func (s *RecordStore) List(ctx context.Context) ([]models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.UserRecord, 0, len(rows))
	for _, row := range rows {
		rec := s.toRecord(row)
		if rec.Number == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func cellString(row []interface{}, idx int) string {
	if idx < 0 || idx >= len(row) || row[idx] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[idx]))
}

// columnLetter converts a 0-based column index to A1 letters (0 -> A, 26 -> AA).
func columnLetter(idx int) string {
	var out []byte
	for n := idx + 1; n > 0; n = (n - 1) / 26 {
		out = append([]byte{byte('A' + (n-1)%26)}, out...)
	}
	return string(out)
}

// serviceValues adapts *sheets.Service to valuesAPI.
type serviceValues struct {
	svc *gsheets.Service
}

func (v *serviceValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	resp, err := v.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (v *serviceValues) Update(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error {
	_, err := v.svc.Spreadsheets.Values.Update(spreadsheetID, rng, &gsheets.ValueRange{Values: values}).
		ValueInputOption(valueInputOption).Context(ctx).Do()
	return err
}

func (v *serviceValues) Append(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error {
	_, err := v.svc.Spreadsheets.Values.Append(spreadsheetID, rng, &gsheets.ValueRange{Values: values}).
		ValueInputOption(valueInputOption).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}
