// Package sheets implements kickstarter.RowStore on the Google Sheets v4
// values API.
package sheets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/kickstarter"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/metrics"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/ratelimit"
)

// Sheet layout. Columns are 0-based indexes into a row.
const (
	colURL         = 1 // B
	colProductName = 2 // C
	colMakerName   = 3 // D
	colCreatorName = 4 // E
	colPrimary     = 8 // I
	colSecondary   = 9 // J

	scanColumns = "A:J"

	// DefaultSheetName is used when none is configured.
	DefaultSheetName = "kickstarter"
	// DefaultMinReportLength is the rune count at which a primary report cell
	// counts as done.
	DefaultMinReportLength = 100
)

// Config identifies the sheet and the idempotency threshold.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	MinReportLength int

	// RequestsPerMinute caps calls against the spreadsheet. Zero disables the cap.
	RequestsPerMinute float64
}

// AuthConfig selects credentials for the Sheets service. With neither field
// set, Application Default Credentials are used.
type AuthConfig struct {
	CredentialsJSON string
	CredentialsFile string
	Endpoint        string
}

// Store reads pending rows and writes reports back to the sheet.
type Store struct {
	svc     *gsheets.Service
	cfg     Config
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewService builds an authenticated Sheets client.
func NewService(ctx context.Context, auth AuthConfig, extra ...option.ClientOption) (*gsheets.Service, error) {
	opts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	switch {
	case auth.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(auth.CredentialsJSON)))
	case auth.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(auth.CredentialsFile))
	}
	if auth.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(auth.Endpoint))
	}
	opts = append(opts, extra...)
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// New wraps svc as a row store.
func New(svc *gsheets.Service, cfg Config, logger *zap.Logger) (*Store, error) {
	if svc == nil {
		return nil, fmt.Errorf("sheets service is required")
	}
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = DefaultSheetName
	}
	if cfg.MinReportLength <= 0 {
		cfg.MinReportLength = DefaultMinReportLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		svc:     svc,
		cfg:     cfg,
		limiter: ratelimit.New(ratelimit.Config{PerMinute: cfg.RequestsPerMinute}),
		logger:  logger,
	}, nil
}

// ScanPending returns rows with a URL whose primary report cell is shorter
// than MinReportLength. On a read error it returns an empty slice and the error.
func (s *Store) ScanPending(ctx context.Context) ([]kickstarter.WorkItem, error) {
	readRange := sheetRef(s.cfg.SheetName) + "!" + scanColumns
	if err := s.throttle(ctx); err != nil {
		return []kickstarter.WorkItem{}, err
	}
	resp, err := s.svc.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		s.logger.Error("read spreadsheet failed", zap.String("range", readRange), zap.Error(err))
		return []kickstarter.WorkItem{}, fmt.Errorf("read %s: %w", readRange, err)
	}
	items := selectPending(resp.Values, s.cfg.MinReportLength)
	s.logger.Info("spreadsheet scanned",
		zap.Int("rows", len(resp.Values)),
		zap.Int("pending", len(items)))
	return items, nil
}

// WriteReport writes primary to column I and, when non-empty, secondary to
// column J. The cells are updated independently; the first error is returned.
func (s *Store) WriteReport(ctx context.Context, row int, primary, secondary string) error {
	if err := s.updateCell(ctx, row, colPrimary, primary); err != nil {
		metrics.ObserveSheetWrite("report", err)
		return err
	}
	if secondary != "" {
		if err := s.updateCell(ctx, row, colSecondary, secondary); err != nil {
			metrics.ObserveSheetWrite("report", err)
			return err
		}
	}
	metrics.ObserveSheetWrite("report", nil)
	s.logger.Info("report written", zap.Int("row", row), zap.Bool("secondary", secondary != ""))
	return nil
}

// WriteError leaves message in the primary report cell.
func (s *Store) WriteError(ctx context.Context, row int, message string) error {
	err := s.updateCell(ctx, row, colPrimary, message)
	metrics.ObserveSheetWrite("error", err)
	return err
}

func (s *Store) updateCell(ctx context.Context, row, col int, value string) error {
	if row < 1 {
		return fmt.Errorf("invalid row %d", row)
	}
	cell := cellRange(s.cfg.SheetName, col, row)
	if err := s.throttle(ctx); err != nil {
		return err
	}
	body := &gsheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err := s.svc.Spreadsheets.Values.Update(s.cfg.SpreadsheetID, cell, body).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", cell, err)
	}
	return nil
}

func (s *Store) throttle(ctx context.Context) error {
	held, err := s.limiter.Wait(ctx, s.cfg.SpreadsheetID)
	if held > time.Second {
		s.logger.Debug("sheets quota wait", zap.Duration("held", held))
	}
	return err
}

// selectPending skips the header row and keeps rows with a URL and a short or
// empty primary report. RowIndex is the 1-based sheet row.
func selectPending(rows [][]interface{}, minLen int) []kickstarter.WorkItem {
	items := []kickstarter.WorkItem{}
	for i, row := range rows {
		if i == 0 || len(row) <= colURL {
			continue
		}
		url := strings.TrimSpace(cell(row, colURL))
		if url == "" {
			continue
		}
		report := strings.TrimSpace(cell(row, colPrimary))
		if len([]rune(report)) >= minLen {
			continue
		}
		items = append(items, kickstarter.WorkItem{
			RowIndex:    i + 1,
			SourceURL:   url,
			ProductName: strings.TrimSpace(cell(row, colProductName)),
			MakerName:   strings.TrimSpace(cell(row, colMakerName)),
			CreatorName: strings.TrimSpace(cell(row, colCreatorName)),
		})
	}
	return items
}

func cell(row []interface{}, idx int) string {
	if idx >= len(row) || row[idx] == nil {
		return ""
	}
	if s, ok := row[idx].(string); ok {
		return s
	}
	return fmt.Sprint(row[idx])
}

// cellRange renders an A1 reference such as "kickstarter!I5". col is 0-based
// and limited to A-Z.
func cellRange(sheet string, col, row int) string {
	return fmt.Sprintf("%s!%c%d", sheetRef(sheet), rune('A'+col), row)
}

// sheetRef quotes a sheet name for A1 notation unless it is plain ASCII
// letters and underscores. Embedded quotes are doubled.
func sheetRef(name string) string {
	plain := name != "" && strings.IndexFunc(name, func(r rune) bool {
		return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
	}) < 0
	if plain {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
