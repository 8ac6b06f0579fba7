// Package pipeline runs the per-row fetch, generate, persist loop over the
// pending spreadsheet rows.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/kickstarter"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/metrics"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/report"
)

// ErrScanFailed means no rows could be read, so nothing was attempted.
var ErrScanFailed = errors.New("scan pending rows failed")

// Default pacing between downstream calls.
const (
	DefaultRowDelay        = 3 * time.Second
	DefaultGenerationDelay = 2 * time.Second
)

// Config controls Runner behavior.
type Config struct {
	RowDelay        time.Duration
	GenerationDelay time.Duration
	// SkipSecondary drops the secondary-language report (debug mode).
	SkipSecondary   bool
	BusinessContext string
	ArchivePrefix   string
}

// Summary counts the outcome of one batch.
type Summary struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
}

// Runner processes pending rows one at a time.
type Runner struct {
	store     kickstarter.RowStore
	session   kickstarter.Session
	generator kickstarter.ReportGenerator
	archive   kickstarter.RecordArchive
	pauser    kickstarter.Pauser
	clock     kickstarter.Clock
	ids       kickstarter.IDGenerator
	cfg       Config
	logger    *zap.Logger

	closeOnce sync.Once
}

// New constructs a Runner. archive may be nil to disable record snapshots.
func New(
	store kickstarter.RowStore,
	session kickstarter.Session,
	generator kickstarter.ReportGenerator,
	archive kickstarter.RecordArchive,
	pauser kickstarter.Pauser,
	clock kickstarter.Clock,
	ids kickstarter.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.RowDelay < 0 {
		cfg.RowDelay = DefaultRowDelay
	}
	if cfg.GenerationDelay < 0 {
		cfg.GenerationDelay = DefaultGenerationDelay
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "records"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:     store,
		session:   session,
		generator: generator,
		archive:   archive,
		pauser:    pauser,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run scans the store and processes every pending row. The session is closed
// before Run returns, on every path. Row failures are counted, not returned;
// the error is ErrScanFailed when the scan fails, or the context error when
// the batch was interrupted between rows.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	defer r.closeSession()

	runID, err := r.ids.NewID()
	if err != nil {
		r.logger.Warn("run id generation failed", zap.Error(err))
	}
	logger := r.logger.With(zap.String("run_id", runID))
	start := r.clock.Now()

	items, err := r.store.ScanPending(ctx)
	if err != nil {
		logger.Error("scan failed", zap.Error(err))
		return Summary{RunID: runID}, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
	summary := Summary{RunID: runID, Total: len(items)}
	if len(items) == 0 {
		logger.Info("no pending rows")
		return summary, nil
	}
	logger.Info("pending rows found", zap.Int("count", len(items)))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			logger.Warn("batch interrupted", zap.Int("remaining", len(items)-i), zap.Error(err))
			return summary, fmt.Errorf("batch interrupted: %w", err)
		}
		rowLogger := logger.With(
			zap.Int("row", item.RowIndex),
			zap.String("progress", fmt.Sprintf("%d/%d", i+1, len(items))))
		if r.processRow(ctx, rowLogger, runID, item) {
			summary.Succeeded++
			metrics.ObserveRow("succeeded")
		} else {
			summary.Failed++
			metrics.ObserveRow("failed")
		}
		if i < len(items)-1 {
			r.pauser.Pause(ctx, r.cfg.RowDelay)
		}
	}

	metrics.ObserveBatch(r.clock.Now().Sub(start))
	logger.Info("batch complete",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// processRow runs one row to completion. Any panic is recovered into a row
// failure with a best-effort error marker in the sheet.
func (r *Runner) processRow(ctx context.Context, logger *zap.Logger, runID string, item kickstarter.WorkItem) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.markFailed(ctx, logger, item, fmt.Sprint(rec))
			ok = false
		}
	}()

	logger.Info("processing row", zap.String("url", item.SourceURL), zap.String("maker", item.MakerName))
	record := r.session.FetchProject(ctx, item.SourceURL)
	if record.Failed() {
		logger.Warn("continuing with degraded record", zap.String("cause", record.Error))
	}
	name := item.ProductName
	if name == "" {
		name = record.ProductName
	}
	logger = logger.With(zap.String("product", name))
	r.pauser.Pause(ctx, r.cfg.GenerationDelay)

	req := kickstarter.ReportRequest{
		Record:          record,
		MakerName:       item.MakerName,
		CreatorName:     item.CreatorName,
		Variant:         kickstarter.Primary,
		BusinessContext: r.cfg.BusinessContext,
	}
	primary := r.generator.Generate(ctx, req)
	logger.Info("primary report ready", zap.Int("runes", len([]rune(primary))), zap.Bool("failed", report.IsFailure(primary)))
	r.pauser.Pause(ctx, r.cfg.GenerationDelay)

	secondary := ""
	if r.cfg.SkipSecondary {
		logger.Info("skipping secondary report")
	} else {
		req.Variant = kickstarter.Secondary
		secondary = r.generator.Generate(ctx, req)
		logger.Info("secondary report ready", zap.Int("runes", len([]rune(secondary))), zap.Bool("failed", report.IsFailure(secondary)))
		r.pauser.Pause(ctx, r.cfg.GenerationDelay)
	}

	r.archiveRecord(ctx, logger, runID, item, record)

	if err := r.store.WriteReport(ctx, item.RowIndex, primary, secondary); err != nil {
		logger.Error("persist report failed", zap.Error(err))
		return true
	}
	logger.Info("row completed")
	return true
}

func (r *Runner) markFailed(ctx context.Context, logger *zap.Logger, item kickstarter.WorkItem, cause string) {
	logger.Error("row failed", zap.String("cause", cause))
	if err := r.store.WriteError(ctx, item.RowIndex, "エラー: "+cause); err != nil {
		logger.Warn("error marker write failed", zap.Error(err))
	}
}

func (r *Runner) archiveRecord(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	item kickstarter.WorkItem,
	record kickstarter.ProjectRecord,
) {
	if r.archive == nil {
		return
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		logger.Warn("record encode failed", zap.Error(err))
		return
	}
	uri, err := r.archive.PutObject(ctx, r.buildArchivePath(runID, item.RowIndex), "application/json", data)
	if err != nil {
		logger.Warn("record archive failed", zap.Error(err))
		return
	}
	logger.Debug("record archived", zap.String("uri", uri))
}

func (r *Runner) buildArchivePath(runID string, row int) string {
	day := r.clock.Now().Format("2006-01-02")
	if runID == "" {
		runID = "unknown-run"
	}
	return path.Join(strings.Trim(r.cfg.ArchivePrefix, "/"), day, runID, fmt.Sprintf("row-%d.json", row))
}

func (r *Runner) closeSession() {
	r.closeOnce.Do(func() {
		if r.session == nil {
			return
		}
		if err := r.session.Close(); err != nil {
			r.logger.Warn("session close failed", zap.Error(err))
		}
	})
}
