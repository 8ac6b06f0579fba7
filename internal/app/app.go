// Package app initializes and holds the long-lived services of one analyzer
// run, acting as a dependency injection container for the CLI.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/clock/system"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/config"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/extract"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/fetcher"
	collyfetcher "github.com/RyoUmeyama/kickstarter-market-analyzer/internal/fetcher/colly"
	headlessfetcher "github.com/RyoUmeyama/kickstarter-market-analyzer/internal/fetcher/headless"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/id/uuid"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/kickstarter"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/metrics"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/pipeline"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/report"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/sheets"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/storage"
)

// App holds the services shared by one batch.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	session kickstarter.Session
	runner  *pipeline.Runner
	closers []func() error
}

// Option customizes service construction.
type Option func(*options)

type options struct {
	pauser       kickstarter.Pauser
	clock        kickstarter.Clock
	rng          *rand.Rand
	sheetOptions []option.ClientOption
}

// WithPauser replaces the real sleeper used by the fetcher and pipeline.
func WithPauser(p kickstarter.Pauser) Option {
	return func(o *options) { o.pauser = p }
}

// WithClock replaces the wall clock.
func WithClock(c kickstarter.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRand seeds the jitter and user-agent rotation.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithSheetsOptions appends client options to the Sheets service.
func WithSheetsOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.sheetOptions = append(o.sheetOptions, opts...) }
}

// New wires every service from cfg. It fails fast when a required service
// cannot be initialized; nothing is fetched or written until Run.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{
		pauser: fetcher.TimerPauser{},
		clock:  system.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter only
	}
	logger.Info("initializing services", zap.String("fetch_mode", cfg.Fetch.Mode), zap.String("sheet", cfg.Sheets.SheetName))

	a := &App{cfg: cfg, logger: logger}

	svc, err := sheets.NewService(ctx, sheets.AuthConfig{
		CredentialsJSON: cfg.Sheets.CredentialsJSON,
		CredentialsFile: cfg.Sheets.CredentialsFile,
		Endpoint:        cfg.Sheets.Endpoint,
	}, o.sheetOptions...)
	if err != nil {
		return nil, fmt.Errorf("init sheets: %w", err)
	}
	store, err := sheets.New(svc, sheets.Config{
		SpreadsheetID:     cfg.Sheets.SpreadsheetID,
		SheetName:         cfg.Sheets.SheetName,
		MinReportLength:   cfg.Sheets.MinReportLength,
		RequestsPerMinute: cfg.Sheets.RequestsPerMinute,
	}, logger.Named("sheets"))
	if err != nil {
		return nil, fmt.Errorf("init sheets: %w", err)
	}

	archive, closeArchive, err := storage.Open(ctx, storage.Config{
		Provider:  cfg.Archive.Provider,
		BaseDir:   cfg.Archive.BaseDir,
		GCSBucket: cfg.Archive.GCSBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}
	a.closers = append(a.closers, closeArchive)

	session, err := buildSession(cfg, o, logger.Named("fetcher"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.session = session

	generator := report.New(
		report.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL),
		report.Config{
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			Enhanced:    cfg.Report.Enhanced,
			Signature:   cfg.Report.Signature,
		},
		logger.Named("report"),
	)

	a.runner = pipeline.New(
		store,
		session,
		generator,
		archive,
		o.pauser,
		o.clock,
		uuid.New(),
		pipeline.Config{
			RowDelay:        cfg.Pipeline.RowDelay,
			GenerationDelay: cfg.Pipeline.GenerationDelay,
			SkipSecondary:   cfg.Debug,
			BusinessContext: cfg.Report.BusinessContext,
			ArchivePrefix:   cfg.Archive.Prefix,
		},
		logger.Named("pipeline"),
	)

	logger.Info("services initialized")
	return a, nil
}

func buildSession(cfg config.Config, o options, logger *zap.Logger) (kickstarter.Session, error) {
	extractor := extract.New(extract.Options{Rate: cfg.Currency.JPYPerUSD})
	policy := fetcher.NewRetryPolicy(cfg.Fetch.MaxAttempts, cfg.Fetch.BaseDelay, cfg.Fetch.RateLimitCooldown, o.rng)

	switch cfg.Fetch.Mode {
	case config.FetchModeHTTP:
		return collyfetcher.New(collyfetcher.Config{
			Timeout:      cfg.Fetch.Timeout,
			MinBodyBytes: cfg.Fetch.MinBodyBytes,
			Warmup:       cfg.Fetch.Warmup,
		}, extractor, policy,
			collyfetcher.WithPauser(o.pauser),
			collyfetcher.WithClock(o.clock),
			collyfetcher.WithLogger(logger),
		), nil
	case config.FetchModeBrowser:
		session, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			Headless:          cfg.Fetch.Headless,
			NavigationTimeout: cfg.Fetch.Timeout,
			SettleDelay:       cfg.Fetch.SettleDelay,
			Warmup:            cfg.Fetch.Warmup,
			MinBodyBytes:      cfg.Fetch.MinBodyBytes,
		}, extractor, policy,
			headlessfetcher.WithPauser(o.pauser),
			headlessfetcher.WithClock(o.clock),
			headlessfetcher.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("init browser session: %w", err)
		}
		return session, nil
	default:
		return nil, fmt.Errorf("unknown fetch mode: %s", cfg.Fetch.Mode)
	}
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run processes one batch and pushes metrics when a gateway is configured.
// The fetch session is released before Run returns.
func (a *App) Run(ctx context.Context) (pipeline.Summary, error) {
	summary, runErr := a.runner.Run(ctx)

	// Push on a fresh context so an interrupted batch still reports.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := metrics.Push(pushCtx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job, summary.RunID); err != nil {
		a.logger.Warn("metrics push failed", zap.Error(err))
	}
	return summary, runErr
}

// Close releases every service and flushes the logger.
func (a *App) Close() {
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.logger.Warn("error closing fetch session", zap.Error(err))
		}
	}
	for _, closeFn := range a.closers {
		if closeFn == nil {
			continue
		}
		if err := closeFn(); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	// Stderr sync can fail on some terminals; nothing useful to do about it.
	_ = a.logger.Sync()
}
