// Package collyfetcher implements kickstarter.ProjectFetcher over plain HTTP
// using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/clock/system"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/extract"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/fetcher"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/kickstarter"
)

// Config controls collector behavior.
type Config struct {
	Timeout      time.Duration
	MinBodyBytes int
	Warmup       bool
}

// Fetcher implements kickstarter.ProjectFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	policy        *fetcher.RetryPolicy
	retrier       *fetcher.Retrier
	logger        *zap.Logger

	mu       sync.Mutex
	requests int
	warmed   map[string]bool
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithPauser replaces the real sleeper, mostly for tests.
func WithPauser(p kickstarter.Pauser) Option {
	return func(f *Fetcher) { f.retrier.Pauser = p }
}

// WithClock sets the clock used for FetchedAt.
func WithClock(c kickstarter.Clock) Option {
	return func(f *Fetcher) { f.retrier.Clock = c }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, extractor *extract.Extractor, policy *fetcher.RetryPolicy, opts ...Option) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinBodyBytes <= 0 {
		cfg.MinBodyBytes = fetcher.DefaultMinBodyBytes
	}
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	f := &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		policy:        policy,
		retrier: &fetcher.Retrier{
			Policy:       policy,
			Extractor:    extractor,
			Pauser:       fetcher.TimerPauser{},
			Clock:        system.New(),
			MinBodyBytes: cfg.MinBodyBytes,
		},
		logger: zap.NewNop(),
		warmed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.retrier.Logger = f.logger
	return f
}

// Close satisfies kickstarter.Session; the HTTP fetcher holds no process.
func (f *Fetcher) Close() error {
	if t, ok := f.transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// FetchProject downloads and extracts one project page. It never returns an
// error: failures are embedded in the record.
func (f *Fetcher) FetchProject(ctx context.Context, projectURL string) kickstarter.ProjectRecord {
	logger := f.logger.With(zap.String("url", projectURL))
	root, err := fetcher.SiteRoot(projectURL)
	if err != nil {
		return kickstarter.NewFailedRecord(projectURL, err.Error(), f.retrier.Clock.Now())
	}
	if f.cfg.Warmup {
		f.warmup(ctx, root, logger)
	}
	return f.retrier.Fetch(ctx, projectURL, func(ctx context.Context) (fetcher.Page, error) {
		return f.fetchOnce(ctx, projectURL, fetcher.BuildHeaders(f.policy, root, f.nextRequest()))
	})
}

// warmup visits the site root once per host so later requests carry a plausible
// navigation history. Failures are only logged.
func (f *Fetcher) warmup(ctx context.Context, root string, logger *zap.Logger) {
	f.mu.Lock()
	done := f.warmed[root]
	f.warmed[root] = true
	f.mu.Unlock()
	if done {
		return
	}
	resp, err := f.fetchOnce(ctx, root, fetcher.BuildHeaders(f.policy, root, f.nextRequest()))
	if err != nil {
		logger.Debug("warmup request failed", zap.String("root", root), zap.Error(err))
		return
	}
	logger.Debug("warmup complete", zap.String("root", root), zap.Int("status", resp.StatusCode))
}

func (f *Fetcher) nextRequest() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return f.requests
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, headers http.Header) (fetcher.Page, error) {
	var (
		result   fetcher.Page
		fetchErr error
	)
	collector := f.buildCollector(headers, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return fetcher.Page{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(headers http.Header, result *fetcher.Page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if ua := headers.Get("User-Agent"); ua != "" {
		collector.UserAgent = ua
	}
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, headers, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	headers http.Header,
	result *fetcher.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = fetcher.Page{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
