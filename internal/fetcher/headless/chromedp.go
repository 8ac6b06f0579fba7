// Package headless fetches project pages through a real Chrome instance so
// client-rendered content is present before extraction.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/clock/system"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/extract"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/fetcher"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/kickstarter"
)

const hideWebdriverScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// ErrSessionClosed is returned once Close has been called.
var ErrSessionClosed = errors.New("browser session closed")

// Config controls the behavior of the browser session.
type Config struct {
	Headless          bool
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	Warmup            bool
	MinBodyBytes      int
	WindowWidth       int
	WindowHeight      int
}

// Session implements kickstarter.Session with one long-lived browser tab.
// The browser starts on first use and is released by Close.
type Session struct {
	cfg     Config
	policy  *fetcher.RetryPolicy
	retrier *fetcher.Retrier
	pauser  kickstarter.Pauser
	logger  *zap.Logger
	load    func(ctx context.Context, url string, headers http.Header) (fetcher.Page, error)

	mu          sync.Mutex
	started     bool
	closed      bool
	requests    int
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	closeOnce   sync.Once
}

// Option customizes a Session.
type Option func(*Session)

// WithPauser replaces the real sleeper.
func WithPauser(p kickstarter.Pauser) Option {
	return func(s *Session) {
		s.pauser = p
		s.retrier.Pauser = p
	}
}

// WithClock sets the clock used for FetchedAt.
func WithClock(c kickstarter.Clock) Option {
	return func(s *Session) { s.retrier.Clock = c }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewChromedp creates a browser session. No process is started until the
// first FetchProject call.
func NewChromedp(cfg Config, extractor *extract.Extractor, policy *fetcher.RetryPolicy, opts ...Option) (*Session, error) {
	if policy == nil {
		return nil, fmt.Errorf("retry policy is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("settle delay must be >= 0")
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1920, 1080
	}
	if cfg.MinBodyBytes <= 0 {
		cfg.MinBodyBytes = fetcher.DefaultMinBodyBytes
	}
	s := &Session{
		cfg:    cfg,
		policy: policy,
		pauser: fetcher.TimerPauser{},
		logger: zap.NewNop(),
		retrier: &fetcher.Retrier{
			Policy:       policy,
			Extractor:    extractor,
			Pauser:       fetcher.TimerPauser{},
			Clock:        system.New(),
			MinBodyBytes: cfg.MinBodyBytes,
		},
	}
	s.load = s.render
	for _, opt := range opts {
		opt(s)
	}
	s.retrier.Logger = s.logger
	return s, nil
}

// FetchProject renders the project page once, waits for the settle delay and
// extracts it. There is no retry; failures, including a browser that cannot
// start, are embedded in the record.
func (s *Session) FetchProject(ctx context.Context, projectURL string) kickstarter.ProjectRecord {
	root, err := fetcher.SiteRoot(projectURL)
	if err != nil {
		return kickstarter.NewFailedRecord(projectURL, err.Error(), s.retrier.Clock.Now())
	}
	if err := s.ensureStarted(ctx, root); err != nil {
		s.logger.Error("browser unavailable", zap.String("url", projectURL), zap.Error(err))
		return kickstarter.NewFailedRecord(projectURL, err.Error(), s.retrier.Clock.Now())
	}
	return s.retrier.FetchOnce(ctx, projectURL, func(ctx context.Context) (fetcher.Page, error) {
		return s.load(ctx, projectURL, fetcher.BuildHeaders(s.policy, root, s.nextRequest()))
	})
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		if !s.started {
			return
		}
		if cerr := chromedp.Cancel(s.tabCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = fmt.Errorf("close browser: %w", cerr)
		}
		s.tabCancel()
		s.allocCancel()
		s.logger.Info("browser session closed")
	})
	return err
}

func (s *Session) ensureStarted(ctx context.Context, root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(s.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser and must use the tab context itself,
	// or the process dies with the derived context.
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriverScript).Do(ctx); err != nil {
			return fmt.Errorf("install webdriver shim: %w", err)
		}
		return nil
	}))
	if err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}
	s.allocCancel, s.tabCtx, s.tabCancel = allocCancel, tabCtx, tabCancel
	s.started = true
	s.logger.Info("browser session started", zap.Bool("headless", s.cfg.Headless))

	if s.cfg.Warmup {
		s.requests++
		headers := fetcher.BuildHeaders(s.policy, root, s.requests)
		warmCtx, warmCancel := s.boundedContext(ctx, tabCtx)
		defer warmCancel()
		if err := chromedp.Run(warmCtx, s.identityAction(headers), chromedp.Navigate(root)); err != nil {
			s.logger.Debug("warmup navigation failed", zap.String("root", root), zap.Error(err))
		}
	}
	return nil
}

func (s *Session) render(ctx context.Context, url string, headers http.Header) (fetcher.Page, error) {
	s.mu.Lock()
	tabCtx := s.tabCtx
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fetcher.Page{}, ErrSessionClosed
	}

	runCtx, cancel := s.boundedContext(ctx, tabCtx)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(runCtx, meta.captureEvent)

	if err := chromedp.Run(runCtx,
		s.identityAction(headers),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fetcher.Page{}, fmt.Errorf("chromedp navigate: %w", err)
	}
	s.pauser.Pause(runCtx, s.cfg.SettleDelay)

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return fetcher.Page{}, fmt.Errorf("chromedp read dom: %w", err)
	}
	return fetcher.Page{StatusCode: meta.statusOrOK(), Body: []byte(html)}, nil
}

// identityAction applies the rotated user agent and the remaining headers.
func (s *Session) identityAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if ua := headers.Get("User-Agent"); ua != "" {
			if err := emulation.SetUserAgentOverride(ua).WithAcceptLanguage(headers.Get("Accept-Language")).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		extra := toNetworkHeaders(headers)
		if len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// boundedContext derives a navigation context from the tab that also ends when
// the caller's ctx ends.
func (s *Session) boundedContext(ctx, tabCtx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) nextRequest() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	return s.requests
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// statusOrOK returns the main document status, or 200 when no document
// response was observed.
func (m *responseMeta) statusOrOK() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == 0 {
		return http.StatusOK
	}
	return m.status
}

// toNetworkHeaders converts headers for CDP, leaving out the ones Chrome
// manages itself.
func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch http.CanonicalHeaderKey(key) {
		case "User-Agent", "Accept-Encoding":
			continue
		}
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
