package headless

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/extract"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/fetcher"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/kickstarter"
)

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	policy := fetcher.NewRetryPolicy(3, time.Second, 0, rand.New(rand.NewSource(1)))
	s, err := NewChromedp(cfg, extract.New(extract.Options{}), policy)
	require.NoError(t, err)
	return s
}

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{}, extract.New(extract.Options{}), nil)
	require.Error(t, err)

	_, err = NewChromedp(Config{SettleDelay: -time.Second}, extract.New(extract.Options{}), fetcher.NewRetryPolicy(1, 0, 0, nil))
	require.Error(t, err)
}

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, Config{})
	assert.Equal(t, 45*time.Second, s.cfg.NavigationTimeout)
	assert.Equal(t, 1920, s.cfg.WindowWidth)
	assert.Equal(t, 1080, s.cfg.WindowHeight)
	assert.Equal(t, fetcher.DefaultMinBodyBytes, s.cfg.MinBodyBytes)
	assert.False(t, s.started, "browser must start lazily")
}

func TestCloseWithoutStartIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, Config{Headless: true})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	record := s.FetchProject(context.Background(), "https://www.kickstarter.com/projects/a/b")
	assert.True(t, record.Failed())
	assert.Equal(t, kickstarter.FetchFailed, record.ProductName)
	assert.Contains(t, record.Error, ErrSessionClosed.Error())
}

func TestFetchProjectRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, Config{})
	record := s.FetchProject(context.Background(), "projects/a/b")
	assert.True(t, record.Failed())
	assert.False(t, s.started)
}

func TestFetchProjectLoadsPageOnce(t *testing.T) {
	t.Parallel()

	body := []byte(`<meta property="og:title" content="Lamp — Kickstarter">` + strings.Repeat(" ", fetcher.DefaultMinBodyBytes))
	testCases := []struct {
		name    string
		page    fetcher.Page
		err     error
		failed  bool
		product string
	}{
		{name: "ok", page: fetcher.Page{StatusCode: http.StatusOK, Body: body}, product: "Lamp"},
		{name: "forbidden", page: fetcher.Page{StatusCode: http.StatusForbidden, Body: body}, failed: true},
		{name: "rate limited", page: fetcher.Page{StatusCode: http.StatusTooManyRequests}, failed: true},
		{name: "short body", page: fetcher.Page{StatusCode: http.StatusOK, Body: body[:100]}, failed: true},
		{name: "navigation error", err: errors.New("chromedp navigate: timeout"), failed: true},
		{name: "no title", page: fetcher.Page{StatusCode: http.StatusOK, Body: body[len(body)-fetcher.DefaultMinBodyBytes:]}, failed: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pauser := &countingPauser{}
			s := newTestSession(t, Config{})
			WithPauser(pauser)(s)
			s.started = true

			calls := 0
			s.load = func(_ context.Context, url string, headers http.Header) (fetcher.Page, error) {
				calls++
				assert.Equal(t, "https://www.kickstarter.com/projects/a/b", url)
				assert.NotEmpty(t, headers.Get("User-Agent"))
				return tc.page, tc.err
			}

			record := s.FetchProject(context.Background(), "https://www.kickstarter.com/projects/a/b")
			assert.Equal(t, 1, calls)
			assert.Zero(t, pauser.calls, "no delay outside the settle wait")
			assert.Equal(t, tc.failed, record.Failed())
			if tc.failed {
				assert.Equal(t, kickstarter.FetchFailed, record.ProductName)
				assert.NotContains(t, record.Error, "attempts")
				return
			}
			assert.Equal(t, tc.product, record.ProductName)
			assert.Equal(t, "https://www.kickstarter.com/projects/a/b", record.SourceURL)
		})
	}
}

func TestAllocatorOptionsHeadlessToggle(t *testing.T) {
	t.Parallel()

	headless := allocatorOptions(Config{Headless: true, WindowWidth: 800, WindowHeight: 600})
	visible := allocatorOptions(Config{Headless: false, WindowWidth: 800, WindowHeight: 600})
	assert.Len(t, visible, len(headless))
	assert.Greater(t, len(headless), 6)
}

func TestToNetworkHeadersSkipsManagedHeaders(t *testing.T) {
	t.Parallel()

	src := fetcher.BuildHeaders(fixedPicker{}, "https://www.kickstarter.com/", 2)
	src.Add("X-Multi", "a")
	src.Add("X-Multi", "b")

	headers := toNetworkHeaders(src)
	assert.NotContains(t, headers, "User-Agent")
	assert.NotContains(t, headers, "Accept-Encoding")
	assert.Equal(t, "https://www.kickstarter.com/", headers["Referer"])
	switch v := headers["X-Multi"].(type) {
	case []string:
		assert.Len(t, v, 2)
	default:
		t.Fatalf("expected []string, got %T", v)
	}
}

func TestResponseMetaCapture(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	assert.Equal(t, http.StatusOK, meta.statusOrOK())

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404},
	})
	assert.Equal(t, http.StatusOK, meta.statusOrOK(), "non-document responses are ignored")

	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 403,
			URL:    "https://www.kickstarter.com/projects/a/b",
		},
	})
	assert.Equal(t, http.StatusForbidden, meta.statusOrOK())
}

type fixedPicker struct{}

func (fixedPicker) Intn(int) int { return 0 }

type countingPauser struct{ calls int }

func (p *countingPauser) Pause(context.Context, time.Duration) { p.calls++ }
