package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/extract"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/kickstarter"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/metrics"
)

// DefaultMinBodyBytes is the size below which a 200 response is treated as a
// block page.
const DefaultMinBodyBytes = 1000

// Attempt outcomes, also used as metric labels.
const (
	OutcomeOK          = "ok"
	OutcomeForbidden   = "forbidden"
	OutcomeRateLimited = "rate_limited"
	OutcomeBadStatus   = "bad_status"
	OutcomeNetwork     = "network_error"
	OutcomeShortBody   = "short_body"
	OutcomeNoTitle     = "missing_title"
)

var errMissingTitle = errors.New("product name not found in page")

// Page is the raw result of one request.
type Page struct {
	StatusCode int
	Body       []byte
}

// AttemptFunc performs a single request for the project page.
type AttemptFunc func(ctx context.Context) (Page, error)

// Retrier drives the attempt loop shared by the project fetchers.
type Retrier struct {
	Policy       *RetryPolicy
	Extractor    *extract.Extractor
	Pauser       kickstarter.Pauser
	Clock        kickstarter.Clock
	Logger       *zap.Logger
	MinBodyBytes int
}

// Fetch runs attempt until a page yields a product name or the policy is
// exhausted. The returned record carries an error instead of failing.
func (r *Retrier) Fetch(ctx context.Context, projectURL string, attempt AttemptFunc) kickstarter.ProjectRecord {
	logger := r.logger().With(zap.String("url", projectURL))
	var lastErr error
	for n := 0; n < r.Policy.MaxAttempts; n++ {
		if n == 0 {
			r.Pauser.Pause(ctx, r.Policy.InitialDelay())
		}
		if err := ctx.Err(); err != nil {
			return kickstarter.NewFailedRecord(projectURL, fmt.Sprintf("fetch canceled: %v", err), r.Clock.Now())
		}

		record, outcome, attemptErr := r.try(ctx, projectURL, attempt)
		if outcome == OutcomeOK {
			logger.Info("project fetched",
				zap.Int("attempt", n+1),
				zap.String("product", record.ProductName))
			return record
		}
		lastErr = attemptErr
		logger.Warn("fetch attempt failed",
			zap.Int("attempt", n+1),
			zap.Int("max_attempts", r.Policy.MaxAttempts),
			zap.String("outcome", outcome),
			zap.Error(attemptErr))

		if n == r.Policy.MaxAttempts-1 {
			break
		}
		wait := r.Policy.Backoff(n)
		if outcome == OutcomeRateLimited {
			wait = r.Policy.RateLimitCooldown
		}
		r.Pauser.Pause(ctx, wait)
	}

	logger.Error("project fetch exhausted", zap.Error(lastErr))
	cause := fmt.Sprintf("failed after %d attempts: %v", r.Policy.MaxAttempts, lastErr)
	return kickstarter.NewFailedRecord(projectURL, cause, r.Clock.Now())
}

// FetchOnce makes exactly one attempt with no initial delay. Any failure is
// returned as a FATAL record.
func (r *Retrier) FetchOnce(ctx context.Context, projectURL string, attempt AttemptFunc) kickstarter.ProjectRecord {
	logger := r.logger().With(zap.String("url", projectURL))
	if err := ctx.Err(); err != nil {
		return kickstarter.NewFailedRecord(projectURL, fmt.Sprintf("fetch canceled: %v", err), r.Clock.Now())
	}
	record, outcome, err := r.try(ctx, projectURL, attempt)
	if outcome != OutcomeOK {
		logger.Error("project fetch failed", zap.String("outcome", outcome), zap.Error(err))
		return kickstarter.NewFailedRecord(projectURL, err.Error(), r.Clock.Now())
	}
	logger.Info("project fetched", zap.String("product", record.ProductName))
	return record
}

// try runs attempt once, then classifies and extracts the page.
func (r *Retrier) try(ctx context.Context, projectURL string, attempt AttemptFunc) (kickstarter.ProjectRecord, string, error) {
	page, err := attempt(ctx)
	outcome, attemptErr := Classify(page, err, r.MinBodyBytes)
	if outcome == OutcomeOK {
		record := r.Extractor.Extract(string(page.Body))
		record.SourceURL = projectURL
		record.FetchedAt = r.Clock.Now()
		if record.ProductName != kickstarter.Unknown {
			metrics.ObserveFetchAttempt(projectURL, OutcomeOK)
			return record, OutcomeOK, nil
		}
		outcome, attemptErr = OutcomeNoTitle, errMissingTitle
	}
	metrics.ObserveFetchAttempt(projectURL, outcome)
	return kickstarter.ProjectRecord{}, outcome, attemptErr
}

// Classify triages one attempt. Anything but OutcomeOK is retryable.
func Classify(page Page, err error, minBodyBytes int) (string, error) {
	if minBodyBytes <= 0 {
		minBodyBytes = DefaultMinBodyBytes
	}
	switch {
	case err != nil:
		return OutcomeNetwork, err
	case page.StatusCode == http.StatusForbidden:
		return OutcomeForbidden, fmt.Errorf("HTTP %d: access forbidden", page.StatusCode)
	case page.StatusCode == http.StatusTooManyRequests:
		return OutcomeRateLimited, fmt.Errorf("HTTP %d: rate limited", page.StatusCode)
	case page.StatusCode != http.StatusOK:
		return OutcomeBadStatus, fmt.Errorf("HTTP %d", page.StatusCode)
	case len(page.Body) < minBodyBytes:
		return OutcomeShortBody, fmt.Errorf("response too short (%d bytes), likely blocked", len(page.Body))
	default:
		return OutcomeOK, nil
	}
}

func (r *Retrier) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
