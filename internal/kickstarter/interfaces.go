package kickstarter

import (
	"context"
	"time"
)

// ProjectFetcher fetches a project page and extracts a record.
// Implementations never return an error; failures are embedded in ProjectRecord.Error.
type ProjectFetcher interface {
	FetchProject(ctx context.Context, url string) ProjectRecord
}

// Session is a ProjectFetcher that holds a resource released by Close.
type Session interface {
	ProjectFetcher
	Close() error
}

// ReportGenerator drafts a report for one language variant.
// Failures are returned as marker text rather than errors.
type ReportGenerator interface {
	Generate(ctx context.Context, req ReportRequest) string
}

// ReportRequest carries everything needed to draft one report.
type ReportRequest struct {
	Record          ProjectRecord
	MakerName       string
	CreatorName     string
	Variant         Language
	BusinessContext string
}

// RowStore reads pending rows and commits results back to the spreadsheet.
type RowStore interface {
	ScanPending(ctx context.Context) ([]WorkItem, error)
	WriteReport(ctx context.Context, row int, primary, secondary string) error
	WriteError(ctx context.Context, row int, message string) error
}

// RecordArchive persists a snapshot of a scraped record.
type RecordArchive interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Pauser sleeps between pipeline stages.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
