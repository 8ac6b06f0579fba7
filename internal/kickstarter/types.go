// Package kickstarter defines the core types shared across the analyzer subsystems.
package kickstarter

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Sentinel values stored in place of fields that could not be extracted.
const (
	Unknown       = "不明"
	NoDescription = "説明なし"
	FetchFailed   = "取得失敗"
)

// DefaultJPYPerUSD is the fixed conversion rate applied to every USD amount.
const DefaultJPYPerUSD = 150.0

// MaxDescriptionRunes bounds ProjectRecord.Description.
const MaxDescriptionRunes = 500

// PledgeTier is one reward minimum and its converted local amount.
type PledgeTier struct {
	Amount          int   `json:"amount"`
	LocalEquivalent int64 `json:"local_equivalent"`
}

// ProjectRecord is the normalized result of scraping one project page.
// Every field carries a concrete value; missing data is a sentinel, never absent.
type ProjectRecord struct {
	SourceURL             string       `json:"source_url"`
	ProductName           string       `json:"product_name"`
	PledgeTiers           []PledgeTier `json:"pledge_tiers"`
	FundingTotal          float64      `json:"funding_total_usd"`
	FundingTotalConverted float64      `json:"funding_total_jpy"`
	BackerCount           int          `json:"backers"`
	Category              string       `json:"category"`
	Deadline              string       `json:"end_date"`
	Description           string       `json:"description"`
	GoalAmount            float64      `json:"goal_amount_usd"`
	FetchedAt             time.Time    `json:"fetched_at"`
	Error                 string       `json:"error,omitempty"`
}

// Failed reports whether the record carries a fetch error.
func (r ProjectRecord) Failed() bool {
	return r.Error != ""
}

// PledgeSummary renders the tiers as "$25 (約3,750円), $50 (約7,500円)" or Unknown when empty.
func (r ProjectRecord) PledgeSummary() string {
	if len(r.PledgeTiers) == 0 {
		return Unknown
	}
	p := message.NewPrinter(language.English)
	parts := make([]string, 0, len(r.PledgeTiers))
	for _, tier := range r.PledgeTiers {
		parts = append(parts, p.Sprintf("$%d (約%d円)", tier.Amount, tier.LocalEquivalent))
	}
	return strings.Join(parts, ", ")
}

// Convert applies rate to a USD total, yielding 0 for non-positive totals.
func Convert(total, rate float64) float64 {
	if total <= 0 {
		return 0
	}
	return total * rate
}

// NewFailedRecord builds the terminal record returned after a fetch gives up.
func NewFailedRecord(url, cause string, fetchedAt time.Time) ProjectRecord {
	return ProjectRecord{
		SourceURL:   url,
		ProductName: FetchFailed,
		Category:    Unknown,
		Deadline:    Unknown,
		Description: "エラー: " + cause,
		FetchedAt:   fetchedAt,
		Error:       cause,
	}
}

// WorkItem is one spreadsheet row awaiting processing. RowIndex is 1-based.
type WorkItem struct {
	RowIndex    int
	SourceURL   string
	ProductName string
	MakerName   string
	CreatorName string
}

// Language selects which report variant is produced.
type Language string

// Report variants.
const (
	Primary   Language = "primary"
	Secondary Language = "secondary"
)

// ReportPair is a generated report for one language variant.
type ReportPair struct {
	Variant Language
	Text    string
}
