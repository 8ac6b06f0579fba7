// Package extract pulls structured project fields out of raw page markup.
//
// Each field is resolved by an ordered list of strategies; the first strategy
// that yields a value wins and a field that no strategy can resolve takes its
// sentinel default. Extraction never fails as a whole.
package extract

import (
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/kickstarter"
)

// DateLayout is the localized format used for the deadline field.
const DateLayout = "2006年01月02日"

// Options configures an Extractor.
type Options struct {
	// Rate converts USD amounts into the local currency. Defaults to kickstarter.DefaultJPYPerUSD.
	Rate float64
	// Location is used to render the deadline. Defaults to JST.
	Location *time.Location
}

// Extractor implements the field extraction heuristics.
type Extractor struct {
	rate float64
	loc  *time.Location
}

// New builds an Extractor.
func New(opts Options) *Extractor {
	if opts.Rate <= 0 {
		opts.Rate = kickstarter.DefaultJPYPerUSD
	}
	if opts.Location == nil {
		opts.Location = time.FixedZone("JST", 9*60*60)
	}
	return &Extractor{rate: opts.Rate, loc: opts.Location}
}

// page is the parsed input shared by all strategies. doc is nil when parsing failed.
type page struct {
	raw string
	doc *goquery.Document
	loc *time.Location
}

func newPage(markup string, loc *time.Location) *page {
	p := &page{raw: markup, loc: loc}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err == nil {
		p.doc = doc
	}
	return p
}

// strategy yields a field value and whether it matched.
type strategy[T any] func(p *page) (T, bool)

func firstMatch[T any](p *page, fallback T, strategies []strategy[T]) T {
	for _, s := range strategies {
		if v, ok := s(p); ok {
			return v
		}
	}
	return fallback
}

// Extract resolves every field of a ProjectRecord from markup. SourceURL and
// FetchedAt are left for the caller to fill in.
func (e *Extractor) Extract(markup string) kickstarter.ProjectRecord {
	p := newPage(markup, e.loc)

	rec := kickstarter.ProjectRecord{
		ProductName:  firstMatch(p, kickstarter.Unknown, productNameStrategies),
		PledgeTiers:  e.pledgeTiers(p),
		FundingTotal: firstMatch(p, 0, fundingTotalStrategies),
		BackerCount:  firstMatch(p, 0, backerCountStrategies),
		Category:     firstMatch(p, kickstarter.Unknown, categoryStrategies),
		Deadline:     firstMatch(p, kickstarter.Unknown, deadlineStrategies),
		Description:  truncateRunes(firstMatch(p, kickstarter.NoDescription, descriptionStrategies), kickstarter.MaxDescriptionRunes),
		GoalAmount:   firstMatch(p, 0, goalAmountStrategies),
	}
	rec.FundingTotalConverted = kickstarter.Convert(rec.FundingTotal, e.rate)
	return rec
}

func (e *Extractor) pledgeTiers(p *page) []kickstarter.PledgeTier {
	amounts := pledgeAmounts(p)
	if len(amounts) == 0 {
		return nil
	}
	sorted := make([]int, 0, len(amounts))
	for amt := range amounts {
		sorted = append(sorted, amt)
	}
	sort.Ints(sorted)

	tiers := make([]kickstarter.PledgeTier, 0, len(sorted))
	for _, amt := range sorted {
		tiers = append(tiers, kickstarter.PledgeTier{
			Amount:          amt,
			LocalEquivalent: int64(float64(amt) * e.rate),
		})
	}
	return tiers
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
