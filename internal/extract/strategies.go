package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const siteTitleSuffix = " — Kickstarter"

// maxJSONMinimum rejects "minimum" values that are not plausible reward prices.
const maxJSONMinimum = 100000

var (
	rewardMinimumAttr = regexp.MustCompile(`(?i)data-reward[^>]*minimum[^>]*=["'](\d+)["']`)
	jsonMinimum       = regexp.MustCompile(`(?i)"minimum"[^}]*:\s*(\d+)`)

	pledgedAttr = regexp.MustCompile(`(?i)data-pledged=["']([^"']+)["']`)
	jsonPledged = regexp.MustCompile(`(?i)"pledged"[^}]*"amount"[^}]*:\s*"?(\d+(?:\.\d+)?)"?`)
	textPledged = regexp.MustCompile(`(?i)\$\s*([\d,]+(?:\.\d{2})?)\s*(?:USD\s*)?pledged`)

	backersAttr = regexp.MustCompile(`(?i)data-backers-count=["']([^"']+)["']`)
	jsonBackers = regexp.MustCompile(`(?i)"backers_count"[^}]*:\s*(\d+)`)
	textBackers = regexp.MustCompile(`(?i)([\d,]+)\s+backers?`)

	categoryAttr = regexp.MustCompile(`(?i)data-category=["']([^"']+)["']`)
	jsonCategory = regexp.MustCompile(`(?i)"category"[^}]*"name"[^}]*:\s*"([^"]+)"`)

	endTimeAttr  = regexp.MustCompile(`(?i)data-end[_-]time=["']([^"']+)["']`)
	jsonDeadline = regexp.MustCompile(`(?i)"deadline"[^}]*:\s*"([^"]+)"`)

	goalAttr = regexp.MustCompile(`(?i)data-goal=["']([^"']+)["']`)

	nonNumeric = regexp.MustCompile(`[^0-9.]`)
)

var productNameStrategies = []strategy[string]{
	metaContent(`meta[property="og:title"]`, stripSiteSuffix),
	titleTag,
}

var fundingTotalStrategies = []strategy[float64]{
	floatFrom(pledgedAttr, stripNonNumeric),
	floatFrom(jsonPledged, nil),
	floatFrom(textPledged, stripCommas),
}

var backerCountStrategies = []strategy[int]{
	intFrom(backersAttr, strings.TrimSpace),
	intFrom(jsonBackers, nil),
	intFrom(textBackers, stripCommas),
}

var categoryStrategies = []strategy[string]{
	stringFrom(categoryAttr),
	stringFrom(jsonCategory),
}

var deadlineStrategies = []strategy[string]{
	epochDeadline,
	isoDeadline,
}

var descriptionStrategies = []strategy[string]{
	metaContent(`meta[property="og:description"]`, nil),
	metaContent(`meta[name="description"]`, nil),
}

var goalAmountStrategies = []strategy[float64]{
	floatFrom(goalAttr, stripNonNumeric),
}

func metaContent(selector string, clean func(string) string) strategy[string] {
	return func(p *page) (string, bool) {
		if p.doc == nil {
			return "", false
		}
		content, ok := p.doc.Find(selector).First().Attr("content")
		if !ok || content == "" {
			return "", false
		}
		if clean != nil {
			content = clean(content)
		}
		return content, content != ""
	}
}

func titleTag(p *page) (string, bool) {
	if p.doc == nil {
		return "", false
	}
	title := stripSiteSuffix(p.doc.Find("title").First().Text())
	return title, title != ""
}

func stripSiteSuffix(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, siteTitleSuffix, ""))
}

func stripNonNumeric(s string) string {
	return nonNumeric.ReplaceAllString(s, "")
}

func stripCommas(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

func submatch(re *regexp.Regexp, raw string) (string, bool) {
	m := re.FindStringSubmatch(raw)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

func stringFrom(re *regexp.Regexp) strategy[string] {
	return func(p *page) (string, bool) {
		return submatch(re, p.raw)
	}
}

func floatFrom(re *regexp.Regexp, clean func(string) string) strategy[float64] {
	return func(p *page) (float64, bool) {
		s, ok := submatch(re, p.raw)
		if !ok {
			return 0, false
		}
		if clean != nil {
			s = clean(s)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
}

func intFrom(re *regexp.Regexp, clean func(string) string) strategy[int] {
	return func(p *page) (int, bool) {
		s, ok := submatch(re, p.raw)
		if !ok {
			return 0, false
		}
		if clean != nil {
			s = clean(s)
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return v, true
	}
}

func epochDeadline(p *page) (string, bool) {
	s, ok := submatch(endTimeAttr, p.raw)
	if !ok {
		return "", false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return "", false
	}
	t := time.Unix(ts, 0).In(p.loc)
	if t.Year() < 1970 || t.Year() > 9999 {
		return "", false
	}
	return t.Format(DateLayout), true
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func isoDeadline(p *page) (string, bool) {
	s, ok := submatch(jsonDeadline, p.raw)
	if !ok {
		return "", false
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return t.In(p.loc).Format(DateLayout), true
		}
	}
	return "", false
}

// pledgeAmounts collects reward minimums from attributes and embedded JSON as a set.
func pledgeAmounts(p *page) map[int]struct{} {
	amounts := make(map[int]struct{})
	for _, m := range rewardMinimumAttr.FindAllStringSubmatch(p.raw, -1) {
		if amt, err := strconv.Atoi(m[1]); err == nil {
			amounts[amt] = struct{}{}
		}
	}
	for _, m := range jsonMinimum.FindAllStringSubmatch(p.raw, -1) {
		amt, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if amt > 0 && amt < maxJSONMinimum {
			amounts[amt] = struct{}{}
		}
	}
	return amounts
}
