package fetcher

import (
	"fmt"
	"net/http"
	"net/url"
)

// UserAgents is the fixed pool rotated across requests.
var UserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// Picker returns an index in [0, n).
type Picker interface {
	Intn(n int) int
}

// PickUserAgent chooses a user agent from the pool.
func PickUserAgent(p Picker) string {
	return UserAgents[p.Intn(len(UserAgents))]
}

// BuildHeaders returns the request identity for the nth request (1-based) of a
// fetcher. From the second request on, Referer points at the site root.
func BuildHeaders(p Picker, siteRoot string, requestNumber int) http.Header {
	h := http.Header{}
	h.Set("User-Agent", PickUserAgent(p))
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Cache-Control", "max-age=0")
	if requestNumber > 1 && siteRoot != "" {
		h.Set("Referer", siteRoot)
	}
	return h
}

// SiteRoot returns scheme://host/ for rawURL.
func SiteRoot(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}
	return fmt.Sprintf("%s://%s/", u.Scheme, u.Host), nil
}
