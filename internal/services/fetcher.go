package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	fetchUserAgent   = "SiteWatch/1.0 (+https://arkforge.fr)"
	maxResponseBytes = 2 << 20 // 2 MiB
	maxRedirects     = 5
)

// FetchResult is always produced, even on failure. A transport error leaves
// StatusCode at 0 and Error populated.
type FetchResult struct {
	URL         string    `json:"url"`
	StatusCode  int       `json:"status_code"`
	Fingerprint string    `json:"fingerprint"`
	Text        string    `json:"text"`
	Title       string    `json:"title"`
	ScrapedAt   time.Time `json:"scraped_at"`
	Error       string    `json:"error,omitempty"`
}

// FetcherService retrieves remote pages with SSRF filtering and reduces
// them to comparable text.
type FetcherService struct {
	Timeout time.Duration

	lookupIP   func(host string) ([]net.IP, error)
	allowLocal bool // Disables the SSRF filter, tests only
}

// NewFetcherService creates a new fetcher
func NewFetcherService(timeout time.Duration) *FetcherService {
	return &FetcherService{
		Timeout:  timeout,
		lookupIP: net.LookupIP,
	}
}

// NewFetcherServiceWithResolver creates a fetcher with a custom name
// resolver, used where DNS is controlled or stubbed.
func NewFetcherServiceWithResolver(timeout time.Duration, resolver func(host string) ([]net.IP, error)) *FetcherService {
	return &FetcherService{
		Timeout:  timeout,
		lookupIP: resolver,
	}
}

// ValidateURL rejects URLs that could reach internal infrastructure.
// Scheme must be http or https and no resolved address of the host may be
// loopback, link-local, private, or unique-local. Called again on every
// redirect hop.
func (s *FetcherService) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme %q is not allowed", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}

	if s.allowLocal {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isDisallowedIP(ip) {
			return fmt.Errorf("address %s is not allowed", host)
		}
		return nil
	}

	ips, err := s.lookupIP(host)
	if err != nil {
		return fmt.Errorf("unable to resolve host %q", host)
	}
	for _, ip := range ips {
		if isDisallowedIP(ip) {
			return fmt.Errorf("host %q resolves to an address that is not allowed", host)
		}
	}
	return nil
}

// isDisallowedIP reports whether an address lies in loopback, link-local,
// private, or unique-local space.
func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified()
}

// Fetch retrieves a URL and extracts its text. The result is always
// non-nil; callers inspect Error to distinguish degraded outcomes.
func (s *FetcherService) Fetch(rawURL string) *FetchResult {
	result := &FetchResult{URL: rawURL, ScrapedAt: time.Now()}

	if err := s.ValidateURL(rawURL); err != nil {
		result.Error = err.Error()
		return result
	}

	client := &http.Client{
		Timeout: s.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			// Each hop must pass the same SSRF check as the entry URL
			return s.ValidateURL(req.URL.String())
		},
	}

	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,fr;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		result.Error = fmt.Sprintf("failed to read response: %v", err)
		return result
	}

	text, title := ExtractText(body)
	result.Text = text
	result.Title = title
	result.Fingerprint = Fingerprint(text)
	return result
}

// Fingerprint returns the first 16 hex characters of the SHA-256 of the text
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// skippedElements are removed wholesale before text extraction
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"nav":      true,
	"footer":   true,
	"header":   true,
	"noscript": true,
}

// ExtractText parses an HTML document and returns its visible text as
// whitespace-normalised lines, plus the title element's text if present.
// Non-HTML input degrades to the raw bytes treated as text.
func ExtractText(body []byte) (text, title string) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return normalizeLines(string(body)), ""
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedElements[n.Data] {
				return
			}
			if n.Data == "title" && title == "" {
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return normalizeLines(sb.String()), title
}

// normalizeLines collapses internal whitespace and drops blank lines
func normalizeLines(raw string) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
