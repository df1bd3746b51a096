package services

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

const degradedLatency = 3 * time.Second

// SSLInfo describes the certificate presented by an https target
type SSLInfo struct {
	Issuer        string    `json:"issuer"`
	Subject       string    `json:"subject"`
	Expiry        time.Time `json:"expiry"`
	DaysRemaining int       `json:"days_remaining"`
	Protocol      string    `json:"protocol"`
	Error         string    `json:"error,omitempty"`
}

// QuickCheckResult is the synchronous answer of the anonymous URL probe
type QuickCheckResult struct {
	URL            string    `json:"url"`
	Status         string    `json:"status"` // up/degraded/down/error
	StatusCode     int       `json:"status_code"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	Title          string    `json:"title"`
	SSL            *SSLInfo  `json:"ssl,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// QuickCheck probes a URL once: an HTTP GET and, for https schemes, a TLS
// introspection run concurrently. SSRF rules apply exactly as for watches.
func (s *FetcherService) QuickCheck(rawURL string) (*QuickCheckResult, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	if err := s.ValidateURL(normalized); err != nil {
		return nil, err
	}

	result := &QuickCheckResult{URL: normalized, CheckedAt: time.Now()}

	var sslCh chan *SSLInfo
	if strings.HasPrefix(normalized, "https://") {
		sslCh = make(chan *SSLInfo, 1)
		go func() { sslCh <- inspectTLS(normalized, s.Timeout) }()
	}

	start := time.Now()
	fetched := s.Fetch(normalized)
	latency := time.Since(start)

	result.StatusCode = fetched.StatusCode
	result.ResponseTimeMS = latency.Milliseconds()
	result.Title = fetched.Title

	switch {
	case fetched.Error != "" || fetched.StatusCode == 0:
		result.Status = "down"
	case fetched.StatusCode >= 500:
		result.Status = "down"
	case fetched.StatusCode >= 400 || latency > degradedLatency:
		result.Status = "degraded"
	default:
		result.Status = "up"
	}

	if sslCh != nil {
		select {
		case result.SSL = <-sslCh:
		case <-time.After(s.Timeout):
			result.SSL = &SSLInfo{Error: "tls inspection timed out"}
		}
	}

	return result, nil
}

// NormalizeURL fills in a https scheme for bare hostnames
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid url")
	}
	return parsed.String(), nil
}

// inspectTLS dials the target and reads its leaf certificate. TLS failures
// degrade to an SSLInfo carrying only the error.
func inspectTLS(rawURL string, timeout time.Duration) *SSLInfo {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &SSLInfo{Error: err.Error()}
	}

	host := parsed.Hostname()
	port := parsed.Port()
	if port == "" {
		port = "443"
	}

	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: timeout}, "tcp", host+":"+port, &tls.Config{ServerName: host})
	if err != nil {
		return &SSLInfo{Error: err.Error()}
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return &SSLInfo{Error: "no peer certificate"}
	}

	leaf := state.PeerCertificates[0]
	return &SSLInfo{
		Issuer:        leaf.Issuer.CommonName,
		Subject:       leaf.Subject.CommonName,
		Expiry:        leaf.NotAfter,
		DaysRemaining: int(time.Until(leaf.NotAfter).Hours() / 24),
		Protocol:      tls.VersionName(state.Version),
	}
}
