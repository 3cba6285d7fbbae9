package crawler

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// NormalizeURL canonicalises a URL: lowercase scheme, host and path,
// default ports stripped, fragment and query dropped (query dropping is
// deliberate and lossy), trailing slash removed except on the root path.
// Empty or unparseable input yields "" which callers treat as skip.
// Normalization is idempotent.
func NormalizeURL(raw string) string {
	return NormalizeURLWithBase(raw, nil)
}

// NormalizeURLWithBase resolves raw against base before canonicalising.
func NormalizeURLWithBase(raw string, base *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme == "" || u.Host == "" {
		return ""
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)

	// Strip default ports
	if h, p, err := net.SplitHostPort(host); err == nil {
		if (u.Scheme == "http" && p == "80") || (u.Scheme == "https" && p == "443") {
			host = h
		}
	}
	u.Host = host

	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = ""
	u.ForceQuery = false

	path := strings.ToLower(u.Path)
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		// bare host and explicit root are the same page
		path = "/"
	}
	u.Path = path
	u.RawPath = ""

	return u.String()
}

// URLHash is the primary dedup key: SHA-1 of the normalized URL with the
// scheme removed, so http/https variants of a page collapse.
func URLHash(normalized string) string {
	stripped := normalized
	if idx := strings.Index(stripped, "://"); idx >= 0 {
		stripped = stripped[idx+3:]
	}
	sum := sha1.Sum([]byte(stripped))
	return hex.EncodeToString(sum[:])
}

// FullURLHash is the auxiliary scheme-aware hash, kept to detect
// protocol-only variants.
func FullURLHash(normalized string) string {
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// ContentHash fingerprints extracted Markdown: SHA-1 of the lowercased,
// whitespace-collapsed body. Used for cross-URL duplicate detection.
func ContentHash(markdown string) string {
	collapsed := whitespaceRun.ReplaceAllString(strings.TrimSpace(markdown), " ")
	sum := sha1.Sum([]byte(strings.ToLower(collapsed)))
	return hex.EncodeToString(sum[:])
}

// IsValidCrawlURL applies the validity filter to an already-normalized
// URL. seedHost scopes the crawl to the seed's origin unless
// followExternal is set.
func IsValidCrawlURL(normalized string, seedHost string, followExternal bool) bool {
	if normalized == "" {
		return false
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !followExternal && !strings.EqualFold(u.Host, seedHost) {
		return false
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, prefix := range deniedPathPrefixes {
		if strings.Contains(path, prefix) {
			return false
		}
	}
	for _, ext := range binaryExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	for _, hint := range docHintPaths {
		if strings.Contains(path, hint) {
			return true
		}
	}

	return len(path) > 1
}

// ssrfBlockedNets are address ranges a seed URL may never point at.
var ssrfBlockedNets = func() []*net.IPNet {
	cidrs := []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"192.168.0.0/16",
		"172.16.0.0/12",
		"169.254.0.0/16",
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}()

// ValidateSeedURL guards externally supplied seed URLs against SSRF.
// allowLocal permits loopback targets for development and tests.
func ValidateSeedURL(raw string, allowLocal bool) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}

	if allowLocal {
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("host %q is not allowed", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, blocked := range ssrfBlockedNets {
			if blocked.Contains(ip) {
				return fmt.Errorf("host %q resolves to a blocked address range", host)
			}
		}
	}
	return nil
}
