// Package urlutil provides URL manipulation utilities that preserve original encoding.
package urlutil

import (
	"net/url"
	"strings"
)

// ResolveURL resolves a potentially relative URL against a base URL.
// Uses string manipulation to preserve original URL encoding.
// Go's url.ResolveReference re-encodes special characters which breaks
// URLs for CDNs that use parentheses, brackets, or other special chars.
func ResolveURL(urlStr string, baseURL string) string {
	if IsAbsolute(urlStr) {
		return urlStr
	}

	// Protocol-relative
	if strings.HasPrefix(urlStr, "//") {
		if parsed, err := url.Parse(baseURL); err == nil && parsed.Scheme != "" {
			return parsed.Scheme + ":" + urlStr
		}
		return "https:" + urlStr
	}

	base := GetBaseDirectory(baseURL)

	if strings.HasPrefix(urlStr, "/") {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return base + urlStr
		}
		return parsed.Scheme + "://" + parsed.Host + urlStr
	}

	// Query-only reference keeps the base path
	if strings.HasPrefix(urlStr, "?") {
		if idx := strings.Index(baseURL, "?"); idx > 0 {
			return baseURL[:idx] + urlStr
		}
		return baseURL + urlStr
	}

	remaining := strings.TrimPrefix(urlStr, "./")
	result := base
	for strings.HasPrefix(remaining, "../") {
		remaining = remaining[3:]
		trimmed := strings.TrimSuffix(result, "/")
		// Never climb above scheme://host/
		if lastSlash := strings.LastIndex(trimmed, "/"); lastSlash >= len(GetSchemeHost(baseURL)) {
			result = trimmed[:lastSlash+1]
		}
	}
	return result + remaining
}

// IsAbsolute reports whether s starts with an http(s) scheme.
func IsAbsolute(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// GetBaseDirectory returns the directory portion of a URL (without the filename).
// Preserves original encoding.
func GetBaseDirectory(urlStr string) string {
	if idx := strings.IndexAny(urlStr, "?#"); idx > 0 {
		urlStr = urlStr[:idx]
	}
	// A bare scheme://host has no path to trim
	if sh := GetSchemeHost(urlStr); sh != "" && (urlStr == sh) {
		return sh + "/"
	}
	if lastSlash := strings.LastIndex(urlStr, "/"); lastSlash > 0 {
		return urlStr[:lastSlash+1]
	}
	return urlStr
}

// GetSchemeHost extracts scheme://host from a URL.
func GetSchemeHost(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// OriginReferer returns scheme://host/ for a URL, the referer most providers
// expect when none is known. Empty when the URL has no host.
func OriginReferer(urlStr string) string {
	sh := GetSchemeHost(urlStr)
	if sh == "" {
		return ""
	}
	return sh + "/"
}

// Host returns the host (with port) of a URL, or "" if it cannot be parsed.
func Host(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// HostMatches reports whether host equals suffix or is a subdomain of it.
func HostMatches(host, suffix string) bool {
	host = strings.ToLower(host)
	suffix = strings.ToLower(suffix)
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}

var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "msclkid", "yclid", "aff", "aff_id", "ref", "referrer",
	"refsrc", "clickid", "adid",
}

// StripTracking removes common tracking query parameters. URLs that do not
// parse are returned unchanged.
func StripTracking(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.RawQuery == "" {
		return urlStr
	}
	q := parsed.Query()
	changed := false
	for _, k := range trackingParams {
		if q.Has(k) {
			q.Del(k)
			changed = true
		}
	}
	if !changed {
		return urlStr
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
