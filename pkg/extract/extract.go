// Package extract pulls media-manifest URLs, iframe sources and provider
// tokens out of HTML, JavaScript and JSON documents. Nothing here does I/O.
package extract

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// MaxIframes bounds how many iframe sources a single page can contribute.
const MaxIframes = 5

// Manifest patterns, tried in order. The first pattern that matches anywhere
// in the document wins; within a pattern the first match wins.
var manifestPatterns = []*regexp.Regexp{
	// bare absolute URL
	regexp.MustCompile(`(?i)(https?://[^"'\s]+\.m3u8[^"'\s]*)`),
	// JS-escaped absolute URL (https:\/\/host\/path.m3u8)
	regexp.MustCompile(`(?i)(https?:\\/\\/[^"'\s]+\.m3u8[^"'\s]*)`),
	// quoted string, absolute or relative
	regexp.MustCompile(`(?i)["']([^"']+\.m3u8[^"']*)["']`),
	// file: "..." / file = '...'
	regexp.MustCompile(`(?i)file\s*[:=]\s*["'](https?://[^"']+\.m3u8[^"']*)["']`),
}

var iframeSrcRe = regexp.MustCompile(`(?i)<iframe[^>]+src=["']([^"']+)["']`)

// ManifestURL returns the first .m3u8 URL found in body, sanitized. The
// result may be relative; callers resolve it against the page URL.
func ManifestURL(body string) (string, bool) {
	if body == "" {
		return "", false
	}
	for _, re := range manifestPatterns {
		m := re.FindStringSubmatch(body)
		if len(m) > 1 && m[1] != "" {
			return Sanitize(m[1]), true
		}
	}
	return "", false
}

// Sanitize undoes JS string escaping of slashes and ampersands, then
// percent-decodes. A decoding failure returns the unescaped string as is.
func Sanitize(raw string) string {
	s := strings.ReplaceAll(raw, `\u0026`, "&")
	s = strings.ReplaceAll(s, `\/`, "/")
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// IframeSources returns iframe src attributes in document order, at most
// MaxIframes of them.
func IframeSources(body string) []string {
	matches := iframeSrcRe.FindAllStringSubmatch(body, MaxIframes)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if m[1] != "" {
			out = append(out, m[1])
		}
	}
	return out
}

// ProviderToken finds a `"key": "value"` style assignment (either quote
// style) and returns the value, or "" when absent.
func ProviderToken(body, key string) string {
	if body == "" || key == "" {
		return ""
	}
	re, err := regexp.Compile(`(?i)["']` + regexp.QuoteMeta(key) + `["']\s*:\s*["']([^"']+)["']`)
	if err != nil {
		return ""
	}
	if m := re.FindStringSubmatch(body); len(m) > 1 {
		return m[1]
	}
	return ""
}

// ManifestFromJSON parses body as JSON (best effort) and searches the
// object graph for a .m3u8 string. sources[].file|src|url is preferred; any
// string value anywhere in the graph is accepted otherwise. When body is not
// JSON the text patterns are applied instead.
func ManifestFromJSON(body []byte) (string, bool) {
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		if found := manifestFromValue(v); found != "" {
			return found, true
		}
	}
	return ManifestURL(string(body))
}

func manifestFromValue(v any) string {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if found := manifestFromValue(item); found != "" {
				return found
			}
		}
	case map[string]any:
		if sources, ok := t["sources"].([]any); ok {
			for _, s := range sources {
				src, ok := s.(map[string]any)
				if !ok {
					continue
				}
				for _, k := range []string{"file", "src", "url"} {
					if f, ok := src[k].(string); ok && strings.Contains(f, ".m3u8") {
						return f
					}
				}
			}
		}
		// Map iteration order is random; sort keys so results are stable.
		for _, k := range sortedKeys(t) {
			val := t[k]
			if s, ok := val.(string); ok && strings.Contains(s, ".m3u8") {
				return s
			}
			if found := manifestFromValue(val); found != "" {
				return found
			}
		}
	}
	return ""
}
