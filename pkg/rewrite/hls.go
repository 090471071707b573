// Package rewrite rewrites HLS playlists so every media URI routes back
// through the proxy endpoint with the headers the upstream expects.
package rewrite

import (
	"net/url"
	"regexp"
	"strings"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/urlutil"
)

// ManifestContentType is always declared for rewritten playlists.
const ManifestContentType = "application/vnd.apple.mpegurl"

var manifestPathRe = regexp.MustCompile(`(?i)\.m3u8([?&#/;,]|$)`)

// IsManifest reports whether an upstream response is an HLS playlist, by
// declared content type or by a .m3u8 name anywhere in the target URL.
func IsManifest(contentType, target string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "application/vnd.apple.mpegurl") || strings.Contains(ct, "application/x-mpegurl") {
		return true
	}
	return manifestPathRe.MatchString(target)
}

// ProxyURL builds prefix?url=..&referer=..[&origin=..]. referer is always
// present so the proxy never falls back to guessing one.
func ProxyURL(prefix, target, referer, origin string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString("?url=")
	b.WriteString(url.QueryEscape(target))
	b.WriteString("&referer=")
	b.WriteString(url.QueryEscape(referer))
	if origin != "" {
		b.WriteString("&origin=")
		b.WriteString(url.QueryEscape(origin))
	}
	return b.String()
}

// Rewriter rewrites playlists to point at a proxy prefix.
type Rewriter struct {
	prefix string
	log    *logging.Logger
}

// New creates a rewriter. prefix is the proxy endpoint, either a path
// ("/proxy") or an absolute URL ("https://host/proxy").
func New(prefix string, log *logging.Logger) *Rewriter {
	if prefix == "" {
		prefix = "/proxy"
	}
	return &Rewriter{
		prefix: prefix,
		log:    log.WithComponent("rewriter"),
	}
}

// Prefix returns the proxy endpoint URIs are pointed at.
func (r *Rewriter) Prefix() string {
	return r.prefix
}

// Rewrite rewrites every URI line and every URI="..." attribute on
// #EXT-X-KEY / #EXT-X-MAP tags. Comments, blank lines and line endings are
// left byte-for-byte intact, so a playlist with no URIs comes back unchanged.
func (r *Rewriter) Rewrite(manifest []byte, sourceURL, referer, origin string) []byte {
	lines := strings.Split(string(manifest), "\n")
	rewritten := 0

	for i, raw := range lines {
		line, cr := strings.CutSuffix(raw, "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "#"):
			if isURITag(trimmed) {
				if out, ok := r.rewriteURITag(line, sourceURL, referer, origin); ok {
					lines[i] = out + crSuffix(cr)
					rewritten++
				}
			}
		default:
			lines[i] = r.proxied(trimmed, sourceURL, referer, origin) + crSuffix(cr)
			rewritten++
		}
	}

	r.log.Debug("rewrote manifest", "source", sourceURL, "uris", rewritten, "size", len(manifest))
	return []byte(strings.Join(lines, "\n"))
}

func isURITag(line string) bool {
	return strings.HasPrefix(line, "#EXT-X-KEY") || strings.HasPrefix(line, "#EXT-X-MAP") ||
		strings.HasPrefix(line, "#EXT-X-MEDIA") || strings.HasPrefix(line, "#EXT-X-I-FRAME-STREAM-INF")
}

// rewriteURITag replaces only the URI="..." value; everything else on the
// line, including attribute order, is kept.
func (r *Rewriter) rewriteURITag(line, sourceURL, referer, origin string) (string, bool) {
	start := strings.Index(line, `URI="`)
	if start == -1 {
		return line, false
	}
	start += len(`URI="`)

	end := strings.Index(line[start:], `"`)
	if end == -1 {
		// Unterminated attribute: leave the line alone.
		return line, false
	}

	uri := line[start : start+end]
	if uri == "" || strings.HasPrefix(strings.ToLower(uri), "data:") {
		return line, false
	}
	return line[:start] + r.proxied(uri, sourceURL, referer, origin) + line[start+end:], true
}

func (r *Rewriter) proxied(uri, sourceURL, referer, origin string) string {
	if r.alreadyProxied(uri) {
		return uri
	}
	abs := urlutil.ResolveURL(uri, sourceURL)
	return ProxyURL(r.prefix, abs, referer, origin)
}

// alreadyProxied reports whether uri already points at this proxy.
func (r *Rewriter) alreadyProxied(uri string) bool {
	return strings.HasPrefix(uri, r.prefix+"?")
}

func crSuffix(cr bool) string {
	if cr {
		return "\r"
	}
	return ""
}

var _ interfaces.ManifestRewriter = (*Rewriter)(nil)
