package extract

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"stream-resolver-go/pkg/urlutil"
)

// FrameLinks is what the frame resolver can follow from one page.
type FrameLinks struct {
	// Frames are iframe src and data-src targets, resolved absolute.
	Frames []string
	// SrcDocs are inline iframe documents.
	SrcDocs []string
	// Anchors are <a href> targets, resolved absolute.
	Anchors []string
}

// Links parses an HTML page and collects iframe, srcdoc and anchor targets
// in document order. Relative targets are resolved against pageURL.
func Links(body, pageURL string) FrameLinks {
	var out FrameLinks
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return out
	}

	doc.Find("iframe").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && strings.TrimSpace(src) != "" {
			out.Frames = append(out.Frames, urlutil.ResolveURL(strings.TrimSpace(src), pageURL))
		}
		if src, ok := s.Attr("data-src"); ok && strings.TrimSpace(src) != "" {
			out.Frames = append(out.Frames, urlutil.ResolveURL(strings.TrimSpace(src), pageURL))
		}
		if inline, ok := s.Attr("srcdoc"); ok && inline != "" {
			out.SrcDocs = append(out.SrcDocs, inline)
		}
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		out.Anchors = append(out.Anchors, urlutil.ResolveURL(href, pageURL))
	})

	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
