package providers

import (
	"net/url"
	"strings"

	"stream-resolver-go/pkg/extract"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

const formContentType = "application/x-www-form-urlencoded; charset=UTF-8"

// Vidfast serves a token ("en") on its embed pages that unlocks a JSON
// source API when the page itself carries no manifest.
type Vidfast struct {
	*Catalog
}

// NewVidfast returns the vidfast catalog.
func NewVidfast() *Vidfast {
	return &Vidfast{
		Catalog: &Catalog{
			name: "vidfast",
			domains: []string{
				"https://vidfast.pro",
				"https://vidfast.to",
				"https://vidfast.xyz",
			},
			movieShapes: []Shape{
				"/e/{id}",
				"/embed/movie/{id}",
				"/watch/movie/{id}",
				"/embed/movie?tmdb={id}",
				"/e/movie?tmdb={id}",
				"/movie?tmdb={id}",
			},
			seriesShape: []Shape{
				"/tv/{id}/{s}/{e}",
				"/e/{id}?s={s}&e={e}",
				"/watch/tv/{id}/{s}/{e}",
				"/embed/tv/{id}/{s}/{e}",
				"/embed/tv?tmdb={id}&s={s}&e={e}",
				"/e/tv?tmdb={id}&s={s}&e={e}",
				"/tv?tmdb={id}&s={s}&e={e}",
			},
			origin:      "https://vidfast.pro",
			allowedHost: "vidfast.pro",
		},
	}
}

// APIRequests returns GET then POST probes for each known endpoint shape,
// under the API host named in the page or the page's own origin.
func (v *Vidfast) APIRequests(pageURL, body string) []types.APIRequest {
	token := extract.ProviderToken(body, "en")
	if token == "" {
		return nil
	}

	base := extract.ProviderToken(body, "host")
	switch {
	case base == "":
		base = urlutil.GetSchemeHost(pageURL)
	case !urlutil.IsAbsolute(base):
		base = "https://" + base
	}
	base = strings.TrimSuffix(base, "/")
	if base == "" {
		return nil
	}

	enc := url.QueryEscape(token)
	endpoints := []string{
		base + "/api/source/" + url.PathEscape(token),
		base + "/api/source?en=" + enc,
		base + "/api/v1/source/" + url.PathEscape(token),
		base + "/api/e/" + url.PathEscape(token),
		base + "/ajax/getSources?en=" + enc,
	}

	out := make([]types.APIRequest, 0, len(endpoints)*2)
	for _, ep := range endpoints {
		out = append(out,
			types.APIRequest{Method: "GET", URL: ep, Origin: base, Token: token},
			types.APIRequest{Method: "POST", URL: ep, Form: "en=" + enc, ContentType: formContentType, Origin: base, Token: token},
		)
	}
	return out
}

var _ interfaces.TokenAPIProvider = (*Vidfast)(nil)
