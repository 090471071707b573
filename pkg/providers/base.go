// Package providers holds the embed-provider catalogs: the domains and path
// shapes each provider serves pages under, and the headers its media hosts
// expect.
//
// To add a new provider:
// 1. Create a new file (e.g., myprovider.go)
// 2. Embed *Catalog and fill in domains and shapes
// 3. Register it in the registry (see setup in app.go)
package providers

import (
	"strconv"
	"strings"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

// Shape is a path template relative to a provider domain. Placeholders
// {id}, {s} and {e} are replaced with the catalog id, season and episode.
type Shape string

func (s Shape) expand(id, season, episode int) string {
	return strings.NewReplacer(
		"{id}", strconv.Itoa(id),
		"{s}", strconv.Itoa(season),
		"{e}", strconv.Itoa(episode),
	).Replace(string(s))
}

// Catalog provides the common candidate generation for providers.
type Catalog struct {
	name        string
	domains     []string
	movieShapes []Shape
	seriesShape []Shape
	origin      string
	allowedHost string
}

// Name returns the provider name.
func (c *Catalog) Name() string {
	return c.name
}

// Domains returns the provider's base URLs in preference order.
func (c *Catalog) Domains() []string {
	out := make([]string, len(c.domains))
	copy(out, c.domains)
	return out
}

// CanHandle reports whether the URL is hosted on one of the provider's domains.
func (c *Catalog) CanHandle(url string) bool {
	host := urlutil.Host(url)
	if host == "" {
		return false
	}
	for _, d := range c.domains {
		if strings.EqualFold(host, urlutil.Host(d)) {
			return true
		}
	}
	return urlutil.HostMatches(host, c.allowedHost)
}

// Candidates walks domains × shapes in order. Every candidate uses its
// domain root as referer.
func (c *Catalog) Candidates(req types.PlaybackRequest) []types.Candidate {
	if req.CatalogID <= 0 {
		return nil
	}

	shapes := c.movieShapes
	if req.MediaType == types.MediaTypeSeries {
		shapes = c.seriesShape
	}

	season, episode := req.SeasonOrDefault(), req.EpisodeOrDefault()
	seen := make(map[types.Candidate]struct{}, len(c.domains)*len(shapes))
	out := make([]types.Candidate, 0, len(c.domains)*len(shapes))
	for _, d := range c.domains {
		referer := strings.TrimSuffix(d, "/") + "/"
		for _, shape := range shapes {
			cand := types.Candidate{
				EmbedURL: strings.TrimSuffix(d, "/") + shape.expand(req.CatalogID, season, episode),
				Referer:  referer,
			}
			if _, dup := seen[cand]; dup {
				continue
			}
			seen[cand] = struct{}{}
			out = append(out, cand)
		}
	}
	return out
}

// PlaybackHeaders returns the Referer and Origin the provider's media hosts expect.
func (c *Catalog) PlaybackHeaders() map[string]string {
	return map[string]string{
		"Referer": c.origin + "/",
		"Origin":  c.origin,
	}
}

// AllowedHost returns the host suffix the frame resolver may crawl into.
func (c *Catalog) AllowedHost() string {
	return c.allowedHost
}

var _ interfaces.Provider = (*Catalog)(nil)
