// Package types defines core domain types used throughout the application.
package types

import (
	"strings"
	"time"
)

// MediaType identifies whether a title is a movie or a series.
type MediaType string

const (
	MediaTypeMovie  MediaType = "movie"
	MediaTypeSeries MediaType = "tv"
)

// ParseMediaType maps the loose type names used by callers onto a MediaType.
// "tv", "series" and "anime" are series; anything else is a movie.
func ParseMediaType(s string) MediaType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tv", "series", "anime":
		return MediaTypeSeries
	default:
		return MediaTypeMovie
	}
}

// ProviderAuto selects providers by the configured default order.
const ProviderAuto = "auto"

// PlaybackRequest describes one play action or provider switch. It is not
// mutated after it is issued.
type PlaybackRequest struct {
	MediaType MediaType
	CatalogID int
	Season    int
	Episode   int
	Provider  string
	Debug     bool

	// EmbedURL, when set, is tried before any generated candidate.
	EmbedURL string
	// EmbedReferer overrides the referer used for EmbedURL.
	EmbedReferer string
}

// SeasonOrDefault returns the season, defaulting to 1.
func (r PlaybackRequest) SeasonOrDefault() int {
	if r.Season <= 0 {
		return 1
	}
	return r.Season
}

// EpisodeOrDefault returns the episode, defaulting to 1.
func (r PlaybackRequest) EpisodeOrDefault() int {
	if r.Episode <= 0 {
		return 1
	}
	return r.Episode
}

// WithProvider returns a copy of the request targeting another provider.
func (r PlaybackRequest) WithProvider(name string) PlaybackRequest {
	r.Provider = name
	return r
}

// Candidate is one embed page to try, paired with the referer it needs.
type Candidate struct {
	EmbedURL string `json:"embed_url"`
	Referer  string `json:"referer"`
}

// Outcome classifies a single resolution attempt.
type Outcome string

const (
	OutcomeFound        Outcome = "found"
	OutcomeNotFound     Outcome = "not-found"
	OutcomeHTTPError    Outcome = "http-error"
	OutcomeNetworkError Outcome = "network-error"
)

// ResolutionAttempt records one fetch made while resolving.
type ResolutionAttempt struct {
	Provider string         `json:"provider"`
	Target   string         `json:"target"`
	Status   *int           `json:"status"`
	Outcome  Outcome        `json:"outcome"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Trace is the ordered attempt log of one resolution run.
type Trace []ResolutionAttempt

// ResolvedStream is the terminal success value of resolution.
type ResolvedStream struct {
	ManifestURL string `json:"manifest_url"`
	Referer     string `json:"referer"`
	Provider    string `json:"provider"`
	EmbedURL    string `json:"embed_url"`
}

// ResolvedFrame is the terminal success value of iframe-mode resolution.
type ResolvedFrame struct {
	FrameURL string `json:"frame_url"`
	Referer  string `json:"referer"`
	Provider string `json:"provider"`
	EmbedURL string `json:"embed_url"`
}

// ProxyHeaderSet is one Header-Injection Worker cache entry.
type ProxyHeaderSet struct {
	Host      string            `json:"host"`
	Headers   map[string]string `json:"headers"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Expired reports whether the entry is no longer usable at t.
func (s ProxyHeaderSet) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(t)
}

// APIRequest is one probe against a provider's JSON source API.
type APIRequest struct {
	Method      string
	URL         string
	Form        string // urlencoded body for POST probes
	ContentType string
	Origin      string // sent as the Origin header
	Token       string
}
