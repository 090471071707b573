package urlutil

import "testing"

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name    string
		urlStr  string
		baseURL string
		want    string
	}{
		{
			name:    "absolute URL unchanged",
			urlStr:  "https://example.com/video.ts",
			baseURL: "https://other.com/manifest.m3u8",
			want:    "https://example.com/video.ts",
		},
		{
			name:    "relative path",
			urlStr:  "segment001.ts",
			baseURL: "https://cdn.example.com/stream/manifest.m3u8",
			want:    "https://cdn.example.com/stream/segment001.ts",
		},
		{
			name:    "absolute path",
			urlStr:  "/video/segment001.ts",
			baseURL: "https://cdn.example.com/stream/manifest.m3u8",
			want:    "https://cdn.example.com/video/segment001.ts",
		},
		{
			name:    "parent directory reference",
			urlStr:  "../audio/segment001.ts",
			baseURL: "https://cdn.example.com/stream/video/manifest.m3u8",
			want:    "https://cdn.example.com/stream/audio/segment001.ts",
		},
		{
			name:    "multiple parent references",
			urlStr:  "../../other/segment.ts",
			baseURL: "https://cdn.example.com/a/b/c/manifest.m3u8",
			want:    "https://cdn.example.com/a/other/segment.ts",
		},
		{
			name:    "preserves special characters in base",
			urlStr:  "segment.ts",
			baseURL: "https://cdn.example.com/stream(1)/manifest.m3u8",
			want:    "https://cdn.example.com/stream(1)/segment.ts",
		},
		{
			name:    "preserves special characters in relative",
			urlStr:  "segment(1).ts",
			baseURL: "https://cdn.example.com/stream/manifest.m3u8",
			want:    "https://cdn.example.com/stream/segment(1).ts",
		},
		{
			name:    "base with query string",
			urlStr:  "segment.ts",
			baseURL: "https://cdn.example.com/stream/manifest.m3u8?token=abc",
			want:    "https://cdn.example.com/stream/segment.ts",
		},
		{
			name:    "protocol relative",
			urlStr:  "//cdn2.example.com/seg.ts",
			baseURL: "http://cdn.example.com/stream/manifest.m3u8",
			want:    "http://cdn2.example.com/seg.ts",
		},
		{
			name:    "dot slash prefix",
			urlStr:  "./seg/001.ts",
			baseURL: "https://cdn.test/hls/master.m3u8",
			want:    "https://cdn.test/hls/seg/001.ts",
		},
		{
			name:    "parent references stop at host root",
			urlStr:  "../../../x.ts",
			baseURL: "https://cdn.test/a/master.m3u8",
			want:    "https://cdn.test/x.ts",
		},
		{
			name:    "embed page without trailing path",
			urlStr:  "/api/source",
			baseURL: "https://vidfast.pro",
			want:    "https://vidfast.pro/api/source",
		},
		{
			name:    "uppercase scheme is absolute",
			urlStr:  "HTTPS://cdn.test/a.m3u8",
			baseURL: "https://other.test/",
			want:    "HTTPS://cdn.test/a.m3u8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveURL(tt.urlStr, tt.baseURL)
			if got != tt.want {
				t.Errorf("ResolveURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetBaseDirectory(t *testing.T) {
	tests := []struct {
		name   string
		urlStr string
		want   string
	}{
		{
			name:   "simple path",
			urlStr: "https://cdn.example.com/stream/manifest.m3u8",
			want:   "https://cdn.example.com/stream/",
		},
		{
			name:   "with query string",
			urlStr: "https://cdn.example.com/stream/manifest.m3u8?token=abc",
			want:   "https://cdn.example.com/stream/",
		},
		{
			name:   "root path",
			urlStr: "https://cdn.example.com/manifest.m3u8",
			want:   "https://cdn.example.com/",
		},
		{
			name:   "bare host",
			urlStr: "https://vidfast.pro",
			want:   "https://vidfast.pro/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetBaseDirectory(tt.urlStr)
			if got != tt.want {
				t.Errorf("GetBaseDirectory() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetSchemeHost(t *testing.T) {
	tests := []struct {
		name   string
		urlStr string
		want   string
	}{
		{
			name:   "https URL",
			urlStr: "https://cdn.example.com/stream/manifest.m3u8",
			want:   "https://cdn.example.com",
		},
		{
			name:   "http URL",
			urlStr: "http://cdn.example.com:8080/stream/manifest.m3u8",
			want:   "http://cdn.example.com:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetSchemeHost(tt.urlStr)
			if got != tt.want {
				t.Errorf("GetSchemeHost() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOriginReferer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://vidfast.pro/e/27205", "https://vidfast.pro/"},
		{"https://player.videasy.net:8443/movie/1?x=y", "https://player.videasy.net:8443/"},
		{"not a url", ""},
	}
	for _, tt := range tests {
		if got := OriginReferer(tt.in); got != tt.want {
			t.Errorf("OriginReferer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHostMatches(t *testing.T) {
	tests := []struct {
		host, suffix string
		want         bool
	}{
		{"vidfast.pro", "vidfast.pro", true},
		{"cdn.vidfast.pro", "vidfast.pro", true},
		{"PLAYER.videasy.net", "videasy.net", true},
		{"notvidfast.pro", "vidfast.pro", false},
		{"vidfast.pro.evil.test", "vidfast.pro", false},
	}
	for _, tt := range tests {
		if got := HostMatches(tt.host, tt.suffix); got != tt.want {
			t.Errorf("HostMatches(%q, %q) = %v, want %v", tt.host, tt.suffix, got, tt.want)
		}
	}
}

func TestStripTracking(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no query", "https://p.test/embed/1", "https://p.test/embed/1"},
		{"only tracking", "https://p.test/embed/1?utm_source=x&fbclid=y", "https://p.test/embed/1"},
		{"mixed", "https://p.test/embed/1?id=7&gclid=z", "https://p.test/embed/1?id=7"},
		{"untouched when nothing to strip", "https://p.test/e?b=2&a=1", "https://p.test/e?b=2&a=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripTracking(tt.in); got != tt.want {
				t.Errorf("StripTracking(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
