package providers

// NewVideasy returns the videasy catalog.
func NewVideasy() *Catalog {
	return &Catalog{
		name: "videasy",
		domains: []string{
			"https://player.videasy.net",
			"https://videasy.net",
			"https://videasy.to",
			"https://player.videasy.to",
		},
		movieShapes: []Shape{
			"/e/movie/{id}",
			"/embed/movie/{id}",
			"/movie/{id}",
			"/embed/movie?tmdb={id}",
			"/e/movie?tmdb={id}",
			"/movie?tmdb={id}",
			"/iframe/movie?tmdb={id}",
		},
		seriesShape: []Shape{
			"/e/tv/{id}/{s}/{e}",
			"/embed/tv/{id}/{s}/{e}",
			"/tv/{id}/{s}/{e}",
			"/embed/tv?tmdb={id}&s={s}&e={e}",
			"/e/tv?tmdb={id}&s={s}&e={e}",
			"/tv?tmdb={id}&s={s}&e={e}",
			"/iframe/tv?tmdb={id}&s={s}&e={e}",
		},
		origin:      "https://player.videasy.net",
		allowedHost: "videasy.net",
	}
}
