package main

import (
	"github.com/spf13/cobra"

	"stream-resolver-go/pkg/types"
)

// rootCmd is the entry point for the stream-resolver binary.
var rootCmd = &cobra.Command{
	Use:           "stream-resolver",
	Short:         "Resolve and proxy HLS streams from embed providers",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// requestFlags are shared by resolve and play.
type requestFlags struct {
	mediaType string
	id        int
	season    int
	episode   int
	provider  string
	embed     string
	referer   string
	debug     bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.mediaType, "type", "t", "movie", "Media type: movie, tv, series or anime")
	cmd.Flags().IntVar(&f.id, "id", 0, "Catalog (TMDB) id")
	cmd.Flags().IntVarP(&f.season, "season", "s", 0, "Season number (series)")
	cmd.Flags().IntVarP(&f.episode, "episode", "e", 0, "Episode number (series)")
	cmd.Flags().StringVarP(&f.provider, "provider", "p", types.ProviderAuto, "Provider name or auto")
	cmd.Flags().StringVar(&f.embed, "embed", "", "Embed page URL to try first")
	cmd.Flags().StringVar(&f.referer, "referer", "", "Referer for --embed")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Include the attempt trace")
}

func (f *requestFlags) request() types.PlaybackRequest {
	return types.PlaybackRequest{
		MediaType:    types.ParseMediaType(f.mediaType),
		CatalogID:    f.id,
		Season:       f.season,
		Episode:      f.episode,
		Provider:     f.provider,
		Debug:        f.debug,
		EmbedURL:     f.embed,
		EmbedReferer: f.referer,
	}
}
