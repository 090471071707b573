package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"stream-resolver-go/internal/app"
	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/types"
)

var resolveFlags struct {
	requestFlags
	crawl  bool
	frame  bool
	remote string
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveFlags.register(resolveCmd)
	resolveCmd.Flags().BoolVar(&resolveFlags.crawl, "crawl", false, "Use the breadth-first crawl strategy")
	resolveCmd.Flags().BoolVar(&resolveFlags.frame, "frame", false, "Resolve an embeddable frame instead of a manifest")
	resolveCmd.Flags().StringVar(&resolveFlags.remote, "remote", "", "Base URL of a running service to query instead of resolving locally")
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve one title and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := resolveFlags.request()
		if req.CatalogID <= 0 && req.EmbedURL == "" {
			return errors.New("--id or --embed is required")
		}
		if resolveFlags.remote != "" {
			return resolveRemote(cmd, req)
		}

		cfg := config.Load()
		application, err := app.New(cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer application.Shutdown()

		svc := application.Ctx.ResolveService
		var out map[string]any
		var trace types.Trace
		if resolveFlags.frame {
			res, err := svc.ResolveFrame(cmd.Context(), req, resolveFlags.crawl, application.Ctx.BaseURL)
			if err != nil {
				return printFailure(cmd.OutOrStdout(), req, err)
			}
			out = map[string]any{"ok": true, "provider": res.Frame.Provider, "embed": res.Frame.EmbedURL, "frame": res.FrameURL, "raw": res.Frame.FrameURL}
			trace = res.Trace
		} else {
			res, err := svc.Resolve(cmd.Context(), req, resolveFlags.crawl, application.Ctx.BaseURL)
			if err != nil {
				return printFailure(cmd.OutOrStdout(), req, err)
			}
			out = map[string]any{"ok": true, "provider": res.Stream.Provider, "embed": res.Stream.EmbedURL, "url": res.ProxyURL, "manifest": res.Stream.ManifestURL}
			trace = res.Trace
		}
		if req.Debug {
			out["attempts"] = trace
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func printFailure(w io.Writer, req types.PlaybackRequest, err error) error {
	out := map[string]any{"ok": false, "error": err.Error()}
	var failure *types.ResolutionFailure
	if errors.As(err, &failure) && req.Debug {
		out["attempts"] = failure.Trace
	}
	if perr := printJSON(w, out); perr != nil {
		return perr
	}
	return err
}

func resolveRemote(cmd *cobra.Command, req types.PlaybackRequest) error {
	path := "/resolve"
	if resolveFlags.frame {
		path = "/iframe"
	}
	q := url.Values{}
	q.Set("type", string(req.MediaType))
	q.Set("provider", req.Provider)
	if req.CatalogID > 0 {
		q.Set("id", strconv.Itoa(req.CatalogID))
	}
	if req.Season > 0 {
		q.Set("season", strconv.Itoa(req.Season))
	}
	if req.Episode > 0 {
		q.Set("episode", strconv.Itoa(req.Episode))
	}
	if req.EmbedURL != "" {
		q.Set("embed", req.EmbedURL)
	}
	if req.EmbedReferer != "" {
		q.Set("referer", req.EmbedReferer)
	}
	if req.Debug {
		q.Set("debug", "1")
	}
	if resolveFlags.crawl {
		q.Set("deep", "1")
	}

	target := strings.TrimSuffix(resolveFlags.remote, "/") + path + "?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if pw := os.Getenv("API_PASSWORD"); pw != "" {
		httpReq.Header.Set("X-API-Password", pw)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("remote resolve: %w", err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &types.UpstreamError{URL: target, Status: resp.StatusCode}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
