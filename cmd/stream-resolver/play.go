package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"stream-resolver-go/internal/app"
	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/headerinject"
	"stream-resolver-go/pkg/playback"
)

var playFlags struct {
	requestFlags
	manifest string
	origin   string
	remote   string
}

func init() {
	rootCmd.AddCommand(playCmd)
	playFlags.register(playCmd)
	playCmd.Flags().StringVar(&playFlags.manifest, "manifest", "", "Play this manifest URL directly, skipping resolution")
	playCmd.Flags().StringVar(&playFlags.origin, "origin", "", "Origin header for --manifest")
	playCmd.Flags().StringVar(&playFlags.remote, "remote", "", "Base URL of a running service to proxy through and share headers with")
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Resolve a title and load it headlessly through the playback controller",
	Long: "Resolve a title, attach it to the probing HLS engine using the header-injection " +
		"transport with proxy fallback, and report the final controller state as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := playFlags.request()
		if req.CatalogID <= 0 && req.EmbedURL == "" && playFlags.manifest == "" {
			return errors.New("--id, --embed or --manifest is required")
		}

		cfg := config.Load()
		application, err := app.New(cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer application.Shutdown()

		ctx := cmd.Context()
		proxyBase, remote, stop, err := playBackend(ctx, application)
		if err != nil {
			return err
		}
		defer stop()

		ctrl := application.NewController(proxyBase, remote)
		defer ctrl.Close()

		if playFlags.manifest != "" {
			err = ctrl.PlayManifest(ctx, playFlags.manifest, playFlags.referer, playFlags.origin)
		} else {
			err = ctrl.Play(ctx, req)
		}

		out := map[string]any{
			"state":     ctrl.State(),
			"transport": ctrl.Transport(),
			"stream":    ctrl.Stream(),
		}
		if resume, ok, rerr := ctrl.ResumePosition(ctx); rerr == nil && ok {
			out["resume_at"] = resume
		}
		if err != nil {
			out["error"] = err.Error()
		}
		if req.Debug {
			out["attempts"] = ctrl.Trace()
		}
		if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
			return perr
		}
		return err
	},
}

// playBackend returns the proxy base the controller should use. Without
// --remote the application's own routes are served on a loopback port.
func playBackend(ctx context.Context, a *app.App) (string, playback.MessageSender, func(), error) {
	if playFlags.remote != "" {
		base := strings.TrimSuffix(playFlags.remote, "/")
		conn, err := headerinject.Dial(ctx, "ws"+strings.TrimPrefix(base, "http")+"/worker")
		if err != nil {
			return "", nil, nil, err
		}
		return base, conn, func() { _ = conn.Close() }, nil
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, nil, err
	}
	srv := &http.Server{Handler: a.Server.Handler()}
	go func() { _ = srv.Serve(ln) }()
	return "http://" + ln.Addr().String(), nil, func() { _ = srv.Close() }, nil
}
