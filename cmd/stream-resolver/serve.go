package main

import (
	"github.com/spf13/cobra"

	"stream-resolver-go/internal/app"
	"stream-resolver-go/pkg/config"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "P", 0, "Listen port (overrides PORT)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP resolver and proxy service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Port = port
		}

		application, err := app.New(cfg, nil)
		if err != nil {
			return err
		}
		defer application.Shutdown()

		return application.Run(cmd.Context())
	},
}
