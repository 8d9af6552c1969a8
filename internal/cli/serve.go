package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/simp-lee/epubflat"
	"github.com/simp-lee/epubflat/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve conversions over HTTP",
	Long: `Start the HTTP server.

Endpoints:
  GET /epub?url=<epub url>[&filename=<name>]  download, convert and return the page
  GET /static/...                               published assets
  GET /                                         health check`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr from config)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	opts, err := converterOptions(cfg)
	if err != nil {
		return err
	}
	// Rewritten image sources must resolve against this server's static route.
	opts.AssetBaseURL = server.StaticPrefix

	srv := server.New(server.Options{
		Converter:        epubflat.NewConverter(opts),
		OutputRoot:       cfg.OutputRoot,
		DownloadTimeout:  cfg.Server.DownloadTimeout,
		MaxDownloadBytes: cfg.Server.MaxDownloadBytes,
		ImageOptimizer:   cfg.Server.ImageOptimizer,
		Logger:           logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, addr)
}
