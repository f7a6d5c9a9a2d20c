package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/home"
	"github.com/jackzampolin/scoreshelf/internal/server"
)

var (
	serveHost       string
	servePort       string
	serveWithWorker bool
	serveSwagger    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scoreshelf server",
	Long: `Start the scoreshelf HTTP server.

The server stores uploads, creates ingestion sessions and serves the review
API. With --with-worker it also runs the pipeline worker and lease reaper in
the same process; otherwise run 'scoreshelf worker' separately against the
same database.

Changes to config.yaml (providers, grants) are picked up without a restart.

The server provides:
  - /health        - Liveness
  - /ready         - Readiness (database reachable)
  - /status        - Providers and queue depths
  - /swagger       - API documentation

Examples:
  scoreshelf serve                          # Start on default port 8080
  scoreshelf serve --with-worker            # Serve and process jobs
  scoreshelf serve --host 0.0.0.0 --port 3000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}

		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()
		if f := cfgMgr.ConfigFile(); f != "" {
			logger.Info("loaded config", "file", f)
		}

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Host:            serveHost,
			Port:            servePort,
			Home:            h,
			ConfigManager:   cfgMgr,
			WithWorker:      serveWithWorker,
			SwaggerSpecPath: serveSwagger,
			Logger:          logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "Also run the pipeline worker")
	serveCmd.Flags().StringVar(&serveSwagger, "swagger-spec", "", "Serve this OpenAPI file instead of the built-in one")

	rootCmd.AddCommand(serveCmd)
}
