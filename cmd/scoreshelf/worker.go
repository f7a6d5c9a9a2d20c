package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/home"
	"github.com/jackzampolin/scoreshelf/internal/server"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline worker",
	Long: `Run first-pass, second-pass and cleanup jobs from the shared database.

Several workers may run at once; each claims jobs under a lease and the
reaper returns jobs whose worker disappeared. Stop with Ctrl+C: the current
job finishes or its lease expires and it is retried elsewhere.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger, err := newLogger()
		if err != nil {
			return err
		}
		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		svc, err := server.BuildServices(ctx, server.ServicesConfig{
			Config: cfg,
			Home:   h,
			Logger: logger,
		})
		if err != nil {
			return err
		}

		logger.Info("worker started", "config", cfgMgr.ConfigFile(), "home", h.Path())
		runErr := server.RunWorker(ctx, svc, cfg.Worker)
		if errors.Is(runErr, ctx.Err()) {
			runErr = nil
		}
		return errors.Join(runErr, server.CloseServices(svc))
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
