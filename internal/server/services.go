package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackzampolin/scoreshelf/internal/auth"
	"github.com/jackzampolin/scoreshelf/internal/blob"
	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/export"
	"github.com/jackzampolin/scoreshelf/internal/home"
	"github.com/jackzampolin/scoreshelf/internal/jobs"
	"github.com/jackzampolin/scoreshelf/internal/llmcall"
	"github.com/jackzampolin/scoreshelf/internal/notify"
	"github.com/jackzampolin/scoreshelf/internal/pdf"
	"github.com/jackzampolin/scoreshelf/internal/pipeline"
	"github.com/jackzampolin/scoreshelf/internal/prompts"
	"github.com/jackzampolin/scoreshelf/internal/providers"
	"github.com/jackzampolin/scoreshelf/internal/review"
	"github.com/jackzampolin/scoreshelf/internal/store"
	"github.com/jackzampolin/scoreshelf/internal/svcctx"
)

// ServicesConfig is what BuildServices needs. The serving and worker
// processes build the same graph from it.
type ServicesConfig struct {
	Config   *config.Config
	Home     *home.Dir
	Registry *providers.Registry
	// Renderer replaces pdftoppm, mainly in tests.
	Renderer pdf.Renderer
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// NewGuard builds the request guard from auth config.
func NewGuard(cfg config.AuthCfg) *auth.Guard {
	return &auth.Guard{
		Authorizer:   auth.Grants(cfg.Grants),
		ServiceToken: config.ResolveEnvVars(cfg.ServiceToken),
	}
}

// BuildServices opens the database and blob store, seeds settings and wires
// the job manager, review service and pipeline. Release everything with
// CloseServices.
func BuildServices(ctx context.Context, cfg ServicesConfig) (*svcctx.Services, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := cfg.Config
	if c == nil {
		c = config.DefaultConfig()
	}

	dsn := c.Database.DSN
	if dsn == "" && cfg.Home != nil {
		dsn = cfg.Home.DatabasePath()
	}
	db, err := store.Open(ctx, store.Config{
		Driver:   store.Dialect(c.Database.Driver),
		DSN:      dsn,
		MaxConns: c.Database.MaxConns,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	svc := &svcctx.Services{DB: db, Logger: logger, Home: cfg.Home, Registry: cfg.Registry}
	fail := func(err error) (*svcctx.Services, error) {
		CloseServices(svc)
		return nil, err
	}

	settings := store.NewSettings(db)
	if err := config.SeedDefaults(ctx, settings, logger); err != nil {
		return fail(fmt.Errorf("seed settings: %w", err))
	}
	svc.ConfigStore = settings

	localRoot := c.Storage.LocalRoot
	if localRoot == "" && cfg.Home != nil {
		localRoot = cfg.Home.BlobsPath()
	}
	blobs, err := blob.Open(ctx, blob.Config{
		Backend:   c.Storage.Backend,
		LocalRoot: localRoot,
		GCS: blob.GCSConfig{
			Bucket:          c.Storage.Bucket,
			Endpoint:        c.Storage.Endpoint,
			CredentialsFile: c.Storage.CredentialsFile,
			Logger:          logger,
		},
	})
	if err != nil {
		return fail(fmt.Errorf("open blob store: %w", err))
	}
	svc.Blobs = blobs

	queues, err := config.ResolveQueues(ctx, settings)
	if err != nil {
		return fail(fmt.Errorf("resolve queues: %w", err))
	}
	svc.JobManager = jobs.NewManager(jobs.ManagerConfig{
		DB:              db,
		Queues:          queues,
		DeadLetterQueue: config.QueueDeadLetter,
		Logger:          logger,
	})

	if svc.Registry == nil {
		svc.Registry = providers.NewRegistryFromConfig(c.ToProviderRegistryConfig(), logger)
	}

	renderer := cfg.Renderer
	if renderer == nil {
		renderer = pdf.Pdftoppm{Path: c.PDF.PdftoppmPath, DPI: c.PDF.DPI}
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.New(config.ResolveEnvVars(c.Notify.WebhookURL), logger)
	}

	svc.Store = store.New(db, logger)
	svc.Review = review.New(review.Config{
		Store:    svc.Store,
		Jobs:     svc.JobManager,
		Blobs:    blobs,
		Renderer: renderer,
		Splitter: pdf.PDFCPU{},
		Logger:   logger,
	})
	svc.Prompts = prompts.NewResolver(settings, logger)
	svc.Calls = llmcall.NewStore(db)
	svc.Pipeline, err = pipeline.New(pipeline.Config{
		Store:     svc.Store,
		Settings:  settings,
		Jobs:      svc.JobManager,
		Blobs:     blobs,
		Providers: svc.Registry,
		Prompts:   svc.Prompts,
		Review:    svc.Review,
		Renderer:  renderer,
		Splitter:  pdf.PDFCPU{},
		Validator: pdf.PDFCPU{},
		Notifier:  notifier,
		Calls:     llmcall.NewRecorder(svc.Calls, logger),
		Logger:    logger,
	})
	if err != nil {
		return fail(err)
	}
	svc.Export = export.NewService(svc.Store, logger)
	return svc, nil
}

// CloseServices releases the blob store and database.
func CloseServices(svc *svcctx.Services) error {
	if svc == nil {
		return nil
	}
	var errs []error
	if c, ok := svc.Blobs.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if svc.DB != nil {
		errs = append(errs, svc.DB.Close())
	}
	return errors.Join(errs...)
}
