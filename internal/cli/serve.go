package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/curatolabs/tracedesk/internal/config"
	"github.com/curatolabs/tracedesk/internal/db"
	"github.com/curatolabs/tracedesk/internal/jobs"
	"github.com/curatolabs/tracedesk/internal/jobstore"
	"github.com/curatolabs/tracedesk/internal/models"
	"github.com/curatolabs/tracedesk/internal/server"
)

var serveWipe bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracedesk server",
	Long: `Run the tracedesk HTTP server: the job API, the streaming chat proxy,
and the background job pipeline.

The server works without a reachable SurrealDB instance; jobs then live
in memory only and are lost on restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWipe, "wipe", false, "wipe all data from database on startup (testing only)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("starting tracedesk server", "version", Version, "port", cfg.ServerPort)

	// Durable store is optional: connect best-effort and run memory-only
	// when SurrealDB is unreachable.
	var repo *db.Client
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	repo, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	cancel()
	if err != nil {
		logger.Warn("durable store unavailable, jobs are memory-only", "error", err)
		repo = nil
	} else {
		defer func() {
			if err := repo.Close(context.Background()); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if serveWipe || os.Getenv("TRACEDESK_WIPE_DB") == "true" {
			if err := repo.WipeData(ctx); err != nil {
				cancel()
				return err
			}
		}
		if err := repo.InitSchema(ctx); err != nil {
			cancel()
			return err
		}
		cancel()
	}

	var store *jobstore.Store
	var jobSvc *jobs.Service
	if repo != nil {
		store = jobstore.New(repo, logger)
		jobSvc = jobs.NewService(store, repo, nil, cfg.MaxConcurrency, logger)
	} else {
		store = jobstore.New(nil, logger)
		jobSvc = jobs.NewService(store, unavailableRepo{}, nil, cfg.MaxConcurrency, logger)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if repo != nil {
		recovered := store.RecoverInterrupted(rootCtx)
		if recovered > 0 {
			logger.Info("marked interrupted jobs as resumable", "count", recovered)
		}
	}

	monitor := jobstore.NewStallMonitor(store, cfg.StallInterval, cfg.StallThreshold, logger)
	monitor.Start(rootCtx)

	srv := server.New(cfg, store, jobSvc, nil, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutting down server...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// unavailableRepo fails every record operation. Used when the server runs
// without a durable store: job bookkeeping still works, record jobs report
// a clear error instead of a nil-pointer crash.
type unavailableRepo struct{}

var errNoRecordStore = errors.New("record store unavailable: SurrealDB is not connected")

func (unavailableRepo) ListLogs(context.Context, models.LogQuery) ([]models.SessionLog, error) {
	return nil, errNoRecordStore
}
func (unavailableRepo) PatchLog(context.Context, string, models.LogPatch) error {
	return errNoRecordStore
}
func (unavailableRepo) DeleteLog(context.Context, string) (bool, error) {
	return false, errNoRecordStore
}
func (unavailableRepo) ListOrphanLogs(context.Context, int) ([]models.SessionLog, error) {
	return nil, errNoRecordStore
}
func (unavailableRepo) SessionExists(context.Context, string) (bool, error) {
	return false, errNoRecordStore
}
func (unavailableRepo) UpsertLog(context.Context, string, models.SessionLog) (bool, error) {
	return false, errNoRecordStore
}
