package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/offsync/internal/client/sync"
	"github.com/iudanet/offsync/internal/models"
)

func newDaemonCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Synchronize in the background until interrupted",
		Long: `Run synchronization cycles periodically, whenever the server becomes
reachable again, and back off after failed cycles. Stops on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: withApp(opts, runDaemon),
	}
}

func runDaemon(ctx context.Context, app *App, _ []string) error {
	policy, err := app.Config.Retry.Policy()
	if err != nil {
		return err
	}

	app.Engine.OnStateChange(func(s models.SyncState) {
		app.Logger.Debug("Sync state changed",
			"phase", s.Phase,
			"online", s.IsOnline,
			"pending", s.PendingChangesCount,
			"failed", s.FailedChangesCount,
			"conflicts", s.ConflictsCount)
	})

	if _, err := app.Engine.CollectGarbage(ctx, app.Config.GCRetention); err != nil {
		app.Logger.Warn("Garbage collection failed", "error", err)
	}

	scheduler := sync.NewScheduler(app.Engine, app.Monitor, app.Config.SyncInterval, policy, app.Logger)

	// первый цикл сразу после старта
	app.Monitor.Check(ctx)
	scheduler.Trigger()

	app.Logger.Info("Daemon started",
		"device_id", app.DeviceID,
		"server", app.Config.ServerURL,
		"interval", app.Config.SyncInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		collectGarbage(gctx, app)
		return nil
	})
	return g.Wait()
}

// collectGarbage раз в сутки удаляет старые SYNCED записи
func collectGarbage(ctx context.Context, app *App) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.Engine.CollectGarbage(ctx, app.Config.GCRetention); err != nil {
				app.Logger.Warn("Garbage collection failed", "error", err)
			}
		}
	}
}
