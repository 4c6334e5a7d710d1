package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/models"
)

type statusView struct {
	Metadata *models.SyncMetadata `yaml:"metadata"`
	DeviceID string               `yaml:"device_id"`
	UserID   string               `yaml:"user_id"`
	Server   string               `yaml:"server"`
	State    models.SyncState     `yaml:"state"`
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show synchronization status",
		Args:  cobra.NoArgs,
		RunE:  withApp(opts, runStatus),
	}
}

func runStatus(ctx context.Context, app *App, _ []string) error {
	app.Monitor.Check(ctx)

	state, err := app.Engine.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to get sync state: %w", err)
	}
	meta, err := app.Store.GetMetadata(ctx, app.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to get sync metadata: %w", err)
	}

	view := statusView{
		DeviceID: app.DeviceID,
		UserID:   app.Config.UserID,
		Server:   app.Config.ServerURL,
		State:    state,
		Metadata: meta,
	}

	return render(app.IO, app.Output, view, func() {
		network := "offline"
		if state.IsOnline {
			network = "online"
		}

		app.IO.Println("=== Sync Status ===")
		app.IO.Println()
		app.IO.Printf("Device:        %s\n", view.DeviceID)
		app.IO.Printf("User:          %s\n", view.UserID)
		app.IO.Printf("Server:        %s (%s)\n", view.Server, network)
		app.IO.Printf("Phase:         %s\n", state.Phase)
		app.IO.Printf("Last sync:     %s\n", formatMillis(state.LastSyncTimestamp))
		app.IO.Printf("Last attempt:  %s\n", formatMillis(meta.LastSyncAttemptTimestamp))
		app.IO.Printf("Total synced:  %d\n", meta.TotalSyncedChanges)
		app.IO.Printf("Sync errors:   %d\n", meta.SyncErrorCount)
		if meta.LastError != "" {
			app.IO.Printf("Last error:    %s\n", meta.LastError)
		}
		app.IO.Println()

		if state.PendingChangesCount > 0 {
			app.IO.Printf("Pending sync: %d change(s) waiting to be synchronized\n", state.PendingChangesCount)
		} else {
			app.IO.Println("All local changes synchronized")
		}
		if state.FailedChangesCount > 0 {
			app.IO.Printf("Failed: %d change(s) exceeded retries, run 'offsync retry-failed'\n", state.FailedChangesCount)
		}
		if state.ConflictsCount > 0 {
			app.IO.Printf("Conflicts: %d unresolved, run 'offsync conflicts'\n", state.ConflictsCount)
		}
	})
}
