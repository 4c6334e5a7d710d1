package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/client/sync"
	"github.com/iudanet/offsync/internal/models"
)

type syncView struct {
	Error         string        `yaml:"error,omitempty"`
	Outcome       string        `yaml:"outcome"`
	Duration      time.Duration `yaml:"duration"`
	Sent          int           `yaml:"sent"`
	Synced        int           `yaml:"synced"`
	Requeued      int           `yaml:"requeued"`
	RemoteApplied int           `yaml:"remote_applied"`
	Conflicts     int           `yaml:"conflicts"`
	Exhausted     int           `yaml:"exhausted"`
}

func newSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization cycle",
		Args:  cobra.NoArgs,
		RunE:  withApp(opts, runSync),
	}
}

func runSync(ctx context.Context, app *App, _ []string) error {
	app.Monitor.Check(ctx)

	result, err := app.Engine.TriggerSync(ctx)
	if err != nil {
		return fmt.Errorf("synchronization failed: %w", err)
	}

	view := syncView{
		Outcome:       string(result.Outcome),
		Duration:      result.Duration,
		Sent:          result.Sent,
		Synced:        result.Synced,
		Requeued:      result.Requeued,
		RemoteApplied: result.RemoteApplied,
		Conflicts:     len(result.Conflicts),
		Exhausted:     len(result.Exhausted),
	}
	if result.Err != nil {
		view.Error = result.Err.Error()
	}

	if err := render(app.IO, app.Output, view, func() { printSyncResult(app, result) }); err != nil {
		return err
	}

	if result.Outcome.Failed() {
		return fmt.Errorf("synchronization failed: %w", result.Err)
	}
	return nil
}

func printSyncResult(app *App, result *sync.Result) {
	app.IO.Println("=== Synchronization ===")
	app.IO.Println()

	switch result.Outcome {
	case sync.OutcomeOffline:
		app.IO.Println("Server is unreachable, changes stay in the local queue")
		return
	case sync.OutcomeTransportError:
		app.IO.Printf("Delivery failed: %v\n", result.Err)
		app.IO.Printf("Changes in batch: %d (will be retried)\n", result.Sent)
	case sync.OutcomeAlreadySyncing:
		app.IO.Println("Synchronization is already in progress")
		return
	case sync.OutcomeNoChanges:
		app.IO.Println("Nothing to synchronize")
	default:
		app.IO.Println("Synchronization completed successfully")
		app.IO.Println()
		app.IO.Printf("Sent to server:     %d change(s)\n", result.Sent)
		app.IO.Printf("Acknowledged:       %d change(s)\n", result.Synced)
		app.IO.Printf("Applied from peers: %d change(s)\n", result.RemoteApplied)
		if result.Requeued > 0 {
			app.IO.Printf("Requeued:           %d change(s)\n", result.Requeued)
		}
	}

	for _, c := range result.Conflicts {
		if c.Resolved {
			app.IO.Printf("Conflict %s on %s resolved, %s version kept\n", c.ConflictID, c.EntityID, c.Winner)
		} else {
			app.IO.Printf("Conflict %s on %s unresolved: %v\n", c.ConflictID, c.EntityID, c.Err)
		}
	}
	for _, f := range result.Exhausted {
		app.IO.Printf("Change %s (%s) gave up: %v\n", f.ChangeID, f.EntityID, f.Err)
	}
}

func newRetryFailedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Return changes that exceeded retries to the queue",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, app *App, _ []string) error {
			n, err := app.Engine.RetryFailed(ctx)
			if err != nil {
				return err
			}
			app.IO.Printf("Requeued %d failed change(s)\n", n)
			return nil
		}),
	}
}

func newGCCommand(opts *RootOptions) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Purge synchronized changes older than the retention window",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "retention window (default from config gc_retention)")
	cmd.RunE = withApp(opts, func(ctx context.Context, app *App, _ []string) error {
		if !cmd.Flags().Changed("retention") {
			retention = app.Config.GCRetention
		}
		n, err := app.Engine.CollectGarbage(ctx, retention)
		if err != nil {
			return err
		}
		app.IO.Printf("Purged %d synchronized change(s)\n", n)
		return nil
	})

	return cmd
}

type changeView struct {
	ID         string `yaml:"id"`
	EntityType string `yaml:"entity_type"`
	EntityID   string `yaml:"entity_id"`
	Operation  string `yaml:"operation"`
	Status     string `yaml:"status"`
	CreatedAt  int64  `yaml:"created_at"`
	RetryCount int    `yaml:"retry_count"`
}

func newChangesCommand(opts *RootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List local outbox entries",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (PENDING|SYNCING|SYNCED|FAILED)")
	cmd.RunE = withApp(opts, func(ctx context.Context, app *App, _ []string) error {
		changes, err := app.Store.ListChanges(ctx, models.ChangeStatus(strings.ToUpper(status)))
		if err != nil {
			return fmt.Errorf("failed to list changes: %w", err)
		}

		views := make([]changeView, 0, len(changes))
		rows := make([]string, 0, len(changes))
		for _, c := range changes {
			views = append(views, changeView{
				ID:         c.ID,
				EntityType: string(c.EntityType),
				EntityID:   c.EntityID,
				Operation:  string(c.Operation),
				Status:     string(c.Status),
				CreatedAt:  c.CreatedAt,
				RetryCount: c.RetryCount,
			})
			rows = append(rows, fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%d",
				c.ID, c.EntityType, c.EntityID, c.Operation, c.Status, c.RetryCount))
		}

		return render(app.IO, app.Output, views, func() {
			if len(views) == 0 {
				app.IO.Println("No changes")
				return
			}
			table(app.IO, "ID\tTYPE\tENTITY\tOP\tSTATUS\tRETRIES", rows)
		})
	})

	return cmd
}
