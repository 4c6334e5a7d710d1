package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

type conflictView struct {
	ResolvedAt    *time.Time `yaml:"resolved_at,omitempty"`
	DetectedAt    time.Time  `yaml:"detected_at"`
	ID            string     `yaml:"id"`
	ChangeID      string     `yaml:"change_id"`
	EntityType    string     `yaml:"entity_type"`
	EntityID      string     `yaml:"entity_id"`
	ConflictType  string     `yaml:"conflict_type"`
	LocalVersion  string     `yaml:"local_version"`
	RemoteVersion string     `yaml:"remote_version"`
	Winner        string     `yaml:"winner,omitempty"`
	LastError     string     `yaml:"last_error,omitempty"`
	Attempts      int        `yaml:"attempts"`
	Resolved      bool       `yaml:"resolved"`
}

func toConflictView(c *models.Conflict) conflictView {
	v := conflictView{
		DetectedAt:    c.DetectedAt,
		ResolvedAt:    c.ResolvedAt,
		ID:            c.ID,
		ChangeID:      c.ChangeID,
		EntityType:    string(c.EntityType),
		EntityID:      c.EntityID,
		ConflictType:  string(c.ConflictType),
		LocalVersion:  rawString(c.LocalVersion),
		RemoteVersion: rawString(c.RemoteVersion),
		LastError:     c.LastError,
		Attempts:      c.Attempts,
		Resolved:      c.Resolved,
	}
	if c.Resolution != nil {
		v.Winner = string(c.Resolution.Winner)
	}
	return v
}

func newConflictsCommand(opts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List conflicts reported by the server",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, app *App, _ []string) error {
			var conflicts []*models.Conflict
			err := app.Store.View(ctx, func(tx storage.Tx) error {
				var err error
				conflicts, err = tx.ListConflicts(all)
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to list conflicts: %w", err)
			}

			views := make([]conflictView, 0, len(conflicts))
			rows := make([]string, 0, len(conflicts))
			for _, c := range conflicts {
				v := toConflictView(c)
				views = append(views, v)

				state := "open"
				if v.Resolved {
					state = "resolved:" + v.Winner
				}
				rows = append(rows, fmt.Sprintf("%s\t%s\t%s/%s\t%d\t%s",
					v.ID, v.ConflictType, v.EntityType, v.EntityID, v.Attempts, state))
			}

			return render(app.IO, app.Output, views, func() {
				if len(views) == 0 {
					app.IO.Println("No conflicts")
					return
				}
				table(app.IO, "ID\tTYPE\tENTITY\tATTEMPTS\tSTATE", rows)
			})
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "include resolved conflicts")

	return cmd
}

func newResolveCommand(opts *RootOptions) *cobra.Command {
	var winner string

	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a conflict manually",
		Long: `Resolve a conflict by choosing the local or the remote version.

Without --winner both versions are printed and the choice is read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			conflictID := args[0]

			if winner == "" {
				var err error
				if winner, err = promptWinner(ctx, app, conflictID); err != nil {
					return err
				}
			}

			side := models.Side(strings.ToLower(winner))
			if side != models.SideLocal && side != models.SideRemote {
				return fmt.Errorf("invalid winner %q: must be local or remote", winner)
			}

			res, err := app.Engine.ResolveConflict(ctx, conflictID, side)
			if err != nil {
				return err
			}
			app.IO.Printf("Conflict %s resolved, %s version kept\n", conflictID, res.Winner)
			if res.Winner == models.SideLocal {
				app.IO.Println("Local version will be sent on the next sync")
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&winner, "winner", "", "version to keep (local|remote)")

	return cmd
}

// promptWinner показывает обе версии и спрашивает пользователя
func promptWinner(ctx context.Context, app *App, conflictID string) (string, error) {
	var c *models.Conflict
	err := app.Store.View(ctx, func(tx storage.Tx) error {
		var err error
		c, err = tx.GetConflict(conflictID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get conflict %s: %w", conflictID, err)
	}

	app.IO.Printf("Conflict %s (%s) on %s %s\n", c.ID, c.ConflictType, c.EntityType, c.EntityID)
	app.IO.Printf("  local:  %s\n", rawString(c.LocalVersion))
	app.IO.Printf("  remote: %s\n", rawString(c.RemoteVersion))

	answer, err := app.IO.ReadInput("Keep which version? [local/remote]: ")
	if err != nil {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return answer, nil
}
