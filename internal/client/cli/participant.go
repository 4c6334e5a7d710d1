package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/models"
)

type participantView struct {
	ID      string `yaml:"id"`
	EventID string `yaml:"event_id"`
	Name    string `yaml:"name"`
	Status  string `yaml:"status"`
}

func newParticipantCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "participant",
		Short: "Manage event participants",
	}
	cmd.AddCommand(
		newParticipantAddCommand(opts),
		newParticipantStatusCommand(opts),
		newParticipantListCommand(opts),
		newParticipantRemoveCommand(opts),
	)
	return cmd
}

func newParticipantAddCommand(opts *RootOptions) *cobra.Command {
	var name, status string

	cmd := &cobra.Command{
		Use:   "add <event-id>",
		Short: "Invite a participant to an event",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			p := &models.Participant{
				EventID: args[0],
				Name:    name,
				Status:  models.ParticipantStatus(status),
			}
			if err := app.Data.AddParticipant(ctx, p); err != nil {
				return fmt.Errorf("failed to add participant: %w", err)
			}
			app.IO.Printf("Participant added: %s\n", p.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "participant name")
	cmd.Flags().StringVar(&status, "status", "", "initial status (invited|going|declined)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newParticipantStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <participant-id> <invited|going|declined>",
		Short: "Change participant response",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			if err := app.Data.SetParticipantStatus(ctx, args[0], models.ParticipantStatus(args[1])); err != nil {
				return fmt.Errorf("failed to change participant status: %w", err)
			}
			app.IO.Printf("Participant %s is now %s\n", args[0], args[1])
			return nil
		}),
	}
}

func newParticipantListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <event-id>",
		Short: "List participants of an event",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			participants, err := app.Data.ListParticipants(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to list participants: %w", err)
			}

			views := make([]participantView, 0, len(participants))
			rows := make([]string, 0, len(participants))
			for _, p := range participants {
				views = append(views, participantView{ID: p.ID, EventID: p.EventID, Name: p.Name, Status: string(p.Status)})
				rows = append(rows, fmt.Sprintf("%s\t%s\t%s", p.ID, p.Status, p.Name))
			}

			return render(app.IO, app.Output, views, func() {
				if len(views) == 0 {
					app.IO.Println("No participants")
					return
				}
				table(app.IO, "ID\tSTATUS\tNAME", rows)
			})
		}),
	}
}

func newParticipantRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <participant-id>",
		Short: "Remove a participant",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			if err := app.Data.RemoveParticipant(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to remove participant: %w", err)
			}
			app.IO.Printf("Participant removed: %s\n", args[0])
			return nil
		}),
	}
}
