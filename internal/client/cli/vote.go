package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/models"
)

type voteView struct {
	ID            string `yaml:"id"`
	EventID       string `yaml:"event_id"`
	ParticipantID string `yaml:"participant_id"`
	Option        string `yaml:"option"`
}

func newVoteCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vote",
		Short: "Cast and list votes",
	}
	cmd.AddCommand(
		newVoteCastCommand(opts),
		newVoteListCommand(opts),
		newVoteRetractCommand(opts),
	)
	return cmd
}

func newVoteCastCommand(opts *RootOptions) *cobra.Command {
	var participantID, option string

	cmd := &cobra.Command{
		Use:   "cast <event-id>",
		Short: "Vote for an event option",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			v := &models.Vote{
				EventID:       args[0],
				ParticipantID: participantID,
				Option:        option,
			}
			if err := app.Data.CastVote(ctx, v); err != nil {
				return fmt.Errorf("failed to cast vote: %w", err)
			}
			app.IO.Printf("Vote cast: %s\n", v.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&participantID, "participant", "", "participant id")
	cmd.Flags().StringVar(&option, "option", "", "option to vote for")
	_ = cmd.MarkFlagRequired("participant")
	_ = cmd.MarkFlagRequired("option")

	return cmd
}

func newVoteListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <event-id>",
		Short: "List votes of an event",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			votes, err := app.Data.ListVotes(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to list votes: %w", err)
			}

			views := make([]voteView, 0, len(votes))
			rows := make([]string, 0, len(votes))
			for _, v := range votes {
				views = append(views, voteView{ID: v.ID, EventID: v.EventID, ParticipantID: v.ParticipantID, Option: v.Option})
				rows = append(rows, fmt.Sprintf("%s\t%s\t%s", v.ID, v.ParticipantID, v.Option))
			}

			return render(app.IO, app.Output, views, func() {
				if len(views) == 0 {
					app.IO.Println("No votes")
					return
				}
				table(app.IO, "ID\tPARTICIPANT\tOPTION", rows)
			})
		}),
	}
}

func newVoteRetractCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retract <vote-id>",
		Short: "Retract a vote",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			if err := app.Data.RetractVote(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to retract vote: %w", err)
			}
			app.IO.Printf("Vote retracted: %s\n", args[0])
			return nil
		}),
	}
}
