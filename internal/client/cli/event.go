package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/models"
)

type eventView struct {
	StartsAt    time.Time `yaml:"starts_at"`
	ID          string    `yaml:"id"`
	OwnerID     string    `yaml:"owner_id"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description,omitempty"`
	Location    string    `yaml:"location,omitempty"`
	Status      string    `yaml:"status"`
	DeviceID    string    `yaml:"device_id"`
	UpdatedAt   int64     `yaml:"updated_at"`
}

func toEventView(e *models.Event) eventView {
	return eventView{
		StartsAt:    e.StartsAt,
		ID:          e.ID,
		OwnerID:     e.OwnerID,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		Status:      string(e.Status),
		DeviceID:    e.DeviceID,
		UpdatedAt:   e.UpdatedAt,
	}
}

func newEventCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage events",
	}

	cmd.AddCommand(
		newEventCreateCommand(opts),
		newEventUpdateCommand(opts),
		newEventStatusCommand(opts),
		newEventShowCommand(opts),
		newEventListCommand(opts),
		newEventDeleteCommand(opts),
	)
	return cmd
}

// eventFlags редактируемые поля мероприятия
type eventFlags struct {
	title       string
	description string
	location    string
	startsAt    string
}

func (f *eventFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "event title")
	cmd.Flags().StringVar(&f.description, "description", "", "event description")
	cmd.Flags().StringVar(&f.location, "location", "", "event location")
	cmd.Flags().StringVar(&f.startsAt, "starts-at", "", "start time (RFC3339)")
}

// apply переносит заданные флаги в мероприятие
func (f *eventFlags) apply(cmd *cobra.Command, e *models.Event) error {
	flags := cmd.Flags()
	if flags.Changed("title") {
		e.Title = f.title
	}
	if flags.Changed("description") {
		e.Description = f.description
	}
	if flags.Changed("location") {
		e.Location = f.location
	}
	if flags.Changed("starts-at") {
		t, err := time.Parse(time.RFC3339, f.startsAt)
		if err != nil {
			return fmt.Errorf("invalid --starts-at: %w", err)
		}
		e.StartsAt = t.UTC()
	}
	return nil
}

func newEventCreateCommand(opts *RootOptions) *cobra.Command {
	var f eventFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		Args:  cobra.NoArgs,
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("title")

	cmd.RunE = withApp(opts, func(ctx context.Context, app *App, _ []string) error {
		event := &models.Event{}
		if err := f.apply(cmd, event); err != nil {
			return err
		}
		if err := app.Data.CreateEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to create event: %w", err)
		}
		app.IO.Printf("Event created: %s\n", event.ID)
		return nil
	})
	return cmd
}

func newEventUpdateCommand(opts *RootOptions) *cobra.Command {
	var f eventFlags

	cmd := &cobra.Command{
		Use:   "update <event-id>",
		Short: "Update event fields",
		Args:  cobra.ExactArgs(1),
	}
	f.register(cmd)

	cmd.RunE = withApp(opts, func(ctx context.Context, app *App, args []string) error {
		event, err := app.Data.GetEvent(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get event: %w", err)
		}
		if err := f.apply(cmd, event); err != nil {
			return err
		}
		if err := app.Data.UpdateEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to update event: %w", err)
		}
		app.IO.Printf("Event updated: %s\n", event.ID)
		return nil
	})
	return cmd
}

func newEventStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <event-id> <planned|confirmed|cancelled>",
		Short: "Change event status",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			if err := app.Data.SetEventStatus(ctx, args[0], models.EventStatus(args[1])); err != nil {
				return fmt.Errorf("failed to change event status: %w", err)
			}
			app.IO.Printf("Event %s is now %s\n", args[0], args[1])
			return nil
		}),
	}
}

func newEventShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <event-id>",
		Short: "Show an event",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			event, err := app.Data.GetEvent(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get event: %w", err)
			}
			view := toEventView(event)

			return render(app.IO, app.Output, view, func() {
				app.IO.Printf("ID:          %s\n", view.ID)
				app.IO.Printf("Title:       %s\n", view.Title)
				app.IO.Printf("Status:      %s\n", view.Status)
				if !view.StartsAt.IsZero() {
					app.IO.Printf("Starts at:   %s\n", view.StartsAt.Format(time.RFC3339))
				}
				if view.Location != "" {
					app.IO.Printf("Location:    %s\n", view.Location)
				}
				if view.Description != "" {
					app.IO.Printf("Description: %s\n", view.Description)
				}
				app.IO.Printf("Owner:       %s\n", view.OwnerID)
			})
		}),
	}
}

func newEventListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List events",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, app *App, _ []string) error {
			events, err := app.Data.ListEvents(ctx)
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}

			views := make([]eventView, 0, len(events))
			rows := make([]string, 0, len(events))
			for _, e := range events {
				v := toEventView(e)
				views = append(views, v)

				starts := "-"
				if !v.StartsAt.IsZero() {
					starts = v.StartsAt.Format(time.RFC3339)
				}
				rows = append(rows, fmt.Sprintf("%s\t%s\t%s\t%s", v.ID, v.Status, starts, v.Title))
			}

			return render(app.IO, app.Output, views, func() {
				if len(views) == 0 {
					app.IO.Println("No events")
					return
				}
				table(app.IO, "ID\tSTATUS\tSTARTS\tTITLE", rows)
			})
		}),
	}
}

func newEventDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <event-id>",
		Short: "Delete an event",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			if err := app.Data.DeleteEvent(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete event: %w", err)
			}
			app.IO.Printf("Event deleted: %s\n", args[0])
			return nil
		}),
	}
}
