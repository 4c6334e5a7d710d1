package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/client/api"
	"github.com/iudanet/offsync/internal/client/data"
	"github.com/iudanet/offsync/internal/client/iocli"
	"github.com/iudanet/offsync/internal/client/storage/boltdb"
	"github.com/iudanet/offsync/internal/client/sync"
	"github.com/iudanet/offsync/internal/config"
	"github.com/iudanet/offsync/internal/conflict"
	"github.com/iudanet/offsync/internal/crdt"
	"github.com/iudanet/offsync/internal/logging"
	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/internal/netmon"
)

// App зависимости команды, собранные из конфигурации
type App struct {
	Config   *config.Client
	Logger   *slog.Logger
	Store    *boltdb.Storage
	Client   *api.Client
	Monitor  *netmon.ProbeMonitor
	Engine   *sync.Engine
	Data     data.Service
	IO       iocli.IO
	Output   string
	DeviceID string
	closers  []func() error
}

// openApp загружает конфигурацию, открывает локальную БД и собирает движок
func openApp(cmd *cobra.Command, opts *RootOptions) (app *App, err error) {
	ctx := cmd.Context()

	cfg, err := config.LoadClient(opts.ConfigFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is not set (use --user or %s_USER_ID)", config.ErrInvalidConfig, config.EnvPrefix)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Output:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	app = &App{
		Config:  cfg,
		Logger:  logger,
		IO:      iocli.New(cmd.InOrStdin(), cmd.OutOrStdout()),
		Output:  opts.Output,
		closers: []func() error{closeLog},
	}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	app.Store, err = boltdb.New(ctx, cfg.DBPath)
	if err != nil {
		return app, fmt.Errorf("failed to open database: %w", err)
	}
	app.closers = append(app.closers, app.Store.Close)

	app.DeviceID, err = app.Store.DeviceID(ctx)
	if err != nil {
		return app, fmt.Errorf("failed to get device id: %w", err)
	}

	// часы продолжают счет с сохраненного значения
	tick, err := app.Store.GetClock(ctx)
	if err != nil {
		return app, fmt.Errorf("failed to load clock: %w", err)
	}
	clock := crdt.NewLamportClock(tick)

	app.Client = api.NewClient(cfg.ServerURL, api.WithToken(cfg.Token), api.WithTimeout(cfg.TransportTimeout))
	app.Monitor = netmon.NewProbeMonitor(app.Client, cfg.ProbeInterval, cfg.ProbeTimeout, logger)

	resolver, err := conflict.NewResolver(models.Strategy(cfg.Strategy))
	if err != nil {
		return app, err
	}
	policy, err := cfg.Retry.Policy()
	if err != nil {
		return app, err
	}

	app.Engine, err = sync.NewEngine(ctx, app.Store, app.Client, app.Monitor, resolver, clock, sync.Config{
		UserID:           cfg.UserID,
		DeviceID:         app.DeviceID,
		Policy:           policy,
		BatchSize:        cfg.BatchSize,
		TransportTimeout: cfg.TransportTimeout,
		PullWhenIdle:     cfg.PullWhenIdle,
	}, logger)
	if err != nil {
		return app, err
	}

	app.Data = data.NewService(app.Store, clock, cfg.UserID, app.DeviceID)
	return app, nil
}

// Close освобождает ресурсы в обратном порядке
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withApp оборачивает RunE: открывает App на время выполнения команды
func withApp(opts *RootOptions, fn func(ctx context.Context, app *App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		app, err := openApp(cmd, opts)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := app.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close: %w", cerr)
			}
		}()
		return fn(cmd.Context(), app, args)
	}
}
