package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// VersionInfo сведения о сборке, задаются через ldflags
type VersionInfo struct {
	Version   string
	BuildDate string
	GitCommit string
}

// RootOptions глобальные флаги всех команд
type RootOptions struct {
	ConfigFile string
	Output     string // "text" | "yaml"
}

// ValidOutputs допустимые форматы вывода
var ValidOutputs = []string{"text", "yaml"}

// NewRootCommand создает корневую команду клиента offsync
func NewRootCommand(info VersionInfo) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "offsync",
		Short: "Offline-first sync client",
		Long: `Offline-first client for planning events.

Local changes are written to an outbox first and delivered to the sync
server when the network is available. Conflicts are resolved with the
configured strategy or manually.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidOutputs, opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, ValidOutputs)
			}
			return nil
		},
	}

	// Глобальные флаги; пустые значения не перекрывают конфигурацию
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "path to config file (yaml)")
	pf.StringVarP(&opts.Output, "output", "o", "text", "output format (text|yaml)")
	pf.String("server", "", "sync server URL")
	pf.String("db", "", "path to local database")
	pf.String("token", "", "device access token")
	pf.String("user", "", "user id")
	pf.String("strategy", "", "default conflict strategy (LAST_WRITE_WINS|REMOTE_WINS|LOCAL_WINS|MANUAL)")
	pf.String("log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(
		newVersionCommand(info),
		newStatusCommand(opts),
		newSyncCommand(opts),
		newRetryFailedCommand(opts),
		newChangesCommand(opts),
		newConflictsCommand(opts),
		newResolveCommand(opts),
		newGCCommand(opts),
		newDaemonCommand(opts),
		newEventCommand(opts),
		newParticipantCommand(opts),
		newVoteCommand(opts),
	)

	return cmd
}

func newVersionCommand(info VersionInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "offsync client\n")
			_, _ = fmt.Fprintf(out, "Version:    %s\n", info.Version)
			_, _ = fmt.Fprintf(out, "Build Date: %s\n", info.BuildDate)
			_, _ = fmt.Fprintf(out, "Git Commit: %s\n", info.GitCommit)
			return nil
		},
	}
}
