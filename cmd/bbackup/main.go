package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pont-us/bbackup/internal/run"
	"github.com/pont-us/bbackup/internal/session"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	exitCode := run.ExitOK

	var dryRun bool
	rootCmd := &cobra.Command{
		Use:   "bbackup <profile-dir>",
		Short: "Run a borg backup for the given profile directory",
		Long: `bbackup sequences one borg backup run: it loads the layered
configuration, refuses to run over non-whitelisted networks, fetches
the repository passphrase from the desktop secret service, runs borg
create/prune/compact with output captured to the run log, and finally
archives the log with logrotate.

The argument is a profile directory nested under the global
configuration directory, e.g. ~/.config/backups/laptop.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			exitCode = run.Backup(run.Options{
				ProfileDir: args[0],
				DryRun:     dryRun,
			})
		},
	}
	rootCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false,
		"pass --dry-run to borg and --debug to logrotate")

	rootCmd.AddCommand(newExportSessionCmd())

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("bbackup failed")
		if exitCode == run.ExitOK {
			exitCode = 1
		}
	}
	return exitCode
}

// newExportSessionCmd builds the subcommand run once per desktop
// session, before any backup, to snapshot the agent socket and session
// bus address for later non-interactive runs.
func newExportSessionCmd() *cobra.Command {
	var output string
	var strict bool

	cmd := &cobra.Command{
		Use:   "export-session",
		Short: "Capture SSH_AUTH_SOCK and DBUS_SESSION_BUS_ADDRESS for later backup runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := session.Capture(os.Getenv, time.Now)
			missing := snap.Missing()
			for _, name := range missing {
				log.WithField("variable", name).Warn("session variable is not set; exporting it empty")
			}
			if strict && len(missing) > 0 {
				return fmt.Errorf("missing session variables: %s", strings.Join(missing, ", "))
			}

			path := output
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("locating home directory: %w", err)
				}
				path = filepath.Join(home, ".config", "bbackup", "session-env.sh")
			}
			if err := session.Write(path, snap); err != nil {
				return err
			}
			log.WithField("path", path).Info("session variables exported")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "",
		"where to write the session script (default ~/.config/bbackup/session-env.sh)")
	cmd.Flags().BoolVar(&strict, "strict", false,
		"fail when a session variable is missing instead of exporting it empty")
	return cmd
}
