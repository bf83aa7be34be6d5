package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pont-us/bbackup/internal/borg"
	"github.com/pont-us/bbackup/internal/plot"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	var repo string
	var height int

	cmd := &cobra.Command{
		Use:   "borgplot [listing-file]",
		Short: "Plot archive timestamps from borg list output",
		Long: `borgplot draws a chronological timeline of the archives in a borg
repository, one tick per archive, from the output of borg list. It
reads a saved listing file, stdin ("-"), or runs borg list itself when
--repo is given (repository credentials come from the environment,
e.g. BORG_PASSPHRASE). Strictly read-only.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			listing, cleanup, err := openListing(repo, args)
			if err != nil {
				return err
			}
			defer cleanup()

			archives, err := plot.Parse(listing)
			if err != nil {
				return err
			}
			return plot.Render(os.Stdout, archives, height)
		},
	}
	cmd.Flags().StringVarP(&repo, "repo", "r", "",
		"borg repository to list instead of reading a file")
	cmd.Flags().IntVar(&height, "height", 40, "number of rows in the plot")

	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		log.WithError(err).Error("borgplot failed")
		return 1
	}
	return 0
}

func openListing(repo string, args []string) (io.Reader, func(), error) {
	noop := func() {}
	switch {
	case repo != "":
		var buf bytes.Buffer
		engine := &borg.Engine{Repository: repo, Output: os.Stderr}
		if err := engine.List(&buf); err != nil {
			return nil, noop, err
		}
		return &buf, noop, nil
	case len(args) == 0 || args[0] == "-":
		return os.Stdin, noop, nil
	default:
		f, err := os.Open(args[0])
		if err != nil {
			return nil, noop, fmt.Errorf("opening listing file: %w", err)
		}
		return f, func() { f.Close() }, nil
	}
}
