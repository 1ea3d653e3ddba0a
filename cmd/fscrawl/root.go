package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/redblackgraph/fscrawl/internal/database"
	"github.com/redblackgraph/fscrawl/internal/session"
)

// Exit codes. Scripts driving long crawls branch on these, so they are
// part of the CLI contract.
const (
	exitOK        = 0
	exitFailure   = 1
	exitAuth      = 2
	exitIntegrity = 3
)

// NewRootCmd creates the root command for fscrawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fscrawl",
		Short: "Breadth-first FamilySearch family tree crawler",
		Long: `fscrawl walks a FamilySearch family tree breadth-first from a set of
seed persons, hop by hop, and stores the resulting genealogy graph in
a single SQLite database.

Every committed transaction is a durable boundary: a crawl can be
paused, resumed, or killed outright and a later invocation continues
from exactly where it stopped. Authentication is out of scope; pass an
already-established fssessionid via --session or FS_SESSION_ID.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewResumeCmd())
	cmd.AddCommand(NewCheckpointCmd())
	cmd.AddCommand(NewReportCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command and maps failure classes onto exit
// codes: 2 for an expired session, 3 for a corrupt or inconsistent
// database, 1 for everything else.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode classifies err into the documented exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, session.ErrAuthExpired):
		return exitAuth
	case errors.Is(err, database.ErrCorrupt), errors.Is(err, database.ErrIntegrity):
		return exitIntegrity
	default:
		return exitFailure
	}
}
