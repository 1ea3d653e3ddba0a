package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewResumeCmd creates the resume command.
func NewResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a stopped or crashed crawl",
		Long: `Resume continues a crawl from its last durable checkpoint.

The database must already exist. Seeds are never re-read: the stored
frontier and processing queues decide what happens next, so resuming
after a crash re-dispatches exactly the work that was in flight. The
recorded hop limit and throttle profile are reused unless overridden
by flags.

Examples:
  # Continue after Ctrl-C or a crash
  fscrawl resume --session $FS_SESSION_ID

  # Continue with a new session after the old one expired
  fscrawl resume --session $NEW_SESSION --rps 2`,
		Args: cobra.NoArgs,
		RunE: runResumeCmd,
	}
	addCrawlFlags(cmd)
	return cmd
}

// runResumeCmd executes the resume command.
func runResumeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd, nil)
	if err != nil {
		return err
	}
	cfg.Resume = true
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return runCrawl(cmd.Context(), cfg, flagOverrides(cmd))
}
