package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/redblackgraph/fscrawl/internal/report"
)

// NewReportCmd creates the report command.
func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a Markdown summary of a crawl database",
		Long: `Report renders the crawl's run state, per-hop statistics, and edge
span distribution as Markdown.

Examples:
  fscrawl report --out-dir ./data --basename smith
  fscrawl report --output crawl-report.md`,
		Args: cobra.NoArgs,
		RunE: runReportCmd,
	}
	cmd.Flags().StringP("out-dir", "o", "",
		"Directory holding the database (default: XDG data dir)")
	cmd.Flags().StringP("basename", "b", "fscrawl",
		"Database basename: <out-dir>/<basename>.db")
	cmd.Flags().String("output", "",
		"Write the report to a file instead of stdout")
	return cmd
}

// runReportCmd executes the report command.
func runReportCmd(cmd *cobra.Command, _ []string) error {
	db, err := openForInspection(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	status, err := db.Status(ctx)
	if err != nil {
		return err
	}
	log, err := db.IterationLog(ctx)
	if err != nil {
		return err
	}

	output := cmd.OutOrStdout()
	if path, err := cmd.Flags().GetString("output"); err != nil {
		return err
	} else if path != "" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	_, err = report.NewMarkdownWriter(output).Write(status, log)
	return err
}
