package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/BadgerOps/mirrorgen/internal/config"
	"github.com/BadgerOps/mirrorgen/internal/engine"
	"github.com/BadgerOps/mirrorgen/internal/output"
	"github.com/spf13/cobra"
)

var generateExplain bool

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Fetch the mirror status feed and write a mirrorlist",
		Long: `Fetch the mirror status feed, filter and rank the mirrors and write a
pacman mirrorlist.

Flags override the matching config file values. Records the feed reports in
a malformed way are skipped with a warning; an empty selection is not an
error and still produces a header-only mirrorlist. A failed fetch or an
unreadable feed exits non-zero and leaves any existing output untouched.`,
		Example: `  mirrorgen generate
  mirrorgen generate --country US --protocol https --max-delay 3600
  mirrorgen generate --feed-file status.json.zst --explain
  mirrorgen generate --limit 10 -o /etc/pacman.d/mirrorlist`,
		RunE: generateRun,
	}

	addSelectionFlags(cmd)
	addOutputFlag(cmd)
	cmd.Flags().BoolVar(&generateExplain, "explain", false, "print why each rejected or skipped record was left out (to stderr)")

	return cmd
}

func generateRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalGenerator == nil {
		return fmt.Errorf("generator not initialized")
	}

	opts, err := generateOptions(globalCfg)
	if err != nil {
		return err
	}
	opts.Explain = generateExplain

	report, err := globalGenerator.Generate(commandContext(cmd), opts)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	if generateExplain {
		printExplanation(os.Stderr, report)
	}

	if opts.OutputPath != output.Stdout && !quiet {
		fmt.Printf("Wrote %d mirrors to %s (%d matched, %d of %d records skipped)\n",
			report.Emitted, opts.OutputPath, report.Matched, len(report.Skipped), report.Total)
	}

	return nil
}

// generateOptions builds pipeline options from the effective config
func generateOptions(cfg *config.Config) (engine.Options, error) {
	filter, err := cfg.Filter.Build()
	if err != nil {
		return engine.Options{}, fmt.Errorf("invalid filter: %w", err)
	}

	path := cfg.Output.Path
	if path == "" {
		path = output.Stdout
	}

	return engine.Options{
		Filter:       filter,
		Limit:        cfg.Output.Limit,
		Directive:    cfg.Output.Directive,
		PathTemplate: cfg.Output.PathTemplate,
		OutputPath:   path,
	}, nil
}

func printExplanation(w io.Writer, report *engine.Report) {
	fmt.Fprintf(w, "Rejected by filters: %d of %d records\n", len(report.Rejections), report.Parsed)
	for _, r := range report.Rejections {
		fmt.Fprintf(w, "  #%-5d %-12s %s\n", r.Index, r.Reason, r.URL)
	}

	fmt.Fprintf(w, "Skipped: %d records\n", len(report.Skipped))
	for _, s := range report.Skipped {
		fmt.Fprintf(w, "  %s\n", s)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
