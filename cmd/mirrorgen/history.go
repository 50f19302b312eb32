package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BadgerOps/mirrorgen/internal/store"
	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyStatus string
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show recorded generation runs",
		Long: `List recent generation runs, newest first, or show one run together with
the feed records it skipped. Run history is recorded only when store.db_path
is set in the config file.`,
		Example: `  mirrorgen history
  mirrorgen history --status failed --limit 5
  mirrorgen history 3f2b9c1e-0d7a-4c55-9a7e-2b8f1f6f4a10`,
		Args: cobra.MaximumNArgs(1),
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list (0 for all)")
	cmd.Flags().StringVar(&historyStatus, "status", "", "only list runs with this status (success, partial, failed)")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("run history is disabled (set store.db_path in the config file)")
	}

	if len(args) == 1 {
		return showRun(args[0])
	}

	runs, err := globalStore.ListRuns(historyStatus, historyLimit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Println("Generation Runs")
	fmt.Println("===============")
	fmt.Println("")
	fmt.Printf("%-36s %-19s %-8s %8s %8s %8s %10s\n", "ID", "Started", "Status", "Records", "Skipped", "Mirrors", "Duration")
	fmt.Println(strings.Repeat("-", 104))

	for _, run := range runs {
		fmt.Printf("%-36s %-19s %-8s %8d %8d %8d %10s\n",
			run.ID,
			run.StartTime.Local().Format("2006-01-02 15:04:05"),
			run.Status,
			run.RecordsTotal,
			run.RecordsSkipped,
			run.MirrorsEmitted,
			run.Duration().Round(time.Millisecond),
		)
	}
	fmt.Println("")

	return nil
}

func showRun(id string) error {
	run, err := globalStore.GetRun(id)
	if err != nil {
		return err
	}

	skipped, err := globalStore.ListSkippedRecords(id)
	if err != nil {
		return fmt.Errorf("listing skipped records: %w", err)
	}

	printRun(run)

	if len(skipped) > 0 {
		fmt.Println("")
		fmt.Println("Skipped records:")
		for _, sk := range skipped {
			url := sk.URL
			if url == "" {
				url = "<no url>"
			}
			fmt.Printf("  #%-5d %-7s %s: %s\n", sk.RecordIndex, sk.Stage, url, sk.Reason)
		}
	}

	return nil
}

func printRun(run *store.GenerationRun) {
	output := run.OutputPath
	if output == "" {
		output = "(http response)"
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Status:   %s\n", run.Status)
	fmt.Printf("Source:   %s\n", run.Source)
	fmt.Printf("Filters:  %s\n", run.Filters)
	fmt.Printf("Started:  %s\n", run.StartTime.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Duration: %s\n", run.Duration().Round(time.Millisecond))
	fmt.Printf("Output:   %s\n", output)
	fmt.Printf("Records:  %d total, %d skipped, %d matched, %d emitted\n",
		run.RecordsTotal, run.RecordsSkipped, run.RecordsMatched, run.MirrorsEmitted)
	if run.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", run.ErrorMessage)
	}
}
