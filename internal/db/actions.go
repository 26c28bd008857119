package db

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/site-harvest/models"
	dbpkg "github.com/dtnitsch/site-harvest/pkg/db"
	"github.com/dtnitsch/site-harvest/pkg/mapreduce"
)

func RunsAction(c *cli.Context) error {
	database, err := dbpkg.Open(c.String("db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if c.NArg() > 0 {
		run, err := database.GetRun(c.Args().First())
		if err != nil {
			return err
		}
		failures, err := database.GetRunFailures(run.RunID, "")
		if err != nil {
			return err
		}
		printRun(writer(c), run, failures)
		return nil
	}

	runs, err := database.ListRuns(c.String("domain"), c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	printRuns(writer(c), runs)
	return nil
}

func FailuresAction(c *cli.Context) error {
	database, err := dbpkg.Open(c.String("db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	run, err := GetRunOrLatest(c, database)
	if err != nil {
		return err
	}

	failures, err := database.GetRunFailures(run.RunID, c.String("phase"))
	if err != nil {
		return err
	}
	printFailures(writer(c), run, failures)
	return nil
}

func writer(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func printRuns(w io.Writer, runs []dbpkg.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}

	fmt.Fprintf(w, "%-10s %-20s %-8s %-24s %-16s %-16s %-7s %-7s %-10s\n",
		"Run", "Started", "Command", "Domain", "Timestamp", "Status", "Files", "Failed", "Size")
	fmt.Fprintln(w, strings.Repeat("-", 124))

	for _, r := range runs {
		fmt.Fprintf(w, "%-10s %-20s %-8s %-24s %-16s %-16s %-7d %-7d %-10s\n",
			ShortID(r.RunID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Command,
			r.Domain,
			r.Timestamp,
			r.Status,
			r.FileCount,
			r.FailedCount,
			humanize.Bytes(uint64(r.TotalBytes)),
		)
	}

	fmt.Fprintf(w, "\nTotal: %d runs\n", len(runs))
	fmt.Fprintf(w, "\nTip: Use 'site-harvest runs <id>' to see details\n")
}

func printRun(w io.Writer, r *dbpkg.Run, failures []models.Failure) {
	fmt.Fprintf(w, "Run %s\n", r.RunID)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Command:     %s\n", r.Command)
	fmt.Fprintf(w, "Domain:      %s @ %s\n", r.Domain, r.Timestamp)
	fmt.Fprintf(w, "Output:      %s\n", r.OutputDir)
	fmt.Fprintf(w, "Started:     %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Finished:    %s (%s)\n", r.FinishedAt.Local().Format("2006-01-02 15:04:05"), humanize.RelTime(r.StartedAt, r.FinishedAt, "", "later"))
	}
	fmt.Fprintf(w, "Status:      %s\n", r.Status)
	fmt.Fprintf(w, "Files:       %s (%s)\n", humanize.Comma(int64(r.FileCount)), humanize.Bytes(uint64(r.TotalBytes)))
	fmt.Fprintf(w, "Failed:      %d\n", r.FailedCount)

	if len(failures) > 0 {
		fmt.Fprintf(w, "\nFailures by phase:\n")
		mapreduce.PrintTop(w, CountByPhase(failures), 0)
		fmt.Fprintf(w, "\nTip: Use 'site-harvest failures %s' to list them\n", ShortID(r.RunID))
	}
}

func printFailures(w io.Writer, r *dbpkg.Run, failures []models.Failure) {
	fmt.Fprintf(w, "# Run: %s (%s @ %s)\n", r.RunID, r.Domain, r.Timestamp)
	if len(failures) == 0 {
		fmt.Fprintln(w, "No failures recorded")
		return
	}
	for i, f := range failures {
		fmt.Fprintf(w, "%3d. [%s] %s\n", i+1, f.Phase, f.URL)
		if f.Error != "" {
			fmt.Fprintf(w, "     Error: %s\n", f.Error)
		}
	}
	fmt.Fprintf(w, "\nTotal: %d failures\n", len(failures))
}
