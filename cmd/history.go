package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/spigell/form-filler/internal/filling"
	"github.com/spigell/form-filler/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the forms filled so far",
	Long: `List the recorded runs, newest first.

With --url only reports whether that form was already filled.
With --show prints the outcomes of one run.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		config, err := getConfig()
		if err != nil {
			return fmt.Errorf("getting a config: %w", err)
		}

		path := config.historyPath()
		if path == "" {
			return errors.New("history.path is not configured")
		}

		store, err := history.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()

		if url, _ := cmd.Flags().GetString("url"); url != "" {
			seen, err := store.Seen(cmd.Context(), url)
			if err != nil {
				return err
			}
			return printSeen(out, url, seen)
		}

		if id, _ := cmd.Flags().GetInt64("show"); id > 0 {
			report, err := store.Report(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printOutcomes(out, report)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.Runs(cmd.Context(), limit)
		if err != nil {
			return err
		}

		return printRuns(out, runs)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "how many runs to show")
	historyCmd.Flags().String("url", "", "only report whether this form was already filled")
	historyCmd.Flags().Int64("show", 0, "print the outcomes of the run with this id")
	historyCmd.MarkFlagsMutuallyExclusive("url", "show")
}

func printRuns(out io.Writer, runs []history.Run) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFINISHED\tFILLED\tSKIPPED\tWEAK\tFAILED\tURL")

	for _, r := range runs {
		url := r.URL
		if r.Interrupted {
			url += " (interrupted)"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.FinishedAt.Local().Format(time.DateTime), r.Filled, r.Skipped, r.Weak, r.Failed, url)
	}

	return w.Flush()
}

func printSeen(out io.Writer, url string, seen bool) error {
	if seen {
		_, err := fmt.Fprintf(out, "%s: already filled\n", url)
		return err
	}
	_, err := fmt.Fprintf(out, "%s: not filled yet\n", url)
	return err
}

// printOutcomes lists every concept of a stored run, unfilled ones last.
func printOutcomes(out io.Writer, report *filling.Report) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONCEPT\tMODE\tSTATUS\tLABEL\tSCORE\tREASON")

	unfilled := report.Unfilled()
	rows := make([]filling.Outcome, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		if o.Status != filling.StatusWeakMatch && o.Status != filling.StatusFailed {
			rows = append(rows, o)
		}
	}
	rows = append(rows, unfilled...)

	for _, o := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\n", o.Concept, o.Mode, o.Status, o.Label, o.Score, o.Reason)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, "%d of %d concepts need a manual answer\n", len(unfilled), len(report.Outcomes))
	return err
}
