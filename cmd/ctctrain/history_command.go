package main

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ieee0824/ctc-finetune/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List training runs recorded in <output_dir>/history.db",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(ctx, func(store *history.Store) error {
				runs, err := store.Runs(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						shortID(r.ID),
						string(r.Status),
						r.StartedAt.Local().Format(time.DateTime),
						formatDuration(r),
						strconv.Itoa(r.GlobalStep),
						formatWER(r.BestWER),
						r.BaseModel,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Run", "Status", "Started", "Duration", "Step", "Best WER", "Base"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryRemoveCommand(ctx))
	return historyCmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the metrics logged by a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(ctx, func(store *history.Store) error {
				run, err := store.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				entries, err := store.Entries(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run %s (%s), output %s\n", run.ID, run.Status, run.OutputDir)
				if run.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", run.Error)
				}

				var names []string
				for _, e := range entries {
					for name := range e.Metrics {
						if !slices.Contains(names, name) {
							names = append(names, name)
						}
					}
				}
				slices.Sort(names)
				headers := append([]string{"Step", "Epoch"}, names...)
				aligns := make([]columnAlignment, len(headers))
				for i := range aligns {
					aligns[i] = alignRight
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					row := []string{strconv.Itoa(e.Step), strconv.FormatFloat(e.Epoch, 'f', 2, 64)}
					for _, name := range names {
						if v, ok := e.Metrics[name]; ok {
							row = append(row, strconv.FormatFloat(v, 'g', 5, 64))
						} else {
							row = append(row, "")
						}
					}
					rows = append(rows, row)
				}
				fmt.Fprintln(out, renderTable(headers, rows, aligns))
				return nil
			})
		},
	}
}

func newHistoryRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <run-id>",
		Short: "Delete a run from the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(ctx, func(store *history.Store) error {
				run, err := store.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := store.Delete(cmd.Context(), run.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed run %s\n", run.ID)
				return nil
			})
		},
	}
}

func withHistory(ctx *commandContext, fn func(*history.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatWER(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func formatDuration(r history.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}
