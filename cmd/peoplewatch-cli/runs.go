package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"peoplewatch/internal/database"
)

type runsOptions struct {
	DBPath    string
	Limit     int
	JSON      bool
	OlderThan time.Duration
}

func (o *runsOptions) Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("runs", pflag.ExitOnError)
	fs.StringVar(&o.DBPath, "db", o.DBPath, "SQLite run ledger path.")
	return fs
}

func (o *runsOptions) open() (*database.Store, error) {
	if o.DBPath == "" {
		return nil, fmt.Errorf("--db is required")
	}
	return database.Open(o.DBPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newRunsCommand() *cobra.Command {
	o := &runsOptions{DBPath: "peoplewatch.db", Limit: 20, OlderThan: 30 * 24 * time.Hour}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
	}
	cmd.PersistentFlags().AddFlagSet(o.Flags())

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := o.open()
			if err != nil {
				return err
			}
			defer store.Close()
			return listRuns(cmd.Context(), store, o.Limit, o.JSON, cmd.OutOrStdout())
		},
	}
	list.Flags().IntVar(&o.Limit, "limit", o.Limit, "Maximum number of runs to show.")
	list.Flags().BoolVar(&o.JSON, "json", o.JSON, "Print JSON instead of a table.")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its scene changes as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := o.open()
			if err != nil {
				return err
			}
			defer store.Close()
			return showRun(cmd.Context(), store, args[0], cmd.OutOrStdout())
		},
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs started before a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := o.open()
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.DeleteRunsBefore(cmd.Context(), time.Now().UTC().Add(-o.OlderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d runs\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&o.OlderThan, "older-than", o.OlderThan, "Age of the oldest run to keep.")

	cmd.AddCommand(list, show, prune)
	return cmd
}

func listRuns(ctx context.Context, store *database.Store, limit int, asJSON bool, w io.Writer) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, runs)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tINPUT\tDETECTOR\tFRAMES\tDETECT\tTRACK\tCHANGES\tREASON")
	for _, r := range runs {
		reason := r.Reason
		if r.Error != "" {
			reason = "error: " + r.Error
		} else if r.FinishedAt == nil {
			reason = "running"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Input, r.Detector,
			r.Frames, r.DetectionPasses, r.TrackingPasses, r.SceneChanges, reason)
	}
	return tw.Flush()
}

type runDetail struct {
	*database.RunRecord
	Changes []*database.SceneChangeRecord `json:"scene_change_frames"`
}

func showRun(ctx context.Context, store *database.Store, id string, w io.Writer) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	changes, err := store.ListSceneChanges(ctx, id)
	if err != nil {
		return err
	}
	return writeJSON(w, runDetail{RunRecord: run, Changes: changes})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
