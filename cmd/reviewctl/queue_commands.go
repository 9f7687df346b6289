package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"review-queue/internal/app"
	"review-queue/internal/models"
	"review-queue/internal/review"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats <collection-id>",
		Short: "Show queue counts by mode and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				report, err := a.Service.Stats(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, report)
				}
				writeTable(cmd.OutOrStdout(),
					[]string{"Mode", "Pending", "In progress", "Done", "Total"},
					buildStatsRows(report),
					1, 2, 3, 4,
				)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func buildStatsRows(report review.StatsReport) [][]string {
	rows := make([][]string, 0, len(models.Modes))
	for _, mode := range models.Modes {
		byStatus := report.Counts[mode]
		rows = append(rows, []string{
			string(mode),
			strconv.Itoa(byStatus[models.StatusPending]),
			strconv.Itoa(byStatus[models.StatusInProgress]),
			strconv.Itoa(byStatus[models.StatusDone]),
			strconv.Itoa(report.Total(mode)),
		})
	}
	return rows
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var collection, mode string
	cmd := &cobra.Command{
		Use:   "enqueue <generation-id>...",
		Short: "Add or refresh queue items for generations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := make([]models.EnqueueEntry, 0, len(args))
			for _, id := range args {
				entries = append(entries, models.EnqueueEntry{
					GenerationID: id,
					CollectionID: collection,
					Mode:         models.Mode(mode),
				})
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				results, err := a.Service.Enqueue(cmd.Context(), entries)
				if err != nil {
					return err
				}
				return printResults(cmd, results)
			})
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Collection id")
	cmd.Flags().StringVar(&mode, "mode", string(models.ModeReview), "Queue mode (review|cull)")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func newPopCommand(ctx *commandContext) *cobra.Command {
	var (
		collection, mode, reviewer string
		limit                      int
		asJSON                     bool
	)
	cmd := &cobra.Command{
		Use:   "pop",
		Short: "Claim a batch of queue items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				items, err := a.Service.Pop(cmd.Context(), review.PopRequest{
					CollectionID: collection,
					Mode:         models.Mode(mode),
					Limit:        limit,
					ReviewerID:   reviewer,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, it := range items {
					expires := ""
					if it.LeaseExpiresAt != nil {
						expires = it.LeaseExpiresAt.Local().Format(time.RFC3339)
					}
					rows = append(rows, []string{it.QueueID, it.GenerationID, string(it.Status), expires})
				}
				writeTable(cmd.OutOrStdout(), []string{"Queue ID", "Generation", "Status", "Lease expires"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Collection id")
	cmd.Flags().StringVar(&mode, "mode", string(models.ModeReview), "Queue mode (review|cull)")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer id recorded on the lease")
	cmd.Flags().IntVar(&limit, "limit", 0, "Batch size (0 uses the configured default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func newCommitCommand(ctx *commandContext) *cobra.Command {
	var mode, outcome, reviewer string
	cmd := &cobra.Command{
		Use:   "commit <generation-id>...",
		Short: "Record the same outcome for one or more generations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decisions := make([]models.Decision, 0, len(args))
			for _, id := range args {
				decisions = append(decisions, models.Decision{
					GenerationID: id,
					Mode:         models.Mode(mode),
					Outcome:      models.Outcome(outcome),
					ReviewerID:   reviewer,
				})
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				res, err := a.Service.Commit(cmd.Context(), decisions)
				if err != nil {
					return err
				}
				if err := printResults(cmd, res.Results); err != nil {
					return err
				}
				if res.AppliedCount < len(decisions) {
					return fmt.Errorf("%d of %d decisions failed", len(decisions)-res.AppliedCount, len(decisions))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(models.ModeReview), "Queue mode (review|cull)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "accepted|rejected for review, keep|exclude for cull")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer id")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func newReleaseCommand(ctx *commandContext) *cobra.Command {
	var reviewer string
	cmd := &cobra.Command{
		Use:   "release <queue-id>...",
		Short: "Return leased items to the pending pool",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				n, err := a.Service.Release(cmd.Context(), args, reviewer)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released %d item(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer id (required under strict lease ownership)")
	return cmd
}

func newReapCommand(ctx *commandContext) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Reclaim leases older than the lock window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				w := a.Config.LockWindow
				if cmd.Flags().Changed("window") {
					w = window
				}
				n, err := a.Service.Reap(cmd.Context(), w)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d lease(s) older than %s\n", n, w)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "Lock window (defaults to the configured value)")
	return cmd
}

func printResults(cmd *cobra.Command, results []models.EntryResult) error {
	if len(results) == 0 {
		return errors.New("no results")
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.GenerationID, string(r.Mode), strings.ToUpper(r.Status), r.QueueID, r.Detail})
	}
	writeTable(cmd.OutOrStdout(), []string{"Generation", "Mode", "Result", "Queue ID", "Detail"}, rows)
	return nil
}
