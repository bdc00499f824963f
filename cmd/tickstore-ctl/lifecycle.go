package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gftdcojp/tickstore/internal/app"
	"github.com/gftdcojp/tickstore/internal/catalog"
	"github.com/gftdcojp/tickstore/internal/lifecycle"
	"github.com/gftdcojp/tickstore/internal/tier"
	"github.com/gftdcojp/tickstore/internal/types"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	var horizon time.Duration
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "List tier migrations due within a horizon",
		Long: `List files that will outgrow their tier's age ceiling within the
horizon, with estimated bytes moved, space saved and duration at the
configured migration throughput. Nothing is changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				entries := a.Catalog.Entries()
				files := make([]tier.FileInfo, 0, len(entries))
				for _, e := range entries {
					files = append(files, tier.FileInfo{Path: e.RelativePath, Size: e.SizeBytes, ModTime: e.LastModified})
				}
				plan := a.Executor.PlanMigration(files, horizon, time.Now())
				if jsonOutput {
					return printJSON(plan)
				}
				w := newTable()
				fmt.Fprintln(w, "PATH\tFROM\tTO\tSIZE\tAGE\tSAVINGS")
				for _, c := range plan.Candidates {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dd\t%s\n",
						c.Path, c.From, c.To, formatBytes(c.Bytes),
						int(c.Age/tier.Day), formatBytes(c.EstimatedSavings))
				}
				w.Flush()
				fmt.Printf("%d files, %s to move, ~%s saved, ~%s\n",
					len(plan.Candidates), formatBytes(plan.TotalBytes),
					formatBytes(plan.EstimatedSavings), plan.EstimatedDuration.Round(time.Second))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&horizon, "horizon", 0, "look-ahead window, e.g. 168h")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var (
		fromName, toName string
		keepSource       bool
		noVerify         bool
	)
	cmd := &cobra.Command{
		Use:   "migrate --from <tier> --to <tier>",
		Short: "Move every file of one tier into another",
		Long: `Migrate every data file under the --from tier into the --to tier,
re-encoding it with the target tier's codec, regardless of age or policy.
Each migrated file is re-indexed and charged to quota, and the move is
written to the action log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := types.ParseTier(fromName)
			if err != nil {
				return err
			}
			to, err := types.ParseTier(toName)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				opts := tier.MigrateOptions{
					DeleteSource:   !keepSource,
					VerifyChecksum: !noVerify,
					ConvertFormat:  to >= types.TierCold,
				}
				var progress tier.ProgressFunc
				if !jsonOutput {
					progress = func(p tier.Progress) {
						fmt.Fprintf(os.Stderr, "\r%d/%d files, %s  %s",
							p.FilesProcessed, p.TotalFiles, formatBytes(p.BytesProcessed), p.CurrentFile)
					}
				}
				res, err := a.Engine.MigrateTier(ctx, from, to, opts, progress)
				if progress != nil && res != nil && res.TotalFiles > 0 {
					fmt.Fprintln(os.Stderr)
				}
				if res == nil {
					return err
				}
				if jsonOutput {
					if perr := printJSON(res); perr != nil {
						return perr
					}
				} else {
					w := newTable()
					fmt.Fprintln(w, "SOURCE	LOCATION	READ	WRITTEN	VERIFIED")
					for _, m := range res.Migrated {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
							m.Source, m.Location, formatBytes(m.BytesRead), formatBytes(m.BytesWritten), m.Verification)
					}
					w.Flush()
					fmt.Printf("%d of %d files migrated from %s to %s, %s read in %s\n",
						len(res.Migrated), res.TotalFiles, from, to,
						formatBytes(res.BytesProcessed), res.Elapsed.Round(time.Millisecond))
					printFileErrors(res.Errors)
				}
				if err != nil {
					return err
				}
				if !res.Success {
					return errFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fromName, "from", "", "source tier")
	cmd.Flags().StringVar(&toName, "to", "", "target tier")
	cmd.Flags().BoolVar(&keepSource, "keep-source", false, "leave the source files in place")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip reading the target back")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Show the actions the retention policies call for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Evaluate(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res)
				}
				printActions(res.Actions)
				fmt.Printf("%d files evaluated, %d actions\n", res.FilesEvaluated, len(res.Actions))
				printFileErrors(res.Errors)
				return nil
			})
		},
	}
}

func printActions(actions []lifecycle.Action) {
	w := newTable()
	fmt.Fprintln(w, "PATH\tKIND\tFROM\tTO\tPOLICY\tREASON")
	for _, act := range actions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			act.Path, act.Kind, act.CurrentTier, act.TargetTier, act.Policy, act.Reason)
	}
	w.Flush()
}

func newExecuteCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run one lifecycle pass: evaluate and apply",
		Long: `Drop catalog entries whose files vanished, evaluate every file and
apply the resulting migrations, recompressions and deletions. --dry-run
defaults to lifecycle.dry_run from the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("dry-run") {
					dryRun = a.Config.Lifecycle.DryRun
				}
				pass, err := a.Engine.RunOnce(ctx, dryRun)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(pass)
				}
				ex := pass.Execution
				w := newTable()
				fmt.Fprintln(w, "PATH\tKIND\tSTATUS\tDETAIL")
				for _, o := range ex.Outcomes {
					detail := o.Location
					if o.Error != "" {
						detail = o.Error
					} else if o.Detail != "" {
						detail = o.Detail
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.Action.Path, o.Action.Kind, o.Status, detail)
				}
				w.Flush()
				fmt.Printf("executed %d, failed %d, skipped %d (dry run: %t, orphans removed: %d) in %s\n",
					ex.Executed, ex.Failed, ex.Skipped, ex.DryRun, pass.Orphans, ex.Elapsed.Round(time.Millisecond))
				if !ex.Success || len(pass.Evaluation.Errors) > 0 {
					printFileErrors(append(pass.Evaluation.Errors, ex.Errors...))
					return errFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log actions without changing anything")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-tier file counts, sizes and ages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.Evaluate(ctx); err != nil {
					return err
				}
				stats := a.Engine.GetTierStatistics()
				m := a.Catalog.Manifest()
				if jsonOutput {
					return printJSON(struct {
						Tiers   []lifecycle.TierStatistics `json:"tiers"`
						Catalog catalog.CatalogStatistics  `json:"catalog"`
					}{stats, m.Statistics})
				}
				w := newTable()
				fmt.Fprintln(w, "TIER\tFILES\tSIZE\tMEDIAN\tP95\tOLDEST\tNEWEST")
				for _, s := range stats {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%dd\t%dd\n",
						s.Tier, s.Files, formatBytes(s.Bytes),
						formatBytes(int64(s.MedianSize)), formatBytes(int64(s.P95Size)),
						int(s.OldestAge/tier.Day), int(s.NewestAge/tier.Day))
				}
				w.Flush()
				return nil
			})
		},
	}
}

func newActionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List recorded lifecycle actions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				recs, err := a.Meta.ListActions(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(recs)
				}
				w := newTable()
				fmt.Fprintln(w, "ID\tTIME\tKIND\tPATH\tFROM\tTO\tDRY\tRESULT")
				for _, r := range recs {
					result := r.Target
					if r.Error != "" {
						result = "error: " + r.Error
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
						r.ID, r.ExecutedAt.Format(time.RFC3339), r.Kind, r.Path,
						r.FromTier, r.ToTier, r.DryRun, result)
				}
				w.Flush()
				if last, err := a.Meta.LastRun(ctx, lifecycle.RunLifecycle); err == nil && last != nil {
					fmt.Printf("last pass %s: %d files, %d errors, success %t\n",
						last.StartedAt.Format(time.RFC3339), last.Files, last.Errors, last.Success)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum records (0 for all)")
	return cmd
}
