package main

import (
	"context"
	"fmt"

	"github.com/gftdcojp/tickstore/internal/app"
	"github.com/gftdcojp/tickstore/internal/config"
	"github.com/spf13/cobra"
)

func newQuotaCmd() *cobra.Command {
	quotaCmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect storage quotas",
		Long: `Inspect storage quotas. Usage is recounted from the storage root
before each report.

Examples:
  # Usage of every configured scope
  tickstore-ctl quota status

  # Would writing 2GB of AAPL trades from nasdaq be admitted?
  tickstore-ctl quota check AAPL nasdaq trades 2GB`,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show usage and violations per configured scope",
		Args:  cobra.NoArgs,
		RunE:  runQuotaStatus,
	}
	quotaCmd.AddCommand(statusCmd)

	checkCmd := &cobra.Command{
		Use:   "check <symbol> <source> <event-type> <size>",
		Short: "Decide whether a write of the given size is admitted",
		Args:  cobra.ExactArgs(4),
		RunE:  runQuotaCheck,
	}
	quotaCmd.AddCommand(checkCmd)

	return quotaCmd
}

func runQuotaStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		if _, err := a.Quota.ScanAndUpdate(ctx); err != nil {
			return err
		}
		if err := a.Quota.Persist(ctx); err != nil {
			return err
		}
		st := a.Quota.GetStatus()
		if jsonOutput {
			return printJSON(st)
		}
		w := newTable()
		fmt.Fprintln(w, "SCOPE\tUSED\tLIMIT\tFILES\tMAX FILES\tUSAGE\tPOLICY")
		for _, s := range st.Scopes {
			limit := "-"
			if s.MaxBytes > 0 {
				limit = formatBytes(s.MaxBytes)
			}
			maxFiles := "-"
			if s.MaxFiles > 0 {
				maxFiles = fmt.Sprint(s.MaxFiles)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%.1f%%\t%s\n",
				s.Scope, formatBytes(s.Bytes), limit, s.Files, maxFiles, s.UsagePercent, s.Policy)
		}
		w.Flush()
		if len(st.Violations) > 0 {
			fmt.Printf("%d scopes over limit\n", len(st.Violations))
			return errFailed
		}
		return nil
	})
}

func runQuotaCheck(cmd *cobra.Command, args []string) error {
	size, err := config.ParseByteSize(args[3])
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		if _, err := a.Quota.ScanAndUpdate(ctx); err != nil {
			return err
		}
		d := a.Quota.CheckQuota(args[0], args[1], args[2], size)
		if jsonOutput {
			return printJSON(d)
		}
		switch {
		case !d.IsAllowed:
			fmt.Printf("denied by %s (%s): %.1f%% of %s\n", d.Scope, d.Policy, d.UsagePercent, formatBytes(d.LimitBytes))
		case d.Scope != "":
			fmt.Printf("allowed with %s on %s: %s\n", d.Policy, d.Scope, d.Warning)
			if d.RequiresCleanup {
				fmt.Println("cleanup required")
			}
		default:
			fmt.Println("allowed")
		}
		if !d.IsAllowed {
			return errFailed
		}
		return nil
	})
}
