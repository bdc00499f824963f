package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gftdcojp/tickstore/internal/app"
	"github.com/gftdcojp/tickstore/internal/catalog"
	"github.com/gftdcojp/tickstore/internal/config"
	"github.com/gftdcojp/tickstore/internal/types"
	"github.com/spf13/cobra"
)

func newRebuildCmd() *cobra.Command {
	var (
		checksums   bool
		parallelism int
	)
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Re-index every file under the storage root",
		Long: `Walk the storage root, scan each data file and rewrite the
directory sidecars and the root manifest. Unreadable files are reported
and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				res, err := a.Catalog.RebuildCatalog(ctx, catalog.RebuildOptions{
					ComputeChecksums: checksums || a.Config.Storage.ComputeChecksums,
					MaxParallelism:   parallelism,
				})
				if err != nil {
					return err
				}
				// Usage counters follow the new index.
				if _, err := a.Quota.ScanAndUpdate(ctx); err == nil {
					_ = a.Quota.Persist(ctx)
				}
				if jsonOutput {
					return printJSON(res)
				}
				fmt.Printf("indexed %d of %d files, %s, %d events in %s\n",
					res.FilesIndexed, res.FilesScanned, formatBytes(res.TotalBytes),
					res.TotalEvents, res.Elapsed.Round(time.Millisecond))
				printFileErrors(res.Errors)
				if !res.Success {
					return errFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&checksums, "checksums", false, "compute SHA-256 checksums")
	cmd.Flags().IntVarP(&parallelism, "parallelism", "p", 0, "worker count (default storage.max_parallelism)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		stopOnFirst bool
		parallelism int
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every cataloged file against its stored checksum",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				res, err := a.Catalog.VerifyIntegrity(ctx, catalog.VerifyOptions{
					StopOnFirstError: stopOnFirst,
					MaxParallelism:   parallelism,
				})
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res)
				}
				fmt.Printf("checked %d files in %s\n", res.FilesChecked, res.Elapsed.Round(time.Millisecond))
				if len(res.Issues) > 0 {
					w := newTable()
					fmt.Fprintln(w, "SEVERITY\tKIND\tPATH\tMESSAGE")
					for _, is := range res.Issues {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", is.Severity, is.Kind, is.Path, is.Message)
					}
					w.Flush()
				}
				if !res.IsValid {
					return errFailed
				}
				fmt.Println("catalog is valid")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&stopOnFirst, "stop-on-first-error", false, "stop at the first error-severity issue")
	cmd.Flags().IntVarP(&parallelism, "parallelism", "p", 0, "worker count (default storage.max_parallelism)")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		symbols, eventTypes, sources, tiers []string
		from, to                            string
		minSize, maxSize                    string
		schemaVersion                       string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "List cataloged files matching every given filter",
		Long: `List cataloged files. Repeated or comma-separated values of one flag
match any of them; different flags must all match.

Examples:
  tickstore-ctl search --symbol AAPL --event-type trades --from 2024-01-01
  tickstore-ctl search --tier cold --min-size 1GB`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria := catalog.SearchCriteria{
				Symbols:       symbols,
				EventTypes:    eventTypes,
				Sources:       sources,
				SchemaVersion: schemaVersion,
			}
			for _, s := range tiers {
				t, err := types.ParseTier(s)
				if err != nil {
					return err
				}
				criteria.Tiers = append(criteria.Tiers, t)
			}
			var err error
			if criteria.From, err = parseDate(from); err != nil {
				return err
			}
			if criteria.To, err = parseDate(to); err != nil {
				return err
			}
			if criteria.MinSize, err = parseSize(minSize); err != nil {
				return err
			}
			if criteria.MaxSize, err = parseSize(maxSize); err != nil {
				return err
			}

			return withApp(func(ctx context.Context, a *app.App) error {
				found := a.Catalog.Search(criteria)
				if jsonOutput {
					return printJSON(found)
				}
				w := newTable()
				fmt.Fprintln(w, "PATH\tSYMBOL\tTYPE\tDATE\tSIZE\tEVENTS\tGAPS")
				var total int64
				for _, e := range found {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
						e.RelativePath, e.Symbol, e.EventType, e.Date,
						formatBytes(e.SizeBytes), e.EventCount, e.SequenceGaps)
					total += e.SizeBytes
				}
				w.Flush()
				fmt.Printf("%d files, %s\n", len(found), formatBytes(total))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&symbols, "symbol", nil, "symbol")
	cmd.Flags().StringSliceVar(&eventTypes, "event-type", nil, "event type")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source")
	cmd.Flags().StringSliceVar(&tiers, "tier", nil, "tier (hot, warm, cold, archive, glacier)")
	cmd.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last date, YYYY-MM-DD")
	cmd.Flags().StringVar(&minSize, "min-size", "", "minimum size, e.g. 10MB")
	cmd.Flags().StringVar(&maxSize, "max-size", "", "maximum size, e.g. 1GB")
	cmd.Flags().StringVar(&schemaVersion, "schema-version", "", "schema version")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return config.ParseByteSize(s)
}

func printFileErrors(errs []types.FileError) {
	if len(errs) == 0 {
		return
	}
	w := newTable()
	fmt.Fprintln(w, "KIND\tPATH\tERROR")
	for _, fe := range errs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", fe.Kind, fe.Path, fe.Message)
	}
	w.Flush()
	fmt.Fprintf(os.Stderr, "%d errors\n", len(errs))
}
