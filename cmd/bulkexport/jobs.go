package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ygrebnov/bulkexport/audit"
	cfgpkg "github.com/ygrebnov/bulkexport/internal/config"
)

func newJobsCmd(load func() (cfgpkg.Config, error)) *cobra.Command {
	var limit int
	var sources bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent exports from the audit log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, err := audit.Open(cfg.AuditDB)
			if err != nil {
				return err
			}
			defer store.Close()

			if sources {
				top, err := store.TopSources(cmd.Context(), limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SOURCE\tROWS")
				for _, s := range top {
					fmt.Fprintf(tw, "%s\t%d\n", s.UID, s.Rows)
				}
				return tw.Flush()
			}

			recent, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJobs(cmd.OutOrStdout(), recent)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().BoolVar(&sources, "sources", false, "show the most exported sources instead")
	return cmd
}

func printJobs(w io.Writer, sums []audit.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tUSER\tSTATUS\tROWS\tDURATION\tSOURCES\tERROR")
	for _, s := range sums {
		srcs := s.SortedSources()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			s.JobID, s.User, s.Status, s.Rows,
			s.Finished.Sub(s.Started).Round(time.Millisecond),
			strings.Join(srcs, ","), s.Error)
	}
	return tw.Flush()
}
