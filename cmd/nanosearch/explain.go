package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/coffersTech/nanosearch/internal/engine"
	"github.com/coffersTech/nanosearch/internal/pkg/nanoql"
	"github.com/coffersTech/nanosearch/internal/pkg/optimizer"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newExplainCmd(root *rootOptions) *cobra.Command {
	var (
		asJSON        bool
		maxIterations int
	)
	cmd := &cobra.Command{
		Use:   "explain <query>",
		Short: "Show how a query is rewritten by the optimizer",
		Example: `  nanosearch explain 'site:go.dev OR site:github.com'
  nanosearch explain --json 'golang AND -(title:(rust))'
  nanosearch explain -- '-draft'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opt := optimizer.New(nanoql.DefaultBuilder,
				optimizer.WithLogger(root.logger),
				optimizer.WithMaxIterations(maxIterations),
			)
			planner := engine.NewPlanner(nanoql.DefaultBuilder, opt, nil, root.logger)
			plan, err := planner.Plan(strings.Join(args, " "))
			if err != nil {
				return err
			}
			ex := plan.Explain()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ex)
			}

			fmt.Fprintf(out, "query:      %s\n", ex.Parsed)
			fmt.Fprintf(out, "optimized:  %s\n", ex.Optimized)
			fmt.Fprintf(out, "iterations: %d", ex.Iterations)
			if ex.Interrupted {
				fmt.Fprint(out, " (interrupted)")
			}
			fmt.Fprintf(out, "\nnodes:      %d -> %d\n", ex.NodesBefore, ex.NodesAfter)
			if ex.SiteFilter != "" {
				fmt.Fprintf(out, "site scan:  %s\n", ex.SiteFilter)
			}
			if ex.Never {
				fmt.Fprintln(out, "matches:    nothing")
			}
			if len(ex.Changes) == 0 {
				return nil
			}

			rows := make([][]string, len(ex.Changes))
			for i, c := range ex.Changes {
				rows[i] = []string{strconv.Itoa(i + 1), c}
			}
			table := tablewriter.NewWriter(out)
			table.Header([]string{"#", "Change"})
			if err := table.Bulk(rows); err != nil {
				return err
			}
			return table.Render()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the explanation as JSON")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", optimizer.DefaultMaxIterations, "Fixpoint iteration cap")
	// Negated terms look like flags; flags end at the first query word.
	cmd.Flags().SetInterspersed(false)
	return cmd
}
