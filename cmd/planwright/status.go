package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/planwright/planwright/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run status",
	Long: `Without arguments, list all runs. With a run ID, show the run's
current state and every artifact version with its score and verdict.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		if len(args) == 0 {
			statusFilter, _ := cmd.Flags().GetString("status")
			runs, err := env.store.ListRuns(ctx, types.RunFilter{Status: types.RunStatus(statusFilter)})
			if err != nil {
				fail(err)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Idea", "Status", "Phase", "Mode", "Pivots"})
			for _, r := range runs {
				idea := r.Idea
				if len(idea) > 48 {
					idea = idea[:45] + "..."
				}
				tw.AppendRow(table.Row{r.ID, idea, r.Status, r.CurrentPhase, r.Mode, r.PivotCount})
			}
			tw.Render()
			return
		}

		run, err := env.store.GetRun(ctx, args[0])
		if err != nil {
			fail(err)
		}
		cmd.Printf("Run %s\n", run.ID)
		cmd.Printf("  Idea:    %s\n", run.Idea)
		if run.RefinedIdea != "" {
			cmd.Printf("  Refined: %s\n", run.RefinedIdea)
		}
		cmd.Printf("  Status:  %s  Phase: %s  Mode: %s  Pivots: %d\n",
			run.Status, run.CurrentPhase, run.Mode, run.PivotCount)

		artifacts, err := env.store.ListArtifacts(ctx, run.ID)
		if err != nil {
			fail(err)
		}
		if len(artifacts) == 0 {
			cmd.Println("\nNo artifacts yet.")
			return
		}
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Artifact", "Phase", "Version", "Score", "Verdict", "Iteration"})
		for _, a := range artifacts {
			tw.AppendRow(table.Row{a.ID, a.Phase, a.Version, a.OverallScore, a.ReviewVerdict, a.ReviewIteration})
		}
		tw.Render()
	},
}

func init() {
	statusCmd.Flags().String("status", "", "Filter run list by status")
	rootCmd.AddCommand(statusCmd)
}
