package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/planwright/planwright/internal/types"
)

var unknownCmd = &cobra.Command{
	Use:   "unknown",
	Short: "Track open questions discovered during planning",
	Long: `File, investigate, answer, and defer unknowns.

Open or investigating unknowns at critical or high priority soft-block a run
from auto-advancing; an operator approval overrides the block.`,
}

var unknownFileCmd = &cobra.Command{
	Use:   "file <run-id>",
	Short: "File an unknown against a run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		question, _ := cmd.Flags().GetString("question")
		priority, _ := cmd.Flags().GetString("priority")
		category, _ := cmd.Flags().GetString("category")
		phase, _ := cmd.Flags().GetString("phase")
		context, _ := cmd.Flags().GetString("context")

		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		if phase == "" {
			run, err := env.store.GetRun(ctx, args[0])
			if err != nil {
				fail(err)
			}
			phase = string(run.CurrentPhase)
		}
		u := &types.Unknown{
			RunID:           args[0],
			PhaseDiscovered: types.Phase(phase),
			Category:        category,
			Priority:        types.Priority(priority),
			Question:        question,
			Context:         context,
		}
		if err := env.tracker.File(ctx, u); err != nil {
			fail(err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		cmd.Printf("%s Unknown filed: %s (%s)\n", green("✓"), u.ID, u.Priority)
	},
}

var unknownListCmd = &cobra.Command{
	Use:   "list <run-id>",
	Short: "List a run's unknowns",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		blocking, _ := cmd.Flags().GetBool("blocking")

		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		var list []*types.Unknown
		if blocking {
			list, err = env.tracker.Blocking(ctx, args[0])
		} else {
			list, err = env.store.ListUnknowns(ctx, types.UnknownFilter{RunID: args[0]})
		}
		if err != nil {
			fail(err)
		}
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"ID", "Priority", "Status", "Question", "Confidence"})
		for _, u := range list {
			tw.AppendRow(table.Row{u.ID, u.Priority, u.Status, u.Question, u.Confidence})
		}
		tw.Render()
	},
}

var unknownInvestigateCmd = &cobra.Command{
	Use:   "investigate <unknown-id>",
	Short: "Start a resolution workflow for an unknown",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		res, err := env.tracker.StartResolution(ctx, args[0])
		if err != nil {
			fail(err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		cmd.Printf("%s Investigation started, workflow %s\n", green("✓"), res.ID)
	},
}

var unknownStepCmd = &cobra.Command{
	Use:   "step <workflow-id>",
	Short: "Record a resolution step",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		action, _ := cmd.Flags().GetString("action")
		result, _ := cmd.Flags().GetString("result")
		confidence, _ := cmd.Flags().GetInt("confidence")
		phase, _ := cmd.Flags().GetString("phase")

		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		step := &types.ResolutionStep{
			WorkflowID: args[0],
			Phase:      types.Phase(phase),
			Action:     action,
			Result:     result,
			Confidence: confidence,
		}
		if err := env.tracker.AddStep(ctx, step); err != nil {
			fail(err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		cmd.Printf("%s Step recorded (confidence %d)\n", green("✓"), confidence)
	},
}

var unknownAnswerCmd = &cobra.Command{
	Use:   "answer <unknown-id>",
	Short: "Answer an unknown under investigation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		answer, _ := cmd.Flags().GetString("answer")
		confidence, _ := cmd.Flags().GetInt("confidence")
		phase, _ := cmd.Flags().GetString("phase")

		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		if phase == "" {
			u, err := env.store.GetUnknown(ctx, args[0])
			if err != nil {
				fail(err)
			}
			run, err := env.store.GetRun(ctx, u.RunID)
			if err != nil {
				fail(err)
			}
			phase = string(run.CurrentPhase)
		}
		if err := env.tracker.Answer(ctx, args[0], answer, confidence, types.Phase(phase)); err != nil {
			fail(err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		cmd.Printf("%s Unknown answered: %s\n", green("✓"), args[0])
	},
}

var unknownDeferCmd = &cobra.Command{
	Use:   "defer <unknown-id>",
	Short: "Defer an unknown with explicit working assumptions",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		assumptions, _ := cmd.Flags().GetString("assumptions")

		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		if err := env.tracker.Defer(ctx, args[0], assumptions); err != nil {
			fail(err)
		}
		yellow := color.New(color.FgYellow).SprintFunc()
		cmd.Printf("%s Unknown deferred: %s\n", yellow("⏸"), args[0])
	},
}

func init() {
	unknownFileCmd.Flags().StringP("question", "q", "", "The open question")
	unknownFileCmd.Flags().StringP("priority", "p", "medium", "Priority: critical, high, medium, or low")
	unknownFileCmd.Flags().String("category", "", "Category label")
	unknownFileCmd.Flags().String("phase", "", "Phase discovered (default: the run's current phase)")
	unknownFileCmd.Flags().String("context", "", "Why this question matters")
	_ = unknownFileCmd.MarkFlagRequired("question")

	unknownListCmd.Flags().Bool("blocking", false, "Only unknowns that block auto-advance")

	unknownStepCmd.Flags().StringP("action", "a", "", "What was done")
	unknownStepCmd.Flags().StringP("result", "r", "", "What was learned")
	unknownStepCmd.Flags().IntP("confidence", "c", 0, "Confidence after this step (0-100)")
	unknownStepCmd.Flags().String("phase", "", "Phase the step belongs to")
	_ = unknownStepCmd.MarkFlagRequired("action")

	unknownAnswerCmd.Flags().StringP("answer", "a", "", "The answer")
	unknownAnswerCmd.Flags().IntP("confidence", "c", 0, "Answer confidence (0-100)")
	unknownAnswerCmd.Flags().String("phase", "", "Phase answered in (default: the run's current phase)")
	_ = unknownAnswerCmd.MarkFlagRequired("answer")

	unknownDeferCmd.Flags().String("assumptions", "", "Working assumptions recorded with the deferral")
	_ = unknownDeferCmd.MarkFlagRequired("assumptions")

	unknownCmd.AddCommand(unknownFileCmd)
	unknownCmd.AddCommand(unknownListCmd)
	unknownCmd.AddCommand(unknownInvestigateCmd)
	unknownCmd.AddCommand(unknownStepCmd)
	unknownCmd.AddCommand(unknownAnswerCmd)
	unknownCmd.AddCommand(unknownDeferCmd)
	rootCmd.AddCommand(unknownCmd)
}
