package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/planwright/planwright/internal/pipeline"
)

var execCmd = &cobra.Command{
	Use:   "exec <run-id>",
	Short: "Execute the run's current phase",
	Long: `Execute the run's current phase once: generate the phase artifact,
score it, and either advance the run or stop it for review. A failing score
auto-regenerates with scorer feedback up to the self-revision budget before
stopping.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env, err := openEnv(ctx, true)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		result, err := env.pipeline.ExecutePhase(ctx, args[0])
		if err != nil {
			fail(err)
		}
		printResult(cmd, result)
	},
}

var driveCmd = &cobra.Command{
	Use:   "drive <run-id>",
	Short: "Execute phases until the run stops",
	Long: `Execute phase after phase until the run completes, stops for review,
blocks on an unknown, or is killed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env, err := openEnv(ctx, true)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		result, err := env.pipeline.Drive(ctx, args[0])
		if err != nil {
			fail(err)
		}
		printResult(cmd, result)
	},
}

var regenCmd = &cobra.Command{
	Use:   "regen <run-id>",
	Short: "Regenerate the current phase with revision instructions",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		instructions, _ := cmd.Flags().GetString("instructions")

		ctx := cmd.Context()
		env, err := openEnv(ctx, true)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		result, err := env.pipeline.Regenerate(ctx, args[0], instructions)
		if err != nil {
			fail(err)
		}
		printResult(cmd, result)
	},
}

var advanceCmd = &cobra.Command{
	Use:   "advance <run-id>",
	Short: "Advance a run whose latest artifact was approved",
	Long: `Advance a run past its current phase after an operator approved the
latest artifact. Approval overrides a blocking-unknown soft block.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		result, err := env.pipeline.AdvanceApproved(ctx, args[0])
		if err != nil {
			fail(err)
		}
		printResult(cmd, result)
	},
}

func printResult(cmd *cobra.Command, result *pipeline.Result) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	switch result.Outcome {
	case pipeline.OutcomeAdvanced:
		cmd.Printf("%s Phase %s passed (score %d, %d iteration(s))\n",
			green("✓"), result.Phase, result.Score, result.Iterations)
	case pipeline.OutcomeCompleted:
		cmd.Printf("%s Run completed: %s artifact scored %d\n",
			green("✓"), result.Phase, result.Score)
	case pipeline.OutcomeAwaitingReview:
		cmd.Printf("%s Phase %s stopped for review", yellow("⏸"), result.Phase)
		if result.Artifact != nil {
			cmd.Printf(" (score %d after %d iteration(s))\n", result.Score, result.Iterations)
			cmd.Printf("  Review with: planwright review %s --action approve|reject|revise\n", result.Artifact.ID)
		} else {
			cmd.Printf(" (generation failed)\n")
		}
	case pipeline.OutcomeBlockedOnUnknown:
		cmd.Printf("%s Phase %s passed but blocking unknowns are open\n", yellow("⏸"), result.Phase)
		cmd.Printf("  List them with: planwright unknown list <run-id> --blocking\n")
	case pipeline.OutcomeKilled:
		cmd.Printf("%s Run was killed\n", red("✗"))
	}
}

func init() {
	regenCmd.Flags().StringP("instructions", "i", "", "Revision instructions for the regeneration prompt")
	_ = regenCmd.MarkFlagRequired("instructions")
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(driveCmd)
	rootCmd.AddCommand(regenCmd)
	rootCmd.AddCommand(advanceCmd)
}
