package main

import (
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/planwright/planwright/internal/types"
)

var newCmd = &cobra.Command{
	Use:   "new <idea>",
	Short: "Create a run for an idea",
	Long: `Create a run that will carry the idea through the planning pipeline.

In supervised mode (the default) the run stops for operator review whenever
an artifact fails its quality gate or a blocking unknown is open. Autonomous
mode lets passing artifacts advance without a human in the loop; the same
gates still apply.

Use --drive to immediately execute phases until the run completes or stops.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		idea := strings.Join(args, " ")
		mode, _ := cmd.Flags().GetString("mode")
		tenant, _ := cmd.Flags().GetString("tenant")
		drive, _ := cmd.Flags().GetBool("drive")

		ctx := cmd.Context()
		env, err := openEnv(ctx, drive)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		run, err := env.pipeline.CreateRun(ctx, idea, types.RunMode(mode), tenant)
		if err != nil {
			fail(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		cmd.Printf("%s Run created: %s\n", green("✓"), run.ID)
		cmd.Printf("  Phase: %s  Mode: %s\n", run.CurrentPhase, run.Mode)

		if drive {
			result, err := env.pipeline.Drive(ctx, run.ID)
			if err != nil {
				fail(err)
			}
			printResult(cmd, result)
		} else {
			cmd.Printf("\nTo start planning: planwright exec %s\n", run.ID)
		}
	},
}

func init() {
	newCmd.Flags().StringP("mode", "m", "supervised", "Run mode: supervised or autonomous")
	newCmd.Flags().StringP("tenant", "t", "", "Tenant ID (default: default)")
	newCmd.Flags().Bool("drive", false, "Execute phases immediately until the run stops")
	rootCmd.AddCommand(newCmd)
}
