package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var killCmd = &cobra.Command{
	Use:   "kill <run-id>",
	Short: "Kill a run irreversibly",
	Long: `Kill a run. Any in-flight generation aborts at its next suspension
point and the run can never be resumed. The kill is recorded in the audit
chain with the acting user.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		principal, err := actor()
		if err != nil {
			fail(err)
		}
		if err := env.pipeline.Kill(ctx, principal, args[0]); err != nil {
			fail(err)
		}
		red := color.New(color.FgRed).SprintFunc()
		cmd.Printf("%s Run killed: %s\n", red("✗"), args[0])
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <run-id>",
	Short: "Pause a running run (supervisor)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		principal, err := actor()
		if err != nil {
			fail(err)
		}
		if err := env.pipeline.Pause(ctx, principal, args[0]); err != nil {
			fail(err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		cmd.Printf("%s Run paused: %s\n", green("✓"), args[0])
		cmd.Printf("\nTo resume later: planwright resume %s\n", args[0])
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a paused run (supervisor)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		principal, err := actor()
		if err != nil {
			fail(err)
		}
		if err := env.pipeline.Resume(ctx, principal, args[0]); err != nil {
			fail(err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		cmd.Printf("%s Run resumed: %s\n", green("✓"), args[0])
	},
}

func init() {
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
}
