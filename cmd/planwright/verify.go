package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/planwright/planwright/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <contract.yml>",
	Short: "Verify a task's deliverables against its contract",
	Long: `Verify an executed task against its contract: the syntactic level
(files produced, typecheck, lint) is fatal; the contract level checks
declared exports, env vars, and endpoints against what the executor
observed. Both the contract and the executor's report are YAML files.

On failure, --requeue prints a regeneration prompt that repeats the
original instructions verbatim and lists only the failed checks.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reportPath, _ := cmd.Flags().GetString("report")
		promptPath, _ := cmd.Flags().GetString("prompt")
		attempt, _ := cmd.Flags().GetInt("attempt")
		tenant, _ := cmd.Flags().GetString("tenant")
		requeue, _ := cmd.Flags().GetBool("requeue")

		var contract verify.Contract
		if err := readYAML(args[0], &contract); err != nil {
			fail(err)
		}
		var report verify.Report
		if err := readYAML(reportPath, &report); err != nil {
			fail(err)
		}

		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		verifier, err := verify.NewVerifier(env.ledger)
		if err != nil {
			fail(err)
		}
		outcome, err := verifier.Run(ctx, tenant, contract, report, attempt)
		if err != nil {
			fail(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		for _, level := range outcome.Levels {
			mark := green("✓")
			if !level.Passed {
				mark = red("✗")
			}
			cmd.Printf("%s %s\n", mark, level.Level)
			for _, check := range level.Checks {
				mark = green("✓")
				if !check.Passed {
					mark = red("✗")
				}
				cmd.Printf("  %s %s", mark, check.Name)
				if check.Detail != "" {
					cmd.Printf(" (%s)", check.Detail)
				}
				cmd.Println()
			}
		}

		if outcome.Passed {
			cmd.Printf("\n%s Task %s passed verification\n", green("✓"), contract.TaskID)
			return
		}

		cmd.Printf("\n%s Task %s FAILED verification (%d check(s))\n",
			red("✗"), contract.TaskID, len(outcome.FailedChecks()))
		if requeue {
			original := ""
			if promptPath != "" {
				data, err := os.ReadFile(promptPath)
				if err != nil {
					fail(err)
				}
				original = string(data)
			}
			prompt, err := verifier.Requeue(ctx, tenant, original, outcome)
			if err != nil {
				fail(err)
			}
			cmd.Println("\n--- requeue prompt ---")
			cmd.Println(prompt)
		}
		os.Exit(1)
	},
}

func readYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func init() {
	verifyCmd.Flags().String("report", "", "Executor report YAML file")
	verifyCmd.Flags().String("prompt", "", "Original task prompt file (for --requeue)")
	verifyCmd.Flags().Int("attempt", 1, "Verification attempt number")
	verifyCmd.Flags().StringP("tenant", "t", "default", "Tenant for ledger entries")
	verifyCmd.Flags().Bool("requeue", false, "Print the requeue prompt on failure")
	_ = verifyCmd.MarkFlagRequired("report")
	rootCmd.AddCommand(verifyCmd)
}
