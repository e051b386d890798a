package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/planwright/planwright/internal/review"
	"github.com/planwright/planwright/internal/types"
)

var reviewCmd = &cobra.Command{
	Use:   "review <artifact-id>",
	Short: "Record an operator review on an artifact",
	Long: `Record an operator review: approve, reject, revise, or escalate.

Approve marks the artifact ready to advance (planwright advance <run-id>).
Revise requires --instructions, which are injected into the regeneration
prompt. Escalate requires --reason and creates a pending escalation for a
supervisor.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		action, _ := cmd.Flags().GetString("action")
		confidence, _ := cmd.Flags().GetInt("confidence")
		feedback, _ := cmd.Flags().GetString("feedback")
		instructions, _ := cmd.Flags().GetString("instructions")
		reason, _ := cmd.Flags().GetString("reason")
		priority, _ := cmd.Flags().GetString("priority")

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
		rec, err := env.reviews.Review(ctx, principal, review.Request{
			ArtifactID:           args[0],
			Action:               types.ReviewAction(action),
			Confidence:           confidence,
			Feedback:             feedback,
			RevisionInstructions: instructions,
			EscalationReason:     reason,
			EscalationPriority:   types.EscalationPriority(priority),
		})
		if err != nil {
			fail(err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		cmd.Printf("%s Review recorded: %s (%s)\n", green("✓"), rec.ID, rec.Action)
	},
}

var reviewsCmd = &cobra.Command{
	Use:   "reviews <artifact-id>",
	Short: "List the review history of an artifact",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		history, err := env.reviews.History(ctx, args[0])
		if err != nil {
			fail(err)
		}
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"When", "Operator", "Action", "Confidence", "Feedback"})
		for _, r := range history {
			tw.AppendRow(table.Row{r.CreatedAt.Format("2006-01-02 15:04:05"), r.OperatorID, r.Action, r.Confidence, r.Feedback})
		}
		tw.Render()
	},
}

var overrideCmd = &cobra.Command{
	Use:   "override <artifact-id>",
	Short: "Override an artifact's automated score (supervisor)",
	Long: `Record a hybrid score that supersedes the automated score for gating.
The automated score row is retained for the record.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		score, _ := cmd.Flags().GetInt("score")
		feedback, _ := cmd.Flags().GetString("feedback")

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
		qs, err := env.reviews.OverrideScore(ctx, principal, args[0], score, feedback)
		if err != nil {
			fail(err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		cmd.Printf("%s Score overridden to %d (%s)\n", green("✓"), qs.Overall, qs.Evaluator)
	},
}

var escalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "List pending escalations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		escalations, err := env.reviews.PendingEscalations(ctx)
		if err != nil {
			fail(err)
		}
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"ID", "From", "Priority", "Reason", "Created"})
		for _, e := range escalations {
			tw.AppendRow(table.Row{e.ID, e.FromOperatorID, e.Priority, e.Reason, e.CreatedAt.Format("2006-01-02 15:04:05")})
		}
		tw.Render()
	},
}

var takeCmd = &cobra.Command{
	Use:   "take <escalation-id>",
	Short: "Take a pending escalation for review (supervisor)",
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
		if err := env.reviews.TakeEscalation(ctx, principal, args[0]); err != nil {
			fail(err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		cmd.Printf("%s Escalation taken for review: %s\n", green("✓"), args[0])
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <escalation-id>",
	Short: "Resolve a pending escalation (supervisor)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resolution, _ := cmd.Flags().GetString("resolution")
		accept, _ := cmd.Flags().GetBool("accept")

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
		if err := env.reviews.ResolveEscalation(ctx, principal, args[0], resolution, accept); err != nil {
			fail(err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		verb := "rejected"
		if accept {
			verb = "resolved"
		}
		cmd.Printf("%s Escalation %s: %s\n", green("✓"), verb, args[0])
	},
}

func init() {
	reviewCmd.Flags().StringP("action", "a", "", "Review action: approve, reject, revise, or escalate")
	reviewCmd.Flags().IntP("confidence", "c", 0, "Reviewer confidence (0-100)")
	reviewCmd.Flags().StringP("feedback", "f", "", "Review feedback")
	reviewCmd.Flags().StringP("instructions", "i", "", "Revision instructions (required for revise)")
	reviewCmd.Flags().StringP("reason", "r", "", "Escalation reason (required for escalate)")
	reviewCmd.Flags().StringP("priority", "p", "medium", "Escalation priority: low, medium, high, or urgent")
	_ = reviewCmd.MarkFlagRequired("action")

	overrideCmd.Flags().IntP("score", "s", 0, "Override score (0-100)")
	overrideCmd.Flags().StringP("feedback", "f", "", "Why the automated score was wrong")
	_ = overrideCmd.MarkFlagRequired("score")

	resolveCmd.Flags().String("resolution", "", "Resolution note")
	resolveCmd.Flags().Bool("accept", false, "Accept the escalation (default rejects)")
	_ = resolveCmd.MarkFlagRequired("resolution")

	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(reviewsCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(escalationsCmd)
	rootCmd.AddCommand(takeCmd)
	rootCmd.AddCommand(resolveCmd)
}
