package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"loanai/internal/agents"
	"loanai/internal/logging"
	"loanai/internal/models"
	"loanai/internal/policy"
	"loanai/internal/store"
	"loanai/pkg/utils"
)

// addDecisionCommands adds the processing and lookup commands.
func addDecisionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newProcessCmd(app))
	rootCmd.AddCommand(newResultCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newListCmd(app))
	rootCmd.AddCommand(newStatsCmd(app))
}

// newOrchestrator builds an orchestrator for one CLI invocation. Branches with
// a precomputed analysis use it; the rest go to the LLM when one is
// configured and are otherwise scored as failed.
func (a *App) newOrchestrator(policyName string, maxRounds int, analyses map[models.Branch]*models.AnalysisResult, save bool) (*agents.Orchestrator, error) {
	if policyName == "" {
		policyName = a.Config.Decisioning.Policy
	}
	params, err := a.Config.PolicyParamsFor(policyName)
	if err != nil {
		return nil, err
	}
	if maxRounds <= 0 {
		maxRounds = a.Config.Decisioning.MaxRounds
	}

	var providers []agents.AnalysisProvider
	var participants []agents.Participant
	for _, b := range models.Branches {
		switch r, ok := analyses[b]; {
		case ok:
			providers = append(providers, agents.NewStaticProvider(b, r))
		case a.AnalysisClient != nil:
			llm := agents.NewLLMProvider(b, a.AnalysisClient)
			guarded := agents.NewGuardedProvider(llm, a.Breakers.Get(llm.Name()))
			providers = append(providers, agents.NewRetryingProvider(guarded, a.Config.RetryConfig()))
		default:
			a.Logger.Warn().Str("branch", string(b)).Msg("No analysis source configured, branch will be scored as failed")
		}

		if a.LLMClient != nil {
			participants = append(participants, agents.NewLLMParticipant(b, a.LLMClient))
		} else {
			participants = append(participants, agents.NewFixtureParticipant(b))
		}
	}

	opts := agents.Options{
		Policy:        params,
		BranchTimeout: a.Config.Decisioning.BranchTimeout,
		MaxRounds:     maxRounds,
		Topic:         a.Config.Deliberation.Topic,
		Predicate:     a.Config.Predicate(),
	}
	if save && a.Store != nil {
		opts.Recorder = a.Store
	}
	return agents.NewOrchestrator(providers, participants, opts, a.Logger), nil
}

func newProcessCmd(app *App) *cobra.Command {
	var (
		policyName string
		rounds     int
		noSave     bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "process <application-file>",
		Short: "Decide a loan application",
		Long: `Run a loan application through analysis, deliberation, consensus,
risk scoring and the lending policy.

The file may be JSON or YAML (.yaml/.yml). An optional "analyses" map keyed
by branch (bank, salary, verification) supplies precomputed branch results.`,
		Example: `  loanai process application.json
  loanai process application.yaml --policy conservative --verbose
  loanai process application.json --json --no-save`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			file, err := LoadApplicationFile(args[0])
			if err != nil {
				return err
			}

			orch, err := app.newOrchestrator(policyName, rounds, file.Analyses, !noSave)
			if err != nil {
				return err
			}

			ctx := logging.WithLogger(cmd.Context(), app.Logger)
			result, err := orch.Process(ctx, &file.Application)
			if err != nil {
				output.Error("Processing failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			renderDecision(output, result, verbose)
			if noSave || app.Store == nil {
				output.Warning("Decision was not saved")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&policyName, "policy", "p", "", "lending policy (conservative, balanced, aggressive)")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "maximum deliberation rounds (default from config)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the decision")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show the deliberation transcript")

	return cmd
}

func newResultCmd(app *App) *cobra.Command {
	var (
		decisionID string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "result <customer-id>",
		Short: "Show the latest decision for a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.requireStore()
			if err != nil {
				return err
			}

			var d *models.DecisionResult
			if decisionID != "" {
				d, err = s.GetDecisionByID(cmd.Context(), decisionID)
				if err == nil && d.DetailedReport.CustomerID != args[0] {
					err = fmt.Errorf("decision %s belongs to customer %s", decisionID, d.DetailedReport.CustomerID)
				}
			} else {
				d, err = s.GetLatestDecision(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(d)
			}
			renderDecision(output, d, verbose)
			return nil
		},
	}

	cmd.Flags().StringVar(&decisionID, "id", "", "show a specific decision instead of the latest")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show the deliberation transcript")

	return cmd
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status <customer-id>",
		Short: "Show the processing status of a customer's application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.requireStore()
			if err != nil {
				return err
			}

			rec, err := s.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(rec)
			}

			status := string(rec.Status)
			switch rec.Status {
			case models.AppStatusCompleted:
				status = output.Green(status)
			case models.AppStatusFailed:
				status = output.Red(status)
			default:
				status = output.Yellow(status)
			}
			output.Printf("Customer:  %s\n", rec.CustomerID)
			output.Printf("Status:    %s\n", status)
			if rec.DecisionID != "" {
				output.Printf("Decision:  %s\n", rec.DecisionID)
			}
			if rec.Error != "" {
				output.Printf("Error:     %s\n", rec.Error)
			}
			output.Dim("Updated %s", rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newListCmd(app *App) *cobra.Command {
	var (
		customer   string
		decision   string
		policyName string
		since      time.Duration
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored decisions, newest first",
		Example: `  loanai list --decision REJECTED
  loanai list --since 24h --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.requireStore()
			if err != nil {
				return err
			}

			filter := store.DecisionFilter{
				CustomerID: customer,
				Decision:   models.DecisionStatus(decision),
				Policy:     policyName,
				Limit:      limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			decisions, err := s.ListDecisions(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(decisions)
			}
			if len(decisions) == 0 {
				output.Dim("No decisions found")
				return nil
			}

			table := NewTable(output, "ID", "Customer", "Decision", "Risk", "Confidence", "Amount", "Policy", "Decided")
			for _, d := range decisions {
				amount := "-"
				if d.LoanAmount != nil {
					amount = utils.FormatAmount(*d.LoanAmount)
				}
				table.AddRow(
					utils.Truncate(d.ID, 8),
					d.DetailedReport.CustomerID,
					output.Status(d.Decision),
					output.Risk(d.RiskScore),
					utils.FormatConfidence(d.ConfidenceScore),
					amount,
					d.DetailedReport.Policy,
					d.DetailedReport.DecisionTimestamp.Local().Format("2006-01-02 15:04"),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&customer, "customer", "", "filter by customer id")
	cmd.Flags().StringVar(&decision, "decision", "", "filter by decision (APPROVED, REJECTED, MANUAL_REVIEW)")
	cmd.Flags().StringVar(&policyName, "policy", "", "filter by policy")
	cmd.Flags().DurationVar(&since, "since", 0, "only decisions newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum decisions to show (0 = all)")

	return cmd
}

func newStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise stored decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.requireStore()
			if err != nil {
				return err
			}

			stats, err := s.GetDecisionStats(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(stats)
			}

			output.Bold("Decision Statistics")
			output.Printf("  Total:           %d\n", stats.TotalDecisions)
			for _, status := range []models.DecisionStatus{models.StatusApproved, models.StatusManualReview, models.StatusRejected} {
				output.Printf("  %-16s %d\n", string(status)+":", stats.ByDecision[status])
			}
			output.Printf("  Avg Risk:        %.1f\n", stats.AvgRiskScore)
			output.Printf("  Avg Confidence:  %s\n", utils.FormatConfidence(stats.AvgConfidence))
			output.Printf("  Approved Amount: %s\n", utils.FormatAmount(stats.ApprovedAmount))

			if len(stats.ByPolicy) > 0 {
				output.Println()
				output.Bold("By Policy")
				for _, name := range policy.Names() {
					if n, ok := stats.ByPolicy[name]; ok {
						output.Printf("  %-16s %d\n", name+":", n)
					}
				}
			}
			return nil
		},
	}
}

func newPoliciesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "Show the lending policy tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			tables := make([]policy.Params, 0, len(policy.Names()))
			for _, p := range policy.All() {
				params, err := app.Config.PolicyParamsFor(p.Name)
				if err != nil {
					return err
				}
				tables = append(tables, params)
			}

			if output.IsJSON() {
				return output.JSON(tables)
			}
			renderPolicies(output, tables, app.Config.Decisioning.Policy)
			output.Println()
			output.Dim("* selected by configuration")
			return nil
		},
	}
}
