package cli

import (
	"fmt"
	"strings"

	"loanai/internal/models"
	"loanai/internal/policy"
	"loanai/internal/scoring"
	"loanai/pkg/utils"
)

// renderDecision prints a decision in human-readable form.
func renderDecision(output *Output, d *models.DecisionResult, verbose bool) {
	report := d.DetailedReport

	lines := []string{
		fmt.Sprintf("Decision:    %s", output.Status(d.Decision)),
		fmt.Sprintf("Risk:        %s (%s)", output.Risk(d.RiskScore), scoring.Title(scoring.Level(d.RiskScore))),
		fmt.Sprintf("Confidence:  %s", utils.FormatConfidence(d.ConfidenceScore)),
		fmt.Sprintf("Policy:      %s", report.Policy),
	}
	if report.OverrideReason != models.OverrideNone {
		lines = append(lines, fmt.Sprintf("Override:    %s (base decision %s)",
			output.Red(string(report.OverrideReason)), report.BaseDecision))
	}
	if d.LoanAmount != nil {
		lines = append(lines,
			fmt.Sprintf("Amount:      %s", utils.FormatAmount(*d.LoanAmount)),
			fmt.Sprintf("Rate:        %s", utils.FormatRate(*d.InterestRate)),
			fmt.Sprintf("Duration:    %s", utils.FormatMonths(*d.LoanDuration)),
			fmt.Sprintf("Payment:     %s / month", utils.FormatAmount(*d.MonthlyPayment)),
		)
	}
	output.Box("Application "+report.CustomerID, lines)
	output.Println()

	table := NewTable(output, "Branch", "Agent", "Vote", "Risk", "Confidence", "Red Flags")
	for _, b := range models.Branches {
		r := report.Analysis(b)
		if r == nil {
			continue
		}
		agent := r.AgentName
		if r.Failed() {
			agent = output.Red(agent + " (failed)")
		}
		table.AddRow(string(b), agent, string(r.Recommendation), output.Risk(r.RiskScore),
			utils.FormatConfidence(r.ConfidenceScore), utils.Truncate(strings.Join(r.RedFlags, "; "), 48))
	}
	table.Render()
	output.Println()

	if c := report.Consensus; c != nil {
		output.Bold("Consensus")
		output.Printf("  %s (%d approve, %d review, %d reject)\n", c.OverallRecommendation,
			c.AgentAgreements.Approve, c.AgentAgreements.Review, c.AgentAgreements.Reject)
		if c.DisagreementDetails != nil {
			output.Printf("  %s\n", *c.DisagreementDetails)
		}
		output.Dim("  %s", c.DiscussionSummary)
		output.Println()
	}

	if len(d.Conditions) > 0 {
		output.Bold("Conditions")
		for _, c := range d.Conditions {
			output.Printf("  • %s\n", c)
		}
		output.Println()
	}

	if verbose && len(report.Discussion) > 0 {
		output.Bold("Discussion")
		for _, m := range report.Discussion {
			output.Printf("  %s %s\n", output.DimText("["+m.From+"]"), m.Payload.Response)
		}
		output.Println()
	}

	output.Println(d.Reasoning)
	output.Println()

	output.Dim("Decision %s at %s", d.ID, report.DecisionTimestamp.Local().Format("2006-01-02 15:04:05"))
}

// renderPolicies prints one row per policy table.
func renderPolicies(output *Output, tables []policy.Params, selected string) {
	table := NewTable(output, "Policy", "Approve If", "Review If", "Base Rate", "Premium/10", "Salary Cap", "Red Flags")
	for _, p := range tables {
		name := p.Name
		if p.Name == selected {
			name = output.Green(name + " *")
		}
		table.AddRow(
			name,
			fmt.Sprintf("risk ≤ %d, conf ≥ %.2f", p.ApproveRiskMax, p.ApproveConfMin),
			fmt.Sprintf("risk ≤ %d, conf ≥ %.2f", p.ReviewRiskMax, p.ReviewConfMin),
			utils.FormatRate(p.BaseRate),
			utils.FormatRate(p.PremiumPer10),
			fmt.Sprintf("%.1fx salary", p.SalaryCap),
			fmt.Sprintf("> %d rejects", p.RedFlagLimit),
		)
	}
	table.Render()
}
