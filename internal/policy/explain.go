package policy

import (
	"fmt"
	"strings"

	"loanai/internal/models"
	"loanai/internal/scoring"
)

// Explain assembles the decision explanation. Branch reasonings are emitted
// in bank, salary, verification order.
func Explain(status models.DecisionStatus, assessment *models.RiskAssessment, report *models.DetailedReport) string {
	level := assessment.RiskLevel
	desc := scoring.Describe(level)

	var sb strings.Builder
	sb.WriteString("## Decision Summary\n")
	sb.WriteString(summary(status, desc))
	sb.WriteString("\n\n## Risk Assessment\n")
	fmt.Fprintf(&sb, "Overall Risk Score: %d/100 (%s)\n", assessment.TotalRiskScore, scoring.Title(level))
	sb.WriteString("\n## Detailed Analysis\n")

	sections := []struct {
		title  string
		branch models.Branch
	}{
		{"Financial Health", models.BranchBank},
		{"Employment & Income", models.BranchSalary},
		{"Identity Verification", models.BranchVerification},
	}
	for _, s := range sections {
		reasoning := ""
		if r := report.Analysis(s.branch); r != nil {
			reasoning = r.Reasoning
		}
		fmt.Fprintf(&sb, "\n### %s\n%s\n", s.title, reasoning)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func summary(status models.DecisionStatus, desc string) string {
	switch status {
	case models.StatusApproved:
		return fmt.Sprintf("✓ Application Approved - The applicant demonstrates %s. "+
			"All verification checks have been successfully completed.", desc)
	case models.StatusRejected:
		return fmt.Sprintf("✗ Application Declined - The applicant shows %s. "+
			"The risk assessment indicates this application does not meet our lending criteria at this time.", desc)
	default:
		return fmt.Sprintf("⚠ Manual Review Required - The applicant shows %s. "+
			"Additional review by a loan officer is recommended to make a final determination.", desc)
	}
}
