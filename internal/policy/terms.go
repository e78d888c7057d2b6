package policy

import (
	"fmt"
	"math"

	"loanai/internal/models"
)

// CalculateTerms returns the loan terms for an APPROVED decision and nil for
// anything else. The principal never exceeds the requested amount.
func CalculateTerms(status models.DecisionStatus, requested, monthlySalary float64, risk int, p Params) *models.LoanTerms {
	if status != models.StatusApproved {
		return nil
	}

	rate := round2(p.BaseRate + (float64(risk)/10)*p.PremiumPer10)

	principal := requested
	if monthlySalary > 0 {
		principal = math.Min(requested, monthlySalary*p.SalaryCap)
	}
	principal = round2(principal)
	if principal > requested {
		principal = requested
	}

	months := p.duration(principal, monthlySalary)

	return &models.LoanTerms{
		LoanAmount:     principal,
		InterestRate:   rate,
		LoanDuration:   months,
		MonthlyPayment: round2(MonthlyPayment(principal, rate, months)),
	}
}

// duration picks the term from the tier table keyed by amount/salary.
func (p Params) duration(amount, monthlySalary float64) int {
	if len(p.DurationTiers) == 0 {
		return 12
	}
	ratio := math.Inf(1)
	if monthlySalary > 0 {
		ratio = amount / monthlySalary
	}
	for _, tier := range p.DurationTiers {
		if ratio <= tier.MaxRatio {
			return tier.Months
		}
	}
	return p.DurationTiers[len(p.DurationTiers)-1].Months
}

// MonthlyPayment computes the standard amortized payment for an annual rate
// given in percent. It returns 0 when months <= 0 and principal/months when
// the rate is zero.
func MonthlyPayment(principal, annualRatePct float64, months int) float64 {
	if months <= 0 {
		return 0
	}
	r := annualRatePct / 100 / 12
	if r == 0 {
		return principal / float64(months)
	}
	growth := math.Pow(1+r, float64(months))
	return principal * r * growth / (growth - 1)
}

// Conditions lists the conditions attached to a decision. Risk-driven and
// red-flag conditions always apply; the policy's own conditions are added
// only for approvals.
func Conditions(status models.DecisionStatus, risk int, redFlags, bankRedFlags []string, p Params) []string {
	conditions := []string{}

	if risk > 60 {
		conditions = append(conditions,
			"Require income verification by third party",
			"Require collateral evaluation",
		)
	} else if risk > 40 {
		conditions = append(conditions, "Require additional references")
	}

	if len(redFlags) > 2 {
		conditions = append(conditions, "Subject to fraud investigation")
	}
	for i, flag := range redFlags {
		if i == 2 {
			break
		}
		conditions = append(conditions, fmt.Sprintf("Condition: %s", flag))
	}

	if status != models.StatusApproved {
		return conditions
	}

	added := false
	for _, rule := range p.ConditionRules {
		if risk > rule.AboveRisk {
			conditions = append(conditions, rule.Text)
			added = true
		}
	}
	if p.BankRedFlagCondition != "" && len(bankRedFlags) > 0 {
		conditions = append(conditions, p.BankRedFlagCondition)
		added = true
	}
	if !added && p.DefaultCondition != "" {
		conditions = append(conditions, p.DefaultCondition)
	}
	return conditions
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
