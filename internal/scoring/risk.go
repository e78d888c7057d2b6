// Package scoring blends branch risk scores and loan characteristics into a
// single bounded risk score.
package scoring

import (
	"math"

	"loanai/internal/models"
)

// BranchWeights defines the weight of each branch in the blended score.
type BranchWeights struct {
	Bank         float64
	Salary       float64
	Verification float64
}

// DefaultWeights returns the default branch weights.
func DefaultWeights() BranchWeights {
	return BranchWeights{
		Bank:         0.40,
		Salary:       0.35,
		Verification: 0.25,
	}
}

// MaxLoanRiskAdjustment caps the loan-characteristic add-on.
const MaxLoanRiskAdjustment = 25.0

// purposeRisk is the add-on per loan purpose. Unknown purposes score as other.
var purposeRisk = map[models.LoanPurpose]float64{
	models.PurposeMortgage:  5,
	models.PurposeVehicle:   10,
	models.PurposePersonal:  15,
	models.PurposeEducation: 8,
	models.PurposeBusiness:  20,
	models.PurposeOther:     15,
}

// band is an inclusive [Min, Max] range of risk scores.
type band struct {
	Level    models.RiskLevel
	Min, Max int
}

// bands partitions [0,100]; order matters for lookups.
var bands = []band{
	{models.RiskLow, 0, 20},
	{models.RiskModerateLow, 21, 40},
	{models.RiskModerate, 41, 60},
	{models.RiskModerateHigh, 61, 75},
	{models.RiskHigh, 76, 100},
}

// Engine computes aggregated risk assessments.
type Engine struct {
	weights BranchWeights
}

// NewEngine creates a risk engine with the default weights.
func NewEngine() *Engine {
	return &Engine{weights: DefaultWeights()}
}

// Aggregate blends the three branch risks and the loan add-on into one score.
func (e *Engine) Aggregate(bankRisk, salaryRisk, verificationRisk int, loan models.LoanCharacteristics) *models.RiskAssessment {
	weighted := float64(bankRisk)*e.weights.Bank +
		float64(salaryRisk)*e.weights.Salary +
		float64(verificationRisk)*e.weights.Verification

	adj := LoanRiskAdjustment(loan)
	total := int(math.Min(100, math.Round(weighted+adj.Total)))
	if total < 0 {
		total = 0
	}

	return &models.RiskAssessment{
		TotalRiskScore: total,
		RiskLevel:      Level(total),
		AgentRisks: map[models.Branch]int{
			models.BranchBank:         bankRisk,
			models.BranchSalary:       salaryRisk,
			models.BranchVerification: verificationRisk,
		},
		WeightedRisk:       weighted,
		LoanRiskAdjustment: adj,
	}
}

// Aggregate runs the default engine.
func Aggregate(bankRisk, salaryRisk, verificationRisk int, loan models.LoanCharacteristics) *models.RiskAssessment {
	return NewEngine().Aggregate(bankRisk, salaryRisk, verificationRisk, loan)
}

// LoanRiskAdjustment computes the add-on from the amount, duration and
// purpose tables. The total is capped at MaxLoanRiskAdjustment.
func LoanRiskAdjustment(loan models.LoanCharacteristics) models.LoanRiskAdjustment {
	var adj models.LoanRiskAdjustment

	switch {
	case loan.Amount > 500_000:
		adj.Amount = 15
	case loan.Amount > 250_000:
		adj.Amount = 10
	case loan.Amount > 100_000:
		adj.Amount = 5
	}

	switch {
	case loan.DurationMonths > 240:
		adj.Duration = 10
	case loan.DurationMonths < 12:
		adj.Duration = 5
	}

	if r, ok := purposeRisk[loan.Purpose]; ok {
		adj.Purpose = r
	} else {
		adj.Purpose = purposeRisk[models.PurposeOther]
	}

	adj.Total = math.Min(adj.Amount+adj.Duration+adj.Purpose, MaxLoanRiskAdjustment)
	return adj
}

// Level returns the risk band for a score. Scores outside [0,100] are
// clamped first.
func Level(score int) models.RiskLevel {
	score = clamp(score, 0, 100)
	for _, b := range bands {
		if score >= b.Min && score <= b.Max {
			return b.Level
		}
	}
	return models.RiskHigh
}

// Describe returns the human-readable description of a risk band.
func Describe(level models.RiskLevel) string {
	switch level {
	case models.RiskLow:
		return "excellent financial standing"
	case models.RiskModerateLow:
		return "good financial standing with minor concerns"
	case models.RiskModerate:
		return "acceptable financial standing with some areas requiring attention"
	case models.RiskModerateHigh:
		return "concerning financial indicators"
	case models.RiskHigh:
		return "significant financial risks identified"
	}
	return ""
}

// Title returns the display title of a risk band, e.g. "Moderate Low".
func Title(level models.RiskLevel) string {
	switch level {
	case models.RiskLow:
		return "Low"
	case models.RiskModerateLow:
		return "Moderate Low"
	case models.RiskModerate:
		return "Moderate"
	case models.RiskModerateHigh:
		return "Moderate High"
	case models.RiskHigh:
		return "High"
	}
	return string(level)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
