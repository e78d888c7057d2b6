// Package policy turns aggregated risk and confidence into a loan decision.
// Lending policies are plain parameter tables: selecting a policy means
// selecting a table, never a type.
package policy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	apperrors "loanai/internal/errors"
	"loanai/internal/models"
)

// Policy names.
const (
	NameConservative = "conservative"
	NameBalanced     = "balanced"
	NameAggressive   = "aggressive"
)

// DefaultRedFlagLimit is the red-flag count above which an application is
// rejected regardless of the base decision.
const DefaultRedFlagLimit = 3

// DurationTier maps a ratio of approved amount to monthly salary onto a term.
// A tier applies when ratio <= MaxRatio.
type DurationTier struct {
	MaxRatio float64
	Months   int
}

// ConditionRule attaches a condition when the risk score exceeds AboveRisk.
type ConditionRule struct {
	AboveRisk int
	Text      string
}

// Params is an immutable threshold and rate table.
type Params struct {
	Name  string
	Label string

	ApproveRiskMax int
	ApproveConfMin float64
	ReviewRiskMax  int
	ReviewConfMin  float64

	BaseRate     float64 // annual percent
	PremiumPer10 float64 // percent added per 10 risk points
	SalaryCap    float64 // principal cap as a multiple of monthly salary

	DurationTiers []DurationTier
	RedFlagLimit  int

	ConditionRules       []ConditionRule
	BankRedFlagCondition string
	DefaultCondition     string
}

// Conservative returns the conservative lending table.
func Conservative() Params {
	return Params{
		Name:           NameConservative,
		Label:          "Conservative Lending",
		ApproveRiskMax: 30,
		ApproveConfMin: 0.80,
		ReviewRiskMax:  50,
		ReviewConfMin:  0.60,
		BaseRate:       8.0,
		PremiumPer10:   0.50,
		SalaryCap:      3.0,
		DurationTiers: []DurationTier{
			{MaxRatio: 2, Months: 12},
			{MaxRatio: math.Inf(1), Months: 18},
		},
		RedFlagLimit: DefaultRedFlagLimit,
		ConditionRules: []ConditionRule{
			{AboveRisk: 20, Text: "Maintain stable employment throughout loan period"},
			{AboveRisk: 25, Text: "Provide monthly bank statement updates"},
		},
		BankRedFlagCondition: "Clear any identified red flags before disbursement",
	}
}

// Balanced returns the balanced lending table.
func Balanced() Params {
	return Params{
		Name:           NameBalanced,
		Label:          "Balanced Lending",
		ApproveRiskMax: 35,
		ApproveConfMin: 0.75,
		ReviewRiskMax:  55,
		ReviewConfMin:  0.55,
		BaseRate:       8.5,
		PremiumPer10:   0.60,
		SalaryCap:      3.5,
		DurationTiers: []DurationTier{
			{MaxRatio: 2, Months: 12},
			{MaxRatio: 3, Months: 18},
			{MaxRatio: math.Inf(1), Months: 21},
		},
		RedFlagLimit: DefaultRedFlagLimit,
		ConditionRules: []ConditionRule{
			{AboveRisk: 25, Text: "Maintain employment stability"},
			{AboveRisk: 30, Text: "Quarterly bank statement reviews"},
		},
		DefaultCondition: "Standard loan terms apply",
	}
}

// Aggressive returns the aggressive growth lending table.
func Aggressive() Params {
	return Params{
		Name:           NameAggressive,
		Label:          "Aggressive Growth Lending",
		ApproveRiskMax: 45,
		ApproveConfMin: 0.70,
		ReviewRiskMax:  65,
		ReviewConfMin:  0.50,
		BaseRate:       9.5,
		PremiumPer10:   0.75,
		SalaryCap:      4.0,
		DurationTiers: []DurationTier{
			{MaxRatio: 2, Months: 12},
			{MaxRatio: 3, Months: 18},
			{MaxRatio: math.Inf(1), Months: 24},
		},
		RedFlagLimit:     DefaultRedFlagLimit,
		DefaultCondition: "Standard loan terms apply",
	}
}

var registry = map[string]func() Params{
	NameConservative: Conservative,
	NameBalanced:     Balanced,
	NameAggressive:   Aggressive,
}

// Lookup returns the table registered under name.
func Lookup(name string) (Params, error) {
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Params{}, fmt.Errorf("%w: unknown policy %q (want one of %s)",
			apperrors.ErrConfigInvalid, name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names returns the registered policy names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered table, ordered from strictest to most lenient.
func All() []Params {
	return []Params{Conservative(), Balanced(), Aggressive()}
}

// Outcome is the result of applying a policy.
type Outcome struct {
	Status   models.DecisionStatus
	Base     models.DecisionStatus
	Override models.OverrideReason
}

// BaseDecision applies the threshold table only.
func BaseDecision(risk int, confidence float64, p Params) models.DecisionStatus {
	if risk > p.ReviewRiskMax || confidence < p.ReviewConfMin {
		return models.StatusRejected
	}
	if risk <= p.ApproveRiskMax && confidence >= p.ApproveConfMin {
		return models.StatusApproved
	}
	return models.StatusManualReview
}

// Decide applies the threshold table and then the red-flag override, which
// always wins. The consensus recommendation is carried for the record; the
// threshold table does not consult it.
func Decide(risk int, confidence float64, _ models.ConsensusRecommendation, redFlags []string, p Params) Outcome {
	base := BaseDecision(risk, confidence, p)
	out := Outcome{Status: base, Base: base}

	limit := p.RedFlagLimit
	if limit <= 0 {
		limit = DefaultRedFlagLimit
	}
	if len(redFlags) > limit {
		out.Status = models.StatusRejected
		out.Override = models.OverrideMultipleRedFlags
	}
	return out
}

// Severity orders decision states from most to least lenient.
func Severity(s models.DecisionStatus) int {
	switch s {
	case models.StatusApproved:
		return 0
	case models.StatusManualReview:
		return 1
	default:
		return 2
	}
}
