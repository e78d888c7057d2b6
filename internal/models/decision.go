package models

import (
	"fmt"
	"time"
)

// Branch identifies one of the independent analysis providers.
type Branch string

const (
	BranchBank         Branch = "bank"
	BranchSalary       Branch = "salary"
	BranchVerification Branch = "verification"
)

// Branches lists every branch in the fixed reporting order.
var Branches = []Branch{BranchBank, BranchSalary, BranchVerification}

// Recommendation is a branch-level vote.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendReject  Recommendation = "reject"
)

// ConsensusRecommendation is the vote-aggregated recommendation.
type ConsensusRecommendation string

const (
	ConsensusApprove      ConsensusRecommendation = "approve"
	ConsensusReject       ConsensusRecommendation = "reject"
	ConsensusManualReview ConsensusRecommendation = "manual_review"
)

// DecisionStatus is the terminal state of an application.
type DecisionStatus string

const (
	StatusApproved     DecisionStatus = "APPROVED"
	StatusRejected     DecisionStatus = "REJECTED"
	StatusManualReview DecisionStatus = "MANUAL_REVIEW"
)

// OverrideReason names a rule that superseded the base policy decision.
type OverrideReason string

const (
	OverrideNone             OverrideReason = ""
	OverrideMultipleRedFlags OverrideReason = "multiple_red_flags"
)

// RiskLevel is one of the five bands partitioning the 0-100 risk score.
type RiskLevel string

const (
	RiskLow          RiskLevel = "low"
	RiskModerateLow  RiskLevel = "moderate_low"
	RiskModerate     RiskLevel = "moderate"
	RiskModerateHigh RiskLevel = "moderate_high"
	RiskHigh         RiskLevel = "high"
)

// AnalysisResult is the output of one branch for one application.
type AnalysisResult struct {
	AgentName       string         `json:"agent_name" yaml:"agent_name"`
	ConfidenceScore float64        `json:"confidence_score" yaml:"confidence_score"`
	RiskScore       int            `json:"risk_score" yaml:"risk_score"`
	Recommendation  Recommendation `json:"recommendation" yaml:"recommendation"`
	RedFlags        []string       `json:"red_flags" yaml:"red_flags"`
	Reasoning       string         `json:"reasoning" yaml:"reasoning"`
	Error           string         `json:"error,omitempty" yaml:"error"`
	Timestamp       time.Time      `json:"timestamp" yaml:"timestamp"`
}

// Validate checks that the result stays inside its documented ranges.
func (r *AnalysisResult) Validate() error {
	if !finite(r.ConfidenceScore) || r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return fmt.Errorf("confidence_score must be between 0 and 1, got %f", r.ConfidenceScore)
	}
	if r.RiskScore < 0 || r.RiskScore > 100 {
		return fmt.Errorf("risk_score must be between 0 and 100, got %d", r.RiskScore)
	}
	switch r.Recommendation {
	case RecommendApprove, RecommendReview, RecommendReject:
	default:
		return fmt.Errorf("unknown recommendation %q", r.Recommendation)
	}
	return nil
}

// Failed reports whether the result was substituted for a failed branch.
func (r *AnalysisResult) Failed() bool {
	return r.Error != ""
}

// DeliberationMessage is one contribution logged during a deliberation round.
type DeliberationMessage struct {
	From          string         `json:"from_agent"`
	To            string         `json:"to_agent"`
	Type          string         `json:"message_type"`
	Payload       MessagePayload `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
}

// MessagePayload carries the text of a contribution.
type MessagePayload struct {
	Response string `json:"response"`
	Fallback bool   `json:"fallback,omitempty"`
}

// AgentAgreements counts branch votes per recommendation.
type AgentAgreements struct {
	Approve int `json:"approve"`
	Reject  int `json:"reject"`
	Review  int `json:"review"`
}

// Total returns the number of votes counted.
func (a AgentAgreements) Total() int {
	return a.Approve + a.Reject + a.Review
}

// ConsensusResult is the vote-aggregated view over all branches.
type ConsensusResult struct {
	OverallRecommendation ConsensusRecommendation `json:"overall_recommendation"`
	ConfidenceScore       float64                 `json:"confidence_score"`
	RiskScore             int                     `json:"risk_score"`
	AgentAgreements       AgentAgreements         `json:"agent_agreements"`
	TotalAgents           int                     `json:"total_agents"`
	DisagreementDetails   *string                 `json:"disagreement_details"`
	DiscussionSummary     string                  `json:"discussion_summary"`
}

// LoanRiskAdjustment breaks down the loan-characteristic add-on.
type LoanRiskAdjustment struct {
	Amount   float64 `json:"amount"`
	Duration float64 `json:"duration"`
	Purpose  float64 `json:"purpose"`
	Total    float64 `json:"total"`
}

// RiskAssessment is the aggregated risk produced by the scoring engine.
type RiskAssessment struct {
	TotalRiskScore     int                `json:"total_risk_score"`
	RiskLevel          RiskLevel          `json:"risk_level"`
	AgentRisks         map[Branch]int     `json:"agent_risks"`
	WeightedRisk       float64            `json:"weighted_risk"`
	LoanRiskAdjustment LoanRiskAdjustment `json:"loan_risk_adjustment"`
}

// LoanTerms are the terms offered for an approved application.
type LoanTerms struct {
	LoanAmount     float64 `json:"loan_amount"`
	InterestRate   float64 `json:"interest_rate"`
	LoanDuration   int     `json:"loan_duration"`
	MonthlyPayment float64 `json:"monthly_payment"`
}

// DetailedReport carries everything that fed into a decision.
type DetailedReport struct {
	BankAnalysis         *AnalysisResult       `json:"bank_analysis"`
	SalaryAnalysis       *AnalysisResult       `json:"salary_analysis"`
	VerificationAnalysis *AnalysisResult       `json:"verification_analysis"`
	Consensus            *ConsensusResult      `json:"consensus"`
	Discussion           []DeliberationMessage `json:"discussion,omitempty"`
	RiskAssessment       *RiskAssessment       `json:"risk_assessment"`
	RedFlags             []string              `json:"red_flags"`
	Policy               string                `json:"policy"`
	BaseDecision         DecisionStatus        `json:"base_decision"`
	OverrideReason       OverrideReason        `json:"override_reason,omitempty"`
	CustomerID           string                `json:"customer_id"`
	CorrelationID        string                `json:"correlation_id"`
	DecisionTimestamp    time.Time             `json:"decision_timestamp"`
	DecisionOfficer      string                `json:"decision_officer"`
}

// Analysis returns the report's result for the given branch.
func (d *DetailedReport) Analysis(b Branch) *AnalysisResult {
	switch b {
	case BranchBank:
		return d.BankAnalysis
	case BranchSalary:
		return d.SalaryAnalysis
	case BranchVerification:
		return d.VerificationAnalysis
	}
	return nil
}

// DecisionResult is the terminal record for one application run.
// Loan term fields are non-nil iff Decision is APPROVED.
type DecisionResult struct {
	ID              string         `json:"id"`
	Decision        DecisionStatus `json:"decision"`
	ConfidenceScore float64        `json:"confidence_score"`
	RiskScore       int            `json:"risk_score"`
	LoanAmount      *float64       `json:"loan_amount"`
	InterestRate    *float64       `json:"interest_rate"`
	LoanDuration    *int           `json:"loan_duration"`
	MonthlyPayment  *float64       `json:"monthly_payment"`
	Conditions      []string       `json:"conditions"`
	Reasoning       string         `json:"reasoning"`
	DetailedReport  DetailedReport `json:"detailed_report"`
}

// ApplyTerms copies terms onto the result. A nil terms value clears them.
func (d *DecisionResult) ApplyTerms(t *LoanTerms) {
	if t == nil {
		d.LoanAmount, d.InterestRate, d.LoanDuration, d.MonthlyPayment = nil, nil, nil, nil
		return
	}
	amount, rate, duration, payment := t.LoanAmount, t.InterestRate, t.LoanDuration, t.MonthlyPayment
	d.LoanAmount = &amount
	d.InterestRate = &rate
	d.LoanDuration = &duration
	d.MonthlyPayment = &payment
}

// DecisionStats summarises stored decisions.
type DecisionStats struct {
	TotalDecisions int                    `json:"total_decisions"`
	ByDecision     map[DecisionStatus]int `json:"by_decision"`
	ByPolicy       map[string]int         `json:"by_policy"`
	AvgRiskScore   float64                `json:"avg_risk_score"`
	AvgConfidence  float64                `json:"avg_confidence"`
	ApprovedAmount float64                `json:"approved_amount"`
}

// ApplicationStatus tracks processing state per customer.
type ApplicationStatus string

const (
	AppStatusProcessing ApplicationStatus = "processing"
	AppStatusCompleted  ApplicationStatus = "completed"
	AppStatusFailed     ApplicationStatus = "failed"
)

// StatusRecord is the stored processing state of an application.
type StatusRecord struct {
	CustomerID string            `json:"customer_id"`
	Status     ApplicationStatus `json:"status"`
	DecisionID string            `json:"decision_id,omitempty"`
	Error      string            `json:"error,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
