package deliberation

import (
	"fmt"
	"math"
	"strings"

	"loanai/internal/models"
)

// Vote thresholds. The comparisons are strict.
const (
	approveShare = 0.66
	rejectShare  = 0.5
)

// BuildConsensus tallies branch votes and summarises the transcript. Missing
// branches do not vote. With no votes at all it returns the neutral default.
func BuildConsensus(results map[models.Branch]*models.AnalysisResult, transcript *Transcript) *models.ConsensusResult {
	summary := discussionSummary(transcript)

	var (
		votes      models.AgentAgreements
		confidence float64
		risk       float64
		voters     = map[models.Recommendation][]string{}
	)
	for _, b := range models.Branches {
		r := results[b]
		if r == nil {
			continue
		}
		rec := r.Recommendation
		switch rec {
		case models.RecommendApprove:
			votes.Approve++
		case models.RecommendReject:
			votes.Reject++
		default:
			rec = models.RecommendReview
			votes.Review++
		}
		voters[rec] = append(voters[rec], string(b))
		confidence += r.ConfidenceScore
		risk += float64(r.RiskScore)
	}

	total := votes.Total()
	if total == 0 {
		return &models.ConsensusResult{
			OverallRecommendation: models.ConsensusManualReview,
			ConfidenceScore:       0.5,
			RiskScore:             50,
			AgentAgreements:       votes,
			DiscussionSummary:     summary,
		}
	}

	overall := models.ConsensusManualReview
	switch {
	case float64(votes.Approve) > approveShare*float64(total):
		overall = models.ConsensusApprove
	case float64(votes.Reject) > rejectShare*float64(total):
		overall = models.ConsensusReject
	}

	return &models.ConsensusResult{
		OverallRecommendation: overall,
		ConfidenceScore:       math.Round(confidence/float64(total)*100) / 100,
		RiskScore:             int(math.Round(risk / float64(total))),
		AgentAgreements:       votes,
		TotalAgents:           total,
		DisagreementDetails:   disagreement(voters),
		DiscussionSummary:     summary,
	}
}

func disagreement(voters map[models.Recommendation][]string) *string {
	if len(voters) <= 1 {
		return nil
	}
	var parts []string
	for _, rec := range []models.Recommendation{models.RecommendApprove, models.RecommendReject, models.RecommendReview} {
		if names := voters[rec]; len(names) > 0 {
			parts = append(parts, fmt.Sprintf("%s (%s)", rec, strings.Join(names, ", ")))
		}
	}
	details := "Agent disagreements: " + strings.Join(parts, "; ")
	return &details
}

func discussionSummary(t *Transcript) string {
	if t == nil || len(t.Rounds) == 0 {
		return "No discussion rounds"
	}
	parts := make([]string, 0, len(t.Rounds))
	for _, r := range t.Rounds {
		parts = append(parts, fmt.Sprintf("Round %d: %d agents contributed", r.Number, len(r.Messages)))
	}
	return strings.Join(parts, " | ")
}
