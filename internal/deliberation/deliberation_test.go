package deliberation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanai/internal/logging"
	"loanai/internal/models"
)

type fakeParticipant struct {
	name  string
	delay time.Duration
	err   error
	panic bool
	calls int
}

func (p *fakeParticipant) Name() string { return p.name }

func (p *fakeParticipant) Contribute(ctx context.Context, topic string, dc Context, prior []Round) (string, error) {
	p.calls++
	if p.panic {
		panic("boom")
	}
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if p.err != nil {
		return "", p.err
	}
	return p.name + " round " + string(rune('0'+len(prior)+1)), nil
}

func analyses(recs ...models.Recommendation) map[models.Branch]*models.AnalysisResult {
	out := map[models.Branch]*models.AnalysisResult{}
	for i, rec := range recs {
		out[models.Branches[i]] = &models.AnalysisResult{
			AgentName:       string(models.Branches[i]),
			Recommendation:  rec,
			ConfidenceScore: 0.8,
			RiskScore:       20,
		}
	}
	return out
}

func TestRun_StableOrderAndRoundIDs(t *testing.T) {
	bank := &fakeParticipant{name: "bank", delay: 30 * time.Millisecond}
	salary := &fakeParticipant{name: "salary"}
	verification := &fakeParticipant{name: "verification", delay: 10 * time.Millisecond}
	f := NewFacilitator([]Participant{bank, salary, verification})

	ctx := logging.WithCorrelationID(context.Background(), "run-1")
	tr, err := f.Run(ctx, []string{"bank", "salary", "verification"}, "topic", Context{}, 2)
	require.NoError(t, err)

	require.Len(t, tr.Rounds, 2)
	assert.False(t, tr.StoppedEarly)
	for i, round := range tr.Rounds {
		assert.Equal(t, i+1, round.Number)
		require.Len(t, round.Messages, 3)
		assert.Equal(t, "bank", round.Messages[0].From)
		assert.Equal(t, "salary", round.Messages[1].From)
		assert.Equal(t, "verification", round.Messages[2].From)
		for _, m := range round.Messages {
			assert.Equal(t, round.CorrelationID, m.CorrelationID)
			assert.Equal(t, "discussion_contribution", m.Type)
		}
	}
	assert.Equal(t, "run-1-r1", tr.Rounds[0].CorrelationID)
	assert.Equal(t, "run-1-r2", tr.Rounds[1].CorrelationID)
	assert.Equal(t, "bank round 2", tr.Rounds[1].Messages[0].Payload.Response)
	assert.Len(t, tr.Messages(), 6)
}

func TestRun_FailuresDegradeToFallback(t *testing.T) {
	bank := &fakeParticipant{name: "bank", err: errors.New("model down")}
	salary := &fakeParticipant{name: "salary", panic: true}
	verification := &fakeParticipant{name: "verification"}
	f := NewFacilitator([]Participant{bank, salary, verification})

	tr, err := f.Run(context.Background(), []string{"bank", "salary", "verification"}, "topic", Context{}, 1)
	require.NoError(t, err)

	msgs := tr.Rounds[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, DefaultFallback("bank"), msgs[0].Payload.Response)
	assert.True(t, msgs[0].Payload.Fallback)
	assert.Equal(t, DefaultFallback("salary"), msgs[1].Payload.Response)
	assert.True(t, msgs[1].Payload.Fallback)
	assert.False(t, msgs[2].Payload.Fallback)
}

func TestRun_UnknownParticipantSkipped(t *testing.T) {
	bank := &fakeParticipant{name: "bank"}
	f := NewFacilitator([]Participant{bank})

	tr, err := f.Run(context.Background(), []string{"bank", "ghost"}, "topic", Context{}, 1)
	require.NoError(t, err)
	require.Len(t, tr.Rounds[0].Messages, 1)
	assert.Equal(t, "bank", tr.Rounds[0].Messages[0].From)
}

func TestRun_UnanimousStopsEarly(t *testing.T) {
	bank := &fakeParticipant{name: "bank"}
	f := NewFacilitator([]Participant{bank}, WithPredicate(UnanimousRecommendations))

	dc := Context{Analyses: analyses(models.RecommendApprove, models.RecommendApprove, models.RecommendApprove)}
	tr, err := f.Run(context.Background(), []string{"bank"}, "topic", dc, 3)
	require.NoError(t, err)
	assert.Len(t, tr.Rounds, 1)
	assert.True(t, tr.StoppedEarly)
	assert.Equal(t, 1, bank.calls)

	split := Context{Analyses: analyses(models.RecommendApprove, models.RecommendReject, models.RecommendApprove)}
	tr, err = f.Run(context.Background(), []string{"bank"}, "topic", split, 3)
	require.NoError(t, err)
	assert.Len(t, tr.Rounds, 3)
}

func TestRun_CancelledContext(t *testing.T) {
	slow := &fakeParticipant{name: "bank", delay: time.Second}
	f := NewFacilitator([]Participant{slow})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	tr, err := f.Run(ctx, []string{"bank"}, "topic", Context{}, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, tr.Rounds)
}

func TestPredicateByName(t *testing.T) {
	_, ok := PredicateByName("unanimous")
	assert.True(t, ok)
	_, ok = PredicateByName("")
	assert.True(t, ok)
	_, ok = PredicateByName("majority")
	assert.False(t, ok)
}

func TestBuildConsensus(t *testing.T) {
	tr := &Transcript{Rounds: []Round{
		{Number: 1, Messages: make([]models.DeliberationMessage, 3)},
		{Number: 2, Messages: make([]models.DeliberationMessage, 2)},
	}}

	t.Run("two approves beat one reject", func(t *testing.T) {
		got := BuildConsensus(analyses(models.RecommendApprove, models.RecommendApprove, models.RecommendReject), tr)
		assert.Equal(t, models.ConsensusApprove, got.OverallRecommendation)
		assert.Equal(t, models.AgentAgreements{Approve: 2, Reject: 1}, got.AgentAgreements)
		assert.Equal(t, 3, got.TotalAgents)
		require.NotNil(t, got.DisagreementDetails)
		assert.Equal(t, "Agent disagreements: approve (bank, salary); reject (verification)", *got.DisagreementDetails)
		assert.Equal(t, "Round 1: 3 agents contributed | Round 2: 2 agents contributed", got.DiscussionSummary)
	})

	t.Run("majority reject", func(t *testing.T) {
		got := BuildConsensus(analyses(models.RecommendApprove, models.RecommendReject, models.RecommendReject), nil)
		assert.Equal(t, models.ConsensusReject, got.OverallRecommendation)
		assert.Equal(t, "No discussion rounds", got.DiscussionSummary)
	})

	t.Run("split goes to manual review", func(t *testing.T) {
		got := BuildConsensus(analyses(models.RecommendApprove, models.RecommendReview, models.RecommendReject), nil)
		assert.Equal(t, models.ConsensusManualReview, got.OverallRecommendation)
	})

	t.Run("unanimous has no disagreement", func(t *testing.T) {
		got := BuildConsensus(analyses(models.RecommendReview, models.RecommendReview, models.RecommendReview), nil)
		assert.Nil(t, got.DisagreementDetails)
		assert.Equal(t, 0.8, got.ConfidenceScore)
		assert.Equal(t, 20, got.RiskScore)
	})

	t.Run("no voters gives neutral default", func(t *testing.T) {
		got := BuildConsensus(nil, nil)
		assert.Equal(t, models.ConsensusManualReview, got.OverallRecommendation)
		assert.Equal(t, 0.5, got.ConfidenceScore)
		assert.Equal(t, 50, got.RiskScore)
		assert.Equal(t, 0, got.TotalAgents)
	})

	t.Run("risk mean rounds to nearest", func(t *testing.T) {
		in := analyses(models.RecommendApprove, models.RecommendApprove, models.RecommendApprove)
		in[models.BranchBank].RiskScore = 21
		in[models.BranchSalary].RiskScore = 22
		in[models.BranchVerification].RiskScore = 22
		got := BuildConsensus(in, nil)
		assert.Equal(t, 22, got.RiskScore) // 21.67
	})
}

// Property: the consensus follows the strict vote-share rule for any split.
func TestProperty_ConsensusVoteRule(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	recs := []models.Recommendation{models.RecommendApprove, models.RecommendReview, models.RecommendReject}

	properties.Property("recommendation matches thresholds", prop.ForAll(
		func(a, b, c int) bool {
			got := BuildConsensus(analyses(recs[a], recs[b], recs[c]), nil)
			v := got.AgentAgreements
			want := models.ConsensusManualReview
			if float64(v.Approve) > 0.66*3 {
				want = models.ConsensusApprove
			} else if float64(v.Reject) > 0.5*3 {
				want = models.ConsensusReject
			}
			return v.Total() == 3 && got.OverallRecommendation == want
		},
		gen.IntRange(0, 2),
		gen.IntRange(0, 2),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
