package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanai/internal/deliberation"
	apperrors "loanai/internal/errors"
	"loanai/internal/models"
	"loanai/internal/resilience"
	"loanai/pkg/utils"
)

type fakeLLM struct {
	reply  string
	err    error
	system string
	user   string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.system, f.user = systemPrompt, userPrompt
	return f.reply, f.err
}

func TestStaticProvider(t *testing.T) {
	src := analysis(models.RecommendReview, 40, 0.7, "late payments")
	p := NewStaticProvider(models.BranchBank, src)

	got, err := p.Analyze(context.Background(), testApplication())
	require.NoError(t, err)
	assert.Equal(t, "bank_static", got.AgentName)
	assert.False(t, got.Timestamp.IsZero())

	got.RedFlags[0] = "changed"
	assert.Equal(t, "late payments", src.RedFlags[0])

	_, err = NewStaticProvider(models.BranchSalary, nil).Analyze(context.Background(), testApplication())
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
}

func TestRetryingProvider(t *testing.T) {
	calls := 0
	flaky := &funcProvider{name: "bank_flaky", branch: models.BranchBank, fn: func(context.Context) (*models.AnalysisResult, error) {
		calls++
		if calls < 2 {
			return nil, errors.New("503")
		}
		return analysis(models.RecommendApprove, 5, 0.9), nil
	}}

	p := NewRetryingProvider(flaky, utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2})
	assert.Equal(t, "bank_flaky", p.Name())
	assert.Equal(t, models.BranchBank, p.Branch())

	got, err := p.Analyze(context.Background(), testApplication())
	require.NoError(t, err)
	assert.Equal(t, 5, got.RiskScore)
	assert.Equal(t, 2, calls)
}

func TestRetryingProvider_DoesNotRetryMissingData(t *testing.T) {
	calls := 0
	missing := &funcProvider{name: "bank", branch: models.BranchBank, fn: func(context.Context) (*models.AnalysisResult, error) {
		calls++
		return nil, apperrors.ErrDataNotFound
	}}

	_, err := NewRetryingProvider(missing, utils.RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}).
		Analyze(context.Background(), testApplication())
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
	assert.Equal(t, 1, calls)
}

func TestGuardedProvider_FailsFastWhenOpen(t *testing.T) {
	calls := 0
	down := &funcProvider{name: "salary_agent", branch: models.BranchSalary, fn: func(context.Context) (*models.AnalysisResult, error) {
		calls++
		return nil, errors.New("connection refused")
	}}
	breaker := resilience.NewBreaker("salary_agent", resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	p := NewGuardedProvider(down, breaker)
	assert.Equal(t, "salary_agent", p.Name())

	for i := 0; i < 3; i++ {
		_, err := p.Analyze(context.Background(), testApplication())
		require.Error(t, err)
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, resilience.StateOpen, breaker.State())

	// Retrying an open breaker gives up immediately.
	_, err := NewRetryingProvider(p, utils.RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}).
		Analyze(context.Background(), testApplication())
	assert.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, 2, calls)
}

func TestGuardedProvider_MissingDataDoesNotTrip(t *testing.T) {
	missing := &funcProvider{name: "bank", branch: models.BranchBank, fn: func(context.Context) (*models.AnalysisResult, error) {
		return nil, apperrors.ErrDataNotFound
	}}
	breaker := resilience.NewBreaker("bank", resilience.BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	p := NewGuardedProvider(missing, breaker)

	for i := 0; i < 3; i++ {
		_, err := p.Analyze(context.Background(), testApplication())
		assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
	}
	assert.Equal(t, resilience.StateClosed, breaker.State())
}

func TestFixtureParticipant(t *testing.T) {
	p := NewFixtureParticipant(models.BranchBank)
	dc := deliberation.Context{Analyses: map[models.Branch]*models.AnalysisResult{
		models.BranchBank: analysis(models.RecommendReview, 40, 0.7, "late payments"),
	}}

	first, err := p.Contribute(context.Background(), DefaultTopic, dc, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bank analysis recommends review with risk 40/100 and confidence 0.70. Red flags: late payments.", first)

	second, err := p.Contribute(context.Background(), DefaultTopic, dc, make([]deliberation.Round, 1))
	require.NoError(t, err)
	assert.Contains(t, second, "Position unchanged after round 1.")

	other, err := NewFixtureParticipant(models.BranchSalary).Contribute(context.Background(), DefaultTopic, dc, nil)
	require.NoError(t, err)
	assert.Equal(t, deliberation.DefaultFallback("salary"), other)
}

func TestLLMProvider_ParsesModelJSON(t *testing.T) {
	llm := &fakeLLM{reply: "Here you go:\n```json\n" +
		`{"confidence_score": 0.82, "risk_score": 27, "recommendation": "Approve", "red_flags": ["irregular deposits"], "reasoning": "Stable income."}` +
		"\n```"}
	p := NewLLMProvider(models.BranchBank, llm)
	app := testApplication()
	app.PersonalInfo.PersonalID = "19850101-9876"

	got, err := p.Analyze(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, "bank_agent", got.AgentName)
	assert.Equal(t, 0.82, got.ConfidenceScore)
	assert.Equal(t, 27, got.RiskScore)
	assert.Equal(t, models.RecommendApprove, got.Recommendation)
	assert.Equal(t, []string{"irregular deposits"}, got.RedFlags)
	assert.Contains(t, llm.system, "financial health")
	assert.Contains(t, llm.user, "cust-001")
	assert.Contains(t, llm.user, "*********9876")
	assert.NotContains(t, llm.user, "19850101")
}

func TestLLMProvider_Errors(t *testing.T) {
	_, err := NewLLMProvider(models.BranchSalary, &fakeLLM{err: errors.New("rate limited")}).
		Analyze(context.Background(), testApplication())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProviderFailed)
	var ae *apperrors.AgentError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "salary_agent", ae.AgentName)

	_, err = NewLLMProvider(models.BranchSalary, &fakeLLM{reply: "I cannot help with that."}).
		Analyze(context.Background(), testApplication())
	assert.ErrorIs(t, err, apperrors.ErrInvalidResult)
}

func TestLLMParticipant(t *testing.T) {
	llm := &fakeLLM{reply: "  Income supports the loan.  "}
	p := NewLLMParticipant(models.BranchSalary, llm)

	dc := deliberation.Context{CustomerID: "cust-001", Analyses: map[models.Branch]*models.AnalysisResult{
		models.BranchSalary: analysis(models.RecommendApprove, 20, 0.8),
	}}
	prior := []deliberation.Round{{Number: 1, Messages: []models.DeliberationMessage{
		{From: "bank", Payload: models.MessagePayload{Response: "Savings look healthy."}},
	}}}

	got, err := p.Contribute(context.Background(), DefaultTopic, dc, prior)
	require.NoError(t, err)
	assert.Equal(t, "Income supports the loan.", got)
	assert.Contains(t, llm.system, DefaultTopic)
	assert.Contains(t, llm.user, "[round 1] bank: Savings look healthy.")

	_, err = NewLLMParticipant(models.BranchBank, &fakeLLM{err: errors.New("down")}).
		Contribute(context.Background(), DefaultTopic, dc, nil)
	assert.Error(t, err)
}

func TestOpenAIClient_JSONKeepsModel(t *testing.T) {
	client := NewOpenAIClient("sk-test", "gpt-4o-mini", 0.2)
	jsonClient := client.JSON()

	assert.Equal(t, "gpt-4o-mini", client.Model())
	assert.Equal(t, "gpt-4o-mini", jsonClient.Model())
	assert.True(t, jsonClient.jsonMode)
	assert.False(t, client.jsonMode)
}
