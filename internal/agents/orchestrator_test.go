package agents

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "loanai/internal/errors"
	"loanai/internal/models"
	"loanai/internal/policy"
)

type funcProvider struct {
	name   string
	branch models.Branch
	fn     func(ctx context.Context) (*models.AnalysisResult, error)
}

func (p *funcProvider) Name() string          { return p.name }
func (p *funcProvider) Branch() models.Branch { return p.branch }
func (p *funcProvider) Analyze(ctx context.Context, app *models.Application) (*models.AnalysisResult, error) {
	return p.fn(ctx)
}

func returning(b models.Branch, r *models.AnalysisResult) *funcProvider {
	return &funcProvider{name: string(b) + "_test", branch: b, fn: func(context.Context) (*models.AnalysisResult, error) {
		cp := *r
		return &cp, nil
	}}
}

func analysis(rec models.Recommendation, risk int, confidence float64, flags ...string) *models.AnalysisResult {
	return &models.AnalysisResult{
		ConfidenceScore: confidence,
		RiskScore:       risk,
		Recommendation:  rec,
		RedFlags:        flags,
		Reasoning:       "reasoning for " + string(rec),
	}
}

func healthyProviders() []AnalysisProvider {
	return []AnalysisProvider{
		returning(models.BranchBank, analysis(models.RecommendApprove, 10, 0.9)),
		returning(models.BranchSalary, analysis(models.RecommendApprove, 10, 0.9)),
		returning(models.BranchVerification, analysis(models.RecommendApprove, 10, 0.9)),
	}
}

func fixtureParticipants() []Participant {
	return []Participant{
		NewFixtureParticipant(models.BranchBank),
		NewFixtureParticipant(models.BranchSalary),
		NewFixtureParticipant(models.BranchVerification),
	}
}

func testApplication() *models.Application {
	return &models.Application{
		CustomerID: "cust-001",
		Employment: models.Employment{
			Status:        models.Employed,
			MonthlySalary: 20_000,
		},
		LoanRequest: &models.LoanRequest{
			Amount:         50_000,
			DurationMonths: 24,
			Purpose:        models.PurposeMortgage,
		},
	}
}

type memRecorder struct {
	mu        sync.Mutex
	statuses  []models.StatusRecord
	decisions []*models.DecisionResult
}

func (r *memRecorder) SaveDecision(ctx context.Context, d *models.DecisionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	return nil
}

func (r *memRecorder) SetStatus(ctx context.Context, rec models.StatusRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, rec)
	return nil
}

type failingRecorder struct{ memRecorder }

func (r *failingRecorder) SetStatus(ctx context.Context, rec models.StatusRecord) error {
	return errors.New("database is locked")
}

func (r *memRecorder) statusSequence() []models.ApplicationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ApplicationStatus, len(r.statuses))
	for i, s := range r.statuses {
		out[i] = s.Status
	}
	return out
}

func TestProcess_Approved(t *testing.T) {
	rec := &memRecorder{}
	o := NewOrchestrator(healthyProviders(), fixtureParticipants(), Options{Policy: policy.Balanced(), Recorder: rec}, zerolog.Nop())

	got, err := o.Process(context.Background(), testApplication())
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, got.Decision)
	assert.Equal(t, 15, got.RiskScore) // 10 blended + 5 mortgage
	assert.Equal(t, 0.9, got.ConfidenceScore)
	require.NotNil(t, got.LoanAmount)
	require.NotNil(t, got.InterestRate)
	require.NotNil(t, got.LoanDuration)
	require.NotNil(t, got.MonthlyPayment)
	assert.Equal(t, 50_000.0, *got.LoanAmount)
	assert.Equal(t, 9.4, *got.InterestRate)
	assert.Equal(t, 18, *got.LoanDuration)
	assert.Equal(t, []string{"Standard loan terms apply"}, got.Conditions)
	assert.Contains(t, got.Reasoning, "✓ Application Approved")

	report := got.DetailedReport
	assert.Equal(t, models.ConsensusApprove, report.Consensus.OverallRecommendation)
	assert.Len(t, report.Discussion, 6)
	assert.Equal(t, "Round 1: 3 agents contributed | Round 2: 3 agents contributed", report.Consensus.DiscussionSummary)
	assert.Equal(t, "cust-001", report.CustomerID)
	assert.NotEmpty(t, report.CorrelationID)
	assert.Equal(t, report.CorrelationID+"-r1", report.Discussion[0].CorrelationID)
	assert.Equal(t, DecisionOfficer, report.DecisionOfficer)
	assert.Equal(t, "bank_test", report.BankAnalysis.AgentName)

	assert.Equal(t, []models.ApplicationStatus{models.AppStatusProcessing, models.AppStatusCompleted}, rec.statusSequence())
	require.Len(t, rec.decisions, 1)
	assert.Equal(t, got.ID, rec.decisions[0].ID)
}

func TestProcess_BranchFailureIsIsolated(t *testing.T) {
	providers := healthyProviders()
	providers[1] = &funcProvider{name: "salary_test", branch: models.BranchSalary, fn: func(context.Context) (*models.AnalysisResult, error) {
		return nil, errors.New("payroll API unavailable")
	}}
	o := NewOrchestrator(providers, fixtureParticipants(), Options{}, zerolog.Nop())

	got, err := o.Process(context.Background(), testApplication())
	require.NoError(t, err)

	report := got.DetailedReport
	assert.False(t, report.BankAnalysis.Failed())
	assert.False(t, report.VerificationAnalysis.Failed())
	assert.Equal(t, 10, report.BankAnalysis.RiskScore)

	salary := report.SalaryAnalysis
	assert.True(t, salary.Failed())
	assert.Equal(t, 100, salary.RiskScore)
	assert.Equal(t, 0.0, salary.ConfidenceScore)
	assert.Equal(t, models.RecommendReview, salary.Recommendation)
	assert.Equal(t, []string{"payroll API unavailable"}, salary.RedFlags)
	assert.Equal(t, "Agent failed with error: payroll API unavailable", salary.Reasoning)
}

func TestProcess_BranchTimeoutDoesNotBlock(t *testing.T) {
	providers := healthyProviders()
	providers[2] = &funcProvider{name: "verification_slow", branch: models.BranchVerification, fn: func(context.Context) (*models.AnalysisResult, error) {
		time.Sleep(2 * time.Second) // ignores its context
		return analysis(models.RecommendApprove, 0, 1), nil
	}}
	o := NewOrchestrator(providers, fixtureParticipants(), Options{BranchTimeout: 50 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	got, err := o.Process(context.Background(), testApplication())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	v := got.DetailedReport.VerificationAnalysis
	assert.True(t, v.Failed())
	assert.Contains(t, v.Error, "operation timed out")
	assert.False(t, got.DetailedReport.BankAnalysis.Failed())
}

func TestProcess_PanicAndInvalidResultsSubstituted(t *testing.T) {
	providers := healthyProviders()
	providers[0] = &funcProvider{name: "bank_panics", branch: models.BranchBank, fn: func(context.Context) (*models.AnalysisResult, error) {
		panic("nil statement")
	}}
	providers[1] = returning(models.BranchSalary, analysis(models.RecommendApprove, 150, 0.9))
	o := NewOrchestrator(providers, fixtureParticipants(), Options{}, zerolog.Nop())

	got, err := o.Process(context.Background(), testApplication())
	require.NoError(t, err)

	assert.Contains(t, got.DetailedReport.BankAnalysis.Error, "panicked")
	assert.Contains(t, got.DetailedReport.SalaryAnalysis.Error, "invalid analysis result")
	assert.NotEqual(t, models.StatusApproved, got.Decision)
	assert.Nil(t, got.LoanAmount)
}

func TestProcess_MissingProviderSubstituted(t *testing.T) {
	providers := healthyProviders()[:2]
	o := NewOrchestrator(providers, fixtureParticipants(), Options{}, zerolog.Nop())

	got, err := o.Process(context.Background(), testApplication())
	require.NoError(t, err)
	assert.True(t, got.DetailedReport.VerificationAnalysis.Failed())
	assert.Equal(t, "verification_agent", got.DetailedReport.VerificationAnalysis.AgentName)
}

func TestProcess_RedFlagOverride(t *testing.T) {
	providers := []AnalysisProvider{
		returning(models.BranchBank, analysis(models.RecommendApprove, 0, 0.95, "overdrafts", "gambling")),
		returning(models.BranchSalary, analysis(models.RecommendApprove, 0, 0.95, "employer unknown")),
		returning(models.BranchVerification, analysis(models.RecommendApprove, 0, 0.95, "id mismatch")),
	}
	o := NewOrchestrator(providers, fixtureParticipants(), Options{Policy: policy.Aggressive()}, zerolog.Nop())

	got, err := o.Process(context.Background(), testApplication())
	require.NoError(t, err)

	assert.Equal(t, models.StatusRejected, got.Decision)
	assert.Equal(t, models.StatusApproved, got.DetailedReport.BaseDecision)
	assert.Equal(t, models.OverrideMultipleRedFlags, got.DetailedReport.OverrideReason)
	assert.Equal(t, []string{"overdrafts", "gambling", "employer unknown", "id mismatch"}, got.DetailedReport.RedFlags)
	assert.Nil(t, got.LoanAmount)
	assert.Nil(t, got.InterestRate)
	assert.Nil(t, got.LoanDuration)
	assert.Contains(t, got.Conditions, "Subject to fraud investigation")
}

func TestProcess_InvalidApplication(t *testing.T) {
	rec := &memRecorder{}
	o := NewOrchestrator(healthyProviders(), fixtureParticipants(), Options{Recorder: rec}, zerolog.Nop())

	app := testApplication()
	app.LoanRequest = nil

	_, err := o.Process(context.Background(), app)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInputValidation))

	var ve *apperrors.ValidationError
	require.True(t, apperrors.As(err, &ve))
	assert.Equal(t, "loan_request", ve.Field)
	assert.Empty(t, rec.statusSequence())
}

func TestProcess_NonFiniteInputRejected(t *testing.T) {
	o := NewOrchestrator(healthyProviders(), fixtureParticipants(), Options{}, zerolog.Nop())

	for name, mutate := range map[string]func(*models.Application){
		"nan salary": func(a *models.Application) { a.Employment.MonthlySalary = math.NaN() },
		"inf salary": func(a *models.Application) { a.Employment.MonthlySalary = math.Inf(1) },
		"nan amount": func(a *models.Application) { a.LoanRequest.Amount = math.NaN() },
	} {
		app := testApplication()
		mutate(app)
		_, err := o.Process(context.Background(), app)
		assert.ErrorIs(t, err, apperrors.ErrInputValidation, name)
	}
}

func TestProcess_NaNConfidenceSubstituted(t *testing.T) {
	providers := healthyProviders()
	providers[0] = returning(models.BranchBank, analysis(models.RecommendApprove, 10, math.NaN()))
	o := NewOrchestrator(providers, fixtureParticipants(), Options{}, zerolog.Nop())

	got, err := o.Process(context.Background(), testApplication())
	require.NoError(t, err)

	assert.True(t, got.DetailedReport.BankAnalysis.Failed())
	assert.Contains(t, got.DetailedReport.BankAnalysis.Error, "invalid analysis result")
	assert.False(t, math.IsNaN(got.ConfidenceScore))
	_, err = json.Marshal(got)
	assert.NoError(t, err)
}

func TestProcess_CallerCancellation(t *testing.T) {
	rec := &memRecorder{}
	providers := healthyProviders()
	providers[0] = &funcProvider{name: "bank_slow", branch: models.BranchBank, fn: func(ctx context.Context) (*models.AnalysisResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := NewOrchestrator(providers, fixtureParticipants(), Options{Recorder: rec}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := o.Process(ctx, testApplication())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []models.ApplicationStatus{models.AppStatusProcessing, models.AppStatusFailed}, rec.statusSequence())

	st := o.Status()
	assert.Equal(t, 0, st.Processed)
	assert.Equal(t, 1, st.Failed)
}

func TestProcess_StatusWriteFailureIsNotFatal(t *testing.T) {
	rec := &failingRecorder{}
	o := NewOrchestrator(healthyProviders(), fixtureParticipants(), Options{Recorder: rec}, zerolog.Nop())

	got, err := o.Process(context.Background(), testApplication())
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Decision)
	require.Len(t, rec.decisions, 1)
	assert.Equal(t, got.ID, rec.decisions[0].ID)
}

func TestStatus(t *testing.T) {
	o := NewOrchestrator(healthyProviders(), fixtureParticipants()[:2], Options{Policy: policy.Conservative(), MaxRounds: 3}, zerolog.Nop())

	st := o.Status()
	assert.Equal(t, policy.NameConservative, st.Policy)
	assert.Equal(t, 3, st.MaxRounds)
	assert.Equal(t, DefaultBranchTimeout, st.BranchTimeout)
	assert.Equal(t, "bank_test", st.Providers["bank"])
	assert.Equal(t, []string{"bank", "salary"}, st.Participants)
	assert.Equal(t, 0, st.Processed)

	_, err := o.Process(context.Background(), testApplication())
	require.NoError(t, err)
	assert.Equal(t, 1, o.Status().Processed)
}

// Property: terms are present iff the decision is APPROVED and never exceed
// the requested amount, whatever the branches report.
func TestProperty_ProcessTermsPresence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	recs := []models.Recommendation{models.RecommendApprove, models.RecommendReview, models.RecommendReject}

	properties.Property("terms iff approved", prop.ForAll(
		func(risk int, confidence float64, recIdx int, amount float64) bool {
			providers := []AnalysisProvider{
				returning(models.BranchBank, analysis(recs[recIdx], risk, confidence)),
				returning(models.BranchSalary, analysis(recs[recIdx], risk, confidence)),
				returning(models.BranchVerification, analysis(recs[recIdx], risk, confidence)),
			}
			o := NewOrchestrator(providers, fixtureParticipants(), Options{MaxRounds: 1}, zerolog.Nop())

			app := testApplication()
			app.LoanRequest.Amount = amount
			got, err := o.Process(context.Background(), app)
			if err != nil {
				return false
			}

			if got.Decision != models.StatusApproved {
				return got.LoanAmount == nil && got.InterestRate == nil && got.LoanDuration == nil
			}
			return got.LoanAmount != nil && got.InterestRate != nil && got.LoanDuration != nil &&
				*got.LoanAmount <= amount
		},
		gen.IntRange(0, 100),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 2),
		gen.Float64Range(1, 1_000_000),
	))

	properties.TestingRun(t)
}
