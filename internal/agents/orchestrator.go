package agents

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"loanai/internal/deliberation"
	apperrors "loanai/internal/errors"
	"loanai/internal/logging"
	"loanai/internal/models"
	"loanai/internal/policy"
	"loanai/internal/scoring"
)

// Defaults applied by NewOrchestrator for zero-valued options.
const (
	DefaultBranchTimeout = 30 * time.Second
	DefaultTopic         = "Application Risk Assessment and Approval Recommendation"
	DecisionOfficer      = "loan_officer_agent"
)

// DecisionRecorder persists decisions and per-customer processing status.
type DecisionRecorder interface {
	SaveDecision(ctx context.Context, d *models.DecisionResult) error
	SetStatus(ctx context.Context, rec models.StatusRecord) error
}

// Options configures an Orchestrator.
type Options struct {
	Policy        policy.Params
	BranchTimeout time.Duration
	MaxRounds     int
	Topic         string
	Predicate     deliberation.ConvergencePredicate
	Recorder      DecisionRecorder
}

// Orchestrator runs one application through fan-out analysis, deliberation,
// consensus, risk scoring and the decision policy. It holds no per-run state
// and may process several applications concurrently.
type Orchestrator struct {
	providers    map[models.Branch]AnalysisProvider
	facilitator  *deliberation.Facilitator
	participants []string
	engine       *scoring.Engine
	opts         Options
	logger       zerolog.Logger

	mu        sync.RWMutex
	processed int
	failed    int
	lastRunAt time.Time
}

// OrchestratorStatus describes the wiring of an orchestrator.
type OrchestratorStatus struct {
	Policy        string            `json:"policy"`
	BranchTimeout time.Duration     `json:"branch_timeout"`
	MaxRounds     int               `json:"max_rounds"`
	Providers     map[string]string `json:"providers"`
	Participants  []string          `json:"participants"`
	Processed     int               `json:"processed"`
	Failed        int               `json:"failed"`
	LastRunAt     time.Time         `json:"last_run_at,omitempty"`
}

// NewOrchestrator creates an orchestrator. Providers are keyed by their
// branch; a later provider for the same branch replaces an earlier one.
func NewOrchestrator(providers []AnalysisProvider, participants []Participant, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.Policy.Name == "" {
		opts.Policy = policy.Balanced()
	}
	if opts.BranchTimeout <= 0 {
		opts.BranchTimeout = DefaultBranchTimeout
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = deliberation.DefaultMaxRounds
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}

	byBranch := make(map[models.Branch]AnalysisProvider, len(providers))
	for _, p := range providers {
		byBranch[p.Branch()] = p
	}

	names := make([]string, 0, len(models.Branches))
	for _, b := range models.Branches {
		names = append(names, string(b))
	}

	return &Orchestrator{
		providers:    byBranch,
		facilitator:  deliberation.NewFacilitator(participants, deliberation.WithPredicate(opts.Predicate)),
		participants: names,
		engine:       scoring.NewEngine(),
		opts:         opts,
		logger:       logger,
	}
}

// Process evaluates one application. It fails only on invalid input or when
// ctx is cancelled; branch failures are substituted with maximal-risk results.
func (o *Orchestrator) Process(ctx context.Context, app *models.Application) (*models.DecisionResult, error) {
	if err := app.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := logging.WithCustomer(o.logger, app.CustomerID).With().Str("correlation_id", runID).Logger()
	ctx = logging.WithLogger(ctx, logger)
	ctx = logging.WithCorrelationID(ctx, runID)

	o.recordStatus(ctx, models.StatusRecord{CustomerID: app.CustomerID, Status: models.AppStatusProcessing})
	logger.Info().Str("policy", o.opts.Policy.Name).Msg("Processing application")

	result, err := o.process(ctx, app, runID)
	if err != nil {
		logger.Error().Err(err).Msg("Processing aborted")
		o.recordStatus(context.WithoutCancel(ctx), models.StatusRecord{
			CustomerID: app.CustomerID,
			Status:     models.AppStatusFailed,
			Error:      err.Error(),
		})
		o.mu.Lock()
		o.failed++
		o.lastRunAt = time.Now()
		o.mu.Unlock()
		return nil, err
	}

	if o.opts.Recorder != nil {
		if err := o.opts.Recorder.SaveDecision(ctx, result); err != nil {
			logger.Error().Err(err).Msg("Failed to save decision")
		}
	}
	o.recordStatus(ctx, models.StatusRecord{
		CustomerID: app.CustomerID,
		Status:     models.AppStatusCompleted,
		DecisionID: result.ID,
	})

	o.mu.Lock()
	o.processed++
	o.lastRunAt = time.Now()
	o.mu.Unlock()

	logging.LogDecision(logger, app.CustomerID, string(result.Decision), result.RiskScore, result.ConfidenceScore, o.opts.Policy.Name)
	return result, nil
}

func (o *Orchestrator) process(ctx context.Context, app *models.Application, runID string) (*models.DecisionResult, error) {
	logger := logging.FromContext(ctx)

	analyses, err := o.runBranches(ctx, app)
	if err != nil {
		return nil, err
	}

	dc := deliberation.Context{CustomerID: app.CustomerID, Analyses: analyses}
	transcript, err := o.facilitator.Run(ctx, o.participants, o.opts.Topic, dc, o.opts.MaxRounds)
	if err != nil {
		return nil, fmt.Errorf("deliberation: %w", err)
	}

	consensus := deliberation.BuildConsensus(analyses, transcript)

	bank := analyses[models.BranchBank]
	salary := analyses[models.BranchSalary]
	verification := analyses[models.BranchVerification]

	loan, _ := app.Characteristics()
	assessment := o.engine.Aggregate(bank.RiskScore, salary.RiskScore, verification.RiskScore, loan)

	confidence := math.Round((bank.ConfidenceScore+salary.ConfidenceScore+verification.ConfidenceScore)/3*100) / 100

	redFlags := []string{}
	for _, b := range models.Branches {
		redFlags = append(redFlags, analyses[b].RedFlags...)
	}

	params := o.opts.Policy
	outcome := policy.Decide(assessment.TotalRiskScore, confidence, consensus.OverallRecommendation, redFlags, params)
	if outcome.Override != models.OverrideNone {
		logger.Warn().
			Int("red_flags", len(redFlags)).
			Str("base_decision", string(outcome.Base)).
			Msg("Red-flag override applied")
	}

	terms := policy.CalculateTerms(outcome.Status, loan.Amount, app.Employment.MonthlySalary, assessment.TotalRiskScore, params)

	result := &models.DecisionResult{
		ID:              uuid.NewString(),
		Decision:        outcome.Status,
		ConfidenceScore: confidence,
		RiskScore:       assessment.TotalRiskScore,
		Conditions:      policy.Conditions(outcome.Status, assessment.TotalRiskScore, redFlags, bank.RedFlags, params),
		DetailedReport: models.DetailedReport{
			BankAnalysis:         bank,
			SalaryAnalysis:       salary,
			VerificationAnalysis: verification,
			Consensus:            consensus,
			Discussion:           transcript.Messages(),
			RiskAssessment:       assessment,
			RedFlags:             redFlags,
			Policy:               params.Name,
			BaseDecision:         outcome.Base,
			OverrideReason:       outcome.Override,
			CustomerID:           app.CustomerID,
			CorrelationID:        runID,
			DecisionTimestamp:    time.Now(),
			DecisionOfficer:      DecisionOfficer,
		},
	}
	result.ApplyTerms(terms)
	result.Reasoning = policy.Explain(outcome.Status, assessment, &result.DetailedReport)

	return result, nil
}

// runBranches issues every branch call before awaiting any of them. Each
// branch has its own deadline and never cancels its siblings.
func (o *Orchestrator) runBranches(ctx context.Context, app *models.Application) (map[models.Branch]*models.AnalysisResult, error) {
	results := make([]*models.AnalysisResult, len(models.Branches))

	// Branch errors are substituted inside runBranch, so the group only joins.
	var g errgroup.Group
	for i, b := range models.Branches {
		i, b := i, b
		g.Go(func() error {
			results[i] = o.runBranch(ctx, b, app)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[models.Branch]*models.AnalysisResult, len(results))
	for i, b := range models.Branches {
		out[b] = results[i]
	}
	return out, nil
}

type branchOutcome struct {
	result *models.AnalysisResult
	err    error
}

// runBranch returns the provider's result or a substituted failure result.
func (o *Orchestrator) runBranch(ctx context.Context, b models.Branch, app *models.Application) *models.AnalysisResult {
	logger := logging.WithBranch(logging.FromContext(ctx), string(b))
	start := time.Now()

	provider, ok := o.providers[b]
	name := string(b) + "_agent"
	if ok {
		name = provider.Name()
	}

	result, err := o.callProvider(ctx, provider, app)
	if err == nil {
		err = checkResult(result)
	}
	if err != nil {
		if !ok {
			err = fmt.Errorf("%w: no provider configured for %s", apperrors.ErrProviderFailed, b)
		}
		result = failureResult(name, err.Error())
		logging.LogBranchResult(logger, string(b), string(result.Recommendation), result.RiskScore, result.ConfidenceScore, time.Since(start), err)
		return result
	}

	r := *result
	r.RedFlags = append([]string{}, result.RedFlags...)
	if r.AgentName == "" {
		r.AgentName = name
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	logging.LogBranchResult(logger, string(b), string(r.Recommendation), r.RiskScore, r.ConfidenceScore, time.Since(start), nil)
	return &r
}

// callProvider runs the provider under the branch deadline and stops waiting
// once it expires, even if the provider ignores its context.
func (o *Orchestrator) callProvider(ctx context.Context, p AnalysisProvider, app *models.Application) (*models.AnalysisResult, error) {
	if p == nil {
		return nil, apperrors.ErrProviderFailed
	}

	bctx, cancel := context.WithTimeout(ctx, o.opts.BranchTimeout)
	defer cancel()

	done := make(chan branchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- branchOutcome{err: fmt.Errorf("%w: %v", apperrors.ErrProviderPanic, r)}
			}
		}()
		res, err := p.Analyze(bctx, app)
		done <- branchOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-bctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s after %s", apperrors.ErrTimeout, p.Name(), o.opts.BranchTimeout)
	}
}

func checkResult(r *models.AnalysisResult) error {
	if r == nil {
		return fmt.Errorf("%w: provider returned no result", apperrors.ErrInvalidResult)
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidResult, err)
	}
	return nil
}

func (o *Orchestrator) recordStatus(ctx context.Context, rec models.StatusRecord) {
	if o.opts.Recorder == nil {
		return
	}
	rec.UpdatedAt = time.Now()
	if err := o.opts.Recorder.SetStatus(ctx, rec); err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Str("status", string(rec.Status)).Msg("Failed to record status")
	}
}

// Status returns the orchestrator wiring and counters.
func (o *Orchestrator) Status() *OrchestratorStatus {
	providers := make(map[string]string, len(o.providers))
	for b, p := range o.providers {
		providers[string(b)] = p.Name()
	}
	participants := make([]string, 0, len(o.participants))
	for _, name := range o.participants {
		if o.facilitator.Has(name) {
			participants = append(participants, name)
		}
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	return &OrchestratorStatus{
		Policy:        o.opts.Policy.Name,
		BranchTimeout: o.opts.BranchTimeout,
		MaxRounds:     o.opts.MaxRounds,
		Providers:     providers,
		Participants:  participants,
		Processed:     o.processed,
		Failed:        o.failed,
		LastRunAt:     o.lastRunAt,
	}
}
