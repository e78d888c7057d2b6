// Package agents provides the analysis providers, deliberation participants
// and the orchestrator that turns a loan application into a decision.
package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"loanai/internal/deliberation"
	apperrors "loanai/internal/errors"
	"loanai/internal/models"
	"loanai/internal/resilience"
	"loanai/internal/security"
	"loanai/pkg/utils"
)

// AnalysisProvider produces one branch analysis for an application.
// Implementations must be safe to call concurrently with the other branches.
type AnalysisProvider interface {
	// Name returns the unique name of the provider.
	Name() string
	// Branch returns the branch the provider reports for.
	Branch() models.Branch
	// Analyze evaluates the application.
	Analyze(ctx context.Context, app *models.Application) (*models.AnalysisResult, error)
}

// Participant is a deliberation participant.
type Participant = deliberation.Participant

// StaticProvider serves a precomputed analysis, e.g. one embedded in an
// application file.
type StaticProvider struct {
	name   string
	branch models.Branch
	result *models.AnalysisResult
}

// NewStaticProvider creates a provider that always returns result.
func NewStaticProvider(branch models.Branch, result *models.AnalysisResult) *StaticProvider {
	return &StaticProvider{
		name:   string(branch) + "_static",
		branch: branch,
		result: result,
	}
}

// Name returns the provider name.
func (p *StaticProvider) Name() string { return p.name }

// Branch returns the provider branch.
func (p *StaticProvider) Branch() models.Branch { return p.branch }

// Analyze returns a copy of the stored result.
func (p *StaticProvider) Analyze(ctx context.Context, app *models.Application) (*models.AnalysisResult, error) {
	if p.result == nil {
		return nil, fmt.Errorf("%w: no precomputed %s analysis", apperrors.ErrDataNotFound, p.branch)
	}
	r := *p.result
	r.RedFlags = append([]string(nil), p.result.RedFlags...)
	if r.AgentName == "" {
		r.AgentName = p.name
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return &r, nil
}

// RetryingProvider retries a flaky provider with exponential backoff.
type RetryingProvider struct {
	inner AnalysisProvider
	cfg   utils.RetryConfig
}

// NewRetryingProvider wraps inner. Input validation errors are never retried.
func NewRetryingProvider(inner AnalysisProvider, cfg utils.RetryConfig) *RetryingProvider {
	nonRetryable := append([]error(nil), cfg.NonRetryable...)
	cfg.NonRetryable = append(nonRetryable, apperrors.ErrInputValidation, apperrors.ErrDataNotFound, resilience.ErrOpen)
	return &RetryingProvider{inner: inner, cfg: cfg}
}

// Name returns the wrapped provider name.
func (p *RetryingProvider) Name() string { return p.inner.Name() }

// Branch returns the wrapped provider branch.
func (p *RetryingProvider) Branch() models.Branch { return p.inner.Branch() }

// Analyze calls the wrapped provider until it succeeds or attempts run out.
func (p *RetryingProvider) Analyze(ctx context.Context, app *models.Application) (*models.AnalysisResult, error) {
	return utils.RetryWithResult(ctx, p.cfg, func() (*models.AnalysisResult, error) {
		return p.inner.Analyze(ctx, app)
	})
}

// GuardedProvider stops calling a provider whose backend keeps failing.
// While the breaker is open, Analyze fails fast with resilience.ErrOpen and
// the orchestrator substitutes the failure result for that branch.
type GuardedProvider struct {
	inner   AnalysisProvider
	breaker *resilience.Breaker
}

// NewGuardedProvider wraps inner with breaker.
func NewGuardedProvider(inner AnalysisProvider, breaker *resilience.Breaker) *GuardedProvider {
	return &GuardedProvider{inner: inner, breaker: breaker}
}

// Name returns the wrapped provider name.
func (p *GuardedProvider) Name() string { return p.inner.Name() }

// Branch returns the wrapped provider branch.
func (p *GuardedProvider) Branch() models.Branch { return p.inner.Branch() }

// Analyze calls the wrapped provider through the breaker. Bad input is not
// held against the backend.
func (p *GuardedProvider) Analyze(ctx context.Context, app *models.Application) (*models.AnalysisResult, error) {
	return resilience.Do(ctx, p.breaker, backendFailure, func(ctx context.Context) (*models.AnalysisResult, error) {
		return p.inner.Analyze(ctx, app)
	})
}

func backendFailure(err error) bool {
	return !apperrors.Is(err, apperrors.ErrInputValidation) && !apperrors.Is(err, apperrors.ErrDataNotFound)
}

// FixtureParticipant contributes deterministic text derived from its own
// branch analysis. It is the offline counterpart of LLMParticipant.
type FixtureParticipant struct {
	name string
}

// NewFixtureParticipant creates a fixture participant for a branch.
func NewFixtureParticipant(branch models.Branch) *FixtureParticipant {
	return &FixtureParticipant{name: string(branch)}
}

// Name returns the participant name.
func (p *FixtureParticipant) Name() string { return p.name }

// Contribute summarises the participant's branch analysis.
func (p *FixtureParticipant) Contribute(ctx context.Context, topic string, dc deliberation.Context, prior []deliberation.Round) (string, error) {
	r := dc.Analyses[models.Branch(p.name)]
	if r == nil {
		return deliberation.DefaultFallback(p.name), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s analysis recommends %s with risk %d/100 and confidence %.2f.",
		capitalize(p.name), r.Recommendation, r.RiskScore, r.ConfidenceScore)
	if len(r.RedFlags) > 0 {
		fmt.Fprintf(&sb, " Red flags: %s.", strings.Join(r.RedFlags, "; "))
	}
	if len(prior) > 0 {
		fmt.Fprintf(&sb, " Position unchanged after round %d.", len(prior))
	}
	return sb.String(), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// failureResult is the maximal-risk stand-in for a branch that failed.
func failureResult(name string, reason string) *models.AnalysisResult {
	reason = security.MaskSecrets(reason)
	return &models.AnalysisResult{
		AgentName:       name,
		ConfidenceScore: 0,
		RiskScore:       100,
		Recommendation:  models.RecommendReview,
		RedFlags:        []string{reason},
		Reasoning:       "Agent failed with error: " + reason,
		Error:           reason,
		Timestamp:       time.Now(),
	}
}
