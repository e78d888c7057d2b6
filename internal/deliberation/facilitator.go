// Package deliberation runs bounded discussion rounds among named
// participants and reduces branch votes into a consensus.
package deliberation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"loanai/internal/logging"
	"loanai/internal/models"
)

// DefaultMaxRounds bounds a run when the caller passes a non-positive limit.
const DefaultMaxRounds = 2

// MessageTypeDiscussion is the type stamped on every round contribution.
const MessageTypeDiscussion = "discussion_contribution"

// Participant contributes one message per round.
type Participant interface {
	Name() string
	Contribute(ctx context.Context, topic string, dc Context, prior []Round) (string, error)
}

// Context is the read-only state shared with every participant.
type Context struct {
	CustomerID string
	Analyses   map[models.Branch]*models.AnalysisResult
}

// Ordered returns the analyses in bank, salary, verification order,
// skipping missing branches.
func (c Context) Ordered() []*models.AnalysisResult {
	out := make([]*models.AnalysisResult, 0, len(models.Branches))
	for _, b := range models.Branches {
		if r := c.Analyses[b]; r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Round holds the messages of one discussion round in participant order.
type Round struct {
	Number        int                          `json:"round"`
	CorrelationID string                       `json:"correlation_id"`
	Messages      []models.DeliberationMessage `json:"messages"`
}

// Transcript is the append-only record of a deliberation run.
type Transcript struct {
	Topic        string  `json:"topic"`
	Rounds       []Round `json:"rounds"`
	StoppedEarly bool    `json:"stopped_early"`
}

// Messages flattens the transcript in round then participant order.
func (t *Transcript) Messages() []models.DeliberationMessage {
	if t == nil {
		return nil
	}
	var out []models.DeliberationMessage
	for _, r := range t.Rounds {
		out = append(out, r.Messages...)
	}
	return out
}

// ConvergencePredicate decides after a round whether to stop early.
type ConvergencePredicate func(round Round, dc Context) bool

// NeverConverge always runs every round.
func NeverConverge(Round, Context) bool { return false }

// UnanimousRecommendations stops once every branch recommends the same thing.
func UnanimousRecommendations(_ Round, dc Context) bool {
	results := dc.Ordered()
	if len(results) == 0 {
		return false
	}
	first := results[0].Recommendation
	for _, r := range results[1:] {
		if r.Recommendation != first {
			return false
		}
	}
	return true
}

// PredicateByName resolves a configured early-exit strategy.
func PredicateByName(name string) (ConvergencePredicate, bool) {
	switch name {
	case "", "never":
		return NeverConverge, true
	case "unanimous":
		return UnanimousRecommendations, true
	}
	return nil, false
}

// Fallback returns the canned contribution used when a participant fails.
type Fallback func(participant string) string

// DefaultFallback returns a fixed text per branch participant.
func DefaultFallback(participant string) string {
	switch models.Branch(participant) {
	case models.BranchBank:
		return "Based on financial analysis, the applicant shows stable income patterns with positive savings."
	case models.BranchSalary:
		return "Employment is verified and stable with 5+ years tenure at current employer."
	case models.BranchVerification:
		return "External verification confirms all stated information is accurate."
	}
	return fmt.Sprintf("Analysis from %s is complete.", participant)
}

// Option configures a Facilitator.
type Option func(*Facilitator)

// WithPredicate sets the early-exit predicate.
func WithPredicate(p ConvergencePredicate) Option {
	return func(f *Facilitator) {
		if p != nil {
			f.predicate = p
		}
	}
}

// WithFallback replaces the participant failure text.
func WithFallback(fb Fallback) Option {
	return func(f *Facilitator) {
		if fb != nil {
			f.fallback = fb
		}
	}
}

// Facilitator drives deliberation runs. A single Facilitator may serve
// concurrent runs; each run owns its transcript.
type Facilitator struct {
	participants map[string]Participant
	predicate    ConvergencePredicate
	fallback     Fallback
}

// NewFacilitator registers participants by name.
func NewFacilitator(participants []Participant, opts ...Option) *Facilitator {
	f := &Facilitator{
		participants: make(map[string]Participant, len(participants)),
		predicate:    NeverConverge,
		fallback:     DefaultFallback,
	}
	for _, p := range participants {
		f.participants[p.Name()] = p
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Has reports whether a participant is registered under name.
func (f *Facilitator) Has(name string) bool {
	_, ok := f.participants[name]
	return ok
}

type contribution struct {
	text     string
	fallback bool
	at       time.Time
}

// Run executes up to maxRounds rounds among the named participants. Unknown
// names are skipped. Only cancellation of ctx aborts the run; the transcript
// collected so far is returned alongside the error.
func (f *Facilitator) Run(ctx context.Context, names []string, topic string, dc Context, maxRounds int) (*Transcript, error) {
	logger := logging.WithOperation(logging.FromContext(ctx), "deliberation")
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	active := make([]Participant, 0, len(names))
	for _, name := range names {
		p, ok := f.participants[name]
		if !ok {
			logger.Warn().Str("participant", name).Msg("Unknown participant skipped")
			continue
		}
		active = append(active, p)
	}

	runID := logging.CorrelationIDFrom(ctx)
	if runID == "" {
		runID = uuid.NewString()
	}

	transcript := &Transcript{Topic: topic}

	for n := 1; n <= maxRounds; n++ {
		if err := ctx.Err(); err != nil {
			return transcript, err
		}

		round := Round{
			Number:        n,
			CorrelationID: fmt.Sprintf("%s-r%d", runID, n),
		}

		prior := make([]Round, len(transcript.Rounds))
		copy(prior, transcript.Rounds)

		// Participant errors become fallback text, so the group only joins.
		contributions := make([]contribution, len(active))
		var g errgroup.Group
		for i, p := range active {
			i, p := i, p
			g.Go(func() error {
				contributions[i] = f.contribute(ctx, p, topic, dc, prior)
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return transcript, err
		}

		for i, p := range active {
			c := contributions[i]
			round.Messages = append(round.Messages, models.DeliberationMessage{
				From:          p.Name(),
				To:            "all",
				Type:          MessageTypeDiscussion,
				Payload:       models.MessagePayload{Response: c.text, Fallback: c.fallback},
				Timestamp:     c.at,
				CorrelationID: round.CorrelationID,
			})
		}
		transcript.Rounds = append(transcript.Rounds, round)

		logger.Debug().
			Int("round", n).
			Int("contributions", len(round.Messages)).
			Str("round_id", round.CorrelationID).
			Msg("Deliberation round completed")

		if n < maxRounds && f.predicate(round, dc) {
			transcript.StoppedEarly = true
			logger.Debug().Int("round", n).Msg("Deliberation converged early")
			break
		}
	}

	return transcript, nil
}

// contribute solicits one message, degrading to the fallback text on error
// or panic.
func (f *Facilitator) contribute(ctx context.Context, p Participant, topic string, dc Context, prior []Round) (c contribution) {
	logger := logging.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("participant", p.Name()).Interface("panic", r).Msg("Participant panicked")
			c = contribution{text: f.fallback(p.Name()), fallback: true, at: time.Now()}
		}
	}()

	text, err := p.Contribute(ctx, topic, dc, prior)
	if err != nil || text == "" {
		if err != nil {
			logger.Warn().Err(err).Str("participant", p.Name()).Msg("Participant failed, using fallback")
		}
		return contribution{text: f.fallback(p.Name()), fallback: true, at: time.Now()}
	}
	return contribution{text: text, at: time.Now()}
}
