package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"loanai/internal/deliberation"
	apperrors "loanai/internal/errors"
	"loanai/internal/models"
	"loanai/internal/security"
)

// LLMClient is the chat-completion surface used by providers and participants.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OpenAIClient implements LLMClient using OpenAI API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	jsonMode    bool
}

// NewOpenAIClient creates a new OpenAI LLM client.
func NewOpenAIClient(apiKey string, model string, temperature float64) *OpenAIClient {
	return &OpenAIClient{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: float32(temperature),
	}
}

// JSON returns a copy of the client that requests JSON object responses.
func (c *OpenAIClient) JSON() *OpenAIClient {
	cp := *c
	cp.jsonMode = true
	return &cp
}

// Complete sends a prompt to the LLM and returns the response.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.create(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	})
}

// CompleteWithSystem sends a prompt with system message to the LLM.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.create(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userPrompt},
	})
}

func (c *OpenAIClient) create(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	}
	if c.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

var branchFocus = map[models.Branch]string{
	models.BranchBank:         "the applicant's financial health: income regularity, savings, overdrafts and unusual transactions",
	models.BranchSalary:       "employment stability, salary level and its capacity to service the requested loan",
	models.BranchVerification: "identity and consistency of the stated personal, employment and education details",
}

const analysisSchema = `Respond with a JSON object only:
{"confidence_score": <0..1>, "risk_score": <integer 0..100>, "recommendation": "approve"|"review"|"reject", "red_flags": [<string>], "reasoning": "<text>"}`

// LLMProvider asks a chat model for one branch analysis.
type LLMProvider struct {
	branch models.Branch
	client LLMClient
}

// NewLLMProvider creates a model-backed provider for branch.
func NewLLMProvider(branch models.Branch, client LLMClient) *LLMProvider {
	return &LLMProvider{branch: branch, client: client}
}

// Name returns the provider name.
func (p *LLMProvider) Name() string { return string(p.branch) + "_agent" }

// Branch returns the provider branch.
func (p *LLMProvider) Branch() models.Branch { return p.branch }

// Analyze renders the application into a prompt and parses the model's JSON.
func (p *LLMProvider) Analyze(ctx context.Context, app *models.Application) (*models.AnalysisResult, error) {
	payload, err := json.MarshalIndent(security.RedactApplication(app), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding application: %w", err)
	}

	system := fmt.Sprintf("You are a loan underwriting analyst. Assess %s.\n%s", branchFocus[p.branch], analysisSchema)
	user := fmt.Sprintf("Loan application:\n%s", payload)

	text, err := p.client.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return nil, apperrors.NewAgentError(p.Name(), "analyze", fmt.Errorf("%w: %v", apperrors.ErrProviderFailed, err))
	}

	result, err := parseAnalysis(text)
	if err != nil {
		return nil, apperrors.NewAgentError(p.Name(), "parse", err)
	}
	result.AgentName = p.Name()
	result.Timestamp = time.Now()
	return result, nil
}

// parseAnalysis extracts the first JSON object in text.
func parseAnalysis(text string) (*models.AnalysisResult, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in model response", apperrors.ErrInvalidResult)
	}

	var r models.AnalysisResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidResult, err)
	}
	r.Recommendation = models.Recommendation(strings.ToLower(string(r.Recommendation)))
	if r.RedFlags == nil {
		r.RedFlags = []string{}
	}
	return &r, nil
}

// LLMParticipant contributes to deliberation through a chat model.
type LLMParticipant struct {
	name   string
	client LLMClient
}

// NewLLMParticipant creates a model-backed participant for a branch.
func NewLLMParticipant(branch models.Branch, client LLMClient) *LLMParticipant {
	return &LLMParticipant{name: string(branch), client: client}
}

// Name returns the participant name.
func (p *LLMParticipant) Name() string { return p.name }

// Contribute asks the model for a short position statement.
func (p *LLMParticipant) Contribute(ctx context.Context, topic string, dc deliberation.Context, prior []deliberation.Round) (string, error) {
	system := fmt.Sprintf("You are the %s analyst on a loan committee. Topic: %s. "+
		"State your position in at most three sentences.", p.name, topic)

	text, err := p.client.CompleteWithSystem(ctx, system, participantPrompt(p.name, dc, prior))
	if err != nil {
		return "", apperrors.NewAgentError(p.name, "contribute", err)
	}
	return strings.TrimSpace(text), nil
}

func participantPrompt(name string, dc deliberation.Context, prior []deliberation.Round) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Application %s.\n\nBranch analyses:\n", dc.CustomerID)
	for _, b := range models.Branches {
		r := dc.Analyses[b]
		if r == nil {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s, risk %d, confidence %.2f. %s\n",
			b, r.Recommendation, r.RiskScore, r.ConfidenceScore, r.Reasoning)
	}
	if len(prior) > 0 {
		sb.WriteString("\nPrevious discussion:\n")
		for _, round := range prior {
			for _, m := range round.Messages {
				fmt.Fprintf(&sb, "[round %d] %s: %s\n", round.Number, m.From, m.Payload.Response)
			}
		}
	}
	fmt.Fprintf(&sb, "\nAs the %s analyst, respond to the committee.", name)
	return sb.String()
}
