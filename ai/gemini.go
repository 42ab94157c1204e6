package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"marketplace-responder/backend/pkg/logger"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiProvider generates text with Google's Gemini API
type GeminiProvider struct {
	client *genai.Client
	model  string
	log    *logger.Logger
}

// NewGeminiProvider creates a Gemini client for model
func NewGeminiProvider(ctx context.Context, apiKey, model string, log *logger.Logger) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if log == nil {
		log = logger.Nop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	log.Info("Gemini provider initialized", "model", model)
	return &GeminiProvider{client: client, model: model, log: log}, nil
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

// Close closes the Gemini client
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// Generate sends req as a single prompt or as a chat session
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*GeneratedText, error) {
	name := req.Options.Model
	if name == "" {
		name = p.model
	}
	model := p.client.GenerativeModel(name)
	model.SetTemperature(req.Options.Temperature)
	if req.Options.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.Options.MaxTokens)
	}
	if req.Options.JSON {
		model.ResponseMIMEType = "application/json"
	}
	if req.SystemInstruction != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.SystemInstruction))
	}

	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	switch prompt := req.Prompt.(type) {
	case TextPrompt:
		resp, err = model.GenerateContent(ctx, genai.Text(string(prompt)))
	case ConversationPrompt:
		history, last, ok := prompt.split()
		if !ok {
			return nil, fmt.Errorf("%w: conversation must end with a user turn", ErrUnsupportedPrompt)
		}
		session := model.StartChat()
		for _, t := range history {
			session.History = append(session.History, &genai.Content{
				Role:  geminiRole(t.Role),
				Parts: []genai.Part{genai.Text(t.Text)},
			})
		}
		resp, err = session.SendMessage(ctx, genai.Text(last))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPrompt, req.Prompt)
	}
	if err != nil {
		return nil, err
	}
	return geminiResult(resp)
}

func geminiRole(r Role) string {
	if r == RoleModel {
		return "model"
	}
	return "user"
}

func geminiResult(resp *genai.GenerateContentResponse) (*GeneratedText, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}
	candidate := resp.Candidates[0]

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	out := &GeneratedText{
		Text:         strings.TrimSpace(text.String()),
		FinishReason: candidate.FinishReason.String(),
	}
	for _, r := range candidate.SafetyRatings {
		out.SafetyRatings = append(out.SafetyRatings, SafetyRating{
			Category:    r.Category.String(),
			Probability: r.Probability.String(),
			Blocked:     r.Blocked,
		})
	}
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, &SafetyBlockError{Reason: "candidate finished with SAFETY"}
	}
	if resp.UsageMetadata != nil {
		out.Usage = TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if out.Text == "" {
		return nil, ErrEmptyResponse
	}
	return out, nil
}
