package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"marketplace-responder/backend/pkg/logger"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider talks to any OpenAI-compatible chat completion endpoint
type OpenAIProvider struct {
	client *openai.Client
	model  string
	log    *logger.Logger
}

// NewOpenAIProvider creates a client; an empty baseURL means the public OpenAI API
func NewOpenAIProvider(apiKey, baseURL, model string, log *logger.Logger) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai API key is required")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if log == nil {
		log = logger.Nop()
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	log.Info("OpenAI-compatible provider initialized", "model", model, "base_url", cfg.BaseURL)
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model, log: log}, nil
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// Close is a no-op; the client holds no persistent connections of its own
func (p *OpenAIProvider) Close() error { return nil }

// Generate sends req as a chat completion
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*GeneratedText, error) {
	messages, err := openAIMessages(req)
	if err != nil {
		return nil, err
	}

	model := req.Options.Model
	if model == "" {
		model = p.model
	}
	chat := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Options.Temperature,
		MaxTokens:   int(req.Options.MaxTokens),
	}
	if req.Options.JSON {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return nil, &SafetyBlockError{Reason: "content_filter"}
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return nil, ErrEmptyResponse
	}
	return &GeneratedText{
		Text:         text,
		FinishReason: string(choice.FinishReason),
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func openAIMessages(req Request) ([]openai.ChatCompletionMessage, error) {
	var messages []openai.ChatCompletionMessage
	if req.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemInstruction,
		})
	}

	switch prompt := req.Prompt.(type) {
	case TextPrompt:
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: string(prompt),
		})
	case ConversationPrompt:
		if _, _, ok := prompt.split(); !ok {
			return nil, fmt.Errorf("%w: conversation must end with a user turn", ErrUnsupportedPrompt)
		}
		for _, t := range prompt {
			role := openai.ChatMessageRoleUser
			if t.Role == RoleModel {
				role = openai.ChatMessageRoleAssistant
			}
			messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Text})
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPrompt, req.Prompt)
	}
	return messages, nil
}
