package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketplace-responder/backend/pkg/logger"
)

const maxErrorBody = 1 << 10

// HTTPProvider is a client for a self-hosted JSON inference service.
// It POSTs generation requests to {baseURL}/v1/generate.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	log     *logger.Logger
}

// NewHTTPProvider creates a client for the service at baseURL
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) (*HTTPProvider, error) {
	if baseURL == "" {
		return nil, errors.New("inference service base URL is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		log:     log,
	}, nil
}

type httpGenerateRequest struct {
	Prompt            string  `json:"prompt,omitempty"`
	Turns             []Turn  `json:"turns,omitempty"`
	SessionID         string  `json:"session_id,omitempty"`
	SystemInstruction string  `json:"system_instruction,omitempty"`
	Options           Options `json:"options"`
}

type httpGenerateResponse struct {
	Text          string         `json:"text"`
	FinishReason  string         `json:"finish_reason"`
	Usage         TokenUsage     `json:"usage"`
	SafetyRatings []SafetyRating `json:"safety_ratings"`
	Blocked       bool           `json:"blocked"`
	Error         string         `json:"error,omitempty"`
}

func (p *HTTPProvider) Name() string { return ProviderHTTP }

// Close releases idle connections
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// Generate posts req to the inference service
func (p *HTTPProvider) Generate(ctx context.Context, req Request) (*GeneratedText, error) {
	body := httpGenerateRequest{
		SessionID:         req.SessionID,
		SystemInstruction: req.SystemInstruction,
		Options:           req.Options,
	}
	switch prompt := req.Prompt.(type) {
	case TextPrompt:
		body.Prompt = string(prompt)
	case ConversationPrompt:
		if _, _, ok := prompt.split(); !ok {
			return nil, fmt.Errorf("%w: conversation must end with a user turn", ErrUnsupportedPrompt)
		}
		body.Turns = prompt
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPrompt, req.Prompt)
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling generate request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/generate", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: string(snippet)}
	}

	var out httpGenerateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Blocked {
		return nil, &SafetyBlockError{Reason: out.FinishReason}
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, out.Error)
	}
	if out.Text == "" {
		return nil, ErrEmptyResponse
	}
	p.log.Debug("Inference service responded", "session_id", req.SessionID, "tokens", out.Usage.TotalTokens)

	return &GeneratedText{
		Text:          out.Text,
		FinishReason:  out.FinishReason,
		Usage:         out.Usage,
		SafetyRatings: out.SafetyRatings,
	}, nil
}
