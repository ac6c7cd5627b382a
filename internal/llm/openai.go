package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Messages    []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIClient calls the chat completions API.
type OpenAIClient struct {
	transport
}

// NewOpenAI returns a client for the OpenAI chat completions API.
func NewOpenAI(s Settings) (*OpenAIClient, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("openai API key required")
	}
	return &OpenAIClient{transport: newTransport(s, defaultOpenAIModel, defaultOpenAIBaseURL)}, nil
}

// Complete sends prompt as a single user message.
func (o *OpenAIClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := openAIRequest{
		Model:       o.model,
		MaxTokens:   maxTokens,
		Temperature: defaultTemperature,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
	}
	return o.do(ctx, func(ctx context.Context) (string, error) {
		return o.doRequest(ctx, req)
	})
}

func (o *OpenAIClient) doRequest(ctx context.Context, req openAIRequest) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIError
		_ = json.Unmarshal(body, &errResp)
		return "", statusError(resp.StatusCode, body, errResp.Error.Message)
	}

	var out openAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response from API")
	}
	return out.Choices[0].Message.Content, nil
}

var _ Completer = (*OpenAIClient)(nil)
