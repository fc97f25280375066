package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"selfie-booth/internal/logging"
)

const defaultModel = "gemini-2.5-flash"

const suggestInstruction = `You are an AI assistant designed to suggest creative prompts related to Formula E racing.

Provide a list of diverse and engaging prompts that users can use to generate images using their selfie and the prompt.

The prompts should be imaginative and capture the essence of Formula E, including its futuristic technology, iconic race locations, and the excitement of electric racing.

Return the prompts as a JSON array of strings.`

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client produces prompt suggestions with a Gemini text model.
type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		model:      model,
		httpClient: opts.HTTPClient,
		logger:     logging.OrNop(opts.Logger).With().Str("component", "gemini").Logger(),
	}
}

func (c *Client) SuggestPrompts(ctx context.Context) ([]string, error) {
	req := generateContentRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: "Suggest between 6 and 10 prompts."}}},
		},
		SystemInstruction: &content{Role: "user", Parts: []part{{Text: suggestInstruction}}},
		GenerationConfig: generationConfig{
			Temperature:      0.9,
			ResponseMimeType: "application/json",
			ResponseSchema: &schema{
				Type:  "ARRAY",
				Items: &schema{Type: "STRING"},
			},
		},
	}

	text, err := c.generateContent(ctx, req)
	if err != nil && isUnknownFieldError(err, "responseSchema") {
		req.GenerationConfig.ResponseSchema = nil
		text, err = c.generateContent(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	prompts, err := parsePromptList(text)
	if err != nil {
		c.logger.Warn().Err(err).Str("text", text).Msg("unparseable suggestions")
		return nil, err
	}
	return prompts, nil
}

func (c *Client) generateContent(ctx context.Context, payload generateContentRequest) (string, error) {
	if c.httpClient == nil {
		return "", errors.New("http client is nil")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return "", fmt.Errorf("gemini API %s: %s", httpResp.Status, strings.TrimSpace(string(rawBody)))
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	text := extractText(decoded)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini returned no text")
	}
	return text, nil
}

func extractText(resp generateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// parsePromptList accepts a bare JSON array, an object with a "prompts" field,
// or either of those wrapped in a markdown code fence.
func parsePromptList(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var list []string
	if err := json.Unmarshal([]byte(text), &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Prompts []string `json:"prompts"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
		return nil, fmt.Errorf("decode prompt list: %w", err)
	}
	if wrapped.Prompts == nil {
		return nil, errors.New("decode prompt list: no prompts field")
	}
	return wrapped.Prompts, nil
}

func isUnknownFieldError(err error, field string) bool {
	message := err.Error()
	return strings.Contains(message, "Unknown name") && strings.Contains(message, field)
}
