package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultGeminiModel = "models/gemini-2.5-flash"
	geminiURLTemplate  = "https://generativelanguage.googleapis.com/v1beta/%s:generateContent"
)

// GeminiClient calls the Gemini generateContent endpoint. System and user
// prompts are sent as one user turn.
type GeminiClient struct {
	apiKey      string
	url         string
	temperature float64
	maxTokens   int
	http        *http.Client
}

func NewGeminiClient(cfg Config) *GeminiClient {
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	url := cfg.BaseURL
	if url == "" {
		url = fmt.Sprintf(geminiURLTemplate, model)
	}
	return &GeminiClient{
		apiKey:      cfg.APIKey,
		url:         url,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		http:        &http.Client{Timeout: timeoutOr(cfg)},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (c *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	text := req.Prompt
	if req.System != "" {
		text = req.System + "\n\n" + req.Prompt
	}

	var body geminiRequest
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: text}}}}
	body.GenerationConfig.Temperature = c.temperature
	body.GenerationConfig.MaxOutputTokens = c.maxTokens

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini request failed: %d %s", resp.StatusCode, snippet(resp.Body))
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	var sb strings.Builder
	if len(gr.Candidates) > 0 {
		for _, p := range gr.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	return &Response{Text: sb.String()}, nil
}
