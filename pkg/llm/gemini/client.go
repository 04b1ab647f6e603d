package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/user/kidwatch/pkg/llm"
)

// DefaultBaseURL is the public Gemini API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client implements the llm.Provider interface for the Gemini
// generateContent API. The API key is passed as a query parameter rather
// than an Authorization header.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// New creates a new Gemini client with the given configuration.
func New(config *llm.Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// generateRequest is the generateContent request body.
type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
}

// generateResponse is the generateContent response body.
type generateResponse struct {
	Candidates []candidate `json:"candidates"`
	Usage      usageMeta   `json:"usageMetadata"`
}

type candidate struct {
	Content content `json:"content"`
}

type usageMeta struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Complete sends a generateContent request and returns the full response.
// Messages are concatenated into a single user turn; the generateContent
// endpoint has no role distinction this client needs.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	parts := make([]part, 0, len(messages))
	for _, msg := range messages {
		parts = append(parts, part{Text: msg.Content})
	}

	reqBody := generateRequest{
		Contents: []content{{Parts: parts}},
	}

	if c.config.MaxTokens > 0 || c.config.Temperature != 0 {
		gc := &generationConfig{MaxOutputTokens: c.config.MaxTokens}
		if c.config.Temperature != 0 {
			temp := c.config.Temperature
			gc.Temperature = &temp
		}
		reqBody.GenerationConfig = gc
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	base := c.config.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		base, c.config.Model, url.QueryEscape(c.config.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	return &llm.Response{
		Content: genResp.Candidates[0].Content.Parts[0].Text,
		Usage: llm.Usage{
			InputTokens:  genResp.Usage.PromptTokenCount,
			OutputTokens: genResp.Usage.CandidatesTokenCount,
			TotalTokens:  genResp.Usage.TotalTokenCount,
		},
	}, nil
}
