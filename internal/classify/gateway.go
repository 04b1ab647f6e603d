// internal/classify/gateway.go
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/kidwatch/internal/types"
	"github.com/user/kidwatch/pkg/llm"
)

// Content flag cut points on the remote classifier's 0-100 risk score.
const (
	profanityThreshold   = 40
	harmfulThreshold     = 60
	threateningThreshold = 80
)

// fixedConfidence is reported for every result; the remote classifier does
// not return a confidence of its own.
const fixedConfidence = 0.9

const promptTemplate = `Analyze the following speech and return ONLY a JSON object with this exact structure:
{
  "mood": "happy|sad|angry|neutral|scared",
  "threatLevel": {
    "score": 0-100,
    "reason": "brief explanation"
  }
}

The mood should be exactly one word from the given options.
The threat level score should be 0-100 where:
0-20: Safe
21-40: Mild concern
41-60: Moderate concern
61-80: High concern
81-100: Severe threat

Speech text: %q`

// fenceRe strips an optional markdown code fence around the JSON payload.
var fenceRe = regexp.MustCompile("```(?:json)?\n?|\n?```")

// Gateway wraps the remote sentiment/threat classifier. It is stateless and
// safe to invoke concurrently for different transcripts.
type Gateway struct {
	provider  llm.Provider
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	timeout   time.Duration
}

// Option configures optional Gateway behavior.
type Option func(*Gateway)

// WithTimeout sets the deadline applied to each remote call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithMaxTranscriptTokens bounds how much transcript text is sent to the
// remote classifier. Longer transcripts are truncated at a token boundary.
func WithMaxTranscriptTokens(n int) Option {
	return func(g *Gateway) { g.maxTokens = n }
}

// New creates a Gateway over the given provider.
func New(provider llm.Provider, opts ...Option) (*Gateway, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("get tokenizer: %w", err)
	}
	g := &Gateway{
		provider:  provider,
		tokenizer: enc,
		maxTokens: 512,
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// classifierVerdict is the strict wire schema the remote classifier must
// return. Pointer fields let missing keys be distinguished from zero values.
type classifierVerdict struct {
	Mood        *string      `json:"mood"`
	ThreatLevel *threatLevel `json:"threatLevel"`
}

type threatLevel struct {
	Score  *int    `json:"score"`
	Reason *string `json:"reason"`
}

// Classify sends one transcript to the remote classifier and maps the verdict
// into a ClassificationResult. Classification is at-most-once: no failure is
// retried here, and a failure produces no side effects.
func (g *Gateway) Classify(ctx context.Context, t *types.Transcript) (*types.ClassificationResult, error) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	text = g.truncate(text)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := fmt.Sprintf(promptTemplate, text)
	resp, err := g.provider.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return parseVerdict(resp.Content)
}

// truncate cuts the transcript at the configured token budget.
func (g *Gateway) truncate(text string) string {
	if g.maxTokens <= 0 {
		return text
	}
	tokens := g.tokenizer.Encode(text, nil, nil)
	if len(tokens) <= g.maxTokens {
		return text
	}
	return g.tokenizer.Decode(tokens[:g.maxTokens])
}

// parseVerdict strictly decodes the remote payload, tolerating a fenced code
// block wrapper, and derives intensity and content flags from the risk score.
func parseVerdict(raw string) (*types.ClassificationResult, error) {
	cleaned := strings.TrimSpace(fenceRe.ReplaceAllString(raw, ""))

	var verdict classifierVerdict
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if verdict.Mood == nil || verdict.ThreatLevel == nil ||
		verdict.ThreatLevel.Score == nil || verdict.ThreatLevel.Reason == nil {
		return nil, fmt.Errorf("%w: missing required field", ErrMalformedResponse)
	}

	mood := types.Emotion(strings.ToLower(strings.TrimSpace(*verdict.Mood)))
	if !mood.Valid() {
		return nil, fmt.Errorf("%w: unknown mood %q", ErrMalformedResponse, *verdict.Mood)
	}

	score := *verdict.ThreatLevel.Score
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("%w: score %d out of range", ErrMalformedResponse, score)
	}

	return &types.ClassificationResult{
		Emotion:    mood,
		Intensity:  float64(score) / 100,
		Confidence: fixedConfidence,
		Flags: types.ContentFlags{
			Profanity:   score > profanityThreshold,
			Harmful:     score > harmfulThreshold,
			Threatening: score > threateningThreshold,
		},
		Summary: *verdict.ThreatLevel.Reason,
	}, nil
}
