// ABOUTME: This file implements the client for the external intelligence endpoint
// ABOUTME: Covers both strategy decision generation and semantic content scoring
package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"recommendation-engine/config"
	"recommendation-engine/domain"
)

const decisionPromptTemplate = `<start_of_turn>user
You are the strategy controller of an adaptive article recommendation engine. Given the current system telemetry, produce the operating parameters for the next validity window.

TELEMETRY (JSON):
%s

PARAMETERS TO PRODUCE:
- analysisBatchSize: articles scored per pipeline batch
- scoreThreshold: minimum semantic relevance (1-10 scale) for the pool
- targetPoolSize: desired recommended pool size
- cooldownMinutes: minimum minutes between pool refills
- analysisIntervalMinutes: minutes between analysis passes
- validHours: hours this decision stays valid
- nextReviewHours: hours until the next scheduled review
- refillTriggerThreshold: pool fill ratio at or below which a refill triggers
- maxDailyRefills: maximum refills per calendar day
- semanticWorkers: concurrent scoring workers
- dailyCostCeilingUSD: soft spend ceiling for today

GUIDELINES:
- Slow readers need longer cooldowns and smaller pools; fast readers the opposite.
- Stay conservative when tokensUsedToday approaches tokensBudgetDaily.
- Low profile confidence favors smaller batches and lower thresholds.

OUTPUT FORMAT:
Respond with exactly one JSON object containing the eleven fields above and nothing else. No prose, no code fences.
<end_of_turn>
<start_of_turn>model
`

const scorePromptTemplate = `<start_of_turn>user
You are a content relevance scorer for a personalized article recommendation engine.

READER INTERESTS: %s

ARTICLE TITLE: %s

ARTICLE BODY:
---
%s
---

Evaluate how relevant this article is to the reader. Respond with exactly one JSON object and nothing else:
{"relevance": <number 0-10>, "topics": [<up to 5 topic strings>], "confidence": <number 0-1>}
<end_of_turn>
<start_of_turn>model
`

type augurPayload struct {
	Model   string       `json:"model"`
	Prompt  string       `json:"prompt"`
	Options augurOptions `json:"options"`
	Stream  bool         `json:"stream"`
}

type augurOptions struct {
	Stop        []string `json:"stop"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	NumPredict  int      `json:"num_predict"`
	NumCtx      int      `json:"num_ctx"`
}

type augurResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
}

// CallUsage reports token and cost consumption of a single call.
type CallUsage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// TotalTokens returns prompt plus completion tokens.
func (u CallUsage) TotalTokens() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// ContentScore is the parsed result of a semantic scoring call. Relevance
// is on the model's 0-10 scale; Confidence is 0-1.
type ContentScore struct {
	Relevance  float64  `json:"relevance"`
	Topics     []string `json:"topics"`
	Confidence float64  `json:"confidence"`
}

// AugurClient talks to the ollama-style intelligence endpoint for both the
// decision and scoring contracts. Calls are paced by a shared rate limiter
// and bounded by the configured timeout.
type AugurClient struct {
	cfg     config.AugurConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewAugurClient creates a client from configuration.
func NewAugurClient(cfg config.AugurConfig, logger *slog.Logger) *AugurClient {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	return &AugurClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		logger:  logger,
	}
}

// Available reports whether the capability is enabled and configured. The
// pipeline checks this once before stage 2 to decide on degraded mode.
func (c *AugurClient) Available() bool {
	return c.cfg.Enabled && c.cfg.Host != ""
}

// Decide requests a structured parameter set for the given serialized
// system context. The raw JSON object is returned unvalidated; clamping
// belongs to the strategy service.
func (c *AugurClient) Decide(ctx context.Context, contextJSON []byte) (json.RawMessage, CallUsage, error) {
	if !c.Available() {
		return nil, CallUsage{}, domain.ErrDecisionCapabilityUnavailable
	}

	prompt := fmt.Sprintf(decisionPromptTemplate, string(contextJSON))
	resp, usage, err := c.generate(ctx, c.cfg.DecisionPath, prompt, 512)
	if err != nil {
		return nil, usage, err
	}

	raw, err := extractJSONObject(resp.Response)
	if err != nil {
		return nil, usage, fmt.Errorf("%w: %v", domain.ErrDecisionResponseMalformed, err)
	}
	return raw, usage, nil
}

// ScoreContent requests a topic distribution and relevance score for one
// article against the reader's interest terms.
func (c *AugurClient) ScoreContent(ctx context.Context, title, content string, interests []string) (*ContentScore, CallUsage, error) {
	if !c.Available() {
		return nil, CallUsage{}, domain.ErrScoringCapabilityUnavailable
	}

	interestLine := "general news"
	if len(interests) > 0 {
		interestLine = strings.Join(interests, ", ")
	}
	// Large bodies blow the context window without improving the score.
	body := content
	if len(body) > 6000 {
		body = body[:6000]
	}

	prompt := fmt.Sprintf(scorePromptTemplate, interestLine, title, body)
	resp, usage, err := c.generate(ctx, c.cfg.ScorePath, prompt, 256)
	if err != nil {
		return nil, usage, err
	}

	raw, err := extractJSONObject(resp.Response)
	if err != nil {
		return nil, usage, fmt.Errorf("malformed score response: %w", err)
	}

	var score ContentScore
	if err := json.Unmarshal(raw, &score); err != nil {
		return nil, usage, fmt.Errorf("malformed score response: %w", err)
	}
	if score.Relevance < 0 {
		score.Relevance = 0
	}
	if score.Relevance > 10 {
		score.Relevance = 10
	}
	if score.Confidence < 0 {
		score.Confidence = 0
	}
	if score.Confidence > 1 {
		score.Confidence = 1
	}
	return &score, usage, nil
}

func (c *AugurClient) generate(ctx context.Context, path, prompt string, numPredict int) (*augurResponse, CallUsage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, CallUsage{}, fmt.Errorf("rate limiter wait: %w", err)
	}

	payload := augurPayload{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: augurOptions{
			Temperature: 0.0,
			TopP:        0.9,
			NumPredict:  numPredict,
			NumCtx:      8192,
			Stop:        []string{"<end_of_turn>"},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, CallUsage{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, CallUsage{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, CallUsage{}, fmt.Errorf("augur request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, CallUsage{}, fmt.Errorf("failed to read augur response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, CallUsage{}, fmt.Errorf("augur returned status %d: %s", httpResp.StatusCode, truncate(string(body), 200))
	}

	var resp augurResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, CallUsage{}, fmt.Errorf("failed to decode augur response: %w", err)
	}

	usage := CallUsage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}
	usage.CostUSD = float64(usage.TotalTokens()) / 1000.0 * c.cfg.CostPer1KTokens

	return &resp, usage, nil
}

// extractJSONObject pulls the first top-level JSON object out of model
// output, tolerating code fences and surrounding prose.
func extractJSONObject(text string) (json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	return json.RawMessage(candidate), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
