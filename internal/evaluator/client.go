package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// DefaultSummary is returned whenever the model cannot be reached or its
// response does not satisfy the schema. It is never surfaced as a
// protocol error.
var DefaultSummary = types.Summary{
	Progress: types.ProgressNotStarted,
	Feedback: "Please start",
}

const systemPrompt = `You are grading a student's in-progress code against a slide prompt. Respond with ONLY valid JSON (no markdown, no code fences) in this exact format:

{"progress": "<label>", "feedback": "<20-30 word encouraging comment>"}

Rules:
- "progress" must be exactly one of: notStarted, justStarted, halfwayDone, almostDone, allDone
- "feedback" must be a single 20-30 word sentence addressed to the student
- Judge progress toward the prompt, not code style
- Return ONLY the JSON object, nothing else`

// Client wraps the external language model behind a fixed-schema
// Evaluate call with a global QPS guard and one rate-limit retry.
type Client struct {
	httpClient *http.Client
	apiKey     string
	apiURL     string
	model      string
	limiter    *rate.Limiter
	retryAfter time.Duration
	logger     *zap.Logger
}

// NewClient builds an evaluator client. qps caps outbound calls across
// all sessions; an empty apiKey yields a client that is not available.
func NewClient(apiKey, apiURL, model string, qps float64, logger *zap.Logger) *Client {
	if qps <= 0 {
		qps = 2
	}
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		apiURL:     strings.TrimRight(apiURL, "/"),
		model:      model,
		limiter:    rate.NewLimiter(rate.Limit(qps), 1),
		retryAfter: 30 * time.Second,
		logger:     logger,
	}
}

// IsAvailable reports whether an API key is configured.
func (c *Client) IsAvailable() bool {
	return c.apiKey != ""
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Evaluate classifies the student's draft against the slide prompt. The
// returned summary always satisfies the schema: on any failure after the
// rate-limit retry it degrades to DefaultSummary.
func (c *Client) Evaluate(ctx context.Context, prompt, code string) types.Summary {
	if !c.IsAvailable() {
		return DefaultSummary
	}

	summary, retryable, err := c.evaluateOnce(ctx, prompt, code)
	if err == nil {
		return summary
	}
	if !retryable {
		c.logger.Warn("evaluation failed", zap.Error(err))
		return DefaultSummary
	}

	c.logger.Info("evaluator rate limited, backing off", zap.Duration("wait", c.retryAfter))
	select {
	case <-time.After(c.retryAfter):
	case <-ctx.Done():
		return DefaultSummary
	}

	summary, _, err = c.evaluateOnce(ctx, prompt, code)
	if err != nil {
		c.logger.Warn("evaluation retry failed", zap.Error(err))
		return DefaultSummary
	}
	return summary
}

func (c *Client) evaluateOnce(ctx context.Context, prompt, code string) (types.Summary, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return DefaultSummary, false, err
	}

	user := fmt.Sprintf("Slide prompt:\n%s\n\nStudent code:\n%s", prompt, code)
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return DefaultSummary, false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return DefaultSummary, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DefaultSummary, false, fmt.Errorf("evaluator request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return DefaultSummary, false, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return DefaultSummary, true, fmt.Errorf("evaluator rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return DefaultSummary, false, fmt.Errorf("evaluator status %d: %s", resp.StatusCode, raw)
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return DefaultSummary, false, fmt.Errorf("parse response: %w", err)
	}
	if chat.Error != nil {
		return DefaultSummary, false, fmt.Errorf("evaluator error: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return DefaultSummary, false, fmt.Errorf("empty evaluator response")
	}

	summary, err := parseSummary(chat.Choices[0].Message.Content)
	if err != nil {
		return DefaultSummary, false, err
	}
	return summary, false, nil
}

// parseSummary enforces the fixed schema; anything off-schema degrades
// to the default rather than erroring up the stack.
func parseSummary(content string) (types.Summary, error) {
	content = stripFences(content)

	var summary types.Summary
	if err := json.Unmarshal([]byte(content), &summary); err != nil {
		return DefaultSummary, fmt.Errorf("evaluator returned invalid JSON: %w", err)
	}
	if !types.IsValidProgress(summary.Progress) {
		return DefaultSummary, fmt.Errorf("evaluator returned unknown progress %q", summary.Progress)
	}
	if strings.TrimSpace(summary.Feedback) == "" {
		return DefaultSummary, fmt.Errorf("evaluator returned empty feedback")
	}
	return summary, nil
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
