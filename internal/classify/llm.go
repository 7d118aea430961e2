package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"happin/internal/domain"
	"happin/internal/metrics"
)

const (
	defaultTemperature = 0.3

	priorityPrompt = `Analyze this business message and determine its priority, category, sentiment and intent.

Message:
%s

Channel: %s

Respond with a JSON object containing:
- priority: number 1-5 (1=urgent/critical, 2=high, 3=medium, 4=low, 5=very low/spam)
- reason: brief explanation for the priority
- category: one of "urgent", "question", "task", "info", "spam", "complaint", "request"
- tags: array of relevant tags (e.g. ["urgent", "deadline", "customer"])
- sentiment: "positive", "neutral" or "negative"
- intent: "question", "request", "complaint", "info", "spam" or "other"
- actionRequired: boolean, true if someone needs to act on it

Consider urgency indicators (deadlines, ASAP, emergency), whether it needs a reply,
whether it is a task or request, the sender's sentiment, the channel (SMS and WhatsApp
are usually more urgent than email) and spam indicators.

Return ONLY valid JSON, no markdown formatting.`

	summaryPrompt = `Summarize this business message concisely and extract the key information.

Message:
%s

Respond with a JSON object containing:
- summary: a brief 1-2 sentence summary of the main point
- keyPoints: array of 2-4 key points or important details
- actionItems: array of action items or tasks mentioned (empty array if none)

Return ONLY valid JSON, no markdown formatting.`

	prioritySystem = "You analyze business messages for priority and categorization. Always respond with valid JSON only."
	summarySystem  = "You summarize business messages. Always respond with valid JSON only."
)

// errEmptyResponse is returned when the backend answers with no content.
var errEmptyResponse = errors.New("empty response")

// LLM asks a chat completion backend for the classification.
type LLM struct {
	provider    domain.Provider
	model       string
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

type LLMConfig struct {
	Provider    domain.Provider
	Model       string // optional override of the provider default
	Temperature float64
	Timeout     time.Duration // per call, 0 means no extra deadline
	Logger      *slog.Logger
}

func NewLLM(cfg LLMConfig) *LLM {
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LLM{
		provider:    cfg.Provider,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
}

func (l *LLM) Name() string { return StrategyLLM }

// Provider returns the backing provider name.
func (l *LLM) Provider() string { return l.provider.Name() }

func (l *LLM) Priority(ctx context.Context, msg *domain.Message) (domain.PriorityResult, error) {
	content, err := l.complete(ctx, prioritySystem, fmt.Sprintf(priorityPrompt, messageText(msg), msg.Channel))
	if err != nil {
		return domain.PriorityResult{}, err
	}
	return parsePriority(content)
}

func (l *LLM) Summary(ctx context.Context, msg *domain.Message) (domain.SummaryResult, error) {
	content, err := l.complete(ctx, summarySystem, fmt.Sprintf(summaryPrompt, messageText(msg)))
	if err != nil {
		return domain.SummaryResult{}, err
	}
	return parseSummary(content, msg.Body)
}

func (l *LLM) complete(ctx context.Context, system, prompt string) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := l.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Model:       l.model,
		Temperature: l.temperature,
		JSONMode:    true,
	})
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", errEmptyResponse
	}
	l.logger.Debug("llm classification response",
		"provider", l.provider.Name(),
		"tokens", resp.Usage.TotalTokens,
		"latency_ms", resp.LatencyMs,
	)
	return content, nil
}

func messageText(msg *domain.Message) string {
	if msg.Subject != "" {
		return "Subject: " + msg.Subject + "\n\n" + msg.Body
	}
	return msg.Body
}

type llmPriority struct {
	Priority       json.Number     `json:"priority"`
	Reason         string          `json:"reason"`
	Category       string          `json:"category"`
	Tags           json.RawMessage `json:"tags"`
	Sentiment      string          `json:"sentiment"`
	Intent         string          `json:"intent"`
	ActionRequired *bool           `json:"actionRequired"`
}

type llmSummary struct {
	Summary     string          `json:"summary"`
	KeyPoints   json.RawMessage `json:"keyPoints"`
	ActionItems json.RawMessage `json:"actionItems"`
}

// clampScore maps a model score into [MinPriority, MaxPriority] before
// rounding. Only an exact zero or NaN is treated as missing.
func clampScore(f float64) int {
	if f == 0 || math.IsNaN(f) {
		return 0
	}
	f = math.Max(domain.MinPriority, math.Min(domain.MaxPriority, f))
	return int(math.Round(f))
}

func parsePriority(content string) (domain.PriorityResult, error) {
	var raw llmPriority
	if err := decodeJSON(content, &raw); err != nil {
		return domain.PriorityResult{}, err
	}

	priority := 0
	if raw.Priority != "" {
		f, err := raw.Priority.Float64()
		if err != nil {
			return domain.PriorityResult{}, fmt.Errorf("priority %q: %w", raw.Priority, err)
		}
		priority = clampScore(f)
	}

	res := domain.PriorityResult{
		Priority:       domain.ClampPriority(priority),
		Reason:         raw.Reason,
		Category:       domain.ParseCategory(strings.ToLower(raw.Category)),
		Tags:           stringList(raw.Tags),
		Sentiment:      domain.ParseSentiment(strings.ToLower(raw.Sentiment)),
		Intent:         raw.Intent,
		ActionRequired: true,
	}
	if res.Reason == "" {
		res.Reason = "AI-analyzed priority"
	}
	if raw.ActionRequired != nil {
		res.ActionRequired = *raw.ActionRequired
	}
	return res, nil
}

func parseSummary(content, body string) (domain.SummaryResult, error) {
	var raw llmSummary
	if err := decodeJSON(content, &raw); err != nil {
		return domain.SummaryResult{}, err
	}
	res := domain.SummaryResult{
		Summary:     strings.TrimSpace(raw.Summary),
		KeyPoints:   stringList(raw.KeyPoints),
		ActionItems: stringList(raw.ActionItems),
	}
	if res.Summary == "" {
		res.Summary = truncateSummary(body)
	}
	return res, nil
}

// decodeJSON parses the first JSON object in content. Models sometimes wrap
// the object in code fences or prose even in JSON mode.
func decodeJSON(content string, v any) error {
	content = stripFences(content)
	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}
	start, end := findObjectBounds(content)
	if start < 0 {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(content[start:end]), v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) >= 3 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return content
}

// findObjectBounds locates the first balanced {...} in s. It returns the
// start index and end+1 index, or (-1, -1).
func findObjectBounds(s string) (int, int) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return -1, -1
	}
	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch ch {
			case '\\':
				i++
			case '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

// stringList accepts a JSON array of strings. Anything else yields an empty
// list, as do non-string elements.
func stringList(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return out
	}
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
