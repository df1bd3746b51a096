package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"sitewatch/internal/logger"
	"sitewatch/internal/models"
)

const (
	analyzerInputBudget  = 4000 // Bytes per input section sent to the LLM
	analyzerSystemPrompt = "You are a website change analyst. You respond with a single JSON object and nothing else."
)

// Analysis is the structured change summary produced by the LLM. A degraded
// analysis carries Error and neutral defaults; it never fails the pipeline.
type Analysis struct {
	Summary    string   `json:"summary"`
	KeyChanges []string `json:"key_changes"`
	Sentiment  string   `json:"sentiment"`
	Importance string   `json:"importance"`
	Error      string   `json:"error,omitempty"`
}

// AnalyzerService summarizes detected changes via an external LLM endpoint
type AnalyzerService struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewAnalyzerService creates an analyzer against the configured endpoint.
// An empty URL disables the client; every analysis then degrades.
func NewAnalyzerService(baseURL, apiKey, model string, timeout time.Duration) *AnalyzerService {
	s := &AnalyzerService{model: model, timeout: timeout}
	if baseURL != "" {
		cfg := openai.DefaultConfig(apiKey)
		cfg.BaseURL = baseURL
		s.client = openai.NewClientWithConfig(cfg)
	}
	return s
}

// Analyze sends the previous text, current text, and diff to the LLM and
// parses the structured summary out of the response. Any failure returns a
// degraded analysis instead of an error.
func (s *AnalyzerService) Analyze(ctx context.Context, pageURL, previous, current, diff string) *Analysis {
	if s.client == nil {
		return degradedAnalysis("no analysis endpoint configured")
	}

	prompt := fmt.Sprintf(`A monitored web page has changed. Analyze the change and answer with a JSON object with exactly these fields:
{"summary": "one or two sentences", "key_changes": ["..."], "sentiment": "positive|neutral|negative", "importance": "low|medium|high|critical"}

URL: %s

PREVIOUS CONTENT:
%s

CURRENT CONTENT:
%s

DIFF:
%s`,
		pageURL,
		truncate(previous, analyzerInputBudget),
		truncate(current, analyzerInputBudget),
		truncate(diff, analyzerInputBudget),
	)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analyzerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		logger.L().Warn("analysis request failed", zap.String("url", pageURL), zap.Error(err))
		return degradedAnalysis(err.Error())
	}
	if len(resp.Choices) == 0 {
		return degradedAnalysis("empty response from analysis endpoint")
	}

	return parseAnalysis(resp.Choices[0].Message.Content)
}

// parseAnalysis locates the first balanced {...} substring in the raw LLM
// output and decodes it. On parse failure the raw text becomes the summary.
func parseAnalysis(raw string) *Analysis {
	payload, ok := firstJSONObject(raw)
	if ok {
		var analysis Analysis
		if err := json.Unmarshal([]byte(payload), &analysis); err == nil && analysis.Summary != "" {
			analysis.Sentiment = normalizeSentiment(analysis.Sentiment)
			analysis.Importance = normalizeImportance(analysis.Importance)
			return &analysis
		}
	}

	fallback := degradedAnalysis("unparseable analysis response")
	if text := strings.TrimSpace(raw); text != "" {
		fallback.Summary = truncate(text, 500)
	}
	return fallback
}

// firstJSONObject returns the first balanced top-level {...} substring.
// Braces inside JSON strings are ignored.
func firstJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

func degradedAnalysis(reason string) *Analysis {
	return &Analysis{
		Summary:    "analysis unavailable",
		KeyChanges: []string{},
		Sentiment:  models.SentimentNeutral,
		Importance: models.ImportanceMedium,
		Error:      reason,
	}
}

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case models.SentimentPositive:
		return models.SentimentPositive
	case models.SentimentNegative:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

func normalizeImportance(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case models.ImportanceLow:
		return models.ImportanceLow
	case models.ImportanceHigh:
		return models.ImportanceHigh
	case models.ImportanceCritical:
		return models.ImportanceCritical
	default:
		return models.ImportanceMedium
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
