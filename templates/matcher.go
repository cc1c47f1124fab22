package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/deepauras/auroraflow/core"
)

// Confidence is the LLM's self-reported certainty in its template pick.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceNone   Confidence = "none"
)

// MatchResult is the outcome of Matcher.Match. Matched is false when no
// template cleared the confidence/score bar; the caller then synthesizes a
// new template, a decision outside the Matcher's scope.
type MatchResult struct {
	Matched    bool
	TemplateID string
	Confidence Confidence
	Reasoning  string
	Score      float64 // populated only when the deterministic fallback ran
}

// Matcher maps a free-form message to at most one enabled template. It
// never executes or mutates a template; it only selects.
type Matcher struct {
	repo   Repository
	ai     core.AIClient
	cfg    *Config
	logger core.Logger
}

// NewMatcher constructs a Matcher. ai may be nil, in which case every match
// runs the deterministic fallback directly.
func NewMatcher(repo Repository, ai core.AIClient, cfg *Config, logger core.Logger) *Matcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("templates.matcher")
	}
	return &Matcher{repo: repo, ai: ai, cfg: cfg, logger: logger}
}

// Match loads every enabled template for tenantID, asks the LLM to pick one,
// and falls back to a deterministic score only if the LLM call itself
// fails (not when it confidently reports no match).
func (m *Matcher) Match(ctx context.Context, tenantID, message, contextType string) (*MatchResult, error) {
	candidates, err := m.repo.List(ctx, tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("templates: matcher list: %w", err)
	}
	if len(candidates) == 0 {
		return &MatchResult{Matched: false, Confidence: ConfidenceNone, Reasoning: "no enabled templates"}, nil
	}

	if m.ai != nil {
		result, err := m.matchWithLLM(ctx, candidates, message, contextType)
		if err == nil {
			return result, nil
		}
		m.logger.Warn("llm match failed, falling back to deterministic scoring", map[string]interface{}{"error": err.Error()})
	}

	return m.matchDeterministic(candidates, message), nil
}

type llmDecision struct {
	TemplateID *string `json:"templateId"`
	Confidence string  `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (m *Matcher) matchWithLLM(ctx context.Context, candidates []*core.Template, message, contextType string) (*MatchResult, error) {
	prompt := buildMatchPrompt(candidates, message, contextType)

	resp, err := m.ai.GenerateResponse(ctx, prompt, &core.AIOptions{
		Temperature: 0.0,
		MaxTokens:   300,
	})
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}

	jsonStr, ok := core.ExtractFirstJSONObject(resp.Content)
	if !ok {
		return nil, fmt.Errorf("no JSON object in LLM response")
	}

	decision, err := parseLLMDecision(jsonStr)
	if err != nil {
		return nil, err
	}

	conf := Confidence(decision.Confidence)
	if conf != ConfidenceHigh && conf != ConfidenceMedium && conf != ConfidenceNone {
		return nil, fmt.Errorf("unrecognized confidence %q", decision.Confidence)
	}

	if conf == ConfidenceNone || decision.TemplateID == nil {
		return &MatchResult{Matched: false, Confidence: ConfidenceNone, Reasoning: decision.Reasoning}, nil
	}

	for _, tpl := range candidates {
		if tpl.ID == *decision.TemplateID {
			return &MatchResult{
				Matched:    true,
				TemplateID: tpl.ID,
				Confidence: conf,
				Reasoning:  decision.Reasoning,
			}, nil
		}
	}

	// The LLM named a template outside the candidate set: treat as no
	// match rather than trusting a hallucinated ID.
	return &MatchResult{Matched: false, Confidence: ConfidenceNone, Reasoning: "llm selected a template outside the candidate set"}, nil
}

func buildMatchPrompt(candidates []*core.Template, message, contextType string) string {
	var table strings.Builder
	for _, tpl := range candidates {
		fmt.Fprintf(&table, "- id=%s name=%q description=%q category=%v keywords=%v\n",
			tpl.ID, tpl.Name, tpl.Description, tpl.Category, tpl.Triggers.Keywords)
	}

	return fmt.Sprintf(`You select which template, if any, should handle a user's message.

MESSAGE: %s
CONTEXT TYPE: %s

CANDIDATE TEMPLATES:
%s

Pick the single best-matching template, or none if nothing fits well.

RESPONSE FORMAT (JSON only, no explanation):
{"templateId": "<id>" or null, "confidence": "high" | "medium" | "none", "reasoning": "brief explanation"}`,
		message, contextType, table.String())
}

func parseLLMDecision(jsonStr string) (*llmDecision, error) {
	var d llmDecision
	if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
		return nil, fmt.Errorf("parse llm decision: %w", err)
	}
	return &d, nil
}

// matchDeterministic runs only when the LLM call itself errored. Each
// template is scored per spec §4.3's fixed point values; the highest score
// above the configured threshold wins, ties broken by higher Priority.
func (m *Matcher) matchDeterministic(candidates []*core.Template, message string) *MatchResult {
	var best *core.Template
	var bestScore float64

	for _, tpl := range candidates {
		score := scoreTemplate(tpl, message)
		if score <= m.cfg.MatchThreshold {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && tpl.Priority > best.Priority) {
			best = tpl
			bestScore = score
		}
	}

	if best == nil {
		return &MatchResult{Matched: false, Confidence: ConfidenceNone, Reasoning: "no deterministic match above threshold"}
	}
	return &MatchResult{
		Matched:    true,
		TemplateID: best.ID,
		Confidence: ConfidenceMedium,
		Reasoning:  "deterministic fallback match",
		Score:      bestScore,
	}
}

var reportPhrasePattern = regexp.MustCompile(`(?i)^\s*(generate|create|run|show me)\b.*\breport\b`)

func scoreTemplate(tpl *core.Template, message string) float64 {
	var score float64

	if patternScore := scoreTriggerPatterns(tpl.Triggers.Patterns, message); patternScore > 0 {
		score += patternScore
	}

	if overlap := keywordOverlap(tpl.Triggers.Keywords, message); overlap > 0 {
		score += 0.15 + 0.10*overlap
	}

	if reportPhrasePattern.MatchString(message) {
		score += 0.1
	}

	return score
}

// scoreTriggerPatterns awards 0.6 for the first matching pattern, +0.1 per
// additional match, capped at 0.8.
func scoreTriggerPatterns(patterns []string, message string) float64 {
	matches := 0
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			continue
		}
		if re.MatchString(message) {
			matches++
		}
	}
	if matches == 0 {
		return 0
	}
	score := 0.6 + 0.1*float64(matches-1)
	if score > 0.8 {
		score = 0.8
	}
	return score
}

func keywordOverlap(keywords []string, message string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(message)
	var matched int
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	return float64(matched) / float64(len(keywords))
}
