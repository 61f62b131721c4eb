package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calebmorris/reddit-insights/models"
)

const (
	defaultScore     = 0.5
	maxSummaryLength = 200
	maxTags          = 5
)

// preferredPlaceholders is the binding order for post content when a
// template declares more than one recognized placeholder name.
var preferredPlaceholders = []string{"content", "post", "text"}

// ParseError means the model output stayed unusable even after the
// extraction retry. It never leaves the engine.
type ParseError struct {
	Raw string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no JSON object found in model output: %.80q", e.Raw)
}

// Engine scores posts with a completion model driven by the resolved
// prompt template. Analyze never returns an error: any failure degrades
// to a default result so the pipeline keeps moving.
type Engine struct {
	client   CompletionClient
	template *models.PromptTemplate
	log      *logrus.Logger
}

// NewEngine creates a scoring engine bound to one template for the run.
func NewEngine(client CompletionClient, template *models.PromptTemplate, log *logrus.Logger) *Engine {
	return &Engine{
		client:   client,
		template: template,
		log:      log,
	}
}

// Analyze scores one post. On any failure it returns a degraded result
// with defaulted scores and provenance "error" rather than an error.
func (e *Engine) Analyze(ctx context.Context, post models.Post) models.Analysis {
	analysis, err := e.analyze(ctx, post)
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"reddit_id": post.RedditID,
			"subreddit": post.Subreddit,
		}).Warn("Analysis failed, using degraded result")
		return e.degraded(post)
	}
	return analysis
}

func (e *Engine) analyze(ctx context.Context, post models.Post) (models.Analysis, error) {
	prompt := RenderTemplate(e.template, buildContent(post))

	raw, err := e.client.Complete(ctx, prompt, true)
	if err != nil {
		return models.Analysis{}, err
	}

	fields, err := parseFields(raw)
	if err != nil {
		// second chance: ask again without the JSON constraint and dig
		// the object out of whatever prose comes back
		e.log.WithField("reddit_id", post.RedditID).Debug("Strict JSON parse failed, retrying with extraction")

		raw, err = e.client.Complete(ctx, prompt, false)
		if err != nil {
			return models.Analysis{}, err
		}

		fields, err = extractFields(raw)
		if err != nil {
			return models.Analysis{}, err
		}
	}

	return e.coerce(fields, post), nil
}

// buildContent assembles the model input from a post.
func buildContent(post models.Post) string {
	body := post.SelfText
	if body == "" {
		body = "No content"
	}
	return fmt.Sprintf("Title: %s\n\nContent: %s", post.Title, body)
}

// RenderTemplate binds content to the template's placeholder. Recognized
// names win in preference order; otherwise the first declared placeholder
// gets the content.
func RenderTemplate(tmpl *models.PromptTemplate, content string) string {
	target := ""
	for _, name := range preferredPlaceholders {
		for _, declared := range tmpl.Placeholders {
			if declared == name {
				target = name
				break
			}
		}
		if target != "" {
			break
		}
	}
	if target == "" && len(tmpl.Placeholders) > 0 {
		target = tmpl.Placeholders[0]
	}
	if target == "" {
		return tmpl.Body
	}

	pattern := regexp.MustCompile(`\{\{\s*` + regexp.QuoteMeta(target) + `\s*\}\}`)
	return pattern.ReplaceAllLiteralString(tmpl.Body, content)
}

// parseFields parses a model response as a JSON object, tolerating
// markdown code fences around it.
func parseFields(raw string) (map[string]any, error) {
	cleaned := cleanJSONResponse(raw)

	var fields map[string]any
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil, fmt.Errorf("failed to parse model output: %w", err)
	}
	return fields, nil
}

// extractFields pulls the first balanced {...} span out of free text and
// parses that.
func extractFields(raw string) (map[string]any, error) {
	match := extractJSONObject(raw)
	if match == "" {
		return nil, &ParseError{Raw: raw}
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(match), &fields); err != nil {
		return nil, &ParseError{Raw: raw}
	}
	return fields, nil
}

// extractJSONObject returns the first brace-balanced object in the text.
// Scanning to the first balanced close rather than the last brace keeps a
// stray trailing } in the response from poisoning the span.
func extractJSONObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
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
				return raw[start : i+1]
			}
		}
	}

	return ""
}

// cleanJSONResponse strips markdown code fences the model sometimes wraps
// around its JSON.
func cleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// coerce validates the parsed fields, applying defaults for anything
// missing or malformed.
func (e *Engine) coerce(fields map[string]any, post models.Post) models.Analysis {
	summary, ok := fields["summary"].(string)
	if !ok || summary == "" {
		summary = truncate(post.Title, maxSummaryLength)
	}

	return models.Analysis{
		Summary:         summary,
		SentimentScore:  scoreOrDefault(fields, "sentiment_score"),
		RelevanceScore:  scoreOrDefault(fields, "relevance_score"),
		InnovationScore: scoreOrDefault(fields, "innovation_score"),
		MarketViability: scoreOrDefault(fields, "market_viability"),
		Tags:            tagsOrDefault(fields["tags"]),
		TrendingScore:   models.TrendingScore(post.Upvotes, post.NumComments),
		PromptID:        e.template.ID,
		PromptVersion:   e.template.Version,
		CreatedAt:       time.Now(),
	}
}

// degraded is the fail-open result: defaulted scores, the title as
// summary, and provenance marking that no real analysis happened.
func (e *Engine) degraded(post models.Post) models.Analysis {
	return models.Analysis{
		Summary:         truncate(post.Title, maxSummaryLength),
		SentimentScore:  defaultScore,
		RelevanceScore:  defaultScore,
		InnovationScore: defaultScore,
		MarketViability: defaultScore,
		Tags:            []string{"Unanalyzed"},
		TrendingScore:   models.TrendingScore(post.Upvotes, post.NumComments),
		PromptID:        "error",
		PromptVersion:   "error",
		CreatedAt:       time.Now(),
	}
}

// scoreOrDefault reads a bounded score, defaulting to 0.5 when the field
// is missing or not a number and clamping into [0, 1].
func scoreOrDefault(fields map[string]any, key string) float64 {
	value, ok := fields[key].(float64)
	if !ok {
		return defaultScore
	}
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// tagsOrDefault reads the tag list, defaulting to ["General"] when the
// field is not an array and capping at five entries.
func tagsOrDefault(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return []string{"General"}
	}

	tags := make([]string, 0, len(items))
	for _, item := range items {
		if tag, ok := item.(string); ok && tag != "" {
			tags = append(tags, tag)
		}
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
