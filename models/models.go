package models

import (
	"time"
)

// Post represents a Reddit post fetched from the source API.
// The natural key is RedditID; a post is immutable once fetched.
type Post struct {
	RedditID    string         `json:"reddit_id"`
	Subreddit   string         `json:"subreddit"`
	Title       string         `json:"title"`
	SelfText    string         `json:"selftext"`
	Author      string         `json:"author"`
	Upvotes     int            `json:"upvotes"`
	NumComments int            `json:"num_comments"`
	Permalink   string         `json:"permalink"`
	URL         string         `json:"url"`
	Metadata    map[string]any `json:"metadata"`
	FetchedAt   time.Time      `json:"fetched_at"`
}

// Analysis is the model-derived scoring record for one Post.
type Analysis struct {
	Summary         string    `json:"summary"`
	SentimentScore  float64   `json:"sentiment_score"`
	RelevanceScore  float64   `json:"relevance_score"`
	InnovationScore float64   `json:"innovation_score"`
	MarketViability float64   `json:"market_viability"`
	Tags            []string  `json:"tags"`
	TrendingScore   int       `json:"trending_score"`
	PromptID        string    `json:"prompt_id"`
	PromptVersion   string    `json:"prompt_version"`
	CreatedAt       time.Time `json:"created_at"`
}

// TrendingScore derives the popularity metric for a post.
// The formula is fixed: upvotes + 2*comments.
func TrendingScore(upvotes, comments int) int {
	return upvotes + 2*comments
}

// PromptTemplate is a versioned scoring template with named placeholders.
type PromptTemplate struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	IsActive     bool     `json:"is_active"`
	Body         string   `json:"body"`
	Placeholders []string `json:"placeholders"`
}

// SaveStatus is the outcome of persisting a post + analysis pair.
type SaveStatus string

const (
	StatusSaved   SaveStatus = "saved"
	StatusSkipped SaveStatus = "skipped"
	StatusError   SaveStatus = "error"
)

// SaveResult reports what happened for a single post. Warning is set when
// the post row was inserted but the analysis row was not.
type SaveResult struct {
	Status  SaveStatus `json:"status"`
	Warning bool       `json:"warning"`
	Err     error      `json:"-"`
}

// RunReport accumulates counters for a single pipeline run.
type RunReport struct {
	Fetched   int           `json:"fetched"`
	Analyzed  int           `json:"analyzed"`
	Saved     int           `json:"saved"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Warnings  int           `json:"warnings"`
	Duration  time.Duration `json:"duration"`
	StartTime time.Time     `json:"start_time"`
}

// Processed is the number of items that reached the persistence phase.
func (r RunReport) Processed() int {
	return r.Saved + r.Skipped + r.Errors
}

// Failed reports whether the run as a whole should exit non-zero:
// more than half of the processed items errored.
func (r RunReport) Failed() bool {
	return r.Errors*2 > r.Processed()
}

// AnalyzedPost pairs a post with its analysis for the dashboard API.
type AnalyzedPost struct {
	Post     Post     `json:"post"`
	Analysis Analysis `json:"analysis"`
}

// SubredditStats holds dashboard aggregates for a single subreddit.
type SubredditStats struct {
	PostCount       int     `json:"post_count"`
	AvgSentiment    float64 `json:"avg_sentiment"`
	AvgRelevance    float64 `json:"avg_relevance"`
	TopTrendingPost Post    `json:"top_trending_post"`
}

// Statistics holds dashboard-wide aggregates over persisted analyses.
type Statistics struct {
	TotalPosts     int                       `json:"total_posts"`
	TotalAnalyses  int                       `json:"total_analyses"`
	TopByTrending  []AnalyzedPost            `json:"top_by_trending"`
	SubredditStats map[string]SubredditStats `json:"subreddit_stats"`
	StartTime      time.Time                 `json:"start_time"`
	LastUpdated    time.Time                 `json:"last_updated"`
}
