package db

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmorris/reddit-insights/models"
)

func testDatabase(t *testing.T) *Database {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	database, err := NewDatabase(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return database
}

func testPost(redditID string) models.Post {
	return models.Post{
		RedditID:    redditID,
		Subreddit:   "startupideas",
		Title:       "Idea: X",
		SelfText:    "",
		Author:      "founder42",
		Upvotes:     10,
		NumComments: 5,
		Permalink:   "/r/startupideas/comments/" + redditID,
		URL:         "https://reddit.com/r/startupideas/" + redditID,
		Metadata: map[string]any{
			"created_utc":  float64(1725100000),
			"score":        float64(12),
			"upvote_ratio": 0.91,
		},
		FetchedAt: time.Now(),
	}
}

func testAnalysis() models.Analysis {
	return models.Analysis{
		Summary:         "S",
		SentimentScore:  0.9,
		RelevanceScore:  0.8,
		InnovationScore: 0.7,
		MarketViability: 0.6,
		Tags:            []string{"AI"},
		TrendingScore:   20,
		PromptID:        "tmpl-1",
		PromptVersion:   "3",
		CreatedAt:       time.Now(),
	}
}

func TestSavePost(t *testing.T) {
	database := testDatabase(t)

	result := database.SavePost(testPost("abc123"), testAnalysis())
	assert.Equal(t, models.StatusSaved, result.Status)
	assert.False(t, result.Warning)

	exists, err := database.PostExists("abc123")
	require.NoError(t, err)
	assert.True(t, exists)

	totalAnalyses, err := database.GetTotalAnalyses()
	require.NoError(t, err)
	assert.Equal(t, 1, totalAnalyses)
}

func TestSavePostKeepsPostWhenAnalysisInsertFails(t *testing.T) {
	database := testDatabase(t)

	// force the analysis insert to fail while the post insert still works
	_, err := database.db.Exec("DROP TABLE post_analyses")
	require.NoError(t, err)

	result := database.SavePost(testPost("abc123"), testAnalysis())

	// a post without an analysis is still useful: saved, flagged
	assert.Equal(t, models.StatusSaved, result.Status)
	assert.True(t, result.Warning)
	assert.Error(t, result.Err)

	exists, err := database.PostExists("abc123")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetTopByTrendingToleratesCorruptStoredJSON(t *testing.T) {
	database := testDatabase(t)
	require.Equal(t, models.StatusSaved, database.SavePost(testPost("abc123"), testAnalysis()).Status)

	_, err := database.db.Exec("UPDATE posts SET metadata = 'not json'")
	require.NoError(t, err)
	_, err = database.db.Exec("UPDATE post_analyses SET tags = '{broken'")
	require.NoError(t, err)

	// corrupt stored JSON degrades those fields, not the whole read
	results, err := database.GetTopByTrending(10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "abc123", results[0].Post.RedditID)
	assert.Nil(t, results[0].Post.Metadata)
	assert.Nil(t, results[0].Analysis.Tags)
}

func TestSavePostSkipsDuplicates(t *testing.T) {
	database := testDatabase(t)

	first := database.SavePost(testPost("abc123"), testAnalysis())
	require.Equal(t, models.StatusSaved, first.Status)

	// same natural key: skipped, no second write
	second := database.SavePost(testPost("abc123"), testAnalysis())
	assert.Equal(t, models.StatusSkipped, second.Status)

	totalPosts, err := database.GetTotalPosts()
	require.NoError(t, err)
	assert.Equal(t, 1, totalPosts)

	totalAnalyses, err := database.GetTotalAnalyses()
	require.NoError(t, err)
	assert.Equal(t, 1, totalAnalyses)
}

func TestSavePostRerunIdempotence(t *testing.T) {
	database := testDatabase(t)
	posts := []models.Post{testPost("a1"), testPost("a2"), testPost("a3")}

	var saved int
	for _, post := range posts {
		if database.SavePost(post, testAnalysis()).Status == models.StatusSaved {
			saved++
		}
	}
	assert.Equal(t, 3, saved)

	// a second run over the same item set saves nothing and skips all
	var savedAgain, skipped int
	for _, post := range posts {
		switch database.SavePost(post, testAnalysis()).Status {
		case models.StatusSaved:
			savedAgain++
		case models.StatusSkipped:
			skipped++
		}
	}
	assert.Equal(t, 0, savedAgain)
	assert.Equal(t, saved, skipped)
}

func TestGetTopByTrending(t *testing.T) {
	database := testDatabase(t)

	low := testPost("low")
	lowAnalysis := testAnalysis()
	lowAnalysis.TrendingScore = 5

	high := testPost("high")
	highAnalysis := testAnalysis()
	highAnalysis.TrendingScore = 99

	require.Equal(t, models.StatusSaved, database.SavePost(low, lowAnalysis).Status)
	require.Equal(t, models.StatusSaved, database.SavePost(high, highAnalysis).Status)

	results, err := database.GetTopByTrending(10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "high", results[0].Post.RedditID)
	assert.Equal(t, 99, results[0].Analysis.TrendingScore)
	assert.Equal(t, []string{"AI"}, results[0].Analysis.Tags)
	assert.Equal(t, 0.9, results[0].Analysis.SentimentScore)
	assert.Equal(t, 10, results[0].Post.Upvotes)
	assert.Equal(t, 5, results[0].Post.NumComments)
	assert.Equal(t, "low", results[1].Post.RedditID)
}

func TestGetSubredditStats(t *testing.T) {
	database := testDatabase(t)

	postA := testPost("a")
	analysisA := testAnalysis()
	analysisA.SentimentScore = 0.4
	analysisA.TrendingScore = 10

	postB := testPost("b")
	analysisB := testAnalysis()
	analysisB.SentimentScore = 0.8
	analysisB.TrendingScore = 50

	require.Equal(t, models.StatusSaved, database.SavePost(postA, analysisA).Status)
	require.Equal(t, models.StatusSaved, database.SavePost(postB, analysisB).Status)

	stats, ok, err := database.GetSubredditStats("startupideas")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 2, stats.PostCount)
	assert.InDelta(t, 0.6, stats.AvgSentiment, 0.0001)
	assert.Equal(t, "b", stats.TopTrendingPost.RedditID)

	// unknown subreddit reports absence, not an error
	_, ok, err = database.GetSubredditStats("nosuchsub")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostExists(t *testing.T) {
	database := testDatabase(t)

	exists, err := database.PostExists("missing")
	require.NoError(t, err)
	assert.False(t, exists)
}
