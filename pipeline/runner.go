package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calebmorris/reddit-insights/models"
)

const (
	// communityDelay is the fixed pause after each subreddit fetch. It is
	// part of the contract with the source API, not tunable.
	communityDelay = 2 * time.Second

	// analyzeDelay is the fixed pause after each model call.
	analyzeDelay = 1 * time.Second
)

// PostFetcher lists hot posts for one subreddit.
type PostFetcher interface {
	FetchHotPosts(ctx context.Context, subreddit string, limit int) ([]models.Post, error)
}

// PostAnalyzer scores one post. Implementations are fail-open and never
// return an error.
type PostAnalyzer interface {
	Analyze(ctx context.Context, post models.Post) models.Analysis
}

// PostStore persists a post with its analysis.
type PostStore interface {
	SavePost(post models.Post, analysis models.Analysis) models.SaveResult
}

// Runner sequences one pipeline run: fetch, analyze, persist, report.
// Everything is strictly sequential; the fixed delays self-impose a rate
// limit against both the source API and the model provider.
type Runner struct {
	fetcher    PostFetcher
	analyzer   PostAnalyzer
	store      PostStore
	subreddits []string
	postLimit  int
	sleep      func(time.Duration)
	log        *logrus.Logger
}

type analyzedItem struct {
	post     models.Post
	analysis models.Analysis
}

// NewRunner creates a runner over explicitly constructed dependencies.
func NewRunner(
	fetcher PostFetcher,
	analyzer PostAnalyzer,
	store PostStore,
	subreddits []string,
	postLimit int,
	log *logrus.Logger,
) *Runner {
	return &Runner{
		fetcher:    fetcher,
		analyzer:   analyzer,
		store:      store,
		subreddits: subreddits,
		postLimit:  postLimit,
		sleep:      time.Sleep,
		log:        log,
	}
}

// Run executes the pipeline once and returns the aggregate report. The
// caller decides the process exit code from report.Failed().
func (r *Runner) Run(ctx context.Context) models.RunReport {
	report := models.RunReport{StartTime: time.Now()}

	posts := r.fetchPhase(ctx, &report)
	items := r.analyzePhase(ctx, posts, &report)
	r.persistPhase(items, &report)

	report.Duration = time.Since(report.StartTime)
	r.report(report)

	return report
}

// fetchPhase lists hot posts for every configured subreddit in declared
// order. A failing subreddit is logged and contributes zero posts; it
// never aborts the run.
func (r *Runner) fetchPhase(ctx context.Context, report *models.RunReport) []models.Post {
	posts := make([]models.Post, 0)

	for i, subreddit := range r.subreddits {
		fetched, err := r.fetcher.FetchHotPosts(ctx, subreddit, r.postLimit)
		if err != nil {
			r.log.WithError(err).WithField("subreddit", subreddit).Error("Failed to fetch subreddit, continuing")
		} else {
			posts = append(posts, fetched...)
		}

		if i < len(r.subreddits)-1 {
			r.sleep(communityDelay)
		}
	}

	report.Fetched = len(posts)
	r.log.WithField("count", len(posts)).Info("Fetch phase complete")
	return posts
}

// analyzePhase scores every fetched post in fetch order. The analyzer is
// fail-open, so this phase cannot fail.
func (r *Runner) analyzePhase(ctx context.Context, posts []models.Post, report *models.RunReport) []analyzedItem {
	items := make([]analyzedItem, 0, len(posts))

	for i, post := range posts {
		analysis := r.analyzer.Analyze(ctx, post)
		items = append(items, analyzedItem{post: post, analysis: analysis})

		if i < len(posts)-1 {
			r.sleep(analyzeDelay)
		}
	}

	report.Analyzed = len(items)
	r.log.WithField("count", len(items)).Info("Analyze phase complete")
	return items
}

// persistPhase saves every analyzed post in order, accumulating counters.
func (r *Runner) persistPhase(items []analyzedItem, report *models.RunReport) {
	for _, item := range items {
		result := r.store.SavePost(item.post, item.analysis)

		switch result.Status {
		case models.StatusSaved:
			report.Saved++
			if result.Warning {
				report.Warnings++
			}
		case models.StatusSkipped:
			report.Skipped++
		case models.StatusError:
			report.Errors++
			r.log.WithError(result.Err).WithField("reddit_id", item.post.RedditID).Error("Failed to persist post")
		}
	}
}

// report emits the run summary.
func (r *Runner) report(report models.RunReport) {
	fields := logrus.Fields{
		"fetched":  report.Fetched,
		"analyzed": report.Analyzed,
		"saved":    report.Saved,
		"skipped":  report.Skipped,
		"errors":   report.Errors,
		"warnings": report.Warnings,
		"duration": report.Duration.String(),
	}

	if report.Failed() {
		r.log.WithFields(fields).Error("Pipeline run failed: error ratio exceeded 50%")
		return
	}

	r.log.WithFields(fields).Info("Pipeline run completed")
}
