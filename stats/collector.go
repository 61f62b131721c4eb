package stats

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calebmorris/reddit-insights/db"
	"github.com/calebmorris/reddit-insights/models"
)

const (
	defaultTopPostsLimit   = 10
	defaultRefreshInterval = 30 * time.Second
)

// Collector maintains dashboard aggregates over the persisted analyses.
// It only reads; the pipeline is the sole writer.
type Collector struct {
	database      *db.Database
	subreddits    []string
	topPostsLimit int
	refreshEvery  time.Duration
	stats         models.Statistics
	mutex         sync.RWMutex
	log           *logrus.Logger
}

// NewCollector creates a collector over the given subreddits
func NewCollector(database *db.Database, subreddits []string, log *logrus.Logger) *Collector {
	return &Collector{
		database:      database,
		subreddits:    subreddits,
		topPostsLimit: defaultTopPostsLimit,
		refreshEvery:  defaultRefreshInterval,
		stats: models.Statistics{
			TopByTrending:  make([]models.AnalyzedPost, 0, defaultTopPostsLimit),
			SubredditStats: make(map[string]models.SubredditStats),
			StartTime:      time.Now(),
			LastUpdated:    time.Now(),
		},
		log: log,
	}
}

// Start refreshes the aggregates periodically until the context ends.
func (c *Collector) Start(ctx context.Context) error {
	c.Refresh()

	ticker := time.NewTicker(c.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Refresh()
		}
	}
}

// Refresh recomputes the aggregates from the database.
func (c *Collector) Refresh() {
	totalPosts, err := c.database.GetTotalPosts()
	if err != nil {
		c.log.WithError(err).Error("Failed to get total posts")
		return
	}

	totalAnalyses, err := c.database.GetTotalAnalyses()
	if err != nil {
		c.log.WithError(err).Error("Failed to get total analyses")
		return
	}

	topByTrending, err := c.database.GetTopByTrending(c.topPostsLimit)
	if err != nil {
		c.log.WithError(err).Error("Failed to get top trending posts")
		return
	}

	subredditStats := make(map[string]models.SubredditStats)
	for _, subreddit := range c.subreddits {
		stats, ok, err := c.database.GetSubredditStats(subreddit)
		if err != nil {
			c.log.WithError(err).WithField("subreddit", subreddit).Error("Failed to get subreddit stats")
			continue
		}
		if !ok {
			continue
		}
		subredditStats[subreddit] = stats
	}

	c.mutex.Lock()
	c.stats.TotalPosts = totalPosts
	c.stats.TotalAnalyses = totalAnalyses
	c.stats.TopByTrending = topByTrending
	c.stats.SubredditStats = subredditStats
	c.stats.LastUpdated = time.Now()
	c.mutex.Unlock()

	c.log.WithFields(logrus.Fields{
		"total_posts":    totalPosts,
		"total_analyses": totalAnalyses,
	}).Debug("Statistics refreshed")
}

// GetStatistics returns a copy of the current statistics
func (c *Collector) GetStatistics() models.Statistics {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.stats
}

// GetTopByTrending returns the current top analyzed posts.
func (c *Collector) GetTopByTrending() []models.AnalyzedPost {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.stats.TopByTrending
}
