package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/calebmorris/reddit-insights/models"
)

// Database stores posts and their analyses in SQLite
type Database struct {
	db    *sql.DB
	qb    sq.StatementBuilderType
	mutex sync.RWMutex
	log   *logrus.Logger
}

// NewDatabase creates a new SQLite database connection
func NewDatabase(dbPath string, log *logrus.Logger) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one writer at a time; also keeps :memory: databases on a single
	// connection instead of one empty database per pooled connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:  db,
		qb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		log: log,
	}

	if err := database.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.db.Close()
}

// initTables creates the necessary tables if they don't exist
func (d *Database) initTables() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	// note: in an ideal world, this would be a migration that we could just run once per environment (ie dev, staging, prod)
	query := `
	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reddit_id TEXT NOT NULL UNIQUE,
		subreddit TEXT NOT NULL,
		title TEXT NOT NULL,
		self_text TEXT,
		author TEXT NOT NULL,
		upvotes INTEGER NOT NULL,
		num_comments INTEGER NOT NULL,
		permalink TEXT NOT NULL,
		url TEXT,
		metadata TEXT,
		fetched_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_subreddit ON posts(subreddit);

	CREATE TABLE IF NOT EXISTS post_analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id INTEGER NOT NULL REFERENCES posts(id),
		summary TEXT NOT NULL,
		sentiment_score REAL NOT NULL,
		relevance_score REAL NOT NULL,
		innovation_score REAL NOT NULL,
		market_viability REAL NOT NULL,
		tags TEXT NOT NULL,
		trending_score INTEGER NOT NULL,
		prompt_id TEXT NOT NULL,
		prompt_version TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_post ON post_analyses(post_id);
	CREATE INDEX IF NOT EXISTS idx_analyses_trending ON post_analyses(trending_score DESC);
	`

	_, err := d.db.Exec(query)
	return err
}

// PostExists reports whether a post with the given natural key is already
// stored.
func (d *Database) PostExists(redditID string) (bool, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query, args, err := d.qb.Select("id").From("posts").Where(sq.Eq{"reddit_id": redditID}).ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build existence query: %w", err)
	}

	var id int64
	switch err := d.db.QueryRow(query, args...).Scan(&id); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("failed to check for existing post: %w", err)
	}
}

// SavePost persists a post and its analysis. An already-stored natural key
// yields a skipped result with no writes. A failed post insert yields an
// error result and leaves no partial state. A failed analysis insert still
// yields saved, flagged with a warning: a post without an analysis is
// useful, an orphaned analysis is not.
func (d *Database) SavePost(post models.Post, analysis models.Analysis) models.SaveResult {
	exists, err := d.PostExists(post.RedditID)
	if err != nil {
		return models.SaveResult{Status: models.StatusError, Err: err}
	}
	if exists {
		d.log.WithField("reddit_id", post.RedditID).Debug("Post already stored, skipping")
		return models.SaveResult{Status: models.StatusSkipped}
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	postID, err := d.insertPost(post)
	if err != nil {
		return models.SaveResult{Status: models.StatusError, Err: fmt.Errorf("failed to save post: %w", err)}
	}

	if err := d.insertAnalysis(postID, analysis); err != nil {
		d.log.WithError(err).WithField("reddit_id", post.RedditID).Warn("Post saved but analysis insert failed")
		return models.SaveResult{Status: models.StatusSaved, Warning: true, Err: err}
	}

	return models.SaveResult{Status: models.StatusSaved}
}

func (d *Database) insertPost(post models.Post) (int64, error) {
	metadata, err := json.Marshal(post.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal post metadata: %w", err)
	}

	query, args, err := d.qb.Insert("posts").
		Columns("reddit_id", "subreddit", "title", "self_text", "author",
			"upvotes", "num_comments", "permalink", "url", "metadata", "fetched_at").
		Values(post.RedditID, post.Subreddit, post.Title, post.SelfText, post.Author,
			post.Upvotes, post.NumComments, post.Permalink, post.URL, string(metadata), post.FetchedAt).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build post insert: %w", err)
	}

	result, err := d.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

func (d *Database) insertAnalysis(postID int64, analysis models.Analysis) error {
	tags, err := json.Marshal(analysis.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query, args, err := d.qb.Insert("post_analyses").
		Columns("post_id", "summary", "sentiment_score", "relevance_score",
			"innovation_score", "market_viability", "tags", "trending_score",
			"prompt_id", "prompt_version", "created_at").
		Values(postID, analysis.Summary, analysis.SentimentScore, analysis.RelevanceScore,
			analysis.InnovationScore, analysis.MarketViability, string(tags), analysis.TrendingScore,
			analysis.PromptID, analysis.PromptVersion, analysis.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build analysis insert: %w", err)
	}

	_, err = d.db.Exec(query, args...)
	return err
}

// GetTopByTrending returns the top analyzed posts ordered by trending score
func (d *Database) GetTopByTrending(limit int) ([]models.AnalyzedPost, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query, args, err := d.qb.Select(
		"p.reddit_id", "p.subreddit", "p.title", "p.self_text", "p.author",
		"p.upvotes", "p.num_comments", "p.permalink", "p.url", "p.metadata", "p.fetched_at",
		"a.summary", "a.sentiment_score", "a.relevance_score", "a.innovation_score",
		"a.market_viability", "a.tags", "a.trending_score", "a.prompt_id", "a.prompt_version", "a.created_at").
		From("post_analyses a").
		Join("posts p ON p.id = a.post_id").
		OrderBy("a.trending_score DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build trending query: %w", err)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top trending posts: %w", err)
	}
	defer rows.Close()

	results := make([]models.AnalyzedPost, 0, limit)
	for rows.Next() {
		entry, err := d.scanAnalyzedPost(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return results, nil
}

// GetSubredditStats returns dashboard aggregates for one subreddit. The
// second return value is false when the subreddit has no stored posts.
func (d *Database) GetSubredditStats(subreddit string) (models.SubredditStats, bool, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query, args, err := d.qb.Select(
		"COUNT(p.id)",
		"COALESCE(AVG(a.sentiment_score), 0)",
		"COALESCE(AVG(a.relevance_score), 0)").
		From("posts p").
		LeftJoin("post_analyses a ON a.post_id = p.id").
		Where(sq.Eq{"p.subreddit": subreddit}).
		ToSql()
	if err != nil {
		return models.SubredditStats{}, false, fmt.Errorf("failed to build subreddit stats query: %w", err)
	}

	var stats models.SubredditStats
	if err := d.db.QueryRow(query, args...).Scan(&stats.PostCount, &stats.AvgSentiment, &stats.AvgRelevance); err != nil {
		return models.SubredditStats{}, false, fmt.Errorf("failed to query subreddit stats: %w", err)
	}

	if stats.PostCount == 0 {
		return models.SubredditStats{}, false, nil
	}

	top, err := d.topTrendingPost(subreddit)
	if err != nil {
		return models.SubredditStats{}, false, err
	}
	stats.TopTrendingPost = top

	return stats, true, nil
}

func (d *Database) topTrendingPost(subreddit string) (models.Post, error) {
	query, args, err := d.qb.Select(
		"p.reddit_id", "p.subreddit", "p.title", "p.self_text", "p.author",
		"p.upvotes", "p.num_comments", "p.permalink", "p.url", "p.metadata", "p.fetched_at").
		From("posts p").
		Join("post_analyses a ON a.post_id = p.id").
		Where(sq.Eq{"p.subreddit": subreddit}).
		OrderBy("a.trending_score DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return models.Post{}, fmt.Errorf("failed to build top post query: %w", err)
	}

	row := d.db.QueryRow(query, args...)
	post, err := d.scanPost(row)
	if err == sql.ErrNoRows {
		return models.Post{}, nil
	}
	if err != nil {
		return models.Post{}, fmt.Errorf("failed to query top trending post: %w", err)
	}

	return post, nil
}

// GetTotalPosts returns the total number of posts in the database
func (d *Database) GetTotalPosts() (int, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM posts").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get total posts: %w", err)
	}

	return count, nil
}

// GetTotalAnalyses returns the total number of analysis rows
func (d *Database) GetTotalAnalyses() (int, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM post_analyses").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get total analyses: %w", err)
	}

	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (d *Database) scanPost(row rowScanner) (models.Post, error) {
	var post models.Post
	var metadata string
	var fetchedAt string

	err := row.Scan(
		&post.RedditID, &post.Subreddit, &post.Title, &post.SelfText, &post.Author,
		&post.Upvotes, &post.NumComments, &post.Permalink, &post.URL, &metadata, &fetchedAt,
	)
	if err != nil {
		return models.Post{}, err
	}

	post.FetchedAt = parseStoredTime(fetchedAt)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &post.Metadata); err != nil {
			d.log.WithError(err).WithField("reddit_id", post.RedditID).Debug("Stored post metadata is not valid JSON")
		}
	}

	return post, nil
}

func (d *Database) scanAnalyzedPost(rows *sql.Rows) (models.AnalyzedPost, error) {
	var entry models.AnalyzedPost
	var metadata, tags string
	var fetchedAt, createdAt string

	err := rows.Scan(
		&entry.Post.RedditID, &entry.Post.Subreddit, &entry.Post.Title, &entry.Post.SelfText, &entry.Post.Author,
		&entry.Post.Upvotes, &entry.Post.NumComments, &entry.Post.Permalink, &entry.Post.URL, &metadata, &fetchedAt,
		&entry.Analysis.Summary, &entry.Analysis.SentimentScore, &entry.Analysis.RelevanceScore,
		&entry.Analysis.InnovationScore, &entry.Analysis.MarketViability, &tags, &entry.Analysis.TrendingScore,
		&entry.Analysis.PromptID, &entry.Analysis.PromptVersion, &createdAt,
	)
	if err != nil {
		return models.AnalyzedPost{}, fmt.Errorf("failed to scan analyzed post: %w", err)
	}

	entry.Post.FetchedAt = parseStoredTime(fetchedAt)
	entry.Analysis.CreatedAt = parseStoredTime(createdAt)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &entry.Post.Metadata); err != nil {
			d.log.WithError(err).WithField("reddit_id", entry.Post.RedditID).Debug("Stored post metadata is not valid JSON")
		}
	}
	if err := json.Unmarshal([]byte(tags), &entry.Analysis.Tags); err != nil {
		d.log.WithError(err).WithField("reddit_id", entry.Post.RedditID).Debug("Stored analysis tags are not valid JSON")
	}

	return entry, nil
}

// parseStoredTime handles both formats sqlite hands back for TIMESTAMP
// columns depending on how the value was bound.
func parseStoredTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05.999999999-07:00", s)
	return t
}
