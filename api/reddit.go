package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calebmorris/reddit-insights/models"
)

const (
	defaultBaseURL = "https://oauth.reddit.com"
	defaultAuthURL = "https://www.reddit.com/api/v1/access_token"
	maxPostLimit   = 100 // max number of posts per request
)

// AuthError reports a failed token exchange. The provider's error text is
// carried in Body when the endpoint returned one.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("reddit auth failed with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("reddit auth failed with status %d", e.StatusCode)
}

// FetchError reports a failed listing request for one subreddit.
type FetchError struct {
	Subreddit  string
	StatusCode int
	Status     string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch r/%s: %s", e.Subreddit, e.Status)
}

// RedditClient fetches hot posts from the Reddit API using
// application-only (client credentials) auth.
type RedditClient struct {
	clientID     string
	clientSecret string
	userAgent    string
	baseURL      string
	authURL      string
	httpClient   *http.Client
	accessToken  string
	tokenExpiry  time.Time
	mutex        sync.RWMutex
	log          *logrus.Logger
}

// redditPost is the wire shape of one post in a listing response.
type redditPost struct {
	Kind string `json:"kind"`
	Data struct {
		ID          string  `json:"id"`
		Title       string  `json:"title"`
		Author      string  `json:"author"`
		Subreddit   string  `json:"subreddit"`
		URL         string  `json:"url"`
		CreatedUTC  float64 `json:"created_utc"`
		Ups         int     `json:"ups"`
		Score       int     `json:"score"`
		UpvoteRatio float64 `json:"upvote_ratio"`
		NumComments int     `json:"num_comments"`
		SelfText    string  `json:"selftext"`
		Permalink   string  `json:"permalink"`
	} `json:"data"`
}

// redditListing is the paginated envelope around a listing response.
type redditListing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string       `json:"after"`
		Before   string       `json:"before"`
		Children []redditPost `json:"children"`
	} `json:"data"`
}

// NewRedditClient creates a new Reddit API client
func NewRedditClient(clientID, clientSecret, userAgent string, log *logrus.Logger) *RedditClient {
	return &RedditClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		userAgent:    userAgent,
		baseURL:      defaultBaseURL,
		authURL:      defaultAuthURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          log,
	}
}

// SetEndpoints overrides the API endpoints; used by tests.
func (r *RedditClient) SetEndpoints(baseURL, authURL string) {
	r.baseURL = baseURL
	r.authURL = authURL
}

// Authenticate exchanges client credentials for a bearer token. The token
// is cached until shortly before expiry, so repeated calls are cheap.
func (r *RedditClient) Authenticate(ctx context.Context) error {
	r.mutex.RLock()
	token := r.accessToken
	expiry := r.tokenExpiry
	r.mutex.RUnlock()

	if token != "" && time.Now().Before(expiry) {
		return nil
	}

	r.log.Info("Authenticating with Reddit API")

	data := url.Values{}
	data.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.authURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create auth request: %w", err)
	}

	req.SetBasicAuth(r.clientID, r.clientSecret)
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &AuthError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var authResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}

	r.mutex.Lock()
	r.accessToken = authResp.AccessToken
	r.tokenExpiry = time.Now().Add(time.Duration(authResp.ExpiresIn) * time.Second)
	r.mutex.Unlock()

	r.log.Info("Successfully authenticated with Reddit API")
	return nil
}

// FetchHotPosts fetches up to limit posts from a subreddit's hot listing,
// restricted to the last day.
func (r *RedditClient) FetchHotPosts(ctx context.Context, subreddit string, limit int) ([]models.Post, error) {
	if err := r.Authenticate(ctx); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > maxPostLimit {
		limit = maxPostLimit
	}

	endpoint := fmt.Sprintf("%s/r/%s/hot.json?limit=%d&t=day", r.baseURL, subreddit, limit)

	r.log.WithFields(logrus.Fields{
		"subreddit": subreddit,
		"limit":     limit,
	}).Info("Fetching hot posts from Reddit API")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	r.mutex.RLock()
	token := r.accessToken
	r.mutex.RUnlock()

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		r.log.WithFields(logrus.Fields{
			"subreddit":     subreddit,
			"response_body": string(body),
			"status_code":   resp.StatusCode,
		}).Error("Reddit API error response")
		return nil, &FetchError{Subreddit: subreddit, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	posts := make([]models.Post, 0, len(listing.Data.Children))
	now := time.Now()

	for _, child := range listing.Data.Children {
		post := models.Post{
			RedditID:    child.Data.ID,
			Subreddit:   child.Data.Subreddit,
			Title:       child.Data.Title,
			SelfText:    child.Data.SelfText,
			Author:      child.Data.Author,
			Upvotes:     child.Data.Ups,
			NumComments: child.Data.NumComments,
			Permalink:   child.Data.Permalink,
			URL:         child.Data.URL,
			Metadata: map[string]any{
				"created_utc":  child.Data.CreatedUTC,
				"score":        child.Data.Score,
				"upvote_ratio": child.Data.UpvoteRatio,
			},
			FetchedAt: now,
		}
		posts = append(posts, post)
	}

	r.log.WithFields(logrus.Fields{
		"post_count": len(posts),
		"subreddit":  subreddit,
	}).Info("Fetched hot posts from Reddit")

	return posts, nil
}
