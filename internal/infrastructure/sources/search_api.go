package sources

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"ConcertTracker/internal/domain"
	"ConcertTracker/internal/source"
)

// RateReport carries the budget state the search API reports on each
// response, so the shared limiter can be tightened when other consumers
// burn the same key.
type RateReport func(remaining int, resetAt time.Time)

// SearchAPIClient fetches posts from the external search API. It issues a
// broad query plus an official-accounts query, merges the pages, and
// classifies failures as transient (retryable) or permanent.
type SearchAPIClient struct {
	baseURL    string
	token      string
	client     *http.Client
	logger     *slog.Logger
	rateReport RateReport
}

var _ source.Strategy = (*SearchAPIClient)(nil)

// NewSearchAPIClient wires an HTTP client; rateReport may be nil.
func NewSearchAPIClient(baseURL, token string, client *http.Client, rateReport RateReport, logger *slog.Logger) *SearchAPIClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchAPIClient{
		baseURL:    baseURL,
		token:      token,
		client:     client,
		logger:     logger,
		rateReport: rateReport,
	}
}

// Name identifies the strategy inside the registry.
func (c *SearchAPIClient) Name() string {
	return "search"
}

// Fetch runs the broad and official queries for the entity and returns the
// merged, deduplicated posts. Official-query hits are flagged, as are
// posts authored by the entity's own handles.
func (c *SearchAPIClient) Fetch(ctx context.Context, req source.Request) ([]domain.Post, error) {
	posts, err := c.search(ctx, BuildQuery(req.Entity), req.SinceID, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("broad query: %w", err)
	}

	if official := BuildOfficialQuery(req.Entity); official != "" {
		officialPosts, err := c.search(ctx, official, req.SinceID, req.Limit/2)
		if err != nil {
			return nil, fmt.Errorf("official query: %w", err)
		}
		seen := map[string]struct{}{}
		for _, p := range posts {
			seen[p.ExternalID] = struct{}{}
		}
		for _, p := range officialPosts {
			if _, dup := seen[p.ExternalID]; dup {
				continue
			}
			p.Official = true
			posts = append(posts, p)
		}
	}

	for i := range posts {
		if req.Entity.IsOfficialHandle(posts[i].AuthorHandle) {
			posts[i].Official = true
		}
	}
	return posts, nil
}

type searchResponse struct {
	Data []struct {
		ID           string    `json:"id"`
		Text         string    `json:"text"`
		CreatedAt    time.Time `json:"created_at"`
		AuthorHandle string    `json:"author_handle"`
		AuthorName   string    `json:"author_name"`
		RetweetCount int       `json:"retweet_count"`
		LikeCount    int       `json:"like_count"`
	} `json:"data"`
}

func (c *SearchAPIClient) search(ctx context.Context, query, sinceID string, limit int) ([]domain.Post, error) {
	if limit <= 0 {
		limit = 100
	}

	endpoint, err := url.Parse(c.baseURL + "/search")
	if err != nil {
		return nil, &domain.PermanentFetchError{Err: fmt.Errorf("invalid base url %s: %w", c.baseURL, err)}
	}
	q := endpoint.Query()
	q.Set("query", query)
	q.Set("max_results", strconv.Itoa(limit))
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	endpoint.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &domain.TransientFetchError{Err: err}
	}
	defer resp.Body.Close()

	c.reportRate(resp)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &domain.TransientFetchError{Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, &domain.PermanentFetchError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientFetchError{Err: fmt.Errorf("read body: %w", err)}
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	posts := make([]domain.Post, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		posts = append(posts, domain.Post{
			ExternalID:   item.ID,
			Text:         item.Text,
			URL:          fmt.Sprintf("%s/posts/%s", c.baseURL, item.ID),
			AuthorHandle: item.AuthorHandle,
			AuthorName:   item.AuthorName,
			PublishedAt:  item.CreatedAt,
			Retweets:     item.RetweetCount,
			Likes:        item.LikeCount,
		})
	}
	return posts, nil
}

// reportRate forwards the API's own budget headers to the limiter hook.
func (c *SearchAPIClient) reportRate(resp *http.Response) {
	if c.rateReport == nil {
		return
	}
	remaining, err := strconv.Atoi(resp.Header.Get("X-Rate-Limit-Remaining"))
	if err != nil {
		return
	}
	resetUnix, err := strconv.ParseInt(resp.Header.Get("X-Rate-Limit-Reset"), 10, 64)
	if err != nil {
		return
	}
	c.rateReport(remaining, time.Unix(resetUnix, 0))
}
