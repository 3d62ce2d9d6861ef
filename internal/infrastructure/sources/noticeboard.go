package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ConcertTracker/internal/domain"
	"ConcertTracker/internal/source"
)

// NoticeBoardScanner scrapes an entity's official announcement page as an
// additional post source. Entities without a configured notice URL are
// skipped.
type NoticeBoardScanner struct {
	client *http.Client
}

var _ source.Strategy = (*NoticeBoardScanner)(nil)

// NewNoticeBoardScanner wires an HTTP client.
func NewNoticeBoardScanner(client *http.Client) *NoticeBoardScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &NoticeBoardScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (n *NoticeBoardScanner) Name() string {
	return "noticeboard"
}

// Fetch loads the notice page and extracts announcement items. Notices are
// always treated as official; SinceID cuts off already-stored items.
func (n *NoticeBoardScanner) Fetch(ctx context.Context, req source.Request) ([]domain.Post, error) {
	if req.Entity.NoticeURL == "" {
		return nil, nil
	}

	doc, err := n.fetchDocument(ctx, req.Entity.NoticeURL)
	if err != nil {
		return nil, err
	}

	var posts []domain.Post
	doc.Find(".notice-list .notice-item").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		post, ok := parseNotice(item, req.Entity)
		if !ok {
			return true
		}
		if req.SinceID != "" && post.ExternalID == req.SinceID {
			return false
		}
		posts = append(posts, post)
		if req.Limit > 0 && len(posts) >= req.Limit {
			return false
		}
		return true
	})

	return posts, nil
}

func (n *NoticeBoardScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "ConcertTracker/1.0")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, &domain.TransientFetchError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, &domain.TransientFetchError{Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, &domain.PermanentFetchError{Status: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse notice page: %w", err)
	}
	return doc, nil
}

func parseNotice(item *goquery.Selection, entity domain.TrackedEntity) (domain.Post, bool) {
	id, _ := item.Attr("data-id")
	if id == "" {
		if href, exists := item.Find("a").First().Attr("href"); exists {
			id = href
		}
	}
	if id == "" {
		return domain.Post{}, false
	}

	text := strings.TrimSpace(item.Find(".notice-title").First().Text())
	if body := strings.TrimSpace(item.Find(".notice-body").First().Text()); body != "" {
		text = strings.TrimSpace(text + " " + body)
	}
	if text == "" {
		return domain.Post{}, false
	}

	publishedAt := time.Now().UTC()
	if raw, exists := item.Find("time").First().Attr("datetime"); exists {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			publishedAt = parsed
		}
	}

	return domain.Post{
		ExternalID:   "notice:" + id,
		Text:         text,
		URL:          entity.NoticeURL,
		AuthorHandle: entity.Handle,
		PublishedAt:  publishedAt,
		Official:     true,
	}, true
}
