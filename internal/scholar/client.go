// Package scholar talks to the Semantic Scholar Graph and
// Recommendations APIs and exposes the results as callable tools.
package scholar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultGraphURL is the production Graph API endpoint.
	DefaultGraphURL = "https://api.semanticscholar.org/graph/v1"
	// DefaultRecommendationsURL is the production Recommendations API
	// endpoint.
	DefaultRecommendationsURL = "https://api.semanticscholar.org/recommendations/v1"

	// The API caps pages at 100 entries.
	maxPageSize = 100

	requestTimeout = 30 * time.Second
	maxRetries     = 3
)

// defaultFields is the field selection requested on paper endpoints.
var defaultFields = []string{
	"paperId", "title", "abstract", "year", "venue",
	"citationCount", "url", "authors", "externalIds", "openAccessPdf",
}

// apiError is the error envelope the API returns on non-2xx responses.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusError reports a non-2xx API response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("semantic scholar api: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("semantic scholar api: %d", e.StatusCode)
}

// Client is a rate-limited Semantic Scholar API client. Unkeyed access
// shares a global pool, so requests are throttled client-side and
// retried on 429.
type Client struct {
	httpClient *http.Client
	log        *slog.Logger
	limiter    *rate.Limiter

	apiKey   string
	graphURL string
	recsURL  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey attaches an x-api-key header to every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithBaseURLs overrides the API endpoints, primarily for tests.
func WithBaseURLs(graphURL, recsURL string) ClientOption {
	return func(c *Client) {
		c.graphURL = strings.TrimRight(graphURL, "/")
		c.recsURL = strings.TrimRight(recsURL, "/")
	}
}

// WithClientLogger sets the logger for request diagnostics.
func WithClientLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client throttled to 5 requests per second.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        slog.Default(),
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		graphURL:   DefaultGraphURL,
		recsURL:    DefaultRecommendationsURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if attempt > 0 {
			backoff := time.Second << (attempt - 1)
			c.log.DebugContext(ctx, "scholar.retry",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			return json.Unmarshal(data, out)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = statusError(resp.StatusCode, data)
			continue
		default:
			return statusError(resp.StatusCode, data)
		}
	}
	return fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

func statusError(code int, body []byte) error {
	var envelope apiError
	_ = json.Unmarshal(body, &envelope)
	msg := envelope.Error
	if msg == "" {
		msg = envelope.Message
	}
	return &StatusError{StatusCode: code, Message: msg}
}

func (c *Client) get(ctx context.Context, rawURL string, query url.Values, out any) error {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, rawURL, nil, out)
}

func (c *Client) post(ctx context.Context, rawURL string, query url.Values, body, out any) error {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, rawURL, data, out)
}

func pageQuery(query string, offset, limit int, fields []string) url.Values {
	q := url.Values{
		"query":  {query},
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(limit)},
	}
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	return q
}

// SearchPapers returns one page of relevance-ranked paper results.
func (c *Client) SearchPapers(ctx context.Context, query string, offset, limit int) (*SearchResult, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	var result SearchResult
	err := c.get(ctx, c.graphURL+"/paper/search", pageQuery(query, offset, limit, defaultFields), &result)
	if err != nil {
		return nil, fmt.Errorf("searching papers: %w", err)
	}
	return &result, nil
}

// GetPaper fetches a single paper by any supported identifier
// (Semantic Scholar id, DOI:…, ARXIV:…).
func (c *Client) GetPaper(ctx context.Context, paperID string) (*Paper, error) {
	q := url.Values{"fields": {strings.Join(defaultFields, ",")}}
	var paper Paper
	err := c.get(ctx, c.graphURL+"/paper/"+url.PathEscape(paperID), q, &paper)
	if err != nil {
		return nil, fmt.Errorf("fetching paper %q: %w", paperID, err)
	}
	return &paper, nil
}

// GetPapersBatch fetches up to 500 papers in one call. The API returns
// null entries for unknown ids; those are dropped.
func (c *Client) GetPapersBatch(ctx context.Context, paperIDs []string) ([]Paper, error) {
	q := url.Values{"fields": {strings.Join(defaultFields, ",")}}
	var raw []*Paper
	err := c.post(ctx, c.graphURL+"/paper/batch", q, map[string]any{"ids": paperIDs}, &raw)
	if err != nil {
		return nil, fmt.Errorf("fetching paper batch: %w", err)
	}
	papers := make([]Paper, 0, len(raw))
	for _, p := range raw {
		if p != nil {
			papers = append(papers, *p)
		}
	}
	return papers, nil
}

// MatchPaperTitle returns the closest title match for a query.
func (c *Client) MatchPaperTitle(ctx context.Context, title string) (*Paper, error) {
	q := url.Values{
		"query":  {title},
		"fields": {strings.Join(defaultFields, ",")},
	}
	// The match endpoint wraps its single hit in a data array.
	var result struct {
		Data []Paper `json:"data"`
	}
	err := c.get(ctx, c.graphURL+"/paper/search/match", q, &result)
	if err != nil {
		return nil, fmt.Errorf("matching title: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no match for title %q", title)
	}
	return &result.Data[0], nil
}

// SearchAuthors returns one page of author profiles matching a name.
func (c *Client) SearchAuthors(ctx context.Context, query string, offset, limit int) (*AuthorSearchResult, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	q := pageQuery(query, offset, limit, nil)
	q.Set("fields", "authorId,name,affiliations,hIndex,paperCount,citationCount")
	var result AuthorSearchResult
	err := c.get(ctx, c.graphURL+"/author/search", q, &result)
	if err != nil {
		return nil, fmt.Errorf("searching authors: %w", err)
	}
	return &result, nil
}

// AuthorPapers returns one page of an author's papers.
func (c *Client) AuthorPapers(ctx context.Context, authorID string, offset, limit int) (*SearchResult, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	q := url.Values{
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(limit)},
		"fields": {strings.Join(defaultFields, ",")},
	}
	var result SearchResult
	err := c.get(ctx, c.graphURL+"/author/"+url.PathEscape(authorID)+"/papers", q, &result)
	if err != nil {
		return nil, fmt.Errorf("fetching author papers: %w", err)
	}
	return &result, nil
}

// Recommendations returns papers similar to the given seed papers,
// ranked by embedding similarity.
func (c *Client) Recommendations(ctx context.Context, seedIDs []string, limit int) ([]Paper, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	q := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"fields": {strings.Join(defaultFields, ",")},
	}
	body := map[string]any{"positivePaperIds": seedIDs}
	var result struct {
		RecommendedPapers []Paper `json:"recommendedPapers"`
	}
	err := c.post(ctx, c.recsURL+"/papers", q, body, &result)
	if err != nil {
		return nil, fmt.Errorf("fetching recommendations: %w", err)
	}
	return result.RecommendedPapers, nil
}
