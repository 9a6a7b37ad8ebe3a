// Package wiki is the research-source client. It speaks the MediaWiki
// action API, which Fandom and most community wikis expose at /api.php.
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/loresmith/internal/fetch"
	"github.com/nugget/loresmith/internal/httpkit"
)

// DefaultLimit is the search result count when the caller passes zero.
const DefaultLimit = 10

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	PageID  int    `json:"pageid"`
	Snippet string `json:"snippet,omitempty"`
	Words   int    `json:"wordcount,omitempty"`
}

// Page is a fetched article reduced to readable text.
type Page struct {
	Title   string `json:"title"`
	PageID  int    `json:"pageid"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Client queries MediaWiki sites. The same client serves any number of
// wikis because each call names its base URL.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Client) { w.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Client) { w.logger = l }
}

// New creates a wiki client.
func New(opts ...Option) *Client {
	c := &Client{logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpkit.NewClient(
			httpkit.WithTimeout(20*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(c.logger),
		)
	}
	c.logger = c.logger.With("component", "wiki")
	return c
}

// APIEndpoint derives the api.php URL from whatever the user pasted:
// a site root, an article URL under /wiki/, or the endpoint itself.
func APIEndpoint(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("wiki: no research source configured")
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("wiki: invalid source url %q", base)
	}

	path := u.Path
	switch {
	case strings.HasSuffix(path, "/api.php"):
	case strings.Contains(path, "/wiki/"):
		path = path[:strings.Index(path, "/wiki/")] + "/api.php"
	case strings.HasSuffix(path, "/index.php"):
		path = strings.TrimSuffix(path, "index.php") + "api.php"
	default:
		path = strings.TrimRight(path, "/") + "/api.php"
	}

	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: path}).String(), nil
}

// ArticleURL is the human-facing URL for title on the wiki at base.
func ArticleURL(base, title string) string {
	api, err := APIEndpoint(base)
	if err != nil {
		return ""
	}
	root := strings.TrimSuffix(api, "/api.php")
	return root + "/wiki/" + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
}

type searchResponse struct {
	Query struct {
		Search []struct {
			Title     string `json:"title"`
			PageID    int    `json:"pageid"`
			Snippet   string `json:"snippet"`
			WordCount int    `json:"wordcount"`
		} `json:"search"`
	} `json:"query"`
	Error *apiError `json:"error"`
}

type parseResponse struct {
	Parse struct {
		Title  string `json:"title"`
		PageID int    `json:"pageid"`
		Text   string `json:"text"`
	} `json:"parse"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("wiki: %s: %s", e.Code, e.Info)
}

// Search runs a full-text search on the wiki at base.
func (c *Client) Search(ctx context.Context, base, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("wiki: query is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	params := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {strconv.Itoa(limit)},
		"format":   {"json"},
	}

	var sr searchResponse
	if err := c.get(ctx, base, params, &sr); err != nil {
		return nil, err
	}
	if sr.Error != nil {
		return nil, sr.Error
	}

	results := make([]Result, 0, len(sr.Query.Search))
	for _, hit := range sr.Query.Search {
		results = append(results, Result{
			Title:   hit.Title,
			PageID:  hit.PageID,
			Snippet: StripMarkup(hit.Snippet),
			Words:   hit.WordCount,
		})
	}

	c.logger.Debug("search complete", "source", base, "query", query, "results", len(results))
	return results, nil
}

// Page fetches an article by title, or by page id when titleOrID is
// numeric, following redirects.
func (c *Client) Page(ctx context.Context, base, titleOrID string) (*Page, error) {
	titleOrID = strings.TrimSpace(titleOrID)
	if titleOrID == "" {
		return nil, fmt.Errorf("wiki: title is required")
	}

	params := url.Values{
		"action":        {"parse"},
		"prop":          {"text"},
		"formatversion": {"2"},
		"redirects":     {"1"},
		"format":        {"json"},
	}
	if _, err := strconv.Atoi(titleOrID); err == nil {
		params.Set("pageid", titleOrID)
	} else {
		params.Set("page", titleOrID)
	}

	var pr parseResponse
	if err := c.get(ctx, base, params, &pr); err != nil {
		return nil, err
	}
	if pr.Error != nil {
		return nil, pr.Error
	}

	_, text := fetch.ExtractHTML(pr.Parse.Text)
	page := &Page{
		Title:   pr.Parse.Title,
		PageID:  pr.Parse.PageID,
		URL:     ArticleURL(base, pr.Parse.Title),
		Content: text,
	}

	c.logger.Debug("page fetched", "source", base, "title", page.Title, "length", len(page.Content))
	return page, nil
}

func (c *Client) get(ctx context.Context, base string, params url.Values, out any) error {
	endpoint, err := APIEndpoint(base)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("wiki: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wiki: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("wiki: HTTP %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("wiki: decode response: %w", err)
	}
	return nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripMarkup removes the highlight spans MediaWiki puts in snippets and
// decodes entities.
func StripMarkup(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// FormatResults renders hits as a numbered list for the model.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s (id %d)", i+1, r.Title, r.PageID)
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}
