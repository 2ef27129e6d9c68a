// Package books provides the audiobook layer: Project Gutenberg search and
// import, chapter parsing, and in-memory storage of books, chapter audio,
// and word timings.
package books

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/akumar23/tts-webapp/logger"
)

const (
	// gutendexBaseURL is the free JSON API for the Project Gutenberg catalog.
	gutendexBaseURL = "https://gutendex.com"

	// defaultGutenbergTimeout bounds catalog and full-text fetches.
	defaultGutenbergTimeout = 30 * time.Second

	// maxBookTextBytes caps a full-text download. Gutenberg plain texts top
	// out around 10 MB; anything larger is not a book.
	maxBookTextBytes = 32 << 20
)

// SearchResult is one catalog hit from a Gutendex search.
type SearchResult struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Language      string   `json:"language"`
	Subjects      []string `json:"subjects"`
	DownloadCount int      `json:"download_count,omitempty"`
}

// BookMetadata is the subset of Gutendex book metadata the importer uses.
type BookMetadata struct {
	Title    string
	Author   string
	Language string
}

// GutenbergClient fetches catalog data and plain-text books from Gutendex.
type GutenbergClient struct {
	baseURL string
	client  *http.Client
}

// GutenbergOption configures a GutenbergClient.
type GutenbergOption func(*GutenbergClient)

// WithGutenbergBaseURL overrides the Gutendex endpoint (for tests).
func WithGutenbergBaseURL(baseURL string) GutenbergOption {
	return func(c *GutenbergClient) { c.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// WithGutenbergHTTPClient substitutes the HTTP client.
func WithGutenbergHTTPClient(client *http.Client) GutenbergOption {
	return func(c *GutenbergClient) { c.client = client }
}

// NewGutenbergClient creates a Gutendex client.
func NewGutenbergClient(opts ...GutenbergOption) *GutenbergClient {
	c := &GutenbergClient{
		baseURL: gutendexBaseURL,
		client:  &http.Client{Timeout: defaultGutenbergTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// gutendexBook mirrors the Gutendex book document.
type gutendexBook struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Languages     []string          `json:"languages"`
	Subjects      []string          `json:"subjects"`
	DownloadCount int               `json:"download_count"`
	Formats       map[string]string `json:"formats"`
}

func (b *gutendexBook) author() string {
	if len(b.Authors) == 0 || b.Authors[0].Name == "" {
		return "Unknown"
	}
	return b.Authors[0].Name
}

func (b *gutendexBook) language() string {
	if len(b.Languages) == 0 || b.Languages[0] == "" {
		return "en"
	}
	return b.Languages[0]
}

func (b *gutendexBook) title() string {
	if b.Title == "" {
		return "Unknown Title"
	}
	return b.Title
}

// Search queries the Gutendex catalog by title or author.
func (c *GutenbergClient) Search(ctx context.Context, query, language string, page int) ([]SearchResult, error) {
	if language == "" {
		language = "en"
	}
	if page < 1 {
		page = 1
	}

	params := url.Values{}
	params.Set("search", query)
	params.Set("languages", language)
	params.Set("page", strconv.Itoa(page))

	var payload struct {
		Results []gutendexBook `json:"results"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/books?"+params.Encode(), &payload); err != nil {
		logger.Error("gutenberg search failed", "query", query, "error", err)
		return nil, fmt.Errorf("searching gutenberg: %w", err)
	}

	results := make([]SearchResult, 0, len(payload.Results))
	for i := range payload.Results {
		book := &payload.Results[i]
		results = append(results, SearchResult{
			ID:            strconv.Itoa(book.ID),
			Title:         book.title(),
			Author:        book.author(),
			Language:      book.language(),
			Subjects:      book.Subjects,
			DownloadCount: book.DownloadCount,
		})
	}

	logger.Info("gutenberg search completed", "query", query, "results", len(results))
	return results, nil
}

// FetchBookText fetches a book's metadata and full plain text, preferring the
// UTF-8 plain-text format and falling back to any text/plain. The Project
// Gutenberg header and footer boilerplate is stripped.
func (c *GutenbergClient) FetchBookText(ctx context.Context, bookID string) (*BookMetadata, string, error) {
	var book gutendexBook
	if err := c.getJSON(ctx, c.baseURL+"/books/"+url.PathEscape(bookID), &book); err != nil {
		return nil, "", fmt.Errorf("fetching metadata for book %s: %w", bookID, err)
	}

	textURL := pickPlainTextURL(book.Formats)
	if textURL == "" {
		return nil, "", fmt.Errorf("no plain text format available for book %s", bookID)
	}

	text, err := c.getText(ctx, textURL)
	if err != nil {
		return nil, "", fmt.Errorf("fetching text for book %s: %w", bookID, err)
	}
	text = cleanGutenbergText(text)

	meta := &BookMetadata{
		Title:    book.title(),
		Author:   book.author(),
		Language: book.language(),
	}
	logger.Info("fetched gutenberg book", "book_id", bookID, "title", meta.Title, "text_length", len(text))
	return meta, text, nil
}

// pickPlainTextURL chooses the plain-text format URL, UTF-8 first.
func pickPlainTextURL(formats map[string]string) string {
	var fallback string
	for mime, u := range formats {
		if !strings.Contains(mime, "text/plain") {
			continue
		}
		if strings.Contains(strings.ToLower(mime), "utf-8") {
			return u
		}
		if fallback == "" {
			fallback = u
		}
	}
	return fallback
}

func (c *GutenbergClient) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gutendex returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *GutenbergClient) getText(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("text fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBookTextBytes))
	if err != nil {
		return "", fmt.Errorf("reading text: %w", err)
	}
	return string(data), nil
}

var (
	gutenbergStartMarker = regexp.MustCompile(`(?i)\*\*\* ?START OF (THE|THIS) PROJECT GUTENBERG EBOOK[^\n]*`)
	gutenbergEndMarker   = regexp.MustCompile(`(?i)(\*\*\* ?END OF (THE|THIS) PROJECT GUTENBERG EBOOK|End of (the )?Project Gutenberg)`)
)

// cleanGutenbergText strips the licensing boilerplate Project Gutenberg
// wraps around every text.
func cleanGutenbergText(text string) string {
	if loc := gutenbergStartMarker.FindStringIndex(text); loc != nil {
		if nl := strings.Index(text[loc[1]:], "\n"); nl != -1 {
			text = text[loc[1]+nl+1:]
		}
	}
	if loc := gutenbergEndMarker.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	return strings.TrimSpace(text)
}
