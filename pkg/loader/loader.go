package loader

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// Source is one fetched page ready for ingestion.
type Source struct {
	URL     string
	Title   string
	Content string
}

type LoaderConfig struct {
	BaseURL        string
	MaxDepth       int
	RateLimit      float64 // requests per second
	IgnorePatterns []string
	Timeout        time.Duration
	OnProgress     func(url string)
}

// Loader fetches web pages and strips them to plain text so they can
// be fed to the indexing pipeline with source URL and title attached.
type Loader struct {
	config   LoaderConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
	logger   *slog.Logger
}

func NewWithConfig(config LoaderConfig) (*Loader, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}

	return &Loader{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		visited:  make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
		logger:   slog.Default().With("component", "loader"),
	}, nil
}

// Load fetches the page at url and, up to MaxDepth, the same-host
// pages it links to.
func (l *Loader) Load(ctx context.Context, url string) ([]Source, error) {
	var sources []Source
	err := l.loadRecursive(ctx, url, 0, &sources)
	return sources, err
}

func (l *Loader) loadRecursive(ctx context.Context, urlStr string, depth int, sources *[]Source) error {
	if depth > l.config.MaxDepth || l.visited[urlStr] {
		return nil
	}
	if !l.shouldFetch(urlStr) {
		return nil
	}

	l.visited[urlStr] = true
	if l.config.OnProgress != nil {
		l.config.OnProgress(urlStr)
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return err
	}

	*sources = append(*sources, Source{
		URL:     urlStr,
		Title:   strings.TrimSpace(doc.Find("title").Text()),
		Content: extractMainContent(doc),
	})

	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, found := selection.Attr("href")
		if !found {
			return
		}

		absoluteURL, err := url.Parse(href)
		if err != nil {
			return
		}
		if !absoluteURL.IsAbs() {
			base, err := url.Parse(urlStr)
			if err != nil {
				return
			}
			absoluteURL = base.ResolveReference(absoluteURL)
		}

		if err := l.loadRecursive(ctx, absoluteURL.String(), depth+1, sources); err != nil {
			l.logger.Debug("skipping linked page", "url", absoluteURL.String(), "err", err)
		}
	})

	return nil
}

func (l *Loader) shouldFetch(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if parsedURL.Host != l.baseHost {
		return false
	}
	for _, pattern := range l.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}
	return true
}

func extractMainContent(doc *goquery.Document) string {
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if content == "" {
		content = doc.Find("body").Text()
	}

	content = strings.Join(strings.Fields(content), " ")
	return strings.TrimSpace(content)
}
