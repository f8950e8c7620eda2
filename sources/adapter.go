package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/amirariff91/lawkita-sub001/models"
	"github.com/amirariff91/lawkita-sub001/storage"
)

// minContentChars filters out navigation shells and stub pages that
// normalize to almost no text.
const minContentChars = 200

// FetchResult is the outcome of crawling one source. Pages that failed to
// fetch or parse are counted in Skipped, not surfaced as errors.
type FetchResult struct {
	Documents []models.RawDocument
	Skipped   int
}

// Adapter fetches raw documents from an external source and normalizes
// them into the common RawDocument shape. It keeps no local state beyond
// the HTTP client.
type Adapter struct {
	client    *http.Client
	archive   storage.Storage
	userAgent string
	log       *logrus.Entry
}

// NewAdapter creates a source adapter with the given per-request timeout.
// A non-nil archive retains the raw HTML body of every kept document,
// keyed by document ID, for later re-processing.
func NewAdapter(timeout time.Duration, archive storage.Storage) *Adapter {
	return &Adapter{
		client:    &http.Client{Timeout: timeout},
		archive:   archive,
		userAgent: "lawkita-ingest/1.0",
		log:       logrus.WithField("component", "source_adapter"),
	}
}

type crawlItem struct {
	url   string
	depth int
}

// Fetch crawls the source breadth-first up to its depth and page limits
// and returns at most limit normalized documents. Individual page
// failures are soft skips; only a fully unreachable source returns an
// error.
func (a *Adapter) Fetch(ctx context.Context, src Source, limit int) (*FetchResult, error) {
	base, err := url.Parse(src.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL for source %s: %w", src.ID, err)
	}

	queue := make([]crawlItem, 0, len(src.SeedPaths))
	for _, seed := range src.SeedPaths {
		queue = append(queue, crawlItem{url: src.BaseURL + seed, depth: 0})
	}

	result := &FetchResult{}
	visited := make(map[string]bool)
	var pagesFetched, failures int
	var lastErr error

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if limit > 0 && len(result.Documents) >= limit {
			break
		}
		if src.PageLimit > 0 && pagesFetched+failures >= src.PageLimit {
			break
		}

		item := queue[0]
		queue = queue[1:]
		if visited[item.url] {
			continue
		}
		visited[item.url] = true

		page, err := a.fetchPage(ctx, item.url)
		if err != nil {
			failures++
			lastErr = err
			a.log.WithError(err).WithField("url", item.url).Warn("page unavailable, skipping")
			result.Skipped++
			continue
		}
		pagesFetched++

		if item.depth < src.MaxDepth {
			for _, link := range page.links {
				if followable(link, base, src) && !visited[link] {
					queue = append(queue, crawlItem{url: link, depth: item.depth + 1})
				}
			}
		}

		if !keepable(item.url, src) {
			continue
		}
		if len(page.content) < minContentChars {
			result.Skipped++
			continue
		}

		doc := models.RawDocument{
			ID:        uuid.New(),
			SourceID:  src.ID,
			URL:       item.url,
			Title:     page.title,
			Content:   page.content,
			FetchedAt: time.Now().UTC(),
		}
		a.archiveRawBody(ctx, doc.ID, page.raw)
		result.Documents = append(result.Documents, doc)
	}

	if pagesFetched == 0 && failures > 0 {
		return nil, fmt.Errorf("source %s unreachable: %w", src.ID, lastErr)
	}

	a.log.WithFields(logrus.Fields{
		"source":    src.ID,
		"documents": len(result.Documents),
		"skipped":   result.Skipped,
		"pages":     pagesFetched,
	}).Info("source crawl finished")

	return result, nil
}

type fetchedPage struct {
	title   string
	content string
	links   []string
	raw     []byte
}

// archiveRawBody retains the fetched HTML for re-processing. Best-effort:
// archive failures are logged, never propagated.
func (a *Adapter) archiveRawBody(ctx context.Context, docID uuid.UUID, body []byte) {
	if a.archive == nil || len(body) == 0 {
		return
	}
	key := storage.RawKey(docID)
	if _, err := a.archive.Put(ctx, key, bytes.NewReader(body)); err != nil {
		a.log.WithError(err).WithField("key", key).Warn("failed to archive raw document")
	}
}

func (a *Adapter) fetchPage(ctx context.Context, pageURL string) (*fetchedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, pageURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	page := &fetchedPage{
		title: strings.TrimSpace(doc.Find("title").First().Text()),
		raw:   body,
	}

	pageBase, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := pageBase.ResolveReference(ref)
		abs.Fragment = ""
		if abs.Scheme == "http" || abs.Scheme == "https" {
			page.links = append(page.links, abs.String())
		}
	})

	md, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", pageURL, err)
	}
	page.content = strings.TrimSpace(md)

	return page, nil
}

// followable reports whether a discovered link should be enqueued:
// same host, not excluded.
func followable(link string, base *url.URL, src Source) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if u.Host != base.Host {
		return false
	}
	for _, pattern := range src.ExcludePatterns {
		if strings.Contains(u.Path, pattern) {
			return false
		}
	}
	return true
}

// keepable reports whether a fetched page should become a document:
// matches an include pattern (if any are set), passes excludes, and
// matches the state filter (if set).
func keepable(pageURL string, src Source) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)

	for _, pattern := range src.ExcludePatterns {
		if strings.Contains(path, pattern) {
			return false
		}
	}

	if len(src.IncludePatterns) > 0 {
		matched := false
		for _, pattern := range src.IncludePatterns {
			if strings.Contains(path, pattern) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(src.StateFilters) > 0 {
		matched := false
		for _, state := range src.StateFilters {
			if strings.Contains(path, state) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}
