package ingestion

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

// headlineSelectors are tried in order when a listing page has no <article> blocks.
var headlineSelectors = []string{"h2 a[href]", "h3 a[href]", ".entry-title a[href]", ".post-title a[href]"}

// PageFetcher scrapes a listing page of an Italian news site.
type PageFetcher struct {
	client   *http.Client
	maxItems int
	now      func() time.Time
}

// NewPageFetcher creates a page fetcher. A nil client uses DefaultHTTPClient.
func NewPageFetcher(client *http.Client, maxItems int) *PageFetcher {
	if client == nil {
		client = DefaultHTTPClient
	}
	return &PageFetcher{client: client, maxItems: maxItems, now: time.Now}
}

// Fetch implements Fetcher.
func (p *PageFetcher) Fetch(ctx context.Context, source models.Source) ([]models.RawItem, error) {
	op := "fetch page " + source.Name

	body, err := download(ctx, p.client, op, source.URL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, models.NewError(models.ErrorKindMalformed, op, err)
	}

	base, err := url.Parse(source.URL)
	if err != nil {
		return nil, models.NewError(models.ErrorKindMalformed, op, err)
	}

	return p.extract(doc, base, source), nil
}

func (p *PageFetcher) extract(doc *goquery.Document, base *url.URL, source models.Source) []models.RawItem {
	fetchedAt := p.now().UTC()
	seen := map[string]struct{}{}
	var items []models.RawItem

	add := func(title, href, summary, published string) bool {
		title = cleanText(title)
		link := resolveLink(base, href)
		if title == "" || link == "" {
			return true
		}
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}

		at, ok := parsePubDate(published)
		if !ok {
			at = fetchedAt
		}

		items = append(items, models.RawItem{
			ID:          itemID(source.Name, link, title),
			Source:      source.Name,
			Category:    source.Category,
			Title:       title,
			Body:        cleanText(summary),
			URL:         link,
			PublishedAt: at,
		})
		return p.maxItems <= 0 || len(items) < p.maxItems
	}

	articles := doc.Find("article")
	if articles.Length() > 0 {
		articles.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			heading := sel.Find("h1, h2, h3, h4").First()
			link := heading.Find("a[href]").First()
			if link.Length() == 0 {
				link = sel.Find("a[href]").First()
			}
			href, _ := link.Attr("href")

			title := heading.Text()
			if strings.TrimSpace(title) == "" {
				title = link.Text()
			}

			published, _ := sel.Find("time[datetime]").First().Attr("datetime")
			summary := sel.Find("p").First().Text()

			return add(title, href, summary, published)
		})
		return items
	}

	for _, selector := range headlineSelectors {
		done := false
		doc.Find(selector).EachWithBreak(func(_ int, link *goquery.Selection) bool {
			href, _ := link.Attr("href")
			if !add(link.Text(), href, "", "") {
				done = true
				return false
			}
			return true
		})
		if done {
			break
		}
	}

	return items
}

// resolveLink turns an href into an absolute http(s) URL on any host.
func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}
