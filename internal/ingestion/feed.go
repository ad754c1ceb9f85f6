package ingestion

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

// rssDocument is the RSS 2.0 envelope.
type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Content     string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

type atomDocument struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	ID        string     `xml:"id"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// feedEntry is the format-neutral view of an RSS item or Atom entry.
type feedEntry struct {
	title, link, body, published string
}

// FeedFetcher reads RSS 2.0 and Atom feeds.
type FeedFetcher struct {
	client   *http.Client
	maxItems int
	now      func() time.Time
}

// NewFeedFetcher creates a feed fetcher. A nil client uses DefaultHTTPClient;
// maxItems <= 0 keeps every entry.
func NewFeedFetcher(client *http.Client, maxItems int) *FeedFetcher {
	if client == nil {
		client = DefaultHTTPClient
	}
	return &FeedFetcher{client: client, maxItems: maxItems, now: time.Now}
}

// Fetch implements Fetcher.
func (f *FeedFetcher) Fetch(ctx context.Context, source models.Source) ([]models.RawItem, error) {
	op := "fetch feed " + source.Name

	body, err := download(ctx, f.client, op, source.URL)
	if err != nil {
		return nil, err
	}

	entries, err := parseFeed(body)
	if err != nil {
		return nil, models.NewError(models.ErrorKindMalformed, op, err)
	}

	fetchedAt := f.now().UTC()
	items := make([]models.RawItem, 0, len(entries))
	for _, entry := range entries {
		link := strings.TrimSpace(entry.link)
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			continue
		}

		title := cleanText(entry.title)
		if title == "" {
			continue
		}

		published, ok := parsePubDate(entry.published)
		if !ok {
			published = fetchedAt
		}

		items = append(items, models.RawItem{
			ID:          itemID(source.Name, link, title),
			Source:      source.Name,
			Category:    source.Category,
			Title:       title,
			Body:        cleanText(entry.body),
			URL:         link,
			PublishedAt: published,
		})

		if f.maxItems > 0 && len(items) >= f.maxItems {
			break
		}
	}

	return items, nil
}

// parseFeed tries RSS first, then Atom. A feed with no entries is malformed.
func parseFeed(body []byte) ([]feedEntry, error) {
	var rss rssDocument
	rssErr := xml.Unmarshal(body, &rss)
	if rssErr == nil && len(rss.Channel.Items) > 0 {
		entries := make([]feedEntry, 0, len(rss.Channel.Items))
		for _, item := range rss.Channel.Items {
			link := item.Link
			if strings.TrimSpace(link) == "" {
				link = item.GUID
			}
			body := item.Content
			if strings.TrimSpace(body) == "" {
				body = item.Description
			}
			entries = append(entries, feedEntry{title: item.Title, link: link, body: body, published: item.PubDate})
		}
		return entries, nil
	}

	var atom atomDocument
	atomErr := xml.Unmarshal(body, &atom)
	if atomErr == nil && len(atom.Entries) > 0 {
		entries := make([]feedEntry, 0, len(atom.Entries))
		for _, entry := range atom.Entries {
			published := entry.Published
			if published == "" {
				published = entry.Updated
			}
			body := entry.Content
			if strings.TrimSpace(body) == "" {
				body = entry.Summary
			}
			entries = append(entries, feedEntry{title: entry.Title, link: entry.alternateLink(), body: body, published: published})
		}
		return entries, nil
	}

	if rssErr != nil && atomErr != nil {
		return nil, fmt.Errorf("parse as RSS (%v) or Atom (%v)", rssErr, atomErr)
	}
	return nil, fmt.Errorf("feed contains no items")
}

func (e atomEntry) alternateLink() string {
	for _, link := range e.Links {
		if link.Rel == "" || link.Rel == "alternate" {
			return link.Href
		}
	}
	if len(e.Links) > 0 {
		return e.Links[0].Href
	}
	return e.ID
}

var pubDateFormats = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parsePubDate understands the RSS and Atom date layouts seen in Italian
// publisher feeds. Zone-less values are read as UTC.
func parsePubDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range pubDateFormats {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// cleanText strips markup and collapses whitespace.
func cleanText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if strings.ContainsAny(text, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			text = doc.Text()
		}
	}
	return strings.Join(strings.Fields(text), " ")
}
