package ingestion

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

const userAgent = "Mozilla/5.0 (compatible; draftdesk/1.0; +https://allfoodsicily.it)"

// maxBodyBytes caps a single page or feed download.
const maxBodyBytes = 8 << 20

// Fetcher retrieves the current items of one source. Implementations return
// tagged *models.Error values so the collector can decide whether to retry.
type Fetcher interface {
	Fetch(ctx context.Context, source models.Source) ([]models.RawItem, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, source models.Source) ([]models.RawItem, error)

func (f FetcherFunc) Fetch(ctx context.Context, source models.Source) ([]models.RawItem, error) {
	return f(ctx, source)
}

// StrategyFetcher dispatches each source to the feed or page fetcher by kind.
type StrategyFetcher struct {
	Feed Fetcher
	Page Fetcher
}

// NewStrategyFetcher wires the feed and page fetchers around one HTTP client.
func NewStrategyFetcher(client *http.Client, maxItems int) *StrategyFetcher {
	return &StrategyFetcher{
		Feed: NewFeedFetcher(client, maxItems),
		Page: NewPageFetcher(client, maxItems),
	}
}

// Fetch implements Fetcher.
func (s *StrategyFetcher) Fetch(ctx context.Context, source models.Source) ([]models.RawItem, error) {
	switch source.Kind {
	case models.SourceKindFeed:
		return s.Feed.Fetch(ctx, source)
	case models.SourceKindPage, "":
		return s.Page.Fetch(ctx, source)
	default:
		return nil, models.NewError(models.ErrorKindMalformed, "fetch "+source.Name,
			fmt.Errorf("unsupported source kind %q", source.Kind))
	}
}

// download performs a GET and classifies every failure into an error kind.
func download(ctx context.Context, client *http.Client, op, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, models.NewError(models.ErrorKindMalformed, op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "it-IT,it;q=0.9,en;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		kind := models.KindForHTTPStatus(resp.StatusCode)
		if kind == models.ErrorKindRateLimited {
			return nil, models.RateLimited(op, statusErr, models.ParseRetryAfter(resp.Header.Get("Retry-After")))
		}
		return nil, models.NewError(kind, op, statusErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(op, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func classifyTransportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.NewError(models.ErrorKindTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewError(models.ErrorKindTimeout, op, err)
	}
	return models.NewError(models.ErrorKindNetwork, op, err)
}

// itemID derives a stable identifier from the item's link and title so that
// the same article fetched twice maps to the same ID.
func itemID(source, link, title string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + link + "\x00" + title))
	return fmt.Sprintf("%x", sum[:8])
}

// DefaultHTTPClient is used by the fetchers when the caller passes nil.
var DefaultHTTPClient = &http.Client{Timeout: 30 * time.Second}
