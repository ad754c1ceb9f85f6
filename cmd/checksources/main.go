// Command checksources fetches every configured source once and prints how
// many items each returned. It does not generate or deliver anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/ingestion"
	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/sources"
)

func main() {
	path := flag.String("sources", os.Getenv("SOURCES_FILE"), "YAML sources file; built-in defaults when empty")
	timeout := flag.Duration("timeout", 30*time.Second, "per-source timeout")
	flag.Parse()

	registry, err := sources.Load(*path)
	if err != nil {
		log.Fatalf("failed to load sources: %v", err)
	}

	fetcher := ingestion.NewStrategyFetcher(&http.Client{Timeout: *timeout}, 20)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tKIND\tITEMS\tELAPSED\tRESULT")

	failed := 0
	for _, source := range registry.Sources() {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		start := time.Now()
		items, err := fetcher.Fetch(ctx, source)
		cancel()

		result := "ok"
		if err != nil {
			failed++
			result = fmt.Sprintf("%s: %v", models.KindOf(err), err)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", source.Name, source.Kind, len(items), time.Since(start).Round(time.Millisecond), result)
	}
	w.Flush()

	fmt.Printf("\n%d/%d sources reachable\n", registry.Len()-failed, registry.Len())
	if failed == registry.Len() {
		os.Exit(1)
	}
}
