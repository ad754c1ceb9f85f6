package generation

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

type generatorFunc func(ctx context.Context, topic models.Topic) Result

func (f generatorFunc) Generate(ctx context.Context, topic models.Topic) Result {
	return f(ctx, topic)
}

func topics(n int) []models.Topic {
	out := make([]models.Topic, n)
	for i := range out {
		out[i] = models.Topic{ID: fmt.Sprintf("t%d", i), Title: fmt.Sprintf("topic %d", i)}
	}
	return out
}

func itemResult(topic models.Topic) Result {
	return Result{Topic: topic, Item: &models.GeneratedItem{Topic: topic, Draft: "bozza " + topic.Title}}
}

func TestBatchPreservesTopicOrder(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, topic models.Topic) Result {
		// Later topics finish first.
		var idx int
		fmt.Sscanf(topic.ID, "t%d", &idx)
		time.Sleep(time.Duration(5-idx) * 3 * time.Millisecond)
		return itemResult(topic)
	})

	res := NewBatch(gen, BatchConfig{MaxConcurrent: 5, Timeout: time.Second}, testLogger()).Run(context.Background(), topics(5))

	if len(res.Items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(res.Items))
	}
	for i, item := range res.Items {
		if want := fmt.Sprintf("t%d", i); item.Topic.ID != want {
			t.Errorf("item %d is %s, want %s", i, item.Topic.ID, want)
		}
	}
}

func TestBatchBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	gen := generatorFunc(func(ctx context.Context, topic models.Topic) Result {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return itemResult(topic)
	})

	res := NewBatch(gen, BatchConfig{MaxConcurrent: 3}, testLogger()).Run(context.Background(), topics(10))

	if len(res.Items) != 10 {
		t.Fatalf("expected 10 items, got %d", len(res.Items))
	}
	if peak.Load() > 3 {
		t.Errorf("peak concurrency %d exceeds 3", peak.Load())
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, topic models.Topic) Result {
		if topic.ID == "t1" {
			return Result{Topic: topic, Failures: []models.FailureRecord{{
				Stage: models.StageGenerateText, Identity: topic.Title, Kind: models.ErrorKindSafety,
			}}}
		}
		if topic.ID == "t2" {
			panic("boom")
		}
		return itemResult(topic)
	})

	res := NewBatch(gen, DefaultBatchConfig(), testLogger()).Run(context.Background(), topics(4))

	if len(res.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(res.Items))
	}
	if len(res.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %v", res.Failures)
	}
	if res.Failures[0].Kind != models.ErrorKindSafety || res.Failures[1].Kind != models.ErrorKindUnknown {
		t.Errorf("failures out of topic order: %v", res.Failures)
	}
}

func TestBatchTimeoutRecordsStragglers(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	gen := generatorFunc(func(ctx context.Context, topic models.Topic) Result {
		if topic.ID == "t2" {
			<-release
		}
		return itemResult(topic)
	})

	start := time.Now()
	res := NewBatch(gen, BatchConfig{MaxConcurrent: 3, Timeout: 50 * time.Millisecond}, testLogger()).Run(context.Background(), topics(3))

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("batch waited for the straggler: %v", elapsed)
	}
	if len(res.Items) != 2 {
		t.Errorf("expected 2 finished items, got %d", len(res.Items))
	}
	if res.TimedOut != 1 || len(res.Failures) != 1 {
		t.Fatalf("expected one timeout failure, got %v", res.Failures)
	}
	if f := res.Failures[0]; f.Kind != models.ErrorKindTimeout || f.Identity != "topic 2" {
		t.Errorf("unexpected failure %+v", f)
	}
}

func TestBatchEmpty(t *testing.T) {
	res := NewBatch(generatorFunc(func(context.Context, models.Topic) Result {
		t.Fatal("generator should not be called")
		return Result{}
	}), DefaultBatchConfig(), testLogger()).Run(context.Background(), nil)

	if len(res.Items) != 0 || len(res.Failures) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}
