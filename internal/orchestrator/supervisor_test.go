package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/delivery"
	"github.com/allfoodsicily/draftdesk/internal/generation"
	"github.com/allfoodsicily/draftdesk/internal/ingestion"
	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/retry"
	"github.com/allfoodsicily/draftdesk/internal/selection"
	"github.com/allfoodsicily/draftdesk/internal/sources"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
}

var testNow = time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)

// stories maps each answering source to one of four distinct stories.
var stories = map[string]struct{ title, body, extra string }{
	"Giornale di Sicilia":        {"Sagra del pistacchio verde a Bronte", "Degustazioni gelati granite pistacchio verde Bronte ottobre", "edizione"},
	"Cronache di Gusto":          {"Sagra del pistacchio verde a Bronte", "Degustazioni gelati granite pistacchio verde Bronte ottobre", "programma"},
	"LiveSicilia":                {"Cannoli di Piana degli Albanesi premiati", "Ricotta pasticceri cialde cannoli Piana Albanesi premio", "giuria"},
	"Sicilia da Gustare":         {"Cannoli di Piana degli Albanesi premiati", "Ricotta pasticceri cialde cannoli Piana Albanesi premio", "concorso"},
	"Balarm":                     {"Mattanza e tonno rosso a Favignana", "Tonnara pescatori tonno rosso Favignana stagione", "barche"},
	"Culture & Terroir":          {"Mattanza e tonno rosso a Favignana", "Tonnara pescatori tonno rosso Favignana stagione", "tradizione"},
	"Sapori e Saperi di Sicilia": {"Vendemmia notturna sull'Etna", "Cantine vulcano nerello mascalese vendemmia notturna", "grappoli"},
}

// scenarioFetcher answers seven sources and hangs on BlogSicilia until the
// per-source deadline expires.
func scenarioFetcher() ingestion.Fetcher {
	return ingestion.FetcherFunc(func(ctx context.Context, src models.Source) ([]models.RawItem, error) {
		story, ok := stories[src.Name]
		if !ok {
			<-ctx.Done()
			return nil, models.NewError(models.ErrorKindTimeout, "fetch "+src.Name, ctx.Err())
		}
		slug := strings.ToLower(strings.ReplaceAll(src.Name, " ", "-"))
		return []models.RawItem{{
			ID:          "item-" + slug,
			Title:       story.title,
			Body:        story.body + " " + story.extra,
			URL:         "https://" + slug + ".example/articolo",
			PublishedAt: testNow.Add(-time.Hour),
		}}, nil
	})
}

type fakeText struct {
	mu    sync.Mutex
	calls []string
	err   error
	check func(ctx context.Context)
}

func (f *fakeText) GenerateText(ctx context.Context, topic models.Topic, _ string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, topic.Title)
	f.mu.Unlock()
	if f.check != nil {
		f.check(ctx)
	}
	if f.err != nil {
		return "", f.err
	}
	return "# " + topic.Title + "\n\n" + strings.Repeat("parola ", 600), nil
}

// fakeImage refuses any prompt mentioning refuse.
type fakeImage struct {
	refuse string
}

func (f fakeImage) GenerateImage(_ context.Context, prompt string) (generation.Image, error) {
	if f.refuse != "" && strings.Contains(prompt, f.refuse) {
		return generation.Image{}, models.NewError(models.ErrorKindSafety, "generate image", errors.New("content policy"))
	}
	return generation.Image{Data: []byte("\x89PNG\r\n\x1a\n"), MIME: "image/png"}, nil
}

// lockedBuffer collects log output from concurrent stages.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeBackend struct {
	mu         sync.Mutex
	artifacts  []delivery.Artifact
	messages   []string
	messageErr error
}

func (f *fakeBackend) SendArtifact(_ context.Context, a delivery.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts = append(f.artifacts, a)
	return nil
}

func (f *fakeBackend) SendMessage(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messageErr != nil {
		return f.messageErr
	}
	f.messages = append(f.messages, text)
	return nil
}

type memoryHistory struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	runs  []string
	count int
}

func (h *memoryHistory) Published(context.Context) (map[string]struct{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]struct{}, len(h.seen))
	for k := range h.seen {
		out[k] = struct{}{}
	}
	return out, nil
}

func (h *memoryHistory) Record(_ context.Context, runID string, topics []models.Topic) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen == nil {
		h.seen = make(map[string]struct{})
	}
	for _, topic := range topics {
		for _, fp := range selection.TopicFingerprints(topic) {
			h.seen[fp] = struct{}{}
		}
	}
	h.runs = append(h.runs, runID)
	h.count += len(topics)
	return nil
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []Transition
	rejected    []Trigger
}

func (o *recordingObserver) Transition(t Transition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, t)
}

func (o *recordingObserver) Rejected(trigger Trigger) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, trigger)
}

func (o *recordingObserver) states() []models.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := []models.RunState{models.RunStateIdle}
	for _, t := range o.transitions {
		out = append(out, t.To)
	}
	return out
}

type harness struct {
	supervisor *Supervisor
	text       *fakeText
	backend    *fakeBackend
	history    *memoryHistory
	observer   *recordingObserver
	logs       *lockedBuffer
}

func newHarness(t *testing.T, mutate func(*Dependencies)) *harness {
	t.Helper()
	reg, err := sources.Load("")
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	h := &harness{
		text:     &fakeText{},
		backend:  &fakeBackend{},
		history:  &memoryHistory{},
		observer: &recordingObserver{},
		logs:     &lockedBuffer{},
	}
	logger := slog.New(slog.NewTextHandler(h.logs, nil))

	collectorCfg := ingestion.CollectorConfig{ConcurrentFetches: 8, FetchTimeout: 100 * time.Millisecond, RetryPolicy: fastPolicy()}
	genCfg := generation.DefaultGeneratorConfig()
	genCfg.RetryPolicy = fastPolicy()
	generator := generation.NewGenerator(h.text, fakeImage{}, genCfg, logger)

	selCfg := selection.DefaultConfig()
	selCfg.MinTopics, selCfg.MaxTopics = 3, 5

	deps := Dependencies{
		Registry:   reg,
		Collector:  ingestion.NewCollector(scenarioFetcher(), logger, collectorCfg),
		Selection:  selCfg,
		Generator:  generation.NewBatch(generator, generation.BatchConfig{MaxConcurrent: 3, Timeout: 5 * time.Second}, logger),
		Dispatcher: delivery.NewDispatcher(h.backend, delivery.NewRenderer(time.UTC), fastPolicy(), logger),
		History:    h.history,
		Observers:  []Observer{h.observer},
		Now:        func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&deps)
	}

	h.supervisor = New(deps, logger)
	return h
}

func TestScheduledRunScenario(t *testing.T) {
	h := newHarness(t, nil)

	report, err := h.supervisor.Run(context.Background(), Trigger{Kind: models.TriggerScheduled, Origin: "test"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := models.RunCounts{SourcesAttempted: 8, SourcesFailed: 1, TopicsSelected: 4, ItemsGenerated: 4, ItemsDelivered: 4}
	if report.Counts != want {
		t.Errorf("counts = %+v, want %+v", report.Counts, want)
	}
	if report.State != models.RunStateCompleted {
		t.Errorf("state = %s, want completed", report.State)
	}
	if len(report.Failures) != 1 || report.Failures[0].Identity != "BlogSicilia" || report.Failures[0].Kind != models.ErrorKindTimeout {
		t.Errorf("unexpected failures %+v", report.Failures)
	}
	for _, f := range report.Failures {
		if f.RunID != report.RunID {
			t.Errorf("failure without run id: %+v", f)
		}
	}

	if len(h.backend.artifacts) != 4 {
		t.Errorf("expected 4 artifacts, got %d", len(h.backend.artifacts))
	}
	if len(h.backend.messages) != 1 || !strings.Contains(h.backend.messages[0], "BlogSicilia") {
		t.Errorf("expected one summary naming the failed source, got %v", h.backend.messages)
	}

	wantStates := []models.RunState{
		models.RunStateIdle, models.RunStateCollecting, models.RunStateSelecting,
		models.RunStateGenerating, models.RunStateDelivering, models.RunStateCompleted,
	}
	if got := h.observer.states(); fmt.Sprint(got) != fmt.Sprint(wantStates) {
		t.Errorf("transitions = %v, want %v", got, wantStates)
	}

	if h.history.count != 4 {
		t.Errorf("expected 4 topics recorded in history, got %d", h.history.count)
	}
	last, ok := h.supervisor.LastReport()
	if !ok || last.RunID != report.RunID {
		t.Error("LastReport should return the finished run")
	}
	if h.supervisor.Busy() {
		t.Error("lock should be released")
	}
}

func TestScheduledRunSkipsPublishedStories(t *testing.T) {
	h := newHarness(t, nil)
	trigger := Trigger{Kind: models.TriggerScheduled}

	if _, err := h.supervisor.Run(context.Background(), trigger); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := h.supervisor.Run(context.Background(), trigger)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if report.Counts.TopicsSelected != 0 || report.Counts.ItemsDelivered != 0 {
		t.Errorf("second run should find nothing new, got %+v", report.Counts)
	}
	if report.State != models.RunStateCompleted {
		t.Errorf("state = %s, want completed", report.State)
	}
	if len(h.backend.messages) != 2 {
		t.Errorf("every run sends a summary, got %d", len(h.backend.messages))
	}
}

func TestScheduledRunWarnsOnTopicShortfall(t *testing.T) {
	h := newHarness(t, nil)
	trigger := Trigger{Kind: models.TriggerScheduled}

	if _, err := h.supervisor.Run(context.Background(), trigger); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if strings.Contains(h.logs.String(), "fewer topics than requested") {
		t.Fatal("four topics meet the minimum of three, no shortfall expected")
	}

	report, err := h.supervisor.Run(context.Background(), trigger)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.State != models.RunStateCompleted {
		t.Errorf("a shortfall must not fail the run, state = %s", report.State)
	}
	logs := h.logs.String()
	if !strings.Contains(logs, "fewer topics than requested") || !strings.Contains(logs, "min_topics=3") {
		t.Errorf("expected a shortfall warning, logs:\n%s", logs)
	}
}

func TestIllustrationFailureStaysWithItsTopic(t *testing.T) {
	tests := []struct {
		policy    generation.IllustrationPolicy
		generated int
		failed    int
		delivered int
	}{
		{policy: generation.IllustrationTextOnly, generated: 4, failed: 0, delivered: 4},
		{policy: generation.IllustrationDrop, generated: 3, failed: 1, delivered: 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			var text *fakeText
			h := newHarness(t, func(d *Dependencies) {
				text = &fakeText{}
				genCfg := generation.DefaultGeneratorConfig()
				genCfg.RetryPolicy = fastPolicy()
				genCfg.IllustrationPolicy = tt.policy
				generator := generation.NewGenerator(text, fakeImage{refuse: "Favignana"}, genCfg, testLogger())
				d.Generator = generation.NewBatch(generator, generation.BatchConfig{MaxConcurrent: 3, Timeout: 5 * time.Second}, testLogger())
			})

			report, err := h.supervisor.Run(context.Background(), Trigger{Kind: models.TriggerScheduled})
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}

			c := report.Counts
			if c.TopicsSelected != 4 || c.ItemsGenerated != tt.generated || c.ItemsFailed != tt.failed || c.ItemsDelivered != tt.delivered {
				t.Errorf("counts = %+v", c)
			}
			if report.State != models.RunStateCompleted {
				t.Errorf("state = %s, want completed", report.State)
			}
			if len(text.calls) != 4 {
				t.Errorf("every topic should be drafted, got %v", text.calls)
			}

			var imageFailures []models.FailureRecord
			for _, f := range report.Failures {
				if f.Stage == models.StageGenerateImage {
					imageFailures = append(imageFailures, f)
				}
			}
			if len(imageFailures) != 1 || imageFailures[0].Kind != models.ErrorKindSafety || !strings.Contains(imageFailures[0].Identity, "Favignana") {
				t.Errorf("expected one safety failure for the Favignana topic, got %+v", imageFailures)
			}
			if len(h.backend.artifacts) != tt.delivered {
				t.Errorf("expected %d artifacts, got %d", tt.delivered, len(h.backend.artifacts))
			}
		})
	}
}

func TestInteractiveRunBypassesCollection(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) {
		d.Collector = collectorFunc(func(context.Context, *sources.Registry) ingestion.CollectResult {
			t.Error("interactive runs must not collect")
			return ingestion.CollectResult{}
		})
	})

	report, err := h.supervisor.Run(context.Background(), Trigger{Kind: models.TriggerInteractive, Topic: "arancini di Catania"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := models.RunCounts{TopicsSelected: 1, ItemsGenerated: 1, ItemsDelivered: 1}
	if report.Counts != want {
		t.Errorf("counts = %+v, want %+v", report.Counts, want)
	}
	if report.Topic != "arancini di Catania" || report.Trigger != models.TriggerInteractive {
		t.Errorf("unexpected report header %+v", report)
	}
	if len(h.text.calls) != 1 || h.text.calls[0] != "arancini di Catania" {
		t.Errorf("unexpected generation calls %v", h.text.calls)
	}

	wantStates := []models.RunState{models.RunStateIdle, models.RunStateGenerating, models.RunStateDelivering, models.RunStateCompleted}
	if got := h.observer.states(); fmt.Sprint(got) != fmt.Sprint(wantStates) {
		t.Errorf("transitions = %v, want %v", got, wantStates)
	}
}

func TestInteractiveRunRecordsGenerationFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.text.err = models.NewError(models.ErrorKindSafety, "generate text", errors.New("blocked"))

	report, err := h.supervisor.Run(context.Background(), Trigger{Kind: models.TriggerInteractive, Topic: "cassata"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Counts.ItemsGenerated != 0 || report.Counts.ItemsFailed != 1 {
		t.Errorf("unexpected counts %+v", report.Counts)
	}
	if len(report.Failures) != 1 || report.Failures[0].Stage != models.StageGenerateText || report.Failures[0].Kind != models.ErrorKindSafety {
		t.Errorf("unexpected failures %+v", report.Failures)
	}
	if report.State != models.RunStateCompleted {
		t.Errorf("stage failures must not fail the run, state = %s", report.State)
	}
	if len(h.backend.artifacts) != 0 || len(h.backend.messages) != 1 {
		t.Errorf("expected only the summary, got %d artifacts %d messages", len(h.backend.artifacts), len(h.backend.messages))
	}
}

func TestBusyTriggerIsRejectedWithoutSideEffects(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	h := newHarness(t, func(d *Dependencies) {
		d.Generator = batchFunc(func(ctx context.Context, topics []models.Topic) generation.BatchResult {
			once.Do(func() { close(started) })
			<-release
			return generation.BatchResult{}
		})
	})

	ack, err := h.supervisor.Submit(context.Background(), Trigger{Kind: models.TriggerInteractive, Topic: "caponata"})
	if err != nil || !ack.Accepted || ack.RunID == "" {
		t.Fatalf("first submit: %+v, %v", ack, err)
	}
	<-started

	before, ok := h.supervisor.Current()
	if !ok {
		t.Fatal("expected a live run")
	}

	busy, err := h.supervisor.Submit(context.Background(), Trigger{Kind: models.TriggerScheduled})
	if err != nil || busy.Accepted {
		t.Errorf("second submit should be busy, got %+v, %v", busy, err)
	}
	if _, err := h.supervisor.Run(context.Background(), Trigger{Kind: models.TriggerInteractive, Topic: "sfincione"}); !errors.Is(err, ErrBusy) {
		t.Errorf("Run while busy returned %v, want ErrBusy", err)
	}

	after, _ := h.supervisor.Current()
	if fmt.Sprintf("%+v", before) != fmt.Sprintf("%+v", after) {
		t.Errorf("busy trigger changed the live report:\n%+v\n%+v", before, after)
	}
	if len(h.observer.rejected) != 2 {
		t.Errorf("expected 2 rejections, got %d", len(h.observer.rejected))
	}

	close(release)
	h.supervisor.Wait()

	ack, err = h.supervisor.Submit(context.Background(), Trigger{Kind: models.TriggerInteractive, Topic: "panelle"})
	if err != nil || !ack.Accepted {
		t.Errorf("submit after completion should be accepted, got %+v, %v", ack, err)
	}
	h.supervisor.Wait()
}

func TestSetupFailureReleasesLock(t *testing.T) {
	valid := false
	h := newHarness(t, func(d *Dependencies) {
		d.Validate = func() error {
			if !valid {
				return errors.New("TELEGRAM_BOT_TOKEN is required")
			}
			return nil
		}
	})

	report, err := h.supervisor.Run(context.Background(), Trigger{Kind: models.TriggerScheduled})
	if models.KindOf(err) != models.ErrorKindConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	if report.State != models.RunStateFailed {
		t.Errorf("state = %s, want failed", report.State)
	}
	if len(h.backend.artifacts) != 0 || len(h.backend.messages) != 0 {
		t.Error("a setup failure must not deliver anything")
	}
	if got := h.observer.states(); fmt.Sprint(got) != fmt.Sprint([]models.RunState{models.RunStateIdle, models.RunStateFailed}) {
		t.Errorf("transitions = %v", got)
	}
	if h.supervisor.Busy() {
		t.Fatal("lock must be released after a setup failure")
	}

	valid = true
	if _, err := h.supervisor.Run(context.Background(), Trigger{Kind: models.TriggerInteractive, Topic: "granita"}); err != nil {
		t.Errorf("run after setup fix returned %v", err)
	}
}

func TestPanickingStageReleasesLock(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) {
		d.Generator = batchFunc(func(context.Context, []models.Topic) generation.BatchResult {
			panic("boom")
		})
	})

	report, err := h.supervisor.Run(context.Background(), Trigger{Kind: models.TriggerInteractive, Topic: "couscous"})
	if models.KindOf(err) != models.ErrorKindUnknown {
		t.Errorf("expected unknown error, got %v", err)
	}
	if !report.State.Terminal() {
		t.Errorf("report should be terminal, got %s", report.State)
	}
	if h.supervisor.Busy() {
		t.Error("lock must be released after a panic")
	}
}

func TestSubmitRejectsInvalidTriggers(t *testing.T) {
	h := newHarness(t, nil)

	tests := map[string]Trigger{
		"empty topic":          {Kind: models.TriggerInteractive, Topic: "   "},
		"scheduled with topic": {Kind: models.TriggerScheduled, Topic: "cannoli"},
		"unknown kind":         {Kind: "manual"},
		"topic too long":       {Kind: models.TriggerInteractive, Topic: strings.Repeat("a", MaxTopicLength+1)},
	}
	for name, trigger := range tests {
		t.Run(name, func(t *testing.T) {
			ack, err := h.supervisor.Submit(context.Background(), trigger)
			if models.KindOf(err) != models.ErrorKindMalformed || ack.Accepted {
				t.Errorf("got %+v, %v", ack, err)
			}
		})
	}
	if h.supervisor.Busy() {
		t.Error("invalid triggers must not take the lock")
	}
}

func TestSubmittedRunOutlivesRequestContext(t *testing.T) {
	h := newHarness(t, nil)
	h.text.check = func(ctx context.Context) {
		if ctx.Err() != nil {
			t.Errorf("run context cancelled with the request: %v", ctx.Err())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ack, err := h.supervisor.Submit(ctx, Trigger{Kind: models.TriggerInteractive, Topic: "sarde a beccafico", Origin: "api"})
	cancel()
	if err != nil || !ack.Accepted {
		t.Fatalf("submit: %+v, %v", ack, err)
	}
	h.supervisor.Wait()

	last, ok := h.supervisor.LastReport()
	if !ok || last.RunID != ack.RunID || last.Counts.ItemsDelivered != 1 {
		t.Errorf("unexpected last report %+v", last)
	}
}

func TestSummaryFailureIsRecorded(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.messageErr = models.NewError(models.ErrorKindUnauthorized, "telegram sendMessage", errors.New("forbidden"))

	report, err := h.supervisor.Run(context.Background(), Trigger{Kind: models.TriggerInteractive, Topic: "pasta con le sarde"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.State != models.RunStateCompleted {
		t.Errorf("state = %s, want completed", report.State)
	}
	summary := report.FailuresIn(models.StageSummary)
	if len(summary) != 1 || summary[0].Kind != models.ErrorKindUnauthorized {
		t.Errorf("expected a summary failure, got %+v", report.Failures)
	}
}

func TestAdHocTopic(t *testing.T) {
	topic := AdHocTopic("  pistacchi di Bronte ")
	if topic.Title != "pistacchi di Bronte" || !topic.AdHoc || !strings.HasPrefix(topic.ID, "adhoc-") {
		t.Errorf("unexpected topic %+v", topic)
	}
	if len(topic.Keywords) == 0 || topic.Keywords[len(topic.Keywords)-1] != "Sicilia" {
		t.Errorf("keywords should end with Sicilia: %v", topic.Keywords)
	}
}

type collectorFunc func(ctx context.Context, reg *sources.Registry) ingestion.CollectResult

func (f collectorFunc) Collect(ctx context.Context, reg *sources.Registry) ingestion.CollectResult {
	return f(ctx, reg)
}

type batchFunc func(ctx context.Context, topics []models.Topic) generation.BatchResult

func (f batchFunc) Run(ctx context.Context, topics []models.Topic) generation.BatchResult {
	return f(ctx, topics)
}
