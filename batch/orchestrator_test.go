package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/padcrawl/config"
	"github.com/use-agent/padcrawl/crawl"
	"github.com/use-agent/padcrawl/engine"
	"github.com/use-agent/padcrawl/evidence"
	"github.com/use-agent/padcrawl/models"
)

type proberFunc func(ctx context.Context, rec models.ProjectRecord) models.CrawlResult

func (f proberFunc) Probe(ctx context.Context, rec models.ProjectRecord) models.CrawlResult {
	return f(ctx, rec)
}

// deterministic marks a project positive when its URL contains "pad".
func deterministic(_ context.Context, rec models.ProjectRecord) models.CrawlResult {
	r := models.CrawlResult{ProjectID: rec.ID, URL: rec.URL, Evidence: []models.EvidenceMatch{}}
	if strings.Contains(rec.URL, "pad") {
		r.HasPAD = true
		r.Evidence = []models.EvidenceMatch{{Keyword: "appraisal report", Count: 1}}
	}
	return r
}

func makeRecords(n int) []models.ProjectRecord {
	recs := make([]models.ProjectRecord, n)
	for i := range recs {
		url := fmt.Sprintf("http://example.org/p/%d", i)
		if i%3 == 0 {
			url += "/pad"
		}
		recs[i] = models.ProjectRecord{ID: fmt.Sprintf("P-%d", i), URL: url}
	}
	return recs
}

// memSaver keeps copies of every snapshot.
type memSaver struct {
	mu        sync.Mutex
	snaps     []models.CheckpointSnapshot
	failAfter int // fail every save after this many successes; 0 never fails
}

func (s *memSaver) Save(snap *models.CheckpointSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.snaps) >= s.failAfter {
		return errors.New("disk full")
	}
	cp := *snap
	cp.Results = slices.Clone(snap.Results)
	s.snaps = append(s.snaps, cp)
	return nil
}

func (s *memSaver) last() models.CheckpointSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps[len(s.snaps)-1]
}

type memSink struct {
	mu      sync.Mutex
	results []models.CrawlResult
	fail    bool
}

func (s *memSink) Append(_ context.Context, _ string, r models.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("database locked")
	}
	s.results = append(s.results, r)
	return nil
}

type memNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *memNotifier) Notify(event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func TestRun_Example(t *testing.T) {
	stub := stubEngine(map[string]string{
		"http://a": "the appraisal report was approved",
		"http://b": "hello world",
	})
	ex, err := evidence.New(evidence.Config{Keywords: config.Profile(config.ModeThorough).Keywords, CaptureContext: true, ContextWidth: 100, MaxEvidence: 2})
	require.NoError(t, err)
	prober := &crawl.Prober{Engine: stub, Extractor: ex, Timeout: time.Second}

	saver := &memSaver{}
	o := New(prober, Options{CheckpointInterval: 50, Saver: saver})
	records := []models.ProjectRecord{{ID: "P-1", URL: "http://a"}, {ID: "P-2", URL: "http://b"}}

	report, err := o.Run(context.Background(), records, Range{}, "b1")
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, "P-1", report.Results[0].ProjectID)
	assert.True(t, report.Results[0].HasPAD)
	assert.Equal(t, "P-2", report.Results[1].ProjectID)
	assert.False(t, report.Results[1].HasPAD)
	assert.Equal(t, models.Summary{Total: 2, Positive: 1, Negative: 1}, report.Summary)
	assert.Equal(t, 2, report.NextIndex)
	assert.False(t, report.Interrupted)

	require.Len(t, saver.snaps, 1, "final snapshot only")
	assert.Equal(t, 2, saver.last().NextIndex)
}

func TestRun_CheckpointInterval(t *testing.T) {
	saver := &memSaver{}
	notifier := &memNotifier{}
	o := New(proberFunc(deterministic), Options{CheckpointInterval: 3, Saver: saver, Notifier: notifier, Mode: config.ModeFast})

	report, err := o.Run(context.Background(), makeRecords(10), Range{}, "b1")
	require.NoError(t, err)
	assert.Equal(t, 10, report.NextIndex)

	var nexts []int
	for _, s := range saver.snaps {
		nexts = append(nexts, s.NextIndex)
		assert.Len(t, s.Results, s.NextIndex)
		assert.Equal(t, config.ModeFast, s.Mode)
	}
	assert.Equal(t, []int{3, 6, 9, 10}, nexts)
	assert.Equal(t, EventBatchCompleted, notifier.events[len(notifier.events)-1])
	assert.Equal(t, 4, strings.Count(strings.Join(notifier.events, ","), EventCheckpointSaved))
}

func TestRun_Subrange(t *testing.T) {
	o := New(proberFunc(deterministic), Options{})
	records := makeRecords(10)

	report, err := o.Run(context.Background(), records, Range{Start: 8, Size: 5}, "b1")
	require.NoError(t, err)
	assert.Equal(t, 8, report.Start)
	assert.Equal(t, 10, report.End)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "P-8", report.Results[0].ProjectID)
}

func TestRun_InvalidRange(t *testing.T) {
	o := New(proberFunc(deterministic), Options{})
	_, err := o.Run(context.Background(), makeRecords(3), Range{Start: 4}, "b1")
	assert.Equal(t, models.ErrCodeInvalidInput, models.ErrorCode(err))

	_, err = o.Run(context.Background(), makeRecords(3), Range{Size: -1}, "b1")
	assert.Equal(t, models.ErrCodeInvalidInput, models.ErrorCode(err))
}

func TestRun_ResumeEquivalence(t *testing.T) {
	records := makeRecords(10)

	saver := &memSaver{}
	full, err := New(proberFunc(deterministic), Options{CheckpointInterval: 5, Saver: saver}).
		Run(context.Background(), records, Range{Start: 0, Size: 10}, "full")
	require.NoError(t, err)

	mid := saver.snaps[0]
	require.Equal(t, 5, mid.NextIndex)

	// A fresh run starting at the checkpoint's next index.
	tail, err := New(proberFunc(deterministic), Options{}).
		Run(context.Background(), records, Range{Start: mid.NextIndex, Size: 5}, "tail")
	require.NoError(t, err)
	assert.Equal(t, full.Results[5:10], tail.Results)

	// Resuming the checkpoint itself carries its results over.
	resumed, err := New(proberFunc(deterministic), Options{}).Resume(context.Background(), records, &mid, 0)
	require.NoError(t, err)
	assert.Equal(t, "full", resumed.BatchID)
	assert.Equal(t, full.Results, resumed.Results)
	assert.Equal(t, full.Summary, resumed.Summary)
}

func TestRun_WatermarkWithReordering(t *testing.T) {
	records := makeRecords(12)
	// Earlier records take longer, so completions arrive out of order.
	slow := func(ctx context.Context, rec models.ProjectRecord) models.CrawlResult {
		var i int
		fmt.Sscanf(rec.ID, "P-%d", &i)
		time.Sleep(time.Duration(12-i) * 3 * time.Millisecond)
		return deterministic(ctx, rec)
	}

	saver := &memSaver{}
	tracker := NewTracker()
	report, err := New(proberFunc(slow), Options{Workers: 4, CheckpointInterval: 2, Saver: saver, Tracker: tracker}).
		Run(context.Background(), records, Range{}, "b1")
	require.NoError(t, err)

	for i, r := range report.Results {
		assert.Equal(t, records[i].ID, r.ProjectID)
	}
	prev := 0
	for _, s := range saver.snaps {
		assert.GreaterOrEqual(t, s.NextIndex, prev)
		assert.Len(t, s.Results, s.NextIndex, "snapshots hold exactly the contiguous prefix")
		for i, r := range s.Results {
			assert.Equal(t, records[i].ID, r.ProjectID)
		}
		prev = s.NextIndex
	}
	assert.Equal(t, 12, saver.last().NextIndex)

	p := tracker.Progress()
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, 12, p.NextIndex)
	assert.Equal(t, 12, p.Completed)
	r, ok := tracker.Result("P-3")
	require.True(t, ok)
	assert.True(t, r.HasPAD)
}

func TestRun_CancellationStopsNewProbes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var probed atomic.Int32
	prober := proberFunc(func(pctx context.Context, rec models.ProjectRecord) models.CrawlResult {
		probed.Add(1)
		if rec.ID == "P-2" {
			cancel()
			// The in-flight probe still completes.
			time.Sleep(10 * time.Millisecond)
			assert.NoError(t, pctx.Err())
		}
		return deterministic(pctx, rec)
	})

	saver := &memSaver{}
	notifier := &memNotifier{}
	report, err := New(prober, Options{CheckpointInterval: 50, Saver: saver, Notifier: notifier}).
		Run(ctx, makeRecords(10), Range{}, "b1")
	require.NoError(t, err)

	assert.True(t, report.Interrupted)
	assert.Equal(t, 3, report.NextIndex)
	assert.Len(t, report.Results, 3)
	assert.Equal(t, int32(3), probed.Load())
	assert.Equal(t, 3, saver.last().NextIndex, "final checkpoint written")
	assert.Contains(t, notifier.events, EventBatchInterrupted)
}

func TestRun_CancellationKeepsEveryStartedProbe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		probed []string
	)
	prober := proberFunc(func(pctx context.Context, rec models.ProjectRecord) models.CrawlResult {
		mu.Lock()
		probed = append(probed, rec.ID)
		mu.Unlock()
		var i int
		fmt.Sscanf(rec.ID, "P-%d", &i)
		if i == 4 {
			cancel()
		}
		// Earlier records finish last so completions arrive out of order.
		time.Sleep(time.Duration(8-i) * 4 * time.Millisecond)
		return deterministic(pctx, rec)
	})

	saver := &memSaver{}
	report, err := New(prober, Options{Workers: 4, Delay: 2 * time.Millisecond, CheckpointInterval: 50, Saver: saver}).
		Run(ctx, makeRecords(20), Range{}, "b1")
	require.NoError(t, err)
	assert.True(t, report.Interrupted)

	mu.Lock()
	defer mu.Unlock()
	slices.Sort(probed)
	got := make([]string, 0, len(report.Results))
	for _, r := range report.Results {
		got = append(got, r.ProjectID)
	}
	slices.Sort(got)
	assert.Equal(t, probed, got, "every started probe lands in the report")
	assert.GreaterOrEqual(t, report.NextIndex, 5)
	assert.Equal(t, report.NextIndex, saver.last().NextIndex)
}

func TestRun_PersistenceFailureIsFatal(t *testing.T) {
	var probed atomic.Int32
	prober := proberFunc(func(ctx context.Context, rec models.ProjectRecord) models.CrawlResult {
		probed.Add(1)
		return deterministic(ctx, rec)
	})

	notifier := &memNotifier{}
	saver := &memSaver{failAfter: 1}
	report, err := New(prober, Options{CheckpointInterval: 2, Saver: saver, Notifier: notifier}).
		Run(context.Background(), makeRecords(20), Range{}, "b1")

	require.Error(t, err)
	assert.True(t, models.IsPersistenceFailure(err))
	require.NotNil(t, report)
	assert.False(t, report.Interrupted)
	assert.Less(t, int(probed.Load()), 20)
	assert.Equal(t, 2, saver.last().NextIndex, "last good snapshot")
	assert.Contains(t, notifier.events, EventBatchFailed)
}

func TestRun_SinkFailureIsFatal(t *testing.T) {
	sink := &memSink{fail: true}
	_, err := New(proberFunc(deterministic), Options{Sink: sink}).
		Run(context.Background(), makeRecords(5), Range{}, "b1")
	assert.True(t, models.IsPersistenceFailure(err))
}

func TestRun_SinkReceivesEveryResult(t *testing.T) {
	sink := &memSink{}
	_, err := New(proberFunc(deterministic), Options{Workers: 3, Sink: sink}).
		Run(context.Background(), makeRecords(9), Range{}, "b1")
	require.NoError(t, err)
	assert.Len(t, sink.results, 9)
}

func TestRun_ProberPanicIsRecorded(t *testing.T) {
	prober := proberFunc(func(ctx context.Context, rec models.ProjectRecord) models.CrawlResult {
		if rec.ID == "P-1" {
			panic("unexpected nil")
		}
		return deterministic(ctx, rec)
	})

	report, err := New(prober, Options{}).Run(context.Background(), makeRecords(3), Range{}, "b1")
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.Equal(t, models.ErrCodeInternal, report.Results[1].ErrorCode)
	assert.False(t, report.Results[1].HasPAD)
	assert.Equal(t, 1, report.Summary.Errored)
}

func TestRun_PolitenessDelay(t *testing.T) {
	var (
		mu     sync.Mutex
		starts []time.Time
	)
	prober := proberFunc(func(ctx context.Context, rec models.ProjectRecord) models.CrawlResult {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return deterministic(ctx, rec)
	})

	const delay = 30 * time.Millisecond
	_, err := New(prober, Options{Workers: 3, Delay: delay}).
		Run(context.Background(), makeRecords(5), Range{}, "b1")
	require.NoError(t, err)

	// Five starts need four full intervals regardless of worker count.
	require.Len(t, starts, 5)
	slices.SortFunc(starts, func(a, b time.Time) int { return a.Compare(b) })
	assert.GreaterOrEqual(t, starts[4].Sub(starts[0]), 4*delay-5*time.Millisecond)
}

// stubEngine serves fixed page markup by URL.
type stubEngine map[string]string

func (stubEngine) Name() string { return "stub" }

func (e stubEngine) Acquire(context.Context) (engine.Tab, error) {
	return &engine.TabFunc{FetchFunc: func(_ context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
		html, ok := e[req.URL]
		if !ok {
			return nil, models.NewCrawlError(models.ErrCodeNavigation, "no such page", nil)
		}
		return &engine.FetchResult{HTML: html, EngineName: "stub"}, nil
	}}, nil
}
