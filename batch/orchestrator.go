// Package batch runs the crawl unit over an ordered range of project records
// with a bounded worker pool, a global politeness limit and periodic
// checkpoints that make long runs resumable.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/use-agent/padcrawl/models"
)

// Lifecycle events passed to the Notifier.
const (
	EventCheckpointSaved  = "checkpoint.saved"
	EventBatchCompleted   = "batch.completed"
	EventBatchInterrupted = "batch.interrupted"
	EventBatchFailed      = "batch.failed"
)

// Prober probes one record. Implementations never fail; errors are recorded
// on the result.
type Prober interface {
	Probe(ctx context.Context, rec models.ProjectRecord) models.CrawlResult
}

// Saver persists a snapshot, replacing the previous one.
type Saver interface {
	Save(snap *models.CheckpointSnapshot) error
}

// Sink receives every result as soon as it completes.
type Sink interface {
	Append(ctx context.Context, batchID string, result models.CrawlResult) error
}

// Notifier receives lifecycle events. It must not block.
type Notifier interface {
	Notify(event string, data any)
}

// Options configures an Orchestrator. Saver, Sink, Notifier and Tracker are
// optional.
type Options struct {
	Workers            int
	Delay              time.Duration // minimum interval between probe starts
	CheckpointInterval int           // completed probes between snapshots
	Mode               string        // recorded in snapshots

	Saver    Saver
	Sink     Sink
	Notifier Notifier
	Tracker  *Tracker
}

// Range selects records [Start, Start+Size). Size 0 means to the end.
type Range struct {
	Start int
	Size  int
}

// Report is the outcome of a run.
type Report struct {
	BatchID string
	Start   int
	End     int

	// Results are in record order and cover [Start, NextIndex).
	Results []models.CrawlResult
	Summary models.Summary

	// NextIndex is the smallest record index without a result. It equals End
	// unless the run was interrupted or failed.
	NextIndex   int
	Interrupted bool
}

// EventData is the payload of lifecycle events.
type EventData struct {
	BatchID   string         `json:"batch_id"`
	Start     int            `json:"start_index"`
	End       int            `json:"end_index"`
	NextIndex int            `json:"next_index"`
	Summary   models.Summary `json:"summary"`
	Error     string         `json:"error,omitempty"`
}

// Orchestrator sequences probes over a record range.
type Orchestrator struct {
	prober Prober
	opts   Options
}

// New creates an Orchestrator.
func New(prober Prober, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Orchestrator{prober: prober, opts: opts}
}

// Run probes records[rng.Start : rng.Start+rng.Size] (clamped to the list).
//
// Cancelling ctx stops new probes from starting; probes already running are
// allowed to finish under their own timeout. A final snapshot is always
// attempted. The only error returned is a persistence failure, in which case
// the partial report is returned alongside it.
func (o *Orchestrator) Run(ctx context.Context, records []models.ProjectRecord, rng Range, batchID string) (*Report, error) {
	if rng.Start < 0 || rng.Start > len(records) {
		return nil, models.NewCrawlError(models.ErrCodeInvalidInput,
			fmt.Sprintf("start index %d outside record list of %d", rng.Start, len(records)), nil)
	}
	if rng.Size < 0 {
		return nil, models.NewCrawlError(models.ErrCodeInvalidInput, "batch size must be non-negative", nil)
	}
	end := len(records)
	if rng.Size > 0 {
		end = min(rng.Start+rng.Size, len(records))
	}
	return o.run(ctx, records, rng.Start, rng.Start, end, batchID, nil)
}

// Resume continues the run recorded in snap from its next index. Results in
// the snapshot are carried over. size > 0 limits how many further records are
// probed; 0 continues to the snapshot's end index.
func (o *Orchestrator) Resume(ctx context.Context, records []models.ProjectRecord, snap *models.CheckpointSnapshot, size int) (*Report, error) {
	if snap.NextIndex < snap.StartIndex || snap.NextIndex > len(records) {
		return nil, models.NewCrawlError(models.ErrCodeInvalidInput,
			fmt.Sprintf("checkpoint next index %d does not fit record list of %d", snap.NextIndex, len(records)), nil)
	}
	end := min(snap.EndIndex, len(records))
	if end < snap.NextIndex {
		end = snap.NextIndex
	}
	if size > 0 {
		end = min(snap.NextIndex+size, len(records))
	}
	if want := snap.NextIndex - snap.StartIndex; len(snap.Results) != want {
		slog.Warn("checkpoint result count does not match its index range",
			"batch", snap.BatchID, "results", len(snap.Results), "expected", want)
	}
	return o.run(ctx, records, snap.StartIndex, snap.NextIndex, end, snap.BatchID, snap.Results)
}

// completion is one finished probe.
type completion struct {
	index  int
	result models.CrawlResult
}

func (o *Orchestrator) run(ctx context.Context, records []models.ProjectRecord, start, from, end int, batchID string, seed []models.CrawlResult) (*Report, error) {
	log := slog.With("batch", batchID)
	log.Info("batch starting", "start", start, "from", from, "end", end, "workers", o.opts.Workers, "delay", o.opts.Delay)

	if o.opts.Tracker != nil {
		o.opts.Tracker.Begin(batchID, start, end, from, seed)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	limit := rate.Inf
	if o.opts.Delay > 0 {
		limit = rate.Every(o.opts.Delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	jobs := make(chan int)
	done := make(chan completion, o.opts.Workers)

	// Producer: takes a politeness slot, then hands out the next index, in
	// record order, until the range is exhausted or the run is stopped. An
	// index that was handed out is always probed, so the indices probed after
	// a stop form a contiguous prefix and none completes behind a gap.
	go func() {
		defer close(jobs)
		for i := from; i < end; i++ {
			if err := limiter.Wait(runCtx); err != nil {
				return
			}
			if runCtx.Err() != nil {
				return
			}
			select {
			case jobs <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	var g errgroup.Group
	for w := 0; w < o.opts.Workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				done <- completion{index: i, result: o.probe(runCtx, records[i])}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(done)
	}()

	c := &collector{
		o:       o,
		batchID: batchID,
		start:   start,
		end:     end,
		next:    from,
		results: append([]models.CrawlResult(nil), seed...),
		pending: make(map[int]models.CrawlResult),
		log:     log,
	}
	for comp := range done {
		if err := c.add(runCtx, comp); err != nil && c.err == nil {
			c.err = err
			log.Error("persistence failed, stopping batch", "error", err)
			stop()
		}
	}

	// Final snapshot, also after interruption or a failed periodic save.
	if err := c.save(); err != nil && c.err == nil {
		c.err = err
	}

	report := &Report{
		BatchID:     batchID,
		Start:       start,
		End:         end,
		Results:     c.results,
		Summary:     models.Summarize(c.results),
		NextIndex:   c.next,
		Interrupted: c.err == nil && c.next < end,
	}
	o.finish(report, c.err, log)
	return report, c.err
}

// probe runs one record detached from run cancellation, so a probe that has
// started always completes (bounded by the prober's own timeout). A panic is
// recorded on the result.
func (o *Orchestrator) probe(ctx context.Context, rec models.ProjectRecord) (result models.CrawlResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("prober panicked", "project", rec.ID, "panic", r)
			result = models.CrawlResult{
				ProjectID: rec.ID,
				URL:       rec.URL,
				Evidence:  []models.EvidenceMatch{},
				Error:     fmt.Sprintf("%s: unexpected failure: %v", models.ErrCodeInternal, r),
				ErrorCode: models.ErrCodeInternal,
				FetchedAt: time.Now().UTC(),
			}
		}
	}()
	return o.prober.Probe(context.WithoutCancel(ctx), rec)
}

func (o *Orchestrator) finish(r *Report, err error, log *slog.Logger) {
	event, status := EventBatchCompleted, StatusCompleted
	switch {
	case err != nil:
		event, status = EventBatchFailed, StatusFailed
	case r.Interrupted:
		event, status = EventBatchInterrupted, StatusInterrupted
	}

	log.Info("batch finished",
		"status", status,
		"next_index", r.NextIndex,
		"total", r.Summary.Total,
		"positive", r.Summary.Positive,
		"negative", r.Summary.Negative,
		"errored", r.Summary.Errored,
	)
	if o.opts.Tracker != nil {
		o.opts.Tracker.Finish(status)
	}
	data := EventData{BatchID: r.BatchID, Start: r.Start, End: r.End, NextIndex: r.NextIndex, Summary: r.Summary}
	if err != nil {
		data.Error = err.Error()
	}
	o.notify(event, data)
}

func (o *Orchestrator) notify(event string, data EventData) {
	if o.opts.Notifier != nil {
		o.opts.Notifier.Notify(event, data)
	}
}

// collector is owned by the single goroutine that drains completions. It
// keeps results in record order and advances the completion watermark.
type collector struct {
	o       *Orchestrator
	batchID string
	start   int
	end     int

	next      int // smallest index without a result
	results   []models.CrawlResult
	pending   map[int]models.CrawlResult // completed beyond the watermark
	completed int

	err error
	log *slog.Logger
}

func (c *collector) add(ctx context.Context, comp completion) error {
	r := comp.result
	c.completed++
	c.log.Info("probe done",
		"index", comp.index,
		"project", r.ProjectID,
		"has_pad", r.HasPAD,
		"engine", r.Engine,
		"error", r.Error,
	)

	if tr := c.o.opts.Tracker; tr != nil {
		tr.Record(r)
	}

	if c.err != nil {
		// Already failed: keep draining, persist nothing more.
		return nil
	}

	if c.o.opts.Sink != nil {
		if err := c.o.opts.Sink.Append(context.WithoutCancel(ctx), c.batchID, r); err != nil {
			return asPersistence(err, "append result")
		}
	}

	c.pending[comp.index] = r
	for {
		res, ok := c.pending[c.next]
		if !ok {
			break
		}
		delete(c.pending, c.next)
		c.results = append(c.results, res)
		c.next++
	}
	if tr := c.o.opts.Tracker; tr != nil {
		tr.Advance(c.next, c.completed)
	}

	if n := c.o.opts.CheckpointInterval; n > 0 && c.completed%n == 0 {
		if err := c.save(); err != nil {
			return err
		}
	}
	return nil
}

// save writes a snapshot of the contiguous results.
func (c *collector) save() error {
	if c.o.opts.Saver == nil {
		return nil
	}
	snap := &models.CheckpointSnapshot{
		NextIndex:  c.next,
		StartIndex: c.start,
		EndIndex:   c.end,
		Mode:       c.o.opts.Mode,
		Results:    append([]models.CrawlResult(nil), c.results...),
		Summary:    models.Summarize(c.results),
	}
	if err := c.o.opts.Saver.Save(snap); err != nil {
		err = asPersistence(err, "save checkpoint")
		c.log.Error("checkpoint save failed", "error", err)
		return err
	}
	c.log.Info("checkpoint saved", "next_index", c.next, "completed", c.completed)
	c.o.notify(EventCheckpointSaved, EventData{
		BatchID:   c.batchID,
		Start:     c.start,
		End:       c.end,
		NextIndex: c.next,
		Summary:   snap.Summary,
	})
	return nil
}

func asPersistence(err error, msg string) error {
	var ce *models.CrawlError
	if errors.As(err, &ce) && ce.Code == models.ErrCodePersistence {
		return err
	}
	return models.NewCrawlError(models.ErrCodePersistence, msg, err)
}
