package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/use-agent/padcrawl/api"
	"github.com/use-agent/padcrawl/batch"
	"github.com/use-agent/padcrawl/checkpoint"
	"github.com/use-agent/padcrawl/config"
	"github.com/use-agent/padcrawl/models"
	"github.com/use-agent/padcrawl/records"
	"github.com/use-agent/padcrawl/store"
	"github.com/use-agent/padcrawl/webhook"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Probe a range of projects for appraisal document evidence",
	Long: "Probes the projects of an input table (CSV or XLSX with Identifier and project_url columns), " +
		"writing a checkpoint while running and the batch result, link and error files at the end.",
	RunE: runCrawl,
}

var (
	crawlInput           string
	crawlMode            string
	crawlStart           int
	crawlBatchSize       int
	crawlCheckpointEvery int
	crawlWorkers         int
	crawlOutDir          string
	crawlResume          string
	crawlDB              string
	crawlListen          string
	crawlFetchMode       string
)

func init() {
	f := crawlCmd.Flags()
	f.StringVarP(&crawlInput, "input", "i", "", "Project table, .csv or .xlsx (required)")
	f.StringVar(&crawlMode, "mode", "", "Crawl profile: thorough or fast (default thorough)")
	f.IntVar(&crawlStart, "start", 0, "Index of the first record to probe (not with --resume)")
	f.IntVar(&crawlBatchSize, "batch-size", 0, "Number of records to probe (0 = to the end)")
	f.IntVar(&crawlCheckpointEvery, "checkpoint-every", 0, "Completed probes between checkpoints (default from profile)")
	f.IntVar(&crawlWorkers, "workers", 0, "Concurrent probes (default 1)")
	f.StringVarP(&crawlOutDir, "out", "o", "", "Directory for checkpoints and batch files (default .)")
	f.StringVar(&crawlResume, "resume", "", "Checkpoint file to resume from")
	f.StringVar(&crawlDB, "db", "", "SQLite database receiving every result (optional)")
	f.StringVar(&crawlListen, "listen", "", "Address of the status server, e.g. :8080 (optional)")
	f.StringVar(&crawlFetchMode, "fetch", "", "Fetch mode: auto, http or browser (default browser)")

	if err := crawlCmd.MarkFlagRequired("input"); err != nil {
		panic(fmt.Sprintf("failed to mark input flag as required: %v", err))
	}

	rootCmd.AddCommand(crawlCmd)
}

// crawlOverrides applies the flags the user actually set.
func crawlOverrides(cmd *cobra.Command) func(*config.Config) {
	set := cmd.Flags().Changed
	return func(c *config.Config) {
		if set("mode") {
			c.Crawl.Mode = crawlMode
		}
		if set("batch-size") {
			c.Crawl.BatchSize = crawlBatchSize
		}
		if set("checkpoint-every") {
			c.Crawl.CheckpointInterval = crawlCheckpointEvery
		}
		if set("workers") {
			c.Crawl.Workers = crawlWorkers
		}
		if set("out") {
			c.Crawl.OutDir = crawlOutDir
		}
		if set("db") {
			c.Store.Path = crawlDB
		}
		if set("listen") {
			c.Server.Listen = crawlListen
		}
		if set("fetch") {
			c.Render.FetchMode = crawlFetchMode
		}
	}
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	var snap *models.CheckpointSnapshot
	if crawlResume != "" {
		if cmd.Flags().Changed("start") {
			return errors.New("--start cannot be combined with --resume: a resumed run continues from the checkpoint's next index")
		}
		s, err := checkpoint.LoadSnapshot(crawlResume)
		if err != nil {
			return err
		}
		snap = s
	}

	overrides := []func(*config.Config){crawlOverrides(cmd)}
	if snap != nil && snap.Mode != "" && !cmd.Flags().Changed("mode") {
		// A resumed run keeps the profile it started with.
		overrides = append([]func(*config.Config){func(c *config.Config) { c.Crawl.Mode = snap.Mode }}, overrides...)
	}
	cfg, err := config.Load(configPath, overrides...)
	if err != nil {
		return err
	}
	initLogger(cfg.Log)

	table, err := records.ReadTable(crawlInput)
	if err != nil {
		return err
	}
	recs, err := table.Records()
	if err != nil {
		return err
	}
	slog.Info("project list loaded", "path", crawlInput, "records", len(recs))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rend, err := newRenderer(cfg)
	if err != nil {
		return err
	}
	defer rend.close()

	prober, err := newProber(cfg, rend.engine)
	if err != nil {
		return err
	}

	batchID := newBatchID(crawlStart, cfg.Crawl.BatchSize, len(recs))
	if snap != nil {
		batchID = snap.BatchID
	}
	log := slog.With("batch", batchID)

	opts := batch.Options{
		Workers:            cfg.Crawl.Workers,
		Delay:              cfg.Crawl.Delay,
		CheckpointInterval: cfg.Crawl.CheckpointInterval,
		Mode:               cfg.Crawl.Mode,
		Saver:              checkpoint.NewManager(cfg.Crawl.OutDir, batchID),
		Tracker:            batch.NewTracker(),
	}

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		opts.Sink = st
	}

	var notifier *webhook.Notifier
	if cfg.Webhook.URL != "" {
		notifier = webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, batchID)
		opts.Notifier = notifier
	}

	if cfg.Server.Listen != "" {
		srv := &http.Server{
			Addr:    cfg.Server.Listen,
			Handler: api.NewRouter(ctx, opts.Tracker, cfg, time.Now(), rend.stats),
		}
		go func() {
			log.Info("status server listening", "addr", cfg.Server.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status server error", "error", err)
			}
		}()
		defer shutdownServer(srv)
	}

	orch := batch.New(prober, opts)
	var report *batch.Report
	if snap != nil {
		report, err = orch.Resume(ctx, recs, snap, cfg.Crawl.BatchSize)
	} else {
		report, err = orch.Run(ctx, recs, batch.Range{Start: crawlStart, Size: cfg.Crawl.BatchSize}, batchID)
	}

	if report != nil {
		if werr := writeBatchFiles(cfg.Crawl.OutDir, report); werr != nil {
			err = errors.Join(err, werr)
		}
		printSummary(cmd.OutOrStdout(), report)
	}

	if notifier != nil {
		wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if werr := notifier.Wait(wctx); werr != nil {
			log.Warn("webhook deliveries still pending at exit", "error", werr)
		}
		cancel()
	}
	return err
}

// newBatchID names a run after its 1-based record range, with a random
// suffix so that repeated runs over one range stay distinct in the store.
func newBatchID(start, size, total int) string {
	end := total
	if size > 0 {
		end = min(start+size, total)
	}
	return fmt.Sprintf("%d_%d_%s", start+1, end, uuid.NewString()[:8])
}

// writeBatchFiles writes the result file, and the link and error files when
// they would not be empty. Files cover the records actually completed.
func writeBatchFiles(dir string, r *batch.Report) error {
	start, end := r.Start, r.NextIndex
	if err := checkpoint.WriteJSON(filepath.Join(dir, checkpoint.ResultsName(start, end)), r.Results); err != nil {
		return err
	}

	var (
		links  []models.DocumentLink
		failed []models.CrawlResult
	)
	for _, res := range r.Results {
		links = append(links, res.Links...)
		if res.Errored() {
			failed = append(failed, res)
		}
	}
	if len(links) > 0 {
		if err := checkpoint.WriteJSON(filepath.Join(dir, checkpoint.LinksName(start, end)), links); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		if err := checkpoint.WriteJSON(filepath.Join(dir, checkpoint.ErrorsName(start, end)), failed); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(w io.Writer, r *batch.Report) {
	s := r.Summary
	fmt.Fprintf(w, "Batch %s: records %d-%d", r.BatchID, r.Start+1, r.End)
	if r.NextIndex < r.End {
		fmt.Fprintf(w, " (stopped, resume from index %d)", r.NextIndex)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Total:    %d\n", s.Total)
	fmt.Fprintf(w, "  With PAD: %d (%.1f%%)\n", s.Positive, s.PositiveRate())
	fmt.Fprintf(w, "  No PAD:   %d\n", s.Negative)
	fmt.Fprintf(w, "  Errors:   %d\n", s.Errored)
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("status server forced shutdown", "error", err)
	}
}
