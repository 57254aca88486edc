// Package pipeline orchestrates one ETL run: extract, clean, transform,
// classify, batch, resolve, write, then version tagging, quality checks,
// and lineage finalization. The extract-to-batch path runs as a producer
// goroutine feeding a bounded channel; a consumer goroutine drains it
// through the dimension resolver and fact writer, so a slow warehouse
// backpressures extraction instead of buffering the whole file.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/cleaner"
	"github.com/retaildw/platform/internal/dimresolver"
	"github.com/retaildw/platform/internal/extractor"
	"github.com/retaildw/platform/internal/factwriter"
	"github.com/retaildw/platform/internal/lineage"
	"github.com/retaildw/platform/internal/logging"
	"github.com/retaildw/platform/internal/quality"
	"github.com/retaildw/platform/internal/transformer"
	"github.com/retaildw/platform/internal/versioning"
	"github.com/retaildw/platform/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Source streams raw records; the CSV extractor is the production
// implementation.
type Source interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (types.RawRecord, bool, error)
	Close() error
}

// Resolver annotates a batch with dimension surrogate keys.
type Resolver interface {
	Resolve(ctx context.Context, batch []types.TransformedRecord) (dimresolver.Result, error)
}

// FactSink bulk-inserts resolved fact rows.
type FactSink interface {
	Write(ctx context.Context, facts []types.FactRecord, batchID uuid.UUID, dataSource string) (int, error)
}

// VersionStore creates and finalizes the run's data_versions row.
type VersionStore interface {
	Create(ctx context.Context, versionType, sourceFile, fileHash string, etlJobID uuid.UUID) (versioning.Version, error)
	UpdateRecordsCount(ctx context.Context, versionID int64, count int64) error
	TagUntaggedRows(ctx context.Context, batchID uuid.UUID, versionID int64) error
}

// LineageStore records the run's audit row.
type LineageStore interface {
	Start(ctx context.Context, jobID uuid.UUID, sourceSystem, sourceTable, sourceFile, targetTable, batchID string) (lineage.Run, error)
	Finish(ctx context.Context, run lineage.Run, status string, counts lineage.Counts)
}

// QualityChecker evaluates the sampled loaded rows after the run.
type QualityChecker interface {
	Check(ctx context.Context, table string, records []quality.Record, batchID string) (quality.Report, error)
}

// Job configures one pipeline run.
type Job struct {
	SourcePath         string
	JobName            string
	DataSource         string
	BatchSize          int
	CheckpointInterval int
	QualitySampleSize  int
}

// Checkpoint is one progress snapshot, persisted to an in-memory map every
// checkpoint interval.
type Checkpoint struct {
	Stage            string
	RecordsProcessed int64
	At               time.Time
}

// Pipeline wires the run's collaborators together. One Pipeline may serve
// many runs; each Run gets its own cleaner (duplicate state is per-run)
// and its own counters.
type Pipeline struct {
	resolver Resolver
	writer   FactSink
	versions VersionStore
	lineage  LineageStore
	quality  QualityChecker
	cfg      types.ETLConfig
	logger   logging.RetailLogger

	// newSource and hashFile are swappable for tests; the defaults build a
	// CSV extractor and hash the local file.
	newSource func(path string) Source
	hashFile  func(path string) (string, error)

	mu          sync.Mutex
	checkpoints map[string]Checkpoint
}

// New builds a Pipeline over its collaborators.
func New(resolver Resolver, writer FactSink, versions VersionStore, lin LineageStore, qc QualityChecker, cfg types.ETLConfig, logger logging.RetailLogger) *Pipeline {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	p := &Pipeline{
		resolver:    resolver,
		writer:      writer,
		versions:    versions,
		lineage:     lin,
		quality:     qc,
		cfg:         cfg,
		logger:      logger,
		checkpoints: make(map[string]Checkpoint),
	}
	p.newSource = func(path string) Source {
		delim := ','
		if cfg.CSVDelimiter != "" {
			delim = rune(cfg.CSVDelimiter[0])
		}
		return extractor.New(path,
			extractor.WithDelimiter(delim),
			extractor.WithChunkSize(cfg.CSVChunkSize),
			extractor.WithRetry(cfg.MaxRetries, cfg.RetryBaseDelay))
	}
	p.hashFile = extractor.FileHash
	return p
}

// WithSourceFactory overrides how Run builds its Source, used by tests to
// substitute an in-memory source.
func (p *Pipeline) WithSourceFactory(f func(path string) Source) *Pipeline {
	p.newSource = f
	p.hashFile = func(string) (string, error) { return "", nil }
	return p
}

// Checkpoints returns a copy of the current checkpoint map.
func (p *Pipeline) Checkpoints() map[string]Checkpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Checkpoint, len(p.checkpoints))
	for k, v := range p.checkpoints {
		out[k] = v
	}
	return out
}

func (p *Pipeline) checkpoint(stage string, processed int64) {
	p.mu.Lock()
	p.checkpoints[stage] = Checkpoint{Stage: stage, RecordsProcessed: processed, At: time.Now().UTC()}
	p.mu.Unlock()
}

// runState carries the mutable counters shared between the producer and
// consumer goroutines of one run.
type runState struct {
	extracted int64
	rejected  int64
	loaded    int64
	batches   int64

	mu         sync.Mutex
	sample     []types.FactRecord
	sampleCap  int
	stageTimes map[string]time.Duration
}

func (s *runState) addStageTime(stage string, d time.Duration) {
	s.mu.Lock()
	s.stageTimes[stage] += d
	s.mu.Unlock()
}

func (s *runState) addSample(facts []types.FactRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range facts {
		if len(s.sample) >= s.sampleCap {
			return
		}
		s.sample = append(s.sample, f)
	}
}

// Run executes one full pipeline run and returns its metrics. The returned
// error is non-nil only for run-level failures (source unavailable,
// unrecoverable DB outage); record- and batch-level problems are absorbed
// into the rejected count and surface as a PARTIAL status.
func (p *Pipeline) Run(ctx context.Context, job Job) (*types.RunMetrics, error) {
	if job.BatchSize <= 0 {
		job.BatchSize = p.cfg.BatchSize
	}
	if job.BatchSize <= 0 {
		job.BatchSize = 1000
	}
	if job.CheckpointInterval <= 0 {
		job.CheckpointInterval = p.cfg.CheckpointInterval
	}
	if job.QualitySampleSize <= 0 {
		job.QualitySampleSize = p.cfg.QualitySampleSize
	}
	if job.QualitySampleSize <= 0 {
		job.QualitySampleSize = 1000
	}
	if job.DataSource == "" {
		job.DataSource = "csv"
	}

	jobID := uuid.New()
	runBatchID := uuid.New()
	logger := p.logger.With(logging.Fields.JobID(jobID.String()), logging.Fields.String("job_name", job.JobName))
	metrics := types.NewRunMetrics(jobID, job.JobName)

	fileHash, err := p.hashFile(job.SourcePath)
	if err != nil {
		logger.Warn("source hash failed, version row will carry no file_hash", logging.Fields.Err(err))
		fileHash = ""
	}

	version, err := p.versions.Create(ctx, "full_load", job.SourcePath, fileHash, jobID)
	if err != nil {
		metrics.Status = types.RunFailed
		metrics.FinishedAt = time.Now().UTC()
		return metrics, errors.Wrap(err, "creating version row")
	}
	metrics.VersionID = version.ID
	metrics.VersionNo = version.Number

	run, err := p.lineage.Start(ctx, jobID, job.DataSource, "", job.SourcePath, "fact_sales", runBatchID.String())
	if err != nil {
		// Lineage failure only warns; the run proceeds and its status is
		// derived from data counts.
		logger.Warn("lineage start failed", logging.Fields.Err(err))
	}

	src := p.newSource(job.SourcePath)
	if err := src.Open(ctx); err != nil {
		metrics.Status = types.RunFailed
		metrics.FinishedAt = time.Now().UTC()
		p.lineage.Finish(ctx, run, types.RunFailed, lineage.Counts{})
		return metrics, err
	}
	defer src.Close()

	metrics.Status = types.RunRunning
	logger.Info("pipeline run started",
		logging.Fields.String("source", job.SourcePath),
		logging.Fields.String("version", version.Number),
		logging.Fields.Int("batch_size", job.BatchSize))

	state := &runState{
		sampleCap:  job.QualitySampleSize,
		stageTimes: make(map[string]time.Duration),
	}

	batchCh := make(chan []types.TransformedRecord, 2)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batchCh)
		return p.produce(gctx, src, job, state, batchCh, logger)
	})
	g.Go(func() error {
		return p.consume(gctx, job, state, runBatchID, batchCh, logger)
	})

	runErr := g.Wait()

	metrics.RecordsExtracted = atomic.LoadInt64(&state.extracted)
	metrics.RecordsRejected = atomic.LoadInt64(&state.rejected)
	metrics.RecordsLoaded = atomic.LoadInt64(&state.loaded)
	metrics.BatchesWritten = atomic.LoadInt64(&state.batches)
	state.mu.Lock()
	for stage, d := range state.stageTimes {
		metrics.StageDurations[stage] = d
	}
	sample := state.sample
	state.mu.Unlock()

	// Finalize uses the parent ctx, not gctx: a cancelled run still tags
	// whatever its completed batches landed.
	finalizeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finalizeCtx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}

	if err := p.versions.TagUntaggedRows(finalizeCtx, runBatchID, version.ID); err != nil {
		logger.Warn("version tagging failed", logging.Fields.Err(err))
	}
	if err := p.versions.UpdateRecordsCount(finalizeCtx, version.ID, metrics.RecordsLoaded); err != nil {
		logger.Warn("version records_count update failed", logging.Fields.Err(err))
	}

	if len(sample) > 0 && p.quality != nil {
		qStart := time.Now()
		if _, err := p.quality.Check(finalizeCtx, "fact_sales", toQualityRecords(sample), runBatchID.String()); err != nil {
			logger.Warn("quality check failed", logging.Fields.Err(err))
		}
		metrics.StageDurations["quality"] = time.Since(qStart)
	}

	metrics.Status = deriveStatus(ctx.Err(), runErr, metrics)
	metrics.FinishedAt = time.Now().UTC()

	p.lineage.Finish(finalizeCtx, run, metrics.Status, lineage.Counts{
		Processed: metrics.RecordsExtracted,
		Inserted:  metrics.RecordsLoaded,
		Rejected:  metrics.RecordsRejected,
	})

	logger.Info("pipeline run finished",
		logging.Fields.String("status", metrics.Status),
		logging.Fields.Int64("extracted", metrics.RecordsExtracted),
		logging.Fields.Int64("loaded", metrics.RecordsLoaded),
		logging.Fields.Int64("rejected", metrics.RecordsRejected),
		logging.Fields.Duration("elapsed", metrics.FinishedAt.Sub(metrics.StartedAt)))

	if runErr != nil && metrics.Status == types.RunFailed {
		return metrics, runErr
	}
	return metrics, nil
}

// produce drives extract -> clean -> transform -> classify -> batch,
// sending full batches downstream and flushing the remainder at EOF.
func (p *Pipeline) produce(ctx context.Context, src Source, job Job, state *runState, out chan<- []types.TransformedRecord, logger logging.RetailLogger) error {
	cl := cleaner.New(p.cfg.DuplicateKeyColumns)
	batch := make([]types.TransformedRecord, 0, job.BatchSize)

	send := func(b []types.TransformedRecord) error {
		select {
		case out <- b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, ok, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		extracted := atomic.AddInt64(&state.extracted, 1)
		if job.CheckpointInterval > 0 && extracted%int64(job.CheckpointInterval) == 0 {
			p.checkpoint("extract", extracted)
		}

		cleanStart := time.Now()
		cleaned, reject := cl.Clean(raw)
		state.addStageTime("clean", time.Since(cleanStart))
		if reject != nil {
			atomic.AddInt64(&state.rejected, 1)
			logger.Debug("record rejected",
				logging.Fields.Stage(reject.Stage),
				logging.Fields.String("reason", reject.Reason))
			continue
		}

		transformStart := time.Now()
		transformed := transformer.Transform(cleaned)
		state.addStageTime("transform", time.Since(transformStart))

		batch = append(batch, transformed)
		if len(batch) >= job.BatchSize {
			if err := send(batch); err != nil {
				return err
			}
			batch = make([]types.TransformedRecord, 0, job.BatchSize)
		}
	}

	if len(batch) > 0 {
		return send(batch)
	}
	return nil
}

// consume drains batches through resolve + write. Resolver and writer
// failures reject the affected rows and keep the run going, per the error
// taxonomy; only a context cancellation stops consumption early.
func (p *Pipeline) consume(ctx context.Context, job Job, state *runState, runBatchID uuid.UUID, in <-chan []types.TransformedRecord, logger logging.RetailLogger) error {
	for batch := range in {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resolveStart := time.Now()
		res, err := p.resolver.Resolve(ctx, batch)
		state.addStageTime("resolve", time.Since(resolveStart))
		if err != nil {
			atomic.AddInt64(&state.rejected, int64(len(batch)))
			logger.Warn("batch rejected: dimension resolution failed",
				logging.Fields.Int("batch_rows", len(batch)),
				logging.Fields.Err(err))
			continue
		}
		atomic.AddInt64(&state.rejected, int64(res.Rejected))

		if len(res.Facts) == 0 {
			continue
		}

		writeStart := time.Now()
		inserted, err := p.writer.Write(ctx, res.Facts, runBatchID, job.DataSource)
		state.addStageTime("write", time.Since(writeStart))
		if err != nil {
			atomic.AddInt64(&state.rejected, int64(len(res.Facts)))
			logger.Warn("batch rejected: fact insert failed",
				logging.Fields.Int("batch_rows", len(res.Facts)),
				logging.Fields.Err(err))
			continue
		}

		atomic.AddInt64(&state.loaded, int64(inserted))
		if dropped := len(res.Facts) - inserted; dropped > 0 {
			atomic.AddInt64(&state.rejected, int64(dropped))
		}
		batches := atomic.AddInt64(&state.batches, 1)
		p.checkpoint("load", atomic.LoadInt64(&state.loaded))

		state.addSample(res.Facts[:inserted])

		minDT, maxDT := factwriter.MinMax(res.Facts)
		logger.Debug("batch written",
			logging.Fields.BatchID(runBatchID.String()),
			logging.Fields.Int("rows", inserted),
			logging.Fields.Int64("batches_written", batches),
			logging.Fields.String("window", minDT.Format("2006-01-02")+".."+maxDT.Format("2006-01-02")))
	}
	return nil
}

// deriveStatus maps the run's outcome onto its terminal status:
// CANCELLED on external cancellation, FAILED on a run-level error, PARTIAL
// when anything was rejected (including all-rows-rejected runs with zero
// loads), SUCCESS only with zero rejects.
func deriveStatus(ctxErr, runErr error, m *types.RunMetrics) string {
	if ctxErr != nil {
		return types.RunCancelled
	}
	if runErr != nil {
		return types.RunFailed
	}
	if m.RecordsRejected > 0 {
		return types.RunPartial
	}
	return types.RunSuccess
}

// toQualityRecords projects sampled fact rows onto the text-column shape
// the quality monitor's fact_sales rule registry expects.
func toQualityRecords(facts []types.FactRecord) []quality.Record {
	out := make([]quality.Record, len(facts))
	for i, f := range facts {
		customerID := f.CustomerID
		if customerID == "GUEST" {
			customerID = ""
		}
		out[i] = quality.Record{
			"invoice_no":   f.InvoiceNo,
			"stock_code":   f.StockCode,
			"description":  f.Description,
			"customer_id":  customerID,
			"country":      f.Country,
			"invoice_date": f.InvoiceDate.UTC().Format("2006-01-02 15:04:05"),
			"quantity":     strconv.Itoa(f.Quantity),
			"unit_price":   centsString(f.UnitPriceCents),
			"line_total":   centsString(f.LineTotalCents),
		}
	}
	return out
}

func centsString(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	s := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	if neg {
		return "-" + s
	}
	return s
}
