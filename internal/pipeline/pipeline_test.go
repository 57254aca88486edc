package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/dimresolver"
	"github.com/retaildw/platform/internal/errs"
	"github.com/retaildw/platform/internal/lineage"
	"github.com/retaildw/platform/internal/quality"
	"github.com/retaildw/platform/internal/versioning"
	"github.com/retaildw/platform/pkg/types"
)

type fakeSource struct {
	rows    []types.RawRecord
	pos     int
	openErr error
}

func (s *fakeSource) Open(context.Context) error { return s.openErr }
func (s *fakeSource) Close() error               { return nil }

func (s *fakeSource) Next(context.Context) (types.RawRecord, bool, error) {
	if s.pos >= len(s.rows) {
		return types.RawRecord{}, false, nil
	}
	rec := s.rows[s.pos]
	s.pos++
	return rec, true, nil
}

type fakeResolver struct {
	batches [][]types.TransformedRecord
	err     error
}

func (r *fakeResolver) Resolve(_ context.Context, batch []types.TransformedRecord) (dimresolver.Result, error) {
	if r.err != nil {
		return dimresolver.Result{}, r.err
	}
	r.batches = append(r.batches, batch)
	facts := make([]types.FactRecord, len(batch))
	for i, rec := range batch {
		facts[i] = types.FactRecord{TransformedRecord: rec, CustomerKey: 1, ProductKey: 1, DateKey: 20101201}
	}
	return dimresolver.Result{Facts: facts}, nil
}

type fakeWriter struct {
	written int
	batchID uuid.UUID
	err     error
}

func (w *fakeWriter) Write(_ context.Context, facts []types.FactRecord, batchID uuid.UUID, _ string) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.written += len(facts)
	w.batchID = batchID
	return len(facts), nil
}

type fakeVersions struct {
	created      bool
	tagged       bool
	taggedBatch  uuid.UUID
	recordsCount int64
}

func (v *fakeVersions) Create(context.Context, string, string, string, uuid.UUID) (versioning.Version, error) {
	v.created = true
	return versioning.Version{ID: 7, Number: "v20101201_082600"}, nil
}

func (v *fakeVersions) UpdateRecordsCount(_ context.Context, _ int64, count int64) error {
	v.recordsCount = count
	return nil
}

func (v *fakeVersions) TagUntaggedRows(_ context.Context, batchID uuid.UUID, _ int64) error {
	v.tagged = true
	v.taggedBatch = batchID
	return nil
}

type fakeLineage struct {
	started     bool
	finished    bool
	finalStatus string
	finalCounts lineage.Counts
}

func (l *fakeLineage) Start(context.Context, uuid.UUID, string, string, string, string, string) (lineage.Run, error) {
	l.started = true
	return lineage.Run{ID: 1}, nil
}

func (l *fakeLineage) Finish(_ context.Context, _ lineage.Run, status string, counts lineage.Counts) {
	l.finished = true
	l.finalStatus = status
	l.finalCounts = counts
}

type fakeQuality struct {
	checked int
}

func (q *fakeQuality) Check(_ context.Context, _ string, records []quality.Record, _ string) (quality.Report, error) {
	q.checked = len(records)
	return quality.Report{OverallScore: 100}, nil
}

func goodRow(invoice string) types.RawRecord {
	return types.RawRecord{
		InvoiceNo:   invoice,
		StockCode:   "85123A",
		Description: "WHITE HANGING HEART T-LIGHT HOLDER",
		Quantity:    "2",
		InvoiceDate: "2010-12-01 08:26:00",
		UnitPrice:   "3.50",
		CustomerID:  "17850",
		Country:     "United Kingdom",
	}
}

func newTestPipeline(src Source, res Resolver, w FactSink, v VersionStore, l LineageStore, q QualityChecker) *Pipeline {
	cfg := types.ETLConfig{BatchSize: 100, CheckpointInterval: 2, QualitySampleSize: 1000}
	p := New(res, w, v, l, q, cfg, nil)
	return p.WithSourceFactory(func(string) Source { return src })
}

func TestRunSuccess(t *testing.T) {
	rows := []types.RawRecord{goodRow("536365"), goodRow("536366"), goodRow("536367")}
	src := &fakeSource{rows: rows}
	res := &fakeResolver{}
	w := &fakeWriter{}
	v := &fakeVersions{}
	l := &fakeLineage{}
	q := &fakeQuality{}

	metrics, err := newTestPipeline(src, res, w, v, l, q).Run(context.Background(), Job{SourcePath: "test.csv", JobName: "t"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if metrics.Status != types.RunSuccess {
		t.Errorf("status = %s, want SUCCESS", metrics.Status)
	}
	if metrics.RecordsExtracted != 3 || metrics.RecordsLoaded != 3 || metrics.RecordsRejected != 0 {
		t.Errorf("counts = %d/%d/%d, want 3/3/0",
			metrics.RecordsExtracted, metrics.RecordsLoaded, metrics.RecordsRejected)
	}
	if !v.created || !v.tagged {
		t.Error("version row should be created and tagged")
	}
	if v.taggedBatch != w.batchID {
		t.Error("tagging should target the same batch_id the writer stamped")
	}
	if v.recordsCount != 3 {
		t.Errorf("records_count = %d, want 3", v.recordsCount)
	}
	if !l.started || !l.finished || l.finalStatus != types.RunSuccess {
		t.Errorf("lineage start/finish = %v/%v status %s", l.started, l.finished, l.finalStatus)
	}
	if q.checked != 3 {
		t.Errorf("quality sampled %d records, want 3", q.checked)
	}
}

func TestRunPartialOnRejects(t *testing.T) {
	rows := []types.RawRecord{
		goodRow("536365"),
		{InvoiceNo: "bad!", StockCode: "X", Quantity: "1", InvoiceDate: "2010-12-01", UnitPrice: "1.00", Country: "UK"},
	}
	src := &fakeSource{rows: rows}
	l := &fakeLineage{}
	metrics, err := newTestPipeline(src, &fakeResolver{}, &fakeWriter{}, &fakeVersions{}, l, &fakeQuality{}).
		Run(context.Background(), Job{SourcePath: "test.csv"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if metrics.Status != types.RunPartial {
		t.Errorf("status = %s, want PARTIAL", metrics.Status)
	}
	if metrics.RecordsExtracted != metrics.RecordsLoaded+metrics.RecordsRejected {
		t.Errorf("count invariant violated: %d != %d + %d",
			metrics.RecordsExtracted, metrics.RecordsLoaded, metrics.RecordsRejected)
	}
	if l.finalCounts.Rejected != 1 {
		t.Errorf("lineage rejected = %d, want 1", l.finalCounts.Rejected)
	}
}

func TestRunEmptySource(t *testing.T) {
	src := &fakeSource{}
	l := &fakeLineage{}
	v := &fakeVersions{}
	metrics, err := newTestPipeline(src, &fakeResolver{}, &fakeWriter{}, v, l, &fakeQuality{}).
		Run(context.Background(), Job{SourcePath: "empty.csv"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if metrics.Status != types.RunSuccess {
		t.Errorf("status = %s, want SUCCESS", metrics.Status)
	}
	if metrics.RecordsExtracted != 0 || metrics.RecordsLoaded != 0 {
		t.Errorf("counts should all be zero, got %d/%d", metrics.RecordsExtracted, metrics.RecordsLoaded)
	}
	if !v.created {
		t.Error("version row should still be created for an empty source")
	}
	if l.finalStatus != types.RunSuccess {
		t.Errorf("lineage status = %s, want SUCCESS", l.finalStatus)
	}
}

func TestRunAllRowsRejectedIsPartial(t *testing.T) {
	rows := []types.RawRecord{
		{InvoiceNo: "x", Quantity: "0", InvoiceDate: "2010-12-01", UnitPrice: "1", Country: "UK"},
		{InvoiceNo: "y", Quantity: "0", InvoiceDate: "2010-12-01", UnitPrice: "1", Country: "UK"},
	}
	metrics, err := newTestPipeline(&fakeSource{rows: rows}, &fakeResolver{}, &fakeWriter{}, &fakeVersions{}, &fakeLineage{}, &fakeQuality{}).
		Run(context.Background(), Job{SourcePath: "t.csv"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if metrics.Status != types.RunPartial {
		t.Errorf("status = %s, want PARTIAL (not SUCCESS) when all rows rejected", metrics.Status)
	}
	if metrics.RecordsLoaded != 0 || metrics.RecordsRejected != 2 {
		t.Errorf("counts = %d loaded / %d rejected, want 0/2", metrics.RecordsLoaded, metrics.RecordsRejected)
	}
}

func TestRunSourceOpenFailure(t *testing.T) {
	src := &fakeSource{openErr: errors.Wrap(errs.ErrSourceUnavailable, "no such file")}
	l := &fakeLineage{}
	metrics, err := newTestPipeline(src, &fakeResolver{}, &fakeWriter{}, &fakeVersions{}, l, &fakeQuality{}).
		Run(context.Background(), Job{SourcePath: "missing.csv"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errs.ErrSourceUnavailable) {
		t.Errorf("err = %v, want ErrSourceUnavailable", err)
	}
	if metrics.Status != types.RunFailed {
		t.Errorf("status = %s, want FAILED", metrics.Status)
	}
	if l.finalStatus != types.RunFailed {
		t.Errorf("lineage status = %s, want FAILED", l.finalStatus)
	}
}

func TestRunResolverFailureRejectsBatch(t *testing.T) {
	rows := []types.RawRecord{goodRow("536365"), goodRow("536366")}
	res := &fakeResolver{err: errors.Wrap(errs.ErrDimensionResolutionFailed, "db down")}
	metrics, err := newTestPipeline(&fakeSource{rows: rows}, res, &fakeWriter{}, &fakeVersions{}, &fakeLineage{}, &fakeQuality{}).
		Run(context.Background(), Job{SourcePath: "t.csv"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if metrics.Status != types.RunPartial {
		t.Errorf("status = %s, want PARTIAL", metrics.Status)
	}
	if metrics.RecordsRejected != 2 || metrics.RecordsLoaded != 0 {
		t.Errorf("counts = %d rejected / %d loaded, want 2/0", metrics.RecordsRejected, metrics.RecordsLoaded)
	}
}

func TestRunBatchesBySize(t *testing.T) {
	var rows []types.RawRecord
	for i := 0; i < 5; i++ {
		rows = append(rows, goodRow(fmt.Sprintf("53636%d", i)))
	}
	res := &fakeResolver{}
	metrics, err := newTestPipeline(&fakeSource{rows: rows}, res, &fakeWriter{}, &fakeVersions{}, &fakeLineage{}, &fakeQuality{}).
		Run(context.Background(), Job{SourcePath: "t.csv", BatchSize: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.batches) != 3 {
		t.Fatalf("got %d batches, want 3 (2+2+1)", len(res.batches))
	}
	if len(res.batches[0]) != 2 || len(res.batches[2]) != 1 {
		t.Errorf("batch sizes = %d,%d,%d, want 2,2,1",
			len(res.batches[0]), len(res.batches[1]), len(res.batches[2]))
	}
	if metrics.BatchesWritten != 3 {
		t.Errorf("BatchesWritten = %d, want 3", metrics.BatchesWritten)
	}
}

func TestRunRecordsCheckpoints(t *testing.T) {
	var rows []types.RawRecord
	for i := 0; i < 4; i++ {
		rows = append(rows, goodRow(fmt.Sprintf("53637%d", i)))
	}
	p := newTestPipeline(&fakeSource{rows: rows}, &fakeResolver{}, &fakeWriter{}, &fakeVersions{}, &fakeLineage{}, &fakeQuality{})
	if _, err := p.Run(context.Background(), Job{SourcePath: "t.csv", CheckpointInterval: 2}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cps := p.Checkpoints()
	extract, ok := cps["extract"]
	if !ok {
		t.Fatal("no extract checkpoint recorded")
	}
	if extract.RecordsProcessed != 4 {
		t.Errorf("extract checkpoint at %d records, want 4", extract.RecordsProcessed)
	}
	if _, ok := cps["load"]; !ok {
		t.Error("no load checkpoint recorded")
	}
}
