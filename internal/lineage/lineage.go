// Package lineage writes one data_lineage row per pipeline run: inserted
// RUNNING at the start of extraction, finalized to a terminal status once
// the run's counts are known. The write path (Start/Finish) is separate
// from the background retention sweep (Prune/StartRetentionSweep), which
// only long-lived scheduler processes run.
package lineage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/database"
	"github.com/retaildw/platform/internal/logging"
	"github.com/retaildw/platform/pkg/types"
)

// Writer inserts and finalizes data_lineage rows.
type Writer struct {
	db     *database.Postgres
	logger logging.RetailLogger
}

// New builds a lineage Writer bound to db.
func New(db *database.Postgres, logger logging.RetailLogger) *Writer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Writer{db: db, logger: logger}
}

// Run identifies one in-flight lineage row.
type Run struct {
	ID        int64
	StartedAt time.Time
}

// Start inserts a RUNNING data_lineage row for a new ETL run.
func (w *Writer) Start(ctx context.Context, jobID uuid.UUID, sourceSystem, sourceTable, sourceFile, targetTable, batchID string) (Run, error) {
	startedAt := time.Now().UTC()
	var id int64
	err := w.db.Pool.QueryRow(ctx,
		`INSERT INTO `+w.db.Schema+`.data_lineage
		   (source_system, source_table, source_file, target_table, batch_id,
		    records_processed, records_inserted, records_updated, records_rejected,
		    started_at, status, job_metadata)
		 VALUES ($1,$2,$3,$4,$5,0,0,0,0,$6,$7,$8)
		 RETURNING lineage_id`,
		sourceSystem, sourceTable, sourceFile, targetTable, batchID,
		startedAt, types.RunRunning, jobMetadata(jobID),
	).Scan(&id)
	if err != nil {
		return Run{}, errors.Wrap(err, "inserting data_lineage row")
	}
	return Run{ID: id, StartedAt: startedAt}, nil
}

// Counts summarizes a run's outcome for the terminal lineage update.
type Counts struct {
	Processed int64
	Inserted  int64
	Updated   int64
	Rejected  int64
}

// Finish updates the lineage row to a terminal status with final counts and
// timing. A failure to write here is logged but never escalated: the run's
// own status is derived from its data counts, not from this write
// succeeding.
func (w *Writer) Finish(ctx context.Context, run Run, status string, counts Counts) {
	_, err := w.db.Pool.Exec(ctx,
		`UPDATE `+w.db.Schema+`.data_lineage SET
		   records_processed = $1, records_inserted = $2, records_updated = $3,
		   records_rejected = $4, completed_at = $5, status = $6
		 WHERE lineage_id = $7`,
		counts.Processed, counts.Inserted, counts.Updated, counts.Rejected,
		time.Now().UTC(), status, run.ID)
	if err != nil {
		w.logger.Warn("lineage finalize failed", logging.Fields.Err(err))
	}
}

func jobMetadata(jobID uuid.UUID) []byte {
	b, _ := json.Marshal(map[string]string{"job_id": jobID.String()})
	return b
}

// Prune deletes terminal lineage rows older than retention. RUNNING rows
// are never pruned regardless of age; a wedged run's row is the only
// evidence it existed.
func (w *Writer) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := w.db.Pool.Exec(ctx,
		`DELETE FROM `+w.db.Schema+`.data_lineage
		  WHERE status <> $1 AND started_at < $2`,
		types.RunRunning, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, errors.Wrap(err, "pruning data_lineage")
	}
	return tag.RowsAffected(), nil
}

// StartRetentionSweep runs Prune every interval until ctx is cancelled,
// keeping the audit table bounded for long-lived scheduler processes.
func (w *Writer) StartRetentionSweep(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruned, err := w.Prune(ctx, retention)
				if err != nil {
					w.logger.Warn("lineage retention sweep failed", logging.Fields.Err(err))
					continue
				}
				if pruned > 0 {
					w.logger.Info("lineage rows pruned", logging.Fields.Int64("rows", pruned))
				}
			}
		}
	}()
}
