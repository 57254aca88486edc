// Package factwriter implements the bulk fact insert: given a batch of
// dimension-resolved records, it ensures the covering partitions exist,
// then inserts the batch in a single transaction via COPY, falling back to
// per-row inserts (each in its own sub-transaction) if the bulk path fails.
package factwriter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/database"
	"github.com/retaildw/platform/internal/errs"
	"github.com/retaildw/platform/internal/logging"
	"github.com/retaildw/platform/internal/partition"
	"github.com/retaildw/platform/pkg/types"
)

var factColumns = []string{
	"date_key", "customer_key", "product_key", "invoice_no", "transaction_type",
	"quantity", "unit_price", "line_total", "transaction_datetime",
	"batch_id", "version_id", "data_source",
}

// Writer bulk-inserts fact rows, tagging each with batch_id and a
// (possibly still-null) version_id.
type Writer struct {
	db         *database.Postgres
	partitions *partition.Manager
	logger     logging.RetailLogger
}

// New builds a fact Writer bound to db, using partitions to materialize any
// partition a batch's date range requires before inserting.
func New(db *database.Postgres, partitions *partition.Manager, logger logging.RetailLogger) *Writer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Writer{db: db, partitions: partitions, logger: logger}
}

// Write inserts facts tagged with batchID and dataSource, returning the
// number of rows actually inserted (equal to len(facts) unless the bulk
// path failed and some per-row fallback inserts also failed).
func (w *Writer) Write(ctx context.Context, facts []types.FactRecord, batchID uuid.UUID, dataSource string) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	minDT, maxDT := facts[0].TransactionDate, facts[0].TransactionDate
	for _, f := range facts[1:] {
		if f.TransactionDate.Before(minDT) {
			minDT = f.TransactionDate
		}
		if f.TransactionDate.After(maxDT) {
			maxDT = f.TransactionDate
		}
	}
	if err := w.partitions.EnsurePartitionsForRange(ctx, minDT, maxDT); err != nil {
		return 0, errors.Wrap(err, "ensuring fact partitions")
	}

	inserted, err := w.writeBulk(ctx, facts, batchID, dataSource)
	if err == nil {
		return inserted, nil
	}

	w.logger.Warn("bulk fact insert failed, falling back to per-row inserts", logging.Fields.Err(err))
	return w.writePerRow(ctx, facts, batchID, dataSource)
}

func (w *Writer) writeBulk(ctx context.Context, facts []types.FactRecord, batchID uuid.UUID, dataSource string) (int, error) {
	tx, err := w.db.Pool.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "begin fact transaction")
	}
	defer tx.Rollback(ctx)

	rowSrc := pgx.CopyFromSlice(len(facts), func(i int) ([]interface{}, error) {
		f := facts[i]
		return []interface{}{
			f.DateKey, f.CustomerKey, f.ProductKey, f.InvoiceNumber, f.TransactionType,
			f.Quantity, centsToDecimal(f.UnitPriceCents), centsToDecimal(f.LineTotalCents),
			f.TransactionDate, batchID, nil, dataSource,
		}, nil
	})

	n, err := tx.CopyFrom(ctx, pgx.Identifier{w.db.Schema, "fact_sales"}, factColumns, rowSrc)
	if err != nil {
		return 0, errors.Wrap(errs.ErrBatchInsertFailed, err.Error())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit fact transaction")
	}
	return int(n), nil
}

func (w *Writer) writePerRow(ctx context.Context, facts []types.FactRecord, batchID uuid.UUID, dataSource string) (int, error) {
	inserted := 0
	for _, f := range facts {
		err := func() error {
			tx, err := w.db.Pool.Begin(ctx)
			if err != nil {
				return err
			}
			defer tx.Rollback(ctx)

			_, err = tx.Exec(ctx,
				`INSERT INTO `+w.table("fact_sales")+` (`+joinColumns()+`)
				 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
				f.DateKey, f.CustomerKey, f.ProductKey, f.InvoiceNumber, f.TransactionType,
				f.Quantity, centsToDecimal(f.UnitPriceCents), centsToDecimal(f.LineTotalCents),
				f.TransactionDate, batchID, nil, dataSource)
			if err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err != nil {
			w.logger.Warn("per-row fact insert failed", logging.Fields.Int("invoice_no", f.InvoiceNumber), logging.Fields.Err(err))
			continue
		}
		inserted++
	}
	if inserted == 0 && len(facts) > 0 {
		return 0, errors.Wrap(errs.ErrBatchInsertFailed, "all per-row fact inserts failed")
	}
	return inserted, nil
}

// centsToDecimal converts fixed-scale cents back to a float64 dollar
// amount for the NUMERIC(10,2) columns; the value was already
// banker's-rounded to 2 decimal places when first quantized in the
// cleaner, so this conversion never needs its own rounding step.
func centsToDecimal(cents int64) float64 {
	return float64(cents) / 100
}

func (w *Writer) table(name string) string { return pgx.Identifier{w.db.Schema, name}.Sanitize() }

func joinColumns() string {
	out := ""
	for i, c := range factColumns {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// MinMax is exposed for callers (Pipeline) that need a batch's datetime
// bounds without re-deriving them, e.g. for logging.
func MinMax(facts []types.FactRecord) (time.Time, time.Time) {
	if len(facts) == 0 {
		return time.Time{}, time.Time{}
	}
	minDT, maxDT := facts[0].TransactionDate, facts[0].TransactionDate
	for _, f := range facts[1:] {
		if f.TransactionDate.Before(minDT) {
			minDT = f.TransactionDate
		}
		if f.TransactionDate.After(maxDT) {
			maxDT = f.TransactionDate
		}
	}
	return minDT, maxDT
}
