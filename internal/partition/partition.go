// Package partition ensures fact_sales range partitions exist to cover a
// given datetime window, materializing monthly partitions on demand. Naming
// is deterministic (fact_sales_yYYYYmMM) so concurrent callers racing on an
// overlapping range converge: the loser of a CREATE TABLE race simply
// observes the partition already exists and treats that as success.
package partition

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/database"
	"github.com/retaildw/platform/internal/datedim"
	"github.com/retaildw/platform/internal/errs"
	"github.com/retaildw/platform/internal/logging"
	"github.com/retaildw/platform/internal/retry"
)

// Manager ensures fact_sales partitions exist ahead of a FactWriter batch
// insert.
type Manager struct {
	db     *database.Postgres
	logger logging.RetailLogger
}

// New builds a partition Manager bound to db.
func New(db *database.Postgres, logger logging.RetailLogger) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Manager{db: db, logger: logger}
}

// EnsurePartitionsForRange guarantees monthly partitions exist covering
// [floor(minDT, month), ceil(maxDT, month)). Creation is idempotent: if a
// concurrent caller wins the race to create a given month's partition, this
// call's own CREATE TABLE fails with a duplicate-object error, which is
// treated as success rather than propagated.
func (m *Manager) EnsurePartitionsForRange(ctx context.Context, minDT, maxDT time.Time) error {
	if maxDT.Before(minDT) {
		minDT, maxDT = maxDT, minDT
	}

	for cursor := datedim.MonthStart(minDT); !cursor.After(maxDT); cursor = cursor.AddDate(0, 1, 0) {
		if err := m.ensureMonth(ctx, cursor); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ensureMonth(ctx context.Context, monthStart time.Time) error {
	name := datedim.PartitionName(monthStart)
	nextMonth := datedim.NextMonthStart(monthStart)

	createErr := retry.Do(ctx, 1, 500*time.Millisecond, func() error {
		return m.createPartitionOnce(ctx, name, monthStart, nextMonth)
	})
	if createErr == nil {
		return nil
	}

	// A naming collision with a concurrent creator is success if the
	// partition exists post-failure; anything else (e.g. a permissions
	// error, a down connection) is a genuine failure.
	exists, checkErr := m.partitionExists(ctx, name)
	if checkErr == nil && exists {
		return nil
	}

	return errors.Wrapf(errs.ErrPartitionCreateFailed, "partition %s: %v", name, createErr)
}

func (m *Manager) createPartitionOnce(ctx context.Context, name string, from, to time.Time) error {
	tx, err := m.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	createSQL := `CREATE TABLE IF NOT EXISTS ` + m.qualified(name) + ` PARTITION OF ` + m.qualified("fact_sales") +
		` FOR VALUES FROM ($1) TO ($2)`
	if _, err := tx.Exec(ctx, createSQL, from, to); err != nil {
		return err
	}

	for _, col := range []string{"transaction_datetime", "customer_key", "product_key"} {
		idxName := name + "_" + col + "_idx"
		idxSQL := `CREATE INDEX IF NOT EXISTS ` + pgx.Identifier{idxName}.Sanitize() +
			` ON ` + m.qualified(name) + ` (` + col + `)`
		if _, err := tx.Exec(ctx, idxSQL); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (m *Manager) partitionExists(ctx context.Context, name string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	)`
	var exists bool
	err := m.db.Pool.QueryRow(ctx, q, m.db.Schema, name).Scan(&exists)
	return exists, err
}

// EnsureDefaultPartition creates the DEFAULT catch-all partition that
// absorbs any fact row falling outside every explicitly materialized
// monthly range.
func (m *Manager) EnsureDefaultPartition(ctx context.Context) error {
	sql := `CREATE TABLE IF NOT EXISTS ` + m.qualified("fact_sales_default") +
		` PARTITION OF ` + m.qualified("fact_sales") + ` DEFAULT`
	_, err := m.db.Pool.Exec(ctx, sql)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return errors.Wrap(err, "creating default partition")
	}
	return nil
}

func (m *Manager) qualified(name string) string {
	return pgx.Identifier{m.db.Schema, name}.Sanitize()
}
