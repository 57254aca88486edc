// Package schema creates the retail_dw warehouse schema: the three
// dimension tables, the partitioned fact table, and the versioning,
// lineage, quality-metric, and alert tables, plus the indexes the
// resolver's upsert paths depend on. All statements are idempotent
// (IF NOT EXISTS) so setup can be re-run safely; --drop-existing tears the
// schema down first.
package schema

import (
	"context"

	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/database"
	"github.com/retaildw/platform/internal/logging"
	"github.com/retaildw/platform/internal/partition"
)

// Setup creates the warehouse schema and all core tables. When
// dropExisting is true the whole schema is dropped first, cascading to
// every table and partition in it.
func Setup(ctx context.Context, db *database.Postgres, dropExisting bool, logger logging.RetailLogger) error {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	if dropExisting {
		logger.Warn("dropping existing schema", logging.Fields.String("schema", db.Schema))
		if _, err := db.Pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+db.Schema+` CASCADE`); err != nil {
			return errors.Wrap(err, "dropping schema")
		}
	}

	for _, stmt := range statements(db.Schema) {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "executing setup DDL:\n%s", stmt)
		}
	}

	// The DEFAULT partition absorbs any fact row outside every materialized
	// monthly range, so a first load never fails on partition coverage.
	if err := partition.New(db, logger).EnsureDefaultPartition(ctx); err != nil {
		return err
	}

	logger.Info("warehouse schema ready", logging.Fields.String("schema", db.Schema))
	return nil
}

func statements(schema string) []string {
	return []string{
		`CREATE SCHEMA IF NOT EXISTS ` + schema,

		`CREATE TABLE IF NOT EXISTS ` + schema + `.data_versions (
			version_id     BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			version_number TEXT NOT NULL UNIQUE,
			version_type   TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			source_file    TEXT,
			file_hash      CHAR(16),
			records_count  BIGINT NOT NULL DEFAULT 0,
			etl_job_id     UUID NOT NULL,
			status         TEXT NOT NULL DEFAULT 'ACTIVE'
				CHECK (status IN ('ACTIVE', 'ARCHIVED'))
		)`,

		`CREATE TABLE IF NOT EXISTS ` + schema + `.dim_date (
			date_key     INTEGER PRIMARY KEY,
			full_date    DATE NOT NULL UNIQUE,
			year         INTEGER NOT NULL,
			quarter      INTEGER NOT NULL,
			month        INTEGER NOT NULL,
			week         INTEGER NOT NULL,
			day_of_year  INTEGER NOT NULL,
			day_of_month INTEGER NOT NULL,
			day_of_week  INTEGER NOT NULL,
			month_name   TEXT NOT NULL,
			day_name     TEXT NOT NULL,
			quarter_name TEXT NOT NULL,
			is_weekend   BOOLEAN NOT NULL,
			is_holiday   BOOLEAN NOT NULL DEFAULT false,
			version_id   BIGINT REFERENCES ` + schema + `.data_versions(version_id)
		)`,

		`CREATE TABLE IF NOT EXISTS ` + schema + `.dim_customer (
			customer_key   BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			customer_id    TEXT NOT NULL,
			country        TEXT,
			effective_date TIMESTAMPTZ NOT NULL DEFAULT now(),
			expiry_date    TIMESTAMPTZ,
			is_current     BOOLEAN NOT NULL DEFAULT true,
			version_id     BIGINT REFERENCES ` + schema + `.data_versions(version_id)
		)`,

		// The partial unique index both enforces the at-most-one-current-row
		// invariant and serves as the ON CONFLICT target for customer upserts.
		`CREATE UNIQUE INDEX IF NOT EXISTS dim_customer_current_uq
			ON ` + schema + `.dim_customer (customer_id) WHERE is_current`,

		`CREATE TABLE IF NOT EXISTS ` + schema + `.dim_product (
			product_key BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			stock_code  TEXT NOT NULL UNIQUE,
			description TEXT,
			category    TEXT,
			subcategory TEXT,
			is_active   BOOLEAN NOT NULL DEFAULT true,
			is_gift     BOOLEAN NOT NULL DEFAULT false,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			version_id  BIGINT REFERENCES ` + schema + `.data_versions(version_id)
		)`,

		// Composite PK includes the partition key; quantity/price/line_total
		// checks hold because the loader persists absolute values and the
		// sign lives in transaction_type.
		`CREATE TABLE IF NOT EXISTS ` + schema + `.fact_sales (
			sales_key            BIGINT GENERATED ALWAYS AS IDENTITY,
			date_key             INTEGER NOT NULL REFERENCES ` + schema + `.dim_date(date_key),
			customer_key         BIGINT REFERENCES ` + schema + `.dim_customer(customer_key),
			product_key          BIGINT NOT NULL REFERENCES ` + schema + `.dim_product(product_key),
			invoice_no           INTEGER NOT NULL,
			transaction_type     TEXT NOT NULL,
			quantity             INTEGER NOT NULL CHECK (quantity > 0),
			unit_price           NUMERIC(10,2) NOT NULL CHECK (unit_price >= 0),
			line_total           NUMERIC(12,2) NOT NULL CHECK (line_total = quantity * unit_price),
			transaction_datetime TIMESTAMPTZ NOT NULL,
			batch_id             UUID NOT NULL,
			version_id           BIGINT REFERENCES ` + schema + `.data_versions(version_id),
			data_source          TEXT,
			PRIMARY KEY (sales_key, transaction_datetime)
		) PARTITION BY RANGE (transaction_datetime)`,

		`CREATE TABLE IF NOT EXISTS ` + schema + `.data_lineage (
			lineage_id        BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			source_system     TEXT NOT NULL,
			source_table      TEXT,
			source_file       TEXT,
			target_table      TEXT NOT NULL,
			batch_id          TEXT NOT NULL,
			records_processed BIGINT NOT NULL DEFAULT 0,
			records_inserted  BIGINT NOT NULL DEFAULT 0,
			records_updated   BIGINT NOT NULL DEFAULT 0,
			records_rejected  BIGINT NOT NULL DEFAULT 0,
			started_at        TIMESTAMPTZ NOT NULL,
			completed_at      TIMESTAMPTZ,
			status            TEXT NOT NULL
				CHECK (status IN ('RUNNING', 'SUCCESS', 'FAILED', 'PARTIAL', 'CANCELLED')),
			job_metadata      JSONB
		)`,

		`CREATE TABLE IF NOT EXISTS ` + schema + `.data_quality_metrics (
			metric_id        BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			table_name       TEXT NOT NULL,
			column_name      TEXT NOT NULL,
			metric_name      TEXT NOT NULL,
			metric_value     DOUBLE PRECISION NOT NULL,
			threshold_value  DOUBLE PRECISION,
			is_threshold_met BOOLEAN NOT NULL,
			batch_id         TEXT NOT NULL,
			measured_at      TIMESTAMPTZ NOT NULL,
			details          JSONB
		)`,

		`CREATE INDEX IF NOT EXISTS data_quality_metrics_history_idx
			ON ` + schema + `.data_quality_metrics (table_name, metric_name, measured_at)`,

		`CREATE TABLE IF NOT EXISTS ` + schema + `.data_quality_alerts (
			alert_id   BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			alert_time TIMESTAMPTZ NOT NULL,
			severity   TEXT NOT NULL,
			message    TEXT NOT NULL,
			metadata   JSONB
		)`,
	}
}
