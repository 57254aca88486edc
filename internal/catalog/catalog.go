// Package catalog provides read-only warehouse introspection: table and
// column descriptions from information_schema, foreign-key relationships,
// table sizes, a generated data dictionary, and recent lineage runs. It is
// a consumer of the warehouse, never a pipeline stage, so nothing here can
// affect load-path invariants.
package catalog

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/database"
	"github.com/retaildw/platform/internal/logging"
	"github.com/retaildw/platform/internal/reportcache"
)

// Catalog answers metadata and reporting queries against the warehouse.
type Catalog struct {
	db      *database.Postgres
	reports *reportcache.Cache
	logger  logging.RetailLogger
}

// New builds a Catalog. A nil reports cache disables report caching.
func New(db *database.Postgres, reports *reportcache.Cache, logger logging.RetailLogger) *Catalog {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if reports == nil {
		reports = reportcache.New(0)
	}
	return &Catalog{db: db, reports: reports, logger: logger}
}

// Column describes one column of a warehouse table.
type Column struct {
	Name        string
	DataType    string
	IsNullable  bool
	Default     string
	Description string
}

// TableInfo describes one warehouse table.
type TableInfo struct {
	Name        string
	Description string
	Columns     []Column
	RowEstimate int64
	TotalBytes  int64
}

// tableDescriptions is the static data-dictionary text for the core
// tables; columns not listed fall back to an empty description.
var tableDescriptions = map[string]string{
	"fact_sales":           "Transaction-grain fact table, range-partitioned on transaction_datetime.",
	"dim_customer":         "Customer dimension, one current row per customer_id.",
	"dim_product":          "Product dimension keyed by stock code, Type 1 overwrites.",
	"dim_date":             "Calendar dimension with YYYYMMDD surrogate keys.",
	"data_versions":        "One row per pipeline run, labeling every row that run produced.",
	"data_lineage":         "Audit record of each ETL run: counts, timings, terminal status.",
	"data_quality_metrics": "Per-column quality measurements with threshold outcomes.",
	"data_quality_alerts":  "Dispatched quality alerts, persisted best-effort.",
}

var columnDescriptions = map[string]string{
	"fact_sales.transaction_type":   "Granular transaction classification; absorbs quantity/price signs.",
	"fact_sales.batch_id":           "Run-scoped batch identifier for lineage joins.",
	"fact_sales.version_id":         "Version tag backfilled at run finalize.",
	"dim_customer.is_current":       "True for the single live row per customer_id.",
	"dim_product.is_gift":           "OR-merged gift flag from classification.",
	"dim_date.date_key":             "year*10000 + month*100 + day.",
	"data_versions.file_hash":       "First 16 hex chars of the source file's MD5.",
	"data_versions.version_number":  "vYYYYMMDD_HHMMSS, suffixed on collision.",
	"data_lineage.status":           "RUNNING, SUCCESS, FAILED, PARTIAL, or CANCELLED.",
	"data_quality_metrics.details":  "Rule description and severity as JSON.",
}

// DescribeTable returns table's column metadata, row estimate, and size.
func (c *Catalog) DescribeTable(ctx context.Context, table string) (TableInfo, error) {
	info := TableInfo{Name: table, Description: tableDescriptions[table]}

	rows, err := c.db.Pool.Query(ctx,
		`SELECT column_name, data_type, is_nullable = 'YES', COALESCE(column_default, '')
		   FROM information_schema.columns
		  WHERE table_schema = $1 AND table_name = $2
		  ORDER BY ordinal_position`,
		c.db.Schema, table)
	if err != nil {
		return TableInfo{}, errors.Wrap(err, "querying column metadata")
	}
	defer rows.Close()

	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.Default); err != nil {
			return TableInfo{}, errors.Wrap(err, "scanning column row")
		}
		col.Description = columnDescriptions[table+"."+col.Name]
		info.Columns = append(info.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return TableInfo{}, err
	}
	if len(info.Columns) == 0 {
		return TableInfo{}, errors.Errorf("table %s.%s not found", c.db.Schema, table)
	}

	err = c.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(sum(c.reltuples), 0)::bigint,
		        COALESCE(sum(pg_total_relation_size(c.oid)), 0)::bigint
		   FROM pg_catalog.pg_class c
		   JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		  WHERE n.nspname = $1 AND (c.relname = $2 OR c.relname LIKE $2 || '_y%')`,
		c.db.Schema, table).Scan(&info.RowEstimate, &info.TotalBytes)
	if err != nil {
		return TableInfo{}, errors.Wrap(err, "querying table size")
	}
	return info, nil
}

// Relationship is one foreign-key edge between warehouse tables.
type Relationship struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
	Constraint string
}

// Relationships lists every foreign key between tables in the warehouse
// schema.
func (c *Catalog) Relationships(ctx context.Context) ([]Relationship, error) {
	rows, err := c.db.Pool.Query(ctx,
		`SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name, tc.constraint_name
		   FROM information_schema.table_constraints tc
		   JOIN information_schema.key_column_usage kcu
		     ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
		   JOIN information_schema.constraint_column_usage ccu
		     ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		  WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1
		  ORDER BY tc.table_name, kcu.column_name`,
		c.db.Schema)
	if err != nil {
		return nil, errors.Wrap(err, "querying foreign keys")
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.FromTable, &rel.FromColumn, &rel.ToTable, &rel.ToColumn, &rel.Constraint); err != nil {
			return nil, errors.Wrap(err, "scanning foreign key row")
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// Dictionary generates the full data dictionary: every core table with its
// columns and descriptions.
func (c *Catalog) Dictionary(ctx context.Context) ([]TableInfo, error) {
	tables := []string{
		"fact_sales", "dim_customer", "dim_product", "dim_date",
		"data_versions", "data_lineage", "data_quality_metrics", "data_quality_alerts",
	}
	out := make([]TableInfo, 0, len(tables))
	for _, table := range tables {
		info, err := c.DescribeTable(ctx, table)
		if err != nil {
			// A missing peripheral table (e.g. alerts before first setup on
			// an older schema) elides that entry rather than failing the
			// whole dictionary.
			c.logger.Warn("dictionary entry skipped", logging.Fields.Table(table), logging.Fields.Err(err))
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// LineageEntry is one recent pipeline run, as recorded in data_lineage.
type LineageEntry struct {
	LineageID        int64
	SourceFile       string
	TargetTable      string
	Status           string
	RecordsProcessed int64
	RecordsInserted  int64
	RecordsRejected  int64
	StartedAt        time.Time
	CompletedAt      *time.Time
}

// RecentRuns lists the most recent pipeline runs, newest first.
func (c *Catalog) RecentRuns(ctx context.Context, limit int) ([]LineageEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.Pool.Query(ctx,
		`SELECT lineage_id, COALESCE(source_file, ''), target_table, status,
		        records_processed, records_inserted, records_rejected, started_at, completed_at
		   FROM `+c.db.Schema+`.data_lineage
		  ORDER BY started_at DESC
		  LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying recent runs")
	}
	defer rows.Close()

	var entries []LineageEntry
	for rows.Next() {
		var e LineageEntry
		if err := rows.Scan(&e.LineageID, &e.SourceFile, &e.TargetTable, &e.Status,
			&e.RecordsProcessed, &e.RecordsInserted, &e.RecordsRejected, &e.StartedAt, &e.CompletedAt); err != nil {
			return nil, errors.Wrap(err, "scanning lineage row")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
