package quality

import (
	"context"

	"github.com/pkg/errors"
)

// SampleTable pulls up to limit rows from table (for fact_sales the most
// recent by transaction time; the dimension samples are unordered), projected onto the
// text-column shape the table's rule registry expects. This backs the
// on-demand `quality check` command; the pipeline samples in-memory during
// a run instead.
func (m *Monitor) SampleTable(ctx context.Context, table string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 1000
	}

	var query string
	var columns []string
	switch table {
	case "fact_sales":
		query = `SELECT f.invoice_no::text,
		                COALESCE(p.stock_code, ''),
		                COALESCE(p.description, ''),
		                CASE WHEN c.customer_id = 'GUEST' THEN '' ELSE COALESCE(c.customer_id, '') END,
		                f.transaction_datetime::text,
		                f.quantity::text, f.unit_price::text, f.line_total::text
		           FROM ` + m.db.Schema + `.fact_sales f
		           LEFT JOIN ` + m.db.Schema + `.dim_product p ON p.product_key = f.product_key
		           LEFT JOIN ` + m.db.Schema + `.dim_customer c ON c.customer_key = f.customer_key
		          ORDER BY f.transaction_datetime DESC
		          LIMIT $1`
		columns = []string{"invoice_no", "stock_code", "description", "customer_id", "invoice_date", "quantity", "unit_price", "line_total"}
	case "dim_customer":
		query = `SELECT customer_id, COALESCE(country, '')
		           FROM ` + m.db.Schema + `.dim_customer
		          WHERE is_current
		          LIMIT $1`
		columns = []string{"customer_id", "country"}
	case "dim_product":
		query = `SELECT stock_code, COALESCE(description, '')
		           FROM ` + m.db.Schema + `.dim_product
		          LIMIT $1`
		columns = []string{"stock_code", "description"}
	default:
		return nil, errors.Errorf("no sampler for table %q", table)
	}

	rows, err := m.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "sampling %s", table)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		values := make([]interface{}, len(columns))
		targets := make([]*string, len(columns))
		for i := range values {
			targets[i] = new(string)
			values[i] = targets[i]
		}
		if err := rows.Scan(values...); err != nil {
			return nil, errors.Wrapf(err, "scanning %s sample row", table)
		}
		rec := make(Record, len(columns))
		for i, col := range columns {
			rec[col] = *targets[i]
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
