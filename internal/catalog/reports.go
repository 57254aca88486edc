package catalog

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// SalesSummary is the warehouse-wide rollup behind `catalog report
// sales-summary`.
type SalesSummary struct {
	TotalTransactions int64
	TotalQuantity     int64
	TotalRevenue      float64
	DistinctCustomers int64
	DistinctProducts  int64
	FirstTransaction  *time.Time
	LastTransaction   *time.Time
}

// SalesSummaryReport computes (or serves from cache) the overall sales
// rollup. Only SALE-typed rows count toward revenue; returns and reversals
// carry their own transaction types and would double-count otherwise.
func (c *Catalog) SalesSummaryReport(ctx context.Context) (SalesSummary, error) {
	v, err := c.reports.GetOrCompute("sales-summary", func() (interface{}, error) {
		var s SalesSummary
		err := c.db.Pool.QueryRow(ctx,
			`SELECT count(*),
			        COALESCE(sum(quantity), 0),
			        COALESCE(sum(line_total) FILTER (WHERE transaction_type = 'SALE'), 0),
			        count(DISTINCT customer_key),
			        count(DISTINCT product_key),
			        min(transaction_datetime),
			        max(transaction_datetime)
			   FROM `+c.db.Schema+`.fact_sales`).Scan(
			&s.TotalTransactions, &s.TotalQuantity, &s.TotalRevenue,
			&s.DistinctCustomers, &s.DistinctProducts, &s.FirstTransaction, &s.LastTransaction)
		if err != nil {
			return nil, errors.Wrap(err, "querying sales summary")
		}
		return s, nil
	})
	if err != nil {
		return SalesSummary{}, err
	}
	return v.(SalesSummary), nil
}

// ProductRank is one row of the top-products report.
type ProductRank struct {
	StockCode   string
	Description string
	Category    string
	Quantity    int64
	Revenue     float64
}

// TopProductsReport lists the highest-revenue products across all SALE
// rows, served from the report cache when fresh.
func (c *Catalog) TopProductsReport(ctx context.Context, limit int) ([]ProductRank, error) {
	if limit <= 0 {
		limit = 10
	}
	v, err := c.reports.GetOrCompute("top-products", func() (interface{}, error) {
		rows, err := c.db.Pool.Query(ctx,
			`SELECT p.stock_code, COALESCE(p.description, ''), COALESCE(p.category, ''),
			        sum(f.quantity), sum(f.line_total)
			   FROM `+c.db.Schema+`.fact_sales f
			   JOIN `+c.db.Schema+`.dim_product p ON p.product_key = f.product_key
			  WHERE f.transaction_type = 'SALE'
			  GROUP BY p.stock_code, p.description, p.category
			  ORDER BY sum(f.line_total) DESC
			  LIMIT $1`, limit)
		if err != nil {
			return nil, errors.Wrap(err, "querying top products")
		}
		defer rows.Close()

		var ranks []ProductRank
		for rows.Next() {
			var r ProductRank
			if err := rows.Scan(&r.StockCode, &r.Description, &r.Category, &r.Quantity, &r.Revenue); err != nil {
				return nil, errors.Wrap(err, "scanning product rank")
			}
			ranks = append(ranks, r)
		}
		return ranks, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return v.([]ProductRank), nil
}

// CustomerStats is the per-country customer rollup.
type CustomerStats struct {
	Country       string
	Customers     int64
	Transactions  int64
	Revenue       float64
	AvgOrderValue float64
}

// CustomerStatsReport aggregates SALE activity by customer country.
func (c *Catalog) CustomerStatsReport(ctx context.Context) ([]CustomerStats, error) {
	v, err := c.reports.GetOrCompute("customer-stats", func() (interface{}, error) {
		rows, err := c.db.Pool.Query(ctx,
			`SELECT COALESCE(cu.country, 'Unknown'),
			        count(DISTINCT cu.customer_key),
			        count(*),
			        sum(f.line_total),
			        avg(f.line_total)
			   FROM `+c.db.Schema+`.fact_sales f
			   JOIN `+c.db.Schema+`.dim_customer cu ON cu.customer_key = f.customer_key
			  WHERE f.transaction_type = 'SALE'
			  GROUP BY cu.country
			  ORDER BY sum(f.line_total) DESC`)
		if err != nil {
			return nil, errors.Wrap(err, "querying customer stats")
		}
		defer rows.Close()

		var stats []CustomerStats
		for rows.Next() {
			var s CustomerStats
			if err := rows.Scan(&s.Country, &s.Customers, &s.Transactions, &s.Revenue, &s.AvgOrderValue); err != nil {
				return nil, errors.Wrap(err, "scanning customer stats")
			}
			stats = append(stats, s)
		}
		return stats, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return v.([]CustomerStats), nil
}

// InvalidateReports drops every cached report so the next request
// recomputes it.
func (c *Catalog) InvalidateReports() {
	for _, key := range []string{"sales-summary", "top-products", "customer-stats"} {
		c.reports.Invalidate(key)
	}
}
