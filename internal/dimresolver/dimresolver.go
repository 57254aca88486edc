// Package dimresolver implements the dimensional loader: given a batch of
// transformed records, it resolves (or creates) the customer, product, and
// date dimension rows those records reference and returns fact-ready
// records annotated with surrogate keys. The happy path is a single bulk
// upsert transaction per batch; if that transaction fails (constraint
// violation, transient error) it falls back to a per-row upsert path scoped
// to that batch only.
package dimresolver

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/database"
	"github.com/retaildw/platform/internal/datedim"
	"github.com/retaildw/platform/internal/dimcache"
	"github.com/retaildw/platform/internal/errs"
	"github.com/retaildw/platform/internal/logging"
	"github.com/retaildw/platform/pkg/types"
)

const guestCustomerID = "GUEST"

// Resolver resolves natural keys to dimension surrogate keys for a batch of
// transformed records.
type Resolver struct {
	db     *database.Postgres
	cache  *dimcache.Cache
	logger logging.RetailLogger
}

// New builds a Resolver bound to db, seeding and populating cache.
func New(db *database.Postgres, cache *dimcache.Cache, logger logging.RetailLogger) *Resolver {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Resolver{db: db, cache: cache, logger: logger}
}

// Result is the outcome of resolving one batch.
type Result struct {
	Facts    []types.FactRecord
	Rejected int
}

// productAttrs accumulates the fold-merge of conflicting per-record product
// attributes within a batch: longest description wins, category and
// subcategory take the first non-empty value, is_gift is OR-merged.
type productAttrs struct {
	description string
	category    string
	subcategory string
	isGift      bool
}

func (p *productAttrs) fold(rec types.TransformedRecord) {
	if len(rec.Description) > len(p.description) {
		p.description = rec.Description
	}
	if p.category == "" {
		p.category = rec.Category
	}
	if p.subcategory == "" {
		p.subcategory = rec.Subcategory
	}
	p.isGift = p.isGift || rec.IsGift
}

// Resolve annotates batch with resolved surrogate keys. Resolve itself
// never writes version_id; that tagging belongs to the run finalize step.
func (r *Resolver) Resolve(ctx context.Context, batch []types.TransformedRecord) (Result, error) {
	if len(batch) == 0 {
		return Result{}, nil
	}

	countryByCustomer := make(map[string]string)
	products := make(map[string]*productAttrs)
	dates := make(map[int32]time.Time)

	for _, rec := range batch {
		countryByCustomer[rec.CustomerID] = rec.Country
		if products[rec.StockCode] == nil {
			products[rec.StockCode] = &productAttrs{}
		}
		products[rec.StockCode].fold(rec)
		dates[datedim.Key(rec.TransactionDate)] = rec.TransactionDate
	}

	customerKeys, productKeys, dateKeys, err := r.resolveBulk(ctx, countryByCustomer, products, dates)
	if err != nil {
		r.logger.Warn("bulk dimension resolve failed, falling back to per-row upserts",
			logging.Fields.Err(err))
		customerKeys, productKeys, dateKeys, err = r.resolvePerRow(ctx, countryByCustomer, products, dates)
		if err != nil {
			return Result{}, errors.Wrap(err, "per-row dimension resolve fallback")
		}
	}

	guestKey, hasGuest := customerKeys[guestCustomerID]

	facts := make([]types.FactRecord, 0, len(batch))
	rejected := 0
	for _, rec := range batch {
		productKey, okProduct := productKeys[rec.StockCode]
		dateKey, okDate := dateKeys[datedim.Key(rec.TransactionDate)]
		if !okProduct || !okDate {
			rejected++
			continue
		}

		customerKey, okCustomer := customerKeys[rec.CustomerID]
		if !okCustomer {
			if hasGuest {
				customerKey = guestKey
			} else {
				customerKey = 0
			}
		}

		facts = append(facts, types.FactRecord{
			TransformedRecord: rec,
			CustomerKey:       customerKey,
			ProductKey:        productKey,
			DateKey:           int32(dateKey),
		})
	}

	return Result{Facts: facts, Rejected: rejected}, nil
}

// resolveBulk runs the full batch-scoped lookup/upsert/re-query sequence in
// a single transaction.
func (r *Resolver) resolveBulk(
	ctx context.Context,
	countryByCustomer map[string]string,
	products map[string]*productAttrs,
	dates map[int32]time.Time,
) (customerKeys map[string]int64, productKeys map[string]int64, dateKeys map[int32]int64, err error) {
	customerKeys = make(map[string]int64, len(countryByCustomer))
	productKeys = make(map[string]int64, len(products))
	dateKeys = make(map[int32]int64, len(dates))

	missingCustomers := r.seedFromCacheCustomers(countryByCustomer, customerKeys)
	missingProducts := r.seedFromCacheProducts(products, productKeys)
	missingDates := r.seedFromCacheDates(dates, dateKeys)

	tx, txErr := r.db.Pool.Begin(ctx)
	if txErr != nil {
		return nil, nil, nil, errors.Wrap(txErr, "begin dimension transaction")
	}
	defer tx.Rollback(ctx)

	if err := r.queryExistingCustomers(ctx, tx, missingCustomers, customerKeys); err != nil {
		return nil, nil, nil, err
	}
	if err := r.queryExistingProducts(ctx, tx, missingProducts, productKeys); err != nil {
		return nil, nil, nil, err
	}
	if err := r.queryExistingDates(ctx, tx, missingDates, dateKeys); err != nil {
		return nil, nil, nil, err
	}

	// Recompute missing sets: the cache/DB pass above may have resolved some.
	missingCustomers = diffCustomers(countryByCustomer, customerKeys)
	missingProducts = diffProducts(products, productKeys)
	missingDates = diffDates(dates, dateKeys)

	if err := r.insertMissingCustomers(ctx, tx, missingCustomers, countryByCustomer); err != nil {
		return nil, nil, nil, err
	}
	if err := r.upsertProducts(ctx, tx, missingProducts, products, productKeys); err != nil {
		return nil, nil, nil, err
	}
	if err := r.insertMissingDates(ctx, tx, missingDates, dates); err != nil {
		return nil, nil, nil, err
	}

	// Re-query to pick up surrogate keys for rows inserted (or
	// insert-or-ignored into, by a concurrent writer) above.
	if err := r.queryExistingCustomers(ctx, tx, missingCustomers, customerKeys); err != nil {
		return nil, nil, nil, err
	}
	for _, dk := range missingDates {
		dateKeys[dk] = int64(dk)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, nil, errors.Wrap(err, "commit dimension transaction")
	}

	r.populateCache(customerKeys, countryByCustomer, productKeys, dateKeys)
	return customerKeys, productKeys, dateKeys, nil
}

func (r *Resolver) seedFromCacheCustomers(countryByCustomer map[string]string, out map[string]int64) []string {
	var missing []string
	for customerID, country := range countryByCustomer {
		if key, ok := r.cache.Get(dimcache.Customer, dimcache.CustomerKey(customerID, country)); ok {
			out[customerID] = key
		} else {
			missing = append(missing, customerID)
		}
	}
	return missing
}

func (r *Resolver) seedFromCacheProducts(products map[string]*productAttrs, out map[string]int64) []string {
	var missing []string
	for stockCode := range products {
		if key, ok := r.cache.Get(dimcache.Product, dimcache.ProductKey(stockCode)); ok {
			out[stockCode] = key
		} else {
			missing = append(missing, stockCode)
		}
	}
	return missing
}

func (r *Resolver) seedFromCacheDates(dates map[int32]time.Time, out map[int32]int64) []int32 {
	var missing []int32
	for dk := range dates {
		if key, ok := r.cache.Get(dimcache.Date, dimcache.DateKey(isoDate(dates[dk]))); ok {
			out[dk] = key
		} else {
			missing = append(missing, dk)
		}
	}
	return missing
}

func diffCustomers(all map[string]string, resolved map[string]int64) []string {
	var missing []string
	for id := range all {
		if _, ok := resolved[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func diffProducts(all map[string]*productAttrs, resolved map[string]int64) []string {
	var missing []string
	for code := range all {
		if _, ok := resolved[code]; !ok {
			missing = append(missing, code)
		}
	}
	return missing
}

func diffDates(all map[int32]time.Time, resolved map[int32]int64) []int32 {
	var missing []int32
	for dk := range all {
		if _, ok := resolved[dk]; !ok {
			missing = append(missing, dk)
		}
	}
	return missing
}

func (r *Resolver) queryExistingCustomers(ctx context.Context, tx pgx.Tx, ids []string, out map[string]int64) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx,
		`SELECT customer_id, customer_key FROM `+r.table("dim_customer")+
			` WHERE is_current AND customer_id = ANY($1)`, ids)
	if err != nil {
		return errors.Wrap(err, "querying existing customers")
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var key int64
		if err := rows.Scan(&id, &key); err != nil {
			return errors.Wrap(err, "scanning customer row")
		}
		out[id] = key
	}
	return rows.Err()
}

func (r *Resolver) queryExistingProducts(ctx context.Context, tx pgx.Tx, codes []string, out map[string]int64) error {
	if len(codes) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx,
		`SELECT stock_code, product_key FROM `+r.table("dim_product")+` WHERE stock_code = ANY($1)`, codes)
	if err != nil {
		return errors.Wrap(err, "querying existing products")
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		var key int64
		if err := rows.Scan(&code, &key); err != nil {
			return errors.Wrap(err, "scanning product row")
		}
		out[code] = key
	}
	return rows.Err()
}

func (r *Resolver) queryExistingDates(ctx context.Context, tx pgx.Tx, keys []int32, out map[int32]int64) error {
	if len(keys) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx, `SELECT date_key FROM `+r.table("dim_date")+` WHERE date_key = ANY($1)`, keys)
	if err != nil {
		return errors.Wrap(err, "querying existing dates")
	}
	defer rows.Close()
	for rows.Next() {
		var dk int32
		if err := rows.Scan(&dk); err != nil {
			return errors.Wrap(err, "scanning date row")
		}
		out[dk] = int64(dk)
	}
	return rows.Err()
}

func (r *Resolver) insertMissingCustomers(ctx context.Context, tx pgx.Tx, ids []string, countryByCustomer map[string]string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(
			`INSERT INTO `+r.table("dim_customer")+
				` (customer_id, country, effective_date, is_current)
				  VALUES ($1, $2, now(), true)
				  ON CONFLICT (customer_id) WHERE is_current DO NOTHING`,
			id, countryByCustomer[id])
	}
	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for range ids {
		if _, err := results.Exec(); err != nil {
			return errors.Wrap(err, "inserting dim_customer")
		}
	}
	return nil
}

func (r *Resolver) upsertProducts(ctx context.Context, tx pgx.Tx, codes []string, products map[string]*productAttrs, out map[string]int64) error {
	if len(codes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, code := range codes {
		attrs := products[code]
		batch.Queue(
			`INSERT INTO `+r.table("dim_product")+
				` (stock_code, description, category, subcategory, is_gift, is_active, updated_at)
				  VALUES ($1, $2, $3, $4, $5, true, now())
				  ON CONFLICT (stock_code) DO UPDATE SET
				    description = EXCLUDED.description,
				    category = EXCLUDED.category,
				    subcategory = EXCLUDED.subcategory,
				    is_gift = EXCLUDED.is_gift,
				    updated_at = now()
				  RETURNING product_key`,
			code, attrs.description, attrs.category, attrs.subcategory, attrs.isGift)
	}
	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for _, code := range codes {
		var key int64
		if err := results.QueryRow().Scan(&key); err != nil {
			return errors.Wrap(err, "upserting dim_product")
		}
		out[code] = key
	}
	return nil
}

func (r *Resolver) insertMissingDates(ctx context.Context, tx pgx.Tx, keys []int32, dates map[int32]time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, dk := range keys {
		d := dates[dk]
		attrs := datedim.Derive(d)
		batch.Queue(
			`INSERT INTO `+r.table("dim_date")+
				` (date_key, full_date, year, quarter, month, week, day_of_year, day_of_month,
				   day_of_week, month_name, day_name, quarter_name, is_weekend, is_holiday)
				  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
				  ON CONFLICT (date_key) DO NOTHING`,
			dk, d, attrs.Year, attrs.Quarter, attrs.Month, attrs.Week, attrs.DayOfYear,
			attrs.DayOfMonth, attrs.DayOfWeek, attrs.MonthName, attrs.DayName,
			attrs.QuarterName, attrs.IsWeekend, attrs.IsHoliday)
	}
	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for range keys {
		if _, err := results.Exec(); err != nil {
			return errors.Wrap(err, "inserting dim_date")
		}
	}
	return nil
}

func (r *Resolver) populateCache(
	customerKeys map[string]int64, countryByCustomer map[string]string,
	productKeys map[string]int64, dateKeys map[int32]int64,
) {
	for id, key := range customerKeys {
		r.cache.Set(dimcache.Customer, dimcache.CustomerKey(id, countryByCustomer[id]), key)
	}
	for code, key := range productKeys {
		r.cache.Set(dimcache.Product, dimcache.ProductKey(code), key)
	}
	for dk, key := range dateKeys {
		r.cache.Set(dimcache.Date, dimcache.DateKey(isoDateFromKey(dk)), key)
	}
}

func (r *Resolver) table(name string) string {
	return pgx.Identifier{r.db.Schema, name}.Sanitize()
}

func isoDate(t time.Time) string { return t.UTC().Format("2006-01-02") }

func isoDateFromKey(dk int32) string {
	year := dk / 10000
	month := (dk / 100) % 100
	day := dk % 100
	return time.Date(int(year), time.Month(month), int(day), 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

// resolvePerRow is the fallback path used when the bulk transaction fails:
// each dimension row is upserted in its own sub-transaction, first trying
// `ON CONFLICT DO UPDATE ... RETURNING`, then a read-after-write if no row
// came back.
func (r *Resolver) resolvePerRow(
	ctx context.Context,
	countryByCustomer map[string]string,
	products map[string]*productAttrs,
	dates map[int32]time.Time,
) (map[string]int64, map[string]int64, map[int32]int64, error) {
	customerKeys := make(map[string]int64, len(countryByCustomer))
	productKeys := make(map[string]int64, len(products))
	dateKeys := make(map[int32]int64, len(dates))

	for id, country := range countryByCustomer {
		key, err := r.upsertCustomerRow(ctx, id, country)
		if err != nil {
			r.logger.Warn("per-row customer upsert failed", logging.Fields.String("customer_id", id), logging.Fields.Err(err))
			continue
		}
		customerKeys[id] = key
	}

	for code, attrs := range products {
		key, err := r.upsertProductRow(ctx, code, attrs)
		if err != nil {
			r.logger.Warn("per-row product upsert failed", logging.Fields.String("stock_code", code), logging.Fields.Err(err))
			continue
		}
		productKeys[code] = key
	}

	for dk, d := range dates {
		if err := r.upsertDateRow(ctx, dk, d); err != nil {
			r.logger.Warn("per-row date upsert failed", logging.Fields.Int("date_key", int(dk)), logging.Fields.Err(err))
			continue
		}
		dateKeys[dk] = int64(dk)
	}

	return customerKeys, productKeys, dateKeys, nil
}

func (r *Resolver) upsertCustomerRow(ctx context.Context, customerID, country string) (int64, error) {
	var key int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO `+r.table("dim_customer")+
			` (customer_id, country, effective_date, is_current)
			  VALUES ($1, $2, now(), true)
			  ON CONFLICT (customer_id) WHERE is_current DO UPDATE SET country = EXCLUDED.country
			  RETURNING customer_key`,
		customerID, country).Scan(&key)
	if err == nil {
		return key, nil
	}

	// Read-after-write: some conflict targets (e.g. a stale partial index
	// under heavy concurrent write) can return zero rows instead of erroring.
	err = r.db.Pool.QueryRow(ctx,
		`SELECT customer_key FROM `+r.table("dim_customer")+` WHERE customer_id = $1 AND is_current`,
		customerID).Scan(&key)
	if err != nil {
		return 0, errors.Wrap(errs.ErrDimensionResolutionFailed, err.Error())
	}
	return key, nil
}

func (r *Resolver) upsertProductRow(ctx context.Context, stockCode string, attrs *productAttrs) (int64, error) {
	var key int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO `+r.table("dim_product")+
			` (stock_code, description, category, subcategory, is_gift, is_active, updated_at)
			  VALUES ($1,$2,$3,$4,$5,true,now())
			  ON CONFLICT (stock_code) DO UPDATE SET
			    description = EXCLUDED.description, category = EXCLUDED.category,
			    subcategory = EXCLUDED.subcategory, is_gift = EXCLUDED.is_gift, updated_at = now()
			  RETURNING product_key`,
		stockCode, attrs.description, attrs.category, attrs.subcategory, attrs.isGift).Scan(&key)
	if err == nil {
		return key, nil
	}

	err = r.db.Pool.QueryRow(ctx,
		`SELECT product_key FROM `+r.table("dim_product")+` WHERE stock_code = $1`, stockCode).Scan(&key)
	if err != nil {
		return 0, errors.Wrap(errs.ErrDimensionResolutionFailed, err.Error())
	}
	return key, nil
}

func (r *Resolver) upsertDateRow(ctx context.Context, dateKey int32, d time.Time) error {
	attrs := datedim.Derive(d)
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO `+r.table("dim_date")+
			` (date_key, full_date, year, quarter, month, week, day_of_year, day_of_month,
			   day_of_week, month_name, day_name, quarter_name, is_weekend, is_holiday)
			  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			  ON CONFLICT (date_key) DO NOTHING`,
		dateKey, d, attrs.Year, attrs.Quarter, attrs.Month, attrs.Week, attrs.DayOfYear,
		attrs.DayOfMonth, attrs.DayOfWeek, attrs.MonthName, attrs.DayName,
		attrs.QuarterName, attrs.IsWeekend, attrs.IsHoliday)
	return err
}
