// Package errs defines the sentinel errors shared across the ETL pipeline,
// wrapped with github.com/pkg/errors so callers can attach context while
// callers further up the stack can still match with errors.Is/Cause.
package errs

import "github.com/pkg/errors"

var (
	// ErrSourceUnavailable is returned when the configured CSV source cannot
	// be opened or read.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrRecordMalformed is returned when a raw record cannot be parsed into
	// its typed representation at all (not a validation failure against a
	// business rule, but a structural one: an invoice date that matches no
	// known layout).
	ErrRecordMalformed = errors.New("record malformed")

	// ErrValidationFailed is returned when a cleaned record fails a
	// business-rule check (invoice number format, zero quantity, negative
	// price, out-of-range date, duplicate natural key).
	ErrValidationFailed = errors.New("validation failed")

	// ErrDimensionResolutionFailed is returned when a dimension row cannot be
	// found or created for a fact record.
	ErrDimensionResolutionFailed = errors.New("dimension resolution failed")

	// ErrBatchInsertFailed is returned when the bulk COPY of a fact batch
	// fails (which triggers the per-row fallback), and when every per-row
	// fallback insert fails as well.
	ErrBatchInsertFailed = errors.New("batch insert failed")

	// ErrPartitionCreateFailed is returned when a monthly fact partition
	// cannot be created.
	ErrPartitionCreateFailed = errors.New("partition create failed")

	// ErrQualityPersistFailed is returned when quality metrics cannot be
	// written to data_quality_metrics.
	ErrQualityPersistFailed = errors.New("quality metrics persist failed")

	// ErrLineageWriteFailed is returned when a data_lineage row cannot be
	// written.
	ErrLineageWriteFailed = errors.New("lineage write failed")

	// ErrVersionConflict is returned when a generated version_number collides
	// and the retry budget is exhausted.
	ErrVersionConflict = errors.New("version number conflict")
)
