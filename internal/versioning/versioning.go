// Package versioning manages data_versions rows: one per pipeline run,
// created ACTIVE at run start, backfilled with a record count at the end,
// and used to tag every dimension/fact row the run touched.
package versioning

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/database"
	"github.com/retaildw/platform/internal/errs"
	"github.com/retaildw/platform/internal/logging"
	"github.com/retaildw/platform/pkg/types"
)

const maxVersionConflictRetries = 5

// Manager creates and finalizes data_versions rows.
type Manager struct {
	db     *database.Postgres
	logger logging.RetailLogger
}

// New builds a version Manager bound to db.
func New(db *database.Postgres, logger logging.RetailLogger) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Manager{db: db, logger: logger}
}

// Version identifies one created run version.
type Version struct {
	ID     int64
	Number string
}

// Create inserts an ACTIVE data_versions row for a new run. versionType is
// a free-form label (e.g. "full_load", "incremental"); sourceFile and
// fileHash may be empty when the source is not a local file. On a
// version_number uniqueness conflict (two runs started within the same
// second) it retries with a random 4-hex-char suffix appended.
func (m *Manager) Create(ctx context.Context, versionType, sourceFile, fileHash string, etlJobID uuid.UUID) (Version, error) {
	base := "v" + time.Now().UTC().Format("20060102_150405")
	number := base

	for attempt := 0; attempt <= maxVersionConflictRetries; attempt++ {
		var id int64
		err := m.db.Pool.QueryRow(ctx,
			`INSERT INTO `+m.db.Schema+`.data_versions
			   (version_number, version_type, created_at, source_file, file_hash, records_count, etl_job_id, status)
			 VALUES ($1, $2, now(), $3, $4, 0, $5, $6)
			 RETURNING version_id`,
			number, versionType, nullableString(sourceFile), nullableString(fileHash), etlJobID, types.VersionActive,
		).Scan(&id)
		if err == nil {
			return Version{ID: id, Number: number}, nil
		}
		if !isUniqueViolation(err) {
			return Version{}, errors.Wrap(err, "inserting data_versions row")
		}

		suffix, suffixErr := randomHexSuffix(4)
		if suffixErr != nil {
			return Version{}, errors.Wrap(suffixErr, "generating version suffix")
		}
		number = base + "-" + suffix
		m.logger.Warn("version_number conflict, retrying with suffix", logging.Fields.String("version_number", number))
	}

	return Version{}, errors.Wrap(errs.ErrVersionConflict, "exhausted version_number retry budget")
}

// UpdateRecordsCount backfills data_versions.records_count once a run
// knows its final loaded-row count.
func (m *Manager) UpdateRecordsCount(ctx context.Context, versionID int64, count int64) error {
	_, err := m.db.Pool.Exec(ctx,
		`UPDATE `+m.db.Schema+`.data_versions SET records_count = $1 WHERE version_id = $2`,
		count, versionID)
	if err != nil {
		return errors.Wrap(err, "updating data_versions.records_count")
	}
	return nil
}

// TagUntaggedRows backfills version_id at finalize time. Fact rows are
// matched by this run's batch_id (the fact insert leaves version_id null).
// Dimension upserts never set version_id and dimension rows carry no batch
// column, so every dimension row whose version_id is still null is tagged,
// including rows inserted by another run that has not finalized yet.
func (m *Manager) TagUntaggedRows(ctx context.Context, batchID uuid.UUID, versionID int64) error {
	_, err := m.db.Pool.Exec(ctx,
		`UPDATE `+m.db.Schema+`.fact_sales SET version_id = $1 WHERE batch_id = $2 AND version_id IS NULL`,
		versionID, batchID)
	if err != nil {
		return errors.Wrap(err, "tagging fact_sales rows")
	}

	for _, table := range []string{"dim_customer", "dim_product", "dim_date"} {
		if _, err := m.db.Pool.Exec(ctx,
			`UPDATE `+m.db.Schema+"."+table+` SET version_id = $1 WHERE version_id IS NULL`,
			versionID); err != nil {
			return errors.Wrapf(err, "tagging %s rows", table)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func randomHexSuffix(n int) (string, error) {
	buf := make([]byte, n/2+n%2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:n], nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
