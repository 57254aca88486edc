package versioning

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Info is the full data_versions row surface used by `versions list` and
// `versions show`.
type Info struct {
	ID           int64
	Number       string
	Type         string
	CreatedAt    time.Time
	SourceFile   string
	FileHash     string
	RecordsCount int64
	ETLJobID     string
	Status       string
}

// List returns the most recent versions, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]Info, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := m.db.Pool.Query(ctx,
		`SELECT version_id, version_number, version_type, created_at,
		        COALESCE(source_file, ''), COALESCE(file_hash, ''),
		        records_count, etl_job_id::text, status
		   FROM `+m.db.Schema+`.data_versions
		  ORDER BY created_at DESC
		  LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying data_versions")
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ID, &info.Number, &info.Type, &info.CreatedAt,
			&info.SourceFile, &info.FileHash, &info.RecordsCount, &info.ETLJobID, &info.Status); err != nil {
			return nil, errors.Wrap(err, "scanning data_versions row")
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Show returns the version row with the given version_number.
func (m *Manager) Show(ctx context.Context, versionNumber string) (Info, error) {
	var info Info
	err := m.db.Pool.QueryRow(ctx,
		`SELECT version_id, version_number, version_type, created_at,
		        COALESCE(source_file, ''), COALESCE(file_hash, ''),
		        records_count, etl_job_id::text, status
		   FROM `+m.db.Schema+`.data_versions
		  WHERE version_number = $1`, versionNumber).Scan(
		&info.ID, &info.Number, &info.Type, &info.CreatedAt,
		&info.SourceFile, &info.FileHash, &info.RecordsCount, &info.ETLJobID, &info.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Info{}, errors.Errorf("version %q not found", versionNumber)
	}
	if err != nil {
		return Info{}, errors.Wrap(err, "querying data_versions row")
	}
	return info, nil
}
