package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/pagination"
	"github.com/cloo-solutions/briefly/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const checksumConstraint = "uq_file_records_owner_checksum"

const fileColumns = `id, owner_id, filename, mime_type, size, checksum, source, external_id, revision,
	last_modified, storage_key, download_url, status, duplicate_of, chunk_count, error_kind, error,
	created_at, updated_at`

type FileRecordRepository struct {
	db dbtx
}

func NewFileRecordRepository(pool *pgxpool.Pool) *FileRecordRepository {
	return &FileRecordRepository{db: pool}
}

func NewFileRecordRepositoryWithTx(tx pgx.Tx) *FileRecordRepository {
	return &FileRecordRepository{db: tx}
}

func (r *FileRecordRepository) Create(ctx context.Context, f *domain.FileRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO file_records (id, owner_id, filename, mime_type, size, checksum, source, external_id, revision,
			last_modified, storage_key, download_url, status, duplicate_of, chunk_count, error_kind, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		f.ID, f.OwnerID, f.Filename, f.MimeType, f.Size, nullableString(f.Checksum), f.Source,
		nullableString(f.ExternalID), nullableString(f.Revision), nullableTime(f.LastModified),
		nullableString(f.StorageKey), nullableString(f.DownloadURL), f.Status, nullableString(f.DuplicateOf),
		f.ChunkCount, nullableString(string(f.ErrorKind)), nullableString(f.Error), f.CreatedAt, f.UpdatedAt,
	)
	if isUniqueViolation(err, "uq_file_records_owner_external") {
		return domain.NewDomainErrorWithCause(domain.ErrCodeAlreadyExists, "file already imported", err)
	}
	return err
}

func (r *FileRecordRepository) GetByID(ctx context.Context, ownerID, id string) (*domain.FileRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM file_records WHERE owner_id = $1 AND id = $2`,
		ownerID, id,
	)
	f, err := scanFileRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrFileNotFound
	}
	return f, err
}

func (r *FileRecordRepository) GetByExternalID(ctx context.Context, ownerID string, source domain.Source, externalID string) (*domain.FileRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM file_records WHERE owner_id = $1 AND source = $2 AND external_id = $3`,
		ownerID, source, externalID,
	)
	f, err := scanFileRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrFileNotFound
	}
	return f, err
}

func (r *FileRecordRepository) FindCompletedByChecksum(ctx context.Context, ownerID, checksum, excludeID string) (*domain.FileRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+fileColumns+`
		 FROM file_records
		 WHERE owner_id = $1 AND checksum = $2 AND id <> $3
		   AND status = 'completed' AND duplicate_of IS NULL
		 ORDER BY created_at ASC
		 LIMIT 1`,
		ownerID, checksum, excludeID,
	)
	f, err := scanFileRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

func (r *FileRecordRepository) ListBySource(ctx context.Context, ownerID string, source domain.Source) ([]*domain.FileRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+fileColumns+`
		 FROM file_records
		 WHERE owner_id = $1 AND source = $2 AND external_id IS NOT NULL
		 ORDER BY created_at ASC, id ASC`,
		ownerID, source,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFileRecordRows(rows)
}

func (r *FileRecordRepository) ListByOwner(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (*service.FilePageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+fileColumns+`
			 FROM file_records
			 WHERE owner_id = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			ownerID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+fileColumns+`
			 FROM file_records
			 WHERE owner_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			ownerID, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanFileRecordRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}

	return &service.FilePageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (r *FileRecordRepository) ListMissingChecksum(ctx context.Context, ownerID, afterID string, limit int) ([]*domain.FileRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+fileColumns+`
		 FROM file_records
		 WHERE owner_id = $1 AND checksum IS NULL AND id > $2
		 ORDER BY id ASC
		 LIMIT $3`,
		ownerID, afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFileRecordRows(rows)
}

func (r *FileRecordRepository) UpdateChecksum(ctx context.Context, ownerID, id, checksum string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE file_records SET checksum = $1, updated_at = $2 WHERE owner_id = $3 AND id = $4`,
		checksum, time.Now().UTC(), ownerID, id,
	)
	if err != nil {
		if isUniqueViolation(err, checksumConstraint) {
			return domain.ErrDuplicateChecksum
		}
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

func (r *FileRecordRepository) UpdateStatus(ctx context.Context, ownerID, id string, status domain.ProcessingStatus, kind domain.ErrorKind, errMsg string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE file_records
		 SET status = $1, error_kind = $2, error = $3, updated_at = $4
		 WHERE owner_id = $5 AND id = $6`,
		status, nullableString(string(kind)), nullableString(errMsg), time.Now().UTC(), ownerID, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

func (r *FileRecordRepository) MarkCompleted(ctx context.Context, ownerID, id string, chunkCount int, duplicateOf string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE file_records
		 SET status = 'completed', chunk_count = $1, duplicate_of = $2, error_kind = NULL, error = NULL, updated_at = $3
		 WHERE owner_id = $4 AND id = $5`,
		chunkCount, nullableString(duplicateOf), time.Now().UTC(), ownerID, id,
	)
	if err != nil {
		if isUniqueViolation(err, checksumConstraint) {
			return domain.ErrDuplicateChecksum
		}
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

func (r *FileRecordRepository) UpdateRemoteMetadata(ctx context.Context, f *domain.FileRecord) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE file_records
		 SET filename = $1, mime_type = $2, size = $3, revision = $4, last_modified = $5, download_url = $6,
		     status = $7, duplicate_of = NULL, error_kind = NULL, error = NULL, updated_at = $8
		 WHERE owner_id = $9 AND id = $10`,
		f.Filename, f.MimeType, f.Size, nullableString(f.Revision), nullableTime(f.LastModified),
		nullableString(f.DownloadURL), f.Status, time.Now().UTC(), f.OwnerID, f.ID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

func scanFileRecord(row pgx.Row) (*domain.FileRecord, error) {
	var f domain.FileRecord
	var checksum, externalID, revision, storageKey, downloadURL, duplicateOf, errorKind, errMsg *string
	var lastModified *time.Time
	err := row.Scan(&f.ID, &f.OwnerID, &f.Filename, &f.MimeType, &f.Size, &checksum, &f.Source, &externalID,
		&revision, &lastModified, &storageKey, &downloadURL, &f.Status, &duplicateOf, &f.ChunkCount,
		&errorKind, &errMsg, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.Checksum = stringValue(checksum)
	f.ExternalID = stringValue(externalID)
	f.Revision = stringValue(revision)
	f.StorageKey = stringValue(storageKey)
	f.DownloadURL = stringValue(downloadURL)
	f.DuplicateOf = stringValue(duplicateOf)
	f.ErrorKind = domain.ErrorKind(stringValue(errorKind))
	f.Error = stringValue(errMsg)
	if lastModified != nil {
		f.LastModified = *lastModified
	}
	return &f, nil
}

func scanFileRecordRows(rows pgx.Rows) ([]*domain.FileRecord, error) {
	var results []*domain.FileRecord
	for rows.Next() {
		f, err := scanFileRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	return results, rows.Err()
}
