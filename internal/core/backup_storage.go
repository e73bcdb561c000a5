package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/vetle/fleet/internal/model"
	"github.com/vetle/fleet/internal/platform"
)

// StorageChecker verifies that a backup storage target is reachable with the
// stored credentials.
type StorageChecker interface {
	Check(ctx context.Context, storage *model.BackupStorage) error
}

const backupStorageColumns = `id, name, endpoint, region, bucket,
	access_key, secret_key, status, error_message, created_at, updated_at`

// BackupStorageService manages S3-compatible backup targets. Create and
// update run the connectivity check synchronously; a failing check stores
// the target in error state rather than rejecting it.
type BackupStorageService struct {
	db      DB
	logger  zerolog.Logger
	checker StorageChecker
}

func NewBackupStorageService(db DB, logger zerolog.Logger, checker StorageChecker) *BackupStorageService {
	return &BackupStorageService{db: db, logger: logger, checker: checker}
}

func (s *BackupStorageService) validate(bs *model.BackupStorage) error {
	if strings.TrimSpace(bs.Name) == "" {
		return validationf("storage name is required")
	}
	if strings.TrimSpace(bs.Endpoint) == "" {
		return validationf("storage endpoint is required")
	}
	if strings.TrimSpace(bs.Bucket) == "" {
		return validationf("storage bucket is required")
	}
	if bs.AccessKey == "" || bs.SecretKey == "" {
		return validationf("storage access key and secret key are required")
	}
	return nil
}

func (s *BackupStorageService) check(ctx context.Context, bs *model.BackupStorage) {
	if err := s.checker.Check(ctx, bs); err != nil {
		bs.Status = model.BackupStorageError
		bs.ErrorMessage = err.Error()
		s.logger.Warn().Err(err).Str("storage_id", bs.ID).Str("bucket", bs.Bucket).Msg("backup storage unreachable")
		return
	}
	bs.Status = model.BackupStorageConnected
	bs.ErrorMessage = ""
}

func (s *BackupStorageService) Create(ctx context.Context, bs *model.BackupStorage) (*model.BackupStorage, error) {
	if err := s.validate(bs); err != nil {
		return nil, err
	}

	now := time.Now()
	bs.ID = platform.NewName("bst")
	bs.CreatedAt = now
	bs.UpdatedAt = now
	s.check(ctx, bs)

	_, err := s.db.Exec(ctx,
		`INSERT INTO backup_storages (id, name, endpoint, region, bucket,
		   access_key, secret_key, status, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		bs.ID, bs.Name, bs.Endpoint, bs.Region, bs.Bucket,
		bs.AccessKey, bs.SecretKey, bs.Status, bs.ErrorMessage, bs.CreatedAt, bs.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create backup storage: %w", err)
	}
	return bs, nil
}

func (s *BackupStorageService) Update(ctx context.Context, id string, upd *model.BackupStorage) (*model.BackupStorage, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != "" {
		existing.Name = upd.Name
	}
	if upd.Endpoint != "" {
		existing.Endpoint = upd.Endpoint
	}
	if upd.Region != "" {
		existing.Region = upd.Region
	}
	if upd.Bucket != "" {
		existing.Bucket = upd.Bucket
	}
	if upd.AccessKey != "" {
		existing.AccessKey = upd.AccessKey
	}
	if upd.SecretKey != "" {
		existing.SecretKey = upd.SecretKey
	}
	if err := s.validate(existing); err != nil {
		return nil, err
	}

	existing.UpdatedAt = time.Now()
	s.check(ctx, existing)

	_, err = s.db.Exec(ctx,
		`UPDATE backup_storages SET name = $1, endpoint = $2, region = $3, bucket = $4,
		   access_key = $5, secret_key = $6, status = $7, error_message = $8, updated_at = $9
		 WHERE id = $10`,
		existing.Name, existing.Endpoint, existing.Region, existing.Bucket,
		existing.AccessKey, existing.SecretKey, existing.Status, existing.ErrorMessage,
		existing.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update backup storage: %w", err)
	}
	return existing, nil
}

func (s *BackupStorageService) Get(ctx context.Context, id string) (*model.BackupStorage, error) {
	row := s.db.QueryRow(ctx, `SELECT `+backupStorageColumns+` FROM backup_storages WHERE id = $1`, id)
	return scanBackupStorage(row)
}

func (s *BackupStorageService) All(ctx context.Context) ([]model.BackupStorage, error) {
	rows, err := s.db.Query(ctx, `SELECT `+backupStorageColumns+` FROM backup_storages ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list backup storages: %w", err)
	}
	defer rows.Close()

	storages := []model.BackupStorage{}
	for rows.Next() {
		bs, err := scanBackupStorage(rows)
		if err != nil {
			return nil, err
		}
		storages = append(storages, *bs)
	}
	return storages, nil
}

func (s *BackupStorageService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM backup_storages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete backup storage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("backup storage %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanBackupStorage(row pgx.Row) (*model.BackupStorage, error) {
	var bs model.BackupStorage
	err := row.Scan(&bs.ID, &bs.Name, &bs.Endpoint, &bs.Region, &bs.Bucket,
		&bs.AccessKey, &bs.SecretKey, &bs.Status, &bs.ErrorMessage, &bs.CreatedAt, &bs.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan backup storage: %w", err)
	}
	return &bs, nil
}
