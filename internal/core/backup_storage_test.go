package core

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vetle/fleet/internal/model"
)

// fakeChecker implements StorageChecker.
type fakeChecker struct {
	err    error
	checks int
}

func (f *fakeChecker) Check(context.Context, *model.BackupStorage) error {
	f.checks++
	return f.err
}

func validStorage() *model.BackupStorage {
	return &model.BackupStorage{
		Name:      "offsite",
		Endpoint:  "minio.internal:9000",
		Bucket:    "backups",
		AccessKey: "AK",
		SecretKey: "SK",
	}
}

func TestBackupStorageService_Create_Reachable(t *testing.T) {
	db := &mockDB{}
	checker := &fakeChecker{}
	svc := NewBackupStorageService(db, zerolog.Nop(), checker)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	bs, err := svc.Create(ctx, validStorage())
	require.NoError(t, err)
	assert.Equal(t, model.BackupStorageConnected, bs.Status)
	assert.Empty(t, bs.ErrorMessage)
	assert.Equal(t, 1, checker.checks)
	assert.NotEmpty(t, bs.ID)
}

func TestBackupStorageService_Create_UnreachableIsStored(t *testing.T) {
	db := &mockDB{}
	checker := &fakeChecker{err: assert.AnError}
	svc := NewBackupStorageService(db, zerolog.Nop(), checker)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	bs, err := svc.Create(ctx, validStorage())
	require.NoError(t, err)
	assert.Equal(t, model.BackupStorageError, bs.Status)
	assert.NotEmpty(t, bs.ErrorMessage)
	db.AssertExpectations(t)
}

func TestBackupStorageService_Create_MissingKeys(t *testing.T) {
	db := &mockDB{}
	checker := &fakeChecker{}
	svc := NewBackupStorageService(db, zerolog.Nop(), checker)

	bs := validStorage()
	bs.SecretKey = ""
	_, err := svc.Create(context.Background(), bs)
	require.Error(t, err)
	assert.IsType(t, &ValidationError{}, err)
	assert.Zero(t, checker.checks)
}

func TestBackupStorageService_Delete_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewBackupStorageService(db, zerolog.Nop(), &fakeChecker{})
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("DELETE 0"), nil)

	err := svc.Delete(ctx, "bst-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
