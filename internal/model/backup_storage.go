package model

import "time"

// BackupStorage statuses.
const (
	BackupStorageConnected = "connected"
	BackupStorageError     = "error"
)

// BackupStorage is an S3-compatible storage target referenced by node
// configuration. Create and update run a live connectivity check; the result
// is recorded in Status / ErrorMessage.
type BackupStorage struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Endpoint     string    `json:"endpoint" db:"endpoint"`
	Region       string    `json:"region" db:"region"`
	Bucket       string    `json:"bucket" db:"bucket"`
	AccessKey    string    `json:"access_key" db:"access_key"`
	SecretKey    string    `json:"secret_key" db:"secret_key"`
	Status       string    `json:"status" db:"status"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
