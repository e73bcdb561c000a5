package model

import "time"

// Database statuses.
const (
	DatabaseStatusCreating = "creating"
	DatabaseStatusRunning  = "running"
	DatabaseStatusError    = "error"
)

// Database is a managed Postgres instance provisioned on a fleet server.
// Creation is asynchronous: the record starts in "creating" and transitions
// once the container is up on the target server.
type Database struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	User        string    `json:"user" db:"db_user"`
	Password    string    `json:"password" db:"db_password"`
	DBName      string    `json:"db_name" db:"db_name"`
	Branch      string    `json:"branch" db:"branch"`
	ServerID    string    `json:"server_id" db:"server_id"`
	Status      string    `json:"status" db:"status"`
	ContainerID string    `json:"container_id,omitempty" db:"container_id"`
	Port        int       `json:"port" db:"port"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
