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

const (
	databasePortBase = 54000
	databaseImage    = "postgres:16"
)

const databaseColumns = `id, name, db_user, db_password, db_name, branch,
	server_id, status, container_id, port, created_at, updated_at`

// DatabaseService provisions managed Postgres instances as containers on
// fleet servers. Creation is asynchronous: the record is stored in "creating"
// and a background apply starts the container over SSH.
type DatabaseService struct {
	db      DB
	logger  zerolog.Logger
	dialer  RemoteDialer
	servers *ServerService
}

func NewDatabaseService(db DB, logger zerolog.Logger, dialer RemoteDialer, servers *ServerService) *DatabaseService {
	return &DatabaseService{db: db, logger: logger, dialer: dialer, servers: servers}
}

func (s *DatabaseService) validate(d *model.Database) error {
	if strings.TrimSpace(d.Name) == "" {
		return validationf("database name is required")
	}
	if strings.TrimSpace(d.User) == "" || d.Password == "" {
		return validationf("database user and password are required")
	}
	if strings.TrimSpace(d.DBName) == "" {
		return validationf("database db_name is required")
	}
	if d.ServerID == "" {
		return validationf("database server_id is required")
	}
	return nil
}

// Create stores the database record and starts the container in the
// background. The target server must be connected.
func (s *DatabaseService) Create(ctx context.Context, d *model.Database) (*model.Database, error) {
	if d.Branch == "" {
		d.Branch = "main"
	}
	if err := s.validate(d); err != nil {
		return nil, err
	}
	srv, err := s.servers.Get(ctx, d.ServerID)
	if err != nil {
		return nil, err
	}
	if srv.Status != model.ServerStatusConnected {
		return nil, preconditionf("server %s is not connected", d.ServerID)
	}

	port, err := s.allocatePort(ctx, d.ServerID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	d.ID = platform.NewName("db")
	d.Status = model.DatabaseStatusCreating
	d.Port = port
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err = s.db.Exec(ctx,
		`INSERT INTO databases (id, name, db_user, db_password, db_name, branch,
		   server_id, status, container_id, port, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.Name, d.User, d.Password, d.DBName, d.Branch,
		d.ServerID, d.Status, d.ContainerID, d.Port, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create database: %w", err)
	}

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.provision(runCtx, d, srv)
	}()

	return d, nil
}

func (s *DatabaseService) provision(ctx context.Context, d *model.Database, srv *model.Server) {
	containerID, err := s.startContainer(ctx, d, srv)
	if err != nil {
		s.logger.Error().Err(err).Str("database_id", d.ID).Str("server_id", srv.ID).Msg("database provisioning failed")
		s.finish(ctx, d.ID, model.DatabaseStatusError, "")
		return
	}
	s.finish(ctx, d.ID, model.DatabaseStatusRunning, containerID)
	s.logger.Info().Str("database_id", d.ID).Str("container_id", containerID).Msg("database running")
}

func (s *DatabaseService) startContainer(ctx context.Context, d *model.Database, srv *model.Server) (string, error) {
	sess, err := s.dialer.Dial(ctx, srv)
	if err != nil {
		return "", &ConnectivityError{Err: err}
	}
	defer sess.Close()

	name := "fleet-db-" + d.ID
	cmd := fmt.Sprintf(
		"docker run -d --name %s --restart unless-stopped "+
			"-e POSTGRES_USER=%s -e POSTGRES_PASSWORD=%s -e POSTGRES_DB=%s "+
			"-p %d:5432 %s",
		name, shellQuote(d.User), shellQuote(d.Password), shellQuote(d.DBName), d.Port, databaseImage,
	)
	out, err := sess.Run(ctx, cmd)
	if err != nil {
		return "", &RemoteApplyError{Err: fmt.Errorf("start container: %w (%s)", err, out)}
	}
	// docker prints the container id as the last output line
	lines := strings.Fields(strings.TrimSpace(out))
	if len(lines) == 0 {
		return "", &RemoteApplyError{Err: errors.New("docker returned no container id")}
	}
	return lines[len(lines)-1], nil
}

func (s *DatabaseService) finish(ctx context.Context, id, status, containerID string) {
	_, err := s.db.Exec(ctx,
		`UPDATE databases SET status = $1, container_id = $2, updated_at = $3 WHERE id = $4`,
		status, containerID, time.Now(), id,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("database_id", id).Msg("persist database status")
	}
}

// allocatePort picks the next host port on the target server, counting up
// from the base.
func (s *DatabaseService) allocatePort(ctx context.Context, serverID string) (int, error) {
	var maxPort *int
	err := s.db.QueryRow(ctx,
		`SELECT MAX(port) FROM databases WHERE server_id = $1`, serverID,
	).Scan(&maxPort)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("allocate database port: %w", err)
	}
	if maxPort == nil || *maxPort < databasePortBase {
		return databasePortBase, nil
	}
	return *maxPort + 1, nil
}

func (s *DatabaseService) Get(ctx context.Context, id string) (*model.Database, error) {
	row := s.db.QueryRow(ctx, `SELECT `+databaseColumns+` FROM databases WHERE id = $1`, id)
	return scanDatabase(row)
}

func (s *DatabaseService) All(ctx context.Context) ([]model.Database, error) {
	rows, err := s.db.Query(ctx, `SELECT `+databaseColumns+` FROM databases ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	dbs := []model.Database{}
	for rows.Next() {
		d, err := scanDatabase(rows)
		if err != nil {
			return nil, err
		}
		dbs = append(dbs, *d)
	}
	return dbs, nil
}

// Delete removes the record and tears the container down best-effort: an
// unreachable server does not block the delete.
func (s *DatabaseService) Delete(ctx context.Context, id string) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if d.ContainerID != "" {
		if srv, serr := s.servers.Get(ctx, d.ServerID); serr == nil {
			if sess, derr := s.dialer.Dial(ctx, srv); derr == nil {
				if _, rerr := sess.Run(ctx, "docker rm -f "+d.ContainerID); rerr != nil {
					s.logger.Warn().Err(rerr).Str("database_id", id).Msg("remove database container")
				}
				sess.Close()
			} else {
				s.logger.Warn().Err(derr).Str("database_id", id).Msg("server unreachable during database delete")
			}
		}
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM databases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete database: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("database %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanDatabase(row pgx.Row) (*model.Database, error) {
	var d model.Database
	err := row.Scan(&d.ID, &d.Name, &d.User, &d.Password, &d.DBName, &d.Branch,
		&d.ServerID, &d.Status, &d.ContainerID, &d.Port, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan database: %w", err)
	}
	return &d, nil
}

// shellQuote wraps a value in single quotes for safe interpolation into a
// remote command line.
func shellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}
