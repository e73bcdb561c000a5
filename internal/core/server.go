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

const serverColumns = `id, name, ip_address, port, protocol,
	cred_username, cred_password, cred_ssh_key, status,
	internal_ip, wg_public_key, wg_listen_port,
	agent_port, agent_status, created_at, updated_at`

// ServerService is the fleet registry. It owns the server records, their
// credentials and their connectivity status, and runs the synchronous probe
// performed on create, update and retry.
type ServerService struct {
	db        DB
	logger    zerolog.Logger
	dialer    RemoteDialer
	accidents *AccidentService
	leases    *serverLeases
	logs      *InstallLogs
}

func NewServerService(db DB, logger zerolog.Logger, dialer RemoteDialer, accidents *AccidentService, leases *serverLeases, logs *InstallLogs) *ServerService {
	return &ServerService{
		db:        db,
		logger:    logger,
		dialer:    dialer,
		accidents: accidents,
		leases:    leases,
		logs:      logs,
	}
}

func scanServer(row pgx.Row) (*model.Server, error) {
	var srv model.Server
	var wgPublicKey *string
	var wgListenPort *int
	err := row.Scan(
		&srv.ID, &srv.Name, &srv.IPAddress, &srv.Port, &srv.Protocol,
		&srv.Credential.Username, &srv.Credential.Password, &srv.Credential.SSHKey,
		&srv.Status, &srv.InternalIP, &wgPublicKey, &wgListenPort,
		&srv.Agent.Port, &srv.Agent.Status, &srv.CreatedAt, &srv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan server: %w", err)
	}
	if wgPublicKey != nil && wgListenPort != nil {
		srv.WireGuard = &model.WireGuardIdentity{PublicKey: *wgPublicKey, ListenPort: *wgListenPort}
	}
	return &srv, nil
}

func (s *ServerService) Get(ctx context.Context, id string) (*model.Server, error) {
	row := s.db.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id)
	return scanServer(row)
}

func (s *ServerService) All(ctx context.Context) ([]model.Server, error) {
	rows, err := s.db.Query(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	servers := []model.Server{}
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}
	return servers, nil
}

func (s *ServerService) validate(srv *model.Server) error {
	if strings.TrimSpace(srv.Name) == "" {
		return validationf("server name is required")
	}
	if strings.TrimSpace(srv.IPAddress) == "" {
		return validationf("server address is required")
	}
	if srv.Port < 1 || srv.Port > 65535 {
		return validationf("server port must be between 1 and 65535")
	}
	if srv.Protocol != "ssh" {
		return validationf("unsupported protocol %q", srv.Protocol)
	}
	return ValidateCredential(srv.Credential)
}

// probe opens a session and runs a trivial command to verify the server is
// reachable and the credential works.
func (s *ServerService) probe(ctx context.Context, srv *model.Server) error {
	sess, err := s.dialer.Dial(ctx, srv)
	if err != nil {
		return &ConnectivityError{Err: err}
	}
	defer sess.Close()

	if _, err := sess.Run(ctx, "echo ok"); err != nil {
		return &ConnectivityError{Err: err}
	}
	return nil
}

// probeAndRecord runs the probe and settles the accident ledger with the
// result. Returns a warning message when the server is unreachable.
func (s *ServerService) probeAndRecord(ctx context.Context, srv *model.Server) string {
	err := s.probe(ctx, srv)
	if err == nil {
		srv.Status = model.ServerStatusConnected
		if rerr := s.accidents.ResolveOpen(ctx, srv.ID); rerr != nil {
			s.logger.Error().Err(rerr).Str("server_id", srv.ID).Msg("resolve accidents after successful probe")
		}
		return ""
	}

	srv.Status = model.ServerStatusDisconnected
	// a failed probe never measured the server, so no response time
	acc := &model.ServerAccident{
		ServerID: srv.ID,
		Error:    "connection check failed",
		Details:  err.Error(),
	}
	if _, aerr := s.accidents.Open(ctx, acc); aerr != nil {
		s.logger.Error().Err(aerr).Str("server_id", srv.ID).Msg("record connection accident")
	}
	s.logger.Warn().Err(err).Str("server_id", srv.ID).Str("address", srv.IPAddress).Msg("server unreachable")
	return fmt.Sprintf("server registered but unreachable: %s", err.Error())
}

// Create registers a server and probes it synchronously. A failed probe does
// not fail the call: the server is stored as disconnected, an accident is
// opened and the warning string describes the failure.
func (s *ServerService) Create(ctx context.Context, srv *model.Server) (*model.Server, string, error) {
	if srv.Port == 0 {
		srv.Port = 22
	}
	if srv.Protocol == "" {
		srv.Protocol = "ssh"
	}
	if err := s.validate(srv); err != nil {
		return nil, "", err
	}

	now := time.Now()
	srv.ID = platform.NewName("srv")
	srv.Agent = model.Agent{Status: model.AgentStatusUnspecified}
	srv.CreatedAt = now
	srv.UpdatedAt = now

	// Insert first so the probe's accident has a server row to attach to.
	srv.Status = model.ServerStatusUnspecified
	_, err := s.db.Exec(ctx,
		`INSERT INTO servers (id, name, ip_address, port, protocol,
		   cred_username, cred_password, cred_ssh_key, status,
		   agent_port, agent_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		srv.ID, srv.Name, srv.IPAddress, srv.Port, srv.Protocol,
		srv.Credential.Username, srv.Credential.Password, srv.Credential.SSHKey,
		srv.Status, srv.Agent.Port, srv.Agent.Status, srv.CreatedAt, srv.UpdatedAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("create server: %w", err)
	}

	warning := s.probeAndRecord(ctx, srv)
	if err := s.setStatus(ctx, srv.ID, srv.Status); err != nil {
		return nil, "", err
	}

	s.logger.Info().Str("server_id", srv.ID).Str("name", srv.Name).Str("status", srv.Status).Msg("server registered")
	return srv, warning, nil
}

// Update modifies a server's identity or credential and re-probes when
// anything that affects reachability changed.
func (s *ServerService) Update(ctx context.Context, id string, upd *model.Server) (*model.Server, string, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	if upd.Name != "" {
		existing.Name = upd.Name
	}
	reprobe := false
	if upd.IPAddress != "" && upd.IPAddress != existing.IPAddress {
		existing.IPAddress = upd.IPAddress
		reprobe = true
	}
	if upd.Port != 0 && upd.Port != existing.Port {
		existing.Port = upd.Port
		reprobe = true
	}
	if upd.Credential.Username != "" || upd.Credential.Password != nil || upd.Credential.SSHKey != nil {
		if upd.Credential.Username != "" {
			existing.Credential.Username = upd.Credential.Username
		}
		existing.Credential.Password = upd.Credential.Password
		existing.Credential.SSHKey = upd.Credential.SSHKey
		reprobe = true
	}
	if err := s.validate(existing); err != nil {
		return nil, "", err
	}

	warning := ""
	if reprobe {
		warning = s.probeAndRecord(ctx, existing)
	}
	existing.UpdatedAt = time.Now()

	_, err = s.db.Exec(ctx,
		`UPDATE servers SET name = $1, ip_address = $2, port = $3,
		   cred_username = $4, cred_password = $5, cred_ssh_key = $6,
		   status = $7, updated_at = $8
		 WHERE id = $9`,
		existing.Name, existing.IPAddress, existing.Port,
		existing.Credential.Username, existing.Credential.Password, existing.Credential.SSHKey,
		existing.Status, existing.UpdatedAt, id,
	)
	if err != nil {
		return nil, "", fmt.Errorf("update server: %w", err)
	}
	return existing, warning, nil
}

// RetryConnection re-runs the connectivity probe on demand. It is rejected
// while an install or another retry holds the server's lease.
func (s *ServerService) RetryConnection(ctx context.Context, id string) (*model.Server, string, error) {
	srv, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	if !s.leases.TryAcquire(id) {
		return nil, "", preconditionf("an operation is already in progress for server %s", id)
	}
	defer s.leases.Release(id)

	warning := s.probeAndRecord(ctx, srv)
	if err := s.setStatus(ctx, id, srv.Status); err != nil {
		return nil, "", err
	}
	return srv, warning, nil
}

func (s *ServerService) setStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE servers SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set server status: %w", err)
	}
	return nil
}

// Delete removes a server. Pings, stats, accidents and databases go with it
// through the cascade, and the install log directory is cleaned up.
func (s *ServerService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	if err := s.logs.Remove(id); err != nil {
		s.logger.Error().Err(err).Str("server_id", id).Msg("remove install logs")
	}
	s.logger.Info().Str("server_id", id).Msg("server deleted")
	return nil
}
