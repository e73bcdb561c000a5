package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
	"gopkg.in/yaml.v3"

	"github.com/vetle/fleet/internal/metrics"
	"github.com/vetle/fleet/internal/model"
)

// ProvisionConfig holds the agent release and overlay-network settings used
// during installs.
type ProvisionConfig struct {
	AgentVersion     string
	AgentDownloadURL string // printf template taking the version
	AgentDefaultPort int
}

const (
	agentBinaryPath  = "/usr/local/bin/fleet-agent"
	agentConfigDir   = "/etc/fleet-agent"
	agentConfigPath  = agentConfigDir + "/config.yaml"
	agentServiceName = "fleet-agent"
	agentUnitPath    = "/etc/systemd/system/fleet-agent.service"

	overlaySubnetPrefix = "10.80.0."
	overlayListenPort   = 51820
	overlayFirstHost    = 2
	overlayLastHost     = 254
)

const agentUnitFile = `[Unit]
Description=Fleet node agent
After=network-online.target
Wants=network-online.target

[Service]
ExecStart=` + agentBinaryPath + ` --config ` + agentConfigPath + `
Restart=always
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// agentConfig is the file written to the server during provisioning. The
// private key stays on the node; only the public key is stored centrally.
type agentConfig struct {
	ServerID  string `yaml:"server_id"`
	Port      int    `yaml:"port"`
	WireGuard struct {
		PrivateKey string `yaml:"private_key"`
		ListenPort int    `yaml:"listen_port"`
		Address    string `yaml:"address"`
	} `yaml:"wireguard"`
	TimeZone string `yaml:"timezone,omitempty"`
}

// ProvisionService installs and provisions the node agent over SSH. An
// install holds the server's lease from acceptance to completion so retries,
// probes and the monitor cannot interleave with it.
type ProvisionService struct {
	db      DB
	logger  zerolog.Logger
	cfg     ProvisionConfig
	dialer  RemoteDialer
	servers *ServerService
	leases  *serverLeases
	logs    *InstallLogs
}

func NewProvisionService(db DB, logger zerolog.Logger, cfg ProvisionConfig, dialer RemoteDialer, servers *ServerService, leases *serverLeases, logs *InstallLogs) *ProvisionService {
	return &ProvisionService{
		db:      db,
		logger:  logger,
		cfg:     cfg,
		dialer:  dialer,
		servers: servers,
		leases:  leases,
		logs:    logs,
	}
}

// InstallAgent starts an agent install for a server. The call returns once
// the install is accepted; the phases run in the background and progress is
// written to the server's install log. Installing on a server whose agent is
// already running is a no-op.
func (s *ProvisionService) InstallAgent(ctx context.Context, serverID string) (*model.Server, error) {
	srv, err := s.servers.Get(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if srv.Agent.Status == model.AgentStatusSuccess {
		return srv, nil
	}
	if srv.Status != model.ServerStatusConnected {
		return nil, preconditionf("server %s is not connected", serverID)
	}
	if !s.leases.TryAcquire(serverID) {
		return nil, preconditionf("an operation is already in progress for server %s", serverID)
	}

	if err := s.setAgentStatus(ctx, srv, model.AgentStatusInstalling); err != nil {
		s.leases.Release(serverID)
		return nil, err
	}

	go func() {
		defer s.leases.Release(serverID)
		// detached from the request; the install outlives the HTTP call
		runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.install(runCtx, srv); err != nil {
			s.failInstall(srv, err)
		} else {
			metrics.AgentInstalls.WithLabelValues("success").Inc()
		}
	}()

	return srv, nil
}

// failInstall records an install failure and moves the agent to failed so a
// retry can start over. The install context may already be expired (timeout
// is one of the failure modes), so the status write gets its own deadline.
func (s *ProvisionService) failInstall(srv *model.Server, installErr error) {
	metrics.AgentInstalls.WithLabelValues("failed").Inc()
	s.logger.Error().Err(installErr).Str("server_id", srv.ID).Msg("agent install failed")
	s.appendLog(srv.ID, fmt.Sprintf("install failed: %s", installErr.Error()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.setAgentStatus(ctx, srv, model.AgentStatusFailed); err != nil {
		s.logger.Error().Err(err).Str("server_id", srv.ID).Msg("mark agent failed")
	}
}

func (s *ProvisionService) install(ctx context.Context, srv *model.Server) error {
	s.appendLog(srv.ID, fmt.Sprintf("starting agent install, version %s", s.cfg.AgentVersion))

	sess, err := s.dialer.Dial(ctx, srv)
	if err != nil {
		return &ConnectivityError{Err: err}
	}
	defer sess.Close()

	// Phase 1: binary. Stop any previous agent first so the binary is not
	// busy, then fetch and mark executable.
	s.appendLog(srv.ID, "stopping existing agent service if present")
	if _, err := sess.Run(ctx, fmt.Sprintf("systemctl stop %s 2>/dev/null || true", agentServiceName)); err != nil {
		return fmt.Errorf("stop existing agent: %w", err)
	}

	url := fmt.Sprintf(s.cfg.AgentDownloadURL, s.cfg.AgentVersion)
	s.appendLog(srv.ID, fmt.Sprintf("downloading agent binary from %s", url))
	if out, err := sess.Run(ctx, fmt.Sprintf("curl -fsSL -o %s %s", agentBinaryPath, url)); err != nil {
		return fmt.Errorf("download agent binary: %w (%s)", err, out)
	}
	if _, err := sess.Run(ctx, "chmod +x "+agentBinaryPath); err != nil {
		return fmt.Errorf("chmod agent binary: %w", err)
	}

	if err := s.setAgentStatus(ctx, srv, model.AgentStatusConfiguring); err != nil {
		return err
	}

	// Phase 2: config. Generate the overlay identity and write the agent's
	// config file.
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate overlay key: %w", err)
	}
	internalIP, err := s.allocateInternalIP(ctx)
	if err != nil {
		return err
	}
	s.appendLog(srv.ID, fmt.Sprintf("assigned overlay address %s", internalIP))

	port := srv.Agent.Port
	if port == 0 {
		port = s.cfg.AgentDefaultPort
	}
	var cfg agentConfig
	cfg.ServerID = srv.ID
	cfg.Port = port
	cfg.WireGuard.PrivateKey = key.String()
	cfg.WireGuard.ListenPort = overlayListenPort
	cfg.WireGuard.Address = internalIP + "/24"

	raw, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}
	if _, err := sess.Run(ctx, "mkdir -p "+agentConfigDir); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	s.appendLog(srv.ID, "writing agent config")
	if err := sess.WriteFile(ctx, agentConfigPath, raw); err != nil {
		return fmt.Errorf("write agent config: %w", err)
	}
	if err := sess.WriteFile(ctx, agentUnitPath, []byte(agentUnitFile)); err != nil {
		return fmt.Errorf("write systemd unit: %w", err)
	}

	if err := s.setAgentStatus(ctx, srv, model.AgentStatusFinalizingSetup); err != nil {
		return err
	}

	// Phase 3: service. Enable and start, then persist the identity the
	// agent now runs with.
	s.appendLog(srv.ID, "enabling and starting agent service")
	if _, err := sess.Run(ctx, "systemctl daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	if _, err := sess.Run(ctx, fmt.Sprintf("systemctl enable %s", agentServiceName)); err != nil {
		return fmt.Errorf("enable agent: %w", err)
	}
	if out, err := sess.Run(ctx, fmt.Sprintf("systemctl restart %s", agentServiceName)); err != nil {
		return fmt.Errorf("start agent: %w (%s)", err, out)
	}

	_, err = s.db.Exec(ctx,
		`UPDATE servers SET internal_ip = $1, wg_public_key = $2, wg_listen_port = $3,
		   agent_port = $4, updated_at = $5
		 WHERE id = $6`,
		internalIP, key.PublicKey().String(), overlayListenPort, port, time.Now(), srv.ID,
	)
	if err != nil {
		return fmt.Errorf("persist agent identity: %w", err)
	}
	srv.InternalIP = &internalIP
	srv.WireGuard = &model.WireGuardIdentity{PublicKey: key.PublicKey().String(), ListenPort: overlayListenPort}
	srv.Agent.Port = port

	if err := s.setAgentStatus(ctx, srv, model.AgentStatusSuccess); err != nil {
		return err
	}
	s.appendLog(srv.ID, "agent install complete")
	s.logger.Info().Str("server_id", srv.ID).Str("internal_ip", internalIP).Msg("agent installed")
	return nil
}

// allocateInternalIP picks the lowest free host address in the overlay
// subnet.
func (s *ProvisionService) allocateInternalIP(ctx context.Context) (string, error) {
	rows, err := s.db.Query(ctx, `SELECT internal_ip FROM servers WHERE internal_ip IS NOT NULL`)
	if err != nil {
		return "", fmt.Errorf("list overlay addresses: %w", err)
	}
	defer rows.Close()

	used := map[string]bool{}
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return "", fmt.Errorf("scan overlay address: %w", err)
		}
		used[ip] = true
	}
	for host := overlayFirstHost; host <= overlayLastHost; host++ {
		candidate := fmt.Sprintf("%s%d", overlaySubnetPrefix, host)
		if !used[candidate] {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("overlay subnet %s0/24 is full", overlaySubnetPrefix)
}

// setAgentStatus advances the agent state machine, rejecting transitions the
// machine does not permit.
func (s *ProvisionService) setAgentStatus(ctx context.Context, srv *model.Server, to string) error {
	if !model.ValidAgentTransition(srv.Agent.Status, to) {
		return fmt.Errorf("agent transition %s -> %s not permitted", srv.Agent.Status, to)
	}
	_, err := s.db.Exec(ctx,
		`UPDATE servers SET agent_status = $1, updated_at = $2 WHERE id = $3`,
		to, time.Now(), srv.ID,
	)
	if err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}
	srv.Agent.Status = to
	s.appendLog(srv.ID, "agent status: "+to)
	return nil
}

func (s *ProvisionService) appendLog(serverID, msg string) {
	if err := s.logs.Append(serverID, msg); err != nil {
		s.logger.Error().Err(err).Str("server_id", serverID).Msg("append install log")
	}
}
