package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/vetle/fleet/internal/model"
)

// AgentSettings is the agent configuration as read back from a server.
type AgentSettings struct {
	Port     int    `json:"port"`
	TimeZone string `json:"timezone"`
	Address  string `json:"internal_address"`
}

// AgentCtlService reads and changes the configuration of an installed agent
// over SSH. Every change is applied on the server first; local state only
// moves after the remote apply succeeded.
type AgentCtlService struct {
	db      DB
	logger  zerolog.Logger
	dialer  RemoteDialer
	servers *ServerService
}

func NewAgentCtlService(db DB, logger zerolog.Logger, dialer RemoteDialer, servers *ServerService) *AgentCtlService {
	return &AgentCtlService{db: db, logger: logger, dialer: dialer, servers: servers}
}

func (s *AgentCtlService) session(ctx context.Context, serverID string) (*model.Server, RemoteSession, error) {
	srv, err := s.servers.Get(ctx, serverID)
	if err != nil {
		return nil, nil, err
	}
	if srv.Agent.Status != model.AgentStatusSuccess {
		return nil, nil, preconditionf("agent is not installed on server %s", serverID)
	}
	sess, err := s.dialer.Dial(ctx, srv)
	if err != nil {
		return nil, nil, &ConnectivityError{Err: err}
	}
	return srv, sess, nil
}

// GetConfig reads the agent's effective configuration from the server.
func (s *AgentCtlService) GetConfig(ctx context.Context, serverID string) (*AgentSettings, error) {
	_, sess, err := s.session(ctx, serverID)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	raw, err := sess.Run(ctx, "cat "+agentConfigPath)
	if err != nil {
		return nil, &RemoteApplyError{Err: fmt.Errorf("read agent config: %w", err)}
	}
	var cfg agentConfig
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, &RemoteApplyError{Err: fmt.Errorf("parse agent config: %w", err)}
	}

	tz, err := sess.Run(ctx, "timedatectl show -p Timezone --value")
	if err != nil {
		// Timezone is informational; the config itself was read fine.
		s.logger.Warn().Err(err).Str("server_id", serverID).Msg("read server timezone")
		tz = ""
	}

	return &AgentSettings{
		Port:     cfg.Port,
		TimeZone: strings.TrimSpace(tz),
		Address:  cfg.WireGuard.Address,
	}, nil
}

// UpdatePort changes the port the agent listens on, then restarts it.
func (s *AgentCtlService) UpdatePort(ctx context.Context, serverID string, port int) (*model.Server, error) {
	if port < 1 || port > 65535 {
		return nil, validationf("agent port must be between 1 and 65535")
	}

	srv, sess, err := s.session(ctx, serverID)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := s.rewriteConfig(ctx, sess, func(cfg *agentConfig) {
		cfg.Port = port
	}); err != nil {
		return nil, err
	}
	if err := s.restartAgent(ctx, sess); err != nil {
		return nil, err
	}

	_, err = s.db.Exec(ctx,
		`UPDATE servers SET agent_port = $1, updated_at = $2 WHERE id = $3`,
		port, time.Now(), serverID,
	)
	if err != nil {
		return nil, fmt.Errorf("persist agent port: %w", err)
	}
	srv.Agent.Port = port
	s.logger.Info().Str("server_id", serverID).Int("port", port).Msg("agent port updated")
	return srv, nil
}

// UpdateTimeZone sets the server's system time zone. The name is validated
// against the local tz database before touching the server.
func (s *AgentCtlService) UpdateTimeZone(ctx context.Context, serverID, name string) error {
	if _, err := time.LoadLocation(name); err != nil || name == "" || name == "Local" {
		return validationf("unknown time zone %q", name)
	}

	_, sess, err := s.session(ctx, serverID)
	if err != nil {
		return err
	}
	defer sess.Close()

	if out, err := sess.Run(ctx, fmt.Sprintf("timedatectl set-timezone %s", name)); err != nil {
		return &RemoteApplyError{Err: fmt.Errorf("set timezone: %w (%s)", err, out)}
	}
	if _, err := sess.Run(ctx, "timedatectl set-ntp true"); err != nil {
		s.logger.Warn().Err(err).Str("server_id", serverID).Msg("enable ntp after timezone change")
	}
	// Nudge chrony so the clock converges quickly in the new zone setup.
	if _, err := sess.Run(ctx, "chronyc makestep 2>/dev/null || true"); err != nil {
		s.logger.Warn().Err(err).Str("server_id", serverID).Msg("chrony step after timezone change")
	}
	s.logger.Info().Str("server_id", serverID).Str("timezone", name).Msg("server timezone updated")
	return nil
}

// Configure replaces the agent's config file with the caller's blob and
// restarts the agent. The content is opaque here: the agent validates it, and
// a rejected apply comes back verbatim.
func (s *AgentCtlService) Configure(ctx context.Context, serverID, config string) error {
	if strings.TrimSpace(config) == "" {
		return validationf("agent config is required")
	}

	_, sess, err := s.session(ctx, serverID)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.WriteFile(ctx, agentConfigPath, []byte(config)); err != nil {
		return &RemoteApplyError{Err: fmt.Errorf("write agent config: %w", err)}
	}
	if err := s.restartAgent(ctx, sess); err != nil {
		return err
	}
	s.logger.Info().Str("server_id", serverID).Msg("agent config replaced")
	return nil
}

// rewriteConfig reads the config on the server, applies the mutation and
// writes it back.
func (s *AgentCtlService) rewriteConfig(ctx context.Context, sess RemoteSession, mutate func(*agentConfig)) error {
	raw, err := sess.Run(ctx, "cat "+agentConfigPath)
	if err != nil {
		return &RemoteApplyError{Err: fmt.Errorf("read agent config: %w", err)}
	}
	var cfg agentConfig
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		return &RemoteApplyError{Err: fmt.Errorf("parse agent config: %w", err)}
	}
	mutate(&cfg)
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}
	if err := sess.WriteFile(ctx, agentConfigPath, out); err != nil {
		return &RemoteApplyError{Err: fmt.Errorf("write agent config: %w", err)}
	}
	return nil
}

func (s *AgentCtlService) restartAgent(ctx context.Context, sess RemoteSession) error {
	if out, err := sess.Run(ctx, fmt.Sprintf("systemctl restart %s", agentServiceName)); err != nil {
		return &RemoteApplyError{Err: fmt.Errorf("restart agent: %w (%s)", err, out)}
	}
	return nil
}
