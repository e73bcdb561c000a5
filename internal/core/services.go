package core

import (
	"github.com/rs/zerolog"

	"github.com/vetle/fleet/internal/config"
)

// Services bundles the service layer. All services share one lease table so
// installs, retries and the monitor serialize per server.
type Services struct {
	Servers        *ServerService
	Provision      *ProvisionService
	AgentCtl       *AgentCtlService
	Monitoring     *MonitoringService
	Accidents      *AccidentService
	BackupStorages *BackupStorageService
	Databases      *DatabaseService
	NodeGraphs     *NodeGraphService
	Logs           *LogService
	Monitor        *Monitor

	InstallLogs *InstallLogs
}

func NewServices(db DB, logger zerolog.Logger, cfg *config.Config, dialer RemoteDialer, pinger AgentPinger, checker StorageChecker) *Services {
	leases := newServerLeases()
	installLogs := NewInstallLogs(cfg.LogDir)

	accidents := NewAccidentService(db)
	monitoring := NewMonitoringService(db)
	servers := NewServerService(db, logger, dialer, accidents, leases, installLogs)

	provision := NewProvisionService(db, logger, ProvisionConfig{
		AgentVersion:     cfg.AgentVersion,
		AgentDownloadURL: cfg.AgentDownloadURL,
		AgentDefaultPort: cfg.AgentDefaultPort,
	}, dialer, servers, leases, installLogs)

	return &Services{
		Servers:        servers,
		Provision:      provision,
		AgentCtl:       NewAgentCtlService(db, logger, dialer, servers),
		Monitoring:     monitoring,
		Accidents:      accidents,
		BackupStorages: NewBackupStorageService(db, logger, checker),
		Databases:      NewDatabaseService(db, logger, dialer, servers),
		NodeGraphs:     NewNodeGraphService(db, logger, dialer, servers, leases),
		Logs:           NewLogService(installLogs),
		Monitor:        NewMonitor(logger, servers, monitoring, accidents, leases, pinger, cfg.PingInterval, cfg.StatWindow, cfg.AgentDefaultPort),
		InstallLogs:    installLogs,
	}
}
