package model

import "time"

// Server connectivity statuses.
const (
	ServerStatusUnspecified  = "unspecified"
	ServerStatusConnected    = "connected"
	ServerStatusDisconnected = "disconnected"
)

// Agent provisioning statuses. Transitions run installing -> configuring ->
// finalizing_setup -> success; failed is reachable from any non-terminal state.
const (
	AgentStatusUnspecified     = "unspecified"
	AgentStatusInstalling      = "installing"
	AgentStatusConfiguring     = "configuring"
	AgentStatusFinalizingSetup = "finalizing_setup"
	AgentStatusSuccess         = "success"
	AgentStatusFailed          = "failed"
)

// Credential holds the SSH login for a managed server. Exactly one of
// Password and SSHKey is set.
type Credential struct {
	Username string  `json:"username"`
	Password *string `json:"password,omitempty"`
	SSHKey   *string `json:"ssh_key,omitempty"`
}

// WireGuardIdentity is the overlay-network identity assigned to a server
// when agent provisioning completes.
type WireGuardIdentity struct {
	PublicKey  string `json:"public_key"`
	ListenPort int    `json:"listen_port"`
}

// Agent is the per-server agent sub-record.
type Agent struct {
	Port   int    `json:"port"`
	Status string `json:"status"`
}

type Server struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	IPAddress  string     `json:"ip_address" db:"ip_address"`
	Port       int        `json:"port" db:"port"`
	Protocol   string     `json:"protocol" db:"protocol"`
	Credential Credential `json:"credential"`
	Status     string     `json:"status" db:"status"`

	// InternalIP is the overlay address assigned once the server joins the
	// private network. Nil until provisioning completes.
	InternalIP *string            `json:"internal_ip,omitempty" db:"internal_ip"`
	WireGuard  *WireGuardIdentity `json:"wireguard,omitempty"`

	Agent Agent `json:"agent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ValidAgentTransition reports whether the agent state machine permits moving
// from one status to another. Success is terminal; failed restarts from
// unspecified; everything else advances one stage at a time.
func ValidAgentTransition(from, to string) bool {
	switch from {
	case AgentStatusUnspecified, AgentStatusFailed:
		return to == AgentStatusInstalling
	case AgentStatusInstalling:
		return to == AgentStatusConfiguring || to == AgentStatusFailed
	case AgentStatusConfiguring:
		return to == AgentStatusFinalizingSetup || to == AgentStatusFailed
	case AgentStatusFinalizingSetup:
		return to == AgentStatusSuccess || to == AgentStatusFailed
	default:
		return false
	}
}
