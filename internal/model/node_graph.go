package model

import (
	"encoding/json"
	"time"
)

// Node types in a deployment graph.
const (
	NodeTypeCompute       = "compute"
	NodeTypePageServer    = "pageserver"
	NodeTypeSafeKeeper    = "safekeeper"
	NodeTypeStorageBroker = "storage_broker"
)

// GraphNode is a typed node in a deployment topology, bound to a server.
// Fields carries role-specific settings (pg version/port for compute,
// backup-storage reference for pageserver/safekeeper) as opaque JSON.
type GraphNode struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	ServerID        string          `json:"server_id"`
	PriorityStartup int             `json:"priority_startup"`
	Fields          json.RawMessage `json:"fields,omitempty"`
}

// GraphEdge connects an output port of one node to an input port of another.
type GraphEdge struct {
	Source       string `json:"source"`
	SourceHandle string `json:"source_handle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// NodeGraph is a persisted deployment topology.
type NodeGraph struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Nodes     json.RawMessage `json:"nodes" db:"nodes"`
	Edges     json.RawMessage `json:"edges" db:"edges"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
