package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/vetle/fleet/internal/model"
	"github.com/vetle/fleet/internal/platform"
)

// Container images per node type.
var nodeImages = map[string]string{
	model.NodeTypeCompute:       "neondatabase/compute-node-v16:latest",
	model.NodeTypePageServer:    "neondatabase/neon:latest",
	model.NodeTypeSafeKeeper:    "neondatabase/neon:latest",
	model.NodeTypeStorageBroker: "neondatabase/neon:latest",
}

const graphDeployDir = "/opt/fleet/graphs"

// NodeGraphService stores deployment topologies and turns them into running
// containers on the fleet.
type NodeGraphService struct {
	db      DB
	logger  zerolog.Logger
	dialer  RemoteDialer
	servers *ServerService
	leases  *serverLeases
}

func NewNodeGraphService(db DB, logger zerolog.Logger, dialer RemoteDialer, servers *ServerService, leases *serverLeases) *NodeGraphService {
	return &NodeGraphService{db: db, logger: logger, dialer: dialer, servers: servers, leases: leases}
}

func (s *NodeGraphService) validate(g *model.NodeGraph) ([]model.GraphNode, []model.GraphEdge, error) {
	if strings.TrimSpace(g.Name) == "" {
		return nil, nil, validationf("graph name is required")
	}
	var nodes []model.GraphNode
	if err := json.Unmarshal(g.Nodes, &nodes); err != nil {
		return nil, nil, validationf("graph nodes are not valid: %s", err.Error())
	}
	var edges []model.GraphEdge
	if len(g.Edges) > 0 {
		if err := json.Unmarshal(g.Edges, &edges); err != nil {
			return nil, nil, validationf("graph edges are not valid: %s", err.Error())
		}
	}

	ids := map[string]bool{}
	for _, n := range nodes {
		if n.ID == "" || n.Name == "" {
			return nil, nil, validationf("every node needs an id and a name")
		}
		if _, ok := nodeImages[n.Type]; !ok {
			return nil, nil, validationf("unknown node type %q", n.Type)
		}
		if n.ServerID == "" {
			return nil, nil, validationf("node %s is not bound to a server", n.Name)
		}
		if ids[n.ID] {
			return nil, nil, validationf("duplicate node id %s", n.ID)
		}
		ids[n.ID] = true
	}
	for _, e := range edges {
		if !ids[e.Source] || !ids[e.Target] {
			return nil, nil, validationf("edge %s -> %s references an unknown node", e.Source, e.Target)
		}
	}
	return nodes, edges, nil
}

func (s *NodeGraphService) Create(ctx context.Context, g *model.NodeGraph) (*model.NodeGraph, error) {
	if g.Nodes == nil {
		g.Nodes = json.RawMessage("[]")
	}
	if g.Edges == nil {
		g.Edges = json.RawMessage("[]")
	}
	if _, _, err := s.validate(g); err != nil {
		return nil, err
	}

	now := time.Now()
	g.ID = platform.NewName("ng")
	g.CreatedAt = now
	g.UpdatedAt = now

	_, err := s.db.Exec(ctx,
		`INSERT INTO node_graphs (id, name, nodes, edges, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, g.Name, g.Nodes, g.Edges, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create node graph: %w", err)
	}
	return g, nil
}

func (s *NodeGraphService) Update(ctx context.Context, id string, upd *model.NodeGraph) (*model.NodeGraph, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != "" {
		existing.Name = upd.Name
	}
	if upd.Nodes != nil {
		existing.Nodes = upd.Nodes
	}
	if upd.Edges != nil {
		existing.Edges = upd.Edges
	}
	if _, _, err := s.validate(existing); err != nil {
		return nil, err
	}
	existing.UpdatedAt = time.Now()

	_, err = s.db.Exec(ctx,
		`UPDATE node_graphs SET name = $1, nodes = $2, edges = $3, updated_at = $4 WHERE id = $5`,
		existing.Name, existing.Nodes, existing.Edges, existing.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update node graph: %w", err)
	}
	return existing, nil
}

func (s *NodeGraphService) Get(ctx context.Context, id string) (*model.NodeGraph, error) {
	row := s.db.QueryRow(ctx, `SELECT id, name, nodes, edges, created_at, updated_at FROM node_graphs WHERE id = $1`, id)
	return scanNodeGraph(row)
}

func (s *NodeGraphService) All(ctx context.Context) ([]model.NodeGraph, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, nodes, edges, created_at, updated_at FROM node_graphs ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list node graphs: %w", err)
	}
	defer rows.Close()

	graphs := []model.NodeGraph{}
	for rows.Next() {
		g, err := scanNodeGraph(rows)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, *g)
	}
	return graphs, nil
}

func (s *NodeGraphService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM node_graphs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete node graph: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("node graph %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanNodeGraph(row pgx.Row) (*model.NodeGraph, error) {
	var g model.NodeGraph
	err := row.Scan(&g.ID, &g.Name, &g.Nodes, &g.Edges, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan node graph: %w", err)
	}
	return &g, nil
}

// DeployResult reports the per-server outcome of a graph deploy.
type DeployResult struct {
	GraphID string              `json:"graph_id"`
	Servers []ServerDeployState `json:"servers"`
}

type ServerDeployState struct {
	ServerID string `json:"server_id"`
	Nodes    int    `json:"nodes"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Deploy renders a compose file per involved server and brings the graph's
// containers up over SSH. Servers are handled independently so one
// unreachable server does not stop the rest.
func (s *NodeGraphService) Deploy(ctx context.Context, id string) (*DeployResult, error) {
	g, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	nodes, edges, err := s.validate(g)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, validationf("graph %s has no nodes", id)
	}

	byServer := map[string][]model.GraphNode{}
	for _, n := range nodes {
		byServer[n.ServerID] = append(byServer[n.ServerID], n)
	}

	nodeAddrs, err := s.resolveNodeAddrs(ctx, nodes)
	if err != nil {
		return nil, err
	}

	result := &DeployResult{GraphID: id}
	serverIDs := make([]string, 0, len(byServer))
	for sid := range byServer {
		serverIDs = append(serverIDs, sid)
	}
	sort.Strings(serverIDs)

	for _, sid := range serverIDs {
		state := ServerDeployState{ServerID: sid, Nodes: len(byServer[sid]), Status: "deployed"}
		if !s.leases.TryAcquire(sid) {
			state.Status = "failed"
			state.Error = fmt.Sprintf("an operation is already in progress on server %s", sid)
			result.Servers = append(result.Servers, state)
			continue
		}
		err := s.deployToServer(ctx, g, sid, byServer[sid], edges, nodeAddrs)
		s.leases.Release(sid)
		if err != nil {
			state.Status = "failed"
			state.Error = err.Error()
			s.logger.Error().Err(err).Str("graph_id", id).Str("server_id", sid).Msg("graph deploy failed on server")
		}
		result.Servers = append(result.Servers, state)
	}
	s.logger.Info().Str("graph_id", id).Int("servers", len(serverIDs)).Msg("graph deploy finished")
	return result, nil
}

// resolveNodeAddrs maps node id to the address peers reach it on. The
// overlay address is preferred; servers that never joined the overlay fall
// back to their public address.
func (s *NodeGraphService) resolveNodeAddrs(ctx context.Context, nodes []model.GraphNode) (map[string]string, error) {
	addrs := map[string]string{}
	cache := map[string]*model.Server{}
	for _, n := range nodes {
		srv, ok := cache[n.ServerID]
		if !ok {
			var err error
			srv, err = s.servers.Get(ctx, n.ServerID)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", n.Name, err)
			}
			cache[n.ServerID] = srv
		}
		host := srv.IPAddress
		if srv.InternalIP != nil {
			host = *srv.InternalIP
		}
		addrs[n.ID] = fmt.Sprintf("%s:%d", host, nodePort(n))
	}
	return addrs, nil
}

// nodePort reads the node's listen port from its fields, with a per-type
// default.
func nodePort(n model.GraphNode) int {
	var fields struct {
		Port int `json:"port"`
	}
	if len(n.Fields) > 0 {
		_ = json.Unmarshal(n.Fields, &fields)
	}
	if fields.Port != 0 {
		return fields.Port
	}
	switch n.Type {
	case model.NodeTypeCompute:
		return 55432
	case model.NodeTypePageServer:
		return 6400
	case model.NodeTypeSafeKeeper:
		return 5454
	case model.NodeTypeStorageBroker:
		return 50051
	default:
		return 0
	}
}

type composeService struct {
	Image       string   `yaml:"image"`
	Restart     string   `yaml:"restart"`
	NetworkMode string   `yaml:"network_mode"`
	Environment []string `yaml:"environment,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

// renderCompose builds the docker-compose document for one server's share of
// the graph. Startup order follows the nodes' startup priority.
func renderCompose(nodes []model.GraphNode, edges []model.GraphEdge, nodeAddrs map[string]string) ([]byte, error) {
	sorted := make([]model.GraphNode, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PriorityStartup < sorted[j].PriorityStartup
	})

	doc := composeFile{Services: map[string]composeService{}}
	prev := ""
	for _, n := range sorted {
		svc := composeService{
			Image:       nodeImages[n.Type],
			Restart:     "unless-stopped",
			NetworkMode: "host",
		}
		svc.Environment = append(svc.Environment, "NODE_ID="+n.ID, fmt.Sprintf("LISTEN_PORT=%d", nodePort(n)))

		// Role-specific settings pass through as env vars.
		if len(n.Fields) > 0 {
			var fields map[string]any
			if err := json.Unmarshal(n.Fields, &fields); err == nil {
				keys := make([]string, 0, len(fields))
				for k := range fields {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					if k == "port" {
						continue
					}
					svc.Environment = append(svc.Environment, fmt.Sprintf("%s=%v", strings.ToUpper(k), fields[k]))
				}
			}
		}

		// Upstream connections come in through the graph's edges.
		for _, e := range edges {
			if e.Target != n.ID {
				continue
			}
			name := e.TargetHandle
			if name == "" {
				name = "upstream"
			}
			svc.Environment = append(svc.Environment,
				fmt.Sprintf("%s_ADDR=%s", strings.ToUpper(name), nodeAddrs[e.Source]))
		}

		// depends_on chains the services so compose starts them in
		// priority order.
		if prev != "" {
			svc.DependsOn = []string{prev}
		}
		name := composeServiceName(n)
		doc.Services[name] = svc
		prev = name
	}
	return yaml.Marshal(&doc)
}

func composeServiceName(n model.GraphNode) string {
	name := strings.ToLower(strings.ReplaceAll(n.Name, " ", "-"))
	return fmt.Sprintf("%s-%s", n.Type, name)
}

func (s *NodeGraphService) deployToServer(ctx context.Context, g *model.NodeGraph, serverID string, nodes []model.GraphNode, edges []model.GraphEdge, nodeAddrs map[string]string) error {
	srv, err := s.servers.Get(ctx, serverID)
	if err != nil {
		return err
	}
	if srv.Status != model.ServerStatusConnected {
		return preconditionf("server %s is not connected", serverID)
	}

	compose, err := renderCompose(nodes, edges, nodeAddrs)
	if err != nil {
		return fmt.Errorf("render compose: %w", err)
	}

	sess, err := s.dialer.Dial(ctx, srv)
	if err != nil {
		return &ConnectivityError{Err: err}
	}
	defer sess.Close()

	dir := fmt.Sprintf("%s/%s", graphDeployDir, g.ID)
	if _, err := sess.Run(ctx, "mkdir -p "+dir); err != nil {
		return &RemoteApplyError{Err: fmt.Errorf("create deploy dir: %w", err)}
	}
	path := dir + "/docker-compose.yaml"
	if err := sess.WriteFile(ctx, path, compose); err != nil {
		return &RemoteApplyError{Err: fmt.Errorf("write compose file: %w", err)}
	}
	if out, err := sess.Run(ctx, fmt.Sprintf("docker compose -f %s up -d", path)); err != nil {
		return &RemoteApplyError{Err: fmt.Errorf("compose up: %w (%s)", err, out)}
	}
	return nil
}
