package core

import (
	"context"
	"fmt"
	"time"

	"github.com/vetle/fleet/internal/model"
	"github.com/vetle/fleet/internal/platform"
)

type MonitoringService struct {
	db DB
}

func NewMonitoringService(db DB) *MonitoringService {
	return &MonitoringService{db: db}
}

// SavePing persists one probe result.
func (s *MonitoringService) SavePing(ctx context.Context, ping *model.ServerPing) error {
	ping.ID = platform.NewName("ping")
	if ping.CreatedAt.IsZero() {
		ping.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO server_pings (id, server_id, response_time, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ping.ID, ping.ServerID, ping.ResponseTime, ping.Status, ping.Error, ping.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save ping: %w", err)
	}
	return nil
}

// RecentPings returns the latest pings for a server in chronological order.
func (s *MonitoringService) RecentPings(ctx context.Context, serverID string, limit int) ([]model.ServerPing, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, server_id, response_time, status, error, created_at
		 FROM server_pings WHERE server_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		serverID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent pings: %w", err)
	}
	defer rows.Close()

	pings, err := scanPings(rows)
	if err != nil {
		return nil, err
	}
	// Walked newest first for the LIMIT, served oldest first for charting.
	for i, j := 0, len(pings)-1; i < j; i, j = i+1, j-1 {
		pings[i], pings[j] = pings[j], pings[i]
	}
	return pings, nil
}

// PingsSince returns all pings for a server at or after the given time,
// oldest first.
func (s *MonitoringService) PingsSince(ctx context.Context, serverID string, since time.Time) ([]model.ServerPing, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, server_id, response_time, status, error, created_at
		 FROM server_pings WHERE server_id = $1 AND created_at >= $2
		 ORDER BY created_at ASC`,
		serverID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("pings since: %w", err)
	}
	defer rows.Close()
	return scanPings(rows)
}

func scanPings(rows interface {
	Next() bool
	Scan(dest ...any) error
}) ([]model.ServerPing, error) {
	pings := []model.ServerPing{}
	for rows.Next() {
		var p model.ServerPing
		if err := rows.Scan(&p.ID, &p.ServerID, &p.ResponseTime, &p.Status, &p.Error, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ping: %w", err)
		}
		pings = append(pings, p)
	}
	return pings, nil
}

// SaveStat persists one aggregated stats window. The (server, window) pair is
// unique so a window is never recorded twice.
func (s *MonitoringService) SaveStat(ctx context.Context, stat *model.ServerStat) error {
	stat.ID = platform.NewName("stat")
	if stat.CreatedAt.IsZero() {
		stat.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO server_stats (id, server_id, window_start, average_response_time,
		   min_response_time, max_response_time, success_rate, ping_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (server_id, window_start) DO NOTHING`,
		stat.ID, stat.ServerID, stat.WindowStart, stat.AverageResponseTime,
		stat.MinResponseTime, stat.MaxResponseTime, stat.SuccessRate,
		stat.PingCount, stat.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save stat: %w", err)
	}
	return nil
}

// StatsByServer returns the most recent aggregated windows, newest first.
func (s *MonitoringService) StatsByServer(ctx context.Context, serverID string, limit int) ([]model.ServerStat, error) {
	if limit < 1 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, server_id, window_start, average_response_time,
		   min_response_time, max_response_time, success_rate, ping_count, created_at
		 FROM server_stats WHERE server_id = $1
		 ORDER BY window_start DESC LIMIT $2`,
		serverID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("stats by server: %w", err)
	}
	defer rows.Close()

	stats := []model.ServerStat{}
	for rows.Next() {
		var st model.ServerStat
		if err := rows.Scan(&st.ID, &st.ServerID, &st.WindowStart, &st.AverageResponseTime,
			&st.MinResponseTime, &st.MaxResponseTime, &st.SuccessRate,
			&st.PingCount, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// DeletePingsBefore prunes raw pings older than the cutoff. Aggregated stats
// are kept, only the raw samples are dropped.
func (s *MonitoringService) DeletePingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM server_pings WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune pings: %w", err)
	}
	return tag.RowsAffected(), nil
}
