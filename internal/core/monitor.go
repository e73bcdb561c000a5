package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vetle/fleet/internal/metrics"
	"github.com/vetle/fleet/internal/model"
)

const (
	// Successful pings above this are still recorded as accidents.
	highLatencyThreshold = 500 * time.Millisecond

	// Raw pings older than this are pruned once aggregated.
	pingRetention = 24 * time.Hour

	monitorConcurrency = 8
)

// AgentPinger checks whether an agent at host:port is alive and how fast it
// answers.
type AgentPinger interface {
	Ping(ctx context.Context, addr string) (time.Duration, error)
}

// Monitor is the background health loop. It pings every provisioned agent on
// a short interval, keeps the accident ledger in sync with the results, and
// closes aggregation windows on a longer interval.
type Monitor struct {
	logger     zerolog.Logger
	servers    *ServerService
	monitoring *MonitoringService
	accidents  *AccidentService
	leases     *serverLeases
	pinger     AgentPinger

	pingInterval     time.Duration
	statWindow       time.Duration
	defaultAgentPort int

	windowStart time.Time
}

func NewMonitor(logger zerolog.Logger, servers *ServerService, monitoring *MonitoringService, accidents *AccidentService, leases *serverLeases, pinger AgentPinger, pingInterval, statWindow time.Duration, defaultAgentPort int) *Monitor {
	return &Monitor{
		logger:           logger,
		servers:          servers,
		monitoring:       monitoring,
		accidents:        accidents,
		leases:           leases,
		pinger:           pinger,
		pingInterval:     pingInterval,
		statWindow:       statWindow,
		defaultAgentPort: defaultAgentPort,
	}
}

// Run drives the monitor until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.windowStart = time.Now().Truncate(m.statWindow)

	pingTicker := time.NewTicker(m.pingInterval)
	defer pingTicker.Stop()
	windowTicker := time.NewTicker(m.statWindow)
	defer windowTicker.Stop()

	m.logger.Info().
		Dur("ping_interval", m.pingInterval).
		Dur("stat_window", m.statWindow).
		Msg("health monitor started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pingTicker.C:
			if err := m.pingAll(ctx); err != nil {
				m.logger.Error().Err(err).Msg("ping sweep")
			}
		case <-windowTicker.C:
			if err := m.closeWindow(ctx); err != nil {
				m.logger.Error().Err(err).Msg("close stats window")
			}
		}
	}
}

// pingAll probes every connected server concurrently, whether or not its
// agent is installed yet (an agent-less server simply records failures).
// Servers whose lease is held (install or retry in flight) are skipped for
// this sweep.
func (m *Monitor) pingAll(ctx context.Context) error {
	servers, err := m.servers.All(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(monitorConcurrency)
	for i := range servers {
		srv := servers[i]
		if srv.Status != model.ServerStatusConnected {
			continue
		}
		if m.leases.Held(srv.ID) {
			continue
		}
		g.Go(func() error {
			m.pingOne(gctx, &srv)
			return nil
		})
	}
	return g.Wait()
}

func (m *Monitor) pingOne(ctx context.Context, srv *model.Server) {
	port := srv.Agent.Port
	if port == 0 {
		port = m.defaultAgentPort
	}
	addr := fmt.Sprintf("%s:%d", srv.IPAddress, port)
	rtt, err := m.pinger.Ping(ctx, addr)

	ping := &model.ServerPing{
		ServerID:     srv.ID,
		ResponseTime: rtt.Milliseconds(),
		Status:       model.PingStatusOK,
	}
	if err != nil {
		ping.Status = model.PingStatusError
		ping.Error = err.Error()
	}
	metrics.AgentPings.WithLabelValues(ping.Status).Inc()
	if serr := m.monitoring.SavePing(ctx, ping); serr != nil {
		m.logger.Error().Err(serr).Str("server_id", srv.ID).Msg("save ping")
	}

	switch {
	case err != nil:
		acc := &model.ServerAccident{
			ServerID: srv.ID,
			Error:    "agent unreachable",
			Details:  err.Error(),
		}
		if created, aerr := m.accidents.Open(ctx, acc); aerr != nil {
			m.logger.Error().Err(aerr).Str("server_id", srv.ID).Msg("open accident")
		} else if created {
			metrics.AccidentsOpened.Inc()
			m.logger.Warn().Str("server_id", srv.ID).Str("addr", addr).Msg("agent unreachable, accident opened")
		}
	case rtt > highLatencyThreshold:
		acc := &model.ServerAccident{
			ServerID:     srv.ID,
			Error:        "high response time",
			Details:      fmt.Sprintf("agent answered in %dms", rtt.Milliseconds()),
			ResponseTime: rtt.Milliseconds(),
		}
		if created, aerr := m.accidents.Open(ctx, acc); aerr != nil {
			m.logger.Error().Err(aerr).Str("server_id", srv.ID).Msg("open accident")
		} else if created {
			metrics.AccidentsOpened.Inc()
		}
	default:
		if rerr := m.accidents.ResolveOpen(ctx, srv.ID); rerr != nil {
			m.logger.Error().Err(rerr).Str("server_id", srv.ID).Msg("resolve accidents")
		}
	}
}

// closeWindow aggregates the window that just ended for every monitored
// server, then prunes raw pings past retention.
func (m *Monitor) closeWindow(ctx context.Context) error {
	windowStart := m.windowStart
	m.windowStart = time.Now().Truncate(m.statWindow)

	servers, err := m.servers.All(ctx)
	if err != nil {
		return err
	}
	for i := range servers {
		srv := &servers[i]
		pings, err := m.monitoring.PingsSince(ctx, srv.ID, windowStart)
		if err != nil {
			m.logger.Error().Err(err).Str("server_id", srv.ID).Msg("load window pings")
			continue
		}
		stat := aggregateWindow(srv.ID, windowStart, pings)
		if stat == nil {
			continue
		}
		if err := m.monitoring.SaveStat(ctx, stat); err != nil {
			m.logger.Error().Err(err).Str("server_id", srv.ID).Msg("save stat")
		}
	}

	pruned, err := m.monitoring.DeletePingsBefore(ctx, time.Now().Add(-pingRetention))
	if err != nil {
		return err
	}
	if pruned > 0 {
		m.logger.Debug().Int64("pruned", pruned).Msg("old pings removed")
	}
	return nil
}

// aggregateWindow folds the window's pings into one stat record. Latency
// figures cover successful pings only; the success rate covers all of them.
// Returns nil when there is nothing to aggregate.
func aggregateWindow(serverID string, windowStart time.Time, pings []model.ServerPing) *model.ServerStat {
	if len(pings) == 0 {
		return nil
	}

	var successes int64
	var sum, minRT, maxRT int64
	for _, p := range pings {
		if !p.Success() {
			continue
		}
		if successes == 0 {
			minRT, maxRT = p.ResponseTime, p.ResponseTime
		} else {
			if p.ResponseTime < minRT {
				minRT = p.ResponseTime
			}
			if p.ResponseTime > maxRT {
				maxRT = p.ResponseTime
			}
		}
		sum += p.ResponseTime
		successes++
	}

	stat := &model.ServerStat{
		ServerID:    serverID,
		WindowStart: windowStart,
		PingCount:   int64(len(pings)),
	}
	if successes > 0 {
		stat.AverageResponseTime = float64(sum) / float64(successes)
		stat.MinResponseTime = minRT
		stat.MaxResponseTime = maxRT
		stat.SuccessRate = float64(successes) / float64(len(pings)) * 100
	}
	return stat
}
