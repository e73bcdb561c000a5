package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vetle/fleet/internal/model"
)

func newTestMonitor(t *testing.T, db DB, pinger AgentPinger, defaultPort int) *Monitor {
	t.Helper()
	leases := newServerLeases()
	servers := NewServerService(db, zerolog.Nop(), &fakeDialer{}, NewAccidentService(db), leases, NewInstallLogs(t.TempDir()))
	return NewMonitor(zerolog.Nop(), servers, NewMonitoringService(db), NewAccidentService(db), leases, pinger, time.Second, time.Minute, defaultPort)
}

func ping(status string, rt int64) model.ServerPing {
	return model.ServerPing{ServerID: "srv-1", Status: status, ResponseTime: rt}
}

func TestAggregateWindow_Empty(t *testing.T) {
	stat := aggregateWindow("srv-1", time.Now(), nil)
	assert.Nil(t, stat)
}

func TestAggregateWindow_AllSuccessful(t *testing.T) {
	windowStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pings := []model.ServerPing{
		ping(model.PingStatusOK, 10),
		ping(model.PingStatusOK, 30),
		ping(model.PingStatusOK, 20),
	}

	stat := aggregateWindow("srv-1", windowStart, pings)
	require.NotNil(t, stat)
	assert.Equal(t, "srv-1", stat.ServerID)
	assert.Equal(t, windowStart, stat.WindowStart)
	assert.Equal(t, int64(3), stat.PingCount)
	assert.InDelta(t, 20.0, stat.AverageResponseTime, 0.001)
	assert.Equal(t, int64(10), stat.MinResponseTime)
	assert.Equal(t, int64(30), stat.MaxResponseTime)
	assert.InDelta(t, 100.0, stat.SuccessRate, 0.001)
}

func TestAggregateWindow_MixedResults(t *testing.T) {
	pings := []model.ServerPing{
		ping(model.PingStatusOK, 40),
		ping(model.PingStatusError, 0),
		ping(model.PingStatusOK, 60),
		ping(model.PingStatusError, 0),
	}

	stat := aggregateWindow("srv-1", time.Now(), pings)
	require.NotNil(t, stat)
	assert.Equal(t, int64(4), stat.PingCount)
	// latency figures only cover the successful pings
	assert.InDelta(t, 50.0, stat.AverageResponseTime, 0.001)
	assert.Equal(t, int64(40), stat.MinResponseTime)
	assert.Equal(t, int64(60), stat.MaxResponseTime)
	assert.InDelta(t, 50.0, stat.SuccessRate, 0.001)
}

func TestAggregateWindow_AllFailed(t *testing.T) {
	pings := []model.ServerPing{
		ping(model.PingStatusError, 0),
		ping(model.PingStatusError, 0),
	}

	stat := aggregateWindow("srv-1", time.Now(), pings)
	require.NotNil(t, stat)
	assert.Equal(t, int64(2), stat.PingCount)
	assert.Zero(t, stat.AverageResponseTime)
	assert.Zero(t, stat.MinResponseTime)
	assert.Zero(t, stat.MaxResponseTime)
	assert.Zero(t, stat.SuccessRate)
}

func TestMonitor_PingsConnectedAgentlessServer(t *testing.T) {
	db := &mockDB{}
	pinger := &fakePinger{rtt: 12 * time.Millisecond}
	m := newTestMonitor(t, db, pinger, 8083)
	ctx := context.Background()

	// one connected server without an agent, one disconnected
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(
		serverScanFunc("srv-1", model.ServerStatusConnected, model.AgentStatusUnspecified),
		serverScanFunc("srv-2", model.ServerStatusDisconnected, model.AgentStatusUnspecified),
	), nil)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, m.pingAll(ctx))
	require.Len(t, pinger.addrs, 1)
	assert.Equal(t, "203.0.113.10:8083", pinger.addrs[0])
}

func TestMonitor_DefaultAgentPortFallback(t *testing.T) {
	db := &mockDB{}
	pinger := &fakePinger{rtt: 8 * time.Millisecond}
	m := newTestMonitor(t, db, pinger, 9090)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	srv := &model.Server{ID: "srv-1", IPAddress: "203.0.113.10", Status: model.ServerStatusConnected}
	m.pingOne(context.Background(), srv)

	require.Len(t, pinger.addrs, 1)
	assert.Equal(t, "203.0.113.10:9090", pinger.addrs[0])
}

func TestMonitor_UnreachableAgentlessServerOpensAccident(t *testing.T) {
	db := &mockDB{}
	pinger := &fakePinger{err: context.DeadlineExceeded}
	m := newTestMonitor(t, db, pinger, 8083)

	// no open accident yet
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}})
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	srv := &model.Server{ID: "srv-1", IPAddress: "203.0.113.10", Status: model.ServerStatusConnected}
	m.pingOne(context.Background(), srv)

	db.AssertCalled(t, "Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "INSERT INTO server_accidents")
	}), mock.Anything)
}

func TestAggregateWindow_SinglePing(t *testing.T) {
	stat := aggregateWindow("srv-1", time.Now(), []model.ServerPing{ping(model.PingStatusOK, 123)})
	require.NotNil(t, stat)
	assert.Equal(t, int64(123), stat.MinResponseTime)
	assert.Equal(t, int64(123), stat.MaxResponseTime)
	assert.InDelta(t, 123.0, stat.AverageResponseTime, 0.001)
	assert.InDelta(t, 100.0, stat.SuccessRate, 0.001)
}
