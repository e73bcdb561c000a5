package core

import (
	"context"
	"errors"
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

func newTestServerService(t *testing.T, db DB, dialer RemoteDialer) (*ServerService, *serverLeases) {
	t.Helper()
	leases := newServerLeases()
	logs := NewInstallLogs(t.TempDir())
	accidents := NewAccidentService(db)
	svc := NewServerService(db, zerolog.Nop(), dialer, accidents, leases, logs)
	return svc, leases
}

// serverScanFunc fills a full servers row.
func serverScanFunc(id, status, agentStatus string) func(dest ...any) error {
	now := time.Now()
	return func(dest ...any) error {
		password := "secret"
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = "web-1"
		*(dest[2].(*string)) = "203.0.113.10"
		*(dest[3].(*int)) = 22
		*(dest[4].(*string)) = "ssh"
		*(dest[5].(*string)) = "root"
		*(dest[6].(**string)) = &password
		*(dest[7].(**string)) = nil
		*(dest[8].(*string)) = status
		*(dest[9].(**string)) = nil
		*(dest[10].(**string)) = nil
		*(dest[11].(**int)) = nil
		*(dest[12].(*int)) = 8083
		*(dest[13].(*string)) = agentStatus
		*(dest[14].(*time.Time)) = now
		*(dest[15].(*time.Time)) = now
		return nil
	}
}

// ---------- Create ----------

func TestServerService_Create_Reachable(t *testing.T) {
	db := &mockDB{}
	dialer := &fakeDialer{session: newFakeSession(nil)}
	svc, _ := newTestServerService(t, db, dialer)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	password := "secret"
	srv, warning, err := svc.Create(ctx, &model.Server{
		Name:       "web-1",
		IPAddress:  "203.0.113.10",
		Credential: model.Credential{Username: "root", Password: &password},
	})
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, model.ServerStatusConnected, srv.Status)
	assert.Equal(t, model.AgentStatusUnspecified, srv.Agent.Status)
	assert.Equal(t, 22, srv.Port)
	assert.NotEmpty(t, srv.ID)
	assert.Equal(t, 1, dialer.dials)
	assert.True(t, dialer.session.closed)
}

func TestServerService_Create_UnreachableStoresWithWarning(t *testing.T) {
	db := &mockDB{}
	dialer := &fakeDialer{err: errors.New("connection refused")}
	svc, _ := newTestServerService(t, db, dialer)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	// accident dedupe lookup finds nothing open
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}})

	password := "secret"
	srv, warning, err := svc.Create(ctx, &model.Server{
		Name:       "web-1",
		IPAddress:  "203.0.113.10",
		Credential: model.Credential{Username: "root", Password: &password},
	})
	require.NoError(t, err)
	assert.Contains(t, warning, "unreachable")
	assert.Equal(t, model.ServerStatusDisconnected, srv.Status)
}

func TestServerService_Create_FailedProbeAccidentHasNoResponseTime(t *testing.T) {
	db := &mockDB{}
	dialer := &fakeDialer{err: errors.New("connection refused")}
	svc, _ := newTestServerService(t, db, dialer)
	ctx := context.Background()

	// the accident row for a dial failure carries response_time 0
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "INSERT INTO server_accidents")
	}), mock.MatchedBy(func(args []any) bool {
		return args[4] == int64(0)
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}})

	password := "secret"
	_, warning, err := svc.Create(ctx, &model.Server{
		Name:       "web-1",
		IPAddress:  "203.0.113.10",
		Credential: model.Credential{Username: "root", Password: &password},
	})
	require.NoError(t, err)
	assert.Contains(t, warning, "unreachable")
	db.AssertExpectations(t)
}

func TestServerService_Create_InvalidCredential(t *testing.T) {
	db := &mockDB{}
	svc, _ := newTestServerService(t, db, &fakeDialer{})

	_, _, err := svc.Create(context.Background(), &model.Server{
		Name:       "web-1",
		IPAddress:  "203.0.113.10",
		Credential: model.Credential{Username: "root"},
	})
	require.Error(t, err)
	assert.IsType(t, &ValidationError{}, err)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestServerService_Create_ProbeCommandFails(t *testing.T) {
	db := &mockDB{}
	sess := newFakeSession(func(cmd string) (string, error) {
		return "", errors.New("exit status 127")
	})
	dialer := &fakeDialer{session: sess}
	svc, _ := newTestServerService(t, db, dialer)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}})

	password := "secret"
	srv, warning, err := svc.Create(ctx, &model.Server{
		Name:       "web-1",
		IPAddress:  "203.0.113.10",
		Credential: model.Credential{Username: "root", Password: &password},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, warning)
	assert.Equal(t, model.ServerStatusDisconnected, srv.Status)
}

// ---------- Get ----------

func TestServerService_Get_NotFound(t *testing.T) {
	db := &mockDB{}
	svc, _ := newTestServerService(t, db, &fakeDialer{})
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}})

	_, err := svc.Get(ctx, "srv-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServerService_Get_Success(t *testing.T) {
	db := &mockDB{}
	svc, _ := newTestServerService(t, db, &fakeDialer{})
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{
		scanFunc: serverScanFunc("srv-1", model.ServerStatusConnected, model.AgentStatusSuccess),
	})

	srv, err := svc.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", srv.ID)
	assert.Equal(t, "root", srv.Credential.Username)
	assert.Nil(t, srv.WireGuard)
	assert.Equal(t, model.AgentStatusSuccess, srv.Agent.Status)
}

// ---------- RetryConnection ----------

func TestServerService_RetryConnection_RejectedWhileLeased(t *testing.T) {
	db := &mockDB{}
	svc, leases := newTestServerService(t, db, &fakeDialer{session: newFakeSession(nil)})
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{
		scanFunc: serverScanFunc("srv-1", model.ServerStatusDisconnected, model.AgentStatusUnspecified),
	})

	require.True(t, leases.TryAcquire("srv-1"))
	defer leases.Release("srv-1")

	_, _, err := svc.RetryConnection(ctx, "srv-1")
	require.Error(t, err)
	assert.IsType(t, &PreconditionError{}, err)
}

func TestServerService_RetryConnection_Recovers(t *testing.T) {
	db := &mockDB{}
	dialer := &fakeDialer{session: newFakeSession(nil)}
	svc, leases := newTestServerService(t, db, dialer)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{
		scanFunc: serverScanFunc("srv-1", model.ServerStatusDisconnected, model.AgentStatusUnspecified),
	})
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	srv, warning, err := svc.RetryConnection(ctx, "srv-1")
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, model.ServerStatusConnected, srv.Status)
	// lease is released when the probe is done
	assert.False(t, leases.Held("srv-1"))
}

// ---------- Delete ----------

func TestServerService_Delete_NotFound(t *testing.T) {
	db := &mockDB{}
	svc, _ := newTestServerService(t, db, &fakeDialer{})
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("DELETE 0"), nil)

	err := svc.Delete(ctx, "srv-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServerService_Delete_Success(t *testing.T) {
	db := &mockDB{}
	svc, _ := newTestServerService(t, db, &fakeDialer{})
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, svc.Delete(ctx, "srv-1"))
}
