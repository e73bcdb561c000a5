package core

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetle/fleet/internal/model"
)

func newTestDatabaseService(t *testing.T, db DB, dialer RemoteDialer) *DatabaseService {
	t.Helper()
	servers := NewServerService(db, zerolog.Nop(), dialer, NewAccidentService(db), newServerLeases(), NewInstallLogs(t.TempDir()))
	return NewDatabaseService(db, zerolog.Nop(), dialer, servers)
}

func TestDatabaseService_Create_MissingFields(t *testing.T) {
	svc := newTestDatabaseService(t, &mockDB{}, &fakeDialer{})

	_, err := svc.Create(context.Background(), &model.Database{Name: "orders"})
	require.Error(t, err)
	assert.IsType(t, &ValidationError{}, err)
}

func TestDatabaseService_StartContainer(t *testing.T) {
	db := &mockDB{}
	sess := newFakeSession(func(cmd string) (string, error) {
		if strings.HasPrefix(cmd, "docker run") {
			return "4f5a6b7c8d9e\n", nil
		}
		return "", nil
	})
	svc := newTestDatabaseService(t, db, &fakeDialer{session: sess})

	d := &model.Database{
		ID:       "db-1",
		Name:     "orders",
		User:     "orders",
		Password: "s3cretpass",
		DBName:   "orders",
		ServerID: "srv-1",
		Port:     54000,
	}
	id, err := svc.startContainer(context.Background(), d, testServer(model.AgentStatusSuccess))
	require.NoError(t, err)
	assert.Equal(t, "4f5a6b7c8d9e", id)

	cmd := strings.Join(sess.commands, "\n")
	assert.Contains(t, cmd, "--name fleet-db-db-1")
	assert.Contains(t, cmd, "-p 54000:5432")
	assert.Contains(t, cmd, databaseImage)
	// credentials are quoted for the remote shell
	assert.Contains(t, cmd, "POSTGRES_PASSWORD='s3cretpass'")
}

func TestDatabaseService_StartContainer_DockerFails(t *testing.T) {
	db := &mockDB{}
	sess := newFakeSession(func(cmd string) (string, error) {
		if strings.HasPrefix(cmd, "docker run") {
			return "no such image", assert.AnError
		}
		return "", nil
	})
	svc := newTestDatabaseService(t, db, &fakeDialer{session: sess})

	d := &model.Database{ID: "db-1", User: "u", Password: "p", DBName: "d", ServerID: "srv-1", Port: 54000}
	_, err := svc.startContainer(context.Background(), d, testServer(model.AgentStatusSuccess))
	require.Error(t, err)
	var remoteErr *RemoteApplyError
	assert.ErrorAs(t, err, &remoteErr)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'plain'", shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
