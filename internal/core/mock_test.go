package core

import (
	"context"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/vetle/fleet/internal/model"
)

// ---------- Mock DB ----------

// mockDB implements the DB interface for testing.
type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// ---------- Mock Row ----------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

// ---------- Mock Rows ----------

// mockRows implements pgx.Rows for testing.
// It iterates through a list of scan functions, one per row.
type mockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
	err       error
}

func newMockRows(scanFuncs ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFuncs: scanFuncs}
}

// newEmptyMockRows returns a mockRows that yields zero rows.
func newEmptyMockRows() *mockRows {
	return &mockRows{}
}

func (m *mockRows) Next() bool {
	return m.callIndex < len(m.scanFuncs)
}

func (m *mockRows) Scan(dest ...any) error {
	if m.callIndex < len(m.scanFuncs) {
		fn := m.scanFuncs[m.callIndex]
		m.callIndex++
		return fn(dest...)
	}
	return nil
}

func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

// ---------- Fake remote session ----------

// fakeSession implements RemoteSession with scripted responses per command.
type fakeSession struct {
	runFunc  func(cmd string) (string, error)
	written  map[string][]byte
	commands []string
	closed   bool
	writeErr error
}

func newFakeSession(runFunc func(cmd string) (string, error)) *fakeSession {
	return &fakeSession{runFunc: runFunc, written: map[string][]byte{}}
}

func (f *fakeSession) Run(_ context.Context, cmd string) (string, error) {
	f.commands = append(f.commands, cmd)
	if f.runFunc != nil {
		return f.runFunc(cmd)
	}
	return "", nil
}

func (f *fakeSession) RunStream(ctx context.Context, cmd string, _ io.Writer) error {
	_, err := f.Run(ctx, cmd)
	return err
}

func (f *fakeSession) WriteFile(_ context.Context, path string, content []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written[path] = content
	return nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

// fakeDialer implements RemoteDialer.
type fakeDialer struct {
	session *fakeSession
	err     error
	dials   int
}

func (f *fakeDialer) Dial(context.Context, *model.Server) (RemoteSession, error) {
	f.dials++
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

// fakePinger implements AgentPinger with a fixed result, recording the
// addresses it was asked to probe.
type fakePinger struct {
	rtt   time.Duration
	err   error
	addrs []string
}

func (f *fakePinger) Ping(_ context.Context, addr string) (time.Duration, error) {
	f.addrs = append(f.addrs, addr)
	return f.rtt, f.err
}
