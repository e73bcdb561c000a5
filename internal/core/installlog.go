package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const installLogName = "agent_install.log"

// InstallLogs manages the per-server agent install log files under
// <dir>/servers/<id>/. Lines are append-only; rotation is handled by
// lumberjack so a long or repeatedly-retried install cannot grow unbounded.
type InstallLogs struct {
	dir string
}

func NewInstallLogs(dir string) *InstallLogs {
	return &InstallLogs{dir: dir}
}

// ServerDir returns the log directory for one server.
func (l *InstallLogs) ServerDir(serverID string) string {
	return filepath.Join(l.dir, "servers", serverID)
}

// Path returns the install log path for one server.
func (l *InstallLogs) Path(serverID string) string {
	return filepath.Join(l.ServerDir(serverID), installLogName)
}

// Append writes one timestamped line to the server's install log.
func (l *InstallLogs) Append(serverID, msg string) error {
	w, err := l.writer(serverID)
	if err != nil {
		return err
	}
	defer w.Close()

	line := fmt.Sprintf("[%s] %s\n", time.Now().Format(time.RFC3339), msg)
	if _, err := w.Write([]byte(line)); err != nil {
		return fmt.Errorf("write install log: %w", err)
	}
	return nil
}

// Writer returns a writer that appends raw output (e.g. streamed command
// output) to the server's install log. The caller must close it.
func (l *InstallLogs) Writer(serverID string) (io.WriteCloser, error) {
	return l.writer(serverID)
}

func (l *InstallLogs) writer(serverID string) (io.WriteCloser, error) {
	if err := os.MkdirAll(l.ServerDir(serverID), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   l.Path(serverID),
		MaxSize:    25, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}, nil
}

// Remove deletes all log files for a server. Part of the registry's cascade
// delete.
func (l *InstallLogs) Remove(serverID string) error {
	return os.RemoveAll(l.ServerDir(serverID))
}
