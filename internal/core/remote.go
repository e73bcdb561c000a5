package core

import (
	"context"
	"io"
	"time"

	"github.com/vetle/fleet/internal/model"
	"github.com/vetle/fleet/internal/sshx"
)

// RemoteSession is one established connection to a managed server.
type RemoteSession interface {
	Run(ctx context.Context, cmd string) (string, error)
	RunStream(ctx context.Context, cmd string, w io.Writer) error
	WriteFile(ctx context.Context, path string, content []byte) error
	Close() error
}

// RemoteDialer opens sessions against a server using its stored credential.
type RemoteDialer interface {
	Dial(ctx context.Context, server *model.Server) (RemoteSession, error)
}

// SSHDialer is the production RemoteDialer backed by sshx.
type SSHDialer struct {
	Timeout time.Duration
}

func (d *SSHDialer) Dial(ctx context.Context, server *model.Server) (RemoteSession, error) {
	return sshx.Dial(ctx, sshx.Config{
		Host:     server.IPAddress,
		Port:     server.Port,
		User:     server.Credential.Username,
		Password: server.Credential.Password,
		SSHKey:   server.Credential.SSHKey,
		Timeout:  d.Timeout,
	})
}
