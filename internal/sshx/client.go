// Package sshx wraps golang.org/x/crypto/ssh with the small remote-execution
// surface the control plane needs: run a command, stream its output, and
// write a file on the target host.
package sshx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

type Client struct {
	client *ssh.Client
}

// Config holds the connection parameters for one server.
type Config struct {
	Host     string
	Port     int
	User     string
	Password *string
	SSHKey   *string
	Timeout  time.Duration
}

// Dial opens an SSH connection. Exactly one of Password and SSHKey must be
// set; the caller validates that before reaching this layer.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	var authMethods []ssh.AuthMethod

	if cfg.Password != nil && *cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(*cfg.Password))
	}
	if cfg.SSHKey != nil && *cfg.SSHKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(*cfg.SSHKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method provided")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dialer := net.Dialer{Timeout: timeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, clientCfg)
	if err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &Client{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Run executes a command and returns its stdout. A non-zero exit status is an
// error carrying the command's stderr.
func (c *Client) Run(ctx context.Context, cmd string) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("run %q: %s: %w", cmd, stderr.String(), err)
		}
		return stdout.String(), nil
	}
}

// RunStream executes a command with stdout and stderr streamed to w.
func (c *Client) RunStream(ctx context.Context, cmd string, w io.Writer) error {
	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	session.Stdout = w
	session.Stderr = w

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("run %q: %w", cmd, err)
		}
		return nil
	}
}

// WriteFile writes content to path on the remote host by piping it through
// a cat session. Parent directories must already exist.
func (c *Client) WriteFile(ctx context.Context, path string, content []byte) error {
	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(content)

	var stderr bytes.Buffer
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run("cat > " + path) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("write %s: %s: %w", path, stderr.String(), err)
		}
		return nil
	}
}
