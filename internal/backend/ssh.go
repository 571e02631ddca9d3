package backend

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rjsadow/drawbridge/internal/directory"
)

// Terminal geometry requested for the PTY. Matches the replay header so the
// recording plays back at the size the shell rendered for.
const (
	PtyCols = 220
	PtyRows = 100
)

// Shell is an interactive SSH shell channel with a PTY allocated.
type Shell struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	tag     string
}

// DialSSH connects to the asset with the account's password credentials,
// allocates a PTY and starts a login shell.
func DialSSH(asset *directory.Asset, account *directory.Account) (*Shell, error) {
	cfg := &ssh.ClientConfig{
		User:            account.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(account.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         DialTimeout,
	}

	client, err := ssh.Dial("tcp", assetAddr(asset), cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: ssh %s: %v", ErrBackendUnreachable, assetAddr(asset), err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ssh session on %s: %v", ErrBackendUnreachable, assetAddr(asset), err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", PtyRows, PtyCols, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("%w: pty on %s: %v", ErrBackendUnreachable, assetAddr(asset), err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrBackendUnreachable, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrBackendUnreachable, err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("%w: shell on %s: %v", ErrBackendUnreachable, assetAddr(asset), err)
	}

	return &Shell{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		tag:     ConnTag(account.Username, asset.Hostname),
	}, nil
}

// Tag identifies this shell connection in audit records.
func (s *Shell) Tag() string { return s.tag }

// Read reads the next chunk of shell output. The returned slice aliases buf.
func (s *Shell) Read(buf []byte) (int, error) {
	return s.stdout.Read(buf)
}

// Write sends input to the shell.
func (s *Shell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// ResizePty updates the remote terminal geometry.
func (s *Shell) ResizePty(cols, rows int) error {
	return s.session.WindowChange(rows, cols)
}

// Close tears down the shell channel and the SSH connection.
func (s *Shell) Close() error {
	s.session.Close()
	return s.client.Close()
}

// ConnTag builds the audit tag for a backend connection:
// <username>_<host>_<yyyymmddHHMMSS>.
func ConnTag(username, host string) string {
	return fmt.Sprintf("%s_%s_%s", username, host, time.Now().Format("20060102150405"))
}
