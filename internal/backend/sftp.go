package backend

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/rjsadow/drawbridge/internal/directory"
)

// FileClient is an SFTP client pinned to a home directory. The home is
// created on connect when missing, mirroring the shell provisioning flow.
type FileClient struct {
	client *ssh.Client
	sftp   *sftp.Client
	tag    string
	home   string
}

// DialSFTP connects to the asset, opens the SFTP subsystem and ensures the
// home directory exists.
func DialSFTP(asset *directory.Asset, account *directory.Account, home string) (*FileClient, error) {
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

	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: sftp subsystem on %s: %v", ErrBackendUnreachable, assetAddr(asset), err)
	}

	if _, err := sc.Stat(home); err != nil {
		if err := sc.MkdirAll(home); err != nil {
			sc.Close()
			client.Close()
			return nil, fmt.Errorf("%w: create home %s: %v", ErrBackendUnreachable, home, err)
		}
	}

	return &FileClient{
		client: client,
		sftp:   sc,
		tag:    ConnTag(account.Username, asset.IP),
		home:   home,
	}, nil
}

// Tag identifies this connection in audit records.
func (c *FileClient) Tag() string { return c.tag }

// Home returns the pinned home root.
func (c *FileClient) Home() string { return c.home }

// ReadDir lists a remote directory.
func (c *FileClient) ReadDir(path string) ([]os.FileInfo, error) {
	return c.sftp.ReadDir(path)
}

// Mkdir creates a remote directory.
func (c *FileClient) Mkdir(path string) error {
	return c.sftp.Mkdir(path)
}

// Create creates (or truncates) a remote file.
func (c *FileClient) Create(path string) (io.WriteCloser, error) {
	return c.sftp.Create(path)
}

// OpenAppend opens a remote file for appending, creating it when missing.
// Used by uploads so the client can stream chunks across frames.
func (c *FileClient) OpenAppend(path string) (io.WriteCloser, error) {
	return c.sftp.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
}

// Open opens a remote file for reading.
func (c *FileClient) Open(path string) (io.ReadCloser, error) {
	return c.sftp.Open(path)
}

// Stat stats a remote path.
func (c *FileClient) Stat(path string) (os.FileInfo, error) {
	return c.sftp.Stat(path)
}

// Rename renames a remote file or directory.
func (c *FileClient) Rename(oldPath, newPath string) error {
	return c.sftp.Rename(oldPath, newPath)
}

// Remove deletes a remote file.
func (c *FileClient) Remove(path string) error {
	return c.sftp.Remove(path)
}

// RemoveDirectory deletes a remote directory.
func (c *FileClient) RemoveDirectory(path string) error {
	return c.sftp.RemoveDirectory(path)
}

// Close releases the SFTP subsystem and the SSH connection.
func (c *FileClient) Close() error {
	c.sftp.Close()
	return c.client.Close()
}
