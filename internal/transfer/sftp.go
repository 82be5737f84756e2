package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type sftpSession struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func dialSFTP(ctx context.Context, t Target, c Credentials, opts Options) (Session, error) {
	hostKey, err := hostKeyCallback(opts.KnownHostsFile)
	if err != nil {
		return nil, err
	}
	port := t.Port
	if port == 0 {
		port = 22
	}
	cfg := &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.Password(c.Password)},
		HostKeyCallback: hostKey,
		Timeout:         opts.ConnectTimeout,
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(port))
	sshc, err := sshDialContext(ctx, addr, cfg)
	if err != nil {
		return nil, err
	}
	cli, err := sftp.NewClient(sshc)
	if err != nil {
		_ = sshc.Close()
		return nil, fmt.Errorf("start sftp subsystem: %w", err)
	}
	return &sftpSession{ssh: sshc, sftp: cli}, nil
}

func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		log.Warn("no known_hosts file configured; remote host key is not verified")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts %s: %w", knownHostsFile, err)
	}
	return cb, nil
}

// sshDialContext dials with ctx honoured during the TCP connect and the
// SSH handshake.
func sshDialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			_ = conn.Close()
			done <- result{nil, err}
			return
		}
		done <- result{ssh.NewClient(c, chans, reqs), nil}
	}()
	select {
	case r := <-done:
		return r.client, r.err
	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()
	}
}

func (s *sftpSession) EnsureDir(_ context.Context, dir string) error {
	fi, err := s.sftp.Stat(dir)
	switch {
	case err == nil && fi.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("%w: %s exists and is not a directory", ErrDirectoryDenied, dir)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %s: %v", ErrDirectoryDenied, dir, err)
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	if err := s.sftp.Mkdir(dir); err != nil {
		if fi, serr := s.sftp.Stat(dir); serr == nil && fi.IsDir() {
			return nil
		}
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: %s: %v", ErrDirectoryDenied, dir, err)
		}
		return err
	}
	return nil
}

func (s *sftpSession) Write(_ context.Context, path string, data []byte) error {
	f, err := s.sftp.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *sftpSession) Close() error {
	return errors.Join(s.sftp.Close(), s.ssh.Close())
}
