package transfer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"

	"github.com/jlaffaye/ftp"
)

// statusDirExists is the non-standard "directory already exists" reply
// some servers send for MKD.
const statusDirExists = 521

type ftpSession struct {
	conn *ftp.ServerConn
}

func dialFTP(ctx context.Context, t Target, c Credentials, opts Options) (Session, error) {
	port := t.Port
	if port == 0 {
		port = 21
	}
	dialOpts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(opts.ConnectTimeout),
	}
	if t.Protocol == ProtocolFTPS {
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: t.Host,
			MinVersion: tls.VersionTLS12,
		}))
	}
	conn, err := ftp.Dial(net.JoinHostPort(t.Host, strconv.Itoa(port)), dialOpts...)
	if err != nil {
		return nil, err
	}
	if err := conn.Login(c.User, c.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("login: %w", err)
	}
	return &ftpSession{conn: conn}, nil
}

func (s *ftpSession) EnsureDir(_ context.Context, dir string) error {
	err := s.conn.MakeDir(dir)
	if err == nil {
		return nil
	}
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		return err
	}
	switch tpErr.Code {
	case statusDirExists:
		return nil
	case ftp.StatusFileUnavailable:
		// 550 covers both "exists" and "denied"; tell them apart by entering it.
		if s.isDir(dir) {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", ErrDirectoryDenied, dir, err)
	default:
		return err
	}
}

func (s *ftpSession) isDir(dir string) bool {
	cwd, err := s.conn.CurrentDir()
	if err != nil {
		return false
	}
	if err := s.conn.ChangeDir(dir); err != nil {
		return false
	}
	_ = s.conn.ChangeDir(cwd)
	return true
}

func (s *ftpSession) Write(_ context.Context, path string, data []byte) error {
	return s.conn.Stor(path, bytes.NewReader(data))
}

func (s *ftpSession) Close() error {
	return s.conn.Quit()
}
