package transfer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/studio-b12/gowebdav"
)

type webdavSession struct {
	c *gowebdav.Client
}

func dialWebDAV(ctx context.Context, t Target, c Credentials, opts Options) (Session, error) {
	cli := gowebdav.NewClient(webdavURL(t), c.User, c.Password)
	cli.SetTimeout(opts.ConnectTimeout)

	done := make(chan error, 1)
	go func() { done <- cli.Connect() }()
	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if opts.WriteTimeout > 0 {
		cli.SetTimeout(opts.WriteTimeout)
	}
	return &webdavSession{c: cli}, nil
}

func webdavURL(t Target) string {
	host := strings.TrimRight(t.Host, "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if t.Port != 0 {
		host = net.JoinHostPort(host, strconv.Itoa(t.Port))
	}
	return "https://" + host
}

func (s *webdavSession) EnsureDir(_ context.Context, dir string) error {
	err := s.c.Mkdir(dir, 0o755)
	switch {
	case err == nil:
		return nil
	case gowebdav.IsErrCode(err, http.StatusMethodNotAllowed):
		// MKCOL on an existing collection
		return nil
	case gowebdav.IsErrCode(err, http.StatusForbidden), gowebdav.IsErrCode(err, http.StatusUnauthorized):
		return fmt.Errorf("%w: %s: %v", ErrDirectoryDenied, dir, err)
	default:
		return err
	}
}

func (s *webdavSession) Write(_ context.Context, path string, data []byte) error {
	return s.c.Write(path, data, 0o644)
}

func (s *webdavSession) Close() error { return nil }
