package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"liberator/internal/config"
	"liberator/internal/metrics"
	"liberator/internal/redact"
	"liberator/internal/types"
)

var (
	// ErrDirectoryDenied is returned by Session.EnsureDir when the directory
	// is missing and cannot be created. "Already exists" is never an error.
	ErrDirectoryDenied = errors.New("remote directory not writable")
	// ErrSessionAborted fails the remaining files once a write has timed out
	// on the single remote session.
	ErrSessionAborted = errors.New("remote session aborted")
	errWriteTimeout   = errors.New("remote write timed out")
)

type Mode string

const (
	ModeDirect       Mode = "direct"
	ModeOrchestrated Mode = "orchestrated"
)

type Protocol string

const (
	ProtocolFTP    Protocol = "ftp"
	ProtocolFTPS   Protocol = "ftps"
	ProtocolSFTP   Protocol = "sftp"
	ProtocolWebDAV Protocol = "webdav"
)

// Target identifies where the output set goes.
type Target struct {
	Mode     Mode     `json:"mode"`
	Protocol Protocol `json:"protocol,omitempty"`
	Host     string   `json:"host,omitempty"`
	Port     int      `json:"port,omitempty"`
	// RemoteDir is prefixed to every relative path in direct mode.
	RemoteDir string `json:"remoteDir,omitempty"`

	// Orchestrated mode.
	ServerID    string `json:"serverId,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	ProjectName string `json:"projectName,omitempty"`
}

// Credentials are held only for the duration of one Dispatch call.
type Credentials struct {
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Secrets returns the non-empty credential values, for redaction.
func (c Credentials) Secrets() []string {
	var out []string
	for _, s := range []string{c.Password, c.Token} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Session is one authenticated remote file-transfer session. Sessions are
// not safe for concurrent use; the dispatcher writes sequentially.
type Session interface {
	// EnsureDir creates dir if it is missing. An existing directory is not
	// an error; anything else wraps ErrDirectoryDenied or is returned as is.
	EnsureDir(ctx context.Context, dir string) error
	Write(ctx context.Context, path string, data []byte) error
	Close() error
}

// Dialer opens a session. ctx carries the connection-level timeout.
type Dialer func(ctx context.Context, t Target, c Credentials, opts Options) (Session, error)

// Progress is called once per recorded outcome.
type Progress func(done, total int, o types.TransferOutcome)

// Options tune remote calls.
type Options struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	CloseGrace     time.Duration
	KnownHostsFile string
}

// Dispatcher pushes output sets to remote targets.
type Dispatcher struct {
	opts    Options
	orch    config.OrchestratorConfig
	dialers map[Protocol]Dialer
	http    *http.Client
}

// New creates a dispatcher with the ftp, ftps, sftp and webdav dialers.
func New(tc config.TransferConfig, oc config.OrchestratorConfig) *Dispatcher {
	timeout := oc.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if tc.ConnectTimeout <= 0 {
		tc.ConnectTimeout = 20 * time.Second
	}
	if tc.CloseGrace <= 0 {
		tc.CloseGrace = 5 * time.Second
	}
	return &Dispatcher{
		opts: Options{
			ConnectTimeout: tc.ConnectTimeout,
			WriteTimeout:   tc.WriteTimeout,
			CloseGrace:     tc.CloseGrace,
			KnownHostsFile: tc.KnownHostsFile,
		},
		orch: oc,
		dialers: map[Protocol]Dialer{
			ProtocolFTP:    dialFTP,
			ProtocolFTPS:   dialFTP,
			ProtocolSFTP:   dialSFTP,
			ProtocolWebDAV: dialWebDAV,
		},
		http: &http.Client{Timeout: timeout},
	}
}

// WithDialer replaces the dialer used for p.
func (d *Dispatcher) WithDialer(p Protocol, dial Dialer) *Dispatcher {
	d.dialers[p] = dial
	return d
}

// Dispatch sends files to target and returns one outcome per attempted file
// (direct mode) or one aggregate outcome (orchestrated mode).
//
// Per-file failures never abort the batch. Cancelling ctx lets the in-flight
// write finish and stops before the next file; the summary then carries
// only the files attempted so far and ctx.Err() is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, files *types.OutputFileSet, target Target, creds Credentials, progress Progress) (types.TransferSummary, error) {
	if files == nil || files.Len() == 0 {
		return types.TransferSummary{}, fmt.Errorf("%w: nothing to transfer", types.ErrInput)
	}
	switch target.Mode {
	case ModeOrchestrated:
		return d.dispatchOrchestrated(ctx, files, target, creds, progress)
	case ModeDirect, "":
		return d.dispatchDirect(ctx, files, target, creds, progress)
	default:
		return types.TransferSummary{}, fmt.Errorf("%w: unknown transfer mode %q", types.ErrInput, target.Mode)
	}
}

func (d *Dispatcher) dispatchDirect(ctx context.Context, files *types.OutputFileSet, target Target, creds Credentials, progress Progress) (types.TransferSummary, error) {
	dial, ok := d.dialers[target.Protocol]
	switch {
	case !ok:
		return types.TransferSummary{}, fmt.Errorf("%w: unsupported protocol %q", types.ErrInput, target.Protocol)
	case strings.TrimSpace(target.Host) == "":
		return types.TransferSummary{}, fmt.Errorf("%w: remote host is required", types.ErrInput)
	case creds.User == "" || creds.Password == "":
		return types.TransferSummary{}, fmt.Errorf("%w: user and password are required", types.ErrInput)
	}

	sum := types.TransferSummary{
		Mode:       string(ModeDirect),
		Provider:   InferProvider(target.Host),
		TotalFiles: files.Len(),
	}
	logger := log.WithFields(log.Fields{"host": target.Host, "protocol": target.Protocol, "provider": sum.Provider})

	dctx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
	sess, err := dial(dctx, target, creds, d.opts)
	cancel()
	if err != nil {
		return sum, redact.Error(fmt.Errorf("connect %s: %w", target.Host, err), creds.Secrets()...)
	}
	guard := &guardedSession{sess: sess, timeout: d.opts.WriteTimeout}
	defer guard.close(d.opts.CloseGrace, logger)
	logger.WithField("files", files.Len()).Info("remote session open")

	var (
		ensured = map[string]bool{}
		aborted bool
	)
	for _, rel := range files.Paths() {
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}
		content, _ := files.Get(rel)
		remote := remotePath(target.RemoteDir, rel)

		var err error
		if aborted {
			err = ErrSessionAborted
		} else {
			err = pushFile(ctx, guard, remote, content, ensured)
			if errors.Is(err, errWriteTimeout) {
				aborted = true
				logger.WithField("file", rel).Error("write timed out; aborting session")
			}
		}

		o := types.TransferOutcome{RelativePath: rel, Succeeded: err == nil}
		if err != nil {
			o.ErrorDetail = redact.Message(err.Error(), creds.Secrets()...)
			logger.WithFields(log.Fields{"file": rel, "error": o.ErrorDetail}).Warn("file transfer failed")
		}
		sum.Record(o)
		metrics.TransferFiles.WithLabelValues(sum.Mode, metrics.StatusLabel(o.Succeeded)).Inc()
		if progress != nil {
			progress(len(sum.Outcomes), sum.TotalFiles, o)
		}
	}

	logger.WithFields(log.Fields{"succeeded": sum.SucceededCount, "attempted": len(sum.Outcomes)}).Info("transfer finished")
	if sum.Cancelled {
		return sum, ctx.Err()
	}
	return sum, nil
}

func pushFile(ctx context.Context, g *guardedSession, remote string, content []byte, ensured map[string]bool) error {
	for _, dir := range parentDirs(remote) {
		if ensured[dir] {
			continue
		}
		if err := g.do(ctx, func(ctx context.Context) error { return g.sess.EnsureDir(ctx, dir) }); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
		ensured[dir] = true
	}
	return g.do(ctx, func(ctx context.Context) error { return g.sess.Write(ctx, remote, content) })
}

// guardedSession keeps calls on one Session strictly sequential. A call that
// outlives the write timeout is abandoned but still owns the session: no
// later call runs and Close waits for it.
type guardedSession struct {
	sess    Session
	timeout time.Duration
	// pending receives the result of the abandoned call.
	pending chan error
}

// do runs fn under the write timeout. The call is detached from ctx
// cancellation so an in-flight write is never cut short.
func (g *guardedSession) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.pending != nil {
		return ErrSessionAborted
	}
	wctx := context.WithoutCancel(ctx)
	var timeout <-chan time.Time
	if g.timeout > 0 {
		t := time.NewTimer(g.timeout)
		defer t.Stop()
		timeout = t.C
	}
	done := make(chan error, 1)
	go func() { done <- fn(wctx) }()
	select {
	case err := <-done:
		return err
	case <-timeout:
		g.pending = done
		return errWriteTimeout
	}
}

// close closes the session exactly once, never while a call is running on
// it. If an abandoned call outlasts grace, closing is handed to a goroutine
// that waits for the call to return.
func (g *guardedSession) close(grace time.Duration, logger *log.Entry) {
	if g.pending != nil {
		select {
		case <-g.pending:
		case <-time.After(grace):
			logger.Warn("abandoned remote call still running; session closes when it returns")
			go func() {
				<-g.pending
				closeSession(g.sess, logger)
			}()
			return
		}
	}
	closeSession(g.sess, logger)
}

func closeSession(sess Session, logger *log.Entry) {
	if err := sess.Close(); err != nil {
		logger.WithError(err).Warn("closing remote session failed")
	}
}

func remotePath(root, rel string) string {
	root = strings.TrimSpace(root)
	if root == "" {
		return rel
	}
	return path.Join(root, rel)
}

// parentDirs returns every ancestor directory of p, outermost first.
func parentDirs(p string) []string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return nil
	}
	var out []string
	for dir != "." && dir != "/" {
		out = append(out, dir)
		dir = path.Dir(dir)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
