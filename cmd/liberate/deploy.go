package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"liberator/internal/archive"
	"liberator/internal/redact"
	"liberator/internal/transfer"
	"liberator/internal/types"
)

// newDispatcher is swapped in tests.
var newDispatcher = transfer.New

var deployCmd = &cobra.Command{
	Use:   "deploy <archive>",
	Short: "Push a packaged archive to a host or a deployment orchestrator",
	Long: `deploy uploads every file of a packaged archive, either directly over
ftp, ftps, sftp or webdav, or as a single submission to a deployment
orchestrator. Passwords and tokens may also come from
LIBERATE_DEPLOY_PASSWORD and LIBERATE_DEPLOY_TOKEN.

Files that fail individually are listed in the summary and do not change
the exit status. The command exits non-zero only when the session cannot
be opened, the transfer is cancelled, or the orchestrator rejects the
deployment.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

func init() {
	f := deployCmd.Flags()
	f.String("target", "ftp", "ftp, ftps, sftp, webdav or orchestrated")
	f.String("host", "", "remote host")
	f.Int("port", 0, "remote port (protocol default when 0)")
	f.String("user", "", "remote user")
	f.String("password", "", "remote password")
	f.String("remote-dir", "", "remote directory prefixed to every path")
	f.String("server-id", "", "orchestrated: target server id")
	f.String("endpoint", "", "orchestrated: orchestrator base URL")
	f.String("token", "", "orchestrated: bearer token")
	f.String("project", "", "orchestrated: project name")
	for key, flag := range map[string]string{"deploy.password": "password", "deploy.token": "token"} {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// targetFromFlags builds the transfer target and credentials. Orchestrator
// endpoint and token fall back to the configuration.
func targetFromFlags(cmd *cobra.Command) (transfer.Target, transfer.Credentials, error) {
	f := cmd.Flags()
	kind, _ := f.GetString("target")
	var t transfer.Target
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "orchestrated":
		t.Mode = transfer.ModeOrchestrated
	case string(transfer.ProtocolFTP), string(transfer.ProtocolFTPS), string(transfer.ProtocolSFTP), string(transfer.ProtocolWebDAV):
		t.Mode = transfer.ModeDirect
		t.Protocol = transfer.Protocol(strings.ToLower(strings.TrimSpace(kind)))
	default:
		return t, transfer.Credentials{}, fmt.Errorf("%w: unknown target %q", types.ErrInput, kind)
	}
	t.Host, _ = f.GetString("host")
	t.Port, _ = f.GetInt("port")
	t.RemoteDir, _ = f.GetString("remote-dir")
	t.ServerID, _ = f.GetString("server-id")
	t.Endpoint, _ = f.GetString("endpoint")
	t.ProjectName, _ = f.GetString("project")
	if t.Endpoint == "" {
		t.Endpoint = cfg.Orchestrator.Endpoint
	}

	creds := transfer.Credentials{
		Password: v.GetString("deploy.password"),
		Token:    v.GetString("deploy.token"),
	}
	creds.User, _ = f.GetString("user")
	if creds.Token == "" {
		creds.Token = cfg.Orchestrator.Token
	}
	return t, creds, nil
}

func runDeploy(cmd *cobra.Command, args []string) error {
	target, creds, err := targetFromFlags(cmd)
	if err != nil {
		return err
	}
	files, err := archive.ReadZipFile(args[0], archive.ReadOptions{})
	if err != nil {
		return err
	}

	masked := append(secrets(cfg), creds.Secrets()...)
	progress, finish := progressBar(cmd, files.Len(), masked)
	sum, err := newDispatcher(cfg.Transfer, cfg.Orchestrator).Dispatch(cmd.Context(), files, target, creds, progress)
	finish(err == nil)
	sum = redact.Summary(sum, masked...)
	err = redact.Error(err, masked...)
	if err != nil && len(sum.Outcomes) == 0 {
		return err
	}

	if perr := emit(cmd.OutOrStdout(), sum, func(w io.Writer) { printTransfer(w, sum) }); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	if sum.Mode == string(transfer.ModeOrchestrated) && sum.SucceededCount == 0 {
		return fmt.Errorf("deployment was not accepted")
	}
	return nil
}

// progressBar renders one bar over the transfer on stderr. It is disabled
// for JSON output.
func progressBar(cmd *cobra.Command, total int, masked []string) (transfer.Progress, func(completed bool)) {
	if outputJSON {
		return nil, func(bool) {}
	}
	p := mpb.NewWithContext(cmd.Context(), mpb.WithOutput(os.Stderr))
	prev := log.StandardLogger().Out
	log.SetOutput(p)
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("upload", decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done")),
	)
	progress := func(done, n int, o types.TransferOutcome) {
		if !o.Succeeded {
			log.WithField("path", o.RelativePath).Warn(redact.Message(o.ErrorDetail, masked...))
		}
		if n != total {
			bar.SetTotal(int64(n), false)
		}
		bar.SetCurrent(int64(done))
	}
	finish := func(completed bool) {
		if !completed || !bar.Completed() {
			bar.Abort(false)
		}
		p.Wait()
		log.SetOutput(prev)
	}
	return progress, finish
}

func printTransfer(w io.Writer, sum types.TransferSummary) {
	fmt.Fprintf(w, "%s transfer", sum.Mode)
	if sum.Provider != "" {
		fmt.Fprintf(w, " to %s", sum.Provider)
	}
	fmt.Fprintf(w, ": %d of %d succeeded\n", sum.SucceededCount, sum.TotalFiles)
	if sum.PayloadFiles > 0 {
		fmt.Fprintf(w, "submitted %d files\n", sum.PayloadFiles)
	}
	for _, o := range sum.Outcomes {
		if !o.Succeeded {
			fmt.Fprintf(w, "  failed  %s: %s\n", o.RelativePath, o.ErrorDetail)
		}
	}
	if sum.Cancelled {
		fmt.Fprintln(w, "cancelled before all files were sent")
	}
}
