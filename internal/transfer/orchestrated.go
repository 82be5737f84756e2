package transfer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"liberator/internal/metrics"
	"liberator/internal/redact"
	"liberator/internal/types"
)

type deployFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type deployRequest struct {
	TargetID      string       `json:"targetId"`
	ProjectName   string       `json:"projectName"`
	ServerAddress string       `json:"serverAddress,omitempty"`
	Files         []deployFile `json:"files"`
}

type deployResponse struct {
	Status       string `json:"status"`
	DeploymentID string `json:"deploymentId,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
}

var acceptedStatuses = map[string]bool{"accepted": true, "deploying": true, "queued": true}

// dispatchOrchestrated submits the whole set in one request. The summary
// carries a single aggregate outcome at relative path ".".
func (d *Dispatcher) dispatchOrchestrated(ctx context.Context, files *types.OutputFileSet, target Target, creds Credentials, progress Progress) (types.TransferSummary, error) {
	endpoint := strings.TrimRight(firstNonEmpty(target.Endpoint, d.orch.Endpoint), "/")
	token := firstNonEmpty(creds.Token, d.orch.Token)
	switch {
	case endpoint == "":
		return types.TransferSummary{}, fmt.Errorf("%w: orchestration endpoint is required", types.ErrInput)
	case strings.TrimSpace(target.ServerID) == "":
		return types.TransferSummary{}, fmt.Errorf("%w: target server id is required", types.ErrInput)
	case token == "":
		return types.TransferSummary{}, fmt.Errorf("%w: orchestration token is required", types.ErrInput)
	}

	req := deployRequest{
		TargetID:      target.ServerID,
		ProjectName:   target.ProjectName,
		ServerAddress: target.Host,
		Files:         make([]deployFile, 0, files.Len()),
	}
	_ = files.Each(func(p string, content []byte) error {
		req.Files = append(req.Files, encodeFile(p, content))
		return nil
	})

	sum := types.TransferSummary{
		Mode:         string(ModeOrchestrated),
		TotalFiles:   1,
		PayloadFiles: files.Len(),
	}
	if target.Host != "" {
		sum.Provider = InferProvider(target.Host)
	}

	o := types.TransferOutcome{RelativePath: "."}
	if err := d.submit(ctx, endpoint+"/api/v1/deploy", token, req); err != nil {
		o.ErrorDetail = redact.Message(err.Error(), append(creds.Secrets(), token)...)
		log.WithField("target", target.ServerID).WithField("error", o.ErrorDetail).Warn("orchestrated deployment rejected")
	} else {
		o.Succeeded = true
		log.WithFields(log.Fields{"target": target.ServerID, "files": files.Len()}).Info("orchestrated deployment accepted")
	}
	sum.Record(o)
	metrics.TransferFiles.WithLabelValues(sum.Mode, metrics.StatusLabel(o.Succeeded)).Inc()
	if progress != nil {
		progress(1, 1, o)
	}
	return sum, nil
}

func (d *Dispatcher) submit(ctx context.Context, url, token string, body deployRequest) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var out deployResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := firstNonEmpty(out.Error, out.Message, strings.TrimSpace(string(raw)))
		if len(msg) > 2048 {
			msg = msg[:2048]
		}
		return fmt.Errorf("orchestrator: unexpected status %s: %s", resp.Status, msg)
	}
	if !acceptedStatuses[strings.ToLower(out.Status)] {
		return fmt.Errorf("orchestrator: deployment not accepted (status %q): %s", out.Status, firstNonEmpty(out.Error, out.Message))
	}
	return nil
}

func encodeFile(p string, content []byte) deployFile {
	if utf8.Valid(content) {
		return deployFile{Path: p, Content: string(content), Encoding: "utf-8"}
	}
	return deployFile{Path: p, Content: base64.StdEncoding.EncodeToString(content), Encoding: "base64"}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
