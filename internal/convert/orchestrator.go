package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grafana/regexp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"liberator/internal/classify"
	"liberator/internal/config"
	"liberator/internal/convertsvc"
	"liberator/internal/metrics"
	"liberator/internal/types"
)

// ErrHandlerConversion marks a failed handler-conversion call. It is a hard
// failure: without routes there is no backend to package.
var ErrHandlerConversion = errors.New("handler conversion failed")

// NoMiddlewaresWarning prefixes the soft-failure warning emitted when policy
// extraction fails as a whole.
const NoMiddlewaresWarning = "middlewares were not generated"

// Orchestrator groups classified assets by kind and sends each group to the
// conversion service in one batch.
type Orchestrator struct {
	svc     convertsvc.Service
	layout  config.LayoutConfig
	timeout time.Duration
}

// New creates an orchestrator. timeout bounds each remote call separately;
// zero means no per-call limit beyond ctx.
func New(svc convertsvc.Service, layout config.LayoutConfig, timeout time.Duration) *Orchestrator {
	return &Orchestrator{svc: svc, layout: layout, timeout: timeout}
}

// SelectHandlers returns the function handlers whose source path resolves
// to content in set. Config-only references are skipped.
func SelectHandlers(set *types.SourceFileSet, assets []types.DetectedAsset) []types.DetectedAsset {
	out := make([]types.DetectedAsset, 0, len(assets))
	for _, a := range assets {
		if a.Kind != types.AssetFunctionHandler || a.IsConfigReference() {
			continue
		}
		if !set.Has(a.SourcePath) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Convert runs handler conversion and policy extraction concurrently and
// merges the results by kind.
//
// The returned error wraps ErrHandlerConversion when the handler call fails;
// the partial result is still returned so callers can report it. Policy
// extraction failures only add a warning.
func (o *Orchestrator) Convert(ctx context.Context, set *types.SourceFileSet, assets []types.DetectedAsset, opts types.MigrationOptions) (types.PartialResult, error) {
	var res types.PartialResult
	if set == nil || set.Len() == 0 {
		return res, fmt.Errorf("%w: empty source file set", types.ErrInput)
	}

	handlers := SelectHandlers(set, assets)
	var migrations []convertsvc.Item
	isMigration := classify.MigrationMatcher(o.layout)
	_ = set.Each(func(p string, content []byte) error {
		if isMigration(p) {
			migrations = append(migrations, convertsvc.Item{Name: p, Content: string(content)})
		}
		return nil
	})

	var g errgroup.Group
	g.SetLimit(2)

	if opts.ConvertHandlers && len(handlers) > 0 {
		g.Go(func() error {
			routes, err := o.convertHandlers(ctx, set, handlers)
			if err != nil {
				return err
			}
			res.Routes = routes
			return nil
		})
	}
	if opts.ExtractPolicies && len(migrations) > 0 {
		g.Go(func() error {
			mws, err := o.extractPolicies(ctx, migrations)
			if err != nil {
				log.WithError(err).Warn("policy extraction failed; continuing without middlewares")
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: policy extraction failed: %v", NoMiddlewaresWarning, err))
				return nil
			}
			res.Middlewares = mws
			return nil
		})
	}
	err := g.Wait()

	for _, r := range res.All() {
		metrics.Conversions.WithLabelValues(string(r.Kind), string(r.Status)).Inc()
	}
	if err != nil {
		return res, err
	}

	if opts.GenerateCompose && types.CountOK(res.Routes) > 0 {
		manifest, err := ComposeManifest(opts, o.layout, len(migrations) > 0)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("compose manifest not generated: %v", err))
		} else {
			res.Manifest = manifest
		}
	}
	return res, nil
}

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) convertHandlers(ctx context.Context, set *types.SourceFileSet, handlers []types.DetectedAsset) ([]types.ConversionResult, error) {
	items := make([]convertsvc.Item, 0, len(handlers))
	for _, h := range handlers {
		content, _ := set.Get(h.SourcePath)
		items = append(items, convertsvc.Item{Name: h.Name, Content: string(content)})
	}

	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	log.WithField("count", len(items)).Info("converting handlers")
	out, err := o.svc.ConvertHandlers(cctx, items)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandlerConversion, err)
	}

	byName := make(map[string]convertsvc.ItemResult, len(out))
	for _, r := range out {
		if _, dup := byName[r.Name]; !dup {
			byName[r.Name] = r
		}
	}
	routes := make([]types.ConversionResult, 0, len(handlers))
	for _, h := range handlers {
		r, ok := byName[h.Name]
		routes = append(routes, toResult(types.ResultRoute, h.Name, r, ok))
	}
	return routes, nil
}

func (o *Orchestrator) extractPolicies(ctx context.Context, migrations []convertsvc.Item) ([]types.ConversionResult, error) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	log.WithField("count", len(migrations)).Info("extracting access policies")
	out, err := o.svc.ExtractPolicies(cctx, migrations)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]int, len(out))
	mws := make([]types.ConversionResult, 0, len(out))
	for _, r := range out {
		name := SafeName(r.Name)
		if name == "" {
			name = "policy"
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s-%d", name, n)
		}
		mws = append(mws, toResult(types.ResultMiddleware, name, r, true))
	}
	return mws, nil
}

func toResult(kind types.ResultKind, name string, r convertsvc.ItemResult, found bool) types.ConversionResult {
	cr := types.ConversionResult{Kind: kind, Name: name}
	switch {
	case !found:
		cr.Status = types.StatusFailed
		cr.ErrorDetail = "no result returned for item"
	case r.Error != "":
		cr.Status = types.StatusFailed
		cr.ErrorDetail = r.Error
	case strings.TrimSpace(r.Content) == "":
		cr.Status = types.StatusFailed
		cr.ErrorDetail = "empty content returned for item"
	default:
		cr.Status = types.StatusOK
		cr.Content = r.Content
	}
	return cr
}

var unsafeName = regexp.MustCompile(`[^a-z0-9_-]+`)

// SafeName lowercases s and reduces it to a file-name-safe slug.
func SafeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, ".sql")
	s = unsafeName.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
