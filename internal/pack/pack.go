package pack

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"liberator/internal/config"
	"liberator/internal/types"
)

// ErrPathCollision reports two layout rules targeting the same output path.
// The layout keeps rule targets disjoint, so this is a programming error.
var ErrPathCollision = errors.New("output path collision")

const (
	RoutesDir     = "backend/routes"
	MiddlewareDir = "backend/middleware"
	FrontendDir   = "frontend"
	ComposeFile   = "docker-compose.yml"
	GuideFile     = "MIGRATION_GUIDE.md"
)

// Pack assembles the deployable output tree from the source set and the
// conversion result. It is pure: the same inputs yield the same set in the
// same order.
func Pack(set *types.SourceFileSet, assets []types.DetectedAsset, res types.PartialResult, opts types.MigrationOptions, layout config.LayoutConfig) (*types.OutputFileSet, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: nil source file set", types.ErrInput)
	}
	out := types.NewFileSet()
	put := func(p string, content []byte) error {
		if out.Has(p) {
			return fmt.Errorf("%w: %s", ErrPathCollision, p)
		}
		return out.Add(p, content)
	}
	ext := opts.Ext()

	for _, r := range res.Routes {
		if !r.OK() {
			continue
		}
		if err := put(RoutesDir+"/"+r.Name+"."+ext, []byte(r.Content)); err != nil {
			return nil, err
		}
	}
	for _, m := range res.Middlewares {
		if !m.OK() {
			continue
		}
		if err := put(MiddlewareDir+"/"+m.Name+"."+ext, []byte(m.Content)); err != nil {
			return nil, err
		}
	}

	root := strings.Trim(layout.PlatformRoot, "/")
	err := set.Each(func(p string, content []byte) error {
		// A plain file named like the platform root is project source.
		if p == root || !types.HasPathPrefix(p, root) {
			return put(FrontendDir+"/"+p, content)
		}
		if !opts.IncludePlatformFolder {
			return nil
		}
		return put(p, content)
	})
	if err != nil {
		return nil, err
	}

	if len(res.Manifest) > 0 {
		if err := put(ComposeFile, res.Manifest); err != nil {
			return nil, err
		}
	}
	if err := put(GuideFile, Guide(assets, res, opts)); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"files":       out.Len(),
		"routes":      types.CountOK(res.Routes),
		"middlewares": types.CountOK(res.Middlewares),
	}).Info("packaged output")
	return out, nil
}
