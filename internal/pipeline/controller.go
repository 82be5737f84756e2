package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"liberator/internal/classify"
	"liberator/internal/config"
	"liberator/internal/metrics"
	"liberator/internal/pack"
	"liberator/internal/redact"
	"liberator/internal/transfer"
	"liberator/internal/types"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the run's current stage.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrBusy is returned while a remote call holds the run.
	ErrBusy = errors.New("run is busy")
)

// Converter is the conversion orchestrator as seen by the controller.
type Converter interface {
	Convert(ctx context.Context, set *types.SourceFileSet, assets []types.DetectedAsset, opts types.MigrationOptions) (types.PartialResult, error)
}

// Dispatcher is the transfer dispatcher as seen by the controller.
type Dispatcher interface {
	Dispatch(ctx context.Context, files *types.OutputFileSet, target transfer.Target, creds transfer.Credentials, progress transfer.Progress) (types.TransferSummary, error)
}

// Recorder persists a snapshot after every transition.
type Recorder interface {
	Save(ctx context.Context, run types.PipelineRun) error
}

// Deps are the collaborators shared by every controller.
type Deps struct {
	Layout     config.LayoutConfig
	Classifier *classify.Classifier
	Converter  Converter
	Dispatcher Dispatcher
	Recorder   Recorder
	// Secrets are masked in every stored error message.
	Secrets []string
}

// forward lists the allowed non-retry transitions. Failed is reachable from
// every non-terminal stage.
var forward = map[types.Stage][]types.Stage{
	types.StageUploaded:   {types.StageAnalyzed},
	types.StageAnalyzed:   {types.StageConfigured},
	types.StageConfigured: {types.StageConverting},
	types.StageConverting: {types.StageExported},
}

func canAdvance(from, to types.Stage) bool {
	if to == types.StageFailed {
		return !from.Terminal()
	}
	for _, s := range forward[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Controller owns one PipelineRun and serializes every mutation of it.
type Controller struct {
	deps Deps

	mu      sync.Mutex
	run     types.PipelineRun
	reached types.Stage
	busy    bool
	seq     int
	events  broker
}

// NewController starts a run in Uploaded for set.
func NewController(set *types.SourceFileSet, deps Deps) (*Controller, error) {
	if set == nil || set.Len() == 0 {
		return nil, fmt.Errorf("%w: empty source file set", types.ErrInput)
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.New(deps.Layout)
	}
	now := time.Now().UTC()
	c := &Controller{
		deps: deps,
		run: types.PipelineRun{
			ID:        uuid.NewString(),
			CreatedAt: now,
			UpdatedAt: now,
			Stage:     types.StageUploaded,
			Source:    set,
		},
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commit(types.StageUploaded, types.StageUploaded, fmt.Sprintf("ingested %d files", set.Len()))
	return c, nil
}

// ID returns the run id.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run.ID
}

// Stage returns the current stage.
func (c *Controller) Stage() types.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run.Stage
}

// Snapshot returns a copy of the run safe to read concurrently.
func (c *Controller) Snapshot() types.PipelineRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() types.PipelineRun {
	r := c.run
	r.DetectedAssets = append([]types.DetectedAsset(nil), r.DetectedAssets...)
	r.ConversionResults = append([]types.ConversionResult(nil), r.ConversionResults...)
	r.MiddlewareResults = append([]types.ConversionResult(nil), r.MiddlewareResults...)
	r.Warnings = append([]string(nil), r.Warnings...)
	if r.Options != nil {
		o := *r.Options
		r.Options = &o
	}
	if r.LastTransfer != nil {
		t := *r.LastTransfer
		t.Outcomes = append([]types.TransferOutcome(nil), t.Outcomes...)
		r.LastTransfer = &t
	}
	return r
}

// Output returns the packaged set once the run is Exported.
func (c *Controller) Output() (*types.OutputFileSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run.Output, c.run.Stage == types.StageExported && c.run.Output != nil
}

// Subscribe returns an ordered stream of stage events and a cancel func.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.subscribe(buffer)
}

// Analyze runs the pattern classifier: Uploaded -> Analyzed.
func (c *Controller) Analyze(ctx context.Context) ([]types.DetectedAsset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(types.StageAnalyzed); err != nil {
		return nil, err
	}
	assets := c.deps.Classifier.Classify(c.run.Source)
	for _, a := range assets {
		kind := a.Kind
		if a.IsConfigReference() {
			kind = types.AssetFunctionHandler
		}
		metrics.AssetsDetected.WithLabelValues(string(kind)).Inc()
	}
	c.run.DetectedAssets = assets
	c.commit(c.run.Stage, types.StageAnalyzed, fmt.Sprintf("detected %d assets", len(assets)))
	c.save(ctx)
	return append([]types.DetectedAsset(nil), assets...), nil
}

// Configure records the user-confirmed options: Analyzed -> Configured.
func (c *Controller) Configure(ctx context.Context, opts types.MigrationOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(types.StageConfigured); err != nil {
		return err
	}
	c.run.Options = &opts
	c.commit(c.run.Stage, types.StageConfigured, "")
	c.save(ctx)
	return nil
}

// Convert runs conversion and packaging: Configured -> Converting ->
// Exported. A hard failure moves the run to Failed, leaves no output and
// is returned. Soft failures end up in the run's warnings.
func (c *Controller) Convert(ctx context.Context) error {
	c.mu.Lock()
	if err := c.check(types.StageConverting); err != nil {
		c.mu.Unlock()
		return err
	}
	c.commit(c.run.Stage, types.StageConverting, "")
	c.busy = true
	set, assets, opts := c.run.Source, c.run.DetectedAssets, *c.run.Options
	c.save(ctx)
	c.mu.Unlock()

	res, err := c.deps.Converter.Convert(ctx, set, assets, opts)
	var out *types.OutputFileSet
	if err == nil {
		out, err = pack.Pack(set, assets, res, opts, c.deps.Layout)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	c.run.ConversionResults = res.Routes
	c.run.MiddlewareResults = res.Middlewares
	c.run.Conversion = &res
	c.run.Warnings = append(c.run.Warnings, res.Warnings...)
	if err != nil {
		err = c.failLocked(err)
		c.save(ctx)
		return err
	}
	c.run.Output = out
	c.commit(types.StageConverting, types.StageExported, fmt.Sprintf("converted %d of %d handlers", types.CountOK(res.Routes), len(res.Routes)))
	c.save(ctx)
	return nil
}

// Dispatch pushes the packaged output to target. It is only allowed once
// the run is Exported and does not change the stage.
func (c *Controller) Dispatch(ctx context.Context, target transfer.Target, creds transfer.Credentials, progress transfer.Progress) (types.TransferSummary, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return types.TransferSummary{}, ErrBusy
	}
	if c.run.Stage != types.StageExported || c.run.Output == nil {
		stage := c.run.Stage
		c.mu.Unlock()
		return types.TransferSummary{}, fmt.Errorf("%w: dispatch requires %s, run is %s", ErrInvalidTransition, types.StageExported, stage)
	}
	if c.deps.Dispatcher == nil {
		c.mu.Unlock()
		return types.TransferSummary{}, fmt.Errorf("%w: no dispatcher configured", types.ErrInput)
	}
	c.busy = true
	out := c.run.Output
	c.mu.Unlock()

	sum, err := c.deps.Dispatcher.Dispatch(ctx, out, target, creds, progress)

	secrets := append(append([]string(nil), c.deps.Secrets...), creds.Secrets()...)
	sum = redact.Summary(sum, secrets...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if sum.Mode != "" {
		s := sum
		c.run.LastTransfer = &s
	}
	msg := fmt.Sprintf("transfer %s: %d of %d succeeded", sum.Mode, sum.SucceededCount, sum.TotalFiles)
	if err != nil {
		err = redact.Error(err, secrets...)
		msg = "transfer failed: " + err.Error()
	}
	c.commit(c.run.Stage, c.run.Stage, msg)
	c.save(ctx)
	return sum, err
}

// RetryFrom resets the run to stage and clears everything produced after
// it. Only Uploaded, Analyzed and Configured are valid targets, and only
// once the run has reached them.
func (c *Controller) RetryFrom(ctx context.Context, stage types.Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	switch stage {
	case types.StageUploaded, types.StageAnalyzed, types.StageConfigured:
	default:
		return fmt.Errorf("%w: cannot retry from %s", ErrInvalidTransition, stage)
	}
	if stage > c.reached {
		return fmt.Errorf("%w: run never reached %s", ErrInvalidTransition, stage)
	}

	r := &c.run
	if stage < types.StageAnalyzed {
		r.DetectedAssets = nil
	}
	if stage < types.StageConfigured {
		r.Options = nil
	}
	r.ConversionResults = nil
	r.MiddlewareResults = nil
	r.Conversion = nil
	r.Output = nil
	r.Warnings = nil
	r.LastError = ""
	r.LastTransfer = nil
	c.reached = stage

	from := r.Stage
	c.commit(from, stage, "retry from "+stage.String())
	c.save(ctx)
	return nil
}

// check validates a forward transition and the busy flag. Caller holds mu.
func (c *Controller) check(to types.Stage) error {
	if c.busy {
		return ErrBusy
	}
	if !canAdvance(c.run.Stage, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.run.Stage, to)
	}
	return nil
}

// failLocked moves the run to Failed and returns err with its message
// redacted. Caller holds mu.
func (c *Controller) failLocked(err error) error {
	err = redact.Error(err, c.deps.Secrets...)
	msg := err.Error()
	c.run.LastError = msg
	c.run.Output = nil
	from := c.run.Stage
	log.WithFields(log.Fields{"run": c.run.ID, "stage": from}).Error(msg)
	c.commit(from, types.StageFailed, msg)
	return err
}

// commit applies a stage change and publishes its event. Caller holds mu.
func (c *Controller) commit(from, to types.Stage, msg string) {
	c.run.Stage = to
	c.run.UpdatedAt = time.Now().UTC()
	if to != types.StageFailed && to > c.reached {
		c.reached = to
	}
	c.seq++
	if from != to {
		metrics.StageTransitions.WithLabelValues(to.String()).Inc()
		log.WithFields(log.Fields{"run": c.run.ID, "stage": to}).Infof("stage %s -> %s", from, to)
	}
	c.events.publish(Event{RunID: c.run.ID, Seq: c.seq, From: from, To: to, At: c.run.UpdatedAt, Message: msg})
}

func (c *Controller) save(ctx context.Context) {
	if c.deps.Recorder == nil {
		return
	}
	if err := c.deps.Recorder.Save(ctx, c.snapshotLocked()); err != nil {
		log.WithField("run", c.run.ID).WithError(err).Warn("saving run snapshot failed")
	}
}

// Liberate runs Analyze, Configure and Convert in sequence.
func (c *Controller) Liberate(ctx context.Context, opts types.MigrationOptions) error {
	if _, err := c.Analyze(ctx); err != nil {
		return err
	}
	if err := c.Configure(ctx, opts); err != nil {
		return err
	}
	return c.Convert(ctx)
}
