package convertsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"liberator/internal/config"
)

// Item is one named source text sent for conversion.
type Item struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ItemResult is one named converted text. A non-empty Error marks a
// per-item failure inside an otherwise successful batch.
type ItemResult struct {
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Operation names a conversion service endpoint.
type Operation string

const (
	OpConvertHandlers Operation = "handlers:convert"
	OpExtractPolicies Operation = "policies:extract"
)

// Service is the external conversion service. Calls are idempotent and may
// be retried by the caller.
type Service interface {
	Name() string
	// ConvertHandlers turns handler sources into route sources.
	ConvertHandlers(ctx context.Context, items []Item) ([]ItemResult, error)
	// ExtractPolicies turns migration scripts into access middlewares.
	ExtractPolicies(ctx context.Context, items []Item) ([]ItemResult, error)
}

// Call dispatches op on svc.
func Call(ctx context.Context, svc Service, op Operation, items []Item) ([]ItemResult, error) {
	switch op {
	case OpConvertHandlers:
		return svc.ConvertHandlers(ctx, items)
	case OpExtractPolicies:
		return svc.ExtractPolicies(ctx, items)
	default:
		return nil, NewPermanentError(fmt.Errorf("unknown operation %q", op))
	}
}

// ErrInvalidResponse is returned when the service answers with something
// that is not a batch of items.
var ErrInvalidResponse = errors.New("invalid response from conversion service")

// PermanentError indicates an error that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// Middleware decorates a Service with a cross-cutting concern.
type Middleware func(Service) Service

// Wrap applies middlewares in left-to-right order: Wrap(s, A, B) = A(B(s)).
func Wrap(inner Service, mws ...Middleware) Service {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// funcService adapts a single dispatch function to Service.
type funcService struct {
	name string
	call func(ctx context.Context, op Operation, items []Item) ([]ItemResult, error)
}

func (f *funcService) Name() string { return f.name }
func (f *funcService) ConvertHandlers(ctx context.Context, items []Item) ([]ItemResult, error) {
	return f.call(ctx, OpConvertHandlers, items)
}
func (f *funcService) ExtractPolicies(ctx context.Context, items []Item) ([]ItemResult, error) {
	return f.call(ctx, OpExtractPolicies, items)
}

// New builds the configured backend wrapped with cache and retry middleware.
func New(ctx context.Context, cfg config.ConvertConfig) (Service, error) {
	var (
		inner Service
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "http":
		inner, err = NewHTTPService(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	case "gemini":
		inner, err = NewGeminiService(ctx, cfg.APIKey, cfg.Model)
	default:
		err = fmt.Errorf("unknown conversion backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}
	mws := []Middleware{}
	if cfg.CacheEntries > 0 {
		cache, err := Cache(cfg.CacheEntries)
		if err != nil {
			return nil, err
		}
		mws = append(mws, cache)
	}
	mws = append(mws, Retry(cfg.MaxAttempts, backoff))
	return Wrap(inner, mws...), nil
}
