package convertsvc

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// Retry retries each call up to maxAttempts with exponential backoff
// starting at baseDelay. Permanent errors and context cancellation stop it.
func Retry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next Service) Service {
		r := &retrying{next: next, max: maxAttempts, base: baseDelay}
		return &funcService{name: next.Name(), call: r.call}
	}
}

type retrying struct {
	next Service
	max  int
	base time.Duration
}

func (r *retrying) call(ctx context.Context, op Operation, items []Item) ([]ItemResult, error) {
	var last error
	for i := 0; i < r.max; i++ {
		resp, err := Call(ctx, r.next, op, items)
		if err == nil {
			return resp, nil
		}
		var pErr *PermanentError
		if errors.As(err, &pErr) {
			return nil, err
		}
		last = err
		if i == r.max-1 {
			break
		}
		delay := r.base * time.Duration(1<<i)
		log.WithFields(log.Fields{"op": op, "attempt": i + 1}).Debugf("conversion call failed, retrying in %s: %v", delay, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, last
}
