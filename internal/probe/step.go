package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeTimeout
	outcomeFailure
)

// stepOutcome is what a single navigation step yields.
type stepOutcome struct {
	step string
	kind outcomeKind
	err  error
}

func (o stepOutcome) ok() bool { return o.kind == outcomeOK }

// result converts a failed step into an error Result. Timeouts get their own
// wording so notifications can say the page did not load.
func (o stepOutcome) result() Result {
	switch o.kind {
	case outcomeTimeout:
		return Errored(fmt.Sprintf("timeout accessing page (%s)", o.step))
	case outcomeFailure:
		return Errored(fmt.Sprintf("unhandled error (%s): %v", o.step, o.err))
	default:
		return Result{}
	}
}

func outcomeOf(ctx context.Context, step string, err error) stepOutcome {
	switch {
	case err == nil:
		return stepOutcome{step: step, kind: outcomeOK}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return stepOutcome{step: step, kind: outcomeTimeout, err: err}
	default:
		return stepOutcome{step: step, kind: outcomeFailure, err: err}
	}
}

// runStep runs fn under its own timeout and tags the outcome.
func runStep(ctx context.Context, step string, timeout time.Duration, fn func(context.Context) error) stepOutcome {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return outcomeOf(sctx, step, fn(sctx))
}

// pollUntil calls cond every interval until it reports done, returns an
// error, or ctx ends.
func pollUntil(ctx context.Context, interval time.Duration, cond func(context.Context) (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
