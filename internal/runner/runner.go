// Package runner sequences one availability check: probe, then notification.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazz-dev/slotprobe/internal/notify"
	"github.com/hazz-dev/slotprobe/internal/probe"
)

// ErrProbeCrashed is returned when the probe panics past its own recovery.
// No notification is sent in that case.
var ErrProbeCrashed = errors.New("probe crashed")

// Messages sent for each outcome.
const (
	TextNoSlots = "there are no available hours"
	TextSlots   = "There are hours available"
	TextError   = "Error validating hour availability"
)

// notifyTimeout bounds delivery independently of the probe's run timeout.
const notifyTimeout = time.Minute

// State is a step of the run state machine.
type State string

const (
	StateInit     State = "init"
	StateProbing  State = "probing"
	StateFound    State = "found"
	StateNotFound State = "not_found"
	StateError    State = "error"
	StateNotified State = "notified"
	StateDone     State = "done"
)

// Prober runs one probe.
type Prober interface {
	Run(ctx context.Context) probe.Result
}

// Runner performs a single run. Build a new one per run.
type Runner struct {
	prober     Prober
	notifier   notify.Notifier
	runTimeout time.Duration
	logger     *slog.Logger
	state      State
}

// New creates a Runner. A zero runTimeout leaves probing unbounded by the
// runner. Pass nil logger to use the default logger.
func New(p Prober, n notify.Notifier, runTimeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		prober:     p,
		notifier:   n,
		runTimeout: runTimeout,
		logger:     logger.With("component", "runner"),
		state:      StateInit,
	}
}

// State returns the state the run reached.
func (r *Runner) State() State {
	return r.state
}

// MessageFor maps a probe result to the message sent for it, carrying the
// result's screenshot.
func MessageFor(res probe.Result) notify.Message {
	switch res.Status {
	case probe.StatusFound:
		// The "no appointments" marker was on the page.
		return notify.Message{Text: TextNoSlots, Evidence: res.Evidence, Debug: true}
	case probe.StatusNotFound:
		return notify.Message{Text: TextSlots, Evidence: res.Evidence, Debug: false}
	default:
		text := TextError
		if res.Detail != "" {
			text += ": " + res.Detail
		}
		return notify.Message{Text: text, Evidence: res.Evidence, Debug: true}
	}
}

func stateFor(s probe.Status) State {
	switch s {
	case probe.StatusFound:
		return StateFound
	case probe.StatusNotFound:
		return StateNotFound
	default:
		return StateError
	}
}

// Run probes the page and notifies the outcome. It returns ErrProbeCrashed
// when the probe panicked, or the notifier's error.
func (r *Runner) Run(ctx context.Context) error {
	res, err := r.probe(ctx)
	if err != nil {
		r.transition(StateError)
		r.logger.Error("probe invocation failed", "error", err)
		return err
	}
	r.transition(stateFor(res.Status))

	switch res.Status {
	case probe.StatusFound:
		r.logger.Info("there are no available hours")
	case probe.StatusNotFound:
		r.logger.Info("there may be available hours")
	default:
		r.logger.Warn("availability check failed", "detail", res.Detail)
	}

	msg := MessageFor(res)
	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := r.notifier.Notify(nctx, msg); err != nil {
		r.logger.Error("notifying result", "error", err)
		return fmt.Errorf("notifying result: %w", err)
	}
	r.transition(StateNotified)
	r.transition(StateDone)
	return nil
}

func (r *Runner) probe(ctx context.Context) (res probe.Result, err error) {
	r.transition(StateProbing)
	if r.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.runTimeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrProbeCrashed, rec)
		}
	}()
	return r.prober.Run(ctx), nil
}

func (r *Runner) transition(to State) {
	r.logger.Debug("run state changed", "from", r.state, "to", to)
	r.state = to
}
