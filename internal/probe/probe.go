// Package probe checks the consulate booking page for open appointment slots.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazz-dev/slotprobe/internal/browser"
	"github.com/hazz-dev/slotprobe/internal/config"
	"github.com/hazz-dev/slotprobe/internal/evidence"
)

const (
	// PassportLinkText is the link on the consulate page that opens the booking widget.
	PassportLinkText = "Cita Pasaportes"

	// NoSlotsText is the exact message the booking widget renders when nothing is bookable.
	NoSlotsText = "No hay horas disponibles.\nInténtelo de nuevo dentro de unos días."
)

var (
	captchaButton     = browser.ID("idCaptchaButton")
	servicesContainer = browser.ID("idBktDefaultServicesContainer")
	servicesRegion    = browser.ID("idDivBktServicesContainer")
)

const screenshotTimeout = 10 * time.Second

// Policy holds the timing knobs of a probe run.
type Policy struct {
	NavigationTimeout   time.Duration
	NavigationRetries   int
	InterstitialTimeout time.Duration
	InterstitialPoll    time.Duration
	PollInterval        time.Duration
	MaxPoll             time.Duration
	// ClassifyOnExpiry classifies whatever is rendered when MaxPoll elapses
	// instead of reporting a timeout.
	ClassifyOnExpiry bool
}

// PolicyFromConfig converts the probe section of the config.
func PolicyFromConfig(c config.ProbeConfig) Policy {
	return Policy{
		NavigationTimeout:   c.NavigationTimeout.Duration,
		NavigationRetries:   c.NavigationRetries,
		InterstitialTimeout: c.InterstitialTimeout.Duration,
		InterstitialPoll:    c.InterstitialPoll.Duration,
		PollInterval:        c.PollInterval.Duration,
		MaxPoll:             c.MaxPoll.Duration,
		ClassifyOnExpiry:    c.PollExpiry == config.ExpiryClassify,
	}
}

// Probe drives one browser session through the booking page and classifies it.
type Probe struct {
	url    string
	launch browser.Launcher
	store  evidence.Store
	policy Policy
	logger *slog.Logger
}

// New creates a Probe. Pass nil logger to use the default logger.
func New(url string, launch browser.Launcher, store evidence.Store, policy Policy, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		url:    url,
		launch: launch,
		store:  store,
		policy: policy,
		logger: logger.With("component", "probe"),
	}
}

// Run performs one probe. It never panics and always returns a Result; the
// browser is released before it returns.
func (p *Probe) Run(ctx context.Context) Result {
	start := time.Now()

	if err := p.store.Clear(); err != nil {
		p.logger.Warn("clearing stale screenshot", "error", err)
	}

	sess, err := p.launch(ctx)
	if err != nil {
		p.logger.Error("starting browser", "error", err)
		return Errored(fmt.Sprintf("unable to start browser: %v", err))
	}
	defer func() {
		if err := sess.Close(); err != nil {
			p.logger.Warn("closing browser", "error", err)
		}
	}()

	result := p.sequence(ctx, sess)
	result.Evidence = p.capture(ctx, sess)

	p.logger.Info("probe finished",
		"status", result.Status,
		"detail", result.Detail,
		"screenshot", result.Evidence.Present(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return result
}

func (p *Probe) sequence(ctx context.Context, sess browser.Session) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("probe sequence panicked", "panic", r)
			result = Errored(fmt.Sprintf("unhandled error: %v", r))
		}
	}()

	if out := p.navigate(ctx, sess); !out.ok() {
		return p.fail(out)
	}

	p.dismissInterstitial(ctx, sess)

	if out := p.waitForServices(ctx, sess); !out.ok() {
		return p.fail(out)
	}

	var texts []string
	out := runStep(ctx, "read available services", p.policy.NavigationTimeout, func(c context.Context) error {
		var err error
		texts, err = sess.VisibleTexts(c, servicesRegion, "div")
		return err
	})
	if !out.ok() {
		return p.fail(out)
	}

	if Classify(texts) == StatusFound {
		return Found()
	}
	return NotFound()
}

func (p *Probe) fail(out stepOutcome) Result {
	p.logger.Error("probe step failed", "step", out.step, "timeout", out.kind == outcomeTimeout, "error", out.err)
	return out.result()
}

// navigate opens the page and switches to the booking popup. Timeouts are
// retried up to NavigationRetries times.
func (p *Probe) navigate(ctx context.Context, sess browser.Session) stepOutcome {
	var out stepOutcome
	for attempt := 0; attempt <= p.policy.NavigationRetries; attempt++ {
		if attempt > 0 {
			if ctx.Err() != nil {
				break
			}
			p.logger.Warn("retrying navigation", "attempt", attempt+1, "after_step", out.step)
			if err := sess.SwitchToPopup(ctx, 0); err != nil {
				return outcomeOf(ctx, "return to target page", err)
			}
		}

		out = runStep(ctx, "open target page", p.policy.NavigationTimeout, func(c context.Context) error {
			return sess.Open(c, p.url)
		})
		if out.ok() {
			out = runStep(ctx, "click passport booking link", p.policy.NavigationTimeout, func(c context.Context) error {
				return sess.Click(c, browser.LinkText(PassportLinkText))
			})
		}
		if out.ok() {
			out = runStep(ctx, "switch to booking popup", p.policy.NavigationTimeout, func(c context.Context) error {
				return sess.SwitchToPopup(c, 1)
			})
		}
		if out.kind != outcomeTimeout {
			return out
		}
	}
	return out
}

// dismissInterstitial accepts the alert and clicks the captcha button the
// booking widget may show. Neither is required to be present.
func (p *Probe) dismissInterstitial(ctx context.Context, sess browser.Session) {
	out := runStep(ctx, "accept interstitial dialog", p.policy.InterstitialTimeout, func(c context.Context) error {
		return pollUntil(c, p.policy.InterstitialPoll, func(c context.Context) (bool, error) {
			err := sess.AcceptDialog(c)
			if errors.Is(err, browser.ErrNoDialog) {
				return false, nil
			}
			return err == nil, err
		})
	})
	p.logInterstitial(out, "interstitial dialog accepted", "no interstitial dialog")

	out = runStep(ctx, "click captcha button", p.policy.InterstitialTimeout, func(c context.Context) error {
		return sess.Click(c, captchaButton)
	})
	p.logInterstitial(out, "captcha button clicked", "no captcha button")
}

func (p *Probe) logInterstitial(out stepOutcome, done, absent string) {
	switch out.kind {
	case outcomeOK:
		p.logger.Info(done)
	case outcomeTimeout:
		p.logger.Debug(absent)
	default:
		p.logger.Warn("dismissing interstitial", "step", out.step, "error", out.err)
	}
}

// waitForServices polls until the services container is displayed, for at most MaxPoll.
func (p *Probe) waitForServices(ctx context.Context, sess browser.Session) stepOutcome {
	polls := 0
	out := runStep(ctx, "wait for services container", p.policy.MaxPoll, func(c context.Context) error {
		return pollUntil(c, p.policy.PollInterval, func(c context.Context) (bool, error) {
			polls++
			visible, err := sess.Visible(c, servicesContainer)
			if err != nil {
				if c.Err() != nil {
					return false, c.Err()
				}
				// The widget reloads itself while booting; keep polling.
				p.logger.Debug("checking services container", "error", err)
				return false, nil
			}
			return visible, nil
		})
	})
	p.logger.Debug("services container poll finished", "polls", polls, "ok", out.ok())

	if out.kind == outcomeTimeout && p.policy.ClassifyOnExpiry && ctx.Err() == nil {
		p.logger.Warn("services container not visible, classifying rendered page", "max_poll", p.policy.MaxPoll)
		return stepOutcome{step: out.step, kind: outcomeOK}
	}
	return out
}

// capture takes the evidence screenshot. It runs even when ctx is already
// done and never fails the run.
func (p *Probe) capture(ctx context.Context, sess browser.Session) (art evidence.Artifact) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("screenshot panicked", "panic", r)
			art = evidence.Artifact{}
		}
	}()
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()
	return evidence.Capture(cctx, sess, p.store, p.logger)
}

// Classify reports StatusFound when any text equals NoSlotsText exactly.
func Classify(texts []string) Status {
	for _, t := range texts {
		if t == NoSlotsText {
			return StatusFound
		}
	}
	return StatusNotFound
}
