package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Options configures the Chrome launcher.
type Options struct {
	ExecPath     string
	Headless     bool
	WindowWidth  int
	WindowHeight int
	UserAgent    string
	Logger       *slog.Logger
}

// NewChrome returns a Launcher that starts a fresh Chrome process per session.
func NewChrome(opts Options) Launcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return func(ctx context.Context) (Session, error) {
		s, err := launchChrome(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

type chromeSession struct {
	logger *slog.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu        sync.Mutex
	tab       context.Context
	tabCancel context.CancelFunc // nil while the first tab is current
	popups    []target.ID        // pages opened by the first tab, in the order seen

	closeOnce sync.Once
	closeErr  error
}

func launchChrome(ctx context.Context, o Options) (*chromeSession, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(o.WindowWidth, o.WindowHeight),
	)
	if !o.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if o.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(o.ExecPath))
	}
	if o.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(o.UserAgent))
	}

	logf := func(format string, args ...any) {
		o.Logger.Debug(fmt.Sprintf(format, args...))
	}

	// The process is not bound to ctx and stays usable past its deadline.
	// Close releases it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logf),
		chromedp.WithErrorf(logf),
	)

	// An empty Run starts the process and attaches to the first tab. Startup
	// alone is bounded by ctx.
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stopped := stop()
	if err == nil && !stopped {
		err = ctx.Err()
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	return &chromeSession{
		logger:        o.Logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tab:           browserCtx,
	}, nil
}

// bind returns a context on the current tab that also carries ctx's
// deadline and cancellation.
func (s *chromeSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	tab := s.tab
	s.mu.Unlock()

	c, cancel := context.WithCancel(tab)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		c, cancelDeadline = context.WithDeadline(c, dl)
		parent := cancel
		cancel = func() {
			cancelDeadline()
			parent()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) Open(ctx context.Context, url string) error {
	c, done := s.bind(ctx)
	defer done()
	if err := chromedp.Run(c, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) Click(ctx context.Context, loc Locator) error {
	c, done := s.bind(ctx)
	defer done()
	sel, opts := query(loc)
	opts = append(opts, chromedp.NodeVisible)
	if err := chromedp.Run(c, chromedp.Click(sel, opts...)); err != nil {
		return fmt.Errorf("clicking %s: %w", loc, err)
	}
	return nil
}

func (s *chromeSession) SwitchToPopup(ctx context.Context, index int) error {
	if index == 0 {
		s.setTab(s.browserCtx, nil)
		s.closePopups(ctx)
		return nil
	}

	c, done := s.bind(ctx)
	defer done()

	root := chromedp.FromContext(s.browserCtx).Target.TargetID
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		infos, err := chromedp.Targets(c)
		if err != nil {
			return fmt.Errorf("listing targets: %w", err)
		}
		s.mu.Lock()
		s.popups = trackPopups(s.popups, infos, root)
		popups := s.popups
		s.mu.Unlock()

		if len(popups) >= index {
			id := popups[index-1]
			tab, cancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(id))
			if err := chromedp.Run(tab); err != nil {
				cancel()
				return fmt.Errorf("attaching to popup %d: %w", index, err)
			}
			s.setTab(tab, cancel)
			s.logger.Debug("switched to popup", "index", index, "target", id)
			return nil
		}

		select {
		case <-c.Done():
			return fmt.Errorf("waiting for popup %d: %w", index, c.Err())
		case <-ticker.C:
		}
	}
}

// closePopups closes every page opened by the first tab so a later
// SwitchToPopup only sees fresh ones. Failures are logged.
func (s *chromeSession) closePopups(ctx context.Context) {
	c, done := s.bind(ctx)
	defer done()

	s.mu.Lock()
	s.popups = nil
	s.mu.Unlock()

	infos, err := chromedp.Targets(c)
	if err != nil {
		s.logger.Warn("listing targets", "error", err)
		return
	}
	root := chromedp.FromContext(s.browserCtx).Target.TargetID
	for _, id := range trackPopups(nil, infos, root) {
		if err := chromedp.Run(c, target.CloseTarget(id)); err != nil {
			s.logger.Warn("closing popup", "target", id, "error", err)
		}
	}
}

// trackPopups returns known with closed pages removed and newly opened pages
// of root appended, keeping the order in which pages were first seen.
func trackPopups(known []target.ID, infos []*target.Info, root target.ID) []target.ID {
	open := make(map[target.ID]bool)
	var fresh []target.ID
	for _, info := range infos {
		if info.Type != "page" || info.OpenerID != root {
			continue
		}
		open[info.TargetID] = true
		if !slices.Contains(known, info.TargetID) {
			fresh = append(fresh, info.TargetID)
		}
	}
	kept := make([]target.ID, 0, len(known)+len(fresh))
	for _, id := range known {
		if open[id] {
			kept = append(kept, id)
		}
	}
	return append(kept, fresh...)
}

func (s *chromeSession) setTab(tab context.Context, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tabCancel != nil {
		s.tabCancel()
	}
	s.tab = tab
	s.tabCancel = cancel
}

func (s *chromeSession) AcceptDialog(ctx context.Context) error {
	c, done := s.bind(ctx)
	defer done()
	err := chromedp.Run(c, page.HandleJavaScriptDialog(true))
	if err == nil {
		return nil
	}
	var cdpErr *cdproto.Error
	if errors.As(err, &cdpErr) {
		return fmt.Errorf("%w: %s", ErrNoDialog, cdpErr.Message)
	}
	return fmt.Errorf("accepting dialog: %w", err)
}

func (s *chromeSession) Visible(ctx context.Context, loc Locator) (bool, error) {
	c, done := s.bind(ctx)
	defer done()
	var visible bool
	if err := chromedp.Run(c, chromedp.Evaluate(visibleScript(loc), &visible)); err != nil {
		return false, fmt.Errorf("checking visibility of %s: %w", loc, err)
	}
	return visible, nil
}

func (s *chromeSession) VisibleTexts(ctx context.Context, parent Locator, childTag string) ([]string, error) {
	c, done := s.bind(ctx)
	defer done()
	var texts []string
	if err := chromedp.Run(c, chromedp.Evaluate(visibleTextsScript(parent, childTag), &texts)); err != nil {
		return nil, fmt.Errorf("reading %s children of %s: %w", childTag, parent, err)
	}
	return texts, nil
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	c, done := s.bind(ctx)
	defer done()
	var buf []byte
	if err := chromedp.Run(c, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.tabCancel != nil {
			s.tabCancel()
			s.tabCancel = nil
		}
		s.mu.Unlock()

		// Cancel asks the browser to exit and waits for it; the allocator
		// cancel afterwards kills the process if it is still around.
		err := chromedp.Cancel(s.browserCtx)
		s.browserCancel()
		s.allocCancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("closing chrome: %w", err)
		}
	})
	return s.closeErr
}

func query(loc Locator) (string, []chromedp.QueryOption) {
	if loc.By == ByLinkText {
		return "//a[normalize-space(.)=" + xpathLiteral(loc.Value) + "]", []chromedp.QueryOption{chromedp.BySearch}
	}
	return loc.Value, []chromedp.QueryOption{chromedp.ByID}
}

// xpathLiteral quotes s for use in an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts)-1)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}

const jsHelpers = `
const resolve = (by, value) => {
  if (by === "id") return document.getElementById(value);
  if (by === "link text") {
    for (const a of document.querySelectorAll("a")) {
      if (a.innerText.trim() === value) return a;
    }
    return null;
  }
  return null;
};
const displayed = (el) => {
  if (!el) return false;
  const style = window.getComputedStyle(el);
  if (style.display === "none" || style.visibility === "hidden") return false;
  return el.getClientRects().length > 0;
};
`

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func visibleScript(loc Locator) string {
	return "(() => {" + jsHelpers +
		"return displayed(resolve(" + jsString(loc.By.String()) + ", " + jsString(loc.Value) + "));})()"
}

func visibleTextsScript(parent Locator, childTag string) string {
	return "(() => {" + jsHelpers +
		"const p = resolve(" + jsString(parent.By.String()) + ", " + jsString(parent.Value) + ");" +
		"if (!p) throw new Error(" + jsString("element not found: "+parent.String()) + ");" +
		"return Array.from(p.getElementsByTagName(" + jsString(childTag) + ")).filter(displayed).map((e) => e.innerText);})()"
}
