// Package browser drives a headless browser for a single probe run.
package browser

import (
	"context"
	"errors"
)

// ErrNoDialog is returned by AcceptDialog when no JavaScript dialog is open.
var ErrNoDialog = errors.New("no javascript dialog open")

// By selects how a Locator's value is matched.
type By int

const (
	ByID By = iota
	ByLinkText
)

func (b By) String() string {
	switch b {
	case ByID:
		return "id"
	case ByLinkText:
		return "link text"
	default:
		return "unknown"
	}
}

// Locator identifies an element on the current page.
type Locator struct {
	By    By
	Value string
}

// ID returns a Locator matching the element with the given id.
func ID(id string) Locator { return Locator{By: ByID, Value: id} }

// LinkText returns a Locator matching an anchor whose rendered text equals text.
func LinkText(text string) Locator { return Locator{By: ByLinkText, Value: text} }

func (l Locator) String() string {
	return l.By.String() + "=" + l.Value
}

// Session is a one-shot browser session. Blocking calls honour ctx; a
// context.DeadlineExceeded error means the element or page did not show up in time.
type Session interface {
	Open(ctx context.Context, url string) error
	// Click waits for the element to be visible and clicks it.
	Click(ctx context.Context, loc Locator) error
	// SwitchToPopup waits for the index-th page opened by the original tab,
	// counted in the order they appeared, and makes it the current one.
	// Index 0 returns to the original tab and closes every page it opened.
	SwitchToPopup(ctx context.Context, index int) error
	AcceptDialog(ctx context.Context) error
	// Visible reports whether the element exists and is rendered, without waiting.
	Visible(ctx context.Context, loc Locator) (bool, error)
	// VisibleTexts returns the rendered text of each displayed childTag
	// descendant of parent, in document order.
	VisibleTexts(ctx context.Context, parent Locator, childTag string) ([]string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the browser process. It is safe to call more than once.
	Close() error
}

// Launcher starts a new Session.
type Launcher func(ctx context.Context) (Session, error)
