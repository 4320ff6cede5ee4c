package deviceflow

import (
	"context"
	"errors"
	"io"

	"github.com/pkg/browser"
	"golang.org/x/oauth2"
)

// Notifier tells the user where to authorize. Failures are logged and otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, session *oauth2.DeviceAuthResponse) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, session *oauth2.DeviceAuthResponse) error

func (f NotifierFunc) Notify(ctx context.Context, session *oauth2.DeviceAuthResponse) error {
	return f(ctx, session)
}

// BrowserNotifier opens the verification page in the default browser.
type BrowserNotifier struct {
	open func(url string) error
}

// NewBrowserNotifier returns a notifier backed by the platform's URL opener.
func NewBrowserNotifier() *BrowserNotifier {
	// xdg-open and friends are chatty; keep them off the terminal UI.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return &BrowserNotifier{open: browser.OpenURL}
}

func (b *BrowserNotifier) Notify(_ context.Context, session *oauth2.DeviceAuthResponse) error {
	target := session.VerificationURIComplete
	if target == "" {
		target = session.VerificationURI
	}
	if target == "" {
		return errors.New("no verification url")
	}
	return b.open(target)
}
