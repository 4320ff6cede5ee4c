package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgCredentialFound signals that a stored credential is about to be replaced.
type MsgCredentialFound struct{ Account string }

// MsgRequestingCode signals that a device code request is in flight.
type MsgRequestingCode struct{}

// MsgDeviceCodeReady signals that the device code is ready for user action.
type MsgDeviceCodeReady struct {
	UserCode          string
	VerifyURI         string
	VerifyURIComplete string
	Expiry            time.Time
}

// MsgWaitingForAuth signals that polling for authorization has started.
type MsgWaitingForAuth struct{}

// MsgPollSlowDown signals that the server requested slower polling.
type MsgPollSlowDown struct{ NewInterval time.Duration }

// MsgAuthSuccess signals that the user authorized successfully.
type MsgAuthSuccess struct{ Account string }

// MsgCredentialSaved signals that the credential was persisted.
type MsgCredentialSaved struct {
	Backend string
	Path    string
}

// MsgScopeWarning lists recommended scopes the credential lacks.
type MsgScopeWarning struct{ Missing []string }

// MsgVerifying signals that the Copilot token exchange is in progress.
type MsgVerifying struct{}

// MsgVerifyOK signals that a Copilot token was obtained.
type MsgVerifyOK struct {
	APIURL    string
	ExpiresIn time.Duration
}

// MsgVerifyFailed signals that the Copilot token exchange failed.
type MsgVerifyFailed struct{ Err error }

// MsgDone signals successful completion of the login.
type MsgDone struct {
	Account string
	Backend string
}

// MsgFatal signals a fatal error that should terminate the flow.
type MsgFatal struct{ Err error }
