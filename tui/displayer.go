package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/copilot-auth/internal/autherr"
)

// Displayer abstracts all output from the login flow.
type Displayer interface {
	Banner()
	CredentialFound(account string)
	RequestingCode()
	DeviceCodeReady(userCode, verifyURI, verifyURIComplete string, expiry time.Time)
	WaitingForAuth()
	PollSlowDown(newInterval time.Duration)
	AuthSuccess(account string)
	CredentialSaved(backend, path string)
	ScopeWarning(missing []string)
	Verifying()
	VerifyOK(apiURL string, expiresIn time.Duration)
	VerifyFailed(err error)
	Done(account, backend string)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== GitHub Copilot Login ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) CredentialFound(account string) {
	if account == "" {
		fmt.Fprintln(p.w, "Existing credential found, it will be replaced.")
		return
	}
	fmt.Fprintf(p.w, "Already logged in as %s, the credential will be replaced.\n", account)
}

func (p *PlainDisplayer) RequestingCode() {
	fmt.Fprintln(p.w, "Step 1: Requesting device code...")
}

func (p *PlainDisplayer) DeviceCodeReady(
	userCode, verifyURI, verifyURIComplete string,
	expiry time.Time,
) {
	fmt.Fprintln(p.w, "----------------------------------------")
	if verifyURIComplete != "" {
		fmt.Fprintf(p.w, "Please open this link to authorize:\n%s\n", verifyURIComplete)
		fmt.Fprintf(p.w, "\nOr manually visit: %s\n", verifyURI)
	} else {
		fmt.Fprintf(p.w, "Please visit: %s\n", verifyURI)
	}
	fmt.Fprintf(p.w, "And enter code: %s\n", userCode)
	fmt.Fprintf(p.w, "The code expires at %s\n", expiry.Local().Format(time.Kitchen))
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) WaitingForAuth() {
	fmt.Fprintln(p.w, "Step 2: Waiting for authorization...")
}

func (p *PlainDisplayer) PollSlowDown(newInterval time.Duration) {
	fmt.Fprintf(p.w, "Server requested slower polling, new interval: %s\n", newInterval)
}

func (p *PlainDisplayer) AuthSuccess(account string) {
	if account == "" {
		fmt.Fprintln(p.w, "\nAuthorization successful!")
		return
	}
	fmt.Fprintf(p.w, "\nAuthorization successful! Signed in as %s\n", account)
}

func (p *PlainDisplayer) CredentialSaved(backend, path string) {
	if backend == "file" {
		fmt.Fprintf(p.w, "Credential saved to %s (encrypted)\n", path)
		return
	}
	fmt.Fprintf(p.w, "Credential saved to the system %s\n", backend)
}

func (p *PlainDisplayer) ScopeWarning(missing []string) {
	fmt.Fprintf(p.w, "Warning: token lacks recommended scopes: %s\n", strings.Join(missing, ", "))
}

func (p *PlainDisplayer) Verifying() {
	fmt.Fprintln(p.w, "\nVerifying Copilot access...")
}

func (p *PlainDisplayer) VerifyOK(apiURL string, expiresIn time.Duration) {
	fmt.Fprintf(p.w, "Copilot API: %s (token valid for %s)\n", apiURL, expiresIn.Round(time.Second))
}

func (p *PlainDisplayer) VerifyFailed(err error) {
	fmt.Fprintf(p.w, "Copilot access check failed: %v\n", err)
}

func (p *PlainDisplayer) Done(account, backend string) {
	fmt.Fprintln(p.w, "\n========================================")
	if account != "" {
		fmt.Fprintf(p.w, "Account: %s\n", account)
	}
	fmt.Fprintf(p.w, "Storage: %s\n", backend)
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
	if hint := autherr.HintOf(err); hint != "" {
		fmt.Fprintf(p.w, "Hint: %s\n", hint)
	}
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                                     {}
func (NoopDisplayer) CredentialFound(_ string)                    {}
func (NoopDisplayer) RequestingCode()                             {}
func (NoopDisplayer) DeviceCodeReady(_, _, _ string, _ time.Time) {}
func (NoopDisplayer) WaitingForAuth()                             {}
func (NoopDisplayer) PollSlowDown(_ time.Duration)                {}
func (NoopDisplayer) AuthSuccess(_ string)                        {}
func (NoopDisplayer) CredentialSaved(_, _ string)                 {}
func (NoopDisplayer) ScopeWarning(_ []string)                     {}
func (NoopDisplayer) Verifying()                                  {}
func (NoopDisplayer) VerifyOK(_ string, _ time.Duration)          {}
func (NoopDisplayer) VerifyFailed(_ error)                        {}
func (NoopDisplayer) Done(_, _ string)                            {}
func (NoopDisplayer) Fatal(_ error)                               {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) CredentialFound(account string) {
	t.p.Send(MsgCredentialFound{Account: account})
}

func (t *ProgramDisplayer) RequestingCode() {
	t.p.Send(MsgRequestingCode{})
}

func (t *ProgramDisplayer) DeviceCodeReady(
	userCode, verifyURI, verifyURIComplete string,
	expiry time.Time,
) {
	t.p.Send(MsgDeviceCodeReady{
		UserCode:          userCode,
		VerifyURI:         verifyURI,
		VerifyURIComplete: verifyURIComplete,
		Expiry:            expiry,
	})
}

func (t *ProgramDisplayer) WaitingForAuth() {
	t.p.Send(MsgWaitingForAuth{})
}

func (t *ProgramDisplayer) PollSlowDown(newInterval time.Duration) {
	t.p.Send(MsgPollSlowDown{NewInterval: newInterval})
}

func (t *ProgramDisplayer) AuthSuccess(account string) {
	t.p.Send(MsgAuthSuccess{Account: account})
}

func (t *ProgramDisplayer) CredentialSaved(backend, path string) {
	t.p.Send(MsgCredentialSaved{Backend: backend, Path: path})
}

func (t *ProgramDisplayer) ScopeWarning(missing []string) {
	t.p.Send(MsgScopeWarning{Missing: missing})
}

func (t *ProgramDisplayer) Verifying() {
	t.p.Send(MsgVerifying{})
}

func (t *ProgramDisplayer) VerifyOK(apiURL string, expiresIn time.Duration) {
	t.p.Send(MsgVerifyOK{APIURL: apiURL, ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) VerifyFailed(err error) {
	t.p.Send(MsgVerifyFailed{Err: err})
}

func (t *ProgramDisplayer) Done(account, backend string) {
	t.p.Send(MsgDone{Account: account, Backend: backend})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
