package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/go-authgate/copilot-auth/internal/autherr"
	"github.com/go-authgate/copilot-auth/internal/deviceflow"
	"github.com/go-authgate/copilot-auth/tui"
)

// deviceFlowScopes are requested during login. The Copilot grant comes with the OAuth app.
var deviceFlowScopes = []string{"read:user"}

func newLoginCmd(setup func() (*app, error)) *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with the GitHub device flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTTY(os.Stdin) && !isTTY(os.Stderr) {
				return autherr.New(autherr.KindValidation, "login", "no terminal attached").
					WithHint("run login interactively, or use `copilot-auth token` with a token from stdin")
			}

			a, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()

			var notifier deviceflow.Notifier
			if !noBrowser {
				notifier = deviceflow.NewBrowserNotifier()
			}

			return withDisplayer(func(d tui.Displayer) error {
				if err := runLogin(cmd.Context(), a, d, notifier); err != nil {
					d.Fatal(err)
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "do not open the verification page automatically")
	return cmd
}

// runLogin performs one device-flow attempt and verifies the stored credential with a
// Copilot token exchange.
func runLogin(ctx context.Context, a *app, d tui.Displayer, notifier deviceflow.Notifier) error {
	logger := a.logger.With(zap.String("attempt", uuid.NewString()), zap.String("host", a.domain.Host))

	if md, err := a.vault.Metadata(); err == nil && md != nil {
		d.CredentialFound(md.AccountID)
	}

	d.RequestingCode()
	initiator := &deviceflow.Initiator{
		Client:   a.retryClient,
		Domain:   a.domain,
		ClientID: a.cfg.clientID,
		Scopes:   deviceFlowScopes,
		Logger:   logger,
	}
	session, err := initiator.Start(ctx)
	if err != nil {
		return err
	}

	d.DeviceCodeReady(session.UserCode, session.VerificationURI, session.VerificationURIComplete, session.Expiry)
	d.WaitingForAuth()

	poller := &deviceflow.Poller{
		Client:     a.retryClient,
		Domain:     a.domain,
		ClientID:   a.cfg.clientID,
		Vault:      a.vault,
		HTTPClient: a.httpClient,
		Notifier:   notifier,
		OnSlowDown: d.PollSlowDown,
		Logger:     logger,
	}
	out := poller.Poll(ctx, session)
	logger.Debug("device flow finished", zap.Stringer("state", out.State))
	if res := out.Result(); !res.Success {
		return res.Err
	}

	// The new credential supersedes any token minted from the old one.
	a.broker.Invalidate()

	account := out.Credential.AccountID
	backend := a.vault.Backend()
	d.AuthSuccess(account)
	d.CredentialSaved(backend, a.vault.Path())

	d.Verifying()
	tok, err := a.broker.Token(ctx)
	if err != nil {
		d.VerifyFailed(err)
		return err
	}
	d.VerifyOK(tok.BaseAPIURL, time.Until(tok.ExpiresAt))
	d.Done(account, backend)
	return nil
}
