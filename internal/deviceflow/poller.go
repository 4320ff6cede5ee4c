package deviceflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/go-authgate/copilot-auth/internal/authdomain"
	"github.com/go-authgate/copilot-auth/internal/autherr"
	"github.com/go-authgate/copilot-auth/internal/identity"
	"github.com/go-authgate/copilot-auth/internal/log"
	"github.com/go-authgate/copilot-auth/internal/vault"
)

// SlowDownIncrement is added to the poll interval on every slow_down response.
const SlowDownIncrement = 5 * time.Second

const grantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

// State is a phase of one polling session.
type State int

const (
	StatePending State = iota
	StatePolling
	StateSucceeded
	StateDenied
	StateExpired
	StateTimedOut
	StateErrored
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePolling:
		return "polling"
	case StateSucceeded:
		return "succeeded"
	case StateDenied:
		return "denied"
	case StateExpired:
		return "expired"
	case StateTimedOut:
		return "timed_out"
	case StateErrored:
		return "errored"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateSucceeded
}

// Outcome is the terminal result of Poll.
type Outcome struct {
	State State
	// Credential is set only when State is StateSucceeded.
	Credential *vault.StoredCredential
	Err        error
}

// Result converts the outcome into the boundary value handed to callers.
func (o *Outcome) Result() autherr.Result {
	if o.State == StateSucceeded {
		return autherr.OK()
	}
	return autherr.Fail(o.Err)
}

// CredentialSaver persists the credential obtained by a successful poll.
type CredentialSaver interface {
	Save(cred *vault.StoredCredential) error
}

// Poller drives the token endpoint until the session reaches a terminal state.
type Poller struct {
	Client   *retry.Client
	Domain   authdomain.Domain
	ClientID string
	Vault    CredentialSaver
	// HTTPClient, when set, is used to look up the account name after success.
	HTTPClient *http.Client
	// Notifier is invoked once before polling starts. Optional.
	Notifier Notifier
	// OnSlowDown receives each new interval after a slow_down response. Optional.
	OnSlowDown func(interval time.Duration)
	Logger     *zap.Logger

	// Now and Sleep default to the wall clock and a context-aware timer.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Poll waits for the user to authorize session. Nothing is persisted unless the final
// state is StateSucceeded.
func (p *Poller) Poll(ctx context.Context, session *oauth2.DeviceAuthResponse) *Outcome {
	logger := log.OrNop(p.Logger)
	now := p.Now
	if now == nil {
		now = time.Now
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	interval := time.Duration(session.Interval) * time.Second
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := session.Expiry
	if deadline.IsZero() {
		deadline = now().Add(DefaultExpiresIn)
	}

	if p.Notifier != nil {
		if err := p.Notifier.Notify(ctx, session); err != nil {
			logger.Debug("could not open browser", zap.Error(err))
		}
	}

	for {
		remaining := deadline.Sub(now())
		if remaining <= 0 {
			return timedOut()
		}
		// The last wait is cut short so polling never outlives expires_in.
		if err := sleep(ctx, min(interval, remaining)); err != nil {
			return canceled(err)
		}
		if !now().Before(deadline) {
			return timedOut()
		}

		// A response is authoritative even if the deadline passes while it is in flight.
		token, err := p.exchangeDeviceCode(ctx, session.DeviceCode)
		if err == nil {
			return p.succeed(ctx, token)
		}
		if ctx.Err() != nil {
			return canceled(ctx.Err())
		}

		var oauthErr *oauth2.RetrieveError
		if errors.As(err, &oauthErr) {
			switch oauthErr.ErrorCode {
			case "authorization_pending":
				continue

			case "slow_down":
				interval += SlowDownIncrement
				logger.Debug("server requested slower polling", zap.Duration("interval", interval))
				if p.OnSlowDown != nil {
					p.OnSlowDown(interval)
				}
				continue

			case "expired_token":
				return &Outcome{State: StateExpired, Err: autherr.New(autherr.KindProtocol, "device flow",
					"device code expired, please restart the flow").WithHint("run login again")}

			case "access_denied":
				return &Outcome{State: StateDenied, Err: autherr.New(autherr.KindProtocol, "device flow",
					"user denied authorization").WithHint("run login again and approve the request")}

			default:
				msg := "authorization failed: " + oauthErr.ErrorCode
				if oauthErr.ErrorDescription != "" {
					msg += " - " + oauthErr.ErrorDescription
				}
				return &Outcome{State: StateErrored, Err: autherr.Wrap(autherr.KindProtocol, "device flow", msg, err)}
			}
		}

		if errors.Is(err, errInvalidTokenResponse) {
			return &Outcome{State: StateErrored, Err: autherr.Wrap(autherr.KindProtocol, "device flow",
				"invalid token response", err)}
		}

		// Transport failures are retried on the normal schedule until the deadline.
		logger.Debug("token poll failed, will retry", zap.Error(err))
	}
}

func (p *Poller) succeed(ctx context.Context, token *oauth2.Token) *Outcome {
	logger := log.OrNop(p.Logger)
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	cred := &vault.StoredCredential{
		Kind:      vault.KindDeviceOAuth,
		Secret:    token.AccessToken,
		CreatedAt: now().UTC(),
	}
	if !token.Expiry.IsZero() {
		exp := token.Expiry.UTC()
		cred.ExpiresAt = &exp
	}
	if p.Domain.IsEnterprise() {
		cred.ProviderDomain = p.Domain.Host
	}

	if p.HTTPClient != nil && p.Domain.UserURL != "" {
		user, err := identity.Fetch(ctx, p.HTTPClient, p.Domain.UserURL, token.AccessToken)
		if err != nil {
			logger.Debug("account lookup failed", zap.Error(err))
		} else {
			cred.AccountID = user.Login
		}
	}

	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	if err := p.Vault.Save(cred); err != nil {
		return &Outcome{State: StateErrored, Err: fmt.Errorf("saving credential: %w", err)}
	}
	return &Outcome{State: StateSucceeded, Credential: cred}
}

func timedOut() *Outcome {
	return &Outcome{State: StateTimedOut, Err: autherr.New(autherr.KindProtocol, "device flow",
		"timed out waiting for authorization").WithHint("run login again and finish authorizing before the code expires")}
}

func canceled(err error) *Outcome {
	return &Outcome{State: StateCanceled, Err: autherr.Wrap(autherr.KindCanceled, "device flow", "login canceled", err)}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var errInvalidTokenResponse = errors.New("invalid token response")

// validateTokenResponse validates the OAuth token response
func validateTokenResponse(accessToken, tokenType string) error {
	if accessToken == "" {
		return fmt.Errorf("%w: access_token is empty", errInvalidTokenResponse)
	}

	// Token type is optional in OAuth 2.0, but if present, should be "Bearer"
	if tokenType != "" && !strings.EqualFold(tokenType, "bearer") {
		return fmt.Errorf("%w: unexpected token_type: %s (expected Bearer)", errInvalidTokenResponse, tokenType)
	}

	return nil
}

// exchangeDeviceCode makes one poll request. OAuth error responses come back as
// *oauth2.RetrieveError whatever their HTTP status.
func (p *Poller) exchangeDeviceCode(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	reqCtx, cancel := context.WithTimeout(ctx, tokenPollTimeout)
	defer cancel()

	data := url.Values{}
	data.Set("grant_type", grantTypeDeviceCode)
	data.Set("device_code", deviceCode)
	data.Set("client_id", p.ClientID)

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		p.Domain.TokenURL,
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.Client.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var tokenResp struct {
		AccessToken      string `json:"access_token"`
		RefreshToken     string `json:"refresh_token"`
		TokenType        string `json:"token_type"`
		ExpiresIn        int    `json:"expires_in"`
		Scope            string `json:"scope"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorURI         string `json:"error_uri"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", errInvalidTokenResponse, err)
	}

	if tokenResp.Error != "" {
		return nil, &oauth2.RetrieveError{
			Response:         resp,
			Body:             body,
			ErrorCode:        tokenResp.Error,
			ErrorDescription: tokenResp.ErrorDescription,
			ErrorURI:         tokenResp.ErrorURI,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	if err := validateTokenResponse(tokenResp.AccessToken, tokenResp.TokenType); err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
	}
	if tokenResp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return token, nil
}
