// Package broker turns the stored long-lived GitHub credential into short-lived Copilot API
// tokens. Tokens live in memory only and concurrent refreshes collapse into one exchange.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/go-authgate/copilot-auth/internal/authdomain"
	"github.com/go-authgate/copilot-auth/internal/autherr"
	"github.com/go-authgate/copilot-auth/internal/log"
	"github.com/go-authgate/copilot-auth/internal/vault"
)

const (
	// RefreshMargin is how long before expiry a cached token stops being handed out.
	RefreshMargin = 5 * time.Minute
	// RequestTimeout bounds one exchange call.
	RequestTimeout = 10 * time.Second
	// DefaultLifetime is assumed when the exchange response carries no expiry.
	DefaultLifetime = 25 * time.Minute
)

const flightKey = "exchange"

// AccessToken is a short-lived Copilot API token.
type AccessToken struct {
	Token string
	// BaseAPIURL is the chat API base this token is valid for.
	BaseAPIURL string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Valid reports whether the token can still be handed out at now.
func (t *AccessToken) Valid(now time.Time) bool {
	return t != nil && now.Before(t.ExpiresAt.Add(-RefreshMargin))
}

// CredentialSource yields the long-lived credential. *vault.Vault satisfies it.
type CredentialSource interface {
	Get() (*vault.StoredCredential, error)
}

// Options configures a Broker.
type Options struct {
	HTTPClient *http.Client
	Domain     authdomain.Domain
	Source     CredentialSource
	Logger     *zap.Logger
	Now        func() time.Time
}

// Broker caches one AccessToken and refreshes it on demand.
type Broker struct {
	client *http.Client
	domain authdomain.Domain
	source CredentialSource
	logger *zap.Logger
	now    func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	cached *AccessToken
	// gen is bumped by Invalidate so an exchange started earlier cannot repopulate the cache.
	gen uint64
}

// New returns a Broker with an empty cache.
func New(opts Options) *Broker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Broker{
		client: client,
		domain: opts.Domain,
		source: opts.Source,
		logger: log.OrNop(opts.Logger).Named("broker"),
		now:    now,
	}
}

// Token returns a valid access token, exchanging the stored credential when the cached one
// is missing or within RefreshMargin of expiry.
func (b *Broker) Token(ctx context.Context) (*AccessToken, error) {
	b.mu.Lock()
	cached := b.cached
	b.mu.Unlock()
	if cached.Valid(b.now()) {
		return cached, nil
	}
	return b.fetch(ctx)
}

// Refresh performs an exchange regardless of the cache. A concurrent in-flight exchange is
// joined rather than duplicated.
func (b *Broker) Refresh(ctx context.Context) (*AccessToken, error) {
	return b.fetch(ctx)
}

// Invalidate drops the cached token, for example after the API rejected it.
func (b *Broker) Invalidate() {
	b.mu.Lock()
	b.cached = nil
	b.gen++
	b.mu.Unlock()
	b.group.Forget(flightKey)
}

func (b *Broker) fetch(ctx context.Context) (*AccessToken, error) {
	ch := b.group.DoChan(flightKey, func() (interface{}, error) {
		b.mu.Lock()
		gen := b.gen
		b.mu.Unlock()

		// The shared call outlives any single waiter; each waiter still honors its own ctx.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RequestTimeout)
		defer cancel()

		tok, err := b.exchange(callCtx)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		if b.gen == gen {
			b.cached = tok
		}
		b.mu.Unlock()
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return nil, autherr.Wrap(autherr.KindCanceled, "token exchange", "request canceled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			b.logger.Debug("joined in-flight token exchange")
		}
		return res.Val.(*AccessToken), nil
	}
}

func (b *Broker) exchange(ctx context.Context) (*AccessToken, error) {
	if b.source == nil {
		return nil, notLoggedIn()
	}
	cred, err := b.source.Get()
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, notLoggedIn()
	}
	if cred.Expired(b.now()) {
		return nil, autherr.New(autherr.KindCredential, "token exchange", "stored GitHub credential has expired").
			WithHint("run `copilot-auth login` to sign in again")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.domain.ExchangeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange request: %w", err)
	}
	req.Header.Set("Authorization", "token "+cred.Secret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "copilot-auth")

	issued := b.now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindNetwork, "token exchange", "Copilot token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindNetwork, "token exchange", "failed to read response", err)
	}

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
		RefreshIn int64  `json:"refresh_in"`
		Endpoints struct {
			API string `json:"api"`
		} `json:"endpoints"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, autherr.Wrap(autherr.KindNetwork, "token exchange", "failed to parse exchange response", err)
	}
	if payload.Token == "" {
		return nil, autherr.New(autherr.KindNetwork, "token exchange", "exchange response carried no token")
	}

	tok := &AccessToken{
		Token:      payload.Token,
		BaseAPIURL: strings.TrimRight(payload.Endpoints.API, "/"),
		IssuedAt:   issued,
		ExpiresAt:  issued.Add(DefaultLifetime),
	}
	if tok.BaseAPIURL == "" {
		tok.BaseAPIURL = b.domain.CopilotAPIURL
	}
	if payload.ExpiresAt > 0 {
		tok.ExpiresAt = time.Unix(payload.ExpiresAt, 0)
	}

	b.logger.Debug("copilot token issued",
		zap.String("token", log.MaskToken(tok.Token)),
		zap.Time("expires_at", tok.ExpiresAt),
		zap.String("api", tok.BaseAPIURL))
	return tok, nil
}

func classifyStatus(status int, body []byte) error {
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return autherr.New(autherr.KindCredential, "token exchange",
			"GitHub rejected the stored credential; it is invalid, revoked or expired").
			WithHint("run `copilot-auth login` to sign in again")
	case http.StatusForbidden:
		return autherr.New(autherr.KindEntitlement, "token exchange",
			"this GitHub account does not have access to Copilot").
			WithHint("check your Copilot subscription at https://github.com/settings/copilot")
	case http.StatusNotFound:
		e := autherr.New(autherr.KindScope, "token exchange",
			"the stored credential cannot be exchanged for a Copilot token").
			WithHint("run `copilot-auth login`, or supply a token that has the copilot scope")
		e.Scopes = []string{"copilot"}
		return e
	default:
		msg := fmt.Sprintf("Copilot token endpoint returned status %d", status)
		if s := strings.TrimSpace(string(body)); s != "" && len(s) < 200 {
			msg += ": " + s
		}
		return autherr.New(autherr.KindNetwork, "token exchange", msg)
	}
}

func notLoggedIn() error {
	return autherr.New(autherr.KindCredential, "token exchange", "not logged in").
		WithHint("run `copilot-auth login` or `copilot-auth token`")
}
