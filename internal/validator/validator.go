// Package validator checks a token obtained outside the device flow before it is stored.
package validator

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/go-authgate/copilot-auth/internal/authdomain"
	"github.com/go-authgate/copilot-auth/internal/autherr"
	"github.com/go-authgate/copilot-auth/internal/identity"
	"github.com/go-authgate/copilot-auth/internal/log"
	"github.com/go-authgate/copilot-auth/internal/vault"
)

// Default scope policy for Copilot tokens.
var (
	DefaultRequired    = []string{"copilot"}
	DefaultRecommended = []string{"read:user"}
)

// CredentialSaver persists an accepted token.
type CredentialSaver interface {
	Save(cred *vault.StoredCredential) error
}

// Validator accepts a manually supplied token if the provider vouches for it.
type Validator struct {
	HTTPClient *http.Client
	Domain     authdomain.Domain
	Vault      CredentialSaver
	// Required scopes must all be present or the token is rejected.
	Required []string
	// Recommended scopes only produce a warning when missing.
	Recommended []string
	Logger      *zap.Logger
	Now         func() time.Time
}

// New returns a Validator using the default Copilot scope policy.
func New(client *http.Client, domain authdomain.Domain, v CredentialSaver, logger *zap.Logger) *Validator {
	return &Validator{
		HTTPClient:  client,
		Domain:      domain,
		Vault:       v,
		Required:    DefaultRequired,
		Recommended: DefaultRecommended,
		Logger:      logger,
	}
}

// Result describes a validation attempt. Err is nil on success.
type Result struct {
	Account string
	Scopes  []string
	// MissingRecommended lists recommended scopes the token lacks.
	MissingRecommended []string
	Err                *autherr.Error
}

// Success reports whether the token was accepted and stored.
func (r *Result) Success() bool {
	return r.Err == nil
}

// Boundary converts r into the shared result value.
func (r *Result) Boundary() autherr.Result {
	if r.Err == nil {
		return autherr.OK()
	}
	return autherr.Fail(r.Err)
}

// Validate resolves the account behind token, enforces the scope policy and stores the token.
// Nothing is saved unless every required scope is present.
func (v *Validator) Validate(ctx context.Context, token string) *Result {
	logger := log.OrNop(v.Logger).Named("validator")

	token = strings.TrimSpace(token)
	if token == "" {
		return &Result{Err: autherr.New(autherr.KindValidation, "token", "token is empty")}
	}

	client := v.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	user, err := identity.Fetch(ctx, client, v.Domain.UserURL, token)
	if err != nil {
		return &Result{Err: toAuthErr(err)}
	}
	logger.Debug("token resolved", zap.String("account", user.Login), zap.Strings("scopes", user.Scopes))

	res := &Result{Account: user.Login, Scopes: user.Scopes}

	if missing := missingScopes(user, v.Required); len(missing) > 0 {
		e := autherr.New(autherr.KindScope, "token", "token lacks required scopes").
			WithHint("create a token with the " + strings.Join(missing, ", ") +
				" scope, or run `copilot-auth login` to use the device flow")
		e.Scopes = missing
		res.Err = e
		return res
	}

	if missing := missingScopes(user, v.Recommended); len(missing) > 0 {
		res.MissingRecommended = missing
		logger.Warn("token lacks recommended scopes", zap.Strings("scopes", missing))
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	cred := &vault.StoredCredential{
		Kind:      vault.KindManual,
		Secret:    token,
		AccountID: user.Login,
		CreatedAt: now().UTC(),
	}
	if v.Domain.IsEnterprise() {
		cred.ProviderDomain = v.Domain.Host
	}
	if err := v.Vault.Save(cred); err != nil {
		res.Err = toAuthErr(err)
	}
	return res
}

func missingScopes(user *identity.User, want []string) []string {
	var missing []string
	for _, s := range want {
		if !user.HasScope(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

func toAuthErr(err error) *autherr.Error {
	return autherr.Fail(err).Err
}
