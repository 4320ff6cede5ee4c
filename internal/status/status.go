// Package status answers "am I logged in?" in two explicit modes.
//
// Optimistic only looks at stored metadata and never touches the network or the keychain.
// Strict performs a live token exchange. Only a Strict result can report Authenticated.
package status

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/go-authgate/copilot-auth/internal/autherr"
	"github.com/go-authgate/copilot-auth/internal/broker"
	"github.com/go-authgate/copilot-auth/internal/log"
	"github.com/go-authgate/copilot-auth/internal/vault"
)

// Mode selects how a status query is answered.
type Mode int

const (
	ModeOptimistic Mode = iota
	ModeStrict
)

func (m Mode) String() string {
	switch m {
	case ModeOptimistic:
		return "optimistic"
	case ModeStrict:
		return "strict"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MetadataSource reads stored credential metadata. *vault.Vault satisfies it.
type MetadataSource interface {
	Metadata() (*vault.Metadata, error)
}

// TokenRefresher performs a live exchange. *broker.Broker satisfies it.
type TokenRefresher interface {
	Refresh(ctx context.Context) (*broker.AccessToken, error)
}

// Status is the answer to one query.
type Status struct {
	Mode Mode
	// HasCredential reports that a non-expired credential is recorded locally.
	HasCredential bool
	// Valid is set only by Strict queries, when the provider accepted the credential.
	Valid bool

	Account             string
	ProviderDomain      string
	Backend             string
	CreatedAt           time.Time
	CredentialExpiresAt *time.Time

	// Strict only.
	TokenExpiresAt time.Time
	APIBaseURL     string

	// Err explains why a Strict query is not Valid.
	Err *autherr.Error
}

// Authenticated reports whether the provider currently accepts the credential. It is
// always false for Optimistic results.
func (s *Status) Authenticated() bool {
	return s.Mode == ModeStrict && s.Valid
}

// Facade combines the vault and broker for status queries.
type Facade struct {
	meta   MetadataSource
	tokens TokenRefresher
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Facade. tokens may be nil if only Optimistic queries are made.
func New(meta MetadataSource, tokens TokenRefresher, logger *zap.Logger) *Facade {
	return &Facade{
		meta:   meta,
		tokens: tokens,
		logger: log.OrNop(logger).Named("status"),
		now:    time.Now,
	}
}

// Optimistic reports whether a credential is stored, without any network call.
func (f *Facade) Optimistic() *Status {
	st := &Status{Mode: ModeOptimistic}
	f.fillMetadata(st)
	return st
}

// Strict validates the credential against the provider with a forced token exchange.
func (f *Facade) Strict(ctx context.Context) *Status {
	st := &Status{Mode: ModeStrict}
	f.fillMetadata(st)

	if f.tokens == nil {
		st.Err = autherr.New(autherr.KindValidation, "status", "strict status requires a token broker")
		return st
	}

	tok, err := f.tokens.Refresh(ctx)
	if err != nil {
		st.Err = autherr.Fail(err).Err
		f.logger.Debug("strict status check failed", zap.Error(err))
		return st
	}
	st.Valid = true
	st.HasCredential = true
	st.TokenExpiresAt = tok.ExpiresAt
	st.APIBaseURL = tok.BaseAPIURL
	return st
}

func (f *Facade) fillMetadata(st *Status) {
	md, err := f.meta.Metadata()
	if err != nil {
		f.logger.Debug("reading credential metadata failed", zap.Error(err))
		return
	}
	if md == nil {
		return
	}
	st.Account = md.AccountID
	st.ProviderDomain = md.ProviderDomain
	st.Backend = md.Backend
	st.CreatedAt = md.CreatedAt
	st.CredentialExpiresAt = md.ExpiresAt
	st.HasCredential = md.ExpiresAt == nil || f.now().Before(*md.ExpiresAt)
}
