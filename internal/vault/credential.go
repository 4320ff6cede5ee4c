package vault

import "time"

// Kind records how a credential was obtained.
type Kind string

const (
	KindDeviceOAuth Kind = "device-oauth-token"
	KindManual      Kind = "manual-token"
)

// StoredCredential is the long-lived secret for one provider account.
type StoredCredential struct {
	Kind   Kind
	Secret string
	// AccountID is a display identifier such as the GitHub login.
	AccountID string
	// ProviderDomain is set for enterprise hosts.
	ProviderDomain string
	CreatedAt      time.Time
	// ExpiresAt is nil when the provider does not expire the credential.
	ExpiresAt *time.Time
}

// Expired reports whether the credential carries an expiry that has passed.
func (c *StoredCredential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Metadata is the non-secret part of a stored credential.
type Metadata struct {
	Provider       string
	Kind           Kind
	AccountID      string
	ProviderDomain string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	// Backend names where the secret lives ("keyring" or "file").
	Backend string
}

// record is the on-disk JSON layout. Secret is only set when the file backend holds it.
type record struct {
	Provider       string     `json:"provider"`
	Kind           Kind       `json:"kind"`
	AccountID      string     `json:"accountId,omitempty"`
	ProviderDomain string     `json:"providerDomain,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	Backend        string     `json:"backend"`
	Secret         string     `json:"secret,omitempty"`
}

func (r *record) metadata() *Metadata {
	return &Metadata{
		Provider:       r.Provider,
		Kind:           r.Kind,
		AccountID:      r.AccountID,
		ProviderDomain: r.ProviderDomain,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		Backend:        r.Backend,
	}
}

func (r *record) credential(secret string) *StoredCredential {
	return &StoredCredential{
		Kind:           r.Kind,
		Secret:         secret,
		AccountID:      r.AccountID,
		ProviderDomain: r.ProviderDomain,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}
