package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// ServiceName is the keyring service the secrets are filed under.
const ServiceName = "copilot-auth"

// ErrNotFound is returned by a SecretBackend that holds no secret for the account.
var ErrNotFound = errors.New("secret not found")

// SecretBackend is an OS-level secret store.
type SecretBackend interface {
	Get(account string) (string, error)
	Set(account, secret string) error
	Delete(account string) error
	Name() string
}

// KeyringBackend stores secrets in the system keychain (macOS Keychain, Secret Service,
// Windows Credential Manager).
type KeyringBackend struct {
	Service string
}

// NewKeyringBackend returns a backend filing secrets under ServiceName.
func NewKeyringBackend() *KeyringBackend {
	return &KeyringBackend{Service: ServiceName}
}

func (k *KeyringBackend) Get(account string) (string, error) {
	secret, err := keyring.Get(k.Service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keychain get: %w", err)
	}
	return secret, nil
}

func (k *KeyringBackend) Set(account, secret string) error {
	if err := keyring.Set(k.Service, account, secret); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

func (k *KeyringBackend) Delete(account string) error {
	err := keyring.Delete(k.Service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

func (k *KeyringBackend) Name() string {
	return "keyring"
}

// probeAccount is looked up once to see whether the keychain answers at all.
const probeAccount = "__probe__"

var keyringAvailable = sync.OnceValue(func() bool {
	return probeBackend(NewKeyringBackend())
})

// KeyringAvailable reports whether the system keychain can be used. The probe runs once per
// process; later calls return the memoized answer.
func KeyringAvailable() bool {
	return keyringAvailable()
}

func probeBackend(b SecretBackend) bool {
	_, err := b.Get(probeAccount)
	return err == nil || errors.Is(err, ErrNotFound)
}
