// Package vault persists the long-lived credential for one provider.
//
// The secret goes to the system keychain when one is available and to an encrypted JSON
// file otherwise. The same JSON file always carries the non-secret metadata, so status
// queries never need a keychain round trip. Writes are last-writer-wins.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/go-authgate/copilot-auth/internal/autherr"
	"github.com/go-authgate/copilot-auth/internal/log"
)

const backendFile = "file"

// Options configures a Vault.
type Options struct {
	// Provider keys the credential, typically the GitHub host.
	Provider string
	// Dir holds the metadata file.
	Dir string
	// Secure is the OS secret store. Nil means the file backend is used exclusively.
	Secure SecretBackend
	// Home is mixed into the file-backend key. Defaults to the user's home directory.
	Home   string
	Logger *zap.Logger
}

// Vault stores exactly one credential for its provider.
type Vault struct {
	provider string
	path     string
	key      []byte
	secure   SecretBackend
	// secureOK flips to false after the first failed keychain write and stays there.
	secureOK atomic.Bool
	logger   *zap.Logger
	now      func() time.Time
}

// New returns a Vault. Pass Options.Secure only when KeyringAvailable reported true.
func New(opts Options) (*Vault, error) {
	if opts.Provider == "" {
		return nil, errors.New("vault: provider is required")
	}
	if opts.Dir == "" {
		return nil, errors.New("vault: storage directory is required")
	}
	home := opts.Home
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			home = os.Getenv("HOME")
		}
	}
	key, err := deriveKey(home, runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return nil, err
	}

	v := &Vault{
		provider: opts.Provider,
		path:     filepath.Join(opts.Dir, fileName(opts.Provider)),
		key:      key,
		secure:   opts.Secure,
		logger:   log.OrNop(opts.Logger).Named("vault"),
		now:      time.Now,
	}
	v.secureOK.Store(opts.Secure != nil)
	return v, nil
}

func fileName(provider string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "\\", "_")
	return r.Replace(provider) + ".json"
}

// Path returns the metadata file location.
func (v *Vault) Path() string {
	return v.path
}

// Backend names the backend new secrets are written to.
func (v *Vault) Backend() string {
	if v.secureOK.Load() {
		return v.secure.Name()
	}
	return backendFile
}

// Save stores cred, replacing whatever was stored before.
func (v *Vault) Save(cred *StoredCredential) error {
	if cred == nil || cred.Secret == "" {
		return autherr.New(autherr.KindValidation, "vault save", "credential secret is empty")
	}

	rec := record{
		Provider:       v.provider,
		Kind:           cred.Kind,
		AccountID:      cred.AccountID,
		ProviderDomain: cred.ProviderDomain,
		CreatedAt:      cred.CreatedAt,
		ExpiresAt:      cred.ExpiresAt,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = v.now().UTC()
	}

	if v.secureOK.Load() {
		if err := v.secure.Set(v.provider, cred.Secret); err != nil {
			v.logger.Debug("keychain write failed, using encrypted file",
				zap.String("backend", v.secure.Name()), zap.Error(err))
			v.secureOK.Store(false)
			// An older secret left in the keychain must not shadow the new one.
			if delErr := v.secure.Delete(v.provider); delErr != nil && !errors.Is(delErr, ErrNotFound) {
				v.logger.Debug("could not clear stale keychain entry", zap.Error(delErr))
			}
		} else {
			rec.Backend = v.secure.Name()
		}
	}

	if rec.Backend == "" {
		sealed, err := encrypt(v.key, cred.Secret)
		if err != nil {
			return autherr.Wrap(autherr.KindStorage, "vault save", "encrypting credential", err)
		}
		rec.Backend = backendFile
		rec.Secret = sealed
	}

	if err := v.writeRecord(&rec); err != nil {
		if rec.Backend != backendFile {
			// Get ignores keychain entries without a record.
			if delErr := v.secure.Delete(v.provider); delErr != nil && !errors.Is(delErr, ErrNotFound) {
				v.logger.Debug("could not remove unindexed keychain entry", zap.Error(delErr))
			}
		}
		return autherr.Wrap(autherr.KindStorage, "vault save", "writing credential file", err).
			WithHint("ensure " + filepath.Dir(v.path) + " is writable")
	}
	return nil
}

// Get returns the stored credential, or nil when none is usable. Undecryptable ciphertext
// counts as "none".
func (v *Vault) Get() (*StoredCredential, error) {
	rec, err := v.readRecord()
	if err != nil {
		return nil, autherr.Wrap(autherr.KindStorage, "vault get", "reading credential file", err)
	}

	// The file is authoritative when it records itself as the last writer.
	fileIsLatest := rec != nil && rec.Backend == backendFile && rec.Secret != ""

	// A keychain entry without a record is left over from a logout that could not reach
	// the keychain, so it is never returned.
	if v.secureOK.Load() && rec != nil && !fileIsLatest {
		secret, err := v.secure.Get(v.provider)
		switch {
		case err == nil && secret != "":
			return rec.credential(secret), nil
		case err != nil && !errors.Is(err, ErrNotFound):
			v.logger.Debug("keychain read failed, trying encrypted file", zap.Error(err))
		}
	}

	if rec == nil || rec.Secret == "" {
		return nil, nil
	}
	secret, err := decrypt(v.key, rec.Secret)
	if err != nil {
		err = autherr.Wrap(autherr.KindEncryption, "vault get", "decrypting credential", err)
		v.logger.Warn("stored credential could not be decrypted, re-authentication required",
			zap.String("path", v.path), zap.Error(err))
		return nil, nil
	}
	return rec.credential(secret), nil
}

// Delete removes the credential from every backend. Deleting nothing is not an error.
// A keychain entry that survives because the keychain is unreachable is orphaned by the
// missing record and never read back.
func (v *Vault) Delete() error {
	if v.secure != nil {
		if err := v.secure.Delete(v.provider); err != nil && !errors.Is(err, ErrNotFound) {
			v.logger.Debug("keychain delete failed", zap.Error(err))
		}
	}
	if err := os.Remove(v.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return autherr.Wrap(autherr.KindStorage, "vault delete", "removing credential file", err)
	}
	return nil
}

// Metadata reads the non-secret fields without touching the keychain. Nil means nothing is stored.
func (v *Vault) Metadata() (*Metadata, error) {
	rec, err := v.readRecord()
	if err != nil {
		return nil, autherr.Wrap(autherr.KindStorage, "vault metadata", "reading credential file", err)
	}
	if rec == nil {
		return nil, nil
	}
	return rec.metadata(), nil
}

func (v *Vault) readRecord() (*record, error) {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		v.logger.Warn("ignoring corrupt credential file", zap.String("path", v.path), zap.Error(err))
		return nil, nil
	}
	return &rec, nil
}

// writeRecord replaces the file atomically with owner-only permissions.
func (v *Vault) writeRecord(rec *record) error {
	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tempFile := v.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, v.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
