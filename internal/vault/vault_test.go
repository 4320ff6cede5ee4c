package vault

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/go-authgate/copilot-auth/internal/autherr"
)

// fakeBackend is an in-memory SecretBackend that counts calls and can be told to fail.
type fakeBackend struct {
	mu       sync.Mutex
	secrets  map[string]string
	setErr   error
	getErr   error
	getCalls int
	setCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{secrets: map[string]string{}}
}

func (f *fakeBackend) Get(account string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return "", f.getErr
	}
	s, ok := f.secrets[account]
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

func (f *fakeBackend) Set(account, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	f.secrets[account] = secret
	return nil
}

func (f *fakeBackend) Delete(account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[account]; !ok {
		return ErrNotFound
	}
	delete(f.secrets, account)
	return nil
}

func (f *fakeBackend) Name() string { return "fake-keyring" }

func newTestVault(t *testing.T, secure SecretBackend) *Vault {
	t.Helper()
	opts := Options{Provider: "github.com", Dir: t.TempDir(), Home: "/home/tester"}
	if secure != nil {
		opts.Secure = secure
	}
	v, err := New(opts)
	require.NoError(t, err)
	return v
}

func TestVault_SaveGetWithSecureBackend(t *testing.T) {
	secure := newFakeBackend()
	v := newTestVault(t, secure)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, v.Save(&StoredCredential{
		Kind:      KindDeviceOAuth,
		Secret:    "gho_secret",
		AccountID: "octocat",
		CreatedAt: created,
	}))

	assert.Equal(t, "gho_secret", secure.secrets["github.com"])
	assert.Equal(t, "fake-keyring", v.Backend())

	// The metadata file must not contain the secret when the keychain holds it.
	raw, err := os.ReadFile(v.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "gho_secret")
	assert.NotContains(t, string(raw), `"secret"`)

	got, err := v.Get()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "gho_secret", got.Secret)
	assert.Equal(t, "octocat", got.AccountID)
	assert.Equal(t, KindDeviceOAuth, got.Kind)
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestVault_FallbackWhenSecureWriteFails(t *testing.T) {
	secure := newFakeBackend()
	secure.setErr = errors.New("dbus: no secret service")
	v := newTestVault(t, secure)

	require.NoError(t, v.Save(&StoredCredential{Kind: KindManual, Secret: "ghp_original:with:colons"}))
	assert.Equal(t, backendFile, v.Backend())

	got, err := v.Get()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ghp_original:with:colons", got.Secret)

	// Subsequent saves in this process skip the keychain entirely.
	require.NoError(t, v.Save(&StoredCredential{Kind: KindManual, Secret: "ghp_second"}))
	assert.Equal(t, 1, secure.setCalls)

	meta, err := v.Metadata()
	require.NoError(t, err)
	assert.Equal(t, backendFile, meta.Backend)
}

func TestVault_FallbackClearsStaleKeychainEntry(t *testing.T) {
	secure := newFakeBackend()
	v := newTestVault(t, secure)
	require.NoError(t, v.Save(&StoredCredential{Kind: KindDeviceOAuth, Secret: "old"}))

	secure.setErr = errors.New("locked")
	require.NoError(t, v.Save(&StoredCredential{Kind: KindDeviceOAuth, Secret: "new"}))

	_, stale := secure.secrets["github.com"]
	assert.False(t, stale)

	got, err := v.Get()
	require.NoError(t, err)
	assert.Equal(t, "new", got.Secret)
}

func TestVault_FileIsAuthoritativeWhenItWroteLast(t *testing.T) {
	dir := t.TempDir()
	// First process: keychain broken, secret goes to the file.
	broken := newFakeBackend()
	broken.setErr = errors.New("locked")
	v1, err := New(Options{Provider: "github.com", Dir: dir, Home: "/h", Secure: broken})
	require.NoError(t, err)
	require.NoError(t, v1.Save(&StoredCredential{Kind: KindManual, Secret: "from-file"}))

	// Second process: keychain works again but still holds an older value.
	healthy := newFakeBackend()
	healthy.secrets["github.com"] = "older"
	v2, err := New(Options{Provider: "github.com", Dir: dir, Home: "/h", Secure: healthy})
	require.NoError(t, err)

	got, err := v2.Get()
	require.NoError(t, err)
	assert.Equal(t, "from-file", got.Secret)
}

func TestVault_FileOnly(t *testing.T) {
	v := newTestVault(t, nil)
	require.NoError(t, v.Save(&StoredCredential{Kind: KindManual, Secret: "ghp_file"}))

	raw, err := os.ReadFile(v.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "ghp_file")
	assert.Contains(t, string(raw), `"secret"`)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(v.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	got, err := v.Get()
	require.NoError(t, err)
	assert.Equal(t, "ghp_file", got.Secret)
}

func TestVault_DeleteIsIdempotent(t *testing.T) {
	secure := newFakeBackend()
	v := newTestVault(t, secure)
	require.NoError(t, v.Save(&StoredCredential{Kind: KindManual, Secret: "ghp_x"}))

	for i := 0; i < 2; i++ {
		require.NoError(t, v.Delete(), "delete #%d", i+1)
		got, err := v.Get()
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	_, err := os.Stat(v.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestVault_DeleteOnEmptyVault(t *testing.T) {
	v := newTestVault(t, nil)
	assert.NoError(t, v.Delete())
	assert.NoError(t, v.Delete())
}

func TestVault_MetadataDoesNotTouchKeychain(t *testing.T) {
	secure := newFakeBackend()
	v := newTestVault(t, secure)
	require.NoError(t, v.Save(&StoredCredential{Kind: KindDeviceOAuth, Secret: "s", AccountID: "octocat"}))

	before := secure.getCalls
	meta, err := v.Metadata()
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "octocat", meta.AccountID)
	assert.Equal(t, "github.com", meta.Provider)
	assert.Equal(t, before, secure.getCalls)
}

func TestVault_MetadataEmpty(t *testing.T) {
	v := newTestVault(t, nil)
	meta, err := v.Metadata()
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestVault_CorruptCiphertextMeansNoCredential(t *testing.T) {
	v := newTestVault(t, nil)
	require.NoError(t, v.Save(&StoredCredential{Kind: KindManual, Secret: "ghp_x"}))

	// Same file read on another machine: the key differs.
	other, err := New(Options{Provider: "github.com", Dir: filepath.Dir(v.Path()), Home: "/elsewhere"})
	require.NoError(t, err)
	got, err := other.Get()
	require.NoError(t, err)
	assert.Nil(t, got)

	// Garbage JSON is treated the same way.
	require.NoError(t, os.WriteFile(v.Path(), []byte("{not json"), 0o600))
	got, err = v.Get()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVault_DecryptFailureLogsEncryptionError(t *testing.T) {
	v := newTestVault(t, nil)
	require.NoError(t, v.Save(&StoredCredential{Kind: KindManual, Secret: "ghp_x"}))

	core, logs := observer.New(zap.WarnLevel)
	other, err := New(Options{
		Provider: "github.com",
		Dir:      filepath.Dir(v.Path()),
		Home:     "/elsewhere",
		Logger:   zap.New(core),
	})
	require.NoError(t, err)

	got, err := other.Get()
	require.NoError(t, err)
	assert.Nil(t, got)

	entries := logs.FilterMessageSnippet("could not be decrypted").All()
	require.Len(t, entries, 1)
	var logged error
	for _, f := range entries[0].Context {
		if f.Key == "error" {
			logged, _ = f.Interface.(error)
		}
	}
	assert.ErrorIs(t, logged, autherr.ErrEncryption)
}

func TestVault_KeychainEntryWithoutRecordIsIgnored(t *testing.T) {
	dir := t.TempDir()
	secure := newFakeBackend()

	v1, err := New(Options{Provider: "github.com", Dir: dir, Home: "/h", Secure: secure})
	require.NoError(t, err)
	require.NoError(t, v1.Save(&StoredCredential{Kind: KindDeviceOAuth, Secret: "gho_old"}))

	// Logout with the keychain disabled only removes the record.
	v2, err := New(Options{Provider: "github.com", Dir: dir, Home: "/h"})
	require.NoError(t, err)
	require.NoError(t, v2.Delete())
	assert.Equal(t, "gho_old", secure.secrets["github.com"])

	v3, err := New(Options{Provider: "github.com", Dir: dir, Home: "/h", Secure: secure})
	require.NoError(t, err)
	got, err := v3.Get()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVault_MetadataWriteFailureUndoesKeychainWrite(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	secure := newFakeBackend()
	v, err := New(Options{Provider: "github.com", Dir: filepath.Join(blocker, "sub"), Home: "/h", Secure: secure})
	require.NoError(t, err)

	err = v.Save(&StoredCredential{Kind: KindDeviceOAuth, Secret: "gho_x"})
	assert.ErrorIs(t, err, autherr.ErrStorage)
	_, left := secure.secrets["github.com"]
	assert.False(t, left)
}

func TestVault_SaveRejectsEmptySecret(t *testing.T) {
	v := newTestVault(t, nil)
	err := v.Save(&StoredCredential{Kind: KindManual})
	assert.ErrorIs(t, err, autherr.ErrValidation)
}

func TestVault_KeychainReadErrorFallsBackToFile(t *testing.T) {
	secure := newFakeBackend()
	secure.setErr = errors.New("locked")
	v := newTestVault(t, secure)
	require.NoError(t, v.Save(&StoredCredential{Kind: KindManual, Secret: "ghp_y"}))

	secure.getErr = errors.New("locked")
	got, err := v.Get()
	require.NoError(t, err)
	assert.Equal(t, "ghp_y", got.Secret)
}

func TestStoredCredentialExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&StoredCredential{}).Expired(now))
	assert.True(t, (&StoredCredential{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&StoredCredential{ExpiresAt: &future}).Expired(now))
}

func TestKeyringBackend(t *testing.T) {
	keyring.MockInit()
	b := &KeyringBackend{Service: "copilot-auth-test"}

	_, err := b.Get("github.com")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, probeBackend(b))

	require.NoError(t, b.Set("github.com", "gho_k"))
	s, err := b.Get("github.com")
	require.NoError(t, err)
	assert.Equal(t, "gho_k", s)

	require.NoError(t, b.Delete("github.com"))
	assert.ErrorIs(t, b.Delete("github.com"), ErrNotFound)
}

func TestKeyringBackend_UnavailableFailsProbe(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	t.Cleanup(keyring.MockInit)

	b := &KeyringBackend{Service: "copilot-auth-test"}
	assert.False(t, probeBackend(b))
	assert.Error(t, b.Set("github.com", "x"))
}
