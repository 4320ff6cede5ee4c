package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

var errMalformedCiphertext = errors.New("malformed ciphertext")

// deriveKey derives the file-backend key from machine facts. This obscures the secret on
// disk; anyone with the same home directory on the same platform can rebuild the key.
func deriveKey(home, goos, goarch string) ([]byte, error) {
	ikm := []byte(home + "\x00" + goos + "\x00" + goarch)
	r := hkdf.New(sha256.New, ikm, []byte(ServiceName), []byte("credential-file/v1"))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// encrypt seals plaintext with AES-GCM and returns "hex(iv):hex(payload)".
func encrypt(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(sealed), nil
}

// decrypt reverses encrypt. Hex never contains ':', so the first delimiter is the split point.
func decrypt(key []byte, ciphertext string) (string, error) {
	ivHex, payloadHex, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", errMalformedCiphertext
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", errMalformedCiphertext, err)
	}
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return "", fmt.Errorf("%w: payload: %v", errMalformedCiphertext, err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(iv) != gcm.NonceSize() {
		return "", fmt.Errorf("%w: iv length %d", errMalformedCiphertext, len(iv))
	}
	plain, err := gcm.Open(nil, iv, payload, nil)
	if err != nil {
		return "", fmt.Errorf("opening ciphertext: %w", err)
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return gcm, nil
}
