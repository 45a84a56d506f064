// Package vault implements the credential vault: symmetric
// encryption of third-party credential blobs with a versioned key ring so a
// re-key campaign can run concurrently with existing reads, using Go's
// standard authenticated-encryption primitive (see DESIGN.md for why no
// third-party cipher package is used here).
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aideny-kr/chatcore/internal/apperr"
)

// PlaceholderKey is the well-known dev/unset key value. Vault fails closed
// when the active key equals this, rather than silently "encrypting" with a
// key every deployment shares.
const PlaceholderKey = "change-me"

// KeyRing holds every key version the vault can decrypt with, plus which
// version new encryptions should use.
type KeyRing struct {
	ActiveVersion int
	Keys          map[int][]byte // version -> 32-byte AES-256 key
}

// NewKeyRing builds a KeyRing from base64-encoded keys (as loaded from
// appconfig.VaultConfig), validating key length and failing closed on the
// placeholder.
func NewKeyRing(activeVersion int, encodedKeys map[int]string) (*KeyRing, error) {
	if raw, ok := encodedKeys[activeVersion]; ok && raw == PlaceholderKey {
		return nil, apperr.New(apperr.InvariantViolation,
			"vault: active key is the placeholder value; configure a real key before encrypting")
	}

	keys := make(map[int][]byte, len(encodedKeys))
	for version, encoded := range encodedKeys {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("vault: key version %d is not valid base64: %w", version, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("vault: key version %d must decode to 32 bytes, got %d", version, len(key))
		}
		keys[version] = key
	}
	if _, ok := keys[activeVersion]; !ok {
		return nil, fmt.Errorf("vault: no key registered for active_version %d", activeVersion)
	}

	return &KeyRing{ActiveVersion: activeVersion, Keys: keys}, nil
}

// Vault encrypts/decrypts credential maps with AES-256-GCM.
type Vault struct {
	ring *KeyRing
}

// New constructs a Vault over the given key ring.
func New(ring *KeyRing) *Vault {
	return &Vault{ring: ring}
}

// sealed is the envelope persisted as Connection.EncryptedCredentials /
// McpConnector.EncryptedCredentials. KeyVersion travels alongside the
// ciphertext so Decrypt can pick the matching historical key even after the
// active version has rotated past it.
type sealed struct {
	KeyVersion int    `json:"v"`
	Nonce      []byte `json:"n"`
	Ciphertext []byte `json:"c"`
}

// Encrypt seals a credential map under the active key and returns an opaque,
// base64-safe string suitable for a text column.
func (v *Vault) Encrypt(creds map[string]string) (string, int, error) {
	key, ok := v.ring.Keys[v.ring.ActiveVersion]
	if !ok {
		return "", 0, apperr.New(apperr.InvariantViolation, "vault: no active key configured")
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", 0, fmt.Errorf("vault: marshal credentials: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", 0, fmt.Errorf("vault: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", 0, fmt.Errorf("vault: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	env, err := json.Marshal(sealed{KeyVersion: v.ring.ActiveVersion, Nonce: nonce, Ciphertext: ciphertext})
	if err != nil {
		return "", 0, fmt.Errorf("vault: marshal envelope: %w", err)
	}

	return base64.StdEncoding.EncodeToString(env), v.ring.ActiveVersion, nil
}

// Decrypt opens an opaque string produced by Encrypt, using whichever key
// version it was sealed under (which may be older than the ring's current
// active version).
func (v *Vault) Decrypt(opaque string) (map[string]string, error) {
	raw, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return nil, fmt.Errorf("vault: decode envelope: %w", err)
	}

	var env sealed
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("vault: unmarshal envelope: %w", err)
	}

	key, ok := v.ring.Keys[env.KeyVersion]
	if !ok {
		return nil, fmt.Errorf("vault: no key registered for version %d", env.KeyVersion)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if len(env.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("vault: invalid nonce length %d", len(env.Nonce))
	}

	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt: %w", err)
	}

	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("vault: unmarshal credentials: %w", err)
	}
	return creds, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("construct cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
