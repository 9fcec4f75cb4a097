package vault

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/LCodingX/influence-dashboard/internal/logger"
)

var (
	// ErrConfiguration means the master key is missing or malformed. Nothing
	// can be encrypted or decrypted until the operator fixes the deployment.
	ErrConfiguration = errors.New("vault: master key not configured")
	// ErrDecryption covers every failed decryption: truncated blob, tag
	// mismatch, wrong key. Callers treat all of them as "reconfigure your
	// credential"; there is no partial decryption.
	ErrDecryption = errors.New("vault: decryption failed")
)

// Vault seals user-supplied backend secrets with XChaCha20-Poly1305 under a
// server-held master key. Each Encrypt draws a fresh random nonce; the blob
// layout is nonce || ciphertext+tag.
type Vault struct {
	key []byte
	log *logger.Logger
}

// New builds a Vault from a hex-encoded 32-byte master key. The key comes
// from process configuration (VAULT_MASTER_KEY); it is injected here rather
// than read from a global so tests can substitute their own.
func New(masterKeyHex string, baseLog *logger.Logger) (*Vault, error) {
	masterKeyHex = strings.TrimSpace(masterKeyHex)
	if masterKeyHex == "" {
		return nil, ErrConfiguration
	}
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: expected %d hex-encoded bytes", ErrConfiguration, chacha20poly1305.KeySize)
	}
	var log *logger.Logger
	if baseLog != nil {
		log = baseLog.With("component", "Vault")
	}
	return &Vault{key: key, log: log}, nil
}

func (v *Vault) Encrypt(plaintext string) ([]byte, error) {
	if v == nil || len(v.key) == 0 {
		return nil, ErrConfiguration
	}
	if plaintext == "" {
		return nil, fmt.Errorf("vault: refusing to encrypt empty plaintext")
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}
	blob := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return blob, nil
}

func (v *Vault) Decrypt(blob []byte) (string, error) {
	if v == nil || len(v.key) == 0 {
		return "", ErrConfiguration
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if len(blob) < aead.NonceSize()+aead.Overhead() {
		return "", ErrDecryption
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		if v.log != nil {
			v.log.Warn("Credential decryption failed", "error", err)
		}
		return "", ErrDecryption
	}
	return string(plaintext), nil
}

// LastFour derives the display fragment shown to users instead of the
// secret. It is computed on read and never persisted alongside plaintext.
func LastFour(secret string) string {
	if len(secret) <= 4 {
		return secret
	}
	return secret[len(secret)-4:]
}
