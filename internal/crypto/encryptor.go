// Package crypto provides AES-256-GCM encryption for destination signing
// secrets kept at rest.
//
// Each encryption uses a random nonce, so sealing the same plaintext twice
// yields different ciphertexts.
//
//	encryptor, err := crypto.NewConfigEncryptor(os.Getenv("CONFIG_ENCRYPTION_KEY"))
//	if err != nil {
//		return err
//	}
//	sealed, err := encryptor.Seal("whsec_...")
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"webhook-relay/internal/common/errors"
)

// sealedPrefix marks values produced by Seal so stored plaintext written
// before a key was configured can still be read.
const sealedPrefix = "enc:v1:"

// ConfigEncryptor handles encryption and decryption of sensitive
// configuration data. It is safe for concurrent use.
type ConfigEncryptor struct {
	key []byte // 32-byte AES-256 encryption key
}

// NewConfigEncryptor derives a 32-byte key from key with PBKDF2.
func NewConfigEncryptor(key string) (*ConfigEncryptor, error) {
	if key == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	salt := []byte("webhook-relay-salt")
	derivedKey := pbkdf2.Key([]byte(key), salt, 10000, 32, sha256.New)

	return &ConfigEncryptor{key: derivedKey}, nil
}

func (e *ConfigEncryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}
	return gcm, nil
}

// Encrypt returns base64(nonce || ciphertext). Empty input stays empty.
func (e *ConfigEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Tampered input or a wrong key fails GCM
// authentication.
func (e *ConfigEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}

	return string(plaintext), nil
}

// Seal encrypts a secret for storage and tags it with a version prefix.
func (e *ConfigEncryptor) Seal(secret string) (string, error) {
	if secret == "" || IsSealed(secret) {
		return secret, nil
	}
	encrypted, err := e.Encrypt(secret)
	if err != nil {
		return "", err
	}
	return sealedPrefix + encrypted, nil
}

// Open returns the plaintext of a stored secret. Untagged values are
// returned unchanged.
func (e *ConfigEncryptor) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	return e.Decrypt(strings.TrimPrefix(stored, sealedPrefix))
}

// IsSealed reports whether stored was produced by Seal.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}
