package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/amirk1998/quicknotes/pkg/errors"
)

type FieldEncryptor struct {
	gcm cipher.AEAD
}

// NewFieldEncryptor creates a new encryptor with AES-256-GCM
func NewFieldEncryptor(key []byte) (*FieldEncryptor, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("%w: key must be 32 bytes for AES-256", errors.ErrInvalidKey)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &FieldEncryptor{gcm: gcm}, nil
}

// EncryptBytes seals plaintext and prefixes the nonce
func (fe *FieldEncryptor) EncryptBytes(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}

	nonce := make([]byte, fe.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: failed to generate nonce: %v", errors.ErrEncryptionFailed, err)
	}

	return fe.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptBytes opens data produced by EncryptBytes
func (fe *FieldEncryptor) DecryptBytes(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}

	nonceSize := fe.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", errors.ErrDecryptionFailed)
	}

	nonce, encryptedData := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := fe.gcm.Open(nil, nonce, encryptedData, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrDecryptionFailed, err)
	}

	return plaintext, nil
}
