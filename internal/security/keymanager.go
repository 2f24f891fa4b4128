package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keyLength = 32

// Context strings keep the derived keys independent of each other.
const (
	dbKeyInfo     = "quicknotes/sqlcipher/v1"
	backupKeyInfo = "quicknotes/backup/v1"
)

type KeyManager struct {
	dbKey     []byte
	backupKey []byte
}

// NewKeyManager derives 32-byte keys from the configured passphrases.
// backupSecret may be empty when backups are disabled.
func NewKeyManager(dbSecret, backupSecret string) (*KeyManager, error) {
	if len(dbSecret) < keyLength {
		return nil, fmt.Errorf("database secret too short (minimum %d characters)", keyLength)
	}

	dbKey, err := deriveKey(dbSecret, dbKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to derive database key: %w", err)
	}

	km := &KeyManager{dbKey: dbKey}

	if backupSecret != "" {
		km.backupKey, err = deriveKey(backupSecret, backupKeyInfo)
		if err != nil {
			return nil, fmt.Errorf("failed to derive backup key: %w", err)
		}
	}

	return km, nil
}

// SQLCipherKey returns the raw database key hex encoded, the form SQLCipher
// accepts as x'...'.
func (km *KeyManager) SQLCipherKey() string {
	return hex.EncodeToString(km.dbKey)
}

// BackupKey returns the backup encryption key, or nil when none was configured.
func (km *KeyManager) BackupKey() []byte {
	return km.backupKey
}

// deriveKey expands secret into a 32-byte key using HKDF-SHA256
func deriveKey(secret, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))

	key := make([]byte, keyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
