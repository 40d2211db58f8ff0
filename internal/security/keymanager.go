package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const derivedKeyLength = 32

// HKDF info labels. Changing one rotates every key derived with it.
const (
	infoDatabase = "gatekeeper/db/v1"
	infoTokens   = "gatekeeper/session-token/v1"
	infoBackup   = "gatekeeper/backup/v1"
)

// KeyManager turns the configured secrets into purpose-bound 32-byte keys.
type KeyManager struct {
	dbKey     []byte
	tokenKey  []byte
	backupKey []byte
}

// NewKeyManager derives keys from the raw configuration secrets. backupSecret
// may be empty when backups are disabled.
func NewKeyManager(dbSecret, appSecret, backupSecret string) (*KeyManager, error) {
	if appSecret == "" {
		return nil, fmt.Errorf("app secret is required")
	}

	km := &KeyManager{}
	var err error

	if dbSecret != "" {
		if km.dbKey, err = deriveKey(dbSecret, infoDatabase); err != nil {
			return nil, err
		}
	}
	if km.tokenKey, err = deriveKey(appSecret, infoTokens); err != nil {
		return nil, err
	}
	if backupSecret != "" {
		if km.backupKey, err = deriveKey(backupSecret, infoBackup); err != nil {
			return nil, err
		}
	}

	return km, nil
}

// GetDBKey returns the SQLCipher key as a hex string, or "" when unset.
func (km *KeyManager) GetDBKey() string {
	if km.dbKey == nil {
		return ""
	}
	return hex.EncodeToString(km.dbKey)
}

// GetTokenKey returns the HMAC key for session tokens
func (km *KeyManager) GetTokenKey() []byte {
	return km.tokenKey
}

// GetBackupKey returns the AES-256 key for backups, or nil when unset.
func (km *KeyManager) GetBackupKey() []byte {
	return km.backupKey
}

func deriveKey(secret, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	key := make([]byte, derivedKeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
