package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
	"gorm.io/gorm"

	"stationboard/models"
)

// Vault error kinds
const (
	ErrKindNotFound         = "not_found"
	ErrKindDecryptionFailed = "decryption_failed"
)

// Error is a classified credential vault failure
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vault: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("vault: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a vault not-found error
func IsNotFound(err error) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Kind == ErrKindNotFound
}

// Credentials is one decrypted username/password pair. Values are handed
// to the scraper engine only and must never be persisted or logged.
type Credentials struct {
	Username string
	Password string
}

// Source resolves the stored (still encrypted) credential material for an account
type Source interface {
	Credential(accountID uint) (username, encrypted string, err error)
}

// Vault decrypts per-account portal credentials on demand. It is read-only
// and safe for concurrent use by multiple account workers.
type Vault struct {
	src    Source
	cipher cipher.AEAD
}

// New creates a vault over the given source with the given 32-byte key
func New(src Source, key []byte) (*Vault, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{src: src, cipher: aead}, nil
}

// NewWithDB creates a vault backed by the accounts table
func NewWithDB(db *gorm.DB, key []byte) (*Vault, error) {
	return New(&gormSource{db: db}, key)
}

// Get returns the decrypted credentials for an account
func (v *Vault) Get(accountID uint) (Credentials, error) {
	username, encrypted, err := v.src.Credential(accountID)
	if err != nil {
		return Credentials{}, err
	}
	password, err := v.decrypt(encrypted)
	if err != nil {
		return Credentials{}, &Error{Kind: ErrKindDecryptionFailed, Err: err}
	}
	return Credentials{Username: username, Password: password}, nil
}

// Seal encrypts a plaintext password for storage
func (v *Vault) Seal(password string) (string, error) {
	nonce := make([]byte, v.cipher.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := v.cipher.Seal(nonce, nonce, []byte(password), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) decrypt(encrypted string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", err
	}
	if len(raw) < v.cipher.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, sealed := raw[:v.cipher.NonceSize()], raw[v.cipher.NonceSize():]
	plain, err := v.cipher.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// keySalt pins scrypt derivation so the derived key is stable across restarts
var keySalt = []byte("stationboard-vault-v1")

// ResolveKey resolves the vault key with explicit precedence: a dedicated
// ENCRYPTION_KEY (base64 or raw 32 bytes) wins; otherwise the key is
// derived from the session secret with scrypt.
func ResolveKey(encryptionKey, sessionSecret string) ([]byte, error) {
	if encryptionKey != "" {
		if raw, err := base64.StdEncoding.DecodeString(encryptionKey); err == nil && len(raw) == 32 {
			return raw, nil
		}
		if len(encryptionKey) == 32 {
			return []byte(encryptionKey), nil
		}
		return scrypt.Key([]byte(encryptionKey), keySalt, 1<<15, 8, 1, 32)
	}
	if sessionSecret == "" {
		return nil, errors.New("no encryption key and no session secret configured")
	}
	return scrypt.Key([]byte(sessionSecret), keySalt, 1<<15, 8, 1, 32)
}

type gormSource struct {
	db *gorm.DB
}

func (s *gormSource) Credential(accountID uint) (string, string, error) {
	var account models.Account
	if err := s.db.First(&account, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", &Error{Kind: ErrKindNotFound, Err: err}
		}
		return "", "", &Error{Kind: ErrKindNotFound, Err: err}
	}
	if account.Username == "" || account.PasswordEncrypted == "" {
		return "", "", &Error{Kind: ErrKindNotFound, Err: errors.New("no credentials configured")}
	}
	return account.Username, account.PasswordEncrypted, nil
}
