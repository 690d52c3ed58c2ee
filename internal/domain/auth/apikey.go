package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin grants access to every admin route.
const ScopeAdmin = "admin"

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries scope or the admin scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, ScopeAdmin) || slices.Contains(k.Scopes, scope)
}

// KeyRepository provides lookup and storage of API keys by their HMAC hash.
type KeyRepository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
	CreateKey(ctx context.Context, info *APIKeyInfo) error
}

// ErrUnauthorized is returned for a missing, unknown or inactive credential.
var ErrUnauthorized = errors.New("unauthorized")

// HashKey returns the hex HMAC-SHA256 of key under pepper.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// KeyAuthenticator validates admin API keys.
type KeyAuthenticator struct {
	keys   KeyRepository
	pepper []byte
}

// NewKeyAuthenticator creates a KeyAuthenticator with the given repository
// and HMAC pepper.
func NewKeyAuthenticator(keys KeyRepository, pepper []byte) *KeyAuthenticator {
	return &KeyAuthenticator{keys: keys, pepper: pepper}
}

// Authenticate hashes key, looks it up and compares the stored hash in
// constant time.
func (a *KeyAuthenticator) Authenticate(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return nil, ErrUnauthorized
	}

	// The repository may return a row whose hash differs from ours.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}

// Issue creates a new random API key, stores its hash and returns the
// plaintext key. The plaintext is not recoverable later.
func (a *KeyAuthenticator) Issue(ctx context.Context, name string, scopes []string) (string, error) {
	key, err := randomHex(24)
	if err != nil {
		return "", err
	}
	key = "dd_" + key
	if err := a.keys.CreateKey(ctx, &APIKeyInfo{
		KeyHash: HashKey(a.pepper, key),
		Name:    name,
		Scopes:  scopes,
	}); err != nil {
		return "", errors.Wrap(err, "store api key")
	}
	return key, nil
}
