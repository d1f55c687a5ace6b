package passsession

import (
	"golang.org/x/crypto/bcrypt"

	"medigate/pkg/domain"
	dErrors "medigate/pkg/domain-errors"
)

// CredentialVault stores local-only bcrypt hashes of simple-auth PINs,
// keyed per (subject, provider). A stored hash lets the flow skip the PIN
// prompt on repeat verifications; it is never sent anywhere.
type CredentialVault struct {
	cache *Cache
}

func NewCredentialVault(cache *Cache) *CredentialVault {
	return &CredentialVault{cache: cache}
}

// Set hashes and stores the PIN for key, replacing any previous value.
func (v *CredentialVault) Set(key domain.SessionKey, pin string) error {
	if pin == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "pin must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash pin")
	}
	v.cache.putCredential(key, string(hash))
	return nil
}

// Has reports whether a credential is stored for key.
func (v *CredentialVault) Has(key domain.SessionKey) bool {
	_, ok := v.cache.getCredential(key)
	return ok
}

// Confirm checks pin against the stored hash. A missing credential and a
// mismatched pin are both reported as false without error.
func (v *CredentialVault) Confirm(key domain.SessionKey, pin string) bool {
	hash, ok := v.cache.getCredential(key)
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}

// Forget removes the stored credential for key.
func (v *CredentialVault) Forget(key domain.SessionKey) {
	v.cache.deleteCredential(key)
}
