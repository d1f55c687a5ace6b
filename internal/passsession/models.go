// Package passsession is the client half of the credential-gated session
// authority. The server is the source of truth; everything cached here is a
// necessary but never sufficient condition for trust.
package passsession

import (
	"time"

	"medigate/pkg/domain"
)

// CachedSession is the locally cached mirror of a server-issued session.
type CachedSession struct {
	SessionToken    string    `json:"session_token"`
	ExpiresAt       time.Time `json:"expires_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// Expired reports whether the cached expiry has passed.
func (c CachedSession) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// cacheFile is the on-disk layout when file persistence is enabled.
type cacheFile struct {
	Sessions    map[string]CachedSession `json:"sessions"`
	Credentials map[string]string        `json:"credentials,omitempty"`
}

func cacheKey(key domain.SessionKey) string { return key.String() }
