package domain

import (
	"strings"

	dErrors "medigate/pkg/domain-errors"
)

// SubjectID identifies the person being verified. It is issued by the
// verification provider (the patient UUID on collection responses) and is
// treated as opaque on this side.
type SubjectID string

// ParseSubjectID validates a provider-issued subject identifier.
func ParseSubjectID(s string) (SubjectID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject id is empty")
	}
	return SubjectID(s), nil
}

func (id SubjectID) String() string { return string(id) }
func (id SubjectID) IsNil() bool    { return id == "" }

// ProviderID identifies the institution the records were collected from
// (the hospital ID on collection responses).
type ProviderID string

// ParseProviderID validates a provider-issued institution identifier.
func ParseProviderID(s string) (ProviderID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "provider id is empty")
	}
	return ProviderID(s), nil
}

func (id ProviderID) String() string { return string(id) }
func (id ProviderID) IsNil() bool    { return id == "" }

// AttemptID identifies one in-flight verification attempt. The provider
// issues it on session start; every asynchronous continuation carries it so
// stale results can be discarded after a reset.
type AttemptID string

func (id AttemptID) String() string { return string(id) }
func (id AttemptID) IsNil() bool    { return id == "" }

// SessionKey is the composite cache key for a credential-gated session.
type SessionKey struct {
	Subject  SubjectID
	Provider ProviderID
}

func (k SessionKey) String() string {
	return k.Subject.String() + ":" + k.Provider.String()
}
