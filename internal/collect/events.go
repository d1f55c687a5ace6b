// Package collect reconciles the push and pull channels of one verification
// attempt into a single ordered event stream with an at-most-once completion
// guarantee.
package collect

import (
	"medigate/internal/recordstore"
	"medigate/pkg/domain"
)

// EventKind tags the collection event union.
type EventKind string

const (
	// KindProgress is an advisory liveness update. Consumers must treat it
	// as idempotent; cross-channel ordering of progress is not guaranteed.
	KindProgress EventKind = "progress"
	// KindPartialComplete marks one record category finished while others
	// are still collecting.
	KindPartialComplete EventKind = "partial_complete"
	// KindComplete carries the collected payload. Delivered at most once per
	// attempt regardless of which channel observed success first.
	KindComplete EventKind = "complete"
	// KindAuthNotYetApproved means the external approval step is still
	// pending. Expected intermediate status, never a terminal failure.
	KindAuthNotYetApproved EventKind = "auth_not_yet_approved"
	// KindFailure is terminal for the attempt.
	KindFailure EventKind = "failure"
)

// Event is the normalized collection event. Channel origin is erased: both
// physical sources are translated through the same classification rules.
type Event struct {
	Attempt  domain.AttemptID
	Kind     EventKind
	Category string // set for PartialComplete
	Message  string
	Payload  *CompletedPayload // set for Complete
}

// CompletedPayload is the validated terminal payload, coerced at this
// boundary so unvalidated provider shapes never reach the state machine.
type CompletedPayload struct {
	SubjectID     domain.SubjectID
	ProviderID    domain.ProviderID
	DisplayName   string
	Checkups      []recordstore.CheckupEntry
	Prescriptions []recordstore.PrescriptionEntry
}
