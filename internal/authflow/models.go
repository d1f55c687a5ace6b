package authflow

import (
	"time"

	"medigate/pkg/domain"
)

// Step is the closed progression of a verification flow. Completed and
// Errored are terminal; only Reset returns to Unauthenticated.
type Step string

const (
	StepUnauthenticated         Step = "unauthenticated"
	StepTermsPending            Step = "terms_pending"
	StepInfoConfirming          Step = "info_confirming"
	StepMethodPending           Step = "method_pending"
	StepExternalApprovalPending Step = "external_approval_pending"
	StepCollecting              Step = "collecting"
	StepCompleted               Step = "completed"
	StepErrored                 Step = "errored"
)

// Terminal reports whether the step accepts no further events.
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepErrored
}

// TermsAgreement carries the user's clause selections. Service and privacy
// are mandatory; marketing is optional.
type TermsAgreement struct {
	ServiceTerms  bool
	PrivacyPolicy bool
	Marketing     bool
}

func (a TermsAgreement) mandatoryAccepted() bool {
	return a.ServiceTerms && a.PrivacyPolicy
}

// SubjectField names one slot of the subject-info sub-cursor.
type SubjectField string

const (
	FieldName     SubjectField = "name"
	FieldPhone    SubjectField = "phone"
	FieldBirthday SubjectField = "birthday"
	FieldMethod   SubjectField = "method"
)

// SubjectInfo is the user-entered identity payload sent on session start.
type SubjectInfo struct {
	Name     string
	Phone    string
	Birthday string
	Method   string
}

// identityComplete reports whether name, phone and birthday are all set.
func (i SubjectInfo) identityComplete() bool {
	return i.Name != "" && i.Phone != "" && i.Birthday != ""
}

// complete reports whether every field including the method is set.
func (i SubjectInfo) complete() bool {
	return i.identityComplete() && i.Method != ""
}

// Path is the branch chosen after the pre-check lookup.
type Path string

const (
	// PathUndecided means the pre-check has not run yet.
	PathUndecided Path = ""
	// PathFreshCollection means no usable stored data was found; the flow
	// proceeds to a first-time collection.
	PathFreshCollection Path = "fresh_collection"
	// PathCredentialConfirm means stored records and a local credential
	// both exist; the flow can offer a credential prompt instead of a full
	// re-verification.
	PathCredentialConfirm Path = "credential_confirm"
)

// VerificationSession is the mutable state of one flow. It is owned by the
// machine and mutated only under its lock.
type VerificationSession struct {
	AttemptID domain.AttemptID
	Subject   SubjectInfo
	Path      Path
	CreatedAt time.Time
}

// Notice is an advisory surfaced to the caller without a step change.
type Notice struct {
	Kind    NoticeKind
	Message string
}

type NoticeKind string

const (
	// NoticeApprovalPending means the external approval step has not been
	// finished by the user yet. Never terminal.
	NoticeApprovalPending NoticeKind = "approval_pending"
	// NoticePartialComplete means one record category finished collecting.
	NoticePartialComplete NoticeKind = "partial_complete"
	// NoticeStorageDegraded means records were written to the non-durable
	// fallback store.
	NoticeStorageDegraded NoticeKind = "storage_degraded"
	// NoticeSessionUnavailable means records were stored but the follow-up
	// session mint failed; access will require a fresh session.
	NoticeSessionUnavailable NoticeKind = "session_unavailable"
)

// Snapshot captures the flow position so an accidental restart can restore
// the user's place. It is a display aid, not a durable contract: an
// in-flight attempt cannot be resumed, so live steps demote to
// MethodPending where the user can start again with their info intact.
type Snapshot struct {
	Step      Step        `json:"step"`
	Subject   SubjectInfo `json:"subject"`
	Path      Path        `json:"path"`
	CreatedAt time.Time   `json:"created_at"`
}
