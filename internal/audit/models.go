package audit

import (
	"time"

	"medigate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose. This
// enables different retention policies and routing per category.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance for
	// health-record handling. These need long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring.
	// Examples: session rejections, fingerprint drift, revocations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and
	// operational visibility. These can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from flow logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category   EventCategory
	Timestamp  time.Time
	SubjectID  domain.SubjectID
	ProviderID domain.ProviderID
	AttemptID  domain.AttemptID
	Action     string
	Outcome    string
	Reason     string
}

type AuditEvent string

const (
	// Flow events
	EventFlowStarted     AuditEvent = "flow_started"
	EventTermsAccepted   AuditEvent = "terms_accepted"
	EventSubjectInfoSet  AuditEvent = "subject_info_submitted"
	EventAuthStarted     AuditEvent = "auth_started"
	EventAuthCompleted   AuditEvent = "auth_completed"
	EventAuthFailed      AuditEvent = "auth_failed"
	EventAttemptTimedOut AuditEvent = "attempt_timed_out"
	EventFlowReset       AuditEvent = "flow_reset"

	// Record events
	EventRecordsCollected AuditEvent = "records_collected"
	EventRecordUpserted   AuditEvent = "record_upserted"
	EventStoreDegraded    AuditEvent = "store_degraded"

	// Session events
	EventSessionCreated  AuditEvent = "session_created"
	EventSessionRejected AuditEvent = "session_rejected"
	EventSessionRevoked  AuditEvent = "session_revoked"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventRecordsCollected: CategoryCompliance,
	EventRecordUpserted:   CategoryCompliance,
	EventAuthCompleted:    CategoryCompliance,

	EventAuthFailed:      CategorySecurity,
	EventSessionRejected: CategorySecurity,
	EventSessionRevoked:  CategorySecurity,

	EventFlowStarted:     CategoryOperations,
	EventTermsAccepted:   CategoryOperations,
	EventSubjectInfoSet:  CategoryOperations,
	EventAuthStarted:     CategoryOperations,
	EventAttemptTimedOut: CategoryOperations,
	EventFlowReset:       CategoryOperations,
	EventSessionCreated:  CategoryOperations,
	EventStoreDegraded:   CategoryOperations,
}

// Category returns the category for the event, defaulting to operations
// for unmapped actions.
func (e AuditEvent) Category() EventCategory {
	if category, ok := eventCategories[e]; ok {
		return category
	}
	return CategoryOperations
}
