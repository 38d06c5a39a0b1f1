package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance, such as a
	// completed identity verification.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring: forged,
	// replayed or expired state and provider rejections.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine pipeline progress.
	CategoryOperations EventCategory = "operations"
)

// Severity levels for audit events.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// AuditEvent names a pipeline audit action.
type AuditEvent string

const (
	EventStateIssued           AuditEvent = "STATE_ISSUED"
	EventInitiated             AuditEvent = "INITIATED"
	EventFailureReason         AuditEvent = "FAILURE_REASON"
	EventTokenExchangeSuccess  AuditEvent = "TOKEN_EXCHANGE_SUCCESS"
	EventProfileFetchSuccess   AuditEvent = "PROFILE_FETCH_SUCCESS"
	EventVerificationCompleted AuditEvent = "VERIFICATION_COMPLETED"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventVerificationCompleted: CategoryCompliance,
	EventFailureReason:         CategorySecurity,

	EventStateIssued:          CategoryOperations,
	EventInitiated:            CategoryOperations,
	EventTokenExchangeSuccess: CategoryOperations,
	EventProfileFetchSuccess:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from the pipeline to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out. Attributes must never
// carry secrets or profile values.
type Event struct {
	ID         string
	Category   EventCategory
	Action     string
	Severity   Severity
	Timestamp  time.Time
	TenantID   string
	Stage      string
	Reason     string
	RequestID  string
	ClientIP   string
	UserAgent  string
	Attributes map[string]any
}

// Store persists or ships audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
