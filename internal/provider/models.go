package provider

import "encoding/json"

// StartRequest begins a verification attempt with the provider.
type StartRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Birthday string `json:"birthday"`
	Method   string `json:"method"`
}

// StartResponse carries the provider-issued attempt identifier.
type StartResponse struct {
	SessionID string `json:"session_id"`
}

// CheckupResult is one raw checkup row as the provider ships it.
type CheckupResult struct {
	Date        string `json:"date"`
	Location    string `json:"location"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// PrescriptionResult is one raw prescription row as the provider ships it.
type PrescriptionResult struct {
	Date       string `json:"date"`
	Pharmacy   string `json:"pharmacy"`
	Medication string `json:"medication"`
	Quantity   string `json:"quantity"`
}

// HealthData mirrors the provider's checkup payload envelope. The field
// casing is the provider's, not ours.
type HealthData struct {
	ResultList []CheckupResult `json:"ResultList"`
}

// PrescriptionData mirrors the provider's prescription payload envelope.
type PrescriptionData struct {
	ResultList []PrescriptionResult `json:"ResultList"`
}

// StatusResponse is the polling snapshot of an attempt. Most fields are only
// present on terminal success.
type StatusResponse struct {
	Status           string            `json:"status"`
	Message          string            `json:"message,omitempty"`
	HealthData       *HealthData       `json:"health_data,omitempty"`
	PrescriptionData *PrescriptionData `json:"prescription_data,omitempty"`
	PatientUUID      string            `json:"patient_uuid,omitempty"`
	HospitalID       string            `json:"hospital_id,omitempty"`
	UserName         string            `json:"user_name,omitempty"`
}

// PushFrame is one event-stream message. Payload, when present, carries the
// same shape as a terminal StatusResponse.
type PushFrame struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// eventsResponse is one long-poll page of the push stream.
type eventsResponse struct {
	Next   string      `json:"next"`
	Frames []PushFrame `json:"frames"`
}

// CreateSessionRequest asks the session server for a credential-gated token.
type CreateSessionRequest struct {
	SubjectID         string `json:"subject_id"`
	ProviderID        string `json:"provider_id"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// CreateSessionResponse is the minted session token with its server-side
// expiry.
type CreateSessionResponse struct {
	SessionToken    string `json:"session_token"`
	ExpiresAt       int64  `json:"expires_at"`
	DurationMinutes int    `json:"duration_minutes"`
}

// VerifySessionRequest re-validates a cached token against the server.
type VerifySessionRequest struct {
	SessionToken      string `json:"session_token"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// VerifySessionResponse confirms which subject and provider the token is
// bound to.
type VerifySessionResponse struct {
	SubjectID  string `json:"subject_id"`
	ProviderID string `json:"provider_id"`
	ExpiresAt  int64  `json:"expires_at"`
}
