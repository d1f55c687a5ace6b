package collect

import (
	"encoding/json"
	"strings"

	"medigate/internal/provider"
	"medigate/internal/recordstore"
	"medigate/pkg/domain"
)

// Message and status patterns the provider uses around external approval.
// Classification is the single place these strings are interpreted; adding a
// new provider message kind is a one-line addition here.
var notApprovedMarkers = []string{
	"인증을 완료",
	"(4115)",
	"not yet approved",
	"auth_pending",
}

func isNotApproved(status, message string) bool {
	probe := strings.ToLower(status + " " + message)
	for _, marker := range notApprovedMarkers {
		if strings.Contains(probe, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// ClassifyStatus translates one pull-channel snapshot into the event union.
func ClassifyStatus(attempt domain.AttemptID, resp provider.StatusResponse) Event {
	switch strings.ToLower(resp.Status) {
	case "completed", "success":
		if payload, ok := payloadFromStatus(resp); ok {
			return Event{Attempt: attempt, Kind: KindComplete, Payload: payload}
		}
		// Success without a usable payload is advisory until a well-formed
		// terminal frame arrives.
		return Event{Attempt: attempt, Kind: KindProgress, Message: resp.Message}
	case "error", "failed":
		if isNotApproved(resp.Status, resp.Message) {
			return Event{Attempt: attempt, Kind: KindAuthNotYetApproved, Message: resp.Message}
		}
		return Event{Attempt: attempt, Kind: KindFailure, Message: resp.Message}
	case "pending_auth", "auth_pending", "waiting_auth":
		return Event{Attempt: attempt, Kind: KindAuthNotYetApproved, Message: resp.Message}
	default:
		if isNotApproved(resp.Status, resp.Message) {
			return Event{Attempt: attempt, Kind: KindAuthNotYetApproved, Message: resp.Message}
		}
		return Event{Attempt: attempt, Kind: KindProgress, Message: resp.Message}
	}
}

// ClassifyFrame translates one push-channel frame into the event union.
// Malformed frames become empty Progress events: a broken status update must
// never abort an otherwise healthy collection.
func ClassifyFrame(attempt domain.AttemptID, frame provider.PushFrame) Event {
	switch strings.ToLower(frame.Type) {
	case "completed", "collection_completed", "success":
		var resp provider.StatusResponse
		if len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, &resp); err != nil {
				return Event{Attempt: attempt, Kind: KindProgress}
			}
		}
		if payload, ok := payloadFromStatus(resp); ok {
			return Event{Attempt: attempt, Kind: KindComplete, Payload: payload}
		}
		return Event{Attempt: attempt, Kind: KindProgress, Message: frame.Message}
	case "health_data_completed":
		return Event{Attempt: attempt, Kind: KindPartialComplete, Category: "checkup", Message: frame.Message}
	case "prescription_completed":
		return Event{Attempt: attempt, Kind: KindPartialComplete, Category: "prescription", Message: frame.Message}
	case "health_data_failed", "prescription_failed", "error", "failed":
		if isNotApproved(frame.Type, frame.Message) {
			return Event{Attempt: attempt, Kind: KindAuthNotYetApproved, Message: frame.Message}
		}
		return Event{Attempt: attempt, Kind: KindFailure, Message: frame.Message}
	case "progress", "collecting", "":
		return Event{Attempt: attempt, Kind: KindProgress, Message: frame.Message}
	default:
		if isNotApproved(frame.Type, frame.Message) {
			return Event{Attempt: attempt, Kind: KindAuthNotYetApproved, Message: frame.Message}
		}
		return Event{Attempt: attempt, Kind: KindProgress, Message: frame.Message}
	}
}

// payloadFromStatus validates and coerces a terminal snapshot. A success
// without a subject identifier is unusable and rejected.
func payloadFromStatus(resp provider.StatusResponse) (*CompletedPayload, bool) {
	subjectID, err := domain.ParseSubjectID(resp.PatientUUID)
	if err != nil {
		return nil, false
	}

	payload := &CompletedPayload{
		SubjectID:   subjectID,
		ProviderID:  domain.ProviderID(resp.HospitalID),
		DisplayName: resp.UserName,
	}
	if resp.HealthData != nil {
		for _, row := range resp.HealthData.ResultList {
			payload.Checkups = append(payload.Checkups, recordstore.CheckupEntry{
				Date:        row.Date,
				Location:    row.Location,
				Kind:        row.Kind,
				Description: row.Description,
			})
		}
	}
	if resp.PrescriptionData != nil {
		for _, row := range resp.PrescriptionData.ResultList {
			payload.Prescriptions = append(payload.Prescriptions, recordstore.PrescriptionEntry{
				Date:       row.Date,
				Pharmacy:   row.Pharmacy,
				Medication: row.Medication,
				Quantity:   row.Quantity,
			})
		}
	}
	return payload, true
}
