package recordstore

import (
	"time"

	"medigate/pkg/domain"
)

// WriteMode selects upsert semantics.
type WriteMode string

const (
	// WriteModeOverwrite replaces the aggregate entirely, preserving only the
	// original CreatedAt when the key already existed.
	WriteModeOverwrite WriteMode = "overwrite"
	// WriteModeMerge appends the incoming entries onto the stored ones. The
	// store does not deduplicate by content; callers must write once per
	// distinct collection event.
	WriteModeMerge WriteMode = "merge"
)

// CheckupEntry is one collected health-checkup result.
type CheckupEntry struct {
	Date        string `json:"date"`
	Location    string `json:"location"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// PrescriptionEntry is one collected prescription record.
type PrescriptionEntry struct {
	Date       string `json:"date"`
	Pharmacy   string `json:"pharmacy"`
	Medication string `json:"medication"`
	Quantity   string `json:"quantity"`
}

// HealthRecordAggregate is the full set of a subject's collected records,
// stored under the subject key. Entries are ordered append-only sequences.
type HealthRecordAggregate struct {
	SubjectID           domain.SubjectID    `json:"subject_id"`
	DisplayName         string              `json:"display_name"`
	ProviderID          domain.ProviderID   `json:"provider_id"`
	CheckupEntries      []CheckupEntry      `json:"checkup_entries"`
	PrescriptionEntries []PrescriptionEntry `json:"prescription_entries"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
	SourceTag           string              `json:"source_tag"`
}

// WriteResult reports what an upsert did so callers can surface degradation
// without the store ever raising it as an error.
type WriteResult struct {
	// Created is true when the key did not previously exist.
	Created bool
	// Degraded is true when the write landed in the non-durable fallback.
	Degraded bool
}

// merged returns the incoming record folded onto an existing aggregate
// according to mode. Shared by every backend so semantics cannot drift.
func merged(existing, incoming HealthRecordAggregate, mode WriteMode, now time.Time) HealthRecordAggregate {
	out := incoming
	out.CreatedAt = existing.CreatedAt
	out.UpdatedAt = now
	if mode == WriteModeMerge {
		out.CheckupEntries = append(append([]CheckupEntry(nil), existing.CheckupEntries...), incoming.CheckupEntries...)
		out.PrescriptionEntries = append(append([]PrescriptionEntry(nil), existing.PrescriptionEntries...), incoming.PrescriptionEntries...)
	}
	return out
}
