// Package diagnostics is an optional local inspection surface: stored
// aggregates, per-subject audit trails, health and metrics. It is meant for
// operators and tests, never for end users, and binds to loopback by
// default.
package diagnostics

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medigate/internal/audit"
	"medigate/internal/platform/metrics"
	"medigate/internal/recordstore"
	"medigate/pkg/domain"
	dErrors "medigate/pkg/domain-errors"
	"medigate/pkg/platform/httputil"
)

// Handler builds the diagnostics router.
func Handler(records recordstore.Store, trail audit.Store, logger *slog.Logger) http.Handler {
	h := &handlers{records: records, trail: trail, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/records", h.listRecords)
	r.Get("/audit/{subjectID}", h.listAudit)
	return r
}

type handlers struct {
	records recordstore.Store
	trail   audit.Store
	logger  *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.records.ListAll(r.Context())
	if err != nil {
		h.logger.Error("diagnostics record listing failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []recordstore.HealthRecordAggregate{}
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *handlers) listAudit(w http.ResponseWriter, r *http.Request) {
	subjectID, err := domain.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid subject id"))
		return
	}
	events, err := h.trail.ListBySubject(r.Context(), subjectID)
	if err != nil {
		h.logger.Error("diagnostics audit listing failed", "subject_id", subjectID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}
