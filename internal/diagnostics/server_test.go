package diagnostics

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"medigate/internal/audit"
	"medigate/internal/recordstore"
	"medigate/pkg/domain"
	dErrors "medigate/pkg/domain-errors"
	"medigate/pkg/testutil"
)

type DiagnosticsSuite struct {
	suite.Suite
	records *recordstore.InMemoryStore
	trail   *audit.InMemoryStore
	server  *httptest.Server
}

func TestDiagnosticsSuite(t *testing.T) {
	suite.Run(t, new(DiagnosticsSuite))
}

func (s *DiagnosticsSuite) SetupTest() {
	s.records = recordstore.NewInMemory()
	s.trail = audit.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.server = httptest.NewServer(Handler(s.records, s.trail, logger))
}

func (s *DiagnosticsSuite) TearDownTest() {
	s.server.Close()
}

func (s *DiagnosticsSuite) get(path string, out any) int {
	resp, err := http.Get(s.server.URL + path)
	s.Require().NoError(err)
	defer resp.Body.Close()
	if out != nil {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *DiagnosticsSuite) TestHealth() {
	var body map[string]string
	s.Equal(http.StatusOK, s.get("/healthz", &body))
	s.Equal("ok", body["status"])
}

func (s *DiagnosticsSuite) TestListRecords() {
	_, err := s.records.Upsert(context.Background(), recordstore.HealthRecordAggregate{
		SubjectID:   "U1",
		DisplayName: "Hong Gildong",
		ProviderID:  "H1",
	}, recordstore.WriteModeOverwrite)
	s.Require().NoError(err)

	var records []recordstore.HealthRecordAggregate
	s.Equal(http.StatusOK, s.get("/records", &records))
	s.Require().Len(records, 1)
	s.Equal("Hong Gildong", records[0].DisplayName)
}

func (s *DiagnosticsSuite) TestListRecordsEmpty() {
	var records []recordstore.HealthRecordAggregate
	s.Equal(http.StatusOK, s.get("/records", &records))
	s.Empty(records)
}

func (s *DiagnosticsSuite) TestListAuditBySubject() {
	s.Require().NoError(s.trail.Append(context.Background(), audit.Event{
		SubjectID: "U1",
		Action:    string(audit.EventRecordsCollected),
	}))
	s.Require().NoError(s.trail.Append(context.Background(), audit.Event{
		SubjectID: "U2",
		Action:    string(audit.EventFlowStarted),
	}))

	var events []audit.Event
	s.Equal(http.StatusOK, s.get("/audit/U1", &events))
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventRecordsCollected), events[0].Action)
}

func (s *DiagnosticsSuite) TestRecordListingFailureMapsToError() {
	handler := Handler(offlineStore{}, s.trail, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rr := testutil.DoRequest(handler, testutil.NewRequest(s.T(), http.MethodGet, "/records"))
	testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
	body := testutil.UnmarshalErrorResponse(s.T(), rr)
	s.Equal("internal", body.Code)
}

func (s *DiagnosticsSuite) TestMetricsExposed() {
	resp, err := http.Get(s.server.URL + "/metrics")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}

// offlineStore fails every operation.
type offlineStore struct{}

func (offlineStore) Upsert(context.Context, recordstore.HealthRecordAggregate, recordstore.WriteMode) (recordstore.WriteResult, error) {
	return recordstore.WriteResult{}, dErrors.New(dErrors.CodeInternal, "storage offline")
}

func (offlineStore) Get(context.Context, domain.SubjectID) (recordstore.HealthRecordAggregate, error) {
	return recordstore.HealthRecordAggregate{}, dErrors.New(dErrors.CodeInternal, "storage offline")
}

func (offlineStore) Delete(context.Context, domain.SubjectID) error {
	return dErrors.New(dErrors.CodeInternal, "storage offline")
}

func (offlineStore) ListAll(context.Context) ([]recordstore.HealthRecordAggregate, error) {
	return nil, dErrors.New(dErrors.CodeInternal, "storage offline")
}
