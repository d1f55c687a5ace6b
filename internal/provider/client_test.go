package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	dErrors "medigate/pkg/domain-errors"
)

// fakeProvider is a scripted verification provider. Handlers are swapped per
// test; the zero value answers 404 everywhere.
type fakeProvider struct {
	mu     sync.Mutex
	status StatusResponse
	pages  []eventsResponse

	server *httptest.Server
}

func newFakeProvider() *fakeProvider {
	f := &fakeProvider{}
	r := chi.NewRouter()
	r.Post("/session/start", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, StartResponse{SessionID: "sess-1"})
	})
	r.Get("/session/{id}/status", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.status)
	})
	r.Get("/session/{id}/events", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.pages) == 0 {
			writeJSON(w, eventsResponse{Next: "end"})
			return
		}
		page := f.pages[0]
		f.pages = f.pages[1:]
		writeJSON(w, page)
	})
	r.Post("/sessions/verify", func(w http.ResponseWriter, r *http.Request) {
		var req VerifySessionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.SessionToken != "good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, VerifySessionResponse{SubjectID: "U1", ProviderID: "H1"})
	})
	f.server = httptest.NewServer(r)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ProviderClientSuite tests the boundary contract: shape validation, error
// coding, and the long-poll event stream.
type ProviderClientSuite struct {
	suite.Suite
	fake   *fakeProvider
	client *Client
}

func (s *ProviderClientSuite) SetupTest() {
	s.fake = newFakeProvider()
	client, err := NewClient(ClientConfig{
		BaseURL:        s.fake.server.URL,
		RequestTimeout: 2 * time.Second,
	})
	s.Require().NoError(err)
	s.client = client
}

func (s *ProviderClientSuite) TearDownTest() {
	s.fake.server.Close()
}

func TestProviderClientSuite(t *testing.T) {
	suite.Run(t, new(ProviderClientSuite))
}

func (s *ProviderClientSuite) TestStartSession() {
	s.Run("returns the provider-issued session id", func() {
		resp, err := s.client.StartSession(context.Background(), StartRequest{
			Name: "홍길동", Phone: "010-0000-0000", Birthday: "1990-01-01", Method: "kakao",
		})
		s.Require().NoError(err)
		s.Equal("sess-1", resp.SessionID)
	})

	s.Run("maps transport failure to CodeRemote", func() {
		dead, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1", RequestTimeout: 200 * time.Millisecond})
		s.Require().NoError(err)

		_, err = dead.StartSession(context.Background(), StartRequest{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeRemote))
	})
}

func (s *ProviderClientSuite) TestStatus() {
	s.fake.mu.Lock()
	s.fake.status = StatusResponse{
		Status:      "completed",
		PatientUUID: "U1",
		HospitalID:  "H1",
		HealthData:  &HealthData{ResultList: []CheckupResult{{Date: "2025-01-01"}, {Date: "2025-02-01"}}},
	}
	s.fake.mu.Unlock()

	resp, err := s.client.Status(context.Background(), "sess-1")
	s.Require().NoError(err)
	s.Equal("completed", resp.Status)
	s.Len(resp.HealthData.ResultList, 2)
}

func (s *ProviderClientSuite) TestVerifySession() {
	s.Run("valid token verifies", func() {
		resp, err := s.client.VerifySession(context.Background(), VerifySessionRequest{SessionToken: "good-token"})
		s.Require().NoError(err)
		s.Equal("U1", resp.SubjectID)
	})

	s.Run("rejection maps to CodeUnauthorized", func() {
		_, err := s.client.VerifySession(context.Background(), VerifySessionRequest{SessionToken: "revoked"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ProviderClientSuite) TestSubscribe() {
	s.fake.mu.Lock()
	s.fake.pages = []eventsResponse{
		{Next: "t0"}, // anchor call
		{Next: "t1", Frames: []PushFrame{{Type: "progress", Message: "조회 중"}}},
		{Next: "t2", Frames: []PushFrame{{Type: "health_data_completed"}, {Type: "prescription_completed"}}},
	}
	s.fake.mu.Unlock()

	sub, err := s.client.Subscribe(context.Background(), "sess-1")
	s.Require().NoError(err)
	defer sub.Close()

	var got []PushFrame
	deadline := time.After(3 * time.Second)
	for len(got) < 3 {
		select {
		case frame := <-sub.Frames():
			got = append(got, frame)
		case <-deadline:
			s.FailNow("timed out waiting for frames")
		}
	}
	s.Equal("progress", got[0].Type)
	s.Equal("health_data_completed", got[1].Type)

	s.Run("close is idempotent", func() {
		sub.Close()
		sub.Close()
	})
}
