package medigate

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"medigate/internal/authflow"
)

type CoreSuite struct {
	suite.Suite
	core *Core
}

func TestCoreSuite(t *testing.T) {
	suite.Run(t, new(CoreSuite))
}

func (s *CoreSuite) SetupTest() {
	cfg := FromEnv()
	cfg.Redis.URL = ""
	cfg.Postgres.DSN = ""
	cfg.Kafka.Brokers = nil
	cfg.Session.CacheFile = ""

	core, err := New(context.Background(), cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)
	s.core = core
}

func (s *CoreSuite) TearDownTest() {
	s.Require().NoError(s.core.Close())
}

func (s *CoreSuite) TestFlowStartsAtUnauthenticated() {
	s.Equal(authflow.StepUnauthenticated, s.core.Flow().Step())
	s.Require().NoError(s.core.Flow().Begin())
	s.Equal(authflow.StepTermsPending, s.core.Flow().Step())
}

func (s *CoreSuite) TestStorageNotDegradedInitially() {
	s.False(s.core.StorageDegraded())
}

func (s *CoreSuite) TestHealthWithoutBackends() {
	s.NoError(s.core.Health(context.Background()))
}

func (s *CoreSuite) TestDiagnosticsHandlerServes() {
	server := httptest.NewServer(s.core.DiagnosticsHandler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *CoreSuite) TestCloseIsSafeAfterReset() {
	s.core.Flow().Reset()
	// TearDownTest closes again.
}
