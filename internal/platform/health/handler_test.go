package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
)

type HandlerSuite struct {
	suite.Suite
	handler *Handler
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.handler = New("test")
	s.router = chi.NewRouter()
	s.handler.Register(s.router)
}

func (s *HandlerSuite) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (s *HandlerSuite) readiness() (int, ReadinessResponse) {
	rec := s.get("/health/ready")
	var body ReadinessResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body
}

func (s *HandlerSuite) TestLiveness() {
	rec := s.get("/health/live")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "alive")
}

func (s *HandlerSuite) TestReadyWithoutChecks() {
	code, body := s.readiness()
	s.Equal(http.StatusOK, code)
	s.Equal(StatusReady, body.Status)
}

func (s *HandlerSuite) TestRequiredFailureIsNotReady() {
	s.handler.RegisterCheck("postgres", func(context.Context) error { return nil })
	s.handler.RegisterCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	code, body := s.readiness()
	s.Equal(http.StatusServiceUnavailable, code)
	s.Equal(StatusNotReady, body.Status)
	s.Equal("up", body.Checks["postgres"].Status)
	s.Equal("down", body.Checks["redis"].Status)
	s.Equal("connection refused", body.Checks["redis"].Error)
	s.True(body.Checks["redis"].Required)
}

func (s *HandlerSuite) TestOptionalFailureIsDegraded() {
	s.handler.RegisterCheck("postgres", func(context.Context) error { return nil })
	s.handler.RegisterOptionalCheck("counter_store", func(context.Context) error { return errors.New("circuit open") })

	code, body := s.readiness()
	s.Equal(http.StatusOK, code)
	s.Equal(StatusDegraded, body.Status)
	s.False(body.Checks["counter_store"].Required)
}

func (s *HandlerSuite) TestChecksRunConcurrently() {
	slow := func(context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		s.handler.RegisterCheck(name, slow)
	}
	start := time.Now()
	code, _ := s.readiness()
	s.Equal(http.StatusOK, code)
	s.Less(time.Since(start), 350*time.Millisecond)
}

func (s *HandlerSuite) TestCheckHonorsTimeout() {
	s.handler.RegisterCheck("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	code, body := s.readiness()
	s.Equal(http.StatusServiceUnavailable, code)
	s.Equal(context.DeadlineExceeded.Error(), body.Checks["stuck"].Error)
}

func (s *HandlerSuite) TestStatus() {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.handler.startTime = at.Add(-90 * time.Second)
	s.handler.now = func() time.Time { return at }

	rec := s.get("/health")
	s.Equal(http.StatusOK, rec.Code)
	var body StatusResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
	s.Equal("test", body.Environment)
	s.Equal(int64(90), body.UptimeSeconds)
	s.Equal("2026-05-01T12:00:00Z", body.Timestamp)
}
