package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"leadgate/internal/csrf"
	"leadgate/internal/guard"
	"leadgate/internal/intake"
	"leadgate/internal/platform/health"
	rlconfig "leadgate/internal/ratelimit/config"
	rlmiddleware "leadgate/internal/ratelimit/middleware"
	rlmodels "leadgate/internal/ratelimit/models"
	rlservice "leadgate/internal/ratelimit/service"
	"leadgate/internal/ratelimit/store/counter"
	"leadgate/internal/session/models"
	sessionservice "leadgate/internal/session/service"
	"leadgate/internal/session/store"
	"leadgate/internal/session/subject"
	"leadgate/pkg/platform/httputil"
	"leadgate/pkg/secrets"
)

const (
	subjectName = "ops"
	credential  = "correct horse battery staple"
	userAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type HandlerSuite struct {
	suite.Suite
	clock   *fakeClock
	intake  *intake.Recorder
	handler *Handler
	limits  *rlmiddleware.Middleware
	router  http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.clock = &fakeClock{now: time.Now()}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	rlcfg := rlconfig.DefaultConfig()
	rlcfg.Policies[rlmodels.ActionWebhookAPI] = rlmodels.NewPolicy(2, 60, 300)
	limiter, err := rlservice.New(counter.NewInMemory(), rlservice.WithConfig(rlcfg), rlservice.WithLogger(logger))
	s.Require().NoError(err)

	subjects := subject.NewInMemory()
	hash, err := secrets.HashWithCost(credential, bcrypt.MinCost)
	s.Require().NoError(err)
	s.Require().NoError(subjects.Create(context.Background(), &models.Subject{
		ID:           uuid.New(),
		Name:         subjectName,
		Role:         "admin",
		PasswordHash: hash,
		CreatedAt:    s.clock.Now(),
	}))

	sessions, err := sessionservice.New(store.NewInMemory(24*time.Hour), subjects, limiter,
		sessionservice.WithLogger(logger),
		sessionservice.WithConfig(&sessionservice.Config{IdleTimeout: time.Hour, StoreTimeout: time.Second}),
	)
	s.Require().NoError(err)

	tokens := csrf.New(csrf.WithLogger(logger))
	s.intake = intake.NewRecorder(logger, nil, 100)
	s.handler = New(sessions, tokens, guard.New(limiter, sessions, tokens, logger), s.intake, logger,
		CookieConfig{Secure: true, MaxAge: 24 * time.Hour}, []string{"a", "b"})
	s.limits = rlmiddleware.New(limiter, logger)
	s.router = s.newRouter(nil)
}

func (s *HandlerSuite) newRouter(origins []string) http.Handler {
	return NewRouter(s.handler, RouterConfig{
		Logger:         slog.New(slog.NewJSONHandler(io.Discard, nil)),
		RateLimits:     s.limits,
		Health:         health.New("test"),
		AllowedOrigins: origins,
		Clock:          s.clock.Now,
	})
}

// browser keeps one client's cookie between requests.
type browser struct {
	s          *HandlerSuite
	remoteAddr string
	cookie     string
}

func (s *HandlerSuite) browser(ip string) *browser {
	return &browser{s: s, remoteAddr: ip + ":41000"}
}

func (b *browser) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		b.s.Require().NoError(err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = b.remoteAddr
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(csrf.HeaderName, token)
	}
	if b.cookie != "" {
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: b.cookie})
	}

	rec := httptest.NewRecorder()
	b.s.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultCookieName {
			b.cookie = c.Value
		}
	}
	return rec
}

func (b *browser) session() sessionResponse {
	rec := b.do(http.MethodGet, "/session", nil, "")
	b.s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var resp sessionResponse
	b.s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (b *browser) login(name, secret string) *httptest.ResponseRecorder {
	token := b.session().CSRFToken
	return b.do(http.MethodPost, "/login", loginRequest{Subject: name, Credential: secret}, token)
}

func (b *browser) submit(form, token string) *httptest.ResponseRecorder {
	return b.do(http.MethodPost, "/forms/"+form+"/submissions",
		submissionRequest{Fields: map[string]string{"name": "Ada", "email": "ada@example.com"}}, token)
}

func (s *HandlerSuite) errorCode(rec *httptest.ResponseRecorder) string {
	var resp httputil.ErrorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func (s *HandlerSuite) TestSessionIssuesTokenAndCookie() {
	b := s.browser("203.0.113.5")
	rec := b.do(http.MethodGet, "/session", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("no-store", rec.Header().Get("Cache-Control"))

	cookies := rec.Result().Cookies()
	s.Require().Len(cookies, 1)
	c := cookies[0]
	s.Equal(DefaultCookieName, c.Name)
	s.True(c.HttpOnly)
	s.True(c.Secure)
	s.Equal(http.SameSiteLaxMode, c.SameSite)
	s.Equal("/", c.Path)

	var first sessionResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &first))
	s.False(first.Authenticated)
	s.Equal("anonymous", first.Status)
	s.NotEmpty(first.CSRFToken)

	s.Run("the token and identifier are stable within the lifetime", func() {
		s.clock.Advance(10 * time.Minute)
		rec := b.do(http.MethodGet, "/session", nil, "")
		s.Empty(rec.Result().Cookies(), "no new cookie for an unchanged identifier")
		var again sessionResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &again))
		s.Equal(first.CSRFToken, again.CSRFToken)
	})

	s.Run("an expired token is replaced", func() {
		s.clock.Advance(time.Hour)
		s.NotEqual(first.CSRFToken, b.session().CSRFToken)
	})
}

func (s *HandlerSuite) TestLoginRotatesSession() {
	b := s.browser("203.0.113.5")
	before := b.session()
	preLoginID := b.cookie

	rec := b.login(subjectName, credential)
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())
	s.NotEqual(preLoginID, b.cookie, "identifier rotated on login")

	after := b.session()
	s.True(after.Authenticated)
	s.Equal("authenticated", after.Status)
	s.Equal("admin", after.Role)
	s.NotEmpty(after.SubjectID)
	s.NotEqual(before.CSRFToken, after.CSRFToken, "pre-login token is dropped")

	s.Run("the pre-login identifier is not authenticated", func() {
		attacker := s.browser("198.51.100.7")
		attacker.cookie = preLoginID
		s.False(attacker.session().Authenticated)
	})
}

func (s *HandlerSuite) TestLoginRequiresCSRF() {
	b := s.browser("203.0.113.5")
	b.session()

	rec := b.do(http.MethodPost, "/login", loginRequest{Subject: subjectName, Credential: credential}, "")
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("token_invalid", s.errorCode(rec))

	rec = b.do(http.MethodPost, "/login", loginRequest{Subject: subjectName, Credential: credential}, "forged")
	s.Equal(http.StatusForbidden, rec.Code)
	s.False(b.session().Authenticated)
}

func (s *HandlerSuite) TestLoginWithBadTokenSpendsAttempts() {
	b := s.browser("203.0.113.5")
	b.session()

	for i := range 5 {
		rec := b.do(http.MethodPost, "/login", loginRequest{Subject: subjectName, Credential: "guess"}, "forged")
		s.Equal(http.StatusForbidden, rec.Code, "attempt %d", i+1)
	}
	rec := b.do(http.MethodPost, "/login", loginRequest{Subject: subjectName, Credential: "guess"}, "forged")
	s.Equal(http.StatusTooManyRequests, rec.Code, "throttle is reported before the token")
	s.NotEmpty(rec.Header().Get("Retry-After"))

	s.Equal(http.StatusUnauthorized, b.login(subjectName, credential).Code, "blocked even with token and credential")
}

func (s *HandlerSuite) TestLoginFailureIsUniform() {
	unknown := s.browser("203.0.113.5").login("nobody", credential)
	wrong := s.browser("203.0.113.6").login(subjectName, "wrong")

	s.Equal(http.StatusUnauthorized, unknown.Code)
	s.Equal(http.StatusUnauthorized, wrong.Code)
	s.Equal(unknown.Body.String(), wrong.Body.String())
	s.Equal("authentication_failed", s.errorCode(wrong))
}

func (s *HandlerSuite) TestLoginValidation() {
	rec := s.browser("203.0.113.5").login("   ", credential)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("validation_failed", s.errorCode(rec))
}

func (s *HandlerSuite) TestLoginThrottling() {
	b := s.browser("203.0.113.5")
	for i := range 5 {
		s.Equal(http.StatusUnauthorized, b.login(subjectName, "wrong").Code, "attempt %d", i+1)
	}
	s.Equal(http.StatusUnauthorized, b.login(subjectName, credential).Code, "blocked even with the right credential")

	s.clock.Advance(1801 * time.Second)
	s.Equal(http.StatusNoContent, b.login(subjectName, credential).Code)
}

func (s *HandlerSuite) TestLogout() {
	b := s.browser("203.0.113.5")
	s.Require().Equal(http.StatusNoContent, b.login(subjectName, credential).Code)
	token := b.session().CSRFToken
	loggedInID := b.cookie

	s.Equal(http.StatusForbidden, b.do(http.MethodPost, "/logout", nil, "").Code, "logout is CSRF protected")
	s.True(b.session().Authenticated)

	rec := b.do(http.MethodPost, "/logout", nil, token)
	s.Require().Equal(http.StatusNoContent, rec.Code)
	s.NotEqual(loggedInID, b.cookie)
	s.False(b.session().Authenticated)

	stale := s.browser("203.0.113.5")
	stale.cookie = loggedInID
	s.False(stale.session().Authenticated, "the old identifier is gone")
}

func (s *HandlerSuite) TestFormSubmissionScenario() {
	b := s.browser("1.2.3.4")
	token := b.session().CSRFToken

	for i := range 5 {
		rec := b.submit("a", token)
		s.Require().Equal(http.StatusAccepted, rec.Code, "submission %d: %s", i+1, rec.Body.String())
		s.Equal("5", rec.Header().Get("X-RateLimit-Limit"))
		s.Equal(strconv.Itoa(4-i), rec.Header().Get("X-RateLimit-Remaining"))
		s.clock.Advance(2 * time.Second)
	}

	rec := b.submit("a", token)
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.Equal("900", rec.Header().Get("Retry-After"))
	var exceeded rlmodels.ExceededResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &exceeded))
	s.Equal("rate_limit_exceeded", exceeded.Error)

	s.Run("other forms are limited independently", func() {
		s.Equal(http.StatusAccepted, b.submit("b", token).Code)
	})

	s.clock.Advance(901 * time.Second)
	token = b.session().CSRFToken
	s.Equal(http.StatusAccepted, b.submit("a", token).Code)
	s.Len(s.intake.Recent(), 7)
}

func (s *HandlerSuite) TestFormSubmissionRejections() {
	b := s.browser("203.0.113.5")
	token := b.session().CSRFToken

	s.Run("unknown form", func() {
		s.Equal(http.StatusNotFound, b.submit("zzz", token).Code)
	})
	s.Run("missing token", func() {
		rec := b.submit("a", "")
		s.Equal(http.StatusForbidden, rec.Code)
		s.Equal("token_invalid", s.errorCode(rec))
	})
	s.Run("no fields", func() {
		rec := b.do(http.MethodPost, "/forms/a/submissions", submissionRequest{}, token)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
	s.Run("wrong content type", func() {
		req := httptest.NewRequest(http.MethodPost, "/forms/a/submissions", strings.NewReader("name=Ada"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		s.Equal(http.StatusUnsupportedMediaType, rec.Code)
	})
	s.Empty(s.intake.Recent(), "nothing reaches intake")
}

func (s *HandlerSuite) TestLeadStatusRequiresAuthenticatedSession() {
	b := s.browser("203.0.113.5")
	body := statusRequest{Status: "won"}

	rec := b.do(http.MethodPost, "/admin/leads/lead-1/status", body, b.session().CSRFToken)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("session_expired", s.errorCode(rec))

	s.Require().Equal(http.StatusNoContent, b.login(subjectName, credential).Code)
	token := b.session().CSRFToken

	s.Equal(http.StatusAccepted, b.do(http.MethodPost, "/admin/leads/lead-1/status", body, token).Code)
	s.Equal(http.StatusBadRequest, b.do(http.MethodPost, "/admin/leads/lead-1/status", statusRequest{Status: "spam"}, token).Code)
	s.Equal(http.StatusForbidden, b.do(http.MethodPost, "/admin/leads/lead-1/status", body, "forged").Code)

	recent := s.intake.Recent()
	s.Require().Len(recent, 1)
	s.Equal(intake.KindStatusChange, recent[0].Kind)
	s.Equal("lead-1", recent[0].Target)

	s.Run("idle sessions must log in again", func() {
		s.clock.Advance(time.Hour + time.Second)
		rec := b.do(http.MethodPost, "/admin/leads/lead-1/status", body, token)
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.Equal("session_expired", s.errorCode(rec))
		s.False(b.session().Authenticated)
	})
}

func (s *HandlerSuite) TestWebhookRateLimit() {
	b := s.browser("192.0.2.10")
	for range 2 {
		rec := b.do(http.MethodPost, "/webhooks/crm", map[string]string{"event": "lead.created"}, "")
		s.Require().Equal(http.StatusAccepted, rec.Code)
		s.Equal("2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := b.do(http.MethodPost, "/webhooks/crm", map[string]string{"event": "lead.created"}, "")
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.Equal("300", rec.Header().Get("Retry-After"))

	other := s.browser("192.0.2.11")
	s.Equal(http.StatusAccepted, other.do(http.MethodPost, "/webhooks/crm", map[string]string{}, "").Code)
}

func (s *HandlerSuite) TestHealthAndNotFound() {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	s.Equal(http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("not_found", s.errorCode(rec))
}

func (s *HandlerSuite) TestCORSPreflight() {
	router := s.newRouter([]string{"https://landing.example"})

	req := httptest.NewRequest(http.MethodOptions, "/forms/a/submissions", nil)
	req.Header.Set("Origin", "https://landing.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", csrf.HeaderName)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	s.Equal("https://landing.example", rec.Header().Get("Access-Control-Allow-Origin"))
	s.Equal("true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	s.Empty(rec.Header().Get("Access-Control-Allow-Origin"))
}
