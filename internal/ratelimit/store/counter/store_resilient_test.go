package counter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"leadgate/internal/ratelimit/models"
	"leadgate/pkg/platform/circuit"
)

// flakyStore fails every call while down is set.
type flakyStore struct {
	*InMemoryStore
	down  bool
	calls int
}

var errUnreachable = errors.New("connection refused")

func (f *flakyStore) Admit(ctx context.Context, identifier string, action models.Action, policy models.Policy, now time.Time) (*models.Record, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.down {
		return nil, errUnreachable
	}
	return f.InMemoryStore.Admit(ctx, identifier, action, policy, now)
}

type ResilientStoreSuite struct {
	suite.Suite
	backend *flakyStore
	store   *ResilientStore
	now     time.Time
	logs    *bytes.Buffer
}

func TestResilientStoreSuite(t *testing.T) {
	suite.Run(t, new(ResilientStoreSuite))
}

func (s *ResilientStoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.backend = &flakyStore{InMemoryStore: NewInMemory()}
	s.logs = &bytes.Buffer{}
	breaker := circuit.New("counter_store",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(10*time.Second),
		circuit.WithClock(func() time.Time { return s.now }),
	)
	s.store = NewResilient(s.backend, breaker, slog.New(slog.NewJSONHandler(s.logs, nil)))
}

func (s *ResilientStoreSuite) admit() error {
	_, err := s.store.Admit(context.Background(), "ip:1.2.3.4", models.ActionLogin, models.NewPolicy(5, 60, 60), s.now)
	return err
}

func (s *ResilientStoreSuite) TestPassesThroughWhileHealthy() {
	s.Require().NoError(s.admit())
	s.NoError(s.store.Healthy(context.Background()))
	s.Equal(1, s.backend.calls)
}

func (s *ResilientStoreSuite) TestOpensAndShortCircuits() {
	s.backend.down = true
	s.ErrorIs(s.admit(), errUnreachable)
	s.ErrorIs(s.admit(), errUnreachable)
	s.Contains(s.logs.String(), "circuit breaker opened")

	s.ErrorIs(s.admit(), ErrCircuitOpen)
	s.Equal(2, s.backend.calls, "open circuit does not reach the backend")
	s.ErrorIs(s.store.Healthy(context.Background()), ErrCircuitOpen)
}

func (s *ResilientStoreSuite) TestProbeAfterCooldown() {
	s.backend.down = true
	_ = s.admit()
	_ = s.admit()

	s.now = s.now.Add(11 * time.Second)
	s.ErrorIs(s.admit(), errUnreachable, "probe reaches the backend")
	s.ErrorIs(s.admit(), ErrCircuitOpen, "failed probe reopens")

	s.backend.down = false
	s.now = s.now.Add(11 * time.Second)
	s.NoError(s.admit())
	s.NoError(s.admit())
	s.Contains(s.logs.String(), "circuit breaker closed")
	s.NoError(s.store.Healthy(context.Background()))
}

func (s *ResilientStoreSuite) cancelledAdmit() error {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.store.Admit(ctx, "ip:1.2.3.4", models.ActionLogin, models.NewPolicy(5, 60, 60), s.now)
	return err
}

func (s *ResilientStoreSuite) TestCancelledCallsLeaveCircuitClosed() {
	for range 5 {
		s.ErrorIs(s.cancelledAdmit(), context.Canceled)
	}
	s.NoError(s.store.Healthy(context.Background()))
	s.NotContains(s.logs.String(), "circuit breaker opened")
	s.NoError(s.admit())
}

func (s *ResilientStoreSuite) TestDeadlineCountsAsFailure() {
	for range 2 {
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		_, err := s.store.Admit(ctx, "ip:1.2.3.4", models.ActionLogin, models.NewPolicy(5, 60, 60), s.now)
		cancel()
		s.ErrorIs(err, context.DeadlineExceeded)
	}
	s.ErrorIs(s.store.Healthy(context.Background()), ErrCircuitOpen)
}

func (s *ResilientStoreSuite) TestCancelledProbeHandsOverSlot() {
	s.backend.down = true
	_ = s.admit()
	_ = s.admit()

	s.now = s.now.Add(11 * time.Second)
	s.ErrorIs(s.cancelledAdmit(), context.Canceled)

	s.backend.down = false
	s.NoError(s.admit(), "next caller probes")
	s.NoError(s.store.Healthy(context.Background()))
}

func (s *ResilientStoreSuite) TestFailedProbeIsLogged() {
	s.backend.down = true
	_ = s.admit()
	_ = s.admit()
	s.logs.Reset()

	s.now = s.now.Add(11 * time.Second)
	s.ErrorIs(s.admit(), errUnreachable)
	s.Contains(s.logs.String(), "circuit breaker opened")
}

func (s *ResilientStoreSuite) TestNotFoundIsNotAFailure() {
	for range 3 {
		_, err := s.store.Get(context.Background(), "ip:5.6.7.8", models.ActionLogin)
		s.Error(err)
	}
	s.NoError(s.store.Healthy(context.Background()))
}
