package counter_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"leadgate/internal/ratelimit/models"
	"leadgate/internal/ratelimit/ports"
	"leadgate/pkg/platform/sentinel"
	"leadgate/pkg/testutil"
)

// CounterStoreSuite is the behavioral contract every CounterStore backend must
// satisfy. Backends embed it and provide a fresh store per test.
type CounterStoreSuite struct {
	suite.Suite
	store ports.CounterStore
	t0    time.Time

	// expiresByTTL is set for backends that collect stale counters themselves
	// and report zero from DeleteStale.
	expiresByTTL bool
}

func (s *CounterStoreSuite) SetupCounterTest(store ports.CounterStore) {
	s.store = store
	s.t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newIdentifier() string {
	return "id:" + uuid.NewString()
}

func (s *CounterStoreSuite) admit(identifier string, action models.Action, p models.Policy, at time.Time) *models.Decision {
	record, err := s.store.Admit(context.Background(), identifier, action, p, at)
	s.Require().NoError(err)
	return record.Decide(at, p)
}

func (s *CounterStoreSuite) TestAdmitCreatesCounter() {
	ctx := context.Background()
	identifier := newIdentifier()
	p := models.NewPolicy(5, 300, 900)

	record, err := s.store.Admit(ctx, identifier, models.ActionFormASubmission, p, s.t0)
	s.Require().NoError(err)
	s.Equal(1, record.Attempts)
	s.True(record.LastAttempt.Equal(s.t0))
	s.Nil(record.BlockedUntil)
	s.Equal(300, record.WindowSeconds)

	stored, err := s.store.Get(ctx, identifier, models.ActionFormASubmission)
	s.Require().NoError(err)
	s.Equal(1, stored.Attempts)
}

func (s *CounterStoreSuite) TestGetMissingReturnsNotFound() {
	_, err := s.store.Get(context.Background(), newIdentifier(), models.ActionLogin)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *CounterStoreSuite) TestBlockAfterMaxAttempts() {
	identifier := newIdentifier()
	p := models.NewPolicy(3, 60, 600)

	for i := range 3 {
		s.True(s.admit(identifier, models.ActionLogin, p, s.t0.Add(time.Duration(i)*time.Second)).Allowed)
	}
	denied := s.admit(identifier, models.ActionLogin, p, s.t0.Add(3*time.Second))
	s.False(denied.Allowed)
	s.Require().NotNil(denied.BlockedUntil)
	s.True(denied.BlockedUntil.Equal(s.t0.Add(603 * time.Second)))

	s.Run("checks during the block are denied and not counted", func() {
		before, err := s.store.Get(context.Background(), identifier, models.ActionLogin)
		s.Require().NoError(err)

		s.False(s.admit(identifier, models.ActionLogin, p, s.t0.Add(300*time.Second)).Allowed)

		after, err := s.store.Get(context.Background(), identifier, models.ActionLogin)
		s.Require().NoError(err)
		s.Equal(before.Attempts, after.Attempts)
		s.True(before.LastAttempt.Equal(after.LastAttempt))
	})

	s.Run("a check one second after the block passes", func() {
		d := s.admit(identifier, models.ActionLogin, p, s.t0.Add(604*time.Second))
		s.True(d.Allowed)
		s.Equal(1, d.Attempts)
	})
}

func (s *CounterStoreSuite) TestWindowSlides() {
	identifier := newIdentifier()
	p := models.NewPolicy(2, 60, 0)

	s.True(s.admit(identifier, models.ActionWebhookAPI, p, s.t0).Allowed)
	s.True(s.admit(identifier, models.ActionWebhookAPI, p, s.t0.Add(10*time.Second)).Allowed)
	s.False(s.admit(identifier, models.ActionWebhookAPI, p, s.t0.Add(20*time.Second)).Allowed)

	d := s.admit(identifier, models.ActionWebhookAPI, p, s.t0.Add(81*time.Second))
	s.True(d.Allowed)
	s.Equal(1, d.Attempts)
}

func (s *CounterStoreSuite) TestActionsAreIndependent() {
	identifier := newIdentifier()
	p := models.NewPolicy(1, 60, 60)

	s.True(s.admit(identifier, models.ActionLogin, p, s.t0).Allowed)
	s.False(s.admit(identifier, models.ActionLogin, p, s.t0).Allowed)
	s.True(s.admit(identifier, models.ActionFormASubmission, p, s.t0).Allowed)
}

func (s *CounterStoreSuite) TestDelete() {
	ctx := context.Background()
	identifier := newIdentifier()
	p := models.NewPolicy(1, 60, 600)

	s.admit(identifier, models.ActionLogin, p, s.t0)
	s.False(s.admit(identifier, models.ActionLogin, p, s.t0).Allowed)

	s.Require().NoError(s.store.Delete(ctx, identifier, models.ActionLogin))
	_, err := s.store.Get(ctx, identifier, models.ActionLogin)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.True(s.admit(identifier, models.ActionLogin, p, s.t0).Allowed)

	s.NoError(s.store.Delete(ctx, newIdentifier(), models.ActionLogin), "deleting a missing counter is not an error")
}

func (s *CounterStoreSuite) TestDeleteStale() {
	if s.expiresByTTL {
		s.T().Skip("backend expires counters by TTL")
	}
	ctx := context.Background()
	p := models.NewPolicy(1, 60, 600)

	idle := newIdentifier()
	s.admit(idle, models.ActionFormASubmission, p, s.t0)

	blocked := newIdentifier()
	s.admit(blocked, models.ActionFormASubmission, p, s.t0)
	s.admit(blocked, models.ActionFormASubmission, p, s.t0)

	recent := newIdentifier()
	s.admit(recent, models.ActionFormASubmission, p, s.t0.Add(100*time.Second))

	removed, err := s.store.DeleteStale(ctx, s.t0.Add(121*time.Second))
	s.Require().NoError(err)
	s.Equal(1, removed)

	_, err = s.store.Get(ctx, idle, models.ActionFormASubmission)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Get(ctx, blocked, models.ActionFormASubmission)
	s.NoError(err, "a blocked counter is never collected")
	_, err = s.store.Get(ctx, recent, models.ActionFormASubmission)
	s.NoError(err)
}

func (s *CounterStoreSuite) TestConcurrentAdmitsNeverOvershoot() {
	const maxAttempts = 10
	identifier := newIdentifier()
	p := models.NewPolicy(maxAttempts, 300, 900)

	admitted := testutil.CountTrue(maxAttempts+5, func(int) bool {
		record, err := s.store.Admit(context.Background(), identifier, models.ActionFormASubmission, p, s.t0)
		if err != nil {
			return false
		}
		return record.Decide(s.t0, p).Allowed
	})
	s.Equal(maxAttempts, admitted)

	record, err := s.store.Get(context.Background(), identifier, models.ActionFormASubmission)
	s.Require().NoError(err)
	s.Require().NotNil(record.BlockedUntil)
}
