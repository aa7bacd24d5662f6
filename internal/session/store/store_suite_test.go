package store_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"leadgate/internal/session/models"
	"leadgate/pkg/platform/sentinel"
)

type sessionStore interface {
	Get(ctx context.Context, id string) (*models.State, error)
	Save(ctx context.Context, state *models.State) error
	Rotate(ctx context.Context, oldID string, state *models.State) error
	Delete(ctx context.Context, id string) error
}

// SessionStoreSuite is the behavioral contract shared by session backends.
type SessionStoreSuite struct {
	suite.Suite
	store sessionStore
	t0    time.Time
}

func (s *SessionStoreSuite) SetupSessionTest(store sessionStore) {
	s.store = store
	s.t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *SessionStoreSuite) authenticated(id string) *models.State {
	return &models.State{
		ID:           id,
		SubjectID:    uuid.NewString(),
		Role:         "admin",
		SessionToken: "token-" + id,
		LoginTime:    s.t0,
		LastActivity: s.t0.Add(time.Minute),
		CreatedAt:    s.t0,
		CSRF:         &models.CSRFToken{Value: "csrf-" + id, IssuedAt: s.t0},
	}
}

func (s *SessionStoreSuite) TestSaveAndGet() {
	ctx := context.Background()
	state := s.authenticated(uuid.NewString())
	s.Require().NoError(s.store.Save(ctx, state))

	got, err := s.store.Get(ctx, state.ID)
	s.Require().NoError(err)
	s.Equal(state.SubjectID, got.SubjectID)
	s.Equal(state.Role, got.Role)
	s.Equal(state.SessionToken, got.SessionToken)
	s.True(got.LastActivity.Equal(state.LastActivity))
	s.True(got.LoginTime.Equal(state.LoginTime))
	s.Require().NotNil(got.CSRF)
	s.Equal(state.CSRF.Value, got.CSRF.Value)
	s.True(got.CSRF.IssuedAt.Equal(state.CSRF.IssuedAt))
}

func (s *SessionStoreSuite) TestAnonymousStateRoundTrips() {
	ctx := context.Background()
	state := models.NewState(uuid.NewString(), s.t0)
	s.Require().NoError(s.store.Save(ctx, state))

	got, err := s.store.Get(ctx, state.ID)
	s.Require().NoError(err)
	s.False(got.HasIdentity())
	s.Nil(got.CSRF)
	s.True(got.LastActivity.IsZero())
}

func (s *SessionStoreSuite) TestGetMissingReturnsNotFound() {
	_, err := s.store.Get(context.Background(), uuid.NewString())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *SessionStoreSuite) TestSaveRequiresID() {
	s.ErrorIs(s.store.Save(context.Background(), &models.State{}), sentinel.ErrInvalidInput)
}

func (s *SessionStoreSuite) TestRotateMovesState() {
	ctx := context.Background()
	oldID := uuid.NewString()
	s.Require().NoError(s.store.Save(ctx, models.NewState(oldID, s.t0)))

	rotated := s.authenticated(uuid.NewString())
	s.Require().NoError(s.store.Rotate(ctx, oldID, rotated))

	_, err := s.store.Get(ctx, oldID)
	s.ErrorIs(err, sentinel.ErrNotFound, "the pre-login identifier is dead")
	got, err := s.store.Get(ctx, rotated.ID)
	s.Require().NoError(err)
	s.Equal(rotated.SubjectID, got.SubjectID)
}

func (s *SessionStoreSuite) TestDelete() {
	ctx := context.Background()
	state := s.authenticated(uuid.NewString())
	s.Require().NoError(s.store.Save(ctx, state))

	s.Require().NoError(s.store.Delete(ctx, state.ID))
	_, err := s.store.Get(ctx, state.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.NoError(s.store.Delete(ctx, uuid.NewString()))
}

func (s *SessionStoreSuite) TestReturnedStateIsDetached() {
	ctx := context.Background()
	state := s.authenticated(uuid.NewString())
	s.Require().NoError(s.store.Save(ctx, state))

	got, err := s.store.Get(ctx, state.ID)
	s.Require().NoError(err)
	got.Role = "changed"
	got.CSRF.Value = "changed"

	again, err := s.store.Get(ctx, state.ID)
	s.Require().NoError(err)
	s.Equal("admin", again.Role)
	s.Equal(state.CSRF.Value, again.CSRF.Value)
}
