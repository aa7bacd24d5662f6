package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"leadgate/internal/session/models"
	"leadgate/pkg/platform/sentinel"
)

const sessionKeyPrefix = "session:"

// stateJSON is the stored representation of a session. Times are Unix nano so
// round trips are exact.
type stateJSON struct {
	ID           string `json:"id"`
	SubjectID    string `json:"subject_id,omitempty"`
	Role         string `json:"role,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
	LoginTime    int64  `json:"login_time,omitempty"`
	LastActivity int64  `json:"last_activity,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	CSRFValue    string `json:"csrf_value,omitempty"`
	CSRFIssuedAt int64  `json:"csrf_issued_at,omitempty"`
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func stateToJSON(s *models.State) *stateJSON {
	j := &stateJSON{
		ID:           s.ID,
		SubjectID:    s.SubjectID,
		Role:         s.Role,
		SessionToken: s.SessionToken,
		LoginTime:    unixNano(s.LoginTime),
		LastActivity: unixNano(s.LastActivity),
		CreatedAt:    unixNano(s.CreatedAt),
	}
	if s.CSRF != nil {
		j.CSRFValue = s.CSRF.Value
		j.CSRFIssuedAt = unixNano(s.CSRF.IssuedAt)
	}
	return j
}

func stateFromJSON(j *stateJSON) *models.State {
	s := &models.State{
		ID:           j.ID,
		SubjectID:    j.SubjectID,
		Role:         j.Role,
		SessionToken: j.SessionToken,
		LoginTime:    fromUnixNano(j.LoginTime),
		LastActivity: fromUnixNano(j.LastActivity),
		CreatedAt:    fromUnixNano(j.CreatedAt),
	}
	if j.CSRFValue != "" {
		s.CSRF = &models.CSRFToken{Value: j.CSRFValue, IssuedAt: fromUnixNano(j.CSRFIssuedAt)}
	}
	return s
}

// RedisStore persists sessions as JSON strings with a TTL, so several
// instances can share session state.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis constructs a Redis-backed session store.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.State, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find session by id: %w", err)
	}

	var j stateJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return stateFromJSON(&j), nil
}

func (s *RedisStore) Save(ctx context.Context, state *models.State) error {
	data, err := s.marshal(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, sessionKey(state.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Rotate deletes oldID and writes state under its new ID in one MULTI/EXEC,
// so no reader ever sees both or neither.
func (s *RedisStore) Rotate(ctx context.Context, oldID string, state *models.State) error {
	data, err := s.marshal(state)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if oldID != "" {
			pipe.Del(ctx, sessionKey(oldID))
		}
		pipe.Set(ctx, sessionKey(state.ID), data, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) marshal(state *models.State) ([]byte, error) {
	if state == nil || state.ID == "" {
		return nil, fmt.Errorf("session id is required: %w", sentinel.ErrInvalidInput)
	}
	data, err := json.Marshal(stateToJSON(state))
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}
