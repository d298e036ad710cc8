package users

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/botgate/pkg/ratelimit"
)

type fakeSource map[string]UserConfig

func (f fakeSource) UserConfig(_ context.Context, userID string) (UserConfig, error) {
	cfg, ok := f[userID]
	if !ok {
		return UserConfig{}, fmt.Errorf("user %s: %w", userID, ErrConfigNotFound)
	}
	return cfg, nil
}

type memStore struct {
	history map[string][]time.Time
	states  map[string]ratelimit.State
	users   map[string]string
	audits  []AuditEntry
	writes  int
}

func newMemStore() *memStore {
	return &memStore{
		history: map[string][]time.Time{},
		states:  map[string]ratelimit.State{},
		users:   map[string]string{},
	}
}

func (m *memStore) WithUser(_ context.Context, userID string, fn func(UserView) (*UserUpdate, error)) error {
	update, err := fn(UserView{History: m.history[userID], State: m.states[userID]})
	if err != nil {
		return err
	}
	if update != nil {
		m.history[userID] = update.History
		m.states[userID] = update.State
		m.writes++
	}
	return nil
}

func (m *memStore) RegisterUser(_ context.Context, userID, _, status string) error {
	m.users[userID] = status
	return nil
}

func (m *memStore) AppendAudit(_ context.Context, entry AuditEntry) error {
	m.audits = append(m.audits, entry)
	return nil
}

func newTestService(source ConfigSource, store Store) *Service {
	return NewService(source, store, zerolog.Nop())
}

func TestAccessCheckUnknownUserDenied(t *testing.T) {
	store := newMemStore()
	svc := newTestService(fakeSource{}, store)

	decision, err := svc.AccessCheck(context.Background(), CheckRequest{UserID: "ghost"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, StatusDenied, decision.Access)
	require.Equal(t, StatusDenied, decision.Permissions)
	require.Len(t, store.audits, 1)
	require.Equal(t, StatusDenied, store.audits[0].Authentication)
	require.Empty(t, store.users, "unknown users are not registered")
}

func TestAccessCheckDeniedStatus(t *testing.T) {
	store := newMemStore()
	source := fakeSource{"u1": {Status: StatusDenied, Roles: []string{"admin_role"}}}
	svc := newTestService(source, store)

	decision, err := svc.AccessCheck(context.Background(), CheckRequest{UserID: "u1", RoleID: "admin_role"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, StatusDenied, decision.Access)
	require.Equal(t, StatusDenied, decision.Permissions, "authorization is not evaluated for denied users")
	require.Equal(t, StatusDenied, store.users["u1"])
}

func TestAccessCheckAuthorization(t *testing.T) {
	source := fakeSource{"u1": {
		Status:   StatusAllowed,
		Roles:    []string{"financial_role", "goals_role"},
		Requests: ratelimit.Config{RequestsPerDay: 100, RequestsPerHour: 100},
	}}

	tests := []struct {
		role string
		want string
	}{
		{"financial_role", StatusAllowed},
		{"goals_role", StatusAllowed},
		{"admin_role", StatusDenied},
		{"", StatusDenied},
	}

	for _, tt := range tests {
		t.Run("role="+tt.role, func(t *testing.T) {
			svc := newTestService(source, newMemStore())
			decision, err := svc.AccessCheck(context.Background(), CheckRequest{UserID: "u1", RoleID: tt.role}, time.Now())
			require.NoError(t, err)
			require.Equal(t, StatusAllowed, decision.Access)
			require.Equal(t, tt.want, decision.Permissions)
		})
	}
}

func TestAccessCheckRecordsAdmittedRequests(t *testing.T) {
	store := newMemStore()
	source := fakeSource{"u1": {
		Status:   StatusAllowed,
		Roles:    []string{"admin_role"},
		Requests: ratelimit.Config{RequestsPerDay: 100, RequestsPerHour: 5},
	}}
	svc := newTestService(source, store)
	now := time.Now()

	decision, err := svc.AccessCheck(context.Background(), CheckRequest{UserID: "u1", RoleID: "admin_role", ChatID: "c1"}, now)
	require.NoError(t, err)
	require.True(t, decision.Allowed(now))
	require.Len(t, store.history["u1"], 1)
	require.Len(t, store.audits, 1)
	require.Nil(t, store.audits[0].RateLimitedUntil)
}

func TestAccessCheckBlocksOverQuota(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	store.history["u1"] = []time.Time{now.Add(-20 * time.Minute), now.Add(-10 * time.Minute)}
	source := fakeSource{"u1": {
		Status:   StatusAllowed,
		Roles:    []string{"admin_role"},
		Requests: ratelimit.Config{RequestsPerDay: 100, RequestsPerHour: 2, RandomShiftMinutes: 15},
	}}
	svc := newTestService(source, store)

	decision, err := svc.AccessCheck(context.Background(), CheckRequest{UserID: "u1", RoleID: "admin_role"}, now)
	require.NoError(t, err)
	require.Equal(t, StatusAllowed, decision.Access)
	require.NotNil(t, decision.RateLimit.EndTime)
	require.False(t, decision.Allowed(now))
	require.Len(t, store.history["u1"], 2, "triggering request is not persisted")
	require.NotNil(t, store.audits[0].RateLimitedUntil)
}

func TestDetermineRateLimitActiveBlockIsReadOnly(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	end := now.Add(45 * time.Minute)
	store.states["u1"] = ratelimit.State{EndTime: &end}
	source := fakeSource{"u1": {
		Status:   StatusAllowed,
		Requests: ratelimit.Config{RequestsPerHour: 1},
	}}
	svc := newTestService(source, store)

	for _, at := range []time.Time{now, now.Add(10 * time.Minute)} {
		state, err := svc.DetermineRateLimit(context.Background(), "u1", at)
		require.NoError(t, err)
		require.NotNil(t, state.EndTime)
		require.True(t, state.EndTime.Equal(end))
	}
	require.Zero(t, store.writes, "active block must not rewrite state")
}

func TestDetermineRateLimitReblocksAfterExpiry(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	end := now.Add(-time.Minute)
	store.states["u1"] = ratelimit.State{EndTime: &end}
	store.history["u1"] = []time.Time{now.Add(-30 * time.Minute), now.Add(-20 * time.Minute)}
	source := fakeSource{"u1": {
		Status:   StatusAllowed,
		Requests: ratelimit.Config{RequestsPerHour: 2},
	}}
	svc := newTestService(source, store)

	state, err := svc.DetermineRateLimit(context.Background(), "u1", now)
	require.NoError(t, err)
	require.NotNil(t, state.EndTime)
	require.True(t, state.EndTime.After(end))
	require.Equal(t, 1, store.writes)
}

func TestDetermineRateLimitConfigErrorsPropagate(t *testing.T) {
	svc := newTestService(fakeSource{}, newMemStore())
	_, err := svc.DetermineRateLimit(context.Background(), "ghost", time.Now())
	require.ErrorIs(t, err, ErrConfigNotFound)
}
