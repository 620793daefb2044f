package services_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lockdown-auth/lockdown/internal/config"
	"github.com/lockdown-auth/lockdown/internal/models"
	"github.com/lockdown-auth/lockdown/internal/services"
	pkglogger "github.com/lockdown-auth/lockdown/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAttemptRecorder implements AttemptRecorder for testing
type MockAttemptRecorder struct {
	Records  []models.AttemptRecord
	Count    int
	CountErr error
}

func (m *MockAttemptRecorder) Record(ctx context.Context, username, ip string, outcome models.Outcome, message, userAgent string) uuid.UUID {
	m.Records = append(m.Records, models.AttemptRecord{
		ID:        uuid.New(),
		IPAddress: ip,
		Username:  username,
		Outcome:   outcome,
		Message:   message,
		UserAgent: userAgent,
	})
	return m.Records[len(m.Records)-1].ID
}

func (m *MockAttemptRecorder) CountFailures(ctx context.Context, ip, username string, window time.Duration) (int, error) {
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	return m.Count, nil
}

func (m *MockAttemptRecorder) lastOutcome() models.Outcome {
	if len(m.Records) == 0 {
		return ""
	}
	return m.Records[len(m.Records)-1].Outcome
}

// MockLockoutStore implements LockoutStore for testing
type MockLockoutStore struct {
	byIP       map[string]*models.Lockout
	byUsername map[string]*models.Lockout
	Err        error
}

func NewMockLockoutStore() *MockLockoutStore {
	return &MockLockoutStore{
		byIP:       make(map[string]*models.Lockout),
		byUsername: make(map[string]*models.Lockout),
	}
}

func (m *MockLockoutStore) UpsertByIP(ctx context.Context, ip string, unlockAt time.Time, attemptCount int, reason string) (*models.Lockout, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	l := &models.Lockout{ID: uuid.New(), IPAddress: &ip, CreatedAt: time.Now(), UnlockAt: unlockAt, AttemptCount: attemptCount, Reason: reason}
	m.byIP[ip] = l
	return l, nil
}

func (m *MockLockoutStore) UpsertByUsername(ctx context.Context, username string, unlockAt time.Time, attemptCount int, reason string) (*models.Lockout, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	l := &models.Lockout{ID: uuid.New(), Username: &username, CreatedAt: time.Now(), UnlockAt: unlockAt, AttemptCount: attemptCount, Reason: reason}
	m.byUsername[username] = l
	return l, nil
}

func (m *MockLockoutStore) GetActive(ctx context.Context, ip, username string) (*models.Lockout, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	now := time.Now()
	var best *models.Lockout
	if l, ok := m.byIP[ip]; ok && l.Active(now) {
		best = l
	}
	if l, ok := m.byUsername[username]; ok && username != "" && l.Active(now) {
		if best == nil || l.UnlockAt.After(best.UnlockAt) {
			best = l
		}
	}
	if best == nil {
		return nil, models.ErrNotFound
	}
	return best, nil
}

func (m *MockLockoutStore) DeleteForKeys(ctx context.Context, ip, username string) (int64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	var deleted int64
	if _, ok := m.byIP[ip]; ok {
		delete(m.byIP, ip)
		deleted++
	}
	if _, ok := m.byUsername[username]; ok {
		delete(m.byUsername, username)
		deleted++
	}
	return deleted, nil
}

// MockListChecker implements ListChecker for testing
type MockListChecker struct {
	Whitelisted map[string]bool
	Blacklisted map[string]bool
	Err         error
}

func NewMockListChecker() *MockListChecker {
	return &MockListChecker{
		Whitelisted: make(map[string]bool),
		Blacklisted: make(map[string]bool),
	}
}

func (m *MockListChecker) IsListed(ctx context.Context, ip string, listType models.ListType) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	if listType == models.ListWhitelist {
		return m.Whitelisted[ip], nil
	}
	return m.Blacklisted[ip], nil
}

// MockNotifier implements LockoutNotifier for testing
type MockNotifier struct {
	Notices []*models.Lockout
}

func (m *MockNotifier) SendLockoutNotice(ctx context.Context, lockout *models.Lockout) error {
	m.Notices = append(m.Notices, lockout)
	return nil
}

type stubVerifier struct {
	password string
}

func (v stubVerifier) Verify(ctx context.Context, username, password string) error {
	if password == v.password {
		return nil
	}
	return models.ErrUnauthorized
}

type faultyVerifier struct {
	err error
}

func (v faultyVerifier) Verify(ctx context.Context, username, password string) error {
	return v.err
}

func testSecurityConfig() config.SecurityConfig {
	return config.SecurityConfig{
		MaxAttempts:            3,
		LockoutDuration:        60 * time.Minute,
		IncreasingLockout:      true,
		RegistrationProtection: true,
	}
}

func newTestGate(attempts *MockAttemptRecorder, lockouts *MockLockoutStore, lists *MockListChecker, notifier *MockNotifier, cfg config.SecurityConfig) *services.LoginGate {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	var n services.LockoutNotifier
	if notifier != nil {
		n = notifier
	}
	return services.NewLoginGate(attempts, lockouts, lists, n, cfg, logger, pkglogger.NewAuditLogger(logger))
}

func TestLoginGatePreCheck_AllowsFreshClient(t *testing.T) {
	attempts := &MockAttemptRecorder{}
	gate := newTestGate(attempts, NewMockLockoutStore(), NewMockListChecker(), nil, testSecurityConfig())

	decision := gate.PreCheck(context.Background(), "203.0.113.7", "alice", "curl/8")

	assert.True(t, decision.Allowed)
	assert.False(t, decision.Whitelisted)
	assert.Equal(t, 3, decision.RemainingAttempts)
	assert.Empty(t, attempts.Records)
}

func TestLoginGatePreCheck_WhitelistBypassesEverything(t *testing.T) {
	lists := NewMockListChecker()
	lists.Whitelisted["203.0.113.7"] = true
	lists.Blacklisted["203.0.113.7"] = true

	lockouts := NewMockLockoutStore()
	_, err := lockouts.UpsertByIP(context.Background(), "203.0.113.7", time.Now().Add(time.Hour), 5, "test")
	require.NoError(t, err)

	gate := newTestGate(&MockAttemptRecorder{}, lockouts, lists, nil, testSecurityConfig())
	decision := gate.PreCheck(context.Background(), "203.0.113.7", "alice", "")

	assert.True(t, decision.Allowed)
	assert.True(t, decision.Whitelisted)
}

func TestLoginGatePreCheck_DeniesBlacklistedIP(t *testing.T) {
	lists := NewMockListChecker()
	lists.Blacklisted["203.0.113.7"] = true
	attempts := &MockAttemptRecorder{}

	gate := newTestGate(attempts, NewMockLockoutStore(), lists, nil, testSecurityConfig())
	decision := gate.PreCheck(context.Background(), "203.0.113.7", "alice", "")

	assert.False(t, decision.Allowed)
	assert.ErrorIs(t, decision.Reason, models.ErrIPBlacklisted)
	assert.Equal(t, models.OutcomeBlocked, attempts.lastOutcome())
}

func TestLoginGatePreCheck_DeniesBlacklistedUsername(t *testing.T) {
	cfg := testSecurityConfig()
	cfg.UsernameBlacklist = []string{"guest"}

	attempts := &MockAttemptRecorder{}
	gate := newTestGate(attempts, NewMockLockoutStore(), NewMockListChecker(), nil, cfg)

	decision := gate.PreCheck(context.Background(), "203.0.113.7", "Guest", "")

	assert.False(t, decision.Allowed)
	assert.ErrorIs(t, decision.Reason, models.ErrUsernameBlocked)
	assert.Equal(t, models.OutcomeBlocked, attempts.lastOutcome())
}

func TestLoginGatePreCheck_DeniesActiveLockoutWithRemainingTime(t *testing.T) {
	lockouts := NewMockLockoutStore()
	_, err := lockouts.UpsertByIP(context.Background(), "203.0.113.7", time.Now().Add(30*time.Minute), 3, "test")
	require.NoError(t, err)

	attempts := &MockAttemptRecorder{}
	gate := newTestGate(attempts, lockouts, NewMockListChecker(), nil, testSecurityConfig())

	decision := gate.PreCheck(context.Background(), "203.0.113.7", "alice", "")

	assert.False(t, decision.Allowed)
	assert.ErrorIs(t, decision.Reason, models.ErrLockedOut)
	assert.Greater(t, decision.LockoutRemaining, 29*time.Minute)
	assert.Equal(t, models.OutcomeBlocked, attempts.lastOutcome())
}

func TestLoginGatePreCheck_FailsClosedOnBlacklistError(t *testing.T) {
	lists := NewMockListChecker()
	lists.Err = errors.New("connection refused")

	gate := newTestGate(&MockAttemptRecorder{}, NewMockLockoutStore(), lists, nil, testSecurityConfig())
	decision := gate.PreCheck(context.Background(), "203.0.113.7", "alice", "")

	assert.False(t, decision.Allowed)
	assert.ErrorIs(t, decision.Reason, models.ErrStorageUnavailable)
}

func TestLoginGatePreCheck_FailsClosedOnLockoutError(t *testing.T) {
	lockouts := NewMockLockoutStore()
	lockouts.Err = errors.New("connection refused")

	gate := newTestGate(&MockAttemptRecorder{}, lockouts, NewMockListChecker(), nil, testSecurityConfig())
	decision := gate.PreCheck(context.Background(), "203.0.113.7", "alice", "")

	assert.False(t, decision.Allowed)
	assert.ErrorIs(t, decision.Reason, models.ErrStorageUnavailable)
}

func TestLoginGatePostCheckFailure_LocksOutAtThreshold(t *testing.T) {
	attempts := &MockAttemptRecorder{Count: 3}
	lockouts := NewMockLockoutStore()
	notifier := &MockNotifier{}

	gate := newTestGate(attempts, lockouts, NewMockListChecker(), notifier, testSecurityConfig())
	result, err := gate.PostCheckFailure(context.Background(), "203.0.113.7", "alice", "")

	require.NoError(t, err)
	assert.Equal(t, 3, result.FailedCount)
	assert.Equal(t, 0, result.RemainingAttempts)
	require.NotNil(t, result.Lockout)

	assert.Contains(t, lockouts.byIP, "203.0.113.7")
	assert.Contains(t, lockouts.byUsername, "alice")
	assert.Len(t, notifier.Notices, 1)
	assert.Equal(t, models.OutcomeFailed, attempts.Records[0].Outcome)
}

func TestLoginGatePostCheckFailure_BelowThresholdOnlyRecords(t *testing.T) {
	attempts := &MockAttemptRecorder{Count: 1}
	lockouts := NewMockLockoutStore()

	gate := newTestGate(attempts, lockouts, NewMockListChecker(), nil, testSecurityConfig())
	result, err := gate.PostCheckFailure(context.Background(), "203.0.113.7", "alice", "")

	require.NoError(t, err)
	assert.Equal(t, 2, result.RemainingAttempts)
	assert.Nil(t, result.Lockout)
	assert.Empty(t, lockouts.byIP)
}

func TestLoginGatePostCheckFailure_IncreasingLockoutDoublesEachCycle(t *testing.T) {
	tests := []struct {
		name        string
		failedCount int
		want        time.Duration
	}{
		{"first cycle", 3, 60 * time.Minute},
		{"second cycle", 6, 120 * time.Minute},
		{"third cycle", 9, 240 * time.Minute},
		{"capped at 24h", 18, 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := &MockAttemptRecorder{Count: tt.failedCount}
			lockouts := NewMockLockoutStore()
			gate := newTestGate(attempts, lockouts, NewMockListChecker(), nil, testSecurityConfig())

			before := time.Now()
			result, err := gate.PostCheckFailure(context.Background(), "203.0.113.7", "alice", "")
			require.NoError(t, err)
			require.NotNil(t, result.Lockout)

			got := result.Lockout.UnlockAt.Sub(before)
			assert.InDelta(t, tt.want.Seconds(), got.Seconds(), 5)
		})
	}
}

func TestLoginGatePostCheckFailure_FixedDurationWhenIncreasingDisabled(t *testing.T) {
	cfg := testSecurityConfig()
	cfg.IncreasingLockout = false

	attempts := &MockAttemptRecorder{Count: 9}
	gate := newTestGate(attempts, NewMockLockoutStore(), NewMockListChecker(), nil, cfg)

	before := time.Now()
	result, err := gate.PostCheckFailure(context.Background(), "203.0.113.7", "alice", "")
	require.NoError(t, err)
	require.NotNil(t, result.Lockout)

	got := result.Lockout.UnlockAt.Sub(before)
	assert.InDelta(t, (60 * time.Minute).Seconds(), got.Seconds(), 5)
}

func TestLoginGatePostCheckFailure_FailsClosedOnCountError(t *testing.T) {
	attempts := &MockAttemptRecorder{CountErr: errors.New("connection refused")}
	gate := newTestGate(attempts, NewMockLockoutStore(), NewMockListChecker(), nil, testSecurityConfig())

	result, err := gate.PostCheckFailure(context.Background(), "203.0.113.7", "alice", "")

	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
	assert.Nil(t, result)
}

func TestLoginGatePostCheckSuccess_ClearsBothLockoutKeys(t *testing.T) {
	ctx := context.Background()
	lockouts := NewMockLockoutStore()
	_, err := lockouts.UpsertByIP(ctx, "203.0.113.7", time.Now().Add(time.Hour), 3, "test")
	require.NoError(t, err)
	_, err = lockouts.UpsertByUsername(ctx, "alice", time.Now().Add(time.Hour), 3, "test")
	require.NoError(t, err)

	attempts := &MockAttemptRecorder{}
	gate := newTestGate(attempts, lockouts, NewMockListChecker(), nil, testSecurityConfig())

	gate.PostCheckSuccess(ctx, "203.0.113.7", "alice", "")

	assert.Empty(t, lockouts.byIP)
	assert.Empty(t, lockouts.byUsername)
	assert.Equal(t, models.OutcomeSuccess, attempts.lastOutcome())
}

func TestLoginGateAuthenticate_WrongPasswordReturnsUnauthorized(t *testing.T) {
	attempts := &MockAttemptRecorder{Count: 1}
	gate := newTestGate(attempts, NewMockLockoutStore(), NewMockListChecker(), nil, testSecurityConfig())

	decision, err := gate.Authenticate(context.Background(), stubVerifier{password: "hunter2"}, "alice", "wrong", "203.0.113.7", "")

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Equal(t, 2, decision.RemainingAttempts)
}

func TestLoginGateAuthenticate_VerifierOutageDoesNotCountFailures(t *testing.T) {
	attempts := &MockAttemptRecorder{}
	lockouts := NewMockLockoutStore()
	gate := newTestGate(attempts, lockouts, NewMockListChecker(), nil, testSecurityConfig())

	v := faultyVerifier{err: errors.New("upstream verification failed: timeout")}
	decision, err := gate.Authenticate(context.Background(), v, "alice", "hunter2", "203.0.113.7", "")

	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
	assert.False(t, decision.Allowed)
	assert.Empty(t, attempts.Records)
	assert.Empty(t, lockouts.byIP)
	assert.Empty(t, lockouts.byUsername)
}

func TestLoginGateAuthenticate_SuccessClearsLockouts(t *testing.T) {
	ctx := context.Background()
	lockouts := NewMockLockoutStore()
	_, err := lockouts.UpsertByUsername(ctx, "alice", time.Now().Add(-time.Minute), 3, "expired")
	require.NoError(t, err)

	attempts := &MockAttemptRecorder{}
	gate := newTestGate(attempts, lockouts, NewMockListChecker(), nil, testSecurityConfig())

	decision, err := gate.Authenticate(ctx, stubVerifier{password: "hunter2"}, "alice", "hunter2", "203.0.113.7", "")

	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, lockouts.byUsername)
	assert.Equal(t, models.OutcomeSuccess, attempts.lastOutcome())
}

func TestLoginGateRegisterPreCheck_BlocksReservedUsername(t *testing.T) {
	attempts := &MockAttemptRecorder{}
	gate := newTestGate(attempts, NewMockLockoutStore(), NewMockListChecker(), nil, testSecurityConfig())

	decision := gate.RegisterPreCheck(context.Background(), "203.0.113.7", "Administrator", "")

	assert.False(t, decision.Allowed)
	assert.ErrorIs(t, decision.Reason, models.ErrUsernameBlocked)
	assert.Equal(t, models.OutcomeFailed, attempts.lastOutcome())
}

func TestLoginGateRegisterPreCheck_RepeatedBlockedRegistrationsLockTheIP(t *testing.T) {
	ctx := context.Background()
	attempts := &MockAttemptRecorder{Count: 3}
	lockouts := NewMockLockoutStore()
	gate := newTestGate(attempts, lockouts, NewMockListChecker(), nil, testSecurityConfig())

	decision := gate.RegisterPreCheck(ctx, "203.0.113.7", "admin", "")

	assert.False(t, decision.Allowed)
	assert.Equal(t, models.OutcomeFailed, attempts.lastOutcome())
	assert.Greater(t, decision.LockoutRemaining, time.Duration(0))
	assert.Contains(t, lockouts.byIP, "203.0.113.7")
	assert.Empty(t, lockouts.byUsername)

	// Further registrations from the address hit the active lockout, even
	// for usernames that are not reserved
	decision = gate.RegisterPreCheck(ctx, "203.0.113.7", "bob", "")
	assert.False(t, decision.Allowed)
	assert.ErrorIs(t, decision.Reason, models.ErrLockedOut)
}

func TestLoginGateRegisterPreCheck_BelowThresholdOnlyRecordsFailure(t *testing.T) {
	attempts := &MockAttemptRecorder{Count: 1}
	lockouts := NewMockLockoutStore()
	gate := newTestGate(attempts, lockouts, NewMockListChecker(), nil, testSecurityConfig())

	decision := gate.RegisterPreCheck(context.Background(), "203.0.113.7", "root", "")

	assert.False(t, decision.Allowed)
	assert.ErrorIs(t, decision.Reason, models.ErrUsernameBlocked)
	assert.Equal(t, 2, decision.RemainingAttempts)
	assert.Empty(t, lockouts.byIP)
}

func TestLoginGateRegisterPreCheck_WhitelistedUsernameOverridesBlock(t *testing.T) {
	cfg := testSecurityConfig()
	cfg.UsernameWhitelist = []string{"admin"}

	attempts := &MockAttemptRecorder{}
	gate := newTestGate(attempts, NewMockLockoutStore(), NewMockListChecker(), nil, cfg)

	decision := gate.RegisterPreCheck(context.Background(), "203.0.113.7", "admin", "")

	assert.True(t, decision.Allowed)
	assert.Equal(t, models.OutcomeRegistration, attempts.lastOutcome())
}

func TestLoginGateRegisterPreCheck_DisabledProtectionAllowsAll(t *testing.T) {
	cfg := testSecurityConfig()
	cfg.RegistrationProtection = false

	attempts := &MockAttemptRecorder{}
	gate := newTestGate(attempts, NewMockLockoutStore(), NewMockListChecker(), nil, cfg)

	decision := gate.RegisterPreCheck(context.Background(), "203.0.113.7", "admin", "")

	assert.True(t, decision.Allowed)
	assert.Empty(t, attempts.Records)
}

func TestLoginGateUnlock_RemovesLockouts(t *testing.T) {
	ctx := context.Background()
	lockouts := NewMockLockoutStore()
	_, err := lockouts.UpsertByIP(ctx, "203.0.113.7", time.Now().Add(time.Hour), 3, "test")
	require.NoError(t, err)

	gate := newTestGate(&MockAttemptRecorder{}, lockouts, NewMockListChecker(), nil, testSecurityConfig())

	deleted, err := gate.Unlock(ctx, "203.0.113.7", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Empty(t, lockouts.byIP)
}
