package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lockdown-auth/lockdown/internal/config"
	"github.com/lockdown-auth/lockdown/internal/models"
	pkglogger "github.com/lockdown-auth/lockdown/pkg/logger"
)

// maxLockoutDuration caps escalated lockouts at 24 hours
const maxLockoutDuration = 24 * time.Hour

// defaultBlockedUsernames are rejected at registration regardless of lockout
// state when registration protection is enabled
var defaultBlockedUsernames = []string{"admin", "administrator", "root", "user", "test"}

// LockoutStore defines the lockout operations the gate needs. Creation uses
// upsert-on-conflict at the database level so concurrent escalations for the
// same key collapse into one row.
type LockoutStore interface {
	UpsertByIP(ctx context.Context, ip string, unlockAt time.Time, attemptCount int, reason string) (*models.Lockout, error)
	UpsertByUsername(ctx context.Context, username string, unlockAt time.Time, attemptCount int, reason string) (*models.Lockout, error)
	GetActive(ctx context.Context, ip, username string) (*models.Lockout, error)
	DeleteForKeys(ctx context.Context, ip, username string) (int64, error)
}

// ListChecker is the membership query the gate runs against the allow/deny lists
type ListChecker interface {
	IsListed(ctx context.Context, ip string, listType models.ListType) (bool, error)
}

// AttemptRecorder is the slice of the attempt log the gate writes and reads
type AttemptRecorder interface {
	Record(ctx context.Context, username, ip string, outcome models.Outcome, message, userAgent string) uuid.UUID
	CountFailures(ctx context.Context, ip, username string, window time.Duration) (int, error)
}

// CredentialVerifier is the host's credential store. The gate never verifies
// passwords itself; it wraps this collaborator with its pre and post checks.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) error
}

// LockoutNotifier is told about new or escalated lockouts. Delivery failures
// are logged, never propagated into the authentication decision.
type LockoutNotifier interface {
	SendLockoutNotice(ctx context.Context, lockout *models.Lockout) error
}

// Decision is the outcome of a gate pre-check
type Decision struct {
	Allowed           bool
	Whitelisted       bool
	RemainingAttempts int
	LockoutRemaining  time.Duration
	Reason            error
}

// FailureResult describes what happened after a failed verification was processed
type FailureResult struct {
	FailedCount       int
	RemainingAttempts int
	Lockout           *models.Lockout
}

// LoginGate is the brute-force decision engine. It classifies every attempt
// (whitelisted, blacklisted, locked out, normal), records it, and escalates
// repeated failures into lockouts.
type LoginGate struct {
	attempts AttemptRecorder
	lockouts LockoutStore
	ipLists  ListChecker
	notifier LockoutNotifier
	cfg      config.SecurityConfig
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewLoginGate creates a new LoginGate. notifier may be nil.
func NewLoginGate(
	attempts AttemptRecorder,
	lockouts LockoutStore,
	ipLists ListChecker,
	notifier LockoutNotifier,
	cfg config.SecurityConfig,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *LoginGate {
	return &LoginGate{
		attempts: attempts,
		lockouts: lockouts,
		ipLists:  ipLists,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		audit:    audit,
	}
}

// PreCheck classifies an attempt before credential verification runs.
//
// Whitelisted addresses bypass every further check. Blacklisted addresses,
// blocked usernames and active lockouts are denied with a blocked record
// written to the attempt log. Storage failures on the deny checks fail closed:
// the block decision is never silently skipped because of a storage hiccup.
func (g *LoginGate) PreCheck(ctx context.Context, ip, username, userAgent string) *Decision {
	whitelisted, err := g.ipLists.IsListed(ctx, ip, models.ListWhitelist)
	if err != nil {
		// A failed whitelist lookup only loses the bypass, it cannot grant
		// access, so the attempt proceeds through the deny checks
		g.logger.Error("whitelist check failed", slog.String("ip_address", ip), slog.Any("error", err))
	}
	if whitelisted {
		return &Decision{Allowed: true, Whitelisted: true, RemainingAttempts: g.cfg.MaxAttempts}
	}

	blacklisted, err := g.ipLists.IsListed(ctx, ip, models.ListBlacklist)
	if err != nil {
		g.logger.Error("blacklist check failed", slog.String("ip_address", ip), slog.Any("error", err))
		return &Decision{Allowed: false, Reason: models.ErrStorageUnavailable}
	}
	if blacklisted {
		g.attempts.Record(ctx, username, ip, models.OutcomeBlocked, "blacklisted address", userAgent)
		g.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_blocked",
			Username:      username,
			IPAddress:     ip,
			UserAgent:     userAgent,
			FailureReason: "blacklisted",
		})
		return &Decision{Allowed: false, Reason: models.ErrIPBlacklisted}
	}

	if g.usernameBlacklisted(username) {
		g.attempts.Record(ctx, username, ip, models.OutcomeBlocked, "blacklisted username", userAgent)
		g.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_blocked",
			Username:      username,
			IPAddress:     ip,
			UserAgent:     userAgent,
			FailureReason: "username_blacklisted",
		})
		return &Decision{Allowed: false, Reason: models.ErrUsernameBlocked}
	}

	lockout, err := g.lockouts.GetActive(ctx, ip, username)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		g.logger.Error("lockout check failed", slog.String("ip_address", ip), slog.Any("error", err))
		return &Decision{Allowed: false, Reason: models.ErrStorageUnavailable}
	}
	if lockout != nil {
		remaining := lockout.Remaining(time.Now())
		g.attempts.Record(ctx, username, ip, models.OutcomeBlocked, "active lockout", userAgent)
		g.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_blocked",
			Username:      username,
			IPAddress:     ip,
			UserAgent:     userAgent,
			FailureReason: "locked_out",
		})
		return &Decision{Allowed: false, LockoutRemaining: remaining, Reason: models.ErrLockedOut}
	}

	remaining := g.cfg.MaxAttempts
	if count, err := g.attempts.CountFailures(ctx, ip, username, g.cfg.CountWindow()); err != nil {
		// Advisory only; the deny checks above already passed
		g.logger.Error("failure count unavailable", slog.String("ip_address", ip), slog.Any("error", err))
	} else if remaining = g.cfg.MaxAttempts - count; remaining < 0 {
		remaining = 0
	}

	return &Decision{Allowed: true, RemainingAttempts: remaining}
}

// PostCheckFailure runs after credential verification failed: it records the
// failure, recounts the window, and creates or extends lockouts when the
// threshold is reached.
func (g *LoginGate) PostCheckFailure(ctx context.Context, ip, username, userAgent string) (*FailureResult, error) {
	g.attempts.Record(ctx, username, ip, models.OutcomeFailed, "invalid credentials", userAgent)
	g.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		Username:      username,
		IPAddress:     ip,
		UserAgent:     userAgent,
		FailureReason: "invalid_credentials",
	})

	return g.escalateFailures(ctx, ip, username, "too many failed login attempts")
}

// escalateFailures recounts the failure window for the given keys and creates
// or extends lockouts when the threshold is reached. An empty username keys
// the count and the lockout on the address alone.
func (g *LoginGate) escalateFailures(ctx context.Context, ip, username, reason string) (*FailureResult, error) {
	count, err := g.attempts.CountFailures(ctx, ip, username, g.cfg.CountWindow())
	if err != nil {
		g.logger.Error("failed to count failures, skipping escalation",
			slog.String("ip_address", ip),
			slog.Any("error", err))
		return nil, models.ErrStorageUnavailable
	}

	result := &FailureResult{
		FailedCount:       count,
		RemainingAttempts: g.cfg.MaxAttempts - count,
	}
	if result.RemainingAttempts < 0 {
		result.RemainingAttempts = 0
	}

	if count < g.cfg.MaxAttempts {
		return result, nil
	}

	duration := g.lockoutDuration(count)
	unlockAt := time.Now().Add(duration)

	lockout, err := g.lockouts.UpsertByIP(ctx, ip, unlockAt, count, reason)
	if err != nil {
		g.logger.Error("failed to upsert ip lockout", slog.String("ip_address", ip), slog.Any("error", err))
		return result, models.ErrStorageUnavailable
	}
	result.Lockout = lockout

	if username != "" {
		if _, err := g.lockouts.UpsertByUsername(ctx, username, unlockAt, count, reason); err != nil {
			g.logger.Error("failed to upsert username lockout",
				slog.String("username", pkglogger.SanitizedUsername(username)),
				slog.Any("error", err))
			return result, models.ErrStorageUnavailable
		}
	}

	g.audit.LogLockout(ip, username, reason, unlockAt, count)
	g.notify(ctx, lockout)

	return result, nil
}

// PostCheckSuccess runs after a successful verification: lockout rows for both
// keys are cleared and a success record written
func (g *LoginGate) PostCheckSuccess(ctx context.Context, ip, username, userAgent string) {
	if _, err := g.lockouts.DeleteForKeys(ctx, ip, username); err != nil {
		g.logger.Error("failed to clear lockouts after success",
			slog.String("ip_address", ip),
			slog.Any("error", err))
	}

	g.attempts.Record(ctx, username, ip, models.OutcomeSuccess, "", userAgent)
	g.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		Username:  username,
		IPAddress: ip,
		UserAgent: userAgent,
		Success:   true,
	})
}

// Authenticate wraps the host's credential verification with the gate's pre
// and post checks. It returns the pre-check decision alongside the verdict so
// callers can surface remaining attempts or lockout time to the end user.
func (g *LoginGate) Authenticate(ctx context.Context, verifier CredentialVerifier, username, password, ip, userAgent string) (*Decision, error) {
	decision := g.PreCheck(ctx, ip, username, userAgent)
	if !decision.Allowed {
		return decision, decision.Reason
	}

	if err := verifier.Verify(ctx, username, password); err != nil {
		if !errors.Is(err, models.ErrUnauthorized) {
			// Upstream outage, not a credential failure; deny without
			// advancing the failure count
			g.logger.Error("credential verification unavailable", slog.Any("error", err))
			decision.Allowed = false
			decision.Reason = models.ErrStorageUnavailable
			return decision, models.ErrStorageUnavailable
		}

		result, gateErr := g.PostCheckFailure(ctx, ip, username, userAgent)
		if result != nil {
			decision.RemainingAttempts = result.RemainingAttempts
			if result.Lockout != nil {
				decision.LockoutRemaining = result.Lockout.Remaining(time.Now())
			}
		}
		if gateErr != nil {
			g.logger.Error("post-check incomplete", slog.Any("error", gateErr))
		}
		return decision, models.ErrUnauthorized
	}

	g.PostCheckSuccess(ctx, ip, username, userAgent)
	return decision, nil
}

// RegisterPreCheck classifies a registration attempt. Registration has no
// authenticated principal yet, so lockouts and counting key on the IP alone,
// with an additional blocked-username check ahead of everything else. A
// denied registration counts as a failure and escalates toward an IP lockout
// exactly like a failed login.
func (g *LoginGate) RegisterPreCheck(ctx context.Context, ip, username, userAgent string) *Decision {
	if !g.cfg.RegistrationProtection {
		return &Decision{Allowed: true, RemainingAttempts: g.cfg.MaxAttempts}
	}

	if g.registrationUsernameBlocked(username) {
		g.attempts.Record(ctx, username, ip, models.OutcomeFailed, "blocked registration username", userAgent)
		g.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "registration_blocked",
			Username:      username,
			IPAddress:     ip,
			UserAgent:     userAgent,
			FailureReason: "username_blocked",
		})

		decision := &Decision{Allowed: false, Reason: models.ErrUsernameBlocked}
		result, err := g.escalateFailures(ctx, ip, "", "repeated blocked registrations")
		if err != nil {
			g.logger.Error("registration escalation incomplete",
				slog.String("ip_address", ip),
				slog.Any("error", err))
		}
		if result != nil {
			decision.RemainingAttempts = result.RemainingAttempts
			if result.Lockout != nil {
				decision.LockoutRemaining = result.Lockout.Remaining(time.Now())
			}
		}
		return decision
	}

	decision := g.PreCheck(ctx, ip, "", userAgent)
	if decision.Allowed {
		g.attempts.Record(ctx, username, ip, models.OutcomeRegistration, "", userAgent)
	}
	return decision
}

// Unlock removes lockouts for a single IP and/or username (administrative action)
func (g *LoginGate) Unlock(ctx context.Context, ip, username string) (int64, error) {
	deleted, err := g.lockouts.DeleteForKeys(ctx, ip, username)
	if err != nil {
		return 0, err
	}
	g.audit.LogAdminAction("unlock", map[string]string{
		"ip_address": ip,
		"username":   username,
	})
	return deleted, nil
}

// lockoutDuration computes how long the next lockout lasts. With increasing
// lockout enabled the duration doubles each full cycle of max_attempts
// failures: base at the first lockout, 2x at the second, 4x at the third,
// capped at 24 hours.
func (g *LoginGate) lockoutDuration(failedCount int) time.Duration {
	duration := g.cfg.LockoutDuration

	if g.cfg.IncreasingLockout {
		cycles := failedCount/g.cfg.MaxAttempts - 1
		if cycles < 0 {
			cycles = 0
		}
		if cycles > 16 {
			cycles = 16
		}
		duration = g.cfg.LockoutDuration << cycles
	}

	if duration > maxLockoutDuration {
		duration = maxLockoutDuration
	}
	return duration
}

func (g *LoginGate) usernameBlacklisted(username string) bool {
	if username == "" {
		return false
	}

	if len(g.cfg.UsernameWhitelist) > 0 {
		for _, allowed := range g.cfg.UsernameWhitelist {
			if strings.EqualFold(allowed, username) {
				return false
			}
		}
	}

	for _, blocked := range g.cfg.UsernameBlacklist {
		if strings.EqualFold(blocked, username) {
			return true
		}
	}
	return false
}

func (g *LoginGate) registrationUsernameBlocked(username string) bool {
	for _, allowed := range g.cfg.UsernameWhitelist {
		if strings.EqualFold(allowed, username) {
			return false
		}
	}

	for _, blocked := range defaultBlockedUsernames {
		if strings.EqualFold(blocked, username) {
			return true
		}
	}
	return g.usernameBlacklisted(username)
}

func (g *LoginGate) notify(ctx context.Context, lockout *models.Lockout) {
	if g.notifier == nil || lockout == nil {
		return
	}
	if err := g.notifier.SendLockoutNotice(ctx, lockout); err != nil {
		g.logger.Error("failed to send lockout notice", slog.Any("error", err))
	}
}
