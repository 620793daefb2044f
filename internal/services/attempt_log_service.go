package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lockdown-auth/lockdown/internal/models"
)

// AttemptLogRepository defines the interface for attempt log database operations
type AttemptLogRepository interface {
	Record(ctx context.Context, attempt *models.AttemptRecord) error
	CountFailures(ctx context.Context, ip, username string, since time.Time) (int, error)
	Query(ctx context.Context, filter models.AttemptFilter, limit, offset int) (*models.AttemptPage, error)
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// AttemptLogService records and queries authentication attempts
type AttemptLogService struct {
	repo   AttemptLogRepository
	logger *slog.Logger
}

// NewAttemptLogService creates a new AttemptLogService
func NewAttemptLogService(repo AttemptLogRepository, logger *slog.Logger) *AttemptLogService {
	return &AttemptLogService{
		repo:   repo,
		logger: logger,
	}
}

// Record writes an attempt record. A storage failure must never block the
// authentication flow, so errors are logged and swallowed; callers get the
// record id, or uuid.Nil when the write failed.
func (s *AttemptLogService) Record(ctx context.Context, username, ip string, outcome models.Outcome, message, userAgent string) uuid.UUID {
	attempt := &models.AttemptRecord{
		IPAddress: ip,
		Username:  username,
		Outcome:   outcome,
		UserAgent: userAgent,
		Message:   message,
	}

	if err := s.repo.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to record attempt",
			slog.String("ip_address", ip),
			slog.String("outcome", string(outcome)),
			slog.Any("error", err))
		return uuid.Nil
	}

	return attempt.ID
}

// CountFailures counts failed attempts for the IP or username within the
// trailing window
func (s *AttemptLogService) CountFailures(ctx context.Context, ip, username string, window time.Duration) (int, error) {
	return s.repo.CountFailures(ctx, ip, username, time.Now().Add(-window))
}

// Query returns one page of attempt records, newest first
func (s *AttemptLogService) Query(ctx context.Context, filter models.AttemptFilter, limit, offset int) (*models.AttemptPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	page, err := s.repo.Query(ctx, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	return page, nil
}

// PurgeOlderThan removes records past the retention period
func (s *AttemptLogService) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	deleted, err := s.repo.PurgeOlderThan(ctx, days)
	if err != nil {
		return 0, fmt.Errorf("failed to purge attempts: %w", err)
	}
	return deleted, nil
}

// ClearAll removes every attempt record (administrative action)
func (s *AttemptLogService) ClearAll(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear attempts: %w", err)
	}
	return deleted, nil
}

// ExportCSV streams matching attempt records as CSV, paging through the store
// so arbitrarily large logs never load into memory at once
func (s *AttemptLogService) ExportCSV(ctx context.Context, w io.Writer, filter models.AttemptFilter) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"id", "ip_address", "username", "attempt_time", "outcome", "user_agent", "message"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	const pageSize = 500
	offset := 0
	for {
		page, err := s.repo.Query(ctx, filter, pageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to export attempts: %w", err)
		}

		for _, rec := range page.Records {
			row := []string{
				rec.ID.String(),
				rec.IPAddress,
				rec.Username,
				rec.AttemptTime.UTC().Format(time.RFC3339),
				string(rec.Outcome),
				rec.UserAgent,
				rec.Message,
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}

		if len(page.Records) < pageSize {
			break
		}
		offset += pageSize
	}

	cw.Flush()
	return cw.Error()
}
