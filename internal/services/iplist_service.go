package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lockdown-auth/lockdown/internal/models"
	"github.com/lockdown-auth/lockdown/pkg/ipmatch"
)

// IPListRepository defines the interface for allow/deny list database operations
type IPListRepository interface {
	Add(ctx context.Context, entry *models.IPListEntry) error
	Remove(ctx context.Context, id uuid.UUID) error
	ListByType(ctx context.Context, listType models.ListType) ([]*models.IPListEntry, error)
}

// IPListService manages allow/deny list entries and membership checks
type IPListService struct {
	repo   IPListRepository
	logger *slog.Logger
}

// NewIPListService creates a new IPListService
func NewIPListService(repo IPListRepository, logger *slog.Logger) *IPListService {
	return &IPListService{
		repo:   repo,
		logger: logger,
	}
}

// IsListed reports whether ip matches any entry of the given list type,
// short-circuiting on the first match
func (s *IPListService) IsListed(ctx context.Context, ip string, listType models.ListType) (bool, error) {
	entries, err := s.repo.ListByType(ctx, listType)
	if err != nil {
		return false, fmt.Errorf("failed to load %s entries: %w", listType, err)
	}

	for _, entry := range entries {
		if ipmatch.Matches(ip, entry.IPOrRange, ipmatch.RangeType(entry.RangeType)) {
			return true, nil
		}
	}
	return false, nil
}

// Add validates and inserts a list entry. Malformed values map to
// models.ErrInvalidIPFormat, duplicates to models.ErrConflict.
func (s *IPListService) Add(ctx context.Context, ipOrRange string, listType models.ListType, note string) (*models.IPListEntry, error) {
	if !listType.Valid() {
		return nil, models.ErrBadRequest
	}

	rangeType, err := ipmatch.ClassifyRange(ipOrRange)
	if err != nil {
		return nil, models.ErrInvalidIPFormat
	}

	entry := &models.IPListEntry{
		IPOrRange: ipOrRange,
		ListType:  listType,
		RangeType: models.RangeType(rangeType),
		Note:      note,
	}

	if err := s.repo.Add(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Info("ip list entry added",
		slog.String("value", entry.IPOrRange),
		slog.String("list_type", string(listType)),
		slog.String("range_type", string(entry.RangeType)))

	return entry, nil
}

// Remove deletes an entry by id
func (s *IPListService) Remove(ctx context.Context, id uuid.UUID) error {
	return s.repo.Remove(ctx, id)
}

// Export returns all entries of one list type for audit or backup
func (s *IPListService) Export(ctx context.Context, listType models.ListType) ([]*models.IPListEntry, error) {
	if !listType.Valid() {
		return nil, models.ErrBadRequest
	}
	return s.repo.ListByType(ctx, listType)
}

// ExportCSV writes all entries of one list type as CSV
func (s *IPListService) ExportCSV(ctx context.Context, w io.Writer, listType models.ListType) error {
	entries, err := s.Export(ctx, listType)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ip_or_range", "list_type", "range_type", "note", "created_at"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		row := []string{e.IPOrRange, string(e.ListType), string(e.RangeType), e.Note, e.CreatedAt.UTC().Format(time.RFC3339)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ImportCSV reads entries from CSV (first column ip_or_range, optional second
// column note) and adds them to the given list. Invalid and duplicate rows are
// skipped, not fatal; returns how many were added and how many skipped.
func (s *IPListService) ImportCSV(ctx context.Context, r io.Reader, listType models.ListType) (added, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return added, skipped, fmt.Errorf("failed to read CSV: %w", err)
		}
		if len(row) == 0 || row[0] == "" || row[0] == "ip_or_range" {
			continue
		}

		note := ""
		if len(row) > 1 {
			note = row[1]
		}

		if _, err := s.Add(ctx, row[0], listType, note); err != nil {
			if errors.Is(err, models.ErrInvalidIPFormat) || errors.Is(err, models.ErrConflict) {
				s.logger.Warn("skipping CSV import row",
					slog.String("value", row[0]),
					slog.Any("error", err))
				skipped++
				continue
			}
			return added, skipped, err
		}
		added++
	}

	return added, skipped, nil
}
