package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lockdown-auth/lockdown/internal/models"
	pkghttp "github.com/lockdown-auth/lockdown/pkg/http"
	pkglogger "github.com/lockdown-auth/lockdown/pkg/logger"
)

// AttemptAdmin is the slice of the attempt log exposed to administrators
type AttemptAdmin interface {
	Query(ctx context.Context, filter models.AttemptFilter, limit, offset int) (*models.AttemptPage, error)
	ExportCSV(ctx context.Context, w io.Writer, filter models.AttemptFilter) error
	ClearAll(ctx context.Context) (int64, error)
}

// LockoutAdmin is the slice of the lockout store exposed to administrators
type LockoutAdmin interface {
	ListActive(ctx context.Context) ([]*models.Lockout, error)
	DeleteAll(ctx context.Context) (int64, error)
	DeleteForKeys(ctx context.Context, ip, username string) (int64, error)
}

// IPListAdmin is the allow/deny list management surface
type IPListAdmin interface {
	Add(ctx context.Context, ipOrRange string, listType models.ListType, note string) (*models.IPListEntry, error)
	Remove(ctx context.Context, id uuid.UUID) error
	Export(ctx context.Context, listType models.ListType) ([]*models.IPListEntry, error)
	ExportCSV(ctx context.Context, w io.Writer, listType models.ListType) error
	ImportCSV(ctx context.Context, r io.Reader, listType models.ListType) (added, skipped int, err error)
}

// AdminHandler serves the administrative API for the security stores
type AdminHandler struct {
	attempts AttemptAdmin
	lockouts LockoutAdmin
	ipLists  IPListAdmin
	audit    *pkglogger.AuditLogger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(attempts AttemptAdmin, lockouts LockoutAdmin, ipLists IPListAdmin, audit *pkglogger.AuditLogger) *AdminHandler {
	return &AdminHandler{
		attempts: attempts,
		lockouts: lockouts,
		ipLists:  ipLists,
		audit:    audit,
	}
}

// Response DTOs

// AttemptResponse is one attempt log row as returned by the API
type AttemptResponse struct {
	ID          string    `json:"id"`
	IPAddress   string    `json:"ip_address"`
	Username    string    `json:"username,omitempty"`
	AttemptTime time.Time `json:"attempt_time"`
	Outcome     string    `json:"outcome"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// AttemptPageResponse is one page of attempt rows
type AttemptPageResponse struct {
	Records []AttemptResponse `json:"records"`
	Total   int64             `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

// LockoutResponse is one active lockout as returned by the API
type LockoutResponse struct {
	ID           string    `json:"id"`
	IPAddress    string    `json:"ip_address,omitempty"`
	Username     string    `json:"username,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UnlockAt     time.Time `json:"unlock_at"`
	AttemptCount int       `json:"attempt_count"`
	Reason       string    `json:"reason"`
}

// IPListEntryRequest is the request body for adding a list entry
type IPListEntryRequest struct {
	IPOrRange string `json:"ip_or_range" validate:"required,max=64"`
	ListType  string `json:"list_type" validate:"required,oneof=whitelist blacklist"`
	Note      string `json:"note" validate:"max=255"`
}

// IPListEntryResponse is one list entry as returned by the API
type IPListEntryResponse struct {
	ID        string    `json:"id"`
	IPOrRange string    `json:"ip_or_range"`
	ListType  string    `json:"list_type"`
	RangeType string    `json:"range_type"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListAttempts returns a filtered page of the attempt log
func (h *AdminHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAttemptFilter(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	limit, offset := parsePagination(r)

	page, err := h.attempts.Query(r.Context(), filter, limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to query attempts")
		return
	}

	resp := AttemptPageResponse{
		Records: make([]AttemptResponse, 0, len(page.Records)),
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
	}
	for _, rec := range page.Records {
		resp.Records = append(resp.Records, AttemptResponse{
			ID:          rec.ID.String(),
			IPAddress:   rec.IPAddress,
			Username:    rec.Username,
			AttemptTime: rec.AttemptTime,
			Outcome:     string(rec.Outcome),
			UserAgent:   rec.UserAgent,
			Message:     rec.Message,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExportAttempts streams the filtered attempt log as CSV
func (h *AdminHandler) ExportAttempts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAttemptFilter(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="login-attempts.csv"`)

	if err := h.attempts.ExportCSV(r.Context(), w, filter); err != nil {
		// Headers are already out; nothing useful to write beyond logging
		h.audit.LogAdminAction("attempts_export_failed", map[string]string{"error": err.Error()})
		return
	}

	h.audit.LogAdminAction("attempts_exported", nil)
}

// ClearAttempts deletes the entire attempt log
func (h *AdminHandler) ClearAttempts(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.attempts.ClearAll(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to clear attempts")
		return
	}

	h.audit.LogAdminAction("attempts_cleared", map[string]string{
		"deleted": strconv.FormatInt(deleted, 10),
	})
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// ListLockouts returns all lockouts currently in force
func (h *AdminHandler) ListLockouts(w http.ResponseWriter, r *http.Request) {
	lockouts, err := h.lockouts.ListActive(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list lockouts")
		return
	}

	resp := make([]LockoutResponse, 0, len(lockouts))
	for _, l := range lockouts {
		item := LockoutResponse{
			ID:           l.ID.String(),
			CreatedAt:    l.CreatedAt,
			UnlockAt:     l.UnlockAt,
			AttemptCount: l.AttemptCount,
			Reason:       l.Reason,
		}
		if l.IPAddress != nil {
			item.IPAddress = *l.IPAddress
		}
		if l.Username != nil {
			item.Username = *l.Username
		}
		resp = append(resp, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{"lockouts": resp})
}

// ResetLockouts removes every lockout
func (h *AdminHandler) ResetLockouts(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.lockouts.DeleteAll(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to reset lockouts")
		return
	}

	h.audit.LogAdminAction("lockouts_reset", map[string]string{
		"deleted": strconv.FormatInt(deleted, 10),
	})
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// Unlock removes lockouts for a single IP and/or username
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	ip := strings.TrimSpace(r.URL.Query().Get("ip"))
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if ip == "" && username == "" {
		pkghttp.WriteBadRequest(w, "ip or username query parameter is required")
		return
	}

	deleted, err := h.lockouts.DeleteForKeys(r.Context(), ip, username)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to unlock")
		return
	}

	h.audit.LogAdminAction("unlock", map[string]string{
		"ip_address": ip,
		"username":   username,
		"deleted":    strconv.FormatInt(deleted, 10),
	})
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// ListIPEntries returns all entries of the requested list type
func (h *AdminHandler) ListIPEntries(w http.ResponseWriter, r *http.Request) {
	listType, err := parseListType(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.ipLists.Export(r.Context(), listType)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": toIPListResponses(entries)})
}

// AddIPEntry validates and adds one allow/deny entry
func (h *AdminHandler) AddIPEntry(w http.ResponseWriter, r *http.Request) {
	var req IPListEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	entry, err := h.ipLists.Add(r.Context(), strings.TrimSpace(req.IPOrRange), models.ListType(req.ListType), req.Note)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidIPFormat):
			pkghttp.WriteBadRequest(w, "Invalid IP address or range format")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Entry already exists")
		default:
			pkghttp.WriteInternalError(w, "Failed to add entry")
		}
		return
	}

	h.audit.LogAdminAction("ip_list_entry_added", map[string]string{
		"value":     entry.IPOrRange,
		"list_type": string(entry.ListType),
	})
	writeJSON(w, http.StatusCreated, toIPListResponse(entry))
}

// RemoveIPEntry deletes one entry by id
func (h *AdminHandler) RemoveIPEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid entry id")
		return
	}

	if err := h.ipLists.Remove(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Entry not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to remove entry")
		return
	}

	h.audit.LogAdminAction("ip_list_entry_removed", map[string]string{"id": id.String()})
	w.WriteHeader(http.StatusNoContent)
}

// ExportIPEntries streams one list as CSV
func (h *AdminHandler) ExportIPEntries(w http.ResponseWriter, r *http.Request) {
	listType, err := parseListType(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="ip-list.csv"`)

	if err := h.ipLists.ExportCSV(r.Context(), w, listType); err != nil {
		h.audit.LogAdminAction("ip_list_export_failed", map[string]string{"error": err.Error()})
		return
	}
}

// ImportIPEntries bulk-loads entries from an uploaded CSV body
func (h *AdminHandler) ImportIPEntries(w http.ResponseWriter, r *http.Request) {
	listType, err := parseListType(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	added, skipped, err := h.ipLists.ImportCSV(r.Context(), r.Body, listType)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Import failed: "+err.Error())
		return
	}

	h.audit.LogAdminAction("ip_list_imported", map[string]string{
		"list_type": string(listType),
		"added":     strconv.Itoa(added),
		"skipped":   strconv.Itoa(skipped),
	})
	writeJSON(w, http.StatusOK, map[string]int{"added": added, "skipped": skipped})
}

// parseAttemptFilter builds an AttemptFilter from query parameters
func parseAttemptFilter(r *http.Request) (models.AttemptFilter, error) {
	var filter models.AttemptFilter
	q := r.URL.Query()

	if raw := q.Get("outcome"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			outcome := models.Outcome(strings.TrimSpace(part))
			if !outcome.Valid() {
				return filter, errors.New("invalid outcome value: " + string(outcome))
			}
			filter.Outcomes = append(filter.Outcomes, outcome)
		}
	}

	filter.IP = strings.TrimSpace(q.Get("ip"))
	filter.Username = strings.TrimSpace(q.Get("username"))

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("invalid from timestamp, want RFC3339")
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("invalid to timestamp, want RFC3339")
		}
		filter.To = t
	}

	return filter, nil
}

func parsePagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	return limit, offset
}

func parseListType(r *http.Request) (models.ListType, error) {
	listType := models.ListType(r.URL.Query().Get("type"))
	if !listType.Valid() {
		return "", errors.New("type query parameter must be whitelist or blacklist")
	}
	return listType, nil
}

func toIPListResponse(e *models.IPListEntry) IPListEntryResponse {
	return IPListEntryResponse{
		ID:        e.ID.String(),
		IPOrRange: e.IPOrRange,
		ListType:  string(e.ListType),
		RangeType: string(e.RangeType),
		Note:      e.Note,
		CreatedAt: e.CreatedAt,
	}
}

func toIPListResponses(entries []*models.IPListEntry) []IPListEntryResponse {
	out := make([]IPListEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toIPListResponse(e))
	}
	return out
}
