// Package api exposes the version history, audit and sync surfaces over
// JSON HTTP. Transport retry policy lives with the callers; handlers
// only honor the Idempotency-Key contract.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/UpswitchEU/valuation-history/internal/audit"
	"github.com/UpswitchEU/valuation-history/internal/domain"
	"github.com/UpswitchEU/valuation-history/internal/syncer"
	"github.com/UpswitchEU/valuation-history/internal/version"
)

// IdempotencyKeyHeader carries the client's deduplication token.
const IdempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	versions *version.Store
	trail    *audit.Trail
	sessions *syncer.Registry
}

// NewHTTPHandler wires the REST surface over the three services.
func NewHTTPHandler(versions *version.Store, trail *audit.Trail, sessions *syncer.Registry) http.Handler {
	return &Handler{versions: versions, trail: trail, sessions: sessions}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) >= 2 && parts[0] == "reports":
		h.serveReport(w, r, parts[1], parts[2:])
	case parts[0] == "audit":
		h.serveAudit(w, r, parts[1:])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) serveReport(w http.ResponseWriter, r *http.Request, reportID string, rest []string) {
	if reportID == "" {
		http.Error(w, "missing report id", http.StatusBadRequest)
		return
	}

	switch {
	case len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodGet:
		h.handleListVersions(w, r, reportID)
	case len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodPost:
		h.handleCreateVersion(w, r, reportID)
	case len(rest) == 2 && rest[0] == "versions" && r.Method == http.MethodGet:
		h.handleGetVersion(w, r, reportID, rest[1])
	case len(rest) == 2 && rest[0] == "versions" && r.Method == http.MethodPatch:
		h.handleUpdateVersion(w, r, reportID, rest[1])
	case len(rest) == 3 && rest[0] == "versions" && rest[2] == "activate" && r.Method == http.MethodPost:
		h.handleActivateVersion(w, r, reportID, rest[1])
	case len(rest) == 3 && rest[0] == "versions" && rest[2] == "restore" && r.Method == http.MethodPost:
		h.handleRestoreVersion(w, r, reportID, rest[1])
	case len(rest) == 1 && rest[0] == "inputs" && r.Method == http.MethodPost:
		h.handleApplyEdit(w, r, reportID)
	case len(rest) == 1 && rest[0] == "sync" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, h.sessions.ForReport(reportID).SyncState())
	case len(rest) == 1 && rest[0] == "sync" && r.Method == http.MethodPost:
		h.handleSave(w, r, reportID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request, reportID string) {
	order := version.NewestFirst
	if r.URL.Query().Get("order") == "asc" {
		order = version.OldestFirst
	}
	writeJSON(w, http.StatusOK, h.versions.ListResponse(reportID, order))
}

func (h *Handler) handleCreateVersion(w http.ResponseWriter, r *http.Request, reportID string) {
	defer r.Body.Close()
	var payload domain.CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	payload.ReportID = reportID
	payload.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)

	if err := domain.ValidateInputs(payload.InputSnapshot, time.Now()); err != nil {
		writeError(w, err)
		return
	}

	created, err := h.versions.Create(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetVersion(w http.ResponseWriter, r *http.Request, reportID, rawNumber string) {
	number, ok := parseVersionNumber(w, rawNumber)
	if !ok {
		return
	}
	found, err := h.versions.Get(reportID, number)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) handleUpdateVersion(w http.ResponseWriter, r *http.Request, reportID, rawNumber string) {
	number, ok := parseVersionNumber(w, rawNumber)
	if !ok {
		return
	}
	defer r.Body.Close()
	var patch domain.VersionMetadataPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	updated, err := h.versions.Update(r.Context(), reportID, number, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleActivateVersion(w http.ResponseWriter, r *http.Request, reportID, rawNumber string) {
	number, ok := parseVersionNumber(w, rawNumber)
	if !ok {
		return
	}
	if err := h.sessions.ForReport(reportID).SwitchView(number); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"activeVersion": number})
}

func (h *Handler) handleRestoreVersion(w http.ResponseWriter, r *http.Request, reportID, rawNumber string) {
	number, ok := parseVersionNumber(w, rawNumber)
	if !ok {
		return
	}
	session := h.sessions.ForReport(reportID)
	if err := session.Restore(number); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.SyncState())
}

func (h *Handler) handleApplyEdit(w http.ResponseWriter, r *http.Request, reportID string) {
	defer r.Body.Close()
	var inputs domain.ValuationInputs
	if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := h.sessions.ForReport(reportID).ApplyEdit(inputs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"applied": true})
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request, reportID string) {
	session := h.sessions.ForReport(reportID)
	if err := session.Save(r.Context()); err != nil {
		// The session stays usable offline; surface the failure state.
		writeJSON(w, http.StatusBadGateway, session.SyncState())
		return
	}
	writeJSON(w, http.StatusOK, session.SyncState())
}

func (h *Handler) serveAudit(w http.ResponseWriter, r *http.Request, rest []string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch {
	case len(rest) == 0 || rest[0] == "":
		h.handleAuditQuery(w, r)
	case rest[0] == "stats":
		writeJSON(w, http.StatusOK, h.trail.StatsFor(domain.AuditOperation(r.URL.Query().Get("operation"))))
	case rest[0] == "export":
		h.handleAuditExport(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var entries []domain.AuditEntry
	switch {
	case q.Get("reportId") != "":
		entries = h.trail.ByReportID(q.Get("reportId"))
	case q.Get("operation") != "":
		entries = h.trail.ByOperation(domain.AuditOperation(q.Get("operation")))
	case q.Get("correlationId") != "":
		entries = h.trail.ByCorrelationID(q.Get("correlationId"))
	case q.Get("from") != "" && q.Get("to") != "":
		from, err := time.Parse(time.RFC3339, q.Get("from"))
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid from: %v", err), http.StatusBadRequest)
			return
		}
		to, err := time.Parse(time.RFC3339, q.Get("to"))
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid to: %v", err), http.StatusBadRequest)
			return
		}
		entries = h.trail.ByTimeRange(from, to)
	case q.Get("failures") == "true":
		entries = h.trail.FailuresOnly()
	default:
		entries = h.trail.All()
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		payload, err := h.trail.Export(audit.FormatJSON)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, payload)
	case "csv":
		payload, err := h.trail.Export(audit.FormatCSV)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
		fmt.Fprint(w, payload)
	case "xlsx":
		payload, err := h.trail.ExportXLSX()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="audit.xlsx"`)
		w.Write(payload)
	default:
		http.Error(w, fmt.Sprintf("unsupported format %q", format), http.StatusBadRequest)
	}
}

func parseVersionNumber(w http.ResponseWriter, raw string) (int, bool) {
	number, err := strconv.Atoi(raw)
	if err != nil || number < 1 {
		http.Error(w, fmt.Sprintf("invalid version number %q", raw), http.StatusBadRequest)
		return 0, false
	}
	return number, true
}

func writeError(w http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	var syncErr *domain.SyncError
	switch {
	case errors.Is(err, domain.ErrVersionNotFound), errors.Is(err, domain.ErrReportNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation failed",
			"fields": validation.Fields,
		})
	case errors.As(err, &syncErr):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}
