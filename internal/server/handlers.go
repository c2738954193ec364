package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cyberbrief/internal/core"
	"cyberbrief/internal/exposure"
	"cyberbrief/internal/logger"
	"cyberbrief/internal/persistence"
)

type contextKey string

const userIDKey contextKey = "userID"

// requireUser resolves the caller from the X-User-ID header. Token validation
// happens at the edge in front of this service.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		if _, err := s.db.Users().Get(r.Context(), userID); err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unknown user")
				return
			}
			writeError(w, http.StatusInternalServerError, "user lookup failed")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("response encode failed", "reason", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDigestRun(w http.ResponseWriter, r *http.Request) {
	result := s.pipeline.Run(r.Context(), userID(r))
	writeJSON(w, http.StatusOK, result)
}

// briefItem is one story with its article references.
type briefItem struct {
	core.NewsGroup
	ArticleIDs []string `json:"article_ids"`
}

func (s *Server) handleFeedBrief(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	groups, err := s.db.NewsGroups().ListByUser(r.Context(), userID(r), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stories")
		return
	}

	items := make([]briefItem, 0, len(groups))
	for _, g := range groups {
		item := briefItem{NewsGroup: g}
		if links, err := s.db.UserArticles().ListByGroup(r.Context(), g.ID); err == nil {
			for _, link := range links {
				item.ArticleIDs = append(item.ArticleIDs, link.ArticleID)
			}
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"stories": items})
}

func (s *Server) handleListExposure(w http.ResponseWriter, r *http.Request) {
	exposures, err := s.db.Exposures().ListByUser(r.Context(), userID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load exposures")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exposures": exposures})
}

func (s *Server) handleExposureMetrics(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	metrics, err := s.exposure.Metrics(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}

	response := map[string]any{"metrics": metrics}
	period := core.ReportPeriod(r.URL.Query().Get("period"))
	if _, ok := core.PeriodDays[period]; ok {
		if delta, err := s.exposure.Delta(r.Context(), uid, period, metrics); err == nil && delta != nil {
			response["delta"] = delta
		}
	}
	writeJSON(w, http.StatusOK, response)
}

// exposureUpdate is the manual override payload.
type exposureUpdate struct {
	ExposureState       core.ExposureState `json:"exposure_state"`
	PatchedAt           *time.Time         `json:"patched_at,omitempty"`
	RemediationDeadline *time.Time         `json:"remediation_deadline,omitempty"`
	Notes               string             `json:"notes,omitempty"`
}

var validStates = map[core.ExposureState]bool{
	core.ExposureVulnerable:    true,
	core.ExposureFixed:         true,
	core.ExposureNotApplicable: true,
	core.ExposureIndirect:      true,
}

func (s *Server) handleSetExposure(w http.ResponseWriter, r *http.Request) {
	cveID := chi.URLParam(r, "cveId")

	var update exposureUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if !validStates[update.ExposureState] {
		writeError(w, http.StatusBadRequest, "invalid exposure state")
		return
	}

	row := &core.UserCVEExposure{
		UserID:              userID(r),
		CVEID:               cveID,
		ExposureState:       update.ExposureState,
		AutoClassified:      false,
		FirstDetectedAt:     time.Now().UTC(),
		PatchedAt:           update.PatchedAt,
		RemediationDeadline: update.RemediationDeadline,
		Notes:               update.Notes,
	}
	if update.ExposureState == core.ExposureFixed && update.PatchedAt == nil {
		now := time.Now().UTC()
		row.PatchedAt = &now
	}

	if err := s.db.Exposures().SetManual(r.Context(), row); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update exposure")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleListTechStack(w http.ResponseWriter, r *http.Request) {
	items, err := s.db.TechStack().ListActiveByUser(r.Context(), userID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load tech stack")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// techStackCreate is the inventory item payload.
type techStackCreate struct {
	Vendor   string `json:"vendor"`
	Product  string `json:"product"`
	Version  string `json:"version,omitempty"`
	Category string `json:"category,omitempty"`
}

func (s *Server) handleCreateTechStack(w http.ResponseWriter, r *http.Request) {
	var payload techStackCreate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.Vendor == "" || payload.Product == "" {
		writeError(w, http.StatusBadRequest, "vendor and product are required")
		return
	}

	item := &core.TechStackItem{
		ID:         uuid.New().String(),
		UserID:     userID(r),
		Vendor:     exposure.NormalizeToken(payload.Vendor),
		Product:    exposure.NormalizeToken(payload.Product),
		Version:    payload.Version,
		Category:   payload.Category,
		CPEPattern: exposure.GeneratePattern(payload.Vendor, payload.Product, payload.Version),
		Active:     true,
	}
	if err := s.db.TechStack().Create(r.Context(), item); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			writeError(w, http.StatusConflict, "item already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create item")
		return
	}

	// New inventory reclassifies historical CVEs immediately.
	if err := s.exposure.RetroactiveMatch(r.Context(), item.UserID, *item); err != nil {
		logger.Warn("retroactive match failed", "userId", item.UserID, "reason", err.Error())
	}

	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleDeleteTechStack(w http.ResponseWriter, r *http.Request) {
	if err := s.db.TechStack().Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
