package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/intl_dossier/backend/internal/db"
	"github.com/intl_dossier/backend/internal/hierarchy"
	"github.com/intl_dossier/backend/internal/http/middleware"
	"github.com/intl_dossier/backend/internal/models"
	"github.com/intl_dossier/backend/internal/service"
)

// DefaultWIPLimit is applied to imported staff rows with no explicit
// limit.
const DefaultWIPLimit = 5

type Handler struct {
	Store      db.Store
	Lifecycle  *service.LifecycleService
	AutoAssign *service.AutoAssignService
	Bulk       *service.BulkService
	Validator  *validator.Validate
	Logger     zerolog.Logger
}

type ImportSummary struct {
	Staff struct {
		Parsed   int `json:"parsed"`
		Inserted int `json:"inserted"`
		Errors   int `json:"errors"`
	} `json:"staff"`
	Units struct {
		Parsed   int `json:"parsed"`
		Inserted int `json:"inserted"`
		Errors   int `json:"errors"`
	} `json:"units"`
	Errors []string `json:"errors"`
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type EscalateRequest struct {
	Reason string `json:"reason" validate:"required"`
	Notes  string `json:"notes"`
}

// @Summary Escalate an assignment
// @Tags assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param body body EscalateRequest true "Escalation request"
// @Success 201 {object} models.EscalationEvent
// @Failure 409 {object} map[string]any
// @Router /api/assignments/{id}/escalate [post]
func (h *Handler) Escalate(c *gin.Context) {
	var req EscalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	event, err := h.Lifecycle.Escalate(c.Request.Context(), c.Param("id"), caller(c), req.Reason, req.Notes)
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

// @Summary Escalate a queued work item
// @Tags queue
// @Accept json
// @Produce json
// @Param id path string true "Queue entry ID"
// @Param body body EscalateRequest true "Escalation request"
// @Success 201 {object} models.EscalationEvent
// @Router /api/queue/{id}/escalate [post]
func (h *Handler) EscalateQueueEntry(c *gin.Context) {
	var req EscalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	event, err := h.Lifecycle.EscalateQueueEntry(c.Request.Context(), c.Param("id"), caller(c), req.Reason, req.Notes)
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

type AcknowledgeRequest struct {
	Notes string `json:"notes"`
}

// @Summary Acknowledge an escalation
// @Tags escalations
// @Accept json
// @Produce json
// @Param id path string true "Escalation ID"
// @Success 200 {object} models.EscalationEvent
// @Router /api/escalations/{id}/acknowledge [post]
func (h *Handler) Acknowledge(c *gin.Context) {
	var req AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}

	event, err := h.Lifecycle.AcknowledgeEscalation(c.Request.Context(), c.Param("id"), req.Notes)
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

// @Summary Complete an assignment
// @Tags assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} models.Assignment
// @Failure 409 {object} map[string]any
// @Router /api/assignments/{id}/complete [post]
func (h *Handler) Complete(c *gin.Context) {
	a, err := h.Lifecycle.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// @Summary Cancel an assignment
// @Tags assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} models.Assignment
// @Router /api/assignments/{id}/cancel [post]
func (h *Handler) Cancel(c *gin.Context) {
	a, err := h.Lifecycle.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// @Summary List the caller's assignments
// @Tags assignments
// @Produce json
// @Param status query string false "Comma-separated status filter"
// @Param include_completed query bool false "Include terminal assignments"
// @Success 200 {object} map[string]any
// @Router /api/assignments/mine [get]
func (h *Handler) ListMine(c *gin.Context) {
	var statuses []string
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, s)
			}
		}
	}
	includeCompleted, _ := strconv.ParseBool(c.DefaultQuery("include_completed", "false"))

	items, err := h.Lifecycle.ListMine(c.Request.Context(), caller(c), statuses, includeCompleted)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list assignments", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total_count": len(items)})
}

type IntakeRequest struct {
	WorkItemType   string   `json:"work_item_type" validate:"required"`
	WorkItemID     string   `json:"work_item_id" validate:"required"`
	AssigneeID     *string  `json:"assignee_id"`
	Priority       string   `json:"priority" validate:"required"`
	RequiredSkills []string `json:"required_skills"`
}

// @Summary Create an assignment or enqueue a work item
// @Tags assignments
// @Accept json
// @Produce json
// @Param body body IntakeRequest true "Work item"
// @Success 201 {object} map[string]any
// @Router /api/assignments [post]
func (h *Handler) Intake(c *gin.Context) {
	var req IntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	a, entry, err := h.Lifecycle.Intake(c.Request.Context(), service.IntakeRequest{
		WorkItemType:   req.WorkItemType,
		WorkItemID:     req.WorkItemID,
		AssigneeID:     req.AssigneeID,
		AssignedBy:     caller(c),
		Priority:       req.Priority,
		RequiredSkills: req.RequiredSkills,
	})
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}
	if a != nil {
		c.JSON(http.StatusCreated, gin.H{"assignment": a})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"queue_entry": entry})
}

type BulkRequest struct {
	Operation     string   `json:"operation" validate:"required"`
	AssignmentIDs []string `json:"assignment_ids" validate:"required"`
}

// @Summary Submit a bulk operation
// @Tags bulk
// @Accept json
// @Produce json
// @Param body body BulkRequest true "Bulk request"
// @Success 202 {object} models.BulkJob
// @Router /api/assignments/bulk [post]
func (h *Handler) BulkSubmit(c *gin.Context) {
	var req BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	job, err := h.Bulk.Submit(c.Request.Context(), req.Operation, caller(c), req.AssignmentIDs)
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// @Summary Poll a bulk job
// @Tags bulk
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.BulkJob
// @Router /api/bulk/{id} [get]
func (h *Handler) BulkStatus(c *gin.Context) {
	job, err := h.Bulk.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// @Summary Import staff and unit directories
// @Description Upload staff and units CSV files, replacing the directory
// @Tags directory
// @Accept multipart/form-data
// @Produce json
// @Param staff formData file true "staff.csv"
// @Param units formData file false "units.csv"
// @Success 200 {object} ImportSummary
// @Failure 400 {object} map[string]any
// @Router /api/directory/import [post]
func (h *Handler) ImportDirectory(c *gin.Context) {
	staffFile, err := c.FormFile("staff")
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "staff file required", nil)
		return
	}
	if !validateExt(staffFile.Filename) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "all files must be .csv", nil)
		return
	}

	summary := ImportSummary{Errors: []string{}}

	staff, errs := parseStaffCSV(staffFile)
	summary.Staff.Parsed = len(staff)
	summary.Staff.Errors = len(errs)
	summary.Errors = append(summary.Errors, errs...)

	var units []models.OrganizationalUnit
	if unitsFile, err := c.FormFile("units"); err == nil {
		if !validateExt(unitsFile.Filename) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "all files must be .csv", nil)
			return
		}
		units, errs = parseUnitsCSV(unitsFile)
		summary.Units.Parsed = len(units)
		summary.Units.Errors = len(errs)
		summary.Errors = append(summary.Errors, errs...)
	}

	if len(summary.Errors) > 0 {
		writeError(c, http.StatusBadRequest, "CSV_PARSE_ERROR", "CSV validation errors", summary.Errors)
		return
	}

	ctx := c.Request.Context()
	inserted, err := h.Store.UpsertStaff(ctx, staff)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to upsert staff", err.Error())
		return
	}
	summary.Staff.Inserted = int(inserted)

	if len(units) > 0 {
		inserted, err = h.Store.UpsertUnits(ctx, units)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to upsert units", err.Error())
			return
		}
		summary.Units.Inserted = int(inserted)
	}

	c.JSON(http.StatusOK, summary)
}

// @Summary Run an auto-assignment sweep
// @Tags queue
// @Produce json
// @Success 200 {object} service.RunSummary
// @Router /api/queue/process [post]
func (h *Handler) ProcessQueue(c *gin.Context) {
	summary, err := h.AutoAssign.ProcessQueue(c.Request.Context())
	if err != nil {
		h.Logger.Error().Err(err).Msg("queue sweep failed")
		writeError(c, http.StatusInternalServerError, "PROCESSING_ERROR", "Queue processing failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, summary)
}

// @Summary Latest sweep run
// @Tags runs
// @Produce json
// @Success 200 {object} models.Run
// @Router /api/runs/latest [get]
func (h *Handler) RunsLatest(c *gin.Context) {
	run, err := h.Store.GetLatestRun(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "No runs found", err.Error())
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) QueueList(c *gin.Context) {
	items, err := h.Store.ListQueue(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list queue", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) StaffList(c *gin.Context) {
	unitID := strings.TrimSpace(c.Query("unit_id"))
	skill := strings.TrimSpace(c.Query("skill"))
	items, err := h.Store.ListStaff(c.Request.Context(), unitID, skill)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list staff", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func caller(c *gin.Context) string {
	return c.GetString(middleware.CallerKey)
}

func (h *Handler) writeLifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, service.ErrInvalidReason):
		writeError(c, http.StatusBadRequest, "INVALID_REASON", "Unknown escalation reason", nil)
	case errors.Is(err, service.ErrAlreadyEscalated):
		writeError(c, http.StatusConflict, "ALREADY_ESCALATED", "Assignment already escalated", nil)
	case errors.Is(err, service.ErrAlreadyTerminal):
		writeError(c, http.StatusConflict, "ALREADY_TERMINAL", "Assignment already in a terminal state", nil)
	case errors.Is(err, hierarchy.ErrCircular):
		writeError(c, http.StatusUnprocessableEntity, "CIRCULAR_HIERARCHY", "Circular organizational hierarchy", nil)
	case errors.Is(err, hierarchy.ErrNotInHierarchy):
		writeError(c, http.StatusUnprocessableEntity, "NOT_IN_HIERARCHY", "Assignee not in organizational hierarchy", nil)
	case errors.Is(err, service.ErrUnknownOperation):
		writeError(c, http.StatusBadRequest, "UNKNOWN_OPERATION", "Unsupported bulk operation", nil)
	case errors.Is(err, service.ErrValidation):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", nil)
	default:
		h.Logger.Error().Err(err).Msg("request failed")
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", err.Error())
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func parseStaffCSV(file *multipart.FileHeader) ([]models.StaffProfile, []string) {
	f, err := file.Open()
	if err != nil {
		return nil, []string{err.Error()}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	headers, err := reader.Read()
	if err != nil {
		return nil, []string{"failed to read header"}
	}
	index := headerIndex(headers)
	var errs []string
	var out []models.StaffProfile

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}

		userID := getField(rec, index, "user_id")
		if userID == "" {
			userID = getField(rec, index, "id")
		}
		name := getField(rec, index, "full_name")
		if name == "" {
			name = getField(rec, index, "name")
		}
		unitID := getField(rec, index, "unit_id")
		role := getField(rec, index, "role")
		skills := splitSkills(getField(rec, index, "skills"))

		wipLimit := DefaultWIPLimit
		if raw := getField(rec, index, "wip_limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				errs = append(errs, "invalid wip_limit for "+userID)
				continue
			}
			wipLimit = n
		}

		p := models.StaffProfile{
			UserID:    userID,
			FullName:  name,
			UnitID:    unitID,
			Role:      role,
			Skills:    skills,
			WIPLimit:  wipLimit,
			UpdatedAt: time.Now().UTC(),
		}
		if v := getField(rec, index, "reports_to"); v != "" {
			p.ReportsTo = &v
		}
		if v := getField(rec, index, "escalation_chain_id"); v != "" {
			p.EscalationChainID = &v
		}

		if p.UserID == "" || p.UnitID == "" {
			errs = append(errs, "staff user_id/unit_id required")
			continue
		}
		out = append(out, p)
	}
	return out, errs
}

func parseUnitsCSV(file *multipart.FileHeader) ([]models.OrganizationalUnit, []string) {
	f, err := file.Open()
	if err != nil {
		return nil, []string{err.Error()}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	headers, err := reader.Read()
	if err != nil {
		return nil, []string{"failed to read header"}
	}
	index := headerIndex(headers)
	var errs []string
	var out []models.OrganizationalUnit

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}

		id := getField(rec, index, "id")
		if id == "" {
			id = getField(rec, index, "unit_id")
		}
		name := getField(rec, index, "name")
		limit := 0
		if raw := getField(rec, index, "wip_limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				errs = append(errs, "invalid wip_limit for unit "+id)
				continue
			}
			limit = n
		}

		u := models.OrganizationalUnit{ID: id, Name: name, WIPLimit: limit}
		if u.ID == "" {
			errs = append(errs, "unit id required")
			continue
		}
		out = append(out, u)
	}
	return out, errs
}

func headerIndex(headers []string) map[string]int {
	idx := map[string]int{}
	for i, h := range headers {
		idx[normalizeHeader(h)] = i
	}
	return idx
}

func getField(rec []string, idx map[string]int, name string) string {
	pos, ok := idx[name]
	if !ok || pos >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[pos])
}

func normalizeHeader(h string) string {
	h = strings.ReplaceAll(h, "\ufeff", "")
	return strings.ToLower(strings.TrimSpace(h))
}

func splitSkills(raw string) []string {
	raw = strings.ReplaceAll(raw, ";", ",")
	parts := strings.Split(raw, ",")
	seen := map[string]struct{}{}
	var out []string
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func validateExt(name string) bool {
	return strings.ToLower(filepath.Ext(name)) == ".csv"
}
