package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/formacenter/cfm-api/internal/models"
	"github.com/formacenter/cfm-api/internal/service"
	appErrors "github.com/formacenter/cfm-api/pkg/errors"
	"github.com/formacenter/cfm-api/pkg/response"
)

// SessionHandler exposes session scheduling endpoints.
type SessionHandler struct {
	sessions *service.SessionService
	exports  *service.ExportService
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(sessions *service.SessionService, exports *service.ExportService) *SessionHandler {
	return &SessionHandler{sessions: sessions, exports: exports}
}

// List godoc
// @Summary List sessions
// @Tags Sessions
// @Produce json
// @Param courseId query string false "Filter by course"
// @Param date query string false "Filter by date (YYYY-MM-DD)"
// @Param from query string false "Start of date range"
// @Param to query string false "End of date range"
// @Param room query string false "Filter by room"
// @Param kind query string false "Filter by kind"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	var filter models.SessionFilter
	filter.CourseID = c.Query("courseId")
	filter.Date = c.Query("date")
	filter.DateFrom = c.Query("from")
	filter.DateTo = c.Query("to")
	filter.Room = c.Query("room")
	filter.Kind = models.SessionKind(strings.ToUpper(c.Query("kind")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	sessions, pagination, err := h.sessions.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, pagination)
}

// Create godoc
// @Summary Schedule a session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body service.ScheduleSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req service.ScheduleSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.sessions.Schedule(c.Request.Context(), req)
	if err != nil {
		respondScheduleError(c, err)
		return
	}
	response.Created(c, session)
}

// Update godoc
// @Summary Move a session to a new slot
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body service.UpdateSessionRequest true "Session payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id} [put]
func (h *SessionHandler) Update(c *gin.Context) {
	var req service.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.sessions.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondScheduleError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Delete godoc
// @Summary Delete a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 204
// @Router /sessions/{id} [delete]
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CheckConflicts godoc
// @Summary Check whether a slot conflicts for a resource
// @Tags Sessions
// @Produce json
// @Param resource query string true "Resource kind (TRAINER, ROOM, GROUP)"
// @Param id query string true "Resource id (repeatable for GROUP)"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param start query string true "Start time (HH:MM)"
// @Param end query string true "End time (HH:MM)"
// @Success 200 {object} response.Envelope
// @Router /sessions/conflicts [get]
func (h *SessionHandler) CheckConflicts(c *gin.Context) {
	kind := models.ResourceKind(strings.ToUpper(c.Query("resource")))
	ids := c.QueryArray("id")
	conflict, err := h.sessions.HasConflict(c.Request.Context(), kind, ids, c.Query("date"), c.Query("start"), c.Query("end"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"conflict": conflict}, nil)
}

// StudentTimetable godoc
// @Summary Get a student's timetable
// @Tags Timetables
// @Produce json
// @Param id path string true "Student ID"
// @Param from query string true "Start of date range (YYYY-MM-DD)"
// @Param to query string true "End of date range (YYYY-MM-DD)"
// @Param format query string false "Set to pdf for a PDF download"
// @Success 200 {object} response.Envelope
// @Router /timetables/students/{id} [get]
func (h *SessionHandler) StudentTimetable(c *gin.Context) {
	if c.Query("format") == "pdf" {
		h.StudentTimetablePDF(c)
		return
	}
	sessions, err := h.sessions.StudentTimetable(c.Request.Context(), c.Param("id"), c.Query("from"), c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// TrainerTimetable godoc
// @Summary Get a trainer's timetable
// @Tags Timetables
// @Produce json
// @Param id path string true "Trainer ID"
// @Param from query string true "Start of date range (YYYY-MM-DD)"
// @Param to query string true "End of date range (YYYY-MM-DD)"
// @Param format query string false "Set to pdf for a PDF download"
// @Success 200 {object} response.Envelope
// @Router /timetables/trainers/{id} [get]
func (h *SessionHandler) TrainerTimetable(c *gin.Context) {
	if c.Query("format") == "pdf" {
		h.TrainerTimetablePDF(c)
		return
	}
	sessions, err := h.sessions.TrainerTimetable(c.Request.Context(), c.Param("id"), c.Query("from"), c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// StudentTimetablePDF godoc
// @Summary Download a student's timetable as PDF
// @Tags Timetables
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Param from query string true "Start of date range (YYYY-MM-DD)"
// @Param to query string true "End of date range (YYYY-MM-DD)"
// @Success 200 {file} binary
// @Router /timetables/students/{id}/pdf [get]
func (h *SessionHandler) StudentTimetablePDF(c *gin.Context) {
	payload, filename, err := h.exports.StudentTimetablePDF(c.Request.Context(), c.Param("id"), c.Query("from"), c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/pdf", payload)
}

// TrainerTimetablePDF godoc
// @Summary Download a trainer's timetable as PDF
// @Tags Timetables
// @Produce application/pdf
// @Param id path string true "Trainer ID"
// @Param from query string true "Start of date range (YYYY-MM-DD)"
// @Param to query string true "End of date range (YYYY-MM-DD)"
// @Success 200 {file} binary
// @Router /timetables/trainers/{id}/pdf [get]
func (h *SessionHandler) TrainerTimetablePDF(c *gin.Context) {
	payload, filename, err := h.exports.TrainerTimetablePDF(c.Request.Context(), c.Param("id"), c.Query("from"), c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/pdf", payload)
}

// respondScheduleError surfaces the blocking session alongside conflict errors
// so clients can show what occupies the slot.
func respondScheduleError(c *gin.Context, err error) {
	var conflictErr *models.SessionConflictError
	if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrConflict.Code && errors.As(appErr, &conflictErr) {
		c.Header("Cache-Control", "no-store")
		c.JSON(appErr.Status, gin.H{"error": appErr, "conflict": conflictErr})
		return
	}
	response.Error(c, err)
}
