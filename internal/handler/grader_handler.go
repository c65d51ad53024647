package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/middleware"
	"github.com/stemsi/examcore/internal/model"
	"github.com/stemsi/examcore/internal/response"
	"github.com/stemsi/examcore/internal/service"
	"github.com/stemsi/examcore/internal/validator"
)

// GraderHandler handles grading and results endpoints.
type GraderHandler struct {
	gradingService *service.GradingService
	resultsService *service.ResultsService
	log            zerolog.Logger
}

// NewGraderHandler creates a new GraderHandler.
func NewGraderHandler(gradingService *service.GradingService, resultsService *service.ResultsService, log zerolog.Logger) *GraderHandler {
	return &GraderHandler{
		gradingService: gradingService,
		resultsService: resultsService,
		log:            log.With().Str("component", "grader_handler").Logger(),
	}
}

type listSessionsQuery struct {
	Status  string `form:"status" binding:"omitempty,session_status"`
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1,max=100"`
}

// ListSessions godoc
// GET /api/v1/grader/exams/:exam_id/sessions?status=&page=&per_page=
func (h *GraderHandler) ListSessions(c *gin.Context) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	var q listSessionsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	var status *model.SessionStatus
	if q.Status != "" {
		s := model.SessionStatus(q.Status)
		status = &s
	}

	sessions, pagination, err := h.resultsService.ListSessions(c.Request.Context(), ident, examID, status, q.Page, q.PerPage)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"sessions": sessions}, pagination)
}

// GetSession godoc
// GET /api/v1/grader/exams/:exam_id/participants/:participant_ref/session
func (h *GraderHandler) GetSession(c *gin.Context) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	result, err := h.resultsService.GetSession(c.Request.Context(), ident, examID, c.Param("participant_ref"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// ApplyManualGrade godoc
// PUT /api/v1/grader/sessions/:session_id/grades/:question_id
// Sets the grader's points for one question; reapplying overwrites only that question.
func (h *GraderHandler) ApplyManualGrade(c *gin.Context) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}
	questionID, ok := paramUUID(c, "question_id")
	if !ok {
		return
	}

	var req model.ApplyManualGradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.gradingService.ApplyManualGrade(c.Request.Context(), ident, sessionID, questionID, *req.Points)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// Recompute godoc
// POST /api/v1/grader/sessions/:session_id/recompute
// Rebuilds the aggregate score from current answer keys and stored grades.
func (h *GraderHandler) Recompute(c *gin.Context) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	result, err := h.gradingService.Recompute(c.Request.Context(), ident, sessionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}
