package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/student-risk-monitor/internal/application/command"
	"github.com/alem-hub/student-risk-monitor/internal/application/query"
	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// DashboardQuerier serves GET /dashboard.
type DashboardQuerier interface {
	Handle(ctx context.Context, q query.GetDashboardQuery) (*query.DashboardDTO, error)
}

// AssessmentQuerier serves GET /students/:id/assessment.
type AssessmentQuerier interface {
	Handle(ctx context.Context, q query.GetAssessmentQuery) (*query.AssessmentDTO, error)
}

// AssessmentLister serves GET /assessments.
type AssessmentLister interface {
	Handle(ctx context.Context, q query.ListAssessmentsQuery) (*query.AssessmentsPageDTO, error)
}

// AlertLister serves GET /alerts.
type AlertLister interface {
	Handle(ctx context.Context, q query.ListAlertsQuery) (*query.AlertsPageDTO, error)
}

// AlertUpdater serves the alert flag mutations.
type AlertUpdater interface {
	MarkRead(ctx context.Context, cmd command.MarkAlertReadCommand) (*notification.Alert, error)
	MarkAllRead(ctx context.Context, cmd command.MarkAllAlertsReadCommand) (int, error)
	Resolve(ctx context.Context, cmd command.ResolveAlertCommand) (*notification.Alert, error)
}

// Evaluator serves POST /evaluations.
type Evaluator interface {
	Handle(ctx context.Context, cmd command.EvaluatePopulationCommand) (*command.EvaluatePopulationResult, error)
}

// RiskHandler groups the risk API endpoints.
type RiskHandler struct {
	Dashboard   DashboardQuerier
	Assessment  AssessmentQuerier
	Assessments AssessmentLister
	Alerts      AlertLister
	Updates     AlertUpdater
	Evaluator   Evaluator
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// GetDashboard handles GET /api/v1/dashboard[?fresh=true].
func (h *RiskHandler) GetDashboard(c *gin.Context) {
	fresh, _ := strconv.ParseBool(c.Query("fresh"))
	dto, err := h.Dashboard.Handle(c.Request.Context(), query.GetDashboardQuery{Fresh: fresh})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, dto, nil)
}

// GetAssessment handles GET /api/v1/students/:id/assessment.
func (h *RiskHandler) GetAssessment(c *gin.Context) {
	dto, err := h.Assessment.Handle(c.Request.Context(), query.GetAssessmentQuery{StudentID: c.Param("id")})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, dto, nil)
}

// ListAssessments handles GET /api/v1/assessments.
// Filters: risk, course, mentor_id, page, page_size.
func (h *RiskHandler) ListAssessments(c *gin.Context) {
	q := query.ListAssessmentsQuery{
		Risk:     c.Query("risk"),
		Course:   c.Query("course"),
		MentorID: c.Query("mentor_id"),
	}

	var err error
	if q.Page, err = intParam(c, "page"); err != nil {
		respondError(c, err)
		return
	}
	if q.PageSize, err = intParam(c, "page_size"); err != nil {
		respondError(c, err)
		return
	}

	page, err := h.Assessments.Handle(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, page.Assessments, &ResponseMeta{
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  page.HasMore,
	})
}

// ListAlerts handles GET /api/v1/alerts.
// Filters: student_id, mentor_id, type, min_priority, open, unread,
// action_required, page, page_size.
func (h *RiskHandler) ListAlerts(c *gin.Context) {
	q := query.ListAlertsQuery{
		StudentID:   c.Query("student_id"),
		MentorID:    c.Query("mentor_id"),
		Type:        c.Query("type"),
		MinPriority: c.Query("min_priority"),
	}

	var err error
	for _, p := range []struct {
		name string
		dst  *bool
	}{
		{"open", &q.OnlyOpen},
		{"unread", &q.Unread},
		{"action_required", &q.ActionRequired},
	} {
		if *p.dst, err = boolParam(c, p.name); err != nil {
			respondError(c, err)
			return
		}
	}
	if q.Page, err = intParam(c, "page"); err != nil {
		respondError(c, err)
		return
	}
	if q.PageSize, err = intParam(c, "page_size"); err != nil {
		respondError(c, err)
		return
	}

	page, err := h.Alerts.Handle(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, page.Alerts, &ResponseMeta{
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  page.HasMore,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// MUTATIONS
// ══════════════════════════════════════════════════════════════════════════════

// MarkAlertRead handles POST /api/v1/alerts/:id/read.
func (h *RiskHandler) MarkAlertRead(c *gin.Context) {
	a, err := h.Updates.MarkRead(c.Request.Context(), command.MarkAlertReadCommand{AlertID: c.Param("id")})
	if err != nil {
		respondError(c, err)
		return
	}
	logger.FromContext(c.Request.Context()).Debug("alert marked read",
		logger.AlertID(a.ID), logger.StudentID(a.StudentID))
	respond(c, http.StatusOK, a, nil)
}

type markAllReadRequest struct {
	StudentID string `json:"student_id" binding:"max=64"`
	MentorID  string `json:"mentor_id" binding:"max=64"`
	Type      string `json:"type" binding:"omitempty,oneof=academic attendance financial general"`
}

// MarkAllAlertsRead handles POST /api/v1/alerts/read-all. The body is
// optional; without it every unread alert is marked.
func (h *RiskHandler) MarkAllAlertsRead(c *gin.Context) {
	var req markAllReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, shared.WrapError("http", "MarkAllAlertsRead", shared.ErrInvalidInput, "invalid body", err))
			return
		}
	}

	n, err := h.Updates.MarkAllRead(c.Request.Context(), command.MarkAllAlertsReadCommand{
		StudentID: req.StudentID,
		MentorID:  req.MentorID,
		Type:      req.Type,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	logger.FromContext(c.Request.Context()).Info("alerts marked read", logger.Int("count", n))
	respond(c, http.StatusOK, gin.H{"marked": n}, nil)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required,max=128"`
}

// ResolveAlert handles POST /api/v1/alerts/:id/resolve.
func (h *RiskHandler) ResolveAlert(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, shared.WrapError("http", "ResolveAlert", shared.ErrInvalidInput, "invalid body", err))
		return
	}

	a, err := h.Updates.Resolve(c.Request.Context(), command.ResolveAlertCommand{
		AlertID:    c.Param("id"),
		ResolvedBy: req.ResolvedBy,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	logger.FromContext(c.Request.Context()).Info("alert resolved",
		logger.AlertID(a.ID), logger.StudentID(a.StudentID), logger.String("resolved_by", req.ResolvedBy))
	respond(c, http.StatusOK, a, nil)
}

type evaluateRequest struct {
	AsOf       *time.Time `json:"as_of"`
	StudentIDs []string   `json:"student_ids" binding:"omitempty,max=1000,dive,required"`
}

// EvaluationSummary is the response of POST /api/v1/evaluations.
type EvaluationSummary struct {
	CycleID   string    `json:"cycle_id"`
	AsOf      time.Time `json:"as_of"`
	Evaluated int       `json:"evaluated"`
	Unchanged int       `json:"unchanged"`
	Failed    int       `json:"failed"`
	Raised    int       `json:"raised"`
	Refreshed int       `json:"refreshed"`
	Attempts  int       `json:"attempts"`
	Duration  string    `json:"duration"`

	Changes []RiskChangeDTO   `json:"changes,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// RiskChangeDTO is one student's overall level change.
type RiskChangeDTO struct {
	StudentID string `json:"student_id"`
	Previous  string `json:"previous"`
	Current   string `json:"current"`
}

// RunEvaluation handles POST /api/v1/evaluations. The body is optional.
func (h *RiskHandler) RunEvaluation(c *gin.Context) {
	var req evaluateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, shared.WrapError("http", "RunEvaluation", shared.ErrInvalidInput, "invalid body", err))
			return
		}
	}

	cmd := command.EvaluatePopulationCommand{
		AsOf:          time.Now().UTC(),
		StudentIDs:    req.StudentIDs,
		CorrelationID: GetRequestID(c),
	}
	if req.AsOf != nil {
		cmd.AsOf = req.AsOf.UTC()
	}

	res, err := h.Evaluator.Handle(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("evaluation cycle finished",
		logger.Cycle(res.CycleID),
		logger.Int("evaluated", res.Evaluated),
		logger.Int("failed", res.Failed),
		logger.Int("raised", len(res.Raised)),
		logger.Latency(res.Duration))

	summary := EvaluationSummary{
		CycleID:   res.CycleID,
		AsOf:      res.AsOf,
		Evaluated: res.Evaluated,
		Unchanged: res.Unchanged,
		Failed:    res.Failed,
		Raised:    len(res.Raised),
		Refreshed: len(res.Refreshed),
		Attempts:  res.Attempts,
		Duration:  res.Duration.String(),
	}
	for _, ch := range res.Changes {
		summary.Changes = append(summary.Changes, RiskChangeDTO{
			StudentID: ch.StudentID,
			Previous:  ch.Previous.String(),
			Current:   ch.Current.String(),
		})
	}
	if len(res.Errors) > 0 {
		summary.Errors = make(map[string]string, len(res.Errors))
		for id, e := range res.Errors {
			summary.Errors[id] = e.Error()
		}
	}
	respond(c, http.StatusOK, summary, nil)
}

func boolParam(c *gin.Context, name string) (bool, error) {
	v := c.Query(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, invalidParam(name, v)
	}
	return b, nil
}

func intParam(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalidParam(name, v)
	}
	return n, nil
}

func invalidParam(name, value string) error {
	return shared.NewDomainError("http", "ParseQuery", shared.ErrInvalidInput,
		fmt.Sprintf("invalid %s %q", name, value))
}
