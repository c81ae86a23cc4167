package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/student-risk-monitor/internal/application/command"
	"github.com/alem-hub/student-risk-monitor/internal/application/query"
	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/student-risk-monitor/internal/interface/http/handlers"
	"github.com/alem-hub/student-risk-monitor/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var asOf = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

type nopPublisher struct{}

func (nopPublisher) Publish(shared.Event) error { return nil }

func studentRecords(id string, gpa float64, attended int) student.Records {
	return student.Records{
		Student:  student.Student{ID: id, Name: "Student " + id, Status: student.EnrollmentActive, MentorID: "M01"},
		Academic: &student.AcademicRecord{Semester: 4, GPA: &gpa},
		Attendance: []student.AttendanceRecord{
			{Subject: "Math", Date: asOf.AddDate(0, 0, -1), TotalClasses: 20, AttendedClasses: attended},
		},
		Financial: &student.FinancialRecord{TotalFees: 100000, PaidFees: 100000},
	}
}

func newTestServer(t *testing.T, apiKeys ...string) http.Handler {
	t.Helper()

	store := memory.NewStore()
	st1, st2 := studentRecords("ST001", 5.2, 13), studentRecords("ST002", 8.4, 19)
	st1.Student.Course = "Computer Science"
	st2.Student.Course = "Physics"
	require.NoError(t, store.PutRecords(st1, st2))

	engine, err := risk.NewEngine(risk.DefaultPolicy())
	require.NoError(t, err)
	var n int64
	gen, err := notification.NewGenerator(notification.DefaultPolicy(), func() string {
		return fmt.Sprintf("alert-%d", atomic.AddInt64(&n, 1))
	})
	require.NoError(t, err)

	evaluate := command.NewEvaluatePopulationHandler(command.EvaluatePopulationDeps{
		Records:     store,
		Assessments: store,
		Alerts:      store,
		Evaluator:   engine,
		Generator:   gen,
		Committer:   store,
		Locker:      memory.NewKeyedLocker(),
		Publisher:   nopPublisher{},
		Now:         func() time.Time { return asOf },
	}, command.DefaultEvaluatePopulationConfig())

	log := logger.New(logger.Options{Output: io.Discard})
	health := handlers.NewHealthChecker("test")

	cfg := DefaultConfig()
	cfg.APIKeys = apiKeys
	srv, err := NewServer(cfg, Dependencies{
		Risk: &handlers.RiskHandler{
			Dashboard:   query.NewGetDashboardHandler(store, memory.NewDashboardStore(time.Minute), 30, 0, nil),
			Assessment:  query.NewGetAssessmentHandler(store, store),
			Assessments: query.NewListAssessmentsHandler(store),
			Alerts:      query.NewListAlertsHandler(store),
			Updates:     command.NewAlertFlagsHandler(store, nopPublisher{}, nil),
			Evaluator:   evaluate,
		},
		Health: health,
		Logger: log,
	})
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, handlers.Response) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp handlers.Response
	if w.Header().Get("Content-Type") != "" && w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func decode[T any](t *testing.T, resp handlers.Response) T {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestServer_HealthAndReady(t *testing.T) {
	h := newTestServer(t)

	w, _ := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(handlers.RequestIDHeader))

	w, _ = do(t, h, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_EvaluationFlow(t *testing.T) {
	h := newTestServer(t)

	w, resp := do(t, h, http.MethodPost, "/api/v1/evaluations", map[string]any{"as_of": asOf})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	summary := decode[handlers.EvaluationSummary](t, resp)
	assert.Equal(t, 2, summary.Evaluated)
	assert.Equal(t, 2, summary.Raised)
	assert.Zero(t, summary.Failed)

	w, resp = do(t, h, http.MethodGet, "/api/v1/dashboard?fresh=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	dash := decode[query.DashboardDTO](t, resp)
	assert.Equal(t, 2, dash.TotalStudents)
	assert.Equal(t, 1, dash.HighRisk)
	assert.Equal(t, 1, dash.LowRisk)

	w, resp = do(t, h, http.MethodGet, "/api/v1/students/ST001/assessment", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assessment := decode[query.AssessmentDTO](t, resp)
	assert.Equal(t, risk.LevelHigh, assessment.OverallRisk)

	w, resp = do(t, h, http.MethodGet, "/api/v1/alerts?student_id=ST001&open=true&min_priority=critical", nil)
	require.Equal(t, http.StatusOK, w.Code)
	alerts := decode[[]notification.Alert](t, resp)
	require.Len(t, alerts, 2)
	assert.False(t, resp.Meta.HasMore)

	id := alerts[0].ID
	w, resp = do(t, h, http.MethodPost, "/api/v1/alerts/"+id+"/read", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[notification.Alert](t, resp).Read)

	w, resp = do(t, h, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", map[string]string{"resolved_by": "M01"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[notification.Alert](t, resp).ActionRequired)

	w, resp = do(t, h, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", map[string]string{"resolved_by": "M01"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", resp.Error.Code)

	w, resp = do(t, h, http.MethodGet, "/api/v1/alerts?open=true&page_size=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]notification.Alert](t, resp), 1)
	assert.False(t, resp.Meta.HasMore)
}

func TestServer_ListAssessmentsByRiskAndCourse(t *testing.T) {
	h := newTestServer(t)

	w, _ := do(t, h, http.MethodPost, "/api/v1/evaluations", map[string]any{"as_of": asOf})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ids := func(path string) []string {
		t.Helper()
		w, resp := do(t, h, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var out []string
		for _, a := range decode[[]query.AssessmentDTO](t, resp) {
			out = append(out, a.StudentID)
		}
		return out
	}

	assert.Equal(t, []string{"ST001", "ST002"}, ids("/api/v1/assessments"))
	assert.Equal(t, []string{"ST001"}, ids("/api/v1/assessments?risk=high"))
	assert.Equal(t, []string{"ST002"}, ids("/api/v1/assessments?risk=low&course=physics"))
	assert.Empty(t, ids("/api/v1/assessments?risk=high&course=Physics"))

	w, resp := do(t, h, http.MethodGet, "/api/v1/assessments?course=Computer%20Science", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]query.AssessmentDTO](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "Computer Science", list[0].Course)
	assert.False(t, resp.Meta.HasMore)
}

func TestServer_UnreadFiltersAndBulkRead(t *testing.T) {
	h := newTestServer(t)

	w, _ := do(t, h, http.MethodPost, "/api/v1/evaluations", map[string]any{"as_of": asOf})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	count := func(path string) int {
		t.Helper()
		w, resp := do(t, h, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return len(decode[[]notification.Alert](t, resp))
	}

	require.Equal(t, 2, count("/api/v1/alerts?unread=true"))
	require.Equal(t, 2, count("/api/v1/alerts?action_required=true"))

	w, resp := do(t, h, http.MethodGet, "/api/v1/alerts?unread=true&page_size=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[[]notification.Alert](t, resp)[0]
	w, _ = do(t, h, http.MethodPost, "/api/v1/alerts/"+first.ID+"/read", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1, count("/api/v1/alerts?unread=true"))
	assert.Equal(t, 2, count("/api/v1/alerts?action_required=true"))

	w, resp = do(t, h, http.MethodPost, "/api/v1/alerts/read-all", map[string]string{"student_id": "ST001"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]int{"marked": 1}, decode[map[string]int](t, resp))

	assert.Zero(t, count("/api/v1/alerts?unread=true"))
	assert.Equal(t, 2, count("/api/v1/alerts?open=true"), "read alerts still wait for action")

	w, resp = do(t, h, http.MethodPost, "/api/v1/alerts/read-all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]int{"marked": 0}, decode[map[string]int](t, resp))
}

func TestServer_ErrorMapping(t *testing.T) {
	h := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown assessment", http.MethodGet, "/api/v1/students/ST404/assessment", nil, http.StatusNotFound, "not_found"},
		{"unknown alert", http.MethodPost, "/api/v1/alerts/nope/read", nil, http.StatusNotFound, "not_found"},
		{"bad priority", http.MethodGet, "/api/v1/alerts?min_priority=urgent", nil, http.StatusBadRequest, "invalid_request"},
		{"bad alert type", http.MethodGet, "/api/v1/alerts?type=social", nil, http.StatusBadRequest, "invalid_request"},
		{"bad page", http.MethodGet, "/api/v1/alerts?page=two", nil, http.StatusBadRequest, "invalid_request"},
		{"bad unread flag", http.MethodGet, "/api/v1/alerts?unread=maybe", nil, http.StatusBadRequest, "invalid_request"},
		{"bad risk level", http.MethodGet, "/api/v1/assessments?risk=severe", nil, http.StatusBadRequest, "invalid_request"},
		{"bulk read bad type", http.MethodPost, "/api/v1/alerts/read-all", map[string]string{"type": "social"}, http.StatusBadRequest, "invalid_request"},
		{"resolve without body", http.MethodPost, "/api/v1/alerts/a/resolve", map[string]string{}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.False(t, resp.Success)
		})
	}
}

func TestServer_APIKeyGuardsMutations(t *testing.T) {
	h := newTestServer(t, "secret")

	w, _ := do(t, h, http.MethodGet, "/api/v1/alerts", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := do(t, h, http.MethodPost, "/api/v1/evaluations", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_api_key", resp.Error.Code)

	w, _ = do(t, h, http.MethodPost, "/api/v1/evaluations", nil, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, h, http.MethodPost, "/api/v1/evaluations", map[string]any{"as_of": asOf}, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_ListenServeShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host, cfg.Port = "127.0.0.1", 0
	srv, err := NewServer(cfg, Dependencies{
		Risk:   &handlers.RiskHandler{},
		Logger: logger.New(logger.Options{Output: io.Discard}),
	})
	require.NoError(t, err)

	require.NoError(t, srv.Listen())
	assert.Error(t, srv.Listen(), "second Listen")
	errCh := srv.Serve()

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	err, open := <-errCh
	assert.NoError(t, err)
	assert.False(t, open)
}
