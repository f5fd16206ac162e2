package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"facetrack/internal/attendance"
	"facetrack/internal/auth"
	"facetrack/internal/config"
	"facetrack/internal/employee"
	"facetrack/internal/facematch"
	"facetrack/internal/faceoracle"
	"facetrack/internal/metrics"
	"facetrack/internal/settings"
	"facetrack/internal/store"

	"github.com/gin-gonic/gin"
)

// Handler exposes the attendance API over gin.
type Handler struct {
	svc       *attendance.Service
	records   *attendance.Repository
	employees *employee.Repository
	settings  *settings.Provider
	redis     *store.Redis
	cfg       config.App
}

// New creates a handler.
func New(svc *attendance.Service, records *attendance.Repository, employees *employee.Repository, sp *settings.Provider, redis *store.Redis, cfg config.App) *Handler {
	return &Handler{
		svc:       svc,
		records:   records,
		employees: employees,
		settings:  sp,
		redis:     redis,
		cfg:       cfg,
	}
}

// ---------- Auth ----------

// IssueToken exchanges the shared admin key for an admin JWT.
func (h *Handler) IssueToken(c *gin.Context) {
	var req struct {
		AdminKey string `json:"admin_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AdminKey != h.cfg.AdminAPIKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
		return
	}
	token, exp, err := auth.Issue("admin", "admin", h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "expires_at": exp.Unix()})
}

// ---------- Enrollment ----------

// Register enrolls a new employee face.
func (h *Handler) Register(c *gin.Context) {
	var req attendance.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error(), "kind": "bad_request"})
		return
	}

	emp, err := h.svc.Enroll(c.Request.Context(), req)
	if err != nil {
		var dup *facematch.DuplicateFaceError
		if errors.As(err, &dup) {
			metrics.EnrollmentsTotal.WithLabelValues("duplicate").Inc()
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"message": "This face is already enrolled for " + dup.ExistingName + ".",
				"kind":    "duplicate_face",
			})
			return
		}
		metrics.EnrollmentsTotal.WithLabelValues("error").Inc()
		h.fail(c, err)
		return
	}
	metrics.EnrollmentsTotal.WithLabelValues("created").Inc()
	c.JSON(http.StatusCreated, gin.H{"success": true, "employee": emp})
}

// ---------- Attendance ----------

// Scan matches a probe and marks attendance on a match.
func (h *Handler) Scan(c *gin.Context) {
	var req struct {
		Image string `json:"image" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error(), "kind": "bad_request"})
		return
	}

	res, err := h.svc.Scan(c.Request.Context(), req.Image)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !res.Matched {
		c.JSON(http.StatusOK, gin.H{
			"success":    false,
			"message":    "Face not recognized. No match found.",
			"kind":       "not_recognized",
			"best_score": res.BestScore,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

// ---------- Employees ----------

func (h *Handler) ListEmployees(c *gin.Context) {
	emps, err := h.employees.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if emps == nil {
		emps = []employee.Employee{}
	}
	c.JSON(http.StatusOK, emps)
}

func (h *Handler) GetEmployee(c *gin.Context) {
	emp, err := h.employees.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if emp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "employee not found"})
		return
	}
	c.JSON(http.StatusOK, emp)
}

func (h *Handler) DeleteEmployee(c *gin.Context) {
	err := h.employees.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, employee.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "employee not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Employee removed."})
}

// ---------- Records ----------

func (h *Handler) ListRecords(c *gin.Context) {
	to := today()
	from := to.AddDate(0, 0, -30)
	if v := c.Query("start"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start date"})
			return
		}
		from = parsed
	}
	if v := c.Query("end"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end date"})
			return
		}
		to = parsed
	}

	records, err := h.records.ListRange(c.Request.Context(), from, to, c.Query("employee_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []attendance.RecordView{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// Today returns today's records plus the live present count the worker keeps
// in Redis.
func (h *Handler) Today(c *gin.Context) {
	day := today()
	records, err := h.records.ListDay(c.Request.Context(), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []attendance.RecordView{}
	}

	present := int64(len(records))
	if h.redis != nil && h.redis.Client != nil {
		if n, err := h.redis.Client.SCard(c.Request.Context(), store.PresenceKey(day.Format("2006-01-02"))).Result(); err == nil && n > present {
			present = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"day": day.Format("2006-01-02"), "present": present, "records": records})
}

func (h *Handler) GetAnalytics(c *gin.Context) {
	a, err := h.records.Analytics(c.Request.Context(), today(), 7)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, a)
}

// ---------- Settings ----------

func (h *Handler) GetSettings(c *gin.Context) {
	s, err := h.settings.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) PutSettings(c *gin.Context) {
	var s settings.Settings
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.settings.Put(c.Request.Context(), s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ---------- Failure mapping ----------

// fail maps business and oracle failures to status codes and failure kinds.
func (h *Handler) fail(c *gin.Context, err error) {
	status, kind := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, facematch.ErrNoProfilesEnrolled):
		status, kind = http.StatusBadRequest, "no_profiles"
	case errors.Is(err, attendance.ErrTooSoonToCheckOut):
		status, kind = http.StatusConflict, "too_soon_to_check_out"
	case errors.Is(err, attendance.ErrAlreadyComplete):
		status, kind = http.StatusConflict, "already_complete"
	case errors.Is(err, attendance.ErrLivenessFailed):
		status, kind = http.StatusForbidden, "liveness_failed"
	case errors.Is(err, attendance.ErrTooManyAttempts):
		status, kind = http.StatusTooManyRequests, "too_many_attempts"
	case errors.Is(err, employee.ErrDuplicateID):
		status, kind = http.StatusConflict, "duplicate_employee_id"
	case errors.Is(err, faceoracle.ErrServiceTimeout):
		status, kind = http.StatusGatewayTimeout, "service_timeout"
	case errors.Is(err, faceoracle.ErrServiceUnavailable):
		status, kind = http.StatusBadGateway, "service_unavailable"
	default:
		var ce *faceoracle.ClientError
		if errors.As(err, &ce) {
			status, kind = http.StatusBadRequest, "bad_probe"
		}
	}
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	c.JSON(status, gin.H{"success": false, "message": err.Error(), "kind": kind})
}

func today() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
