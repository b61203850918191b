// Package handler exposes the attendance engine over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clubattend/internal/apperror"
	"clubattend/internal/attendance"
	"clubattend/internal/auth"
	"clubattend/internal/notify"
	"clubattend/internal/payload"
)

// TokenConfig controls device token issuance.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Service    *attendance.Service
	Ledger     attendance.Ledger
	Aggregator *attendance.Aggregator
	Dispatcher *notify.Dispatcher
	Batches    *notify.Batches
	Devices    auth.DeviceStore
	Tokens     TokenConfig
	Location   *time.Location
	Now        func() time.Time
	Log        *zap.Logger
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handler{Deps: d}
}

func (h *Handler) fail(c *gin.Context, err error) {
	appErr := apperror.From(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
}

// ---------- Devices ----------

type registerRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

// RegisterDevice issues admin tokens to a scanning device.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := h.Devices.UpsertDevice(ctx, req.DeviceID); err != nil {
		h.fail(c, err)
		return
	}

	tokens, err := auth.Issue(req.DeviceID, auth.RoleAdmin, h.Tokens.Issuer, h.Tokens.SigningKey, h.Tokens.AccessTTL, h.Tokens.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := h.Devices.SaveRefreshToken(ctx, req.DeviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		h.Log.Warn("save refresh token", zap.String("device", req.DeviceID), zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshDevice exchanges a live refresh token for a new token pair. The
// presented refresh token is revoked so it cannot be replayed.
func (h *Handler) RefreshDevice(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.ParseRefresh(req.RefreshToken, h.Tokens.SigningKey, h.Tokens.Issuer)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	tokens, err := auth.Issue(claims.Subject, claims.Role, h.Tokens.Issuer, h.Tokens.SigningKey, h.Tokens.AccessTTL, h.Tokens.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	err = h.Devices.RotateRefreshToken(c.Request.Context(), claims.Subject, req.RefreshToken, tokens.RefreshToken, tokens.RefreshExp)
	if errors.Is(err, auth.ErrRefreshTokenInvalid) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Scans ----------

type scanRequest struct {
	Payload string `json:"payload"`
	Method  string `json:"method"`
	EventID string `json:"event_id"`
}

// Scan toggles attendance for a scanned badge or pass. An empty payload is
// left to the service so it is reported as an invalid code.
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", attendance.ErrInvalidRequest, err))
		return
	}
	method, err := attendance.ParseScanMethod(req.Method)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.Service.Scan(c.Request.Context(), attendance.ScanRequest{
		Payload:  req.Payload,
		Method:   method,
		EventID:  req.EventID,
		DeviceID: auth.DeviceID(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Code returns the payload to print on a badge or pass.
func (h *Handler) Code(c *gin.Context) {
	var (
		code string
		err  error
	)
	switch {
	case c.Query("member_id") != "":
		if admin, _ := strconv.ParseBool(c.Query("admin")); admin {
			code, err = payload.EncodeAdmin(c.Query("member_id"))
		} else {
			code, err = payload.EncodeTeam(c.Query("member_id"))
		}
	case c.Query("event_id") != "":
		code, err = payload.EncodeEvent(c.Query("event_id"), payload.AttendeeType(c.Query("attendee_type")), c.Query("attendee_id"))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "member_id or event_id required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payload": code})
}

// ---------- Sessions & summary ----------

func (h *Handler) filter(c *gin.Context) (attendance.Filter, error) {
	f := attendance.Filter{
		Date:         c.Query("date"),
		EventID:      c.Query("event_id"),
		AttendeeType: payload.AttendeeType(c.Query("attendee_type")),
		IdentityID:   c.Query("identity_id"),
	}
	if f.Date == "" && f.EventID == "" {
		f.Date = attendance.DailyScope(h.Now().In(h.Location)).Date
	}
	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

// ListSessions lists sessions of a day or event.
func (h *Handler) ListSessions(c *gin.Context) {
	f, err := h.filter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	f.Limit, f.Offset = 50, 0
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
		f.Limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		f.Offset = v
	}
	sessions, err := h.Ledger.List(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if sessions == nil {
		sessions = []attendance.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Summary reports totals for a day or event.
func (h *Handler) Summary(c *gin.Context) {
	f, err := h.filter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	sum, err := h.Aggregator.Summarize(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// ResendSession sends the confirmation for a session's latest transition again.
func (h *Handler) ResendSession(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := h.Ledger.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Dispatcher.Notify(ctx, attendance.JobFor(sess)); err != nil {
		var se *notify.SendError
		if errors.As(err, &se) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "notification failed", "reason": se.Err.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true, "recipient": sess.DisplayName})
}

// ---------- Bulk notifications ----------

type recipient struct {
	Name            string `json:"name" binding:"required"`
	Email           string `json:"email" binding:"required,email"`
	Kind            string `json:"kind" binding:"required"`
	DurationMinutes *int   `json:"duration_minutes"`
	Payload         string `json:"payload"`
}

type batchRequest struct {
	Recipients []recipient `json:"recipients" binding:"required,min=1,dive"`
}

// StartBatch starts a throttled bulk send.
func (h *Handler) StartBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	now := h.Now().UTC()
	jobs := make([]notify.Job, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		j := notify.Job{
			RecipientName:   r.Name,
			RecipientEmail:  r.Email,
			Kind:            notify.Kind(r.Kind),
			DurationMinutes: r.DurationMinutes,
			Payload:         r.Payload,
			At:              now,
		}
		if err := j.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		jobs = append(jobs, j)
	}
	h.startBatch(c, jobs)
}

type passesRequest struct {
	EventID string `json:"event_id"`
}

// SendPasses emails attendance codes to the team or an event roster.
func (h *Handler) SendPasses(c *gin.Context) {
	var req passesRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	jobs, err := h.Service.PassJobs(c.Request.Context(), req.EventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(jobs) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "roster is empty"})
		return
	}
	h.startBatch(c, jobs)
}

func (h *Handler) startBatch(c *gin.Context, jobs []notify.Job) {
	id := h.Batches.Start(jobs)
	c.JSON(http.StatusAccepted, gin.H{"batch_id": id, "total": len(jobs)})
}

// BatchStatus reports progress and the success/failure roster of a batch.
func (h *Handler) BatchStatus(c *gin.Context) {
	st, ok := h.Batches.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// CancelBatch stops a batch before its next send.
func (h *Handler) CancelBatch(c *gin.Context) {
	if !h.Batches.Cancel(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cancelled": true})
}

// HealthCheck is one dependency probe for /healthz.
type HealthCheck func(ctx context.Context) bool
