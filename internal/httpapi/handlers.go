// Package httpapi exposes the call-session engine to reps, supervisors and integrations.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"callcenter/internal/audit"
	"callcenter/internal/auth"
	"callcenter/internal/broadcast"
	"callcenter/internal/calls"
	"callcenter/internal/disposition"
	"callcenter/internal/leads"
	"callcenter/internal/observability"
	"callcenter/internal/presence"
	"callcenter/internal/rbac"
	"callcenter/internal/reporting"
	"callcenter/internal/sessions"
	"callcenter/internal/voicemail"
)

// Handlers wires HTTP routes to domain services.
type Handlers struct {
	Engine      *calls.Engine
	Sessions    *sessions.Aggregator
	Disposition *disposition.Service
	Reporting   *reporting.Service
	Voicemail   voicemail.SettingsStore
	Hub         *broadcast.Hub
	Presence    presence.Registry
	LeadUpdates LeadFeed
	Metrics     *observability.Metrics
	Log         *slog.Logger

	// Heartbeat is how often live connections ping the client and refresh presence.
	Heartbeat time.Duration
	// AllowedOrigins restricts websocket upgrades; empty allows any origin.
	AllowedOrigins []string
}

// LeadFeed is the lead_updates outbox as the lead system drains it.
type LeadFeed interface {
	Pending(ctx context.Context, limit int) ([]leads.Pending, error)
	MarkDelivered(ctx context.Context, seq int64) (int64, error)
}

type identity auth.Identity

func identityFrom(c *gin.Context) (identity, bool) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		return identity{}, false
	}
	return identity(id), true
}

const repIDParam = "rep_id"

func (id identity) canAccessRep(repID string) bool {
	return rbac.CanAccessRep(auth.Identity(id), repID)
}

func (id identity) actor(c *gin.Context) audit.Actor {
	return audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
}

func mustIdentity(c *gin.Context) (identity, bool) {
	id, ok := identityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	return id, ok
}

// resolveRep picks the target rep: explicit rep IDs need access, an empty one means the caller.
func resolveRep(c *gin.Context, id identity, repID string) (string, bool) {
	if repID == "" {
		repID = id.UserID
	}
	if !id.canAccessRep(repID) {
		writeError(c, errForbidden)
		return "", false
	}
	return repID, true
}

// ---- sessions ----

type startSessionRequest struct {
	RepID    string `json:"rep_id"`
	AutoDial bool   `json:"auto_dial"`
}

// StartSession opens a dialing session, closing any prior active one for the rep.
func (h *Handlers) StartSession(c *gin.Context) {
	id, ok := mustIdentity(c)
	if !ok {
		return
	}
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	repID, ok := resolveRep(c, id, req.RepID)
	if !ok {
		return
	}
	s, err := h.Sessions.StartSession(c.Request.Context(), repID, req.AutoDial)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handlers) loadSession(c *gin.Context, id identity) (sessions.Session, bool) {
	s, err := h.Sessions.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return sessions.Session{}, false
	}
	if !id.canAccessRep(s.RepID) {
		writeError(c, errForbidden)
		return sessions.Session{}, false
	}
	return s, true
}

func (h *Handlers) EndSession(c *gin.Context) {
	id, ok := mustIdentity(c)
	if !ok {
		return
	}
	if _, ok := h.loadSession(c, id); !ok {
		return
	}
	s, err := h.Sessions.EndSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handlers) GetSession(c *gin.Context) {
	id, ok := mustIdentity(c)
	if !ok {
		return
	}
	s, ok := h.loadSession(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s, "conversations": s.Counters.Conversations()})
}

// ---- calls ----

type registerCallRequest struct {
	RepID          string `json:"rep_id"`
	LeadID         string `json:"lead_id" binding:"required"`
	SessionID      string `json:"session_id"`
	ToNumber       string `json:"to_number" binding:"required"`
	Region         string `json:"region" binding:"omitempty,len=2"`
	ProviderCallID string `json:"provider_call_id"`
	Direction      string `json:"direction" binding:"omitempty,oneof=outbound inbound"`
}

// RegisterCall records a dial placed by the dialer. Without a session ID the rep's active
// session is used when there is one.
func (h *Handlers) RegisterCall(c *gin.Context) {
	id, ok := mustIdentity(c)
	if !ok {
		return
	}
	var req registerCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.RepID == "" && rbac.IsHiddenRole(id.Role) {
		badRequest(c, errors.New("rep_id is required"))
		return
	}
	repID, ok := resolveRep(c, id, req.RepID)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	sessionID := req.SessionID
	if sessionID == "" {
		s, err := h.Sessions.ActiveForRep(ctx, repID)
		switch {
		case err == nil:
			sessionID = s.ID
		case !errors.Is(err, sessions.ErrNotFound):
			writeError(c, err)
			return
		}
	} else {
		s, err := h.Sessions.Get(ctx, sessionID)
		if err != nil {
			writeError(c, err)
			return
		}
		if s.RepID != repID {
			writeError(c, errForbidden)
			return
		}
	}

	call, err := h.Engine.Register(ctx, calls.RegisterRequest{
		RepID:          repID,
		LeadID:         req.LeadID,
		SessionID:      sessionID,
		ToNumber:       req.ToNumber,
		Region:         req.Region,
		ProviderCallID: req.ProviderCallID,
		Direction:      calls.Direction(req.Direction),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h *Handlers) GetCall(c *gin.Context) {
	id, ok := mustIdentity(c)
	if !ok {
		return
	}
	call, err := h.Engine.Store().Get(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !id.canAccessRep(call.RepID) {
		writeError(c, errForbidden)
		return
	}
	c.JSON(http.StatusOK, call)
}

type dispositionRequest struct {
	Disposition string `json:"disposition" binding:"required,disposition"`
}

func (h *Handlers) dispositionRequest(c *gin.Context) (disposition.Request, bool) {
	id, ok := mustIdentity(c)
	if !ok {
		return disposition.Request{}, false
	}
	var body dispositionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return disposition.Request{}, false
	}
	req := disposition.Request{
		CallID:      c.Param("call_id"),
		Disposition: calls.Disposition(body.Disposition),
		Actor:       id.actor(c),
	}
	if !rbac.CanActForAnyRep(id.Role) && !rbac.IsSuperAdmin(id.Role) {
		req.RestrictToRep = id.UserID
	}
	return req, true
}

// LogDisposition sets the first disposition on a call.
func (h *Handlers) LogDisposition(c *gin.Context) {
	req, ok := h.dispositionRequest(c)
	if !ok {
		return
	}
	res, err := h.Disposition.Log(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CorrectDisposition replaces an existing disposition and moves the session counters with it.
func (h *Handlers) CorrectDisposition(c *gin.Context) {
	req, ok := h.dispositionRequest(c)
	if !ok {
		return
	}
	res, err := h.Disposition.Correct(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type engagementRequest struct {
	Kind string `json:"kind" binding:"required,engagement"`
}

// MarkEngagement records preview and CTA signals from the engagement service.
func (h *Handlers) MarkEngagement(c *gin.Context) {
	var req engagementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.Engine.MarkEngagement(c.Request.Context(), c.Param("call_id"), calls.EngagementKind(req.Kind))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---- reps ----

func (h *Handlers) RepStatus(c *gin.Context) {
	// rbac.RequireRepAccess guards the path parameter.
	repID := c.Param(repIDParam)
	st, err := h.Reporting.RepStatus(c.Request.Context(), repID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handlers) AllRepStatuses(c *gin.Context) {
	out, err := h.Reporting.AllRepStatuses(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reps": out})
}

type summaryQuery struct {
	From time.Time `form:"from" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	To   time.Time `form:"to" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
}

func (h *Handlers) CallsSummary(c *gin.Context) {
	repID := c.Param(repIDParam)
	var q summaryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		RepID: repID,
		Range: reporting.TimeRange{From: q.From, To: q.To},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ---- voicemail settings ----

func (h *Handlers) GetVoicemailSettings(c *gin.Context) {
	repID := c.Param(repIDParam)
	s, err := h.Voicemail.Get(c.Request.Context(), repID)
	if errors.Is(err, voicemail.ErrNotFound) {
		c.JSON(http.StatusOK, voicemail.RepSettings{RepID: repID})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type voicemailSettingsRequest struct {
	MessageURL string `json:"message_url" binding:"omitempty,url"`
}

func (h *Handlers) PutVoicemailSettings(c *gin.Context) {
	repID := c.Param(repIDParam)
	var req voicemailSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.Voicemail.Put(c.Request.Context(), voicemail.RepSettings{RepID: repID, MessageURL: req.MessageURL})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ---- lead updates ----

type leadUpdatesQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

type leadAckRequest struct {
	Seq int64 `json:"seq" binding:"required,min=1"`
}

func (h *Handlers) PendingLeadUpdates(c *gin.Context) {
	var q leadUpdatesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.LeadUpdates.Pending(c.Request.Context(), q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if out == nil {
		out = []leads.Pending{}
	}
	c.JSON(http.StatusOK, gin.H{"updates": out})
}

// AckLeadUpdates marks every update up to seq as delivered.
func (h *Handlers) AckLeadUpdates(c *gin.Context) {
	var req leadAckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.LeadUpdates.MarkDelivered(c.Request.Context(), req.Seq)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": n})
}
