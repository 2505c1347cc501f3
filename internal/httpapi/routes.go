package httpapi

import (
	"github.com/gin-gonic/gin"

	"callcenter/internal/rbac"
)

// RouteOptions carries middleware built by the caller.
type RouteOptions struct {
	// Auth verifies bearer tokens from the Authorization header.
	Auth gin.HandlerFunc
	// LiveAuth is Auth that also accepts ?token= for browser websocket and EventSource clients.
	LiveAuth gin.HandlerFunc
	// Corrections limits disposition corrections per actor. Nil disables the limit.
	Corrections *LimiterRegistry
}

// Register mounts the /v1 API on r. Keep this free of business logic.
func Register(r gin.IRouter, h *Handlers, opts RouteOptions) {
	if err := RegisterValidators(); err != nil {
		panic(err)
	}

	v1 := r.Group("/v1")

	live := v1.Group("/live")
	live.Use(opts.LiveAuth, rbac.RequireUser())
	{
		live.GET("/ws", h.LiveWS)
		live.GET("/stream", h.LiveStream)
	}

	api := v1.Group("")
	api.Use(opts.Auth, rbac.RequireUser())

	sessions := api.Group("/sessions")
	sessions.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor, rbac.RoleAdmin))
	{
		sessions.POST("", h.StartSession)
		sessions.GET("/:session_id", h.GetSession)
		sessions.POST("/:session_id/end", h.EndSession)
	}

	calls := api.Group("/calls")
	{
		calls.POST("", rbac.RequireAnyRole(rbac.RoleIntegration, rbac.RoleAgent, rbac.RoleSupervisor, rbac.RoleAdmin), h.RegisterCall)
		calls.GET("/:call_id", rbac.RequireAnyRole(rbac.RoleIntegration, rbac.RoleAgent, rbac.RoleSupervisor, rbac.RoleAdmin), h.GetCall)
		calls.POST("/:call_id/engagement", rbac.RequireAnyRole(rbac.RoleIntegration), h.MarkEngagement)

		dispo := calls.Group("/:call_id/disposition")
		dispo.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor, rbac.RoleAdmin))
		dispo.POST("", h.LogDisposition)
		if opts.Corrections != nil {
			dispo.PUT("", opts.Corrections.PerActor(), h.CorrectDisposition)
		} else {
			dispo.PUT("", h.CorrectDisposition)
		}
	}

	reps := api.Group("/reps")
	{
		reps.GET("/status", rbac.RequireAnyRole(rbac.RoleSupervisor, rbac.RoleAdmin), h.AllRepStatuses)

		own := reps.Group("/:" + repIDParam)
		own.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor, rbac.RoleAdmin), rbac.RequireRepAccess(repIDParam))
		own.GET("/status", h.RepStatus)
		own.GET("/summary", h.CallsSummary)
		own.GET("/voicemail", h.GetVoicemailSettings)
		own.PUT("/voicemail", h.PutVoicemailSettings)
	}

	if h.LeadUpdates != nil {
		feed := api.Group("/lead-updates")
		feed.Use(rbac.RequireAnyRole(rbac.RoleIntegration))
		feed.GET("", h.PendingLeadUpdates)
		feed.POST("/ack", h.AckLeadUpdates)
	}
}
