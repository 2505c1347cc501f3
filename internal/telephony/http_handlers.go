package telephony

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"callcenter/internal/calls"
	"callcenter/internal/observability"
	"callcenter/pkg/logger"
)

// CallbackApplier is the engine surface the webhooks drive.
type CallbackApplier interface {
	ApplyProviderStatus(ctx context.Context, cb calls.StatusCallback) (calls.Result, error)
	ApplyDetection(ctx context.Context, d calls.DetectionCallback) (calls.Result, error)
}

// Deferrer queues an unmatched callback for a later attempt.
type Deferrer interface {
	DeferStatus(ctx context.Context, cb calls.StatusCallback) error
	DeferDetection(ctx context.Context, d calls.DetectionCallback) error
}

// WebhookHandler converts Twilio callbacks to engine inputs.
//
// Every response is 200 with an empty TwiML document: a non-2xx makes Twilio retry, and retries
// only add duplicates. Signature checks happen in SignatureMiddleware before this runs.
type WebhookHandler struct {
	Engine CallbackApplier

	// Deferrer is nil under the "drop" unmatched policy.
	Deferrer Deferrer
	Metrics  *observability.Metrics

	Now func() time.Time
}

// CorrelationParam carries our call ID on the callback URLs we hand to the provider.
const CorrelationParam = "call_id"

func (h WebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	defer ack(c)

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status callback rejected", "err", err)
		h.Metrics.Callback("status", "invalid")
		return
	}
	cb := form.ToStatusCallback(c.Query(CorrelationParam), h.now())
	logger.Enrich(c, "provider_call_id", cb.ProviderCallID, "call_id", cb.CallID)
	log = logger.FromGin(c)
	res, err := h.Engine.ApplyProviderStatus(c.Request.Context(), cb)
	if err != nil {
		log.Error("status callback failed", "err", err)
		return
	}
	if res.Outcome == calls.OutcomeUnmatched && h.Deferrer != nil {
		if err := h.Deferrer.DeferStatus(c.Request.Context(), cb); err != nil {
			log.Error("defer status callback failed", "err", err)
			return
		}
		h.Metrics.Callback("status", "deferred")
	}
}

func (h WebhookHandler) HandleAMD(c *gin.Context) {
	log := logger.FromGin(c)
	defer ack(c)

	form, err := ParseTwilioAMDCallback(c.Request)
	if err != nil {
		log.Warn("twilio amd callback rejected", "err", err)
		h.Metrics.Callback("amd", "invalid")
		return
	}
	d := form.ToDetectionCallback(c.Query(CorrelationParam), h.now())
	logger.Enrich(c, "provider_call_id", d.ProviderCallID, "call_id", d.CallID)
	log = logger.FromGin(c)
	res, err := h.Engine.ApplyDetection(c.Request.Context(), d)
	if err != nil {
		log.Error("amd callback failed", "err", err)
		return
	}
	if res.Outcome == calls.OutcomeUnmatched && h.Deferrer != nil {
		if err := h.Deferrer.DeferDetection(c.Request.Context(), d); err != nil {
			log.Error("defer amd callback failed", "err", err)
			return
		}
		h.Metrics.Callback("amd", "deferred")
	}
}

func ack(c *gin.Context) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, EmptyResponse())
}
