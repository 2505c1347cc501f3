package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.Callback("status", "applied")
	m.InvalidSignature()
	m.Transition("CONNECTED")
	m.AMDOverride()
	m.VoicemailDrop("dropped")
	m.Correction("applied")
	m.SubscriberDelta("rep", 1)
	m.EventDropped("admin")
	m.SideEffectFailed("audit")
}

func TestMetrics_HandlerExposesOwnRegistry(t *testing.T) {
	m := NewMetrics("callcenter")
	m.Callback("status", "unmatched")
	m.Callback("status", "unmatched")
	m.InvalidSignature()

	if got := testutil.ToFloat64(m.Callbacks.WithLabelValues("status", "unmatched")); got != 2 {
		t.Fatalf("expected 2 unmatched callbacks, got %v", got)
	}

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "callcenter_invalid_signatures_total 1") {
		t.Fatalf("expected invalid signature counter in output")
	}

	// A second instance starts from zero.
	other := NewMetrics("callcenter")
	if got := testutil.ToFloat64(other.InvalidSignatures); got != 0 {
		t.Fatalf("expected fresh registry, got %v", got)
	}
}
