package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"callcenter/internal/broadcast"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (e *testEnv) online(rep string) bool {
	ok, _ := e.presence.IsOnline(context.Background(), rep)
	return ok
}

// readSSE returns the next event name and data payload, skipping heartbeats.
func readSSE(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	for {
		var name, data string
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			if line == "" {
				break
			}
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimPrefix(line, "data:")
			}
		}
		if name != "" && name != liveHeartbeat {
			return name, data
		}
	}
}

func TestLiveStream_RepReceivesOwnEvents(t *testing.T) {
	e := newTestEnv(t, nil)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/live/stream?token="+e.token(t, "rep_1", "agent"), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	r := bufio.NewReader(resp.Body)
	if name, _ := readSSE(t, r); name != liveConnected {
		t.Fatalf("expected %s first, got %s", liveConnected, name)
	}
	if !e.online("rep_1") {
		t.Fatalf("expected rep_1 online while streaming")
	}

	e.hub.PushToRep(context.Background(), "rep_2", broadcast.Event{Type: broadcast.EventCallStatus, RepID: "rep_2", CallID: "other"})
	e.hub.PushToRep(context.Background(), "rep_1", broadcast.Event{Type: broadcast.EventCallStatus, RepID: "rep_1", CallID: "c1", Status: "RINGING"})

	name, data := readSSE(t, r)
	if name != string(broadcast.EventCallStatus) {
		t.Fatalf("unexpected event %s", name)
	}
	var ev broadcast.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.CallID != "c1" || ev.Status != "RINGING" {
		t.Fatalf("unexpected payload %+v", ev)
	}

	cancel()
	waitFor(t, "presence release", func() bool { return !e.online("rep_1") })
	waitFor(t, "unsubscribe", func() bool { reps, _ := e.hub.Counts(); return reps == 0 })
}

func TestLiveStream_RejectsMissingToken(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, http.MethodGet, "/v1/live/stream", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLiveWS_SupervisorGetsAdminFeed(t *testing.T) {
	e := newTestEnv(t, nil)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/live/ws?token=" + e.token(t, "sup_1", "supervisor")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello liveMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != liveConnected {
		t.Fatalf("expected connected frame, got %+v err=%v", hello, err)
	}
	if _, admins := e.hub.Counts(); admins != 1 {
		t.Fatalf("expected one admin subscriber, got %d", admins)
	}
	if e.online("sup_1") {
		t.Fatalf("supervisors do not register rep presence")
	}

	e.hub.PushToAllAdmins(context.Background(), broadcast.Event{Type: broadcast.EventDispositionLogged, RepID: "rep_9", CallID: "c9", Disposition: "NO_ANSWER"})

	var msg liveMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != string(broadcast.EventDispositionLogged) || msg.Event == nil || msg.Event.CallID != "c9" {
		t.Fatalf("unexpected message %+v", msg)
	}

	_ = conn.Close()
	waitFor(t, "admin unsubscribe", func() bool { _, admins := e.hub.Counts(); return admins == 0 })
}

func TestLiveWS_RepPresenceFollowsConnection(t *testing.T) {
	e := newTestEnv(t, nil)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/live/ws?token=" + e.token(t, "rep_1", "agent")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var hello liveMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if !e.online("rep_1") {
		t.Fatalf("expected rep_1 online")
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("client heartbeat: %v", err)
	}

	_ = conn.Close()
	waitFor(t, "presence release", func() bool { return !e.online("rep_1") })
}
