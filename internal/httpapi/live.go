package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"callcenter/internal/broadcast"
	"callcenter/internal/rbac"
	"callcenter/pkg/logger"
)

const (
	defaultHeartbeat = 30 * time.Second
	writeWait        = 10 * time.Second
	maxClientMessage = 4 << 10
)

type liveMessage struct {
	Type      string           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Event     *broadcast.Event `json:"event,omitempty"`
}

const (
	liveConnected = "CONNECTED"
	liveHeartbeat = "HEARTBEAT"
)

func (h *Handlers) heartbeat() time.Duration {
	if h.Heartbeat > 0 {
		return h.Heartbeat
	}
	return defaultHeartbeat
}

// liveSession is one authenticated live connection: a hub subscription plus presence for reps.
type liveSession struct {
	h      *Handlers
	id     identity
	connID string
	sub    *broadcast.Subscriber
	rep    bool
}

func (h *Handlers) openLive(c *gin.Context) (*liveSession, bool) {
	id, ok := mustIdentity(c)
	if !ok {
		return nil, false
	}
	ls := &liveSession{h: h, id: id, connID: uuid.NewString(), rep: !rbac.ReceivesAdminFeed(id.Role)}
	if ls.rep {
		if err := h.Presence.Connect(c.Request.Context(), id.UserID, ls.connID); err != nil {
			writeError(c, err)
			return nil, false
		}
		ls.sub = h.Hub.Subscribe(broadcast.AudienceRep, id.UserID)
	} else {
		ls.sub = h.Hub.Subscribe(broadcast.AudienceAdmin, "")
	}
	return ls, true
}

func (ls *liveSession) touch(ctx context.Context) {
	if !ls.rep {
		return
	}
	if err := ls.h.Presence.Touch(ctx, ls.id.UserID, ls.connID); err != nil {
		logger.From(ctx).Warn("presence touch failed", "rep_id", ls.id.UserID, "err", err)
	}
}

// close runs on a detached context so presence is released even after the request is gone.
func (ls *liveSession) close(ctx context.Context) {
	ls.h.Hub.Unsubscribe(ls.sub)
	if !ls.rep {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := ls.h.Presence.Disconnect(ctx, ls.id.UserID, ls.connID); err != nil {
		logger.From(ctx).Warn("presence disconnect failed", "rep_id", ls.id.UserID, "err", err)
	}
}

func (h *Handlers) upgrader() websocket.Upgrader {
	allowed := make(map[string]struct{}, len(h.AllowedOrigins))
	for _, o := range h.AllowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || len(allowed) == 0 {
				// Non-browser clients omit Origin.
				return true
			}
			if _, ok := allowed[strings.ToLower(origin)]; ok {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
}

// LiveWS streams live events over a websocket. The server pings every heartbeat; each pong
// or client message refreshes the rep's presence.
func (h *Handlers) LiveWS(c *gin.Context) {
	ls, ok := h.openLive(c)
	if !ok {
		return
	}
	reqCtx := c.Request.Context()
	log := logger.FromGin(c).With("user_id", ls.id.UserID, "transport", "ws")

	up := h.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		ls.close(reqCtx)
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	defer ls.close(reqCtx)

	ctx, cancel := context.WithCancel(context.WithoutCancel(reqCtx))
	defer cancel()

	beat := h.heartbeat()
	readWait := 3 * beat

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(beat)
		defer ticker.Stop()

		write := func(v any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				log.Debug("websocket write failed", "err", err)
				cancel()
				return false
			}
			return true
		}
		if !write(liveMessage{Type: liveConnected, Timestamp: time.Now().UTC()}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ls.sub.Done():
				cancel()
				return
			case ev := <-ls.sub.Events():
				if !write(liveMessage{Type: string(ev.Type), Timestamp: ev.Timestamp, Event: &ev}) {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		ls.touch(ctx)
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		// Any client frame counts as a heartbeat.
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		ls.touch(ctx)
	}
	cancel()
	<-writerDone
}

// LiveStream streams live events as server-sent events. Each heartbeat frame also refreshes
// the rep's presence while the connection stays open.
func (h *Handlers) LiveStream(c *gin.Context) {
	ls, ok := h.openLive(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	defer ls.close(ctx)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(liveConnected, liveMessage{Type: liveConnected, Timestamp: time.Now().UTC()})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ls.sub.Done():
			return
		case ev := <-ls.sub.Events():
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
		case now := <-ticker.C:
			c.SSEvent(liveHeartbeat, liveMessage{Type: liveHeartbeat, Timestamp: now.UTC()})
			c.Writer.Flush()
			ls.touch(ctx)
		}
	}
}
