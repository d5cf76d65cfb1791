package realtime

import (
	"context"
	"net"
	"net/http"
	"time"

	"CragProject/logger"
	"CragProject/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// NewUpgrader returns the websocket upgrader for /ws. Origins are checked by
// the gin Origin middleware before the handshake reaches it.
func NewUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// HandleWS authenticates the handshake, upgrades it and runs the session until
// the peer goes away. A refused credential is answered with 401 and no
// connection state is created.
func (h *Hub) HandleWS(up *websocket.Upgrader) gin.HandlerFunc {
	if up == nil {
		up = NewUpgrader()
	}
	return func(c *gin.Context) {
		if h.auth == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": errs.Name(errs.ErrUnauthorized)})
			return
		}
		userID, err := h.auth.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			logger.Infof("[HandleWS] refuse handshake remote=%s err=%v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    errs.Name(err),
				"message": clientMessage(err),
			})
			return
		}
		if h.stopped() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}

		ws, err := up.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// 常见：非 WebSocket 请求/握手失败
			logger.Infof("[HandleWS] upgrade websocket error: %v", err)
			return
		}
		h.serve(ws, userID)
	}
}

func (h *Hub) serve(ws *websocket.Conn, userID string) {
	conn, first, err := h.Open(userID)
	if err != nil {
		logger.Infof("[HandleWS] open user=%s err=%v", userID, err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down"),
			time.Now().Add(h.conf.WriteWait))
		_ = ws.Close()
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ws, conn)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-conn.Done():
		case <-ctx.Done():
		}
		cancel()
	}()

	h.Ready(ctx, conn, first)
	h.readLoop(ctx, ws, conn)

	// ---- 退出阶段：注销连接、等待写协程收尾 ----
	cancel()
	h.Close(conn)
	<-writerDone
	logger.Infof("[WS] closed conn=%s user=%s lastSeen=%s dropped=%d",
		conn.id, conn.userID, conn.LastSeen().Format(time.RFC3339), conn.Dropped())
}

// readLoop processes inbound frames of one connection in order.
func (h *Hub) readLoop(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	ws.SetReadLimit(h.conf.MaxMessageBytes)
	_ = ws.SetReadDeadline(h.Now().Add(h.conf.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		conn.touch(h.Now())
		return ws.SetReadDeadline(h.Now().Add(h.conf.ReadTimeout))
	})

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed conn=%s err=%v", conn.id, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout conn=%s err=%v", conn.id, rerr)
			} else {
				logger.Infof("[WS] read err conn=%s err=%v", conn.id, rerr)
			}
			return
		}
		_ = ws.SetReadDeadline(h.Now().Add(h.conf.ReadTimeout))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = h.Process(ctx, conn, data)
	}
}

// writePump is the only goroutine writing to ws: queued frames first, then
// periodic pings. It closes ws when the connection is torn down.
func (h *Hub) writePump(ws *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(h.conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.SetWriteDeadline(time.Now().Add(h.conf.WriteWait))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
	}()

	for {
		select {
		case frame := <-conn.send:
			_ = ws.SetWriteDeadline(time.Now().Add(h.conf.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Infof("[WS] write err conn=%s user=%s err=%v", conn.id, conn.userID, err)
				conn.close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(h.conf.WriteWait)); err != nil {
				logger.Infof("[WS] ping err conn=%s user=%s err=%v", conn.id, conn.userID, err)
				conn.close()
				return
			}
		case <-conn.done:
			return
		}
	}
}
