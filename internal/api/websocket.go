package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"minikv/internal/command"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for any frame before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// maxMessageBytes bounds a single command message.
	maxMessageBytes = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

/* ---------------- GET /ws ---------------- */

// ServeWS runs one session over a websocket. Every text message is one
// command line and gets one text message back; blank lines get none.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}
	defer conn.Close()

	sess := h.sessions.Open(r.RemoteAddr)
	defer sess.Close(context.Background())

	conn.SetReadLimit(maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	send := func(text string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.TextMessage, []byte(text))
	}

	if err := send(command.HelpText); err != nil {
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read error", "remote", r.RemoteAddr, "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}

		line := strings.TrimRight(string(data), "\r\n")
		if command.IsQuit(line) {
			_ = send(command.ReplyBye)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}

		reply, ok := h.dispatcher.Execute(sess, line)
		if !ok {
			continue
		}
		if err := send(reply); err != nil {
			return
		}
	}
}
