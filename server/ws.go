package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request and runs a regular session over the
// WebSocket: one JSON event per text message, same protocol as TCP.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	go s.runSession(newWSConn(ws))
}

// wsConn adapts a WebSocket connection to the session transport. Text
// messages map to lines; the newline framing is dropped on the wire.
type wsConn struct {
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadLine() (string, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return string(data), nil
	}
}

func (c *wsConn) WriteLine(line string, deadline time.Time) error {
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, []byte(strings.TrimSuffix(line, "\n")))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
