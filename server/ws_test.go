package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatd/protocol"
)

// dialTestWS starts an HTTP server around the WebSocket endpoint and
// dials it.
func dialTestWS(t *testing.T, srv *Server) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.ServeWS))
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.Close()
		t.Fatalf("Failed to dial WebSocket: %v", err)
	}
	return ws, func() {
		ws.Close()
		ts.Close()
	}
}

func wsSendEvent(t *testing.T, ws *websocket.Conn, eventType string, content any) {
	t.Helper()
	ev := protocol.NewEvent(eventType, content)
	ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	payload := strings.TrimSuffix(ev.Encode(), "\n")
	if err := ws.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("Failed to send %s: %v", eventType, err)
	}
}

// wsReadEvent reads the next text message and parses it, checking that
// the gateway dropped the newline framing on the wire.
func wsReadEvent(t *testing.T, ws *websocket.Conn) *protocol.Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read event: %v", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if strings.HasSuffix(string(data), "\n") {
			t.Errorf("Line framing leaked into the message: %q", data)
		}
		ev, err := protocol.ParseEvent(string(data))
		if err != nil {
			t.Fatalf("Unparseable event %q: %v", data, err)
		}
		return ev
	}
}

func wsAuthenticate(t *testing.T, srv *Server, ws *websocket.Conn, login string) {
	t.Helper()
	wsSendEvent(t, ws, protocol.Auth, protocol.AuthContent{Login: login})
	waitFor(t, login+" to be registered", func() bool {
		_, ok := srv.findSession(login)
		return ok
	})
}

func TestWebSocketAuthAndListContacts(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	ws, done := dialTestWS(t, srv)
	defer done()

	wsAuthenticate(t, srv, ws, "riri")

	wsSendEvent(t, ws, protocol.ListContacts, struct{}{})

	want := []string{"daisy", "dingo", "donald", "fifi", "loulou", "mickey", "minnie", "picsou", "riri"}
	for _, login := range want {
		content := decodeCont(t, wsReadEvent(t, ws))
		if content.Login != login {
			t.Errorf("Expected CONT for %s, got %s", login, content.Login)
		}
	}
}

func TestWebSocketSkipsNonTextFrames(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	ws, done := dialTestWS(t, srv)
	defer done()

	// A binary frame is not part of the protocol and must not kill the
	// session.
	ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Failed to send binary frame: %v", err)
	}

	wsAuthenticate(t, srv, ws, "fifi")
}

func TestWebSocketAndTCPSessionsInterop(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	ws, done := dialTestWS(t, srv)
	defer done()

	wsAuthenticate(t, srv, ws, "riri")

	tcp := authenticate(t, srv, "fifi")
	defer tcp.Close()

	// fifi's arrival is announced to riri over the WebSocket.
	content := decodeCont(t, wsReadEvent(t, ws))
	if content.Login != "fifi" || !content.Connected {
		t.Fatalf("Expected presence for fifi, got %+v", content)
	}

	// A direct message crosses the transport boundary both ways.
	sendEvent(t, tcp, protocol.Mesg, protocol.MesgContent{To: "riri", Body: "coin"})

	echo, err := readEvent(tcp, 2*time.Second)
	if err != nil {
		t.Fatalf("Sender echo missing: %v", err)
	}
	if post := decodePost(t, echo); post.Body != "coin" {
		t.Errorf("Unexpected echo body %q", post.Body)
	}

	delivered := decodePost(t, wsReadEvent(t, ws))
	if delivered.From != "fifi" || delivered.To != "riri" || delivered.Body != "coin" {
		t.Errorf("Unexpected delivery: %+v", delivered)
	}
}
