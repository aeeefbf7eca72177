package server

import (
	"bufio"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"chatd/protocol"
)

// lineConn is the transport a session reads and writes: one event per
// line. TCP connections and WebSocket connections both satisfy it.
type lineConn interface {
	ReadLine() (string, error)
	WriteLine(line string, deadline time.Time) error
	Close() error
	RemoteAddr() string
}

type tcpConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *tcpConn) ReadLine() (string, error) {
	return c.reader.ReadString('\n')
}

func (c *tcpConn) WriteLine(line string, deadline time.Time) error {
	c.conn.SetWriteDeadline(deadline)
	_, err := c.conn.Write([]byte(line))
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Session is the server-side state of one client connection. login stays
// empty until AUTH succeeds; the session's own goroutine writes it before
// registerSession publishes the session, so the registry mutex orders the
// write ahead of any fan-out read, and it never changes afterwards.
type Session struct {
	conn         lineConn
	login        string
	writeTimeout time.Duration
	wmu          sync.Mutex // serializes writes from fan-out goroutines
}

func (sess *Session) send(ev *protocol.Event) error {
	sess.wmu.Lock()
	defer sess.wmu.Unlock()
	return sess.conn.WriteLine(ev.Encode(), time.Now().Add(sess.writeTimeout))
}

func (s *Server) handleConnection(conn net.Conn) {
	s.runSession(newTCPConn(conn))
}

// runSession is the per-connection read loop: one line, one event, one
// handler call. It returns when the stream ends, on a protocol error, or
// when a handler reports a fatal condition.
func (s *Server) runSession(conn lineConn) {
	remoteAddr := conn.RemoteAddr()
	log.Printf("New client connected from %s", remoteAddr)

	sess := &Session{conn: conn, writeTimeout: s.config.WriteTimeout}
	defer s.closeSession(sess)

	for {
		line, err := conn.ReadLine()
		if err != nil {
			if err != io.EOF && !strings.Contains(err.Error(), "use of closed network connection") {
				log.Printf("[%s] Read error: %v", remoteAddr, err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Legacy text-only path: a literal "fin" ends the session.
		if line == protocol.EndMessage {
			return
		}

		ev, err := protocol.ParseEvent(line)
		if err != nil {
			log.Printf("[%s] Protocol error: %v, line: %q", remoteAddr, err, line)
			return
		}

		if fatal := s.handleEvent(sess, ev); fatal {
			return
		}
	}
}

// handleEvent dispatches one event. The returned flag closes the session.
// Only AUTH is accepted before authentication.
func (s *Server) handleEvent(sess *Session, ev *protocol.Event) bool {
	EventsTotal.WithLabelValues(ev.Type).Inc()

	if ev.Type == protocol.Auth {
		return s.handleAuth(sess, ev)
	}

	if sess.login == "" {
		log.Printf("[%s] %s before AUTH, closing", sess.conn.RemoteAddr(), ev.Type)
		return true
	}

	switch ev.Type {
	case protocol.Quit:
		return true
	case protocol.Join:
		return s.handleJoin(sess, ev)
	case protocol.Mesg:
		return s.handleMesg(sess, ev)
	case protocol.ListContacts:
		return s.handleListContacts(sess)
	case protocol.ListRooms:
		return s.handleListRooms(sess)
	case protocol.ListPosts:
		return s.handleListPosts(sess, ev)
	case protocol.Post:
		return s.handlePost(sess, ev)
	case protocol.Cont:
		return s.handleCont(sess, ev)
	default:
		log.Printf("[%s] Unknown event type %q, closing", sess.conn.RemoteAddr(), ev.Type)
		return true
	}
}

// closeSession tears one session down: close the transport, drop the
// registry binding, mark the contact disconnected and announce the change
// to everyone still connected.
func (s *Server) closeSession(sess *Session) {
	sess.conn.Close()

	if sess.login == "" {
		log.Printf("Client disconnected from %s", sess.conn.RemoteAddr())
		return
	}

	s.unregisterSession(sess.login, sess)
	s.contacts.SetConnected(sess.login, false)
	log.Printf("Client %s disconnected from %s", sess.login, sess.conn.RemoteAddr())

	if contact, ok := s.contacts.Get(sess.login); ok {
		s.broadcast(protocol.NewEvent(protocol.Cont, protocol.NewContContent(contact)))
	}
}
