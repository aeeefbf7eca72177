package server

import (
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatd/db"
	"chatd/models"
	"chatd/protocol"
)

// Server owns the accept loop, the live-session registry and the fan-out
// primitives. Directories and the post cache are shared with every session
// goroutine; all mutation goes through their mutex-guarded methods.
type Server struct {
	db       *db.DB
	config   *ServerConfig
	contacts *models.ContactMap
	rooms    *models.RoomMap
	posts    *models.PostList
	sessions map[string]*Session // authenticated sessions keyed by login
	mu       sync.RWMutex
	listener net.Listener
}

type ServerConfig struct {
	Port         int
	WriteTimeout time.Duration
}

// New loads the directories and the post cache from the database and
// returns a server ready to accept connections. Empty directory tables are
// seeded with the default roster first.
func New(database *db.DB, config *ServerConfig) (*Server, error) {
	if err := database.SeedDefaults(); err != nil {
		return nil, err
	}

	s := &Server{
		db:       database,
		config:   config,
		contacts: models.NewContactMap(),
		rooms:    models.NewRoomMap(),
		posts:    models.NewPostList(),
		sessions: make(map[string]*Session),
	}

	contacts, err := database.LoadContacts()
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		s.contacts.Add(c)
	}

	rooms, err := database.LoadRooms()
	if err != nil {
		return nil, err
	}
	for _, r := range rooms {
		s.rooms.Add(r)
	}

	posts, err := database.AllPosts()
	if err != nil {
		return nil, err
	}
	for _, p := range posts {
		s.posts.Upsert(p)
	}

	log.Printf("Loaded %d contacts, %d rooms, %d posts", s.contacts.Len(), s.rooms.Len(), s.posts.Len())
	return s, nil
}

// Start blocks accepting connections until the listener is closed.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}
	s.listener = listener
	defer listener.Close()

	log.Printf("chatd listening on port %d", s.config.Port)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			log.Printf("Error accepting connection: %v", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

// Shutdown closes the listener and every live session.
func (s *Server) Shutdown() {
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess.conn.Close()
	}
}

// registerSession binds an authenticated login to its session. Reports
// false when the login already has a live session.
func (s *Server) registerSession(login string, sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[login]; exists {
		return false
	}
	s.sessions[login] = sess
	ConnectedSessions.Set(float64(len(s.sessions)))
	return true
}

// unregisterSession removes the binding, but only if it still points at
// this session.
func (s *Server) unregisterSession(login string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[login]; ok && current == sess {
		delete(s.sessions, login)
	}
	ConnectedSessions.Set(float64(len(s.sessions)))
}

func (s *Server) findSession(login string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[login]
	return sess, ok
}

// sessionSnapshot copies the registry so fan-out never writes while
// holding the lock.
func (s *Server) sessionSnapshot() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// sendTo delivers one event to one connected contact. A write failure
// closes that contact's session only; the sender is unaffected.
func (s *Server) sendTo(login string, ev *protocol.Event) {
	sess, ok := s.findSession(login)
	if !ok {
		return
	}
	s.sendToSession(sess, ev)
}

func (s *Server) sendToSession(sess *Session, ev *protocol.Event) {
	if err := sess.send(ev); err != nil {
		log.Printf("[%s] Write failed, closing session: %v", sess.conn.RemoteAddr(), err)
		sess.conn.Close()
	}
}

// broadcast delivers an event to every connected contact.
func (s *Server) broadcast(ev *protocol.Event) {
	start := time.Now()
	for _, sess := range s.sessionSnapshot() {
		s.sendToSession(sess, ev)
	}
	FanoutDuration.Observe(time.Since(start).Seconds())
}

// broadcastExcept delivers to every connected contact but one.
func (s *Server) broadcastExcept(login string, ev *protocol.Event) {
	start := time.Now()
	for _, sess := range s.sessionSnapshot() {
		if sess.login == login {
			continue
		}
		s.sendToSession(sess, ev)
	}
	FanoutDuration.Observe(time.Since(start).Seconds())
}

// broadcastRoom delivers to every session whose contact is currently in
// the room. Delivery follows currentRoom, never the membership set.
func (s *Server) broadcastRoom(room string, ev *protocol.Event) {
	start := time.Now()
	for _, sess := range s.sessionSnapshot() {
		contact, ok := s.contacts.Get(sess.login)
		if !ok || contact.CurrentRoom != room {
			continue
		}
		s.sendToSession(sess, ev)
	}
	FanoutDuration.Observe(time.Since(start).Seconds())
}

// GetStats returns server statistics as a formatted string for the
// control socket.
func (s *Server) GetStats() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for login := range s.sessions {
		users = append(users, login)
	}

	return "connections=" + strconv.Itoa(len(s.sessions)) + ",users=" + strings.Join(users, ";")
}
