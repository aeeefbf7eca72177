package server

import (
	"log"

	"chatd/models"
	"chatd/protocol"
)

// Event handlers. Authorization failures are rejected silently (the wire
// protocol has no error event); only AUTH failures and protocol errors
// are fatal to the session.

// handleAuth is one-shot: a login unknown to the directory, a login that
// is already connected, or a second AUTH on the same connection all close
// the session.
func (s *Server) handleAuth(sess *Session, ev *protocol.Event) bool {
	var content protocol.AuthContent
	if err := ev.Decode(&content); err != nil || content.Login == "" {
		log.Printf("[%s] Malformed AUTH, closing", sess.conn.RemoteAddr())
		return true
	}

	if sess.login != "" {
		log.Printf("[%s] AUTH while already authenticated as %s, closing", sess.conn.RemoteAddr(), sess.login)
		return true
	}

	contact, ok := s.contacts.Get(content.Login)
	if !ok {
		log.Printf("[%s] AUTH rejected, unknown login %q", sess.conn.RemoteAddr(), content.Login)
		return true
	}

	// The login must be set before the session is published into the
	// registry: fan-out goroutines read it from registry snapshots, and
	// the registry mutex is what makes the write visible to them.
	sess.login = content.Login
	if !s.registerSession(content.Login, sess) {
		sess.login = ""
		log.Printf("[%s] AUTH rejected, %s already connected", sess.conn.RemoteAddr(), content.Login)
		return true
	}

	s.contacts.SetConnected(content.Login, true)
	log.Printf("[%s] Authenticated as %s", sess.conn.RemoteAddr(), content.Login)

	contact.Connected = true
	s.broadcastExcept(sess.login, protocol.NewEvent(protocol.Cont, protocol.NewContContent(contact)))
	return false
}

// handleJoin sets the contact's current room when the room exists and the
// membership set allows the login. Otherwise the current room is left
// unchanged.
func (s *Server) handleJoin(sess *Session, ev *protocol.Event) bool {
	var content protocol.JoinContent
	if err := ev.Decode(&content); err != nil || content.Room == "" {
		log.Printf("[%s] Malformed JOIN ignored", sess.conn.RemoteAddr())
		return false
	}

	room, ok := s.rooms.Get(content.Room)
	if !ok {
		log.Printf("[%s] JOIN rejected, unknown room %q", sess.login, content.Room)
		return false
	}

	if !room.Authorized(sess.login) {
		log.Printf("[%s] JOIN rejected, not a member of %s", sess.login, room.Name)
		return false
	}

	s.contacts.SetCurrentRoom(sess.login, room.Name)
	log.Printf("[%s] Joined %s", sess.login, room.Name)
	return false
}

// handleMesg turns a message into a persisted post and fans it out: both
// ends for a direct message, every session currently in the room for a
// room message.
func (s *Server) handleMesg(sess *Session, ev *protocol.Event) bool {
	var content protocol.MesgContent
	if err := ev.Decode(&content); err != nil || content.To == "" || content.Body == "" {
		log.Printf("[%s] Malformed MESG ignored", sess.login)
		return false
	}

	if content.To == sess.login {
		log.Printf("[%s] MESG to self rejected", sess.login)
		return false
	}

	if protocol.IsRoom(content.To) {
		room, ok := s.rooms.Get(content.To)
		if !ok {
			log.Printf("[%s] MESG rejected, unknown room %q", sess.login, content.To)
			return false
		}
		if !room.Authorized(sess.login) {
			log.Printf("[%s] MESG rejected, not a member of %s", sess.login, room.Name)
			return false
		}

		post := models.NewPostFromMessage(sess.login, content.Message())
		s.storePost(post)
		s.broadcastRoom(room.Name, protocol.NewEvent(protocol.Post, protocol.NewPostContent(post)))
		return false
	}

	if !s.contacts.Contains(content.To) {
		log.Printf("[%s] MESG rejected, unknown contact %q", sess.login, content.To)
		return false
	}

	post := models.NewPostFromMessage(sess.login, content.Message())
	s.storePost(post)

	postEvent := protocol.NewEvent(protocol.Post, protocol.NewPostContent(post))
	s.sendTo(content.To, postEvent)
	s.sendToSession(sess, postEvent)
	return false
}

// storePost updates the cache and writes through to the store. A storage
// failure is logged and delivery proceeds from memory.
func (s *Server) storePost(post models.Post) {
	s.posts.Upsert(post)
	if err := s.db.AddOrReplacePost(post); err != nil {
		log.Printf("Failed to persist post %s: %v", post.ID, err)
	}
}

// handlePost is the edit path: a POST with a known id replaces the stored
// body (withdrawal is an edit to the tombstone body). The resulting post
// is rebroadcast to every connected contact.
func (s *Server) handlePost(sess *Session, ev *protocol.Event) bool {
	var content protocol.PostContent
	if err := ev.Decode(&content); err != nil {
		log.Printf("[%s] Malformed POST, closing", sess.login)
		return true
	}

	post, err := content.Post()
	if err != nil {
		log.Printf("[%s] POST with invalid id %q, closing", sess.login, content.ID)
		return true
	}

	s.storePost(post)
	s.broadcast(protocol.NewEvent(protocol.Post, protocol.NewPostContent(post)))
	return false
}

// handleCont updates the directory from a contact-info event. An unknown
// login is created on first sight (a peer learned via gossip); a known
// login gets its avatar updated. The connected flag stays
// server-authoritative. The result is rebroadcast to all connected
// contacts.
func (s *Server) handleCont(sess *Session, ev *protocol.Event) bool {
	var content protocol.ContContent
	if err := ev.Decode(&content); err != nil || content.Login == "" {
		log.Printf("[%s] Malformed CONT ignored", sess.login)
		return false
	}

	avatar, err := content.AvatarBytes()
	if err != nil {
		log.Printf("[%s] CONT with invalid avatar ignored", sess.login)
		return false
	}

	contact, known := s.contacts.Get(content.Login)
	if !known {
		contact = models.NewContact(content.Login)
		contact.Avatar = avatar
		s.contacts.Add(contact)
	} else if avatar != nil {
		s.contacts.SetAvatar(content.Login, avatar)
	}

	if avatar != nil || !known {
		if err := s.db.SaveContact(models.Contact{Login: content.Login, Avatar: avatar}); err != nil {
			log.Printf("Failed to persist contact %s: %v", content.Login, err)
		}
	}

	contact, _ = s.contacts.Get(content.Login)
	s.broadcast(protocol.NewEvent(protocol.Cont, protocol.NewContContent(contact)))
	return false
}

// handleListContacts delivers one CONT per known contact to the requester.
func (s *Server) handleListContacts(sess *Session) bool {
	for _, contact := range s.contacts.Snapshot() {
		ev := protocol.NewEvent(protocol.Cont, protocol.NewContContent(contact))
		if err := sess.send(ev); err != nil {
			log.Printf("[%s] Write failed during LSTC: %v", sess.login, err)
			return true
		}
	}
	return false
}

// handleListRooms delivers a ROOM event for each room the requester may
// join: membership set absent or containing the login.
func (s *Server) handleListRooms(sess *Session) bool {
	for _, room := range s.rooms.Snapshot() {
		if !room.Authorized(sess.login) {
			continue
		}
		ev := protocol.NewEvent(protocol.Room, protocol.NewRoomContent(room))
		if err := sess.send(ev); err != nil {
			log.Printf("[%s] Write failed during LSTR: %v", sess.login, err)
			return true
		}
	}
	return false
}

// handleListPosts replays matching posts to the requester in timestamp
// order. Direct history matches either end of the exchange; room history
// requires the requester to currently be in the room.
func (s *Server) handleListPosts(sess *Session, ev *protocol.Event) bool {
	var content protocol.ListPostsContent
	if err := ev.Decode(&content); err != nil || content.Select == "" {
		log.Printf("[%s] Malformed LSTP ignored", sess.login)
		return false
	}

	if protocol.IsRoom(content.Select) {
		contact, ok := s.contacts.Get(sess.login)
		if !ok || contact.CurrentRoom != content.Select {
			log.Printf("[%s] LSTP rejected, not in room %q", sess.login, content.Select)
			return false
		}
	} else if !s.contacts.Contains(content.Select) {
		log.Printf("[%s] LSTP rejected, unknown contact %q", sess.login, content.Select)
		return false
	}

	for _, post := range s.posts.Since(content.Since) {
		if protocol.IsRoom(content.Select) {
			if post.To != content.Select {
				continue
			}
		} else if post.To != content.Select && post.From != content.Select {
			continue
		}

		ev := protocol.NewEvent(protocol.Post, protocol.NewPostContent(post))
		if err := sess.send(ev); err != nil {
			log.Printf("[%s] Write failed during LSTP: %v", sess.login, err)
			return true
		}
	}
	return false
}
