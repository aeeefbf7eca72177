package models

import (
	"time"

	"github.com/google/uuid"
)

// DeletedBody replaces the body of a withdrawn post. The record keeps its
// id and timestamp so clients can reconcile the edit.
const DeletedBody = "(message deleted)"

// Message is an addressed body without identity: what a client asks the
// server to deliver.
type Message struct {
	To   string
	Body string
}

// Post is a persisted Message: same destination and body, plus a unique id,
// a creation timestamp in epoch milliseconds and the sender login.
// Two posts are the same post iff their ids match.
type Post struct {
	Message
	ID        uuid.UUID
	Timestamp int64
	From      string
}

// NewPost builds a post from raw fields with a fresh id and the current time.
func NewPost(from, to, body string) Post {
	return Post{
		Message:   Message{To: to, Body: body},
		ID:        uuid.New(),
		Timestamp: time.Now().UnixMilli(),
		From:      from,
	}
}

// NewPostFromMessage wraps an incoming Message with a sender identity.
func NewPostFromMessage(from string, msg Message) Post {
	return NewPost(from, msg.To, msg.Body)
}

func (p Post) Equal(other Post) bool {
	return p.ID == other.ID
}

// Contact is a registered identity. Connected and CurrentRoom are only
// mutated through ContactMap so the directory stays the single source of
// truth for presence.
type Contact struct {
	Login       string
	Connected   bool
	CurrentRoom string // empty until the contact joins a room
	Avatar      []byte // PNG bytes, may be nil
}

func NewContact(login string) Contact {
	return Contact{Login: login}
}

// Room is a named channel. An empty LoginSet means the room is public: any
// authenticated contact may join and post. Membership controls
// authorization only; delivery is decided by each contact's CurrentRoom.
type Room struct {
	Name     string
	LoginSet map[string]struct{}
}

func NewRoom(name string, logins ...string) Room {
	r := Room{Name: name}
	for _, login := range logins {
		r.Add(login)
	}
	return r
}

// Add puts a login in the membership set, creating the set on first use.
func (r *Room) Add(login string) {
	if r.LoginSet == nil {
		r.LoginSet = make(map[string]struct{})
	}
	r.LoginSet[login] = struct{}{}
}

// Authorized reports whether login may join or post to the room.
func (r Room) Authorized(login string) bool {
	if len(r.LoginSet) == 0 {
		return true
	}
	_, ok := r.LoginSet[login]
	return ok
}

// Logins returns the membership set as a slice, nil for a public room.
func (r Room) Logins() []string {
	if len(r.LoginSet) == 0 {
		return nil
	}
	logins := make([]string, 0, len(r.LoginSet))
	for login := range r.LoginSet {
		logins = append(logins, login)
	}
	return logins
}
