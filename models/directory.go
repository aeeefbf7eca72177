package models

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// The directories below are shared by every session goroutine. Each one
// carries its own RWMutex; methods hold the lock only for the map access,
// never across I/O.

// ContactMap is the contact directory, keyed by login.
type ContactMap struct {
	mu       sync.RWMutex
	contacts map[string]*Contact
}

func NewContactMap() *ContactMap {
	return &ContactMap{contacts: make(map[string]*Contact)}
}

// Add inserts or replaces a contact.
func (m *ContactMap) Add(c Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[c.Login] = &c
}

// Get returns a copy of the contact, so callers never touch shared state
// without the lock.
func (m *ContactMap) Get(login string) (Contact, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[login]
	if !ok {
		return Contact{}, false
	}
	return *c, true
}

func (m *ContactMap) Contains(login string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.contacts[login]
	return ok
}

func (m *ContactMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contacts)
}

// SetConnected flips the presence flag; reports whether the login is known.
func (m *ContactMap) SetConnected(login string, connected bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[login]
	if !ok {
		return false
	}
	c.Connected = connected
	return true
}

// SetCurrentRoom records the room a contact is currently in.
func (m *ContactMap) SetCurrentRoom(login, room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[login]
	if !ok {
		return false
	}
	c.CurrentRoom = room
	return true
}

func (m *ContactMap) SetAvatar(login string, avatar []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[login]
	if !ok {
		return false
	}
	c.Avatar = avatar
	return true
}

// Snapshot returns copies of all contacts ordered by login.
func (m *ContactMap) Snapshot() []Contact {
	m.mu.RLock()
	defer m.mu.RUnlock()
	contacts := make([]Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		contacts = append(contacts, *c)
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].Login < contacts[j].Login })
	return contacts
}

// RoomMap is the room directory, keyed by room name. Membership sets are
// assigned at load time and never mutated afterwards, so sharing the
// underlying LoginSet in Get results is safe.
type RoomMap struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRoomMap() *RoomMap {
	return &RoomMap{rooms: make(map[string]*Room)}
}

func (m *RoomMap) Add(r Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.Name] = &r
}

func (m *RoomMap) Get(name string) (Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[name]
	if !ok {
		return Room{}, false
	}
	return *r, true
}

func (m *RoomMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Snapshot returns all rooms ordered by name.
func (m *RoomMap) Snapshot() []Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rooms := make([]Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, *r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms
}

// PostList is the in-memory post cache, repopulated from the store at
// startup and updated on every create and edit.
type PostList struct {
	mu    sync.RWMutex
	posts []Post
}

func NewPostList() *PostList {
	return &PostList{}
}

// Upsert replaces the post with the same id, or appends when unseen.
func (l *PostList) Upsert(p Post) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.posts {
		if l.posts[i].ID == p.ID {
			l.posts[i] = p
			return
		}
	}
	l.posts = append(l.posts, p)
}

func (l *PostList) ByID(id uuid.UUID) (Post, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.posts {
		if p.ID == id {
			return p, true
		}
	}
	return Post{}, false
}

// Since returns posts with Timestamp >= ts in non-decreasing timestamp
// order. The result is a copy and safe to use without the lock.
func (l *PostList) Since(ts int64) []Post {
	l.mu.RLock()
	var out []Post
	for _, p := range l.posts {
		if p.Timestamp >= ts {
			out = append(out, p)
		}
	}
	l.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func (l *PostList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.posts)
}
