package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"chatd/models"
)

// Event type tags. Client to server unless noted.
const (
	Auth         = "AUTH" // authenticate a login
	Quit         = "QUIT" // end the session
	Join         = "JOIN" // enter a room
	Mesg         = "MESG" // send a message to a contact or room
	ListContacts = "LSTC" // request the contact directory
	ListPosts    = "LSTP" // replay posts since a timestamp
	ListRooms    = "LSTR" // request the visible rooms
	Post         = "POST" // server to client delivery; client to server edit
	Cont         = "CONT" // contact info, both directions
	Room         = "ROOM" // server to client room info
)

// EndMessage is the legacy text sentinel accepted in place of a QUIT event.
const EndMessage = "fin"

// RoomMarker is the reserved character distinguishing room names from
// logins; a bare login never contains it.
const RoomMarker = "#"

var ErrInvalidEvent = errors.New("invalid event format")

// Event is the wire envelope: one JSON object per line, a fixed type tag
// and a type-specific content object.
type Event struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// NewEvent wraps a content payload in an envelope. Payloads are local
// structs, so marshalling cannot fail.
func NewEvent(eventType string, content any) *Event {
	raw, _ := json.Marshal(content)
	return &Event{Type: eventType, Content: raw}
}

// ParseEvent decodes one wire line into an envelope.
func ParseEvent(line string) (*Event, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return nil, ErrInvalidEvent
	}
	if ev.Type == "" || len(ev.Content) == 0 {
		return nil, ErrInvalidEvent
	}
	return &ev, nil
}

// Encode serializes the envelope as a newline-terminated line.
func (e *Event) Encode() string {
	raw, _ := json.Marshal(e)
	return string(raw) + "\n"
}

// Decode unmarshals the content into a typed payload.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Content, v); err != nil {
		return ErrInvalidEvent
	}
	return nil
}

func (e *Event) String() string {
	return "Event{type=" + e.Type + ", content=" + string(e.Content) + "}"
}

// IsRoom reports whether a destination names a room rather than a login.
func IsRoom(dest string) bool {
	return strings.Contains(dest, RoomMarker)
}

type AuthContent struct {
	Login string `json:"login"`
}

type JoinContent struct {
	Room string `json:"room"`
}

type MesgContent struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (c MesgContent) Message() models.Message {
	return models.Message{To: c.To, Body: c.Body}
}

type ListPostsContent struct {
	Since  int64  `json:"since"`
	Select string `json:"select"`
}

// PostContent is the wire form of a models.Post; the id travels as its
// canonical UUID string, the timestamp as epoch milliseconds.
type PostContent struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
}

func NewPostContent(p models.Post) PostContent {
	return PostContent{
		ID:        p.ID.String(),
		Timestamp: p.Timestamp,
		From:      p.From,
		To:        p.To,
		Body:      p.Body,
	}
}

// Post converts back to the model; fails on a malformed id.
func (c PostContent) Post() (models.Post, error) {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return models.Post{}, ErrInvalidEvent
	}
	return models.Post{
		Message:   models.Message{To: c.To, Body: c.Body},
		ID:        id,
		Timestamp: c.Timestamp,
		From:      c.From,
	}, nil
}

// ContContent carries contact info; the avatar is base64 PNG and optional.
type ContContent struct {
	Login     string `json:"login"`
	Connected bool   `json:"connected"`
	Avatar    string `json:"avatar,omitempty"`
}

func NewContContent(c models.Contact) ContContent {
	cc := ContContent{Login: c.Login, Connected: c.Connected}
	if len(c.Avatar) > 0 {
		cc.Avatar = base64.StdEncoding.EncodeToString(c.Avatar)
	}
	return cc
}

// AvatarBytes decodes the base64 avatar, nil when absent.
func (c ContContent) AvatarBytes() ([]byte, error) {
	if c.Avatar == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(c.Avatar)
}

// RoomContent carries room info; loginSet is omitted for public rooms.
type RoomContent struct {
	Room     string   `json:"room"`
	LoginSet []string `json:"loginSet,omitempty"`
}

func NewRoomContent(r models.Room) RoomContent {
	logins := r.Logins()
	sort.Strings(logins)
	return RoomContent{Room: r.Name, LoginSet: logins}
}
