package protocol

import (
	"strings"
	"testing"

	"chatd/models"
)

func TestEventRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		content   any
	}{
		{"auth", Auth, AuthContent{Login: "riri"}},
		{"quit", Quit, struct{}{}},
		{"join", Join, JoinContent{Room: "#ducks"}},
		{"mesg", Mesg, MesgContent{To: "fifi", Body: "salut"}},
		{"lstc", ListContacts, struct{}{}},
		{"lstp", ListPosts, ListPostsContent{Since: 1700000000000, Select: "#ducks"}},
		{"lstr", ListRooms, struct{}{}},
		{"cont", Cont, ContContent{Login: "fifi", Connected: true}},
		{"room", Room, RoomContent{Room: "#mice", LoginSet: []string{"mickey", "minnie"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewEvent(tt.eventType, tt.content)
			line := ev.Encode()
			if !strings.HasSuffix(line, "\n") {
				t.Fatalf("Encode did not terminate the line")
			}

			parsed, err := ParseEvent(line)
			if err != nil {
				t.Fatalf("ParseEvent failed: %v", err)
			}
			if parsed.Type != tt.eventType {
				t.Errorf("Expected type %s, got %s", tt.eventType, parsed.Type)
			}
		})
	}
}

func TestParseEventErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", "hello there"},
		{"missing type", `{"content":{}}`},
		{"missing content", `{"type":"AUTH"}`},
		{"empty", ""},
		{"json array", `["AUTH"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEvent(tt.line); err == nil {
				t.Errorf("Expected error for %q", tt.line)
			}
		})
	}
}

func TestPostContentRoundTrip(t *testing.T) {
	post := models.NewPost("riri", "#ducks", "coin coin")

	ev := NewEvent(Post, NewPostContent(post))
	parsed, err := ParseEvent(ev.Encode())
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}

	var content PostContent
	if err := parsed.Decode(&content); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got, err := content.Post()
	if err != nil {
		t.Fatalf("Post conversion failed: %v", err)
	}

	if !got.Equal(post) {
		t.Errorf("Round trip changed the post identity: %s vs %s", got.ID, post.ID)
	}
	if got.Timestamp != post.Timestamp || got.From != post.From || got.To != post.To || got.Body != post.Body {
		t.Errorf("Round trip changed post fields: %+v", got)
	}
}

func TestPostContentInvalidID(t *testing.T) {
	content := PostContent{ID: "not-a-uuid", From: "riri", To: "fifi", Body: "x"}
	if _, err := content.Post(); err == nil {
		t.Error("Expected error for malformed id")
	}
}

func TestContContentAvatar(t *testing.T) {
	avatar := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	contact := models.Contact{Login: "donald", Connected: true, Avatar: avatar}

	content := NewContContent(contact)
	if content.Avatar == "" {
		t.Fatal("Avatar was not encoded")
	}

	decoded, err := content.AvatarBytes()
	if err != nil {
		t.Fatalf("AvatarBytes failed: %v", err)
	}
	if string(decoded) != string(avatar) {
		t.Errorf("Avatar did not round-trip")
	}

	// Absent avatar stays absent and is omitted on the wire.
	bare := NewContContent(models.Contact{Login: "dingo"})
	if bare.Avatar != "" {
		t.Errorf("Empty avatar was encoded as %q", bare.Avatar)
	}
	line := NewEvent(Cont, bare).Encode()
	if strings.Contains(line, "avatar") {
		t.Errorf("Omitted avatar still serialized: %s", line)
	}
}

func TestRoomContentPublicRoom(t *testing.T) {
	content := NewRoomContent(models.NewRoom("#lobby"))
	if content.LoginSet != nil {
		t.Errorf("Public room should omit loginSet")
	}

	restricted := NewRoomContent(models.NewRoom("#mice", "minnie", "mickey"))
	if len(restricted.LoginSet) != 2 || restricted.LoginSet[0] != "mickey" {
		t.Errorf("Expected sorted loginSet, got %v", restricted.LoginSet)
	}
}

func TestIsRoom(t *testing.T) {
	if !IsRoom("#ducks") {
		t.Error("#ducks should be a room")
	}
	if IsRoom("riri") {
		t.Error("riri should not be a room")
	}
}
