package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type identifies the kind of an Envelope.
type Type string

// Envelope types. Join, Leave and Message arrive from peers; System,
// UserJoined and UserLeft are produced by the relay.
const (
	TypeJoin       Type = "join"
	TypeLeave      Type = "leave"
	TypeMessage    Type = "message"
	TypeSystem     Type = "system"
	TypeUserJoined Type = "user-joined"
	TypeUserLeft   Type = "user-left"
)

// legacy names used by older clients
var typeAliases = map[string]Type{
	"join-room":    TypeJoin,
	"leave-room":   TypeLeave,
	"send-message": TypeMessage,
	"new-message":  TypeMessage,
}

// NormalizeType trims s and maps legacy type names to their current form.
func NormalizeType(s string) Type {
	s = strings.TrimSpace(s)
	if alias, ok := typeAliases[s]; ok {
		return alias
	}
	return Type(s)
}

// Envelope is the unit exchanged between the relay and its peers.
type Envelope struct {
	Type      Type      `json:"type"`
	Room      string    `json:"room"`
	Sender    string    `json:"sender,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
}

// Stamped reports whether the envelope already carries an id and timestamp.
func (e Envelope) Stamped() bool {
	return e.ID != "" && !e.Timestamp.IsZero()
}

// inboundFrame is the permissive shape accepted from peers.
type inboundFrame struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	RoomID   string `json:"roomId"`
	Sender   string `json:"sender"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

// ParseEnvelope decodes a peer frame. Client supplied ids and timestamps are
// discarded; the relay assigns its own at broadcast time.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	typ := NormalizeType(f.Type)
	switch typ {
	case TypeJoin, TypeLeave, TypeMessage:
	case "":
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	default:
		return Envelope{}, fmt.Errorf("%w: unsupported type %q", ErrMalformedEnvelope, f.Type)
	}

	room := strings.TrimSpace(f.Room)
	if room == "" {
		room = strings.TrimSpace(f.RoomID)
	}
	if room == "" {
		return Envelope{}, fmt.Errorf("%w: missing room", ErrMalformedEnvelope)
	}

	sender := strings.TrimSpace(f.Sender)
	if sender == "" {
		sender = strings.TrimSpace(f.Username)
	}

	return Envelope{
		Type:    typ,
		Room:    room,
		Sender:  sender,
		Content: f.Content,
	}, nil
}

// Marshal encodes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}
