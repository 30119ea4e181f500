// Package server serves room traffic as Server-Sent Events and accepts
// messages published over plain HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

const sseKeepAlive = 25 * time.Second

// sseStream is a server-sent events connection. Like Client it is a
// relay.Handle backed by an outbox; the HTTP handler drains it.
type sseStream struct {
	id  string
	out *outbox
}

func newSSEStream() *sseStream {
	return &sseStream{
		id:  uuid.NewString(),
		out: newOutbox(sendQueueSize),
	}
}

func (s *sseStream) Send(ctx context.Context, data []byte) error {
	return s.out.push(ctx, data)
}

func (s *sseStream) Close() error {
	s.out.close()
	return nil
}

// EventsHandler streams every envelope of one room to the caller as
// server-sent events. Query parameters room and username are required.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. Event stream only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if !s.origins.allowsCrossOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	room := strings.TrimSpace(r.URL.Query().Get("room"))
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if room == "" || username == "" {
		http.Error(w, "Room and username are required", http.StatusBadRequest)
		return
	}

	rc := http.NewResponseController(w)
	// the stream outlives the server write timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("clear write deadline for event stream", "error", err)
	}

	stream := newSSEStream()
	logger := s.logger.With("conn_id", stream.id, "transport", "sse", "remote_addr", r.RemoteAddr)
	rl := s.hub.Relay()

	if err := rl.Connect(r.Context(), stream.id, stream); err != nil {
		logger.Warn("register event stream", "error", err)
		http.Error(w, "Relay unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.hub.disconnect(stream.id)

	if err := rl.Join(r.Context(), stream.id, room, username); err != nil {
		logger.Warn("join event stream", "room", room, "error", err)
		http.Error(w, "Relay unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Warn("flush event stream headers", "error", err)
		return
	}
	logger.Info("event stream opened", "room", room, "name", username)

	s.pumpEvents(r.Context(), w, rc, stream, logger)
}

func (s *Server) pumpEvents(ctx context.Context, w http.ResponseWriter, rc *http.ResponseController, stream *sseStream, logger *slog.Logger) {
	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			logger.Info("event stream closed by client")
			return
		case msg, ok := <-stream.out.ch:
			if !ok {
				logger.Info("event stream closed by relay")
				return
			}
			_, err = fmt.Fprintf(w, "data: %s\n\n", msg)
		case <-ticker.C:
			_, err = fmt.Fprint(w, ": keepalive\n\n")
		}

		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			logger.Warn("write event stream", "error", err)
			return
		}
	}
}

type publishRequest struct {
	Room     string `json:"room"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Username string `json:"username"`
}

type publishResponse struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Timestamp time.Time `json:"timestamp"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
}

// PublishHandler broadcasts a relay-stamped envelope to a room on behalf of
// a caller that holds no stream of its own.
func (s *Server) PublishHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed. Publish endpoint only accepts POST requests.", http.StatusMethodNotAllowed)
		return
	}
	if !s.origins.allowsCrossOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	var req publishRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxMessageSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Message too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid message format", http.StatusBadRequest)
		return
	}

	env, err := req.envelope()
	if err != nil {
		http.Error(w, "Invalid message format: "+err.Error(), http.StatusBadRequest)
		return
	}

	stamped, res, err := s.hub.Relay().Broadcast(r.Context(), env.Room, env)
	if err != nil {
		s.logger.Warn("publish", "room", env.Room, "error", err)
		http.Error(w, "Relay unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, publishResponse{
		ID:        stamped.ID,
		Room:      stamped.Room,
		Timestamp: stamped.Timestamp,
		Delivered: res.Delivered,
		Failed:    res.Failed(),
	}, s.logger)
}

func (p publishRequest) envelope() (relay.Envelope, error) {
	room := strings.TrimSpace(p.Room)
	if room == "" {
		return relay.Envelope{}, errors.New("room is required")
	}
	if p.Content == "" {
		return relay.Envelope{}, errors.New("content is required")
	}

	typ := relay.TypeMessage
	if p.Type != "" {
		typ = relay.NormalizeType(p.Type)
	}
	switch typ {
	case relay.TypeMessage, relay.TypeSystem:
	default:
		return relay.Envelope{}, fmt.Errorf("unsupported type %q", p.Type)
	}

	env := relay.Envelope{
		Type:    typ,
		Room:    room,
		Content: p.Content,
	}
	// system notices have no sender
	if typ == relay.TypeMessage {
		env.Sender = strings.TrimSpace(p.Username)
	}
	return env, nil
}
