package relay

import (
	"context"
	"fmt"
	"log/slog"
)

// Membership applies join, leave and close transitions and announces them.
// It is not safe for concurrent use; Relay serialises calls through its
// event loop.
type Membership struct {
	registry  *Registry
	directory *Directory
	engine    *Engine
	cfg       Config
	logger    *slog.Logger

	pending  []string
	evicting bool
}

// NewMembership wires a Membership over shared registry, directory and engine.
func NewMembership(registry *Registry, directory *Directory, engine *Engine, cfg Config, logger *slog.Logger) *Membership {
	if logger == nil {
		logger = slog.Default()
	}
	return &Membership{
		registry:  registry,
		directory: directory,
		engine:    engine,
		cfg:       cfg.WithDefaults(),
		logger:    logger,
	}
}

// Connect registers a new connection in the Unjoined state.
func (m *Membership) Connect(connID string, handle Handle) error {
	if err := m.registry.Register(connID, handle); err != nil {
		return err
	}
	m.logger.Info("connection registered", "conn_id", connID, "connections", m.registry.Len())
	return nil
}

// Join adds connID to room and tells the existing members. Joining a room
// the connection is already in changes nothing and is not re-announced.
// The first name a connection presents sticks for its lifetime.
func (m *Membership) Join(ctx context.Context, connID, room, name string) error {
	if !m.registry.Contains(connID) {
		return fmt.Errorf("join %q: %w", connID, ErrUnknownConnection)
	}
	if room == "" {
		return fmt.Errorf("join: %w: missing room", ErrMalformedEnvelope)
	}

	if m.registry.Name(connID) == "" {
		m.registry.SetName(connID, name)
	}
	if !m.directory.Join(room, connID) {
		m.logger.Debug("already a member", "conn_id", connID, "room", room)
		return nil
	}

	display := m.displayName(connID)
	m.logger.Info("joined room", "conn_id", connID, "room", room, "name", display)

	m.announce(ctx, room, Envelope{
		Type:    TypeUserJoined,
		Sender:  display,
		Content: display,
	}, connID)
	m.evictPending(ctx)
	return nil
}

// Leave removes connID from room and tells the members that remain. Leaving
// a room the connection is not in is a silent no-op. name is only used when
// the connection never registered one.
func (m *Membership) Leave(ctx context.Context, connID, room, name string) error {
	if !m.directory.Leave(room, connID) {
		return nil
	}

	display := m.registry.Name(connID)
	if display == "" {
		display = name
	}
	if display == "" {
		display = connID
	}
	m.logger.Info("left room", "conn_id", connID, "room", room, "name", display)

	m.announce(ctx, room, Envelope{
		Type:    TypeUserLeft,
		Sender:  display,
		Content: display,
	}, "")
	m.evictPending(ctx)
	return nil
}

// Close leaves every room connID belongs to, unregisters it and closes its
// handle. Closing an unknown or already closed connection does nothing.
func (m *Membership) Close(ctx context.Context, connID string) error {
	for _, room := range m.directory.RoomsOf(connID) {
		if err := m.Leave(ctx, connID, room, ""); err != nil {
			return err
		}
	}

	handle := m.registry.Unregister(connID)
	if handle == nil {
		return nil
	}
	if err := handle.Close(); err != nil {
		m.logger.Debug("close handle", "conn_id", connID, "error", err)
	}
	m.logger.Info("connection closed", "conn_id", connID, "connections", m.registry.Len())
	m.evictPending(ctx)
	return nil
}

// Message relays a peer message to the room it names. The sender must be a
// member; its registered display name wins over whatever the frame claims.
func (m *Membership) Message(ctx context.Context, connID string, env Envelope) (Envelope, Result, error) {
	if !m.registry.Contains(connID) {
		return env, Result{}, fmt.Errorf("message from %q: %w", connID, ErrUnknownConnection)
	}
	if !m.directory.IsMember(env.Room, connID) {
		return env, Result{}, fmt.Errorf("message from %q to %q: %w", connID, env.Room, ErrNotMember)
	}

	if m.registry.Name(connID) == "" {
		m.registry.SetName(connID, env.Sender)
	}
	out := Envelope{
		Type:    TypeMessage,
		Sender:  m.displayName(connID),
		Content: env.Content,
	}

	exclude := connID
	if m.cfg.EchoToSender {
		exclude = ""
	}
	stamped, res, err := m.engine.broadcast(ctx, env.Room, out, exclude)
	m.queueEvictions(res)
	m.evictPending(ctx)
	return stamped, res, err
}

// Broadcast sends a relay-originated envelope to every member of room.
func (m *Membership) Broadcast(ctx context.Context, room string, env Envelope) (Envelope, Result, error) {
	stamped, res, err := m.engine.broadcast(ctx, room, env, "")
	m.queueEvictions(res)
	m.evictPending(ctx)
	return stamped, res, err
}

func (m *Membership) announce(ctx context.Context, room string, env Envelope, exclude string) {
	if len(m.directory.MembersOf(room)) == 0 {
		return
	}
	_, res, err := m.engine.broadcast(ctx, room, env, exclude)
	if err != nil {
		m.logger.Error("announce failed", "room", room, "type", env.Type, "error", err)
		return
	}
	m.queueEvictions(res)
}

func (m *Membership) displayName(connID string) string {
	if name := m.registry.Name(connID); name != "" {
		return name
	}
	return connID
}

func (m *Membership) queueEvictions(res Result) {
	m.pending = append(m.pending, res.evict...)
}

// evictPending closes connections that crossed the failure threshold. Closing
// one may announce to rooms and queue more, so it drains until empty.
func (m *Membership) evictPending(ctx context.Context) {
	if m.evicting {
		return
	}
	m.evicting = true
	defer func() { m.evicting = false }()

	for len(m.pending) > 0 {
		connID := m.pending[0]
		m.pending = m.pending[1:]
		if !m.registry.Contains(connID) {
			continue
		}
		m.logger.Warn("evicting unreachable connection",
			"conn_id", connID,
			"threshold", m.cfg.EvictAfterFailures,
		)
		_ = m.Close(ctx, connID)
	}
}
