package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type op func(ctx context.Context)

// Relay owns the registry and directory of one relay process and applies
// every mutation from a single event loop.
type Relay struct {
	cfg       Config
	logger    *slog.Logger
	registry  *Registry
	directory *Directory
	engine    *Engine
	members   *Membership

	ops      chan op
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Stats is a snapshot of relay occupancy.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

// New creates a Relay. Call Run to start processing events.
func New(cfg Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.WithDefaults()

	registry := NewRegistry()
	directory := NewDirectory()
	engine := NewEngine(registry, directory, cfg, logger)

	return &Relay{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		directory: directory,
		engine:    engine,
		members:   NewMembership(registry, directory, engine, cfg, logger),
		ops:       make(chan op, cfg.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run processes queued events one at a time until ctx is cancelled or Stop
// is called, then closes every remaining connection.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.done)
	r.logger.Info("relay started", "queue_size", r.cfg.QueueSize)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case <-r.stop:
			r.shutdown()
			return
		case fn := <-r.ops:
			fn(ctx)
		}
	}
}

// Stop ends the event loop and waits for it to exit or for ctx to expire.
func (r *Relay) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stop) })

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop relay: %w", ctx.Err())
	}
}

// Done is closed once the event loop has exited.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

func (r *Relay) shutdown() {
	handles := r.registry.drain()
	r.directory.reset()
	for id, h := range handles {
		if err := h.Close(); err != nil {
			r.logger.Debug("close handle on shutdown", "conn_id", id, "error", err)
		}
	}
	r.logger.Info("relay stopped", "closed_connections", len(handles))
}

// do queues fn on the event loop and waits for its result.
func (r *Relay) do(ctx context.Context, fn func(ctx context.Context) error) error {
	errCh := make(chan error, 1)
	task := func(loopCtx context.Context) { errCh <- fn(loopCtx) }

	select {
	case r.ops <- task:
	case <-r.done:
		return ErrRelayStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errCh:
		return err
	case <-r.done:
		select {
		case err := <-errCh:
			return err
		default:
			return ErrRelayStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers a transport connection.
func (r *Relay) Connect(ctx context.Context, connID string, handle Handle) error {
	return r.do(ctx, func(context.Context) error {
		return r.members.Connect(connID, handle)
	})
}

// Inbound parses a raw peer frame and dispatches it by type. Malformed
// frames are dropped and reported; nothing is broadcast for them.
func (r *Relay) Inbound(ctx context.Context, connID string, raw []byte) error {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return err
	}

	return r.do(ctx, func(loopCtx context.Context) error {
		switch env.Type {
		case TypeJoin:
			return r.members.Join(loopCtx, connID, env.Room, env.Sender)
		case TypeLeave:
			return r.members.Leave(loopCtx, connID, env.Room, env.Sender)
		default:
			_, _, err := r.members.Message(loopCtx, connID, env)
			return err
		}
	})
}

// Join adds connID to room on behalf of an adapter that carries room intent
// outside the frame stream.
func (r *Relay) Join(ctx context.Context, connID, room, name string) error {
	return r.do(ctx, func(loopCtx context.Context) error {
		return r.members.Join(loopCtx, connID, room, name)
	})
}

// Leave removes connID from room.
func (r *Relay) Leave(ctx context.Context, connID, room, name string) error {
	return r.do(ctx, func(loopCtx context.Context) error {
		return r.members.Leave(loopCtx, connID, room, name)
	})
}

// Disconnect closes connID. It is safe to call more than once.
func (r *Relay) Disconnect(ctx context.Context, connID string) error {
	return r.do(ctx, func(loopCtx context.Context) error {
		return r.members.Close(loopCtx, connID)
	})
}

// Broadcast stamps env and delivers it to every member of room.
func (r *Relay) Broadcast(ctx context.Context, room string, env Envelope) (Envelope, Result, error) {
	type outcome struct {
		env Envelope
		res Result
	}
	out := make(chan outcome, 1)

	err := r.do(ctx, func(loopCtx context.Context) error {
		stamped, res, err := r.members.Broadcast(loopCtx, room, env)
		out <- outcome{env: stamped, res: res}
		return err
	})
	if err != nil {
		return env, Result{Room: room}, err
	}
	o := <-out
	return o.env, o.res, nil
}

// MembersOf returns the current membership of room.
func (r *Relay) MembersOf(room string) []string {
	return r.directory.MembersOf(room)
}

// RoomsOf returns the rooms connID belongs to.
func (r *Relay) RoomsOf(connID string) []string {
	return r.directory.RoomsOf(connID)
}

// Rooms lists active rooms.
func (r *Relay) Rooms() []RoomInfo {
	return r.directory.Rooms()
}

// Stats reports current occupancy.
func (r *Relay) Stats() Stats {
	return Stats{
		Connections: r.registry.Len(),
		Rooms:       r.directory.Len(),
	}
}
