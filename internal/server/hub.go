// Package server ties the relay event loop to the lifetime of the WebSocket
// pumps via the Hub type.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Hub owns the relay event loop and the pump goroutines of every WebSocket
// client attached to it.
type Hub struct {
	relay  *relay.Relay
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders wg.Add in register against wg.Wait in Shutdown.
	mu           sync.Mutex
	shuttingDown bool
	wg           sync.WaitGroup
}

// NewHub creates a Hub around a new relay. Call Start before serving.
func NewHub(cfg relay.Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		relay:  relay.New(cfg, logger.With("component", "relay")),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Relay exposes the underlying relay.
func (h *Hub) Relay() *relay.Relay {
	return h.relay
}

// Start runs the relay event loop in its own goroutine.
func (h *Hub) Start() {
	go h.relay.Run(h.ctx)
	h.logger.Info("hub started")
}

// register connects c to the relay, joins room when one is given, and starts
// its pumps.
func (h *Hub) register(c *Client, room, name string) error {
	h.mu.Lock()
	if h.shuttingDown {
		h.mu.Unlock()
		return fmt.Errorf("register %s: %w", c.id, errHubClosed)
	}
	h.wg.Add(2)
	h.mu.Unlock()

	if err := h.relay.Connect(h.ctx, c.id, c); err != nil {
		h.wg.Add(-2)
		return fmt.Errorf("connect %s: %w", c.id, err)
	}
	if room != "" {
		if err := h.relay.Join(h.ctx, c.id, room, name); err != nil {
			h.disconnect(c.id)
			h.wg.Add(-2)
			return fmt.Errorf("join %s to %q: %w", c.id, room, err)
		}
	}

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump(h.ctx)
	}()
	return nil
}

// disconnect runs the relay close cascade for id. It is safe to call for
// ids that are already gone.
func (h *Hub) disconnect(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	err := h.relay.Disconnect(ctx, id)
	if err != nil && !errors.Is(err, relay.ErrRelayStopped) {
		h.logger.Warn("disconnect", "conn_id", id, "error", err)
	}
}

// Shutdown stops the relay, which closes every connection, then waits for
// the client pumps to exit or for timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.mu.Lock()
	h.shuttingDown = true
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := h.relay.Stop(ctx)
	h.cancel()
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-ctx.Done():
		h.logger.Warn("hub shutdown timeout reached, some pumps may still be running")
		return ctx.Err()
	}
}
