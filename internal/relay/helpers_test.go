package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBrokenPipe = errors.New("broken pipe")

// fakeHandle records every frame pushed to it.
type fakeHandle struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	block   bool
	closed  int
	onSend  func()
}

func (f *fakeHandle) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	hook := f.onSend
	block := f.block
	sendErr := f.sendErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if sendErr != nil {
		return sendErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeHandle) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeHandle) envelopes(t *testing.T) []Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

func (f *fakeHandle) ofType(t *testing.T, typ Type) []Envelope {
	t.Helper()
	var out []Envelope
	for _, env := range f.envelopes(t) {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	registry  *Registry
	directory *Directory
	engine    *Engine
	members   *Membership
	handles   map[string]*fakeHandle
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	registry := NewRegistry()
	directory := NewDirectory()
	engine := NewEngine(registry, directory, cfg, discardLogger())
	return &fixture{
		registry:  registry,
		directory: directory,
		engine:    engine,
		members:   NewMembership(registry, directory, engine, cfg, discardLogger()),
		handles:   make(map[string]*fakeHandle),
	}
}

func (fx *fixture) connect(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		h := &fakeHandle{}
		require.NoError(t, fx.members.Connect(id, h))
		fx.handles[id] = h
	}
}

func (fx *fixture) join(t *testing.T, id, room, name string) {
	t.Helper()
	require.NoError(t, fx.members.Join(context.Background(), id, room, name))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SendTimeout = 200 * time.Millisecond
	return cfg
}
