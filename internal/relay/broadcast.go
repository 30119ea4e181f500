package relay

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Result summarises one broadcast. It is informational; the relay never
// retries.
type Result struct {
	Room       string
	EnvelopeID string
	Attempted  int
	Delivered  int
	Failures   []*DeliveryError

	// connections that crossed the eviction threshold during this fan-out
	evict []string
}

// Failed returns the number of recipients that could not be reached.
func (r Result) Failed() int {
	return len(r.Failures)
}

// Engine stamps envelopes and fans them out to the members of a room.
type Engine struct {
	registry  *Registry
	directory *Directory
	cfg       Config
	logger    *slog.Logger

	now   func() time.Time
	newID func() string

	mu        sync.Mutex
	lastStamp time.Time
}

// NewEngine builds an Engine over the given registry and directory.
func NewEngine(registry *Registry, directory *Directory, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:  registry,
		directory: directory,
		cfg:       cfg.WithDefaults(),
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Broadcast delivers env to every current member of room.
func (e *Engine) Broadcast(ctx context.Context, room string, env Envelope) (Envelope, Result, error) {
	return e.broadcast(ctx, room, env, "")
}

// stamp assigns an id and a timestamp that never goes backwards relative to
// previously stamped envelopes.
func (e *Engine) stamp(env *Envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if env.ID == "" {
		env.ID = e.newID()
	}
	if env.Timestamp.IsZero() {
		ts := e.now().UTC()
		if ts.Before(e.lastStamp) {
			ts = e.lastStamp
		}
		env.Timestamp = ts
	}
	if env.Timestamp.After(e.lastStamp) {
		e.lastStamp = env.Timestamp
	}
}

func (e *Engine) broadcast(ctx context.Context, room string, env Envelope, exclude string) (Envelope, Result, error) {
	env.Room = room
	e.stamp(&env)

	res := Result{Room: room, EnvelopeID: env.ID}

	data, err := env.Marshal()
	if err != nil {
		return env, res, err
	}

	// Membership is fixed here; joins and leaves after this point do not
	// change who receives this envelope.
	members := e.directory.MembersOf(room)
	targets := make([]string, 0, len(members))
	for _, id := range members {
		if id != exclude {
			targets = append(targets, id)
		}
	}
	res.Attempted = len(targets)
	if len(targets) == 0 {
		return env, res, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.cfg.FanoutConcurrency)

	for _, id := range targets {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
			defer cancel()

			sendErr := e.registry.Send(sendCtx, id, data)
			failures := e.registry.recordDelivery(id, sendErr == nil)

			mu.Lock()
			defer mu.Unlock()
			if sendErr == nil {
				res.Delivered++
				return nil
			}
			var derr *DeliveryError
			if !errors.As(sendErr, &derr) {
				derr = &DeliveryError{ConnectionID: id, Err: sendErr}
			}
			res.Failures = append(res.Failures, derr)
			if e.cfg.EvictAfterFailures > 0 && failures >= e.cfg.EvictAfterFailures {
				res.evict = append(res.evict, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Failures, func(i, j int) bool {
		return res.Failures[i].ConnectionID < res.Failures[j].ConnectionID
	})
	sort.Strings(res.evict)

	for _, f := range res.Failures {
		e.logger.Warn("delivery failed",
			"room", room,
			"conn_id", f.ConnectionID,
			"envelope_id", env.ID,
			"error", f.Err,
		)
	}
	e.logger.Debug("broadcast complete",
		"room", room,
		"type", env.Type,
		"envelope_id", env.ID,
		"attempted", res.Attempted,
		"delivered", res.Delivered,
		"failed", res.Failed(),
	)

	return env, res, nil
}
