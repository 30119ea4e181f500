package relay

import "time"

// Config tunes fan-out and eviction behaviour.
type Config struct {
	// SendTimeout bounds a single per-recipient send.
	SendTimeout time.Duration `yaml:"send_timeout"`
	// FanoutConcurrency caps concurrent sends within one broadcast.
	FanoutConcurrency int `yaml:"fanout_concurrency"`
	// EchoToSender delivers a message back to the connection that sent it.
	EchoToSender bool `yaml:"echo_to_sender"`
	// EvictAfterFailures closes a connection after this many consecutive
	// delivery failures. Zero keeps failing connections in their rooms.
	EvictAfterFailures int `yaml:"evict_after_failures"`
	// QueueSize is the depth of the inbound event queue.
	QueueSize int `yaml:"queue_size"`
}

const (
	defaultSendTimeout       = 2 * time.Second
	defaultFanoutConcurrency = 16
	defaultQueueSize         = 256
)

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		SendTimeout:       defaultSendTimeout,
		FanoutConcurrency: defaultFanoutConcurrency,
		QueueSize:         defaultQueueSize,
	}
}

// WithDefaults fills zero or negative fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.FanoutConcurrency <= 0 {
		c.FanoutConcurrency = defaultFanoutConcurrency
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.EvictAfterFailures < 0 {
		c.EvictAfterFailures = 0
	}
	return c
}
