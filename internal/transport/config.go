package transport

import "time"

// Config tunes a websocket connection.
type Config struct {
	// WriteTimeout bounds every frame write, including pings.
	WriteTimeout time.Duration
	// PingInterval is how often a ping is sent to the remote end.
	PingInterval time.Duration
	// PongTimeout is how long the connection may stay silent before reads fail.
	PongTimeout time.Duration
	// QueueSize is the number of outbound frames buffered per connection.
	QueueSize int
	// MaxMessageBytes limits the size of an inbound frame.
	MaxMessageBytes int64
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		PingInterval:    20 * time.Second,
		PongTimeout:     30 * time.Second,
		QueueSize:       64,
		MaxMessageBytes: 1 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	return c
}
