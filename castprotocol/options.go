package castprotocol

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultPort                = 8009
	defaultDialTimeout         = 10 * time.Second
	defaultRequestTimeout      = 10 * time.Second
	defaultWriteTimeout        = 5 * time.Second
	defaultHeartbeatInterval   = 5 * time.Second
	defaultMaxMissedHeartbeats = 3
	defaultSendRate            = rate.Limit(50)
	defaultSendBurst           = 32
	defaultCustomBuffer        = 32
)

// options holds the configuration for a session.
type options struct {
	logger              zerolog.Logger
	senderID            string
	userAgent           string
	dialTimeout         time.Duration
	requestTimeout      time.Duration
	writeTimeout        time.Duration
	heartbeatInterval   time.Duration
	maxMissedHeartbeats int
	maxFrameSize        int
	sendRate            rate.Limit
	sendBurst           int
}

// Option is a function that configures session options.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:              zerolog.Nop(),
		senderID:            "sender-" + uuid.NewString(),
		dialTimeout:         defaultDialTimeout,
		requestTimeout:      defaultRequestTimeout,
		writeTimeout:        defaultWriteTimeout,
		heartbeatInterval:   defaultHeartbeatInterval,
		maxMissedHeartbeats: defaultMaxMissedHeartbeats,
		maxFrameSize:        DefaultMaxFrameSize,
		sendRate:            defaultSendRate,
		sendBurst:           defaultSendBurst,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.senderID == "" {
		o.senderID = DefaultSenderID
	}
	if o.dialTimeout <= 0 {
		o.dialTimeout = defaultDialTimeout
	}
	if o.requestTimeout <= 0 {
		o.requestTimeout = defaultRequestTimeout
	}
	if o.writeTimeout <= 0 {
		o.writeTimeout = defaultWriteTimeout
	}
	if o.heartbeatInterval <= 0 {
		o.heartbeatInterval = defaultHeartbeatInterval
	}
	if o.maxMissedHeartbeats <= 0 {
		o.maxMissedHeartbeats = defaultMaxMissedHeartbeats
	}
	if o.maxFrameSize <= 0 {
		o.maxFrameSize = DefaultMaxFrameSize
	}
	if o.sendBurst <= 0 {
		o.sendBurst = defaultSendBurst
	}
	return o
}

// WithLogger sets the logger used by the session and its channels.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSenderID overrides the sender id. The default is a random
// "sender-<uuid>" so several senders on one host do not collide.
func WithSenderID(id string) Option {
	return func(o *options) { o.senderID = id }
}

// WithUserAgent sets the user agent announced on CONNECT.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithDialTimeout bounds TCP connect plus TLS handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithRequestTimeout sets the default per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithHeartbeat sets the idle interval after which a PING is sent, and how
// many silent intervals are tolerated before the session is declared dead.
func WithHeartbeat(interval time.Duration, maxMissed int) Option {
	return func(o *options) {
		o.heartbeatInterval = interval
		o.maxMissedHeartbeats = maxMissed
	}
}

// WithMaxFrameSize bounds inbound and outbound frames.
func WithMaxFrameSize(size int) Option {
	return func(o *options) { o.maxFrameSize = size }
}

// WithSendRate limits outbound messages per second. rate.Inf disables it.
func WithSendRate(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.sendRate = limit
		o.sendBurst = burst
	}
}
