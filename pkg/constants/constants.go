// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// RequestTimeout bounds an HTTP request's context
	RequestTimeout = 10 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 54 * time.Second

	// WebSocketPongWait is how long a gateway connection may stay silent
	WebSocketPongWait = 60 * time.Second

	// WebSocketWriteWait bounds a single frame write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 15 * time.Second
)

// Database connection constants
const (
	MaxConnLifetime   = 1 * time.Hour
	MaxConnIdleTime   = 30 * time.Minute
	HealthCheckPeriod = 1 * time.Minute
)

// Pagination constants
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Call policy
const (
	// StaleRingingThreshold is how long a call may ring before the sweeper ends it
	StaleRingingThreshold = 2 * time.Minute

	// CallSweepInterval is how often the sweeper looks for stale ringing calls
	CallSweepInterval = 30 * time.Second

	// CallSweepBatchSize caps how many stale calls one sweep run ends
	CallSweepBatchSize = 500

	// CallEndReasonTimeout is reported when the sweeper ends an unanswered call
	CallEndReasonTimeout = "timeout"

	// CallEndReasonCancelled is reported when a party ends a call that was never answered
	CallEndReasonCancelled = "cancelled"

	// CallEndReasonHangup is reported when a party ends an answered call
	CallEndReasonHangup = "hangup"
)

// Status (story) policy
const (
	// StatusTTL is the fixed visibility window of a status post
	StatusTTL = 24 * time.Hour

	// StatusPurgeInterval is how often expired posts are purged
	StatusPurgeInterval = 5 * time.Minute

	// StatusPurgeBatchSize caps the number of expired posts loaded per purge query
	StatusPurgeBatchSize = 500

	// StatusFeedPublicLimit caps the public posts of other authors loaded into one feed
	StatusFeedPublicLimit = 500

	// MaxStatusTextLength is the maximum length of a text status
	MaxStatusTextLength = 700
)

// Event publishing
const (
	// PublishTimeout bounds a single publish to the transport
	PublishTimeout = 2 * time.Second

	// EventQueueSize is the capacity of the outbound event queue
	EventQueueSize = 1024
)

// Message constants
const (
	// MaxMessageLength is the maximum allowed message length
	MaxMessageLength = 10000

	// ContentSummaryLength is how much of a text message is echoed in message-sent events
	ContentSummaryLength = 100
)
