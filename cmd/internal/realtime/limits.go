package realtime

import "time"

const (
	// Max bytes per websocket frame read. Subscription messages are tiny.
	maxFrameBytes = 4 << 10 // 4 KiB

	// Longest accepted subscription target after canonicalization.
	maxTargetLen = 128
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound limit (frames per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
