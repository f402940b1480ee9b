package client

import "time"

// ReconnectSchedule is the built-in retry delay sequence for the
// Reconnecting path. After the last delay fails the attempt is abandoned
// and the session drops to Disconnected; there is no unbounded retry loop.
var ReconnectSchedule = []time.Duration{
	0,
	1000 * time.Millisecond,
	5000 * time.Millisecond,
	10000 * time.Millisecond,
	30000 * time.Millisecond,
}
