// Package runstatus names the lifecycle states of the realtime connection.
package runstatus

import "strings"

type State string

const (
	Disconnected State = "Disconnected"
	Connecting   State = "Connecting"
	Connected    State = "Connected"
	Reconnecting State = "Reconnecting"
	// Exhausted is terminal until the host calls Connect again.
	Exhausted State = "Disconnected (reconnect budget exhausted)"
)

func (s State) String() string { return string(s) }

// Key is the lower-case form used in log fields and status files.
func (s State) Key() string {
	return strings.ToLower(strings.TrimSpace(string(s)))
}

// Live reports whether the state has a socket open or being opened.
func (s State) Live() bool {
	return s == Connecting || s == Connected
}
