// Package playback drives a single playback session: provider selection,
// resolution, attaching the stream to an HLS engine and recovering from
// engine failures.
package playback

import "errors"

// State is a Controller lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StatePlaying   State = "playing"
	StateError     State = "error"
	StateEnded     State = "ended"
)

// Transport selects how the engine reaches provider media hosts.
type Transport string

const (
	// TransportHeaders fetches media directly through the header-injection
	// worker.
	TransportHeaders Transport = "headers"
	// TransportProxy routes every manifest and segment through /proxy.
	TransportProxy Transport = "proxy"
)

// ErrInvalidState is returned when an action is not allowed in the
// controller's current state.
var ErrInvalidState = errors.New("action not allowed in current state")
