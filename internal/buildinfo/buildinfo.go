// Package buildinfo tracks the simulator's own protocol version and checks
// compatibility against a peer's advertised version.
package buildinfo

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// Version is the protocol version this build speaks. It changes only when
// the wire format (frame, command, order) changes incompatibly.
const Version = "1.0.0"

// ProtocolVersionHeader is the HTTP header a websocket peer advertises its
// Version under when dialling a fabric broker, and the header the broker
// checks during the upgrade handshake before accepting the connection.
const ProtocolVersionHeader = "X-Microbit-Protocol-Version"

// CompatibleWith reports whether a peer advertising peerVersion can safely
// gossip and exchange commands with this build: same major version.
func CompatibleWith(peerVersion string) (bool, error) {
	ours, err := version.NewVersion(Version)
	if err != nil {
		return false, fmt.Errorf("buildinfo: parse local version %q: %w", Version, err)
	}
	theirs, err := version.NewVersion(peerVersion)
	if err != nil {
		return false, fmt.Errorf("buildinfo: parse peer version %q: %w", peerVersion, err)
	}
	return ours.Segments()[0] == theirs.Segments()[0], nil
}
