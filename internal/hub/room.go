// ABOUTME: Typed room addresses for the multiplexer.
// ABOUTME: Constructors keep address shapes from colliding or typoing.

package hub

import (
	"fmt"
	"strings"
)

// Room is a named multicast address. Use the constructors below; raw string
// assembly is how addressing bugs happen.
type Room string

// NodeRoom addresses the connections representing one node (normally one).
func NodeRoom(nodeID string) Room {
	return Room("node:" + nodeID)
}

// ServerRoom addresses the subscribers watching one managed server.
func ServerRoom(serverID string) Room {
	return Room("server:" + serverID)
}

// NodeStatsRoom addresses subscribers of one node's aggregate telemetry.
func NodeStatsRoom(nodeID string) Room {
	return Room("node:" + nodeID + ":stats")
}

// Clients addresses every connected client session. System-wide broadcasts
// (file-operation replies, generic errors) go here.
func Clients() Room {
	return Room("clients")
}

// ParseSubscribable validates a room name a client asked to join. Only server
// rooms and node stats rooms are subscribable; node rooms and the clients
// room are managed by the gateway itself.
func ParseSubscribable(name string) (Room, error) {
	parts := strings.Split(name, ":")
	switch {
	case len(parts) == 2 && parts[0] == "server" && parts[1] != "":
		return ServerRoom(parts[1]), nil
	case len(parts) == 3 && parts[0] == "node" && parts[1] != "" && parts[2] == "stats":
		return NodeStatsRoom(parts[1]), nil
	}
	return "", fmt.Errorf("not a subscribable room: %q", name)
}
