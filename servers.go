package bmemcache

import (
	"errors"
	"strings"
)

var ErrNoServers = errors.New("bmemcache: no servers configured")

// Servers provides the list of server addresses.
// The list is read on every request and must not be mutated by the caller.
type Servers interface {
	List() []string
}

// StaticServers is a fixed list of servers.
type StaticServers struct {
	addrs []string
}

// NewStaticServers creates a Servers from addresses.
// An address is either host:port or the path of a unix socket.
func NewStaticServers(addrs ...string) *StaticServers {
	return &StaticServers{addrs: append([]string(nil), addrs...)}
}

func (s *StaticServers) List() []string {
	return s.addrs
}

// serverNetwork returns the network to dial for addr:
// addresses containing a slash are unix socket paths.
func serverNetwork(addr string) string {
	if strings.Contains(addr, "/") {
		return "unix"
	}
	return "tcp"
}
