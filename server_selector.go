package bmemcache

import (
	"hash/crc32"
	"slices"
	"sync/atomic"

	"github.com/buraksezer/consistent"
	"github.com/zeebo/xxh3"

	"github.com/pior/bmemcache/internal"
)

// ServerSelector picks which server handles a key.
// It receives the key and the current server list, and returns an index into that list.
// It must be deterministic: the same key and list always give the same index.
type ServerSelector func(key string, servers []string) int

// DefaultServerSelector uses Jump Hash over xxh3.
// Jump Hash provides better distribution and fewer key movements when servers are added/removed.
func DefaultServerSelector(key string, servers []string) int {
	return internal.JumpHash(xxh3.HashString(key), len(servers))
}

// ModuloServerSelector picks crc32(key) mod len(servers), the scheme used by most
// text protocol clients. Use it to share a cluster with them.
func ModuloServerSelector(key string, servers []string) int {
	if len(servers) == 0 {
		return 0
	}
	return int(crc32.ChecksumIEEE([]byte(key)) % uint32(len(servers)))
}

// NewConsistentServerSelector returns a selector backed by a bounded-load consistent
// hash ring. The ring is built on first use and rebuilt when the server list changes.
func NewConsistentServerSelector() ServerSelector {
	s := &consistentSelector{}
	return s.selectServer
}

type consistentSelector struct {
	ring atomic.Pointer[serverRing]
}

type serverRing struct {
	servers []string
	index   map[string]int
	ring    *consistent.Consistent
}

type ringMember string

func (m ringMember) String() string {
	return string(m)
}

type xxh3Hasher struct{}

func (xxh3Hasher) Sum64(data []byte) uint64 {
	return xxh3.Hash(data)
}

func (s *consistentSelector) selectServer(key string, servers []string) int {
	if len(servers) <= 1 {
		return 0
	}

	r := s.ring.Load()
	if r == nil || !slices.Equal(r.servers, servers) {
		r = newServerRing(servers)
		s.ring.Store(r)
	}

	member := r.ring.LocateKey([]byte(key))
	return r.index[member.String()]
}

func newServerRing(servers []string) *serverRing {
	cfg := consistent.Config{
		PartitionCount:    271,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            xxh3Hasher{},
	}

	members := make([]consistent.Member, len(servers))
	index := make(map[string]int, len(servers))
	for i, addr := range servers {
		members[i] = ringMember(addr)
		index[addr] = i
	}

	return &serverRing{
		servers: slices.Clone(servers),
		index:   index,
		ring:    consistent.New(members, cfg),
	}
}
