// Package testserver is an in-process memcached speaking the binary protocol,
// for tests that need a real socket without a memcached binary.
package testserver

import (
	"bufio"
	"encoding/binary"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/pior/bmemcache/binprot"
)

const (
	Version = "1.6.38-testserver"

	// DefaultMaxValueSize matches the memcached default item size limit.
	DefaultMaxValueSize = 1 << 20

	relativeExpirationLimit = 60 * 60 * 24 * 30
	noAutoCreate            = 0xffffffff
)

type Config struct {
	// Network is "tcp" (default) or "unix".
	Network string

	// MaxValueSize is the largest value stored, larger ones get StatusValueTooLarge.
	MaxValueSize int

	Logger zerolog.Logger
}

type item struct {
	flags   uint32
	value   []byte
	cas     uint64
	expires time.Time
}

func (i item) expired(now time.Time) bool {
	return !i.expires.IsZero() && !now.Before(i.expires)
}

type Server struct {
	listener     net.Listener
	maxValueSize int
	logger       zerolog.Logger

	items   *xsync.MapOf[string, item]
	lastCAS atomic.Uint64

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	closed   bool
	accepted atomic.Int64
	wg       sync.WaitGroup
}

// Start starts a TCP server on a random local port. It is stopped by t.Cleanup.
func Start(t testing.TB) *Server {
	return New(t, Config{})
}

// StartUnix starts a server on a unix socket in a temporary directory.
func StartUnix(t testing.TB) *Server {
	return New(t, Config{Network: "unix"})
}

func New(t testing.TB, config Config) *Server {
	t.Helper()

	var (
		listener net.Listener
		err      error
	)
	switch config.Network {
	case "", "tcp":
		listener, err = net.Listen("tcp", "127.0.0.1:0")
	case "unix":
		listener, err = net.Listen("unix", filepath.Join(t.TempDir(), "memcached.sock"))
	default:
		t.Fatalf("unsupported network %q", config.Network)
	}
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}

	if config.MaxValueSize <= 0 {
		config.MaxValueSize = DefaultMaxValueSize
	}

	s := &Server{
		listener:     listener,
		maxValueSize: config.MaxValueSize,
		logger:       config.Logger,
		items:        xsync.NewMapOf[string, item](),
		conns:        make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

// Addr returns the address to give to the client: host:port or the socket path.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// Item returns the raw stored value and flags of key.
func (s *Server) Item(key string) (value []byte, flags uint32, ok bool) {
	it, ok := s.items.Load(key)
	if !ok || it.expired(time.Now()) {
		return nil, 0, false
	}
	return it.value, it.flags, true
}

// CloseConnections closes every open client connection, the listener keeps accepting.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		conn.Close()
	}
}

// Close stops the server and waits for the connection handlers to return.
// Connections accepted while closing are closed right away.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.listener.Close()
	s.CloseConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		req, err := binprot.ReadRequest(r)
		if err != nil {
			s.logger.Debug().Err(err).Msg("connection closed")
			return
		}

		if resp := s.handle(req); resp != nil {
			resp.Opcode = req.Opcode
			resp.Opaque = req.Opaque
			if err := binprot.WriteResponse(w, resp); err != nil {
				return
			}
		}

		if req.Opcode == binprot.OpQuit || r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
		if req.Opcode == binprot.OpQuit {
			return
		}
	}
}

// handle executes req. A nil response means nothing is sent back.
func (s *Server) handle(req *binprot.Request) *binprot.Response {
	switch req.Opcode {
	case binprot.OpGet, binprot.OpGetQ, binprot.OpGetK, binprot.OpGetKQ:
		return s.get(req)
	case binprot.OpSet, binprot.OpSetQ, binprot.OpAdd, binprot.OpAddQ, binprot.OpReplace, binprot.OpReplaceQ:
		return quiet(req, s.store(req))
	case binprot.OpDelete, binprot.OpDeleteQ:
		return quiet(req, s.delete(req))
	case binprot.OpIncrement, binprot.OpDecrement:
		return s.arithmetic(req)
	case binprot.OpTouch:
		return s.touch(req)
	case binprot.OpFlush:
		s.items.Clear()
		return &binprot.Response{}
	case binprot.OpNoOp, binprot.OpQuit:
		return &binprot.Response{}
	case binprot.OpVersion:
		return &binprot.Response{Value: []byte(Version)}
	default:
		s.logger.Debug().Stringer("opcode", req.Opcode).Msg("unknown command")
		return errorResponse(binprot.StatusUnknownCommand)
	}
}

// quiet drops the success response of quiet opcodes.
func quiet(req *binprot.Request, resp *binprot.Response) *binprot.Response {
	if req.Opcode.IsQuiet() && resp.IsSuccess() {
		return nil
	}
	return resp
}

var statusMessages = map[binprot.Status]string{
	binprot.StatusKeyNotFound:      "Not found",
	binprot.StatusKeyExists:        "Data exists for key.",
	binprot.StatusValueTooLarge:    "Too large.",
	binprot.StatusInvalidArguments: "Invalid arguments",
	binprot.StatusItemNotStored:    "Not stored.",
	binprot.StatusNonNumeric:       "Non-numeric server-side value for incr or decr",
	binprot.StatusUnknownCommand:   "Unknown command",
}

func errorResponse(status binprot.Status) *binprot.Response {
	return &binprot.Response{Status: status, Value: []byte(statusMessages[status])}
}

func (s *Server) get(req *binprot.Request) *binprot.Response {
	it, ok := s.load(req.Key)
	withKey := req.Opcode == binprot.OpGetK || req.Opcode == binprot.OpGetKQ

	if !ok {
		if req.Opcode.IsQuiet() {
			return nil
		}
		resp := errorResponse(binprot.StatusKeyNotFound)
		if withKey {
			resp.Key = []byte(req.Key)
		}
		return resp
	}

	resp := &binprot.Response{
		Extras: binary.BigEndian.AppendUint32(nil, it.flags),
		Value:  it.value,
		CAS:    it.cas,
	}
	if withKey {
		resp.Key = []byte(req.Key)
	}
	return resp
}

func (s *Server) load(key string) (item, bool) {
	it, ok := s.items.Load(key)
	if !ok {
		return item{}, false
	}
	if it.expired(time.Now()) {
		s.items.Delete(key)
		return item{}, false
	}
	return it, true
}

func (s *Server) store(req *binprot.Request) *binprot.Response {
	if len(req.Extras) != binprot.StoreExtrasLength {
		return errorResponse(binprot.StatusInvalidArguments)
	}
	if len(req.Value) > s.maxValueSize {
		return errorResponse(binprot.StatusValueTooLarge)
	}

	now := time.Now()
	stored := item{
		flags:   binary.BigEndian.Uint32(req.Extras[0:4]),
		value:   req.Value,
		expires: expiresAt(now, binary.BigEndian.Uint32(req.Extras[4:8])),
	}

	status := binprot.StatusSuccess
	result, _ := s.items.Compute(req.Key, func(old item, loaded bool) (item, bool) {
		exists := loaded && !old.expired(now)

		switch {
		case req.CAS != 0 && !exists:
			status = binprot.StatusKeyNotFound
		case req.CAS != 0 && old.cas != req.CAS:
			status = binprot.StatusKeyExists
		case (req.Opcode == binprot.OpAdd || req.Opcode == binprot.OpAddQ) && exists:
			status = binprot.StatusKeyExists
		case (req.Opcode == binprot.OpReplace || req.Opcode == binprot.OpReplaceQ) && !exists:
			status = binprot.StatusKeyNotFound
		}

		if status != binprot.StatusSuccess {
			return old, !loaded
		}
		stored.cas = s.lastCAS.Add(1)
		return stored, false
	})

	if status != binprot.StatusSuccess {
		return errorResponse(status)
	}
	return &binprot.Response{CAS: result.cas}
}

func (s *Server) delete(req *binprot.Request) *binprot.Response {
	now := time.Now()

	status := binprot.StatusSuccess
	s.items.Compute(req.Key, func(old item, loaded bool) (item, bool) {
		switch {
		case !loaded || old.expired(now):
			status = binprot.StatusKeyNotFound
		case req.CAS != 0 && old.cas != req.CAS:
			status = binprot.StatusKeyExists
			return old, false
		}
		return old, true
	})

	if status != binprot.StatusSuccess {
		return errorResponse(status)
	}
	return &binprot.Response{}
}

func (s *Server) arithmetic(req *binprot.Request) *binprot.Response {
	if len(req.Extras) != binprot.ArithmeticExtrasLength {
		return errorResponse(binprot.StatusInvalidArguments)
	}

	delta := binary.BigEndian.Uint64(req.Extras[0:8])
	initial := binary.BigEndian.Uint64(req.Extras[8:16])
	expiration := binary.BigEndian.Uint32(req.Extras[16:20])
	now := time.Now()

	var counter uint64
	status := binprot.StatusSuccess
	result, _ := s.items.Compute(req.Key, func(old item, loaded bool) (item, bool) {
		if !loaded || old.expired(now) {
			if expiration == noAutoCreate {
				status = binprot.StatusKeyNotFound
				return old, true
			}
			counter = initial
			return item{
				value:   strconv.AppendUint(nil, counter, 10),
				cas:     s.lastCAS.Add(1),
				expires: expiresAt(now, expiration),
			}, false
		}

		current, err := strconv.ParseUint(string(old.value), 10, 64)
		if err != nil {
			status = binprot.StatusNonNumeric
			return old, false
		}

		switch {
		case req.Opcode == binprot.OpIncrement:
			counter = current + delta
		case delta > current:
			counter = 0
		default:
			counter = current - delta
		}

		old.value = strconv.AppendUint(nil, counter, 10)
		old.cas = s.lastCAS.Add(1)
		return old, false
	})

	if status != binprot.StatusSuccess {
		return errorResponse(status)
	}
	return &binprot.Response{
		Value: binary.BigEndian.AppendUint64(nil, counter),
		CAS:   result.cas,
	}
}

func (s *Server) touch(req *binprot.Request) *binprot.Response {
	if len(req.Extras) != 4 {
		return errorResponse(binprot.StatusInvalidArguments)
	}
	now := time.Now()
	expires := expiresAt(now, binary.BigEndian.Uint32(req.Extras))

	status := binprot.StatusSuccess
	s.items.Compute(req.Key, func(old item, loaded bool) (item, bool) {
		if !loaded || old.expired(now) {
			status = binprot.StatusKeyNotFound
			return old, true
		}
		old.expires = expires
		return old, false
	})

	if status != binprot.StatusSuccess {
		return errorResponse(status)
	}
	return &binprot.Response{}
}

// expiresAt converts a protocol expiration: seconds from now up to 30 days, a unix time above.
func expiresAt(now time.Time, exp uint32) time.Time {
	switch {
	case exp == 0:
		return time.Time{}
	case exp <= relativeExpirationLimit:
		return now.Add(time.Duration(exp) * time.Second)
	default:
		return time.Unix(int64(exp), 0)
	}
}
