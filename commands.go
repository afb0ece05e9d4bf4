package bmemcache

import (
	"context"
	"time"

	"github.com/pior/bmemcache/binprot"
	"github.com/pior/bmemcache/value"
)

// NoTTL represents an infinite TTL (no expiration).
const NoTTL = 0

// Item is a cache entry as returned by Get.
type Item struct {
	Key string

	// Value is the decoded value, see the value package for the Go types it can hold.
	Value any

	TTL time.Duration

	// CAS is the version token returned by Get, used by CompareAndSwap.
	CAS uint64

	// Found is false when the key does not exist. This is the normal result of a miss.
	Found bool
}

// Querier is the set of single-key operations.
type Querier interface {
	Get(ctx context.Context, key string) (Item, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) (bool, error)
	Add(ctx context.Context, key string, v any, ttl time.Duration) (bool, error)
	Replace(ctx context.Context, key string, v any, ttl time.Duration) (bool, error)
	CompareAndSwap(ctx context.Context, item Item) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Increment(ctx context.Context, key string, delta, initial uint64, ttl time.Duration) (uint64, error)
	Decrement(ctx context.Context, key string, delta, initial uint64, ttl time.Duration) (uint64, error)
	Touch(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Executor executes a single request.
// The request key is used to select the server.
type Executor interface {
	Execute(ctx context.Context, req *binprot.Request) (*binprot.Response, error)
}

// Commands provides the memcache operations over an Executor.
// This struct can be used independently with a ServerPool,
// or embedded in Client for multi-server routing.
type Commands struct {
	executor Executor
}

var _ Querier = (*Commands)(nil)

// NewCommands creates a new Commands instance with the given executor.
func NewCommands(executor Executor) *Commands {
	return &Commands{
		executor: executor,
	}
}

// Get retrieves a single item.
// A missing key is not an error: the returned item has Found=false.
func (c *Commands) Get(ctx context.Context, key string) (Item, error) {
	resp, err := c.execute(ctx, binprot.NewGetRequest(key))
	if err != nil {
		return Item{}, err
	}

	if resp.IsMiss() {
		return Item{Key: key, Found: false}, nil
	}
	if !resp.IsSuccess() {
		return Item{}, resp.Err()
	}

	return decodeItem(key, resp)
}

// Set stores a value.
// It returns false when the server refuses the item, e.g. when it is too large.
func (c *Commands) Set(ctx context.Context, key string, v any, ttl time.Duration) (bool, error) {
	return c.store(ctx, binprot.OpSet, key, v, ttl, 0)
}

// Add stores a value only if the key does not exist yet.
// It returns false when the key already exists.
func (c *Commands) Add(ctx context.Context, key string, v any, ttl time.Duration) (bool, error) {
	return c.store(ctx, binprot.OpAdd, key, v, ttl, 0)
}

// Replace stores a value only if the key already exists.
// It returns false when the key does not exist.
func (c *Commands) Replace(ctx context.Context, key string, v any, ttl time.Duration) (bool, error) {
	return c.store(ctx, binprot.OpReplace, key, v, ttl, 0)
}

// CompareAndSwap stores item.Value only if the item was not modified since the
// Get that returned item.CAS. It returns false when it was modified or deleted.
func (c *Commands) CompareAndSwap(ctx context.Context, item Item) (bool, error) {
	return c.store(ctx, binprot.OpSet, item.Key, item.Value, item.TTL, item.CAS)
}

func (c *Commands) store(ctx context.Context, op binprot.Opcode, key string, v any, ttl time.Duration, cas uint64) (bool, error) {
	req, err := newStoreRequest(op, key, v, ttl)
	if err != nil {
		return false, err
	}
	req.CAS = cas

	// Refused locally like the server would with StatusValueTooLarge
	if exceedsMaxBody(req) {
		return false, nil
	}

	resp, err := c.execute(ctx, req)
	if err != nil {
		return false, err
	}

	if resp.IsSuccess() {
		return true, nil
	}
	if resp.IsRefused() || resp.IsMiss() {
		return false, nil
	}
	return false, resp.Err()
}

// Delete removes an item.
// Deleting a missing key is successful: Delete returns true in both cases.
func (c *Commands) Delete(ctx context.Context, key string) (bool, error) {
	resp, err := c.execute(ctx, binprot.NewDeleteRequest(key))
	if err != nil {
		return false, err
	}

	if resp.IsSuccess() || resp.IsMiss() {
		return true, nil
	}
	return false, resp.Err()
}

// Increment adds delta to a counter and returns the new value.
// When the key does not exist it is created with initial.
//
// Counters are stored by the server as ASCII decimal without a type tag,
// Get returns them as a string.
func (c *Commands) Increment(ctx context.Context, key string, delta, initial uint64, ttl time.Duration) (uint64, error) {
	return c.arithmetic(ctx, binprot.OpIncrement, key, delta, initial, ttl)
}

// Decrement subtracts delta from a counter and returns the new value.
// The server never goes below 0. When the key does not exist it is created with initial.
func (c *Commands) Decrement(ctx context.Context, key string, delta, initial uint64, ttl time.Duration) (uint64, error) {
	return c.arithmetic(ctx, binprot.OpDecrement, key, delta, initial, ttl)
}

func (c *Commands) arithmetic(ctx context.Context, op binprot.Opcode, key string, delta, initial uint64, ttl time.Duration) (uint64, error) {
	req := binprot.NewArithmeticRequest(op, key, delta, initial, binprot.Expiration(ttl))
	resp, err := c.execute(ctx, req)
	if err != nil {
		return 0, err
	}

	if !resp.IsSuccess() {
		return 0, resp.Err()
	}

	n, ok := resp.Counter()
	if !ok {
		return 0, &binprot.ProtocolError{Message: op.String() + " response value is not a 64-bit counter"}
	}
	return n, nil
}

// Touch updates the expiration of an item. It returns false if the key does not exist.
func (c *Commands) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	resp, err := c.execute(ctx, binprot.NewTouchRequest(key, binprot.Expiration(ttl)))
	if err != nil {
		return false, err
	}

	if resp.IsSuccess() {
		return true, nil
	}
	if resp.IsMiss() {
		return false, nil
	}
	return false, resp.Err()
}

// execute validates the key, an invalid key is reported without any I/O.
func (c *Commands) execute(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	if err := binprot.ValidateKey(req.Key); err != nil {
		return nil, err
	}
	return c.executor.Execute(ctx, req)
}

// newStoreRequest encodes v. Encoding errors are returned before any I/O.
func newStoreRequest(op binprot.Opcode, key string, v any, ttl time.Duration) (*binprot.Request, error) {
	tag, payload, err := value.Encode(v)
	if err != nil {
		return nil, err
	}
	return binprot.NewStoreRequest(op, key, payload, uint32(tag), binprot.Expiration(ttl)), nil
}

func exceedsMaxBody(req *binprot.Request) bool {
	return len(req.Extras)+len(req.Key)+len(req.Value) > binprot.MaxBodyLength
}

func decodeItem(key string, resp *binprot.Response) (Item, error) {
	v, err := value.Decode(value.FromFlags(resp.Flags()), resp.Value)
	if err != nil {
		return Item{}, err
	}

	return Item{
		Key:   key,
		Value: v,
		CAS:   resp.CAS,
		Found: true,
	}, nil
}
