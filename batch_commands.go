package bmemcache

import (
	"context"
	"fmt"

	"github.com/pior/bmemcache/binprot"
)

// BatchExecutor executes pipelined requests.
// Responses are aligned with reqs, nil where a quiet request got no response.
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, reqs []*binprot.Request) ([]*binprot.Response, error)
}

// BatchCommands provides batch operations using a BatchExecutor.
// Each batch is sent with quiet opcodes so the server only answers hits and failures.
type BatchCommands struct {
	executor BatchExecutor
}

// NewBatchCommands creates a new BatchCommands instance.
// The executor is usually a ServerPool or a Client.
func NewBatchCommands(executor BatchExecutor) *BatchCommands {
	return &BatchCommands{
		executor: executor,
	}
}

// MultiGet retrieves multiple items in a single batch operation.
// Returns items in the same order as the keys, with Found=false for missing items.
func (b *BatchCommands) MultiGet(ctx context.Context, keys []string) ([]Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	reqs := make([]*binprot.Request, len(keys))
	for i, key := range keys {
		if err := binprot.ValidateKey(key); err != nil {
			return nil, err
		}
		reqs[i] = binprot.NewGetKQRequest(key)
	}

	responses, err := b.executor.ExecuteBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(keys))
	for i, key := range keys {
		resp := responses[i]

		switch {
		case resp == nil || resp.IsMiss():
			items[i] = Item{Key: key, Found: false}
		case resp.IsSuccess():
			if len(resp.Key) > 0 && string(resp.Key) != key {
				return nil, &binprot.ProtocolError{Message: fmt.Sprintf("response for key %q answered with key %q", key, resp.Key)}
			}
			items[i], err = decodeItem(key, resp)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("get %q: %w", key, resp.Err())
		}
	}

	return items, nil
}

// MultiSet stores multiple items in a single batch operation.
// The returned slice tells, for each item, whether the server stored it.
func (b *BatchCommands) MultiSet(ctx context.Context, items []Item) ([]bool, error) {
	if len(items) == 0 {
		return nil, nil
	}

	// Items too large for a frame are refused locally and left out of the batch
	reqs := make([]*binprot.Request, 0, len(items))
	indexes := make([]int, 0, len(items))
	for i, item := range items {
		if err := binprot.ValidateKey(item.Key); err != nil {
			return nil, err
		}
		req, err := newStoreRequest(binprot.OpSetQ, item.Key, item.Value, item.TTL)
		if err != nil {
			return nil, fmt.Errorf("set %q: %w", item.Key, err)
		}
		if exceedsMaxBody(req) {
			continue
		}
		reqs = append(reqs, req)
		indexes = append(indexes, i)
	}

	stored := make([]bool, len(items))
	if len(reqs) == 0 {
		return stored, nil
	}

	responses, err := b.executor.ExecuteBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}

	for j, resp := range responses {
		i := indexes[j]
		switch {
		case resp == nil || resp.IsSuccess():
			stored[i] = true
		case resp.IsRefused():
			stored[i] = false
		default:
			return nil, fmt.Errorf("set %q: %w", items[i].Key, resp.Err())
		}
	}

	return stored, nil
}

// MultiDelete removes multiple items in a single batch operation.
// Missing keys are not an error.
func (b *BatchCommands) MultiDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	reqs := make([]*binprot.Request, len(keys))
	for i, key := range keys {
		if err := binprot.ValidateKey(key); err != nil {
			return err
		}
		reqs[i] = &binprot.Request{Opcode: binprot.OpDeleteQ, Key: key}
	}

	responses, err := b.executor.ExecuteBatch(ctx, reqs)
	if err != nil {
		return err
	}

	for i, resp := range responses {
		if resp == nil || resp.IsSuccess() || resp.IsMiss() {
			continue
		}
		return fmt.Errorf("delete %q: %w", keys[i], resp.Err())
	}

	return nil
}
