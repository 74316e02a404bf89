package testutil

import (
	"context"
	"sync"

	"github.com/nomad-xyz/nomad-go/pkg/indexer"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// MockIndexer implements indexer.HomeIndexer over scripted per-block events.
// Tests place events at block heights and move the head; the fetch methods
// behave like a well-formed RPC node.
type MockIndexer struct {
	mu       sync.Mutex
	head     uint32
	updates  map[uint32][]*types.SignedUpdateWithMeta
	messages map[uint32][]*types.RawCommittedMessage
}

var _ indexer.HomeIndexer = (*MockIndexer)(nil)

// NewMockIndexer creates an empty mock at head zero.
func NewMockIndexer() *MockIndexer {
	return &MockIndexer{
		updates:  make(map[uint32][]*types.SignedUpdateWithMeta),
		messages: make(map[uint32][]*types.RawCommittedMessage),
	}
}

// SetHead moves the chain head.
func (m *MockIndexer) SetHead(head uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = head
}

// AddUpdate places an update event at a block height.
func (m *MockIndexer) AddUpdate(block uint32, update *types.SignedUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[block] = append(m.updates[block], &types.SignedUpdateWithMeta{
		SignedUpdate: *update,
		BlockNumber:  block,
		LogIndex:     uint32(len(m.updates[block])),
	})
}

// AddMessage places a dispatch event at a block height.
func (m *MockIndexer) AddMessage(block uint32, message *types.RawCommittedMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[block] = append(m.messages[block], message)
}

// GetBlockNumber returns the scripted head.
func (m *MockIndexer) GetBlockNumber(ctx context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head, nil
}

// FetchSortedUpdates returns scripted updates in [from, to] in block order.
func (m *MockIndexer) FetchSortedUpdates(ctx context.Context, from, to uint32) ([]*types.SignedUpdateWithMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.SignedUpdateWithMeta
	for block := from; block <= to; block++ {
		out = append(out, m.updates[block]...)
	}
	return out, nil
}

// FetchSortedMessages returns scripted messages in [from, to] in block order.
func (m *MockIndexer) FetchSortedMessages(ctx context.Context, from, to uint32) ([]*types.RawCommittedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.RawCommittedMessage
	for block := from; block <= to; block++ {
		out = append(out, m.messages[block]...)
	}
	return out, nil
}
